package agent

import (
	"strings"
	"sync"

	"agentdesk/internal/domain"
)

// SessionManager remembers which persona each chat is talking to.
// State is in-memory; chats fall back to the default agent after a restart.
type SessionManager struct {
	mu     sync.RWMutex
	agents map[string]string // session key -> agent name
}

func NewSessionManager() *SessionManager {
	return &SessionManager{agents: make(map[string]string)}
}

// SessionKey identifies a chat across channels.
func SessionKey(msg domain.InboundMessage) string {
	return msg.Channel + ":" + msg.ChatID
}

// Agent returns the persona selected for key, or "" when none was chosen.
func (sm *SessionManager) Agent(key string) string {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.agents[key]
}

// SetAgent selects a persona for key.
func (sm *SessionManager) SetAgent(key, agent string) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.agents[key] = strings.ToLower(agent)
}

// Forget drops the persona selection for key.
func (sm *SessionManager) Forget(key string) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	delete(sm.agents, key)
}
