package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"agentdesk/internal/bus"
	"agentdesk/internal/config"
	"agentdesk/internal/domain"
	"agentdesk/internal/history"
	"agentdesk/internal/jobs"
)

const (
	defaultTurnTimeout = 60 * time.Second
	escalationTimeout  = 15 * time.Second
	excerptMessages    = 4
)

// ErrEmptyMessage is returned for a chat turn with no text.
var ErrEmptyMessage = errors.New("message is empty")

// ProviderResolver builds the LLM gateway for a persona's provider name.
type ProviderResolver interface {
	Resolve(name string) (domain.Provider, error)
}

// JobSubmitter accepts background media jobs.
type JobSubmitter interface {
	Submit(j jobs.Job) error
}

// ChatRequest is one inbound chat turn.
type ChatRequest struct {
	Agent          string `json:"agent"`
	TenantID       string `json:"tenant_id"`
	UserID         string `json:"user_id"`
	ConversationID string `json:"conversation_id,omitempty"`
	Message        string `json:"message"`
}

// MediaRef points at a queued image or video job.
type MediaRef struct {
	ID   string           `json:"id"`
	Kind domain.MediaKind `json:"kind"`
}

// ChatReply is the sanitized outcome of a chat turn.
type ChatReply struct {
	Agent          string            `json:"agent"`
	ConversationID string            `json:"conversation_id"`
	Reply          string            `json:"reply"`
	Markers        []string          `json:"markers,omitempty"` // kinds found in the raw reply
	Captured       map[string]string `json:"captured,omitempty"`
	Escalated      bool              `json:"escalated,omitempty"`
	ScopeViolation bool              `json:"scope_violation,omitempty"`
	Media          []MediaRef        `json:"media,omitempty"`
	Fallback       bool              `json:"fallback,omitempty"`
	HistoryKept    int               `json:"history_kept"`
	Usage          domain.Usage      `json:"usage"`
}

// Config wires a Service.
type Config struct {
	Profiles     map[string]config.AgentProfile
	DefaultAgent string
	Store        domain.Store
	Providers    ProviderResolver
	Escalator    domain.Escalator // nil = escalations are logged only
	Queue        JobSubmitter     // nil = media markers are stripped without a job
	Media        *jobs.MediaRunner
	Events       *bus.EventBus  // optional: chat.turn and chat.escalated events
	Limits       history.Limits // base limits; profile overrides apply on top
	RatePerMin   int            // per tenant, 0 = unlimited
	Timeout      time.Duration  // per LLM call unless the profile sets one
	Logger       *slog.Logger
}

// Service routes chat turns to the per-persona handlers.
type Service struct {
	mu           sync.RWMutex
	handlers     map[string]*Handler
	defaultAgent string
	limits       history.Limits

	store     domain.Store
	providers ProviderResolver
	escalator domain.Escalator
	queue     JobSubmitter
	media     *jobs.MediaRunner
	events    *bus.EventBus
	limiter   *TenantLimiter
	timeout   time.Duration
	logger    *slog.Logger

	background sync.WaitGroup
}

func NewService(cfg Config) *Service {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTurnTimeout
	}
	s := &Service{
		defaultAgent: strings.ToLower(cfg.DefaultAgent),
		limits:       cfg.Limits.Resolve(),
		store:        cfg.Store,
		providers:    cfg.Providers,
		escalator:    cfg.Escalator,
		queue:        cfg.Queue,
		media:        cfg.Media,
		events:       cfg.Events,
		limiter:      NewTenantLimiter(cfg.RatePerMin),
		timeout:      cfg.Timeout,
		logger:       cfg.Logger,
	}
	s.handlers = s.buildHandlers(cfg.Profiles)
	return s
}

func (s *Service) buildHandlers(profiles map[string]config.AgentProfile) map[string]*Handler {
	handlers := make(map[string]*Handler, len(profiles))
	for name, p := range profiles {
		name = strings.ToLower(name)
		handlers[name] = &Handler{
			profile: p,
			limits:  s.limits.Merge(p.History),
			svc:     s,
			logger:  s.logger.With("agent", name),
		}
	}
	return handlers
}

// ReloadProfiles swaps in a new set of personas. Turns already running keep
// the handler they started with. The default agent must remain present.
func (s *Service) ReloadProfiles(profiles map[string]config.AgentProfile) error {
	handlers := s.buildHandlers(profiles)
	if _, ok := handlers[s.defaultAgent]; !ok {
		return fmt.Errorf("reload profiles: default agent %q: %w", s.defaultAgent, domain.ErrUnknownAgent)
	}
	s.mu.Lock()
	s.handlers = handlers
	s.mu.Unlock()
	s.logger.Info("agent profiles reloaded", "count", len(handlers))
	return nil
}

// Handler returns the handler for an agent name, or the default agent when
// name is empty.
func (s *Service) Handler(name string) (*Handler, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		name = s.defaultAgent
	}
	s.mu.RLock()
	h, ok := s.handlers[name]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", domain.ErrUnknownAgent, name)
	}
	return h, nil
}

// Chat runs one turn for the agent named in req.
func (s *Service) Chat(ctx context.Context, req ChatRequest) (ChatReply, error) {
	h, err := s.Handler(req.Agent)
	if err != nil {
		return ChatReply{}, err
	}
	return h.Chat(ctx, req)
}

// Agents returns the loaded personas sorted by name.
func (s *Service) Agents() []config.AgentProfile {
	s.mu.RLock()
	out := make([]config.AgentProfile, 0, len(s.handlers))
	for _, h := range s.handlers {
		out = append(out, h.profile)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// DefaultAgent returns the agent used when a request names none.
func (s *Service) DefaultAgent() string { return s.defaultAgent }

// NewConversation archives the caller's active conversation with agent so
// the next turn starts fresh.
func (s *Service) NewConversation(ctx context.Context, agent, tenantID, userID string) error {
	h, err := s.Handler(agent)
	if err != nil {
		return err
	}
	conv, err := s.store.ActiveConversation(ctx, h.profile.Name, tenantID, userID)
	if err != nil {
		return fmt.Errorf("load conversation: %w", err)
	}
	return s.store.ArchiveConversation(ctx, conv.ID)
}

func (s *Service) emit(eventType string, payload map[string]any) {
	if s.events == nil {
		return
	}
	s.events.Emit(bus.Event{Type: eventType, Source: "agent", Payload: payload})
}

// Wait blocks until background escalations have finished.
func (s *Service) Wait() {
	s.background.Wait()
}
