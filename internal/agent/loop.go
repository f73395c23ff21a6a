package agent

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"agentdesk/internal/bus"
	"agentdesk/internal/domain"
	"agentdesk/internal/marker"
)

const defaultConcurrency = 3

// Loop dispatches chat-channel messages to the Service with bounded
// concurrency and relays finished media back to the chat that asked.
type Loop struct {
	svc         *Service
	sessions    *SessionManager
	bus         domain.MessageBus
	logger      *slog.Logger
	concurrency int

	mu      sync.Mutex
	pending map[string]route     // media id -> originating chat
	early   map[string]bus.Event // finished before the reply was routed
}

// earlyTTL bounds how long an unclaimed media event is kept. Media queued
// through the HTTP API never gets a chat route.
const earlyTTL = 10 * time.Minute

type route struct {
	channel, chatID string
	kind            domain.MediaKind
}

// LoopConfig holds all dependencies and tuning parameters for the agent loop.
type LoopConfig struct {
	Service     *Service
	Bus         domain.MessageBus
	Events      *bus.EventBus // optional: media completion notices
	Logger      *slog.Logger
	Concurrency int // max parallel messages (default 3)
}

// NewLoop creates a new agent loop with the given configuration.
func NewLoop(cfg LoopConfig) *Loop {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaultConcurrency
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	l := &Loop{
		svc:         cfg.Service,
		sessions:    NewSessionManager(),
		bus:         cfg.Bus,
		logger:      cfg.Logger,
		concurrency: cfg.Concurrency,
		pending:     make(map[string]route),
		early:       make(map[string]bus.Event),
	}
	if cfg.Events != nil {
		cfg.Events.On(bus.EventMediaCompleted, l.onMediaDone)
		cfg.Events.On(bus.EventMediaFailed, l.onMediaDone)
	}
	return l
}

// Run consumes inbound messages and processes them with bounded concurrency.
// It returns once ctx ends or the bus closes and in-flight turns finish.
func (l *Loop) Run(ctx context.Context) {
	l.logger.Info("agent loop started", "concurrency", l.concurrency)

	sem := make(chan struct{}, l.concurrency)
	var wg sync.WaitGroup
	defer wg.Wait()
	inbound := l.bus.Subscribe()

	for {
		select {
		case <-ctx.Done():
			l.logger.Info("agent loop stopping")
			return
		case msg, ok := <-inbound:
			if !ok {
				l.logger.Info("inbound channel closed, agent loop stopping")
				return
			}
			sem <- struct{}{}
			wg.Add(1)
			go func(m domain.InboundMessage) {
				defer wg.Done()
				defer func() { <-sem }()
				l.processMessage(ctx, m)
			}(msg)
		}
	}
}

// ProcessDirect processes a message synchronously and returns the response.
// Used by the CLI and other callers that need a blocking reply.
func (l *Loop) ProcessDirect(ctx context.Context, content, channel, chatID string) string {
	return l.handleMessage(ctx, domain.InboundMessage{
		Channel:   channel,
		ChatID:    chatID,
		SenderID:  chatID,
		Content:   content,
		Timestamp: time.Now(),
	})
}

func (l *Loop) processMessage(ctx context.Context, msg domain.InboundMessage) {
	l.logger.Info("processing message",
		"channel", msg.Channel,
		"sender", msg.SenderID,
		"content_len", len(msg.Content),
	)

	response := l.handleMessage(ctx, msg)
	if response == "" {
		return
	}
	l.bus.SendOutbound(domain.OutboundMessage{
		Channel: msg.Channel,
		ChatID:  msg.ChatID,
		Content: response,
		Format:  "markdown",
	})
}

func (l *Loop) handleMessage(ctx context.Context, msg domain.InboundMessage) string {
	if cmd := ParseCommand(msg.Content); cmd != nil {
		if res := l.HandleCommand(ctx, cmd, msg); res.Handled {
			return res.Response
		}
	}

	agent := msg.Agent
	if agent == "" {
		agent = l.sessions.Agent(SessionKey(msg))
	}

	reply, err := l.svc.Chat(ctx, ChatRequest{
		Agent:    agent,
		TenantID: tenantOf(msg),
		UserID:   msg.SenderID,
		Message:  msg.Content,
	})
	if err != nil {
		l.logger.Error("chat turn failed", "channel", msg.Channel, "chat", msg.ChatID, "err", err)
		return fmt.Sprintf("Sorry, I couldn't handle that: %s", err.Error())
	}

	for _, m := range reply.Media {
		l.track(m, msg)
	}
	return chatText(reply)
}

// tenantOf scopes channel users to their chat: a Telegram group is one tenant.
func tenantOf(msg domain.InboundMessage) string {
	return msg.Channel + ":" + msg.ChatID
}

// chatText replaces pending media tags with a note the chat user can read.
func chatText(reply ChatReply) string {
	text := marker.Strip(reply.Reply, marker.KindImagePending, marker.KindVideoPending)
	for _, m := range reply.Media {
		note := fmt.Sprintf("_Generating your %s, I'll post it here when it's ready._", m.Kind)
		if text == "" {
			text = note
		} else {
			text += "\n\n" + note
		}
	}
	return text
}

func (l *Loop) track(m MediaRef, msg domain.InboundMessage) {
	r := route{channel: msg.Channel, chatID: msg.ChatID, kind: m.Kind}
	l.mu.Lock()
	e, done := l.early[m.ID]
	if done {
		delete(l.early, m.ID)
	} else {
		l.pending[m.ID] = r
	}
	l.mu.Unlock()
	if done {
		l.deliver(r, e)
	}
}

func (l *Loop) onMediaDone(e bus.Event) {
	id := e.String("id")
	l.mu.Lock()
	r, ok := l.pending[id]
	if ok {
		delete(l.pending, id)
	} else {
		for k, old := range l.early {
			if time.Since(old.Timestamp) > earlyTTL {
				delete(l.early, k)
			}
		}
		l.early[id] = e
	}
	l.mu.Unlock()
	if ok {
		l.deliver(r, e)
	}
}

func (l *Loop) deliver(r route, e bus.Event) {
	content := fmt.Sprintf("Your %s is ready: %s", r.kind, e.String("result"))
	if e.Type == bus.EventMediaFailed {
		content = fmt.Sprintf("Sorry, I couldn't generate that %s. Please try again.", r.kind)
	}
	l.bus.SendOutbound(domain.OutboundMessage{Channel: r.channel, ChatID: r.chatID, Content: content, Format: "markdown"})
}

// PendingMedia returns how many media jobs are awaiting delivery to a chat.
func (l *Loop) PendingMedia() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.pending)
}

// Sessions exposes per-chat agent selection, used by channels that take
// the agent from outside the message text.
func (l *Loop) Sessions() *SessionManager { return l.sessions }
