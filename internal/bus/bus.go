package bus

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"agentdesk/internal/domain"
)

// publishWait bounds how long a channel blocks on a full inbound queue.
var publishWait = 10 * time.Second

// InMemoryBus carries inbound chat turns from channels to agent.Loop and
// routes replies back to the channel that owns the chat.
type InMemoryBus struct {
	inbound chan domain.InboundMessage
	logger  *slog.Logger

	mu       sync.RWMutex
	closed   bool
	channels map[string]func(domain.OutboundMessage)
}

var _ domain.MessageBus = (*InMemoryBus)(nil)

// New returns a bus whose inbound queue holds size messages.
func New(size int, logger *slog.Logger) *InMemoryBus {
	if size <= 0 {
		size = 100
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &InMemoryBus{
		inbound:  make(chan domain.InboundMessage, size),
		channels: make(map[string]func(domain.OutboundMessage)),
		logger:   logger,
	}
}

func (b *InMemoryBus) Publish(ctx context.Context, msg domain.InboundMessage) error {
	// The read lock keeps Close from closing inbound mid-send.
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return domain.ErrBusClosed
	}

	select {
	case b.inbound <- msg:
		return nil
	default:
	}

	b.logger.Warn("inbound queue full, waiting", "channel", msg.Channel, "chat_id", msg.ChatID)
	timer := time.NewTimer(publishWait)
	defer timer.Stop()
	select {
	case b.inbound <- msg:
		return nil
	case <-timer.C:
	case <-ctx.Done():
	}
	b.logger.Error("inbound message dropped", "channel", msg.Channel, "chat_id", msg.ChatID, "sender", msg.SenderID)
	return fmt.Errorf("%s chat %s: %w", msg.Channel, msg.ChatID, domain.ErrBusBusy)
}

func (b *InMemoryBus) Subscribe() <-chan domain.InboundMessage {
	return b.inbound
}

// Pending reports how many inbound messages are waiting for the loop.
func (b *InMemoryBus) Pending() int {
	return len(b.inbound)
}

func (b *InMemoryBus) SendOutbound(msg domain.OutboundMessage) {
	b.mu.RLock()
	deliver := b.channels[msg.Channel]
	b.mu.RUnlock()

	if deliver == nil {
		b.logger.Warn("reply for unregistered channel dropped", "channel", msg.Channel, "chat_id", msg.ChatID)
		return
	}
	deliver(msg)
}

func (b *InMemoryBus) OnOutbound(channelName string, handler func(domain.OutboundMessage)) {
	b.mu.Lock()
	b.channels[channelName] = handler
	b.mu.Unlock()
}

// Close ends the inbound stream. Later publishes fail with ErrBusClosed.
func (b *InMemoryBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	close(b.inbound)
}
