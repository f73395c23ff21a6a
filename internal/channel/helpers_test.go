package channel

import (
	"context"
	"log/slog"
	"os"
	"sync"

	"agentdesk/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// captureBus records published messages and keeps outbound handlers.
type captureBus struct {
	mu        sync.Mutex
	published []domain.InboundMessage
	handlers  map[string]func(domain.OutboundMessage)
	inbound   chan domain.InboundMessage

	publishErr error
}

func newCaptureBus() *captureBus {
	return &captureBus{
		handlers: make(map[string]func(domain.OutboundMessage)),
		inbound:  make(chan domain.InboundMessage, 10),
	}
}

func (b *captureBus) Publish(_ context.Context, msg domain.InboundMessage) error {
	if b.publishErr != nil {
		return b.publishErr
	}
	b.mu.Lock()
	b.published = append(b.published, msg)
	b.mu.Unlock()
	select {
	case b.inbound <- msg:
	default:
	}
	return nil
}

func (b *captureBus) Subscribe() <-chan domain.InboundMessage { return b.inbound }

func (b *captureBus) SendOutbound(msg domain.OutboundMessage) {
	b.mu.Lock()
	h := b.handlers[msg.Channel]
	b.mu.Unlock()
	if h != nil {
		h(msg)
	}
}

func (b *captureBus) OnOutbound(name string, h func(domain.OutboundMessage)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[name] = h
}

func (b *captureBus) Close() {}

func (b *captureBus) messages() []domain.InboundMessage {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]domain.InboundMessage(nil), b.published...)
}
