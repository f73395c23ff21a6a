package bus

import (
	"context"
	"errors"
	"testing"
	"time"

	"agentdesk/internal/domain"
)

func TestInMemoryBus_PublishSubscribe(t *testing.T) {
	b := New(2, testEBLogger())
	if err := b.Publish(context.Background(), domain.InboundMessage{Channel: "telegram", ChatID: "42", Content: "hi"}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if b.Pending() != 1 {
		t.Fatalf("expected 1 pending message, got %d", b.Pending())
	}

	select {
	case msg := <-b.Subscribe():
		if msg.ChatID != "42" || msg.Content != "hi" {
			t.Fatalf("unexpected message %+v", msg)
		}
	case <-time.After(time.Second):
		t.Fatal("no message received")
	}
}

func TestInMemoryBus_OutboundRouting(t *testing.T) {
	b := New(1, testEBLogger())

	var got domain.OutboundMessage
	b.OnOutbound("cli", func(m domain.OutboundMessage) { got = m })
	b.SendOutbound(domain.OutboundMessage{Channel: "cli", ChatID: "local", Content: "hello"})
	b.SendOutbound(domain.OutboundMessage{Channel: "nowhere", Content: "dropped"})

	if got.Content != "hello" {
		t.Fatalf("expected routed message, got %+v", got)
	}
}

func TestInMemoryBus_BusyWhenFull(t *testing.T) {
	old := publishWait
	publishWait = 10 * time.Millisecond
	defer func() { publishWait = old }()

	b := New(1, testEBLogger())
	ctx := context.Background()
	if err := b.Publish(ctx, domain.InboundMessage{Content: "first"}); err != nil {
		t.Fatalf("first publish: %v", err)
	}
	err := b.Publish(ctx, domain.InboundMessage{Content: "second"})
	if !errors.Is(err, domain.ErrBusBusy) {
		t.Fatalf("expected ErrBusBusy, got %v", err)
	}
	if n := b.Pending(); n != 1 {
		t.Fatalf("expected 1 buffered message, got %d", n)
	}
}

func TestInMemoryBus_PublishHonoursContext(t *testing.T) {
	b := New(1, testEBLogger())
	_ = b.Publish(context.Background(), domain.InboundMessage{Content: "first"})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	start := time.Now()
	err := b.Publish(ctx, domain.InboundMessage{Content: "second"})
	if !errors.Is(err, domain.ErrBusBusy) {
		t.Fatalf("expected ErrBusBusy, got %v", err)
	}
	if time.Since(start) > time.Second {
		t.Fatal("publish ignored the cancelled context")
	}
}

func TestInMemoryBus_CloseEndsSubscription(t *testing.T) {
	b := New(1, testEBLogger())
	b.Close()
	b.Close()
	if err := b.Publish(context.Background(), domain.InboundMessage{Content: "late"}); !errors.Is(err, domain.ErrBusClosed) {
		t.Fatalf("expected ErrBusClosed, got %v", err)
	}

	if _, ok := <-b.Subscribe(); ok {
		t.Fatal("expected closed channel")
	}
}
