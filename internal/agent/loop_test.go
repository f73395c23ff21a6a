package agent

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"agentdesk/internal/bus"
	"agentdesk/internal/domain"
)

func TestParseCommand(t *testing.T) {
	cmd := ParseCommand("  /Agent@desk_bot luna  ")
	if cmd == nil {
		t.Fatal("expected a command")
	}
	if cmd.Name != "agent" || len(cmd.Args) != 1 || cmd.Args[0] != "luna" {
		t.Errorf("unexpected command: %+v", cmd)
	}
}

func TestParseCommand_NotACommand(t *testing.T) {
	for _, text := range []string{"hello /agent", "", "   "} {
		if cmd := ParseCommand(text); cmd != nil {
			t.Errorf("ParseCommand(%q) = %+v, want nil", text, cmd)
		}
	}
}

// outbox collects replies the loop sends on the "test" channel.
type outbox struct {
	mu   sync.Mutex
	msgs []domain.OutboundMessage
	got  chan struct{}
}

func newOutbox(b domain.MessageBus) *outbox {
	o := &outbox{got: make(chan struct{}, 16)}
	b.OnOutbound("test", func(m domain.OutboundMessage) {
		o.mu.Lock()
		o.msgs = append(o.msgs, m)
		o.mu.Unlock()
		o.got <- struct{}{}
	})
	return o
}

func (o *outbox) wait(t *testing.T, n int) []domain.OutboundMessage {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-o.got:
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for reply %d", i+1)
		}
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]domain.OutboundMessage(nil), o.msgs...)
}

func newTestLoop(t *testing.T, reply string) (*Loop, *testEnv, *bus.InMemoryBus, *bus.EventBus) {
	t.Helper()
	env := newTestEnv(t, reply)
	b := bus.New(10, testLogger())
	events := bus.NewEventBus(testLogger())
	l := NewLoop(LoopConfig{Service: env.svc, Bus: b, Events: events, Logger: testLogger()})
	return l, env, b, events
}

func inbound(content string) domain.InboundMessage {
	return domain.InboundMessage{Channel: "test", ChatID: "chat-1", SenderID: "user-1", Content: content}
}

func TestHandleCommand_SwitchAgent(t *testing.T) {
	l, _, _, _ := newTestLoop(t, "")
	msg := inbound("/agent Luna")

	res := l.HandleCommand(context.Background(), ParseCommand(msg.Content), msg)
	if !res.Handled || res.Response != "Switched to Luna." {
		t.Fatalf("unexpected result: %+v", res)
	}
	if got := l.Sessions().Agent(SessionKey(msg)); got != "luna" {
		t.Errorf("session agent = %q", got)
	}
}

func TestHandleCommand_UnknownAgent(t *testing.T) {
	l, _, _, _ := newTestLoop(t, "")
	msg := inbound("/agent zorro")

	res := l.HandleCommand(context.Background(), ParseCommand(msg.Content), msg)
	if !res.Handled || !strings.Contains(res.Response, "Unknown agent") {
		t.Errorf("unexpected result: %+v", res)
	}
	if l.Sessions().Agent(SessionKey(msg)) != "" {
		t.Error("unknown agent should not be selected")
	}
}

func TestHandleCommand_AgentsListMarksCurrent(t *testing.T) {
	l, _, _, _ := newTestLoop(t, "")
	msg := inbound("/agents")
	res := l.HandleCommand(context.Background(), ParseCommand(msg.Content), msg)
	if !strings.Contains(res.Response, "beacon (current)") || !strings.Contains(res.Response, "kinetix") {
		t.Errorf("unexpected agents list: %q", res.Response)
	}
}

func TestHandleCommand_UnknownCommandFallsThrough(t *testing.T) {
	l, _, _, _ := newTestLoop(t, "")
	msg := inbound("/dance")
	if res := l.HandleCommand(context.Background(), ParseCommand(msg.Content), msg); res.Handled {
		t.Error("unknown commands should go to the agent")
	}
}

func TestProcessDirect_UsesSelectedAgent(t *testing.T) {
	l, env, _, _ := newTestLoop(t, "Hi from Carbon.")
	ctx := context.Background()

	if got := l.ProcessDirect(ctx, "/agent carbon", "test", "chat-1"); got != "Switched to Carbon." {
		t.Fatalf("unexpected switch reply: %q", got)
	}
	if got := l.ProcessDirect(ctx, "how is my SEO?", "test", "chat-1"); got != "Hi from Carbon." {
		t.Fatalf("unexpected reply: %q", got)
	}
	if !strings.Contains(env.prov.lastRequest(t).System, "You are Carbon") {
		t.Error("expected carbon's system prompt")
	}
	conv, err := env.store.ActiveConversation(ctx, "carbon", "test:chat-1", "chat-1")
	if err != nil {
		t.Fatal(err)
	}
	if conv.UsageCount != 1 {
		t.Errorf("expected the turn to be stored under the chat tenant, usage=%d", conv.UsageCount)
	}
}

func TestProcessDirect_NewConversation(t *testing.T) {
	l, env, _, _ := newTestLoop(t, "ok")
	ctx := context.Background()
	l.ProcessDirect(ctx, "hello", "test", "chat-1")

	if got := l.ProcessDirect(ctx, "/new", "test", "chat-1"); !strings.Contains(got, "Starting fresh") {
		t.Fatalf("unexpected /new reply: %q", got)
	}
	l.ProcessDirect(ctx, "hello again", "test", "chat-1")
	if n := len(env.prov.lastRequest(t).History); n != 0 {
		t.Errorf("expected empty history after /new, got %d", n)
	}
}

func TestLoop_RunRepliesAndDeliversMedia(t *testing.T) {
	l, env, b, events := newTestLoop(t, "Painting it now. [GENERATE_IMAGE: a red fox]")
	l.Sessions().SetAgent("test:chat-1", "luna")
	out := newOutbox(b)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		l.Run(ctx)
		close(done)
	}()

	_ = b.Publish(context.Background(), inbound("draw a fox"))
	msgs := out.wait(t, 1)
	if !strings.HasPrefix(msgs[0].Content, "Painting it now.") || !strings.Contains(msgs[0].Content, "Generating your image") {
		t.Errorf("unexpected reply: %q", msgs[0].Content)
	}
	if strings.Contains(msgs[0].Content, "IMAGE_PENDING") {
		t.Error("pending tag should not reach the chat")
	}
	if l.PendingMedia() != 1 {
		t.Fatalf("expected one tracked media job, got %d", l.PendingMedia())
	}

	job := env.queue.jobs[0]
	events.Emit(bus.Event{Type: bus.EventMediaCompleted, Payload: map[string]any{"id": job.ID, "result": "https://img.example/fox.png"}})
	msgs = out.wait(t, 1)
	if msgs[1].Content != "Your image is ready: https://img.example/fox.png" || msgs[1].ChatID != "chat-1" {
		t.Errorf("unexpected delivery: %+v", msgs[1])
	}
	if l.PendingMedia() != 0 {
		t.Error("delivered media should no longer be tracked")
	}

	b.Close()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("loop did not stop after the bus closed")
	}
}

func TestLoop_MediaFinishedBeforeRouted(t *testing.T) {
	l, _, b, events := newTestLoop(t, "")
	out := newOutbox(b)

	events.Emit(bus.Event{Type: bus.EventMediaFailed, Payload: map[string]any{"id": "m-1", "error": "boom"}})
	l.track(MediaRef{ID: "m-1", Kind: domain.MediaVideo}, inbound(""))

	msgs := out.wait(t, 1)
	if !strings.Contains(msgs[0].Content, "couldn't generate that video") {
		t.Errorf("unexpected delivery: %q", msgs[0].Content)
	}
	if l.PendingMedia() != 0 {
		t.Error("media should not stay pending")
	}
}

func TestLoop_UnknownAgentReply(t *testing.T) {
	l, _, _, _ := newTestLoop(t, "")
	l.Sessions().SetAgent("test:chat-1", "ghost")
	got := l.ProcessDirect(context.Background(), "hello", "test", "chat-1")
	if !strings.Contains(got, "unknown agent") {
		t.Errorf("expected an unknown agent notice, got %q", got)
	}
}
