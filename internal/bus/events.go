package bus

import (
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"agentdesk/internal/metrics"
)

// Well-known event types.
const (
	EventTurnCompleted  = "chat.turn"
	EventEscalated      = "chat.escalated"
	EventActivity       = "chat.activity"
	EventMediaQueued    = "media.queued"
	EventMediaCompleted = "media.completed"
	EventMediaFailed    = "media.failed"
)

// defaultEventLog is how many recent events the bus keeps for polling.
const defaultEventLog = 1000

// Event is a side effect of a chat turn or a background job, published for
// chat channels and portal pollers.
type Event struct {
	Seq       int64          `json:"seq"`
	Type      string         `json:"type"`
	Source    string         `json:"source"` // agent | jobs
	Payload   map[string]any `json:"payload,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// String returns a payload field formatted as text, or "" when absent.
func (e Event) String(key string) string {
	switch v := e.Payload[key].(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		return fmt.Sprint(v)
	}
}

type EventHandler func(Event)

type namedHandler struct {
	id string
	fn EventHandler
}

// EventBus delivers events synchronously to handlers registered by type
// ("*" receives everything) and keeps a bounded log of recent events.
type EventBus struct {
	mu       sync.RWMutex
	handlers map[string][]namedHandler
	nextID   int

	log     []Event // ring buffer
	logHead int     // index of the oldest entry once full
	seq     int64
	logger  *slog.Logger
}

func NewEventBus(logger *slog.Logger) *EventBus {
	return newEventBus(defaultEventLog, logger)
}

func newEventBus(capacity int, logger *slog.Logger) *EventBus {
	if logger == nil {
		logger = slog.Default()
	}
	return &EventBus{
		handlers: make(map[string][]namedHandler),
		log:      make([]Event, 0, capacity),
		logger:   logger,
	}
}

// On registers fn for eventType and returns an id for Off.
func (eb *EventBus) On(eventType string, fn EventHandler) string {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	eb.nextID++
	id := eventType + "#" + strconv.Itoa(eb.nextID)
	eb.handlers[eventType] = append(eb.handlers[eventType], namedHandler{id: id, fn: fn})
	return id
}

func (eb *EventBus) Off(eventType, id string) {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	hs := eb.handlers[eventType]
	for i, h := range hs {
		if h.id == id {
			eb.handlers[eventType] = append(hs[:i:i], hs[i+1:]...)
			return
		}
	}
}

// Emit stamps the event, records it and calls the handlers in registration
// order on the caller's goroutine. A panicking handler is logged and skipped.
func (eb *EventBus) Emit(e Event) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}

	eb.mu.Lock()
	eb.seq++
	e.Seq = eb.seq
	eb.record(e)
	targets := make([]namedHandler, 0, len(eb.handlers[e.Type])+len(eb.handlers["*"]))
	targets = append(targets, eb.handlers[e.Type]...)
	targets = append(targets, eb.handlers["*"]...)
	eb.mu.Unlock()

	metrics.Events(e.Type).Inc()

	for _, h := range targets {
		eb.call(h, e)
	}
}

func (eb *EventBus) call(h namedHandler, e Event) {
	defer func() {
		if r := recover(); r != nil {
			eb.logger.Error("event handler panic", "event", e.Type, "handler", h.id, "panic", r)
		}
	}()
	h.fn(e)
}

// record appends to the ring buffer. Callers hold mu.
func (eb *EventBus) record(e Event) {
	if len(eb.log) < cap(eb.log) {
		eb.log = append(eb.log, e)
		return
	}
	if cap(eb.log) == 0 {
		return
	}
	eb.log[eb.logHead] = e
	eb.logHead = (eb.logHead + 1) % len(eb.log)
}

// After returns up to limit logged events with Seq greater than after,
// oldest first. An empty types list matches every type.
func (eb *EventBus) After(after int64, limit int, types ...string) []Event {
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	out := []Event{}
	n := len(eb.log)
	for i := 0; i < n; i++ {
		e := eb.log[(eb.logHead+i)%n]
		if e.Seq <= after || !matches(e.Type, types) {
			continue
		}
		out = append(out, e)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}

// Len reports how many events are currently logged.
func (eb *EventBus) Len() int {
	eb.mu.RLock()
	defer eb.mu.RUnlock()
	return len(eb.log)
}

func matches(t string, types []string) bool {
	if len(types) == 0 {
		return true
	}
	for _, want := range types {
		if want == t || want == "*" {
			return true
		}
	}
	return false
}
