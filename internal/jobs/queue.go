// Package jobs runs media generation work on a bounded worker pool.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"agentdesk/internal/bus"
	"agentdesk/internal/metrics"
)

var (
	ErrQueueFull = errors.New("job queue is full")
	ErrClosed    = errors.New("job queue is closed")
)

// Status represents the lifecycle state of a job.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Job is a unit of background work. Run returns a short result (a URL for
// media jobs) or an error.
type Job struct {
	ID   string
	Kind string
	Run  func(ctx context.Context) (string, error)
}

// Record is the tracked state of a submitted job.
type Record struct {
	ID          string    `json:"id"`
	Kind        string    `json:"kind"`
	Status      Status    `json:"status"`
	Result      string    `json:"result,omitempty"`
	Error       string    `json:"error,omitempty"`
	SubmittedAt time.Time `json:"submitted_at"`
	StartedAt   time.Time `json:"started_at,omitempty"`
	DoneAt      time.Time `json:"done_at,omitempty"`
}

// Finished reports whether the job reached a terminal state.
func (r Record) Finished() bool {
	return r.Status == StatusCompleted || r.Status == StatusFailed
}

type Config struct {
	Workers   int
	QueueSize int
	Timeout   time.Duration // per job, 0 = no limit
	Events    *bus.EventBus // optional; receives media.* events
	Logger    *slog.Logger
}

// Queue executes submitted jobs on a fixed number of workers.
type Queue struct {
	mu      sync.RWMutex
	records map[string]*Record
	pending chan Job
	closed  bool

	timeout time.Duration
	events  *bus.EventBus
	logger  *slog.Logger
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewQueue starts the workers. Call Close to stop them.
func NewQueue(cfg Config) *Queue {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.QueueSize < 1 {
		cfg.QueueSize = 1
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	q := &Queue{
		records: make(map[string]*Record),
		pending: make(chan Job, cfg.QueueSize),
		timeout: cfg.Timeout,
		events:  cfg.Events,
		logger:  cfg.Logger,
		ctx:     ctx,
		cancel:  cancel,
	}
	for i := 0; i < cfg.Workers; i++ {
		q.wg.Add(1)
		go q.worker(i)
	}
	return q
}

// Submit enqueues j without blocking. The job is counted and its
// media.queued event emitted before any worker can pick it up, so
// handlers for that event must not call back into the Queue.
func (q *Queue) Submit(j Job) error {
	if j.ID == "" || j.Run == nil {
		return fmt.Errorf("job requires an id and a run func")
	}
	if err := q.enqueue(j); err != nil {
		return err
	}
	q.logger.Info("job submitted", "id", j.ID, "kind", j.Kind)
	return nil
}

// enqueue holds mu across the send. Every sender does, so a free slot seen
// here is still free when the job is handed over.
func (q *Queue) enqueue(j Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrClosed
	}
	if _, dup := q.records[j.ID]; dup {
		return fmt.Errorf("job %s already submitted", j.ID)
	}
	if len(q.pending) == cap(q.pending) {
		return ErrQueueFull
	}

	q.records[j.ID] = &Record{ID: j.ID, Kind: j.Kind, Status: StatusPending, SubmittedAt: time.Now()}
	metrics.QueuedMediaJobs.Inc()
	q.emit(bus.EventMediaQueued, j, "", nil)
	q.pending <- j
	return nil
}

func (q *Queue) worker(n int) {
	defer q.wg.Done()
	for j := range q.pending {
		metrics.QueuedMediaJobs.Dec()
		q.run(j)
	}
	q.logger.Debug("job worker stopped", "worker", n)
}

func (q *Queue) run(j Job) {
	q.update(j.ID, func(r *Record) {
		r.Status = StatusRunning
		r.StartedAt = time.Now()
	})

	ctx := q.ctx
	if q.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, q.timeout)
		defer cancel()
	}

	start := time.Now()
	result, err := runSafely(ctx, j)
	metrics.MediaLatency.Observe(time.Since(start).Seconds())

	q.update(j.ID, func(r *Record) {
		r.DoneAt = time.Now()
		if err != nil {
			r.Status = StatusFailed
			r.Error = err.Error()
			return
		}
		r.Status = StatusCompleted
		r.Result = result
	})
	if err != nil {
		metrics.MediaJobs(j.Kind, string(StatusFailed)).Inc()
		q.logger.Error("job failed", "id", j.ID, "kind", j.Kind, "err", err)
		q.emit(bus.EventMediaFailed, j, "", err)
		return
	}
	metrics.MediaJobs(j.Kind, string(StatusCompleted)).Inc()
	q.logger.Info("job completed", "id", j.ID, "kind", j.Kind, "duration", time.Since(start))
	q.emit(bus.EventMediaCompleted, j, result, nil)
}

func (q *Queue) emit(eventType string, j Job, result string, err error) {
	if q.events == nil {
		return
	}
	payload := map[string]any{"id": j.ID, "kind": j.Kind}
	if result != "" {
		payload["result"] = result
	}
	if err != nil {
		payload["error"] = err.Error()
	}
	q.events.Emit(bus.Event{Type: eventType, Source: "jobs", Payload: payload})
}

func runSafely(ctx context.Context, j Job) (result string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job panicked: %v", r)
		}
	}()
	return j.Run(ctx)
}

func (q *Queue) update(id string, fn func(*Record)) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if r, ok := q.records[id]; ok {
		fn(r)
	}
}

// Get returns a copy of the job's current state.
func (q *Queue) Get(id string) (Record, bool) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	r, ok := q.records[id]
	if !ok {
		return Record{}, false
	}
	return *r, true
}

// List returns every tracked job, oldest submission first.
func (q *Queue) List() []Record {
	q.mu.RLock()
	out := make([]Record, 0, len(q.records))
	for _, r := range q.records {
		out = append(out, *r)
	}
	q.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].SubmittedAt.Before(out[j].SubmittedAt) })
	return out
}

// Clean forgets finished jobs older than maxAge and returns how many were removed.
func (q *Queue) Clean(maxAge time.Duration) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for id, r := range q.records {
		if r.Finished() && r.DoneAt.Before(cutoff) {
			delete(q.records, id)
			removed++
		}
	}
	return removed
}

// Close stops accepting jobs and waits for queued and running jobs to
// finish. If ctx ends first, running jobs are cancelled.
func (q *Queue) Close(ctx context.Context) error {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		close(q.pending)
	}
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		q.cancel()
		return nil
	case <-ctx.Done():
		q.cancel()
		<-done
		return ctx.Err()
	}
}
