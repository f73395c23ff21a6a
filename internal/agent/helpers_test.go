package agent

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"agentdesk/internal/config"
	"agentdesk/internal/domain"
	"agentdesk/internal/jobs"
	"agentdesk/internal/store"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// mockProvider returns a scripted reply and records every request.
type mockProvider struct {
	mu    sync.Mutex
	reply string
	err   error
	reqs  []domain.ChatRequest
}

func (m *mockProvider) Chat(_ context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reqs = append(m.reqs, req)
	if m.err != nil {
		return nil, m.err
	}
	return &domain.ChatResponse{Content: m.reply, Usage: domain.Usage{TotalTokens: 42}}, nil
}

func (m *mockProvider) Name() string                    { return "mock" }
func (m *mockProvider) Models() []string                { return []string{"mock-model"} }
func (m *mockProvider) Healthy(_ context.Context) error { return nil }

func (m *mockProvider) lastRequest(t *testing.T) domain.ChatRequest {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.reqs) == 0 {
		t.Fatal("provider was not called")
	}
	return m.reqs[len(m.reqs)-1]
}

type staticResolver struct{ p domain.Provider }

func (r staticResolver) Resolve(string) (domain.Provider, error) { return r.p, nil }

type mockEscalator struct {
	mu  sync.Mutex
	got []domain.Escalation
	err error
}

func (m *mockEscalator) Escalate(_ context.Context, e domain.Escalation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.got = append(m.got, e)
	return m.err
}

type mockSubmitter struct {
	mu   sync.Mutex
	jobs []jobs.Job
	err  error
}

func (m *mockSubmitter) Submit(j jobs.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.jobs = append(m.jobs, j)
	return nil
}

type stubImages struct{}

func (stubImages) Generate(context.Context, string, string) (*domain.GeneratedAsset, error) {
	return &domain.GeneratedAsset{URL: "https://img.example/1.png"}, nil
}

type stubVideos struct{}

func (stubVideos) GenerateVideo(context.Context, domain.VideoSpec) (*domain.GeneratedAsset, error) {
	return &domain.GeneratedAsset{URL: "https://vid.example/1.mp4"}, nil
}

type testEnv struct {
	svc   *Service
	store *store.SQLiteStore
	prov  *mockProvider
	esc   *mockEscalator
	queue *mockSubmitter
}

func newTestEnv(t *testing.T, reply string, opts ...func(*Config)) *testEnv {
	t.Helper()
	st, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "agentdesk.db"), testLogger())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	profiles := make(map[string]config.AgentProfile)
	for _, p := range config.BuiltinProfiles() {
		profiles[p.Name] = p
	}

	env := &testEnv{
		store: st,
		prov:  &mockProvider{reply: reply},
		esc:   &mockEscalator{},
		queue: &mockSubmitter{},
	}
	cfg := Config{
		Profiles:     profiles,
		DefaultAgent: "beacon",
		Store:        st,
		Providers:    staticResolver{env.prov},
		Escalator:    env.esc,
		Queue:        env.queue,
		Media: jobs.NewMediaRunner(jobs.MediaRunnerConfig{
			Store:  st,
			Images: stubImages{},
			Videos: stubVideos{},
			Logger: testLogger(),
		}),
		Logger: testLogger(),
	}
	for _, o := range opts {
		o(&cfg)
	}
	env.svc = NewService(cfg)
	return env
}

func (e *testEnv) chat(t *testing.T, agent, msg string) ChatReply {
	t.Helper()
	reply, err := e.svc.Chat(context.Background(), ChatRequest{
		Agent:    agent,
		TenantID: "tenant-1",
		UserID:   "user-1",
		Message:  msg,
	})
	if err != nil {
		t.Fatalf("Chat(%s): %v", agent, err)
	}
	return reply
}
