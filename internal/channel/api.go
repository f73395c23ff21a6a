package channel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"agentdesk/internal/agent"
	"agentdesk/internal/bus"
	"agentdesk/internal/config"
	"agentdesk/internal/domain"
	"agentdesk/internal/jobs"
	"agentdesk/internal/metrics"
)

const defaultMaxBodyBytes = 1 << 20 // 1MB

// ChatService is the slice of agent.Service the API serves.
type ChatService interface {
	Chat(ctx context.Context, req agent.ChatRequest) (agent.ChatReply, error)
	Agents() []config.AgentProfile
	DefaultAgent() string
}

// MediaReader looks up generated images and videos.
type MediaReader interface {
	GetMedia(ctx context.Context, id string) (*domain.Media, error)
}

// EventLog serves recent events to pollers.
type EventLog interface {
	After(after int64, limit int, types ...string) []bus.Event
}

// JobLister reports background job status.
type JobLister interface {
	List() []jobs.Record
}

// API is the portal-facing HTTP surface. Unlike the chat channels it calls
// the service directly, so each request gets its reply in the response.
type API struct {
	host         string
	port         int
	apiKey       string
	maxBodyBytes int64
	metricsPath  string

	svc    ChatService
	media  MediaReader
	jobs   JobLister
	events EventLog
	logger *slog.Logger
	server *http.Server
}

type APIConfig struct {
	Host         string
	Port         int
	APIKey       string // empty = no auth
	MaxBodyBytes int64
	MetricsPath  string // e.g. "/metrics"; empty = not served
	Service      ChatService
	Media        MediaReader
	Jobs         JobLister // optional
	Events       EventLog  // optional
	Logger       *slog.Logger
}

func NewAPI(cfg APIConfig) *API {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = defaultMaxBodyBytes
	}
	return &API{
		host:         cfg.Host,
		port:         cfg.Port,
		apiKey:       cfg.APIKey,
		maxBodyBytes: cfg.MaxBodyBytes,
		metricsPath:  cfg.MetricsPath,
		svc:          cfg.Service,
		media:        cfg.Media,
		jobs:         cfg.Jobs,
		events:       cfg.Events,
		logger:       cfg.Logger,
	}
}

func (a *API) Name() string { return "api" }

// Handler returns the routed HTTP handler.
func (a *API) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", a.handleHealth)
	mux.HandleFunc("GET /api/agents", a.auth(a.handleAgents))
	mux.HandleFunc("POST /api/agents/{agent}/chat", a.auth(a.handleChat))
	mux.HandleFunc("GET /api/images/{id}", a.auth(a.handleMedia(domain.MediaImage)))
	mux.HandleFunc("GET /api/videos/{id}", a.auth(a.handleMedia(domain.MediaVideo)))
	mux.HandleFunc("GET /api/jobs", a.auth(a.handleJobs))
	mux.HandleFunc("GET /api/events", a.auth(a.handleEvents))
	mux.HandleFunc("POST /v1/chat/completions", a.auth(a.handleChatCompletions))
	if a.metricsPath != "" {
		mux.Handle("GET "+a.metricsPath, metrics.Collector.Handler())
	}
	return mux
}

// Start serves until ctx is cancelled.
func (a *API) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", a.host, a.port)
	a.server = &http.Server{
		Addr:              addr,
		Handler:           a.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      150 * time.Second, // allow time for LLM response
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	a.logger.Info("API started", "addr", addr)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		a.server.Shutdown(shutdownCtx)
	}()

	if err := a.server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (a *API) Stop() error {
	if a.server != nil {
		return a.server.Close()
	}
	return nil
}

func (a *API) auth(next http.HandlerFunc) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if a.apiKey != "" {
			auth := r.Header.Get("Authorization")
			if !strings.HasPrefix(auth, "Bearer ") || strings.TrimPrefix(auth, "Bearer ") != a.apiKey {
				writeError(rw, http.StatusUnauthorized, "invalid API key")
				return
			}
		}
		next(rw, r)
	}
}

func (a *API) handleHealth(rw http.ResponseWriter, _ *http.Request) {
	writeJSON(rw, http.StatusOK, map[string]any{
		"status": "ok",
		"agents": len(a.svc.Agents()),
		"uptime": metrics.Collector.Uptime().Round(time.Second).String(),
	})
}

type agentInfo struct {
	Name        string `json:"name"`
	DisplayName string `json:"display_name"`
	Description string `json:"description"`
	Default     bool   `json:"default,omitempty"`
}

func (a *API) handleAgents(rw http.ResponseWriter, _ *http.Request) {
	profiles := a.svc.Agents()
	out := make([]agentInfo, 0, len(profiles))
	for _, p := range profiles {
		out = append(out, agentInfo{
			Name:        p.Name,
			DisplayName: p.DisplayName,
			Description: p.Description,
			Default:     p.Name == a.svc.DefaultAgent(),
		})
	}
	writeJSON(rw, http.StatusOK, map[string]any{"agents": out})
}

type chatBody struct {
	TenantID       string `json:"tenant_id"`
	UserID         string `json:"user_id"`
	ConversationID string `json:"conversation_id,omitempty"`
	Message        string `json:"message"`
}

func (a *API) handleChat(rw http.ResponseWriter, r *http.Request) {
	var body chatBody
	if !a.decode(rw, r, &body) {
		return
	}
	if body.TenantID == "" || body.UserID == "" {
		writeError(rw, http.StatusBadRequest, "tenant_id and user_id are required")
		return
	}

	reply, err := a.svc.Chat(r.Context(), agent.ChatRequest{
		Agent:          r.PathValue("agent"),
		TenantID:       body.TenantID,
		UserID:         body.UserID,
		ConversationID: body.ConversationID,
		Message:        body.Message,
	})
	if err != nil {
		a.chatError(rw, err)
		return
	}
	writeJSON(rw, http.StatusOK, reply)
}

func (a *API) chatError(rw http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrUnknownAgent), errors.Is(err, domain.ErrNotFound):
		writeError(rw, http.StatusNotFound, err.Error())
	case errors.Is(err, agent.ErrEmptyMessage):
		writeError(rw, http.StatusBadRequest, err.Error())
	default:
		a.logger.Error("chat request failed", "err", err)
		writeError(rw, http.StatusInternalServerError, "internal error")
	}
}

func (a *API) handleMedia(kind domain.MediaKind) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		m, err := a.media.GetMedia(r.Context(), r.PathValue("id"))
		if errors.Is(err, domain.ErrNotFound) || (err == nil && m.Kind != kind) {
			writeError(rw, http.StatusNotFound, fmt.Sprintf("%s not found", kind))
			return
		}
		if err != nil {
			a.logger.Error("media lookup failed", "id", r.PathValue("id"), "err", err)
			writeError(rw, http.StatusInternalServerError, "internal error")
			return
		}
		writeJSON(rw, http.StatusOK, m)
	}
}

func (a *API) handleJobs(rw http.ResponseWriter, _ *http.Request) {
	if a.jobs == nil {
		writeJSON(rw, http.StatusOK, map[string]any{"jobs": []jobs.Record{}})
		return
	}
	writeJSON(rw, http.StatusOK, map[string]any{"jobs": a.jobs.List()})
}

const maxEventPage = 200

// handleEvents returns events newer than ?after=<seq>, optionally filtered
// by a comma-separated ?type= list. Portals poll it for media completion.
func (a *API) handleEvents(rw http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	after, err := parseInt(q.Get("after"))
	if err != nil {
		writeError(rw, http.StatusBadRequest, "after must be an integer")
		return
	}
	limit, err := parseInt(q.Get("limit"))
	if err != nil || limit < 0 {
		writeError(rw, http.StatusBadRequest, "limit must be a non-negative integer")
		return
	}
	if limit == 0 || limit > maxEventPage {
		limit = maxEventPage
	}

	var types []string
	for _, t := range strings.Split(q.Get("type"), ",") {
		if t = strings.TrimSpace(t); t != "" {
			types = append(types, t)
		}
	}

	events := []bus.Event{}
	if a.events != nil {
		events = a.events.After(after, int(limit), types...)
	}
	next := after
	if n := len(events); n > 0 {
		next = events[n-1].Seq
	}
	writeJSON(rw, http.StatusOK, map[string]any{"events": events, "next": next})
}

func parseInt(s string) (int64, error) {
	if s == "" {
		return 0, nil
	}
	return strconv.ParseInt(s, 10, 64)
}

// handleChatCompletions is an OpenAI-compatible POST /v1/chat/completions.
// The model field names the agent and the user field the caller; only the
// last user message is used since history is kept server side.
func (a *API) handleChatCompletions(rw http.ResponseWriter, r *http.Request) {
	var req oaiCompatRequest
	if !a.decode(rw, r, &req) {
		return
	}

	var userMessage string
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role == "user" {
			userMessage = req.Messages[i].Content
			break
		}
	}
	if userMessage == "" {
		writeError(rw, http.StatusBadRequest, "no user message found")
		return
	}

	user := req.User
	if user == "" {
		user = "api"
	}
	reply, err := a.svc.Chat(r.Context(), agent.ChatRequest{
		Agent:    req.Model,
		TenantID: "api",
		UserID:   user,
		Message:  userMessage,
	})
	if err != nil {
		a.chatError(rw, err)
		return
	}

	writeJSON(rw, http.StatusOK, oaiCompatResponse{
		ID:      "chatcmpl-" + reply.ConversationID,
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   reply.Agent,
		Choices: []oaiCompatChoice{{
			Index:        0,
			Message:      oaiCompatMessage{Role: "assistant", Content: reply.Reply},
			FinishReason: "stop",
		}},
		Usage: reply.Usage,
	})
}

// decode reads a JSON body no larger than maxBodyBytes.
func (a *API) decode(rw http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(rw, r.Body, a.maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(rw, http.StatusRequestEntityTooLarge, "request body too large")
			return false
		}
		writeError(rw, http.StatusBadRequest, "invalid JSON")
		return false
	}
	return true
}

func writeJSON(rw http.ResponseWriter, status int, v any) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(status)
	json.NewEncoder(rw).Encode(v)
}

func writeError(rw http.ResponseWriter, status int, msg string) {
	writeJSON(rw, status, map[string]string{"error": msg})
}

// --- OpenAI-compatible request/response types ---

type oaiCompatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type oaiCompatRequest struct {
	Model    string             `json:"model"`
	Messages []oaiCompatMessage `json:"messages"`
	User     string             `json:"user,omitempty"`
}

type oaiCompatChoice struct {
	Index        int              `json:"index"`
	Message      oaiCompatMessage `json:"message"`
	FinishReason string           `json:"finish_reason"`
}

type oaiCompatResponse struct {
	ID      string            `json:"id"`
	Object  string            `json:"object"`
	Created int64             `json:"created"`
	Model   string            `json:"model"`
	Choices []oaiCompatChoice `json:"choices"`
	Usage   domain.Usage      `json:"usage"`
}
