package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"agentdesk/internal/bus"
	"agentdesk/internal/config"
	"agentdesk/internal/domain"
	"agentdesk/internal/escalation"
	"agentdesk/internal/history"
	"agentdesk/internal/marker"
	"agentdesk/internal/metrics"
)

// Handler runs chat turns for a single persona.
type Handler struct {
	profile config.AgentProfile
	limits  history.Limits
	svc     *Service
	logger  *slog.Logger
}

// Profile returns the persona this handler serves.
func (h *Handler) Profile() config.AgentProfile { return h.profile }

// Chat loads the conversation, bounds its history, asks the model, applies
// marker side effects and stores the turn. Model failures are answered with
// the persona's fallback text rather than an error.
func (h *Handler) Chat(ctx context.Context, req ChatRequest) (ChatReply, error) {
	msg := strings.TrimSpace(req.Message)
	if msg == "" {
		return ChatReply{}, ErrEmptyMessage
	}
	p, s := h.profile, h.svc

	metrics.ChatTurnsTotal.Inc()
	metrics.ActiveTurns.Inc()
	defer metrics.ActiveTurns.Dec()

	if p.IsRestartRequest(msg) {
		if err := s.store.ResetContext(ctx, req.TenantID, p.Name); err != nil {
			h.logger.Error("reset onboarding context failed", "tenant", req.TenantID, "err", err)
		} else {
			h.logger.Info("onboarding context reset", "tenant", req.TenantID)
		}
	}

	conv, err := h.conversation(ctx, req)
	if err != nil {
		return ChatReply{}, err
	}

	raw, ok := history.DecodeRaw(conv.Messages)
	if !ok {
		h.logger.Warn("stored history is not a JSON array, ignoring it", "conversation", conv.ID)
	}
	bounded, stats := history.BoundWithStats(raw, h.limits)
	metrics.HistoryDropped.Add(int64(stats.Input - stats.Kept))
	metrics.HistoryTruncated.Add(int64(stats.Truncated))

	reply := ChatReply{Agent: p.Name, ConversationID: conv.ID, HistoryKept: stats.Kept}

	resp, err := h.complete(ctx, req.TenantID, bounded, msg)
	if err != nil {
		reply.Reply = h.fallback(req, err)
		reply.Fallback = true
	} else {
		reply.Usage = resp.Usage
		reply.Reply = h.applyMarkers(ctx, req, conv.ID, raw, resp.Content, &reply)
	}

	if err := s.store.AppendMessages(ctx, conv.ID,
		domain.ConversationMessage{Role: domain.RoleUser, Content: msg},
		domain.ConversationMessage{Role: domain.RoleAssistant, Content: reply.Reply},
	); err != nil {
		h.logger.Error("store turn failed", "conversation", conv.ID, "err", err)
	}
	s.emit(bus.EventTurnCompleted, map[string]any{
		"agent":        p.Name,
		"tenant":       req.TenantID,
		"conversation": conv.ID,
		"fallback":     reply.Fallback,
		"markers":      len(reply.Markers),
	})
	return reply, nil
}

func (h *Handler) conversation(ctx context.Context, req ChatRequest) (*domain.Conversation, error) {
	store := h.svc.store
	if req.ConversationID == "" {
		conv, err := store.ActiveConversation(ctx, h.profile.Name, req.TenantID, req.UserID)
		if err != nil {
			return nil, fmt.Errorf("load conversation: %w", err)
		}
		return conv, nil
	}

	conv, err := store.GetConversation(ctx, req.ConversationID)
	if err != nil {
		return nil, fmt.Errorf("load conversation: %w", err)
	}
	if conv.Agent != h.profile.Name || conv.TenantID != req.TenantID || conv.UserID != req.UserID {
		return nil, fmt.Errorf("conversation %s: %w", req.ConversationID, domain.ErrNotFound)
	}
	return conv, nil
}

// complete calls the persona's provider with its own timeout.
func (h *Handler) complete(ctx context.Context, tenant string, bounded []domain.ConversationMessage, msg string) (*domain.ChatResponse, error) {
	p, s := h.profile, h.svc

	if !s.limiter.Allow(tenant) {
		metrics.RateLimitedTotal.Inc()
		return nil, fmt.Errorf("tenant %s: %w", tenant, domain.ErrRateLimited)
	}

	prov, err := s.providers.Resolve(p.Provider)
	if err != nil {
		return nil, fmt.Errorf("resolve provider: %w", err)
	}

	timeout := s.timeout
	if p.TimeoutSeconds > 0 {
		timeout = time.Duration(p.TimeoutSeconds) * time.Second
	}
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	metrics.LLMRequestsTotal.Inc()
	start := time.Now()
	resp, err := prov.Chat(cctx, domain.ChatRequest{
		System:      p.SystemPrompt,
		History:     bounded,
		Prompt:      msg,
		Model:       p.Model,
		MaxTokens:   p.MaxTokens,
		Temperature: p.Temperature,
	})
	metrics.LLMLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.LLMErrorsTotal.Inc()
		return nil, err
	}
	h.logger.Debug("model replied", "provider", prov.Name(), "tokens", resp.Usage.TotalTokens, "history", len(bounded))
	return resp, nil
}

func (h *Handler) fallback(req ChatRequest, err error) string {
	metrics.ChatFallbacks.Inc()
	if errors.Is(err, domain.ErrRateLimited) {
		h.logger.Warn("rate limited", "tenant", req.TenantID, "user", req.UserID, "err", err)
		return h.profile.RateLimitedMessage()
	}
	h.logger.Error("model call failed", "tenant", req.TenantID, "user", req.UserID, "err", err)
	return h.profile.UnavailableMessage()
}

// applyMarkers runs the side effects the persona allows and returns the
// cleaned reply with any pending media tags appended.
func (h *Handler) applyMarkers(ctx context.Context, req ChatRequest, convID string, raw []any, text string, reply *ChatReply) string {
	p := h.profile
	res := marker.Process(text)
	for _, m := range res.Markers {
		metrics.MarkersExtracted(strings.ToLower(string(m.Kind))).Inc()
		reply.Markers = append(reply.Markers, string(m.Kind))
	}
	cleaned := res.Cleaned

	for _, a := range res.Activities {
		if p.MarkerEnabled(a.Kind) {
			h.recordActivity(req, convID, a)
		}
	}
	if res.ScopeViolation && p.MarkerEnabled(marker.KindPublish) {
		h.logger.Warn("reply attempted to publish", "tenant", req.TenantID, "conversation", convID)
		reply.Escalated = true
		reply.ScopeViolation = true
		h.escalate(ctx, req, convID, scopeViolationReason, excerpt(raw), map[string]string{"severity": "high"})
		return p.ScopeViolationMessage()
	}

	if res.HasData && p.MarkerEnabled(marker.KindData) {
		if fields := captureFields(p, res.Data); len(fields) > 0 {
			if _, err := h.svc.store.MergeContext(ctx, req.TenantID, p.Name, fields); err != nil {
				h.logger.Error("save captured data failed", "tenant", req.TenantID, "err", err)
			} else {
				reply.Captured = fields
			}
		}
	}

	if res.Escalated() && p.MarkerEnabled(marker.KindEscalate) {
		reply.Escalated = true
		h.escalate(ctx, req, convID, res.Escalation, excerpt(raw), nil)
	}

	if res.Image != nil && p.MarkerEnabled(marker.KindGenerateImage) {
		m := domain.Media{Kind: domain.MediaImage, Prompt: res.Image.Prompt, Aspect: string(res.Image.Aspect)}
		if id, ok := h.enqueueMedia(ctx, req, m); ok {
			cleaned = marker.AppendPending(cleaned, marker.KindImagePending, id)
			reply.Media = append(reply.Media, MediaRef{ID: id, Kind: domain.MediaImage})
		}
	}

	if res.Video != nil && p.MarkerEnabled(marker.KindGenerateVideo) {
		v := videoDefaults(p, *res.Video)
		m := domain.Media{Kind: domain.MediaVideo, Prompt: v.Prompt, Aspect: v.AspectRatio, DurationSec: v.DurationSec, Style: v.Style}
		if id, ok := h.enqueueMedia(ctx, req, m); ok {
			cleaned = marker.AppendPending(cleaned, marker.KindVideoPending, id)
			reply.Media = append(reply.Media, MediaRef{ID: id, Kind: domain.MediaVideo})
		}
	}

	return cleaned
}

// excerpt returns the valid messages among the last few raw history entries.
func excerpt(raw []any) []domain.ConversationMessage {
	if len(raw) > excerptMessages {
		raw = raw[len(raw)-excerptMessages:]
	}
	out := make([]domain.ConversationMessage, 0, len(raw))
	for _, e := range raw {
		if m, ok := history.ParseMessage(e); ok {
			out = append(out, m)
		}
	}
	return out
}

// activityNames labels catalog workflow tags in logs and events.
var activityNames = map[marker.Kind]string{
	marker.KindIngestData:        "data_ingestion_requested",
	marker.KindNormalizeProducts: "product_normalization",
	marker.KindGenerateContent:   "content_generation",
	marker.KindProcessImages:     "image_processing",
	marker.KindExportDraft:       "draft_export_generated",
}

const scopeViolationReason = "Scope violation: publishing attempt detected"

func (h *Handler) recordActivity(req ChatRequest, convID string, m marker.Marker) {
	name := activityNames[m.Kind]
	h.logger.Info("agent activity", "activity", name, "tenant", req.TenantID, "conversation", convID)
	h.svc.emit(bus.EventActivity, map[string]any{
		"agent":        h.profile.Name,
		"tenant":       req.TenantID,
		"conversation": convID,
		"activity":     name,
		"payload":      m.Payload,
	})
}

// escalate notifies a human in the background and records the attempt.
func (h *Handler) escalate(ctx context.Context, req ChatRequest, convID, reason string, msgs []domain.ConversationMessage, extra map[string]string) {
	s := h.svc
	e := domain.Escalation{
		Agent:    h.profile.Name,
		TenantID: req.TenantID,
		UserID:   req.UserID,
		Reason:   reason,
		Excerpt:  msgs,
		Extra:    map[string]string{"conversation_id": convID},
	}
	for k, v := range extra {
		e.Extra[k] = v
	}

	s.background.Add(1)
	go func() {
		defer s.background.Done()
		ectx, cancel := context.WithTimeout(context.WithoutCancel(ctx), escalationTimeout)
		defer cancel()

		err := escalation.ErrNotConfigured
		if s.escalator != nil {
			err = s.escalator.Escalate(ectx, e)
		}

		rec := domain.EscalationRecord{Agent: e.Agent, TenantID: e.TenantID, UserID: e.UserID, Reason: reason}
		switch {
		case err == nil:
			rec.Delivered = true
			metrics.Escalations("delivered").Inc()
		case errors.Is(err, escalation.ErrNotConfigured):
			rec.Error = err.Error()
			metrics.Escalations("skipped").Inc()
		default:
			rec.Error = err.Error()
			metrics.Escalations("failed").Inc()
			h.logger.Error("escalation failed", "tenant", req.TenantID, "reason", reason, "err", err)
		}
		if err := s.store.LogEscalation(ectx, rec); err != nil {
			h.logger.Error("record escalation failed", "tenant", req.TenantID, "err", err)
		}
		s.emit(bus.EventEscalated, map[string]any{
			"agent":     rec.Agent,
			"tenant":    rec.TenantID,
			"reason":    reason,
			"delivered": rec.Delivered,
		})
	}()
}

// enqueueMedia stores a pending media record and queues its generation job.
func (h *Handler) enqueueMedia(ctx context.Context, req ChatRequest, m domain.Media) (string, bool) {
	s := h.svc
	if s.queue == nil || s.media == nil || !s.media.Enabled(m.Kind) {
		h.logger.Warn("media requested but generation is not configured", "kind", m.Kind)
		return "", false
	}

	m.ID = uuid.NewString()
	m.Agent = h.profile.Name
	m.TenantID = req.TenantID
	m.UserID = req.UserID
	m.Status = domain.MediaPending
	if err := s.store.CreateMedia(ctx, m); err != nil {
		h.logger.Error("create media record failed", "kind", m.Kind, "err", err)
		return "", false
	}

	if err := s.queue.Submit(s.media.Job(m)); err != nil {
		h.logger.Error("enqueue media job failed", "id", m.ID, "kind", m.Kind, "err", err)
		m.Status = domain.MediaFailed
		m.Error = err.Error()
		if uerr := s.store.UpdateMedia(ctx, m); uerr != nil {
			h.logger.Error("mark media failed", "id", m.ID, "err", uerr)
		}
		return "", false
	}
	h.logger.Info("media job queued", "id", m.ID, "kind", m.Kind)
	return m.ID, true
}
