package provider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"agentdesk/internal/domain"
	"agentdesk/internal/metrics"
)

// FailoverProvider is a persona's primary gateway followed by the configured
// fallbacks. Persona model names belong to the primary, so fallbacks are
// called with their own default model.
type FailoverProvider struct {
	providers []domain.Provider
	logger    *slog.Logger
}

func NewFailoverProvider(providers []domain.Provider, logger *slog.Logger) *FailoverProvider {
	if logger == nil {
		logger = slog.Default()
	}
	return &FailoverProvider{providers: providers, logger: logger}
}

func (fp *FailoverProvider) Name() string {
	names := make([]string, len(fp.providers))
	for i, p := range fp.providers {
		names[i] = p.Name()
	}
	return "failover(" + strings.Join(names, "→") + ")"
}

func (fp *FailoverProvider) Models() []string {
	var all []string
	seen := make(map[string]bool)
	for _, p := range fp.providers {
		for _, m := range p.Models() {
			if !seen[m] {
				seen[m] = true
				all = append(all, m)
			}
		}
	}
	return all
}

// Healthy succeeds when any member is healthy.
func (fp *FailoverProvider) Healthy(ctx context.Context) error {
	var errs []error
	for _, p := range fp.providers {
		err := p.Healthy(ctx)
		if err == nil {
			return nil
		}
		errs = append(errs, fmt.Errorf("%s: %w", p.Name(), err))
	}
	return fmt.Errorf("no healthy provider in failover chain: %w", errors.Join(errs...))
}

// Chat returns the first successful response. When every member fails and
// any of them was throttled the result wraps domain.ErrRateLimited, so the
// caller answers with the retry-later message rather than the outage one.
func (fp *FailoverProvider) Chat(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	if len(fp.providers) == 0 {
		return nil, fmt.Errorf("failover chain is empty")
	}

	var lastErr error
	throttled := false
	for i, p := range fp.providers {
		attempt := req
		if i > 0 {
			attempt.Model = ""
		}
		resp, err := p.Chat(ctx, attempt)
		if err == nil {
			if i > 0 {
				metrics.Failovers(p.Name()).Inc()
				fp.logger.Info("failover: answered by fallback provider", "provider", p.Name(), "attempt", i+1)
			}
			return resp, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		lastErr = err
		throttled = throttled || errors.Is(err, domain.ErrRateLimited)
		fp.logger.Warn("failover: provider failed, trying next", "provider", p.Name(), "attempt", i+1, "err", err)
	}

	if throttled && !errors.Is(lastErr, domain.ErrRateLimited) {
		return nil, fmt.Errorf("all providers in failover chain failed: %w: %w", domain.ErrRateLimited, lastErr)
	}
	return nil, fmt.Errorf("all providers in failover chain failed: %w", lastErr)
}
