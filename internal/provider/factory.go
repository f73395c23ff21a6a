package provider

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"agentdesk/internal/config"
	"agentdesk/internal/domain"
)

// ProviderConstructor creates a provider from a config entry.
type ProviderConstructor func(pc config.ProviderConfig, timeout time.Duration, logger *slog.Logger) (domain.Provider, error)

// Factory creates and caches LLM providers from config.
type Factory struct {
	cfg          *config.Config
	logger       *slog.Logger
	constructors map[string]ProviderConstructor
	cache        map[string]domain.Provider
	mu           sync.RWMutex
}

// NewFactory creates a provider factory with the built-in constructors registered.
func NewFactory(cfg *config.Config, logger *slog.Logger) *Factory {
	if logger == nil {
		logger = slog.Default()
	}
	f := &Factory{
		cfg:          cfg,
		logger:       logger,
		constructors: make(map[string]ProviderConstructor),
		cache:        make(map[string]domain.Provider),
	}
	f.registerDefaults()
	return f
}

// RegisterConstructor adds (or replaces) a constructor for a provider kind.
func (f *Factory) RegisterConstructor(kind string, ctor ProviderConstructor) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.constructors[kind] = ctor
}

func (f *Factory) registerDefaults() {
	f.constructors["claude"] = func(pc config.ProviderConfig, timeout time.Duration, logger *slog.Logger) (domain.Provider, error) {
		return NewClaude(ClaudeConfig{APIKey: pc.APIKey, APIBase: pc.APIBase, Model: pc.DefaultModel, Timeout: timeout, Logger: logger}), nil
	}
	f.constructors["gemini"] = func(pc config.ProviderConfig, timeout time.Duration, logger *slog.Logger) (domain.Provider, error) {
		return NewGemini(context.Background(), GeminiConfig{APIKey: pc.APIKey, Model: pc.DefaultModel, Timeout: timeout, Logger: logger})
	}
	f.constructors["openai"] = func(pc config.ProviderConfig, timeout time.Duration, logger *slog.Logger) (domain.Provider, error) {
		return NewOpenAI(OpenAIConfig{APIKey: pc.APIKey, APIBase: pc.APIBase, Model: pc.DefaultModel, Timeout: timeout, Logger: logger}), nil
	}
}

// Get returns the provider with the given name, or the default if name is empty.
// Created providers are cached so the same instance is reused across calls.
func (f *Factory) Get(name string) (domain.Provider, error) {
	if name == "" {
		name = f.cfg.General.DefaultProvider
	}

	f.mu.RLock()
	if cached, ok := f.cache[name]; ok {
		f.mu.RUnlock()
		return cached, nil
	}
	f.mu.RUnlock()

	f.mu.Lock()
	defer f.mu.Unlock()

	if cached, ok := f.cache[name]; ok {
		return cached, nil
	}

	pc, ok := f.cfg.Providers[name]
	if !ok {
		return nil, fmt.Errorf("unknown provider: %s", name)
	}
	if !pc.Enabled {
		return nil, fmt.Errorf("provider %s is disabled", name)
	}

	ctor, found := f.constructors[pc.Kind]
	if !found {
		return nil, fmt.Errorf("provider %s: no constructor registered for kind %q", name, pc.Kind)
	}
	timeout := time.Duration(f.cfg.General.RequestTimeoutSeconds) * time.Second
	p, err := ctor(pc, timeout, f.logger.With("provider", name))
	if err != nil {
		return nil, fmt.Errorf("provider %s: %w", name, err)
	}

	f.cache[name] = p
	return p, nil
}

// Resolve returns the named provider (or the default) followed by the
// configured failover chain. Chain members that are disabled or fail to
// build are skipped.
func (f *Factory) Resolve(name string) (domain.Provider, error) {
	primary, err := f.Get(name)
	if err != nil {
		return nil, err
	}
	if len(f.cfg.General.FailoverChain) == 0 {
		return primary, nil
	}

	chain := []domain.Provider{primary}
	seen := map[domain.Provider]bool{primary: true}
	for _, n := range f.cfg.General.FailoverChain {
		p, err := f.Get(n)
		if err != nil {
			f.logger.Debug("failover member unavailable", "provider", n, "err", err)
			continue
		}
		if !seen[p] {
			seen[p] = true
			chain = append(chain, p)
		}
	}
	if len(chain) == 1 {
		return primary, nil
	}
	return NewFailoverProvider(chain, f.logger), nil
}

// HealthyProvider returns the first enabled provider that passes a health check, or nil.
func (f *Factory) HealthyProvider(ctx context.Context) domain.Provider {
	for name := range f.cfg.Providers {
		p, err := f.Get(name)
		if err != nil || p == nil {
			continue
		}
		if p.Healthy(ctx) == nil {
			return p
		}
	}
	return nil
}
