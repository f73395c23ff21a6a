package provider

import (
	"log/slog"
	"testing"
	"time"

	"agentdesk/internal/config"
	"agentdesk/internal/domain"
)

func testConfig() *config.Config {
	cfg := config.Defaults()
	cfg.Providers = map[string]config.ProviderConfig{
		"main":   {Enabled: true, Kind: "claude", APIKey: "k1"},
		"backup": {Enabled: true, Kind: "claude", APIKey: "k2"},
		"off":    {Enabled: false, Kind: "claude"},
	}
	cfg.General.DefaultProvider = "main"
	return cfg
}

func TestFactory_GetCaches(t *testing.T) {
	f := NewFactory(testConfig(), testLogger())

	p1, err := f.Get("")
	if err != nil {
		t.Fatalf("get default: %v", err)
	}
	p2, _ := f.Get("main")
	if p1 != p2 {
		t.Fatal("expected cached instance")
	}
}

func TestFactory_GetErrors(t *testing.T) {
	f := NewFactory(testConfig(), testLogger())

	if _, err := f.Get("missing"); err == nil {
		t.Fatal("expected error for unknown provider")
	}
	if _, err := f.Get("off"); err == nil {
		t.Fatal("expected error for disabled provider")
	}
}

func TestFactory_RegisterConstructor(t *testing.T) {
	cfg := testConfig()
	cfg.Providers["fake"] = config.ProviderConfig{Enabled: true, Kind: "fake"}
	f := NewFactory(cfg, testLogger())
	f.RegisterConstructor("fake", func(pc config.ProviderConfig, _ time.Duration, _ *slog.Logger) (domain.Provider, error) {
		return &mockProvider{name: "fake"}, nil
	})

	p, err := f.Get("fake")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if p.Name() != "fake" {
		t.Fatalf("unexpected provider %s", p.Name())
	}
}

func TestFactory_ResolveWithoutChain(t *testing.T) {
	f := NewFactory(testConfig(), testLogger())
	p, err := f.Resolve("")
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := p.(*Claude); !ok {
		t.Fatalf("expected plain provider, got %T", p)
	}
}

func TestFactory_ResolveBuildsFailoverChain(t *testing.T) {
	cfg := testConfig()
	cfg.General.FailoverChain = []string{"main", "backup", "off"}
	f := NewFactory(cfg, testLogger())

	p, err := f.Resolve("main")
	if err != nil {
		t.Fatal(err)
	}
	fp, ok := p.(*FailoverProvider)
	if !ok {
		t.Fatalf("expected failover provider, got %T", p)
	}
	if len(fp.providers) != 2 {
		t.Fatalf("expected main and backup only, got %d", len(fp.providers))
	}
}
