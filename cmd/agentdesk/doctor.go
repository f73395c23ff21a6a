package main

import (
	"context"
	"fmt"
	"io"
	"maps"
	"net"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/spf13/cobra"

	"agentdesk/internal/config"
	"agentdesk/internal/store"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Run diagnostic checks on your agentdesk installation",
		Long: `Verifies that the configuration, agent profiles, providers, database and
side-effect integrations are set up. Reports pass/fail for each check.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "agentdesk doctor v%s\n", version)
			fmt.Fprintf(out, "━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n\n")

			r := &report{out: out}
			cfgPath := resolveConfigPath()
			if _, err := os.Stat(cfgPath); err != nil {
				r.fail("Config file", fmt.Sprintf("not found at %s", cfgPath))
				fmt.Fprintf(out, "\nRun 'agentdesk init' to create a default configuration.\n")
				return nil
			}
			r.pass("Config file", cfgPath)

			cfg, err := config.Load(cfgPath)
			if err != nil {
				r.fail("Config validation", err.Error())
				return r.summary()
			}
			r.pass("Config validation", "valid")

			runChecks(r, cfg)
			return r.summary()
		},
	}
}

// runChecks inspects a loaded config. It never mutates it.
func runChecks(r *report, cfg *config.Config) {
	profiles, err := config.LoadProfiles(cfg.AgentsDir, logger)
	switch {
	case err != nil:
		r.fail("Agent profiles", err.Error())
	case len(profiles) == 0:
		r.fail("Agent profiles", "no profiles loaded")
	default:
		r.pass("Agent profiles", fmt.Sprintf("%d loaded", len(profiles)))
		if _, ok := profiles[cfg.General.DefaultAgent]; !ok {
			r.fail("Default agent", fmt.Sprintf("%q has no profile", cfg.General.DefaultAgent))
		} else {
			r.pass("Default agent", cfg.General.DefaultAgent)
		}
		for _, name := range config.ProfileNames(profiles) {
			p := profiles[name]
			if p.Provider == "" {
				continue
			}
			if prov, ok := cfg.Providers[p.Provider]; !ok || !prov.Enabled {
				r.warn("Agent: "+name, fmt.Sprintf("provider %q is not enabled; failover chain will be used", p.Provider))
			}
		}
	}

	if version, err := checkDatabase(cfg.Store.DBPath); err != nil {
		r.fail("Database", err.Error())
	} else {
		r.pass("Database", fmt.Sprintf("%s (schema v%d)", cfg.Store.DBPath, version))
	}

	enabled := 0
	for _, name := range slices.Sorted(maps.Keys(cfg.Providers)) {
		p := cfg.Providers[name]
		if !p.Enabled {
			continue
		}
		enabled++
		if p.APIKey == "" {
			r.warn("Provider: "+name, "enabled but no API key configured")
		} else {
			r.pass("Provider: "+name, "configured")
		}
	}
	if enabled == 0 {
		r.fail("Providers", "no providers enabled")
	}

	if cfg.Slack.Enabled {
		if cfg.Slack.BotToken == "" || cfg.Slack.ChannelID == "" {
			r.warn("Slack escalation", "enabled but botToken or channelId missing; escalations are logged only")
		} else {
			r.pass("Slack escalation", cfg.Slack.ChannelID)
		}
	}
	if cfg.Images.Enabled && cfg.Images.APIKey == "" {
		r.warn("Image generation", "enabled but no API key configured")
	}
	if cfg.Videos.Enabled && cfg.Videos.APIKey == "" {
		r.warn("Video generation", "enabled but no API key configured")
	}
	if cfg.Telegram.Enabled {
		if cfg.Telegram.Token == "" {
			r.fail("Telegram", "enabled but no token configured")
		} else if len(cfg.Telegram.AllowFrom) == 0 {
			r.warn("Telegram", "no allowFrom list; every user can chat")
		} else {
			r.pass("Telegram", fmt.Sprintf("%d allowed user(s)", len(cfg.Telegram.AllowFrom)))
		}
	}

	if cfg.API.Enabled {
		if err := checkPort(cfg.API.Host, cfg.API.Port); err != nil {
			r.warn("API port", fmt.Sprintf("port %d may be in use: %v", cfg.API.Port, err))
		} else {
			r.pass("API port", fmt.Sprintf(":%d available", cfg.API.Port))
		}
		if cfg.API.APIKey == "" {
			r.warn("API auth", "no apiKey; the portal API is unauthenticated")
		}
	}

	if cfg.General.LogFile != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.General.LogFile), 0o755); err != nil {
			r.warn("Log file", fmt.Sprintf("cannot create log directory: %v", err))
		} else {
			r.pass("Log file", cfg.General.LogFile)
		}
	}
}

// checkDatabase opens the store, which applies pending migrations, and
// returns the resulting schema version.
func checkDatabase(dbPath string) (int, error) {
	st, err := store.NewSQLiteStore(dbPath, logger)
	if err != nil {
		return 0, err
	}
	defer st.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := st.ListEscalations(ctx, 1); err != nil {
		return 0, fmt.Errorf("not readable: %w", err)
	}
	return st.SchemaVersion(ctx)
}

func checkPort(host string, port int) error {
	ln, err := net.Listen("tcp", net.JoinHostPort(host, fmt.Sprint(port)))
	if err != nil {
		return err
	}
	ln.Close()
	return nil
}

type report struct {
	out                    io.Writer
	passed, failed, warned int
}

func (r *report) pass(check, detail string) {
	r.passed++
	fmt.Fprintf(r.out, "  [PASS] %-20s %s\n", check, detail)
}

func (r *report) fail(check, detail string) {
	r.failed++
	fmt.Fprintf(r.out, "  [FAIL] %-20s %s\n", check, detail)
}

func (r *report) warn(check, detail string) {
	r.warned++
	fmt.Fprintf(r.out, "  [WARN] %-20s %s\n", check, detail)
}

func (r *report) summary() error {
	fmt.Fprintf(r.out, "\n━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n")
	fmt.Fprintf(r.out, "Results: %d passed, %d warnings, %d failed\n", r.passed, r.warned, r.failed)
	if r.failed > 0 {
		return fmt.Errorf("%d check(s) failed", r.failed)
	}
	if r.warned > 0 {
		fmt.Fprintf(r.out, "\nagentdesk should work but consider fixing the warnings.\n")
	} else {
		fmt.Fprintf(r.out, "\nAll checks passed! agentdesk is ready to run.\n")
	}
	return nil
}
