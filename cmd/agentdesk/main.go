package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"os"
	"os/signal"
	"slices"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"agentdesk/internal/agent"
	"agentdesk/internal/channel"
	"agentdesk/internal/config"
	"agentdesk/internal/provider"
)

var (
	version    = "0.1.0"
	logger     = slog.Default()
	configPath string // overridable via --config flag
)

func main() {
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	agent.SetVersion(version)

	root := &cobra.Command{
		Use:          "agentdesk",
		Short:        "agentdesk: chat back-end for AI agent personas",
		Long:         "agentdesk serves Beacon, Briggs, Iris, Luna, Kinetix and the other personas over HTTP, Telegram and the terminal.",
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config.json (default: ~/.agentdesk/config.json)")

	root.AddCommand(initCmd())
	root.AddCommand(serveCmd())
	root.AddCommand(chatCmd())
	root.AddCommand(agentsCmd())
	root.AddCommand(boundCmd())
	root.AddCommand(markersCmd())
	root.AddCommand(statusCmd())
	root.AddCommand(configCmd())
	root.AddCommand(doctorCmd())
	root.AddCommand(backupCmd())
	root.AddCommand(restoreCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// resolveConfigPath returns the config path from --config flag or default.
func resolveConfigPath() string {
	if configPath != "" {
		return configPath
	}
	return config.DefaultConfigPath()
}

// loadConfig loads the config file, falling back to defaults when optional
// is set and the file is missing or invalid.
func loadConfig(optional bool) (*config.Config, error) {
	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err == nil {
		return cfg, nil
	}
	if !optional {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logger.Warn("config not loaded, using defaults", "path", cfgPath, "err", err)
	cfg = config.Defaults()
	cfg.Store.DBPath = config.ExpandPath(cfg.Store.DBPath)
	cfg.AgentsDir = config.ExpandPath(cfg.AgentsDir)
	return cfg, nil
}

// setupLogger replaces the bootstrap logger with one honouring
// general.logLevel and general.logFile. The returned closer flushes the file.
func setupLogger(cfg *config.Config) (io.Closer, error) {
	var level slog.Level
	switch strings.ToLower(cfg.General.LogLevel) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	var out io.Writer = os.Stderr
	var closer io.Closer = io.NopCloser(nil)
	if cfg.General.LogFile != "" {
		f, err := os.OpenFile(cfg.General.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}
		out = io.MultiWriter(os.Stderr, f)
		closer = f
	}

	logger = slog.New(slog.NewTextHandler(out, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	return closer, nil
}

func initCmd() *cobra.Command {
	var withProfiles bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default config and the built-in agent profiles",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			if _, err := os.Stat(cfgPath); err == nil {
				return fmt.Errorf("config already exists at %s", cfgPath)
			}
			cfg := config.Defaults()
			if err := config.Save(cfgPath, cfg); err != nil {
				return err
			}
			logger.Info("config written", "path", cfgPath)

			if !withProfiles {
				return nil
			}
			dir := config.ExpandPath(cfg.AgentsDir)
			for _, p := range config.BuiltinProfiles() {
				path, err := config.WriteProfile(dir, p)
				if err != nil {
					return err
				}
				logger.Info("agent profile written", "agent", p.Name, "path", path)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&withProfiles, "profiles", true, "also write the built-in agent profiles as YAML for editing")
	return cmd
}

func chatCmd() *cobra.Command {
	var agentName string
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive chat in the terminal",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(true)
			if err != nil {
				return err
			}
			closer, err := setupLogger(cfg)
			if err != nil {
				return err
			}
			defer closer.Close()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			app, err := newApp(cfg)
			if err != nil {
				return err
			}
			defer app.Close()

			if agentName != "" {
				if _, err := app.service.Handler(agentName); err != nil {
					return err
				}
				app.loop.Sessions().SetAgent("cli:direct", agentName)
			}

			go app.loop.Run(ctx)
			app.startBackground(ctx)

			cli := channel.NewCLI(channel.CLIConfig{Logger: logger, Spinner: isTerminal(os.Stdout)})
			return cli.Start(ctx, app.bus)
		},
	}
	cmd.Flags().StringVarP(&agentName, "agent", "a", "", "persona to talk to (default: general.defaultAgent)")
	return cmd
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API, Telegram bot and background workers",
		Long:  "Starts every enabled surface (portal API, Telegram) plus the agent loop and media workers. Press Ctrl+C to stop.",
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(false)
	if err != nil {
		return err
	}
	closer, err := setupLogger(cfg)
	if err != nil {
		return err
	}
	defer closer.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := newApp(cfg)
	if err != nil {
		return err
	}

	if prov := app.providers.HealthyProvider(ctx); prov == nil {
		logger.Warn("no healthy provider at startup; agents will answer with fallback text")
	} else {
		logger.Info("provider healthy", "provider", prov.Name())
	}

	loopDone := make(chan struct{})
	go func() {
		app.loop.Run(ctx)
		close(loopDone)
	}()
	app.startBackground(ctx)

	if _, err := os.Stat(cfg.AgentsDir); err == nil {
		go func() {
			err := config.WatchProfiles(ctx, cfg.AgentsDir, logger, func(p map[string]config.AgentProfile) {
				if err := app.service.ReloadProfiles(p); err != nil {
					logger.Warn("agent profiles not reloaded", "err", err)
				}
			})
			if err != nil {
				logger.Warn("agent profile watcher stopped", "err", err)
			}
		}()
	}

	if cfg.API.Enabled {
		metricsPath := ""
		if cfg.Metrics.Enabled {
			metricsPath = cfg.Metrics.Endpoint
		}
		api := channel.NewAPI(channel.APIConfig{
			Host:         cfg.API.Host,
			Port:         cfg.API.Port,
			APIKey:       cfg.API.APIKey,
			MaxBodyBytes: cfg.API.MaxBodyBytes,
			MetricsPath:  metricsPath,
			Service:      app.service,
			Media:        app.store,
			Jobs:         app.queue,
			Events:       app.events,
			Logger:       logger,
		})
		go func() {
			if err := api.Start(ctx); err != nil {
				logger.Error("API error", "err", err)
				stop()
			}
		}()
	} else {
		logger.Info("API disabled")
	}

	if cfg.Telegram.Enabled && cfg.Telegram.Token != "" {
		var agents []string
		for _, p := range app.service.Agents() {
			agents = append(agents, p.Name)
		}
		telegram := channel.NewTelegram(channel.TelegramConfig{
			Token:     cfg.Telegram.Token,
			AllowFrom: cfg.Telegram.AllowFrom,
			ParseMode: cfg.Telegram.ParseMode,
			Agents:    agents,
			Logger:    logger,
		})
		go func() {
			if err := telegram.Start(ctx, app.bus); err != nil {
				logger.Error("telegram channel error", "err", err)
			}
		}()
		logger.Info("telegram channel enabled")
	} else {
		logger.Info("telegram channel disabled")
	}

	logger.Info("agentdesk started. Press Ctrl+C to stop.", "version", version, "agents", len(app.service.Agents()))

	<-ctx.Done()
	logger.Info("shutting down...")

	const shutdownTimeout = 10 * time.Second
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	// API and Telegram stop with ctx; closing the bus lets the loop drain.
	app.bus.Close()

	select {
	case <-loopDone:
	case <-shutdownCtx.Done():
	}
	if err := app.Shutdown(shutdownCtx); err != nil {
		logger.Warn("shutdown timed out, forcing exit", "err", err)
		return err
	}
	logger.Info("shutdown complete")
	return nil
}

func agentsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "agents",
		Short: "List the agent personas and the markers they act on",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(true)
			if err != nil {
				return err
			}
			profiles, err := config.LoadProfiles(cfg.AgentsDir, logger)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, name := range config.ProfileNames(profiles) {
				p := profiles[name]
				def := ""
				if name == cfg.General.DefaultAgent {
					def = " (default)"
				}
				fmt.Fprintf(out, "%-10s %s%s\n", name, p.Description, def)
				if len(p.Markers) > 0 {
					fmt.Fprintf(out, "%-10s markers: %s\n", "", strings.Join(p.Markers, ", "))
				}
			}
			return nil
		},
	}
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show config and provider health",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			cfg, err := config.Load(cfgPath)
			if err != nil {
				logger.Info("config", "path", cfgPath, "loaded", false)
				cfg = config.Defaults()
			} else {
				logger.Info("config", "path", cfgPath, "loaded", true)
			}
			ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			factory := provider.NewFactory(cfg, logger)
			if prov := factory.HealthyProvider(ctx); prov != nil {
				logger.Info("provider", "name", prov.Name(), "healthy", true)
			} else {
				logger.Info("provider", "healthy", false)
			}
			return nil
		},
	}
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "View and modify configuration",
		Long:  "Get, set, and list configuration values. Changes are saved to the config file.",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "get [path]",
		Short: "Get a config value (e.g. history.maxMessages)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(false)
			if err != nil {
				return err
			}
			val, err := config.GetByPath(config.Sanitize(cfg), args[0])
			if err != nil {
				return err
			}
			data, _ := json.MarshalIndent(val, "", "  ")
			fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "set [path] [value]",
		Short: "Set a config value (e.g. general.defaultAgent luna)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if err := config.SetByPath(cfg, args[0], args[1]); err != nil {
				return fmt.Errorf("set value: %w", err)
			}
			if err := config.Validate(cfg); err != nil {
				return err
			}
			if err := config.Save(cfgPath, cfg); err != nil {
				return fmt.Errorf("save config: %w", err)
			}
			logger.Info("config updated", "path", args[0], "value", args[1], "file", cfgPath)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List all config values",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(false)
			if err != nil {
				return err
			}
			paths := config.ListPaths(config.Sanitize(cfg))
			for _, p := range slices.Sorted(maps.Keys(paths)) {
				v, _ := json.Marshal(paths[p])
				fmt.Fprintf(cmd.OutOrStdout(), "%s = %s\n", p, v)
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show config file path",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), resolveConfigPath())
		},
	})

	return cmd
}

func isTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}
