package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"agentdesk/internal/agent"
	"agentdesk/internal/bus"
	"agentdesk/internal/config"
	"agentdesk/internal/domain"
	"agentdesk/internal/escalation"
	"agentdesk/internal/jobs"
	"agentdesk/internal/provider"
	"agentdesk/internal/store"
)

// app holds the wired components shared by the serve and chat commands.
type app struct {
	cfg       *config.Config
	store     *store.SQLiteStore
	providers *provider.Factory
	events    *bus.EventBus
	bus       *bus.InMemoryBus
	queue     *jobs.Queue
	service   *agent.Service
	loop      *agent.Loop
}

func newApp(cfg *config.Config) (*app, error) {
	st, err := store.NewSQLiteStore(cfg.Store.DBPath, logger)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	profiles, err := config.LoadProfiles(cfg.AgentsDir, logger)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("load agent profiles: %w", err)
	}
	if _, ok := profiles[cfg.General.DefaultAgent]; !ok {
		st.Close()
		return nil, fmt.Errorf("default agent %q: %w", cfg.General.DefaultAgent, domain.ErrUnknownAgent)
	}

	factory := provider.NewFactory(cfg, logger)
	events := bus.NewEventBus(logger)

	queue := jobs.NewQueue(jobs.Config{
		Workers:   cfg.Jobs.Workers,
		QueueSize: cfg.Jobs.QueueSize,
		Events:    events,
		Logger:    logger,
	})

	runnerCfg := jobs.MediaRunnerConfig{Store: st, Logger: logger}
	if cfg.Images.Enabled {
		runnerCfg.Images = provider.NewImageClient(provider.ImageConfig{
			APIBase: cfg.Images.APIBase,
			APIKey:  cfg.Images.APIKey,
			Model:   cfg.Images.Model,
			Timeout: time.Duration(cfg.Images.TimeoutSeconds) * time.Second,
			Logger:  logger,
		})
	}
	if cfg.Videos.Enabled {
		runnerCfg.Videos = provider.NewVideoClient(provider.VideoConfig{
			APIBase:      cfg.Videos.APIBase,
			APIKey:       cfg.Videos.APIKey,
			Model:        cfg.Videos.Model,
			PollInterval: time.Duration(cfg.Videos.PollSeconds) * time.Second,
			Timeout:      time.Duration(cfg.Videos.TimeoutSeconds) * time.Second,
			Logger:       logger,
		})
	}

	var escalator domain.Escalator
	if cfg.Slack.Enabled {
		slack := escalation.NewSlack(escalation.SlackConfig{
			BotToken:  cfg.Slack.BotToken,
			ChannelID: cfg.Slack.ChannelID,
			APIURL:    cfg.Slack.APIURL,
			Logger:    logger,
		})
		if slack.Configured() {
			escalator = slack
		} else {
			logger.Warn("slack escalation enabled but botToken or channelId missing")
		}
	}

	svc := agent.NewService(agent.Config{
		Profiles:     profiles,
		DefaultAgent: cfg.General.DefaultAgent,
		Store:        st,
		Providers:    factory,
		Escalator:    escalator,
		Queue:        queue,
		Media:        jobs.NewMediaRunner(runnerCfg),
		Events:       events,
		Limits:       cfg.History,
		RatePerMin:   cfg.General.RateLimitPerMinute,
		Timeout:      time.Duration(cfg.General.RequestTimeoutSeconds) * time.Second,
		Logger:       logger,
	})

	msgBus := bus.New(100, logger)
	loop := agent.NewLoop(agent.LoopConfig{
		Service:     svc,
		Bus:         msgBus,
		Events:      events,
		Logger:      logger,
		Concurrency: cfg.General.MaxConcurrentMessages,
	})

	return &app{
		cfg:       cfg,
		store:     st,
		providers: factory,
		events:    events,
		bus:       msgBus,
		queue:     queue,
		service:   svc,
		loop:      loop,
	}, nil
}

// startBackground runs housekeeping until ctx ends.
func (a *app) startBackground(ctx context.Context) {
	retention := time.Duration(a.cfg.Jobs.RetentionHours) * time.Hour
	if retention <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(retention / 4)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := a.queue.Clean(retention); n > 0 {
					logger.Debug("job records cleaned", "count", n)
				}
			}
		}
	}()
}

// Shutdown drains the job queue and pending side effects, then closes the store.
func (a *app) Shutdown(ctx context.Context) error {
	var errs []error
	if err := a.queue.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("close job queue: %w", err))
	}

	done := make(chan struct{})
	go func() {
		a.service.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		errs = append(errs, fmt.Errorf("wait for escalations: %w", ctx.Err()))
	}

	if err := a.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close store: %w", err))
	}
	return errors.Join(errs...)
}

// Close shuts everything down with a short grace period.
func (a *app) Close() {
	a.bus.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.Shutdown(ctx); err != nil {
		logger.Warn("shutdown", "err", err)
	}
}
