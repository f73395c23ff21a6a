package config

import "agentdesk/internal/history"

func Defaults() *Config {
	return &Config{
		General: GeneralConfig{
			LogLevel:              "info",
			DefaultProvider:       "claude",
			DefaultAgent:          "beacon",
			MaxConcurrentMessages: 5,
			RequestTimeoutSeconds: 60,
			RateLimitPerMinute:    30,
		},
		Providers: map[string]ProviderConfig{
			"claude": {
				Enabled:      true,
				Kind:         "claude",
				APIBase:      "https://api.anthropic.com",
				APIKey:       "${ANTHROPIC_API_KEY}",
				DefaultModel: "claude-sonnet-4-20250514",
			},
			"gemini": {
				Enabled:      false,
				Kind:         "gemini",
				APIKey:       "${GEMINI_API_KEY}",
				DefaultModel: "gemini-1.5-flash",
			},
		},
		History: history.DefaultLimits(),
		Store: StoreConfig{
			DBPath: "~/.agentdesk/agentdesk.db",
		},
		Slack: SlackConfig{
			Enabled: false,
		},
		Images: ImagesConfig{
			Enabled:        false,
			APIBase:        "https://api.openai.com",
			APIKey:         "${OPENAI_API_KEY}",
			Model:          "dall-e-3",
			TimeoutSeconds: 120,
		},
		Videos: VideosConfig{
			Enabled:        false,
			APIBase:        "https://api.openai.com",
			APIKey:         "${OPENAI_API_KEY}",
			Model:          "sora-2",
			PollSeconds:    5,
			TimeoutSeconds: 600,
		},
		Jobs: JobsConfig{
			Workers:        2,
			QueueSize:      64,
			RetentionHours: 24,
		},
		API: APIConfig{
			Enabled:      false,
			Host:         "127.0.0.1",
			Port:         8090,
			MaxBodyBytes: 1 << 20,
		},
		Telegram: TelegramConfig{
			Enabled:   false,
			ParseMode: "Markdown",
		},
		Metrics: MetricsConfig{
			Enabled:  true,
			Endpoint: "/metrics",
		},
		AgentsDir: "~/.agentdesk/agents",
	}
}
