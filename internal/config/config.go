package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"agentdesk/internal/history"
)

// Config is the root configuration for agentdesk.
type Config struct {
	General   GeneralConfig             `json:"general"`
	Providers map[string]ProviderConfig `json:"providers"`
	History   history.Limits            `json:"history"`
	Store     StoreConfig               `json:"store"`
	Slack     SlackConfig               `json:"slack"`
	Images    ImagesConfig              `json:"images"`
	Videos    VideosConfig              `json:"videos"`
	Jobs      JobsConfig                `json:"jobs"`
	API       APIConfig                 `json:"api"`
	Telegram  TelegramConfig            `json:"telegram"`
	Metrics   MetricsConfig             `json:"metrics"`
	AgentsDir string                    `json:"agentsDir,omitempty"`
}

type GeneralConfig struct {
	LogLevel              string   `json:"logLevel"`
	LogFile               string   `json:"logFile,omitempty"` // optional log file path
	DefaultProvider       string   `json:"defaultProvider"`
	DefaultAgent          string   `json:"defaultAgent"`
	FailoverChain         []string `json:"failoverChain,omitempty"` // provider failover order
	MaxConcurrentMessages int      `json:"maxConcurrentMessages"`
	RequestTimeoutSeconds int      `json:"requestTimeoutSeconds"`
	RateLimitPerMinute    int      `json:"rateLimitPerMinute"` // per tenant, 0 = disabled
}

type ProviderConfig struct {
	Enabled      bool   `json:"enabled"`
	Kind         string `json:"kind"` // "claude" | "gemini" | "openai"
	APIBase      string `json:"apiBase,omitempty"`
	APIKey       string `json:"apiKey,omitempty"`
	DefaultModel string `json:"defaultModel,omitempty"`
}

type StoreConfig struct {
	DBPath string `json:"dbPath"`
}

// SlackConfig configures human escalation. Escalation is skipped when
// disabled or when the bot token or channel is missing.
type SlackConfig struct {
	Enabled   bool   `json:"enabled"`
	BotToken  string `json:"botToken"`
	ChannelID string `json:"channelId"`
	APIURL    string `json:"apiUrl,omitempty"` // override for testing
}

// ImagesConfig configures the OpenAI-compatible image generation endpoint.
type ImagesConfig struct {
	Enabled        bool   `json:"enabled"`
	APIBase        string `json:"apiBase"`
	APIKey         string `json:"apiKey,omitempty"`
	Model          string `json:"model"`
	TimeoutSeconds int    `json:"timeoutSeconds"`
}

// VideosConfig configures the OpenAI-compatible video render endpoint used
// by the Kinetix persona.
type VideosConfig struct {
	Enabled        bool   `json:"enabled"`
	APIBase        string `json:"apiBase"`
	APIKey         string `json:"apiKey,omitempty"`
	Model          string `json:"model"`
	PollSeconds    int    `json:"pollSeconds"`
	TimeoutSeconds int    `json:"timeoutSeconds"` // whole render, polling included
}

// JobsConfig sizes the background generation queue.
type JobsConfig struct {
	Workers        int `json:"workers"`
	QueueSize      int `json:"queueSize"`
	RetentionHours int `json:"retentionHours"`
}

type TelegramConfig struct {
	Enabled   bool           `json:"enabled"`
	Token     string         `json:"token"`
	AllowFrom FlexStringList `json:"allowFrom"`
	ParseMode string         `json:"parseMode"`
}

// FlexStringList is a []string that can unmarshal from JSON arrays containing
// both strings and numbers (e.g. ["123", 456] both become "123", "456").
type FlexStringList []string

func (f *FlexStringList) UnmarshalJSON(data []byte) error {
	var ss []string
	if err := json.Unmarshal(data, &ss); err == nil {
		*f = ss
		return nil
	}
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	result := make([]string, 0, len(raw))
	for _, item := range raw {
		var s string
		if err := json.Unmarshal(item, &s); err == nil {
			result = append(result, s)
			continue
		}
		var n float64
		if err := json.Unmarshal(item, &n); err == nil {
			result = append(result, strconv.FormatInt(int64(n), 10))
			continue
		}
		result = append(result, string(item))
	}
	*f = result
	return nil
}

// MetricsConfig configures the Prometheus text endpoint.
type MetricsConfig struct {
	Enabled  bool   `json:"enabled"`
	Endpoint string `json:"endpoint"`
}

// APIConfig configures the portal HTTP API.
type APIConfig struct {
	Enabled      bool   `json:"enabled"`
	Host         string `json:"host"`
	Port         int    `json:"port"`
	APIKey       string `json:"apiKey,omitempty"`
	MaxBodyBytes int64  `json:"maxBodyBytes"`
}

// DefaultConfigDir returns the default config directory (~/.agentdesk).
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".agentdesk"
	}
	return filepath.Join(home, ".agentdesk")
}

func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.json")
}

func Load(path string) (*Config, error) {
	path = ExpandPath(path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	}

	// Substitute environment variables: ${VAR} and ${VAR:-default}
	data = []byte(ExpandEnvVars(string(data)))

	cfg := Defaults()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
	}

	cfg.Store.DBPath = ExpandPath(cfg.Store.DBPath)
	cfg.General.LogFile = ExpandPath(cfg.General.LogFile)
	cfg.AgentsDir = ExpandPath(cfg.AgentsDir)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns in config strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-(.*?))?\}`)

// ExpandEnvVars replaces ${VAR} with the environment variable value.
// ${VAR:-default} uses "default" when VAR is unset or empty.
func ExpandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		hasDefault := len(groups) >= 3 && groups[2] != ""

		val, exists := os.LookupEnv(groups[1])
		if !exists || val == "" {
			if hasDefault {
				return groups[2]
			}
			return match
		}
		return val
	})
}

func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}

	return os.WriteFile(path, data, 0o600)
}

var providerKinds = map[string]bool{"claude": true, "gemini": true, "openai": true}

// Validate checks that the config has valid values.
func Validate(cfg *Config) error {
	var errs []string

	switch cfg.General.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, "general.logLevel must be one of: debug, info, warn, error")
	}
	if cfg.General.MaxConcurrentMessages < 1 || cfg.General.MaxConcurrentMessages > 100 {
		errs = append(errs, "general.maxConcurrentMessages must be between 1 and 100")
	}
	if cfg.General.RequestTimeoutSeconds < 1 || cfg.General.RequestTimeoutSeconds > 600 {
		errs = append(errs, "general.requestTimeoutSeconds must be between 1 and 600")
	}
	if cfg.General.RateLimitPerMinute < 0 {
		errs = append(errs, "general.rateLimitPerMinute must be >= 0")
	}

	if cfg.API.Port < 0 || cfg.API.Port > 65535 {
		errs = append(errs, "api.port must be between 0 and 65535")
	}
	if cfg.API.MaxBodyBytes < 1 {
		errs = append(errs, "api.maxBodyBytes must be >= 1")
	}
	if cfg.Store.DBPath == "" {
		errs = append(errs, "store.dbPath is required")
	}
	if cfg.Jobs.Workers < 1 || cfg.Jobs.Workers > 64 {
		errs = append(errs, "jobs.workers must be between 1 and 64")
	}
	if cfg.Jobs.QueueSize < 1 {
		errs = append(errs, "jobs.queueSize must be >= 1")
	}
	if cfg.Slack.Enabled && (cfg.Slack.BotToken == "" || cfg.Slack.ChannelID == "") {
		errs = append(errs, "slack: botToken and channelId are required when enabled")
	}
	if cfg.Images.Enabled && cfg.Images.APIBase == "" {
		errs = append(errs, "images.apiBase is required when enabled")
	}
	if cfg.Videos.Enabled && cfg.Videos.APIBase == "" {
		errs = append(errs, "videos.apiBase is required when enabled")
	}
	if cfg.Videos.PollSeconds < 0 || cfg.Videos.TimeoutSeconds < 0 {
		errs = append(errs, "videos: pollSeconds and timeoutSeconds must be >= 0")
	}
	if cfg.Telegram.Enabled && cfg.Telegram.Token == "" {
		errs = append(errs, "telegram.token is required when enabled")
	}

	if _, ok := cfg.Providers[cfg.General.DefaultProvider]; !ok {
		errs = append(errs, fmt.Sprintf("general.defaultProvider references unknown provider: %s", cfg.General.DefaultProvider))
	}
	for _, provName := range cfg.General.FailoverChain {
		if _, ok := cfg.Providers[provName]; !ok {
			errs = append(errs, fmt.Sprintf("general.failoverChain references unknown provider: %s", provName))
		}
	}
	for name, pc := range cfg.Providers {
		if !providerKinds[pc.Kind] {
			errs = append(errs, fmt.Sprintf("providers.%s: kind must be claude, gemini or openai", name))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// ExpandPath resolves ~/ to the user's home directory.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
