package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"agentdesk/internal/history"
	"agentdesk/internal/marker"
)

// AgentProfile describes one chat persona. Profiles are YAML files in the
// agents directory; files override built-in profiles of the same name.
type AgentProfile struct {
	Name           string         `yaml:"name" json:"name"`
	DisplayName    string         `yaml:"displayName,omitempty" json:"displayName,omitempty"`
	Description    string         `yaml:"description,omitempty" json:"description,omitempty"`
	Provider       string         `yaml:"provider,omitempty" json:"provider,omitempty"`
	Model          string         `yaml:"model,omitempty" json:"model,omitempty"`
	MaxTokens      int            `yaml:"maxTokens,omitempty" json:"maxTokens,omitempty"`
	Temperature    float64        `yaml:"temperature,omitempty" json:"temperature,omitempty"`
	TimeoutSeconds int            `yaml:"timeoutSeconds,omitempty" json:"timeoutSeconds,omitempty"`
	SystemPrompt   string         `yaml:"systemPrompt" json:"systemPrompt"`
	History        history.Limits `yaml:"history,omitempty" json:"history,omitempty"`

	// Markers lists the tags whose side effects this persona may trigger.
	// Every known tag is stripped from replies regardless.
	Markers []string `yaml:"markers,omitempty" json:"markers,omitempty"`

	Data       DataCapture      `yaml:"data,omitempty" json:"data,omitempty"`
	Onboarding OnboardingConfig `yaml:"onboarding,omitempty" json:"onboarding,omitempty"`
	Video      VideoDefaults    `yaml:"video,omitempty" json:"video,omitempty"`
	Fallbacks  FallbackMessages `yaml:"fallbacks,omitempty" json:"fallbacks,omitempty"`
}

// DataCapture controls how [DATA: ...] payloads become stored context.
type DataCapture struct {
	// Fields is the whitelist of keys mined from the payload.
	Fields []string `yaml:"fields,omitempty" json:"fields,omitempty"`
	// Aliases renames a mined key before storing (services -> services_needed).
	Aliases map[string]string `yaml:"aliases,omitempty" json:"aliases,omitempty"`
	// Allowed restricts a field to a fixed, case-insensitive vocabulary.
	Allowed map[string][]string `yaml:"allowed,omitempty" json:"allowed,omitempty"`
	// Pairs names fields holding "name:value" compounds; each is stored as
	// "<field>:<name>" = value.
	Pairs []string `yaml:"pairs,omitempty" json:"pairs,omitempty"`
}

// OnboardingConfig drives the onboarding flow of a persona.
type OnboardingConfig struct {
	// ConfirmField marks onboarding complete when captured as "true".
	ConfirmField    string   `yaml:"confirmField,omitempty" json:"confirmField,omitempty"`
	RestartKeywords []string `yaml:"restartKeywords,omitempty" json:"restartKeywords,omitempty"`
}

// VideoDefaults fills in hints a [GENERATE_VIDEO: ...] reply leaves out.
type VideoDefaults struct {
	DurationSec      int    `yaml:"durationSec,omitempty" json:"durationSec,omitempty"`
	AspectRatio      string `yaml:"aspectRatio,omitempty" json:"aspectRatio,omitempty"`
	AllowedDurations []int  `yaml:"allowedDurations,omitempty" json:"allowedDurations,omitempty"`
}

// FallbackMessages replace the model's reply: RateLimited and Unavailable
// when the LLM gateway fails, ScopeViolation when a persona with the PUBLISH
// marker enabled tried to publish.
type FallbackMessages struct {
	RateLimited    string `yaml:"rateLimited,omitempty" json:"rateLimited,omitempty"`
	Unavailable    string `yaml:"unavailable,omitempty" json:"unavailable,omitempty"`
	ScopeViolation string `yaml:"scopeViolation,omitempty" json:"scopeViolation,omitempty"`
}

const (
	DefaultRateLimitedMessage    = "I'm getting a lot of requests right now. Give me about 30 seconds and try again."
	DefaultUnavailableMessage    = "I'm having trouble connecting right now. Please try again in a moment."
	DefaultScopeViolationMessage = "I can only prepare drafts. Publishing or deploying needs human approval, and this attempt has been flagged for review."
)

// MarkerEnabled reports whether the persona acts on markers of kind k.
func (p AgentProfile) MarkerEnabled(k marker.Kind) bool {
	for _, m := range p.Markers {
		if strings.EqualFold(m, string(k)) {
			return true
		}
	}
	return false
}

// RateLimitedMessage returns the persona's rate-limit fallback text.
func (p AgentProfile) RateLimitedMessage() string {
	if p.Fallbacks.RateLimited != "" {
		return p.Fallbacks.RateLimited
	}
	return DefaultRateLimitedMessage
}

// UnavailableMessage returns the persona's generic fallback text.
func (p AgentProfile) UnavailableMessage() string {
	if p.Fallbacks.Unavailable != "" {
		return p.Fallbacks.Unavailable
	}
	return DefaultUnavailableMessage
}

// ScopeViolationMessage returns the text shown instead of a reply that
// tried to publish.
func (p AgentProfile) ScopeViolationMessage() string {
	if p.Fallbacks.ScopeViolation != "" {
		return p.Fallbacks.ScopeViolation
	}
	return DefaultScopeViolationMessage
}

// IsRestartRequest reports whether a user message asks to redo onboarding.
func (p AgentProfile) IsRestartRequest(message string) bool {
	lower := strings.ToLower(message)
	for _, kw := range p.Onboarding.RestartKeywords {
		if kw != "" && strings.Contains(lower, strings.ToLower(kw)) {
			return true
		}
	}
	return false
}

// Validate checks a single profile.
func (p AgentProfile) Validate() error {
	var errs []string
	if p.Name == "" {
		errs = append(errs, "name is required")
	}
	if strings.TrimSpace(p.SystemPrompt) == "" {
		errs = append(errs, "systemPrompt is required")
	}
	if p.MaxTokens < 0 {
		errs = append(errs, "maxTokens must be >= 0")
	}
	if p.Temperature < 0 || p.Temperature > 2 {
		errs = append(errs, "temperature must be between 0 and 2")
	}
	for _, m := range p.Markers {
		if _, ok := marker.ParseKind(strings.ToUpper(m)); !ok {
			errs = append(errs, fmt.Sprintf("unknown marker %q", m))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("agent %q: %s", p.Name, strings.Join(errs, "; "))
	}
	return nil
}

// LoadProfiles returns the built-in profiles overlaid with any YAML files
// found in dir. Unreadable or invalid files are logged and skipped.
func LoadProfiles(dir string, logger *slog.Logger) (map[string]AgentProfile, error) {
	if logger == nil {
		logger = slog.Default()
	}

	profiles := make(map[string]AgentProfile)
	for _, p := range BuiltinProfiles() {
		profiles[p.Name] = p
	}

	if dir == "" {
		return profiles, nil
	}
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		logger.Debug("agents directory does not exist, using built-ins", "dir", dir)
		return profiles, nil
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read agents dir: %w", err)
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !strings.HasSuffix(name, ".yaml") && !strings.HasSuffix(name, ".yml") {
			continue
		}

		path := filepath.Join(dir, name)
		data, err := os.ReadFile(path)
		if err != nil {
			logger.Warn("cannot read agent file", "path", path, "err", err)
			continue
		}

		var p AgentProfile
		if err := yaml.Unmarshal(data, &p); err != nil {
			logger.Warn("cannot parse agent file", "path", path, "err", err)
			continue
		}
		if p.Name == "" {
			p.Name = strings.TrimSuffix(name, filepath.Ext(name))
		}
		p.Name = strings.ToLower(p.Name)

		if err := p.Validate(); err != nil {
			logger.Warn("invalid agent file", "path", path, "err", err)
			continue
		}

		logger.Info("loaded agent profile", "name", p.Name, "path", path)
		profiles[p.Name] = p
	}

	return profiles, nil
}

// WriteProfile writes p as YAML into dir.
func WriteProfile(dir string, p AgentProfile) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create agents dir: %w", err)
	}
	data, err := yaml.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("marshal agent %s: %w", p.Name, err)
	}
	path := filepath.Join(dir, p.Name+".yaml")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write agent %s: %w", p.Name, err)
	}
	return path, nil
}

// ProfileNames returns the sorted names of profiles.
func ProfileNames(profiles map[string]AgentProfile) []string {
	names := make([]string, 0, len(profiles))
	for name := range profiles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
