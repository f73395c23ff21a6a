package config

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// tree renders cfg as the generic JSON object that path accessors walk.
func tree(cfg *Config) (map[string]any, error) {
	data, err := json.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("encode config: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return m, nil
}

func splitPath(path string) ([]string, error) {
	path = strings.Trim(strings.TrimSpace(path), ".")
	if path == "" {
		return nil, fmt.Errorf("empty config path")
	}
	return strings.Split(path, "."), nil
}

// GetByPath returns the value at a dotted path such as "history.maxMessages".
// Numbers come back as float64, the way encoding/json decodes them.
func GetByPath(cfg *Config, path string) (any, error) {
	parts, err := splitPath(path)
	if err != nil {
		return nil, err
	}
	m, err := tree(cfg)
	if err != nil {
		return nil, err
	}

	var node any = m
	for i, key := range parts {
		switch v := node.(type) {
		case map[string]any:
			next, ok := v[key]
			if !ok {
				return nil, fmt.Errorf("unknown config path %q", strings.Join(parts[:i+1], "."))
			}
			node = next
		case []any:
			idx, err := strconv.Atoi(key)
			if err != nil || idx < 0 || idx >= len(v) {
				return nil, fmt.Errorf("index %q out of range at %q", key, strings.Join(parts[:i], "."))
			}
			node = v[idx]
		default:
			return nil, fmt.Errorf("%q is a %T, not a section", strings.Join(parts[:i], "."), node)
		}
	}
	return node, nil
}

// SetByPath writes a leaf value. String input is coerced to the type the
// leaf already holds, so "500" stays a string for apiKey but becomes a
// number for history.maxMessages. Only the providers map accepts new keys.
func SetByPath(cfg *Config, path string, value any) error {
	parts, err := splitPath(path)
	if err != nil {
		return err
	}
	m, err := tree(cfg)
	if err != nil {
		return err
	}

	section := m
	for i, key := range parts[:len(parts)-1] {
		next, ok := section[key]
		if !ok || next == nil {
			if i == 0 || parts[0] != "providers" {
				return fmt.Errorf("unknown config section %q", strings.Join(parts[:i+1], "."))
			}
			next = map[string]any{}
			section[key] = next
		}
		child, ok := next.(map[string]any)
		if !ok {
			return fmt.Errorf("%q is a %T, not a section", strings.Join(parts[:i+1], "."), next)
		}
		section = child
	}

	// omitempty leaves are absent until set; coerce guesses their type.
	leaf := parts[len(parts)-1]
	coerced, err := coerce(section[leaf], value)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	section[leaf] = coerced

	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	var updated Config
	if err := json.Unmarshal(data, &updated); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	*cfg = updated
	return nil
}

func coerce(current, value any) (any, error) {
	s, ok := value.(string)
	if !ok {
		return value, nil
	}
	switch current.(type) {
	case string:
		return s, nil
	case bool:
		b, err := strconv.ParseBool(s)
		if err != nil {
			return nil, fmt.Errorf("want true or false, got %q", s)
		}
		return b, nil
	case float64:
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, fmt.Errorf("want a number, got %q", s)
		}
		return f, nil
	case []any:
		var list []any
		for _, item := range strings.Split(s, ",") {
			if item = strings.TrimSpace(item); item != "" {
				list = append(list, item)
			}
		}
		return list, nil
	}
	return guess(s), nil
}

func guess(s string) any {
	if b, err := strconv.ParseBool(s); err == nil && (s == "true" || s == "false") {
		return b
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	return s
}

// Sanitize returns a deep copy of cfg with every credential masked.
func Sanitize(cfg *Config) *Config {
	m, err := tree(cfg)
	if err != nil {
		return cfg
	}
	data, _ := json.Marshal(m)
	var out Config
	if err := json.Unmarshal(data, &out); err != nil {
		return cfg
	}

	for name, p := range out.Providers {
		p.APIKey = mask(p.APIKey)
		out.Providers[name] = p
	}
	for _, secret := range []*string{
		&out.Telegram.Token,
		&out.Slack.BotToken,
		&out.Images.APIKey,
		&out.Videos.APIKey,
		&out.API.APIKey,
	} {
		*secret = mask(*secret)
	}
	return &out
}

// mask keeps four characters at each end of long secrets.
func mask(s string) string {
	switch {
	case s == "":
		return ""
	case len(s) <= 8:
		return "***"
	}
	return s[:4] + "****" + s[len(s)-4:]
}

// ListPaths flattens cfg into dotted leaf paths. Lists are leaves.
func ListPaths(cfg *Config) map[string]any {
	m, err := tree(cfg)
	if err != nil {
		return nil
	}
	out := make(map[string]any)
	var walk func(prefix string, node map[string]any)
	walk = func(prefix string, node map[string]any) {
		for k, v := range node {
			if prefix != "" {
				k = prefix + "." + k
			}
			if child, ok := v.(map[string]any); ok {
				walk(k, child)
				continue
			}
			out[k] = v
		}
	}
	walk("", m)
	return out
}
