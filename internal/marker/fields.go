package marker

import (
	"regexp"
	"strings"
)

var fieldPair = regexp.MustCompile(`([A-Za-z_][A-Za-z0-9_]*)="([^"]*)"`)

// ParseFields mines key="value" pairs out of a [DATA: ...] payload. The first
// non-blank value for each key wins and values are trimmed. When keys are
// given only those keys are returned.
func ParseFields(payload string, keys ...string) map[string]string {
	var want map[string]bool
	if len(keys) > 0 {
		want = make(map[string]bool, len(keys))
		for _, k := range keys {
			want[k] = true
		}
	}

	fields := make(map[string]string)
	for _, m := range fieldPair.FindAllStringSubmatch(payload, -1) {
		key, value := m[1], strings.TrimSpace(m[2])
		if value == "" {
			continue
		}
		if want != nil && !want[key] {
			continue
		}
		if _, seen := fields[key]; seen {
			continue
		}
		fields[key] = value
	}
	return fields
}

// SplitPair splits a compound value such as file_type="logo:png" on its
// first colon.
func SplitPair(value string) (string, string, bool) {
	left, right, ok := strings.Cut(value, ":")
	if !ok {
		return "", "", false
	}
	left, right = strings.TrimSpace(left), strings.TrimSpace(right)
	if left == "" || right == "" {
		return "", "", false
	}
	return left, right, true
}
