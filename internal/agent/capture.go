package agent

import (
	"maps"
	"slices"
	"strings"

	"agentdesk/internal/config"
	"agentdesk/internal/marker"
)

// OnboardingCompletedField is stored once a persona's confirm field is captured as "true".
const OnboardingCompletedField = "onboarding_completed"

// captureFields turns a [DATA: ...] payload into the context fields to
// store for p. Pair fields become "<field>:<name>" keys, vocabulary fields
// are lowercased and dropped when outside the allowed set, and aliases
// rename keys last. The confirm field is checked under its mined name.
// When an alias lands on a key that was also mined directly, the direct
// value wins. Among aliased sources the alphabetically first one wins.
func captureFields(p config.AgentProfile, payload string) map[string]string {
	mined := marker.ParseFields(payload, p.Data.Fields...)
	out := make(map[string]string, len(mined))
	aliased := make(map[string]string)

	for _, key := range slices.Sorted(maps.Keys(mined)) {
		value := mined[key]
		if slices.Contains(p.Data.Pairs, key) {
			name, v, ok := marker.SplitPair(value)
			if !ok {
				continue
			}
			out[key+":"+name] = v
			continue
		}

		if allowed, ok := p.Data.Allowed[key]; ok {
			v := strings.ToLower(value)
			if !slices.Contains(allowed, v) {
				continue
			}
			value = v
		}

		if alias, ok := p.Data.Aliases[key]; ok && alias != "" {
			if _, taken := aliased[alias]; !taken {
				aliased[alias] = value
			}
			continue
		}
		out[key] = value
	}
	for key, value := range aliased {
		if _, ok := out[key]; !ok {
			out[key] = value
		}
	}

	if f := p.Onboarding.ConfirmField; f != "" && strings.EqualFold(mined[f], "true") {
		out[OnboardingCompletedField] = "true"
	}
	return out
}

// videoDefaults fills in a video request from the persona's defaults and
// snaps the duration to the closest allowed value.
func videoDefaults(p config.AgentProfile, req marker.VideoRequest) marker.VideoRequest {
	if req.AspectRatio == "" {
		req.AspectRatio = p.Video.AspectRatio
	}
	if req.AspectRatio == "" {
		req.AspectRatio = "16:9"
	}
	if req.DurationSec <= 0 {
		req.DurationSec = p.Video.DurationSec
	}
	if allowed := p.Video.AllowedDurations; len(allowed) > 0 && req.DurationSec > 0 && !slices.Contains(allowed, req.DurationSec) {
		best := allowed[0]
		for _, d := range allowed[1:] {
			if abs(d-req.DurationSec) < abs(best-req.DurationSec) {
				best = d
			}
		}
		req.DurationSec = best
	}
	return req
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
