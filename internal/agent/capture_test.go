package agent

import (
	"testing"

	"agentdesk/internal/config"
	"agentdesk/internal/marker"
)

func builtin(t *testing.T, name string) config.AgentProfile {
	t.Helper()
	for _, p := range config.BuiltinProfiles() {
		if p.Name == name {
			return p
		}
	}
	t.Fatalf("no built-in profile %q", name)
	return config.AgentProfile{}
}

func TestCaptureFields_Whitelist(t *testing.T) {
	p := builtin(t, "briggs")
	got := captureFields(p, `skill_level="beginner" favourite_color="blue"`)
	if got["skill_level"] != "beginner" {
		t.Errorf("skill_level = %q", got["skill_level"])
	}
	if _, ok := got["favourite_color"]; ok {
		t.Error("fields outside the whitelist should be ignored")
	}
}

func TestCaptureFields_ConfirmMustBeTrue(t *testing.T) {
	p := builtin(t, "briggs")
	got := captureFields(p, `onboarding_confirmed="false"`)
	if _, ok := got[OnboardingCompletedField]; ok {
		t.Error("onboarding_completed set for a false confirmation")
	}
	got = captureFields(p, `onboarding_confirmed="TRUE"`)
	if got[OnboardingCompletedField] != "true" {
		t.Errorf("expected onboarding_completed, got %v", got)
	}
}

func TestCaptureFields_AliasedConfirmField(t *testing.T) {
	p := builtin(t, "briggs")
	p.Data.Aliases = map[string]string{"onboarding_confirmed": "confirmed"}

	got := captureFields(p, `onboarding_confirmed="true"`)
	if got["confirmed"] != "true" {
		t.Errorf("alias not applied: %v", got)
	}
	if got[OnboardingCompletedField] != "true" {
		t.Errorf("renaming the confirm field must not hide it: %v", got)
	}
}

func TestCaptureFields_AliasCollisionPrefersDirectKey(t *testing.T) {
	p := builtin(t, "iris")
	p.Data.Fields = append(p.Data.Fields, "services", "services_needed", "needs")
	p.Data.Aliases = map[string]string{"services": "services_needed", "needs": "services_needed"}

	for i := 0; i < 20; i++ {
		got := captureFields(p, `services="logo" services_needed="website" needs="seo"`)
		if got["services_needed"] != "website" {
			t.Fatalf("run %d: services_needed = %q, want the directly mined value", i, got["services_needed"])
		}
		if _, ok := got["services"]; ok {
			t.Fatalf("run %d: aliased key stored under its mined name: %v", i, got)
		}
	}

	for i := 0; i < 20; i++ {
		got := captureFields(p, `services="logo" needs="seo"`)
		if got["services_needed"] != "seo" {
			t.Fatalf("run %d: services_needed = %q, want the alphabetically first source", i, got["services_needed"])
		}
	}
}

func TestCaptureFields_MalformedPairSkipped(t *testing.T) {
	p := builtin(t, "iris")
	got := captureFields(p, `file_type="no-separator"`)
	if len(got) != 0 {
		t.Errorf("expected nothing captured, got %v", got)
	}
}

func TestCaptureFields_EmptyPayload(t *testing.T) {
	if got := captureFields(builtin(t, "briggs"), ""); len(got) != 0 {
		t.Errorf("expected empty map, got %v", got)
	}
}

func TestVideoDefaults(t *testing.T) {
	p := builtin(t, "kinetix")

	got := videoDefaults(p, marker.VideoRequest{Prompt: "x"})
	if got.AspectRatio != "16:9" || got.DurationSec != 30 {
		t.Errorf("defaults not applied: %+v", got)
	}

	got = videoDefaults(p, marker.VideoRequest{Prompt: "x", AspectRatio: "9:16", DurationSec: 100})
	if got.AspectRatio != "9:16" || got.DurationSec != 90 {
		t.Errorf("expected 9:16 / 90s, got %+v", got)
	}

	got = videoDefaults(p, marker.VideoRequest{Prompt: "x", DurationSec: 45})
	if got.DurationSec != 30 {
		t.Errorf("a tie should snap to the first allowed duration, got %d", got.DurationSec)
	}
}

func TestVideoDefaults_NoProfileDefaults(t *testing.T) {
	got := videoDefaults(config.AgentProfile{}, marker.VideoRequest{Prompt: "x", DurationSec: 7})
	if got.AspectRatio != "16:9" || got.DurationSec != 7 {
		t.Errorf("unexpected %+v", got)
	}
}
