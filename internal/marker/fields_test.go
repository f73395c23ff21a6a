package marker_test

import (
	"testing"

	"agentdesk/internal/marker"
)

func TestParseFields_AllPairs(t *testing.T) {
	got := marker.ParseFields(`company_name="Acme Co" industry="retail" website="acme.test"`)
	if len(got) != 3 {
		t.Fatalf("expected 3 fields, got %v", got)
	}
	if got["company_name"] != "Acme Co" {
		t.Errorf("company_name = %q", got["company_name"])
	}
}

func TestParseFields_FilterKeys(t *testing.T) {
	got := marker.ParseFields(`skill_level="advanced" mood="happy"`, "skill_level", "preferred_industry")
	if len(got) != 1 || got["skill_level"] != "advanced" {
		t.Errorf("unexpected fields: %v", got)
	}
}

func TestParseFields_KeyIsNotSuffixMatched(t *testing.T) {
	got := marker.ParseFields(`preferred_industry="fintech"`, "industry")
	if len(got) != 0 {
		t.Errorf("industry should not match preferred_industry: %v", got)
	}
}

func TestParseFields_FirstOccurrenceWins(t *testing.T) {
	got := marker.ParseFields(`brand_tone="bold" brand_tone="calm"`)
	if got["brand_tone"] != "bold" {
		t.Errorf("brand_tone = %q, want bold", got["brand_tone"])
	}
}

func TestParseFields_SkipsBlankValues(t *testing.T) {
	got := marker.ParseFields(`website="  " website="acme.test"`)
	if got["website"] != "acme.test" {
		t.Errorf("website = %q", got["website"])
	}
}

func TestParseFields_Empty(t *testing.T) {
	got := marker.ParseFields("no pairs here")
	if got == nil || len(got) != 0 {
		t.Errorf("expected empty non-nil map, got %#v", got)
	}
}

func TestSplitPair(t *testing.T) {
	left, right, ok := marker.SplitPair("logo: png")
	if !ok || left != "logo" || right != "png" {
		t.Errorf("SplitPair = %q %q %v", left, right, ok)
	}
	if _, _, ok := marker.SplitPair("logo"); ok {
		t.Error("value without colon should not split")
	}
	if _, _, ok := marker.SplitPair(":png"); ok {
		t.Error("empty half should not split")
	}
}
