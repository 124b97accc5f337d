package instrument

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultPolicyCompletenessConvention(t *testing.T) {
	policy := DefaultPolicy()
	if got := policy.CompletenessField("sleep_diary"); got != "sleep_diary_complete" {
		t.Fatalf("unexpected completeness field %q", got)
	}
	if got := policy.CompletenessField("anything_else"); got != "anything_else_complete" {
		t.Fatalf("unexpected fallback %q", got)
	}
	if got := policy.DateField("sleep_diary"); got != "sleep_date" {
		t.Fatalf("unexpected date field %q", got)
	}
	if got := policy.DateField("unconfigured"); got != "" {
		t.Fatalf("expected empty date field, got %q", got)
	}
}

func TestLoadEmptyPathUsesDefaults(t *testing.T) {
	policy, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if policy.Sleep.MinCorrelationOverlap != 5 {
		t.Fatalf("unexpected default overlap %d", policy.Sleep.MinCorrelationOverlap)
	}
	if policy.Adherence.HighThreshold != 0.8 || policy.Adherence.LowThreshold != 0.5 {
		t.Fatalf("unexpected default thresholds %+v", policy.Adherence)
	}
}

func TestLoadMissingFileReturnsZeroPolicy(t *testing.T) {
	policy, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err == nil {
		t.Fatal("expected error for missing policy file")
	}
	if policy.Sleep.Instrument != "" || len(policy.Instruments) != 0 {
		t.Fatalf("expected zero policy alongside the error, got %+v", policy)
	}
}

func TestLoadAppliesOverridesAndDefaults(t *testing.T) {
	content := []byte(`
instruments:
  weekly_checkin:
    completeness_field: checkin_done
    date_field: checkin_date
sleep:
  instrument: weekly_checkin
  duration_field: hours_slept
`)
	path := filepath.Join(t.TempDir(), "policy.yaml")
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatalf("failed to write policy file: %v", err)
	}

	policy, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := policy.CompletenessField("weekly_checkin"); got != "checkin_done" {
		t.Fatalf("unexpected completeness override %q", got)
	}
	if policy.Sleep.DurationField != "hours_slept" {
		t.Fatalf("unexpected duration field %q", policy.Sleep.DurationField)
	}
	// Unset tunables fall back to the built-in defaults.
	if policy.Sleep.MinCorrelationOverlap != 5 {
		t.Fatalf("expected default overlap, got %d", policy.Sleep.MinCorrelationOverlap)
	}
	if policy.Adherence.Instrument != "medication_log" {
		t.Fatalf("expected default adherence policy, got %q", policy.Adherence.Instrument)
	}
}

func TestLoadRejectsPolicyWithoutInstruments(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	if err := os.WriteFile(path, []byte("demographics: {}\n"), 0o644); err != nil {
		t.Fatalf("failed to write policy file: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for empty instrument list")
	}
}
