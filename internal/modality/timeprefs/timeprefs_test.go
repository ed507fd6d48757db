package timeprefs

import (
	"testing"
	"time"
)

func TestApplyRecordsPreferenceAsCurrent(t *testing.T) {
	s := New()
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	_, err := s.Apply(map[string]any{"timezone": "UTC", "use_24h": true}, now)
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}

	snap := s.Snapshot()
	current := snap["current"].(Preference)
	if current.Timezone != "UTC" || !current.Use24h {
		t.Errorf("current = %+v, want UTC/use_24h=true", current)
	}
}

func TestApplyRejectsUnknownTimezone(t *testing.T) {
	s := New()
	_, err := s.Apply(map[string]any{"timezone": "Not/AZone"}, time.Now())
	if err == nil {
		t.Fatal("Apply() with invalid timezone expected error, got nil")
	}
}

func TestApplyUndoRemovesLatestPreference(t *testing.T) {
	s := New()
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	_, err := s.Apply(map[string]any{"timezone": "UTC"}, now)
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	undoData, err := s.Apply(map[string]any{"timezone": "America/New_York"}, now.Add(time.Hour))
	if err != nil {
		t.Fatalf("Apply() second error = %v", err)
	}

	if err := s.ApplyUndo(undoData); err != nil {
		t.Fatalf("ApplyUndo() error = %v", err)
	}
	snap := s.Snapshot()
	current := snap["current"].(Preference)
	if current.Timezone != "UTC" {
		t.Errorf("current.Timezone after undo = %q, want UTC", current.Timezone)
	}
}
