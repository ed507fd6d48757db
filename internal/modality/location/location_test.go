package location

import (
	"testing"
	"time"
)

func TestApplyRecordsFixAndHistory(t *testing.T) {
	s := New()
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	_, err := s.Apply(map[string]any{"latitude": 51.5, "longitude": -0.1, "address": "London"}, now)
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if s.UpdateCount() != 1 {
		t.Errorf("UpdateCount() = %d, want 1", s.UpdateCount())
	}

	later := now.Add(time.Hour)
	_, err = s.Apply(map[string]any{"latitude": 48.8, "longitude": 2.3, "address": "Paris"}, later)
	if err != nil {
		t.Fatalf("Apply() second error = %v", err)
	}

	snap := s.Snapshot()
	if snap["current_address"] != "Paris" {
		t.Errorf("current_address = %v, want Paris", snap["current_address"])
	}
	history := snap["location_history"].([]Fix)
	if len(history) != 1 || history[0].Address != "London" {
		t.Errorf("location_history = %v, want [London]", history)
	}
}

func TestApplyRejectsMissingCoordinates(t *testing.T) {
	s := New()
	_, err := s.Apply(map[string]any{"latitude": 1.0}, time.Now())
	if err == nil {
		t.Fatal("Apply() with missing longitude expected error, got nil")
	}
}

func TestApplyUndoRestoresPreviousFix(t *testing.T) {
	s := New()
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	undoData1, err := s.Apply(map[string]any{"latitude": 51.5, "longitude": -0.1, "address": "London"}, now)
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	undoData2, err := s.Apply(map[string]any{"latitude": 48.8, "longitude": 2.3, "address": "Paris"}, now.Add(time.Hour))
	if err != nil {
		t.Fatalf("Apply() second error = %v", err)
	}
	_ = undoData1

	if err := s.ApplyUndo(undoData2); err != nil {
		t.Fatalf("ApplyUndo() error = %v", err)
	}
	snap := s.Snapshot()
	if snap["current_address"] != "London" {
		t.Errorf("current_address after undo = %v, want London", snap["current_address"])
	}
	if s.UpdateCount() != 1 {
		t.Errorf("UpdateCount() after undo = %d, want 1", s.UpdateCount())
	}
}

func TestApplyUndoToEmptyPriorState(t *testing.T) {
	s := New()
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	undoData, err := s.Apply(map[string]any{"latitude": 51.5, "longitude": -0.1}, now)
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if err := s.ApplyUndo(undoData); err != nil {
		t.Fatalf("ApplyUndo() error = %v", err)
	}
	snap := s.Snapshot()
	if snap["current_latitude"] != nil {
		t.Errorf("current_latitude after undo-to-empty = %v, want nil", snap["current_latitude"])
	}
	if s.UpdateCount() != 0 {
		t.Errorf("UpdateCount() after undo-to-empty = %d, want 0", s.UpdateCount())
	}
}

func TestQueryLimitsHistory(t *testing.T) {
	s := New()
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		if _, err := s.Apply(map[string]any{"latitude": float64(i), "longitude": float64(i)}, now.Add(time.Duration(i)*time.Hour)); err != nil {
			t.Fatalf("Apply(%d) error = %v", i, err)
		}
	}

	out, err := s.Query(map[string]any{"limit": 1})
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	history := out["location_history"].([]Fix)
	if len(history) != 1 {
		t.Fatalf("Query(limit=1) history length = %d, want 1", len(history))
	}
}
