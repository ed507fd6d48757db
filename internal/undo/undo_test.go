package undo

import (
	"testing"
	"time"
)

func mkUndoData() map[string]any {
	return map[string]any{
		KeyAction:          "remove_location",
		KeyPrevUpdateCount: 5,
		KeyPrevLastUpdated: "2025-01-15T10:30:00Z",
	}
}

func TestNewEntryRequiresCoreFields(t *testing.T) {
	now := time.Now().UTC()
	if _, err := NewEntry("", "weather", mkUndoData(), now); err == nil {
		t.Error("NewEntry() with empty event_id expected error, got nil")
	}
	if _, err := NewEntry("e1", "", mkUndoData(), now); err == nil {
		t.Error("NewEntry() with empty modality expected error, got nil")
	}
	if _, err := NewEntry("e1", "weather", map[string]any{}, now); err == nil {
		t.Error("NewEntry() with missing undo_data keys expected error, got nil")
	}
	if _, err := NewEntry("e1", "weather", mkUndoData(), now); err != nil {
		t.Errorf("NewEntry() with valid input error = %v", err)
	}
}

func TestPushClearsRedoStack(t *testing.T) {
	s := NewStack(0)
	e1, _ := NewEntry("e1", "weather", mkUndoData(), time.Now().UTC())
	e2, _ := NewEntry("e2", "weather", mkUndoData(), time.Now().UTC())

	s.Push(e1)
	popped := s.PopForUndo(1)
	if len(popped) != 1 {
		t.Fatalf("PopForUndo() returned %d entries, want 1", len(popped))
	}
	s.PushToRedo(popped[0])
	if !s.CanRedo() {
		t.Fatal("CanRedo() = false after PushToRedo")
	}

	s.Push(e2)
	if s.CanRedo() {
		t.Error("CanRedo() = true after Push; redo stack should clear on new push")
	}
}

func TestPopForUndoReturnsMostRecentFirst(t *testing.T) {
	s := NewStack(0)
	e1, _ := NewEntry("e1", "weather", mkUndoData(), time.Now().UTC())
	e2, _ := NewEntry("e2", "weather", mkUndoData(), time.Now().UTC())
	e3, _ := NewEntry("e3", "weather", mkUndoData(), time.Now().UTC())
	s.Push(e1)
	s.Push(e2)
	s.Push(e3)

	got := s.PopForUndo(2)
	if len(got) != 2 || got[0].EventID != "e3" || got[1].EventID != "e2" {
		t.Errorf("PopForUndo(2) = %v, want [e3 e2]", got)
	}
	if s.UndoCount() != 1 {
		t.Errorf("UndoCount() = %d, want 1", s.UndoCount())
	}
}

func TestPopForUndoShorterThanRequestedWhenStackSmall(t *testing.T) {
	s := NewStack(0)
	e1, _ := NewEntry("e1", "weather", mkUndoData(), time.Now().UTC())
	s.Push(e1)

	got := s.PopForUndo(5)
	if len(got) != 1 {
		t.Errorf("PopForUndo(5) on 1-entry stack returned %d, want 1", len(got))
	}
}

func TestMaxSizeEvictsOldestOnPush(t *testing.T) {
	s := NewStack(2)
	e1, _ := NewEntry("e1", "weather", mkUndoData(), time.Now().UTC())
	e2, _ := NewEntry("e2", "weather", mkUndoData(), time.Now().UTC())
	e3, _ := NewEntry("e3", "weather", mkUndoData(), time.Now().UTC())

	s.Push(e1)
	s.Push(e2)
	evicted := s.Push(e3)

	if evicted == nil || evicted.EventID != "e1" {
		t.Errorf("Push() eviction = %v, want e1", evicted)
	}
	if s.UndoCount() != 2 {
		t.Errorf("UndoCount() = %d, want 2", s.UndoCount())
	}
}

func TestRedoRoundTrip(t *testing.T) {
	s := NewStack(0)
	e1, _ := NewEntry("e1", "email", mkUndoData(), time.Now().UTC())
	s.Push(e1)

	undone := s.PopForUndo(1)
	s.PushToRedo(undone[0])

	redone := s.PopForRedo(1)
	if len(redone) != 1 || redone[0].EventID != "e1" {
		t.Errorf("PopForRedo() = %v, want [e1]", redone)
	}
	if s.CanRedo() {
		t.Error("CanRedo() = true after draining redo stack")
	}
}

func TestClearEmptiesBothStacks(t *testing.T) {
	s := NewStack(0)
	e1, _ := NewEntry("e1", "weather", mkUndoData(), time.Now().UTC())
	s.Push(e1)
	s.PopForUndo(1)

	s.Push(e1)
	s.Clear()

	if s.CanUndo() || s.CanRedo() {
		t.Error("Clear() left entries in undo or redo stack")
	}
}

func TestSummaryAggregatesByModality(t *testing.T) {
	s := NewStack(0)
	e1, _ := NewEntry("e1", "weather", mkUndoData(), time.Now().UTC())
	e2, _ := NewEntry("e2", "email", mkUndoData(), time.Now().UTC())
	s.Push(e1)
	s.Push(e2)

	sum := s.UndoSummary()
	if sum.Count != 2 {
		t.Errorf("UndoSummary().Count = %d, want 2", sum.Count)
	}
	if sum.ByModality["weather"] != 1 || sum.ByModality["email"] != 1 {
		t.Errorf("UndoSummary().ByModality = %+v", sum.ByModality)
	}
}
