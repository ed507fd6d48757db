// Package undo implements the simulator's undo/redo stack using the
// "Hybrid Targeted Memento" pattern: each executed event pushes a small,
// modality-specific snapshot (additive operations capture only an id,
// destructive operations capture the full prior object) sufficient to
// reverse that single state change (spec §3 Undo Entry / §4.E).
package undo

import (
	"time"

	"github.com/corvid-labs/envsim/internal/apierr"
)

// Required keys every undo_data map must carry, mirroring the
// original model's field_validator on undo_data.
const (
	KeyAction             = "action"
	KeyPrevUpdateCount    = "state_previous_update_count"
	KeyPrevLastUpdated    = "state_previous_last_updated"
)

// Entry captures the data needed to undo a single event execution.
type Entry struct {
	EventID     string         `json:"event_id"`
	Modality    string         `json:"modality"`
	UndoData    map[string]any `json:"undo_data"`
	ExecutedAt  time.Time      `json:"executed_at"`
}

// NewEntry validates and builds an Entry. undoData must already contain
// action, state_previous_update_count, and state_previous_last_updated;
// modalities are responsible for setting those alongside any
// operation-specific fields they add.
func NewEntry(eventID, modality string, undoData map[string]any, executedAt time.Time) (*Entry, error) {
	if eventID == "" {
		return nil, apierr.NewValidation("undo entry event_id cannot be empty")
	}
	if modality == "" {
		return nil, apierr.NewValidation("undo entry modality cannot be empty")
	}
	for _, key := range []string{KeyAction, KeyPrevUpdateCount, KeyPrevLastUpdated} {
		if _, ok := undoData[key]; !ok {
			return nil, apierr.NewValidationf("undo_data must contain %q field", key)
		}
	}
	return &Entry{
		EventID:    eventID,
		Modality:   modality,
		UndoData:   undoData,
		ExecutedAt: executedAt,
	}, nil
}

// Stack manages undo_entries/redo_entries with optional max_size FIFO
// eviction. Most-recent entries live at the end of each slice, matching
// the original model; PopForUndo/PopForRedo return most-recent-first.
//
// Stack is not safe for concurrent use on its own; the engine's single
// mutex (spec §5) serializes all access.
type Stack struct {
	undoEntries []*Entry
	redoEntries []*Entry
	maxSize     int // 0 means unlimited
}

// NewStack creates an empty Stack. maxSize <= 0 means unlimited.
func NewStack(maxSize int) *Stack {
	return &Stack{maxSize: maxSize}
}

// CanUndo reports whether at least one entry is available for undo.
func (s *Stack) CanUndo() bool { return len(s.undoEntries) > 0 }

// CanRedo reports whether at least one entry is available for redo.
func (s *Stack) CanRedo() bool { return len(s.redoEntries) > 0 }

// UndoCount returns the number of entries available for undo.
func (s *Stack) UndoCount() int { return len(s.undoEntries) }

// RedoCount returns the number of entries available for redo.
func (s *Stack) RedoCount() int { return len(s.redoEntries) }

// Push adds entry to the undo stack and clears the redo stack, since a
// fresh execution diverges from whatever timeline redo would replay.
// If max_size is exceeded, the oldest undo entry is evicted and
// returned; otherwise Push returns nil.
func (s *Stack) Push(entry *Entry) *Entry {
	s.redoEntries = nil
	s.undoEntries = append(s.undoEntries, entry)

	if s.maxSize > 0 && len(s.undoEntries) > s.maxSize {
		evicted := s.undoEntries[0]
		s.undoEntries = s.undoEntries[1:]
		return evicted
	}
	return nil
}

// PopForUndo removes and returns up to count entries from the undo
// stack, most recent first. It returns fewer than count if the stack
// has fewer entries, and never errors on an empty stack (an empty
// result is the caller's cue that there is nothing left to undo).
func (s *Stack) PopForUndo(count int) []*Entry {
	if count <= 0 {
		count = 1
	}
	n := min(count, len(s.undoEntries))
	out := make([]*Entry, n)
	for i := 0; i < n; i++ {
		last := len(s.undoEntries) - 1
		out[i] = s.undoEntries[last]
		s.undoEntries = s.undoEntries[:last]
	}
	return out
}

// PushToRedo adds entry to the redo stack after a successful undo,
// evicting the oldest redo entry if max_size is exceeded.
func (s *Stack) PushToRedo(entry *Entry) {
	s.redoEntries = append(s.redoEntries, entry)
	if s.maxSize > 0 && len(s.redoEntries) > s.maxSize {
		s.redoEntries = s.redoEntries[1:]
	}
}

// PopForRedo removes and returns up to count entries from the redo
// stack, most recently pushed first. Since undo pushes entries newest
// execution first, this yields them in their original execution order.
func (s *Stack) PopForRedo(count int) []*Entry {
	if count <= 0 {
		count = 1
	}
	n := min(count, len(s.redoEntries))
	out := make([]*Entry, n)
	for i := 0; i < n; i++ {
		last := len(s.redoEntries) - 1
		out[i] = s.redoEntries[last]
		s.redoEntries = s.redoEntries[:last]
	}
	return out
}

// PeekUndo returns the entry PopForUndo(1) would return, without
// removing it, or nil if the undo stack is empty.
func (s *Stack) PeekUndo() *Entry {
	if len(s.undoEntries) == 0 {
		return nil
	}
	return s.undoEntries[len(s.undoEntries)-1]
}

// PeekRedo returns the entry PopForRedo(1) would return, without
// removing it, or nil if the redo stack is empty.
func (s *Stack) PeekRedo() *Entry {
	if len(s.redoEntries) == 0 {
		return nil
	}
	return s.redoEntries[len(s.redoEntries)-1]
}

// Clear empties both stacks, used by the engine's reset/clear
// operations.
func (s *Stack) Clear() {
	s.undoEntries = nil
	s.redoEntries = nil
}

// ClearRedo empties only the redo stack.
func (s *Stack) ClearRedo() {
	s.redoEntries = nil
}

// Summary is a lightweight view of one stack's depth per modality, used
// by the status/undo-summary API routes.
type Summary struct {
	Count      int            `json:"count"`
	ByModality map[string]int `json:"by_modality,omitempty"`
}

// UndoSummary aggregates the undo stack by modality.
func (s *Stack) UndoSummary() Summary {
	return summarize(s.undoEntries)
}

// RedoSummary aggregates the redo stack by modality.
func (s *Stack) RedoSummary() Summary {
	return summarize(s.redoEntries)
}

func summarize(entries []*Entry) Summary {
	sum := Summary{ByModality: make(map[string]int)}
	for _, e := range entries {
		sum.ByModality[e.Modality]++
	}
	sum.Count = len(entries)
	return sum
}
