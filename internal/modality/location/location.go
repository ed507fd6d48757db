// Package location implements the location modality: a current fix plus
// an append-only history of prior fixes (spec §3.5).
package location

import (
	"fmt"
	"time"

	"github.com/corvid-labs/envsim/internal/apierr"
	"github.com/corvid-labs/envsim/internal/modality"
	"github.com/corvid-labs/envsim/internal/undo"
)

// Fix is a single location reading.
type Fix struct {
	Latitude      float64   `json:"lat"`
	Longitude     float64   `json:"lon"`
	Address       string    `json:"address,omitempty"`
	NamedLocation string    `json:"named_location,omitempty"`
	Altitude      *float64  `json:"altitude,omitempty"`
	Accuracy      *float64  `json:"accuracy,omitempty"`
	Speed         *float64  `json:"speed,omitempty"`
	Bearing       *float64  `json:"bearing,omitempty"`
	RecordedAt    time.Time `json:"recorded_at"`
}

// State is the location modality's in-memory model.
type State struct {
	current     *Fix
	history     []Fix
	updateCount int
	lastUpdated time.Time
}

// New creates an empty location State.
func New() *State {
	return &State{}
}

func (s *State) ModalityType() modality.Type { return modality.TypeLocation }
func (s *State) UpdateCount() int            { return s.updateCount }
func (s *State) LastUpdated() time.Time      { return s.lastUpdated }

// Validate checks payload's shape without applying it. Only "update" is
// a supported action for location.
func (s *State) Validate(payload map[string]any) error {
	action, _ := payload["action"].(string)
	if action != "" && action != "update" {
		return apierr.NewValidationf("location: unsupported action %q", action)
	}
	if _, ok := payload["latitude"].(float64); !ok {
		return apierr.NewValidation("location: latitude is required and must be a number")
	}
	if _, ok := payload["longitude"].(float64); !ok {
		return apierr.NewValidation("location: longitude is required and must be a number")
	}
	return nil
}

// Apply records a new fix, pushing the previous current fix (if any)
// onto history.
func (s *State) Apply(payload map[string]any, now time.Time) (map[string]any, error) {
	if err := s.Validate(payload); err != nil {
		return nil, err
	}

	prevCount, prevUpdated := s.updateCount, s.lastUpdated
	var prevFix *Fix
	if s.current != nil {
		f := *s.current
		prevFix = &f
	}

	fix := Fix{
		Latitude:   payload["latitude"].(float64),
		Longitude:  payload["longitude"].(float64),
		RecordedAt: now,
	}
	if v, ok := payload["address"].(string); ok {
		fix.Address = v
	}
	if v, ok := payload["named_location"].(string); ok {
		fix.NamedLocation = v
	}
	if v, ok := payload["altitude"].(float64); ok {
		fix.Altitude = &v
	}
	if v, ok := payload["accuracy"].(float64); ok {
		fix.Accuracy = &v
	}
	if v, ok := payload["speed"].(float64); ok {
		fix.Speed = &v
	}
	if v, ok := payload["bearing"].(float64); ok {
		fix.Bearing = &v
	}

	if s.current != nil {
		s.history = append(s.history, *s.current)
	}
	s.current = &fix
	s.updateCount++
	s.lastUpdated = now

	undoData := map[string]any{
		undo.KeyAction:          "restore_previous_fix",
		undo.KeyPrevUpdateCount: prevCount,
		undo.KeyPrevLastUpdated: prevUpdated,
		"had_previous_fix":      prevFix != nil,
	}
	if prevFix != nil {
		undoData["previous_fix"] = *prevFix
	}
	return undoData, nil
}

// ApplyUndo restores the prior current fix, popping it back off history
// if Apply had pushed it there.
func (s *State) ApplyUndo(undoData map[string]any) error {
	action, _ := undoData[undo.KeyAction].(string)
	if action != "restore_previous_fix" {
		return apierr.NewRuntimef("location: unknown undo action %q", action)
	}

	hadPrevious, _ := undoData["had_previous_fix"].(bool)
	if hadPrevious {
		prevFix, ok := undoData["previous_fix"].(Fix)
		if !ok {
			return apierr.NewRuntime("location: undo_data missing previous_fix")
		}
		s.current = &prevFix
		if n := len(s.history); n > 0 {
			s.history = s.history[:n-1]
		}
	} else {
		s.current = nil
	}

	count, ok := undoData[undo.KeyPrevUpdateCount].(int)
	if !ok {
		return apierr.NewRuntime("location: undo_data missing state_previous_update_count")
	}
	lastUpdated, ok := undoData[undo.KeyPrevLastUpdated].(time.Time)
	if !ok {
		return apierr.NewRuntime("location: undo_data missing state_previous_last_updated")
	}
	s.updateCount = count
	s.lastUpdated = lastUpdated
	return nil
}

// ValidateState checks that the current fix and every historical fix
// carry coordinates within valid range.
func (s *State) ValidateState() []string {
	var errs []string
	check := func(label string, f Fix) {
		if f.Latitude < -90 || f.Latitude > 90 {
			errs = append(errs, fmt.Sprintf("location: %s latitude %v out of range", label, f.Latitude))
		}
		if f.Longitude < -180 || f.Longitude > 180 {
			errs = append(errs, fmt.Sprintf("location: %s longitude %v out of range", label, f.Longitude))
		}
	}
	if s.current != nil {
		check("current fix", *s.current)
	}
	for i, f := range s.history {
		check(fmt.Sprintf("history[%d]", i), f)
	}
	return errs
}

// Query returns the current fix, optionally with history bounded by
// "limit", "since", and "until" params.
func (s *State) Query(params map[string]any) (map[string]any, error) {
	out := s.Snapshot()

	history := s.history
	if since, ok := params["since"].(time.Time); ok {
		filtered := history[:0:0]
		for _, f := range history {
			if !f.RecordedAt.Before(since) {
				filtered = append(filtered, f)
			}
		}
		history = filtered
	}
	if until, ok := params["until"].(time.Time); ok {
		filtered := history[:0:0]
		for _, f := range history {
			if !f.RecordedAt.After(until) {
				filtered = append(filtered, f)
			}
		}
		history = filtered
	}
	if limit, ok := params["limit"].(int); ok && limit > 0 && limit < len(history) {
		history = history[len(history)-limit:]
	}
	out["location_history"] = history
	return out, nil
}

// Snapshot returns the complete current state.
func (s *State) Snapshot() map[string]any {
	out := map[string]any{
		"modality_type":    string(modality.TypeLocation),
		"update_count":     s.updateCount,
		"location_history": s.history,
	}
	if s.current != nil {
		out["current_latitude"] = s.current.Latitude
		out["current_longitude"] = s.current.Longitude
		out["current_address"] = s.current.Address
		out["current_fix"] = *s.current
	} else {
		out["current_latitude"] = nil
		out["current_longitude"] = nil
		out["current_address"] = nil
		out["current_fix"] = nil
	}
	if !s.lastUpdated.IsZero() {
		out["last_updated"] = s.lastUpdated
	}
	return out
}
