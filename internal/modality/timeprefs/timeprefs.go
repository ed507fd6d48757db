// Package timeprefs implements the time-preferences modality: a
// history of locale/format preferences with the latest as current
// (spec §3.7).
package timeprefs

import (
	"fmt"
	"time"

	"github.com/corvid-labs/envsim/internal/apierr"
	"github.com/corvid-labs/envsim/internal/modality"
	"github.com/corvid-labs/envsim/internal/undo"
)

// Preference is one recorded set of time-display preferences.
type Preference struct {
	Timezone   string    `json:"timezone"`
	Use24h     bool      `json:"use_24h"`
	DateFormat string    `json:"date_format,omitempty"`
	Locale     string    `json:"locale,omitempty"`
	WeekStart  string    `json:"week_start,omitempty"`
	RecordedAt time.Time `json:"recorded_at"`
}

// State is the time-preferences modality's in-memory model.
type State struct {
	history     []Preference
	updateCount int
	lastUpdated time.Time
}

// New creates an empty time-preferences State.
func New() *State {
	return &State{}
}

func (s *State) ModalityType() modality.Type { return modality.TypeTime }
func (s *State) UpdateCount() int            { return s.updateCount }
func (s *State) LastUpdated() time.Time      { return s.lastUpdated }

// Validate checks payload shape without applying it.
func (s *State) Validate(payload map[string]any) error {
	if _, ok := payload["timezone"].(string); !ok {
		return apierr.NewValidation("time: timezone is required and must be a string")
	}
	if tz, _ := payload["timezone"].(string); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return apierr.NewValidationf("time: unknown timezone %q", tz)
		}
	}
	return nil
}

// Apply records a new preference by appending it to history's tail,
// where it becomes the current preference.
func (s *State) Apply(payload map[string]any, now time.Time) (map[string]any, error) {
	if err := s.Validate(payload); err != nil {
		return nil, err
	}

	prevCount, prevUpdated := s.updateCount, s.lastUpdated

	pref := Preference{
		Timezone:   payload["timezone"].(string),
		RecordedAt: now,
	}
	if v, ok := payload["use_24h"].(bool); ok {
		pref.Use24h = v
	}
	if v, ok := payload["date_format"].(string); ok {
		pref.DateFormat = v
	}
	if v, ok := payload["locale"].(string); ok {
		pref.Locale = v
	}
	if v, ok := payload["week_start"].(string); ok {
		pref.WeekStart = v
	}

	s.history = append(s.history, pref)
	s.updateCount++
	s.lastUpdated = now

	return map[string]any{
		undo.KeyAction:          "remove_last_preference",
		undo.KeyPrevUpdateCount: prevCount,
		undo.KeyPrevLastUpdated: prevUpdated,
	}, nil
}

// ApplyUndo removes the most recently recorded preference.
func (s *State) ApplyUndo(undoData map[string]any) error {
	action, _ := undoData[undo.KeyAction].(string)
	if action != "remove_last_preference" {
		return apierr.NewRuntimef("time: unknown undo action %q", action)
	}
	if n := len(s.history); n > 0 {
		s.history = s.history[:n-1]
	}

	count, ok := undoData[undo.KeyPrevUpdateCount].(int)
	if !ok {
		return apierr.NewRuntime("time: undo_data missing state_previous_update_count")
	}
	lastUpdated, ok := undoData[undo.KeyPrevLastUpdated].(time.Time)
	if !ok {
		return apierr.NewRuntime("time: undo_data missing state_previous_last_updated")
	}
	s.updateCount = count
	s.lastUpdated = lastUpdated
	return nil
}

// ValidateState checks that recorded preferences carry a known timezone
// and that history is ordered oldest to newest.
func (s *State) ValidateState() []string {
	var errs []string
	var prev time.Time
	for i, pref := range s.history {
		if _, err := time.LoadLocation(pref.Timezone); err != nil {
			errs = append(errs, fmt.Sprintf("time: history[%d] has unknown timezone %q", i, pref.Timezone))
		}
		if i > 0 && pref.RecordedAt.Before(prev) {
			errs = append(errs, fmt.Sprintf("time: history[%d] recorded_at precedes history[%d]", i, i-1))
		}
		prev = pref.RecordedAt
	}
	return errs
}

// Query returns the current preference and full history.
func (s *State) Query(params map[string]any) (map[string]any, error) {
	return s.Snapshot(), nil
}

// Snapshot returns the complete current state.
func (s *State) Snapshot() map[string]any {
	out := map[string]any{
		"modality_type": string(modality.TypeTime),
		"update_count":  s.updateCount,
		"history":       s.history,
	}
	if n := len(s.history); n > 0 {
		out["current"] = s.history[n-1]
	} else {
		out["current"] = nil
	}
	return out
}
