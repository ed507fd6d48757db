// Package calendar implements the calendar modality: events with an
// optional hand-rolled recurrence rule, recurrence-scope-aware
// update/delete, and occurrence expansion over a query window
// (spec §3.4, grounded on original_source's calendar_state.py/
// calendar_input.py).
package calendar

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/corvid-labs/envsim/internal/apierr"
	"github.com/corvid-labs/envsim/internal/modality"
	"github.com/corvid-labs/envsim/internal/undo"
)

// Frequency is a recurrence frequency.
type Frequency string

const (
	FrequencyDaily   Frequency = "daily"
	FrequencyWeekly  Frequency = "weekly"
	FrequencyMonthly Frequency = "monthly"
	FrequencyYearly  Frequency = "yearly"
)

// Rule is a small, hand-rolled recurrence rule: no RFC 5545 RRULE
// library is wired since the corpus carries none that parses one
// locally (emersion/go-webdav's caldav client talks to a live server
// and is out of scope; see DESIGN.md).
type Rule struct {
	Frequency Frequency      `json:"frequency"`
	Interval  int            `json:"interval"`
	Until     *time.Time     `json:"until,omitempty"`
	Count     *int           `json:"count,omitempty"`
	ByWeekday []time.Weekday `json:"by_weekday,omitempty"`
}

// Status is a calendar event's confirmation state.
type Status string

const (
	StatusConfirmed Status = "confirmed"
	StatusTentative Status = "tentative"
	StatusCancelled Status = "cancelled"
)

// Scope controls how an update/delete targets a recurring event's
// occurrences.
type Scope string

const (
	ScopeThis           Scope = "this"
	ScopeThisAndFuture  Scope = "this_and_future"
	ScopeAll            Scope = "all"
)

// Event is a single calendar event, possibly recurring.
type Event struct {
	ID                   string     `json:"event_id"`
	CalendarID           string     `json:"calendar_id"`
	Title                string     `json:"title"`
	Description          string     `json:"description,omitempty"`
	Location             string     `json:"location,omitempty"`
	StartTime            time.Time  `json:"start_time"`
	EndTime              time.Time  `json:"end_time"`
	AllDay               bool       `json:"all_day"`
	RecurrenceRule       *Rule      `json:"recurrence_rule,omitempty"`
	RecurrenceExceptions []string   `json:"recurrence_exceptions,omitempty"` // ISO dates
	Attendees            []string   `json:"attendees,omitempty"`
	Status               Status     `json:"status"`
}

const primaryCalendarID = "primary"

// State is the calendar modality's in-memory model.
type State struct {
	calendars   map[string]bool // calendar_id -> exists
	events      map[string]*Event
	updateCount int
	lastUpdated time.Time
}

// New creates an empty calendar State. The primary calendar is created
// lazily on first write, matching the original's auto-create behavior.
func New() *State {
	return &State{
		calendars: make(map[string]bool),
		events:    make(map[string]*Event),
	}
}

func (s *State) ModalityType() modality.Type { return modality.TypeCalendar }
func (s *State) UpdateCount() int            { return s.updateCount }
func (s *State) LastUpdated() time.Time      { return s.lastUpdated }

// Validate checks payload shape for the given action. It also coerces
// the JSON representation of time/rule/attendee fields (RFC3339
// strings, a plain map, a string array) into their native Go types in
// place, so a request arriving over HTTP and one built in-process both
// satisfy the same type assertions in Apply.
func (s *State) Validate(payload map[string]any) error {
	if err := coerceTime(payload, "start_time"); err != nil {
		return err
	}
	if err := coerceTime(payload, "end_time"); err != nil {
		return err
	}
	if err := coerceRule(payload, "recurrence_rule"); err != nil {
		return err
	}
	if err := coerceStringSlice(payload, "attendees"); err != nil {
		return err
	}

	action, _ := payload["action"].(string)
	switch action {
	case "", "create":
		if _, ok := payload["title"].(string); !ok {
			return apierr.NewValidation("calendar: title is required")
		}
		if _, ok := payload["start_time"].(time.Time); !ok {
			return apierr.NewValidation("calendar: start_time is required")
		}
		if _, ok := payload["end_time"].(time.Time); !ok {
			return apierr.NewValidation("calendar: end_time is required")
		}
	case "update", "delete":
		if _, ok := payload["event_id"].(string); !ok {
			return apierr.NewValidationf("calendar: event_id is required for %s", action)
		}
		scope, _ := payload["recurrence_scope"].(string)
		switch Scope(scope) {
		case "", ScopeThis, ScopeThisAndFuture, ScopeAll:
		default:
			return apierr.NewValidationf("calendar: unknown recurrence_scope %q", scope)
		}
		if Scope(scope) == ScopeThisAndFuture {
			if err := coerceTime(payload, "occurrence_date"); err != nil {
				return err
			}
		}
	default:
		return apierr.NewValidationf("calendar: unsupported action %q", action)
	}
	return nil
}

// Apply creates, updates, or deletes a calendar event.
func (s *State) Apply(payload map[string]any, now time.Time) (map[string]any, error) {
	if err := s.Validate(payload); err != nil {
		return nil, err
	}
	action, _ := payload["action"].(string)
	if action == "" {
		action = "create"
	}

	prevCount, prevUpdated := s.updateCount, s.lastUpdated

	switch action {
	case "create":
		return s.applyCreate(payload, now, prevCount, prevUpdated)
	case "update":
		return s.applyUpdate(payload, now, prevCount, prevUpdated)
	case "delete":
		return s.applyDelete(payload, now, prevCount, prevUpdated)
	}
	return nil, apierr.NewValidationf("calendar: unsupported action %q", action)
}

func (s *State) applyCreate(payload map[string]any, now time.Time, prevCount int, prevUpdated time.Time) (map[string]any, error) {
	calendarID, _ := payload["calendar_id"].(string)
	if calendarID == "" {
		calendarID = primaryCalendarID
	}
	s.calendars[calendarID] = true

	e := &Event{
		ID:         uuid.NewString(),
		CalendarID: calendarID,
		Title:      payload["title"].(string),
		StartTime:  payload["start_time"].(time.Time),
		EndTime:    payload["end_time"].(time.Time),
		Status:     StatusConfirmed,
	}
	if v, ok := payload["description"].(string); ok {
		e.Description = v
	}
	if v, ok := payload["location"].(string); ok {
		e.Location = v
	}
	if v, ok := payload["all_day"].(bool); ok {
		e.AllDay = v
	}
	if v, ok := payload["recurrence_rule"].(*Rule); ok {
		e.RecurrenceRule = v
	}
	if v, ok := payload["attendees"].([]string); ok {
		e.Attendees = v
	}

	s.events[e.ID] = e
	s.updateCount++
	s.lastUpdated = now

	return map[string]any{
		undo.KeyAction:          "remove_event",
		undo.KeyPrevUpdateCount: prevCount,
		undo.KeyPrevLastUpdated: prevUpdated,
		"event_id":              e.ID,
	}, nil
}

func scopeOf(payload map[string]any) Scope {
	scope, _ := payload["recurrence_scope"].(string)
	if scope == "" {
		return ScopeAll
	}
	return Scope(scope)
}

func (s *State) applyUpdate(payload map[string]any, now time.Time, prevCount int, prevUpdated time.Time) (map[string]any, error) {
	id := payload["event_id"].(string)
	e, ok := s.events[id]
	if !ok {
		return nil, apierr.NewNotFoundf("calendar: event %q not found", id)
	}
	scope := scopeOf(payload)

	switch scope {
	case ScopeAll, "":
		before := *e
		applyFields(e, payload)
		s.updateCount++
		s.lastUpdated = now
		return map[string]any{
			undo.KeyAction:          "restore_event",
			undo.KeyPrevUpdateCount: prevCount,
			undo.KeyPrevLastUpdated: prevUpdated,
			"event_id":              id,
			"previous_event":        before,
		}, nil

	case ScopeThis:
		occurrenceDate, ok := payload["occurrence_date"].(string)
		if !ok {
			return nil, apierr.NewValidation("calendar: occurrence_date is required for recurrence_scope=this")
		}
		override := *e
		override.ID = uuid.NewString()
		override.RecurrenceRule = nil
		applyFields(&override, payload)
		s.events[override.ID] = &override
		e.RecurrenceExceptions = append(e.RecurrenceExceptions, occurrenceDate)
		s.updateCount++
		s.lastUpdated = now
		return map[string]any{
			undo.KeyAction:          "remove_override_and_exception",
			undo.KeyPrevUpdateCount: prevCount,
			undo.KeyPrevLastUpdated: prevUpdated,
			"base_event_id":         id,
			"override_event_id":     override.ID,
			"occurrence_date":       occurrenceDate,
		}, nil

	case ScopeThisAndFuture:
		occurrenceDate, ok := payload["occurrence_date"].(time.Time)
		if !ok {
			return nil, apierr.NewValidation("calendar: occurrence_date is required for recurrence_scope=this_and_future")
		}
		if e.RecurrenceRule == nil {
			return nil, apierr.NewStateConflict("calendar: this_and_future requires a recurring event")
		}
		previousUntil := e.RecurrenceRule.Until
		capped := occurrenceDate.Add(-24 * time.Hour)
		e.RecurrenceRule.Until = &capped

		successor := *e
		successor.ID = uuid.NewString()
		successorRule := *e.RecurrenceRule
		successorRule.Until = previousUntil
		successor.RecurrenceRule = &successorRule
		successor.StartTime = occurrenceDate
		applyFields(&successor, payload)
		s.events[successor.ID] = &successor

		s.updateCount++
		s.lastUpdated = now
		return map[string]any{
			undo.KeyAction:          "remove_successor_and_restore_until",
			undo.KeyPrevUpdateCount: prevCount,
			undo.KeyPrevLastUpdated: prevUpdated,
			"base_event_id":         id,
			"successor_event_id":    successor.ID,
			"had_previous_until":    previousUntil != nil,
			"previous_until":        derefTime(previousUntil),
		}, nil
	}

	return nil, apierr.NewValidationf("calendar: unknown recurrence_scope %q", scope)
}

func (s *State) applyDelete(payload map[string]any, now time.Time, prevCount int, prevUpdated time.Time) (map[string]any, error) {
	id := payload["event_id"].(string)
	e, ok := s.events[id]
	if !ok {
		return nil, apierr.NewNotFoundf("calendar: event %q not found", id)
	}
	scope := scopeOf(payload)

	switch scope {
	case ScopeAll, "":
		before := *e
		delete(s.events, id)
		s.updateCount++
		s.lastUpdated = now
		return map[string]any{
			undo.KeyAction:          "restore_deleted_event",
			undo.KeyPrevUpdateCount: prevCount,
			undo.KeyPrevLastUpdated: prevUpdated,
			"event_id":              id,
			"previous_event":        before,
		}, nil

	case ScopeThis:
		occurrenceDate, ok := payload["occurrence_date"].(string)
		if !ok {
			return nil, apierr.NewValidation("calendar: occurrence_date is required for recurrence_scope=this")
		}
		e.RecurrenceExceptions = append(e.RecurrenceExceptions, occurrenceDate)
		s.updateCount++
		s.lastUpdated = now
		return map[string]any{
			undo.KeyAction:          "remove_exception",
			undo.KeyPrevUpdateCount: prevCount,
			undo.KeyPrevLastUpdated: prevUpdated,
			"event_id":              id,
			"occurrence_date":       occurrenceDate,
		}, nil

	case ScopeThisAndFuture:
		occurrenceDate, ok := payload["occurrence_date"].(time.Time)
		if !ok {
			return nil, apierr.NewValidation("calendar: occurrence_date is required for recurrence_scope=this_and_future")
		}
		if e.RecurrenceRule == nil {
			return nil, apierr.NewStateConflict("calendar: this_and_future requires a recurring event")
		}
		previousUntil := e.RecurrenceRule.Until
		capped := occurrenceDate.Add(-24 * time.Hour)
		e.RecurrenceRule.Until = &capped
		s.updateCount++
		s.lastUpdated = now
		return map[string]any{
			undo.KeyAction:          "restore_until",
			undo.KeyPrevUpdateCount: prevCount,
			undo.KeyPrevLastUpdated: prevUpdated,
			"event_id":              id,
			"had_previous_until":    previousUntil != nil,
			"previous_until":        derefTime(previousUntil),
		}, nil
	}

	return nil, apierr.NewValidationf("calendar: unknown recurrence_scope %q", scope)
}

func applyFields(e *Event, payload map[string]any) {
	if v, ok := payload["title"].(string); ok {
		e.Title = v
	}
	if v, ok := payload["description"].(string); ok {
		e.Description = v
	}
	if v, ok := payload["location"].(string); ok {
		e.Location = v
	}
	if v, ok := payload["start_time"].(time.Time); ok {
		e.StartTime = v
	}
	if v, ok := payload["end_time"].(time.Time); ok {
		e.EndTime = v
	}
	if v, ok := payload["status"].(string); ok {
		e.Status = Status(v)
	}
}

func derefTime(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}

// ApplyUndo reverses any of create/update/delete across all three
// recurrence scopes.
func (s *State) ApplyUndo(undoData map[string]any) error {
	action, _ := undoData[undo.KeyAction].(string)

	switch action {
	case "remove_event":
		id, ok := undoData["event_id"].(string)
		if !ok {
			return apierr.NewRuntime("calendar: undo_data missing event_id")
		}
		delete(s.events, id)

	case "restore_event":
		id, ok := undoData["event_id"].(string)
		if !ok {
			return apierr.NewRuntime("calendar: undo_data missing event_id")
		}
		prev, ok := undoData["previous_event"].(Event)
		if !ok {
			return apierr.NewRuntime("calendar: undo_data missing previous_event")
		}
		restored := prev
		s.events[id] = &restored

	case "restore_deleted_event":
		id, ok := undoData["event_id"].(string)
		if !ok {
			return apierr.NewRuntime("calendar: undo_data missing event_id")
		}
		prev, ok := undoData["previous_event"].(Event)
		if !ok {
			return apierr.NewRuntime("calendar: undo_data missing previous_event")
		}
		restored := prev
		s.events[id] = &restored

	case "remove_override_and_exception":
		baseID, _ := undoData["base_event_id"].(string)
		overrideID, _ := undoData["override_event_id"].(string)
		occurrenceDate, _ := undoData["occurrence_date"].(string)
		delete(s.events, overrideID)
		if base, ok := s.events[baseID]; ok {
			base.RecurrenceExceptions = removeString(base.RecurrenceExceptions, occurrenceDate)
		}

	case "remove_exception":
		id, _ := undoData["event_id"].(string)
		occurrenceDate, _ := undoData["occurrence_date"].(string)
		if e, ok := s.events[id]; ok {
			e.RecurrenceExceptions = removeString(e.RecurrenceExceptions, occurrenceDate)
		}

	case "remove_successor_and_restore_until":
		baseID, _ := undoData["base_event_id"].(string)
		successorID, _ := undoData["successor_event_id"].(string)
		hadPrevious, _ := undoData["had_previous_until"].(bool)
		previousUntil, _ := undoData["previous_until"].(time.Time)
		delete(s.events, successorID)
		if base, ok := s.events[baseID]; ok && base.RecurrenceRule != nil {
			if hadPrevious {
				base.RecurrenceRule.Until = &previousUntil
			} else {
				base.RecurrenceRule.Until = nil
			}
		}

	case "restore_until":
		id, _ := undoData["event_id"].(string)
		hadPrevious, _ := undoData["had_previous_until"].(bool)
		previousUntil, _ := undoData["previous_until"].(time.Time)
		if e, ok := s.events[id]; ok && e.RecurrenceRule != nil {
			if hadPrevious {
				e.RecurrenceRule.Until = &previousUntil
			} else {
				e.RecurrenceRule.Until = nil
			}
		}

	default:
		return apierr.NewRuntimef("calendar: unknown undo action %q", action)
	}

	count, ok := undoData[undo.KeyPrevUpdateCount].(int)
	if !ok {
		return apierr.NewRuntime("calendar: undo_data missing state_previous_update_count")
	}
	lastUpdated, ok := undoData[undo.KeyPrevLastUpdated].(time.Time)
	if !ok {
		return apierr.NewRuntime("calendar: undo_data missing state_previous_last_updated")
	}
	s.updateCount = count
	s.lastUpdated = lastUpdated
	return nil
}

func removeString(haystack []string, needle string) []string {
	out := haystack[:0:0]
	for _, s := range haystack {
		if s != needle {
			out = append(out, s)
		}
	}
	return out
}

// Query expands events within a window, materializing recurring
// occurrences when params["expand_recurring"] is true (default false
// returns raw event records only).
func (s *State) Query(params map[string]any) (map[string]any, error) {
	if err := coerceTime(params, "window_start"); err != nil {
		return nil, err
	}
	if err := coerceTime(params, "window_end"); err != nil {
		return nil, err
	}
	windowStart, hasStart := params["window_start"].(time.Time)
	windowEnd, hasEnd := params["window_end"].(time.Time)
	expand, _ := params["expand_recurring"].(bool)

	type occurrence struct {
		Event     *Event    `json:"event"`
		StartTime time.Time `json:"start_time"`
		EndTime   time.Time `json:"end_time"`
	}

	var occurrences []occurrence
	for _, e := range s.events {
		if e.RecurrenceRule == nil || !expand {
			if hasStart && e.EndTime.Before(windowStart) {
				continue
			}
			if hasEnd && e.StartTime.After(windowEnd) {
				continue
			}
			occurrences = append(occurrences, occurrence{Event: e, StartTime: e.StartTime, EndTime: e.EndTime})
			continue
		}

		duration := e.EndTime.Sub(e.StartTime)
		for _, start := range expandRule(e.StartTime, e.RecurrenceRule, windowStart, windowEnd, hasStart, hasEnd, e.RecurrenceExceptions) {
			occurrences = append(occurrences, occurrence{Event: e, StartTime: start, EndTime: start.Add(duration)})
		}
	}

	return map[string]any{
		"modality_type": string(modality.TypeCalendar),
		"occurrences":   occurrences,
	}, nil
}

// expandRule walks rule starting from the event's original start,
// skipping dates in exceptions, bounded by the rule's own until/count
// and optionally by a query window.
func expandRule(start time.Time, rule *Rule, windowStart, windowEnd time.Time, hasStart, hasEnd bool, exceptions []string) []time.Time {
	excluded := make(map[string]bool, len(exceptions))
	for _, d := range exceptions {
		excluded[d] = true
	}

	interval := rule.Interval
	if interval <= 0 {
		interval = 1
	}

	var out []time.Time
	cur := start
	count := 0
	maxIterations := 10000 // safety bound against pathological rules
	for i := 0; i < maxIterations; i++ {
		if rule.Until != nil && cur.After(*rule.Until) {
			break
		}
		if rule.Count != nil && count >= *rule.Count {
			break
		}
		if hasEnd && cur.After(windowEnd) {
			break
		}

		count++
		dateKey := cur.Format("2006-01-02")
		withinWindow := (!hasStart || !cur.Before(windowStart)) && (!hasEnd || !cur.After(windowEnd))
		if withinWindow && !excluded[dateKey] {
			out = append(out, cur)
		}

		cur = advance(cur, rule.Frequency, interval)
	}
	return out
}

func advance(t time.Time, freq Frequency, interval int) time.Time {
	switch freq {
	case FrequencyDaily:
		return t.AddDate(0, 0, interval)
	case FrequencyWeekly:
		return t.AddDate(0, 0, 7*interval)
	case FrequencyMonthly:
		return t.AddDate(0, interval, 0)
	case FrequencyYearly:
		return t.AddDate(interval, 0, 0)
	default:
		return t.AddDate(0, 0, interval)
	}
}

// ValidateState checks that every event's end is not before its start
// and that no recurring event's rule carries a negative interval.
func (s *State) ValidateState() []string {
	var errs []string
	for id, e := range s.events {
		if e.EndTime.Before(e.StartTime) {
			errs = append(errs, fmt.Sprintf("calendar: event %q ends before it starts", id))
		}
		if e.RecurrenceRule != nil && e.RecurrenceRule.Interval < 0 {
			errs = append(errs, fmt.Sprintf("calendar: event %q has a negative recurrence interval", id))
		}
	}
	return errs
}

// Snapshot returns every calendar event as stored, unexpanded.
func (s *State) Snapshot() map[string]any {
	events := make([]*Event, 0, len(s.events))
	for _, e := range s.events {
		events = append(events, e)
	}
	out := map[string]any{
		"modality_type": string(modality.TypeCalendar),
		"update_count":  s.updateCount,
		"events":        events,
	}
	if !s.lastUpdated.IsZero() {
		out["last_updated"] = s.lastUpdated
	}
	return out
}
