package engine

import (
	"testing"
	"time"

	"github.com/corvid-labs/envsim/internal/event"
	"github.com/corvid-labs/envsim/internal/modality"
	"github.com/corvid-labs/envsim/internal/modality/location"
)

func newTestEngine(t *testing.T) (*Engine, time.Time) {
	t.Helper()
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	e := New(start, modality.NewRegistry(location.New()))
	if _, err := e.Start(false, 1.0); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	return e, start
}

func fixPayload(lat, lon float64) map[string]any {
	return map[string]any{"latitude": lat, "longitude": lon}
}

func TestScheduleRejectsUnknownModality(t *testing.T) {
	e, start := newTestEngine(t)
	_, err := e.Schedule(event.Request{
		ScheduledTime: start.Add(time.Minute),
		Modality:      "carrier-pigeon",
		Payload:       map[string]any{},
	})
	if err == nil {
		t.Fatal("Schedule() expected error for unknown modality")
	}
}

func TestScheduleRejectsInvalidPayload(t *testing.T) {
	e, start := newTestEngine(t)
	_, err := e.Schedule(event.Request{
		ScheduledTime: start.Add(time.Minute),
		Modality:      "location",
		Payload:       map[string]any{"latitude": "not-a-number"},
	})
	if err == nil {
		t.Fatal("Schedule() expected error for invalid payload")
	}
}

func TestAdvanceExecutesDueEventAndRecordsUndo(t *testing.T) {
	e, start := newTestEngine(t)

	ev, err := e.Schedule(event.Request{
		ScheduledTime: start.Add(30 * time.Second),
		Modality:      "location",
		Payload:       fixPayload(37.0, -122.0),
	})
	if err != nil {
		t.Fatalf("Schedule() error = %v", err)
	}

	result, err := e.Advance(60)
	if err != nil {
		t.Fatalf("Advance() error = %v", err)
	}
	if result.EventsExecuted != 1 {
		t.Errorf("EventsExecuted = %d, want 1", result.EventsExecuted)
	}

	got := e.GetEvent(ev.ID)
	if got.Status != event.StatusExecuted {
		t.Errorf("event status = %q, want executed", got.Status)
	}

	summary := e.UndoSummary()
	if summary.Count != 1 {
		t.Errorf("undo summary count = %d, want 1", summary.Count)
	}
}

func TestAdvanceRequiresRunning(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	e := New(start, modality.NewRegistry(location.New()))

	if _, err := e.Advance(10); err == nil {
		t.Fatal("Advance() expected error when engine is stopped")
	}
}

func TestAdvanceRejectsWhenPaused(t *testing.T) {
	e, _ := newTestEngine(t)
	e.Environment().Clock().Pause()

	if _, err := e.Advance(10); err == nil {
		t.Fatal("Advance() expected error when clock is paused")
	}
}

func TestUndoRedoRoundTrip(t *testing.T) {
	e, start := newTestEngine(t)

	if _, err := e.Schedule(event.Request{
		ScheduledTime: start.Add(10 * time.Second),
		Modality:      "location",
		Payload:       fixPayload(1, 2),
	}); err != nil {
		t.Fatalf("Schedule() error = %v", err)
	}
	if _, err := e.Advance(20); err != nil {
		t.Fatalf("Advance() error = %v", err)
	}

	before, err := e.Environment().GetState("location")
	if err != nil {
		t.Fatalf("GetState() error = %v", err)
	}
	if before["state"].(map[string]any)["current_latitude"] != 1.0 {
		t.Fatalf("state before undo = %v, want latitude 1", before["state"])
	}

	undone, err := e.Undo(1)
	if err != nil {
		t.Fatalf("Undo() error = %v", err)
	}
	if len(undone) != 1 {
		t.Fatalf("Undo() processed %d events, want 1", len(undone))
	}

	after, _ := e.Environment().GetState("location")
	if after["state"].(map[string]any)["current_latitude"] != nil {
		t.Fatalf("state after undo = %v, want no current fix", after["state"])
	}

	redone, err := e.Redo(1)
	if err != nil {
		t.Fatalf("Redo() error = %v", err)
	}
	if len(redone) != 1 {
		t.Fatalf("Redo() processed %d events, want 1", len(redone))
	}

	final, _ := e.Environment().GetState("location")
	if final["state"].(map[string]any)["current_latitude"] != 1.0 {
		t.Fatalf("state after redo = %v, want latitude 1", final["state"])
	}
}

func TestSetTimeSkipsInterveningPendingEvents(t *testing.T) {
	e, start := newTestEngine(t)

	ev, err := e.Schedule(event.Request{
		ScheduledTime: start.Add(5 * time.Second),
		Modality:      "location",
		Payload:       fixPayload(1, 2),
	})
	if err != nil {
		t.Fatalf("Schedule() error = %v", err)
	}

	result, err := e.SetTime(start.Add(time.Minute))
	if err != nil {
		t.Fatalf("SetTime() error = %v", err)
	}
	if result.SkippedEvents != 1 {
		t.Errorf("SkippedEvents = %d, want 1", result.SkippedEvents)
	}

	got := e.GetEvent(ev.ID)
	if got.Status != event.StatusSkipped {
		t.Errorf("event status = %q, want skipped", got.Status)
	}
}

func TestSetTimeRejectsBackwards(t *testing.T) {
	e, start := newTestEngine(t)
	if _, err := e.SetTime(start.Add(-time.Hour)); err == nil {
		t.Fatal("SetTime() expected error for a backwards target")
	}
}

func TestSkipToNextAdvancesToEarliestPendingEvent(t *testing.T) {
	e, start := newTestEngine(t)

	if _, err := e.Schedule(event.Request{
		ScheduledTime: start.Add(5 * time.Minute),
		Modality:      "location",
		Payload:       fixPayload(10, 20),
	}); err != nil {
		t.Fatalf("Schedule() error = %v", err)
	}

	result, err := e.SkipToNext()
	if err != nil {
		t.Fatalf("SkipToNext() error = %v", err)
	}
	if result.EventsExecuted != 1 {
		t.Errorf("EventsExecuted = %d, want 1", result.EventsExecuted)
	}
	if !result.CurrentTime.Equal(start.Add(5 * time.Minute)) {
		t.Errorf("CurrentTime = %v, want %v", result.CurrentTime, start.Add(5*time.Minute))
	}
}

func TestSkipToNextNotFoundWhenQueueEmpty(t *testing.T) {
	e, _ := newTestEngine(t)
	if _, err := e.SkipToNext(); err == nil {
		t.Fatal("SkipToNext() expected error when no events are pending")
	}
}

func TestCancelEventRemovesItFromPending(t *testing.T) {
	e, start := newTestEngine(t)
	ev, err := e.Schedule(event.Request{
		ScheduledTime: start.Add(time.Minute),
		Modality:      "location",
		Payload:       fixPayload(1, 1),
	})
	if err != nil {
		t.Fatalf("Schedule() error = %v", err)
	}

	if err := e.CancelEvent(ev.ID); err != nil {
		t.Fatalf("CancelEvent() error = %v", err)
	}
	if got := e.GetEvent(ev.ID); got.Status != event.StatusCancelled {
		t.Errorf("event status = %q, want cancelled", got.Status)
	}

	if _, err := e.Advance(120); err != nil {
		t.Fatalf("Advance() error = %v", err)
	}
	if got := e.GetEvent(ev.ID); got.Status != event.StatusCancelled {
		t.Errorf("cancelled event status changed to %q after advance", got.Status)
	}
}

func TestStopReportsExecutionCounts(t *testing.T) {
	e, start := newTestEngine(t)
	if _, err := e.Schedule(event.Request{
		ScheduledTime: start.Add(time.Second),
		Modality:      "location",
		Payload:       fixPayload(5, 5),
	}); err != nil {
		t.Fatalf("Schedule() error = %v", err)
	}
	if _, err := e.Advance(10); err != nil {
		t.Fatalf("Advance() error = %v", err)
	}

	result := e.Stop()
	if result.EventsExecuted != 1 {
		t.Errorf("EventsExecuted = %d, want 1", result.EventsExecuted)
	}
	if result.Status != StatusStopped {
		t.Errorf("Status = %q, want stopped", result.Status)
	}
}

func TestResetClearsExecutedStatusButKeepsEvents(t *testing.T) {
	e, start := newTestEngine(t)
	ev, err := e.Schedule(event.Request{
		ScheduledTime: start.Add(time.Second),
		Modality:      "location",
		Payload:       fixPayload(5, 5),
	})
	if err != nil {
		t.Fatalf("Schedule() error = %v", err)
	}
	if _, err := e.Advance(10); err != nil {
		t.Fatalf("Advance() error = %v", err)
	}

	reset := e.Reset()
	if reset != 1 {
		t.Errorf("Reset() reset %d events, want 1", reset)
	}
	if got := e.GetEvent(ev.ID); got.Status != event.StatusPending {
		t.Errorf("event status after reset = %q, want pending", got.Status)
	}
}

func TestClearRemovesAllEvents(t *testing.T) {
	e, start := newTestEngine(t)
	if _, err := e.Schedule(event.Request{
		ScheduledTime: start.Add(time.Second),
		Modality:      "location",
		Payload:       fixPayload(5, 5),
	}); err != nil {
		t.Fatalf("Schedule() error = %v", err)
	}

	result := e.Clear(nil)
	if result.EventsRemoved != 1 {
		t.Errorf("EventsRemoved = %d, want 1", result.EventsRemoved)
	}
	if e.Status().PendingEvents != 0 {
		t.Errorf("PendingEvents after clear = %d, want 0", e.Status().PendingEvents)
	}
}

func TestScheduleImmediateUsesMaxPriority(t *testing.T) {
	e, _ := newTestEngine(t)
	ev, err := e.ScheduleImmediate("location", fixPayload(9, 9), nil, "")
	if err != nil {
		t.Fatalf("ScheduleImmediate() error = %v", err)
	}
	if ev.Priority != event.PriorityImmediate {
		t.Errorf("Priority = %d, want %d", ev.Priority, event.PriorityImmediate)
	}
}

func TestAdvanceExecutesMultipleDueEventsInOrder(t *testing.T) {
	e, start := newTestEngine(t)

	first, err := e.Schedule(event.Request{
		ScheduledTime: start.Add(10 * time.Second),
		Modality:      "location",
		Payload:       fixPayload(1, 1),
	})
	if err != nil {
		t.Fatalf("Schedule() error = %v", err)
	}
	second, err := e.Schedule(event.Request{
		ScheduledTime: start.Add(20 * time.Second),
		Modality:      "location",
		Payload:       fixPayload(2, 2),
	})
	if err != nil {
		t.Fatalf("Schedule() error = %v", err)
	}

	result, err := e.Advance(30)
	if err != nil {
		t.Fatalf("Advance() error = %v", err)
	}
	if result.EventsExecuted != 2 {
		t.Errorf("EventsExecuted = %d, want 2", result.EventsExecuted)
	}
	if got := e.GetEvent(first.ID); got.Status != event.StatusExecuted {
		t.Errorf("first event status = %q, want executed", got.Status)
	}
	if got := e.GetEvent(second.ID); got.Status != event.StatusExecuted {
		t.Errorf("second event status = %q, want executed", got.Status)
	}

	state, err := e.Environment().GetState("location")
	if err != nil {
		t.Fatalf("GetState() error = %v", err)
	}
	if lat := state["state"].(map[string]any)["current_latitude"]; lat != 2.0 {
		t.Errorf("current_latitude = %v, want 2 (second event applied last)", lat)
	}
}

func TestExecuteNowAppliesImmediatelyWhenStopped(t *testing.T) {
	e, _ := newTestEngine(t)
	e.Stop()

	ev, err := e.ExecuteNow("location", fixPayload(5, 6), nil, "")
	if err != nil {
		t.Fatalf("ExecuteNow() error = %v", err)
	}
	if ev.Status != event.StatusExecuted {
		t.Errorf("Status = %q, want executed", ev.Status)
	}

	state, err := e.Environment().GetState("location")
	if err != nil {
		t.Fatalf("GetState() error = %v", err)
	}
	if lat := state["state"].(map[string]any)["current_latitude"]; lat != 5.0 {
		t.Errorf("current_latitude = %v, want 5", lat)
	}
}

func TestPauseResumeToggleIsPaused(t *testing.T) {
	e, _ := newTestEngine(t)

	if paused := e.Pause(); !paused {
		t.Error("Pause() = false, want true")
	}
	if !e.Time().IsPaused {
		t.Error("Time().IsPaused = false after Pause()")
	}
	if paused := e.Resume(); paused {
		t.Error("Resume() = true, want false")
	}
	if e.Time().IsPaused {
		t.Error("Time().IsPaused = true after Resume()")
	}
}

func TestSetTimeScaleRejectsNonPositive(t *testing.T) {
	e, _ := newTestEngine(t)
	if err := e.SetTimeScale(0); err == nil {
		t.Fatal("SetTimeScale(0) expected error")
	}
	if err := e.SetTimeScale(2.0); err != nil {
		t.Fatalf("SetTimeScale(2.0) error = %v", err)
	}
	if got := e.Time().TimeScale; got != 2.0 {
		t.Errorf("TimeScale = %v, want 2.0", got)
	}
}
