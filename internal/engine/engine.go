// Package engine implements the simulator's orchestrator: it owns the
// Clock, the Environment, the event Queue, and the undo/redo Stack, and
// drives all state transitions through a single serialized entry point
// (spec §4.D, §5). Modeled on the teacher's internal/scheduler.Scheduler
// lifecycle (mutex-guarded running flag, WaitGroup-drained background
// worker) with the teacher's real-time timers replaced by a
// logical-clock-driven advance call.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/corvid-labs/envsim/internal/apierr"
	"github.com/corvid-labs/envsim/internal/clock"
	"github.com/corvid-labs/envsim/internal/environment"
	"github.com/corvid-labs/envsim/internal/event"
	"github.com/corvid-labs/envsim/internal/events"
	"github.com/corvid-labs/envsim/internal/modality"
	"github.com/corvid-labs/envsim/internal/queue"
	"github.com/corvid-labs/envsim/internal/undo"
)

// Status is the engine's coarse lifecycle state. The clock's own
// is_paused flag is an orthogonal overlay on top of StatusRunning.
type Status string

const (
	StatusStopped Status = "stopped"
	StatusRunning Status = "running"
)

// baseTick is the auto-advance worker's real-time polling interval.
const baseTick = 100 * time.Millisecond

// Engine is the simulator's single serialized entry point for every
// mutating operation. Every mutating method, and the status, time and
// undo-summary reads, lock mu for their duration; none call each other
// while holding it. GetEvent, ListEvents, EventsSummary and NextEvent
// delegate to the queue, which guards itself with its own lock.
type Engine struct {
	logger *slog.Logger
	bus    *events.Bus

	mu          sync.Mutex
	clock       *clock.Clock
	env         *environment.Environment
	queue       *queue.Queue
	undoStack   *undo.Stack
	status      Status
	autoAdvance bool
	startedAt   *time.Time

	eventsExecuted int
	eventsFailed   int

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// Option configures an Engine at construction time.
type Option func(*Engine)

// WithLogger overrides the default slog.Default() logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// WithBus overrides the default nil (no-op) event bus.
func WithBus(bus *events.Bus) Option {
	return func(e *Engine) { e.bus = bus }
}

// WithUndoMaxSize sets the undo/redo stack's FIFO eviction limit. 0
// (the default if unset) means unlimited.
func WithUndoMaxSize(maxSize int) Option {
	return func(e *Engine) { e.undoStack = undo.NewStack(maxSize) }
}

// New builds an Engine over a fresh Clock starting at startTime and a
// Registry of modality states. The engine starts stopped.
func New(startTime time.Time, registry *modality.Registry, opts ...Option) *Engine {
	c := clock.New(startTime)
	e := &Engine{
		logger:    slog.Default(),
		clock:     c,
		env:       environment.New(c, registry),
		queue:     queue.New(),
		undoStack: undo.NewStack(0),
		status:    StatusStopped,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Environment returns the engine's environment (read-only queries only;
// mutations must go through the engine's own methods).
func (e *Engine) Environment() *environment.Environment { return e.env }

func (e *Engine) publish(kind string, data map[string]any) {
	e.bus.Publish(events.Event{
		Timestamp: time.Now(),
		Source:    events.SourceEngine,
		Kind:      kind,
		Data:      data,
	})
}

// StartResult is the response shape for Start.
type StartResult struct {
	Status      Status
	CurrentTime time.Time
	AutoAdvance bool
	TimeScale   float64
}

// Start transitions the engine to running. Idempotent: starting an
// already-running engine is a no-op that returns the current state.
func (e *Engine) Start(autoAdvance bool, timeScale float64) (StartResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.status == StatusRunning {
		return StartResult{Status: e.status, CurrentTime: e.clock.Now(), AutoAdvance: e.autoAdvance, TimeScale: e.clock.TimeScale()}, nil
	}

	if timeScale > 0 {
		if err := e.clock.SetTimeScale(timeScale); err != nil {
			return StartResult{}, apierr.NewValidationf("start: %v", err)
		}
	}

	now := e.clock.Now()
	e.status = StatusRunning
	e.autoAdvance = autoAdvance
	e.startedAt = &now
	e.eventsExecuted = 0
	e.eventsFailed = 0

	if autoAdvance {
		e.stopCh = make(chan struct{})
		e.wg.Add(1)
		go e.autoAdvanceLoop(e.stopCh)
	}

	e.logger.Info("engine started", "auto_advance", autoAdvance, "time_scale", e.clock.TimeScale())
	e.publish(events.KindLifecycle, map[string]any{"status": string(e.status)})

	return StartResult{Status: e.status, CurrentTime: e.clock.Now(), AutoAdvance: autoAdvance, TimeScale: e.clock.TimeScale()}, nil
}

// StopResult is the response shape for Stop.
type StopResult struct {
	Status         Status
	FinalTime      time.Time
	TotalEvents    int
	EventsExecuted int
	EventsFailed   int
}

// Stop transitions the engine to stopped, halting the auto-advance
// worker if running. Idempotent.
func (e *Engine) Stop() StopResult {
	e.mu.Lock()
	if e.status != StatusRunning {
		result := StopResult{Status: e.status, FinalTime: e.clock.Now()}
		e.mu.Unlock()
		return result
	}
	e.status = StatusStopped
	stopCh := e.stopCh
	e.stopCh = nil
	total := e.queue.Len()
	result := StopResult{
		Status:         e.status,
		FinalTime:      e.clock.Now(),
		TotalEvents:    total,
		EventsExecuted: e.eventsExecuted,
		EventsFailed:   e.eventsFailed,
	}
	e.mu.Unlock()

	if stopCh != nil {
		close(stopCh)
	}
	e.wg.Wait()

	e.logger.Info("engine stopped", "final_time", result.FinalTime, "events_executed", result.EventsExecuted)
	e.publish(events.KindLifecycle, map[string]any{"status": string(e.status)})
	return result
}

// Reset stops the engine and resets every event's status back to
// pending, clearing executed_at/error_message. The clock, pause flag,
// and modality state are left untouched (see DESIGN.md's Open Question
// decision).
func (e *Engine) Reset() int {
	e.Stop()

	e.mu.Lock()
	defer e.mu.Unlock()
	cleared := e.queue.ResetStatuses()
	e.undoStack.Clear()
	e.logger.Info("engine reset", "events_reset", cleared)
	e.publish(events.KindLifecycle, map[string]any{"status": "reset"})
	return cleared
}

// ClearResult is the response shape for Clear.
type ClearResult struct {
	EventsRemoved     int
	ModalitiesCleared []string
	TimeReset         bool
	CurrentTime       time.Time
}

// Clear stops the engine, removes every event from the queue, clears
// both undo stacks, and optionally resets the clock to resetTimeTo. It
// does not clear modality state (no modality exposes a clear-all
// primitive in its State contract; ModalitiesCleared is reported empty
// to keep the response shape spec-compatible without implying an
// operation this simulator doesn't perform).
func (e *Engine) Clear(resetTimeTo *time.Time) ClearResult {
	e.Stop()

	e.mu.Lock()
	defer e.mu.Unlock()
	removed := e.queue.Clear()
	e.undoStack.Clear()

	timeReset := false
	if resetTimeTo != nil {
		if err := e.clock.Set(*resetTimeTo); err == nil {
			timeReset = true
		}
	}

	result := ClearResult{
		EventsRemoved:     removed,
		ModalitiesCleared: nil,
		TimeReset:         timeReset,
		CurrentTime:       e.clock.Now(),
	}
	e.logger.Info("engine cleared", "events_removed", removed, "time_reset", timeReset)
	e.publish(events.KindLifecycle, map[string]any{"status": "cleared"})
	return result
}

// StatusSnapshot is the response shape for GET /simulation/status.
type StatusSnapshot struct {
	IsRunning      bool
	CurrentTime    time.Time
	IsPaused       bool
	TimeScale      float64
	PendingEvents  int
	ExecutedEvents int
	FailedEvents   int
	NextEventTime  *time.Time
}

// Status returns a point-in-time snapshot of the engine's lifecycle and
// queue summary.
func (e *Engine) Status() StatusSnapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	summary := e.queue.Summary()
	return StatusSnapshot{
		IsRunning:      e.status == StatusRunning,
		CurrentTime:    e.clock.Now(),
		IsPaused:       e.clock.IsPaused(),
		TimeScale:      e.clock.TimeScale(),
		PendingEvents:  summary.ByStatus[event.StatusPending],
		ExecutedEvents: summary.ByStatus[event.StatusExecuted],
		FailedEvents:   summary.ByStatus[event.StatusFailed],
		NextEventTime:  summary.NextEventTime,
	}
}

// Schedule validates and inserts a new event. The modality must be
// registered and the payload must pass that modality's Validate, but
// the event is not applied until a subsequent advance reaches its
// scheduled_time.
func (e *Engine) Schedule(req event.Request) (*event.Event, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	state, err := e.env.Registry().Get(req.Modality)
	if err != nil {
		return nil, err
	}
	if err := state.Validate(req.Payload); err != nil {
		return nil, err
	}

	ev := event.New(req, e.clock.Now())
	if err := e.queue.Insert(ev, e.clock.Now()); err != nil {
		return nil, err
	}
	e.publish(events.KindScheduled, map[string]any{
		"event_id": ev.ID, "modality": ev.Modality,
		"scheduled_time": ev.ScheduledTime, "priority": ev.Priority,
	})
	return ev.Clone(), nil
}

// ScheduleImmediate builds and inserts a priority-100 event scheduled at
// the current instant. Execution still requires a subsequent advance,
// even by a fractional second.
func (e *Engine) ScheduleImmediate(modalityName string, payload, metadata map[string]any, agentID string) (*event.Event, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	state, err := e.env.Registry().Get(modalityName)
	if err != nil {
		return nil, err
	}
	if err := state.Validate(payload); err != nil {
		return nil, err
	}

	now := e.clock.Now()
	ev := event.NewImmediate(modalityName, payload, metadata, agentID, now)
	if err := e.queue.Insert(ev, now); err != nil {
		return nil, err
	}
	e.publish(events.KindScheduled, map[string]any{
		"event_id": ev.ID, "modality": ev.Modality,
		"scheduled_time": ev.ScheduledTime, "priority": ev.Priority,
	})
	return ev.Clone(), nil
}

// ExecuteNow builds a priority-100 event scheduled at the current
// instant, inserts it, and executes it synchronously before returning,
// independent of the engine's running/paused state. This backs the
// per-modality convenience routes (spec §6.1), which synthesize an
// event and report it already executed rather than leaving it pending
// for a later advance.
func (e *Engine) ExecuteNow(modalityName string, payload, metadata map[string]any, agentID string) (*event.Event, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	state, err := e.env.Registry().Get(modalityName)
	if err != nil {
		return nil, err
	}
	if err := state.Validate(payload); err != nil {
		return nil, err
	}

	now := e.clock.Now()
	ev := event.NewImmediate(modalityName, payload, metadata, agentID, now)
	if err := e.queue.Insert(ev, now); err != nil {
		return nil, err
	}
	e.publish(events.KindScheduled, map[string]any{
		"event_id": ev.ID, "modality": ev.Modality,
		"scheduled_time": ev.ScheduledTime, "priority": ev.Priority,
	})

	if !e.executeLocked(ev) {
		e.eventsFailed++
		return nil, apierr.NewRuntimef("convenience event %s failed to apply", ev.ID)
	}
	e.eventsExecuted++
	return e.queue.Get(ev.ID), nil
}

// CancelEvent cancels a pending event.
func (e *Engine) CancelEvent(id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.queue.Cancel(id); err != nil {
		return err
	}
	e.publish(events.KindCancelled, map[string]any{"event_id": id})
	return nil
}

// GetEvent returns the event with the given id, or nil if unknown.
func (e *Engine) GetEvent(id string) *event.Event {
	return e.queue.Get(id)
}

// ListEvents delegates to the queue's filtered listing.
func (e *Engine) ListEvents(filter queue.Filter) ([]*event.Event, int) {
	return e.queue.List(filter)
}

// EventsSummary delegates to the queue's summary.
func (e *Engine) EventsSummary() queue.Summary {
	return e.queue.Summary()
}

// NextEvent returns the earliest pending event, or nil.
func (e *Engine) NextEvent() *event.Event {
	return e.queue.PeekEarliestPending()
}

// TimeState is the response shape for GET /simulator/time.
type TimeState struct {
	CurrentTime time.Time
	TimeScale   float64
	IsPaused    bool
	AutoAdvance bool
}

// Time returns the current clock/pause/scale state without requiring
// the engine to be running.
func (e *Engine) Time() TimeState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return TimeState{
		CurrentTime: e.clock.Now(),
		TimeScale:   e.clock.TimeScale(),
		IsPaused:    e.clock.IsPaused(),
		AutoAdvance: e.autoAdvance,
	}
}

// Pause marks the clock paused, rejecting further Advance/auto-advance
// ticks until Resume. Idempotent.
func (e *Engine) Pause() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.clock.Pause()
	e.publish(events.KindLifecycle, map[string]any{"is_paused": true})
	return e.clock.IsPaused()
}

// Resume clears the clock's paused flag. Idempotent.
func (e *Engine) Resume() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.clock.Resume()
	e.publish(events.KindLifecycle, map[string]any{"is_paused": false})
	return e.clock.IsPaused()
}

// SetTimeScale changes the auto-advance worker's real-time-to-simulated
// ratio. Takes effect on the next tick.
func (e *Engine) SetTimeScale(scale float64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.clock.SetTimeScale(scale); err != nil {
		return apierr.NewValidationf("set_time_scale: %v", err)
	}
	return nil
}

// AdvanceResult is the response shape for Advance.
type AdvanceResult struct {
	CurrentTime    time.Time
	EventsExecuted int
	EventsFailed   int
}

// Advance moves the clock forward by seconds and synchronously executes
// every event whose scheduled_time falls within the new window, in
// (scheduled_time, -priority, insertion_sequence) order. Requires the
// engine to be running and not paused.
func (e *Engine) Advance(seconds float64) (AdvanceResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.advanceLocked(seconds)
}

func (e *Engine) advanceLocked(seconds float64) (AdvanceResult, error) {
	if e.status != StatusRunning {
		return AdvanceResult{}, apierr.NewStateConflict("advance: simulation is not running")
	}
	if e.clock.IsPaused() {
		return AdvanceResult{}, apierr.NewStateConflict("advance: simulation is paused")
	}

	newTime, err := e.clock.Advance(seconds)
	if err != nil {
		return AdvanceResult{}, apierr.NewValidationf("advance: %v", err)
	}

	executed, failed := e.runDue(newTime)
	return AdvanceResult{CurrentTime: newTime, EventsExecuted: executed, EventsFailed: failed}, nil
}

// SetTimeResult is the response shape for SetTime.
type SetTimeResult struct {
	CurrentTime    time.Time
	PreviousTime   time.Time
	SkippedEvents  int
	ExecutedEvents int
}

// SetTime jumps the clock directly to target. Unlike Advance, pending
// events at or before target are marked skipped, not executed —
// set_time is a discontinuous jump, not a continuous sweep.
func (e *Engine) SetTime(target time.Time) (SetTimeResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.status != StatusRunning {
		return SetTimeResult{}, apierr.NewStateConflict("set_time: simulation is not running")
	}

	previous := e.clock.Now()
	skipped := 0
	for {
		ev := e.queue.PeekEarliestPending()
		if ev == nil || ev.ScheduledTime.After(target) {
			break
		}
		if err := e.queue.MarkSkipped(ev.ID); err != nil {
			break
		}
		skipped++
		e.publish(events.KindSkipped, map[string]any{"event_id": ev.ID, "modality": ev.Modality})
	}

	if err := e.clock.Set(target); err != nil {
		return SetTimeResult{}, apierr.NewStateConflictf("set_time: %v", err)
	}

	return SetTimeResult{CurrentTime: target, PreviousTime: previous, SkippedEvents: skipped, ExecutedEvents: 0}, nil
}

// SkipToNextResult is the response shape for SkipToNext.
type SkipToNextResult struct {
	CurrentTime    time.Time
	EventsExecuted int
	NextEventTime  *time.Time
}

// SkipToNext advances the clock to the scheduled_time of the earliest
// pending event and executes every pending event sharing that exact
// instant. Fails with not-found when no pending event exists.
func (e *Engine) SkipToNext() (SkipToNextResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.status != StatusRunning {
		return SkipToNextResult{}, apierr.NewStateConflict("skip_to_next: simulation is not running")
	}
	next := e.queue.PeekEarliestPending()
	if next == nil {
		return SkipToNextResult{}, apierr.NewNotFound("skip_to_next: no pending events")
	}

	target := next.ScheduledTime
	if err := e.clock.Set(target); err != nil {
		return SkipToNextResult{}, apierr.NewStateConflictf("skip_to_next: %v", err)
	}

	executed, _ := e.runDue(target)
	summary := e.queue.Summary()
	return SkipToNextResult{CurrentTime: target, EventsExecuted: executed, NextEventTime: summary.NextEventTime}, nil
}

// runDue drains and executes every pending event with scheduled_time <=
// upto, in queue order, and must be called with mu held.
func (e *Engine) runDue(upto time.Time) (executed, failed int) {
	due := e.queue.DrainDue(upto)
	for _, ev := range due {
		if e.executeLocked(ev) {
			executed++
			e.eventsExecuted++
		} else {
			failed++
			e.eventsFailed++
		}
	}
	return executed, failed
}

// executeLocked runs the per-event execution algorithm (spec §4.B/§4.D):
// resolve modality, apply, package the undo entry, mark the event's
// terminal status. Must be called with mu held.
func (e *Engine) executeLocked(ev *event.Event) (ok bool) {
	state, err := e.env.Registry().Get(ev.Modality)
	if err != nil {
		e.failLocked(ev, err)
		return false
	}

	undoData, err := state.Apply(ev.Payload, ev.ScheduledTime)
	if err != nil {
		e.failLocked(ev, err)
		return false
	}

	entry, err := undo.NewEntry(ev.ID, ev.Modality, undoData, ev.ScheduledTime)
	if err != nil {
		e.failLocked(ev, err)
		return false
	}
	e.undoStack.Push(entry)

	if err := e.queue.MarkExecuted(ev.ID, ev.ScheduledTime); err != nil {
		e.logger.Error("mark executed failed", "event_id", ev.ID, "error", err)
	}
	e.logger.Debug("event executed", "event_id", ev.ID, "modality", ev.Modality)
	e.publish(events.KindExecuted, map[string]any{"event_id": ev.ID, "modality": ev.Modality, "executed_at": ev.ScheduledTime})
	return true
}

func (e *Engine) failLocked(ev *event.Event, err error) {
	if markErr := e.queue.MarkFailed(ev.ID, err.Error()); markErr != nil {
		e.logger.Error("mark failed failed", "event_id", ev.ID, "error", markErr)
	}
	e.logger.Warn("event failed", "event_id", ev.ID, "modality", ev.Modality, "error", err)
	e.publish(events.KindFailed, map[string]any{"event_id": ev.ID, "modality": ev.Modality, "error_message": err.Error()})
}

// Undo pops up to count entries from the undo stack, most recent first,
// and applies each one's apply_undo in turn. If any entry's apply_undo
// fails, the sequence halts: entries already processed remain undone,
// the failing entry and any remainder are restored to the undo stack in
// their original order, and the error is returned alongside whichever
// ids succeeded.
func (e *Engine) Undo(count int) ([]string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	popped := e.undoStack.PopForUndo(count)
	var processed []string
	for i, entry := range popped {
		state, err := e.env.Registry().Get(entry.Modality)
		if err == nil {
			err = state.ApplyUndo(entry.UndoData)
		}
		if err != nil {
			e.restoreUnprocessed(popped[i:])
			return processed, fmt.Errorf("undo: event %s: %w", entry.EventID, err)
		}
		if markErr := e.queue.MarkPending(entry.EventID); markErr != nil {
			e.logger.Warn("undo: mark pending failed", "event_id", entry.EventID, "error", markErr)
		}
		e.undoStack.PushToRedo(entry)
		processed = append(processed, entry.EventID)
		e.publish(events.KindUndone, map[string]any{"event_id": entry.EventID, "modality": entry.Modality, "action": entry.UndoData[undo.KeyAction]})
	}
	return processed, nil
}

// restoreUnprocessed pushes entries back onto the undo stack in their
// original (oldest-first) order, used when a batch undo is interrupted
// partway through.
func (e *Engine) restoreUnprocessed(remaining []*undo.Entry) {
	for i := len(remaining) - 1; i >= 0; i-- {
		e.undoStack.Push(remaining[i])
	}
}

// Redo pops up to count entries from the redo stack and re-executes
// their corresponding events via the per-event execution algorithm,
// producing fresh undo entries. Halts on the first re-execution failure,
// leaving the remainder on the redo stack.
func (e *Engine) Redo(count int) ([]string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	popped := e.undoStack.PopForRedo(count)
	var processed []string
	for i, entry := range popped {
		ev := e.queue.Get(entry.EventID)
		if ev == nil {
			e.restoreRedoRemainder(popped[i:])
			return processed, apierr.NewRuntimef("redo: event %s no longer exists", entry.EventID)
		}
		if !e.executeLocked(ev) {
			e.restoreRedoRemainder(popped[i:])
			return processed, apierr.NewRuntimef("redo: event %s failed to re-execute", entry.EventID)
		}
		processed = append(processed, entry.EventID)
		e.publish(events.KindRedone, map[string]any{"event_id": entry.EventID, "modality": entry.Modality})
	}
	return processed, nil
}

func (e *Engine) restoreRedoRemainder(remaining []*undo.Entry) {
	for i := len(remaining) - 1; i >= 0; i-- {
		e.undoStack.PushToRedo(remaining[i])
	}
}

// UndoSummary exposes the undo stack's depth and per-modality breakdown.
func (e *Engine) UndoSummary() undo.Summary {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.undoStack.UndoSummary()
}

// RedoSummary exposes the redo stack's depth and per-modality breakdown.
func (e *Engine) RedoSummary() undo.Summary {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.undoStack.RedoSummary()
}

// ValidateEnvironment runs the environment's cross-validation against
// the distinct modality names currently referenced by queued events.
func (e *Engine) ValidateEnvironment() (bool, []string) {
	e.mu.Lock()
	summary := e.queue.Summary()
	e.mu.Unlock()

	names := make([]string, 0, len(summary.ByModality))
	for name := range summary.ByModality {
		names = append(names, name)
	}
	errs := e.env.Validate(names)
	return len(errs) == 0, errs
}

// autoAdvanceLoop ticks the clock forward by base_tick*time_scale until
// stopCh is closed. It respects the pause flag by skipping ticks rather
// than advancing zero seconds (Advance requires seconds > 0).
func (e *Engine) autoAdvanceLoop(stopCh chan struct{}) {
	defer e.wg.Done()
	ticker := time.NewTicker(baseTick)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			e.mu.Lock()
			if e.status != StatusRunning || e.clock.IsPaused() {
				e.mu.Unlock()
				continue
			}
			scale := e.clock.TimeScale()
			seconds := baseTick.Seconds() * scale
			result, err := e.advanceLocked(seconds)
			e.mu.Unlock()
			if err != nil {
				continue
			}
			e.bus.Publish(events.Event{
				Timestamp: time.Now(),
				Source:    events.SourceClock,
				Kind:      events.KindTick,
				Data:      map[string]any{"current_time": result.CurrentTime, "delta_seconds": seconds},
			})
		}
	}
}

// Shutdown is a context-aware convenience wrapper around Stop, for
// callers (e.g. cmd/simserver) that want to honor a shutdown deadline.
func (e *Engine) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		e.Stop()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
