// Package queue implements the simulator's event queue: a time- and
// priority-ordered store of events supporting insert, peek/drain of due
// events, cancellation, lookup, and summary aggregation (spec §3/§4.C).
//
// The ordering key is (scheduled_time asc, priority desc,
// insertion_sequence asc) — ties on time are broken by priority, then by
// arrival order, for full determinism (spec's normative tie-break rule).
// Unlike the teacher's SQLite-backed scheduler.Store, this is a pure
// in-memory container/heap: the core has no I/O (spec §5).
package queue

import (
	"container/heap"
	"sync"
	"time"

	"github.com/corvid-labs/envsim/internal/apierr"
	"github.com/corvid-labs/envsim/internal/event"
)

// Queue exclusively owns Events; callers only ever see clones.
type Queue struct {
	mu       sync.Mutex
	byID     map[string]*event.Event
	pending  pendingHeap // heap of pending events only, lazily cleaned
	nextSeq  uint64
}

// New creates an empty Queue.
func New() *Queue {
	return &Queue{
		byID: make(map[string]*event.Event),
	}
}

// pendingHeap is a container/heap of pointers into Queue.byID, ordered by
// the normative tie-break key. Entries whose Status has moved away from
// Pending are skipped lazily on pop/peek rather than removed eagerly,
// which keeps cancel/execute O(1) at the cost of occasional heap
// housekeeping here.
type pendingHeap []*event.Event

func (h pendingHeap) Len() int { return len(h) }

func (h pendingHeap) Less(i, j int) bool {
	a, b := h[i], h[j]
	if !a.ScheduledTime.Equal(b.ScheduledTime) {
		return a.ScheduledTime.Before(b.ScheduledTime)
	}
	if a.Priority != b.Priority {
		return a.Priority > b.Priority // higher priority first
	}
	return a.InsertionSeq < b.InsertionSeq
}

func (h pendingHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *pendingHeap) Push(x any) { *h = append(*h, x.(*event.Event)) }

func (h *pendingHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}

// Insert adds an event to the queue, assigning its insertion_sequence.
// A pending event scheduled before the given "now" is rejected with a
// past-time conflict; non-pending events (used by reset) are never
// rejected.
func (q *Queue) Insert(e *event.Event, now time.Time) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if e.Status == event.StatusPending && e.ScheduledTime.Before(now) {
		return apierr.NewStateConflictf(
			"scheduled_time %s is before current time %s",
			e.ScheduledTime.Format(time.RFC3339), now.Format(time.RFC3339))
	}

	q.nextSeq++
	e.InsertionSeq = q.nextSeq
	q.byID[e.ID] = e
	if e.Status == event.StatusPending {
		heap.Push(&q.pending, e)
	}
	return nil
}

// cleanFront pops and discards heap-top entries that are no longer
// pending (cancelled/executed/etc. via a path other than pop), leaving
// the true earliest pending event (if any) at index 0.
func (q *Queue) cleanFront() {
	for q.pending.Len() > 0 && q.pending[0].Status != event.StatusPending {
		heap.Pop(&q.pending)
	}
}

// PeekEarliestPending returns a clone of the pending event with the
// smallest ordering key, or nil if none is pending.
func (q *Queue) PeekEarliestPending() *event.Event {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.cleanFront()
	if q.pending.Len() == 0 {
		return nil
	}
	return q.pending[0].Clone()
}

// DrainDue removes from the pending heap all pending events with
// scheduled_time <= upto and returns clones of them in ascending order.
// Their status is left pending; the caller (the engine) is responsible
// for transitioning each via MarkExecuted/MarkFailed/MarkSkipped as it
// is processed.
func (q *Queue) DrainDue(upto time.Time) []*event.Event {
	q.mu.Lock()
	defer q.mu.Unlock()

	// Heap order guarantees that once the top entry is past upto, every
	// remaining pending entry is too, so we can stop at the first miss.
	var due []*event.Event
	for q.pending.Len() > 0 {
		top := q.pending[0]
		if top.Status != event.StatusPending {
			heap.Pop(&q.pending)
			continue
		}
		if top.ScheduledTime.After(upto) {
			break
		}
		heap.Pop(&q.pending)
		due = append(due, top)
	}

	clones := make([]*event.Event, len(due))
	for i, e := range due {
		clones[i] = e.Clone()
	}
	return clones
}

// setStatus moves the event with the given id to a terminal status,
// removing it from future pending consideration. It is the caller's job
// to hold q.mu.
func (q *Queue) setStatus(id string, status event.Status, executedAt *time.Time, errMsg string) error {
	e, ok := q.byID[id]
	if !ok {
		return apierr.NewNotFoundf("event %q not found", id)
	}
	e.Status = status
	e.ExecutedAt = executedAt
	e.ErrorMessage = errMsg
	return nil
}

// MarkExecuted transitions a due event (returned by DrainDue or
// PeekEarliestPending) to executed.
func (q *Queue) MarkExecuted(id string, executedAt time.Time) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.setStatus(id, event.StatusExecuted, &executedAt, "")
}

// MarkFailed transitions a due event to failed, recording errMsg.
func (q *Queue) MarkFailed(id string, errMsg string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.setStatus(id, event.StatusFailed, nil, errMsg)
}

// MarkSkipped transitions a due event to skipped (used by set_time,
// which jumps over pending events without executing them).
func (q *Queue) MarkSkipped(id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.setStatus(id, event.StatusSkipped, nil, "")
}

// MarkPending reverts an executed/failed event back to pending (used by
// undo) and re-admits it to the pending heap.
func (q *Queue) MarkPending(id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	e, ok := q.byID[id]
	if !ok {
		return apierr.NewNotFoundf("event %q not found", id)
	}
	e.Status = event.StatusPending
	e.ExecutedAt = nil
	e.ErrorMessage = ""
	heap.Push(&q.pending, e)
	return nil
}

// Cancel marks a pending event cancelled. Cancelling a non-pending event
// is a state conflict.
func (q *Queue) Cancel(id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	e, ok := q.byID[id]
	if !ok {
		return apierr.NewNotFoundf("event %q not found", id)
	}
	if e.Status != event.StatusPending {
		return apierr.NewStateConflictf("cannot cancel event %q in status %q", id, e.Status)
	}
	e.Status = event.StatusCancelled
	return nil
}

// Get returns a clone of the event with the given id regardless of
// status (cancelled events remain addressable), or nil if unknown.
func (q *Queue) Get(id string) *event.Event {
	q.mu.Lock()
	defer q.mu.Unlock()
	e, ok := q.byID[id]
	if !ok {
		return nil
	}
	return e.Clone()
}

// Filter describes the optional constraints for List.
type Filter struct {
	Status    event.Status // empty = any
	Modality  string       // empty = any
	StartTime *time.Time
	EndTime   *time.Time
	Limit     int // 0 = unlimited
	Offset    int
}

// List returns clones of events matching filter, ordered by
// scheduled_time ascending, along with the total count before
// limit/offset are applied.
func (q *Queue) List(filter Filter) (events []*event.Event, total int) {
	q.mu.Lock()
	all := make([]*event.Event, 0, len(q.byID))
	for _, e := range q.byID {
		all = append(all, e)
	}
	q.mu.Unlock()

	sortByScheduleOrder(all)

	matched := make([]*event.Event, 0, len(all))
	for _, e := range all {
		if filter.Status != "" && e.Status != filter.Status {
			continue
		}
		if filter.Modality != "" && e.Modality != filter.Modality {
			continue
		}
		if filter.StartTime != nil && e.ScheduledTime.Before(*filter.StartTime) {
			continue
		}
		if filter.EndTime != nil && e.ScheduledTime.After(*filter.EndTime) {
			continue
		}
		matched = append(matched, e)
	}
	total = len(matched)

	offset := filter.Offset
	if offset > len(matched) {
		offset = len(matched)
	}
	matched = matched[offset:]
	if filter.Limit > 0 && filter.Limit < len(matched) {
		matched = matched[:filter.Limit]
	}

	events = make([]*event.Event, len(matched))
	for i, e := range matched {
		events[i] = e.Clone()
	}
	return events, total
}

func sortByScheduleOrder(events []*event.Event) {
	// Simple insertion sort is fine: lists are summary-sized, never the
	// hot scheduling path (that's the heap).
	for i := 1; i < len(events); i++ {
		for j := i; j > 0 && lessEvent(events[j], events[j-1]); j-- {
			events[j], events[j-1] = events[j-1], events[j]
		}
	}
}

func lessEvent(a, b *event.Event) bool {
	if !a.ScheduledTime.Equal(b.ScheduledTime) {
		return a.ScheduledTime.Before(b.ScheduledTime)
	}
	if a.Priority != b.Priority {
		return a.Priority > b.Priority
	}
	return a.InsertionSeq < b.InsertionSeq
}

// Summary aggregates queue contents by status and by modality.
type Summary struct {
	Total          int
	ByStatus       map[event.Status]int
	ByModality     map[string]int
	NextEventTime  *time.Time
}

// Summary returns totals by status, by modality, and the scheduled_time
// of the earliest pending event (nil if none).
func (q *Queue) Summary() Summary {
	q.mu.Lock()
	defer q.mu.Unlock()

	s := Summary{
		ByStatus:   make(map[event.Status]int),
		ByModality: make(map[string]int),
	}
	for _, e := range q.byID {
		s.Total++
		s.ByStatus[e.Status]++
		s.ByModality[e.Modality]++
	}

	q.cleanFront()
	if q.pending.Len() > 0 {
		t := q.pending[0].ScheduledTime
		s.NextEventTime = &t
	}
	return s
}

// ResetStatuses resets every non-pending event back to pending, clearing
// executed_at and error_message, and returns the count of events reset.
// It does not delete events (see spec §4.C).
func (q *Queue) ResetStatuses() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	count := 0
	for _, e := range q.byID {
		if e.Status != event.StatusPending {
			e.Status = event.StatusPending
			e.ExecutedAt = nil
			e.ErrorMessage = ""
			count++
		}
	}
	q.pending = q.pending[:0]
	for _, e := range q.byID {
		heap.Push(&q.pending, e)
	}
	return count
}

// Clear removes all events from the queue.
func (q *Queue) Clear() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := len(q.byID)
	q.byID = make(map[string]*event.Event)
	q.pending = nil
	return n
}

// Len returns the total number of events tracked (any status).
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.byID)
}
