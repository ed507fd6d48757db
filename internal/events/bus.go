// Package events provides a publish/subscribe event bus for engine
// observability. Events flow from the engine (schedule, execution,
// lifecycle, clock ticks) to subscribers (the websocket stream hub, the
// optional MQTT publisher). The bus is nil-safe: calling Publish on a
// nil *Bus is a no-op, so components do not need guard checks.
package events

import (
	"sync"
	"time"
)

// Source constants identify which component published an event.
const (
	// SourceEngine identifies events from the scheduler/engine.
	SourceEngine = "engine"
	// SourceClock identifies clock tick events from the auto-advance
	// worker.
	SourceClock = "clock"
)

// Kind constants describe the type of event within a source.
const (
	// KindScheduled signals a new event was accepted onto the queue.
	// Data: event_id, modality, scheduled_time, priority.
	KindScheduled = "schedule"
	// KindExecuted signals an event was applied successfully.
	// Data: event_id, modality, executed_at.
	KindExecuted = "execute"
	// KindFailed signals an event's apply raised a validation or
	// runtime error. Data: event_id, modality, error_message.
	KindFailed = "fail"
	// KindSkipped signals an event was marked skipped (jumped over by
	// set_time). Data: event_id, modality.
	KindSkipped = "skip"
	// KindCancelled signals a pending event was cancelled.
	// Data: event_id.
	KindCancelled = "cancel"
	// KindUndone signals an undo entry was applied in reverse.
	// Data: event_id, modality, action.
	KindUndone = "undo"
	// KindRedone signals a redo entry was re-executed.
	// Data: event_id, modality.
	KindRedone = "redo"
	// KindTick signals the auto-advance worker moved the clock forward.
	// Data: current_time, delta_seconds.
	KindTick = "tick"
	// KindLifecycle signals a start/stop/reset/clear transition
	// (Data: status) or a pause/resume (Data: is_paused).
	KindLifecycle = "lifecycle"
)

// Event represents a single operational event published by a component.
type Event struct {
	// Timestamp is when the event occurred.
	Timestamp time.Time `json:"ts"`
	// Source identifies the component that published the event.
	Source string `json:"source"`
	// Kind describes the type of event within the source.
	Kind string `json:"kind"`
	// Data holds event-specific key/value pairs.
	Data map[string]any `json:"data,omitempty"`
}

// Bus is a non-blocking broadcast event bus. Subscribers receive events
// on buffered channels; slow subscribers miss events rather than
// blocking publishers.
type Bus struct {
	mu   sync.RWMutex
	subs map[chan Event]struct{}
	// recvToSend maps the receive-only channel returned by Subscribe
	// back to the bidirectional channel stored in subs. This allows
	// Unsubscribe to accept <-chan Event (the caller's view) without
	// an illegal type conversion.
	recvToSend map[<-chan Event]chan Event
}

// New creates a new event bus ready for use.
func New() *Bus {
	return &Bus{
		subs:       make(map[chan Event]struct{}),
		recvToSend: make(map[<-chan Event]chan Event),
	}
}

// Publish sends an event to all subscribers. Non-blocking: if a
// subscriber's channel is full, the event is dropped for that
// subscriber. Safe to call on a nil receiver (no-op).
func (b *Bus) Publish(e Event) {
	if b == nil {
		return
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subs {
		select {
		case ch <- e:
		default:
			// Subscriber is full — drop the event rather than block.
		}
	}
}

// Subscribe returns a channel that receives published events. The
// caller must eventually call Unsubscribe to avoid resource leaks.
// bufSize controls the channel buffer; 64 is a reasonable default for
// WebSocket consumers.
func (b *Bus) Subscribe(bufSize int) <-chan Event {
	ch := make(chan Event, bufSize)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[ch] = struct{}{}
	b.recvToSend[ch] = ch
	return ch
}

// Unsubscribe removes a subscription and closes the channel. Safe to
// call with a channel that is already unsubscribed (no-op).
func (b *Bus) Unsubscribe(ch <-chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	sendCh, ok := b.recvToSend[ch]
	if !ok {
		return
	}
	delete(b.subs, sendCh)
	delete(b.recvToSend, ch)
	close(sendCh)
}

// SubscriberCount returns the number of active subscribers.
func (b *Bus) SubscriberCount() int {
	if b == nil {
		return 0
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
