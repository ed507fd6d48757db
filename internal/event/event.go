// Package event defines the simulator's Event record: an immutable
// description of a scheduled mutation of a single modality, plus its
// status lifecycle (see spec §3 Event).
package event

import (
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of an Event. Transitions form a DAG:
// Pending -> {Executed, Failed, Skipped, Cancelled}; Executed/Failed may
// be reset back to Pending by the engine's reset/undo operations.
type Status string

const (
	StatusPending   Status = "pending"
	StatusExecuted  Status = "executed"
	StatusFailed    Status = "failed"
	StatusSkipped   Status = "skipped"
	StatusCancelled Status = "cancelled"
)

// PriorityDefault is the priority assigned to events that do not specify
// one. PriorityImmediate is used by schedule_immediate.
const (
	PriorityDefault   = 50
	PriorityImmediate = 100
	PriorityMin       = 0
	PriorityMax       = 100
)

// Event is a single scheduled mutation of one modality. Events are
// exclusively owned by an internal/queue.Queue; callers receive
// read-only views.
type Event struct {
	ID            string         `json:"event_id"`
	ScheduledTime time.Time      `json:"scheduled_time"`
	CreatedAt     time.Time      `json:"created_at"`
	Modality      string         `json:"modality"`
	Payload       map[string]any `json:"payload"`
	Priority      int            `json:"priority"`
	Status        Status         `json:"status"`
	ExecutedAt    *time.Time     `json:"executed_at,omitempty"`
	ErrorMessage  string         `json:"error_message,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
	AgentID       string         `json:"agent_id,omitempty"`

	// InsertionSeq is assigned by the queue at insertion time and is the
	// final tie-break key in (scheduled_time, -priority, insertion_seq)
	// ordering. Zero until inserted.
	InsertionSeq uint64 `json:"insertion_sequence"`
}

// NewID generates a new event id. UUIDv7 is preferred for its natural
// chronological sortability; a v4 fallback covers the (practically
// unreachable) generation failure case.
func NewID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.New().String()
	}
	return id.String()
}

// Request is the caller-supplied shape for scheduling a new event (the
// HTTP layer and programmatic callers both build one of these).
type Request struct {
	ScheduledTime time.Time
	Modality      string
	Payload       map[string]any
	// Priority is a pointer so an explicit 0 (the valid, lowest priority
	// per spec) is distinguishable from an omitted field. Nil means
	// "use PriorityDefault".
	Priority *int
	Metadata map[string]any
	AgentID  string
}

// New builds an Event from a Request, assigning a fresh ID and
// CreatedAt. It does not validate scheduled_time against the clock or
// assign InsertionSeq — that is the queue's job on Insert.
func New(req Request, createdAt time.Time) *Event {
	priority := PriorityDefault
	if req.Priority != nil {
		priority = *req.Priority
	}
	return &Event{
		ID:            NewID(),
		ScheduledTime: req.ScheduledTime,
		CreatedAt:     createdAt,
		Modality:      req.Modality,
		Payload:       req.Payload,
		Priority:      priority,
		Status:        StatusPending,
		Metadata:      req.Metadata,
		AgentID:       req.AgentID,
	}
}

// NewImmediate builds an Event scheduled at "now" with priority 100, per
// spec §3/§4.D's definition of an immediate event. Execution still
// requires a subsequent clock advancement.
func NewImmediate(modality string, payload map[string]any, metadata map[string]any, agentID string, now time.Time) *Event {
	return &Event{
		ID:            NewID(),
		ScheduledTime: now,
		CreatedAt:     now,
		Modality:      modality,
		Payload:       payload,
		Priority:      PriorityImmediate,
		Status:        StatusPending,
		Metadata:      metadata,
		AgentID:       agentID,
	}
}

// Clone returns a deep-enough copy suitable for returning to callers
// without letting them mutate queue-owned state through map aliasing.
func (e *Event) Clone() *Event {
	if e == nil {
		return nil
	}
	clone := *e
	clone.Payload = cloneMap(e.Payload)
	clone.Metadata = cloneMap(e.Metadata)
	if e.ExecutedAt != nil {
		t := *e.ExecutedAt
		clone.ExecutedAt = &t
	}
	return &clone
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
