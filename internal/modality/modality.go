// Package modality defines the closed-set contract every simulated
// modality (email, sms, chat, calendar, location, weather, time
// preferences) implements, plus a name-keyed Registry the environment
// and engine use to dispatch events without a type switch per modality
// (spec §3 Modality State / §4.B).
package modality

import (
	"time"

	"github.com/corvid-labs/envsim/internal/apierr"
)

// Type names the seven modalities the simulator supports. New
// modalities are added here and to the Registry's construction site,
// never by type-asserting State elsewhere in the codebase.
type Type string

const (
	TypeEmail    Type = "email"
	TypeSMS      Type = "sms"
	TypeChat     Type = "chat"
	TypeCalendar Type = "calendar"
	TypeLocation Type = "location"
	TypeWeather  Type = "weather"
	TypeTime     Type = "time"
)

// All lists every known modality type, in a stable order used by
// /environment/modalities and full-environment snapshots.
var All = []Type{TypeEmail, TypeSMS, TypeChat, TypeCalendar, TypeLocation, TypeWeather, TypeTime}

// State is implemented by every modality's in-memory model. Apply and
// ApplyUndo are the only methods permitted to mutate state; Query and
// Snapshot must not.
type State interface {
	// ModalityType returns this state's fixed Type.
	ModalityType() Type

	// UpdateCount returns how many times Apply has successfully mutated
	// this state. Used as part of every undo entry's recorded
	// "previous" counters.
	UpdateCount() int

	// LastUpdated returns the simulated time of the most recent
	// successful Apply, or the zero time if never updated.
	LastUpdated() time.Time

	// Validate checks payload's shape and values without applying it.
	// Apply is expected to call Validate itself, but callers that want
	// to fail fast before scheduling an event may call it directly.
	Validate(payload map[string]any) error

	// Apply mutates state according to payload at the given simulated
	// time, and returns the undo_data needed to reverse the change.
	// The returned map always carries the three required keys
	// (internal/undo.KeyAction, KeyPrevUpdateCount, KeyPrevLastUpdated)
	// plus whatever additional fields this modality's undo action needs.
	Apply(payload map[string]any, now time.Time) (undoData map[string]any, err error)

	// ApplyUndo reverses the change described by undoData, restoring
	// update_count and last_updated to their previous values.
	ApplyUndo(undoData map[string]any) error

	// Query returns a read-only view of state, optionally narrowed by
	// query-specific parameters (e.g. a date range for calendar, a
	// thread id for chat). A nil or empty params map returns the
	// modality's default view.
	Query(params map[string]any) (map[string]any, error)

	// Snapshot returns a complete, JSON-marshalable representation of
	// state suitable for GET /environment/modalities/{name} and for
	// simulation snapshot export.
	Snapshot() map[string]any

	// ValidateState checks this modality's own current state for
	// internal consistency (as opposed to Validate, which checks a
	// proposed payload before it is applied), returning a flat list of
	// human-readable problems. A nil or empty result means the
	// modality's state is self-consistent. Environment.Validate calls
	// this for every registered modality and prefixes each message with
	// "modality '<name>': ".
	ValidateState() []string
}

// Registry maps modality names to their live State instances. Engine
// and environment code look up modalities exclusively through it.
type Registry struct {
	states map[Type]State
}

// NewRegistry builds a Registry from the given states, keyed by each
// state's own ModalityType(). Duplicate types overwrite earlier
// entries; callers should supply exactly one State per Type in All.
func NewRegistry(states ...State) *Registry {
	r := &Registry{states: make(map[Type]State, len(states))}
	for _, s := range states {
		r.states[s.ModalityType()] = s
	}
	return r
}

// Get returns the State registered for name, or a NotFound error if no
// modality by that name is registered.
func (r *Registry) Get(name string) (State, error) {
	s, ok := r.states[Type(name)]
	if !ok {
		return nil, apierr.NewNotFoundf("modality %q not found", name)
	}
	return s, nil
}

// Names returns the registered modality names in the stable order
// given by All, skipping any type that has no registered State.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.states))
	for _, t := range All {
		if _, ok := r.states[t]; ok {
			names = append(names, string(t))
		}
	}
	return names
}

// Each calls fn for every registered modality in the stable order
// given by All.
func (r *Registry) Each(fn func(Type, State)) {
	for _, t := range All {
		if s, ok := r.states[t]; ok {
			fn(t, s)
		}
	}
}

// SnapshotAll returns a name-keyed snapshot of every registered
// modality's state, used for full-environment reads and simulation
// export.
func (r *Registry) SnapshotAll() map[string]map[string]any {
	out := make(map[string]map[string]any, len(r.states))
	r.Each(func(t Type, s State) {
		out[string(t)] = s.Snapshot()
	})
	return out
}
