// Package environment aggregates the simulator's Clock and its
// registered modality states, and provides cross-state validation (spec
// §4.E). It holds no event queue of its own — the engine supplies queued
// modality names to Validate so unregistered-modality references can be
// flagged without this package depending on internal/queue.
package environment

import (
	"fmt"
	"time"

	"github.com/corvid-labs/envsim/internal/clock"
	"github.com/corvid-labs/envsim/internal/modality"
)

// Environment is the container of Clock + named modality states.
type Environment struct {
	clock    *clock.Clock
	registry *modality.Registry
}

// New builds an Environment over an existing clock and registry. Both
// are required; construction does not validate them.
func New(c *clock.Clock, registry *modality.Registry) *Environment {
	return &Environment{clock: c, registry: registry}
}

// Clock returns the environment's clock.
func (e *Environment) Clock() *clock.Clock { return e.clock }

// Registry returns the environment's modality registry.
func (e *Environment) Registry() *modality.Registry { return e.registry }

// ModalityNames returns every registered modality name, in the stable
// order defined by modality.All.
func (e *Environment) ModalityNames() []string { return e.registry.Names() }

// GetState returns the {modality_type, current_time, state} envelope
// for a single modality, per spec §6.1 GET /environment/modalities/{name}.
func (e *Environment) GetState(name string) (map[string]any, error) {
	state, err := e.registry.Get(name)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"modality_type": string(state.ModalityType()),
		"current_time":  e.clock.Now(),
		"state":         state.Snapshot(),
	}, nil
}

// AllStates returns every modality's snapshot keyed by name, for spec
// §6.1 GET /environment/state's "modalities" field.
func (e *Environment) AllStates() map[string]map[string]any {
	return e.registry.SnapshotAll()
}

// ModalitySummary is one entry of the abbreviated per-modality summary
// returned alongside a full environment snapshot.
type ModalitySummary struct {
	ModalityType string    `json:"modality_type"`
	UpdateCount  int       `json:"update_count"`
	LastUpdated  time.Time `json:"last_updated,omitempty"`
}

// Summary returns one ModalitySummary per registered modality, in
// ModalityNames order, for spec §6.1's "summary" field.
func (e *Environment) Summary() []ModalitySummary {
	out := make([]ModalitySummary, 0, len(e.ModalityNames()))
	e.registry.Each(func(t modality.Type, state modality.State) {
		out = append(out, ModalitySummary{
			ModalityType: string(t),
			UpdateCount:  state.UpdateCount(),
			LastUpdated:  state.LastUpdated(),
		})
	})
	return out
}

// Validate walks the registered modalities and the supplied set of
// distinct modality names referenced by queued events, returning a flat
// list of prefixed error strings (spec §4.E). An empty result means the
// environment is structurally consistent. Validate never mutates state.
func (e *Environment) Validate(queuedModalityNames []string) []string {
	var errs []string

	if e.clock == nil {
		errs = append(errs, "Environment: clock is not configured")
	}
	if len(e.ModalityNames()) == 0 {
		errs = append(errs, "Environment: no modalities registered")
	}

	registered := make(map[string]struct{})
	for _, name := range e.ModalityNames() {
		registered[name] = struct{}{}
	}
	for _, name := range queuedModalityNames {
		if _, ok := registered[name]; !ok {
			errs = append(errs, fmt.Sprintf("EventQueue: references non-existent modality %q", name))
		}
	}

	e.registry.Each(func(t modality.Type, state modality.State) {
		for _, msg := range state.ValidateState() {
			errs = append(errs, fmt.Sprintf("modality '%s': %s", t, msg))
		}
	})

	if e.clock != nil {
		if e.clock.Now().IsZero() {
			errs = append(errs, "time_state: current time is unset")
		}
		if scale := e.clock.TimeScale(); scale <= 0 {
			errs = append(errs, fmt.Sprintf("time_state: non-positive time scale %v", scale))
		}
	}

	return errs
}

// ValidateModalityPayload exposes a single modality's payload validation
// without mutating state.
func (e *Environment) ValidateModalityPayload(name string, payload map[string]any) error {
	state, err := e.registry.Get(name)
	if err != nil {
		return err
	}
	return state.Validate(payload)
}

// Query runs a read-only query against a single modality's state.
func (e *Environment) Query(name string, params map[string]any) (map[string]any, error) {
	state, err := e.registry.Get(name)
	if err != nil {
		return nil, err
	}
	results, err := state.Query(params)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"modality_type": string(state.ModalityType()),
		"query":         params,
		"results":       results,
	}, nil
}

// CheckedAt stamps a POST /environment/validate response with the
// environment's current simulated instant, matching the spec's
// "checked_at" field (it must equal /simulator/time's current_time, not
// wall-clock time).
func (e *Environment) CheckedAt() time.Time { return e.clock.Now() }
