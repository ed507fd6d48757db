// Package apierr defines the typed error kinds the simulator's core
// raises, each carrying the HTTP status the API layer should surface it
// as (see spec §7: ValidationError, NotFoundError, StateConflictError,
// RuntimeError, ExternalError).
package apierr

import (
	"errors"
	"fmt"
	"net/http"
)

// Validation wraps a payload or request-shape failure. Surfaced as 400,
// or 422 when the caller wants to distinguish schema errors from other
// bad requests.
type Validation struct {
	Msg string
	Err error
}

func (e *Validation) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *Validation) Unwrap() error { return e.Err }

func (e *Validation) Status() int { return http.StatusBadRequest }

// NewValidation builds a Validation error.
func NewValidation(msg string) *Validation { return &Validation{Msg: msg} }

// NewValidationf builds a Validation error with a formatted message.
func NewValidationf(format string, args ...any) *Validation {
	return &Validation{Msg: fmt.Sprintf(format, args...)}
}

// NotFound wraps a missing-resource lookup (unknown modality, missing
// event id, empty queue on next/skip-to-next). Surfaced as 404.
type NotFound struct {
	Msg string
}

func (e *NotFound) Error() string { return e.Msg }

func (e *NotFound) Status() int { return http.StatusNotFound }

// NewNotFound builds a NotFound error.
func NewNotFound(msg string) *NotFound { return &NotFound{Msg: msg} }

// NewNotFoundf builds a NotFound error with a formatted message.
func NewNotFoundf(format string, args ...any) *NotFound {
	return &NotFound{Msg: fmt.Sprintf(format, args...)}
}

// StateConflict wraps an operation rejected because of the current state
// of an event, the clock, or the engine (past-scheduled event, backwards
// time set, cancel of a non-pending event, advance while paused/stopped).
// Surfaced as 409 (or 400 for malformed-but-conflicting requests; the API
// layer decides per route, matching spec §6.1/§6.2).
type StateConflict struct {
	Msg string
}

func (e *StateConflict) Error() string { return e.Msg }

func (e *StateConflict) Status() int { return http.StatusConflict }

// NewStateConflict builds a StateConflict error.
func NewStateConflict(msg string) *StateConflict { return &StateConflict{Msg: msg} }

// NewStateConflictf builds a StateConflict error with a formatted message.
func NewStateConflictf(format string, args ...any) *StateConflict {
	return &StateConflict{Msg: fmt.Sprintf(format, args...)}
}

// Runtime wraps an internal inconsistency (e.g. undo data referencing a
// record that no longer exists). Surfaced as 500.
type Runtime struct {
	Msg string
	Err error
}

func (e *Runtime) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *Runtime) Unwrap() error { return e.Err }

func (e *Runtime) Status() int { return http.StatusInternalServerError }

// NewRuntime builds a Runtime error.
func NewRuntime(msg string) *Runtime { return &Runtime{Msg: msg} }

// NewRuntimef builds a Runtime error with a formatted message.
func NewRuntimef(format string, args ...any) *Runtime {
	return &Runtime{Msg: fmt.Sprintf(format, args...)}
}

// External wraps a failure from an out-of-core collaborator (the weather
// "real" mode's outbound HTTP call). Surfaced as 500.
type External struct {
	Msg string
	Err error
}

func (e *External) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *External) Unwrap() error { return e.Err }

func (e *External) Status() int { return http.StatusInternalServerError }

// NewExternal builds an External error wrapping the upstream cause.
func NewExternal(msg string, cause error) *External {
	return &External{Msg: msg, Err: cause}
}

// statusCoder is implemented by every error kind in this package.
type statusCoder interface {
	Status() int
}

// StatusCode returns the HTTP status code that should be used to surface
// err, or 500 if err does not carry one of this package's typed kinds.
func StatusCode(err error) int {
	var sc statusCoder
	if errors.As(err, &sc) {
		return sc.Status()
	}
	return http.StatusInternalServerError
}
