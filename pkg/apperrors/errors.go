// Package apperrors defines the failure kinds surfaced by the session engine.
//
// Every error leaving Submit or Resume matches exactly one of the sentinels below
// through errors.Is. Typed errors carry the details and report their sentinel via Is.
package apperrors

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrInvalidState is returned when an operation runs against a sealed or terminal value.
	ErrInvalidState = errors.New("invalid state")
	// ErrMalformedProviderResponse is returned when the provider mixes text and capability
	// calls in one turn, calls an unknown capability, or sends arguments that fail validation.
	ErrMalformedProviderResponse = errors.New("malformed provider response")
	// ErrToolExecutionFailed is returned when a capability executor fails.
	ErrToolExecutionFailed = errors.New("tool execution failed")
	// ErrIntegrityViolation is returned when a turn log breaks its shape or referential invariants.
	ErrIntegrityViolation = errors.New("integrity violation")
	// ErrSessionBusy is returned when a session already has an interaction in flight.
	ErrSessionBusy = errors.New("session busy")
	// ErrProviderFailed is returned when the model-stream collaborator fails.
	ErrProviderFailed = errors.New("provider failed")
	// ErrPersistenceFailed is returned when the persistence collaborator fails.
	ErrPersistenceFailed = errors.New("persistence failed")
)

// MalformedResponseError reports why a provider response was rejected.
type MalformedResponseError struct {
	CapabilityName string
	Reason         string
}

func (e *MalformedResponseError) Error() string {
	if e == nil {
		return ErrMalformedProviderResponse.Error()
	}
	if e.CapabilityName == "" {
		return fmt.Sprintf("%s: %s", ErrMalformedProviderResponse, e.Reason)
	}
	return fmt.Sprintf("%s (%s): %s", ErrMalformedProviderResponse, e.CapabilityName, e.Reason)
}

func (e *MalformedResponseError) Is(target error) bool { return target == ErrMalformedProviderResponse }

// NewMalformedResponse builds a MalformedResponseError.
func NewMalformedResponse(capabilityName, format string, args ...any) *MalformedResponseError {
	return &MalformedResponseError{CapabilityName: capabilityName, Reason: fmt.Sprintf(format, args...)}
}

// ToolExecutionFailedError reports a failed capability call.
type ToolExecutionFailedError struct {
	CapabilityName string
	CallID         string
	Cause          error
}

func (e *ToolExecutionFailedError) Error() string {
	if e == nil {
		return ErrToolExecutionFailed.Error()
	}
	return fmt.Sprintf("%s: %s: %v", ErrToolExecutionFailed, e.CapabilityName, e.Cause)
}

func (e *ToolExecutionFailedError) Is(target error) bool { return target == ErrToolExecutionFailed }

func (e *ToolExecutionFailedError) Unwrap() error { return e.Cause }

// IntegrityError reports which turn broke which invariant.
type IntegrityError struct {
	TurnID string
	CallID string
	Reason string
}

func (e *IntegrityError) Error() string {
	if e == nil {
		return ErrIntegrityViolation.Error()
	}
	switch {
	case e.TurnID != "" && e.CallID != "":
		return fmt.Sprintf("%s (turn %q, call %q): %s", ErrIntegrityViolation, e.TurnID, e.CallID, e.Reason)
	case e.TurnID != "":
		return fmt.Sprintf("%s (turn %q): %s", ErrIntegrityViolation, e.TurnID, e.Reason)
	default:
		return fmt.Sprintf("%s: %s", ErrIntegrityViolation, e.Reason)
	}
}

func (e *IntegrityError) Is(target error) bool { return target == ErrIntegrityViolation }

// ExternalError classifies a failure of an external collaborator under one of the sentinels.
type ExternalError struct {
	Kind  error
	Op    string
	Cause error
}

func (e *ExternalError) Error() string {
	if e == nil {
		return "external error"
	}
	if e.Cause == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Cause)
}

func (e *ExternalError) Is(target error) bool { return target == e.Kind }

func (e *ExternalError) Unwrap() error { return e.Cause }

// ProviderFailed wraps a model-stream failure.
func ProviderFailed(op string, cause error) error {
	return &ExternalError{Kind: ErrProviderFailed, Op: op, Cause: cause}
}

// PersistenceFailed wraps a store failure.
func PersistenceFailed(op string, cause error) error {
	return &ExternalError{Kind: ErrPersistenceFailed, Op: op, Cause: cause}
}

// InvalidState wraps a programmer error under ErrInvalidState.
func InvalidState(format string, args ...any) error {
	return &ExternalError{Kind: ErrInvalidState, Op: fmt.Sprintf(format, args...)}
}

// Kind names a failure class, used for metrics labels, events and HTTP status mapping.
type Kind string

const (
	KindNone                      Kind = ""
	KindInvalidState              Kind = "invalid-state"
	KindMalformedProviderResponse Kind = "malformed-provider-response"
	KindToolExecutionFailed       Kind = "tool-execution-failed"
	KindIntegrityViolation        Kind = "integrity-violation"
	KindSessionBusy               Kind = "session-busy"
	KindProviderFailed            Kind = "provider-failed"
	KindPersistenceFailed         Kind = "persistence-failed"
	KindCanceled                  Kind = "canceled"
	KindUnknown                   Kind = "unknown"
)

// KindOf classifies err. A nil error has KindNone. Typed kinds win over a context
// error found in their cause chain, so only a bare context error is KindCanceled.
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrSessionBusy):
		return KindSessionBusy
	case errors.Is(err, ErrIntegrityViolation):
		return KindIntegrityViolation
	case errors.Is(err, ErrMalformedProviderResponse):
		return KindMalformedProviderResponse
	case errors.Is(err, ErrToolExecutionFailed):
		return KindToolExecutionFailed
	case errors.Is(err, ErrInvalidState):
		return KindInvalidState
	case errors.Is(err, ErrProviderFailed):
		return KindProviderFailed
	case errors.Is(err, ErrPersistenceFailed):
		return KindPersistenceFailed
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return KindCanceled
	}
	return KindUnknown
}
