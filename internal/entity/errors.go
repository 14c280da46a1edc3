package entity

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors. Structured error types below report errors.Is against
// the matching sentinel so callers can branch on kind and still read details.
var (
	// ErrInvalidKey marks malformed or empty identity components. It is a
	// bug in the caller, not a runtime condition.
	ErrInvalidKey = errors.New("invalid entity key")

	// ErrEntityNotFound is returned for queries against an unknown key.
	ErrEntityNotFound = errors.New("entity not found")

	// ErrInvalidTransition is returned when an operation would produce a
	// temporal state outside the legality table.
	ErrInvalidTransition = errors.New("invalid temporal transition")

	// ErrConflict is returned when several changes in one batch target the
	// same entity under the fail-fast policy.
	ErrConflict = errors.New("conflicting changes")

	// ErrValidation is returned when a validation rule rejects a batch.
	ErrValidation = errors.New("batch validation failed")

	// ErrUnsupportedPolicy is returned by the reserved merge policy.
	ErrUnsupportedPolicy = errors.New("unsupported conflict policy")

	// ErrDanglingEdgeTarget marks an edge whose target is not a known entity.
	// It is advisory and never aborts ingestion.
	ErrDanglingEdgeTarget = errors.New("dangling edge target")

	// ErrStore wraps failures of the underlying persistence layer.
	ErrStore = errors.New("store error")
)

// KeyError describes an identity component that failed validation.
type KeyError struct {
	Field  string
	Value  string
	Reason string
}

func (e *KeyError) Error() string {
	if e.Value == "" {
		return fmt.Sprintf("invalid entity key: %s %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("invalid entity key: %s %q %s", e.Field, e.Value, e.Reason)
}

// Is reports whether target is ErrInvalidKey.
func (e *KeyError) Is(target error) bool { return target == ErrInvalidKey }

// NotFoundError names the key that did not resolve.
type NotFoundError struct {
	Key Key
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("entity not found: %s", e.Key)
}

// Is reports whether target is ErrEntityNotFound.
func (e *NotFoundError) Is(target error) bool { return target == ErrEntityNotFound }

// TransitionError reports an illegal temporal state. From is nil when the
// entity does not exist yet or when a state is constructed directly.
type TransitionError struct {
	Key     Key
	From    *TemporalState
	Current bool
	Future  bool
	Action  Action
	Reason  string
}

func (e *TransitionError) Error() string {
	var sb strings.Builder
	sb.WriteString("invalid temporal transition")
	if !e.Key.IsZero() {
		fmt.Fprintf(&sb, " for %s", e.Key)
	}
	if e.From != nil {
		fmt.Fprintf(&sb, ": from %s", e.From)
	} else {
		sb.WriteString(":")
	}
	fmt.Fprintf(&sb, " to (current=%t, future=%t, action=%s)", e.Current, e.Future, e.Action.display())
	if e.Reason != "" {
		fmt.Fprintf(&sb, ": %s", e.Reason)
	}
	return sb.String()
}

// Is reports whether target is ErrInvalidTransition.
func (e *TransitionError) Is(target error) bool { return target == ErrInvalidTransition }

// DanglingEdgeError describes an edge whose target key has no entity.
type DanglingEdgeError struct {
	Edge DependencyEdge
}

func (e *DanglingEdgeError) Error() string {
	return fmt.Sprintf("dangling edge target: %s -[%s]-> %s", e.Edge.Source, e.Edge.Type, e.Edge.Target)
}

// Is reports whether target is ErrDanglingEdgeTarget.
func (e *DanglingEdgeError) Is(target error) bool { return target == ErrDanglingEdgeTarget }

// StoreError wraps a persistence failure with the backend and operation.
type StoreError struct {
	Backend string
	Op      string
	Err     error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Backend, e.Op, e.Err)
}

// Unwrap returns the backend error.
func (e *StoreError) Unwrap() error { return e.Err }

// Is reports whether target is ErrStore.
func (e *StoreError) Is(target error) bool { return target == ErrStore }

// WrapStore wraps err as a StoreError. Errors that already carry a kind
// (not found, invalid key, transition, store) pass through unchanged.
func WrapStore(backend, op string, err error) error {
	if err == nil {
		return nil
	}
	for _, kind := range []error{ErrEntityNotFound, ErrInvalidKey, ErrInvalidTransition, ErrStore} {
		if errors.Is(err, kind) {
			return err
		}
	}
	return &StoreError{Backend: backend, Op: op, Err: err}
}
