package temporal

import (
	"fmt"
	"strings"

	"github.com/dusk-indust/parseltongue/internal/entity"
)

// ConflictError reports changes in one batch that target the same entity.
type ConflictError struct {
	Keys    []entity.Key
	Changes []Change
}

func (e *ConflictError) Error() string {
	keys := make([]string, len(e.Keys))
	for i, k := range e.Keys {
		keys[i] = k.String()
	}
	return fmt.Sprintf("conflicting changes: %d changes target %s", len(e.Changes), strings.Join(keys, ", "))
}

// Is reports whether target is entity.ErrConflict.
func (e *ConflictError) Is(target error) bool { return target == entity.ErrConflict }

// ValidationError carries every rejecting verdict of a batch.
type ValidationError struct {
	BatchID  string
	Rejected []Verdict
}

func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Rejected))
	for i, v := range e.Rejected {
		parts[i] = v.Rule.Kind.String() + ": " + v.Reason
	}
	return "batch validation failed: " + strings.Join(parts, "; ")
}

// Is reports whether target is entity.ErrValidation.
func (e *ValidationError) Is(target error) bool { return target == entity.ErrValidation }

// Unwrap exposes the causes recorded on the verdicts, so a rejected state
// transition also matches entity.ErrInvalidTransition.
func (e *ValidationError) Unwrap() []error {
	var errs []error
	for _, v := range e.Rejected {
		if v.Err != nil {
			errs = append(errs, v.Err)
		}
	}
	return errs
}

// PolicyError is returned for unknown policies and for AttemptMerge when a
// conflict has to be resolved.
type PolicyError struct {
	Policy Policy
	Keys   []entity.Key
}

func (e *PolicyError) Error() string {
	if len(e.Keys) == 0 {
		return fmt.Sprintf("unsupported conflict policy %q", string(e.Policy))
	}
	return fmt.Sprintf("unsupported conflict policy %q: cannot merge %d conflicting keys", string(e.Policy), len(e.Keys))
}

// Is reports whether target is entity.ErrUnsupportedPolicy.
func (e *PolicyError) Is(target error) bool { return target == entity.ErrUnsupportedPolicy }
