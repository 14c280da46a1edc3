package temporal

import (
	"strings"

	"github.com/dusk-indust/parseltongue/internal/entity"
)

// Policy decides what happens when several changes in a batch target the
// same entity.
type Policy string

const (
	// FailFast rejects the whole batch.
	FailFast Policy = "fail-fast"
	// UseLatest keeps the last proposed change per entity.
	UseLatest Policy = "use-latest"
	// UseEarliest keeps the first proposed change per entity.
	UseEarliest Policy = "use-earliest"
	// AttemptMerge is reserved. It fails whenever a conflict exists.
	AttemptMerge Policy = "attempt-merge"
)

// ParsePolicy accepts kebab-case, snake_case and CamelCase spellings. The
// empty string is FailFast.
func ParsePolicy(s string) (Policy, error) {
	norm := strings.ToLower(strings.NewReplacer("-", "", "_", "", " ", "").Replace(s))
	switch norm {
	case "", "failfast":
		return FailFast, nil
	case "uselatest":
		return UseLatest, nil
	case "useearliest":
		return UseEarliest, nil
	case "attemptmerge":
		return AttemptMerge, nil
	}
	return "", &PolicyError{Policy: Policy(s)}
}

// targeted is a change with its resolved key and proposal index.
type targeted struct {
	change Change
	key    entity.Key
	index  int
}

// resolveConflicts groups changes by target and applies the policy. Kept
// changes stay in proposal order.
func resolveConflicts(changes []targeted, policy Policy) (kept []targeted, dropped []Change, err error) {
	groups := make(map[entity.Key][]int)
	var order []entity.Key
	for i, c := range changes {
		if _, ok := groups[c.key]; !ok {
			order = append(order, c.key)
		}
		groups[c.key] = append(groups[c.key], i)
	}

	var conflictKeys []entity.Key
	var conflicting []Change
	for _, k := range order {
		if idx := groups[k]; len(idx) > 1 {
			conflictKeys = append(conflictKeys, k)
			for _, i := range idx {
				conflicting = append(conflicting, changes[i].change)
			}
		}
	}
	if len(conflictKeys) == 0 {
		return changes, nil, nil
	}
	sortKeys(conflictKeys)

	keep := make(map[int]bool, len(order))
	switch policy {
	case FailFast:
		return nil, nil, &ConflictError{Keys: conflictKeys, Changes: conflicting}
	case UseLatest:
		for _, idx := range groups {
			keep[idx[len(idx)-1]] = true
		}
	case UseEarliest:
		for _, idx := range groups {
			keep[idx[0]] = true
		}
	case AttemptMerge:
		return nil, nil, &PolicyError{Policy: policy, Keys: conflictKeys}
	default:
		return nil, nil, &PolicyError{Policy: policy}
	}

	for i, c := range changes {
		if keep[i] {
			kept = append(kept, c)
		} else {
			dropped = append(dropped, c.change)
		}
	}
	return kept, dropped, nil
}

// Valid reports whether p is one of the four policies.
func (p Policy) Valid() bool {
	switch p {
	case FailFast, UseLatest, UseEarliest, AttemptMerge:
		return true
	}
	return false
}
