package entity

import (
	"encoding/json"
	"fmt"
)

// Action is the pending future action on an entity. The zero value means
// no change is pending.
type Action string

const (
	ActionNone   Action = ""
	ActionCreate Action = "create"
	ActionEdit   Action = "edit"
	ActionDelete Action = "delete"
)

// ParseAction accepts "", "none", "create", "edit" and "delete".
func ParseAction(s string) (Action, error) {
	switch Action(s) {
	case ActionNone, "none", "None":
		return ActionNone, nil
	case ActionCreate, ActionEdit, ActionDelete:
		return Action(s), nil
	}
	return "", fmt.Errorf("unknown action %q", s)
}

func (a Action) display() string {
	switch a {
	case ActionNone:
		return "None"
	case ActionCreate:
		return "Create"
	case ActionEdit:
		return "Edit"
	case ActionDelete:
		return "Delete"
	default:
		return string(a)
	}
}

// TemporalState is the (current, future, action) triple attached to every
// entity. Only the four combinations below are ever constructed:
//
//	(true,  true,  None)    unchanged
//	(true,  true,  Edit)    modification pending
//	(true,  false, Delete)  deletion pending
//	(false, true,  Create)  creation pending
//
// The zero value is not a legal state; use the named constructors.
type TemporalState struct {
	current bool
	future  bool
	action  Action
}

// NewTemporalState returns the state for the given triple or a
// *TransitionError when the triple is not one of the four legal states.
func NewTemporalState(current, future bool, action Action) (TemporalState, error) {
	if !legalState(current, future, action) {
		return TemporalState{}, &TransitionError{
			Current: current,
			Future:  future,
			Action:  action,
			Reason:  illegalReason(current, future, action),
		}
	}
	return TemporalState{current: current, future: future, action: action}, nil
}

func Unchanged() TemporalState     { return TemporalState{current: true, future: true} }
func EditPending() TemporalState   { return TemporalState{current: true, future: true, action: ActionEdit} }
func DeletePending() TemporalState { return TemporalState{current: true, future: false, action: ActionDelete} }
func CreatePending() TemporalState { return TemporalState{current: false, future: true, action: ActionCreate} }

func legalState(current, future bool, action Action) bool {
	switch {
	case current && future:
		return action == ActionNone || action == ActionEdit
	case current && !future:
		return action == ActionDelete
	case !current && future:
		return action == ActionCreate
	}
	return false
}

func illegalReason(current, future bool, action Action) string {
	switch {
	case !current && !future:
		return "entity neither exists now nor in the future"
	case action != ActionNone && action != ActionCreate && action != ActionEdit && action != ActionDelete:
		return fmt.Sprintf("unknown action %q", string(action))
	default:
		return "action does not match existence indicators"
	}
}

// Current reports whether the entity exists in the source tree today.
func (s TemporalState) Current() bool { return s.current }

// Future reports whether the entity exists after pending changes apply.
func (s TemporalState) Future() bool { return s.future }

func (s TemporalState) Action() Action { return s.action }

// Pending reports whether a future action is recorded.
func (s TemporalState) Pending() bool { return s.action != ActionNone }

// Valid reports whether s is one of the four legal states. The zero value
// is not.
func (s TemporalState) Valid() bool { return legalState(s.current, s.future, s.action) }

func (s TemporalState) String() string {
	return fmt.Sprintf("(current=%t, future=%t, action=%s)", s.current, s.future, s.action.display())
}

type temporalJSON struct {
	Current bool   `json:"current"`
	Future  bool   `json:"future"`
	Action  Action `json:"action,omitempty"`
}

// MarshalJSON encodes the state as {"current","future","action"}.
func (s TemporalState) MarshalJSON() ([]byte, error) {
	return json.Marshal(temporalJSON{Current: s.current, Future: s.future, Action: s.action})
}

// UnmarshalJSON decodes and validates a state.
func (s *TemporalState) UnmarshalJSON(b []byte) error {
	var raw temporalJSON
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	st, err := NewTemporalState(raw.Current, raw.Future, raw.Action)
	if err != nil {
		return err
	}
	*s = st
	return nil
}
