package entity

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewTemporalState_AllCombinations(t *testing.T) {
	legal := map[string]bool{
		"true/true/":        true,
		"true/true/edit":    true,
		"true/false/delete": true,
		"false/true/create": true,
	}
	for _, current := range []bool{true, false} {
		for _, future := range []bool{true, false} {
			for _, action := range []Action{ActionNone, ActionCreate, ActionEdit, ActionDelete} {
				name := fmt.Sprintf("%t/%t/%s", current, future, action)
				t.Run(name, func(t *testing.T) {
					st, err := NewTemporalState(current, future, action)
					if legal[name] {
						require.NoError(t, err)
						assert.Equal(t, current, st.Current())
						assert.Equal(t, future, st.Future())
						assert.Equal(t, action, st.Action())
						assert.True(t, st.Valid())
						return
					}
					require.Error(t, err)
					assert.ErrorIs(t, err, ErrInvalidTransition)
					assert.False(t, st.Valid())
				})
			}
		}
	}
}

func TestNamedStates(t *testing.T) {
	tests := []struct {
		st      TemporalState
		current bool
		future  bool
		action  Action
	}{
		{Unchanged(), true, true, ActionNone},
		{EditPending(), true, true, ActionEdit},
		{DeletePending(), true, false, ActionDelete},
		{CreatePending(), false, true, ActionCreate},
	}
	for _, tt := range tests {
		t.Run(tt.st.String(), func(t *testing.T) {
			got, err := NewTemporalState(tt.current, tt.future, tt.action)
			require.NoError(t, err)
			assert.Equal(t, tt.st, got)
			assert.Equal(t, tt.action != ActionNone, got.Pending())
		})
	}
	assert.False(t, TemporalState{}.Valid(), "zero value must be illegal")
}

func TestTemporalState_JSON(t *testing.T) {
	b, err := json.Marshal(DeletePending())
	require.NoError(t, err)
	assert.JSONEq(t, `{"current":true,"future":false,"action":"delete"}`, string(b))

	var st TemporalState
	require.NoError(t, json.Unmarshal(b, &st))
	assert.Equal(t, DeletePending(), st)

	err = json.Unmarshal([]byte(`{"current":false,"future":false}`), &st)
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestTransitionError_Message(t *testing.T) {
	_, err := NewTemporalState(false, false, ActionNone)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "current=false, future=false, action=None")
}
