package entity

import "fmt"

// CodeEntity is one named, located unit of source code together with its
// pending future state.
type CodeEntity struct {
	Key         Key                `json:"key"`
	Language    Language           `json:"language,omitempty"`
	Kind        Kind               `json:"kind"`
	Name        string             `json:"name"`
	FilePath    string             `json:"filePath"`
	Lines       *LineRange         `json:"lines,omitempty"`
	Signature   InterfaceSignature `json:"signature"`
	CurrentCode *string            `json:"currentCode,omitempty"`
	FutureCode  *string            `json:"futureCode,omitempty"`
	Class       EntityClass        `json:"class"`
	Temporal    TemporalState      `json:"temporal"`
}

// Code returns a pointer to a copy of s, for populating code fields.
func Code(s string) *string { return &s }

// Validate checks identity, temporal legality and code presence. Current
// code is present iff the entity exists now; future code is present iff it
// exists in the future and an edit or create is pending.
func (e *CodeEntity) Validate() error {
	if e.Key.IsZero() {
		return &KeyError{Field: "key", Reason: "is zero"}
	}
	st := e.Temporal
	if !st.Valid() {
		return &TransitionError{
			Key:     e.Key,
			Current: st.current,
			Future:  st.future,
			Action:  st.action,
			Reason:  illegalReason(st.current, st.future, st.action),
		}
	}
	if st.Current() != (e.CurrentCode != nil) {
		return &TransitionError{
			Key: e.Key, Current: st.current, Future: st.future, Action: st.action,
			Reason: fmt.Sprintf("current code presence must be %t", st.Current()),
		}
	}
	wantFuture := st.Future() && (st.Action() == ActionEdit || st.Action() == ActionCreate)
	if wantFuture != (e.FutureCode != nil) {
		return &TransitionError{
			Key: e.Key, Current: st.current, Future: st.future, Action: st.action,
			Reason: fmt.Sprintf("future code presence must be %t", wantFuture),
		}
	}
	return nil
}

// Clone returns a deep copy so callers can mutate the result freely.
func (e CodeEntity) Clone() CodeEntity {
	out := e
	if e.Lines != nil {
		l := *e.Lines
		out.Lines = &l
	}
	if e.CurrentCode != nil {
		out.CurrentCode = Code(*e.CurrentCode)
	}
	if e.FutureCode != nil {
		out.FutureCode = Code(*e.FutureCode)
	}
	if e.Signature.Parameters != nil {
		out.Signature.Parameters = append([]Parameter(nil), e.Signature.Parameters...)
	}
	if e.Signature.Generics != nil {
		out.Signature.Generics = append([]string(nil), e.Signature.Generics...)
	}
	return out
}

// StartLine returns the first line, or 0 for entities with no location.
func (e *CodeEntity) StartLine() int {
	if e.Lines == nil {
		return 0
	}
	return e.Lines.Start
}
