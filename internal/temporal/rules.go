package temporal

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/dusk-indust/parseltongue/internal/entity"
	"github.com/dusk-indust/parseltongue/internal/query"
)

// RuleKind names a validation rule.
type RuleKind uint8

const (
	// RuleStateLegality requires every planned state to be one of the four
	// legal temporal states.
	RuleStateLegality RuleKind = iota + 1
	// RuleCodePresence requires current code iff the entity exists now and
	// future code iff an edit or create is pending.
	RuleCodePresence
	// RuleCircularDependency rejects batches whose proposed edges close a
	// dependency cycle.
	RuleCircularDependency
)

var ruleNames = map[RuleKind]string{
	RuleStateLegality:      "state-legality",
	RuleCodePresence:       "code-presence",
	RuleCircularDependency: "circular-dependency",
}

func (k RuleKind) String() string {
	if n, ok := ruleNames[k]; ok {
		return n
	}
	return fmt.Sprintf("rule(%d)", uint8(k))
}

// MarshalText encodes the rule name.
func (k RuleKind) MarshalText() ([]byte, error) {
	if _, ok := ruleNames[k]; !ok {
		return nil, fmt.Errorf("unknown rule kind %d", uint8(k))
	}
	return []byte(k.String()), nil
}

// UnmarshalText decodes a rule name.
func (k *RuleKind) UnmarshalText(b []byte) error {
	for kind, name := range ruleNames {
		if strings.EqualFold(name, string(b)) {
			*k = kind
			return nil
		}
	}
	return fmt.Errorf("unknown rule kind %q", string(b))
}

// Rule is one entry of the ordered validation list. Strict only affects
// RuleCircularDependency: any touched entity sitting on a cycle rejects the
// batch, not just cycles closed by proposed edges.
type Rule struct {
	Kind   RuleKind `json:"kind"`
	Strict bool     `json:"strict,omitempty"`
}

// DefaultRules returns the three rules in evaluation order.
func DefaultRules() []Rule {
	return []Rule{
		{Kind: RuleStateLegality},
		{Kind: RuleCodePresence},
		{Kind: RuleCircularDependency},
	}
}

// Verdict is the outcome of one rule over one plan.
type Verdict struct {
	Rule     Rule         `json:"rule"`
	Accepted bool         `json:"accepted"`
	Reason   string       `json:"reason,omitempty"`
	Keys     []entity.Key `json:"keys,omitempty"`

	// Err holds the structured causes of a rejection.
	Err error `json:"-"`
}

func accept(r Rule) Verdict { return Verdict{Rule: r, Accepted: true} }

// evaluate runs one rule. Rejections are verdicts; the returned error is
// reserved for store and context failures.
func (m *Machine) evaluate(ctx context.Context, r Rule, p *Plan) (Verdict, error) {
	switch r.Kind {
	case RuleStateLegality:
		return checkLegality(r, p), nil
	case RuleCodePresence:
		return checkCodePresence(r, p), nil
	case RuleCircularDependency:
		return m.checkCycles(ctx, r, p)
	}
	return Verdict{Rule: r, Reason: fmt.Sprintf("unknown rule %s", r.Kind)}, nil
}

func checkLegality(r Rule, p *Plan) Verdict {
	var (
		keys []entity.Key
		errs []error
	)
	for _, te := range p.Illegal {
		keys = append(keys, te.Key)
		errs = append(errs, te)
	}
	for i := range p.After {
		e := &p.After[i]
		if !e.Temporal.Valid() {
			keys = append(keys, e.Key)
			errs = append(errs, &entity.TransitionError{Key: e.Key, Reason: "illegal planned state"})
		}
	}
	if len(keys) == 0 {
		return accept(r)
	}
	reasons := make([]string, len(errs))
	for i, err := range errs {
		reasons[i] = err.Error()
	}
	return Verdict{Rule: r, Reason: strings.Join(reasons, "; "), Keys: keys, Err: errors.Join(errs...)}
}

func checkCodePresence(r Rule, p *Plan) Verdict {
	var (
		keys    []entity.Key
		reasons []string
	)
	for i := range p.After {
		e := &p.After[i]
		st := e.Temporal
		if st.Current() != (e.CurrentCode != nil) {
			keys = append(keys, e.Key)
			reasons = append(reasons, fmt.Sprintf("%s: current code must be present iff the entity exists now", e.Key))
			continue
		}
		wantFuture := st.Future() && (st.Action() == entity.ActionEdit || st.Action() == entity.ActionCreate)
		if wantFuture != (e.FutureCode != nil) {
			keys = append(keys, e.Key)
			if wantFuture {
				reasons = append(reasons, fmt.Sprintf("%s: %s requires future code", e.Key, st.Action()))
			} else {
				reasons = append(reasons, fmt.Sprintf("%s: future code without a pending edit or create", e.Key))
			}
		}
	}
	if len(keys) == 0 {
		return accept(r)
	}
	return Verdict{Rule: r, Reason: strings.Join(reasons, "; "), Keys: keys}
}

// checkCycles runs Tarjan SCC seeded at every touched key over the store as
// it will be once the plan lands. Entities pending deletion, already stored
// or planned, are left out together with their edges. Only proposed edges
// the store does not already hold can close a cycle.
func (m *Machine) checkCycles(ctx context.Context, r Rule, p *Plan) (Verdict, error) {
	touched := p.Touched()
	cycles, err := m.engine.PlannedCycles(ctx, p.After, p.Edges, touched, query.IncludeTests())
	if err != nil {
		return Verdict{}, err
	}
	fresh, err := m.freshEdges(ctx, p.Edges)
	if err != nil {
		return Verdict{}, err
	}

	var (
		offending = make(map[entity.Key]bool)
		reasons   []string
	)
	for _, c := range cycles {
		members := make(map[entity.Key]bool, len(c.Keys))
		for _, k := range c.Keys {
			members[k] = true
		}
		closed := false
		for _, e := range fresh {
			if members[e.Source] && members[e.Target] {
				reasons = append(reasons, fmt.Sprintf("proposed edge %s closes a cycle of %d entities", e, len(c.Keys)))
				closed = true
				break
			}
		}
		if !closed && r.Strict {
			for _, k := range touched {
				if members[k] {
					reasons = append(reasons, fmt.Sprintf("%s sits on a cycle of %d entities", k, len(c.Keys)))
					closed = true
					break
				}
			}
		}
		if closed {
			for _, k := range c.Keys {
				offending[k] = true
			}
		}
	}
	if len(offending) == 0 {
		return accept(r), nil
	}

	keys := make([]entity.Key, 0, len(offending))
	for k := range offending {
		keys = append(keys, k)
	}
	sortKeys(keys)
	return Verdict{Rule: r, Reason: strings.Join(reasons, "; "), Keys: keys}, nil
}

// freshEdges drops the proposed edges the store already holds.
func (m *Machine) freshEdges(ctx context.Context, edges []entity.DependencyEdge) ([]entity.DependencyEdge, error) {
	stored := make(map[entity.Key]map[string]bool)
	var out []entity.DependencyEdge
	for _, e := range edges {
		ids, ok := stored[e.Source]
		if !ok {
			existing, err := m.handle.Store.EdgesFrom(ctx, e.Source)
			if err != nil {
				return nil, err
			}
			ids = make(map[string]bool, len(existing))
			for _, x := range existing {
				ids[x.ID()] = true
			}
			stored[e.Source] = ids
		}
		if !ids[e.ID()] {
			out = append(out, e)
		}
	}
	return out, nil
}

func sortKeys(keys []entity.Key) {
	sort.Slice(keys, func(i, j int) bool { return keys[i].Less(keys[j]) })
}
