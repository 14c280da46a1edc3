package temporal

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/dusk-indust/parseltongue/internal/entity"
	"github.com/dusk-indust/parseltongue/internal/graph"
	"github.com/dusk-indust/parseltongue/internal/logging"
	"github.com/dusk-indust/parseltongue/internal/query"
)

// Machine plans and applies batches of changes against one store. All
// writes go through the handle's writer lock.
type Machine struct {
	handle *graph.Handle
	engine *query.Engine
	rules  []Rule
	logger logrus.FieldLogger
}

// Option configures a Machine.
type Option func(*Machine)

// WithRules replaces the validation rules. They run in the given order.
// State legality is enforced even when it is not listed.
func WithRules(rules ...Rule) Option {
	return func(m *Machine) { m.rules = append([]Rule(nil), rules...) }
}

// WithLogger sets the machine logger.
func WithLogger(l logrus.FieldLogger) Option {
	return func(m *Machine) { m.logger = logging.OrDiscard(l) }
}

// WithEngine sets the query engine used for cycle checks. It must read the
// same store as the handle.
func WithEngine(e *query.Engine) Option {
	return func(m *Machine) { m.engine = e }
}

// NewMachine returns a machine writing through h.
func NewMachine(h *graph.Handle, opts ...Option) *Machine {
	m := &Machine{
		handle: h,
		rules:  DefaultRules(),
		logger: logging.Discard(),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.engine == nil {
		m.engine = query.NewEngine(h.Store, query.WithLogger(m.logger))
	}
	return m
}

// Rules returns the validation rules in evaluation order.
func (m *Machine) Rules() []Rule { return append([]Rule(nil), m.rules...) }

func (m *Machine) hasRule(k RuleKind) bool {
	for _, r := range m.rules {
		if r.Kind == k {
			return true
		}
	}
	return false
}

// Plan is the dry-run outcome of a batch: the resolved changes, the states
// they lead to and every rule verdict.
type Plan struct {
	ID      string   `json:"id"`
	Policy  Policy   `json:"policy"`
	Changes []Change `json:"changes"`
	Dropped []Change `json:"dropped,omitempty"`

	// Before holds the stored entity per target, nil when absent.
	Before map[entity.Key]*entity.CodeEntity `json:"-"`
	After  []entity.CodeEntity                `json:"after"`
	Edges  []entity.DependencyEdge            `json:"edges,omitempty"`

	// Illegal lists changes whose transition leaves the legal states.
	Illegal  []*entity.TransitionError `json:"-"`
	Verdicts []Verdict                 `json:"verdicts"`
}

// Accepted reports whether every rule accepted the plan.
func (p *Plan) Accepted() bool { return len(p.Rejected()) == 0 }

// Rejected returns the rejecting verdicts.
func (p *Plan) Rejected() []Verdict {
	var out []Verdict
	for _, v := range p.Verdicts {
		if !v.Accepted {
			out = append(out, v)
		}
	}
	return out
}

// Touched returns every target key and proposed edge endpoint, sorted.
func (p *Plan) Touched() []entity.Key {
	seen := make(map[entity.Key]bool)
	var out []entity.Key
	add := func(k entity.Key) {
		if !seen[k] {
			seen[k] = true
			out = append(out, k)
		}
	}
	for k := range p.Before {
		add(k)
	}
	for _, e := range p.Edges {
		add(e.Source)
		add(e.Target)
	}
	sortKeys(out)
	return out
}

// Result reports an applied batch.
type Result struct {
	BatchID string       `json:"batchId"`
	Applied []entity.Key `json:"applied"`
	Dropped []Change     `json:"dropped,omitempty"`
}

// Plan resolves conflicts, computes transitions and evaluates every rule
// without writing anything.
func (m *Machine) Plan(ctx context.Context, changes []Change, policy Policy) (*Plan, error) {
	return m.plan(ctx, m.handle.Store, uuid.NewString(), changes, policy)
}

func (m *Machine) plan(ctx context.Context, s graph.Store, id string, changes []Change, policy Policy) (*Plan, error) {
	if policy == "" {
		policy = FailFast
	}
	if !policy.Valid() {
		return nil, &PolicyError{Policy: policy}
	}

	ts := make([]targeted, 0, len(changes))
	for i, c := range changes {
		key, err := c.Target()
		if err != nil {
			return nil, err
		}
		for _, e := range c.Edges {
			if err := e.Validate(); err != nil {
				return nil, err
			}
		}
		ts = append(ts, targeted{change: c, key: key, index: i})
	}

	kept, dropped, err := resolveConflicts(ts, policy)
	if err != nil {
		return nil, err
	}

	p := &Plan{
		ID:      id,
		Policy:  policy,
		Dropped: dropped,
		Before:  make(map[entity.Key]*entity.CodeEntity, len(kept)),
	}
	seenEdge := make(map[string]bool)
	for _, t := range kept {
		stored, err := s.GetEntity(ctx, t.key)
		if errors.Is(err, entity.ErrEntityNotFound) {
			stored = nil
		} else if err != nil {
			return nil, err
		}
		p.Before[t.key] = stored
		p.Changes = append(p.Changes, t.change)
		for _, e := range t.change.Edges {
			if eid := e.ID(); !seenEdge[eid] {
				seenEdge[eid] = true
				p.Edges = append(p.Edges, e)
			}
		}

		after, illegal, err := transition(stored, t)
		if err != nil {
			return nil, err
		}
		if illegal != nil {
			p.Illegal = append(p.Illegal, illegal)
			continue
		}
		p.After = append(p.After, after)
	}

	// Legality holds whatever rules are configured.
	if !m.hasRule(RuleStateLegality) {
		if v := checkLegality(Rule{Kind: RuleStateLegality}, p); !v.Accepted {
			p.Verdicts = append(p.Verdicts, v)
		}
	}
	for _, r := range m.rules {
		v, err := m.evaluate(ctx, r, p)
		if err != nil {
			return nil, err
		}
		p.Verdicts = append(p.Verdicts, v)
	}
	return p, nil
}

// transition applies one change to the stored entity (nil when absent).
// Unknown keys for edit and delete are errors; transitions outside the
// legal states are reported as illegal for the legality rule.
func transition(stored *entity.CodeEntity, t targeted) (entity.CodeEntity, *entity.TransitionError, error) {
	c := t.change
	illegal := func(current, future bool, action entity.Action, reason string) *entity.TransitionError {
		te := &entity.TransitionError{Key: t.key, Current: current, Future: future, Action: action, Reason: reason}
		if stored != nil {
			st := stored.Temporal
			te.From = &st
		}
		return te
	}

	switch c.Action {
	case entity.ActionCreate:
		if stored == nil {
			return newEntity(t), nil, nil
		}
		if stored.Temporal.Current() {
			return entity.CodeEntity{}, illegal(true, true, entity.ActionCreate, "entity already exists"), nil
		}
		e := stored.Clone()
		e.FutureCode = copyCode(c.FutureCode)
		return e, nil, nil

	case entity.ActionEdit:
		if stored == nil {
			return entity.CodeEntity{}, nil, &entity.NotFoundError{Key: t.key}
		}
		e := stored.Clone()
		switch stored.Temporal.Action() {
		case entity.ActionNone, entity.ActionEdit:
			e.Temporal = entity.EditPending()
		case entity.ActionCreate:
			// stays a pending create
		case entity.ActionDelete:
			return entity.CodeEntity{}, illegal(true, true, entity.ActionEdit, "entity is pending deletion"), nil
		}
		e.FutureCode = copyCode(c.FutureCode)
		return e, nil, nil

	case entity.ActionDelete:
		if stored == nil {
			return entity.CodeEntity{}, nil, &entity.NotFoundError{Key: t.key}
		}
		e := stored.Clone()
		switch stored.Temporal.Action() {
		case entity.ActionNone, entity.ActionEdit:
			e.Temporal = entity.DeletePending()
			e.FutureCode = nil
		case entity.ActionDelete:
			// idempotent
		case entity.ActionCreate:
			return entity.CodeEntity{}, illegal(false, false, entity.ActionDelete,
				"deleting a pending create leaves an entity that exists neither now nor in the future"), nil
		}
		return e, nil, nil
	}
	return entity.CodeEntity{}, illegal(false, false, c.Action, "unknown action"), nil
}

func newEntity(t targeted) entity.CodeEntity {
	spec := CreateSpec{Kind: t.key.Kind(), Name: t.key.Name(), FilePath: t.key.Path()}
	if t.change.Spec != nil {
		spec = *t.change.Spec
	}
	class := spec.Class
	if class == "" {
		class = entity.ClassCode
	}
	return entity.CodeEntity{
		Key:        t.key,
		Language:   spec.Language,
		Kind:       t.key.Kind(),
		Name:       t.key.Name(),
		FilePath:   t.key.Path(),
		Signature:  spec.Signature,
		FutureCode: copyCode(t.change.FutureCode),
		Class:      class,
		Temporal:   entity.CreatePending(),
	}
}

func copyCode(s *string) *string {
	if s == nil {
		return nil
	}
	return entity.Code(*s)
}

// ApplyBatch plans the batch under the writer lock and, when every rule
// accepts, persists all planned entities and proposed edges in one commit.
// Nothing is written otherwise.
func (m *Machine) ApplyBatch(ctx context.Context, changes []Change, policy Policy) (*Result, error) {
	batchID := uuid.NewString()
	ctx, span := startBatchSpan(ctx, batchID, len(changes))
	defer span.End()
	start := time.Now()
	log := m.logger.WithFields(logrus.Fields{
		"batch_id": batchID,
		"policy":   string(policy),
		"changes":  len(changes),
	})

	var res *Result
	err := m.handle.Exclusive(ctx, func(s graph.Store) error {
		p, err := m.plan(ctx, s, batchID, changes, policy)
		if err != nil {
			return err
		}
		if rejected := p.Rejected(); len(rejected) > 0 {
			return &ValidationError{BatchID: batchID, Rejected: rejected}
		}
		if err := s.CommitBatch(ctx, graph.Batch{Upserts: p.After, Edges: p.Edges}); err != nil {
			return err
		}
		res = &Result{BatchID: batchID, Dropped: p.Dropped}
		for i := range p.After {
			res.Applied = append(res.Applied, p.After[i].Key)
		}
		return nil
	})
	recordBatch(ctx, span, time.Since(start), err)
	if err != nil {
		log.WithError(err).Warn("batch rejected")
		return nil, err
	}
	log.WithFields(logrus.Fields{
		"applied": len(res.Applied),
		"dropped": len(res.Dropped),
	}).Info("batch applied")
	return res, nil
}

// ProposeCreate applies a single create and returns the new key.
func (m *Machine) ProposeCreate(ctx context.Context, spec CreateSpec, code string) (entity.Key, error) {
	key, err := spec.Key()
	if err != nil {
		return entity.Key{}, err
	}
	if _, err := m.ApplyBatch(ctx, []Change{Create(spec, code)}, FailFast); err != nil {
		return entity.Key{}, err
	}
	return key, nil
}

// ProposeEdit applies a single edit.
func (m *Machine) ProposeEdit(ctx context.Context, key entity.Key, code string) error {
	_, err := m.ApplyBatch(ctx, []Change{Edit(key, code)}, FailFast)
	return err
}

// ProposeDelete applies a single delete.
func (m *Machine) ProposeDelete(ctx context.Context, key entity.Key) error {
	_, err := m.ApplyBatch(ctx, []Change{Delete(key)}, FailFast)
	return err
}
