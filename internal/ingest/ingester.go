package ingest

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/dusk-indust/parseltongue/internal/entity"
	"github.com/dusk-indust/parseltongue/internal/graph"
	"github.com/dusk-indust/parseltongue/internal/logging"
)

var tracer = otel.Tracer("parseltongue.ingest")

const defaultChunkSize = 1000

// ErrPartialRebuild marks a Replace that reset the store and then failed
// part-way. The graph holds only some of the facts until ingestion runs
// again.
var ErrPartialRebuild = errors.New("graph partially rebuilt, re-run ingestion")

// Ingester writes parser facts into a store. All writes hold the handle's
// writer lock.
type Ingester struct {
	handle    *graph.Handle
	logger    logrus.FieldLogger
	chunkSize int
}

// IngesterOption configures an Ingester.
type IngesterOption func(*Ingester)

// WithLogger sets the ingester logger.
func WithLogger(l logrus.FieldLogger) IngesterOption {
	return func(in *Ingester) { in.logger = logging.OrDiscard(l) }
}

// WithChunkSize bounds the number of entities or edges per commit.
func WithChunkSize(n int) IngesterOption {
	return func(in *Ingester) {
		if n > 0 {
			in.chunkSize = n
		}
	}
}

// NewIngester returns an ingester writing through h.
func NewIngester(h *graph.Handle, opts ...IngesterOption) *Ingester {
	in := &Ingester{handle: h, logger: logging.Discard(), chunkSize: defaultChunkSize}
	for _, opt := range opts {
		opt(in)
	}
	return in
}

// Report summarizes one ingestion.
type Report struct {
	Files    int           `json:"files"`
	Entities int           `json:"entities"`
	Edges    int           `json:"edges"`
	Dangling int           `json:"dangling"`
	Skipped  int           `json:"skipped"`
	Duration time.Duration `json:"duration"`
}

// Ingest adds the facts to whatever the store already holds. Every entity
// is stored as existing now and in the future with no pending action.
func (in *Ingester) Ingest(ctx context.Context, entities []EntityFact, edges []EdgeFact) (*Report, error) {
	return in.run(ctx, "Ingest", false, entities, edges)
}

// Replace resets the store and ingests the facts under one lock, so no
// reader-visible writer can interleave. Facts are committed in chunks: a
// store failure after the reset leaves a partial graph and the error
// matches ErrPartialRebuild.
func (in *Ingester) Replace(ctx context.Context, entities []EntityFact, edges []EdgeFact) (*Report, error) {
	return in.run(ctx, "Replace", true, entities, edges)
}

func (in *Ingester) run(ctx context.Context, op string, reset bool, facts []EntityFact, edgeFacts []EdgeFact) (*Report, error) {
	ctx, span := tracer.Start(ctx, "Ingest."+op)
	defer span.End()
	start := time.Now()

	stamped, err := stamp(facts)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	idx := newIndex(stamped)
	report := &Report{Entities: len(stamped), Files: idx.files()}
	edges := in.resolve(idx, edgeFacts, report)
	report.Edges = len(edges)

	err = in.handle.Exclusive(ctx, func(s graph.Store) error {
		if !reset {
			return in.write(ctx, s, stamped, edges)
		}
		if err := s.Reset(ctx); err != nil {
			return err
		}
		if err := in.write(ctx, s, stamped, edges); err != nil {
			in.logger.WithError(err).Error("rebuild failed after reset")
			return fmt.Errorf("%w: %w", ErrPartialRebuild, err)
		}
		return nil
	})
	report.Duration = time.Since(start)
	span.SetAttributes(
		attribute.Int("ingest.entities", report.Entities),
		attribute.Int("ingest.edges", report.Edges),
		attribute.Int("ingest.dangling", report.Dangling),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	in.logger.WithFields(logrus.Fields{
		"files":    report.Files,
		"entities": report.Entities,
		"edges":    report.Edges,
		"dangling": report.Dangling,
		"skipped":  report.Skipped,
		"reset":    reset,
		"duration": report.Duration.String(),
	}).Info("ingestion complete")
	return report, nil
}

// stamp keys every fact. An invalid fact fails the whole ingestion before
// anything is written. Later facts with an already seen key replace
// earlier ones.
func stamp(facts []EntityFact) ([]entity.CodeEntity, error) {
	out := make([]entity.CodeEntity, 0, len(facts))
	pos := make(map[entity.Key]int, len(facts))
	for i, f := range facts {
		key, err := f.Key()
		if err != nil {
			return nil, fmt.Errorf("entity fact %d (%s %s): %w", i, f.FilePath, f.Name, err)
		}
		class := f.Class
		if class == "" {
			class = entity.ClassCode
		}
		lines := f.Lines
		e := entity.CodeEntity{
			Key:         key,
			Language:    f.Language,
			Kind:        f.Kind,
			Name:        f.Name,
			FilePath:    key.Path(),
			Lines:       &lines,
			Signature:   f.Signature,
			CurrentCode: entity.Code(f.CurrentCode),
			Class:       class,
			Temporal:    entity.Unchanged(),
		}
		if p, ok := pos[key]; ok {
			out[p] = e
			continue
		}
		pos[key] = len(out)
		out = append(out, e)
	}
	return out, nil
}

func (in *Ingester) resolve(idx *index, facts []EdgeFact, report *Report) []entity.DependencyEdge {
	seen := make(map[string]bool, len(facts))
	external := make(map[entity.Key]bool)
	var out []entity.DependencyEdge
	for _, f := range facts {
		if !f.Type.Valid() {
			in.logger.WithField("type", string(f.Type)).Debug("skipping edge with unknown type")
			report.Skipped++
			continue
		}
		src, ok := idx.lookup(f.Source)
		if !ok {
			in.logger.WithFields(logrus.Fields{
				"file": f.Source.FilePath,
				"name": f.Source.Name,
			}).Debug("skipping edge with unresolved source")
			report.Skipped++
			continue
		}
		dst, ok := idx.lookup(f.Target)
		if !ok {
			k, err := entity.GenerateKeyForNew(entity.ExternalPath, f.Target.Name, entity.KindUnknown)
			if err != nil {
				report.Skipped++
				continue
			}
			if !external[k] {
				external[k] = true
				in.logger.WithFields(logrus.Fields{
					"source": src.String(),
					"target": f.Target.Name,
				}).Debug("dangling edge target")
			}
			dst = k
		}
		e := entity.DependencyEdge{Source: src, Target: dst, Type: f.Type}
		if id := e.ID(); !seen[id] {
			seen[id] = true
			out = append(out, e)
		}
	}
	report.Dangling = len(external)
	if report.Dangling > 0 {
		in.logger.WithField("count", report.Dangling).Warn("edge targets not found in repository")
	}
	return out
}

func (in *Ingester) write(ctx context.Context, s graph.Store, entities []entity.CodeEntity, edges []entity.DependencyEdge) error {
	for i := 0; i < len(entities); i += in.chunkSize {
		end := min(i+in.chunkSize, len(entities))
		if err := s.CommitBatch(ctx, graph.Batch{Upserts: entities[i:end]}); err != nil {
			return err
		}
	}
	for i := 0; i < len(edges); i += in.chunkSize {
		end := min(i+in.chunkSize, len(edges))
		if err := s.CommitBatch(ctx, graph.Batch{Edges: edges[i:end]}); err != nil {
			return err
		}
	}
	return nil
}

// index answers ref lookups over one set of stamped entities.
type index struct {
	byName  map[string]map[string][]entity.Key // file -> full name
	byShort map[string]map[string][]entity.Key // file -> short name
	global  map[string][]entity.Key            // short name
}

func newIndex(entities []entity.CodeEntity) *index {
	idx := &index{
		byName:  make(map[string]map[string][]entity.Key),
		byShort: make(map[string]map[string][]entity.Key),
		global:  make(map[string][]entity.Key),
	}
	add := func(m map[string]map[string][]entity.Key, file, name string, k entity.Key) {
		if m[file] == nil {
			m[file] = make(map[string][]entity.Key)
		}
		m[file][name] = append(m[file][name], k)
	}
	for i := range entities {
		e := &entities[i]
		add(idx.byName, e.FilePath, e.Name, e.Key)
		if e.Kind == entity.KindModule {
			continue
		}
		short := shortName(e.Name)
		add(idx.byShort, e.FilePath, short, e.Key)
		idx.global[short] = append(idx.global[short], e.Key)
	}
	for _, m := range []map[string]map[string][]entity.Key{idx.byName, idx.byShort} {
		for _, names := range m {
			for _, keys := range names {
				sortByLine(keys)
			}
		}
	}
	return idx
}

func (idx *index) files() int { return len(idx.byName) }

// lookupLocal resolves a ref within its own file only.
func (idx *index) lookupLocal(r Ref) (entity.Key, bool) {
	file, err := entity.NormalizePath(r.FilePath)
	if err != nil {
		return entity.Key{}, false
	}
	if k, ok := pick(idx.byName[file][r.Name], r.Line); ok {
		return k, true
	}
	return pick(idx.byShort[file][shortName(r.Name)], r.Line)
}

// lookup tries the ref's file first, then a repository-wide short name
// that names exactly one entity.
func (idx *index) lookup(r Ref) (entity.Key, bool) {
	if k, ok := idx.lookupLocal(r); ok {
		return k, true
	}
	if keys := idx.global[shortName(r.Name)]; len(keys) == 1 {
		return keys[0], true
	}
	return entity.Key{}, false
}

// pick returns the candidate starting at line, or the first when line is
// zero or matches none.
func pick(keys []entity.Key, line int) (entity.Key, bool) {
	if len(keys) == 0 {
		return entity.Key{}, false
	}
	if line > 0 {
		for _, k := range keys {
			if lr, ok := k.Lines(); ok && lr.Start == line {
				return k, true
			}
		}
	}
	return keys[0], true
}

func sortByLine(keys []entity.Key) {
	sort.Slice(keys, func(i, j int) bool {
		li, _ := keys[i].Lines()
		lj, _ := keys[j].Lines()
		if li.Start != lj.Start {
			return li.Start < lj.Start
		}
		return keys[i].Less(keys[j])
	})
}
