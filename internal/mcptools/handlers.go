package mcptools

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/sirupsen/logrus"

	"github.com/dusk-indust/parseltongue/internal/commit"
	"github.com/dusk-indust/parseltongue/internal/config"
	"github.com/dusk-indust/parseltongue/internal/entity"
	"github.com/dusk-indust/parseltongue/internal/export"
	"github.com/dusk-indust/parseltongue/internal/graph"
	"github.com/dusk-indust/parseltongue/internal/ingest"
	"github.com/dusk-indust/parseltongue/internal/logging"
	"github.com/dusk-indust/parseltongue/internal/parse"
	"github.com/dusk-indust/parseltongue/internal/query"
	"github.com/dusk-indust/parseltongue/internal/temporal"
)

const defaultListLimit = 100

// Service holds the graph and the components the MCP tool handlers call.
type Service struct {
	handle   *graph.Handle
	engine   *query.Engine
	machine  *temporal.Machine
	ctrl     *commit.Controller
	ingester *ingest.Ingester
	parser   parse.Parser
	cfg      *config.ProjectConfig
	policy   temporal.Policy
	logger   logrus.FieldLogger
}

// NewService wires the query engine, temporal machine and commit controller
// over h. A nil cfg uses config.Default; a nil logger discards.
func NewService(h *graph.Handle, p parse.Parser, cfg *config.ProjectConfig, logger logrus.FieldLogger) (*Service, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	logger = logging.OrDiscard(logger)
	policy, err := temporal.ParsePolicy(cfg.Temporal.ConflictPolicy)
	if err != nil {
		return nil, fmt.Errorf("temporal.conflictPolicy: %w", err)
	}

	rules := temporal.DefaultRules()
	for i := range rules {
		if rules[i].Kind == temporal.RuleCircularDependency {
			rules[i].Strict = cfg.Temporal.StrictCycles
		}
	}

	engine := query.NewEngine(h.Store, query.WithLogger(logger), query.WithConfig(cfg.Query))
	in := ingest.NewIngester(h, ingest.WithLogger(logger))
	return &Service{
		handle:   h,
		engine:   engine,
		machine:  temporal.NewMachine(h, temporal.WithRules(rules...), temporal.WithLogger(logger), temporal.WithEngine(engine)),
		ctrl:     commit.NewController(h, commit.WithLogger(logger), commit.WithIngester(in)),
		ingester: in,
		parser:   p,
		cfg:      cfg,
		policy:   policy,
		logger:   logger,
	}, nil
}

// Engine returns the query engine over the graph.
func (s *Service) Engine() *query.Engine { return s.engine }

// Controller returns the commit controller over the graph.
func (s *Service) Controller() *commit.Controller { return s.ctrl }

// RepoSource returns a source for root using the configured languages and
// excluded directories. langs replaces the configured languages when
// non-empty; excludeDirs adds to the configured ones.
func (s *Service) RepoSource(root string, langs, excludeDirs []string) *ingest.RepoSource {
	if len(langs) == 0 {
		langs = s.cfg.Languages
	}
	return ingest.NewRepoSource(root, s.parser,
		ingest.WithLanguages(langs...),
		ingest.WithExcludeDirs(append(append([]string(nil), s.cfg.ExcludeDirs...), excludeDirs...)...),
		ingest.WithWorkers(s.cfg.Workers),
		ingest.WithSourceLogger(s.logger),
	)
}

// IngestRepo walks a repository, parses source files and loads the facts
// into the graph. The graph is replaced unless input.Append is set.
func (s *Service) IngestRepo(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	input IngestRepoInput,
) (*mcp.CallToolResult, IngestRepoOutput, error) {
	if input.RepoPath == "" {
		return nil, IngestRepoOutput{}, fmt.Errorf("repoPath is required")
	}
	root, err := filepath.Abs(input.RepoPath)
	if err != nil {
		return nil, IngestRepoOutput{}, fmt.Errorf("resolve repoPath: %w", err)
	}
	info, err := os.Stat(root)
	if err != nil {
		return nil, IngestRepoOutput{}, fmt.Errorf("cannot access repoPath: %w", err)
	}
	if !info.IsDir() {
		return nil, IngestRepoOutput{}, fmt.Errorf("repoPath is not a directory: %s", input.RepoPath)
	}

	src := s.RepoSource(root, input.Languages, input.ExcludeDirs)

	var report *ingest.Report
	if input.Append {
		entities, edges, err := src.Facts(ctx)
		if err != nil {
			return nil, IngestRepoOutput{}, fmt.Errorf("collect facts: %w", err)
		}
		report, err = s.ingester.Ingest(ctx, entities, edges)
		if err != nil {
			return nil, IngestRepoOutput{}, fmt.Errorf("ingest: %w", err)
		}
	} else {
		report, err = s.ctrl.Rebuild(ctx, src)
		if err != nil {
			return nil, IngestRepoOutput{}, fmt.Errorf("rebuild: %w", err)
		}
	}

	stats, err := s.handle.Store.Stats(ctx)
	if err != nil {
		return nil, IngestRepoOutput{}, fmt.Errorf("stats: %w", err)
	}
	return nil, IngestRepoOutput{Report: *report, Stats: *stats}, nil
}

// GetEntity returns one entity by key.
func (s *Service) GetEntity(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	input GetEntityInput,
) (*mcp.CallToolResult, GetEntityOutput, error) {
	key, err := entity.ParseKey(input.Key)
	if err != nil {
		return nil, GetEntityOutput{}, err
	}
	e, err := s.handle.Store.GetEntity(ctx, key)
	if err != nil {
		return nil, GetEntityOutput{}, err
	}
	if input.OmitCode {
		graph.OmitCode.Apply(e)
	}
	return nil, GetEntityOutput{Entity: newEntityView(e)}, nil
}

// ListEntities filters entities by kind, file, name and pending state.
func (s *Service) ListEntities(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	input ListEntitiesInput,
) (*mcp.CallToolResult, ListEntitiesOutput, error) {
	var preds []query.Predicate
	if input.Kind != "" {
		preds = append(preds, query.OfKind(entity.Kind(strings.ToLower(input.Kind))))
	}
	if input.FilePath != "" {
		preds = append(preds, query.InFile(input.FilePath))
	}
	if input.NameContains != "" {
		needle := strings.ToLower(input.NameContains)
		preds = append(preds, func(e *entity.CodeEntity) bool {
			return strings.Contains(strings.ToLower(e.Name), needle)
		})
	}
	if input.PendingOnly {
		preds = append(preds, query.PendingOnly())
	}
	if !input.IncludeTests {
		preds = append(preds, query.Not(query.OfClass(entity.ClassTest)))
	}

	entities, err := s.engine.Select(ctx, query.And(preds...), graph.OmitCode)
	if err != nil {
		return nil, ListEntitiesOutput{}, err
	}
	limit := input.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	out := ListEntitiesOutput{Entities: []EntityView{}, Total: len(entities)}
	for i := range entities {
		if i == limit {
			break
		}
		out.Entities = append(out.Entities, newEntityView(&entities[i]))
	}
	return nil, out, nil
}

// ForwardDependencies lists what key depends on directly.
func (s *Service) ForwardDependencies(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	input DependenciesInput,
) (*mcp.CallToolResult, DependenciesOutput, error) {
	return s.dependencies(ctx, input, s.engine.ForwardDependencies)
}

// ReverseDependencies lists what depends on key directly.
func (s *Service) ReverseDependencies(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	input DependenciesInput,
) (*mcp.CallToolResult, DependenciesOutput, error) {
	return s.dependencies(ctx, input, s.engine.ReverseDependencies)
}

type neighborFunc func(context.Context, entity.Key, ...query.Option) ([]entity.Key, error)

func (s *Service) dependencies(ctx context.Context, input DependenciesInput, fn neighborFunc) (*mcp.CallToolResult, DependenciesOutput, error) {
	key, err := entity.ParseKey(input.Key)
	if err != nil {
		return nil, DependenciesOutput{}, err
	}
	opts, err := traversalOptions(input.EdgeTypes, input.IncludeTests)
	if err != nil {
		return nil, DependenciesOutput{}, err
	}
	keys, err := fn(ctx, key, opts...)
	if err != nil {
		return nil, DependenciesOutput{}, err
	}
	return nil, DependenciesOutput{Key: key.String(), Keys: keyStrings(keys)}, nil
}

// BlastRadius reports every entity affected by a change to key with its
// hop distance.
func (s *Service) BlastRadius(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	input BlastRadiusInput,
) (*mcp.CallToolResult, BlastRadiusOutput, error) {
	key, err := entity.ParseKey(input.Key)
	if err != nil {
		return nil, BlastRadiusOutput{}, err
	}
	if input.MaxHops < 0 {
		return nil, BlastRadiusOutput{}, fmt.Errorf("maxHops must not be negative")
	}
	opts, err := traversalOptions(input.EdgeTypes, input.IncludeTests)
	if err != nil {
		return nil, BlastRadiusOutput{}, err
	}

	var r *query.Radius
	if input.Transitive {
		r, err = s.engine.TransitiveClosure(ctx, key, opts...)
	} else {
		r, err = s.engine.BlastRadius(ctx, key, input.MaxHops, opts...)
	}
	if err != nil {
		return nil, BlastRadiusOutput{}, err
	}
	return nil, newRadiusOutput(r), nil
}

// DetectCycles returns the strongly connected components of the graph.
func (s *Service) DetectCycles(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	input DetectCyclesInput,
) (*mcp.CallToolResult, DetectCyclesOutput, error) {
	seeds := make([]entity.Key, 0, len(input.Seeds))
	for _, raw := range input.Seeds {
		k, err := entity.ParseKey(raw)
		if err != nil {
			return nil, DetectCyclesOutput{}, err
		}
		seeds = append(seeds, k)
	}
	opts, err := traversalOptions(input.EdgeTypes, input.IncludeTests)
	if err != nil {
		return nil, DetectCyclesOutput{}, err
	}
	cycles, err := s.engine.DetectCycles(ctx, seeds, opts...)
	if err != nil {
		return nil, DetectCyclesOutput{}, err
	}
	out := DetectCyclesOutput{Cycles: make([]CycleView, len(cycles)), Count: len(cycles)}
	for i, c := range cycles {
		out.Cycles[i] = CycleView{Keys: keyStrings(c.Keys), SelfLoop: c.SelfLoop}
	}
	return nil, out, nil
}

// ProposeCreate records a pending create.
func (s *Service) ProposeCreate(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	input ProposeCreateInput,
) (*mcp.CallToolResult, ProposeOutput, error) {
	code := input.Code
	return s.propose(ctx, temporal.ChangeDoc{
		Action:    string(entity.ActionCreate),
		Language:  input.Language,
		Kind:      input.Kind,
		Name:      input.Name,
		FilePath:  input.FilePath,
		Signature: input.Signature,
		Code:      &code,
		Edges:     input.Edges,
	})
}

// ProposeEdit records a pending edit.
func (s *Service) ProposeEdit(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	input ProposeEditInput,
) (*mcp.CallToolResult, ProposeOutput, error) {
	code := input.Code
	return s.propose(ctx, temporal.ChangeDoc{
		Action: string(entity.ActionEdit),
		Key:    input.Key,
		Code:   &code,
		Edges:  input.Edges,
	})
}

// ProposeDelete records a pending delete.
func (s *Service) ProposeDelete(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	input ProposeDeleteInput,
) (*mcp.CallToolResult, ProposeOutput, error) {
	return s.propose(ctx, temporal.ChangeDoc{Action: string(entity.ActionDelete), Key: input.Key})
}

func (s *Service) propose(ctx context.Context, doc temporal.ChangeDoc) (*mcp.CallToolResult, ProposeOutput, error) {
	change, err := doc.Change()
	if err != nil {
		return nil, ProposeOutput{}, err
	}
	key, err := change.Target()
	if err != nil {
		return nil, ProposeOutput{}, err
	}
	res, err := s.machine.ApplyBatch(ctx, []temporal.Change{change}, temporal.FailFast)
	if err != nil {
		return nil, ProposeOutput{}, err
	}
	return nil, ProposeOutput{Key: key.String(), BatchID: res.BatchID}, nil
}

// ApplyBatch validates and applies several changes atomically. A batch a
// rule rejects is a normal result carrying the verdicts.
func (s *Service) ApplyBatch(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	input ApplyBatchInput,
) (*mcp.CallToolResult, ApplyBatchOutput, error) {
	doc := temporal.BatchDoc{Policy: input.Policy, Changes: input.Changes}
	policy, changes, err := doc.Resolve()
	if err != nil {
		return nil, ApplyBatchOutput{}, err
	}
	if input.Policy == "" {
		policy = s.policy
	}

	if input.DryRun {
		plan, err := s.machine.Plan(ctx, changes, policy)
		if err != nil {
			return nil, ApplyBatchOutput{}, err
		}
		out := ApplyBatchOutput{
			BatchID:  plan.ID,
			Accepted: plan.Accepted(),
			DryRun:   true,
			Dropped:  len(plan.Dropped),
			Verdicts: newVerdictViews(plan.Verdicts),
		}
		for i := range plan.After {
			out.Applied = append(out.Applied, plan.After[i].Key.String())
		}
		return nil, out, nil
	}

	res, err := s.machine.ApplyBatch(ctx, changes, policy)
	var verr *temporal.ValidationError
	if errors.As(err, &verr) {
		return nil, ApplyBatchOutput{BatchID: verr.BatchID, Verdicts: newVerdictViews(verr.Rejected)}, nil
	}
	if err != nil {
		return nil, ApplyBatchOutput{}, err
	}
	return nil, ApplyBatchOutput{
		BatchID:  res.BatchID,
		Accepted: true,
		Applied:  keyStrings(res.Applied),
		Dropped:  len(res.Dropped),
	}, nil
}

// PendingChanges exports every pending change grouped by file.
func (s *Service) PendingChanges(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	_ PendingChangesInput,
) (*mcp.CallToolResult, export.ChangeSet, error) {
	changes, err := s.ctrl.PendingChanges(ctx)
	if err != nil {
		return nil, export.ChangeSet{}, err
	}
	return nil, *export.BuildChangeSet(changes, time.Now()), nil
}

// Reset discards the whole graph.
func (s *Service) Reset(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	input ResetInput,
) (*mcp.CallToolResult, ResetOutput, error) {
	if !input.Confirm {
		return nil, ResetOutput{}, fmt.Errorf("reset requires confirm=true")
	}
	if err := s.ctrl.Reset(ctx); err != nil {
		return nil, ResetOutput{}, err
	}
	return nil, ResetOutput{Reset: true}, nil
}

func traversalOptions(edgeTypes []string, includeTests bool) ([]query.Option, error) {
	var opts []query.Option
	if len(edgeTypes) > 0 {
		types := make([]entity.EdgeType, 0, len(edgeTypes))
		for _, raw := range edgeTypes {
			t, ok := entity.ParseEdgeType(raw)
			if !ok {
				return nil, fmt.Errorf("unknown edge type %q", raw)
			}
			types = append(types, t)
		}
		opts = append(opts, query.WithEdgeTypes(types...))
	}
	if includeTests {
		opts = append(opts, query.IncludeTests())
	}
	return opts, nil
}
