package mcptools

import (
	"github.com/dusk-indust/parseltongue/internal/entity"
	"github.com/dusk-indust/parseltongue/internal/graph"
	"github.com/dusk-indust/parseltongue/internal/ingest"
	"github.com/dusk-indust/parseltongue/internal/query"
	"github.com/dusk-indust/parseltongue/internal/temporal"
)

// --- MCP Tool Input/Output Types ---
// The MCP Go SDK derives each tool's JSON schema from these structs, so
// keys travel as strings and every field is a plain JSON value.

// EntityView is the tool-facing form of an entity.
type EntityView struct {
	Key         string                    `json:"key"`
	Language    string                    `json:"language,omitempty"`
	Kind        string                    `json:"kind"`
	Name        string                    `json:"name"`
	FilePath    string                    `json:"filePath"`
	Lines       *entity.LineRange         `json:"lines,omitempty"`
	Signature   entity.InterfaceSignature `json:"signature"`
	Class       string                    `json:"class"`
	Temporal    TemporalView              `json:"temporal"`
	CurrentCode *string                   `json:"currentCode,omitempty"`
	FutureCode  *string                   `json:"futureCode,omitempty"`
}

// TemporalView is the (current, future, action) tuple of an entity.
type TemporalView struct {
	Current bool   `json:"current"`
	Future  bool   `json:"future"`
	Action  string `json:"action,omitempty"`
}

func newEntityView(e *entity.CodeEntity) EntityView {
	v := EntityView{
		Key:         e.Key.String(),
		Language:    string(e.Language),
		Kind:        string(e.Kind),
		Name:        e.Name,
		FilePath:    e.FilePath,
		Signature:   e.Signature,
		Class:       string(e.Class),
		CurrentCode: e.CurrentCode,
		FutureCode:  e.FutureCode,
		Temporal: TemporalView{
			Current: e.Temporal.Current(),
			Future:  e.Temporal.Future(),
			Action:  string(e.Temporal.Action()),
		},
	}
	if e.Lines != nil {
		l := *e.Lines
		v.Lines = &l
	}
	return v
}

func keyStrings(keys []entity.Key) []string {
	out := make([]string, len(keys))
	for i, k := range keys {
		out[i] = k.String()
	}
	return out
}

// IngestRepoInput is the input for the ingest_repo MCP tool.
type IngestRepoInput struct {
	RepoPath    string   `json:"repoPath" jsonschema:"the absolute path to the repository to ingest"`
	Languages   []string `json:"languages,omitempty" jsonschema:"languages to parse (default: all supported). Values: go, typescript, python, rust"`
	ExcludeDirs []string `json:"excludeDirs,omitempty" jsonschema:"extra directory names to skip (e.g. vendor, node_modules)"`
	Append      bool     `json:"append,omitempty" jsonschema:"add to the existing graph instead of resetting it first"`
}

// IngestRepoOutput is the result of the ingest_repo MCP tool.
type IngestRepoOutput struct {
	Report ingest.Report `json:"report"`
	Stats  graph.Stats   `json:"stats"`
}

// GetEntityInput is the input for the get_entity MCP tool.
type GetEntityInput struct {
	Key      string `json:"key" jsonschema:"entity key"`
	OmitCode bool   `json:"omitCode,omitempty" jsonschema:"leave current and future code out of the result"`
}

// GetEntityOutput is the result of the get_entity MCP tool.
type GetEntityOutput struct {
	Entity EntityView `json:"entity"`
}

// ListEntitiesInput is the input for the list_entities MCP tool.
type ListEntitiesInput struct {
	Kind         string `json:"kind,omitempty" jsonschema:"filter by kind: function, method, struct, class, module, ..."`
	FilePath     string `json:"filePath,omitempty" jsonschema:"filter by file path"`
	NameContains string `json:"nameContains,omitempty" jsonschema:"case-insensitive substring of the entity name"`
	PendingOnly  bool   `json:"pendingOnly,omitempty" jsonschema:"only entities with a pending create, edit or delete"`
	IncludeTests bool   `json:"includeTests,omitempty" jsonschema:"include TEST entities"`
	Limit        int    `json:"limit,omitempty" jsonschema:"maximum number of results (default: 100)"`
}

// ListEntitiesOutput is the result of the list_entities MCP tool. Code is
// omitted; use get_entity for it.
type ListEntitiesOutput struct {
	Entities []EntityView `json:"entities"`
	Total    int          `json:"total"`
}

// DependenciesInput is the input for forward_dependencies and
// reverse_dependencies.
type DependenciesInput struct {
	Key          string   `json:"key" jsonschema:"entity key"`
	EdgeTypes    []string `json:"edgeTypes,omitempty" jsonschema:"edge types to follow (default: all)"`
	IncludeTests bool     `json:"includeTests,omitempty" jsonschema:"include TEST entities"`
}

// DependenciesOutput lists direct neighbours.
type DependenciesOutput struct {
	Key  string   `json:"key"`
	Keys []string `json:"keys"`
}

// BlastRadiusInput is the input for the blast_radius MCP tool.
type BlastRadiusInput struct {
	Key          string   `json:"key" jsonschema:"entity key whose change is assessed"`
	MaxHops      int      `json:"maxHops,omitempty" jsonschema:"maximum reverse hops (default from configuration)"`
	Transitive   bool     `json:"transitive,omitempty" jsonschema:"ignore maxHops and compute the full transitive closure, bounded by node and time limits"`
	EdgeTypes    []string `json:"edgeTypes,omitempty" jsonschema:"edge types to follow (default: all)"`
	IncludeTests bool     `json:"includeTests,omitempty" jsonschema:"include TEST entities"`
}

// ImpactView is one entity reached by a radius query.
type ImpactView struct {
	Key      string `json:"key"`
	Distance int    `json:"distance"`
}

// BlastRadiusOutput is the result of the blast_radius MCP tool.
type BlastRadiusOutput struct {
	Origin    string       `json:"origin"`
	MaxHops   int          `json:"maxHops,omitempty"`
	Impacts   []ImpactView `json:"impacts"`
	Truncated bool         `json:"truncated,omitempty"`
}

func newRadiusOutput(r *query.Radius) BlastRadiusOutput {
	out := BlastRadiusOutput{
		Origin:    r.Origin.String(),
		MaxHops:   r.MaxHops,
		Impacts:   make([]ImpactView, len(r.Impacts)),
		Truncated: r.Truncated,
	}
	for i, im := range r.Impacts {
		out.Impacts[i] = ImpactView{Key: im.Key.String(), Distance: im.Distance}
	}
	return out
}

// DetectCyclesInput is the input for the detect_cycles MCP tool.
type DetectCyclesInput struct {
	Seeds        []string `json:"seeds,omitempty" jsonschema:"only report cycles reachable from these keys (default: whole graph)"`
	EdgeTypes    []string `json:"edgeTypes,omitempty" jsonschema:"edge types to follow (default: all)"`
	IncludeTests bool     `json:"includeTests,omitempty" jsonschema:"include TEST entities"`
}

// CycleView is one strongly connected component.
type CycleView struct {
	Keys     []string `json:"keys"`
	SelfLoop bool     `json:"selfLoop,omitempty"`
}

// DetectCyclesOutput is the result of the detect_cycles MCP tool.
type DetectCyclesOutput struct {
	Cycles []CycleView `json:"cycles"`
	Count  int         `json:"count"`
}

// ProposeCreateInput is the input for the propose_create MCP tool.
type ProposeCreateInput struct {
	Language  string                     `json:"language,omitempty" jsonschema:"language of the new entity"`
	Kind      string                     `json:"kind" jsonschema:"kind of the new entity, e.g. function"`
	Name      string                     `json:"name" jsonschema:"name of the new entity"`
	FilePath  string                     `json:"filePath" jsonschema:"file the entity will live in"`
	Code      string                     `json:"code" jsonschema:"source code of the new entity"`
	Signature *entity.InterfaceSignature `json:"signature,omitempty" jsonschema:"interface signature"`
	Edges     []temporal.EdgeDoc         `json:"edges,omitempty" jsonschema:"dependency edges of the new entity; an empty source is the new entity"`
}

// ProposeEditInput is the input for the propose_edit MCP tool.
type ProposeEditInput struct {
	Key   string             `json:"key" jsonschema:"entity key"`
	Code  string             `json:"code" jsonschema:"new source code"`
	Edges []temporal.EdgeDoc `json:"edges,omitempty" jsonschema:"dependency edges the edit introduces"`
}

// ProposeDeleteInput is the input for the propose_delete MCP tool.
type ProposeDeleteInput struct {
	Key string `json:"key" jsonschema:"entity key"`
}

// ProposeOutput is the result of the single-change propose tools.
type ProposeOutput struct {
	Key     string `json:"key"`
	BatchID string `json:"batchId"`
}

// ApplyBatchInput is the input for the apply_batch MCP tool.
type ApplyBatchInput struct {
	Policy  string               `json:"policy,omitempty" jsonschema:"conflict policy: fail-fast (default), use-latest, use-earliest or attempt-merge"`
	Changes []temporal.ChangeDoc `json:"changes" jsonschema:"the proposed changes, in proposal order"`
	DryRun  bool                 `json:"dryRun,omitempty" jsonschema:"evaluate every rule without writing"`
}

// VerdictView is the outcome of one validation rule.
type VerdictView struct {
	Rule     string   `json:"rule"`
	Accepted bool     `json:"accepted"`
	Reason   string   `json:"reason,omitempty"`
	Keys     []string `json:"keys,omitempty"`
}

func newVerdictViews(vs []temporal.Verdict) []VerdictView {
	out := make([]VerdictView, len(vs))
	for i, v := range vs {
		out[i] = VerdictView{
			Rule:     v.Rule.Kind.String(),
			Accepted: v.Accepted,
			Reason:   v.Reason,
			Keys:     keyStrings(v.Keys),
		}
	}
	return out
}

// ApplyBatchOutput is the result of the apply_batch MCP tool. A batch
// rejected by a rule is reported here with Accepted false, not as an error.
type ApplyBatchOutput struct {
	BatchID  string        `json:"batchId"`
	Accepted bool          `json:"accepted"`
	DryRun   bool          `json:"dryRun,omitempty"`
	Applied  []string      `json:"applied,omitempty"`
	Dropped  int           `json:"dropped,omitempty"`
	Verdicts []VerdictView `json:"verdicts,omitempty"`
}

// PendingChangesInput is the input for the pending_changes MCP tool.
type PendingChangesInput struct{}

// ResetInput is the input for the reset MCP tool.
type ResetInput struct {
	Confirm bool `json:"confirm" jsonschema:"must be true; reset discards every entity and edge without backup"`
}

// ResetOutput is the result of the reset MCP tool.
type ResetOutput struct {
	Reset bool `json:"reset"`
}
