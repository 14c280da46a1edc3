package export

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dusk-indust/parseltongue/internal/commit"
	"github.com/dusk-indust/parseltongue/internal/entity"
	"github.com/dusk-indust/parseltongue/internal/query"
)

func goFn(name, file string, line int) entity.CodeEntity {
	return entity.CodeEntity{
		Key:         entity.MustGenerateKey(entity.LangGo, entity.KindFunction, name, file, line, line+2),
		Language:    entity.LangGo,
		Kind:        entity.KindFunction,
		Name:        name,
		FilePath:    file,
		Lines:       &entity.LineRange{Start: line, End: line + 2},
		CurrentCode: entity.Code("func " + name + "() {}"),
		Class:       entity.ClassCode,
		Temporal:    entity.Unchanged(),
	}
}

func TestBuildChangeSet(t *testing.T) {
	created, err := entity.GenerateKeyForNew("pkg/b.go", "New", entity.KindFunction)
	require.NoError(t, err)
	a := goFn("A", "pkg/a.go", 1)
	b := goFn("B", "pkg/b.go", 5)

	changes := []commit.PendingChange{
		{Key: a.Key, Action: entity.ActionEdit, FilePath: "pkg/a.go", Lines: a.Lines, CurrentCode: a.CurrentCode, FutureCode: entity.Code("func A() { B() }")},
		{Key: created, Action: entity.ActionCreate, FilePath: "pkg/b.go", FutureCode: entity.Code("func New() {}")},
		{Key: b.Key, Action: entity.ActionDelete, FilePath: "pkg/b.go", Lines: b.Lines, CurrentCode: b.CurrentCode},
	}
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.FixedZone("x", 3600))
	cs := BuildChangeSet(changes, now)

	assert.Equal(t, "2026-03-01T11:00:00Z", cs.ExportedAt)
	assert.Equal(t, ChangeSummary{Create: 1, Edit: 1, Delete: 1}, cs.Summary)
	require.Len(t, cs.Files, 2)
	assert.Equal(t, "pkg/a.go", cs.Files[0].FilePath)
	require.Len(t, cs.Files[1].Changes, 2)
	assert.Equal(t, created.String(), cs.Files[1].Changes[0].Key)
	assert.Nil(t, cs.Files[1].Changes[0].Lines)
	assert.Nil(t, cs.Files[1].Changes[1].FutureCode)
}

func TestPendingDocument(t *testing.T) {
	a := goFn("A", "pkg/a.go", 1)
	doc, err := PendingDocument([]commit.PendingChange{
		{Key: a.Key, Action: entity.ActionEdit, FilePath: "pkg/a.go", Lines: a.Lines, CurrentCode: a.CurrentCode, FutureCode: entity.Code("func A() {}\n")},
	})
	require.NoError(t, err)

	var decoded struct {
		Files []struct {
			FilePath string `json:"filePath"`
			Changes  []struct {
				Key        string `json:"key"`
				Action     string `json:"action"`
				Lines      struct{ Start, End int }
				FutureCode string `json:"futureCode"`
			} `json:"changes"`
		} `json:"files"`
	}
	require.NoError(t, json.Unmarshal(doc, &decoded))
	require.Len(t, decoded.Files, 1)
	c := decoded.Files[0].Changes[0]
	assert.Equal(t, a.Key.String(), c.Key)
	assert.Equal(t, "edit", c.Action)
	assert.Equal(t, 1, c.Lines.Start)
	assert.Equal(t, 3, c.Lines.End)
	assert.Equal(t, "func A() {}\n", c.FutureCode)
}

func TestPendingDocument_Empty(t *testing.T) {
	doc, err := PendingDocument(nil)
	require.NoError(t, err)
	assert.Contains(t, string(doc), `"files": []`)
}

func TestRadiusMermaid(t *testing.T) {
	a, b, c := goFn("A", "pkg/a.go", 1), goFn("B", "pkg/b.go", 1), goFn("C", "internal/deep/pkg/c.go", 1)
	snap := query.NewSnapshot([]entity.CodeEntity{a, b, c}, []entity.DependencyEdge{
		{Source: a.Key, Target: b.Key, Type: entity.EdgeCalls},
		{Source: b.Key, Target: c.Key, Type: entity.EdgeCalls},
	})
	r := &query.Radius{Origin: c.Key, Impacts: []query.Impact{{Key: b.Key, Distance: 1}, {Key: a.Key, Distance: 2}}}

	out := RadiusMermaid(r, snap)
	assert.True(t, strings.HasPrefix(out, "graph TD\n"))
	assert.Contains(t, out, `N0["C (pkg/c.go)"]`)
	assert.Contains(t, out, `["distance 1"]`)
	assert.Contains(t, out, `["distance 2"]`)
	assert.Contains(t, out, "-->|Calls|")
	assert.Equal(t, 2, strings.Count(out, "-->"))
	assert.Contains(t, out, "style N0 stroke-width:3px")
	assert.NotContains(t, out, "truncated")
}

func TestCyclesMermaid(t *testing.T) {
	a, b := goFn("A", "pkg/a.go", 1), goFn("B", "pkg/b.go", 1)
	snap := query.NewSnapshot([]entity.CodeEntity{a, b}, []entity.DependencyEdge{
		{Source: a.Key, Target: b.Key, Type: entity.EdgeCalls},
		{Source: b.Key, Target: a.Key, Type: entity.EdgeUses},
	})
	out := CyclesMermaid([]query.Cycle{{Keys: []entity.Key{a.Key, b.Key}}}, snap)
	assert.Contains(t, out, `["cycle 1"]`)
	assert.Contains(t, out, "-->|Calls|")
	assert.Contains(t, out, "-->|Uses|")
}

func TestClustersMermaid(t *testing.T) {
	a, a2, b := goFn("A", "src/pkg/a.go", 1), goFn("A2", "src/pkg/a.go", 10), goFn("B", "src/pkg/b.go", 1)
	snap := query.NewSnapshot([]entity.CodeEntity{a, a2, b}, []entity.DependencyEdge{
		{Source: a.Key, Target: b.Key, Type: entity.EdgeCalls},
		{Source: a2.Key, Target: b.Key, Type: entity.EdgeCalls},
		{Source: a.Key, Target: a2.Key, Type: entity.EdgeCalls},
	})
	clusters := query.ComputeClusters(snap, query.Options{})
	require.Len(t, clusters, 1)

	out := ClustersMermaid(clusters, snap)
	assert.Contains(t, out, `["src/pkg/"]`)
	assert.Contains(t, out, `["pkg/a.go"]`)
	assert.Equal(t, 1, strings.Count(out, "-->"), "one arrow per file pair")
}

func TestEscapeLabel(t *testing.T) {
	assert.Equal(t, "say #quot;hi#quot; now", escapeLabel("say \"hi\"\nnow"))
}
