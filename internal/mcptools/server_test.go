//go:build cgo

package mcptools

import (
	"context"
	"encoding/json"
	"sort"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dusk-indust/parseltongue/internal/config"
	"github.com/dusk-indust/parseltongue/internal/export"
	"github.com/dusk-indust/parseltongue/internal/graph"
	"github.com/dusk-indust/parseltongue/internal/parse"
	"github.com/dusk-indust/parseltongue/internal/temporal"
)

const fixtureRepo = "../../testdata/fixtures/go_project"

// setupServerClient wires an MCP server and client together using in-memory
// transports and returns the connected client session.
func setupServerClient(t *testing.T) *mcp.ClientSession {
	t.Helper()

	store := graph.NewMemStore()
	parser := parse.NewTreeSitterParser()
	t.Cleanup(func() { _ = parser.Close() })
	svc, err := NewService(graph.NewHandle(store), parser, config.Default(), nil)
	require.NoError(t, err)
	server := NewServer(svc)

	st, ct := mcp.NewInMemoryTransports()
	ctx := context.Background()

	_, err = server.Connect(ctx, st, nil)
	require.NoError(t, err)

	client := mcp.NewClient(&mcp.Implementation{
		Name:    "test-client",
		Version: "1.0.0",
	}, nil)

	session, err := client.Connect(ctx, ct, nil)
	require.NoError(t, err)

	t.Cleanup(func() {
		session.Close()
	})

	return session
}

// callTool invokes a tool and decodes its structured result into out.
func callTool(t *testing.T, session *mcp.ClientSession, name string, args any, out any) *mcp.CallToolResult {
	t.Helper()
	result, err := session.CallTool(context.Background(), &mcp.CallToolParams{
		Name:      name,
		Arguments: args,
	})
	require.NoError(t, err)
	if out != nil && !result.IsError {
		raw, err := json.Marshal(result.StructuredContent)
		require.NoError(t, err)
		require.NoError(t, json.Unmarshal(raw, out))
	}
	return result
}

func ingestFixture(t *testing.T, session *mcp.ClientSession) IngestRepoOutput {
	t.Helper()
	var out IngestRepoOutput
	res := callTool(t, session, "ingest_repo", map[string]any{"repoPath": fixtureRepo}, &out)
	require.False(t, res.IsError, "ingest_repo failed: %+v", res.Content)
	return out
}

// keyOf finds the single entity whose name contains name.
func keyOf(t *testing.T, session *mcp.ClientSession, file, name string) string {
	t.Helper()
	var out ListEntitiesOutput
	res := callTool(t, session, "list_entities", map[string]any{"filePath": file, "nameContains": name}, &out)
	require.False(t, res.IsError)
	require.Len(t, out.Entities, 1, "entities matching %q in %s", name, file)
	return out.Entities[0].Key
}

func TestMCPListTools(t *testing.T) {
	session := setupServerClient(t)

	result, err := session.ListTools(context.Background(), &mcp.ListToolsParams{})
	require.NoError(t, err)

	names := make([]string, len(result.Tools))
	for i, tool := range result.Tools {
		names[i] = tool.Name
	}
	sort.Strings(names)

	assert.Equal(t, []string{
		"apply_batch",
		"blast_radius",
		"detect_cycles",
		"forward_dependencies",
		"get_entity",
		"ingest_repo",
		"list_entities",
		"pending_changes",
		"propose_create",
		"propose_delete",
		"propose_edit",
		"reset",
		"reverse_dependencies",
	}, names)
}

func TestMCPIngestAndQuery(t *testing.T) {
	session := setupServerClient(t)

	ingested := ingestFixture(t, session)
	assert.Equal(t, 2, ingested.Report.Files)
	assert.Greater(t, ingested.Stats.EntityCount, 5)
	assert.Greater(t, ingested.Stats.EdgeCount, 0)
	assert.Zero(t, ingested.Stats.PendingCount)

	newUser := keyOf(t, session, "model.go", "newUser")
	create := keyOf(t, session, "service.go", "CreateUser")

	var entity GetEntityOutput
	callTool(t, session, "get_entity", map[string]any{"key": newUser}, &entity)
	assert.Equal(t, "newUser", entity.Entity.Name)
	assert.Equal(t, "function", entity.Entity.Kind)
	require.NotNil(t, entity.Entity.CurrentCode)
	assert.Contains(t, *entity.Entity.CurrentCode, "func newUser")
	assert.True(t, entity.Entity.Temporal.Current)
	assert.True(t, entity.Entity.Temporal.Future)

	var reverse DependenciesOutput
	callTool(t, session, "reverse_dependencies", map[string]any{"key": newUser, "edgeTypes": []string{"Calls"}}, &reverse)
	assert.Equal(t, []string{create}, reverse.Keys)

	var forward DependenciesOutput
	callTool(t, session, "forward_dependencies", map[string]any{"key": create, "edgeTypes": []string{"calls"}}, &forward)
	assert.Contains(t, forward.Keys, newUser)

	var radius BlastRadiusOutput
	callTool(t, session, "blast_radius", map[string]any{"key": newUser, "maxHops": 1}, &radius)
	assert.Equal(t, newUser, radius.Origin)
	assert.Contains(t, radius.Impacts, ImpactView{Key: create, Distance: 1})
	for _, im := range radius.Impacts {
		assert.Equal(t, 1, im.Distance)
	}

	var cycles DetectCyclesOutput
	callTool(t, session, "detect_cycles", map[string]any{}, &cycles)
	assert.Zero(t, cycles.Count)
}

func TestMCPGetEntity_Errors(t *testing.T) {
	session := setupServerClient(t)
	ingestFixture(t, session)

	res := callTool(t, session, "get_entity", map[string]any{"key": "not-a-key"}, nil)
	assert.True(t, res.IsError, "malformed key")

	res = callTool(t, session, "get_entity", map[string]any{"key": "go:function:ghost:model.go:1-2"}, nil)
	assert.True(t, res.IsError, "unknown key")

	res = callTool(t, session, "blast_radius", map[string]any{"key": "go:function:ghost:model.go:1-2"}, nil)
	assert.True(t, res.IsError)
}

func TestMCPProposeAndPending(t *testing.T) {
	session := setupServerClient(t)
	ingestFixture(t, session)
	newUser := keyOf(t, session, "model.go", "newUser")

	var edit ProposeOutput
	res := callTool(t, session, "propose_edit", map[string]any{
		"key":  newUser,
		"code": "func newUser(name, email string) *User {\n\treturn &User{Name: name}\n}",
	}, &edit)
	require.False(t, res.IsError, "%+v", res.Content)
	assert.Equal(t, newUser, edit.Key)
	assert.NotEmpty(t, edit.BatchID)

	var created ProposeOutput
	res = callTool(t, session, "propose_create", map[string]any{
		"language": "go",
		"kind":     "function",
		"name":     "validateEmail",
		"filePath": "model.go",
		"code":     "func validateEmail(email string) bool { return email != \"\" }",
		"edges":    []map[string]any{{"source": newUser, "target": "", "type": "Calls"}},
	}, &created)
	assert.True(t, res.IsError, "edge target must be a key")

	res = callTool(t, session, "propose_create", map[string]any{
		"language": "go",
		"kind":     "function",
		"name":     "validateEmail",
		"filePath": "model.go",
		"code":     "func validateEmail(email string) bool { return email != \"\" }",
	}, &created)
	require.False(t, res.IsError, "%+v", res.Content)
	want, err := (temporal.CreateSpec{Kind: "function", Name: "validateEmail", FilePath: "model.go"}).Key()
	require.NoError(t, err)
	assert.Equal(t, want.String(), created.Key)

	var listed ListEntitiesOutput
	callTool(t, session, "list_entities", map[string]any{"pendingOnly": true}, &listed)
	assert.Equal(t, 2, listed.Total)

	var cs export.ChangeSet
	callTool(t, session, "pending_changes", map[string]any{}, &cs)
	assert.Equal(t, export.ChangeSummary{Create: 1, Edit: 1}, cs.Summary)
	require.Len(t, cs.Files, 1)
	assert.Equal(t, "model.go", cs.Files[0].FilePath)
	require.Len(t, cs.Files[0].Changes, 2)
	assert.Equal(t, created.Key, cs.Files[0].Changes[0].Key, "creates sort before line-anchored changes")
}

func TestMCPApplyBatch(t *testing.T) {
	session := setupServerClient(t)
	ingestFixture(t, session)
	newUser := keyOf(t, session, "model.go", "newUser")
	create := keyOf(t, session, "service.go", "CreateUser")

	cyclic := map[string]any{
		"changes": []map[string]any{{
			"action": "edit",
			"key":    newUser,
			"code":   "func newUser() {}",
			"edges":  []map[string]any{{"target": create, "type": "Calls"}},
		}},
	}

	var rejected ApplyBatchOutput
	res := callTool(t, session, "apply_batch", cyclic, &rejected)
	require.False(t, res.IsError, "a rejected batch is a result, not an error")
	assert.False(t, rejected.Accepted)
	require.NotEmpty(t, rejected.Verdicts)
	assert.Equal(t, temporal.RuleCircularDependency.String(), rejected.Verdicts[0].Rule)

	var cs export.ChangeSet
	callTool(t, session, "pending_changes", map[string]any{}, &cs)
	assert.Empty(t, cs.Files, "rejected batch writes nothing")

	var dry ApplyBatchOutput
	callTool(t, session, "apply_batch", map[string]any{
		"dryRun":  true,
		"changes": []map[string]any{{"action": "delete", "key": create}},
	}, &dry)
	assert.True(t, dry.Accepted)
	assert.True(t, dry.DryRun)
	assert.Equal(t, []string{create}, dry.Applied)
	callTool(t, session, "pending_changes", map[string]any{}, &cs)
	assert.Empty(t, cs.Files, "dry run writes nothing")

	var applied ApplyBatchOutput
	res = callTool(t, session, "apply_batch", map[string]any{
		"policy": "use-latest",
		"changes": []map[string]any{
			{"action": "edit", "key": create, "code": "first"},
			{"action": "edit", "key": create, "code": "second"},
		},
	}, &applied)
	require.False(t, res.IsError, "%+v", res.Content)
	assert.True(t, applied.Accepted)
	assert.Equal(t, 1, applied.Dropped)

	var got GetEntityOutput
	callTool(t, session, "get_entity", map[string]any{"key": create}, &got)
	require.NotNil(t, got.Entity.FutureCode)
	assert.Equal(t, "second", *got.Entity.FutureCode)
	assert.Equal(t, "edit", got.Entity.Temporal.Action)

	res = callTool(t, session, "apply_batch", map[string]any{
		"changes": []map[string]any{
			{"action": "delete", "key": newUser},
			{"action": "delete", "key": newUser},
		},
	}, nil)
	assert.True(t, res.IsError, "fail-fast conflict")
}

func TestMCPReset(t *testing.T) {
	session := setupServerClient(t)
	ingestFixture(t, session)

	res := callTool(t, session, "reset", map[string]any{"confirm": false}, nil)
	assert.True(t, res.IsError)

	var listed ListEntitiesOutput
	callTool(t, session, "list_entities", map[string]any{}, &listed)
	assert.NotZero(t, listed.Total)

	var out ResetOutput
	res = callTool(t, session, "reset", map[string]any{"confirm": true}, &out)
	require.False(t, res.IsError)
	assert.True(t, out.Reset)

	callTool(t, session, "list_entities", map[string]any{}, &listed)
	assert.Zero(t, listed.Total)
}

func TestTraversalOptions(t *testing.T) {
	opts, err := traversalOptions([]string{"calls", "USES"}, true)
	require.NoError(t, err)
	assert.Len(t, opts, 2)

	_, err = traversalOptions([]string{"Owns"}, false)
	assert.Error(t, err)

	opts, err = traversalOptions(nil, false)
	require.NoError(t, err)
	assert.Empty(t, opts)
}
