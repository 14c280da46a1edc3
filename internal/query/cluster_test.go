package query

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dusk-indust/parseltongue/internal/entity"
)

func TestClusters_NoCrossFileEdges(t *testing.T) {
	// Edges inside one file never link files, so no cluster forms.
	a := fnIn("a", "src/pkg/a.go", 1)
	a2 := fnIn("a2", "src/pkg/a.go", 10)
	b := fnIn("b", "src/pkg/b.go", 1)
	eng, _ := newEngine(t, []entity.Key{a, a2, b}, []entity.DependencyEdge{
		edge(a, a2, entity.EdgeCalls),
	})

	clusters, err := eng.Clusters(context.Background())
	require.NoError(t, err)
	assert.Empty(t, clusters)
}

func TestClusters_OnePair(t *testing.T) {
	a := fnIn("a", "src/pkg/a.go", 1)
	b := fnIn("b", "src/pkg/b.go", 1)
	c := fnIn("c", "src/other/c.go", 1)
	eng, _ := newEngine(t, []entity.Key{a, b, c}, []entity.DependencyEdge{
		edge(a, b, entity.EdgeCalls),
	})

	clusters, err := eng.Clusters(context.Background())
	require.NoError(t, err)
	require.Len(t, clusters, 1)

	cl := clusters[0]
	assert.Equal(t, "src/pkg/", cl.Name)
	assert.Equal(t, []string{"src/pkg/a.go", "src/pkg/b.go"}, cl.Files)
	assert.Equal(t, []entity.Key{a, b}, cl.Entities)
	assert.InDelta(t, 1.0, cl.Cohesion, 1e-9)
}

func TestClusters_ExternalEdgesLowerCohesion(t *testing.T) {
	a := fnIn("a", "src/pkg/a.go", 1)
	b := fnIn("b", "src/pkg/b.go", 1)
	ext, err := entity.GenerateKeyForNew(entity.ExternalPath, "os.Exit", entity.KindUnknown)
	require.NoError(t, err)
	eng, _ := newEngine(t, []entity.Key{a, b}, []entity.DependencyEdge{
		edge(a, b, entity.EdgeCalls),
		edge(b, ext, entity.EdgeCalls),
	})

	clusters, err := eng.Clusters(context.Background())
	require.NoError(t, err)
	require.Len(t, clusters, 1)
	assert.InDelta(t, 0.5, clusters[0].Cohesion, 1e-9)
}

func TestLongestCommonPrefix(t *testing.T) {
	tests := []struct {
		name  string
		paths []string
		want  string
	}{
		{"empty", nil, ""},
		{"single", []string{"a/b.go"}, "a/b.go"},
		{"same dir", []string{"src/a.go", "src/b.go"}, "src/"},
		{"nested", []string{"src/x/a.go", "src/y/b.go"}, "src/"},
		{"partial segment", []string{"src/abc.go", "src/abd.go"}, "src/"},
		{"disjoint", []string{"a/x.go", "b/y.go"}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, longestCommonPrefix(tt.paths))
		})
	}
}
