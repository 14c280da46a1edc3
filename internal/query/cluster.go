package query

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/dusk-indust/parseltongue/internal/entity"
)

// Cluster is a weakly connected group of files linked by dependency edges.
type Cluster struct {
	// Name is the longest common directory prefix of the member files.
	Name string `json:"name"`
	// Cohesion is internal / (internal + external) cross-file edges.
	Cohesion float64      `json:"cohesion"`
	Files    []string     `json:"files"`
	Entities []entity.Key `json:"entities"`
}

// Clusters finds connected components in the file-to-file graph induced by
// entity edges. Edges inside one file do not link files. Components with
// fewer than two files are skipped.
//
// Algorithm:
//  1. Build an undirected adjacency list between files from cross-file edges.
//  2. Find connected components via BFS.
//  3. For each component with >= 2 files, compute a cohesion score.
func (e *Engine) Clusters(ctx context.Context, opts ...Option) ([]Cluster, error) {
	ctx, span := startQuerySpan(ctx, "Clusters", "")
	defer span.End()
	start := time.Now()

	snap, err := e.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	clusters := ComputeClusters(snap, applyOptions(Options{}, opts))

	setQuerySpanResult(span, len(clusters), false)
	recordQueryMetrics(ctx, "Clusters", time.Since(start), len(clusters), false)
	return clusters, nil
}

// ComputeClusters groups the files of snap into clusters.
func ComputeClusters(snap *Snapshot, o Options) []Cluster {
	fileOf := make(map[entity.Key]string)
	members := make(map[string][]entity.Key)
	var files []string
	for _, k := range snap.Keys() {
		ent, ok := snap.Entity(k)
		if !ok || (!o.IncludeTests && ent.Class == entity.ClassTest) {
			continue
		}
		fileOf[k] = ent.FilePath
		if _, seen := members[ent.FilePath]; !seen {
			files = append(files, ent.FilePath)
		}
		members[ent.FilePath] = append(members[ent.FilePath], k)
	}
	sort.Strings(files)

	adj, external := buildFileAdjacency(snap, fileOf, o)

	visited := make(map[string]bool, len(files))
	var clusters []Cluster
	for _, f := range files {
		if visited[f] {
			continue
		}
		component := bfsComponent(f, adj, visited)
		if len(component) < 2 {
			continue
		}
		sort.Strings(component)
		var keys []entity.Key
		for _, file := range component {
			keys = append(keys, members[file]...)
		}
		sortKeys(keys)
		clusters = append(clusters, Cluster{
			Name:     longestCommonPrefix(component),
			Cohesion: computeCohesion(component, adj, external),
			Files:    component,
			Entities: keys,
		})
	}
	return clusters
}

// buildFileAdjacency makes a bidirectional adjacency list between files in
// a single pass over all edges. Edges whose target has no stored entity
// count towards the source file's external degree.
func buildFileAdjacency(snap *Snapshot, fileOf map[entity.Key]string, o Options) (map[string]map[string]bool, map[string]int) {
	adj := make(map[string]map[string]bool)
	external := make(map[string]int)
	for _, e := range snap.Edges() {
		if len(o.EdgeTypes) > 0 && !o.EdgeTypes[e.Type] {
			continue
		}
		src, ok := fileOf[e.Source]
		if !ok {
			continue
		}
		dst, ok := fileOf[e.Target]
		if !ok {
			if !snap.isTest(e.Target) || o.IncludeTests {
				external[src]++
			}
			continue
		}
		if src == dst {
			continue
		}
		if adj[src] == nil {
			adj[src] = make(map[string]bool)
		}
		if adj[dst] == nil {
			adj[dst] = make(map[string]bool)
		}
		adj[src][dst] = true
		adj[dst][src] = true
	}
	return adj, external
}

// bfsComponent performs BFS from start on the adjacency list and returns
// all reachable nodes. It marks visited nodes as it goes.
func bfsComponent(start string, adj map[string]map[string]bool, visited map[string]bool) []string {
	var component []string
	queue := []string{start}
	visited[start] = true

	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		component = append(component, node)
		for neighbor := range adj[node] {
			if !visited[neighbor] {
				visited[neighbor] = true
				queue = append(queue, neighbor)
			}
		}
	}
	return component
}

// computeCohesion calculates internal / (internal + external) file links for
// a component. A connected component has no in-repo neighbours outside
// itself, so external links are those to unresolved targets.
func computeCohesion(component []string, adj map[string]map[string]bool, external map[string]int) float64 {
	memberSet := make(map[string]bool, len(component))
	for _, m := range component {
		memberSet[m] = true
	}

	internalEdges := 0
	externalEdges := 0
	for _, m := range component {
		for neighbor := range adj[m] {
			// Count each undirected link once.
			if memberSet[neighbor] && m < neighbor {
				internalEdges++
			}
		}
		externalEdges += external[m]
	}

	total := internalEdges + externalEdges
	if total == 0 {
		return 0
	}
	return float64(internalEdges) / float64(total)
}

// longestCommonPrefix finds the longest common directory prefix of a set of
// file paths. Returns an empty string if there is none.
func longestCommonPrefix(paths []string) string {
	if len(paths) == 0 {
		return ""
	}
	if len(paths) == 1 {
		return paths[0]
	}

	prefix := paths[0]
	for _, p := range paths[1:] {
		for !strings.HasPrefix(p, prefix) {
			trimmed := strings.TrimRight(prefix, "/")
			idx := strings.LastIndex(trimmed, "/")
			if idx < 0 {
				return ""
			}
			prefix = trimmed[:idx+1]
			if prefix == "/" || prefix == "" {
				return prefix
			}
		}
	}

	if !strings.HasSuffix(prefix, "/") {
		idx := strings.LastIndex(prefix, "/")
		if idx >= 0 {
			prefix = prefix[:idx+1]
		}
	}
	return prefix
}
