package export

import (
	"fmt"
	"path"
	"sort"
	"strings"

	"github.com/dusk-indust/parseltongue/internal/entity"
	"github.com/dusk-indust/parseltongue/internal/query"
)

// diagram accumulates a Mermaid graph TD with stable, alphanumeric node IDs.
type diagram struct {
	sb     strings.Builder
	ids    map[string]string
	nextID int
}

func newDiagram() *diagram {
	d := &diagram{ids: make(map[string]string)}
	d.sb.WriteString("graph TD\n")
	return d
}

func (d *diagram) id(name string) string {
	if id, ok := d.ids[name]; ok {
		return id
	}
	id := fmt.Sprintf("N%d", d.nextID)
	d.nextID++
	d.ids[name] = id
	return id
}

func (d *diagram) node(indent, name, label string) {
	fmt.Fprintf(&d.sb, "%s%s[\"%s\"]\n", indent, d.id(name), escapeLabel(label))
}

func (d *diagram) arrow(from, to string, typ entity.EdgeType) {
	if typ == "" {
		fmt.Fprintf(&d.sb, "  %s --> %s\n", d.id(from), d.id(to))
		return
	}
	fmt.Fprintf(&d.sb, "  %s -->|%s| %s\n", d.id(from), typ, d.id(to))
}

func (d *diagram) String() string { return d.sb.String() }

// RadiusMermaid draws a blast radius: the origin, every impacted entity
// grouped by distance, and the edges between them. Arrows point from
// dependent to dependency.
func RadiusMermaid(r *query.Radius, snap *query.Snapshot) string {
	d := newDiagram()
	members := map[entity.Key]bool{r.Origin: true}
	d.node("  ", r.Origin.String(), entityLabel(snap, r.Origin))

	byDistance := make(map[int][]entity.Key)
	var distances []int
	for _, im := range r.Impacts {
		if _, ok := byDistance[im.Distance]; !ok {
			distances = append(distances, im.Distance)
		}
		byDistance[im.Distance] = append(byDistance[im.Distance], im.Key)
		members[im.Key] = true
	}
	sort.Ints(distances)
	for _, dist := range distances {
		fmt.Fprintf(&d.sb, "  subgraph %s[\"distance %d\"]\n", d.id(fmt.Sprintf("distance/%d", dist)), dist)
		for _, k := range byDistance[dist] {
			d.node("    ", k.String(), entityLabel(snap, k))
		}
		d.sb.WriteString("  end\n")
	}
	writeInducedEdges(d, snap, members)
	fmt.Fprintf(&d.sb, "  style %s stroke-width:3px\n", d.id(r.Origin.String()))
	if r.Truncated {
		d.sb.WriteString("  %% truncated\n")
	}
	return d.String()
}

// CyclesMermaid draws each cycle as its own subgraph with the edges that
// close it.
func CyclesMermaid(cycles []query.Cycle, snap *query.Snapshot) string {
	d := newDiagram()
	members := make(map[entity.Key]bool)
	for i, c := range cycles {
		fmt.Fprintf(&d.sb, "  subgraph %s[\"cycle %d\"]\n", d.id(fmt.Sprintf("cycle/%d", i)), i+1)
		for _, k := range c.Keys {
			d.node("    ", k.String(), entityLabel(snap, k))
			members[k] = true
		}
		d.sb.WriteString("  end\n")
	}
	writeInducedEdges(d, snap, members)
	return d.String()
}

// ClustersMermaid groups files by cluster and draws one arrow per pair of
// files linked by at least one entity edge.
func ClustersMermaid(clusters []query.Cluster, snap *query.Snapshot) string {
	d := newDiagram()
	fileOf := make(map[entity.Key]string)
	inCluster := make(map[string]bool)
	for _, c := range clusters {
		if len(c.Files) == 0 {
			continue
		}
		files := append([]string(nil), c.Files...)
		sort.Strings(files)
		fmt.Fprintf(&d.sb, "  subgraph %s[\"%.40s\"]\n", d.id(c.Name+"_cluster"), escapeLabel(c.Name))
		for _, f := range files {
			d.node("    ", f, shortPath(f))
			inCluster[f] = true
		}
		d.sb.WriteString("  end\n")
		for _, k := range c.Entities {
			if e, ok := snap.Entity(k); ok {
				fileOf[k] = e.FilePath
			}
		}
	}

	type pair struct{ from, to string }
	seen := make(map[pair]bool)
	var pairs []pair
	for _, e := range snap.Edges() {
		from, ok1 := fileOf[e.Source]
		to, ok2 := fileOf[e.Target]
		if !ok1 || !ok2 || from == to {
			continue
		}
		p := pair{from, to}
		if !seen[p] {
			seen[p] = true
			pairs = append(pairs, p)
		}
	}
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].from != pairs[j].from {
			return pairs[i].from < pairs[j].from
		}
		return pairs[i].to < pairs[j].to
	})
	for _, p := range pairs {
		d.arrow(p.from, p.to, "")
	}
	return d.String()
}

func writeInducedEdges(d *diagram, snap *query.Snapshot, members map[entity.Key]bool) {
	if snap == nil {
		return
	}
	for _, e := range snap.Edges() {
		if members[e.Source] && members[e.Target] {
			d.arrow(e.Source.String(), e.Target.String(), e.Type)
		}
	}
}

// entityLabel renders "name (file)" when the snapshot knows the entity and
// falls back to the key's own name and path.
func entityLabel(snap *query.Snapshot, k entity.Key) string {
	if snap != nil {
		if e, ok := snap.Entity(k); ok {
			if e.Kind == entity.KindModule {
				return shortPath(e.FilePath)
			}
			return fmt.Sprintf("%s (%s)", e.Name, shortPath(e.FilePath))
		}
	}
	return fmt.Sprintf("%s (%s)", k.Name(), shortPath(k.Path()))
}

func escapeLabel(s string) string {
	return strings.NewReplacer(`"`, "#quot;", "\n", " ").Replace(s)
}

// shortPath returns the last 2 path segments for readability.
func shortPath(p string) string {
	parts := strings.Split(path.Clean(p), "/")
	if len(parts) <= 2 {
		return p
	}
	return strings.Join(parts[len(parts)-2:], "/")
}
