package correlation

import (
	"sort"

	"github.com/miradorstack/mirador-netops/internal/models"
)

// Graph is a directed device dependency graph. An edge u -> v means v depends on u.
// Cycles are tolerated; every traversal keeps a visited set.
type Graph struct {
	down map[string][]string
	up   map[string][]string
}

// NewGraph builds a graph from adjacency.
func NewGraph(adj models.Adjacency) *Graph {
	g := &Graph{down: make(map[string][]string), up: make(map[string][]string)}
	for u, vs := range adj {
		for _, v := range vs {
			g.AddEdge(u, v)
		}
	}
	return g
}

// AddEdge records upstream -> downstream.
func (g *Graph) AddEdge(upstream, downstream string) {
	if upstream == "" || downstream == "" || upstream == downstream {
		return
	}
	for _, v := range g.down[upstream] {
		if v == downstream {
			return
		}
	}
	g.down[upstream] = append(g.down[upstream], downstream)
	g.up[downstream] = append(g.up[downstream], upstream)
	sort.Strings(g.down[upstream])
	sort.Strings(g.up[downstream])
}

// Downstream returns the direct dependents of id.
func (g *Graph) Downstream(id string) []string {
	if g == nil {
		return nil
	}
	return append([]string(nil), g.down[id]...)
}

// Upstream returns the devices id depends on directly.
func (g *Graph) Upstream(id string) []string {
	if g == nil {
		return nil
	}
	return append([]string(nil), g.up[id]...)
}

// Distance returns the undirected hop count between a and b if it is at most maxHops.
// maxHops <= 0 means unbounded.
func (g *Graph) Distance(a, b string, maxHops int) (int, bool) {
	if a == b {
		return 0, true
	}
	if g == nil {
		return 0, false
	}
	found := -1
	g.bfs(a, maxHops, func(id string) []string {
		return append(g.Downstream(id), g.Upstream(id)...)
	}, func(id string, depth int) bool {
		if id == b {
			found = depth
			return false
		}
		return true
	})
	return found, found >= 0
}

// IsAncestor reports whether a directed path leads from upstream to downstream.
func (g *Graph) IsAncestor(upstream, downstream string) bool {
	if g == nil || upstream == downstream {
		return false
	}
	found := false
	g.bfs(upstream, 0, g.Downstream, func(id string, _ int) bool {
		if id == downstream {
			found = true
			return false
		}
		return true
	})
	return found
}

// Reachable lists devices downstream of root in breadth-first order, root excluded.
func (g *Graph) Reachable(root string, maxHops int) []string {
	if g == nil {
		return nil
	}
	var out []string
	g.bfs(root, maxHops, g.Downstream, func(id string, depth int) bool {
		if depth > 0 {
			out = append(out, id)
		}
		return true
	})
	return out
}

// EdgesBetween counts directed edges whose both ends are in members.
func (g *Graph) EdgesBetween(members []string) int {
	if g == nil {
		return 0
	}
	set := make(map[string]struct{}, len(members))
	for _, m := range members {
		set[m] = struct{}{}
	}
	count := 0
	for _, m := range members {
		for _, v := range g.down[m] {
			if _, ok := set[v]; ok {
				count++
			}
		}
	}
	return count
}

// bfs visits nodes from start until visit returns false. Nodes deeper than maxHops
// are not expanded when maxHops > 0.
func (g *Graph) bfs(start string, maxHops int, next func(string) []string, visit func(id string, depth int) bool) {
	type item struct {
		id    string
		depth int
	}
	visited := map[string]struct{}{start: {}}
	queue := []item{{id: start}}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if !visit(cur.id, cur.depth) {
			return
		}
		if maxHops > 0 && cur.depth >= maxHops {
			continue
		}
		for _, n := range next(cur.id) {
			if _, seen := visited[n]; seen {
				continue
			}
			visited[n] = struct{}{}
			queue = append(queue, item{id: n, depth: cur.depth + 1})
		}
	}
}
