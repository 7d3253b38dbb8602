package graph

import "sort"

// DefaultImpactDepth bounds impact analysis so cyclic or hub-heavy
// graphs keep a sane blast radius.
const DefaultImpactDepth = 3

// Impacted is one record reached by impact analysis.
type Impacted struct {
	ID    string `json:"id"`
	Depth int    `json:"depth"`
}

// forward returns the adjacency map over outbound edges, neighbour
// lists sorted for deterministic traversal order.
func (d *Document) forward() map[string][]string {
	adj := make(map[string][]string)
	for _, e := range d.Edges {
		adj[e.Source] = append(adj[e.Source], e.Target)
	}
	for id := range adj {
		sort.Strings(adj[id])
	}
	return adj
}

// reverse returns the adjacency map over inbound edges.
func (d *Document) reverse() map[string][]string {
	adj := make(map[string][]string)
	for _, e := range d.Edges {
		adj[e.Target] = append(adj[e.Target], e.Source)
	}
	for id := range adj {
		sort.Strings(adj[id])
	}
	return adj
}

// undirected returns the adjacency map ignoring edge direction.
func (d *Document) undirected() map[string][]string {
	adj := make(map[string][]string)
	for _, e := range d.Edges {
		adj[e.Source] = append(adj[e.Source], e.Target)
		adj[e.Target] = append(adj[e.Target], e.Source)
	}
	for id := range adj {
		sort.Strings(adj[id])
	}
	return adj
}

// BFS returns nodes in breadth-first order starting from start, start
// included first. An unknown start yields nil.
func (d *Document) BFS(start string) []string {
	if _, ok := d.NodeSet()[start]; !ok {
		return nil
	}
	adj := d.forward()
	visited := map[string]struct{}{start: {}}
	order := []string{start}
	queue := []string{start}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, next := range adj[cur] {
			if _, seen := visited[next]; seen {
				continue
			}
			visited[next] = struct{}{}
			order = append(order, next)
			queue = append(queue, next)
		}
	}
	return order
}

// DFS returns nodes in depth-first preorder starting from start.
func (d *Document) DFS(start string) []string {
	if _, ok := d.NodeSet()[start]; !ok {
		return nil
	}
	adj := d.forward()
	visited := make(map[string]struct{})
	var order []string
	var walk func(id string)
	walk = func(id string) {
		if _, seen := visited[id]; seen {
			return
		}
		visited[id] = struct{}{}
		order = append(order, id)
		for _, next := range adj[id] {
			walk(next)
		}
	}
	walk(start)
	return order
}

// FindReachable returns the forward closure of start, excluding start
// itself.
func (d *Document) FindReachable(start string) []string {
	order := d.BFS(start)
	if len(order) <= 1 {
		return nil
	}
	return order[1:]
}

// FindPredecessors returns every node from which start can be reached,
// excluding start itself.
func (d *Document) FindPredecessors(start string) []string {
	if _, ok := d.NodeSet()[start]; !ok {
		return nil
	}
	adj := d.reverse()
	visited := map[string]struct{}{start: {}}
	var order []string
	queue := []string{start}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, prev := range adj[cur] {
			if _, seen := visited[prev]; seen {
				continue
			}
			visited[prev] = struct{}{}
			order = append(order, prev)
			queue = append(queue, prev)
		}
	}
	return order
}

// FindShortestPath returns an unweighted shortest path from source to
// target including both endpoints, ties broken by discovery order. It
// returns nil when no path exists.
func (d *Document) FindShortestPath(source, target string) []string {
	nodes := d.NodeSet()
	if _, ok := nodes[source]; !ok {
		return nil
	}
	if _, ok := nodes[target]; !ok {
		return nil
	}
	if source == target {
		return []string{source}
	}
	adj := d.forward()
	parent := map[string]string{source: ""}
	queue := []string{source}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, next := range adj[cur] {
			if _, seen := parent[next]; seen {
				continue
			}
			parent[next] = cur
			if next == target {
				return unwind(parent, source, target)
			}
			queue = append(queue, next)
		}
	}
	return nil
}

func unwind(parent map[string]string, source, target string) []string {
	var rev []string
	for cur := target; cur != ""; cur = parent[cur] {
		rev = append(rev, cur)
		if cur == source {
			break
		}
	}
	path := make([]string, 0, len(rev))
	for i := len(rev) - 1; i >= 0; i-- {
		path = append(path, rev[i])
	}
	return path
}

// ConnectedComponents groups nodes into components, treating edges as
// undirected. Each component is sorted; components are ordered by their
// first member. Isolated nodes form singleton components.
func (d *Document) ConnectedComponents() [][]string {
	adj := d.undirected()
	visited := make(map[string]struct{})

	ids := make([]string, 0, len(d.Nodes))
	for _, n := range d.Nodes {
		ids = append(ids, n.ID)
	}
	sort.Strings(ids)

	var components [][]string
	for _, id := range ids {
		if _, seen := visited[id]; seen {
			continue
		}
		var comp []string
		queue := []string{id}
		visited[id] = struct{}{}
		for len(queue) > 0 {
			cur := queue[0]
			queue = queue[1:]
			comp = append(comp, cur)
			for _, next := range adj[cur] {
				if _, seen := visited[next]; seen {
					continue
				}
				visited[next] = struct{}{}
				queue = append(queue, next)
			}
		}
		sort.Strings(comp)
		components = append(components, comp)
	}
	return components
}

// CalculateImpact returns the records reachable from start within
// maxDepth hops, excluding start, ordered by depth then id. A maxDepth
// of zero or less falls back to DefaultImpactDepth. The visited set is
// the cycle guard.
func (d *Document) CalculateImpact(start string, maxDepth int) []Impacted {
	if maxDepth <= 0 {
		maxDepth = DefaultImpactDepth
	}
	if _, ok := d.NodeSet()[start]; !ok {
		return nil
	}
	adj := d.forward()
	visited := map[string]struct{}{start: {}}
	var out []Impacted
	frontier := []string{start}
	for depth := 1; depth <= maxDepth && len(frontier) > 0; depth++ {
		var next []string
		for _, cur := range frontier {
			for _, n := range adj[cur] {
				if _, seen := visited[n]; seen {
					continue
				}
				visited[n] = struct{}{}
				out = append(out, Impacted{ID: n, Depth: depth})
				next = append(next, n)
			}
		}
		frontier = next
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Depth != out[j].Depth {
			return out[i].Depth < out[j].Depth
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// FindOrphanedNodes returns nodes with no inbound and no outbound
// edges, sorted by id.
func (d *Document) FindOrphanedNodes() []string {
	linked := make(map[string]struct{}, len(d.Edges)*2)
	for _, e := range d.Edges {
		linked[e.Source] = struct{}{}
		linked[e.Target] = struct{}{}
	}
	var out []string
	for _, n := range d.Nodes {
		if _, ok := linked[n.ID]; !ok {
			out = append(out, n.ID)
		}
	}
	sort.Strings(out)
	return out
}
