// Package graph implements the pure, deterministic path-finding functions
// spec.md §4.6 describes over the eject-target DAG: find_path_to_target,
// find_one_available_ball, find_next_trough. Tie-breaking is always the
// first match in declared eject-target order; there is no cost weighting.
//
// Loosely grounded on navigation/routegraph.go's node/edge shape
// (RouteGraph, rgNode, rgEdge), adapted from a spatial grid searched by
// Dijkstra to a small named-device DAG searched by plain DFS — the domain
// has no distance metric, only the declared order of EjectTargets.
package graph

// Node is one device's graph-relevant shape: its declared eject targets (in
// tie-break order) and whether it is a terminal sink (playfield nodes are
// never traversed, spec.md §4.6).
type Node struct {
	Name         string
	Targets      []string // declared eject_targets order
	Terminal     bool
	Tags         []string
	AvailableFn  func() int // current available_balls, queried live
}

// Graph is a read-only view over the device registry sufficient for path
// queries. Implementations typically wrap a live device registry so
// AvailableFn reflects current state.
type Graph struct {
	nodes map[string]*Node
	order []string
}

// New builds a Graph from nodes, preserving the given iteration order;
// searchSources visits candidate sources in that order.
func New(nodes []*Node) *Graph {
	g := &Graph{nodes: make(map[string]*Node, len(nodes))}
	for _, n := range nodes {
		g.nodes[n.Name] = n
		g.order = append(g.order, n.Name)
	}
	return g
}

// FindPathToTarget returns the first path (left-to-right in each node's
// declared EjectTargets order) from self to target, not traversing through
// terminal (playfield) nodes except as the final hop. Returns nil if no
// path exists.
func (g *Graph) FindPathToTarget(self, target string) []string {
	visited := make(map[string]bool)
	var path []string
	if g.dfsToTarget(self, target, visited, &path) {
		return path
	}
	return nil
}

func (g *Graph) dfsToTarget(current, target string, visited map[string]bool, path *[]string) bool {
	if visited[current] {
		return false
	}
	visited[current] = true
	*path = append(*path, current)

	if current == target {
		return true
	}

	node, ok := g.nodes[current]
	if !ok {
		*path = (*path)[:len(*path)-1]
		return false
	}
	if node.Terminal && current != target {
		// terminal nodes (playfield) are sinks; do not traverse through them
		*path = (*path)[:len(*path)-1]
		return false
	}

	for _, next := range node.Targets {
		if g.dfsToTarget(next, target, visited, path) {
			return true
		}
	}

	*path = (*path)[:len(*path)-1]
	return false
}

// FindOneAvailableBall searches, from self, backward through source devices
// (any node whose Targets include a node on the path toward self) to locate
// a device with an available ball, returning the forward path from that
// device to self. pathSoFar is the set of devices already committed to this
// eject chain; any device already in pathSoFar is rejected to prevent
// cycles (spec.md §4.6, P6).
func (g *Graph) FindOneAvailableBall(self string, pathSoFar []string) []string {
	excluded := make(map[string]bool, len(pathSoFar))
	for _, n := range pathSoFar {
		excluded[n] = true
	}

	visited := map[string]bool{self: true}
	path := []string{self}
	if g.searchSources(self, excluded, visited, &path) {
		return path
	}
	return nil
}

// searchSources looks at every device that declares current as one of its
// eject targets (i.e. every direct source of current), in registration
// order, and recurses upstream until one with an available ball turns up.
// path is built/unwound in place so the caller sees the forward path from
// the found source through to self.
func (g *Graph) searchSources(current string, excluded, visited map[string]bool, path *[]string) bool {
	for _, name := range g.order {
		if excluded[name] || visited[name] {
			continue
		}
		src := g.nodes[name]
		if src == nil {
			continue
		}
		isSource := false
		for _, t := range src.Targets {
			if t == current {
				isSource = true
				break
			}
		}
		if !isSource {
			continue
		}

		visited[name] = true
		*path = append([]string{name}, *path...)

		if src.AvailableFn != nil && src.AvailableFn() > 0 {
			return true
		}
		if g.searchSources(name, excluded, visited, path) {
			return true
		}

		*path = (*path)[1:] // backtrack: name did not lead anywhere
	}
	return false
}

// FindNextTrough returns a trough reachable downstream from self: self
// itself if it is tagged "trough", otherwise the first trough found by a
// left-to-right DFS through self's declared eject targets (skipping
// terminal/playfield nodes), matching FindPathToTarget's tie-break order.
// The result is not necessarily the trough with the fewest hops from self.
// Returns "" if no reachable trough exists.
func (g *Graph) FindNextTrough(self string) string {
	return g.findNextTrough(self, make(map[string]bool))
}

func (g *Graph) findNextTrough(current string, visited map[string]bool) string {
	if visited[current] {
		return ""
	}
	visited[current] = true

	node, ok := g.nodes[current]
	if !ok {
		return ""
	}
	for _, tag := range node.Tags {
		if tag == "trough" {
			return current
		}
	}

	for _, next := range node.Targets {
		target, ok := g.nodes[next]
		if !ok || target.Terminal {
			continue
		}
		if trough := g.findNextTrough(next, visited); trough != "" {
			return trough
		}
	}
	return ""
}

// HasPathToTrough reports whether a path exists from self to any trough,
// used by construction-time validation (spec.md §4.1: "Devices tagged drain
// but not trough must have a graph path to some trough").
func (g *Graph) HasPathToTrough(self string) bool {
	for _, name := range g.order {
		n := g.nodes[name]
		hasTrough := false
		for _, tag := range n.Tags {
			if tag == "trough" {
				hasTrough = true
			}
		}
		if !hasTrough {
			continue
		}
		if g.FindPathToTarget(self, name) != nil {
			return true
		}
	}
	return false
}
