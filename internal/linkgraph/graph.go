// Package linkgraph maintains forward and backward adjacency indices over
// live entities. The graph stores only ID strings — no back-pointers to
// entity objects — and is safe for concurrent use.
package linkgraph

import (
	"sort"
	"strings"
	"sync"

	"github.com/untoldecay/kira/internal/types"
)

// BacklinkPrefix marks the derived inverse edge of a bidirectional link
// type, e.g. "backlink:relates_to".
const BacklinkPrefix = "backlink:"

// Graph is the in-memory link index.
type Graph struct {
	mu       sync.RWMutex
	outgoing map[string][]types.Link // declared edges by source
	incoming map[string][]types.Link // declared edges by target
	entities map[string]bool         // known live entities
}

// New creates an empty graph.
func New() *Graph {
	return &Graph{
		outgoing: make(map[string][]types.Link),
		incoming: make(map[string][]types.Link),
		entities: make(map[string]bool),
	}
}

// AddEntity registers an entity and its extracted outgoing edges.
func (g *Graph) AddEntity(id string, fm map[string]any, content string) {
	links := ExtractLinks(id, fm, content)
	g.mu.Lock()
	defer g.mu.Unlock()
	g.entities[id] = true
	g.setOutgoingLocked(id, links)
}

// UpdateEntityLinks replaces the entity's prior outgoing edge set with the
// set extracted from the new front-matter and body.
func (g *Graph) UpdateEntityLinks(id string, fm map[string]any, content string) {
	g.AddEntity(id, fm, content)
}

// RemoveEntity drops the entity and every adjacent edge, returning the
// removed edges (both directions).
func (g *Graph) RemoveEntity(id string) []types.Link {
	g.mu.Lock()
	defer g.mu.Unlock()

	var removed []types.Link
	removed = append(removed, g.outgoing[id]...)
	g.setOutgoingLocked(id, nil)

	// Edges from other entities pointing at id.
	for _, l := range g.incoming[id] {
		removed = append(removed, l)
		g.setOutgoingLocked(l.SourceID, dropTarget(g.outgoing[l.SourceID], id))
	}

	delete(g.entities, id)
	delete(g.outgoing, id)
	delete(g.incoming, id)
	return removed
}

// setOutgoingLocked replaces id's declared edges and rebuilds the affected
// incoming buckets. Callers hold the write lock.
func (g *Graph) setOutgoingLocked(id string, links []types.Link) {
	for _, old := range g.outgoing[id] {
		g.incoming[old.TargetID] = dropSource(g.incoming[old.TargetID], id)
	}
	if len(links) == 0 {
		delete(g.outgoing, id)
		return
	}
	g.outgoing[id] = links
	for _, l := range links {
		g.incoming[l.TargetID] = append(g.incoming[l.TargetID], l)
	}
}

// GetOutgoing returns edges from id, including derived backlink edges for
// bidirectional types pointing at id. Pass linkType="" for all types.
func (g *Graph) GetOutgoing(id string, linkType types.LinkType) []types.Link {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var out []types.Link
	for _, l := range g.outgoing[id] {
		if linkType == "" || l.Type == linkType {
			out = append(out, l)
		}
	}
	// Materialize inverse edges: X -relates_to-> id yields
	// id -backlink:relates_to-> X.
	for _, l := range g.incoming[id] {
		if !l.Type.Bidirectional() {
			continue
		}
		inverse := types.Link{
			SourceID: id,
			TargetID: l.SourceID,
			Type:     types.LinkType(BacklinkPrefix + string(l.Type)),
			Context:  l.Context,
		}
		if linkType == "" || inverse.Type == linkType {
			out = append(out, inverse)
		}
	}
	return out
}

// GetIncoming returns edges pointing at id. Pass linkType="" for all types.
func (g *Graph) GetIncoming(id string, linkType types.LinkType) []types.Link {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var in []types.Link
	for _, l := range g.incoming[id] {
		if linkType == "" || l.Type == linkType {
			in = append(in, l)
		}
	}
	for _, l := range g.outgoing[id] {
		if !l.Type.Bidirectional() {
			continue
		}
		inverse := types.Link{
			SourceID: l.TargetID,
			TargetID: id,
			Type:     types.LinkType(BacklinkPrefix + string(l.Type)),
			Context:  l.Context,
		}
		if linkType == "" || inverse.Type == linkType {
			in = append(in, inverse)
		}
	}
	return in
}

// Connected returns the IDs reachable from id within depth hops, following
// edges in both directions. The origin itself is excluded.
func (g *Graph) Connected(id string, depth int) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	visited := map[string]bool{id: true}
	frontier := []string{id}
	for d := 0; d < depth && len(frontier) > 0; d++ {
		var next []string
		for _, cur := range frontier {
			for _, l := range g.outgoing[cur] {
				if !visited[l.TargetID] {
					visited[l.TargetID] = true
					next = append(next, l.TargetID)
				}
			}
			for _, l := range g.incoming[cur] {
				if !visited[l.SourceID] {
					visited[l.SourceID] = true
					next = append(next, l.SourceID)
				}
			}
		}
		frontier = next
	}

	delete(visited, id)
	out := make([]string, 0, len(visited))
	for k := range visited {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// FindOrphans returns known entities with no edges in either direction.
func (g *Graph) FindOrphans() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var orphans []string
	for id := range g.entities {
		if len(g.outgoing[id]) == 0 && len(g.incoming[id]) == 0 {
			orphans = append(orphans, id)
		}
	}
	sort.Strings(orphans)
	return orphans
}

// FindBroken returns edges whose target is not in the known set. Tag edges
// are skipped: their targets are tag names, not entity IDs.
func (g *Graph) FindBroken(known map[string]bool) []types.Link {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var broken []types.Link
	for _, links := range g.outgoing {
		for _, l := range links {
			if l.Type == types.LinkTaggedWith {
				continue
			}
			if !known[l.TargetID] {
				broken = append(broken, l)
			}
		}
	}
	sort.Slice(broken, func(i, j int) bool {
		if broken[i].SourceID != broken[j].SourceID {
			return broken[i].SourceID < broken[j].SourceID
		}
		return broken[i].TargetID < broken[j].TargetID
	})
	return broken
}

// FindCycles detects cycles over the given edge type (depends_on by
// convention) via DFS with a recursion stack. Each cycle is reported once
// as the list of IDs along it.
func (g *Graph) FindCycles(linkType types.LinkType) [][]string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if linkType == "" {
		linkType = types.LinkDependsOn
	}

	adj := make(map[string][]string)
	var nodes []string
	for src, links := range g.outgoing {
		for _, l := range links {
			if l.Type == linkType {
				adj[src] = append(adj[src], l.TargetID)
			}
		}
	}
	for n := range adj {
		nodes = append(nodes, n)
	}
	sort.Strings(nodes)

	var cycles [][]string
	seenCycle := make(map[string]bool)
	visited := make(map[string]bool)
	onStack := make(map[string]bool)
	var stack []string

	var dfs func(string)
	dfs = func(node string) {
		visited[node] = true
		onStack[node] = true
		stack = append(stack, node)

		targets := append([]string(nil), adj[node]...)
		sort.Strings(targets)
		for _, next := range targets {
			if !visited[next] {
				dfs(next)
			} else if onStack[next] {
				// Slice out the cycle from the recursion stack.
				var cycle []string
				for i := len(stack) - 1; i >= 0; i-- {
					cycle = append([]string{stack[i]}, cycle...)
					if stack[i] == next {
						break
					}
				}
				key := cycleKey(cycle)
				if !seenCycle[key] {
					seenCycle[key] = true
					cycles = append(cycles, cycle)
				}
			}
		}

		stack = stack[:len(stack)-1]
		onStack[node] = false
	}

	for _, n := range nodes {
		if !visited[n] {
			dfs(n)
		}
	}
	return cycles
}

// cycleKey builds a rotation-invariant identity for a cycle.
func cycleKey(cycle []string) string {
	sorted := append([]string(nil), cycle...)
	sort.Strings(sorted)
	return strings.Join(sorted, "|")
}

func dropTarget(links []types.Link, target string) []types.Link {
	var out []types.Link
	for _, l := range links {
		if l.TargetID != target {
			out = append(out, l)
		}
	}
	return out
}

func dropSource(links []types.Link, source string) []types.Link {
	var out []types.Link
	for _, l := range links {
		if l.SourceID != source {
			out = append(out, l)
		}
	}
	return out
}
