package graph

import (
	"sort"

	"github.com/pkg/errors"

	"github.com/athapong/docgraph/pkg/extract"
)

// TraversalType selects the traversal order.
type TraversalType string

const (
	BFS TraversalType = "BFS"
	DFS TraversalType = "DFS"
)

// Traverse walks the graph from the named entity up to maxDepth hops
// away and returns the visited nodes in traversal order. Adjacency is
// undirected.
func (g *Graph) Traverse(start string, maxDepth int, traversal TraversalType) ([]Node, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	startNode, ok := g.nodeByNameLocked(extract.NameKey(start))
	if !ok {
		return nil, errors.Errorf("entity not found: %s", start)
	}

	switch traversal {
	case BFS:
		return g.bfsLocked(startNode.ID, maxDepth), nil
	case DFS:
		visited := make(map[string]bool)
		var result []Node
		g.dfsLocked(startNode.ID, maxDepth, visited, &result)
		return result, nil
	default:
		return nil, errors.Errorf("unsupported traversal type: %s", traversal)
	}
}

func (g *Graph) bfsLocked(startID string, maxDepth int) []Node {
	visited := map[string]bool{startID: true}
	queue := []string{startID}
	var result []Node

	for depth := 0; len(queue) > 0 && depth <= maxDepth; depth++ {
		levelSize := len(queue)
		for i := 0; i < levelSize; i++ {
			current := queue[0]
			queue = queue[1:]

			result = append(result, *g.nodes[current])
			for _, next := range g.adjacentLocked(current) {
				if !visited[next] {
					visited[next] = true
					queue = append(queue, next)
				}
			}
		}
	}
	return result
}

func (g *Graph) dfsLocked(currentID string, maxDepth int, visited map[string]bool, result *[]Node) {
	if maxDepth < 0 || visited[currentID] {
		return
	}
	visited[currentID] = true
	*result = append(*result, *g.nodes[currentID])

	for _, next := range g.adjacentLocked(currentID) {
		g.dfsLocked(next, maxDepth-1, visited, result)
	}
}

// adjacentLocked returns the IDs adjacent to a node in deterministic
// order so traversal output is reproducible.
func (g *Graph) adjacentLocked(id string) []string {
	var out []string
	for _, edge := range g.edges {
		switch id {
		case edge.Source:
			out = append(out, edge.Target)
		case edge.Target:
			out = append(out, edge.Source)
		}
	}
	sort.Strings(out)
	return out
}
