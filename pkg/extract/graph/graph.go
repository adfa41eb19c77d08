// Package graph assembles extraction results from one or more documents
// into a knowledge graph: entities become nodes keyed by their
// deduplication identity, relationships become weighted edges. The
// graph is read-mostly; build it, then traverse or export it.
package graph

import (
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/athapong/docgraph/pkg/extract"
)

// Node is one entity in the assembled graph. The ID is the entity's
// identity key, so the same entity from different documents lands on
// one node.
type Node struct {
	ID             string            `json:"id"`
	Label          string            `json:"label"`
	Type           string            `json:"type"`
	Description    string            `json:"description,omitempty"`
	RelevanceScore float64           `json:"relevance_score"`
	SourceType     extract.BlockKind `json:"source_type,omitempty"`
	Documents      []string          `json:"documents,omitempty"`
}

// Edge is one relationship in the assembled graph. Weight carries the
// relationship confidence; repeated observations average it.
type Edge struct {
	ID          string  `json:"id"`
	Source      string  `json:"source"`
	Target      string  `json:"target"`
	Relation    string  `json:"relation"`
	Description string  `json:"description,omitempty"`
	Weight      float64 `json:"weight"`
}

// Data is the serializable graph snapshot consumed by exporters.
type Data struct {
	Nodes       []Node    `json:"nodes"`
	Edges       []Edge    `json:"edges"`
	GeneratedAt time.Time `json:"generated_at"`
}

// Graph accumulates extraction results into one knowledge graph.
type Graph struct {
	mu        sync.RWMutex
	nodes     map[string]*Node
	edges     map[string]*Edge
	documents map[string]bool
	logger    *logrus.Logger
}

// New creates an empty graph.
func New() *Graph {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	return &Graph{
		nodes:     make(map[string]*Node),
		edges:     make(map[string]*Edge),
		documents: make(map[string]bool),
		logger:    logger,
	}
}

// AddResult folds one document's extraction result into the graph.
// Adding the same document twice is a no-op.
func (g *Graph) AddResult(document string, result *extract.ExtractionResult) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.documents[document] {
		return
	}
	g.documents[document] = true

	for _, entity := range result.SortedEntities() {
		key := entity.Key()
		node, ok := g.nodes[key]
		if !ok {
			g.nodes[key] = &Node{
				ID:             key,
				Label:          entity.Name,
				Type:           entity.Type,
				Description:    entity.Description,
				RelevanceScore: entity.RelevanceScore,
				SourceType:     entity.SourceType,
				Documents:      []string{document},
			}
			continue
		}

		node.Documents = append(node.Documents, document)
		if entity.RelevanceScore > node.RelevanceScore {
			node.RelevanceScore = entity.RelevanceScore
		}
		if node.Description == "" {
			node.Description = entity.Description
		}
	}

	for _, rel := range result.SortedRelationships() {
		// Relationship endpoints carry only the entity name; resolve
		// them to node identities, which also carry the type.
		source, sourceOK := g.nodeByNameLocked(extract.NameKey(rel.From))
		target, targetOK := g.nodeByNameLocked(extract.NameKey(rel.To))
		if !sourceOK || !targetOK {
			g.logger.WithFields(logrus.Fields{
				"from":     rel.From,
				"to":       rel.To,
				"document": document,
			}).Debug("Skipping edge with unknown endpoint")
			continue
		}

		key := rel.Key()
		edge, ok := g.edges[key]
		if !ok {
			g.edges[key] = &Edge{
				ID:          key,
				Source:      source.ID,
				Target:      target.ID,
				Relation:    rel.Relation,
				Description: rel.Description,
				Weight:      rel.Confidence,
			}
			continue
		}
		edge.Weight = (edge.Weight + rel.Confidence) / 2
	}
}

func (g *Graph) nodeByNameLocked(namePart string) (*Node, bool) {
	for id, node := range g.nodes {
		if idNamePart(id) == namePart {
			return node, true
		}
	}
	return nil, false
}

// idNamePart strips the type component off an entity identity key.
func idNamePart(id string) string {
	for i := 0; i < len(id); i++ {
		if id[i] == '|' {
			return id[:i]
		}
	}
	return id
}

// FindNode looks a node up by entity name.
func (g *Graph) FindNode(name string) (*Node, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	node, ok := g.nodeByNameLocked(extract.NameKey(name))
	if !ok {
		return nil, false
	}
	copied := *node
	return &copied, true
}

// Neighbors returns the nodes adjacent to the named entity, optionally
// restricted to one relation label. Edges are undirected for adjacency.
func (g *Graph) Neighbors(name string, relation string) []Node {
	g.mu.RLock()
	defer g.mu.RUnlock()

	node, ok := g.nodeByNameLocked(extract.NameKey(name))
	if !ok {
		return nil
	}

	var out []Node
	for _, edge := range g.edges {
		if relation != "" && edge.Relation != relation {
			continue
		}

		var otherID string
		switch node.ID {
		case edge.Source:
			otherID = edge.Target
		case edge.Target:
			otherID = edge.Source
		default:
			continue
		}

		if other, exists := g.nodes[otherID]; exists {
			out = append(out, *other)
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Data snapshots the graph with nodes and edges in deterministic order.
func (g *Graph) Data() *Data {
	g.mu.RLock()
	defer g.mu.RUnlock()

	nodes := make([]Node, 0, len(g.nodes))
	for _, node := range g.nodes {
		nodes = append(nodes, *node)
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].ID < nodes[j].ID })

	edges := make([]Edge, 0, len(g.edges))
	for _, edge := range g.edges {
		edges = append(edges, *edge)
	}
	sort.Slice(edges, func(i, j int) bool { return edges[i].ID < edges[j].ID })

	return &Data{
		Nodes:       nodes,
		Edges:       edges,
		GeneratedAt: time.Now().UTC(),
	}
}
