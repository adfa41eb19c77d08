package graph

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/athapong/docgraph/pkg/extract"
)

func resultWith(entities []extract.Entity, rels []extract.Relationship) *extract.ExtractionResult {
	result := extract.NewExtractionResult()
	for _, e := range entities {
		entity := e
		result.Entities[entity.Key()] = &entity
	}
	for _, r := range rels {
		rel := r
		result.Relationships[rel.Key()] = &rel
	}
	return result
}

func pumpResult() *extract.ExtractionResult {
	return resultWith(
		[]extract.Entity{
			{Name: "pump", Type: "equipment", Description: "centrifugal pump", RelevanceScore: 0.9},
			{Name: "impeller", Type: "component", RelevanceScore: 0.7},
			{Name: "motor", Type: "equipment", RelevanceScore: 0.6},
		},
		[]extract.Relationship{
			{From: "impeller", To: "pump", Relation: "part_of", Confidence: 0.8},
			{From: "pump", To: "motor", Relation: "depends_on", Confidence: 0.6},
		},
	)
}

func TestAddResult_BuildsNodesAndEdges(t *testing.T) {
	g := New()
	g.AddResult("manual", pumpResult())

	data := g.Data()
	assert.Len(t, data.Nodes, 3)
	assert.Len(t, data.Edges, 2)
}

func TestAddResult_SameDocumentTwiceIsNoOp(t *testing.T) {
	g := New()
	g.AddResult("manual", pumpResult())
	g.AddResult("manual", pumpResult())

	data := g.Data()
	assert.Len(t, data.Nodes, 3)
	assert.Len(t, data.Edges, 2)
}

func TestAddResult_MergesAcrossDocuments(t *testing.T) {
	g := New()
	g.AddResult("a", resultWith(
		[]extract.Entity{{Name: "Pump", Type: "equipment", RelevanceScore: 0.4}},
		nil,
	))
	g.AddResult("b", resultWith(
		[]extract.Entity{{Name: "pump", Type: "equipment", Description: "later description", RelevanceScore: 0.9}},
		nil,
	))

	data := g.Data()
	require.Len(t, data.Nodes, 1)
	assert.Equal(t, []string{"a", "b"}, data.Nodes[0].Documents)
	assert.Equal(t, 0.9, data.Nodes[0].RelevanceScore)
	assert.Equal(t, "later description", data.Nodes[0].Description)
}

func TestAddResult_SkipsEdgesWithUnknownEndpoints(t *testing.T) {
	g := New()
	g.AddResult("doc", resultWith(
		[]extract.Entity{{Name: "pump", Type: "equipment"}},
		[]extract.Relationship{{From: "pump", To: "ghost", Relation: "related_to", Confidence: 0.5}},
	))

	assert.Empty(t, g.Data().Edges)
}

func TestAddResult_RepeatedEdgeAveragesWeight(t *testing.T) {
	g := New()
	g.AddResult("a", resultWith(
		[]extract.Entity{{Name: "pump", Type: "equipment"}, {Name: "motor", Type: "equipment"}},
		[]extract.Relationship{{From: "pump", To: "motor", Relation: "depends_on", Confidence: 0.4}},
	))
	g.AddResult("b", resultWith(
		[]extract.Entity{{Name: "pump", Type: "equipment"}, {Name: "motor", Type: "equipment"}},
		[]extract.Relationship{{From: "pump", To: "motor", Relation: "depends_on", Confidence: 0.8}},
	))

	data := g.Data()
	require.Len(t, data.Edges, 1)
	assert.InDelta(t, 0.6, data.Edges[0].Weight, 1e-9)
}

func TestFindNode_NameIsCaseInsensitive(t *testing.T) {
	g := New()
	g.AddResult("doc", pumpResult())

	node, ok := g.FindNode("  PUMP ")
	require.True(t, ok)
	assert.Equal(t, "pump", node.Label)

	_, ok = g.FindNode("turbine")
	assert.False(t, ok)
}

func TestNeighbors(t *testing.T) {
	g := New()
	g.AddResult("doc", pumpResult())

	all := g.Neighbors("pump", "")
	require.Len(t, all, 2)

	only := g.Neighbors("pump", "part_of")
	require.Len(t, only, 1)
	assert.Equal(t, "impeller", only[0].Label)
}

func TestTraverse_BFSAndDFSVisitEverything(t *testing.T) {
	g := New()
	g.AddResult("doc", pumpResult())

	bfs, err := g.Traverse("impeller", 3, BFS)
	require.NoError(t, err)
	assert.Len(t, bfs, 3)
	assert.Equal(t, "impeller", bfs[0].Label)

	dfs, err := g.Traverse("impeller", 3, DFS)
	require.NoError(t, err)
	assert.Len(t, dfs, 3)
}

func TestTraverse_DepthBound(t *testing.T) {
	g := New()
	g.AddResult("doc", pumpResult())

	// Depth zero is just the start node.
	nodes, err := g.Traverse("impeller", 0, BFS)
	require.NoError(t, err)
	assert.Len(t, nodes, 1)
}

func TestTraverse_Errors(t *testing.T) {
	g := New()
	g.AddResult("doc", pumpResult())

	_, err := g.Traverse("missing", 1, BFS)
	require.Error(t, err)

	_, err = g.Traverse("pump", 1, TraversalType("sideways"))
	require.Error(t, err)
}

func TestVisualize_WritesHTML(t *testing.T) {
	g := New()
	g.AddResult("doc", pumpResult())

	path := filepath.Join(t.TempDir(), "doc_graph.html")
	v := NewVisualizer(path)
	require.NoError(t, v.Visualize(g.Data()))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	html := string(data)
	assert.True(t, strings.Contains(html, "d3.v7.min.js"))
	assert.True(t, strings.Contains(html, "pump"))
	assert.True(t, strings.Contains(html, "Entities: 3, Relationships: 2"))
}
