package store

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/athapong/docgraph/pkg/extract"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(t.TempDir())
	require.NoError(t, err)
	return s
}

func sampleResult() *extract.ExtractionResult {
	result := extract.NewExtractionResult()

	for _, e := range []extract.Entity{
		{Name: "pump", Type: "equipment", Description: "centrifugal pump", RelevanceScore: 0.9, SourceType: extract.KindText, SourcePage: 0},
		{Name: "impeller", Type: "component", RelevanceScore: 0.7, SourceType: extract.KindText, SourcePage: 1},
	} {
		entity := e
		result.Entities[entity.Key()] = &entity
	}

	rel := extract.Relationship{From: "impeller", To: "pump", Relation: "part_of", Description: "rotating part", Confidence: 0.8}
	result.Relationships[rel.Key()] = &rel

	result.Analysis = extract.DocumentAnalysis{Title: "Pump Manual", Type: "manual", Domain: "industrial", Language: "en"}
	result.Stats = extract.Statistics{
		TotalEntities:       2,
		TotalRelationships:  1,
		TextBlocksProcessed: 3,
		SkippedBlocks:       1,
	}
	return result
}

func TestWriteResults_ProducesBothFiles(t *testing.T) {
	s := newTestStore(t)

	blocks := []extract.ContentBlock{
		{Kind: extract.KindText, PageIndex: 0, Text: "pump overview"},
	}
	require.NoError(t, s.WriteResults("manual", sampleResult(), blocks))

	entitiesPath := filepath.Join(s.dir, "manual_entities.json")
	completePath := filepath.Join(s.dir, "manual_complete_results.json")

	data, err := os.ReadFile(entitiesPath)
	require.NoError(t, err)
	var doc map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(data, &doc))
	assert.Contains(t, doc, "entities")
	assert.Contains(t, doc, "relationships")
	assert.Contains(t, doc, "document_analysis")
	assert.Contains(t, doc, "statistics")

	data, err = os.ReadFile(completePath)
	require.NoError(t, err)
	var complete map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(data, &complete))
	assert.Contains(t, complete, "document")
	assert.Contains(t, complete, "content")
	assert.Contains(t, complete, "entities")
}

func TestWriteResults_DeterministicSerialization(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.WriteResults("a", sampleResult(), nil))
	first, err := os.ReadFile(filepath.Join(s.dir, "a_entities.json"))
	require.NoError(t, err)

	require.NoError(t, s.WriteResults("b", sampleResult(), nil))
	second, err := os.ReadFile(filepath.Join(s.dir, "b_entities.json"))
	require.NoError(t, err)

	assert.Equal(t, string(first), string(second))
}

func TestLoad_RoundTrip(t *testing.T) {
	s := newTestStore(t)

	original := sampleResult()
	require.NoError(t, s.WriteResults("doc", original, nil))

	loaded, err := s.Load("doc")
	require.NoError(t, err)

	require.Len(t, loaded.Entities, len(original.Entities))
	for key, entity := range original.Entities {
		got, ok := loaded.Entities[key]
		require.True(t, ok, "missing entity key %s", key)
		assert.Equal(t, *entity, *got)
	}
	require.Len(t, loaded.Relationships, len(original.Relationships))
	for key, rel := range original.Relationships {
		got, ok := loaded.Relationships[key]
		require.True(t, ok, "missing relationship key %s", key)
		assert.Equal(t, *rel, *got)
	}
	assert.Equal(t, original.Analysis, loaded.Analysis)
	assert.Equal(t, original.Stats, loaded.Stats)
}

func TestLoad_MissingDocument(t *testing.T) {
	s := newTestStore(t)

	_, err := s.Load("nothing")
	require.Error(t, err)
}

func TestWriteParsed_EmptyContentStaysAList(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.WriteParsed("empty", nil))

	data, err := os.ReadFile(filepath.Join(s.dir, "empty_parsed.json"))
	require.NoError(t, err)
	assert.Equal(t, "[]", strings.TrimSpace(string(data)))
}

func TestContentToMarkdown(t *testing.T) {
	blocks := []extract.ContentBlock{
		{Kind: extract.KindText, Text: "Opening paragraph."},
		{Kind: extract.KindTable, TableCaption: "Limits", TableBody: [][]string{{"Device", "Limit"}, {"PLC", "24"}}},
		{Kind: extract.KindEquation, Text: "E = mc^2"},
		{Kind: extract.KindImage, ImagePath: "images/fig1.png", ImageCaption: "Figure 1"},
	}

	md := ContentToMarkdown(blocks)

	assert.Contains(t, md, "Opening paragraph.")
	assert.Contains(t, md, "**Table: Limits**")
	assert.Contains(t, md, "| Device | Limit |")
	assert.Contains(t, md, "| --- | --- |")
	assert.Contains(t, md, "| PLC | 24 |")
	assert.Contains(t, md, "$$\nE = mc^2\n$$")
	assert.Contains(t, md, "![Figure 1](images/fig1.png)")
	assert.Contains(t, md, "*Figure 1*")
}

func TestWriteMarkdown(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.WriteMarkdown("doc", []extract.ContentBlock{
		{Kind: extract.KindText, Text: "hello"},
	}))

	data, err := os.ReadFile(filepath.Join(s.dir, "doc_parsed.md"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "hello")
}
