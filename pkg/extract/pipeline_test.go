package extract

import (
	"context"
	"strings"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memoryWriter captures pipeline persistence calls for inspection.
type memoryWriter struct {
	parsed  map[string][]ContentBlock
	results map[string]*ExtractionResult
	fail    bool
}

func newMemoryWriter() *memoryWriter {
	return &memoryWriter{
		parsed:  make(map[string][]ContentBlock),
		results: make(map[string]*ExtractionResult),
	}
}

func (w *memoryWriter) WriteParsed(name string, blocks []ContentBlock) error {
	w.parsed[name] = blocks
	return nil
}

func (w *memoryWriter) WriteResults(name string, result *ExtractionResult, blocks []ContentBlock) error {
	if w.fail {
		return errors.New("disk full")
	}
	w.results[name] = result
	return nil
}

// deterministicCompleter answers every prompt kind with fixed output,
// so repeated runs over the same document are comparable.
func deterministicCompleter() Completer {
	return CompleterFunc(func(ctx context.Context, prompt string) (string, error) {
		switch {
		case strings.Contains(prompt, "document_info"):
			return `{"document_info": {"title": "Pump Manual", "type": "manual", "domain": "industrial", "language": "en"}}`, nil
		case strings.Contains(prompt, "Only relate entities from the list"):
			return `{"relationships": [{"from": "pump", "to": "impeller", "relation": "part_of", "confidence": 0.8}]}`, nil
		default:
			return `{
				"entities": [
					{"name": "pump", "type": "equipment", "description": "centrifugal pump", "relevance_score": 0.9},
					{"name": "impeller", "type": "component", "relevance_score": 0.7}
				],
				"relationships": [
					{"from": "impeller", "to": "pump", "relation": "part_of", "confidence": 0.6}
				]
			}`, nil
		}
	})
}

func pipelineRecords(t *testing.T) []string {
	t.Helper()
	return []string{
		`{"type":"text","text":"The centrifugal pump drives the coolant loop.","page_idx":0}`,
		`{"type":"text","text":"Impeller wear is the dominant failure mode.","page_idx":0}`,
		`{"type":"text","text":"","page_idx":1}`,
	}
}

func newTestPipeline(t *testing.T, completer Completer, writer ResultWriter) *Pipeline {
	t.Helper()
	p, err := NewPipeline(completer, testConfig(), writer)
	require.NoError(t, err)
	return p
}

func TestNewPipeline_RejectsInvalidConfig(t *testing.T) {
	cfg := testConfig()
	cfg.Workers = 0

	_, err := NewPipeline(deterministicCompleter(), cfg, nil)
	require.Error(t, err)
}

func TestProcess_EndToEnd(t *testing.T) {
	writer := newMemoryWriter()
	p := newTestPipeline(t, deterministicCompleter(), writer)

	result, err := p.Process(context.Background(), "manual", rawRecords(t, pipelineRecords(t)...))

	require.NoError(t, err)
	assert.Equal(t, 2, result.Stats.TotalEntities)
	assert.GreaterOrEqual(t, result.Stats.TotalRelationships, 1)
	assert.Equal(t, 1, result.Stats.SkippedBlocks)
	assert.Equal(t, 2, result.Stats.TextBlocksProcessed)
	assert.Equal(t, "Pump Manual", result.Analysis.Title)

	assert.Len(t, writer.parsed["manual"], 2)
	require.Contains(t, writer.results, "manual")
}

func TestProcess_IsIdempotentForDeterministicBackend(t *testing.T) {
	p := newTestPipeline(t, deterministicCompleter(), nil)
	records := rawRecords(t, pipelineRecords(t)...)

	first, err := p.Process(context.Background(), "doc", records)
	require.NoError(t, err)
	second, err := p.Process(context.Background(), "doc", records)
	require.NoError(t, err)

	assert.Equal(t, first.Stats, second.Stats)

	require.Equal(t, len(first.Entities), len(second.Entities))
	for key := range first.Entities {
		assert.Contains(t, second.Entities, key)
	}
	require.Equal(t, len(first.Relationships), len(second.Relationships))
	for key := range first.Relationships {
		assert.Contains(t, second.Relationships, key)
	}
}

func TestProcess_BestEffortOnBackendFailure(t *testing.T) {
	completer := CompleterFunc(func(ctx context.Context, prompt string) (string, error) {
		return "", errors.New("backend down")
	})
	p := newTestPipeline(t, completer, nil)

	result, err := p.Process(context.Background(), "doc", rawRecords(t, pipelineRecords(t)...))

	require.NoError(t, err)
	assert.Empty(t, result.Entities)
	assert.GreaterOrEqual(t, result.Stats.FailedBatches, 1)
	assert.Equal(t, UnknownAnalysis(), result.Analysis)
}

func TestProcess_PersistenceErrorIsReturnedWithResult(t *testing.T) {
	writer := newMemoryWriter()
	writer.fail = true
	p := newTestPipeline(t, deterministicCompleter(), writer)

	result, err := p.Process(context.Background(), "doc", rawRecords(t, pipelineRecords(t)...))

	require.Error(t, err)
	require.NotNil(t, result)
	assert.Equal(t, 2, result.Stats.TotalEntities)
}

func TestProcess_RelationPassCanBeDisabled(t *testing.T) {
	var sawRelationPrompt bool
	completer := CompleterFunc(func(ctx context.Context, prompt string) (string, error) {
		if strings.Contains(prompt, "Only relate entities from the list") {
			sawRelationPrompt = true
		}
		return deterministicCompleter().Complete(ctx, prompt)
	})

	cfg := testConfig()
	cfg.ExtractRelations = false
	p, err := NewPipeline(completer, cfg, nil)
	require.NoError(t, err)

	_, err = p.Process(context.Background(), "doc", rawRecords(t, pipelineRecords(t)...))
	require.NoError(t, err)
	assert.False(t, sawRelationPrompt)
}

func TestProcessRaw_BadDocument(t *testing.T) {
	p := newTestPipeline(t, deterministicCompleter(), nil)

	_, err := p.ProcessRaw(context.Background(), "doc", []byte(`{"not":"a list"}`))
	require.Error(t, err)
}

func TestProcessBatch_IndependentDocuments(t *testing.T) {
	writer := newMemoryWriter()
	p := newTestPipeline(t, deterministicCompleter(), writer)

	docs := []SourceDocument{
		{Name: "alpha", Records: rawRecords(t, pipelineRecords(t)...)},
		{Name: "beta", Records: rawRecords(t, pipelineRecords(t)...)},
	}

	results, failed := p.ProcessBatch(context.Background(), docs)

	assert.Empty(t, failed)
	require.Len(t, results, 2)
	assert.Equal(t, 2, results["alpha"].Stats.TotalEntities)
	assert.Equal(t, 2, results["beta"].Stats.TotalEntities)
}
