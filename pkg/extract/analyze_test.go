package extract

import (
	"context"
	"strings"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAnalyzer(completer Completer) *Analyzer {
	validator := newTestValidator()
	cfg := testConfig()
	engine := NewEngine(completer, validator, cfg)
	return NewAnalyzer(engine, validator, cfg)
}

func TestAnalyze_ParsesDocumentInfo(t *testing.T) {
	completer := CompleterFunc(func(ctx context.Context, prompt string) (string, error) {
		return `{"document_info": {"title": "Grid Maintenance Handbook", "type": "handbook", "domain": "energy", "language": "en"}}`, nil
	})
	a := newTestAnalyzer(completer)

	analysis := a.Analyze(context.Background(), []ContentBlock{textBlock(0, "Grid maintenance procedures")})

	assert.Equal(t, "Grid Maintenance Handbook", analysis.Title)
	assert.Equal(t, "energy", analysis.Domain)
}

func TestAnalyze_EmptyDocumentIsUnknown(t *testing.T) {
	completer := CompleterFunc(func(ctx context.Context, prompt string) (string, error) {
		t.Fatal("no call expected for empty input")
		return "", nil
	})
	a := newTestAnalyzer(completer)

	assert.Equal(t, UnknownAnalysis(), a.Analyze(context.Background(), nil))
}

func TestAnalyze_CallFailureDegradesToUnknown(t *testing.T) {
	completer := CompleterFunc(func(ctx context.Context, prompt string) (string, error) {
		return "", errors.New("backend unavailable")
	})
	a := newTestAnalyzer(completer)

	analysis := a.Analyze(context.Background(), []ContentBlock{textBlock(0, "x")})

	assert.Equal(t, UnknownAnalysis(), analysis)
}

func TestAnalyze_InvalidOutputDegradesToUnknown(t *testing.T) {
	completer := CompleterFunc(func(ctx context.Context, prompt string) (string, error) {
		return "I have no idea what this document is.", nil
	})
	a := newTestAnalyzer(completer)

	analysis := a.Analyze(context.Background(), []ContentBlock{textBlock(0, "x")})

	assert.Equal(t, UnknownAnalysis(), analysis)
}

func TestBuildSample_PreviewsAndCaps(t *testing.T) {
	blocks := []ContentBlock{
		textBlock(0, strings.Repeat("long text ", 50)),
		{Kind: KindTable, PageIndex: 1, TableCaption: "Results table"},
		{Kind: KindImage, PageIndex: 2, ImageCaption: "Figure caption"},
		textBlock(3, "never sampled"),
	}

	sample := buildSample(blocks, 3)

	require.Len(t, sample, 3)
	assert.LessOrEqual(t, len([]rune(sample[0].Preview)), 100)
	assert.Equal(t, "Results table", sample[1].Preview)
	assert.Equal(t, "Figure caption", sample[2].Preview)
	assert.Equal(t, 2, sample[2].Page)
}
