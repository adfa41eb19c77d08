package extract

import (
	"context"
	"unicode/utf8"

	"github.com/sirupsen/logrus"
)

// blockPreview is the compact block view fed to the analysis prompt.
type blockPreview struct {
	Type    BlockKind `json:"type"`
	Preview string    `json:"text_preview"`
	Page    int       `json:"page"`
}

// Analyzer performs the single whole-document pass that infers title,
// type, domain and language from a representative sample of blocks.
type Analyzer struct {
	engine    *Engine
	validator *Validator
	sample    int
	logger    *logrus.Logger
}

// NewAnalyzer creates an analyzer sharing the engine's call machinery.
func NewAnalyzer(engine *Engine, validator *Validator, cfg Config) *Analyzer {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	return &Analyzer{
		engine:    engine,
		validator: validator,
		sample:    cfg.AnalysisSampleBlocks,
		logger:    logger,
	}
}

// Analyze infers document metadata from the leading blocks. Failure
// degrades to the "unknown" record; it never fails the document.
func (a *Analyzer) Analyze(ctx context.Context, blocks []ContentBlock) DocumentAnalysis {
	if len(blocks) == 0 {
		return UnknownAnalysis()
	}

	sample := buildSample(blocks, a.sample)

	raw, err := a.engine.complete(ctx, BuildAnalysisPrompt(sample))
	if err != nil {
		a.logger.WithError(err).Warn("Document analysis call failed, using unknown record")
		return UnknownAnalysis()
	}

	analysis, err := a.validator.ParseAnalysis(raw)
	if err != nil {
		a.logger.WithError(err).Warn("Document analysis output invalid, using unknown record")
		return UnknownAnalysis()
	}
	return analysis
}

// buildSample previews the first n blocks: kind, a 100-rune text
// preview and the page, enough for the model to judge the document.
func buildSample(blocks []ContentBlock, n int) []blockPreview {
	if n > len(blocks) {
		n = len(blocks)
	}

	sample := make([]blockPreview, 0, n)
	for _, block := range blocks[:n] {
		preview := block.Text
		switch block.Kind {
		case KindTable:
			preview = block.TableCaption
		case KindImage:
			preview = block.ImageCaption
		}
		sample = append(sample, blockPreview{
			Type:    block.Kind,
			Preview: truncatePreview(preview, 100),
			Page:    block.PageIndex,
		})
	}
	return sample
}

func truncatePreview(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	return string([]rune(s)[:limit])
}
