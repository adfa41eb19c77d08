package extract

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// ResultWriter is the persistence boundary the pipeline writes
// through; the store package provides the flat-file implementation.
type ResultWriter interface {
	WriteParsed(name string, blocks []ContentBlock) error
	WriteResults(name string, result *ExtractionResult, blocks []ContentBlock) error
}

// SourceDocument pairs a document name with its parser output records.
type SourceDocument struct {
	Name    string
	Records []json.RawMessage
}

// Pipeline wires the full document flow: normalize, batch, extract,
// validate, merge, analyze, persist. One pipeline serves any number of
// documents; each Process call owns an independent result.
type Pipeline struct {
	cfg        Config
	normalizer *Normalizer
	batcher    *Batcher
	engine     *Engine
	analyzer   *Analyzer
	writer     ResultWriter
	logger     *logrus.Logger
}

// NewPipeline builds a pipeline around a model backend. Configuration
// errors are fatal here, before any work starts. The writer may be nil
// when the caller persists results itself.
func NewPipeline(completer Completer, cfg Config, writer ResultWriter) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	validator := NewValidator(cfg.RelationVocabulary)
	engine := NewEngine(completer, validator, cfg)

	return &Pipeline{
		cfg:        cfg,
		normalizer: NewNormalizer(),
		batcher:    NewBatcher(cfg),
		engine:     engine,
		analyzer:   NewAnalyzer(engine, validator, cfg),
		writer:     writer,
		logger:     logger,
	}, nil
}

// ProcessRaw decodes a parser content-list document and processes it.
func (p *Pipeline) ProcessRaw(ctx context.Context, name string, data []byte) (*ExtractionResult, error) {
	var records []json.RawMessage
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, errors.Wrapf(err, "decode content list for %s", name)
	}
	return p.Process(ctx, name, records)
}

// Process runs one document through the whole pipeline. It always
// returns a best-effort result: failed batches and skipped blocks end
// up in statistics, never as a document-level error. The error return
// only reports persistence problems.
func (p *Pipeline) Process(ctx context.Context, name string, records []json.RawMessage) (*ExtractionResult, error) {
	log := p.logger.WithField("document", name)
	log.WithField("records", len(records)).Info("Processing document")

	blocks, skipped := p.normalizer.Normalize(records)

	if p.cfg.SaveIntermediate && p.writer != nil {
		if err := p.writer.WriteParsed(name, blocks); err != nil {
			log.WithError(err).Warn("Failed to write parsed content")
		}
	}

	acc := NewAccumulator()
	acc.RecordSkippedBlocks(skipped)

	batches := p.batcher.Split(blocks)
	log.WithFields(logrus.Fields{
		"blocks":  len(blocks),
		"batches": len(batches),
	}).Info("Starting extraction")

	p.engine.ExtractAll(ctx, batches, acc)

	if p.cfg.ExtractRelations {
		p.engine.InferRelationships(ctx, acc)
	}

	acc.SetAnalysis(p.analyzer.Analyze(ctx, blocks))

	result := acc.Snapshot()
	log.WithFields(logrus.Fields{
		"entities":       result.Stats.TotalEntities,
		"relationships":  result.Stats.TotalRelationships,
		"failed_batches": result.Stats.FailedBatches,
	}).Info("Document processing completed")

	if p.writer != nil {
		if err := p.writer.WriteResults(name, result, blocks); err != nil {
			return result, errors.Wrapf(err, "persist results for %s", name)
		}
	}
	return result, nil
}

// ProcessBatch runs multiple documents across a bounded worker pool.
// Each document owns an independent result; one failing document never
// stops the others.
func (p *Pipeline) ProcessBatch(ctx context.Context, docs []SourceDocument) (map[string]*ExtractionResult, []string) {
	results := make(map[string]*ExtractionResult, len(docs))
	var failed []string
	var mu sync.Mutex

	sem := make(chan struct{}, p.cfg.DocumentWorkers)
	var wg sync.WaitGroup

	for _, doc := range docs {
		if ctx.Err() != nil {
			break
		}

		wg.Add(1)
		sem <- struct{}{}
		go func(doc SourceDocument) {
			defer wg.Done()
			defer func() { <-sem }()

			result, err := p.Process(ctx, doc.Name, doc.Records)
			mu.Lock()
			defer mu.Unlock()
			results[doc.Name] = result
			if err != nil {
				p.logger.WithError(err).WithField("document", doc.Name).Error("Document run finished with errors")
				failed = append(failed, doc.Name)
			}
		}(doc)
	}
	wg.Wait()

	p.logger.WithFields(logrus.Fields{
		"documents": len(docs),
		"failed":    len(failed),
	}).Info("Batch processing completed")

	return results, failed
}
