package extract

import (
	"sort"
	"strings"
	"sync"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/sirupsen/logrus"

	"github.com/athapong/docgraph/pkg/extract/metrics"
)

// descriptionCap bounds merged relationship descriptions.
const descriptionCap = 500

// descriptionSeparator joins distinct relationship descriptions.
const descriptionSeparator = "; "

// Accumulator folds validated per-batch payloads into the
// document-level ExtractionResult. Extraction calls run concurrently
// but every mutation goes through one mutex, so the result only ever
// sees one writer at a time.
type Accumulator struct {
	mu     sync.Mutex
	result *ExtractionResult
	logger *logrus.Logger
}

// NewAccumulator creates an empty accumulator for one document run.
func NewAccumulator() *Accumulator {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	return &Accumulator{
		result: NewExtractionResult(),
		logger: logger,
	}
}

// Merge folds one batch payload into the document result, attaching
// source provenance from the batch's first block and counting the
// batch blocks as processed.
func (a *Accumulator) Merge(p Payload, b Batch) {
	if len(b.Blocks) > 0 {
		origin := b.Blocks[0]
		for i := range p.Entities {
			if p.Entities[i].SourceType == "" {
				p.Entities[i].SourceType = b.Kind
				p.Entities[i].SourcePage = origin.PageIndex
			}
		}
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	a.mergeEntitiesLocked(p.Entities)
	a.mergeRelationshipsLocked(p.Relationships)
	for _, block := range b.Blocks {
		a.countBlockLocked(block.Kind)
	}

	a.logger.WithFields(logrus.Fields{
		"entities":      len(p.Entities),
		"relationships": len(p.Relationships),
		"batch_kind":    b.Kind,
	}).Debug("Merged batch payload")
}

// MergeEntities folds entities that carry their own provenance, such
// as output of the relationship-inference pass.
func (a *Accumulator) MergeEntities(entities []Entity) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.mergeEntitiesLocked(entities)
}

// MergeRelationships folds standalone relationships.
func (a *Accumulator) MergeRelationships(rels []Relationship) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.mergeRelationshipsLocked(rels)
}

func (a *Accumulator) mergeEntitiesLocked(entities []Entity) {
	for _, entity := range entities {
		key := entity.Key()
		existing, ok := a.result.Entities[key]
		if !ok {
			e := entity
			a.result.Entities[key] = &e
			metrics.EntitiesExtracted.WithLabelValues(string(entity.SourceType)).Inc()
			continue
		}

		// First-seen description and provenance win; the score keeps
		// the strongest evidence.
		if existing.Description == "" {
			existing.Description = entity.Description
		}
		if entity.RelevanceScore > existing.RelevanceScore {
			existing.RelevanceScore = entity.RelevanceScore
		}
	}
}

func (a *Accumulator) mergeRelationshipsLocked(rels []Relationship) {
	for _, rel := range rels {
		key := rel.Key()
		existing, ok := a.result.Relationships[key]
		if !ok {
			r := rel
			a.result.Relationships[key] = &r
			metrics.RelationshipsExtracted.WithLabelValues(rel.Relation).Inc()
			continue
		}

		if rel.Confidence > existing.Confidence {
			existing.Confidence = rel.Confidence
		}
		existing.Description = mergeDescriptions(existing.Description, rel.Description)
	}
}

// mergeDescriptions concatenates distinct descriptions up to the
// length cap.
func mergeDescriptions(existing, incoming string) string {
	incoming = strings.TrimSpace(incoming)
	if incoming == "" {
		return existing
	}
	if existing == "" {
		return truncateRunes(incoming, descriptionCap)
	}

	seen := mapset.NewThreadUnsafeSet[string]()
	for _, part := range strings.Split(existing, descriptionSeparator) {
		seen.Add(part)
	}
	if seen.Contains(incoming) {
		return existing
	}

	return truncateRunes(existing+descriptionSeparator+incoming, descriptionCap)
}

func truncateRunes(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}

func (a *Accumulator) countBlockLocked(kind BlockKind) {
	switch kind {
	case KindText:
		a.result.Stats.TextBlocksProcessed++
	case KindTable:
		a.result.Stats.TableBlocksProcessed++
	case KindEquation:
		a.result.Stats.EquationBlocksProcessed++
	case KindImage:
		a.result.Stats.ImageBlocksProcessed++
	}
}

// RecordSkippedBlocks counts records the normalizer rejected.
func (a *Accumulator) RecordSkippedBlocks(n int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.result.Stats.SkippedBlocks += n
}

// RecordFailedBatch counts a batch that exhausted its retry budget.
func (a *Accumulator) RecordFailedBatch() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.result.Stats.FailedBatches++
}

// RecordValidationFailure counts a batch whose output was
// irrecoverably malformed.
func (a *Accumulator) RecordValidationFailure() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.result.Stats.ValidationFailures++
}

// SetAnalysis stores the document analysis record.
func (a *Accumulator) SetAnalysis(analysis DocumentAnalysis) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.result.Analysis = analysis
}

// TopEntityNames returns up to limit entity names ordered by
// relevance, for the relationship-inference pass.
func (a *Accumulator) TopEntityNames(limit int) []string {
	a.mu.Lock()
	defer a.mu.Unlock()

	entities := a.result.SortedEntities()
	// Highest relevance first; the identity-sorted base order keeps
	// ties deterministic.
	sort.SliceStable(entities, func(i, j int) bool {
		return entities[i].RelevanceScore > entities[j].RelevanceScore
	})

	if limit > len(entities) {
		limit = len(entities)
	}
	names := make([]string, 0, limit)
	for _, e := range entities[:limit] {
		names = append(names, e.Name)
	}
	return names
}

// Snapshot returns the current document-level result with totals
// filled in. The returned value is a copy safe to serialize while
// extraction continues.
func (a *Accumulator) Snapshot() *ExtractionResult {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := NewExtractionResult()
	for k, e := range a.result.Entities {
		copied := *e
		out.Entities[k] = &copied
	}
	for k, r := range a.result.Relationships {
		copied := *r
		out.Relationships[k] = &copied
	}
	out.Analysis = a.result.Analysis
	out.Stats = a.result.Stats
	out.Stats.TotalEntities = len(out.Entities)
	out.Stats.TotalRelationships = len(out.Relationships)
	return out
}
