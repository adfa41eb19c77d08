package extract

import (
	"sort"
	"strings"
)

// BlockKind discriminates the payload of a ContentBlock.
type BlockKind string

const (
	KindText     BlockKind = "text"
	KindTable    BlockKind = "table"
	KindEquation BlockKind = "equation"
	KindImage    BlockKind = "image"
)

// ContentBlock is one normalized unit of parsed document content. The
// kind tag selects which payload fields are meaningful; the JSON shape
// mirrors what the parser backends emit so parsed-content files stay
// interchangeable with them.
type ContentBlock struct {
	Kind      BlockKind `json:"type"`
	PageIndex int       `json:"page_idx"`
	Order     int       `json:"order"`

	// text and equation payload (equation source for KindEquation)
	Text       string `json:"text,omitempty"`
	TextFormat string `json:"text_format,omitempty"`

	// table payload
	TableCaption string     `json:"table_caption,omitempty"`
	TableBody    [][]string `json:"table_body,omitempty"`

	// image payload
	ImagePath    string `json:"img_path,omitempty"`
	ImageCaption string `json:"image_caption,omitempty"`
}

// Batch is a bounded group of content blocks assigned to a single
// extraction call. Blocks keep their original page/order metadata.
type Batch struct {
	Kind   BlockKind // dominant kind, selects the prompt template
	Blocks []ContentBlock
	Tokens int // estimated size
}

// Entity is a typed entity extracted from document content.
type Entity struct {
	Name           string    `json:"name"`
	Type           string    `json:"type"`
	Description    string    `json:"description,omitempty"`
	RelevanceScore float64   `json:"relevance_score"`
	SourcePage     int       `json:"source_page"`
	SourceType     BlockKind `json:"source_type,omitempty"`
}

// Key returns the deduplication identity of the entity: the normalized
// (name, type) pair, case and whitespace insensitive.
func (e Entity) Key() string {
	return normalizeKey(e.Name) + "|" + normalizeKey(e.Type)
}

// Relationship is a typed edge between two extracted entities.
type Relationship struct {
	From        string  `json:"from"`
	To          string  `json:"to"`
	Relation    string  `json:"relation"`
	Description string  `json:"description,omitempty"`
	Confidence  float64 `json:"confidence"`
}

// Key returns the deduplication identity (from, to, relation).
func (r Relationship) Key() string {
	return normalizeKey(r.From) + "|" + normalizeKey(r.To) + "|" + normalizeKey(r.Relation)
}

// Payload is the validated output of one extraction call.
type Payload struct {
	Entities      []Entity       `json:"entities"`
	Relationships []Relationship `json:"relationships"`
}

// DocumentAnalysis holds whole-document metadata, produced once per
// document by the analyzer pass.
type DocumentAnalysis struct {
	Title    string `json:"title"`
	Type     string `json:"type"`
	Domain   string `json:"domain"`
	Language string `json:"language"`
}

// UnknownAnalysis is the degraded analysis record used when the
// analyzer pass fails.
func UnknownAnalysis() DocumentAnalysis {
	return DocumentAnalysis{Title: "unknown", Type: "unknown", Domain: "unknown", Language: "unknown"}
}

// Statistics counts what happened during one document run.
type Statistics struct {
	TotalEntities           int `json:"total_entities"`
	TotalRelationships      int `json:"total_relationships"`
	TextBlocksProcessed     int `json:"text_blocks_processed"`
	TableBlocksProcessed    int `json:"table_blocks_processed"`
	EquationBlocksProcessed int `json:"equation_blocks_processed"`
	ImageBlocksProcessed    int `json:"image_blocks_processed"`
	SkippedBlocks           int `json:"skipped_blocks"`
	FailedBatches           int `json:"failed_batches"`
	ValidationFailures      int `json:"validation_failures"`
}

// ExtractionResult is the document-level result set: deduplicated
// entities and relationships keyed by identity, the document analysis
// and run statistics. It is owned by exactly one processing run.
type ExtractionResult struct {
	Entities      map[string]*Entity
	Relationships map[string]*Relationship
	Analysis      DocumentAnalysis
	Stats         Statistics
}

// NewExtractionResult returns an empty result with initialized maps.
func NewExtractionResult() *ExtractionResult {
	return &ExtractionResult{
		Entities:      make(map[string]*Entity),
		Relationships: make(map[string]*Relationship),
		Analysis:      UnknownAnalysis(),
	}
}

// SortedEntities returns the entities ordered by identity key so that
// serialized output is reproducible across runs.
func (r *ExtractionResult) SortedEntities() []Entity {
	keys := make([]string, 0, len(r.Entities))
	for k := range r.Entities {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]Entity, 0, len(keys))
	for _, k := range keys {
		out = append(out, *r.Entities[k])
	}
	return out
}

// SortedRelationships returns the relationships ordered by identity key.
func (r *ExtractionResult) SortedRelationships() []Relationship {
	keys := make([]string, 0, len(r.Relationships))
	for k := range r.Relationships {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]Relationship, 0, len(keys))
	for _, k := range keys {
		out = append(out, *r.Relationships[k])
	}
	return out
}

// normalizeKey lowercases and collapses interior whitespace so that
// "Siemens AG" and " siemens  ag " share an identity.
func normalizeKey(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// NameKey exposes the identity normalization for a single name, for
// consumers that index entities by name alone.
func NameKey(s string) string {
	return normalizeKey(s)
}
