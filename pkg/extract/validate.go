package extract

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"

	"github.com/athapong/docgraph/pkg/extract/metrics"
)

// payloadSchema constrains the envelope of an extraction payload. The
// arrays themselves stay loose on purpose: invalid individual records
// are dropped during field validation instead of failing the batch.
const payloadSchema = `{
	"type": "object",
	"properties": {
		"entities": {"type": "array", "items": {"type": "object"}},
		"extracted_entities": {"type": "array", "items": {"type": "object"}},
		"relationships": {"type": "array", "items": {"type": "object"}},
		"relations": {"type": "array", "items": {"type": "object"}}
	}
}`

var fencedBlockRe = regexp.MustCompile("(?i)```(?:json)?\\s*([\\s\\S]*?)```")

// Validator parses raw model output against the extraction contract,
// repairing payloads wrapped in prose and dropping invalid records.
type Validator struct {
	schema *jsonschema.Schema
	vocab  map[string]struct{}
	logger *logrus.Logger
}

// NewValidator creates a validator for the given relation vocabulary.
func NewValidator(vocabulary []string) *Validator {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("payload.json", strings.NewReader(payloadSchema)); err != nil {
		panic(err)
	}

	vocab := make(map[string]struct{}, len(vocabulary))
	for _, label := range vocabulary {
		vocab[normalizeRelation(label)] = struct{}{}
	}

	return &Validator{
		schema: compiler.MustCompile("payload.json"),
		vocab:  vocab,
		logger: logger,
	}
}

// ParsePayload turns raw model output into a validated Payload. The
// repair ladder: direct parse, fenced code block, largest embedded
// JSON object. Irrecoverable output returns an error; the caller
// records it as a validation failure for the batch only.
func (v *Validator) ParsePayload(raw string) (Payload, error) {
	doc, stage, ok := extractJSON(raw)
	if !ok {
		metrics.ValidationFailures.Inc()
		return Payload{}, errors.New("no structured payload in model output")
	}
	if stage != "direct" {
		metrics.PayloadRepairs.WithLabelValues(stage).Inc()
		v.logger.WithField("stage", stage).Debug("Recovered embedded payload")
	}

	var decoded map[string]any
	if err := json.Unmarshal([]byte(doc), &decoded); err != nil {
		metrics.ValidationFailures.Inc()
		return Payload{}, errors.Wrap(err, "decode payload")
	}
	if err := v.schema.Validate(decoded); err != nil {
		metrics.ValidationFailures.Inc()
		return Payload{}, errors.Wrap(err, "payload schema")
	}

	payload := Payload{
		Entities:      v.sanitizeEntities(records(decoded, "entities", "extracted_entities")),
		Relationships: v.sanitizeRelationships(records(decoded, "relationships", "relations")),
	}
	return payload, nil
}

// ParseAnalysis extracts the document analysis record from raw model
// output, accepting both the nested document_info shape and flat keys.
func (v *Validator) ParseAnalysis(raw string) (DocumentAnalysis, error) {
	doc, _, ok := extractJSON(raw)
	if !ok {
		return DocumentAnalysis{}, errors.New("no structured payload in analysis output")
	}

	field := func(name string) string {
		if r := gjson.Get(doc, "document_info."+name); r.Exists() {
			return strings.TrimSpace(r.String())
		}
		return strings.TrimSpace(gjson.Get(doc, name).String())
	}

	analysis := DocumentAnalysis{
		Title:    field("title"),
		Type:     field("type"),
		Domain:   field("domain"),
		Language: field("language"),
	}
	if analysis == (DocumentAnalysis{}) {
		return DocumentAnalysis{}, errors.New("analysis output carries no document info")
	}

	unknown := UnknownAnalysis()
	if analysis.Title == "" {
		analysis.Title = unknown.Title
	}
	if analysis.Type == "" {
		analysis.Type = unknown.Type
	}
	if analysis.Domain == "" {
		analysis.Domain = unknown.Domain
	}
	if analysis.Language == "" {
		analysis.Language = unknown.Language
	}
	return analysis, nil
}

func (v *Validator) sanitizeEntities(raw []map[string]any) []Entity {
	out := make([]Entity, 0, len(raw))
	for _, m := range raw {
		name := stringField(m, "name")
		if name == "" {
			metrics.RecordsDropped.WithLabelValues("entity").Inc()
			v.logger.Debug("Dropping entity without name")
			continue
		}

		typ := stringField(m, "type")
		if typ == "" {
			typ = "unknown"
		}

		out = append(out, Entity{
			Name:           name,
			Type:           typ,
			Description:    stringField(m, "description"),
			RelevanceScore: clamp01(numberField(m, "relevance_score", "importance", "score")),
		})
	}
	return out
}

func (v *Validator) sanitizeRelationships(raw []map[string]any) []Relationship {
	out := make([]Relationship, 0, len(raw))
	for _, m := range raw {
		from := stringField(m, "from")
		to := stringField(m, "to")
		relation := normalizeRelation(stringField(m, "relation"))
		if from == "" || to == "" || relation == "" {
			metrics.RecordsDropped.WithLabelValues("relationship").Inc()
			v.logger.Debug("Dropping relationship with missing endpoint or label")
			continue
		}
		if _, known := v.vocab[relation]; !known {
			v.logger.WithField("relation", relation).Debug("Relation label outside controlled vocabulary")
		}

		out = append(out, Relationship{
			From:        from,
			To:          to,
			Relation:    relation,
			Description: stringField(m, "description"),
			Confidence:  clamp01(numberField(m, "confidence")),
		})
	}
	return out
}

// extractJSON finds the structured payload in raw model output. Models
// often wrap valid JSON in prose or code fences; each repair stage is
// tried in order and the first valid JSON object wins.
func extractJSON(raw string) (doc string, stage string, ok bool) {
	trimmed := strings.TrimSpace(raw)
	if isJSONObject(trimmed) {
		return trimmed, "direct", true
	}

	for _, match := range fencedBlockRe.FindAllStringSubmatch(raw, -1) {
		candidate := strings.TrimSpace(match[1])
		if isJSONObject(candidate) {
			return candidate, "fenced", true
		}
	}

	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start >= 0 && end > start {
		candidate := strings.TrimSpace(raw[start : end+1])
		if isJSONObject(candidate) {
			return candidate, "embedded", true
		}
		// Prose may follow the payload; walk the closing braces
		// backwards until a valid object remains.
		for end = strings.LastIndex(raw[:end], "}"); end > start; end = strings.LastIndex(raw[:end], "}") {
			candidate = strings.TrimSpace(raw[start : end+1])
			if isJSONObject(candidate) {
				return candidate, "embedded", true
			}
		}
	}

	return "", "", false
}

func isJSONObject(s string) bool {
	return strings.HasPrefix(s, "{") && gjson.Valid(s)
}

// records pulls the first present alias of a record array out of the
// decoded payload. Different prompt templates historically used
// different envelope keys.
func records(decoded map[string]any, keys ...string) []map[string]any {
	for _, key := range keys {
		list, ok := decoded[key].([]any)
		if !ok {
			continue
		}
		out := make([]map[string]any, 0, len(list))
		for _, item := range list {
			if m, ok := item.(map[string]any); ok {
				out = append(out, m)
			}
		}
		return out
	}
	return nil
}

func stringField(m map[string]any, keys ...string) string {
	for _, key := range keys {
		if s, ok := m[key].(string); ok {
			if s = strings.TrimSpace(s); s != "" {
				return s
			}
		}
	}
	return ""
}

// numberField coerces numeric fields that models emit as numbers or
// numeric strings. Missing or unparseable values become zero.
func numberField(m map[string]any, keys ...string) float64 {
	for _, key := range keys {
		switch t := m[key].(type) {
		case float64:
			return t
		case string:
			if f, err := strconv.ParseFloat(strings.TrimSpace(t), 64); err == nil {
				return f
			}
		}
	}
	return 0
}

// clamp01 clamps advisory scores into their declared range instead of
// rejecting the record.
func clamp01(f float64) float64 {
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}

// normalizeRelation lowercases and underscores a relation label so
// controlled-vocabulary labels compare reliably; custom labels pass
// through in the same normalized form.
func normalizeRelation(label string) string {
	label = strings.ToLower(strings.TrimSpace(label))
	return strings.Join(strings.FieldsFunc(label, func(r rune) bool {
		return r == ' ' || r == '-' || r == '_'
	}), "_")
}
