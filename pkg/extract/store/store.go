// Package store persists extraction results to a stable, human
// diffable JSON file layout: per document an entities file, a
// complete-results file and optionally the normalized parsed content.
package store

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/athapong/docgraph/pkg/extract"
)

// resultDocument is the on-disk shape of the entities file. Key names
// are part of the output contract and must stay stable.
type resultDocument struct {
	Entities         []extract.Entity         `json:"entities"`
	Relationships    []extract.Relationship   `json:"relationships"`
	DocumentAnalysis extract.DocumentAnalysis `json:"document_analysis"`
	Statistics       extract.Statistics       `json:"statistics"`
}

// completeDocument is the superset written to the complete-results
// file: everything in the entities file plus the normalized content.
type completeDocument struct {
	Document string                 `json:"document"`
	Content  []extract.ContentBlock `json:"content"`
	resultDocument
}

// Store writes result files under one output directory.
type Store struct {
	dir    string
	logger *logrus.Logger
}

// New creates the store and its output directory.
func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, errors.Wrap(err, "create output directory")
	}

	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	return &Store{dir: dir, logger: logger}, nil
}

// WriteResults writes <name>_entities.json and
// <name>_complete_results.json. Entities and relationships are sorted
// by identity key so identical results serialize identically.
func (s *Store) WriteResults(name string, result *extract.ExtractionResult, blocks []extract.ContentBlock) error {
	doc := resultDocument{
		Entities:         result.SortedEntities(),
		Relationships:    result.SortedRelationships(),
		DocumentAnalysis: result.Analysis,
		Statistics:       result.Stats,
	}

	if err := s.writeJSON(name+"_entities.json", doc); err != nil {
		return err
	}

	complete := completeDocument{
		Document:       name,
		Content:        blocks,
		resultDocument: doc,
	}
	if err := s.writeJSON(name+"_complete_results.json", complete); err != nil {
		return err
	}

	s.logger.WithFields(logrus.Fields{
		"document":      name,
		"entities":      len(doc.Entities),
		"relationships": len(doc.Relationships),
	}).Info("Results written")
	return nil
}

// WriteParsed writes the normalized content blocks to
// <name>_parsed.json, interchangeable with parser backend output.
func (s *Store) WriteParsed(name string, blocks []extract.ContentBlock) error {
	if blocks == nil {
		blocks = []extract.ContentBlock{}
	}
	return s.writeJSON(name+"_parsed.json", blocks)
}

// WriteMarkdown renders the normalized content as Markdown to
// <name>_parsed.md, for eyeballing what the parser produced.
func (s *Store) WriteMarkdown(name string, blocks []extract.ContentBlock) error {
	path := filepath.Join(s.dir, name+"_parsed.md")
	return errors.Wrap(os.WriteFile(path, []byte(ContentToMarkdown(blocks)), 0644), "write markdown")
}

// Load reads an entities file back into an ExtractionResult.
func (s *Store) Load(name string) (*extract.ExtractionResult, error) {
	data, err := os.ReadFile(filepath.Join(s.dir, name+"_entities.json"))
	if err != nil {
		return nil, errors.Wrap(err, "read entities file")
	}

	var doc resultDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, errors.Wrap(err, "decode entities file")
	}

	result := extract.NewExtractionResult()
	for _, entity := range doc.Entities {
		e := entity
		result.Entities[e.Key()] = &e
	}
	for _, rel := range doc.Relationships {
		r := rel
		result.Relationships[r.Key()] = &r
	}
	result.Analysis = doc.DocumentAnalysis
	result.Stats = doc.Statistics
	return result, nil
}

func (s *Store) writeJSON(filename string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errors.Wrapf(err, "encode %s", filename)
	}
	return errors.Wrapf(os.WriteFile(filepath.Join(s.dir, filename), data, 0644), "write %s", filename)
}

// ContentToMarkdown renders content blocks in original order: text as
// paragraphs, tables as pipe tables with caption, equations in $$
// fences, images as links.
func ContentToMarkdown(blocks []extract.ContentBlock) string {
	var lines []string

	for _, block := range blocks {
		switch block.Kind {
		case extract.KindText:
			lines = append(lines, block.Text, "")

		case extract.KindImage:
			lines = append(lines, "!["+block.ImageCaption+"]("+block.ImagePath+")")
			if block.ImageCaption != "" {
				lines = append(lines, "*"+block.ImageCaption+"*")
			}
			lines = append(lines, "")

		case extract.KindTable:
			if block.TableCaption != "" {
				lines = append(lines, "**Table: "+block.TableCaption+"**", "")
			}
			for i, row := range block.TableBody {
				lines = append(lines, "| "+strings.Join(row, " | ")+" |")
				if i == 0 {
					seps := make([]string, len(row))
					for j := range seps {
						seps[j] = "---"
					}
					lines = append(lines, "| "+strings.Join(seps, " | ")+" |")
				}
			}
			lines = append(lines, "")

		case extract.KindEquation:
			lines = append(lines, "$$", block.Text, "$$", "")
		}
	}

	return strings.Join(lines, "\n")
}
