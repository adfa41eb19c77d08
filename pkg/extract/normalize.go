package extract

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// parserRecord mirrors the content-list schema the parser backends
// emit. Unknown fields are ignored; fields that vary in shape across
// backends are decoded leniently.
type parserRecord struct {
	Type         string          `json:"type"`
	Text         string          `json:"text"`
	TextFormat   string          `json:"text_format"`
	TableCaption json.RawMessage `json:"table_caption"` // string or list of strings
	TableBody    json.RawMessage `json:"table_body"`    // rows of arbitrary cells
	ImgPath      string          `json:"img_path"`
	ImageCaption json.RawMessage `json:"image_caption"`
	PageIdx      *int            `json:"page_idx"`
}

// Normalizer converts parser-native output into ContentBlocks.
// Structurally defective records are skipped and counted, never fatal.
type Normalizer struct {
	logger *logrus.Logger
}

// NewNormalizer creates a normalizer.
func NewNormalizer() *Normalizer {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	return &Normalizer{logger: logger}
}

// NormalizeRaw decodes a parser content-list JSON document and
// normalizes it. The outer array must be well formed; individual
// records are handled best-effort.
func (n *Normalizer) NormalizeRaw(data []byte) ([]ContentBlock, int, error) {
	var records []json.RawMessage
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, 0, errors.Wrap(err, "decode content list")
	}
	blocks, skipped := n.Normalize(records)
	return blocks, skipped, nil
}

// Normalize converts raw parser records into an ordered ContentBlock
// sequence and reports how many records were skipped.
func (n *Normalizer) Normalize(records []json.RawMessage) ([]ContentBlock, int) {
	blocks := make([]ContentBlock, 0, len(records))
	pageOrder := make(map[int]int)
	skipped := 0

	for i, raw := range records {
		block, err := n.normalizeRecord(raw)
		if err != nil {
			n.logger.WithError(err).WithField("record_index", i).Warn("Skipping content record")
			skipped++
			continue
		}

		block.Order = pageOrder[block.PageIndex]
		pageOrder[block.PageIndex]++
		blocks = append(blocks, block)
	}

	n.logger.WithFields(logrus.Fields{
		"blocks":  len(blocks),
		"skipped": skipped,
	}).Info("Content normalization completed")

	return blocks, skipped
}

func (n *Normalizer) normalizeRecord(raw json.RawMessage) (ContentBlock, error) {
	var rec parserRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return ContentBlock{}, errors.Wrap(err, "decode record")
	}

	if rec.PageIdx == nil {
		return ContentBlock{}, errors.New("missing page index")
	}
	if *rec.PageIdx < 0 {
		return ContentBlock{}, errors.Errorf("negative page index %d", *rec.PageIdx)
	}

	block := ContentBlock{PageIndex: *rec.PageIdx}

	switch BlockKind(rec.Type) {
	case KindText:
		text := strings.TrimSpace(rec.Text)
		if text == "" {
			return ContentBlock{}, errors.New("text block with empty text")
		}
		block.Kind = KindText
		block.Text = text

	case KindEquation:
		text := strings.TrimSpace(rec.Text)
		if text == "" {
			return ContentBlock{}, errors.New("equation block with empty source")
		}
		block.Kind = KindEquation
		block.Text = text
		block.TextFormat = rec.TextFormat

	case KindTable:
		rows := decodeTableBody(rec.TableBody)
		if len(rows) == 0 {
			return ContentBlock{}, errors.New("table block with no rows")
		}
		block.Kind = KindTable
		block.TableBody = rows
		block.TableCaption = decodeCaption(rec.TableCaption)

	case KindImage:
		if strings.TrimSpace(rec.ImgPath) == "" {
			return ContentBlock{}, errors.New("image block without path")
		}
		block.Kind = KindImage
		block.ImagePath = rec.ImgPath
		block.ImageCaption = decodeCaption(rec.ImageCaption)

	default:
		return ContentBlock{}, errors.Errorf("unknown block type %q", rec.Type)
	}

	return block, nil
}

// decodeTableBody accepts rows of arbitrary cell values and renders
// every cell as a string.
func decodeTableBody(raw json.RawMessage) [][]string {
	if len(raw) == 0 {
		return nil
	}

	var rows [][]any
	if err := json.Unmarshal(raw, &rows); err != nil {
		return nil
	}

	out := make([][]string, 0, len(rows))
	for _, row := range rows {
		cells := make([]string, 0, len(row))
		for _, cell := range row {
			switch v := cell.(type) {
			case string:
				cells = append(cells, v)
			case nil:
				cells = append(cells, "")
			case float64:
				cells = append(cells, fmt.Sprintf("%g", v))
			default:
				cells = append(cells, fmt.Sprint(v))
			}
		}
		if len(cells) > 0 {
			out = append(out, cells)
		}
	}
	return out
}

// decodeCaption accepts either a plain string or a list of strings, as
// different parser backends disagree on the shape.
func decodeCaption(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}

	var list []string
	if err := json.Unmarshal(raw, &list); err == nil {
		return strings.TrimSpace(strings.Join(list, " "))
	}
	return ""
}
