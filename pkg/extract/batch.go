package extract

import (
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"
	"github.com/sirupsen/logrus"
)

// tokenizerEncoding matches what the target chat models tokenize with.
const tokenizerEncoding = "cl100k_base"

// Batcher groups content blocks into extraction batches under a token
// budget. Consecutive text blocks merge; tables and equations open
// their own batch unless small enough to ride with adjacent text;
// images always stand alone. Output order equals input order, so the
// concatenation of all batches reproduces the block sequence exactly.
type Batcher struct {
	budget        int
	combineBudget int
	encoding      *tiktoken.Tiktoken
	logger        *logrus.Logger
}

// NewBatcher creates a batcher for the configured budgets. When the
// tokenizer data is unavailable (offline environments) it falls back
// to a rune-count estimate.
func NewBatcher(cfg Config) *Batcher {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	encoding, err := tiktoken.GetEncoding(tokenizerEncoding)
	if err != nil {
		logger.WithError(err).Warn("Tokenizer unavailable, falling back to rune estimate")
		encoding = nil
	}

	return &Batcher{
		budget:        cfg.BatchBudget,
		combineBudget: cfg.CombineBudget,
		encoding:      encoding,
		logger:        logger,
	}
}

// Split partitions the block sequence into batches. No block is
// dropped or duplicated; a single block over budget passes through as
// its own batch.
func (b *Batcher) Split(blocks []ContentBlock) []Batch {
	var batches []Batch
	var current *Batch

	flush := func() {
		if current != nil && len(current.Blocks) > 0 {
			batches = append(batches, *current)
		}
		current = nil
	}

	for _, block := range blocks {
		size := b.Estimate(block)

		switch block.Kind {
		case KindText:
			if current != nil && current.Kind == KindText && current.Tokens+size <= b.budget {
				current.Blocks = append(current.Blocks, block)
				current.Tokens += size
				continue
			}
			flush()
			current = &Batch{Kind: KindText, Blocks: []ContentBlock{block}, Tokens: size}

		case KindTable, KindEquation:
			// Structured content is batch-per-block by default since
			// merging obscures structure. Small structured blocks may
			// join an open text batch instead.
			if size <= b.combineBudget && current != nil && current.Kind == KindText && current.Tokens+size <= b.budget {
				current.Blocks = append(current.Blocks, block)
				current.Tokens += size
				continue
			}
			flush()
			batches = append(batches, Batch{Kind: block.Kind, Blocks: []ContentBlock{block}, Tokens: size})

		case KindImage:
			flush()
			batches = append(batches, Batch{Kind: KindImage, Blocks: []ContentBlock{block}, Tokens: size})
		}
	}
	flush()

	b.logger.WithFields(logrus.Fields{
		"blocks":  len(blocks),
		"batches": len(batches),
	}).Debug("Batching completed")

	return batches
}

// Estimate returns the token cost of a block as it will appear in a
// prompt.
func (b *Batcher) Estimate(block ContentBlock) int {
	var text string
	switch block.Kind {
	case KindText, KindEquation:
		text = block.Text
	case KindTable:
		text = block.TableCaption + "\n" + formatTable(block.TableBody)
	case KindImage:
		text = block.ImagePath + "\n" + block.ImageCaption
	}
	return b.countTokens(text)
}

func (b *Batcher) countTokens(text string) int {
	if b.encoding != nil {
		return len(b.encoding.Encode(text, nil, nil))
	}
	// Rough upper bound: one token per three runes keeps batches
	// under budget even for dense scripts.
	return utf8.RuneCountInString(text)/3 + 1
}

// formatTable renders table rows for prompting, capped at 10 rows of
// 10 cells with 50-rune cells to keep structured content bounded.
func formatTable(rows [][]string) string {
	const (
		maxRows  = 10
		maxCells = 10
		maxCell  = 50
	)

	if len(rows) == 0 {
		return "empty table"
	}

	var sb strings.Builder
	for i, row := range rows {
		if i >= maxRows {
			break
		}
		cells := row
		if len(cells) > maxCells {
			cells = cells[:maxCells]
		}
		trimmed := make([]string, len(cells))
		for j, cell := range cells {
			if utf8.RuneCountInString(cell) > maxCell {
				cell = string([]rune(cell)[:maxCell])
			}
			trimmed[j] = cell
		}
		if i > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString("row ")
		sb.WriteString(strconv.Itoa(i + 1))
		sb.WriteString(": ")
		sb.WriteString(strings.Join(trimmed, " | "))
	}
	return sb.String()
}
