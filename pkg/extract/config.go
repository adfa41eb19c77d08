package extract

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// DefaultRelationVocabulary is the controlled relationship vocabulary.
// Custom labels outside this set are kept as-is after normalization.
var DefaultRelationVocabulary = []string{
	"part_of",
	"related_to",
	"depends_on",
	"defines",
	"measures",
}

// Config is the tunable surface of the extraction pipeline. All fields
// have working defaults; Validate rejects values that would make the
// pipeline misbehave before any work starts.
type Config struct {
	// Model is the identifier passed to the language-model backend.
	Model string

	// BatchBudget is the token budget per extraction call.
	BatchBudget int
	// CombineBudget is the maximum size of a table or equation block
	// that may ride along with adjacent text instead of opening its
	// own batch.
	CombineBudget int
	// MinBatchSize is the minimum useful batch size in tokens; batches
	// below it are skipped rather than spent on a model call.
	MinBatchSize int

	// Workers bounds concurrent extraction calls for one document.
	Workers int
	// DocumentWorkers bounds concurrent documents in a batch run.
	DocumentWorkers int

	// MaxRetries is the retry budget per extraction call for
	// transient failures.
	MaxRetries int
	// RetryBackoff is the initial backoff, doubled per attempt.
	RetryBackoff time.Duration
	// CallTimeout bounds a single model call.
	CallTimeout time.Duration

	// RelationVocabulary lists the controlled relation labels.
	RelationVocabulary []string
	// ExtractRelations enables the extra relationship-inference pass
	// over the top extracted entities.
	ExtractRelations bool
	// AnalysisSampleBlocks is how many leading blocks feed the
	// document analyzer.
	AnalysisSampleBlocks int

	// OutputDir is where result files are written.
	OutputDir string
	// SaveIntermediate writes the parsed-content file before
	// extraction begins.
	SaveIntermediate bool
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() Config {
	return Config{
		Model:                "gpt-3.5-turbo",
		BatchBudget:          2000,
		CombineBudget:        256,
		MinBatchSize:         8,
		Workers:              4,
		DocumentWorkers:      2,
		MaxRetries:           3,
		RetryBackoff:         500 * time.Millisecond,
		CallTimeout:          60 * time.Second,
		RelationVocabulary:   DefaultRelationVocabulary,
		ExtractRelations:     true,
		AnalysisSampleBlocks: 10,
		OutputDir:            "./docgraph_data",
		SaveIntermediate:     true,
	}
}

// ConfigFromEnv builds a Config from DOCGRAPH_* environment variables,
// falling back to defaults for anything unset.
func ConfigFromEnv() Config {
	cfg := DefaultConfig()

	cfg.Model = envString("DOCGRAPH_MODEL", cfg.Model)
	cfg.BatchBudget = envInt("DOCGRAPH_BATCH_BUDGET", cfg.BatchBudget)
	cfg.CombineBudget = envInt("DOCGRAPH_COMBINE_BUDGET", cfg.CombineBudget)
	cfg.MinBatchSize = envInt("DOCGRAPH_MIN_BATCH_SIZE", cfg.MinBatchSize)
	cfg.Workers = envInt("DOCGRAPH_MAX_WORKERS", cfg.Workers)
	cfg.DocumentWorkers = envInt("DOCGRAPH_DOCUMENT_WORKERS", cfg.DocumentWorkers)
	cfg.MaxRetries = envInt("DOCGRAPH_MAX_RETRIES", cfg.MaxRetries)
	cfg.RetryBackoff = envDuration("DOCGRAPH_RETRY_BACKOFF", cfg.RetryBackoff)
	cfg.CallTimeout = envDuration("DOCGRAPH_CALL_TIMEOUT", cfg.CallTimeout)
	cfg.ExtractRelations = envBool("DOCGRAPH_EXTRACT_RELATIONS", cfg.ExtractRelations)
	cfg.AnalysisSampleBlocks = envInt("DOCGRAPH_ANALYSIS_SAMPLE", cfg.AnalysisSampleBlocks)
	cfg.OutputDir = envString("DOCGRAPH_OUTPUT_DIR", cfg.OutputDir)
	cfg.SaveIntermediate = envBool("DOCGRAPH_SAVE_INTERMEDIATE", cfg.SaveIntermediate)

	if v := os.Getenv("DOCGRAPH_RELATION_TYPES"); v != "" {
		var vocab []string
		for _, label := range strings.Split(v, ",") {
			if label = strings.TrimSpace(label); label != "" {
				vocab = append(vocab, label)
			}
		}
		if len(vocab) > 0 {
			cfg.RelationVocabulary = vocab
		}
	}

	return cfg
}

// Validate reports the first configuration error. Configuration errors
// are fatal at startup and never silently defaulted.
func (c Config) Validate() error {
	switch {
	case c.Model == "":
		return errors.New("config: model must not be empty")
	case c.BatchBudget <= 0:
		return errors.Errorf("config: batch budget must be positive, got %d", c.BatchBudget)
	case c.CombineBudget < 0:
		return errors.Errorf("config: combine budget must not be negative, got %d", c.CombineBudget)
	case c.CombineBudget > c.BatchBudget:
		return errors.Errorf("config: combine budget %d exceeds batch budget %d", c.CombineBudget, c.BatchBudget)
	case c.MinBatchSize < 0:
		return errors.Errorf("config: minimum batch size must not be negative, got %d", c.MinBatchSize)
	case c.Workers <= 0:
		return errors.Errorf("config: workers must be positive, got %d", c.Workers)
	case c.DocumentWorkers <= 0:
		return errors.Errorf("config: document workers must be positive, got %d", c.DocumentWorkers)
	case c.MaxRetries < 0:
		return errors.Errorf("config: retry budget must not be negative, got %d", c.MaxRetries)
	case c.RetryBackoff < 0:
		return errors.New("config: retry backoff must not be negative")
	case c.CallTimeout <= 0:
		return errors.New("config: call timeout must be positive")
	case c.AnalysisSampleBlocks <= 0:
		return errors.Errorf("config: analysis sample must be positive, got %d", c.AnalysisSampleBlocks)
	case c.OutputDir == "":
		return errors.New("config: output directory must not be empty")
	}
	return nil
}

func envString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		return strings.EqualFold(v, "true") || v == "1"
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
