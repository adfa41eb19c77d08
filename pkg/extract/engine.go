package extract

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/athapong/docgraph/pkg/extract/metrics"
)

// Completer is the capability the pipeline needs from a language-model
// backend: send a prompt, receive text. Implementations signal
// retryable failures by wrapping them with Transient.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// CompleterFunc adapts a function to the Completer interface.
type CompleterFunc func(ctx context.Context, prompt string) (string, error)

// Complete implements Completer.
func (f CompleterFunc) Complete(ctx context.Context, prompt string) (string, error) {
	return f(ctx, prompt)
}

type transientError struct{ err error }

func (t *transientError) Error() string { return t.err.Error() }
func (t *transientError) Unwrap() error { return t.err }

// Transient marks a service failure as retryable (timeout, rate
// limit, transport hiccup).
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &transientError{err: err}
}

// IsTransient reports whether an extraction call failure should be
// retried. Context deadline expiry on the call counts as transient;
// cancellation of the parent run does not.
func IsTransient(err error) bool {
	var t *transientError
	if errors.As(err, &t) {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}

// Engine runs extraction calls against the model backend: prompt
// construction, bounded retries with backoff, per-call timeouts and
// payload validation.
type Engine struct {
	completer Completer
	validator *Validator
	cfg       Config
	logger    *logrus.Logger
}

// NewEngine creates an engine. The config must already be validated.
func NewEngine(completer Completer, validator *Validator, cfg Config) *Engine {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	return &Engine{
		completer: completer,
		validator: validator,
		cfg:       cfg,
		logger:    logger,
	}
}

// ErrMalformedOutput classifies model output the validator could not
// repair. The batch is dropped, not retried.
var ErrMalformedOutput = errors.New("malformed model output")

// ExtractBatch runs one extraction call for a batch and validates the
// response. A transient-failure retry budget applies to the call; a
// validation failure is terminal for the batch.
func (e *Engine) ExtractBatch(ctx context.Context, batch Batch) (Payload, error) {
	raw, err := e.complete(ctx, BuildPrompt(batch))
	if err != nil {
		return Payload{}, err
	}

	payload, err := e.validator.ParsePayload(raw)
	if err != nil {
		return Payload{}, errors.Wrap(ErrMalformedOutput, err.Error())
	}
	return payload, nil
}

// complete performs one logical model call with timeout, retry and
// backoff. Shared by batch extraction, the relationship pass and the
// document analyzer.
func (e *Engine) complete(ctx context.Context, prompt string) (string, error) {
	reqID := uuid.New().String()
	backoff := e.cfg.RetryBackoff

	var lastErr error
	for attempt := 0; attempt <= e.cfg.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		if attempt > 0 {
			metrics.ExtractionRetries.Inc()
			e.logger.WithFields(logrus.Fields{
				"req_id":  reqID,
				"attempt": attempt,
			}).WithError(lastErr).Warn("Retrying extraction call")

			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return "", ctx.Err()
			}
			backoff *= 2
		}

		callCtx, cancel := context.WithTimeout(ctx, e.cfg.CallTimeout)
		timer := prometheus.NewTimer(metrics.ExtractionCallDuration.WithLabelValues("call"))
		raw, err := e.completer.Complete(callCtx, prompt)
		timer.ObserveDuration()
		cancel()

		if err == nil {
			return raw, nil
		}
		lastErr = err
		if !IsTransient(err) {
			return "", err
		}
	}

	return "", errors.Wrapf(lastErr, "retry budget exhausted after %d attempts", e.cfg.MaxRetries+1)
}

// ExtractAll processes batches across a bounded worker pool, handing
// every validated payload to the accumulator. Batch order does not
// matter because the merge is commutative by identity key. A canceled
// context stops scheduling new batches; in-flight calls finish or time
// out on their own, and whatever merged so far remains a consistent
// partial result.
func (e *Engine) ExtractAll(ctx context.Context, batches []Batch, acc *Accumulator) {
	sem := make(chan struct{}, e.cfg.Workers)
	var wg sync.WaitGroup

	for i, batch := range batches {
		if ctx.Err() != nil {
			e.logger.WithField("remaining", len(batches)-i).Info("Cancellation requested, not scheduling remaining batches")
			break
		}

		if batch.Tokens < e.cfg.MinBatchSize {
			// Too small to be worth a model call; the blocks are
			// accounted as skipped rather than silently dropped.
			acc.RecordSkippedBlocks(len(batch.Blocks))
			continue
		}

		wg.Add(1)
		sem <- struct{}{}
		go func(idx int, b Batch) {
			defer wg.Done()
			defer func() { <-sem }()

			payload, err := e.ExtractBatch(ctx, b)
			switch {
			case err == nil:
				acc.Merge(payload, b)
				metrics.BatchesProcessed.WithLabelValues("success").Inc()
			case errors.Is(err, ErrMalformedOutput):
				acc.RecordValidationFailure()
				metrics.BatchesProcessed.WithLabelValues("invalid").Inc()
				e.logger.WithError(err).WithField("batch_index", idx).Warn("Dropping batch with malformed output")
			default:
				acc.RecordFailedBatch()
				metrics.BatchesProcessed.WithLabelValues("error").Inc()
				e.logger.WithError(err).WithField("batch_index", idx).Error("Batch extraction failed")
			}
		}(i, batch)
	}

	wg.Wait()
}

// InferRelationships runs the optional extra pass that asks the model
// for relationships among the strongest extracted entities.
func (e *Engine) InferRelationships(ctx context.Context, acc *Accumulator) {
	const maxNames = 20

	names := acc.TopEntityNames(maxNames)
	if len(names) < 2 {
		return
	}

	raw, err := e.complete(ctx, BuildRelationshipPrompt(names))
	if err != nil {
		e.logger.WithError(err).Warn("Relationship inference failed")
		acc.RecordFailedBatch()
		return
	}

	payload, err := e.validator.ParsePayload(raw)
	if err != nil {
		e.logger.WithError(err).Warn("Relationship inference output invalid")
		acc.RecordValidationFailure()
		return
	}
	acc.MergeRelationships(payload.Relationships)
}
