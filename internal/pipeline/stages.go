package pipeline

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/dleary/packetflow/internal/docapi"
	"github.com/dleary/packetflow/internal/packet"
	"github.com/dleary/packetflow/internal/scheduler"
)

// API is the slice of the document service the pipeline consumes. Satisfied
// by *docapi.Client; tests substitute fakes.
type API interface {
	Split(ctx context.Context, req docapi.SplitRequest) ([]docapi.SplitSegment, error)
	Classify(ctx context.Context, req docapi.ClassifyRequest) (docapi.Classification, error)
	Extract(ctx context.Context, req docapi.ExtractRequest) (docapi.ExtractResult, error)
}

// JobAPI is the async-extraction slice of the service, implemented by
// *docapi.Client. With RunConfig.UseJobs set, extraction is queued and
// polled instead of held open on one request.
type JobAPI interface {
	ExtractJob(ctx context.Context, req docapi.ExtractRequest, onProgress func(pct int)) (docapi.ExtractResult, error)
}

// RunConfig carries the per-run processing options. Each field is
// independently overridable; zero values fall back to defaults without
// touching any global state.
type RunConfig struct {
	Model               string
	Consensus           int
	ImageDPI            int
	Temperature         float64
	ConfidenceThreshold float64
	// FirstNPages bounds how many pages the classifier reads.
	FirstNPages  int
	SubdocTypes  []string
	Stream       bool
	ChunkingKeys []string
	// UseJobs routes extraction through the async job queue. Requires an API
	// that implements JobAPI.
	UseJobs bool

	// Retry policy for transient stage failures. MaxAttempts includes the
	// first try. Backoff is exponential with jitter.
	MaxAttempts    int
	BackoffInitial time.Duration
	BackoffMax     time.Duration
}

func (c RunConfig) withDefaults() RunConfig {
	if c.Model == "" {
		c.Model = "document-v1"
	}
	if c.Consensus <= 0 {
		c.Consensus = 1
	}
	if c.ImageDPI <= 0 {
		c.ImageDPI = 150
	}
	if c.FirstNPages <= 0 {
		c.FirstNPages = 3
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 4
	}
	if c.BackoffInitial <= 0 {
		c.BackoffInitial = 500 * time.Millisecond
	}
	if c.BackoffMax <= 0 {
		c.BackoffMax = 30 * time.Second
	}
	return c
}

// StageExecutor wraps the API with the retry policy and the shared worker
// pool. A slot is held per attempt, not per retried call, so backoff sleeps
// never occupy a worker another packet could use.
type StageExecutor struct {
	api  API
	pool *scheduler.Pool
	cfg  RunConfig
}

func NewStageExecutor(api API, pool *scheduler.Pool, cfg RunConfig) *StageExecutor {
	return &StageExecutor{api: api, pool: pool, cfg: cfg.withDefaults()}
}

func (e *StageExecutor) Config() RunConfig { return e.cfg }

// retryStage drives one stage call through the retry policy. Non-retryable
// errors (validation, payload-too-large, cancellation) fail on the first
// attempt; transient errors back off exponentially with jitter up to the
// attempt cap. onRetry fires before each re-attempt.
func retryStage[T any](ctx context.Context, e *StageExecutor, onRetry func(err error), op func(ctx context.Context) (T, error)) (T, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = e.cfg.BackoffInitial
	b.MaxInterval = e.cfg.BackoffMax

	opts := []backoff.RetryOption{
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(e.cfg.MaxAttempts)),
	}
	if onRetry != nil {
		opts = append(opts, backoff.WithNotify(func(err error, _ time.Duration) {
			onRetry(err)
		}))
	}

	return backoff.Retry(ctx, func() (T, error) {
		var out T
		err := e.pool.Do(ctx, func(ctx context.Context) error {
			v, callErr := op(ctx)
			if callErr == nil {
				out = v
			}
			return callErr
		})
		if err != nil && !docapi.Retryable(err) {
			return out, backoff.Permanent(err)
		}
		return out, err
	}, opts...)
}

func (e *StageExecutor) RunSplit(ctx context.Context, doc []byte, onRetry func(error)) ([]docapi.SplitSegment, error) {
	return retryStage(ctx, e, onRetry, func(ctx context.Context) ([]docapi.SplitSegment, error) {
		return e.api.Split(ctx, docapi.SplitRequest{
			Document:    doc,
			SubdocTypes: e.cfg.SubdocTypes,
			Model:       e.cfg.Model,
			DPI:         e.cfg.ImageDPI,
		})
	})
}

// RunClassify classifies one document's page range. The range matters: every
// document in a packet shares the packet bytes, so the request must say which
// pages it is about.
func (e *StageExecutor) RunClassify(ctx context.Context, doc []byte, categories []string, pages packet.PageRange, onRetry func(error)) (docapi.Classification, error) {
	return retryStage(ctx, e, onRetry, func(ctx context.Context) (docapi.Classification, error) {
		return e.api.Classify(ctx, docapi.ClassifyRequest{
			Document:    doc,
			Categories:  categories,
			Model:       e.cfg.Model,
			FirstNPages: e.cfg.FirstNPages,
			Pages:       &pages,
		})
	})
}

func (e *StageExecutor) RunExtract(ctx context.Context, doc []byte, schema map[string]any, pages packet.PageRange, onRetry func(error), onProgress func(pct int)) (docapi.ExtractResult, error) {
	return retryStage(ctx, e, onRetry, func(ctx context.Context) (docapi.ExtractResult, error) {
		req := docapi.ExtractRequest{
			Document:     doc,
			Schema:       schema,
			Model:        e.cfg.Model,
			Temperature:  e.cfg.Temperature,
			Consensus:    e.cfg.Consensus,
			DPI:          e.cfg.ImageDPI,
			Stream:       e.cfg.Stream,
			ChunkingKeys: e.cfg.ChunkingKeys,
			Pages:        &pages,
		}
		if e.cfg.UseJobs {
			if jobs, ok := e.api.(JobAPI); ok {
				return jobs.ExtractJob(ctx, req, onProgress)
			}
		}
		return e.api.Extract(ctx, req)
	})
}

// Per-model credit rates. Credits accrue as rate × pages × max(1, consensus);
// the service's own usage report wins when present.
var modelCreditsPerPage = map[string]float64{
	"document-v1":      1.0,
	"document-v1-mini": 0.25,
	"document-v1-pro":  4.0,
}

const dollarsPerCredit = 0.01

func usageFor(model string, pages, consensus int) packet.Usage {
	rate, ok := modelCreditsPerPage[model]
	if !ok {
		rate = 1.0
	}
	if consensus < 1 {
		consensus = 1
	}
	credits := rate * float64(pages) * float64(consensus)
	return packet.Usage{
		Model:     model,
		Consensus: consensus,
		Pages:     pages,
		Credits:   credits,
		Dollars:   credits * dollarsPerCredit,
	}
}
