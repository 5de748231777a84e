package vector

import (
	"context"
	"errors"
	"math"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/hypomnema/pkg/domain/interfaces"
	"github.com/secmon-lab/hypomnema/pkg/domain/model"
	"github.com/secmon-lab/hypomnema/pkg/domain/model/config"
	"github.com/secmon-lab/hypomnema/pkg/utils/logging"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Service is the vector operations layer: validated, retried and batched
// access to named vector indexes.
type Service struct {
	repo       interfaces.VectorRepository
	cfg        config.VectorConfig
	dimensions map[string]int
	newTimer   func() backoff.Timer
}

// Option is a functional option for Service
type Option func(*Service)

// WithTimer replaces the timer used to wait between attempts
func WithTimer(newTimer func() backoff.Timer) Option {
	return func(s *Service) {
		s.newTimer = newTimer
	}
}

// New creates a vector Service over repo
func New(repo interfaces.VectorRepository, cfg config.VectorConfig, opts ...Option) (*Service, error) {
	if repo == nil {
		return nil, goerr.New("vector repository is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, goerr.Wrap(err, "invalid vector configuration")
	}

	s := &Service{
		repo:       repo,
		cfg:        cfg,
		dimensions: make(map[string]int, len(cfg.Indexes)),
	}
	for _, idx := range cfg.Indexes {
		s.dimensions[idx.Name] = idx.Dimensions
	}

	for _, opt := range opts {
		opt(s)
	}

	return s, nil
}

// MaxBatchSize returns the largest batch accepted by UpsertBatch and DeleteBatch
func (s *Service) MaxBatchSize() int {
	return s.cfg.MaxBatchSize
}

// Dimensions returns the configured dimensionality of index
func (s *Service) Dimensions(index string) (int, error) {
	dim, ok := s.dimensions[index]
	if !ok {
		return 0, goerr.New("unknown vector index", goerr.T(model.TagValidation), goerr.V(model.IndexNameKey, index))
	}
	return dim, nil
}

func (s *Service) validateVector(index string, vec []float32) error {
	dim, err := s.Dimensions(index)
	if err != nil {
		return err
	}
	if len(vec) != dim {
		return goerr.New("vector dimension mismatch",
			goerr.T(model.TagValidation),
			goerr.V(model.IndexNameKey, index),
			goerr.V("expected", dim),
			goerr.V("actual", len(vec)))
	}
	return nil
}

// UpsertVector inserts or replaces one entry
func (s *Service) UpsertVector(ctx context.Context, index string, entry *model.VectorEntry) error {
	if entry == nil {
		return goerr.New("vector entry is required", goerr.T(model.TagValidation))
	}
	if err := s.validateEntry(index, entry); err != nil {
		return err
	}

	return s.withRetry(ctx, "upsert", index, func() error {
		return s.repo.Upsert(ctx, index, []*model.VectorEntry{entry})
	})
}

// DeleteVector deletes one entry. id may be a string or an integer.
func (s *Service) DeleteVector(ctx context.Context, index string, id any) error {
	if _, err := s.Dimensions(index); err != nil {
		return err
	}
	vid, err := model.NormalizeVectorID(id)
	if err != nil {
		return err
	}

	return s.withRetry(ctx, "delete", index, func() error {
		return s.repo.Delete(ctx, index, []string{vid})
	})
}

// QueryVectors returns the nearest entries scoring at or above the threshold,
// in the order ranked by the index.
func (s *Service) QueryVectors(ctx context.Context, index string, vec []float32, opts QueryOptions) ([]*model.VectorMatch, error) {
	if err := s.validateVector(index, vec); err != nil {
		return nil, err
	}

	topK := opts.TopK
	if topK == 0 {
		topK = s.cfg.DefaultTopK
	}
	if topK < 0 {
		return nil, goerr.New("topK must be positive", goerr.T(model.TagValidation), goerr.V("topK", topK))
	}

	threshold := s.cfg.ScoreThreshold
	if opts.Threshold != nil {
		threshold = *opts.Threshold
	}

	query := model.VectorQuery{
		Vector:          vec,
		TopK:            topK,
		IncludeMetadata: true,
		IncludeVector:   opts.IncludeVector,
		Filter:          opts.Filter,
	}

	var matches []*model.VectorMatch
	err := s.withRetry(ctx, "query", index, func() error {
		var err error
		matches, err = s.repo.Query(ctx, index, query)
		return err
	})
	if err != nil {
		return nil, err
	}

	filtered := make([]*model.VectorMatch, 0, len(matches))
	for _, m := range matches {
		if m.Score >= threshold {
			filtered = append(filtered, m)
		}
	}

	logging.From(ctx).Debug("vector query",
		"index", index,
		"topK", topK,
		"returned", len(matches),
		"kept", len(filtered),
		"threshold", threshold)

	return filtered, nil
}

// UpsertBatch upserts entries in chunks with bounded concurrency
func (s *Service) UpsertBatch(ctx context.Context, index string, entries []*model.VectorEntry) (*BatchResult, error) {
	if err := s.validateBatchSize(index, len(entries)); err != nil {
		return nil, err
	}
	for i, e := range entries {
		if e == nil {
			return nil, goerr.New("vector entry is required", goerr.T(model.TagValidation), goerr.V("position", i))
		}
		if err := s.validateEntry(index, e); err != nil {
			return nil, goerr.Wrap(err, "invalid batch entry", goerr.V("position", i))
		}
	}

	return s.runBatch(ctx, "upsert_batch", index, len(entries), func(ctx context.Context, start, end int) error {
		return s.repo.Upsert(ctx, index, entries[start:end])
	}), nil
}

// DeleteBatch deletes entries by ID in chunks with bounded concurrency
func (s *Service) DeleteBatch(ctx context.Context, index string, ids []string) (*BatchResult, error) {
	if err := s.validateBatchSize(index, len(ids)); err != nil {
		return nil, err
	}
	for i, id := range ids {
		if id == "" {
			return nil, goerr.New("vector ID is empty", goerr.T(model.TagValidation), goerr.V("position", i))
		}
	}

	return s.runBatch(ctx, "delete_batch", index, len(ids), func(ctx context.Context, start, end int) error {
		return s.repo.Delete(ctx, index, ids[start:end])
	}), nil
}

func (s *Service) validateEntry(index string, entry *model.VectorEntry) error {
	if entry.ID == "" {
		return goerr.New("vector ID is empty", goerr.T(model.TagValidation), goerr.V(model.IndexNameKey, index))
	}
	return s.validateVector(index, entry.Vector)
}

func (s *Service) validateBatchSize(index string, n int) error {
	if _, err := s.Dimensions(index); err != nil {
		return err
	}
	if n == 0 {
		return goerr.New("batch is empty", goerr.T(model.TagValidation), goerr.V(model.IndexNameKey, index))
	}
	if n > s.cfg.MaxBatchSize {
		return goerr.New("batch exceeds maximum size",
			goerr.T(model.TagValidation),
			goerr.V(model.IndexNameKey, index),
			goerr.V("size", n),
			goerr.V("max", s.cfg.MaxBatchSize))
	}
	return nil
}

func (s *Service) runBatch(ctx context.Context, op, index string, n int, fn func(ctx context.Context, start, end int) error) *BatchResult {
	ranges := chunkRanges(n, s.cfg.BatchChunkSize)
	result := &BatchResult{
		Stats:  BatchStats{Total: n, StartTime: time.Now()},
		Chunks: make([]ChunkResult, len(ranges)),
	}

	var mu sync.Mutex
	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(s.cfg.BatchConcurrency)

	for i, r := range ranges {
		i, start, end := i, r[0], r[1]
		eg.Go(func() error {
			var err error
			if ctxErr := egCtx.Err(); ctxErr != nil {
				err = goerr.Wrap(ctxErr, "batch cancelled before chunk started", goerr.V(model.IndexNameKey, index))
			} else {
				err = s.withRetry(egCtx, op, index, func() error {
					return fn(egCtx, start, end)
				})
			}

			mu.Lock()
			defer mu.Unlock()
			result.Chunks[i] = ChunkResult{Start: start, End: end, Err: err}
			result.Stats.Processed += end - start
			if err != nil {
				result.Stats.Failed += end - start
			} else {
				result.Stats.Successful += end - start
			}
			// Chunk failures are recorded, not returned, so siblings keep running
			return nil
		})
	}
	_ = eg.Wait()

	for _, c := range result.Chunks {
		if c.Err == nil {
			continue
		}
		for pos := c.Start; pos < c.End; pos++ {
			result.FailedIndexes = append(result.FailedIndexes, pos)
		}
	}

	result.Success = result.Stats.Failed == 0
	result.Stats.EndTime = time.Now()
	result.Stats.Duration = result.Stats.EndTime.Sub(result.Stats.StartTime)

	logger := logging.From(ctx)
	if result.Success {
		logger.Info("vector batch completed",
			"op", op,
			"index", index,
			"total", n,
			"chunks", len(ranges),
			"duration", result.Stats.Duration)
	} else {
		logger.Warn("vector batch partially failed",
			"op", op,
			"index", index,
			"total", n,
			"failed", result.Stats.Failed,
			"duration", result.Stats.Duration)
	}

	return result
}

// newBackOff returns the exponential schedule: Backoff, 2*Backoff, 4*Backoff...
// with no jitter and at most MaxAttempts attempts.
func (s *Service) newBackOff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.cfg.Backoff
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxInterval = maxInterval(s.cfg.Backoff, s.cfg.MaxAttempts)
	b.MaxElapsedTime = 0
	b.Reset()

	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(max(s.cfg.MaxAttempts, 1)-1)), ctx)
}

// maxInterval is the delay before the last attempt, base * 2^(attempts-2),
// saturating before time.Duration overflows.
func maxInterval(base time.Duration, attempts int) time.Duration {
	d := base
	for i := 2; i < attempts && d > 0 && d <= math.MaxInt64/2; i++ {
		d *= 2
	}
	return d
}

func (s *Service) withRetry(ctx context.Context, op, index string, fn func() error) error {
	attempts := 0
	operation := func() error {
		attempts++
		err := fn()
		if err == nil {
			return nil
		}
		if !isRetriable(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, delay time.Duration) {
		logging.From(ctx).Warn("vector operation failed, retrying",
			"op", op,
			"index", index,
			"attempt", attempts,
			"delay", delay,
			"error", err)
	}

	var timer backoff.Timer
	if s.newTimer != nil {
		timer = s.newTimer()
	}

	err := backoff.RetryNotifyWithTimer(operation, s.newBackOff(ctx), notify, timer)
	if err == nil {
		return nil
	}
	return classify(err, op, index, attempts)
}

// isRetriable reports whether a provider error may succeed on another attempt
func isRetriable(err error) bool {
	if model.IsValidation(err) || model.IsNotFound(err) || errors.Is(err, context.Canceled) {
		return false
	}
	switch grpcCode(err) {
	case codes.InvalidArgument, codes.NotFound, codes.PermissionDenied, codes.Unauthenticated:
		return false
	}
	return true
}

// classify wraps the final error of an operation with its kind. Connection,
// timeout and operation failures carry the retryable tag.
func classify(err error, op, index string, attempts int) error {
	opts := []goerr.Option{
		goerr.V("op", op),
		goerr.V(model.IndexNameKey, index),
		goerr.V(model.AttemptKey, attempts),
	}

	switch {
	case model.IsValidation(err):
		return goerr.Wrap(err, "vector operation rejected", opts...)
	case model.IsNotFound(err), grpcCode(err) == codes.NotFound:
		return goerr.Wrap(err, "vector index not found", append(opts, goerr.T(model.TagNotFound))...)
	case grpcCode(err) == codes.InvalidArgument:
		return goerr.Wrap(err, "vector operation rejected", append(opts, goerr.T(model.TagValidation))...)
	case errors.Is(err, context.Canceled):
		return goerr.Wrap(err, "vector operation cancelled", opts...)
	case errors.Is(err, context.DeadlineExceeded), grpcCode(err) == codes.DeadlineExceeded:
		return goerr.Wrap(err, "vector operation timed out", append(opts, goerr.T(model.TagTimeout), goerr.T(model.TagRetryable))...)
	case grpcCode(err) == codes.Unavailable:
		return goerr.Wrap(err, "vector index unreachable", append(opts, goerr.T(model.TagConnection), goerr.T(model.TagRetryable))...)
	default:
		return goerr.Wrap(err, "vector operation failed", append(opts, goerr.T(model.TagOperation), goerr.T(model.TagRetryable))...)
	}
}

// grpcCode finds the first gRPC status in the chain of err
func grpcCode(err error) codes.Code {
	for e := err; e != nil; e = errors.Unwrap(e) {
		if st, ok := status.FromError(e); ok && st.Code() != codes.OK && st.Code() != codes.Unknown {
			return st.Code()
		}
	}
	return codes.Unknown
}
