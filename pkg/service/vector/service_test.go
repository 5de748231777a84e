package vector_test

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/gt"
	"github.com/secmon-lab/hypomnema/pkg/domain/model"
	"github.com/secmon-lab/hypomnema/pkg/domain/model/config"
	"github.com/secmon-lab/hypomnema/pkg/repository/memory"
	"github.com/secmon-lab/hypomnema/pkg/service/vector"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const testIndex = "documents"

// mockVectorRepository records calls and delegates to optional hooks
type mockVectorRepository struct {
	mu       sync.Mutex
	upserts  [][]string
	deletes  [][]string
	queries  int
	inFlight int32
	maxSeen  int32

	upsertFn func(entries []*model.VectorEntry) error
	deleteFn func(ids []string) error
	queryFn  func(q model.VectorQuery) ([]*model.VectorMatch, error)
}

func (m *mockVectorRepository) enter() func() {
	n := atomic.AddInt32(&m.inFlight, 1)
	for {
		seen := atomic.LoadInt32(&m.maxSeen)
		if n <= seen || atomic.CompareAndSwapInt32(&m.maxSeen, seen, n) {
			break
		}
	}
	time.Sleep(5 * time.Millisecond)
	return func() { atomic.AddInt32(&m.inFlight, -1) }
}

func (m *mockVectorRepository) Upsert(ctx context.Context, index string, entries []*model.VectorEntry) error {
	defer m.enter()()
	ids := make([]string, len(entries))
	for i, e := range entries {
		ids[i] = e.ID
	}
	m.mu.Lock()
	m.upserts = append(m.upserts, ids)
	m.mu.Unlock()

	if m.upsertFn != nil {
		return m.upsertFn(entries)
	}
	return nil
}

func (m *mockVectorRepository) Delete(ctx context.Context, index string, ids []string) error {
	defer m.enter()()
	m.mu.Lock()
	m.deletes = append(m.deletes, append([]string(nil), ids...))
	m.mu.Unlock()

	if m.deleteFn != nil {
		return m.deleteFn(ids)
	}
	return nil
}

func (m *mockVectorRepository) Query(ctx context.Context, index string, q model.VectorQuery) ([]*model.VectorMatch, error) {
	m.mu.Lock()
	m.queries++
	m.mu.Unlock()

	if m.queryFn != nil {
		return m.queryFn(q)
	}
	return nil, nil
}

func (m *mockVectorRepository) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.upserts) + len(m.deletes) + m.queries
}

// recordTimer fires immediately and records the requested delays
type recordTimer struct {
	mu     *sync.Mutex
	delays *[]time.Duration
	c      chan time.Time
}

func (t *recordTimer) Start(d time.Duration) {
	t.mu.Lock()
	*t.delays = append(*t.delays, d)
	t.mu.Unlock()
	t.c <- time.Now()
}

func (t *recordTimer) Stop() {}

func (t *recordTimer) C() <-chan time.Time {
	return t.c
}

func newTimerRecorder() (func() backoff.Timer, func() []time.Duration) {
	var mu sync.Mutex
	var delays []time.Duration
	factory := func() backoff.Timer {
		return &recordTimer{mu: &mu, delays: &delays, c: make(chan time.Time, 1)}
	}
	get := func() []time.Duration {
		mu.Lock()
		defer mu.Unlock()
		return append([]time.Duration(nil), delays...)
	}
	return factory, get
}

func testConfig(dim int) config.VectorConfig {
	cfg := config.DefaultVectorConfig(dim)
	return cfg
}

func newService(t *testing.T, repo *mockVectorRepository, dim int) (*vector.Service, func() []time.Duration) {
	t.Helper()
	factory, delays := newTimerRecorder()
	svc, err := vector.New(repo, testConfig(dim), vector.WithTimer(factory))
	gt.NoError(t, err).Required()
	return svc, delays
}

func entry(id string, vec ...float32) *model.VectorEntry {
	return &model.VectorEntry{ID: id, Vector: vec, Metadata: map[string]any{model.MetaContent: id}}
}

func entries(n int) []*model.VectorEntry {
	result := make([]*model.VectorEntry, n)
	for i := range result {
		result[i] = entry(fmt.Sprintf("e-%d", i), 1, 0, 0)
	}
	return result
}

func TestNew(t *testing.T) {
	_, err := vector.New(nil, testConfig(3))
	gt.Value(t, err).NotNil()

	cfg := testConfig(3)
	cfg.MaxAttempts = 0
	_, err = vector.New(&mockVectorRepository{}, cfg)
	gt.Value(t, err).NotNil()
}

func TestDimensionalityGuard(t *testing.T) {
	for _, dim := range []int{3, 8, model.EmbeddingDimension} {
		t.Run(fmt.Sprintf("dim=%d", dim), func(t *testing.T) {
			repo := &mockVectorRepository{}
			svc, _ := newService(t, repo, dim)
			ctx := context.Background()

			wrong := make([]float32, dim+1)
			err := svc.UpsertVector(ctx, testIndex, &model.VectorEntry{ID: "x", Vector: wrong})
			gt.Bool(t, model.IsValidation(err)).True()

			_, err = svc.QueryVectors(ctx, testIndex, wrong, vector.QueryOptions{})
			gt.Bool(t, model.IsValidation(err)).True()

			_, err = svc.QueryVectors(ctx, testIndex, wrong[:dim-1], vector.QueryOptions{})
			gt.Bool(t, model.IsValidation(err)).True()

			gt.Value(t, repo.calls()).Equal(0)
		})
	}
}

func TestUnknownIndex(t *testing.T) {
	repo := &mockVectorRepository{}
	svc, _ := newService(t, repo, 3)

	err := svc.UpsertVector(context.Background(), "nope", entry("a", 1, 0, 0))
	gt.Bool(t, model.IsValidation(err)).True()

	err = svc.DeleteVector(context.Background(), "nope", "a")
	gt.Bool(t, model.IsValidation(err)).True()
	gt.Value(t, repo.calls()).Equal(0)
}

func TestRetryBackoffShape(t *testing.T) {
	t.Run("connection failures exhaust attempts with doubling delay", func(t *testing.T) {
		repo := &mockVectorRepository{
			upsertFn: func(entries []*model.VectorEntry) error {
				return status.Error(codes.Unavailable, "connection refused")
			},
		}
		svc, delays := newService(t, repo, 3)

		err := svc.UpsertVector(context.Background(), testIndex, entry("a", 1, 0, 0))
		gt.Value(t, err).NotNil()
		gt.Value(t, repo.calls()).Equal(3)
		gt.Value(t, delays()).Equal([]time.Duration{time.Second, 2 * time.Second})
		gt.Bool(t, model.IsRetryable(err)).True()
		gt.Bool(t, model.HasTag(err, model.TagConnection)).True()
	})

	t.Run("delay before attempt i is backoff * 2^(i-2)", func(t *testing.T) {
		repo := &mockVectorRepository{
			deleteFn: func(ids []string) error {
				return errors.New("internal error")
			},
		}
		factory, delays := newTimerRecorder()
		cfg := testConfig(3)
		cfg.MaxAttempts = 5
		cfg.Backoff = 100 * time.Millisecond
		svc, err := vector.New(repo, cfg, vector.WithTimer(factory))
		gt.NoError(t, err).Required()

		err = svc.DeleteVector(context.Background(), testIndex, 42)
		gt.Value(t, err).NotNil()
		gt.Value(t, repo.calls()).Equal(5)
		gt.Value(t, delays()).Equal([]time.Duration{
			100 * time.Millisecond,
			200 * time.Millisecond,
			400 * time.Millisecond,
			800 * time.Millisecond,
		})
		gt.Bool(t, model.HasTag(err, model.TagOperation)).True()
		gt.Bool(t, model.IsRetryable(err)).True()
		gt.Value(t, repo.deletes[0]).Equal([]string{"42"})
	})

	t.Run("validation errors are not retried", func(t *testing.T) {
		repo := &mockVectorRepository{
			upsertFn: func(entries []*model.VectorEntry) error {
				return goerr.New("bad metadata", goerr.T(model.TagValidation))
			},
		}
		svc, delays := newService(t, repo, 3)

		err := svc.UpsertVector(context.Background(), testIndex, entry("a", 1, 0, 0))
		gt.Bool(t, model.IsValidation(err)).True()
		gt.Bool(t, model.IsRetryable(err)).False()
		gt.Value(t, repo.calls()).Equal(1)
		gt.Array(t, delays()).Length(0)
	})

	t.Run("recovers after transient failure", func(t *testing.T) {
		var n int32
		repo := &mockVectorRepository{
			upsertFn: func(entries []*model.VectorEntry) error {
				if atomic.AddInt32(&n, 1) == 1 {
					return status.Error(codes.Unavailable, "blip")
				}
				return nil
			},
		}
		svc, delays := newService(t, repo, 3)

		gt.NoError(t, svc.UpsertVector(context.Background(), testIndex, entry("a", 1, 0, 0)))
		gt.Value(t, repo.calls()).Equal(2)
		gt.Value(t, delays()).Equal([]time.Duration{time.Second})
	})

	t.Run("timeouts are classified", func(t *testing.T) {
		repo := &mockVectorRepository{
			queryFn: func(q model.VectorQuery) ([]*model.VectorMatch, error) {
				return nil, goerr.Wrap(context.DeadlineExceeded, "query timed out")
			},
		}
		svc, _ := newService(t, repo, 3)

		_, err := svc.QueryVectors(context.Background(), testIndex, []float32{1, 0, 0}, vector.QueryOptions{})
		gt.Bool(t, model.HasTag(err, model.TagTimeout)).True()
		gt.Bool(t, model.IsRetryable(err)).True()
	})
}

func TestQueryVectors_ScoreThreshold(t *testing.T) {
	repo := &mockVectorRepository{
		queryFn: func(q model.VectorQuery) ([]*model.VectorMatch, error) {
			return []*model.VectorMatch{
				{ID: "a", Score: 0.95},
				{ID: "b", Score: 0.71},
				{ID: "c", Score: 0.70},
				{ID: "d", Score: 0.69},
				{ID: "e", Score: 0.2},
			}, nil
		},
	}
	svc, _ := newService(t, repo, 3)

	matches, err := svc.QueryVectors(context.Background(), testIndex, []float32{1, 0, 0}, vector.QueryOptions{})
	gt.NoError(t, err).Required()
	gt.Array(t, matches).Length(3).Required()
	gt.Value(t, matches[0].ID).Equal("a")
	gt.Value(t, matches[1].ID).Equal("b")
	gt.Value(t, matches[2].ID).Equal("c")
	for _, m := range matches {
		gt.Bool(t, m.Score >= 0.7).True()
	}

	custom := 0.9
	matches, err = svc.QueryVectors(context.Background(), testIndex, []float32{1, 0, 0}, vector.QueryOptions{Threshold: &custom})
	gt.NoError(t, err).Required()
	gt.Array(t, matches).Length(1)
}

func TestQueryVectors_BuildsProviderQuery(t *testing.T) {
	var got model.VectorQuery
	repo := &mockVectorRepository{
		queryFn: func(q model.VectorQuery) ([]*model.VectorMatch, error) {
			got = q
			return nil, nil
		},
	}
	svc, _ := newService(t, repo, 3)

	filter := &model.VectorFilter{UserID: "u1", SessionID: "s1"}
	_, err := svc.QueryVectors(context.Background(), testIndex, []float32{1, 0, 0}, vector.QueryOptions{Filter: filter})
	gt.NoError(t, err).Required()

	gt.Value(t, got.TopK).Equal(5)
	gt.Bool(t, got.IncludeMetadata).True()
	gt.Array(t, got.Filter.Conditions()).Length(2)
}

func TestBatchBounds(t *testing.T) {
	repo := &mockVectorRepository{}
	svc, _ := newService(t, repo, 3)
	ctx := context.Background()

	_, err := svc.UpsertBatch(ctx, testIndex, nil)
	gt.Bool(t, model.IsValidation(err)).True()

	_, err = svc.UpsertBatch(ctx, testIndex, entries(101))
	gt.Bool(t, model.IsValidation(err)).True()

	_, err = svc.DeleteBatch(ctx, testIndex, []string{})
	gt.Bool(t, model.IsValidation(err)).True()

	ids := make([]string, 101)
	for i := range ids {
		ids[i] = fmt.Sprintf("id-%d", i)
	}
	_, err = svc.DeleteBatch(ctx, testIndex, ids)
	gt.Bool(t, model.IsValidation(err)).True()

	bad := entries(5)
	bad[3].Vector = []float32{1}
	_, err = svc.UpsertBatch(ctx, testIndex, bad)
	gt.Bool(t, model.IsValidation(err)).True()

	gt.Value(t, repo.calls()).Equal(0)
}

func TestUpsertBatch_Partition(t *testing.T) {
	for _, n := range []int{1, 19, 20, 21, 45, 100} {
		t.Run(fmt.Sprintf("n=%d", n), func(t *testing.T) {
			repo := &mockVectorRepository{}
			svc, _ := newService(t, repo, 3)

			input := entries(n)
			result, err := svc.UpsertBatch(context.Background(), testIndex, input)
			gt.NoError(t, err).Required()
			gt.Bool(t, result.Success).True()
			gt.NoError(t, result.Err())
			gt.Value(t, result.Stats.Total).Equal(n)
			gt.Value(t, result.Stats.Processed).Equal(n)
			gt.Value(t, result.Stats.Successful).Equal(n)
			gt.Value(t, result.Stats.Failed).Equal(0)
			gt.Bool(t, result.Stats.EndTime.Before(result.Stats.StartTime)).False()

			seen := make(map[string]int)
			total := 0
			for _, chunk := range repo.upserts {
				gt.Number(t, len(chunk)).LessOrEqual(20)
				total += len(chunk)
				for _, id := range chunk {
					seen[id]++
				}
			}
			gt.Value(t, total).Equal(n)
			for _, e := range input {
				gt.Value(t, seen[e.ID]).Equal(1)
			}

			sort.Slice(result.Chunks, func(i, j int) bool { return result.Chunks[i].Start < result.Chunks[j].Start })
			next := 0
			for _, c := range result.Chunks {
				gt.Value(t, c.Start).Equal(next)
				next = c.End
			}
			gt.Value(t, next).Equal(n)
		})
	}
}

func TestUpsertBatch_BoundedConcurrency(t *testing.T) {
	repo := &mockVectorRepository{}
	svc, _ := newService(t, repo, 3)

	_, err := svc.UpsertBatch(context.Background(), testIndex, entries(100))
	gt.NoError(t, err).Required()
	gt.Number(t, int(atomic.LoadInt32(&repo.maxSeen))).LessOrEqual(3)
}

func TestUpsertBatch_ChunkFailureDoesNotAbortSiblings(t *testing.T) {
	repo := &mockVectorRepository{
		upsertFn: func(entries []*model.VectorEntry) error {
			for _, e := range entries {
				if e.ID == "e-25" {
					return status.Error(codes.InvalidArgument, "rejected")
				}
			}
			return nil
		},
	}
	svc, _ := newService(t, repo, 3)

	result, err := svc.UpsertBatch(context.Background(), testIndex, entries(45))
	gt.NoError(t, err).Required()
	gt.Bool(t, result.Success).False()
	gt.Value(t, result.Stats.Successful).Equal(25)
	gt.Value(t, result.Stats.Failed).Equal(20)
	gt.Array(t, result.FailedIndexes).Length(20).Required()
	gt.Value(t, result.FailedIndexes[0]).Equal(20)
	gt.Value(t, result.FailedIndexes[19]).Equal(39)

	batchErr := result.Err()
	gt.Value(t, batchErr).NotNil()
	gt.Bool(t, model.HasTag(batchErr, model.TagBatch)).True()

	// three chunks attempted, the rejected one only once
	gt.Array(t, repo.upserts).Length(3)
}

func TestUpsertBatch_Cancelled(t *testing.T) {
	t.Run("cancelled before the batch starts", func(t *testing.T) {
		repo := &mockVectorRepository{}
		svc, _ := newService(t, repo, 3)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		result, err := svc.UpsertBatch(ctx, testIndex, entries(45))
		gt.NoError(t, err).Required()
		gt.Bool(t, result.Success).False()
		gt.Value(t, result.Stats.Failed).Equal(45)
		gt.Value(t, result.Stats.Successful).Equal(0)
		gt.Array(t, result.FailedIndexes).Length(45)
		gt.Array(t, repo.upserts).Length(0)
		for _, c := range result.Chunks {
			gt.Bool(t, errors.Is(c.Err, context.Canceled)).True()
		}
	})

	t.Run("chunks not yet started are reported as failed", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		repo := &mockVectorRepository{
			upsertFn: func(entries []*model.VectorEntry) error {
				cancel()
				return nil
			},
		}
		factory, _ := newTimerRecorder()
		cfg := testConfig(3)
		cfg.BatchConcurrency = 1
		svc, err := vector.New(repo, cfg, vector.WithTimer(factory))
		gt.NoError(t, err).Required()

		result, err := svc.UpsertBatch(ctx, testIndex, entries(100))
		gt.NoError(t, err).Required()
		gt.Array(t, repo.upserts).Length(1)
		gt.Value(t, result.Stats.Successful).Equal(20)
		gt.Value(t, result.Stats.Failed).Equal(80)
		gt.Array(t, result.FailedIndexes).Length(80).Required()
		gt.Value(t, result.FailedIndexes[0]).Equal(20)
		gt.Value(t, result.FailedIndexes[79]).Equal(99)
		gt.Bool(t, errors.Is(result.Err(), context.Canceled)).True()
	})
}

func TestRetryBackoff_ManyAttempts(t *testing.T) {
	repo := &mockVectorRepository{
		upsertFn: func(entries []*model.VectorEntry) error {
			return status.Error(codes.Unavailable, "connection refused")
		},
	}
	factory, delays := newTimerRecorder()
	cfg := testConfig(3)
	cfg.MaxAttempts = 70
	cfg.Backoff = time.Second
	svc, err := vector.New(repo, cfg, vector.WithTimer(factory))
	gt.NoError(t, err).Required()

	err = svc.UpsertVector(context.Background(), testIndex, entry("a", 1, 0, 0))
	gt.Value(t, err).NotNil()
	gt.Value(t, repo.calls()).Equal(70)

	got := delays()
	gt.Array(t, got).Length(69).Required()
	gt.Value(t, got[0]).Equal(time.Second)
	gt.Value(t, got[1]).Equal(2 * time.Second)
	// doubling saturates instead of wrapping around
	gt.Value(t, got[33]).Equal(time.Second << 33)
	for i := 1; i < len(got); i++ {
		gt.Bool(t, got[i] >= got[i-1]).True()
	}
	gt.Value(t, got[68]).Equal(time.Second << 33)
}

func TestService_WithMemoryRepository(t *testing.T) {
	repo := memory.New()
	factory, _ := newTimerRecorder()
	svc, err := vector.New(repo.Vector(), testConfig(3), vector.WithTimer(factory))
	gt.NoError(t, err).Required()
	ctx := context.Background()

	gt.NoError(t, svc.UpsertVector(ctx, testIndex, entry("near", 1, 0, 0))).Required()
	gt.NoError(t, svc.UpsertVector(ctx, testIndex, entry("far", 0, 1, 0))).Required()

	matches, err := svc.QueryVectors(ctx, testIndex, []float32{1, 0.1, 0}, vector.QueryOptions{TopK: 5})
	gt.NoError(t, err).Required()
	gt.Array(t, matches).Length(1).Required()
	gt.Value(t, matches[0].ID).Equal("near")
	gt.Value(t, matches[0].Content()).Equal("near")

	gt.NoError(t, svc.DeleteVector(ctx, testIndex, "near"))
	matches, err = svc.QueryVectors(ctx, testIndex, []float32{1, 0.1, 0}, vector.QueryOptions{TopK: 5})
	gt.NoError(t, err).Required()
	gt.Array(t, matches).Length(0)
}
