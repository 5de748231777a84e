package usecase_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/gt"
	"github.com/secmon-lab/hypomnema/pkg/domain/model"
	"github.com/secmon-lab/hypomnema/pkg/usecase"
)

// delayTimer fires immediately and records the requested delays
type delayTimer struct {
	delays []time.Duration
	c      chan time.Time
}

func newDelayTimer() *delayTimer {
	return &delayTimer{c: make(chan time.Time, 1)}
}

func (t *delayTimer) Start(d time.Duration) {
	t.delays = append(t.delays, d)
	t.c <- time.Now()
}

func (t *delayTimer) Stop() {}

func (t *delayTimer) C() <-chan time.Time {
	return t.c
}

func TestRetry(t *testing.T) {
	cfg := testMemoryConfig()
	cfg.MaxRetries = 4
	cfg.RetryDelay = 50 * time.Millisecond
	ctx := context.Background()
	storeDown := goerr.New("store down", goerr.T(model.TagStorage))

	t.Run("fixed delay between every attempt", func(t *testing.T) {
		timer := newDelayTimer()
		attempts := 0
		_, err := usecase.Retry(ctx, cfg, func() (int, error) {
			attempts++
			return 0, storeDown
		}, timer)

		gt.Error(t, err).Is(storeDown)
		gt.Value(t, attempts).Equal(4)
		gt.Value(t, timer.delays).Equal([]time.Duration{
			50 * time.Millisecond,
			50 * time.Millisecond,
			50 * time.Millisecond,
		})
	})

	t.Run("stops on success", func(t *testing.T) {
		timer := newDelayTimer()
		attempts := 0
		v, err := usecase.Retry(ctx, cfg, func() (int, error) {
			attempts++
			if attempts < 3 {
				return 0, storeDown
			}
			return 42, nil
		}, timer)

		gt.NoError(t, err).Required()
		gt.Value(t, v).Equal(42)
		gt.Value(t, attempts).Equal(3)
		gt.Array(t, timer.delays).Length(2)
	})

	t.Run("not-found is not retried", func(t *testing.T) {
		timer := newDelayTimer()
		attempts := 0
		_, err := usecase.Retry(ctx, cfg, func() (int, error) {
			attempts++
			return 0, goerr.New("missing", goerr.T(model.TagNotFound))
		}, timer)

		gt.Bool(t, model.IsNotFound(err)).True()
		gt.Value(t, attempts).Equal(1)
		gt.Array(t, timer.delays).Length(0)
	})

	t.Run("single attempt when max retries is one", func(t *testing.T) {
		cfg := cfg
		cfg.MaxRetries = 1
		attempts := 0
		_, err := usecase.Retry(ctx, cfg, func() (int, error) {
			attempts++
			return 0, errors.New("boom")
		}, newDelayTimer())

		gt.Value(t, err).NotNil()
		gt.Value(t, attempts).Equal(1)
	})

	t.Run("waits in real time without a timer", func(t *testing.T) {
		cfg := cfg
		cfg.MaxRetries = 3
		cfg.RetryDelay = 20 * time.Millisecond
		var stamps []time.Time
		_, _ = usecase.Retry(ctx, cfg, func() (int, error) {
			stamps = append(stamps, time.Now())
			return 0, storeDown
		}, nil)

		gt.Array(t, stamps).Length(3).Required()
		for i := 1; i < len(stamps); i++ {
			gt.Bool(t, stamps[i].Sub(stamps[i-1]) >= cfg.RetryDelay).True()
		}
	})
}
