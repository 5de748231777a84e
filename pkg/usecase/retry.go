package usecase

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/secmon-lab/hypomnema/pkg/domain/model"
	"github.com/secmon-lab/hypomnema/pkg/domain/model/config"
	"github.com/secmon-lab/hypomnema/pkg/utils/logging"
)

// retry runs fn up to cfg.MaxRetries times with a fixed cfg.RetryDelay between
// attempts. Validation, not-found, corrupted and parse errors fail immediately.
// The error of the last attempt is returned as is.
func retry[T any](ctx context.Context, cfg config.MemoryConfig, op string, fn func() (T, error)) (T, error) {
	return retryWithTimer(ctx, cfg, op, fn, nil)
}

// retryWithTimer is retry with the timer that waits between attempts. A nil
// timer waits in real time.
func retryWithTimer[T any](ctx context.Context, cfg config.MemoryConfig, op string, fn func() (T, error), timer backoff.Timer) (T, error) {
	var result T
	attempt := 0

	maxRetries := uint64(0)
	if cfg.MaxRetries > 1 {
		maxRetries = uint64(cfg.MaxRetries - 1)
	}
	b := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(cfg.RetryDelay), maxRetries),
		ctx,
	)

	err := backoff.RetryNotifyWithTimer(func() error {
		attempt++
		v, err := fn()
		if err != nil {
			if !isRetriable(err) {
				return backoff.Permanent(err)
			}
			return err
		}
		result = v
		return nil
	}, b, func(err error, delay time.Duration) {
		logging.From(ctx).Warn("retrying operation",
			"op", op,
			"attempt", attempt,
			"delay", delay,
			"error", err,
		)
	}, timer)

	return result, err
}

func isRetriable(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	switch {
	case model.IsValidation(err),
		model.IsNotFound(err),
		model.HasTag(err, model.TagCorrupted),
		model.HasTag(err, model.TagParse):
		return false
	}
	return true
}
