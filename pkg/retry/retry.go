// Package retry re-runs operations against the job registry and other
// external resources that fail transiently.
package retry

import (
	"context"
	"errors"
	"math/rand"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/ekaya-inc/ekaya-cadcheck/pkg/apperrors"
)

// Config defines retry behavior with exponential backoff
type Config struct {
	MaxRetries   int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	JitterFactor float64 // 0.0-1.0, +/- share of the delay added at random
}

// DefaultConfig returns sensible defaults for database operations
// 3 retries with 100ms initial delay, capped at 5s, doubling each time, with 10% jitter
func DefaultConfig() *Config {
	return &Config{
		MaxRetries:   3,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		Multiplier:   2.0,
		JitterFactor: 0.1,
	}
}

// StartupConfig waits longer, for a database that is still starting.
func StartupConfig() *Config {
	return &Config{
		MaxRetries:   8,
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     10 * time.Second,
		Multiplier:   2.0,
		JitterFactor: 0.1,
	}
}

func applyJitter(delay time.Duration, jitterFactor float64) time.Duration {
	if jitterFactor <= 0 {
		return delay
	}
	jitter := float64(delay) * jitterFactor * (rand.Float64()*2 - 1)
	return time.Duration(float64(delay) + jitter)
}

// doWithResult executes fn until it succeeds, retry returns false, or the
// attempts run out. Respects context cancellation during wait periods.
func doWithResult[T any](ctx context.Context, cfg *Config, retry func(error) bool, fn func() (T, error)) (T, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	var result T
	var lastErr error
	delay := cfg.InitialDelay

	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		r, err := fn()
		if err == nil {
			return r, nil
		}
		result, lastErr = r, err

		if !retry(err) || attempt == cfg.MaxRetries {
			break
		}

		select {
		case <-time.After(applyJitter(delay, cfg.JitterFactor)):
			delay = time.Duration(float64(delay) * cfg.Multiplier)
			if delay > cfg.MaxDelay {
				delay = cfg.MaxDelay
			}
		case <-ctx.Done():
			return result, ctx.Err()
		}
	}

	return result, lastErr
}

func always(error) bool { return true }

// Do executes fn with exponential backoff retry logic.
// Returns nil on success, or last error after all retries exhausted.
func Do(ctx context.Context, cfg *Config, fn func() error) error {
	_, err := doWithResult(ctx, cfg, always, func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}

// DoWithResult executes fn and returns both result and error.
// Useful for functions that return values (like database.Open).
func DoWithResult[T any](ctx context.Context, cfg *Config, fn func() (T, error)) (T, error) {
	return doWithResult(ctx, cfg, always, fn)
}

// DoIfRetryable only retries transient errors; anything else is returned
// immediately.
func DoIfRetryable(ctx context.Context, cfg *Config, fn func() error) error {
	_, err := doWithResult(ctx, cfg, IsRetryable, func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}

// DoWithResultIfRetryable is DoIfRetryable for functions that return values.
func DoWithResultIfRetryable[T any](ctx context.Context, cfg *Config, fn func() (T, error)) (T, error) {
	return doWithResult(ctx, cfg, IsRetryable, fn)
}

var retryablePatterns = []string{
	"connection refused",
	"connection reset",
	"broken pipe",
	"no such host",
	"timeout",
	"timed out",
	"temporary failure",
	"too many connections",
	"deadlock",
	"network is unreachable",
	"the database system is starting up",
}

// IsRetryable determines if an error is transient and worth retrying.
// Classified application errors and context cancellation never are.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	for _, category := range []error{
		apperrors.ErrValidation,
		apperrors.ErrNotFound,
		apperrors.ErrParse,
		apperrors.ErrTimeout,
		apperrors.ErrInternal,
	} {
		if errors.Is(err, category) {
			return false
		}
	}

	if pgconn.SafeToRetry(err) || pgconn.Timeout(err) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// serialization_failure, deadlock_detected, too_many_connections, cannot_connect_now
		switch pgErr.Code {
		case "40001", "40P01", "53300", "57P03":
			return true
		}
		return false
	}

	errStr := strings.ToLower(err.Error())
	for _, pattern := range retryablePatterns {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}
	return false
}
