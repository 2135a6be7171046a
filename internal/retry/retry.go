// Package retry runs flaky remote calls with bounded exponential backoff.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/kgraph/internal/logging"
	"github.com/fyrsmithlabs/kgraph/internal/models"
)

// MaxDelay caps the sleep between attempts.
const MaxDelay = 5 * time.Second

// Defaults used when Config fields are zero.
const (
	DefaultMaxAttempts = 3
	DefaultBaseDelay   = time.Second
)

// Config configures an Executor.
type Config struct {
	MaxAttempts int
	BaseDelay   time.Duration
	// Retryable decides whether a failed attempt may be retried. Nil
	// retries everything except cancellation and validation errors.
	Retryable func(error) bool
	// OnRetry, if set, is called before each sleep.
	OnRetry func(op string, attempt int, delay time.Duration, err error)
}

// Error is returned when an operation fails for good. It carries the
// operation name and the number of invocations made.
type Error struct {
	Op       string
	Attempts int
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s failed after %d attempts: %v", e.Op, e.Attempts, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return backoff.Permanent(err)
}

// Executor retries operations sequentially. It is safe for concurrent use.
type Executor struct {
	cfg    Config
	logger *logging.Logger
}

// New creates an Executor. A nil logger discards output.
func New(cfg Config, logger *logging.Logger) *Executor {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = DefaultBaseDelay
	}
	if logger == nil {
		logger = logging.Nop()
	}
	return &Executor{cfg: cfg, logger: logger}
}

// MaxAttempts returns the configured attempt limit.
func (e *Executor) MaxAttempts() int { return e.cfg.MaxAttempts }

// Do runs fn until it succeeds, returns a non-retryable error, the parent
// context ends, or MaxAttempts invocations have failed.
func (e *Executor) Do(ctx context.Context, op string, fn func(context.Context) error) error {
	_, err := Value(ctx, e, op, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// Value is Do for operations that return a result.
func Value[T any](ctx context.Context, e *Executor, op string, fn func(context.Context) (T, error)) (T, error) {
	attempts := 0
	operation := func() (T, error) {
		attempts++
		res, err := fn(ctx)
		if err == nil {
			return res, nil
		}
		if ctx.Err() != nil || !e.retryable(err) {
			return res, backoff.Permanent(err)
		}
		return res, err
	}

	res, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(&backoff.ExponentialBackOff{
			InitialInterval:     e.cfg.BaseDelay,
			RandomizationFactor: 0,
			Multiplier:          2,
			MaxInterval:         MaxDelay,
		}),
		backoff.WithMaxTries(uint(e.cfg.MaxAttempts)),
		backoff.WithNotify(func(err error, d time.Duration) {
			e.logger.Debug(ctx, "retrying operation",
				zap.String("op", op),
				zap.Int("attempt", attempts),
				zap.Duration("delay", d),
				zap.Error(err),
			)
			if e.cfg.OnRetry != nil {
				e.cfg.OnRetry(op, attempts, d, err)
			}
		}),
	)
	if err == nil {
		return res, nil
	}

	var perm *backoff.PermanentError
	if errors.As(err, &perm) {
		err = perm.Err
	}
	if attempts >= e.cfg.MaxAttempts {
		e.logger.Warn(ctx, "operation failed after retries",
			zap.String("op", op),
			zap.Int("attempts", attempts),
			zap.Error(err),
		)
	}
	return res, &Error{Op: op, Attempts: attempts, Err: err}
}

func (e *Executor) retryable(err error) bool {
	if errors.Is(err, context.Canceled) || models.IsValidation(err) {
		return false
	}
	if e.cfg.Retryable != nil {
		return e.cfg.Retryable(err)
	}
	return true
}
