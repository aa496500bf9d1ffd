package scan

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/hashicorp/go-hclog"

	"github.com/complyio/complyio/internal/config"
	"github.com/complyio/complyio/internal/metrics"
)

// RetryPolicy retries activities that timed out or were cancelled. Any other
// failure is returned after the first attempt.
type RetryPolicy struct {
	MaxAttempts        int
	FirstRetryInterval time.Duration
	BackoffCoefficient float64
	MaxRetryInterval   time.Duration
	AttemptTimeout     time.Duration

	logger  hclog.Logger
	metrics *metrics.Metrics
}

// NewRetryPolicy creates a policy from the scan.retry configuration.
func NewRetryPolicy(cfg config.Retry, logger hclog.Logger, m *metrics.Metrics) *RetryPolicy {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &RetryPolicy{
		MaxAttempts:        cfg.MaxAttempts,
		FirstRetryInterval: cfg.FirstRetryInterval,
		BackoffCoefficient: cfg.BackoffCoefficient,
		MaxRetryInterval:   cfg.MaxRetryInterval,
		AttemptTimeout:     cfg.AttemptTimeout,
		logger:             logger,
		metrics:            m,
	}
}

// IsTransient reports whether err is a timeout or a cancellation.
func IsTransient(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}
	var timeout interface{ Timeout() bool }
	return errors.As(err, &timeout) && timeout.Timeout()
}

func (p *RetryPolicy) backOff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.FirstRetryInterval
	b.Multiplier = p.BackoffCoefficient
	b.MaxInterval = p.MaxRetryInterval
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0

	retries := p.MaxAttempts - 1
	if retries < 0 {
		retries = 0
	}
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(retries)), ctx)
}

// Run calls fn until it succeeds, fails permanently or the attempts are
// exhausted. Every attempt gets its own timeout.
func (p *RetryPolicy) Run(ctx context.Context, activity string, fn func(ctx context.Context) error) error {
	attempt := 0
	operation := func() error {
		attempt++
		attemptCtx := ctx
		if p.AttemptTimeout > 0 {
			var cancel context.CancelFunc
			attemptCtx, cancel = context.WithTimeout(ctx, p.AttemptTimeout)
			defer cancel()
		}

		err := fn(attemptCtx)
		switch {
		case err == nil:
			return nil
		case ctx.Err() != nil:
			return backoff.Permanent(err)
		case !IsTransient(err):
			return backoff.Permanent(err)
		}
		return err
	}

	notify := func(err error, wait time.Duration) {
		p.logger.Warn("activity failed, retrying", "activity", activity, "attempt", attempt, "wait", wait, "error", err)
		p.metrics.Retried(activity)
	}
	return backoff.RetryNotify(operation, p.backOff(ctx), notify)
}
