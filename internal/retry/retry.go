// Package retry runs operations under a bounded exponential backoff policy.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
)

// Policy describes how often and how patiently an operation is retried.
type Policy struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

// DefaultPolicy is three retries starting at one second, capped at one minute.
func DefaultPolicy() Policy {
	return Policy{MaxRetries: 3, BaseDelay: time.Second, MaxDelay: 60 * time.Second}
}

// Delay returns the wait before retry number attempt (0-based): min(base*2^attempt, max).
func (p Policy) Delay(attempt int) time.Duration {
	p = p.normalized()
	d := p.BaseDelay
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}

func (p Policy) normalized() Policy {
	def := DefaultPolicy()
	if p.MaxRetries < 0 {
		p.MaxRetries = 0
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = def.BaseDelay
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = def.MaxDelay
	}
	if p.MaxDelay < p.BaseDelay {
		p.MaxDelay = p.BaseDelay
	}
	return p
}

func (p Policy) backOff(ctx context.Context) backoff.BackOff {
	p = p.normalized()

	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = p.BaseDelay
	exp.MaxInterval = p.MaxDelay
	exp.Multiplier = 2
	exp.RandomizationFactor = 0
	exp.MaxElapsedTime = 0
	exp.Reset()

	return backoff.WithContext(backoff.WithMaxRetries(exp, uint64(p.MaxRetries)), ctx)
}

// Option customises a single Do call.
type Option func(*options)

type options struct {
	timer   backoff.Timer
	logger  zerolog.Logger
	name    string
	onRetry func(attempt int, err error, delay time.Duration)
}

// WithTimer replaces the wall-clock timer used between attempts.
func WithTimer(t backoff.Timer) Option {
	return func(o *options) { o.timer = t }
}

// WithLogger logs each retry at warn level under the given operation name.
func WithLogger(logger zerolog.Logger, name string) Option {
	return func(o *options) {
		o.logger = logger
		o.name = name
	}
}

// OnRetry registers a callback fired before each wait.
func OnRetry(fn func(attempt int, err error, delay time.Duration)) Option {
	return func(o *options) { o.onRetry = fn }
}

// Do invokes op until it succeeds or the policy is exhausted. At most MaxRetries+1 attempts
// are made and the final error is returned unchanged.
func Do[T any](ctx context.Context, p Policy, op func(ctx context.Context) (T, error), opts ...Option) (T, error) {
	o := options{logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(&o)
	}

	attempt := 0
	operation := func() (T, error) {
		attempt++
		return op(ctx)
	}
	notify := func(err error, delay time.Duration) {
		o.logger.Warn().Err(err).
			Str("operation", o.name).
			Int("attempt", attempt).
			Dur("delay", delay).
			Msg("attempt failed; retrying")
		if o.onRetry != nil {
			o.onRetry(attempt, err, delay)
		}
	}

	return backoff.RetryNotifyWithTimerAndData(operation, p.backOff(ctx), notify, o.timer)
}
