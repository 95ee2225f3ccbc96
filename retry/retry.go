package retry

import (
	"context"
	"math/rand/v2"
	"time"
)

const (
	DefaultMaxRetries = 3
	DefaultBaseWait   = 250 * time.Millisecond
	DefaultMaxWait    = 10 * time.Second
)

// Options configures Do
type Options struct {
	MaxRetries  int
	BaseWait    time.Duration
	MaxWait     time.Duration
	ShouldRetry func(err error) bool
	OnRetry     func(attempt int, err error, wait time.Duration)
}

// Option customizes Options
type Option func(*Options)

// WithMaxRetries sets the number of retries after the first attempt
func WithMaxRetries(n int) Option {
	return func(o *Options) { o.MaxRetries = n }
}

// WithBaseWait sets the wait before the first retry. Each later retry waits
// twice as long, up to the maximum wait.
func WithBaseWait(d time.Duration) Option {
	return func(o *Options) { o.BaseWait = d }
}

// WithMaxWait caps the wait between attempts
func WithMaxWait(d time.Duration) Option {
	return func(o *Options) { o.MaxWait = d }
}

// WithShouldRetry replaces IsRecoverable as the retry predicate
func WithShouldRetry(fn func(err error) bool) Option {
	return func(o *Options) { o.ShouldRetry = fn }
}

// WithOnRetry registers a hook called before each retry
func WithOnRetry(fn func(attempt int, err error, wait time.Duration)) Option {
	return func(o *Options) { o.OnRetry = fn }
}

// Do calls fn until it succeeds, returns an error that should not be retried,
// or the retries are exhausted. The last error is returned unchanged.
func Do(ctx context.Context, fn func() error, opts ...Option) error {
	options := Options{
		MaxRetries:  DefaultMaxRetries,
		BaseWait:    DefaultBaseWait,
		MaxWait:     DefaultMaxWait,
		ShouldRetry: IsRecoverable,
	}
	for _, opt := range opts {
		opt(&options)
	}

	var err error
	for attempt := 0; ; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		if attempt >= options.MaxRetries || !options.ShouldRetry(err) {
			return err
		}
		wait := backoff(options.BaseWait, options.MaxWait, attempt)
		if options.OnRetry != nil {
			options.OnRetry(attempt+1, err, wait)
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return err
		case <-timer.C:
		}
	}
}

// backoff returns an exponential wait with up to 20% jitter.
func backoff(base, max time.Duration, attempt int) time.Duration {
	wait := base << attempt
	if wait <= 0 || (max > 0 && wait > max) {
		wait = max
	}
	if wait <= 0 {
		return 0
	}
	jitter := time.Duration(rand.Int64N(int64(wait)/5 + 1))
	return wait - jitter
}
