package aggregator

import (
	"time"

	"github.com/okian/livescore/pkg/logger"
)

// Option applies a configuration option to the Aggregator.
type Option func(*Aggregator)

// WithInterval sets the flush cadence.
func WithInterval(d time.Duration) Option {
	return func(a *Aggregator) {
		if d > 0 {
			a.interval = d
		}
	}
}

// WithRetryBackoff sets the pause before retrying a busy store.
func WithRetryBackoff(d time.Duration) Option {
	return func(a *Aggregator) {
		if d > 0 {
			a.retryBackoff = d
		}
	}
}

// WithMaxFastRetries bounds back-to-back retries before the normal cadence resumes.
func WithMaxFastRetries(n int) Option {
	return func(a *Aggregator) {
		if n >= 0 {
			a.maxFastRetries = n
		}
	}
}

// WithMaxAttempts dead-letters items after n failed flushes. Zero keeps them forever.
func WithMaxAttempts(n int) Option {
	return func(a *Aggregator) {
		if n >= 0 {
			a.maxAttempts = n
		}
	}
}

// WithDeadLetter sets where expired items go.
func WithDeadLetter(d DeadLetter) Option {
	return func(a *Aggregator) {
		a.deadLetter = d
	}
}

// WithStopTimeout bounds Stop and the final flush.
func WithStopTimeout(d time.Duration) Option {
	return func(a *Aggregator) {
		if d > 0 {
			a.stopTimeout = d
		}
	}
}

// WithLogger sets a custom logger for the aggregator.
func WithLogger(l logger.Logger) Option {
	return func(a *Aggregator) {
		if l != nil {
			a.logger = l
		}
	}
}
