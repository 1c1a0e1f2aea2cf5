// Package poll provides a bounded fixed-interval polling primitive.
//
// The interval is deliberately constant rather than exponential: the services
// being awaited (daemon seeding, VM boot networking) take roughly
// constant-order time independent of load, so growing the interval only adds
// latency after the service is already up.
package poll

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// defaultProgressEvery is how many attempts pass between progress
// notifications when the caller does not say otherwise. Notifying on every
// attempt floods the log during multi-minute waits.
const defaultProgressEvery = 10

var errNotReady = errors.New("not ready")

// Poller polls a predicate at a fixed interval up to a maximum attempt count.
type Poller struct {
	// Interval is the fixed sleep between attempts.
	Interval time.Duration

	// MaxAttempts caps predicate evaluations. Values below 1 are treated
	// as 1; the predicate always runs at least once, immediately.
	MaxAttempts int

	// Every is the attempt cadence for Progress notifications. Zero means
	// every 10 attempts.
	Every int

	// Progress, if set, is called with (attempt, maxAttempts) on every
	// Every-th unsuccessful attempt.
	Progress func(attempt, maxAttempts int)
}

// Result reports the outcome of an Await.
type Result struct {
	// Ready is true when the predicate succeeded before the attempt
	// budget ran out.
	Ready bool

	// Attempts is how many times the predicate was evaluated.
	Attempts int
}

// Await evaluates predicate immediately and then on every interval tick until
// it succeeds or MaxAttempts evaluations have been made. Cancelling ctx stops
// the wait early; the result is reported as not ready.
func (p Poller) Await(ctx context.Context, predicate func(ctx context.Context) bool) Result {
	maxAttempts := p.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	every := p.Every
	if every < 1 {
		every = defaultProgressEvery
	}

	attempts := 0
	op := func() error {
		attempts++
		if predicate(ctx) {
			return nil
		}
		return errNotReady
	}
	notify := func(error, time.Duration) {
		if p.Progress != nil && attempts%every == 0 {
			p.Progress(attempts, maxAttempts)
		}
	}

	// One immediate attempt plus maxAttempts-1 retries.
	b := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(p.Interval), uint64(maxAttempts-1)),
		ctx,
	)
	err := backoff.RetryNotify(op, b, notify)
	return Result{Ready: err == nil, Attempts: attempts}
}
