// Package poll runs a check repeatedly until it reports completion, a
// fixed attempt budget runs out, or the context is cancelled.
package poll

import (
	"context"
	"fmt"
	"time"
)

// Default polling configuration constants.
const (
	DefaultMaxAttempts = 150
	DefaultInterval    = 5 * time.Minute
)

// Check is one polling attempt. Attempts are numbered from 1. Returning
// done stops the loop; returning an error aborts it.
type Check func(ctx context.Context, attempt int) (done bool, err error)

// Sleeper blocks for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// Result describes a finished loop.
type Result struct {
	Attempts int
	Elapsed  time.Duration
	Done     bool
}

// Poller runs checks at a fixed interval.
type Poller struct {
	maxAttempts int
	interval    time.Duration
	sleep       Sleeper
	now         func() time.Time
}

// Option applies a configuration option to the Poller.
type Option func(*Poller)

// WithMaxAttempts bounds the number of checks.
func WithMaxAttempts(n int) Option {
	return func(p *Poller) {
		if n > 0 {
			p.maxAttempts = n
		}
	}
}

// WithInterval sets the pause between two checks.
func WithInterval(d time.Duration) Option {
	return func(p *Poller) {
		if d >= 0 {
			p.interval = d
		}
	}
}

// WithSleeper replaces the pause implementation.
func WithSleeper(s Sleeper) Option {
	return func(p *Poller) {
		if s != nil {
			p.sleep = s
		}
	}
}

// WithClock replaces the clock used to measure elapsed time.
func WithClock(now func() time.Time) Option {
	return func(p *Poller) {
		if now != nil {
			p.now = now
		}
	}
}

// New creates a poller with the given options.
func New(opts ...Option) *Poller {
	p := &Poller{
		maxAttempts: DefaultMaxAttempts,
		interval:    DefaultInterval,
		sleep:       Sleep,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// MaxAttempts returns the attempt budget.
func (p *Poller) MaxAttempts() int { return p.maxAttempts }

// Interval returns the pause between checks.
func (p *Poller) Interval() time.Duration { return p.interval }

// Until calls check until it reports done. There is no pause after the
// final attempt. Running out of attempts is not an error; callers inspect
// Result.Done.
func (p *Poller) Until(ctx context.Context, check Check) (Result, error) {
	start := p.now()
	var res Result
	for attempt := 1; attempt <= p.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			res.Elapsed = p.now().Sub(start)
			return res, fmt.Errorf("poll cancelled: %w", err)
		}

		res.Attempts = attempt
		done, err := check(ctx, attempt)
		if err != nil {
			res.Elapsed = p.now().Sub(start)
			return res, err
		}
		if done {
			res.Done = true
			break
		}
		if attempt == p.maxAttempts {
			break
		}
		if err := p.sleep(ctx, p.interval); err != nil {
			res.Elapsed = p.now().Sub(start)
			return res, fmt.Errorf("poll cancelled: %w", err)
		}
	}
	res.Elapsed = p.now().Sub(start)
	return res, nil
}

// Sleep waits for d, returning early with ctx's error.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
