package retry

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/c360/edgefilter/errors"
)

// Policy controls how often and how far apart attempts are made
type Policy struct {
	MaxAttempts  int           // Total attempts, at least one
	InitialDelay time.Duration // Delay before the second attempt
	MaxDelay     time.Duration // Upper bound for any delay
	Multiplier   float64       // Growth factor between delays
	Jitter       bool          // Add up to 25% random delay

	// OnRetry is called after a failed attempt that will be retried
	OnRetry func(attempt int, err error, delay time.Duration)
}

// Startup suits connecting to a broker that may still be booting
func Startup() Policy {
	return Policy{
		MaxAttempts:  10,
		InitialDelay: 250 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		Multiplier:   1.5,
		Jitter:       true,
	}
}

func (p Policy) check() (Policy, error) {
	if p.InitialDelay < 0 || p.MaxDelay < 0 || p.Multiplier < 0 {
		return p, fmt.Errorf("%w: retry delays and multiplier cannot be negative", errors.ErrInvalidConfig)
	}
	p.MaxAttempts = max(p.MaxAttempts, 1)
	if p.InitialDelay == 0 {
		p.InitialDelay = 100 * time.Millisecond
	}
	if p.MaxDelay == 0 {
		p.MaxDelay = 5 * time.Second
	}
	if p.Multiplier == 0 {
		p.Multiplier = 2
	}
	if p.MaxDelay < p.InitialDelay {
		return p, fmt.Errorf("%w: retry max delay %v is below initial delay %v",
			errors.ErrInvalidConfig, p.MaxDelay, p.InitialDelay)
	}
	return p, nil
}

// next returns the delay that follows d
func (p Policy) next(d time.Duration) time.Duration {
	grown := time.Duration(float64(d) * p.Multiplier)
	if grown <= 0 || grown > p.MaxDelay {
		return p.MaxDelay
	}
	return grown
}

// Do calls fn until it succeeds, the attempts run out, ctx is done or fn
// returns an error classified as invalid or fatal
func Do(ctx context.Context, p Policy, fn func() error) error {
	p, err := p.check()
	if err != nil {
		return err
	}

	delay := p.InitialDelay
	for attempt := 1; ; attempt++ {
		err := fn()
		switch {
		case err == nil:
			return nil
		case errors.IsFatal(err), errors.IsInvalid(err):
			return err
		case attempt == p.MaxAttempts:
			return fmt.Errorf("retry failed after %d attempts: %w", attempt, err)
		case ctx.Err() != nil:
			return fmt.Errorf("retry cancelled after attempt %d: %w", attempt, ctx.Err())
		}

		sleep := delay
		if p.Jitter && delay >= 4 {
			sleep += rand.N(delay / 4)
		}
		if p.OnRetry != nil {
			p.OnRetry(attempt, err, sleep)
		}

		timer := time.NewTimer(sleep)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("retry cancelled during backoff after attempt %d: %w", attempt, ctx.Err())
		case <-timer.C:
		}
		delay = p.next(delay)
	}
}
