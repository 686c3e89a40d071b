package delivery

import (
	"context"
	"errors"
	"time"
)

// DefaultPollInterval matches the refresh rate of the original web client.
const DefaultPollInterval = 500 * time.Millisecond

// ErrPollTimeout is returned by Poller.Wait when the timeout elapses first.
var ErrPollTimeout = errors.New("timed out waiting for result")

// Poller is the client half of the poll strategy: it re-checks a
// condition until it holds.
type Poller struct {
	Interval time.Duration
	Timeout  time.Duration
}

// Wait calls done until it returns true, an error, or the context or
// timeout ends. done runs once immediately.
func (p Poller) Wait(ctx context.Context, done func(context.Context) (bool, error)) error {
	interval := p.Interval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	if p.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.Timeout)
		defer cancel()
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		ok, err := done(ctx)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return ErrPollTimeout
			}
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
