package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
)

// ErrStop ends Run cleanly when returned from a TickFunc.
var ErrStop = errors.New("scheduler: stop requested")

// TickFunc is invoked once per iteration.
type TickFunc func(ctx context.Context) error

// Options tune scheduler behaviour.
type Options struct {
	Interval time.Duration
}

// Scheduler runs a tick, sleeps for the interval, and repeats.
type Scheduler struct {
	opts   Options
	logger zerolog.Logger
}

// New constructs a Scheduler instance.
func New(opts Options, logger zerolog.Logger) *Scheduler {
	if opts.Interval <= 0 {
		panic("scheduler interval must be positive")
	}
	return &Scheduler{opts: opts, logger: logger.With().Str("component", "scheduler").Logger()}
}

// Run blocks until tick returns ErrStop or ctx is cancelled. Other tick errors
// are logged and the loop continues.
func (s *Scheduler) Run(ctx context.Context, tick TickFunc) error {
	for {
		if err := tick(ctx); err != nil {
			if errors.Is(err, ErrStop) {
				s.logger.Debug().Msg("scheduler stopped")
				return nil
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.logger.Error().Err(err).Msg("tick execution failed")
		}

		s.logger.Debug().Dur("interval", s.opts.Interval).Msg("waiting for next tick")
		if err := Sleep(ctx, s.opts.Interval); err != nil {
			return err
		}
	}
}

// Sleep waits for d or until ctx is done, whichever comes first.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
