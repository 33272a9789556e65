// Package scheduler drives periodic audit rounds.
package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
)

// RoundFunc is invoked once per round with the round's bucket time.
type RoundFunc func(ctx context.Context, round time.Time) error

// Options tune scheduler behaviour.
type Options struct {
	Interval time.Duration
	// AlignToBucket fires on multiples of Interval instead of Interval after start.
	AlignToBucket bool
	StartupDelay  time.Duration
	// Immediate runs one round before waiting for the first tick.
	Immediate bool
}

// Scheduler runs rounds until its context ends. Rounds never overlap.
type Scheduler struct {
	opts   Options
	now    func() time.Time
	logger zerolog.Logger
}

// New constructs a Scheduler.
func New(opts Options, logger zerolog.Logger) (*Scheduler, error) {
	if opts.Interval <= 0 {
		return nil, errors.New("scheduler interval must be positive")
	}
	return &Scheduler{
		opts:   opts,
		now:    func() time.Time { return time.Now().UTC() },
		logger: logger.With().Str("component", "scheduler").Logger(),
	}, nil
}

// Run blocks, invoking fn on every round until ctx is cancelled. A failing round is logged
// and the schedule continues.
func (s *Scheduler) Run(ctx context.Context, fn RoundFunc) error {
	if s.opts.StartupDelay > 0 {
		if err := sleep(ctx, s.opts.StartupDelay); err != nil {
			return err
		}
	}

	if s.opts.Immediate {
		s.execute(ctx, fn, s.bucketStart(s.now()))
	}

	next := s.nextTick(s.now())
	for {
		delay := next.Sub(s.now())
		if delay < 0 {
			// a round overran the interval; skip the missed buckets
			next = s.nextTick(s.now())
			delay = next.Sub(s.now())
		}

		s.logger.Debug().Time("next_round", next).Msg("waiting for next round")
		if err := sleep(ctx, delay); err != nil {
			return err
		}

		s.execute(ctx, fn, s.bucketStart(next))
		next = next.Add(s.opts.Interval)
	}
}

func (s *Scheduler) execute(ctx context.Context, fn RoundFunc, round time.Time) {
	start := s.now()
	s.logger.Info().Time("round", round).Msg("executing scheduled round")
	if err := fn(ctx, round); err != nil {
		s.logger.Error().Err(err).Time("round", round).Msg("round failed")
		return
	}
	s.logger.Debug().Time("round", round).Dur("took", s.now().Sub(start)).Msg("round finished")
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (s *Scheduler) nextTick(now time.Time) time.Time {
	if !s.opts.AlignToBucket {
		return now.Add(s.opts.Interval)
	}
	bucket := now.Truncate(s.opts.Interval)
	if !bucket.After(now) {
		bucket = bucket.Add(s.opts.Interval)
	}
	return bucket
}

func (s *Scheduler) bucketStart(t time.Time) time.Time {
	if !s.opts.AlignToBucket {
		return t
	}
	return t.Truncate(s.opts.Interval)
}
