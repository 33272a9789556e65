package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRejectsZeroInterval(t *testing.T) {
	_, err := New(Options{}, zerolog.Nop())
	assert.Error(t, err)
}

func TestNextTickAligned(t *testing.T) {
	s, err := New(Options{Interval: 5 * time.Minute, AlignToBucket: true}, zerolog.Nop())
	require.NoError(t, err)

	now := time.Date(2026, 10, 17, 12, 3, 10, 0, time.UTC)
	assert.Equal(t, time.Date(2026, 10, 17, 12, 5, 0, 0, time.UTC), s.nextTick(now))

	onBoundary := time.Date(2026, 10, 17, 12, 5, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2026, 10, 17, 12, 10, 0, 0, time.UTC), s.nextTick(onBoundary))
	assert.Equal(t, onBoundary, s.bucketStart(onBoundary.Add(time.Second)))
}

func TestNextTickUnaligned(t *testing.T) {
	s, err := New(Options{Interval: time.Minute}, zerolog.Nop())
	require.NoError(t, err)

	now := time.Date(2026, 10, 17, 12, 3, 10, 0, time.UTC)
	assert.Equal(t, now.Add(time.Minute), s.nextTick(now))
	assert.Equal(t, now, s.bucketStart(now))
}

func TestRunKeepsGoingAfterFailedRound(t *testing.T) {
	s, err := New(Options{Interval: 10 * time.Millisecond, Immediate: true}, zerolog.Nop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var rounds atomic.Int32
	err = s.Run(ctx, func(ctx context.Context, _ time.Time) error {
		if rounds.Add(1) >= 3 {
			cancel()
		}
		return errors.New("venue down")
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.GreaterOrEqual(t, rounds.Load(), int32(3))
}

func TestRunHonoursStartupCancellation(t *testing.T) {
	s, err := New(Options{Interval: time.Hour, StartupDelay: time.Hour}, zerolog.Nop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, s.Run(ctx, func(context.Context, time.Time) error { return nil }), context.Canceled)
}
