package supervisor

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestGoRecoversPanic(t *testing.T) {
	t.Parallel()

	s := NewSupervisor(context.Background())
	s.Go0("boom", func(context.Context) { panic("kaboom") })

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	err := s.Wait(ctx)
	require.Error(t, err)
	require.Contains(t, err.Error(), "kaboom")

	snap := s.Snapshot()
	require.Len(t, snap.Groups, 1)
	require.Equal(t, uint64(1), snap.Groups[0].Panics)
	require.Equal(t, int64(0), snap.Counters.Active)
}

func TestCancelOnError(t *testing.T) {
	t.Parallel()

	s := NewSupervisor(context.Background(), WithCancelOnError(true))
	s.Go("fails", func(context.Context) error { return errors.New("bad") })
	s.Go0("waits", func(ctx context.Context) { <-ctx.Done() })

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	err := s.Wait(ctx)
	require.ErrorContains(t, err, "fails: bad")
}

func TestContextCanceledIsCleanExit(t *testing.T) {
	t.Parallel()

	s := NewSupervisor(context.Background())
	s.Go("loop", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))
}

func TestGoRestartRestartsUntilSuccess(t *testing.T) {
	t.Parallel()

	var runs atomic.Int32
	s := NewSupervisor(context.Background())
	s.GoRestart("flaky", func(context.Context) error {
		if runs.Add(1) < 3 {
			return errors.New("transient")
		}
		return nil
	}, WithRestartBackoff(time.Millisecond, 2*time.Millisecond))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, s.Wait(ctx))
	require.Equal(t, int32(3), runs.Load())

	var flaky GroupStats
	for _, g := range s.Snapshot().Groups {
		if g.Name == "flaky" {
			flaky = g
		}
	}
	require.Equal(t, uint64(2), flaky.Restarts)
}

func TestGoRestartMaxRestarts(t *testing.T) {
	t.Parallel()

	var runs atomic.Int32
	s := NewSupervisor(context.Background())
	s.GoRestart("always", func(context.Context) error {
		runs.Add(1)
		return errors.New("nope")
	}, WithRestartBackoff(time.Millisecond, time.Millisecond), WithMaxRestarts(2), WithPublishFirstError(true))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err := s.Wait(ctx)
	require.ErrorContains(t, err, "always: nope")
	require.Equal(t, int32(3), runs.Load())
}
