package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestPacer_ZeroDelayNeverBlocks(t *testing.T) {
	t.Parallel()

	p := NewPacer(0)
	start := time.Now()
	for i := 0; i < 100; i++ {
		require.NoError(t, p.Wait(context.Background()))
	}
	require.Less(t, time.Since(start), 100*time.Millisecond)
}

func TestPacer_SpacesRequests(t *testing.T) {
	t.Parallel()

	delay := 40 * time.Millisecond
	p := NewPacer(delay)

	start := time.Now()
	require.NoError(t, p.Wait(context.Background()))
	require.Less(t, time.Since(start), delay, "first request must not wait")

	require.NoError(t, p.Wait(context.Background()))
	require.NoError(t, p.Wait(context.Background()))
	require.GreaterOrEqual(t, time.Since(start), 2*delay-5*time.Millisecond)
}

func TestPacer_RespectsContext(t *testing.T) {
	t.Parallel()

	p := NewPacer(time.Hour)
	require.NoError(t, p.Wait(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err := p.Wait(ctx)
	require.Error(t, err)
}

func TestPacer_CanceledContext(t *testing.T) {
	t.Parallel()

	p := NewPacer(time.Second)
	require.NoError(t, p.Wait(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, p.Wait(ctx), context.Canceled)
}

func TestPacer_NilIsNoop(t *testing.T) {
	t.Parallel()

	var p *Pacer
	require.NoError(t, p.Wait(context.Background()))
	require.Zero(t, p.Delay())
}
