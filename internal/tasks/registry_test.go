// ABOUTME: Tests for the background task registry
// ABOUTME: Covers bounded growth, opportunistic pruning, and the Wait drain hook

package tasks

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_ScheduleRunsOperation(t *testing.T) {
	r := NewRegistry(nil)

	var ran atomic.Bool
	r.Schedule("write", func() { ran.Store(true) })

	require.NoError(t, r.Wait(t.Context()))
	assert.True(t, ran.Load())
}

func TestRegistry_WaitDrainsAllScheduled(t *testing.T) {
	r := NewRegistry(nil)

	var count atomic.Int64
	for range 50 {
		r.Schedule("write", func() { count.Add(1) })
	}

	require.NoError(t, r.Wait(t.Context()))
	assert.Equal(t, int64(50), count.Load())
	assert.Equal(t, 0, r.Len())
}

func TestRegistry_WaitHonorsContext(t *testing.T) {
	r := NewRegistry(nil)

	release := make(chan struct{})
	r.Schedule("blocked", func() { <-release })

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := r.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(release)
	require.NoError(t, r.Wait(context.Background()))
}

func TestRegistry_LenTracksInFlightOnly(t *testing.T) {
	r := NewRegistry(nil)

	release := make(chan struct{})
	for range 10 {
		r.Schedule("blocked", func() { <-release })
	}
	assert.Equal(t, 10, r.Len())

	close(release)
	require.NoError(t, r.Wait(t.Context()))
	assert.Equal(t, 0, r.Len())
}

func TestRegistry_LengthBoundedByInFlightNotCumulative(t *testing.T) {
	r := NewRegistry(nil)

	// Small steady-state concurrency: each task is gated through a
	// semaphore of 8, so in-flight work is bounded even though 10,000
	// tasks get scheduled.
	sem := make(chan struct{}, 8)
	for range 10_000 {
		sem <- struct{}{}
		r.Schedule("write", func() { <-sem })
	}

	// Pruning happens on Schedule, so the handle list can only hold the
	// tasks still waiting on the semaphore plus a small scheduling lag.
	assert.Less(t, r.Len(), 100, "registry must not accumulate completed handles")

	require.NoError(t, r.Wait(t.Context()))
	assert.Equal(t, 0, r.Len())
}

func TestRegistry_ConcurrentScheduleIsSafe(t *testing.T) {
	r := NewRegistry(nil)

	var count atomic.Int64
	done := make(chan struct{})
	for range 8 {
		go func() {
			defer func() { done <- struct{}{} }()
			for range 100 {
				r.Schedule("write", func() { count.Add(1) })
			}
		}()
	}
	for range 8 {
		<-done
	}

	require.NoError(t, r.Wait(t.Context()))
	assert.Equal(t, int64(800), count.Load())
}
