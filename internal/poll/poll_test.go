package poll

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSchedulePolling_RunsImmediately(t *testing.T) {
	ran := make(chan struct{}, 1)
	p, err := SchedulePolling(context.Background(), Options{Name: "t", Interval: time.Hour}, func(context.Context) {
		select {
		case ran <- struct{}{}:
		default:
		}
	})
	require.NoError(t, err)
	defer p.Stop()

	select {
	case <-ran:
	case <-time.After(2 * time.Second):
		t.Fatal("poll func did not run immediately")
	}
}

func TestSchedulePolling_SkipImmediate(t *testing.T) {
	var runs atomic.Int32
	p, err := SchedulePolling(context.Background(), Options{Interval: time.Hour, SkipImmediate: true}, func(context.Context) {
		runs.Add(1)
	})
	require.NoError(t, err)

	time.Sleep(100 * time.Millisecond)
	<-p.Stop().Done()
	assert.Zero(t, runs.Load())
}

func TestStop_CancelsInFlightTick(t *testing.T) {
	started := make(chan struct{})
	canceled := make(chan struct{})
	p, err := SchedulePolling(context.Background(), Options{Interval: time.Hour}, func(ctx context.Context) {
		close(started)
		<-ctx.Done()
		close(canceled)
	})
	require.NoError(t, err)

	<-started
	done := p.Stop()

	select {
	case <-canceled:
	case <-time.After(2 * time.Second):
		t.Fatal("tick context was not canceled")
	}
	select {
	case <-done.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("stop did not wait for the tick")
	}

	// Second Stop is a no-op.
	<-p.Stop().Done()
}

func TestParentCancelStopsPoller(t *testing.T) {
	parent, cancel := context.WithCancel(context.Background())
	var runs atomic.Int32
	p, err := SchedulePolling(parent, Options{Interval: time.Second, SkipImmediate: true}, func(context.Context) {
		runs.Add(1)
	})
	require.NoError(t, err)

	cancel()
	select {
	case <-p.stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("poller did not stop after parent cancel")
	}
	time.Sleep(1500 * time.Millisecond)
	assert.Zero(t, runs.Load())
}

func TestTicksDoNotOverlap(t *testing.T) {
	var inFlight, maxInFlight, runs atomic.Int32
	p, err := SchedulePolling(context.Background(), Options{Interval: time.Second}, func(ctx context.Context) {
		n := inFlight.Add(1)
		for {
			m := maxInFlight.Load()
			if n <= m || maxInFlight.CompareAndSwap(m, n) {
				break
			}
		}
		runs.Add(1)
		select {
		case <-time.After(1500 * time.Millisecond):
		case <-ctx.Done():
		}
		inFlight.Add(-1)
	})
	require.NoError(t, err)

	time.Sleep(3200 * time.Millisecond)
	<-p.Stop().Done()

	assert.Equal(t, int32(1), maxInFlight.Load())
	assert.GreaterOrEqual(t, runs.Load(), int32(2))
}

func TestSchedulePolling_InvalidOptions(t *testing.T) {
	_, err := SchedulePolling(context.Background(), Options{Interval: time.Second}, nil)
	assert.Error(t, err)

	_, err = SchedulePolling(context.Background(), Options{}, func(context.Context) {})
	assert.Error(t, err)
}
