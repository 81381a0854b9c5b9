package spawner

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestAbortableCancelledImmediately(t *testing.T) {
	s := New(context.Background(), 50*time.Millisecond)

	var sideEffects int32
	started := make(chan struct{})
	s.SpawnAbortable(func(ctx context.Context) {
		close(started)
		<-ctx.Done()
		// No further side effects after cancellation.
		_ = atomic.LoadInt32(&sideEffects)
	})
	<-started

	done := make(chan struct{})
	go func() {
		s.Shutdown()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("shutdown did not return promptly for abortable task")
	}
}

func TestCriticalGetsGracePeriod(t *testing.T) {
	s := New(context.Background(), 100*time.Millisecond)

	finished := make(chan struct{})
	started := make(chan struct{})
	s.SpawnCritical(func(ctx context.Context) {
		close(started)
		time.Sleep(30 * time.Millisecond) // well within the grace period
		close(finished)
	})
	<-started

	s.Shutdown()

	select {
	case <-finished:
	default:
		t.Fatal("critical task should have finished within its grace period")
	}
}

func TestCriticalForcedAfterGracePeriod(t *testing.T) {
	s := New(context.Background(), 20*time.Millisecond)

	started := make(chan struct{})
	aborted := make(chan struct{})
	s.SpawnCritical(func(ctx context.Context) {
		close(started)
		<-ctx.Done()
		close(aborted)
	})
	<-started

	s.Shutdown()

	select {
	case <-aborted:
	default:
		t.Fatal("critical task should have been force-aborted after grace period")
	}
}

func TestSlotReuseBoundsPoolSize(t *testing.T) {
	s := New(context.Background(), time.Second)
	for i := 0; i < 5; i++ {
		done := make(chan struct{})
		s.SpawnAbortable(func(ctx context.Context) { close(done) })
		<-done
		time.Sleep(time.Millisecond) // let goroutine fully exit and close sl.done
	}
	s.mu.Lock()
	n := len(s.abortable)
	s.mu.Unlock()
	require.LessOrEqual(t, n, 5)
}
