// Package spawner implements the AbortableSpawner from spec.md §4.6: two
// pools of spawned goroutines, one cancelled immediately on owner
// shutdown, one given a grace period to finish.
package spawner

import (
	"context"
	"sync"
	"time"

	"github.com/meshswap/kdfnode/internal/logging"
	"golang.org/x/sync/errgroup"
)

var log = logging.Component("spawner")

// DefaultGracePeriod is the default grace period critical tasks get to
// finish before forced abort, per spec.md §4.6.
const DefaultGracePeriod = time.Second

// slot holds one spawned task's cancel function, reused once the task
// finishes so the pool's memory footprint is bounded by peak concurrency,
// not lifetime task count.
type slot struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Spawner owns an abortable pool (cancelled immediately on Shutdown) and a
// critical pool (given GracePeriod to finish before forced abort).
type Spawner struct {
	mu          sync.Mutex
	ctx         context.Context
	cancel      context.CancelFunc
	gracePeriod time.Duration

	abortable []*slot
	critical  []*slot

	wg sync.WaitGroup
}

// New creates a Spawner bound to parent's lifetime plus its own Shutdown.
func New(parent context.Context, gracePeriod time.Duration) *Spawner {
	if gracePeriod <= 0 {
		gracePeriod = DefaultGracePeriod
	}
	ctx, cancel := context.WithCancel(parent)
	return &Spawner{ctx: ctx, cancel: cancel, gracePeriod: gracePeriod}
}

// Weak is a handle that can be cloned into spawned futures without itself
// preventing cancellation (it carries no owning reference, only the
// context to observe).
type Weak struct {
	ctx context.Context
}

// Done returns a channel closed when the owning Spawner's Shutdown has
// finished with its critical pool, or when its parent context is cancelled.
func (w Weak) Done() <-chan struct{} { return w.ctx.Done() }

// Weak returns a handle safe to clone into spawned futures.
func (s *Spawner) Weak() Weak { return Weak{ctx: s.ctx} }

// SpawnAbortable runs fn in a goroutine cancelled immediately (no grace
// period) when the Spawner shuts down.
func (s *Spawner) SpawnAbortable(fn func(ctx context.Context)) {
	s.spawn(fn, false)
}

// SpawnCritical runs fn in a goroutine given GracePeriod to finish before
// forced abort on shutdown (e.g. storage flushes, swap-lock touches).
func (s *Spawner) SpawnCritical(fn func(ctx context.Context)) {
	s.spawn(fn, true)
}

func (s *Spawner) spawn(fn func(ctx context.Context), critical bool) {
	ctx, cancel := context.WithCancel(s.ctx)
	sl := &slot{cancel: cancel, done: make(chan struct{})}

	s.mu.Lock()
	if critical {
		s.critical = reuseOrAppend(s.critical, sl)
	} else {
		s.abortable = reuseOrAppend(s.abortable, sl)
	}
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer close(sl.done)
		fn(ctx)
	}()
}

// reuseOrAppend replaces the first already-finished slot in pool, or
// appends, bounding memory by peak concurrency rather than lifetime count.
func reuseOrAppend(pool []*slot, sl *slot) []*slot {
	for i, existing := range pool {
		select {
		case <-existing.done:
			pool[i] = sl
			return pool
		default:
		}
	}
	return append(pool, sl)
}

// Shutdown cancels all abortable children immediately, gives critical
// children up to GracePeriod to finish, then force-cancels stragglers and
// waits for every spawned goroutine to return.
func (s *Spawner) Shutdown() {
	s.mu.Lock()
	abortable := append([]*slot(nil), s.abortable...)
	critical := append([]*slot(nil), s.critical...)
	s.mu.Unlock()

	for _, sl := range abortable {
		sl.cancel() // abortable children die now
	}

	if len(critical) > 0 {
		grp, _ := errgroup.WithContext(context.Background())
		deadline := time.After(s.gracePeriod)
		for _, sl := range critical {
			sl := sl
			grp.Go(func() error {
				select {
				case <-sl.done:
				case <-deadline:
					log.Warn("critical task exceeded grace period, forcing abort")
					sl.cancel()
					<-sl.done
				}
				return nil
			})
		}
		_ = grp.Wait()
	}

	s.cancel() // cancels the shared parent ctx, reaching every remaining child
	s.wg.Wait()
}
