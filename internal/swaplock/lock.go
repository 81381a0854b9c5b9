// Package swaplock provides the file-based advisory lock that guards a
// swap's event log against concurrent writers from two process instances
// sharing the same DB directory, per spec.md §4.2.1/§5/§8 scenario 6.
package swaplock

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"

	"github.com/meshswap/kdfnode/internal/logging"
)

var log = logging.Component("swaplock")

// TouchInterval is how often a held lock is refreshed on disk so a crashed
// holder's lock file goes visibly stale rather than silently wedging.
const TouchInterval = 30 * time.Second

// Lock guards a single swap_uuid's event log.
type Lock struct {
	fl     *flock.Flock
	cancel context.CancelFunc
}

// path returns the lock file path for a swap uuid under dbDir.
func path(dbDir, swapUUID string) string {
	return filepath.Join(dbDir, "SWAPS", "LOCKS", swapUUID+".lock")
}

// Acquire takes a non-blocking exclusive lock on swapUUID's lock file.
// ErrContended is returned if another process already holds it, matching
// spec.md §8 scenario 6: a stale-but-held lock must not be silently
// stolen.
func Acquire(dbDir, swapUUID string) (*Lock, error) {
	lockPath := path(dbDir, swapUUID)
	if err := os.MkdirAll(filepath.Dir(lockPath), 0o755); err != nil {
		return nil, fmt.Errorf("swaplock: create lock dir: %w", err)
	}
	fl := flock.New(lockPath)
	ok, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("swaplock: try lock %s: %w", swapUUID, err)
	}
	if !ok {
		return nil, ErrContended
	}

	ctx, cancel := context.WithCancel(context.Background())
	l := &Lock{fl: fl, cancel: cancel}
	go l.touchLoop(ctx, swapUUID)
	return l, nil
}

func (l *Lock) touchLoop(ctx context.Context, swapUUID string) {
	ticker := time.NewTicker(TouchInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// Touching re-affirms ownership for any external stale-lock
			// detector watching the file's mtime; flock itself needs no
			// refresh since the holder's fd determines contention.
			if err := touchFile(l.fl.Path()); err != nil {
				log.Warn("swaplock: touch failed", "swap_uuid", swapUUID, "err", err)
			}
		}
	}
}

// Release unlocks and stops the touch loop.
func (l *Lock) Release() error {
	l.cancel()
	return l.fl.Unlock()
}
