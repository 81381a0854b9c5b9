package swap

import (
	"context"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"

	"github.com/meshswap/kdfnode/internal/kdferrors"
)

// FileStorage persists each swap's event log as a single JSON file under
// dbDir/SWAPS/EVENTS/<uuid>.json, mirroring swaplock's dbDir/SWAPS/LOCKS
// layout convention for the companion per-swap file lock. Rewrites the
// whole file on every Append (event logs are short — one row per
// protocol step, not a high-frequency stream) rather than an
// append-in-place log format, trading a little I/O for a format trivial
// to read back whole on Load/Resume.
type FileStorage struct {
	mu     sync.Mutex
	dbDir  string
	cached map[uuid.UUID][]Event
}

// NewFileStorage roots swap-log files under dbDir.
func NewFileStorage(dbDir string) *FileStorage {
	return &FileStorage{dbDir: dbDir, cached: make(map[uuid.UUID][]Event)}
}

func (fs *FileStorage) path(swapUUID uuid.UUID) string {
	return filepath.Join(fs.dbDir, "SWAPS", "EVENTS", swapUUID.String()+".json")
}

func (fs *FileStorage) Append(ctx context.Context, swapUUID uuid.UUID, event Event) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	events, err := fs.loadLocked(swapUUID)
	if err != nil {
		return err
	}
	events = append(events, event)

	path := fs.path(swapUUID)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return kdferrors.New(kdferrors.KindStorage, "create_swap_log_dir_failed", err)
	}
	data, err := marshalEvents(events)
	if err != nil {
		return kdferrors.New(kdferrors.KindInternal, "marshal_swap_log_failed", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return kdferrors.New(kdferrors.KindStorage, "write_swap_log_failed", err)
	}
	fs.cached[swapUUID] = events
	return nil
}

func (fs *FileStorage) Load(ctx context.Context, swapUUID uuid.UUID) ([]Event, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.loadLocked(swapUUID)
}

func (fs *FileStorage) loadLocked(swapUUID uuid.UUID) ([]Event, error) {
	if cached, ok := fs.cached[swapUUID]; ok {
		return append([]Event(nil), cached...), nil
	}
	data, err := os.ReadFile(fs.path(swapUUID))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, kdferrors.New(kdferrors.KindStorage, "read_swap_log_failed", err)
	}
	events, err := unmarshalEvents(data)
	if err != nil {
		return nil, kdferrors.New(kdferrors.KindInternal, "unmarshal_swap_log_failed", err)
	}
	fs.cached[swapUUID] = events
	return append([]Event(nil), events...), nil
}

var _ Storage = (*FileStorage)(nil)
