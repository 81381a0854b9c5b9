// Package rpctask implements the four-verb long-running-job framework from
// spec.md §4.7: init/status/user_action/cancel driving a task through
// Initializing -> InProgress(payload) -> (UserActionRequired -> InProgress)*
// -> (Finished | Failed | Cancelled). Grounded on
// original_source/mm2src/mm2_main/src/rpc/dispatcher/dispatcher.rs's
// rpc_task_dispatcher, which wires exactly these four verbs per job kind
// (withdraw, create_new_account, enable_utxo, init_trezor, ...), and on
// internal/expirable's ttl-keyed map for bounding the task registry's
// memory footprint once a task finishes.
package rpctask

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/meshswap/kdfnode/internal/expirable"
	"github.com/meshswap/kdfnode/internal/kdferrors"
	"github.com/meshswap/kdfnode/internal/logging"
)

var log = logging.Component("rpctask")

// Status is one of the task state machine's named states, per spec.md §4.7.
type Status string

const (
	StatusInitializing       Status = "Initializing"
	StatusInProgress         Status = "InProgress"
	StatusUserActionRequired Status = "UserActionRequired"
	StatusFinished           Status = "Finished"
	StatusFailed             Status = "Failed"
	StatusCancelled          Status = "Cancelled"
)

func (s Status) isTerminal() bool {
	return s == StatusFinished || s == StatusFailed || s == StatusCancelled
}

// runningTTL is the registry lifetime assigned to a task while it is still
// running: effectively unbounded, since expirable.Map has no "no expiry"
// sentinel and a real task (hw-wallet confirm, utxo activation) can run
// far longer than any status-poll interval.
const runningTTL = 24 * time.Hour

// finishedRetention is how long a terminal task's handle stays queryable
// after it reaches Finished/Failed/Cancelled, so a client's last status
// poll after completion still gets an answer instead of "not found".
const finishedRetention = 10 * time.Minute

// StatusReport is what a status poll returns: exactly one of Payload,
// Result, or Err is meaningful, selected by Status.
type StatusReport[P any, R any] struct {
	Status  Status
	Payload P
	Result  R
	Err     error
}

// Handle is the per-task state a running TaskFunc reports progress
// through and a status poll reads from; safe for concurrent use.
type Handle[P any, R any] struct {
	mu       sync.Mutex
	status   Status
	payload  P
	result   R
	err      error
	actionCh chan any
	cancel   context.CancelFunc
	done     chan struct{}
}

// ReportProgress records an InProgress payload, e.g. "scanned 3/20
// addresses" or "broadcasting withdrawal tx".
func (h *Handle[P, R]) ReportProgress(payload P) {
	h.mu.Lock()
	h.status = StatusInProgress
	h.payload = payload
	h.mu.Unlock()
}

// AwaitUserAction reports a UserActionRequired payload (e.g. "confirm on
// your Trezor") and blocks until UserAction delivers an action or ctx is
// cancelled. Returns to InProgress once an action arrives.
func (h *Handle[P, R]) AwaitUserAction(ctx context.Context, payload P) (any, error) {
	h.mu.Lock()
	h.status = StatusUserActionRequired
	h.payload = payload
	h.mu.Unlock()

	select {
	case action := <-h.actionCh:
		h.mu.Lock()
		h.status = StatusInProgress
		h.mu.Unlock()
		return action, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (h *Handle[P, R]) finish(result R, err error) {
	h.mu.Lock()
	switch {
	case errors.Is(err, context.Canceled):
		h.status = StatusCancelled
	case err != nil:
		h.status = StatusFailed
		h.err = err
	default:
		h.status = StatusFinished
		h.result = result
	}
	h.mu.Unlock()
	close(h.done)
}

func (h *Handle[P, R]) snapshot() StatusReport[P, R] {
	h.mu.Lock()
	defer h.mu.Unlock()
	return StatusReport[P, R]{Status: h.status, Payload: h.payload, Result: h.result, Err: h.err}
}

// TaskFunc is the body of one long-running job. It reports progress via
// h.ReportProgress and blocks on h.AwaitUserAction wherever spec.md §4.7's
// hw-wallet-input step is needed, returning its final result or error.
type TaskFunc[P any, R any] func(ctx context.Context, h *Handle[P, R]) (R, error)

// Manager is a registry of running/recently-finished tasks of one job
// kind (withdraw, create_new_account, enable_utxo, init_trezor, ...) —
// one Manager instance per kind, mirroring rpc_task_dispatcher's
// per-method task namespaces (task::withdraw::*, task::init_trezor::*).
type Manager[P any, R any] struct {
	tasks *expirable.Map[uuid.UUID, *Handle[P, R]]
}

// NewManager creates an empty task registry for one job kind.
func NewManager[P any, R any]() *Manager[P, R] {
	return &Manager[P, R]{tasks: expirable.New[uuid.UUID, *Handle[P, R]](nil)}
}

// Init starts fn in its own goroutine under a context derived from parent
// and returns its task_id immediately, per spec.md §4.7's "init: start,
// return task_id".
func (m *Manager[P, R]) Init(parent context.Context, fn TaskFunc[P, R]) uuid.UUID {
	id := uuid.New()
	ctx, cancel := context.WithCancel(parent)
	h := &Handle[P, R]{status: StatusInitializing, actionCh: make(chan any), cancel: cancel, done: make(chan struct{})}
	m.tasks.Insert(id, h, runningTTL)

	go func() {
		defer cancel()
		result, err := fn(ctx, h)
		h.finish(result, err)
		// Shorten the registry entry's lifetime now that the task is
		// terminal, so its handle is eventually released per spec.md
		// §4.7's "the task must reach a terminal state before its handle
		// is released" — released here means "allowed to expire", not
		// removed the instant it finishes.
		m.tasks.Insert(id, h, finishedRetention)
		log.Debug("rpctask finished", "task_id", id, "status", h.status)
	}()

	return id
}

// Status is a non-blocking poll of a task's current state, per spec.md
// §4.7.
func (m *Manager[P, R]) Status(id uuid.UUID) (StatusReport[P, R], error) {
	h, ok := m.tasks.Get(id)
	if !ok {
		return StatusReport[P, R]{}, kdferrors.New(kdferrors.KindInternal, "task_not_found", nil)
	}
	return h.snapshot(), nil
}

// UserAction delivers hw-wallet (or other) input to a task waiting in
// UserActionRequired. Returns an error if the task isn't currently
// awaiting one.
func (m *Manager[P, R]) UserAction(id uuid.UUID, action any) error {
	h, ok := m.tasks.Get(id)
	if !ok {
		return kdferrors.New(kdferrors.KindInternal, "task_not_found", nil)
	}
	h.mu.Lock()
	waiting := h.status == StatusUserActionRequired
	h.mu.Unlock()
	if !waiting {
		return kdferrors.New(kdferrors.KindInternal, "task_not_awaiting_user_action", nil)
	}
	select {
	case h.actionCh <- action:
		return nil
	default:
		return kdferrors.New(kdferrors.KindInternal, "task_not_awaiting_user_action", nil)
	}
}

// Cancel signals a task's context cooperatively, per spec.md §4.7: "cancel
// signals cooperatively"; the task itself decides when to actually stop
// and reach a terminal state (Cancelled, or Failed/Finished if it beats
// the cancellation to completion).
func (m *Manager[P, R]) Cancel(id uuid.UUID) error {
	h, ok := m.tasks.Get(id)
	if !ok {
		return kdferrors.New(kdferrors.KindInternal, "task_not_found", nil)
	}
	h.cancel()
	return nil
}
