// Package txhistory implements the per-coin transaction-history state
// machine from spec.md §4.4: Init, FetchingTxHashes,
// UpdatingUnconfirmedTxes, FetchingTransactionsData,
// WaitForHistoryUpdateTrigger, plus the OnIoErrorCooldown and Stopped
// terminal/retry states. Grounded on
// original_source/mm2src/coins/my_tx_history_v2.rs's TxHistoryStorage
// trait (add/remove/update/get_unconfirmed split mirrored here by
// internal/storage.Store's tx_history table) and
// original_source/mm2src/coins/utxo/utxo_tx_history_v2.rs's
// fetch-compare-patch loop shape, re-expressed as a Go state machine
// driven by a plain for loop rather than a hand-rolled async poll.
package txhistory

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/meshswap/kdfnode/internal/kdferrors"
	"github.com/meshswap/kdfnode/internal/logging"
	"github.com/meshswap/kdfnode/internal/storage"
)

var log = logging.Component("txhistory")

// State is one node of spec.md §4.4's state machine.
type State int

const (
	StateInit State = iota
	StateFetchingTxHashes
	StateUpdatingUnconfirmedTxes
	StateFetchingTransactionsData
	StateWaitForHistoryUpdateTrigger
	StateOnIoErrorCooldown
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "Init"
	case StateFetchingTxHashes:
		return "FetchingTxHashes"
	case StateUpdatingUnconfirmedTxes:
		return "UpdatingUnconfirmedTxes"
	case StateFetchingTransactionsData:
		return "FetchingTransactionsData"
	case StateWaitForHistoryUpdateTrigger:
		return "WaitForHistoryUpdateTrigger"
	case StateOnIoErrorCooldown:
		return "OnIoErrorCooldown"
	case StateStopped:
		return "Stopped"
	default:
		return "Unknown"
	}
}

// TxHashHeight is one entry of the coin RPC's owned-address scan result.
type TxHashHeight struct {
	TxHash string
	Height int64 // 0 means still in the mempool.
}

// RawTxDetails is the full per-transaction payload FetchingTransactionsData
// fetches and folds into a storage.TxHistoryRow's DetailsJSON.
type RawTxDetails struct {
	TxHash      string
	Height      int64
	TokenID     string
	DetailsJSON string
}

// RPC is the narrow per-coin history surface the engine depends on,
// mirroring the narrow-interface-per-concern pattern used throughout
// internal/coins (EthClient, WalletClient, InvoiceClient): only the
// calls FetchingTxHashes/UpdatingUnconfirmedTxes/
// FetchingTransactionsData/WaitForHistoryUpdateTrigger actually need,
// not a full generated RPC client.
type RPC interface {
	// OwnedTxHashes returns (tx_hash, height) pairs across all owned
	// addresses; height 0 means still unconfirmed/mempool-only.
	OwnedTxHashes(ctx context.Context, addresses []string) ([]TxHashHeight, error)
	// MempoolHeight re-checks a single previously-unconfirmed tx hash.
	// found=false means the node no longer knows about it at all
	// (mempool eviction or reorg-drop).
	MempoolHeight(ctx context.Context, txHash string) (height int64, found bool, err error)
	BlockTimestamp(ctx context.Context, height int64) (time.Time, error)
	TransactionDetails(ctx context.Context, txHash string) (RawTxDetails, error)
	AddressBalance(ctx context.Context, address string) (string, error)
}

// Sentinel error for one of spec.md §4.4's two fatal, loop-terminating
// cases; the other, StorageError, is built inline where it occurs.
var (
	ErrHistoryTooLarge = kdferrors.New(kdferrors.KindLimitExhausted, "HistoryTooLarge", nil)
)

// SyncStatus is the externally-observable state the engine publishes,
// consulted by discovery/UI queries per spec.md §4.4's data-flow note.
type SyncStatus struct {
	State       State
	FailReason  string
	LastUpdated time.Time
}

// Engine runs one tx-history state machine for a single activated coin.
// spec.md §4.4: "One per activated coin" — callers construct one Engine
// per coin and run it as its own task.
type Engine struct {
	Coin      string
	Addresses []string
	Store     storage.Store
	RPC       RPC

	// PollInterval is WaitForHistoryUpdateTrigger's 30s re-poll cadence;
	// CooldownInterval is OnIoErrorCooldown's 30s sleep; TxPacing is the
	// 1s inter-request sleep FetchingTransactionsData applies to cap RPC
	// load. All three default to spec.md §4.4's literal values and are
	// only overridden in tests.
	PollInterval     time.Duration
	CooldownInterval time.Duration
	TxPacing         time.Duration

	statusMu          sync.Mutex
	status            SyncStatus
	lastKnownBalances map[string]string
	pendingDetails    []string
}

// NewEngine builds an Engine with spec.md §4.4's literal timing defaults.
func NewEngine(coin string, addresses []string, store storage.Store, rpc RPC) *Engine {
	return &Engine{
		Coin:              coin,
		Addresses:         addresses,
		Store:             store,
		RPC:               rpc,
		PollInterval:      30 * time.Second,
		CooldownInterval:  30 * time.Second,
		TxPacing:          1 * time.Second,
		status:            SyncStatus{State: StateInit},
		lastKnownBalances: make(map[string]string),
	}
}

// Status returns the engine's current externally-observable sync state.
// Safe to call concurrently with Run, per spec.md §4.4's "discovery and
// UI queries" consulting it while the engine task keeps running.
func (e *Engine) Status() SyncStatus {
	e.statusMu.Lock()
	defer e.statusMu.Unlock()
	return e.status
}

func (e *Engine) currentState() State {
	e.statusMu.Lock()
	defer e.statusMu.Unlock()
	return e.status.State
}

func (e *Engine) setState(s State) {
	e.statusMu.Lock()
	defer e.statusMu.Unlock()
	e.status.State = s
	e.status.LastUpdated = timeNow()
}

func (e *Engine) fail(code string, err error) {
	e.statusMu.Lock()
	e.status.State = StateStopped
	e.status.FailReason = code
	e.status.LastUpdated = timeNow()
	e.statusMu.Unlock()
	log.Error("tx-history engine stopped", "coin", e.Coin, "reason", code, "err", err)
}

// timeNow is indirected so tests can observe LastUpdated deterministically
// without depending on wall-clock time.
var timeNow = time.Now

// Run drives the state machine until ctx is cancelled or a fatal error
// (HistoryTooLarge, StorageError) is reached. It returns nil on ordinary
// cancellation and the fatal error otherwise.
func (e *Engine) Run(ctx context.Context) error {
	e.setState(StateFetchingTxHashes)
	for {
		select {
		case <-ctx.Done():
			e.setState(StateStopped)
			return nil
		default:
		}

		var err error
		switch e.currentState() {
		case StateFetchingTxHashes:
			err = e.stepFetchingTxHashes(ctx)
		case StateUpdatingUnconfirmedTxes:
			err = e.stepUpdatingUnconfirmedTxes(ctx)
		case StateFetchingTransactionsData:
			err = e.stepFetchingTransactionsData(ctx)
		case StateWaitForHistoryUpdateTrigger:
			err = e.stepWaitForTrigger(ctx)
		case StateOnIoErrorCooldown:
			if sleepCtx(ctx, e.CooldownInterval) {
				e.setState(StateStopped)
				return nil
			}
			e.setState(StateFetchingTxHashes)
			continue
		case StateStopped:
			return nil
		default:
			e.setState(StateFetchingTxHashes)
			continue
		}

		if err != nil {
			if kdferrors.Of(err, kdferrors.KindLimitExhausted) || kdferrors.Of(err, kdferrors.KindStorage) {
				e.fail(errCode(err), err)
				return err
			}
			log.Warn("tx-history engine transient error, cooling down", "coin", e.Coin, "err", err)
			e.setState(StateOnIoErrorCooldown)
			continue
		}
	}
}

func errCode(err error) string {
	var kerr *kdferrors.Error
	if errors.As(err, &kerr) {
		return kerr.Code
	}
	return "unknown"
}

// sleepCtx sleeps for d or until ctx is cancelled, returning true if
// cancellation won the race.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return true
	case <-timer.C:
		return false
	}
}
