package txhistory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/meshswap/kdfnode/internal/storage"
)

type memStore struct {
	mu   sync.Mutex
	rows map[string]storage.TxHistoryRow
}

func newMemStore() *memStore { return &memStore{rows: make(map[string]storage.TxHistoryRow)} }

func (s *memStore) key(coin, internalID string) string { return coin + "/" + internalID }

func (s *memStore) LoadHDAccount(ctx context.Context, walletID string, accountID uint32) (storage.HDAccountRow, bool, error) {
	return storage.HDAccountRow{}, false, nil
}
func (s *memStore) SaveHDAccount(ctx context.Context, row storage.HDAccountRow) error { return nil }
func (s *memStore) ListHDAccounts(ctx context.Context, walletID string) ([]storage.HDAccountRow, error) {
	return nil, nil
}
func (s *memStore) DeleteHDAccount(ctx context.Context, walletID string, accountID uint32) error {
	return nil
}

func (s *memStore) UpsertTxHistory(ctx context.Context, row storage.TxHistoryRow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows[s.key(row.Coin, row.InternalID)] = row
	return nil
}

func (s *memStore) DeleteTxHistory(ctx context.Context, coin, internalID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rows, s.key(coin, internalID))
	return nil
}

func (s *memStore) ListTxHistoryByHash(ctx context.Context, coin, txHash string) ([]storage.TxHistoryRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []storage.TxHistoryRow
	for _, row := range s.rows {
		if row.Coin == coin && row.TxHash == txHash {
			out = append(out, row)
		}
	}
	return out, nil
}

func (s *memStore) ListTxHistoryByStatus(ctx context.Context, coin string, status storage.ConfirmationStatus) ([]storage.TxHistoryRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []storage.TxHistoryRow
	for _, row := range s.rows {
		if row.Coin == coin && row.ConfirmationStatus == status {
			out = append(out, row)
		}
	}
	return out, nil
}

func (s *memStore) ListTxHistoryByToken(ctx context.Context, coin, tokenID string) ([]storage.TxHistoryRow, error) {
	return nil, nil
}

func (s *memStore) SaveTxCache(ctx context.Context, row storage.TxCacheRow) error { return nil }
func (s *memStore) LoadTxCache(ctx context.Context, coin, txHash string) (storage.TxCacheRow, bool, error) {
	return storage.TxCacheRow{}, false, nil
}
func (s *memStore) SaveGUIAccount(ctx context.Context, row storage.GUIAccountRow) error { return nil }
func (s *memStore) LoadGUIAccount(ctx context.Context, accountType storage.GUIAccountKind, accountIdx uint32, devicePubkey string) (storage.GUIAccountRow, bool, error) {
	return storage.GUIAccountRow{}, false, nil
}
func (s *memStore) SetEnabledAccount(ctx context.Context, row storage.GUIEnabledAccountRow) error {
	return nil
}
func (s *memStore) EnabledAccount(ctx context.Context) (storage.GUIEnabledAccountRow, bool, error) {
	return storage.GUIEnabledAccountRow{}, false, nil
}

func (s *memStore) FindModifyPut(ctx context.Context, coin, internalID string, fn func(current storage.TxHistoryRow, found bool) (storage.TxHistoryRow, error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, found := s.rows[s.key(coin, internalID)]
	next, err := fn(current, found)
	if err != nil {
		return err
	}
	s.rows[s.key(coin, internalID)] = next
	return nil
}

func (s *memStore) Close() error { return nil }

var _ storage.Store = (*memStore)(nil)

type stubRPC struct {
	mu          sync.Mutex
	owned       []TxHashHeight
	mempool     map[string]int64 // txHash -> height; absent means not found
	details     map[string]RawTxDetails
	balances    map[string]string
	blockStamps map[int64]time.Time
}

func (r *stubRPC) OwnedTxHashes(ctx context.Context, addresses []string) ([]TxHashHeight, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]TxHashHeight(nil), r.owned...), nil
}

func (r *stubRPC) MempoolHeight(ctx context.Context, txHash string) (int64, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.mempool[txHash]
	return h, ok, nil
}

func (r *stubRPC) BlockTimestamp(ctx context.Context, height int64) (time.Time, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.blockStamps[height], nil
}

func (r *stubRPC) TransactionDetails(ctx context.Context, txHash string) (RawTxDetails, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.details[txHash], nil
}

func (r *stubRPC) AddressBalance(ctx context.Context, address string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.balances[address], nil
}

func newTestEngine(rpc *stubRPC) (*Engine, *memStore) {
	store := newMemStore()
	e := NewEngine("BTC", []string{"addr1"}, store, rpc)
	e.PollInterval = 10 * time.Millisecond
	e.CooldownInterval = 10 * time.Millisecond
	e.TxPacing = time.Millisecond
	return e, store
}

func TestEngineInsertsNewConfirmedTxAndFetchesDetails(t *testing.T) {
	rpc := &stubRPC{
		owned: []TxHashHeight{{TxHash: "hash1", Height: 100}},
		details: map[string]RawTxDetails{
			"hash1": {TxHash: "hash1", Height: 100, DetailsJSON: `{"amount":"1.5"}`},
		},
		blockStamps: map[int64]time.Time{100: time.Unix(1700000000, 0)},
	}
	e, store := newTestEngine(rpc)
	ctx, cancel := context.WithCancel(context.Background())

	go func() {
		for {
			if e.Status().State == StateWaitForHistoryUpdateTrigger {
				cancel()
				return
			}
			time.Sleep(time.Millisecond)
		}
	}()
	_ = e.Run(ctx)

	rows, err := store.ListTxHistoryByHash(context.Background(), "BTC", "hash1")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, storage.StatusConfirmed, rows[0].ConfirmationStatus)
	require.Contains(t, rows[0].DetailsJSON, "block_timestamp")
}

func TestEngineDeletesVanishedUnconfirmedTx(t *testing.T) {
	rpc := &stubRPC{
		owned:   []TxHashHeight{{TxHash: "hash1", Height: 0}},
		mempool: map[string]int64{}, // hash1 absent -> found=false
	}
	e, store := newTestEngine(rpc)
	ctx := context.Background()

	require.NoError(t, e.stepFetchingTxHashes(ctx))
	rows, err := store.ListTxHistoryByHash(ctx, "BTC", "hash1")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, storage.StatusUnconfirmed, rows[0].ConfirmationStatus)

	require.NoError(t, e.stepUpdatingUnconfirmedTxes(ctx))
	rows, err = store.ListTxHistoryByHash(ctx, "BTC", "hash1")
	require.NoError(t, err)
	require.Len(t, rows, 0)
}

func TestEngineFailsFatallyOnHistoryTooLarge(t *testing.T) {
	owned := make([]TxHashHeight, maxHistorySize+1)
	for i := range owned {
		owned[i] = TxHashHeight{TxHash: "hash", Height: 1}
	}
	rpc := &stubRPC{owned: owned}
	e, _ := newTestEngine(rpc)

	err := e.Run(context.Background())
	require.ErrorIs(t, err, ErrHistoryTooLarge)
	require.Equal(t, StateStopped, e.Status().State)
	require.Equal(t, "HistoryTooLarge", e.Status().FailReason)
}

func TestEngineStopsCleanlyOnContextCancellation(t *testing.T) {
	rpc := &stubRPC{}
	e, _ := newTestEngine(rpc)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()

	err := e.Run(ctx)
	require.NoError(t, err)
	require.Equal(t, StateStopped, e.Status().State)
}
