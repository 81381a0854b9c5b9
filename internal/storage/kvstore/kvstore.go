// Package kvstore implements internal/storage.Store over a single-process
// LevelDB instance (syndtr/goleveldb), grounded on klaytn's
// storage/database/leveldb_database.go (OpenFile with RecoverFile fallback
// on corruption, and a thin key/value wrapper around *leveldb.DB) and
// generalised with composite byte-slice keys and prefix-range iteration for
// spec.md §4.5's multi-index lookups, which a pure key-value store has no
// native index support for.
package kvstore

import (
	"bytes"
	"context"
	"encoding/json"
	"sync"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/errors"
	"github.com/syndtr/goleveldb/leveldb/util"

	"github.com/meshswap/kdfnode/internal/kdferrors"
	"github.com/meshswap/kdfnode/internal/logging"
	"github.com/meshswap/kdfnode/internal/storage"
)

var log = logging.Component("kvstore")

// Key prefixes partition the single LevelDB keyspace into spec.md §4.5's
// five logical tables plus their secondary indices.
const (
	prefixHDAccount       = "h" // h/<wallet_id>/<account_id>
	prefixTxHistory       = "t" // t/<coin>/<internal_id>
	prefixTxHistoryByHash = "x" // x/<coin>/<tx_hash>/<internal_id> -> ""
	prefixTxHistoryByStat = "s" // s/<coin>/<status>/<internal_id> -> ""
	prefixTxHistoryByTok  = "k" // k/<coin>/<token_id>/<internal_id> -> ""
	prefixTxCache         = "c" // c/<coin>/<tx_hash>
	prefixGUIAccount      = "g" // g/<account_type>/<account_idx>/<device_pubkey>
	prefixEnabledAccount  = "e" // singleton
)

// Store implements storage.Store over a single LevelDB directory. All
// writes serialise through mu: goleveldb batches are atomic per-call, but
// spec.md §4.5's FindModifyPut and the secondary-index updates on
// UpsertTxHistory need read-then-write atomicity goleveldb itself doesn't
// provide, so this backend substitutes a single-writer mutex for the SQL
// backend's transactions.
type Store struct {
	mu sync.Mutex
	db *leveldb.DB
}

// Open opens (creating if absent) a LevelDB directory and runs schema
// migrations via the shared `.migration` file contract.
func Open(dbDir string) (*Store, error) {
	db, err := leveldb.OpenFile(dbDir, nil)
	if _, corrupted := err.(*errors.ErrCorrupted); corrupted {
		db, err = leveldb.RecoverFile(dbDir, nil)
	}
	if err != nil {
		return nil, kdferrors.New(kdferrors.KindStorage, "open_leveldb_failed", err)
	}
	if err := storage.RunMigrations(dbDir, []storage.Migration{
		{Version: 1, Apply: func() error { return nil }},
	}); err != nil {
		db.Close()
		return nil, err
	}
	log.Debug("kvstore opened", "path", dbDir)
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

func join(parts ...string) []byte {
	var buf bytes.Buffer
	for i, p := range parts {
		if i > 0 {
			buf.WriteByte('/')
		}
		buf.WriteString(p)
	}
	return buf.Bytes()
}

func (s *Store) getJSON(key []byte, out interface{}) (bool, error) {
	data, err := s.db.Get(key, nil)
	if err == leveldb.ErrNotFound {
		return false, nil
	}
	if err != nil {
		return false, kdferrors.New(kdferrors.KindStorage, "leveldb_get_failed", err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return false, kdferrors.New(kdferrors.KindInternal, "unmarshal_row_failed", err)
	}
	return true, nil
}

func (s *Store) putJSON(key []byte, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return kdferrors.New(kdferrors.KindInternal, "marshal_row_failed", err)
	}
	if err := s.db.Put(key, data, nil); err != nil {
		return kdferrors.New(kdferrors.KindStorage, "leveldb_put_failed", err)
	}
	return nil
}

func hdAccountKey(walletID string, accountID uint32) []byte {
	return join(prefixHDAccount, walletID, itoa(accountID))
}

func (s *Store) LoadHDAccount(ctx context.Context, walletID string, accountID uint32) (storage.HDAccountRow, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var row storage.HDAccountRow
	found, err := s.getJSON(hdAccountKey(walletID, accountID), &row)
	return row, found, err
}

func (s *Store) SaveHDAccount(ctx context.Context, row storage.HDAccountRow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.putJSON(hdAccountKey(row.WalletID, row.AccountID), row)
}

func (s *Store) ListHDAccounts(ctx context.Context, walletID string) ([]storage.HDAccountRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	prefix := join(prefixHDAccount, walletID)
	iter := s.db.NewIterator(util.BytesPrefix(append(prefix, '/')), nil)
	defer iter.Release()
	var out []storage.HDAccountRow
	for iter.Next() {
		var row storage.HDAccountRow
		if err := json.Unmarshal(iter.Value(), &row); err != nil {
			return nil, kdferrors.New(kdferrors.KindInternal, "unmarshal_row_failed", err)
		}
		out = append(out, row)
	}
	return out, iter.Error()
}

func (s *Store) DeleteHDAccount(ctx context.Context, walletID string, accountID uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.db.Delete(hdAccountKey(walletID, accountID), nil); err != nil {
		return kdferrors.New(kdferrors.KindStorage, "leveldb_delete_failed", err)
	}
	return nil
}

func txHistoryKey(coin, internalID string) []byte {
	return join(prefixTxHistory, coin, internalID)
}

func statusToken(status storage.ConfirmationStatus) string {
	return itoa(uint32(status))
}

// indexKeys returns the three secondary-index entries a tx_history row
// occupies, mirroring spec.md §4.5's (coin, tx_hash) / (coin,
// confirmation_status) / (coin, token_id) non-unique indices.
func indexKeys(row storage.TxHistoryRow) [][]byte {
	return [][]byte{
		join(prefixTxHistoryByHash, row.Coin, row.TxHash, row.InternalID),
		join(prefixTxHistoryByStat, row.Coin, statusToken(row.ConfirmationStatus), row.InternalID),
		join(prefixTxHistoryByTok, row.Coin, row.TokenID, row.InternalID),
	}
}

func (s *Store) upsertTxHistoryLocked(row storage.TxHistoryRow) error {
	key := txHistoryKey(row.Coin, row.InternalID)
	var previous storage.TxHistoryRow
	hadPrevious, err := s.getJSON(key, &previous)
	if err != nil {
		return err
	}
	if hadPrevious {
		for _, idxKey := range indexKeys(previous) {
			if err := s.db.Delete(idxKey, nil); err != nil {
				return kdferrors.New(kdferrors.KindStorage, "leveldb_delete_index_failed", err)
			}
		}
	}
	if err := s.putJSON(key, row); err != nil {
		return err
	}
	for _, idxKey := range indexKeys(row) {
		if err := s.db.Put(idxKey, nil, nil); err != nil {
			return kdferrors.New(kdferrors.KindStorage, "leveldb_put_index_failed", err)
		}
	}
	return nil
}

func (s *Store) UpsertTxHistory(ctx context.Context, row storage.TxHistoryRow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.upsertTxHistoryLocked(row)
}

func (s *Store) DeleteTxHistory(ctx context.Context, coin, internalID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := txHistoryKey(coin, internalID)
	var row storage.TxHistoryRow
	found, err := s.getJSON(key, &row)
	if err != nil {
		return err
	}
	if !found {
		return nil
	}
	if err := s.db.Delete(key, nil); err != nil {
		return kdferrors.New(kdferrors.KindStorage, "leveldb_delete_failed", err)
	}
	for _, idxKey := range indexKeys(row) {
		if err := s.db.Delete(idxKey, nil); err != nil {
			return kdferrors.New(kdferrors.KindStorage, "leveldb_delete_index_failed", err)
		}
	}
	return nil
}

func (s *Store) listByIndex(prefix []byte) ([]storage.TxHistoryRow, error) {
	iter := s.db.NewIterator(util.BytesPrefix(prefix), nil)
	defer iter.Release()
	var out []storage.TxHistoryRow
	for iter.Next() {
		parts := bytes.Split(iter.Key(), []byte{'/'})
		coin := string(parts[1])
		internalID := string(parts[len(parts)-1])
		var row storage.TxHistoryRow
		found, err := s.getJSON(txHistoryKey(coin, internalID), &row)
		if err != nil {
			return nil, err
		}
		if found {
			out = append(out, row)
		}
	}
	return out, iter.Error()
}

func (s *Store) ListTxHistoryByHash(ctx context.Context, coin, txHash string) ([]storage.TxHistoryRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listByIndex(join(prefixTxHistoryByHash, coin, txHash, ""))
}

func (s *Store) ListTxHistoryByStatus(ctx context.Context, coin string, status storage.ConfirmationStatus) ([]storage.TxHistoryRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listByIndex(join(prefixTxHistoryByStat, coin, statusToken(status), ""))
}

func (s *Store) ListTxHistoryByToken(ctx context.Context, coin, tokenID string) ([]storage.TxHistoryRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listByIndex(join(prefixTxHistoryByTok, coin, tokenID, ""))
}

func txCacheKey(coin, txHash string) []byte {
	return join(prefixTxCache, coin, txHash)
}

func (s *Store) SaveTxCache(ctx context.Context, row storage.TxCacheRow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.putJSON(txCacheKey(row.Coin, row.TxHash), row)
}

func (s *Store) LoadTxCache(ctx context.Context, coin, txHash string) (storage.TxCacheRow, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var row storage.TxCacheRow
	found, err := s.getJSON(txCacheKey(coin, txHash), &row)
	return row, found, err
}

func guiAccountKey(accountType storage.GUIAccountKind, accountIdx uint32, devicePubkey string) []byte {
	return join(prefixGUIAccount, itoa(uint32(accountType)), itoa(accountIdx), devicePubkey)
}

func (s *Store) SaveGUIAccount(ctx context.Context, row storage.GUIAccountRow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.putJSON(guiAccountKey(row.AccountType, row.AccountIdx, row.DevicePubkey), row)
}

func (s *Store) LoadGUIAccount(ctx context.Context, accountType storage.GUIAccountKind, accountIdx uint32, devicePubkey string) (storage.GUIAccountRow, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var row storage.GUIAccountRow
	found, err := s.getJSON(guiAccountKey(accountType, accountIdx, devicePubkey), &row)
	return row, found, err
}

func (s *Store) SetEnabledAccount(ctx context.Context, row storage.GUIEnabledAccountRow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.putJSON([]byte(prefixEnabledAccount), row)
}

func (s *Store) EnabledAccount(ctx context.Context) (storage.GUIEnabledAccountRow, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var row storage.GUIEnabledAccountRow
	found, err := s.getJSON([]byte(prefixEnabledAccount), &row)
	return row, found, err
}

// FindModifyPut holds mu across the read and write, giving the same
// atomicity guarantee the SQL backend gets from a transaction.
func (s *Store) FindModifyPut(ctx context.Context, coin, internalID string, fn func(current storage.TxHistoryRow, found bool) (storage.TxHistoryRow, error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := txHistoryKey(coin, internalID)
	var current storage.TxHistoryRow
	found, err := s.getJSON(key, &current)
	if err != nil {
		return err
	}
	if !found {
		current = storage.TxHistoryRow{Coin: coin, InternalID: internalID}
	}

	next, err := fn(current, found)
	if err != nil {
		return err
	}
	return s.upsertTxHistoryLocked(next)
}

func itoa(v uint32) string {
	const digits = "0123456789"
	if v == 0 {
		return "0"
	}
	var buf [10]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = digits[v%10]
		v /= 10
	}
	return string(buf[i:])
}

var _ storage.Store = (*Store)(nil)
