// Package sqlstore implements internal/storage.Store over SQLite via
// mattn/go-sqlite3, grounded on Klingdex's internal/storage.Storage
// (same sql.Open("sqlite3", ...) WAL-mode connection-string idiom,
// single-writer SetMaxOpenConns(1), schema-as-one-string initSchema,
// best-effort ALTER-TABLE migrations) generalised from Klingdex's
// order/trade/swap-leg schema to spec.md §4.5's five tables.
package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	_ "github.com/mattn/go-sqlite3"

	"github.com/meshswap/kdfnode/internal/kdferrors"
	"github.com/meshswap/kdfnode/internal/logging"
	"github.com/meshswap/kdfnode/internal/storage"
)

var log = logging.Component("sqlstore")

const schemaVersion = 1

const schema = `
CREATE TABLE IF NOT EXISTS hd_account (
	wallet_id TEXT NOT NULL,
	account_id INTEGER NOT NULL,
	account_xpub TEXT NOT NULL,
	external_addresses_number INTEGER NOT NULL DEFAULT 0,
	internal_addresses_number INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (wallet_id, account_id)
);

CREATE TABLE IF NOT EXISTS tx_history (
	coin TEXT NOT NULL,
	tx_hash TEXT NOT NULL,
	internal_id TEXT NOT NULL,
	block_height INTEGER NOT NULL DEFAULT 0,
	confirmation_status INTEGER NOT NULL DEFAULT 0,
	token_id TEXT NOT NULL DEFAULT '',
	details_json TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (coin, internal_id)
);
CREATE INDEX IF NOT EXISTS idx_tx_history_hash ON tx_history(coin, tx_hash);
CREATE INDEX IF NOT EXISTS idx_tx_history_status ON tx_history(coin, confirmation_status);
CREATE INDEX IF NOT EXISTS idx_tx_history_token ON tx_history(coin, token_id);

CREATE TABLE IF NOT EXISTS tx_cache (
	coin TEXT NOT NULL,
	tx_hash TEXT NOT NULL,
	tx_hex TEXT NOT NULL,
	PRIMARY KEY (coin, tx_hash)
);

CREATE TABLE IF NOT EXISTS gui_account (
	account_type INTEGER NOT NULL,
	account_idx INTEGER NOT NULL DEFAULT 0,
	device_pubkey TEXT NOT NULL DEFAULT '',
	name TEXT NOT NULL DEFAULT '',
	description TEXT NOT NULL DEFAULT '',
	balance_usd TEXT NOT NULL DEFAULT '0',
	activated_coins TEXT NOT NULL DEFAULT '[]',
	PRIMARY KEY (account_type, account_idx, device_pubkey)
);

CREATE TABLE IF NOT EXISTS gui_enabled_account (
	id INTEGER PRIMARY KEY CHECK (id = 0),
	account_type INTEGER NOT NULL,
	account_idx INTEGER NOT NULL
);
`

// Store implements storage.Store over a single SQLite file.
type Store struct {
	db *sql.DB
	// findModifyPutMu serialises FindModifyPut's read-then-write pair on
	// top of SQLite's single-writer connection; database/sql's own
	// connection pool doesn't otherwise guarantee one caller's read sees
	// its own write uncontested.
	findModifyPutMu sync.Mutex
}

// Open opens (creating if absent) a SQLite database under dbDir and
// runs schema migrations, per spec.md §4.5's `.migration` contract.
func Open(dbDir string) (*Store, error) {
	if err := os.MkdirAll(dbDir, 0o700); err != nil {
		return nil, kdferrors.New(kdferrors.KindStorage, "create_db_dir_failed", err)
	}
	dbPath := filepath.Join(dbDir, "kdfnode.db")
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, kdferrors.New(kdferrors.KindStorage, "open_db_failed", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, kdferrors.New(kdferrors.KindStorage, "ping_db_failed", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &Store{db: db}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, kdferrors.New(kdferrors.KindStorage, "init_schema_failed", err)
	}
	if err := storage.RunMigrations(dbDir, []storage.Migration{
		{Version: schemaVersion, Apply: func() error { return nil }},
	}); err != nil {
		db.Close()
		return nil, err
	}
	log.Debug("sqlstore opened", "path", dbPath)
	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) LoadHDAccount(ctx context.Context, walletID string, accountID uint32) (storage.HDAccountRow, bool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT wallet_id, account_id, account_xpub, external_addresses_number, internal_addresses_number
		FROM hd_account WHERE wallet_id = ? AND account_id = ?`, walletID, accountID)
	var r storage.HDAccountRow
	if err := row.Scan(&r.WalletID, &r.AccountID, &r.AccountXPub, &r.ExternalAddressesNumber, &r.InternalAddressesNumber); err != nil {
		if err == sql.ErrNoRows {
			return storage.HDAccountRow{}, false, nil
		}
		return storage.HDAccountRow{}, false, kdferrors.New(kdferrors.KindStorage, "load_hd_account_failed", err)
	}
	return r, true, nil
}

func (s *Store) SaveHDAccount(ctx context.Context, row storage.HDAccountRow) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO hd_account (wallet_id, account_id, account_xpub, external_addresses_number, internal_addresses_number)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(wallet_id, account_id) DO UPDATE SET
			account_xpub = excluded.account_xpub,
			external_addresses_number = excluded.external_addresses_number,
			internal_addresses_number = excluded.internal_addresses_number`,
		row.WalletID, row.AccountID, row.AccountXPub, row.ExternalAddressesNumber, row.InternalAddressesNumber)
	if err != nil {
		return kdferrors.New(kdferrors.KindStorage, "save_hd_account_failed", err)
	}
	return nil
}

func (s *Store) ListHDAccounts(ctx context.Context, walletID string) ([]storage.HDAccountRow, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT wallet_id, account_id, account_xpub, external_addresses_number, internal_addresses_number
		FROM hd_account WHERE wallet_id = ?`, walletID)
	if err != nil {
		return nil, kdferrors.New(kdferrors.KindStorage, "list_hd_accounts_failed", err)
	}
	defer rows.Close()
	var out []storage.HDAccountRow
	for rows.Next() {
		var r storage.HDAccountRow
		if err := rows.Scan(&r.WalletID, &r.AccountID, &r.AccountXPub, &r.ExternalAddressesNumber, &r.InternalAddressesNumber); err != nil {
			return nil, kdferrors.New(kdferrors.KindStorage, "scan_hd_account_failed", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) DeleteHDAccount(ctx context.Context, walletID string, accountID uint32) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM hd_account WHERE wallet_id = ? AND account_id = ?`, walletID, accountID)
	if err != nil {
		return kdferrors.New(kdferrors.KindStorage, "delete_hd_account_failed", err)
	}
	return nil
}

func (s *Store) UpsertTxHistory(ctx context.Context, row storage.TxHistoryRow) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO tx_history (coin, tx_hash, internal_id, block_height, confirmation_status, token_id, details_json)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(coin, internal_id) DO UPDATE SET
			tx_hash = excluded.tx_hash,
			block_height = excluded.block_height,
			confirmation_status = excluded.confirmation_status,
			token_id = excluded.token_id,
			details_json = excluded.details_json`,
		row.Coin, row.TxHash, row.InternalID, row.BlockHeight, row.ConfirmationStatus, row.TokenID, row.DetailsJSON)
	if err != nil {
		return kdferrors.New(kdferrors.KindStorage, "upsert_tx_history_failed", err)
	}
	return nil
}

func (s *Store) DeleteTxHistory(ctx context.Context, coin, internalID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM tx_history WHERE coin = ? AND internal_id = ?`, coin, internalID)
	if err != nil {
		return kdferrors.New(kdferrors.KindStorage, "delete_tx_history_failed", err)
	}
	return nil
}

func (s *Store) scanTxHistory(rows *sql.Rows) ([]storage.TxHistoryRow, error) {
	defer rows.Close()
	var out []storage.TxHistoryRow
	for rows.Next() {
		var r storage.TxHistoryRow
		if err := rows.Scan(&r.Coin, &r.TxHash, &r.InternalID, &r.BlockHeight, &r.ConfirmationStatus, &r.TokenID, &r.DetailsJSON); err != nil {
			return nil, kdferrors.New(kdferrors.KindStorage, "scan_tx_history_failed", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) ListTxHistoryByHash(ctx context.Context, coin, txHash string) ([]storage.TxHistoryRow, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT coin, tx_hash, internal_id, block_height, confirmation_status, token_id, details_json
		FROM tx_history WHERE coin = ? AND tx_hash = ?`, coin, txHash)
	if err != nil {
		return nil, kdferrors.New(kdferrors.KindStorage, "list_tx_history_failed", err)
	}
	return s.scanTxHistory(rows)
}

func (s *Store) ListTxHistoryByStatus(ctx context.Context, coin string, status storage.ConfirmationStatus) ([]storage.TxHistoryRow, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT coin, tx_hash, internal_id, block_height, confirmation_status, token_id, details_json
		FROM tx_history WHERE coin = ? AND confirmation_status = ?`, coin, status)
	if err != nil {
		return nil, kdferrors.New(kdferrors.KindStorage, "list_tx_history_failed", err)
	}
	return s.scanTxHistory(rows)
}

func (s *Store) ListTxHistoryByToken(ctx context.Context, coin, tokenID string) ([]storage.TxHistoryRow, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT coin, tx_hash, internal_id, block_height, confirmation_status, token_id, details_json
		FROM tx_history WHERE coin = ? AND token_id = ?`, coin, tokenID)
	if err != nil {
		return nil, kdferrors.New(kdferrors.KindStorage, "list_tx_history_failed", err)
	}
	return s.scanTxHistory(rows)
}

func (s *Store) SaveTxCache(ctx context.Context, row storage.TxCacheRow) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO tx_cache (coin, tx_hash, tx_hex) VALUES (?, ?, ?)
		ON CONFLICT(coin, tx_hash) DO UPDATE SET tx_hex = excluded.tx_hex`, row.Coin, row.TxHash, row.TxHex)
	if err != nil {
		return kdferrors.New(kdferrors.KindStorage, "save_tx_cache_failed", err)
	}
	return nil
}

func (s *Store) LoadTxCache(ctx context.Context, coin, txHash string) (storage.TxCacheRow, bool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT coin, tx_hash, tx_hex FROM tx_cache WHERE coin = ? AND tx_hash = ?`, coin, txHash)
	var r storage.TxCacheRow
	if err := row.Scan(&r.Coin, &r.TxHash, &r.TxHex); err != nil {
		if err == sql.ErrNoRows {
			return storage.TxCacheRow{}, false, nil
		}
		return storage.TxCacheRow{}, false, kdferrors.New(kdferrors.KindStorage, "load_tx_cache_failed", err)
	}
	return r, true, nil
}

func (s *Store) SaveGUIAccount(ctx context.Context, row storage.GUIAccountRow) error {
	coinsJSON, err := json.Marshal(row.ActivatedCoins)
	if err != nil {
		return kdferrors.New(kdferrors.KindInternal, "marshal_activated_coins_failed", err)
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO gui_account (account_type, account_idx, device_pubkey, name, description, balance_usd, activated_coins)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(account_type, account_idx, device_pubkey) DO UPDATE SET
			name = excluded.name, description = excluded.description,
			balance_usd = excluded.balance_usd, activated_coins = excluded.activated_coins`,
		row.AccountType, row.AccountIdx, row.DevicePubkey, row.Name, row.Description, row.BalanceUSD, string(coinsJSON))
	if err != nil {
		return kdferrors.New(kdferrors.KindStorage, "save_gui_account_failed", err)
	}
	return nil
}

func (s *Store) LoadGUIAccount(ctx context.Context, accountType storage.GUIAccountKind, accountIdx uint32, devicePubkey string) (storage.GUIAccountRow, bool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT account_type, account_idx, device_pubkey, name, description, balance_usd, activated_coins
		FROM gui_account WHERE account_type = ? AND account_idx = ? AND device_pubkey = ?`, accountType, accountIdx, devicePubkey)
	var r storage.GUIAccountRow
	var coinsJSON string
	if err := row.Scan(&r.AccountType, &r.AccountIdx, &r.DevicePubkey, &r.Name, &r.Description, &r.BalanceUSD, &coinsJSON); err != nil {
		if err == sql.ErrNoRows {
			return storage.GUIAccountRow{}, false, nil
		}
		return storage.GUIAccountRow{}, false, kdferrors.New(kdferrors.KindStorage, "load_gui_account_failed", err)
	}
	if err := json.Unmarshal([]byte(coinsJSON), &r.ActivatedCoins); err != nil {
		return storage.GUIAccountRow{}, false, kdferrors.New(kdferrors.KindInternal, "unmarshal_activated_coins_failed", err)
	}
	return r, true, nil
}

func (s *Store) SetEnabledAccount(ctx context.Context, row storage.GUIEnabledAccountRow) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO gui_enabled_account (id, account_type, account_idx) VALUES (0, ?, ?)
		ON CONFLICT(id) DO UPDATE SET account_type = excluded.account_type, account_idx = excluded.account_idx`,
		row.AccountType, row.AccountIdx)
	if err != nil {
		return kdferrors.New(kdferrors.KindStorage, "set_enabled_account_failed", err)
	}
	return nil
}

func (s *Store) EnabledAccount(ctx context.Context) (storage.GUIEnabledAccountRow, bool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT account_type, account_idx FROM gui_enabled_account WHERE id = 0`)
	var r storage.GUIEnabledAccountRow
	if err := row.Scan(&r.AccountType, &r.AccountIdx); err != nil {
		if err == sql.ErrNoRows {
			return storage.GUIEnabledAccountRow{}, false, nil
		}
		return storage.GUIEnabledAccountRow{}, false, kdferrors.New(kdferrors.KindStorage, "load_enabled_account_failed", err)
	}
	return r, true, nil
}

// FindModifyPut wraps fn in a SQL transaction: the SELECT and the
// following upsert commit or roll back together, giving
// the atomicity spec.md §4.5 requires.
func (s *Store) FindModifyPut(ctx context.Context, coin, internalID string, fn func(current storage.TxHistoryRow, found bool) (storage.TxHistoryRow, error)) error {
	s.findModifyPutMu.Lock()
	defer s.findModifyPutMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return kdferrors.New(kdferrors.KindStorage, "begin_tx_failed", err)
	}
	defer tx.Rollback()

	var current storage.TxHistoryRow
	found := true
	row := tx.QueryRowContext(ctx, `SELECT coin, tx_hash, internal_id, block_height, confirmation_status, token_id, details_json
		FROM tx_history WHERE coin = ? AND internal_id = ?`, coin, internalID)
	if err := row.Scan(&current.Coin, &current.TxHash, &current.InternalID, &current.BlockHeight, &current.ConfirmationStatus, &current.TokenID, &current.DetailsJSON); err != nil {
		if err != sql.ErrNoRows {
			return kdferrors.New(kdferrors.KindStorage, "find_modify_put_read_failed", err)
		}
		found = false
		current = storage.TxHistoryRow{Coin: coin, InternalID: internalID}
	}

	next, err := fn(current, found)
	if err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `INSERT INTO tx_history (coin, tx_hash, internal_id, block_height, confirmation_status, token_id, details_json)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(coin, internal_id) DO UPDATE SET
			tx_hash = excluded.tx_hash, block_height = excluded.block_height,
			confirmation_status = excluded.confirmation_status, token_id = excluded.token_id,
			details_json = excluded.details_json`,
		next.Coin, next.TxHash, next.InternalID, next.BlockHeight, next.ConfirmationStatus, next.TokenID, next.DetailsJSON); err != nil {
		return kdferrors.New(kdferrors.KindStorage, "find_modify_put_write_failed", err)
	}

	if err := tx.Commit(); err != nil {
		return kdferrors.New(kdferrors.KindStorage, "find_modify_put_commit_failed", err)
	}
	return nil
}

var _ storage.Store = (*Store)(nil)
