// Package storage defines the persistent-storage schema and backend
// contract from spec.md §4.5: one logical schema (hd_account,
// tx_history, tx_cache, gui_account, gui_enabled_account) that two
// backends — SQL (internal/storage/sqlstore) and a single-process
// key-value store (internal/storage/kvstore) — must implement
// identically, plus the integer `.migration` file at the DB root that
// versions schema upgrades.
package storage

import "context"

// ConfirmationStatus is tx_history's confirmation_status column.
type ConfirmationStatus int

const (
	StatusUnconfirmed ConfirmationStatus = iota
	StatusConfirmed
)

// HDAccountRow is spec.md §4.5 table 1: unique (wallet_id, account_id).
type HDAccountRow struct {
	WalletID               string
	AccountID               uint32
	AccountXPub             string
	ExternalAddressesNumber uint32
	InternalAddressesNumber uint32
}

// TxHistoryRow is spec.md §4.5 table 2: unique (coin, internal_id);
// non-unique indices on (coin, tx_hash), (coin, confirmation_status),
// (coin, token_id).
type TxHistoryRow struct {
	Coin               string
	TxHash             string
	InternalID         string
	BlockHeight         int64
	ConfirmationStatus ConfirmationStatus
	TokenID            string
	DetailsJSON        string
}

// TxCacheRow is spec.md §4.5 table 3: unique (coin, tx_hash).
type TxCacheRow struct {
	Coin   string
	TxHash string
	TxHex  string
}

// GUIAccountKind distinguishes the three gui_account uniqueness regimes
// spec.md §4.5 names: HD accounts key on (account_type, account_idx),
// Iguana is a singleton, HW accounts key on (account_type, device_pubkey).
type GUIAccountKind int

const (
	GUIAccountHD GUIAccountKind = iota
	GUIAccountIguana
	GUIAccountHW
)

// GUIAccountRow is spec.md §4.5 table 4.
type GUIAccountRow struct {
	AccountType     GUIAccountKind
	AccountIdx      uint32
	DevicePubkey    string
	Name            string
	Description     string
	BalanceUSD      string
	ActivatedCoins  []string
}

// GUIEnabledAccountRow is spec.md §4.5 table 5: at most one row exists.
type GUIEnabledAccountRow struct {
	AccountType GUIAccountKind
	AccountIdx  uint32
}

// Store is the full contract both backends satisfy identically. It
// subsumes internal/hdwallet.Storage's narrower (wallet_id, account_id)
// contract plus the remaining four tables, so either backend can back
// an HDWallet directly.
type Store interface {
	// HD-account table (table 1).
	LoadHDAccount(ctx context.Context, walletID string, accountID uint32) (HDAccountRow, bool, error)
	SaveHDAccount(ctx context.Context, row HDAccountRow) error
	ListHDAccounts(ctx context.Context, walletID string) ([]HDAccountRow, error)
	DeleteHDAccount(ctx context.Context, walletID string, accountID uint32) error

	// Tx-history table (table 2).
	UpsertTxHistory(ctx context.Context, row TxHistoryRow) error
	DeleteTxHistory(ctx context.Context, coin, internalID string) error
	ListTxHistoryByHash(ctx context.Context, coin, txHash string) ([]TxHistoryRow, error)
	ListTxHistoryByStatus(ctx context.Context, coin string, status ConfirmationStatus) ([]TxHistoryRow, error)
	ListTxHistoryByToken(ctx context.Context, coin, tokenID string) ([]TxHistoryRow, error)

	// Tx-cache table (table 3).
	SaveTxCache(ctx context.Context, row TxCacheRow) error
	LoadTxCache(ctx context.Context, coin, txHash string) (TxCacheRow, bool, error)

	// GUI account tables (tables 4-5).
	SaveGUIAccount(ctx context.Context, row GUIAccountRow) error
	LoadGUIAccount(ctx context.Context, accountType GUIAccountKind, accountIdx uint32, devicePubkey string) (GUIAccountRow, bool, error)
	SetEnabledAccount(ctx context.Context, row GUIEnabledAccountRow) error
	EnabledAccount(ctx context.Context) (GUIEnabledAccountRow, bool, error)

	// FindModifyPut runs fn against the row currently stored at
	// (coin, internalID) — which may be the zero value if absent — and
	// persists whatever fn returns, atomically with respect to any other
	// FindModifyPut or UpsertTxHistory call on the same key. Grounds
	// spec.md §4.5's "atomic find-modify-put" requirement: SQL backs it
	// with a transaction, the key-value backend with its single-writer
	// mutex.
	FindModifyPut(ctx context.Context, coin, internalID string, fn func(current TxHistoryRow, found bool) (TxHistoryRow, error)) error

	Close() error
}
