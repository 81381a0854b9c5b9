package hdwallet

import "context"

// AccountRow is the persisted row an HDWalletStorage keeps per
// (wallet_id, account_id), per spec.md §4.3's storage contract.
type AccountRow struct {
	WalletID      string
	AccountID     uint32
	ExternalCount uint32
	InternalCount uint32
	AccountXPub   string
}

// Storage persists HDAccount counters and account-xpub across restarts.
// Two implementations (SQL-backed, key-value-store-backed) must behave
// identically against this contract, per spec.md §4.3; both live under
// internal/storage.
type Storage interface {
	LoadAccount(ctx context.Context, walletID string, accountID uint32) (AccountRow, bool, error)
	SaveAccount(ctx context.Context, row AccountRow) error
	ListAccounts(ctx context.Context, walletID string) ([]AccountRow, error)
	DeleteAccount(ctx context.Context, walletID string, accountID uint32) error
}
