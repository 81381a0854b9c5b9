package hdwallet

import (
	"context"

	"github.com/meshswap/kdfnode/internal/storage"
)

// storeAdapter adapts internal/storage.Store's hd_account table (shared
// with tx-history's other tables in the same five-table schema, per
// spec.md §4.5) to this package's narrower Storage contract.
type storeAdapter struct {
	store storage.Store
}

// NewStorageAdapter lets either storage backend (sqlstore, kvstore) back
// an HDWallet directly.
func NewStorageAdapter(store storage.Store) Storage {
	return &storeAdapter{store: store}
}

func (a *storeAdapter) LoadAccount(ctx context.Context, walletID string, accountID uint32) (AccountRow, bool, error) {
	row, ok, err := a.store.LoadHDAccount(ctx, walletID, accountID)
	if err != nil || !ok {
		return AccountRow{}, ok, err
	}
	return AccountRow{
		WalletID:      row.WalletID,
		AccountID:     row.AccountID,
		ExternalCount: row.ExternalAddressesNumber,
		InternalCount: row.InternalAddressesNumber,
		AccountXPub:   row.AccountXPub,
	}, true, nil
}

func (a *storeAdapter) SaveAccount(ctx context.Context, row AccountRow) error {
	return a.store.SaveHDAccount(ctx, storage.HDAccountRow{
		WalletID:                row.WalletID,
		AccountID:               row.AccountID,
		AccountXPub:             row.AccountXPub,
		ExternalAddressesNumber: row.ExternalCount,
		InternalAddressesNumber: row.InternalCount,
	})
}

func (a *storeAdapter) ListAccounts(ctx context.Context, walletID string) ([]AccountRow, error) {
	rows, err := a.store.ListHDAccounts(ctx, walletID)
	if err != nil {
		return nil, err
	}
	out := make([]AccountRow, len(rows))
	for i, row := range rows {
		out[i] = AccountRow{
			WalletID:      row.WalletID,
			AccountID:     row.AccountID,
			ExternalCount: row.ExternalAddressesNumber,
			InternalCount: row.InternalAddressesNumber,
			AccountXPub:   row.AccountXPub,
		}
	}
	return out, nil
}

func (a *storeAdapter) DeleteAccount(ctx context.Context, walletID string, accountID uint32) error {
	return a.store.DeleteHDAccount(ctx, walletID, accountID)
}

var _ Storage = (*storeAdapter)(nil)
