package kvstore

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/meshswap/kdfnode/internal/storage"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestHDAccountRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, found, err := s.LoadHDAccount(ctx, "wallet-1", 0)
	require.NoError(t, err)
	require.False(t, found)

	require.NoError(t, s.SaveHDAccount(ctx, storage.HDAccountRow{
		WalletID: "wallet-1", AccountID: 0, AccountXPub: "xpub123", ExternalAddressesNumber: 2,
	}))
	require.NoError(t, s.SaveHDAccount(ctx, storage.HDAccountRow{
		WalletID: "wallet-1", AccountID: 1, AccountXPub: "xpub456", ExternalAddressesNumber: 0,
	}))

	row, found, err := s.LoadHDAccount(ctx, "wallet-1", 0)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, uint32(2), row.ExternalAddressesNumber)

	rows, err := s.ListHDAccounts(ctx, "wallet-1")
	require.NoError(t, err)
	require.Len(t, rows, 2)

	require.NoError(t, s.DeleteHDAccount(ctx, "wallet-1", 1))
	rows, err = s.ListHDAccounts(ctx, "wallet-1")
	require.NoError(t, err)
	require.Len(t, rows, 1)
}

func TestTxHistoryIndicesAndReupsertClearsStaleIndex(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertTxHistory(ctx, storage.TxHistoryRow{
		Coin: "BTC", TxHash: "hash1", InternalID: "hash1:0",
		ConfirmationStatus: storage.StatusUnconfirmed, TokenID: "token-a",
	}))

	byStatus, err := s.ListTxHistoryByStatus(ctx, "BTC", storage.StatusUnconfirmed)
	require.NoError(t, err)
	require.Len(t, byStatus, 1)

	// Re-upsert with a new status must drop the stale status-index entry.
	require.NoError(t, s.UpsertTxHistory(ctx, storage.TxHistoryRow{
		Coin: "BTC", TxHash: "hash1", InternalID: "hash1:0",
		ConfirmationStatus: storage.StatusConfirmed, TokenID: "token-a",
	}))

	byOldStatus, err := s.ListTxHistoryByStatus(ctx, "BTC", storage.StatusUnconfirmed)
	require.NoError(t, err)
	require.Len(t, byOldStatus, 0)

	byNewStatus, err := s.ListTxHistoryByStatus(ctx, "BTC", storage.StatusConfirmed)
	require.NoError(t, err)
	require.Len(t, byNewStatus, 1)

	byHash, err := s.ListTxHistoryByHash(ctx, "BTC", "hash1")
	require.NoError(t, err)
	require.Len(t, byHash, 1)

	byToken, err := s.ListTxHistoryByToken(ctx, "BTC", "token-a")
	require.NoError(t, err)
	require.Len(t, byToken, 1)

	require.NoError(t, s.DeleteTxHistory(ctx, "BTC", "hash1:0"))
	byHash, err = s.ListTxHistoryByHash(ctx, "BTC", "hash1")
	require.NoError(t, err)
	require.Len(t, byHash, 0)
}

func TestTxCacheRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveTxCache(ctx, storage.TxCacheRow{Coin: "BTC", TxHash: "hash1", TxHex: "deadbeef"}))
	row, found, err := s.LoadTxCache(ctx, "BTC", "hash1")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "deadbeef", row.TxHex)
}

func TestGUIAccountAndEnabledAccountSingleton(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveGUIAccount(ctx, storage.GUIAccountRow{
		AccountType: storage.GUIAccountHW, AccountIdx: 0, DevicePubkey: "02abc", Name: "Trezor",
	}))
	row, found, err := s.LoadGUIAccount(ctx, storage.GUIAccountHW, 0, "02abc")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "Trezor", row.Name)

	require.NoError(t, s.SetEnabledAccount(ctx, storage.GUIEnabledAccountRow{AccountType: storage.GUIAccountHW, AccountIdx: 0}))
	enabled, found, err := s.EnabledAccount(ctx)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, storage.GUIAccountHW, enabled.AccountType)

	require.NoError(t, s.SetEnabledAccount(ctx, storage.GUIEnabledAccountRow{AccountType: storage.GUIAccountHD, AccountIdx: 3}))
	enabled, _, err = s.EnabledAccount(ctx)
	require.NoError(t, err)
	require.Equal(t, uint32(3), enabled.AccountIdx)
}

func TestFindModifyPutCreatesThenUpdatesAtomically(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	err := s.FindModifyPut(ctx, "BTC", "hash1:0", func(current storage.TxHistoryRow, found bool) (storage.TxHistoryRow, error) {
		require.False(t, found)
		current.TxHash = "hash1"
		current.ConfirmationStatus = storage.StatusUnconfirmed
		return current, nil
	})
	require.NoError(t, err)

	err = s.FindModifyPut(ctx, "BTC", "hash1:0", func(current storage.TxHistoryRow, found bool) (storage.TxHistoryRow, error) {
		require.True(t, found)
		require.Equal(t, "hash1", current.TxHash)
		current.ConfirmationStatus = storage.StatusConfirmed
		return current, nil
	})
	require.NoError(t, err)

	rows, err := s.ListTxHistoryByStatus(ctx, "BTC", storage.StatusConfirmed)
	require.NoError(t, err)
	require.Len(t, rows, 1)
}

var errTest = errors.New("callback failed")

func TestFindModifyPutPropagatesCallbackError(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	err := s.FindModifyPut(ctx, "BTC", "hash1:0", func(current storage.TxHistoryRow, found bool) (storage.TxHistoryRow, error) {
		return current, errTest
	})
	require.ErrorIs(t, err, errTest)

	err = s.FindModifyPut(ctx, "BTC", "hash1:0", func(current storage.TxHistoryRow, found bool) (storage.TxHistoryRow, error) {
		require.False(t, found, "failed callback must not have persisted a row")
		return current, nil
	})
	require.NoError(t, err)
}
