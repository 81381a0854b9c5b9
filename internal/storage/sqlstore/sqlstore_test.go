package sqlstore

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/meshswap/kdfnode/internal/storage"
)

var errTest = errors.New("callback failed")

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

	err = s.SaveHDAccount(ctx, storage.HDAccountRow{
		WalletID: "wallet-1", AccountID: 0, AccountXPub: "xpub123",
		ExternalAddressesNumber: 2, InternalAddressesNumber: 1,
	})
	require.NoError(t, err)

	row, found, err := s.LoadHDAccount(ctx, "wallet-1", 0)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, uint32(2), row.ExternalAddressesNumber)

	err = s.SaveHDAccount(ctx, storage.HDAccountRow{
		WalletID: "wallet-1", AccountID: 0, AccountXPub: "xpub123",
		ExternalAddressesNumber: 3, InternalAddressesNumber: 1,
	})
	require.NoError(t, err)

	rows, err := s.ListHDAccounts(ctx, "wallet-1")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, uint32(3), rows[0].ExternalAddressesNumber)

	require.NoError(t, s.DeleteHDAccount(ctx, "wallet-1", 0))
	_, found, err = s.LoadHDAccount(ctx, "wallet-1", 0)
	require.NoError(t, err)
	require.False(t, found)
}

func TestTxHistoryIndices(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertTxHistory(ctx, storage.TxHistoryRow{
		Coin: "BTC", TxHash: "hash1", InternalID: "hash1:0",
		ConfirmationStatus: storage.StatusUnconfirmed, TokenID: "",
	}))
	require.NoError(t, s.UpsertTxHistory(ctx, storage.TxHistoryRow{
		Coin: "BTC", TxHash: "hash1", InternalID: "hash1:1",
		ConfirmationStatus: storage.StatusConfirmed, TokenID: "token-a",
	}))

	byHash, err := s.ListTxHistoryByHash(ctx, "BTC", "hash1")
	require.NoError(t, err)
	require.Len(t, byHash, 2)

	byStatus, err := s.ListTxHistoryByStatus(ctx, "BTC", storage.StatusConfirmed)
	require.NoError(t, err)
	require.Len(t, byStatus, 1)
	require.Equal(t, "hash1:1", byStatus[0].InternalID)

	byToken, err := s.ListTxHistoryByToken(ctx, "BTC", "token-a")
	require.NoError(t, err)
	require.Len(t, byToken, 1)

	require.NoError(t, s.DeleteTxHistory(ctx, "BTC", "hash1:0"))
	byHash, err = s.ListTxHistoryByHash(ctx, "BTC", "hash1")
	require.NoError(t, err)
	require.Len(t, byHash, 1)
}

func TestTxCacheRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, found, err := s.LoadTxCache(ctx, "BTC", "hash1")
	require.NoError(t, err)
	require.False(t, found)

	require.NoError(t, s.SaveTxCache(ctx, storage.TxCacheRow{Coin: "BTC", TxHash: "hash1", TxHex: "deadbeef"}))
	row, found, err := s.LoadTxCache(ctx, "BTC", "hash1")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "deadbeef", row.TxHex)
}

func TestGUIAccountAndEnabledAccount(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	err := s.SaveGUIAccount(ctx, storage.GUIAccountRow{
		AccountType: storage.GUIAccountHD, AccountIdx: 0, Name: "Main",
		ActivatedCoins: []string{"BTC", "ETH"},
	})
	require.NoError(t, err)

	row, found, err := s.LoadGUIAccount(ctx, storage.GUIAccountHD, 0, "")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, []string{"BTC", "ETH"}, row.ActivatedCoins)

	_, found, err = s.EnabledAccount(ctx)
	require.NoError(t, err)
	require.False(t, found)

	require.NoError(t, s.SetEnabledAccount(ctx, storage.GUIEnabledAccountRow{AccountType: storage.GUIAccountHD, AccountIdx: 0}))
	enabled, found, err := s.EnabledAccount(ctx)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, uint32(0), enabled.AccountIdx)

	require.NoError(t, s.SetEnabledAccount(ctx, storage.GUIEnabledAccountRow{AccountType: storage.GUIAccountHD, AccountIdx: 7}))
	enabled, _, err = s.EnabledAccount(ctx)
	require.NoError(t, err)
	require.Equal(t, uint32(7), enabled.AccountIdx)
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
		current.BlockHeight = 100
		return current, nil
	})
	require.NoError(t, err)

	rows, err := s.ListTxHistoryByStatus(ctx, "BTC", storage.StatusConfirmed)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, int64(100), rows[0].BlockHeight)
}

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
