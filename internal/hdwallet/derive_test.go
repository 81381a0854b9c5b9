package hdwallet

import (
	"context"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/stretchr/testify/require"
)

// btcAddressEncoder mirrors utxocoin.Coin.AddressOf closely enough for
// this package's tests without importing internal/coins/utxocoin,
// keeping internal/hdwallet's test dependency graph one-directional.
type btcAddressEncoder struct{ params *chaincfg.Params }

func (e btcAddressEncoder) AddressOf(pubkey []byte) (string, error) {
	pk, err := btcec.ParsePubKey(pubkey)
	if err != nil {
		return "", err
	}
	addr, err := btcutil.NewAddressPubKey(pk.SerializeCompressed(), e.params)
	if err != nil {
		return "", err
	}
	return addr.EncodeAddress(), nil
}

// TestHDGapLimitAdvanceScenario is spec.md §8 scenario 4, literally:
// seed "also shoot benefit prefer juice shell elder veteran woman mimic
// image kidney", derivation m/44'/0'/0'/0/0..4 yields five distinct BTC
// addresses; known_external_addresses increments exactly 5 times. A
// sixth call while known_count=5 derives index 5 and succeeds (counter
// becomes 6), since only new_address_id+1 >= 2^31 fails.
func TestHDGapLimitAdvanceScenario(t *testing.T) {
	master, err := NewMasterKeys("also shoot benefit prefer juice shell elder veteran woman mimic image kidney", "")
	require.NoError(t, err)

	wallet := NewHDWallet(master, nil, "wallet-1", 0, 20, CurveSecp256k1)
	_, err = wallet.CreateAccount(context.Background(), 0)
	require.NoError(t, err)

	encoder := btcAddressEncoder{params: &chaincfg.MainNetParams}
	addresses := make(map[string]bool)
	for i := 0; i < 5; i++ {
		addr, index, err := wallet.NewAddress(context.Background(), 0, ChainExternal, encoder)
		require.NoError(t, err)
		require.Equal(t, uint32(i), index)
		require.False(t, addresses[addr], "address %s derived twice", addr)
		addresses[addr] = true
	}

	account, err := wallet.Account(context.Background(), 0)
	require.NoError(t, err)
	require.Equal(t, uint32(5), account.KnownAddresses(ChainExternal))

	// Sixth call: counter is 5, derives index 5, succeeds, counter becomes 6.
	_, index, err := wallet.NewAddress(context.Background(), 0, ChainExternal, encoder)
	require.NoError(t, err)
	require.Equal(t, uint32(5), index)
	require.Equal(t, uint32(6), account.KnownAddresses(ChainExternal))
}

func TestAddressDerivationIsPureAndDeterministic(t *testing.T) {
	master, err := NewMasterKeys("also shoot benefit prefer juice shell elder veteran woman mimic image kidney", "")
	require.NoError(t, err)
	scheme, err := (&HDWallet{master: master, curve: CurveSecp256k1}).buildScheme(0)
	require.NoError(t, err)

	a, err := scheme.addressPubkey(ChainExternal, 3)
	require.NoError(t, err)
	b, err := scheme.addressPubkey(ChainExternal, 3)
	require.NoError(t, err)
	require.Equal(t, a, b)
}

func TestAddressIndexAtHardenedBoundaryFails(t *testing.T) {
	master, err := NewMasterKeys("also shoot benefit prefer juice shell elder veteran woman mimic image kidney", "")
	require.NoError(t, err)
	scheme, err := (&HDWallet{master: master, curve: CurveSecp256k1}).buildScheme(0)
	require.NoError(t, err)

	_, err = scheme.addressPubkey(ChainExternal, HardenedOffset)
	require.Error(t, err)
}

func TestEd25519DerivationIsDeterministicAndHardened(t *testing.T) {
	master, err := NewMasterKeys("also shoot benefit prefer juice shell elder veteran woman mimic image kidney", "")
	require.NoError(t, err)
	scheme, err := (&HDWallet{master: master, curve: CurveEd25519}).buildScheme(0)
	require.NoError(t, err)

	a, err := scheme.addressPubkey(ChainExternal, 0)
	require.NoError(t, err)
	require.Len(t, a, 32)

	b, err := scheme.addressPubkey(ChainExternal, 0)
	require.NoError(t, err)
	require.Equal(t, a, b)

	c, err := scheme.addressPubkey(ChainExternal, 1)
	require.NoError(t, err)
	require.NotEqual(t, a, c)
}
