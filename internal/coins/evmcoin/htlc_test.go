package evmcoin

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
)

func TestHTLCCalldataRoundTrip(t *testing.T) {
	id := [32]byte{1, 2, 3}
	receiver := common.HexToAddress("0x1111111111111111111111111111111111111111")
	var secretHash [32]byte
	for i := range secretHash {
		secretHash[i] = byte(i)
	}
	tokenAddr := common.HexToAddress("0x2222222222222222222222222222222222222222")
	amount := big.NewInt(1_000_000_000_000_000_000)

	data, err := EncodeHTLCCalldata(id, receiver, secretHash, 1_700_000_000, tokenAddr, amount)
	require.NoError(t, err)

	gotID, gotReceiver, gotHash, gotLock, gotToken, gotAmount, err := DecodeHTLCCalldata(data)
	require.NoError(t, err)
	require.Equal(t, id, gotID)
	require.Equal(t, receiver, gotReceiver)
	require.Equal(t, secretHash, gotHash)
	require.Equal(t, uint64(1_700_000_000), gotLock)
	require.Equal(t, tokenAddr, gotToken)
	require.Equal(t, 0, amount.Cmp(gotAmount))
}

// TestExtractSecretFromSpendCalldata exercises spec.md §8 scenario 3
// directly: decoding spendErc20MakerPayment(id, sender, taker_secret_hash,
// maker_secret, tokenAddress, amount) must recover maker_secret.
func TestExtractSecretFromSpendCalldata(t *testing.T) {
	id := [32]byte{0xaa}
	sender := common.HexToAddress("0x3333333333333333333333333333333333333333")
	var takerSecretHash [32]byte
	for i := range takerSecretHash {
		takerSecretHash[i] = 0x11
	}
	var makerSecret [32]byte
	for i := range makerSecret {
		makerSecret[i] = 0xaa
	}
	tokenAddr := common.HexToAddress("0x4444444444444444444444444444444444444444")
	amount := big.NewInt(42)

	data, err := EncodeSpendCalldata(id, sender, takerSecretHash, makerSecret, tokenAddr, amount)
	require.NoError(t, err)

	gotSecret, err := DecodeSpendCalldata(data)
	require.NoError(t, err)
	require.Equal(t, makerSecret, gotSecret)
}

func TestComputeSwapIDDeterministic(t *testing.T) {
	secretHash := [32]byte{1}
	counterparty := common.HexToAddress("0x5555555555555555555555555555555555555555")
	sender := common.HexToAddress("0x6666666666666666666666666666666666666666")

	id1 := ComputeSwapID(1000, secretHash, counterparty, sender)
	id2 := ComputeSwapID(1000, secretHash, counterparty, sender)
	require.Equal(t, id1, id2)

	id3 := ComputeSwapID(1001, secretHash, counterparty, sender)
	require.NotEqual(t, id1, id3)
}
