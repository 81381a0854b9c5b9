package nftcoin

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
)

func TestHTLCBlobRoundTrip(t *testing.T) {
	id := [32]byte{9}
	takerAddr := common.HexToAddress("0x1111111111111111111111111111111111111111")
	tokenAddr := common.HexToAddress("0x2222222222222222222222222222222222222222")
	var takerHash, makerHash [32]byte
	for i := range takerHash {
		takerHash[i] = byte(i)
		makerHash[i] = byte(31 - i)
	}

	blob, err := EncodeHTLCBlob(id, takerAddr, tokenAddr, takerHash, makerHash, 1_800_000_000)
	require.NoError(t, err)

	gotID, gotTaker, gotToken, gotTakerHash, gotMakerHash, gotLock, err := DecodeHTLCBlob(blob)
	require.NoError(t, err)
	require.Equal(t, id, gotID)
	require.Equal(t, takerAddr, gotTaker)
	require.Equal(t, tokenAddr, gotToken)
	require.Equal(t, takerHash, gotTakerHash)
	require.Equal(t, makerHash, gotMakerHash)
	require.Equal(t, uint64(1_800_000_000), gotLock)
}
