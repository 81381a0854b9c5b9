package tendermintcoin

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestComputeSwapIDMatchesLocktimeBigEndianPlusSecretHash(t *testing.T) {
	var secretHash [32]byte
	for i := range secretHash {
		secretHash[i] = byte(i)
	}
	id1 := ComputeSwapID(1_700_000_000, secretHash)
	id2 := ComputeSwapID(1_700_000_000, secretHash)
	require.Equal(t, id1, id2)

	id3 := ComputeSwapID(1_700_000_001, secretHash)
	require.NotEqual(t, id1, id3)
}

func TestDenomExponent(t *testing.T) {
	require.Equal(t, int32(6), DenomExponent("uatom"))
	require.Equal(t, int32(18), DenomExponent("ibc/unknown"))
}
