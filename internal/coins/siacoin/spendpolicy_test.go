package siacoin

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAtomicSwapRoundTrip(t *testing.T) {
	var alice, bob, secretHash [32]byte
	for i := range alice {
		alice[i] = byte(i)
		bob[i] = byte(i + 32)
		secretHash[i] = byte(i * 3)
	}
	policy := AtomicSwap(alice, bob, 1_700_000_000, secretHash)

	require.Equal(t, PolicyThreshold, policy.Kind)
	require.Equal(t, uint8(1), policy.N)
	require.Len(t, policy.Of, 2)
	require.Equal(t, PolicyThreshold, policy.Of[0].Kind)
	require.Equal(t, PolicyPublicKey, policy.Of[0].Of[0].Kind)
	require.Equal(t, PolicyHash, policy.Of[0].Of[1].Kind)
	require.Equal(t, PolicyPublicKey, policy.Of[1].Of[0].Kind)
	require.Equal(t, PolicyAfter, policy.Of[1].Of[1].Kind)

	encoded := Encode(policy)
	require.Equal(t, byte(PolicyVersion), encoded[0])

	decoded, err := Decode(encoded)
	require.NoError(t, err)
	require.Equal(t, policy, decoded)
}

func TestEncodeIsDeterministic(t *testing.T) {
	var a, b, h [32]byte
	a[0], b[0], h[0] = 1, 2, 3
	p1 := AtomicSwap(a, b, 42, h)
	p2 := AtomicSwap(a, b, 42, h)
	require.Equal(t, Encode(p1), Encode(p2))
}

func TestDecodeRejectsUnsupportedVersion(t *testing.T) {
	_, err := Decode([]byte{0xFF, 0x01})
	require.Error(t, err)
}

func TestDecodeRejectsTruncatedInput(t *testing.T) {
	_, err := Decode([]byte{PolicyVersion, byte(PolicyPublicKey)})
	require.Error(t, err)
}
