package utxocoin

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHTLCScriptRoundTrip(t *testing.T) {
	sender := []byte{0x02, 0x01, 0x02, 0x03}
	receiver := []byte{0x03, 0x04, 0x05, 0x06}
	var secretHash160 [20]byte
	for i := range secretHash160 {
		secretHash160[i] = byte(i)
	}

	script, err := BuildHTLCScript(1_700_000_000, sender, receiver, secretHash160)
	require.NoError(t, err)

	parsed, err := ParseHTLCScript(script)
	require.NoError(t, err)
	require.Equal(t, int64(1_700_000_000), parsed.LockTime)
	require.Equal(t, sender, parsed.SenderPubkey)
	require.Equal(t, receiver, parsed.ReceiverPubkey)
	require.Equal(t, secretHash160, parsed.SecretHash160)
}

func TestExtractSecretFromSpendScriptSig(t *testing.T) {
	var secret [32]byte
	for i := range secret {
		secret[i] = byte(i + 1)
	}
	sig := []byte{0x30, 0x44, 0x01, 0x02}
	pubkey := []byte{0x02, 0xaa, 0xbb}
	redeem := []byte{0x63}

	scriptSig, err := spendScriptSig(sig, pubkey, secret, redeem)
	require.NoError(t, err)

	got, err := extractSecretFromSpendScriptSig(scriptSig)
	require.NoError(t, err)
	require.Equal(t, secret, got)
}

func TestSecretHash160Deterministic(t *testing.T) {
	var secret [32]byte
	for i := range secret {
		secret[i] = 0x42
	}
	h1 := HTLCSecretHash160(secret)
	h2 := HTLCSecretHash160(secret)
	require.Equal(t, h1, h2)
}
