package healthcheck

import (
	"testing"
	"time"

	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/stretchr/testify/require"
)

func TestSenderPeerMustHashDeriveFromPublicKey(t *testing.T) {
	priv, pub, err := crypto.GenerateEd25519Key(nil)
	require.NoError(t, err)

	realPeer, err := peer.IDFromPublicKey(pub)
	require.NoError(t, err)

	pubBytes, err := crypto.MarshalPublicKey(pub)
	require.NoError(t, err)

	msg := &message{
		Type:            typePing,
		Target:          "target-peer",
		SenderPeer:      realPeer.String(),
		SenderPublicKey: pubBytes,
	}
	sig, err := priv.Sign(msg.signingBytes())
	require.NoError(t, err)
	msg.Signature = sig

	derived, err := peer.IDFromPublicKey(pub)
	require.NoError(t, err)
	require.Equal(t, msg.SenderPeer, derived.String())

	// Tampering with the claimed sender_peer while keeping the same
	// public key must be detectable by re-derivation.
	msg.SenderPeer = "some-other-peer-id"
	require.NotEqual(t, msg.SenderPeer, derived.String())
}

func TestValidateRejectsTargetMismatch(t *testing.T) {
	selfPriv, selfPub, err := crypto.GenerateEd25519Key(nil)
	require.NoError(t, err)
	self, err := peer.IDFromPublicKey(selfPub)
	require.NoError(t, err)
	_ = selfPriv

	hc := &Context{self: self, maxTTL: 3 * time.Second}

	senderPriv, senderPub, err := crypto.GenerateEd25519Key(nil)
	require.NoError(t, err)
	senderPeer, err := peer.IDFromPublicKey(senderPub)
	require.NoError(t, err)
	senderPubBytes, err := crypto.MarshalPublicKey(senderPub)
	require.NoError(t, err)

	msg := &message{
		Type:            typePing,
		Target:          "not-us",
		SenderPeer:      senderPeer.String(),
		SenderPublicKey: senderPubBytes,
		ExpiresAtUnix:   time.Now().Add(hc.maxTTL).UnixNano(),
	}
	sig, err := senderPriv.Sign(msg.signingBytes())
	require.NoError(t, err)
	msg.Signature = sig

	err = hc.validate(msg)
	require.Error(t, err)
}
