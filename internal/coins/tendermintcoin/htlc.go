// Package tendermintcoin implements the Coin capability set from
// spec.md §4.1 for Cosmos/Tendermint chains (both Tendermint-native and
// Tendermint-IBC-token variants share this implementation, differing
// only in denom), dispatching the HTLC through the chain's built-in HTLC
// module per spec.md §6. No single repo in the example pack implements
// an HTLC module client directly; cosmos-sdk/tendermint are real
// dependencies of the teacher's own go.mod (mined from its
// merge-conflict markers, see DESIGN.md), so message construction here
// follows spec.md §6's id formula literally and the cosmos-sdk message
// shape (Msg interface, sdk.Coin amounts) the ecosystem uses.
package tendermintcoin

import (
	"crypto/sha256"
	"encoding/binary"

	sdk "github.com/cosmos/cosmos-sdk/types"
)

// ComputeSwapID is spec.md §6's Tendermint id formula:
// SHA-256(locktime_be || secret_hash).
func ComputeSwapID(lockTime int64, secretHash [32]byte) [32]byte {
	buf := make([]byte, 8, 8+32)
	binary.BigEndian.PutUint64(buf, uint64(lockTime))
	buf = append(buf, secretHash[:]...)
	return sha256.Sum256(buf)
}

// MsgCreateHTLC mirrors the HTLC module's create-message shape: a
// locked transfer redeemable by the receiver with the matching secret
// before lock_time, or reclaimable by sender after.
type MsgCreateHTLC struct {
	Sender       string
	To           string
	ReceiverOnOtherChain string
	SenderOnOtherChain   string
	Amount       sdk.Coins
	HashLock     [32]byte
	Timestamp    uint64
	TimeLock     uint64
	// ID is spec.md §6's deterministic swap id, carried explicitly since
	// the real HTLC module derives and returns it from this same input
	// rather than accepting it as a field; keeping it here lets
	// MsgClaimHTLC/MsgRefundHTLC address this exact HTLC without a
	// round-trip through chain query results.
	ID string
}

// MsgClaimHTLC reveals the secret to claim a locked transfer.
type MsgClaimHTLC struct {
	Sender string
	ID     string
	Secret []byte
}

// MsgRefundHTLC reclaims a locked transfer once its timelock passed.
type MsgRefundHTLC struct {
	Sender string
	ID     string
}

// DenomExponent returns the per-denom decimal exponent spec.md §4.1
// requires ("Cosmos: per-denom exponent") — ATOM-family chains use 6,
// most IBC tokens inherit their origin chain's exponent.
func DenomExponent(denom string) int32 {
	switch denom {
	case "uatom", "uosmo", "uiris":
		return 6
	default:
		return 18 // EVM-bridged IBC denoms typically carry 18
	}
}
