// Package coins defines the polymorphic Coin capability set from
// spec.md §3/§4.1: a fixed closed set of chain variants dispatched by
// tag rather than dynamic interface satisfaction, per the "Heterogeneous
// coin polymorphism" design note in spec.md §9.
package coins

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/meshswap/kdfnode/internal/kdferrors"
)

// Kind tags the closed set of coin variants spec.md §3 enumerates.
type Kind int

const (
	KindUTXO Kind = iota
	KindEVM
	KindNFT
	KindTendermintNative
	KindTendermintIBC
	KindZcashSapling
	KindLightning
	KindSia
)

func (k Kind) String() string {
	switch k {
	case KindUTXO:
		return "utxo"
	case KindEVM:
		return "evm"
	case KindNFT:
		return "nft"
	case KindTendermintNative:
		return "tendermint-native"
	case KindTendermintIBC:
		return "tendermint-ibc"
	case KindZcashSapling:
		return "zcash-sapling"
	case KindLightning:
		return "lightning"
	case KindSia:
		return "sia"
	default:
		return "unknown"
	}
}

// HTLCParams is the common parameter set send_htlc/validate_htlc accept,
// per spec.md §4.1. Variant-specific encodings (P2SH script, ABI bytes,
// HTLC-module message, SpendPolicy threshold) are built from this.
type HTLCParams struct {
	LockTime       time.Time
	OtherPubkey    []byte
	SecretHash     [32]byte
	Amount         Amount
	TokenAddr      *common.Address // set only for ERC20/ERC721/ERC1155 variants
	SwapID         [32]byte        // Tendermint/EVM id, where applicable
	Recipient      []byte
	Sender         []byte
	RequiredConfs  uint32
	ContractAddr   string
}

// SignedTx is an opaque, already-signed, broadcast-ready transaction.
// TxHash/TxHex are the two representations every variant's send/spend/
// refund must be able to produce for logging and P2P relay.
type SignedTx struct {
	TxHash string
	TxHex  string
	Raw    []byte
}

// HTLCKeypair is the per-swap signing key derived for a single HTLC leg,
// per derive_htlc_keypair(unique_data) in spec.md §4.1.
type HTLCKeypair struct {
	PrivateKey []byte
	PublicKey  []byte
}

// ValidationResult is validate_htlc's outcome: Ok, or one of the content
// error kinds spec.md §4.1/§7 enumerates (WrongPayment, UnexpectedState,
// Transport — the latter bubbling as a plain error instead).
type ValidationResult int

const (
	ValidationOK ValidationResult = iota
	ValidationWrongPayment
	ValidationUnexpectedState
)

// Coin is the capability set spec.md §3/§4.1 requires of every chain
// variant. Each variant (utxocoin, evmcoin, nftcoin, tendermintcoin,
// zcashcoin, siacoin, lightningcoin) implements this identically in
// semantics while specialising HTLC encoding, per the tagged-variant
// dispatch design note in spec.md §9.
type Coin interface {
	Ticker() string
	Kind() Kind
	Decimals() int32

	AddressOf(pubkey []byte) (string, error)
	DeriveHTLCKeypair(uniqueData []byte) (HTLCKeypair, error)

	SendHTLC(ctx context.Context, p HTLCParams) (SignedTx, error)
	ValidateHTLC(ctx context.Context, rawTx []byte, expected HTLCParams) (ValidationResult, error)
	SpendHTLC(ctx context.Context, otherPaymentTx []byte, secret [32]byte, my HTLCKeypair) (SignedTx, error)
	RefundHTLC(ctx context.Context, myPaymentTx []byte, my HTLCKeypair) (SignedTx, error)
	ExtractSecret(ctx context.Context, spendTx []byte, secretHash [32]byte) ([32]byte, error)

	WaitForConfirmations(ctx context.Context, tx []byte, n uint32, until time.Time) error
	WaitForTxSpend(ctx context.Context, tx []byte, fromBlock uint64, until time.Time) ([]byte, error)

	CurrentBlock(ctx context.Context) (uint64, error)
	Balance(ctx context.Context, address string) (Amount, error)
	Broadcast(ctx context.Context, rawTx []byte) (string, error)
}

// RPCClient is the seam per-chain RPC plumbing (Electrum, native
// JSON-RPC, gRPC) sits behind; spec.md §1 keeps its internals external,
// so coin variants depend only on this narrow surface.
type RPCClient interface {
	Call(ctx context.Context, method string, params, result interface{}) error
}

// pickLowestHeightThenHash implements the wait_for_tx_spend tie-break
// rule in spec.md §4.1: among several spending candidates, the lowest
// height wins, ties broken by tx_hash byte order.
func pickLowestHeightThenHash(candidates []SpendCandidate) SpendCandidate {
	best := candidates[0]
	for _, c := range candidates[1:] {
		if c.Height < best.Height {
			best = c
			continue
		}
		if c.Height == best.Height && c.TxHash < best.TxHash {
			best = c
		}
	}
	return best
}

// SpendCandidate is one observed transaction spending a watched output,
// used by WaitForTxSpend implementations to apply the tie-break above.
type SpendCandidate struct {
	Height int64
	TxHash string
	Raw    []byte
}

// PickSpendCandidate is the exported tie-break helper variants call from
// their WaitForTxSpend implementation.
func PickSpendCandidate(candidates []SpendCandidate) (SpendCandidate, error) {
	if len(candidates) == 0 {
		return SpendCandidate{}, kdferrors.New(kdferrors.KindInternal, "no_spend_candidates", nil)
	}
	return pickLowestHeightThenHash(candidates), nil
}
