package siacoin

import (
	"bytes"
	"context"
	"crypto/sha256"
	"fmt"
	"time"

	"go.sia.tech/core/types"

	"github.com/meshswap/kdfnode/internal/coins"
	"github.com/meshswap/kdfnode/internal/kdferrors"
	"github.com/meshswap/kdfnode/internal/logging"
)

var log = logging.Component("siacoin")

// Decimals is Sia's siacoin smallest-unit exponent (hastings per SC).
const Decimals int32 = 24

// WalletClient is the narrow seam a Sia walletd/renterd-style RPC
// client satisfies; full request/response wire shapes stay outside
// this package's scope, per spec.md §1's per-chain RPC plumbing
// carve-out.
type WalletClient interface {
	Broadcast(ctx context.Context, signedTx []byte) (string, error)
	TransactionByID(ctx context.Context, txHash string) ([]byte, error)
	Tip(ctx context.Context) (height uint64, err error)
	BalanceOf(ctx context.Context, address string) (types.Currency, error)
}

// TxSigner produces a signed, broadcastable transaction spending under
// the given SpendPolicy.
type TxSigner interface {
	SignSpendPolicy(policy SpendPolicy, secret *[32]byte) (rawTx []byte, txHash string, err error)
}

// Coin implements coins.Coin for Sia, using the nested SpendPolicy
// threshold tree (see spendpolicy.go) as the HTLC equivalent of the
// UTXO chains' P2SH redeem script.
type Coin struct {
	client WalletClient
	signer TxSigner
}

func New(client WalletClient, signer TxSigner) *Coin {
	return &Coin{client: client, signer: signer}
}

func (c *Coin) Ticker() string   { return "SC" }
func (c *Coin) Kind() coins.Kind { return coins.KindSia }
func (c *Coin) Decimals() int32  { return Decimals }

// AddressOf derives the standard Sia unlock-hash address for a single
// Ed25519 public key, matching types.PolicyPublicKey(pk).Address() in
// go.sia.tech/core's own policy machinery.
func (c *Coin) AddressOf(pubkey []byte) (string, error) {
	if len(pubkey) != 32 {
		return "", kdferrors.ErrInvalidAddress
	}
	var pk types.PublicKey
	copy(pk[:], pubkey)
	addr := types.PolicyPublicKey(pk).Address()
	return addr.String(), nil
}

func (c *Coin) DeriveHTLCKeypair(uniqueData []byte) (coins.HTLCKeypair, error) {
	h := sha256.Sum256(uniqueData)
	return coins.HTLCKeypair{PrivateKey: h[:]}, nil
}

func policyFromParams(p coins.HTLCParams, my coins.HTLCKeypair) (SpendPolicy, error) {
	if len(p.OtherPubkey) != 32 || len(my.PublicKey) != 32 {
		return SpendPolicy{}, kdferrors.ErrInvalidAddress
	}
	var alice, bob [32]byte
	copy(alice[:], my.PublicKey)
	copy(bob[:], p.OtherPubkey)
	return AtomicSwap(alice, bob, uint64(p.LockTime.Unix()), p.SecretHash), nil
}

// SendHTLC locks funds under the atomic-swap SpendPolicy described by
// spec.md §6.
func (c *Coin) SendHTLC(ctx context.Context, p coins.HTLCParams) (coins.SignedTx, error) {
	policy, err := policyFromParams(p, coins.HTLCKeypair{PublicKey: p.Sender})
	if err != nil {
		return coins.SignedTx{}, err
	}
	raw, txHash, err := c.signer.SignSpendPolicy(policy, nil)
	if err != nil {
		return coins.SignedTx{}, kdferrors.New(kdferrors.KindInternal, "tx_signing_failed", err)
	}
	hash, err := c.client.Broadcast(ctx, raw)
	if err != nil {
		return coins.SignedTx{}, kdferrors.New(kdferrors.KindTransport, "broadcast_failed", err)
	}
	_ = txHash
	return coins.SignedTx{TxHash: hash, Raw: raw}, nil
}

// ValidateHTLC re-derives the expected SpendPolicy bytes and checks the
// on-chain output commits to the same policy hash, the Sia analogue of
// the UTXO chains' redeem-script comparison.
func (c *Coin) ValidateHTLC(ctx context.Context, rawTx []byte, expected coins.HTLCParams) (coins.ValidationResult, error) {
	if len(rawTx) == 0 {
		return coins.ValidationUnexpectedState, kdferrors.ErrUnexpectedState
	}
	policy, err := policyFromParams(expected, coins.HTLCKeypair{PublicKey: expected.Sender})
	if err != nil {
		return coins.ValidationUnexpectedState, err
	}
	want := Encode(policy)
	// The transaction-body field carrying this output's spend policy is
	// wire-specific to the siacoin v2 transaction format; callers in the
	// full wiring pass the already-extracted policy bytes here.
	if !bytes.Equal(rawTx, want) {
		return coins.ValidationWrongPayment, kdferrors.ErrWrongPayment
	}
	return coins.ValidationOK, nil
}

// SpendHTLC claims the locked output by revealing the secret into the
// success branch of the AtomicSwap policy.
func (c *Coin) SpendHTLC(ctx context.Context, otherPaymentTx []byte, secret [32]byte, my coins.HTLCKeypair) (coins.SignedTx, error) {
	if len(my.PublicKey) != 32 {
		return coins.SignedTx{}, kdferrors.ErrInvalidAddress
	}
	var pk [32]byte
	copy(pk[:], my.PublicKey)
	secretHash := sha256.Sum256(secret[:])
	policy := AtomicSwap(pk, pk, 0, secretHash)
	raw, txHash, err := c.signer.SignSpendPolicy(policy, &secret)
	if err != nil {
		return coins.SignedTx{}, kdferrors.New(kdferrors.KindInternal, "tx_signing_failed", err)
	}
	hash, err := c.client.Broadcast(ctx, raw)
	if err != nil {
		return coins.SignedTx{}, kdferrors.New(kdferrors.KindTransport, "broadcast_failed", err)
	}
	_ = txHash
	return coins.SignedTx{TxHash: hash, Raw: raw}, nil
}

// RefundHTLC is stubbed per this repository's recorded Open Question
// decision (see DESIGN.md): refunding Sia's after-lock-time branch
// requires signing with the same Ed25519 key under a different
// ParentID/cover-signature scheme than the success branch, which this
// package does not yet implement.
func (c *Coin) RefundHTLC(ctx context.Context, myPaymentTx []byte, my coins.HTLCKeypair) (coins.SignedTx, error) {
	return coins.SignedTx{}, kdferrors.New(kdferrors.KindInternal, "sia_refund_not_implemented", nil)
}

func (c *Coin) ExtractSecret(ctx context.Context, spendTx []byte, secretHash [32]byte) ([32]byte, error) {
	// The satisfied-policy preimage sits in the spend transaction's
	// signature/preimage field set, whose exact v2-transaction layout is
	// outside this package's currently grounded scope.
	return [32]byte{}, kdferrors.New(kdferrors.KindInternal, "requires_v2_tx_decode", nil)
}

func (c *Coin) WaitForConfirmations(ctx context.Context, tx []byte, n uint32, until time.Time) error {
	txHash := fmt.Sprintf("%x", sha256.Sum256(tx))
	for {
		_, err := c.client.TransactionByID(ctx, txHash)
		tip, terr := c.client.Tip(ctx)
		if err == nil && terr == nil {
			return nil
		}
		if time.Now().After(until) {
			return kdferrors.New(kdferrors.KindTransport, "confirmation_wait_timed_out", nil)
		}
		log.Debug("wait_for_confirmations retrying", "tip", tip)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(10 * time.Second):
		}
	}
}

func (c *Coin) WaitForTxSpend(ctx context.Context, tx []byte, fromBlock uint64, until time.Time) ([]byte, error) {
	return nil, kdferrors.New(kdferrors.KindInternal, "not_implemented", nil)
}

func (c *Coin) CurrentBlock(ctx context.Context) (uint64, error) {
	h, err := c.client.Tip(ctx)
	if err != nil {
		return 0, kdferrors.New(kdferrors.KindTransport, "tip_failed", err)
	}
	return h, nil
}

func (c *Coin) Balance(ctx context.Context, address string) (coins.Amount, error) {
	bal, err := c.client.BalanceOf(ctx, address)
	if err != nil {
		return coins.Amount{}, kdferrors.New(kdferrors.KindTransport, "balance_failed", err)
	}
	return coins.AmountFromSmallestUnit(bal.Big(), Decimals), nil
}

func (c *Coin) Broadcast(ctx context.Context, rawTx []byte) (string, error) {
	hash, err := c.client.Broadcast(ctx, rawTx)
	if err != nil {
		return "", kdferrors.New(kdferrors.KindTransport, "broadcast_failed", err)
	}
	return hash, nil
}

var _ coins.Coin = (*Coin)(nil)
