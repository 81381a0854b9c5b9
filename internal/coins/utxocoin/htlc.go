// Package utxocoin implements the Coin capability set from spec.md §4.1
// for UTXO chains, encoding the HTLC as the canonical P2SH script spec.md
// §6 specifies. Script construction follows the ScriptBuilder idiom
// btcsuite/btcd's txscript package (and its dcrd fork, retrieved in the
// example pack) uses throughout standard.go.
package utxocoin

import (
	"fmt"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"golang.org/x/crypto/ripemd160" //nolint:staticcheck // required for BTC HASH160

	"github.com/meshswap/kdfnode/internal/kdferrors"
)

// BuildHTLCScript produces the canonical HTLC redeem script from
// spec.md §6:
//
//	OP_IF
//	  <lock> OP_CLTV OP_DROP <sender_pubkey> OP_CHECKSIG
//	OP_ELSE
//	  OP_SIZE 32 OP_EQUALVERIFY OP_HASH160 <secret_hash> OP_EQUALVERIFY
//	  <receiver_pubkey> OP_CHECKSIG
//	OP_ENDIF
func BuildHTLCScript(lockTime int64, senderPubkey, receiverPubkey []byte, secretHash [20]byte) ([]byte, error) {
	b := txscript.NewScriptBuilder()
	b.AddOp(txscript.OP_IF)
	b.AddInt64(lockTime)
	b.AddOp(txscript.OP_CHECKLOCKTIMEVERIFY)
	b.AddOp(txscript.OP_DROP)
	b.AddData(senderPubkey)
	b.AddOp(txscript.OP_CHECKSIG)
	b.AddOp(txscript.OP_ELSE)
	b.AddOp(txscript.OP_SIZE)
	b.AddInt64(32)
	b.AddOp(txscript.OP_EQUALVERIFY)
	b.AddOp(txscript.OP_HASH160)
	b.AddData(secretHash[:])
	b.AddOp(txscript.OP_EQUALVERIFY)
	b.AddData(receiverPubkey)
	b.AddOp(txscript.OP_CHECKSIG)
	b.AddOp(txscript.OP_ENDIF)
	return b.Script()
}

// HTLCSecretHash160 is HASH160(secret) used as the script-level secret
// commitment; the protocol-level secret_hash carried in Swap.Event
// payloads is a plain SHA-256, so the two are related but distinct —
// callers must compute this separately for script embedding.
func HTLCSecretHash160(secret [32]byte) [20]byte {
	shaSum := chainhash.HashB(secret[:])
	r := ripemd160.New()
	r.Write(shaSum)
	var out [20]byte
	copy(out[:], r.Sum(nil))
	return out
}

// P2SHAddressScript wraps a redeem script as P2SH: OP_HASH160 <scriptHash> OP_EQUAL.
func P2SHAddressScript(redeemScript []byte) ([]byte, error) {
	scriptHash := btcutilHash160(redeemScript)
	b := txscript.NewScriptBuilder()
	b.AddOp(txscript.OP_HASH160)
	b.AddData(scriptHash[:])
	b.AddOp(txscript.OP_EQUAL)
	return b.Script()
}

func btcutilHash160(data []byte) [20]byte {
	shaSum := chainhash.HashB(data)
	r := ripemd160.New()
	r.Write(shaSum)
	var out [20]byte
	copy(out[:], r.Sum(nil))
	return out
}

// ParsedHTLCScript holds the fields BuildHTLCScript embedded, as
// recovered by ParseHTLCScript for the round-trip tests (spec.md §8:
// parse(serialize(script)) == script). ValidateHTLC does not parse
// scripts; it compares P2SH output scripts.
type ParsedHTLCScript struct {
	LockTime       int64
	SenderPubkey   []byte
	ReceiverPubkey []byte
	SecretHash160  [20]byte
}

func ParseHTLCScript(script []byte) (*ParsedHTLCScript, error) {
	tokenizer := txscript.MakeScriptTokenizer(0, script)
	var out ParsedHTLCScript
	step := 0
	for tokenizer.Next() {
		op := tokenizer.Opcode()
		data := tokenizer.Data()
		switch step {
		case 0:
			if op != txscript.OP_IF {
				return nil, kdferrors.New(kdferrors.KindContentMismatch, "htlc_script_malformed", fmt.Errorf("expected OP_IF"))
			}
		case 1:
			n, err := scriptNumToInt64(op, data)
			if err != nil {
				return nil, err
			}
			out.LockTime = n
		case 2:
			if op != txscript.OP_CHECKLOCKTIMEVERIFY {
				return nil, kdferrors.New(kdferrors.KindContentMismatch, "htlc_script_malformed", fmt.Errorf("expected OP_CLTV"))
			}
		case 3:
			if op != txscript.OP_DROP {
				return nil, kdferrors.New(kdferrors.KindContentMismatch, "htlc_script_malformed", fmt.Errorf("expected OP_DROP"))
			}
		case 4:
			out.SenderPubkey = append([]byte(nil), data...)
		case 5:
			if op != txscript.OP_CHECKSIG {
				return nil, kdferrors.New(kdferrors.KindContentMismatch, "htlc_script_malformed", fmt.Errorf("expected OP_CHECKSIG"))
			}
		case 6:
			if op != txscript.OP_ELSE {
				return nil, kdferrors.New(kdferrors.KindContentMismatch, "htlc_script_malformed", fmt.Errorf("expected OP_ELSE"))
			}
		case 7:
			if op != txscript.OP_SIZE {
				return nil, kdferrors.New(kdferrors.KindContentMismatch, "htlc_script_malformed", fmt.Errorf("expected OP_SIZE"))
			}
		case 8:
			// pushed int32(32)
		case 9:
			if op != txscript.OP_EQUALVERIFY {
				return nil, kdferrors.New(kdferrors.KindContentMismatch, "htlc_script_malformed", fmt.Errorf("expected OP_EQUALVERIFY"))
			}
		case 10:
			if op != txscript.OP_HASH160 {
				return nil, kdferrors.New(kdferrors.KindContentMismatch, "htlc_script_malformed", fmt.Errorf("expected OP_HASH160"))
			}
		case 11:
			copy(out.SecretHash160[:], data)
		case 12:
			if op != txscript.OP_EQUALVERIFY {
				return nil, kdferrors.New(kdferrors.KindContentMismatch, "htlc_script_malformed", fmt.Errorf("expected OP_EQUALVERIFY"))
			}
		case 13:
			out.ReceiverPubkey = append([]byte(nil), data...)
		case 14:
			if op != txscript.OP_CHECKSIG {
				return nil, kdferrors.New(kdferrors.KindContentMismatch, "htlc_script_malformed", fmt.Errorf("expected OP_CHECKSIG"))
			}
		case 15:
			if op != txscript.OP_ENDIF {
				return nil, kdferrors.New(kdferrors.KindContentMismatch, "htlc_script_malformed", fmt.Errorf("expected OP_ENDIF"))
			}
		}
		step++
	}
	if err := tokenizer.Err(); err != nil {
		return nil, fmt.Errorf("utxocoin: tokenize htlc script: %w", err)
	}
	if step != 16 {
		return nil, kdferrors.New(kdferrors.KindContentMismatch, "htlc_script_malformed", fmt.Errorf("unexpected script length"))
	}
	return &out, nil
}

func scriptNumToInt64(op byte, data []byte) (int64, error) {
	n, err := txscript.MakeScriptNum(data, true, 5)
	if err != nil {
		// Small integers (e.g. OP_1..OP_16, or a direct small push encoded
		// as an opcode) decode to their opcode value directly.
		if op >= txscript.OP_1 && op <= txscript.OP_16 {
			return int64(op-txscript.OP_1) + 1, nil
		}
		return 0, fmt.Errorf("utxocoin: bad script num: %w", err)
	}
	return int64(n), nil
}

// refundScriptSig builds the scriptSig for the sender-refund path:
// <sig> <pubkey> OP_TRUE <redeemScript>.
func refundScriptSig(sig, pubkey, redeemScript []byte) ([]byte, error) {
	b := txscript.NewScriptBuilder()
	b.AddData(sig)
	b.AddData(pubkey)
	b.AddOp(txscript.OP_TRUE)
	b.AddData(redeemScript)
	return b.Script()
}

// spendScriptSig builds the scriptSig for the receiver-spend path:
// <sig> <pubkey> <secret> OP_FALSE <redeemScript>.
func spendScriptSig(sig, pubkey []byte, secret [32]byte, redeemScript []byte) ([]byte, error) {
	b := txscript.NewScriptBuilder()
	b.AddData(sig)
	b.AddData(pubkey)
	b.AddData(secret[:])
	b.AddOp(txscript.OP_FALSE)
	b.AddData(redeemScript)
	return b.Script()
}

// extractSecretFromSpendScriptSig parses a receiver-spend scriptSig and
// recovers the secret pushed into it, per extract_secret in spec.md §4.1.
func extractSecretFromSpendScriptSig(scriptSig []byte) ([32]byte, error) {
	tokenizer := txscript.MakeScriptTokenizer(0, scriptSig)
	var pushes [][]byte
	for tokenizer.Next() {
		if d := tokenizer.Data(); d != nil {
			pushes = append(pushes, d)
		}
	}
	if err := tokenizer.Err(); err != nil {
		return [32]byte{}, fmt.Errorf("utxocoin: tokenize scriptSig: %w", err)
	}
	// <sig> <pubkey> <secret>
	if len(pushes) < 3 || len(pushes[2]) != 32 {
		return [32]byte{}, kdferrors.ErrWrongSecret
	}
	var out [32]byte
	copy(out[:], pushes[2])
	return out, nil
}
