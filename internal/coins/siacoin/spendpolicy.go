// Package siacoin implements the Coin capability set from spec.md §4.1
// for Sia, encoding the HTLC as the versioned SpendPolicy threshold
// structure spec.md §6 specifies literally:
//
//	Threshold(1, [Threshold(2, [PublicKey(alice), Hash(secret_hash)]),
//	              Threshold(2, [PublicKey(bob), After(lock_time)])])
//
// Transliterated from the "Sia spend-policy threshold encoding"
// supplemented feature's ground truth,
// original_source/mm2src/coins/sia/spend_policy.rs's SpendPolicy enum
// and its encode_wo_prefix wire format, into Go's encoding/binary idiom
// rather than a line-by-line port.
package siacoin

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// PolicyVersion is the wire-format version byte prefixing every
// top-level encoded SpendPolicy.
const PolicyVersion = 1

// PolicyKind tags the SpendPolicy variants, matching spend_policy.rs's
// to_u8 opcode assignment exactly so wire bytes are byte-identical to
// Sia's own `go.sia.tech/core` policy.go encoding.
type PolicyKind uint8

const (
	PolicyAbove     PolicyKind = 1
	PolicyAfter     PolicyKind = 2
	PolicyPublicKey PolicyKind = 3
	PolicyHash      PolicyKind = 4
	PolicyThreshold PolicyKind = 5
	PolicyOpaque    PolicyKind = 6
	PolicyUnlock    PolicyKind = 7
)

// SpendPolicy is a node in the policy tree. Exactly one of the
// kind-specific fields is meaningful, selected by Kind.
type SpendPolicy struct {
	Kind PolicyKind

	Height    uint64 // PolicyAbove
	Timestamp uint64 // PolicyAfter
	PublicKey [32]byte
	Hash      [32]byte
	N         uint8
	Of        []SpendPolicy // PolicyThreshold
	Address   [32]byte      // PolicyOpaque
}

func Above(height uint64) SpendPolicy { return SpendPolicy{Kind: PolicyAbove, Height: height} }
func After(ts uint64) SpendPolicy     { return SpendPolicy{Kind: PolicyAfter, Timestamp: ts} }

func PublicKeyPolicy(pk [32]byte) SpendPolicy {
	return SpendPolicy{Kind: PolicyPublicKey, PublicKey: pk}
}

func HashPolicy(h [32]byte) SpendPolicy { return SpendPolicy{Kind: PolicyHash, Hash: h} }

func Threshold(n uint8, of []SpendPolicy) SpendPolicy {
	return SpendPolicy{Kind: PolicyThreshold, N: n, Of: of}
}

// AtomicSwap builds the nested Threshold tree spec.md §6 names: a 1-of-2
// top-level threshold between the success branch (alice's key + the
// secret-hash preimage) and the refund branch (bob's key + the
// after-lock-time condition).
func AtomicSwap(alice, bob [32]byte, lockTime uint64, secretHash [32]byte) SpendPolicy {
	success := Threshold(2, []SpendPolicy{PublicKeyPolicy(alice), HashPolicy(secretHash)})
	refund := Threshold(2, []SpendPolicy{PublicKeyPolicy(bob), After(lockTime)})
	return Threshold(1, []SpendPolicy{success, refund})
}

// Encode serialises p with the version-byte prefix, matching
// spend_policy.rs's `Encodable for SpendPolicy` impl.
func Encode(p SpendPolicy) []byte {
	var buf bytes.Buffer
	buf.WriteByte(PolicyVersion)
	encodeWithoutPrefix(&buf, p)
	return buf.Bytes()
}

func encodeWithoutPrefix(buf *bytes.Buffer, p SpendPolicy) {
	buf.WriteByte(byte(p.Kind))
	switch p.Kind {
	case PolicyAbove:
		writeUint64(buf, p.Height)
	case PolicyAfter:
		writeUint64(buf, p.Timestamp)
	case PolicyPublicKey:
		buf.Write(p.PublicKey[:])
	case PolicyHash:
		buf.Write(p.Hash[:])
	case PolicyThreshold:
		buf.WriteByte(p.N)
		buf.WriteByte(byte(len(p.Of)))
		for _, child := range p.Of {
			encodeWithoutPrefix(buf, child)
		}
	case PolicyOpaque:
		buf.Write(p.Address[:])
	}
}

func writeUint64(buf *bytes.Buffer, v uint64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	buf.Write(b[:])
}

// Decode parses Encode's output back into a SpendPolicy tree, used by
// the round-trip test (spec.md §8: parse(serialize(script)) == script).
func Decode(data []byte) (SpendPolicy, error) {
	if len(data) < 1 || data[0] != PolicyVersion {
		return SpendPolicy{}, fmt.Errorf("siacoin: unsupported policy version")
	}
	p, rest, err := decodeWithoutPrefix(data[1:])
	if err != nil {
		return SpendPolicy{}, err
	}
	if len(rest) != 0 {
		return SpendPolicy{}, fmt.Errorf("siacoin: trailing bytes after policy")
	}
	return p, nil
}

func decodeWithoutPrefix(data []byte) (SpendPolicy, []byte, error) {
	if len(data) < 1 {
		return SpendPolicy{}, nil, fmt.Errorf("siacoin: truncated policy")
	}
	kind := PolicyKind(data[0])
	data = data[1:]
	switch kind {
	case PolicyAbove:
		if len(data) < 8 {
			return SpendPolicy{}, nil, fmt.Errorf("siacoin: truncated above policy")
		}
		return SpendPolicy{Kind: kind, Height: binary.BigEndian.Uint64(data[:8])}, data[8:], nil
	case PolicyAfter:
		if len(data) < 8 {
			return SpendPolicy{}, nil, fmt.Errorf("siacoin: truncated after policy")
		}
		return SpendPolicy{Kind: kind, Timestamp: binary.BigEndian.Uint64(data[:8])}, data[8:], nil
	case PolicyPublicKey:
		if len(data) < 32 {
			return SpendPolicy{}, nil, fmt.Errorf("siacoin: truncated pubkey policy")
		}
		var pk [32]byte
		copy(pk[:], data[:32])
		return SpendPolicy{Kind: kind, PublicKey: pk}, data[32:], nil
	case PolicyHash:
		if len(data) < 32 {
			return SpendPolicy{}, nil, fmt.Errorf("siacoin: truncated hash policy")
		}
		var h [32]byte
		copy(h[:], data[:32])
		return SpendPolicy{Kind: kind, Hash: h}, data[32:], nil
	case PolicyThreshold:
		if len(data) < 2 {
			return SpendPolicy{}, nil, fmt.Errorf("siacoin: truncated threshold policy")
		}
		n := data[0]
		count := int(data[1])
		rest := data[2:]
		of := make([]SpendPolicy, 0, count)
		for i := 0; i < count; i++ {
			child, remaining, err := decodeWithoutPrefix(rest)
			if err != nil {
				return SpendPolicy{}, nil, err
			}
			of = append(of, child)
			rest = remaining
		}
		return SpendPolicy{Kind: kind, N: n, Of: of}, rest, nil
	case PolicyOpaque:
		if len(data) < 32 {
			return SpendPolicy{}, nil, fmt.Errorf("siacoin: truncated opaque policy")
		}
		var addr [32]byte
		copy(addr[:], data[:32])
		return SpendPolicy{Kind: kind, Address: addr}, data[32:], nil
	default:
		return SpendPolicy{}, nil, fmt.Errorf("siacoin: unsupported policy kind %d", kind)
	}
}
