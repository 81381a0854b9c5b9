package coins

import (
	"math/big"

	"github.com/shopspring/decimal"

	"github.com/meshswap/kdfnode/internal/kdferrors"
)

// Amount is an arbitrary-precision decimal quantity crossing the coin
// boundary, per spec.md §4.1's numeric semantics: conversions to/from a
// coin's smallest unit must be lossless, and an amount with more
// fractional digits than the coin supports fails with AmountTooPrecise.
type Amount struct {
	d decimal.Decimal
}

// NewAmount parses a decimal string into an Amount.
func NewAmount(s string) (Amount, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Amount{}, kdferrors.New(kdferrors.KindContentMismatch, "invalid_amount", err)
	}
	return Amount{d: d}, nil
}

// AmountFromSmallestUnit reconstructs an Amount from an integer count of
// smallest units (satoshis, wei, hastings, ...) and the coin's decimal
// exponent.
func AmountFromSmallestUnit(units *big.Int, decimals int32) Amount {
	return Amount{d: decimal.NewFromBigInt(units, -decimals)}
}

// String renders the amount in canonical decimal form.
func (a Amount) String() string { return a.d.String() }

// IsZero reports whether the amount is exactly zero.
func (a Amount) IsZero() bool { return a.d.IsZero() }

// Cmp compares two amounts, returning -1, 0 or 1.
func (a Amount) Cmp(other Amount) int { return a.d.Cmp(other.d) }

// ToSmallestUnit converts to the coin's smallest-unit integer
// representation (UTXO: 1e8 satoshis, ETH: 10^decimals wei, Zcash: 1e24
// hastings, Cosmos: per-denom exponent), per spec.md §4.1. Returns
// ErrAmountTooPrecise if the amount has more fractional digits than
// decimals allows — the conversion must be lossless, never rounded.
func (a Amount) ToSmallestUnit(decimals int32) (*big.Int, error) {
	scaled := a.d.Shift(decimals)
	if !scaled.Equal(scaled.Truncate(0)) {
		return nil, kdferrors.ErrAmountTooPrecise
	}
	return scaled.Truncate(0).BigInt(), nil
}

// MustAmount parses s, panicking on malformed input; reserved for
// literal constants in tests and fixtures, never for RPC-supplied data.
func MustAmount(s string) Amount {
	a, err := NewAmount(s)
	if err != nil {
		panic(err)
	}
	return a
}
