package coins

import (
	"math/big"
	"testing"

	"github.com/meshswap/kdfnode/internal/kdferrors"
	"github.com/stretchr/testify/require"
)

func TestAmountRoundTripUTXO(t *testing.T) {
	a := MustAmount("1.00000001")
	units, err := a.ToSmallestUnit(8)
	require.NoError(t, err)
	require.Equal(t, big.NewInt(100000001), units)

	back := AmountFromSmallestUnit(units, 8)
	require.Equal(t, 0, a.Cmp(back))
}

func TestAmountTooPreciseForCoinDecimals(t *testing.T) {
	a := MustAmount("1.123456789") // 9 fractional digits
	_, err := a.ToSmallestUnit(8)  // coin only supports 8
	require.ErrorIs(t, err, kdferrors.ErrAmountTooPrecise)
}

func TestAmountZcashHastings(t *testing.T) {
	a := MustAmount("1000.0")
	units, err := a.ToSmallestUnit(24)
	require.NoError(t, err)
	expected := new(big.Int).Mul(big.NewInt(1000), new(big.Int).Exp(big.NewInt(10), big.NewInt(24), nil))
	require.Equal(t, 0, units.Cmp(expected))
}
