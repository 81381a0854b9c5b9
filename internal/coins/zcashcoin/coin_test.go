package zcashcoin

import (
	"math/big"
	"testing"

	"github.com/meshswap/kdfnode/internal/coins"
	"github.com/stretchr/testify/require"
)

func TestDecimalsMatchesSpecHastings(t *testing.T) {
	c := New("DZEC", nil, nil)
	require.Equal(t, int32(24), c.Decimals())
	require.Equal(t, coins.KindZcashSapling, c.Kind())
}

func TestAmountConversionUsesOverriddenDecimals(t *testing.T) {
	a := coins.MustAmount("1000.0")
	units, err := a.ToSmallestUnit(Decimals)
	require.NoError(t, err)
	expected := new(big.Int).Mul(big.NewInt(1000), new(big.Int).Exp(big.NewInt(10), big.NewInt(24), nil))
	require.Equal(t, 0, units.Cmp(expected))
}
