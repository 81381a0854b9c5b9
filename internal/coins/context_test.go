package coins

import (
	"context"
	"testing"
	"time"

	"github.com/meshswap/kdfnode/internal/kdferrors"
	"github.com/stretchr/testify/require"
)

type stubCoin struct{ ticker string }

func (s stubCoin) Ticker() string   { return s.ticker }
func (s stubCoin) Kind() Kind       { return KindUTXO }
func (s stubCoin) Decimals() int32  { return 8 }
func (s stubCoin) AddressOf(pubkey []byte) (string, error) { return "", nil }
func (s stubCoin) DeriveHTLCKeypair(uniqueData []byte) (HTLCKeypair, error) {
	return HTLCKeypair{}, nil
}
func (s stubCoin) SendHTLC(ctx context.Context, p HTLCParams) (SignedTx, error) {
	return SignedTx{}, nil
}
func (s stubCoin) ValidateHTLC(ctx context.Context, rawTx []byte, expected HTLCParams) (ValidationResult, error) {
	return ValidationOK, nil
}
func (s stubCoin) SpendHTLC(ctx context.Context, otherPaymentTx []byte, secret [32]byte, my HTLCKeypair) (SignedTx, error) {
	return SignedTx{}, nil
}
func (s stubCoin) RefundHTLC(ctx context.Context, myPaymentTx []byte, my HTLCKeypair) (SignedTx, error) {
	return SignedTx{}, nil
}
func (s stubCoin) ExtractSecret(ctx context.Context, spendTx []byte, secretHash [32]byte) ([32]byte, error) {
	return [32]byte{}, nil
}
func (s stubCoin) WaitForConfirmations(ctx context.Context, tx []byte, n uint32, until time.Time) error {
	return nil
}
func (s stubCoin) WaitForTxSpend(ctx context.Context, tx []byte, fromBlock uint64, until time.Time) ([]byte, error) {
	return nil, nil
}
func (s stubCoin) CurrentBlock(ctx context.Context) (uint64, error)          { return 0, nil }
func (s stubCoin) Balance(ctx context.Context, address string) (Amount, error) { return Amount{}, nil }
func (s stubCoin) Broadcast(ctx context.Context, rawTx []byte) (string, error) { return "", nil }

func TestContextActivateGetDeactivate(t *testing.T) {
	ctx := NewContext()
	ctx.Activate(stubCoin{ticker: "DUTXO"})

	c, ok := ctx.Get("DUTXO")
	require.True(t, ok)
	require.Equal(t, "DUTXO", c.Ticker())

	ctx.Deactivate("DUTXO")
	_, ok = ctx.Get("DUTXO")
	require.False(t, ok)
}

func TestWeakUpgradeFailsAfterDeactivate(t *testing.T) {
	ctx := NewContext()
	ctx.Activate(stubCoin{ticker: "ERC20TOK"})
	weak := ctx.Weak("ERC20TOK")

	c, err := weak.Upgrade()
	require.NoError(t, err)
	require.Equal(t, "ERC20TOK", c.Ticker())

	ctx.Deactivate("ERC20TOK")
	_, err = weak.Upgrade()
	require.Error(t, err)
	require.True(t, kdferrors.Of(err, kdferrors.KindInternal))
}

func TestPickSpendCandidateTieBreak(t *testing.T) {
	candidates := []SpendCandidate{
		{Height: 100, TxHash: "bb"},
		{Height: 100, TxHash: "aa"},
		{Height: 101, TxHash: "zz"},
	}
	best, err := PickSpendCandidate(candidates)
	require.NoError(t, err)
	require.Equal(t, int64(100), best.Height)
	require.Equal(t, "aa", best.TxHash)
}
