package lightningcoin

import (
	"context"
	"crypto/sha256"
	"testing"
	"time"

	"github.com/lightningnetwork/lnd/lnrpc"
	"google.golang.org/grpc"

	"github.com/meshswap/kdfnode/internal/coins"
	"github.com/meshswap/kdfnode/internal/kdferrors"
	"github.com/stretchr/testify/require"
)

func sha256Sum(secret [32]byte) [32]byte { return sha256.Sum256(secret[:]) }

type stubInvoiceClient struct {
	invoices map[[32]byte]Invoice
	payReq   string
	height   uint32
	balance  int64
}

func newStub() *stubInvoiceClient {
	return &stubInvoiceClient{invoices: map[[32]byte]Invoice{}, payReq: "lnbc1...", height: 800000, balance: 250_000_000}
}

func (s *stubInvoiceClient) AddHoldInvoice(ctx context.Context, paymentHash [32]byte, amountMsat int64, expiry time.Duration, memo string) (string, error) {
	s.invoices[paymentHash] = Invoice{
		PaymentHash: paymentHash,
		AmountMsat:  amountMsat,
		ExpiryUnix:  time.Now().Add(expiry).Unix(),
		Stage:       InvoiceOpen,
	}
	return s.payReq, nil
}

func (s *stubInvoiceClient) LookupInvoice(ctx context.Context, paymentHash [32]byte) (Invoice, error) {
	inv, ok := s.invoices[paymentHash]
	if !ok {
		return Invoice{}, kdferrors.New(kdferrors.KindContentMismatch, "invoice_not_found", nil)
	}
	return inv, nil
}

func (s *stubInvoiceClient) SettleInvoice(ctx context.Context, preimage [32]byte) error {
	hash := sha256Sum(preimage)
	inv, ok := s.invoices[hash]
	if !ok {
		return kdferrors.New(kdferrors.KindContentMismatch, "invoice_not_found", nil)
	}
	inv.Stage = InvoiceSettled
	inv.Preimage = preimage
	inv.HasPreimage = true
	s.invoices[hash] = inv
	return nil
}

func (s *stubInvoiceClient) CancelInvoice(ctx context.Context, paymentHash [32]byte) error {
	inv, ok := s.invoices[paymentHash]
	if !ok {
		return kdferrors.New(kdferrors.KindContentMismatch, "invoice_not_found", nil)
	}
	inv.Stage = InvoiceCanceled
	s.invoices[paymentHash] = inv
	return nil
}

func (s *stubInvoiceClient) GetInfo(ctx context.Context, in *lnrpc.GetInfoRequest, opts ...grpc.CallOption) (*lnrpc.GetInfoResponse, error) {
	return &lnrpc.GetInfoResponse{BlockHeight: s.height}, nil
}

func (s *stubInvoiceClient) ChannelBalance(ctx context.Context, in *lnrpc.ChannelBalanceRequest, opts ...grpc.CallOption) (*lnrpc.ChannelBalanceResponse, error) {
	return &lnrpc.ChannelBalanceResponse{LocalBalance: &lnrpc.Amount{Msat: s.balance}}, nil
}

func TestSendHTLCCreatesHoldInvoice(t *testing.T) {
	client := newStub()
	c := New(client)
	var secretHash [32]byte
	secretHash[0] = 0x01
	tx, err := c.SendHTLC(context.Background(), coins.HTLCParams{
		LockTime:   time.Now().Add(time.Hour),
		SecretHash: secretHash,
		Amount:     coins.MustAmount("0.0005"),
	})
	require.NoError(t, err)
	require.Equal(t, "lnbc1...", tx.TxHex)
	require.Len(t, client.invoices, 1)
}

func TestSendHTLCRejectsPastExpiry(t *testing.T) {
	c := New(newStub())
	_, err := c.SendHTLC(context.Background(), coins.HTLCParams{
		LockTime: time.Now().Add(-time.Hour),
		Amount:   coins.MustAmount("0.0005"),
	})
	require.Error(t, err)
	require.True(t, kdferrors.Of(err, kdferrors.KindLimitExhausted))
}

func TestSpendHTLCSettlesBySecretThenExtractSecretReadsPreimage(t *testing.T) {
	client := newStub()
	c := New(client)
	var secret [32]byte
	secret[0] = 0xAB
	secretHash := sha256Sum(secret)

	_, err := c.SendHTLC(context.Background(), coins.HTLCParams{
		LockTime:   time.Now().Add(time.Hour),
		SecretHash: secretHash,
		Amount:     coins.MustAmount("0.0005"),
	})
	require.NoError(t, err)

	_, err = c.SpendHTLC(context.Background(), nil, secret, coins.HTLCKeypair{})
	require.NoError(t, err)

	got, err := c.ExtractSecret(context.Background(), nil, secretHash)
	require.NoError(t, err)
	require.Equal(t, secret, got)
}

func TestExtractSecretFailsBeforeSettlement(t *testing.T) {
	client := newStub()
	c := New(client)
	var secretHash [32]byte
	secretHash[0] = 0x02
	_, err := c.SendHTLC(context.Background(), coins.HTLCParams{
		LockTime:   time.Now().Add(time.Hour),
		SecretHash: secretHash,
		Amount:     coins.MustAmount("0.0005"),
	})
	require.NoError(t, err)

	_, err = c.ExtractSecret(context.Background(), nil, secretHash)
	require.Error(t, err)
}

func TestRefundHTLCCancelsInvoice(t *testing.T) {
	client := newStub()
	c := New(client)
	var secretHash [32]byte
	secretHash[0] = 0x03
	_, err := c.SendHTLC(context.Background(), coins.HTLCParams{
		LockTime:   time.Now().Add(time.Hour),
		SecretHash: secretHash,
		Amount:     coins.MustAmount("0.0005"),
	})
	require.NoError(t, err)

	_, err = c.RefundHTLC(context.Background(), secretHash[:], coins.HTLCKeypair{})
	require.NoError(t, err)

	inv, err := client.LookupInvoice(context.Background(), secretHash)
	require.NoError(t, err)
	require.Equal(t, InvoiceCanceled, inv.Stage)
}

func TestBroadcastIsNotApplicable(t *testing.T) {
	c := New(newStub())
	_, err := c.Broadcast(context.Background(), []byte{0x01})
	require.Error(t, err)
	require.True(t, kdferrors.Of(err, kdferrors.KindInternal))
}

func TestBalanceConvertsMsatToAmount(t *testing.T) {
	c := New(newStub())
	amt, err := c.Balance(context.Background(), "")
	require.NoError(t, err)
	require.False(t, amt.IsZero())
}
