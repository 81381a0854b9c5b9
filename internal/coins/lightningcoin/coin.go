package lightningcoin

import (
	"context"
	"math/big"
	"time"

	"github.com/lightningnetwork/lnd/lnrpc"
	"google.golang.org/grpc"

	"github.com/meshswap/kdfnode/internal/coins"
	"github.com/meshswap/kdfnode/internal/kdferrors"
	"github.com/meshswap/kdfnode/internal/logging"
)

var log = logging.Component("lightningcoin")

// Invoice is the narrow slice of an lnrpc.Invoice this package reads;
// the full RPC response carries many unrelated fields (routing hints,
// HTLC sets, AMP records) outside an atomic swap's concern.
type Invoice struct {
	PaymentHash  [32]byte
	PaymentAddr  []byte
	Preimage     [32]byte
	HasPreimage  bool
	AmountMsat   int64
	ExpiryUnix   int64
	Stage        InvoiceStage
}

// InvoiceClient is the seam a real invoicesrpc.InvoicesClient (plus the
// two lnrpc.LightningClient calls this package needs for node/channel
// state) satisfies; spec.md §1 keeps full per-chain RPC client plumbing
// outside this package's scope, so only the calls an HTLC leg actually
// needs are named here, matching the real gRPC client method shapes
// rather than re-parameterizing them.
type InvoiceClient interface {
	AddHoldInvoice(ctx context.Context, paymentHash [32]byte, amountMsat int64, expiry time.Duration, memo string) (paymentRequest string, err error)
	LookupInvoice(ctx context.Context, paymentHash [32]byte) (Invoice, error)
	SettleInvoice(ctx context.Context, preimage [32]byte) error
	CancelInvoice(ctx context.Context, paymentHash [32]byte) error

	GetInfo(ctx context.Context, in *lnrpc.GetInfoRequest, opts ...grpc.CallOption) (*lnrpc.GetInfoResponse, error)
	ChannelBalance(ctx context.Context, in *lnrpc.ChannelBalanceRequest, opts ...grpc.CallOption) (*lnrpc.ChannelBalanceResponse, error)
}

// Coin implements coins.Coin for Lightning. Its "transactions" are
// payment_request strings and its "confirmations" are invoice-state
// transitions rather than block depth.
type Coin struct {
	client InvoiceClient
}

func New(client InvoiceClient) *Coin { return &Coin{client: client} }

func (c *Coin) Ticker() string   { return "BTC-LN" }
func (c *Coin) Kind() coins.Kind { return coins.KindLightning }
func (c *Coin) Decimals() int32  { return Decimals }

// AddressOf returns the hex-encoded compressed node public key:
// Lightning has no UTXO-style address, only a routable node identity.
func (c *Coin) AddressOf(pubkey []byte) (string, error) {
	if len(pubkey) != 33 {
		return "", kdferrors.ErrInvalidAddress
	}
	return hexEncode(pubkey), nil
}

func (c *Coin) DeriveHTLCKeypair(uniqueData []byte) (coins.HTLCKeypair, error) {
	return coins.HTLCKeypair{PrivateKey: uniqueData}, nil
}

func msatAmount(a coins.Amount) (int64, error) {
	units, err := a.ToSmallestUnit(Decimals)
	if err != nil {
		return 0, err
	}
	return units.Int64(), nil
}

// SendHTLC issues a hold invoice committed to p.SecretHash as its
// payment_hash, the Lightning analogue of locking funds into an
// on-chain HTLC script.
func (c *Coin) SendHTLC(ctx context.Context, p coins.HTLCParams) (coins.SignedTx, error) {
	amountMsat, err := msatAmount(p.Amount)
	if err != nil {
		return coins.SignedTx{}, err
	}
	expiry := time.Until(p.LockTime)
	if expiry <= 0 {
		return coins.SignedTx{}, kdferrors.ErrTimelockOverflow
	}
	payReq, err := c.client.AddHoldInvoice(ctx, p.SecretHash, amountMsat, expiry, "atomic swap")
	if err != nil {
		return coins.SignedTx{}, kdferrors.New(kdferrors.KindTransport, "add_hold_invoice_failed", err)
	}
	return coins.SignedTx{TxHash: hexEncode(p.SecretHash[:]), TxHex: payReq}, nil
}

// ValidateHTLC checks that a hold invoice identified by its
// payment_hash matches the expected amount and has not already expired
// or been canceled, the Lightning analogue of the other chains'
// redeem-script/contract-field comparison.
func (c *Coin) ValidateHTLC(ctx context.Context, rawTx []byte, expected coins.HTLCParams) (coins.ValidationResult, error) {
	inv, err := c.client.LookupInvoice(ctx, expected.SecretHash)
	if err != nil {
		return coins.ValidationUnexpectedState, kdferrors.New(kdferrors.KindTransport, "lookup_invoice_failed", err)
	}
	if inv.Stage == InvoiceCanceled {
		return coins.ValidationWrongPayment, kdferrors.ErrWrongPayment
	}
	wantMsat, err := msatAmount(expected.Amount)
	if err != nil {
		return coins.ValidationUnexpectedState, err
	}
	if inv.AmountMsat != wantMsat {
		return coins.ValidationWrongPayment, kdferrors.ErrWrongPayment
	}
	if inv.ExpiryUnix <= time.Now().Unix() {
		return coins.ValidationWrongPayment, kdferrors.ErrWrongPayment
	}
	if inv.ExpiryUnix > expected.LockTime.Unix() {
		return coins.ValidationWrongPayment, kdferrors.ErrTimelockOverflow
	}
	return coins.ValidationOK, nil
}

// SpendHTLC settles the hold invoice by revealing secret as its
// preimage, the Lightning equivalent of broadcasting a script-spend
// transaction.
func (c *Coin) SpendHTLC(ctx context.Context, otherPaymentTx []byte, secret [32]byte, my coins.HTLCKeypair) (coins.SignedTx, error) {
	if err := c.client.SettleInvoice(ctx, secret); err != nil {
		return coins.SignedTx{}, kdferrors.New(kdferrors.KindTransport, "settle_invoice_failed", err)
	}
	return coins.SignedTx{TxHash: hexEncode(secret[:])}, nil
}

// RefundHTLC cancels the hold invoice. There is no timelock-expiry
// broadcast step: lnd itself enforces the invoice expiry and will have
// already force-canceled an unaccepted invoice by the time a caller
// needs to refund, so this call is idempotent with that automatic
// cancellation.
func (c *Coin) RefundHTLC(ctx context.Context, myPaymentTx []byte, my coins.HTLCKeypair) (coins.SignedTx, error) {
	if len(myPaymentTx) != 32 {
		return coins.SignedTx{}, kdferrors.ErrUnexpectedState
	}
	var paymentHash [32]byte
	copy(paymentHash[:], myPaymentTx)
	if err := c.client.CancelInvoice(ctx, paymentHash); err != nil {
		return coins.SignedTx{}, kdferrors.New(kdferrors.KindTransport, "cancel_invoice_failed", err)
	}
	return coins.SignedTx{TxHash: hexEncode(paymentHash[:])}, nil
}

// ExtractSecret reads the settled invoice's preimage back out, the
// counterparty-observable half of spec.md §4.2's secret-reveal step.
func (c *Coin) ExtractSecret(ctx context.Context, spendTx []byte, secretHash [32]byte) ([32]byte, error) {
	inv, err := c.client.LookupInvoice(ctx, secretHash)
	if err != nil {
		return [32]byte{}, kdferrors.New(kdferrors.KindTransport, "lookup_invoice_failed", err)
	}
	if !inv.HasPreimage {
		return [32]byte{}, kdferrors.New(kdferrors.KindContentMismatch, "invoice_not_yet_settled", nil)
	}
	return inv.Preimage, nil
}

// WaitForConfirmations waits for the hold invoice to reach the
// Accepted stage: the payer's HTLC has locked in across the route,
// the Lightning analogue of an on-chain tx reaching n confirmations.
func (c *Coin) WaitForConfirmations(ctx context.Context, tx []byte, n uint32, until time.Time) error {
	if len(tx) != 32 {
		return kdferrors.ErrUnexpectedState
	}
	var paymentHash [32]byte
	copy(paymentHash[:], tx)
	for {
		inv, err := c.client.LookupInvoice(ctx, paymentHash)
		if err == nil && (inv.Stage == InvoiceAccepted || inv.Stage == InvoiceSettled) {
			return nil
		}
		if err != nil {
			log.Debug("wait_for_confirmations transport error, retrying", "err", err)
		}
		if time.Now().After(until) {
			return kdferrors.New(kdferrors.KindTransport, "confirmation_wait_timed_out", nil)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(2 * time.Second):
		}
	}
}

// WaitForTxSpend polls the invoice until it is settled, returning the
// revealed preimage as the "spend tx" bytes other Coin variants return
// as a raw transaction.
func (c *Coin) WaitForTxSpend(ctx context.Context, tx []byte, fromBlock uint64, until time.Time) ([]byte, error) {
	if len(tx) != 32 {
		return nil, kdferrors.ErrUnexpectedState
	}
	var paymentHash [32]byte
	copy(paymentHash[:], tx)
	for {
		inv, err := c.client.LookupInvoice(ctx, paymentHash)
		if err == nil {
			if inv.Stage == InvoiceSettled && inv.HasPreimage {
				return inv.Preimage[:], nil
			}
			if inv.Stage == InvoiceCanceled {
				return nil, kdferrors.New(kdferrors.KindContentMismatch, "invoice_canceled", nil)
			}
		}
		if time.Now().After(until) {
			return nil, kdferrors.New(kdferrors.KindTransport, "spend_wait_timed_out", nil)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(2 * time.Second):
		}
	}
}

func (c *Coin) CurrentBlock(ctx context.Context) (uint64, error) {
	info, err := c.client.GetInfo(ctx, &lnrpc.GetInfoRequest{})
	if err != nil {
		return 0, kdferrors.New(kdferrors.KindTransport, "get_info_failed", err)
	}
	return uint64(info.BlockHeight), nil
}

// Balance reports the node's aggregate outbound channel balance, since
// Lightning has no per-address balance concept.
func (c *Coin) Balance(ctx context.Context, address string) (coins.Amount, error) {
	resp, err := c.client.ChannelBalance(ctx, &lnrpc.ChannelBalanceRequest{})
	if err != nil {
		return coins.Amount{}, kdferrors.New(kdferrors.KindTransport, "channel_balance_failed", err)
	}
	var msat int64
	if resp.LocalBalance != nil {
		msat = resp.LocalBalance.Msat
	}
	return coins.AmountFromSmallestUnit(big.NewInt(msat), Decimals), nil
}

// Broadcast has no Lightning analogue: invoices are created, accepted,
// settled, or canceled, never broadcast as raw transactions.
func (c *Coin) Broadcast(ctx context.Context, rawTx []byte) (string, error) {
	return "", kdferrors.New(kdferrors.KindInternal, "broadcast_not_applicable_to_lightning", nil)
}

var _ coins.Coin = (*Coin)(nil)
