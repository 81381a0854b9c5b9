package swap

import (
	"context"
	"encoding/hex"
	"time"

	"github.com/meshswap/kdfnode/internal/coins"
	"github.com/meshswap/kdfnode/internal/kdferrors"
)

// Taker drives the state machine from spec.md §4.2.3:
// Start -> Negotiation -> SendingTakerFee -> WaitingForMakerPayment ->
// ValidatingMakerPayment -> SendingTakerPayment ->
// WaitingForTakerPaymentSpend -> SpendingMakerPayment -> Finished.
type Taker struct {
	*Swap
	Topic topic

	// LockDuration is the taker's own lock window. Negotiation rejects a
	// maker lock that is not later than the taker's; it does not check
	// that the maker's lock is 2*LockDuration.
	LockDuration time.Duration
	DexFeeAddr   string

	htlcKeypair  coins.HTLCKeypair
	makerTxHex   []byte
	takerTxHex   []byte
	extractedSec [32]byte
}

// NewTaker constructs a Taker for a freshly-created Swap (not yet started).
func NewTaker(swap *Swap, topic topic, lockDuration time.Duration, dexFeeAddr string) *Taker {
	return &Taker{Swap: swap, Topic: topic, LockDuration: lockDuration, DexFeeAddr: dexFeeAddr}
}

type takerState string

const (
	takerStart                     takerState = "Start"
	takerNegotiation                takerState = "Negotiation"
	takerSendingTakerFee            takerState = "SendingTakerFee"
	takerWaitingForMakerPayment     takerState = "WaitingForMakerPayment"
	takerSendingTakerPayment        takerState = "SendingTakerPayment"
	takerWaitingForTakerPaymentSpend takerState = "WaitingForTakerPaymentSpend"
	takerSpendingMakerPayment       takerState = "SpendingMakerPayment"
	takerAwaitingOwnRefundWindow    takerState = "AwaitingOwnRefundWindow"
	takerFinished                   takerState = "Finished"
)

func (t *Taker) resumeState() takerState {
	e, ok := t.LastEvent()
	if !ok {
		return takerStart
	}
	switch e.Kind {
	case EventStarted, EventNegotiationSent:
		return takerNegotiation
	case EventNegotiationReceived:
		return takerSendingTakerFee
	case EventTakerFeeSent:
		return takerWaitingForMakerPayment
	case EventMakerPaymentValidated:
		return takerSendingTakerPayment
	case EventTakerPaymentSent:
		return takerWaitingForTakerPaymentSpend
	case EventTakerPaymentWaitForSpendFailed, EventTakerPaymentWaitRefundStarted:
		return takerAwaitingOwnRefundWindow
	case EventTakerPaymentSpent:
		return takerSpendingMakerPayment
	case EventStartFailed, EventNegotiateFailed, EventMakerPaymentValidateFailed,
		EventTakerPaymentSendFailed, EventMakerPaymentSpent, EventMakerPaymentSpendFailed,
		EventTakerPaymentRefunded, EventTakerPaymentRefundFailed, EventFinished:
		return takerFinished
	default:
		return takerFinished
	}
}

// Run drives the taker loop until Finished is reached or ctx is cancelled.
func (t *Taker) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		state := t.resumeState()
		if state == takerFinished {
			if !t.IsFinished() {
				return t.appendEvent(ctx, newEvent(EventFinished))
			}
			return nil
		}

		var err error
		switch state {
		case takerStart:
			err = t.doStart(ctx)
		case takerNegotiation:
			err = t.doNegotiation(ctx)
		case takerSendingTakerFee:
			err = t.doSendTakerFee(ctx)
		case takerWaitingForMakerPayment:
			err = t.doWaitForMakerPayment(ctx)
		case takerSendingTakerPayment:
			err = t.doSendTakerPayment(ctx)
		case takerWaitingForTakerPaymentSpend:
			err = t.doWaitForTakerPaymentSpend(ctx)
		case takerSpendingMakerPayment:
			err = t.doSpendMakerPayment(ctx)
		case takerAwaitingOwnRefundWindow:
			err = t.doAwaitOwnRefund(ctx)
		}
		if err != nil {
			return err
		}
	}
}

func (t *Taker) doStart(ctx context.Context) error {
	t.StartedAt = time.Now()
	t.TakerPaymentLocktime = t.StartedAt.Add(t.LockDuration)

	kp, err := t.TakerCoin.DeriveHTLCKeypair(t.UUID[:])
	if err != nil {
		return t.appendEvent(ctx, failureEvent(EventStartFailed, err))
	}
	t.htlcKeypair = kp
	return t.appendEvent(ctx, newEvent(EventStarted))
}

func (t *Taker) doNegotiation(ctx context.Context) error {
	mine := negotiationPayload{
		PaymentLocktime: t.TakerPaymentLocktime.Unix(),
		SwapContract:    t.TakerCoin.Ticker(),
		Pubkey:          hex.EncodeToString(t.htlcKeypair.PublicKey),
	}
	if err := publish(ctx, t.Topic, msgNegotiation, mine); err != nil {
		return t.appendEvent(ctx, failureEvent(EventNegotiateFailed, err))
	}
	if err := t.appendEvent(ctx, newEvent(EventNegotiationSent)); err != nil {
		return err
	}

	var theirs negotiationPayload
	if err := waitFor(ctx, t.Topic, msgNegotiation, &theirs); err != nil {
		return t.appendEvent(ctx, failureEvent(EventNegotiateFailed, err))
	}
	t.MakerPaymentLocktime = time.Unix(theirs.PaymentLocktime, 0)
	pk, err := hex.DecodeString(theirs.Pubkey)
	if err != nil {
		return t.appendEvent(ctx, failureEvent(EventNegotiateFailed, kdferrors.ErrInvalidAddress))
	}
	t.OtherPubkey = pk

	// spec.md §4.2.5/§3: maker lock must be strictly greater than taker
	// lock. The taker side checks this independently rather than trusting
	// the maker's own check; the 2x ratio is not checked here.
	if !t.TakerPaymentLocktime.Before(t.MakerPaymentLocktime) {
		return t.appendEvent(ctx, failureEvent(EventNegotiateFailed, kdferrors.New(kdferrors.KindContentMismatch, "locktime_invariant_violated", nil)))
	}
	return t.appendEvent(ctx, newEvent(EventNegotiationReceived))
}

// doSendTakerFee pays the small dex-fee commitment proving taker
// commitment before any HTLC is opened, per spec.md §4.2.3. Coin's
// capability set (spec.md §4.1) has no plain-payment primitive distinct
// from the HTLC quadruple, so the fee is modelled as an already-unlocked
// HTLC (zero lock time, zero secret hash) paid to the dex-fee address:
// it needs none of the HTLC's counterparty-spend/refund security, only
// send_htlc/broadcast's on-chain transfer mechanics.
func (t *Taker) doSendTakerFee(ctx context.Context) error {
	params := coins.HTLCParams{
		LockTime:  time.Unix(0, 0),
		Recipient: []byte(t.DexFeeAddr),
		Amount:    t.TakerAmount,
		Sender:    t.htlcKeypair.PublicKey,
	}
	var tx coins.SignedTx
	err := retryTransport(ctx, t.Role, "send_taker_fee", func() error {
		var rpcErr error
		tx, rpcErr = t.TakerCoin.SendHTLC(ctx, params)
		return rpcErr
	})
	if err != nil {
		if isContextErr(err) {
			return err
		}
		return t.appendEvent(ctx, failureEvent(EventStartFailed, err))
	}
	if err := publish(ctx, t.Topic, msgTakerFee, paymentPayload{TxHex: tx.TxHex, TxHash: tx.TxHash}); err != nil {
		log.Warn("taker: failed to announce taker fee", "swap_uuid", t.UUID, "err", err)
	}
	e := newEvent(EventTakerFeeSent)
	e.TxHex, e.TxHash = tx.TxHex, tx.TxHash
	return t.appendEvent(ctx, e)
}

// doWaitForMakerPayment waits for the maker's payment announcement and
// validates it in one step, mirroring Maker.doWaitForTakerPayment's
// rationale: no distinct "received" event exists in spec.md §3's list.
func (t *Taker) doWaitForMakerPayment(ctx context.Context) error {
	var pay paymentPayload
	if err := waitFor(ctx, t.Topic, msgMakerPayment, &pay); err != nil {
		return t.appendEvent(ctx, failureEvent(EventMakerPaymentValidateFailed, err))
	}
	raw, err := hex.DecodeString(pay.TxHex)
	if err != nil {
		return t.appendEvent(ctx, failureEvent(EventMakerPaymentValidateFailed, kdferrors.ErrInvalidAddress))
	}
	t.makerTxHex = raw

	expected := coins.HTLCParams{
		LockTime:    t.MakerPaymentLocktime,
		OtherPubkey: t.OtherPubkey,
		SecretHash:  t.SecretHash,
		Amount:      t.MakerAmount,
		Recipient:   t.htlcKeypair.PublicKey,
		Sender:      t.OtherPubkey,
	}
	var result coins.ValidationResult
	err = retryTransport(ctx, t.Role, "validate_maker_payment", func() error {
		var rpcErr error
		result, rpcErr = t.MakerCoin.ValidateHTLC(ctx, t.makerTxHex, expected)
		return rpcErr
	})
	if err != nil {
		if isContextErr(err) {
			return err
		}
		return t.appendEvent(ctx, failureEvent(EventMakerPaymentValidateFailed, err))
	}
	if result != coins.ValidationOK {
		return t.appendEvent(ctx, failureEvent(EventMakerPaymentValidateFailed, kdferrors.ErrWrongPayment))
	}
	return t.appendEvent(ctx, newEvent(EventMakerPaymentValidated))
}

func (t *Taker) doSendTakerPayment(ctx context.Context) error {
	params := coins.HTLCParams{
		LockTime:    t.TakerPaymentLocktime,
		OtherPubkey: t.OtherPubkey,
		SecretHash:  t.SecretHash,
		Amount:      t.TakerAmount,
		Recipient:   t.OtherPubkey,
		Sender:      t.htlcKeypair.PublicKey,
	}
	var tx coins.SignedTx
	err := retryTransport(ctx, t.Role, "send_taker_payment", func() error {
		var rpcErr error
		tx, rpcErr = t.TakerCoin.SendHTLC(ctx, params)
		return rpcErr
	})
	if err != nil {
		if isContextErr(err) {
			return err
		}
		return t.appendEvent(ctx, failureEvent(EventTakerPaymentSendFailed, err))
	}
	t.takerTxHex = []byte(tx.TxHex)
	if err := publish(ctx, t.Topic, msgTakerPayment, paymentPayload{TxHex: tx.TxHex, TxHash: tx.TxHash}); err != nil {
		log.Warn("taker: failed to announce taker payment", "swap_uuid", t.UUID, "err", err)
	}
	e := newEvent(EventTakerPaymentSent)
	e.TxHex, e.TxHash = tx.TxHex, tx.TxHash
	return t.appendEvent(ctx, e)
}

// doWaitForTakerPaymentSpend polls for the maker's spend of the taker's
// payment, extracts the revealed secret from it, per spec.md §4.2.3: "from
// it the taker calls extract_secret". On timeout (no spend observed
// before the taker's own lock), the taker begins its refund recovery
// path instead.
func (t *Taker) doWaitForTakerPaymentSpend(ctx context.Context) error {
	var spendTx []byte
	err := retryTransport(ctx, t.Role, "wait_for_taker_payment_spend", func() error {
		var rpcErr error
		spendTx, rpcErr = t.TakerCoin.WaitForTxSpend(ctx, t.takerTxHex, 0, t.TakerPaymentLocktime)
		return rpcErr
	})
	if err != nil {
		if isContextErr(err) {
			return err
		}
		return t.appendEvent(ctx, failureEvent(EventTakerPaymentWaitForSpendFailed, err))
	}
	var secret [32]byte
	err = retryTransport(ctx, t.Role, "extract_secret", func() error {
		var rpcErr error
		secret, rpcErr = t.TakerCoin.ExtractSecret(ctx, spendTx, t.SecretHash)
		return rpcErr
	})
	if err != nil {
		if isContextErr(err) {
			return err
		}
		return t.appendEvent(ctx, failureEvent(EventTakerPaymentWaitForSpendFailed, err))
	}
	t.extractedSec = secret
	t.Secret = secret
	e := newEvent(EventTakerPaymentSpent)
	e.Secret = hex.EncodeToString(secret[:])
	return t.appendEvent(ctx, e)
}

func (t *Taker) doSpendMakerPayment(ctx context.Context) error {
	var tx coins.SignedTx
	err := retryTransport(ctx, t.Role, "spend_maker_payment", func() error {
		var rpcErr error
		tx, rpcErr = t.MakerCoin.SpendHTLC(ctx, t.makerTxHex, t.extractedSec, t.htlcKeypair)
		return rpcErr
	})
	if err != nil {
		if isContextErr(err) {
			return err
		}
		return t.appendEvent(ctx, failureEvent(EventMakerPaymentSpendFailed, err))
	}
	e := newEvent(EventMakerPaymentSpent)
	e.TxHex, e.TxHash = tx.TxHex, tx.TxHash
	return t.appendEvent(ctx, e)
}

// doAwaitOwnRefund implements spec.md §4.2.3's first recovery path:
// "Taker payment sent but maker does not spend before
// taker_payment_locktime: taker waits for the lock, then submits
// refund_htlc. Refund broadcast is retried until a mined refund tx is
// confirmed."
func (t *Taker) doAwaitOwnRefund(ctx context.Context) error {
	if t.takerTxHex == nil {
		return t.appendEvent(ctx, newEvent(EventFinished))
	}
	if last, ok := t.LastEvent(); !ok || last.Kind != EventTakerPaymentWaitRefundStarted {
		if err := t.appendEvent(ctx, newEvent(EventTakerPaymentWaitRefundStarted)); err != nil {
			return err
		}
	}
	if err := t.TakerCoin.WaitForConfirmations(ctx, t.takerTxHex, 1, t.TakerPaymentLocktime); err != nil {
		log.Warn("taker: error waiting for own refund window", "swap_uuid", t.UUID, "err", err)
	}
	var tx coins.SignedTx
	err := retryTransport(ctx, t.Role, "refund_taker_payment", func() error {
		var rpcErr error
		tx, rpcErr = t.TakerCoin.RefundHTLC(ctx, t.takerTxHex, t.htlcKeypair)
		return rpcErr
	})
	if err != nil {
		if isContextErr(err) {
			return err
		}
		return t.appendEvent(ctx, failureEvent(EventTakerPaymentRefundFailed, err))
	}
	e := newEvent(EventTakerPaymentRefunded)
	e.TxHex, e.TxHash = tx.TxHex, tx.TxHash
	return t.appendEvent(ctx, e)
}
