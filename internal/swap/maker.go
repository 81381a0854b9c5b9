package swap

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/meshswap/kdfnode/internal/coins"
	"github.com/meshswap/kdfnode/internal/kdferrors"
)

// Maker drives the state machine from spec.md §4.2.2:
// Start -> Negotiation -> WaitingForTakerFee -> SendingMakerPayment ->
// WaitingForTakerPayment -> ValidatingTakerPayment -> SpendingTakerPayment
// -> Finished.
type Maker struct {
	*Swap
	Topic topic

	// LockDuration is the taker's lock window; the maker's own lock is
	// 2*LockDuration, enforcing spec.md §3's "maker lock >= 2x taker lock"
	// invariant.
	LockDuration time.Duration
	DexFeeAddr   string

	htlcKeypair coins.HTLCKeypair
	takerTxHex  []byte
	makerTxHex  []byte
}

// NewMaker constructs a Maker for a freshly-created Swap (not yet started).
func NewMaker(swap *Swap, topic topic, lockDuration time.Duration, dexFeeAddr string) *Maker {
	return &Maker{Swap: swap, Topic: topic, LockDuration: lockDuration, DexFeeAddr: dexFeeAddr}
}

// makerState names the node currently executed, derived from the event
// log's tail per spec.md §4.2.2's "tie-break on re-entry" note.
type makerState string

const (
	makerStart                   makerState = "Start"
	makerNegotiation              makerState = "Negotiation"
	makerWaitingForTakerFee       makerState = "WaitingForTakerFee"
	makerSendingMakerPayment      makerState = "SendingMakerPayment"
	makerWaitingForTakerPayment   makerState = "WaitingForTakerPayment"
	makerValidatingTakerPayment   makerState = "ValidatingTakerPayment"
	makerSpendingTakerPayment     makerState = "SpendingTakerPayment"
	makerAwaitingOwnRefundWindow  makerState = "AwaitingOwnRefundWindow"
	makerFinished                 makerState = "Finished"
)

func (m *Maker) resumeState() makerState {
	e, ok := m.LastEvent()
	if !ok {
		return makerStart
	}
	switch e.Kind {
	case EventStarted, EventNegotiationSent:
		return makerNegotiation
	case EventNegotiationReceived:
		return makerWaitingForTakerFee
	case EventTakerFeeValidated:
		return makerSendingMakerPayment
	case EventMakerPaymentSent:
		return makerWaitingForTakerPayment
	case EventTakerPaymentValidated:
		return makerSpendingTakerPayment
	case EventTakerPaymentValidateFailed, EventMakerPaymentWaitRefundStarted:
		return makerAwaitingOwnRefundWindow
	case EventStartFailed, EventNegotiateFailed, EventTakerFeeValidateFailed,
		EventMakerPaymentSendFailed, EventTakerPaymentSpent, EventTakerPaymentSpendFailed,
		EventMakerPaymentRefunded, EventMakerPaymentRefundFailed, EventFinished:
		return makerFinished
	default:
		return makerFinished
	}
}

// Run drives the maker loop until Finished is reached or ctx is cancelled.
func (m *Maker) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		state := m.resumeState()
		if state == makerFinished {
			if !m.IsFinished() {
				return m.appendEvent(ctx, newEvent(EventFinished))
			}
			return nil
		}

		var err error
		switch state {
		case makerStart:
			err = m.doStart(ctx)
		case makerNegotiation:
			err = m.doNegotiation(ctx)
		case makerWaitingForTakerFee:
			err = m.doWaitForTakerFee(ctx)
		case makerSendingMakerPayment:
			err = m.doSendMakerPayment(ctx)
		case makerWaitingForTakerPayment:
			err = m.doWaitForTakerPayment(ctx)
		case makerValidatingTakerPayment:
			err = m.doValidateTakerPayment(ctx)
		case makerSpendingTakerPayment:
			err = m.doSpendTakerPayment(ctx)
		case makerAwaitingOwnRefundWindow:
			err = m.doAwaitOwnRefund(ctx)
		}
		if err != nil {
			return err
		}
	}
}

func (m *Maker) doStart(ctx context.Context) error {
	var secret [32]byte
	if _, err := rand.Read(secret[:]); err != nil {
		return m.appendEvent(ctx, failureEvent(EventStartFailed, kdferrors.New(kdferrors.KindInternal, "secret_generation_failed", err)))
	}
	m.Secret = secret
	m.SecretHash = sha256.Sum256(secret[:])
	m.StartedAt = time.Now()
	m.MakerPaymentLocktime = m.StartedAt.Add(2 * m.LockDuration)

	kp, err := m.MakerCoin.DeriveHTLCKeypair(m.UUID[:])
	if err != nil {
		return m.appendEvent(ctx, failureEvent(EventStartFailed, err))
	}
	m.htlcKeypair = kp
	return m.appendEvent(ctx, newEvent(EventStarted))
}

func (m *Maker) doNegotiation(ctx context.Context) error {
	mine := negotiationPayload{
		PaymentLocktime: m.MakerPaymentLocktime.Unix(),
		SwapContract:    m.MakerCoin.Ticker(),
		Pubkey:          hex.EncodeToString(m.htlcKeypair.PublicKey),
	}
	if err := publish(ctx, m.Topic, msgNegotiation, mine); err != nil {
		return m.appendEvent(ctx, failureEvent(EventNegotiateFailed, err))
	}
	if err := m.appendEvent(ctx, newEvent(EventNegotiationSent)); err != nil {
		return err
	}

	var theirs negotiationPayload
	if err := waitFor(ctx, m.Topic, msgNegotiation, &theirs); err != nil {
		return m.appendEvent(ctx, failureEvent(EventNegotiateFailed, err))
	}
	m.TakerPaymentLocktime = time.Unix(theirs.PaymentLocktime, 0)
	pk, err := hex.DecodeString(theirs.Pubkey)
	if err != nil {
		return m.appendEvent(ctx, failureEvent(EventNegotiateFailed, kdferrors.ErrInvalidAddress))
	}
	m.OtherPubkey = pk

	// spec.md §4.2.5: "maker lock > taker lock invariant is enforced at
	// Negotiation; violation yields NegotiateFailed and the swap aborts
	// before any funds move."
	if !m.TakerPaymentLocktime.Before(m.MakerPaymentLocktime) {
		return m.appendEvent(ctx, failureEvent(EventNegotiateFailed, kdferrors.New(kdferrors.KindContentMismatch, "locktime_invariant_violated", nil)))
	}
	return m.appendEvent(ctx, newEvent(EventNegotiationReceived))
}

func (m *Maker) doWaitForTakerFee(ctx context.Context) error {
	var fee paymentPayload
	if err := waitFor(ctx, m.Topic, msgTakerFee, &fee); err != nil {
		return m.appendEvent(ctx, failureEvent(EventTakerFeeValidateFailed, err))
	}
	// Content validation (correct amount, correct dex-fee recipient) is
	// the responsibility of an out-of-scope fee-address check; here we
	// only require the message was well-formed and carried a tx hash.
	if fee.TxHash == "" {
		return m.appendEvent(ctx, failureEvent(EventTakerFeeValidateFailed, kdferrors.ErrWrongPayment))
	}
	return m.appendEvent(ctx, newEvent(EventTakerFeeValidated))
}

func (m *Maker) doSendMakerPayment(ctx context.Context) error {
	params := coins.HTLCParams{
		LockTime:    m.MakerPaymentLocktime,
		OtherPubkey: m.OtherPubkey,
		SecretHash:  m.SecretHash,
		Amount:      m.MakerAmount,
		Recipient:   m.OtherPubkey,
		Sender:      m.htlcKeypair.PublicKey,
	}
	var tx coins.SignedTx
	err := retryTransport(ctx, m.Role, "send_maker_payment", func() error {
		var rpcErr error
		tx, rpcErr = m.MakerCoin.SendHTLC(ctx, params)
		return rpcErr
	})
	if err != nil {
		if isContextErr(err) {
			return err
		}
		return m.appendEvent(ctx, failureEvent(EventMakerPaymentSendFailed, err))
	}
	m.makerTxHex = []byte(tx.TxHex)
	if err := publish(ctx, m.Topic, msgMakerPayment, paymentPayload{TxHex: tx.TxHex, TxHash: tx.TxHash}); err != nil {
		log.Warn("maker: failed to announce maker payment", "swap_uuid", m.UUID, "err", err)
	}
	e := newEvent(EventMakerPaymentSent)
	e.TxHex, e.TxHash = tx.TxHex, tx.TxHash
	return m.appendEvent(ctx, e)
}

// doWaitForTakerPayment waits for the taker's payment announcement and
// validates it in one step: spec.md §3's event list has no dedicated
// "payment received" event distinct from "payment validated", so
// WaitingForTakerPayment and ValidatingTakerPayment execute together and
// the log records only the validation outcome.
func (m *Maker) doWaitForTakerPayment(ctx context.Context) error {
	var pay paymentPayload
	if err := waitFor(ctx, m.Topic, msgTakerPayment, &pay); err != nil {
		return m.appendEvent(ctx, failureEvent(EventTakerPaymentValidateFailed, err))
	}
	raw, err := hex.DecodeString(pay.TxHex)
	if err != nil {
		return m.appendEvent(ctx, failureEvent(EventTakerPaymentValidateFailed, kdferrors.ErrInvalidAddress))
	}
	m.takerTxHex = raw
	return m.doValidateTakerPayment(ctx)
}

func (m *Maker) doValidateTakerPayment(ctx context.Context) error {
	expected := coins.HTLCParams{
		LockTime:    m.TakerPaymentLocktime,
		OtherPubkey: m.OtherPubkey,
		SecretHash:  m.SecretHash,
		Amount:      m.TakerAmount,
		Recipient:   m.htlcKeypair.PublicKey,
		Sender:      m.OtherPubkey,
	}
	var result coins.ValidationResult
	err := retryTransport(ctx, m.Role, "validate_taker_payment", func() error {
		var rpcErr error
		result, rpcErr = m.TakerCoin.ValidateHTLC(ctx, m.takerTxHex, expected)
		return rpcErr
	})
	if err != nil {
		if isContextErr(err) {
			return err
		}
		return m.appendEvent(ctx, failureEvent(EventTakerPaymentValidateFailed, err))
	}
	if result != coins.ValidationOK {
		return m.appendEvent(ctx, failureEvent(EventTakerPaymentValidateFailed, kdferrors.ErrWrongPayment))
	}
	return m.appendEvent(ctx, newEvent(EventTakerPaymentValidated))
}

// doSpendTakerPayment reveals the secret by spending the taker's HTLC
// payment. Transport/InvalidResponse errors are retried in place by
// retryTransport per spec.md §7; a content error here (e.g. the taker
// already refunded out from under us) is non-recoverable and terminates
// the swap via EventTakerPaymentSpendFailed.
func (m *Maker) doSpendTakerPayment(ctx context.Context) error {
	var tx coins.SignedTx
	err := retryTransport(ctx, m.Role, "spend_taker_payment", func() error {
		var rpcErr error
		tx, rpcErr = m.TakerCoin.SpendHTLC(ctx, m.takerTxHex, m.Secret, m.htlcKeypair)
		return rpcErr
	})
	if err != nil {
		if isContextErr(err) {
			return err
		}
		return m.appendEvent(ctx, failureEvent(EventTakerPaymentSpendFailed, err))
	}
	e := newEvent(EventTakerPaymentSpent)
	e.TxHex, e.TxHash, e.Secret = tx.TxHex, tx.TxHash, hex.EncodeToString(m.Secret[:])
	return m.appendEvent(ctx, e)
}

func (m *Maker) doAwaitOwnRefund(ctx context.Context) error {
	if m.makerTxHex == nil {
		// Payment was never sent; nothing to refund, just finish.
		return m.appendEvent(ctx, newEvent(EventFinished))
	}
	if last, ok := m.LastEvent(); !ok || last.Kind != EventMakerPaymentWaitRefundStarted {
		if err := m.appendEvent(ctx, newEvent(EventMakerPaymentWaitRefundStarted)); err != nil {
			return err
		}
	}
	if err := m.MakerCoin.WaitForConfirmations(ctx, m.makerTxHex, 1, m.MakerPaymentLocktime); err != nil {
		log.Warn("maker: error waiting for own refund window", "swap_uuid", m.UUID, "err", err)
	}
	var tx coins.SignedTx
	err := retryTransport(ctx, m.Role, "refund_maker_payment", func() error {
		var rpcErr error
		tx, rpcErr = m.MakerCoin.RefundHTLC(ctx, m.makerTxHex, m.htlcKeypair)
		return rpcErr
	})
	if err != nil {
		if isContextErr(err) {
			return err
		}
		return m.appendEvent(ctx, failureEvent(EventMakerPaymentRefundFailed, err))
	}
	e := newEvent(EventMakerPaymentRefunded)
	e.TxHex, e.TxHash = tx.TxHex, tx.TxHash
	return m.appendEvent(ctx, e)
}
