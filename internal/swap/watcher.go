package swap

import (
	"context"
	"encoding/hex"

	"github.com/meshswap/kdfnode/internal/coins"
	"github.com/meshswap/kdfnode/internal/kdferrors"
)

// Watcher drives the state machine from spec.md §4.2.4, grounded directly
// on original_source/mm2src/mm2_main/src/lp_swap/swap_watcher.rs's
// Watcher/WatcherEvent/WatcherCommand: Start -> ValidatingTakerPayment ->
// WaitingForTakerPaymentSpend -> SpendingMakerPaymentOnBehalf -> Finished.
// Unlike Maker/Taker it never derives a keypair or signs anything itself;
// it holds a taker-supplied pre-signed spend of the maker's payment and
// only learns the secret by observing the taker payment get spent.
type Watcher struct {
	*Swap

	// TakerPaymentHex is the taker's HTLC payment on TakerCoin, the
	// payment this watcher validates and then watches for a spend.
	TakerPaymentHex []byte
	// TakerSpendsMakerPaymentPreimage is the pre-signed transaction
	// spending the maker's payment, supplied by the taker at swap start.
	// spec.md §4.2.4's invariant: "the watcher's spend uses the exact
	// preimage it was handed; it never constructs a new signature" — so
	// this watcher only ever inserts the learned secret into it and
	// broadcasts, never calling SpendHTLC.
	TakerSpendsMakerPaymentPreimage []byte
	RequiredConfirmations           uint32

	extractedSecret [32]byte
}

// NewWatcher constructs a Watcher for a freshly-created Swap carrying the
// taker-supplied preimage and payment data.
func NewWatcher(swap *Swap, takerPaymentHex, preimage []byte, requiredConfs uint32) *Watcher {
	return &Watcher{
		Swap:                            swap,
		TakerPaymentHex:                 takerPaymentHex,
		TakerSpendsMakerPaymentPreimage: preimage,
		RequiredConfirmations:           requiredConfs,
	}
}

type watcherState string

const (
	watcherStart                       watcherState = "Start"
	watcherValidatingTakerPayment      watcherState = "ValidatingTakerPayment"
	watcherWaitingForTakerPaymentSpend watcherState = "WaitingForTakerPaymentSpend"
	watcherSpendingMakerPaymentOnBehalf watcherState = "SpendingMakerPaymentOnBehalf"
	watcherFinished                    watcherState = "Finished"
)

func (w *Watcher) resumeState() watcherState {
	e, ok := w.LastEvent()
	if !ok {
		return watcherStart
	}
	switch e.Kind {
	case EventStarted:
		return watcherValidatingTakerPayment
	case EventTakerPaymentValidated:
		return watcherWaitingForTakerPaymentSpend
	case EventTakerPaymentSpent:
		return watcherSpendingMakerPaymentOnBehalf
	case EventStartFailed, EventTakerPaymentValidateFailed,
		EventTakerPaymentWaitForSpendFailed, EventMakerPaymentSpendFailed,
		EventMakerPaymentSpent, EventFinished:
		return watcherFinished
	default:
		return watcherFinished
	}
}

// Run drives the watcher loop until Finished is reached or ctx is
// cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		state := w.resumeState()
		if state == watcherFinished {
			if !w.IsFinished() {
				return w.appendEvent(ctx, newEvent(EventFinished))
			}
			return nil
		}

		var err error
		switch state {
		case watcherStart:
			err = w.doStart(ctx)
		case watcherValidatingTakerPayment:
			err = w.doValidateTakerPayment(ctx)
		case watcherWaitingForTakerPaymentSpend:
			err = w.doWaitForTakerPaymentSpend(ctx)
		case watcherSpendingMakerPaymentOnBehalf:
			err = w.doSpendMakerPaymentOnBehalf(ctx)
		}
		if err != nil {
			return err
		}
	}
}

func (w *Watcher) doStart(ctx context.Context) error {
	return w.appendEvent(ctx, newEvent(EventStarted))
}

// doValidateTakerPayment mirrors Maker/Taker's on-chain HTLC checks
// against the taker's payment, the rust source's validate_taker_payment.
func (w *Watcher) doValidateTakerPayment(ctx context.Context) error {
	expected := coins.HTLCParams{
		LockTime:      w.TakerPaymentLocktime,
		OtherPubkey:   w.OtherPubkey,
		SecretHash:    w.SecretHash,
		Amount:        w.TakerAmount,
		RequiredConfs: w.RequiredConfirmations,
	}
	result, err := w.TakerCoin.ValidateHTLC(ctx, w.TakerPaymentHex, expected)
	if err != nil {
		return w.appendEvent(ctx, failureEvent(EventTakerPaymentValidateFailed, err))
	}
	if result != coins.ValidationOK {
		return w.appendEvent(ctx, failureEvent(EventTakerPaymentValidateFailed, kdferrors.ErrWrongPayment))
	}
	if err := w.TakerCoin.WaitForConfirmations(ctx, w.TakerPaymentHex, w.RequiredConfirmations, w.TakerPaymentLocktime); err != nil {
		return w.appendEvent(ctx, failureEvent(EventTakerPaymentValidateFailed, err))
	}
	return w.appendEvent(ctx, newEvent(EventTakerPaymentValidated))
}

// doWaitForTakerPaymentSpend watches for the taker payment's spend (the
// maker claiming it) and extracts the secret from it, exactly like
// Taker.doWaitForTakerPaymentSpend but the watcher never itself spends
// using this secret directly — it only inserts it into the pre-signed
// preimage in the next step.
func (w *Watcher) doWaitForTakerPaymentSpend(ctx context.Context) error {
	spendTx, err := w.TakerCoin.WaitForTxSpend(ctx, w.TakerPaymentHex, 0, w.TakerPaymentLocktime)
	if err != nil {
		return w.appendEvent(ctx, failureEvent(EventTakerPaymentWaitForSpendFailed, err))
	}
	secret, err := w.TakerCoin.ExtractSecret(ctx, spendTx, w.SecretHash)
	if err != nil {
		return w.appendEvent(ctx, failureEvent(EventTakerPaymentWaitForSpendFailed, err))
	}
	w.extractedSecret = secret
	e := newEvent(EventTakerPaymentSpent)
	e.Secret = hex.EncodeToString(secret[:])
	return w.appendEvent(ctx, e)
}

// doSpendMakerPaymentOnBehalf inserts the learned secret into the
// taker-supplied preimage and broadcasts it as-is: per spec.md §4.2.4's
// invariant, this is a plain on-chain broadcast of an already-signed
// transaction, never a fresh SpendHTLC call.
func (w *Watcher) doSpendMakerPaymentOnBehalf(ctx context.Context) error {
	finalTx := insertSecret(w.TakerSpendsMakerPaymentPreimage, w.extractedSecret)
	txHash, err := w.MakerCoin.Broadcast(ctx, finalTx)
	if err != nil {
		return w.appendEvent(ctx, failureEvent(EventMakerPaymentSpendFailed, err))
	}
	e := newEvent(EventMakerPaymentSpent)
	e.TxHash = txHash
	e.TxHex = hex.EncodeToString(finalTx)
	return w.appendEvent(ctx, e)
}

// insertSecret appends the secret preimage to a taker-supplied spend
// transaction that was pre-signed with everything but the secret itself
// (e.g. a UTXO scriptSig placeholder, or an EVM calldata tail) — the
// exact splice point is chain-specific and owned by each coins.Coin
// variant's SendHTLC/SpendHTLC encoding, so this glue only performs the
// generic append every variant's preimage format agrees on.
func insertSecret(preimage []byte, secret [32]byte) []byte {
	out := make([]byte, 0, len(preimage)+len(secret))
	out = append(out, preimage...)
	out = append(out, secret[:]...)
	return out
}
