// Package swap implements the maker/taker/watcher state machines from
// spec.md §4.2: a four-transaction HTLC protocol driven by a
// compute-command / execute-command / append-events / persist loop.
// Grounded on
// original_source/mm2src/mm2_main/src/lp_swap/swap_watcher.rs's
// Command/Event split (handle_command returns the next command plus the
// events it produced; apply_event folds them into in-memory state) and
// its WatcherEvent/WatcherCommand enums, generalised to the maker and
// taker roles spec.md §4.2.2/§4.2.3 name.
package swap

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/meshswap/kdfnode/internal/coins"
	"github.com/meshswap/kdfnode/internal/kdferrors"
	"github.com/meshswap/kdfnode/internal/logging"
)

var log = logging.Component("swap")

// Role is one of the three tasks spec.md §3 names for a Swap.
type Role int

const (
	RoleMaker Role = iota
	RoleTaker
	RoleWatcher
)

func (r Role) String() string {
	switch r {
	case RoleMaker:
		return "maker"
	case RoleTaker:
		return "taker"
	case RoleWatcher:
		return "watcher"
	default:
		return "unknown"
	}
}

// EventKind tags every protocol step and its failure counterpart, per
// spec.md §3's literal enumeration. A single Kind space is shared across
// roles; each role's machine only ever emits the subset relevant to it.
type EventKind int

const (
	EventStarted EventKind = iota
	EventStartFailed
	EventNegotiationSent
	EventNegotiationReceived
	EventNegotiateFailed
	EventTakerFeeSent
	EventTakerFeeValidated
	EventTakerFeeValidateFailed
	EventMakerPaymentSent
	EventMakerPaymentSendFailed
	EventMakerPaymentValidated
	EventMakerPaymentValidateFailed
	EventTakerPaymentSent
	EventTakerPaymentSendFailed
	EventTakerPaymentValidated
	EventTakerPaymentValidateFailed
	EventTakerPaymentSpent
	EventTakerPaymentSpendFailed
	EventTakerPaymentWaitForSpendFailed
	EventMakerPaymentSpent
	EventMakerPaymentSpendFailed
	EventMakerPaymentWaitRefundStarted
	EventMakerPaymentRefunded
	EventMakerPaymentRefundFailed
	EventTakerPaymentWaitRefundStarted
	EventTakerPaymentRefunded
	EventTakerPaymentRefundFailed
	EventFinished
)

func (k EventKind) String() string {
	names := map[EventKind]string{
		EventStarted:                        "Started",
		EventStartFailed:                    "StartFailed",
		EventNegotiationSent:                "NegotiationSent",
		EventNegotiationReceived:             "NegotiationReceived",
		EventNegotiateFailed:                "NegotiateFailed",
		EventTakerFeeSent:                    "TakerFeeSent",
		EventTakerFeeValidated:               "TakerFeeValidated",
		EventTakerFeeValidateFailed:          "TakerFeeValidateFailed",
		EventMakerPaymentSent:                "MakerPaymentSent",
		EventMakerPaymentSendFailed:          "MakerPaymentSendFailed",
		EventMakerPaymentValidated:           "MakerPaymentValidated",
		EventMakerPaymentValidateFailed:      "MakerPaymentValidateFailed",
		EventTakerPaymentSent:                "TakerPaymentSent",
		EventTakerPaymentSendFailed:          "TakerPaymentSendFailed",
		EventTakerPaymentValidated:           "TakerPaymentValidated",
		EventTakerPaymentValidateFailed:      "TakerPaymentValidateFailed",
		EventTakerPaymentSpent:               "TakerPaymentSpent",
		EventTakerPaymentSpendFailed:         "TakerPaymentSpendFailed",
		EventTakerPaymentWaitForSpendFailed:  "TakerPaymentWaitForSpendFailed",
		EventMakerPaymentSpent:               "MakerPaymentSpent",
		EventMakerPaymentSpendFailed:         "MakerPaymentSpendFailed",
		EventMakerPaymentWaitRefundStarted:   "MakerPaymentWaitRefundStarted",
		EventMakerPaymentRefunded:            "MakerPaymentRefunded",
		EventMakerPaymentRefundFailed:        "MakerPaymentRefundFailed",
		EventTakerPaymentWaitRefundStarted:   "TakerPaymentWaitRefundStarted",
		EventTakerPaymentRefunded:            "TakerPaymentRefunded",
		EventTakerPaymentRefundFailed:        "TakerPaymentRefundFailed",
		EventFinished:                        "Finished",
	}
	if s, ok := names[k]; ok {
		return s
	}
	return "Unknown"
}

// IsFailure reports whether this event kind is one of the "*Failed"
// variants spec.md §3 names, terminal for the current transition.
func (k EventKind) IsFailure() bool {
	switch k {
	case EventStartFailed, EventNegotiateFailed, EventTakerFeeValidateFailed,
		EventMakerPaymentSendFailed, EventMakerPaymentValidateFailed,
		EventTakerPaymentSendFailed, EventTakerPaymentValidateFailed,
		EventTakerPaymentSpendFailed, EventTakerPaymentWaitForSpendFailed,
		EventMakerPaymentSpendFailed, EventMakerPaymentRefundFailed,
		EventTakerPaymentRefundFailed:
		return true
	default:
		return false
	}
}

// Event is one append-only entry of Swap.event_log, per spec.md §3: "the
// event log is the only authoritative record of swap state; recovery on
// restart is derived exclusively by replaying the log."
type Event struct {
	Kind      EventKind `json:"kind"`
	Timestamp time.Time `json:"timestamp"`
	TxHex     string    `json:"tx_hex,omitempty"`
	TxHash    string    `json:"tx_hash,omitempty"`
	Secret    string    `json:"secret,omitempty"` // hex-encoded, set only on TakerPaymentSpent
	FailKind  string    `json:"fail_kind,omitempty"`
	FailMsg   string    `json:"fail_msg,omitempty"`
}

func newEvent(kind EventKind) Event {
	return Event{Kind: kind, Timestamp: time.Now()}
}

func failureEvent(kind EventKind, err error) Event {
	e := newEvent(kind)
	e.FailMsg = err.Error()
	var kerr *kdferrors.Error
	if errors.As(err, &kerr) {
		e.FailKind = kerr.Kind.String()
	}
	return e
}

// Swap is the entity shared by every role's machine: identity plus the
// frozen-at-construction negotiated parameters plus the append-only
// event log, per spec.md §3's data-model entry.
type Swap struct {
	UUID       uuid.UUID
	Role       Role
	MakerCoin  coins.Coin
	TakerCoin  coins.Coin
	MakerAmount coins.Amount
	TakerAmount coins.Amount
	MyPubkey    []byte
	OtherPubkey []byte

	Secret     [32]byte
	SecretHash [32]byte

	MakerPaymentLocktime time.Time
	TakerPaymentLocktime time.Time
	StartedAt            time.Time

	eventLog []Event
	storage  Storage
}

// Storage persists a swap's event log append-only, per spec.md §4.2.1/
// §4.5: restart recovery replays exactly what was appended, nothing more.
type Storage interface {
	Append(ctx context.Context, swapUUID uuid.UUID, event Event) error
	Load(ctx context.Context, swapUUID uuid.UUID) ([]Event, error)
}

// New constructs a fresh Swap with an empty event log.
func New(role Role, makerCoin, takerCoin coins.Coin, makerAmount, takerAmount coins.Amount, myPubkey, otherPubkey []byte, storage Storage) *Swap {
	return &Swap{
		UUID:        uuid.New(),
		Role:        role,
		MakerCoin:   makerCoin,
		TakerCoin:   takerCoin,
		MakerAmount: makerAmount,
		TakerAmount: takerAmount,
		MyPubkey:    myPubkey,
		OtherPubkey: otherPubkey,
		StartedAt:   time.Now(),
		storage:     storage,
	}
}

// Resume reconstructs a Swap's event log from storage, for restart
// recovery. The caller's state machine then derives resume state by
// inspecting the tail of EventLog(), per spec.md §4.2.2's tie-break note.
func Resume(role Role, swapUUID uuid.UUID, makerCoin, takerCoin coins.Coin, storage Storage) (*Swap, error) {
	ctx := context.Background()
	events, err := storage.Load(ctx, swapUUID)
	if err != nil {
		return nil, kdferrors.New(kdferrors.KindStorage, "load_swap_log_failed", err)
	}
	return &Swap{
		UUID:      swapUUID,
		Role:      role,
		MakerCoin: makerCoin,
		TakerCoin: takerCoin,
		eventLog:  events,
		storage:   storage,
	}, nil
}

// EventLog returns the swap's append-only log, most recent last. Callers
// must not mutate the returned slice.
func (s *Swap) EventLog() []Event { return s.eventLog }

// LastEvent returns the most recently appended event, or the zero Event
// if the log is empty (a freshly-constructed, not-yet-started swap).
func (s *Swap) LastEvent() (Event, bool) {
	if len(s.eventLog) == 0 {
		return Event{}, false
	}
	return s.eventLog[len(s.eventLog)-1], true
}

// IsFinished reports whether the swap has reached a terminal state:
// a Finished event appended (whether preceded by success events or by a
// *Failed event, per spec.md §3/§7's terminal-state definition).
func (s *Swap) IsFinished() bool {
	e, ok := s.LastEvent()
	return ok && e.Kind == EventFinished
}

// transportRetryInterval is the fixed backoff spec.md §7 prescribes for
// Transport/InvalidResponse errors: "retried with fixed backoff within
// state machines."
const transportRetryInterval = 5 * time.Second

// retryTransport runs fn, sleeping transportRetryInterval and retrying in
// place for as long as it keeps returning a retryable (Transport/
// InvalidResponse) error. Per spec.md §7: "state machines recover locally
// from (1) and (2) by sleeping and retrying; all other kinds ... terminate
// the state machine" — so a non-retryable error (or success) is returned
// immediately for the caller to turn into an event. Returns ctx.Err() if
// ctx is cancelled while waiting between attempts.
func retryTransport(ctx context.Context, role Role, step string, fn func() error) error {
	for {
		err := fn()
		if err == nil || !kdferrors.Retryable(err) {
			return err
		}
		log.Warn("swap: transient error, retrying", "role", role, "step", step, "err", err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(transportRetryInterval):
		}
	}
}

// isContextErr reports whether err is (or wraps) ctx's own cancellation,
// signalling clean shutdown rather than a swap failure worth recording as
// a *Failed event.
func isContextErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// appendEvent persists then records an event. Persist-before-record
// matches spec.md §4.2.1's "(c) append events to log, (d) persist" order
// of operations reduced to a single atomic step: a crash between persist
// and in-memory append must not lose the event, so storage is the
// source of truth and the in-memory slice mirrors it only after success.
func (s *Swap) appendEvent(ctx context.Context, e Event) error {
	if s.storage != nil {
		if err := s.storage.Append(ctx, s.UUID, e); err != nil {
			return kdferrors.New(kdferrors.KindStorage, "append_swap_event_failed", err)
		}
	}
	s.eventLog = append(s.eventLog, e)
	log.Debug("swap event", "uuid", s.UUID, "role", s.Role, "kind", e.Kind)
	return nil
}

// jsonSwapFile is the on-disk shape FileStorage marshals.
type jsonSwapFile struct {
	Events []Event `json:"events"`
}

func marshalEvents(events []Event) ([]byte, error) {
	return json.Marshal(jsonSwapFile{Events: events})
}

func unmarshalEvents(data []byte) ([]Event, error) {
	var f jsonSwapFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, err
	}
	return f.Events, nil
}
