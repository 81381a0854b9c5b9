// Package orderbook defines the narrow boundary between this node's swap
// engine and the orderbook gossip layer, which spec.md §1's Non-goals
// places outside scope: "The orderbook gossip layer itself; the core
// consumes 'peer sent order X' events from it." This package holds only
// the consumer-side Event/Source shapes cmd/kdfnode wires a real gossip
// implementation into.
package orderbook

import (
	"context"
	"time"

	"github.com/meshswap/kdfnode/internal/coins"
)

// EventKind is one of the two order-match notifications spec.md §2's data
// flow names: "the orderbook (external) emits a MakerMatched/TakerConnect
// event -> a new Swap is constructed".
type EventKind int

const (
	// EventMakerMatched fires on the maker side once a taker has accepted
	// one of this node's resting orders.
	EventMakerMatched EventKind = iota
	// EventTakerConnect fires on the taker side once this node's own
	// taker request found a matching maker and connected to it.
	EventTakerConnect
)

func (k EventKind) String() string {
	switch k {
	case EventMakerMatched:
		return "MakerMatched"
	case EventTakerConnect:
		return "TakerConnect"
	default:
		return "Unknown"
	}
}

// Event carries exactly the negotiated-order fields a new Swap needs to
// be constructed, per spec.md §2's data flow: "a new Swap is constructed,
// bound to two Coin handles". Everything about how the match was found —
// order storage, best-orders ranking, gossip propagation — stays inside
// the external orderbook layer.
type Event struct {
	Kind EventKind

	MakerCoinTicker string
	TakerCoinTicker string
	MakerAmount     coins.Amount
	TakerAmount     coins.Amount

	CounterpartyPubkey []byte
	LockDuration       time.Duration
	DexFeeAddr         string
}

// Source is the seam a real orderbook/gossip implementation satisfies;
// cmd/kdfnode wires one in and drives Events into swap construction. Not
// implemented by this repo, per spec.md §1's Non-goals.
type Source interface {
	Events(ctx context.Context) (<-chan Event, error)
}
