// Package p2p wraps libp2p-pubsub topic join/subscribe/publish behind a
// small typed seam the swap, tx-helper and healthcheck subsystems consume,
// following the topic layout of internal/node/swap_handler.go in the
// klingdex reference: one topic per concern, the owning task alone drains
// its subscription.
package p2p

import (
	"context"
	"fmt"

	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/peer"
)

// Message is a received pubsub message plus the peer it arrived from.
type Message struct {
	From peer.ID
	Data []byte
}

// Topic is a joined pubsub topic with its single active subscription.
// Per spec.md §5, exactly one task drains a given swap's topic; Topic
// does not fan out to multiple consumers.
type Topic struct {
	name string
	t    *pubsub.Topic
	sub  *pubsub.Subscription
	self peer.ID
}

// Publisher publishes to and subscribes on gossip topics. *Node satisfies
// it.
type Publisher interface {
	Self() peer.ID
	JoinTopic(ctx context.Context, name string) (*Topic, error)
}

// Node is a thin wrapper around a libp2p-pubsub router.
type Node struct {
	ps   *pubsub.PubSub
	self peer.ID
}

// NewNode wraps an already-constructed pubsub router and host id.
func NewNode(ps *pubsub.PubSub, self peer.ID) *Node {
	return &Node{ps: ps, self: self}
}

func (n *Node) Self() peer.ID { return n.self }

// JoinTopic joins name and subscribes immediately, matching
// SwapHandler.Start's join-then-subscribe sequencing.
func (n *Node) JoinTopic(ctx context.Context, name string) (*Topic, error) {
	t, err := n.ps.Join(name)
	if err != nil {
		return nil, fmt.Errorf("p2p: join %s: %w", name, err)
	}
	sub, err := t.Subscribe()
	if err != nil {
		return nil, fmt.Errorf("p2p: subscribe %s: %w", name, err)
	}
	return &Topic{name: name, t: t, sub: sub, self: n.self}, nil
}

// Publish broadcasts data on the topic.
func (tp *Topic) Publish(ctx context.Context, data []byte) error {
	return tp.t.Publish(ctx, data)
}

// Next blocks until a message from a peer other than self arrives or ctx
// is done.
func (tp *Topic) Next(ctx context.Context) (*Message, error) {
	for {
		msg, err := tp.sub.Next(ctx)
		if err != nil {
			return nil, err
		}
		if msg.ReceivedFrom == tp.self {
			continue
		}
		return &Message{From: msg.ReceivedFrom, Data: msg.Data}, nil
	}
}

// Close cancels the subscription and leaves the topic.
func (tp *Topic) Close() error {
	tp.sub.Cancel()
	return tp.t.Close()
}

// Topic name helpers, matching spec.md §6's three topic families.

// SwapTopic returns the per-swap-uuid negotiation/payment topic name.
func SwapTopic(swapUUID string) string {
	return fmt.Sprintf("/kdf/swap/%s", swapUUID)
}

// CoinTxHelperTopic returns the per-coin broadcast-assist topic name.
func CoinTxHelperTopic(ticker string) string {
	return fmt.Sprintf("/kdf/txhelper/%s", ticker)
}

// HealthcheckTopic returns the per-peer healthcheck topic name, using the
// "hcheck/" prefix spec.md §4.6/§6 mandates.
func HealthcheckTopic(peerID string) string {
	return fmt.Sprintf("hcheck/%s", peerID)
}
