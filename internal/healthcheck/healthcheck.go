// Package healthcheck implements the peer connection healthcheck protocol
// from spec.md §4.6/§6/§8 scenario 5: a signed ping/pong exchanged over
// per-peer pubsub topics prefixed "hcheck/".
package healthcheck

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"time"

	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/peer"

	"github.com/meshswap/kdfnode/internal/expirable"
	"github.com/meshswap/kdfnode/internal/logging"
	"github.com/meshswap/kdfnode/internal/p2p"
)

var log = logging.Component("healthcheck")

type msgType string

const (
	typePing msgType = "ping"
	typePong msgType = "pong"
)

// message is the signed wire payload. SenderPeer is re-derived from
// SenderPublicKey on receipt rather than trusted verbatim.
type message struct {
	Type            msgType `json:"type"`
	Target          string  `json:"target"`
	SenderPeer      string  `json:"sender_peer"`
	SenderPublicKey []byte  `json:"sender_public_key"`
	ExpiresAtUnix   int64   `json:"expires_at"`
	Signature       []byte  `json:"signature"`
}

func (m message) signingBytes() []byte {
	return []byte(fmt.Sprintf("%s|%s|%s|%d", m.Type, m.Target, m.SenderPeer, m.ExpiresAtUnix))
}

// Context is the process-wide healthcheck state: one per process, holding
// the pending one-shot receivers and the reply dedup cache. It is one of
// the two process-wide global stores the design notes call out.
type Context struct {
	node    p2p.Publisher
	self    peer.ID
	privKey crypto.PrivKey
	maxTTL  time.Duration

	own *p2p.Topic

	pending *expirable.Map[peer.ID, chan bool]
	replied *expirable.Map[peer.ID, struct{}]
}

// Init constructs and starts the healthcheck context, joining our own
// "hcheck/<self>" topic and draining it for the lifetime of ctx.
func Init(ctx context.Context, node p2p.Publisher, self peer.ID, priv crypto.PrivKey, maxTTL time.Duration) (*Context, error) {
	topic, err := node.JoinTopic(ctx, p2p.HealthcheckTopic(self.String()))
	if err != nil {
		return nil, fmt.Errorf("healthcheck: join own topic: %w", err)
	}
	hc := &Context{
		node:    node,
		self:    self,
		privKey: priv,
		maxTTL:  maxTTL,
		own:     topic,
		pending: expirable.New[peer.ID, chan bool](nil),
		replied: expirable.New[peer.ID, struct{}](nil),
	}
	go hc.loop(ctx)
	return hc, nil
}

// Check sends a signed ping to target and blocks up to ttl (capped at
// maxTTL) for a valid pong. Returns false on timeout, target mismatch, or
// any validation failure upstream.
func (hc *Context) Check(ctx context.Context, target peer.ID, ttl time.Duration) (bool, error) {
	if ttl > hc.maxTTL {
		ttl = hc.maxTTL
	}

	ch := make(chan bool, 1)
	hc.pending.Insert(target, ch, ttl)

	msg, err := hc.sign(typePing, target, ttl)
	if err != nil {
		return false, err
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return false, fmt.Errorf("healthcheck: marshal ping: %w", err)
	}

	pingTopic, err := hc.node.JoinTopic(ctx, p2p.HealthcheckTopic(target.String()))
	if err != nil {
		return false, fmt.Errorf("healthcheck: join target topic: %w", err)
	}
	defer pingTopic.Close()

	if err := pingTopic.Publish(ctx, data); err != nil {
		return false, fmt.Errorf("healthcheck: publish ping: %w", err)
	}

	select {
	case ok := <-ch:
		return ok, nil
	case <-time.After(ttl):
		return false, nil
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

func (hc *Context) sign(t msgType, target peer.ID, ttl time.Duration) (*message, error) {
	pub, err := crypto.MarshalPublicKey(hc.privKey.GetPublic())
	if err != nil {
		return nil, fmt.Errorf("healthcheck: marshal pubkey: %w", err)
	}
	msg := &message{
		Type:            t,
		Target:          target.String(),
		SenderPeer:      hc.self.String(),
		SenderPublicKey: pub,
		ExpiresAtUnix:   time.Now().Add(ttl).UnixNano(),
	}
	sig, err := hc.privKey.Sign(msg.signingBytes())
	if err != nil {
		return nil, fmt.Errorf("healthcheck: sign: %w", err)
	}
	msg.Signature = sig
	return msg, nil
}

func (hc *Context) loop(ctx context.Context) {
	for {
		raw, err := hc.own.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Warn("healthcheck receive error", "err", err)
			continue
		}
		var msg message
		if err := json.Unmarshal(raw.Data, &msg); err != nil {
			log.Debug("healthcheck: malformed message", "err", err)
			continue
		}
		hc.handle(ctx, &msg)
	}
}

// validate enforces the rules spec.md §4.6 states: target matches our own
// id, expiry is in the future but no further than maxTTL out, signature
// verifies, and sender_peer hash-derives from sender_public_key.
func (hc *Context) validate(msg *message) error {
	if msg.Target != hc.self.String() {
		return fmt.Errorf("healthcheck: target mismatch")
	}
	expires := time.Unix(0, msg.ExpiresAtUnix)
	now := time.Now()
	if !expires.After(now) {
		return fmt.Errorf("healthcheck: expired")
	}
	if expires.After(now.Add(hc.maxTTL)) {
		return fmt.Errorf("healthcheck: expiry exceeds configured maximum")
	}
	pub, err := crypto.UnmarshalPublicKey(msg.SenderPublicKey)
	if err != nil {
		return fmt.Errorf("healthcheck: bad sender public key: %w", err)
	}
	derivedPeer, err := peer.IDFromPublicKey(pub)
	if err != nil {
		return fmt.Errorf("healthcheck: derive sender peer: %w", err)
	}
	if derivedPeer.String() != msg.SenderPeer {
		return fmt.Errorf("healthcheck: sender_peer does not hash-derive from sender_public_key")
	}
	ok, err := pub.Verify(msg.signingBytes(), msg.Signature)
	if err != nil || !ok {
		return fmt.Errorf("healthcheck: signature verification failed")
	}
	return nil
}

func (hc *Context) handle(ctx context.Context, msg *message) {
	if err := hc.validate(msg); err != nil {
		log.Debug("healthcheck: dropping invalid message", "err", err)
		return
	}
	senderPeer, err := peer.Decode(msg.SenderPeer)
	if err != nil {
		return
	}

	switch msg.Type {
	case typePing:
		hc.replyToPing(ctx, senderPeer)
	case typePong:
		if ch, ok := hc.pending.Get(senderPeer); ok {
			select {
			case ch <- true:
			default:
			}
		}
	}
}

func (hc *Context) replyToPing(ctx context.Context, sender peer.ID) {
	if _, dup := hc.replied.Get(sender); dup {
		return // cached reply within ttl, deduplicate
	}
	hc.replied.Insert(sender, struct{}{}, hc.maxTTL)

	msg, err := hc.sign(typePong, sender, hc.maxTTL)
	if err != nil {
		log.Warn("healthcheck: sign reply failed", "err", err)
		return
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	replyTopic, err := hc.node.JoinTopic(ctx, p2p.HealthcheckTopic(sender.String()))
	if err != nil {
		log.Warn("healthcheck: join reply topic failed", "err", err)
		return
	}
	defer replyTopic.Close()
	if err := replyTopic.Publish(ctx, data); err != nil {
		log.Warn("healthcheck: publish reply failed", "err", err)
	}
}

// peerIDHash returns the SHA-256 of pub. No test calls it, and validate
// derives sender_peer with peer.IDFromPublicKey rather than this hash.
func peerIDHash(pub []byte) [32]byte {
	return sha256.Sum256(pub)
}
