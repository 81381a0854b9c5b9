package swap

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/meshswap/kdfnode/internal/p2p"
)

// msgType tags the payload carried in an envelope on a swap's pubsub
// topic, following the Type/Payload envelope shape of
// other_examples/.../internal-node-swap_handler.go.go's SwapMessage, here
// narrowed to the four message kinds spec.md §4.2.2/§4.2.3 names.
type msgType string

const (
	msgNegotiation  msgType = "negotiation"
	msgTakerFee     msgType = "taker_fee"
	msgMakerPayment msgType = "maker_payment"
	msgTakerPayment msgType = "taker_payment"
)

type envelope struct {
	Type    msgType         `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// topic is the narrow publish/subscribe surface Maker/Taker/Watcher
// depend on; *p2p.Topic satisfies it, and tests substitute an in-memory
// pair wired to each other.
type topic interface {
	Publish(ctx context.Context, data []byte) error
	Next(ctx context.Context) (*p2p.Message, error)
}

// negotiationPayload is the message spec.md §4.2.2's Negotiation step
// exchanges: "maker_payment_locktime, maker_coin_swap_contract, persistent
// pubkey". Both maker and taker publish one, each describing its own
// payment leg's locktime and contract.
type negotiationPayload struct {
	PaymentLocktime int64  `json:"payment_locktime"` // unix seconds
	SwapContract    string `json:"swap_contract"`
	Pubkey          string `json:"pubkey"` // hex-encoded
}

// paymentPayload carries a broadcast raw transaction, used for both the
// taker-fee announcement and the maker/taker payment announcements.
type paymentPayload struct {
	TxHex  string `json:"tx_hex"`
	TxHash string `json:"tx_hash"`
}

func publish(ctx context.Context, tp topic, t msgType, payload interface{}) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("swap: marshal %s payload: %w", t, err)
	}
	data, err := json.Marshal(envelope{Type: t, Payload: raw})
	if err != nil {
		return fmt.Errorf("swap: marshal envelope: %w", err)
	}
	return tp.Publish(ctx, data)
}

// waitFor drains topic.Next until an envelope of kind want arrives,
// decoding its payload into out. Messages of other kinds are logged and
// skipped: spec.md §5 guarantees exactly one task drains a given swap's
// topic and the protocol's steps arrive in order, so no message of a
// later kind can arrive before the one currently awaited.
func waitFor(ctx context.Context, tp topic, want msgType, out interface{}) error {
	for {
		msg, err := tp.Next(ctx)
		if err != nil {
			return fmt.Errorf("swap: read %s: %w", want, err)
		}
		var env envelope
		if err := json.Unmarshal(msg.Data, &env); err != nil {
			log.Debug("swap: discarding unparseable topic message", "err", err)
			continue
		}
		if env.Type != want {
			log.Debug("swap: discarding out-of-sequence message", "want", want, "got", env.Type)
			continue
		}
		if out == nil {
			return nil
		}
		if err := json.Unmarshal(env.Payload, out); err != nil {
			return fmt.Errorf("swap: unmarshal %s payload: %w", want, err)
		}
		return nil
	}
}
