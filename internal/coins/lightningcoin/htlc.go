// Package lightningcoin implements the Coin capability set from
// spec.md §4.1 for Lightning, whose HTLC equivalent is a hold invoice:
// a payment_hash committed up front, accepted but not settled until the
// preimage is revealed, matching the same lock/reveal shape as an
// on-chain HTLC script without any script at all.
package lightningcoin

import "encoding/hex"

// Decimals is the millisatoshi exponent: 1 BTC = 1e11 msat.
const Decimals int32 = 11

// InvoiceStage mirrors the subset of lnrpc.Invoice_InvoiceState this
// package cares about.
type InvoiceStage int

const (
	InvoiceOpen InvoiceStage = iota
	InvoiceAccepted
	InvoiceSettled
	InvoiceCanceled
)

func (s InvoiceStage) String() string {
	switch s {
	case InvoiceOpen:
		return "open"
	case InvoiceAccepted:
		return "accepted"
	case InvoiceSettled:
		return "settled"
	case InvoiceCanceled:
		return "canceled"
	default:
		return "unknown"
	}
}

// hexEncode is a small helper kept local so coin.go reads closer to the
// rest of this package's narrow surface rather than reaching for
// encoding/hex inline at every call site.
func hexEncode(b []byte) string { return hex.EncodeToString(b) }
