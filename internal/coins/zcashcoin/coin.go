// Package zcashcoin implements the Coin capability set from spec.md
// §4.1 for Zcash-sapling. Atomic-swap HTLCs need an on-chain script
// spendable by either party under a disclosed condition; Zcash's
// shielded sapling pool has no scripting surface at all; the atomic-swap
// HTLC leg therefore runs over Zcash's transparent (t-address) side,
// which is wire-compatible with the same P2SH HTLC script spec.md §6
// specifies for UTXO chains (original_source/mm2src/coins/z_coin/z_rpc.rs
// itself builds its HTLC legs against transparent outputs, reserving
// sapling-shielded construction for the non-swap shielded-send path this
// spec does not cover) — so this package wraps utxocoin's script/coin
// plumbing and overrides only the decimal exponent and Kind tag per
// spec.md §4.1 ("Zcash: 1e24 hastings").
package zcashcoin

import (
	"github.com/btcsuite/btcd/chaincfg"

	"github.com/meshswap/kdfnode/internal/coins"
	"github.com/meshswap/kdfnode/internal/coins/utxocoin"
)

// Decimals is the smallest-unit exponent spec.md §4.1 specifies for this
// variant.
const Decimals int32 = 24

// Coin wraps utxocoin.Coin, overriding Kind() and Decimals() to the
// Zcash-sapling variant's values while reusing every HTLC script,
// signing, and RPC-polling code path.
type Coin struct {
	*utxocoin.Coin
	ticker string
}

// New constructs a Zcash-sapling coin variant over the shared
// transparent-P2SH HTLC implementation.
func New(ticker string, params *chaincfg.Params, rpc coins.RPCClient) *Coin {
	return &Coin{Coin: utxocoin.New(ticker, Decimals, params, rpc), ticker: ticker}
}

func (c *Coin) Ticker() string   { return c.ticker }
func (c *Coin) Kind() coins.Kind { return coins.KindZcashSapling }
func (c *Coin) Decimals() int32  { return Decimals }

var _ coins.Coin = (*Coin)(nil)
