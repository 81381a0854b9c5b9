package coins

import (
	"sync"

	"github.com/meshswap/kdfnode/internal/kdferrors"
)

// Context is the process-wide registry of activated coins, one of the
// two process-wide global stores spec.md §9 calls out (the other being
// the healthcheck context). It holds strong handles; each Coin that
// needs contextual lookups (e.g. an ERC20 token finding its platform
// coin) is handed a Weak back, never the registry itself, so dropping
// the registry cascades cleanly.
type Context struct {
	mu    sync.RWMutex
	coins map[string]Coin
}

// NewContext constructs an empty, ready-to-use registry.
func NewContext() *Context {
	return &Context{coins: make(map[string]Coin)}
}

// Weak is a non-owning handle back into a Context. Upgrade fails with
// Internal("coin deactivated") once the referenced ticker has been
// removed, per spec.md §9's cyclic-reference design note.
type Weak struct {
	ctx    *Context
	ticker string
}

// Weak returns a handle a Coin implementation can embed for sibling
// lookups (e.g. an NFT/ERC20 token looking up its EVM platform coin)
// without keeping the registry alive through a strong cycle.
func (c *Context) Weak(ticker string) Weak {
	return Weak{ctx: c, ticker: ticker}
}

// Upgrade resolves a Weak handle to the live Coin it names, or fails
// with Internal("coin deactivated") if it was since removed.
func (w Weak) Upgrade() (Coin, error) {
	w.ctx.mu.RLock()
	defer w.ctx.mu.RUnlock()
	c, ok := w.ctx.coins[w.ticker]
	if !ok {
		return nil, kdferrors.New(kdferrors.KindInternal, "coin_deactivated", nil)
	}
	return c, nil
}

// Activate registers coin under its ticker. Re-activating an already
// active ticker replaces the previous handle.
func (c *Context) Activate(coin Coin) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.coins[coin.Ticker()] = coin
}

// Get looks up an activated coin by ticker.
func (c *Context) Get(ticker string) (Coin, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	coin, ok := c.coins[ticker]
	return coin, ok
}

// Deactivate removes ticker from the registry. Any Weak handles already
// issued for it will fail to upgrade from this point on.
func (c *Context) Deactivate(ticker string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.coins, ticker)
}

// Tickers lists all currently activated tickers.
func (c *Context) Tickers() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.coins))
	for t := range c.coins {
		out = append(out, t)
	}
	return out
}
