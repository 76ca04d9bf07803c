package venue

import (
	"sync"
	"time"

	"github.com/sawpanic/xarbfeed/internal/market"
)

// defaultTerminalCacheTTL is P7's default when a venue config leaves
// terminal_cache_ttl unset.
const defaultTerminalCacheTTL = 10 * time.Second

// OrderCache is the Venue Session's "shared caches for positions/balances/
// orders/terminal-orders" (spec §3 VenueSessionState). Orders are created
// on order-update; on terminal status (FILLED/CANCELED/REJECTED/EXPIRED)
// they are additionally moved into a short-TTL terminal cache so a
// subsequent lookup resolves without a venue round-trip (spec §3
// lifecycle note, P7). Positions with size 0 are evicted on update (spec
// §3). The balance cache lives one layer up, in cmd/collector's
// application, since balances there are keyed across venues rather than
// scoped to one session.
type OrderCache struct {
	mu          sync.Mutex
	orders      map[string]market.Order    // key: order id or client id
	positions   map[string]market.Position // key: canonical symbol
	terminal    map[string]terminalOrder   // key: order id or client id
	terminalTTL time.Duration
	now         func() time.Time
}

type terminalOrder struct {
	order  market.Order
	expiry time.Time
}

// newOrderCache builds an empty cache. ttl <= 0 falls back to
// defaultTerminalCacheTTL.
func newOrderCache(ttl time.Duration) *OrderCache {
	if ttl <= 0 {
		ttl = defaultTerminalCacheTTL
	}
	return &OrderCache{
		orders:      map[string]market.Order{},
		positions:   map[string]market.Position{},
		terminal:    map[string]terminalOrder{},
		terminalTTL: ttl,
		now:         time.Now,
	}
}

// onOrderUpdate records the latest state for an order, indexed by both its
// order id and client id, since spec §3 requires both usable as lookup
// keys. A terminal status additionally seeds the TTL-evicting terminal
// cache under both keys.
func (c *OrderCache) onOrderUpdate(o market.Order) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if o.OrderID != "" {
		c.orders[o.OrderID] = o
	}
	if o.ClientID != "" {
		c.orders[o.ClientID] = o
	}

	if !o.Status.IsTerminal() {
		return
	}
	entry := terminalOrder{order: o, expiry: c.now().Add(c.terminalTTL)}
	if o.OrderID != "" {
		c.terminal[o.OrderID] = entry
	}
	if o.ClientID != "" {
		c.terminal[o.ClientID] = entry
	}
}

// onPositionUpdate upserts a position, evicting it entirely once its size
// reaches zero (spec §3 "Positions with size 0 are evicted from the
// cache").
func (c *OrderCache) onPositionUpdate(p market.Position) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if p.Size == 0 {
		delete(c.positions, p.Symbol)
		return
	}
	c.positions[p.Symbol] = p
}

// Order resolves an order by order id or client id, preferring an
// unexpired terminal-cache entry over the live table (P7). An expired
// terminal entry is evicted on read rather than by a background sweep.
func (c *OrderCache) Order(id string) (market.Order, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if entry, ok := c.terminal[id]; ok {
		if c.now().Before(entry.expiry) {
			return entry.order, true
		}
		delete(c.terminal, id)
	}

	o, ok := c.orders[id]
	return o, ok
}

// Position returns the cached position for a canonical symbol, if any.
func (c *OrderCache) Position(symbol string) (market.Position, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.positions[symbol]
	return p, ok
}

// cachingSink feeds every OnOrderUpdate/OnPositionUpdate a codec emits into
// the session's OrderCache before forwarding to the caller-supplied Sink,
// so codecs "feed that cache" (spec §4.5 C5) without needing to know the
// cache exists.
type cachingSink struct {
	cache *OrderCache
	inner Sink
}

func (s *cachingSink) OnMetadata(venue string, entries []market.MetadataEntry) {
	s.inner.OnMetadata(venue, entries)
}

func (s *cachingSink) OnTicker(t market.Ticker) {
	s.inner.OnTicker(t)
}

func (s *cachingSink) OnOrderBookSnapshot(snap market.OrderBookSnapshot) {
	s.inner.OnOrderBookSnapshot(snap)
}

func (s *cachingSink) OnOrderBookDelta(delta market.OrderBookDelta) {
	s.inner.OnOrderBookDelta(delta)
}

func (s *cachingSink) OnOrderUpdate(o market.Order) {
	s.cache.onOrderUpdate(o)
	s.inner.OnOrderUpdate(o)
}

func (s *cachingSink) OnPositionUpdate(p market.Position) {
	s.cache.onPositionUpdate(p)
	s.inner.OnPositionUpdate(p)
}

func (s *cachingSink) OnBalanceUpdate(b market.BalanceEntry) {
	s.inner.OnBalanceUpdate(b)
}

func (s *cachingSink) OnTrade(t market.TradeUpdate) {
	s.inner.OnTrade(t)
}
