// Package orderbook implements the incremental order-book engine (spec
// §4.3, C3): snapshot-then-delta reconstruction with a per-side sorted
// price->size view, top-of-book derivation, and the bounded-staleness
// annotations the Venue Session enforces against.
package orderbook

import (
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/sawpanic/xarbfeed/internal/market"
)

// State is the per (venue, symbol) book lifecycle state (spec §4.3).
type State string

const (
	StateEmpty    State = "EMPTY"
	StateBuilding State = "BUILDING"
	StateReady    State = "READY"
)

// side is a mutable sorted price->size view. Prices are kept in a slice in
// the side's iteration order (descending for bids, ascending for asks) so
// top-of-book and full emission are O(1) and O(n) respectively without
// re-sorting on every delta.
type side struct {
	sizes      map[float64]float64
	prices     []float64 // kept sorted in iteration order
	descending bool
}

func newSide(descending bool) *side {
	return &side{sizes: map[float64]float64{}, descending: descending}
}

func (s *side) less(a, b float64) bool {
	if s.descending {
		return a > b
	}
	return a < b
}

func (s *side) upsert(price, size float64) {
	if size <= 0 {
		s.delete(price)
		return
	}
	if _, exists := s.sizes[price]; !exists {
		s.insertSorted(price)
	}
	s.sizes[price] = size
}

func (s *side) insertSorted(price float64) {
	i := sort.Search(len(s.prices), func(i int) bool {
		if s.descending {
			return s.prices[i] <= price
		}
		return s.prices[i] >= price
	})
	s.prices = append(s.prices, 0)
	copy(s.prices[i+1:], s.prices[i:])
	s.prices[i] = price
}

func (s *side) delete(price float64) {
	if _, exists := s.sizes[price]; !exists {
		return
	}
	delete(s.sizes, price)
	for i, p := range s.prices {
		if p == price {
			s.prices = append(s.prices[:i], s.prices[i+1:]...)
			break
		}
	}
}

func (s *side) clear() {
	s.sizes = map[float64]float64{}
	s.prices = nil
}

func (s *side) levels() []market.Level {
	out := make([]market.Level, 0, len(s.prices))
	for _, p := range s.prices {
		out = append(out, market.Level{Price: p, Size: s.sizes[p]})
	}
	return out
}

func (s *side) empty() bool { return len(s.prices) == 0 }

// book is the mutable engine state for one (venue, symbol) pair.
type book struct {
	venue, symbol string
	state         State
	bids, asks    *side
	version       int64
	exchangeTS    time.Time
	receivedTS    time.Time
	// tolerant is set once the venue is observed not to send snapshots; the
	// first delta is then treated as a partial snapshot (spec §4.3).
	tolerant       bool
	sawFirstDelta  bool
	outOfOrderHits int
}

func newBook(venue, symbol string) *book {
	return &book{
		venue:  venue,
		symbol: symbol,
		state:  StateEmpty,
		bids:   newSide(true),
		asks:   newSide(false),
	}
}

// recomputeState applies the EMPTY -> BUILDING -> READY transitions of
// spec §4.3: any side becoming empty drops back to BUILDING, and READY is
// reached only once both sides hold at least one level.
func (b *book) recomputeState() {
	if b.bids.empty() || b.asks.empty() {
		b.state = StateBuilding
		return
	}
	b.state = StateReady
}

// Engine owns every (venue, symbol) book. It is the single owner of this
// mutable state (spec §5 "owned by exactly one task and mutated only
// there") — callers must not share an Engine across goroutines that also
// mutate it concurrently without external synchronization matching their
// cooperative-scheduling model; the exported methods themselves are safe
// to call from a single owning goroutine per spec's single-writer model.
type Engine struct {
	log   zerolog.Logger
	books map[key]*book

	// maxOutOfOrder is the consecutive-anomaly threshold after which the
	// caller should force a resync (spec §7 Order-book integrity, default 3).
	maxOutOfOrder int
}

type key struct{ venue, symbol string }

// New creates an empty order-book engine.
func New(log zerolog.Logger) *Engine {
	return &Engine{log: log, books: map[key]*book{}, maxOutOfOrder: 3}
}

func (e *Engine) get(venue, symbol string) *book {
	k := key{venue, symbol}
	b, ok := e.books[k]
	if !ok {
		b = newBook(venue, symbol)
		e.books[k] = b
	}
	return b
}

// ResyncNeeded reports whether (venue, symbol) has exceeded the
// consecutive-anomaly threshold and the caller should force a resync by
// unsubscribing and resubscribing the channel (spec §7).
func (e *Engine) ResyncNeeded(venue, symbol string) bool {
	b := e.get(venue, symbol)
	return b.outOfOrderHits >= e.maxOutOfOrder
}

// ApplySnapshot clears both sides and installs the given levels (spec §4.3
// Snapshot application). The book is READY if both sides received a level,
// BUILDING otherwise.
func (e *Engine) ApplySnapshot(snap market.OrderBookSnapshot) (market.OrderBook, bool) {
	b := e.get(snap.Venue, snap.Symbol)
	b.bids.clear()
	b.asks.clear()
	for _, lvl := range snap.Bids {
		if lvl.Size > 0 {
			b.bids.upsert(lvl.Price, lvl.Size)
		}
	}
	for _, lvl := range snap.Asks {
		if lvl.Size > 0 {
			b.asks.upsert(lvl.Price, lvl.Size)
		}
	}
	b.version = snap.Version
	b.exchangeTS = snap.Timestamp
	b.receivedTS = time.Now()
	b.sawFirstDelta = true
	b.outOfOrderHits = 0
	b.recomputeState()

	return e.emit(b)
}

// ApplyDelta upserts/deletes levels per spec §4.3 Delta application. If no
// snapshot was ever seen for this (venue, symbol), the engine switches to
// tolerant mode and treats the first delta as a partial snapshot.
func (e *Engine) ApplyDelta(delta market.OrderBookDelta) (market.OrderBook, bool) {
	b := e.get(delta.Venue, delta.Symbol)

	if !b.sawFirstDelta {
		b.tolerant = true
		b.sawFirstDelta = true
	}

	if delta.Version != 0 && b.version != 0 && delta.Version < b.version {
		b.outOfOrderHits++
		e.log.Warn().
			Str("venue", delta.Venue).Str("symbol", delta.Symbol).
			Int64("got_version", delta.Version).Int64("have_version", b.version).
			Msg("orderbook: dropped out-of-order delta")
		return market.OrderBook{}, false
	}
	b.outOfOrderHits = 0

	for _, lvl := range delta.Bids {
		b.bids.upsert(lvl.Price, lvl.Size)
	}
	for _, lvl := range delta.Asks {
		b.asks.upsert(lvl.Price, lvl.Size)
	}
	if delta.Version != 0 {
		b.version = delta.Version
	} else {
		// No venue-provided version: fall back to receipt time, clamped to
		// monotonic (spec §3 OrderBook.version).
		now := time.Now().UnixNano()
		if now > b.version {
			b.version = now
		}
	}
	b.exchangeTS = delta.Timestamp
	b.receivedTS = time.Now()
	b.recomputeState()

	return e.emit(b)
}

// emit produces an immutable OrderBook copy and reports whether it is
// eligible for downstream emission (spec §4.3 I3: only when both sides are
// non-empty), additionally enforcing I2 (not crossed).
func (e *Engine) emit(b *book) (market.OrderBook, bool) {
	if b.state != StateReady {
		return market.OrderBook{}, false
	}

	bidLevels := b.bids.levels()
	askLevels := b.asks.levels()

	if bidLevels[0].Price >= askLevels[0].Price {
		// Crossed book: malformed per spec §3 I2 / §7. Drop and count.
		b.outOfOrderHits++
		e.log.Warn().
			Str("venue", b.venue).Str("symbol", b.symbol).
			Float64("best_bid", bidLevels[0].Price).Float64("best_ask", askLevels[0].Price).
			Msg("orderbook: dropped crossed book")
		return market.OrderBook{}, false
	}

	return market.OrderBook{
		Venue:             b.venue,
		Symbol:            b.symbol,
		Bids:              bidLevels,
		Asks:              askLevels,
		Version:           b.version,
		ExchangeTimestamp: b.exchangeTS,
		ReceivedTimestamp: b.receivedTS,
	}, true
}

// TopOfBook returns the best bid/ask for (venue, symbol), or false if the
// book is not READY (spec §6.2 OrderBookEngine.top_of_book).
func (e *Engine) TopOfBook(venue, symbol string) (bid, ask market.Level, ok bool) {
	b, exists := e.books[key{venue, symbol}]
	if !exists || b.state != StateReady {
		return market.Level{}, market.Level{}, false
	}
	bb, okb := firstLevel(b.bids)
	ba, oka := firstLevel(b.asks)
	if !okb || !oka {
		return market.Level{}, market.Level{}, false
	}
	return bb, ba, true
}

func firstLevel(s *side) (market.Level, bool) {
	if s.empty() {
		return market.Level{}, false
	}
	p := s.prices[0]
	return market.Level{Price: p, Size: s.sizes[p]}, true
}

// Reset clears all derived state for (venue, symbol), so the book is rebuilt
// from the next snapshot. Nothing in this module calls it when a venue
// session reconnects; books are kept across reconnects.
func (e *Engine) Reset(venue, symbol string) {
	delete(e.books, key{venue, symbol})
}

// StaleAfter reports whether the book's last received timestamp is older
// than the given threshold, annotating the bounded-staleness contract from
// spec §4.3 (the engine itself never invalidates — callers decide).
func (e *Engine) StaleAfter(venue, symbol string, threshold time.Duration) bool {
	b, exists := e.books[key{venue, symbol}]
	if !exists {
		return true
	}
	return time.Since(b.receivedTS) > threshold
}
