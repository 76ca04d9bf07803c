// Package market holds the venue-agnostic data model described in spec §3:
// tickers, order books, orders, positions and balances, all keyed by
// canonical symbol. Codecs translate venue wire formats into these types;
// nothing downstream of a codec ever sees venue-native field names again.
package market

import "time"

// Side is the direction of an order or position.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Opposite returns the other side.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// OrderType enumerates the order types named in spec §3.
type OrderType string

const (
	OrderTypeLimit          OrderType = "LIMIT"
	OrderTypeMarket         OrderType = "MARKET"
	OrderTypeStopLimit      OrderType = "STOP_LIMIT"
	OrderTypeStopMarket     OrderType = "STOP_MARKET"
	OrderTypeTakeProfit     OrderType = "TAKE_PROFIT"
	OrderTypeTakeProfitMkt  OrderType = "TAKE_PROFIT_MARKET"
)

// OrderStatus is the normalized lifecycle state of an Order.
type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "PENDING"
	OrderStatusOpen      OrderStatus = "OPEN"
	OrderStatusFilled    OrderStatus = "FILLED"
	OrderStatusCanceled  OrderStatus = "CANCELED"
	OrderStatusRejected  OrderStatus = "REJECTED"
	OrderStatusExpired   OrderStatus = "EXPIRED"
	OrderStatusUnknown   OrderStatus = "UNKNOWN"
)

// IsTerminal reports whether no further updates are expected for this status.
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case OrderStatusFilled, OrderStatusCanceled, OrderStatusRejected, OrderStatusExpired:
		return true
	default:
		return false
	}
}

// MarginMode is the position's margin mode.
type MarginMode string

const (
	MarginCross    MarginMode = "CROSS"
	MarginIsolated MarginMode = "ISOLATED"
)

// Order is identified by the venue order-id but also carries the
// client-supplied id, both usable as lookup keys (spec §3 Order).
type Order struct {
	Venue        string
	OrderID      string
	ClientID     string
	Symbol       string // canonical
	Side         Side
	Type         OrderType
	Amount       float64
	Price        float64
	Filled       float64
	Remaining    float64
	Average      float64
	Status       OrderStatus
	RawStatus    string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Position is a per (venue, symbol) read-only cache entry (spec §3 Position).
type Position struct {
	Venue            string
	Symbol           string
	Size             float64 // signed: positive = long
	EntryPrice       float64
	UnrealizedPnL    float64
	RealizedPnL      float64
	Leverage         float64
	MarginMode       MarginMode
	LiquidationPrice float64
	UpdatedAt        time.Time
}

// Side derives a conventional Side from the signed Size, used where a
// consumer wants a label rather than the sign.
func (p Position) Side() Side {
	if p.Size < 0 {
		return SideSell
	}
	return SideBuy
}

// BalanceEntry is a per (venue, currency) account balance snapshot. Total
// reflects account equity, i.e. includes unrealized PnL where the venue
// exposes it (spec §3 BalanceEntry).
type BalanceEntry struct {
	Venue     string
	Currency  string
	Free      float64
	Used      float64
	Total     float64
	USDValue  float64
	Timestamp time.Time
}

// Ticker carries funding already normalized to the 8-hour equivalent
// regardless of venue-native reporting period (spec §3 Ticker, P8).
type Ticker struct {
	Venue             string
	Symbol            string
	Last              float64
	Bid               float64
	Ask               float64
	BidSize           float64
	AskSize           float64
	FundingRate8h     float64
	MarkPrice         float64
	IndexPrice        float64
	OpenInterest      float64
	Volume24h         float64
	ExchangeTimestamp time.Time
	ReceivedTimestamp time.Time
}

// Level is a single price/size order-book entry.
type Level struct {
	Price float64
	Size  float64
}

// OrderBook is an immutable snapshot emitted by the order-book engine.
// Callers must not mutate it; the engine owns the mutable state it was
// copied from (spec §4.3 "emitted OrderBook objects are immutable copies").
type OrderBook struct {
	Venue             string
	Symbol            string
	Bids              []Level // descending by price
	Asks              []Level // ascending by price
	Version           int64
	ExchangeTimestamp time.Time
	ReceivedTimestamp time.Time
}

// BestBid returns the top bid level, or the zero Level and false if empty.
func (b OrderBook) BestBid() (Level, bool) {
	if len(b.Bids) == 0 {
		return Level{}, false
	}
	return b.Bids[0], true
}

// BestAsk returns the top ask level, or the zero Level and false if empty.
func (b OrderBook) BestAsk() (Level, bool) {
	if len(b.Asks) == 0 {
		return Level{}, false
	}
	return b.Asks[0], true
}

// PriceLevelInput is the venue-agnostic shape a codec decodes both array
// ([price, size]) and object ({price, size}) wire representations into
// before handing them to the order-book engine (spec §4.3).
type PriceLevelInput struct {
	Price float64
	Size  float64
}

// Snapshot event: full replacement of both sides for (Venue, Symbol).
type OrderBookSnapshot struct {
	Venue     string
	Symbol    string
	Bids      []PriceLevelInput
	Asks      []PriceLevelInput
	Version   int64
	Timestamp time.Time
}

// Delta event: incremental upserts/deletes for (Venue, Symbol).
type OrderBookDelta struct {
	Venue     string
	Symbol    string
	Bids      []PriceLevelInput
	Asks      []PriceLevelInput
	Version   int64
	Timestamp time.Time
}

// TradeUpdate is a single executed trade observed on the public tape.
type TradeUpdate struct {
	Venue     string
	Symbol    string
	Price     float64
	Size      float64
	Side      Side
	Timestamp time.Time
}

// MetadataEntry is one venue-native contract description used to populate
// the Symbol Registry (spec §4.1).
type MetadataEntry struct {
	Canonical     string
	Native        string
	ContractID    string
	PriceDecimals int
	SizeDecimals  int
}
