// Package edgex implements the "Channel/Topic" JSON wire protocol (spec
// §6.1 Family A): plain subscribe/unsubscribe control frames, a
// connected/subscribed handshake, and update/quote-event/trade-event
// payloads. It is the Codec half of one venue family's venue.Session.
package edgex

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/sawpanic/xarbfeed/internal/codec"
	"github.com/sawpanic/xarbfeed/internal/market"
	"github.com/sawpanic/xarbfeed/internal/venue"
)

func nowUnix() int64 { return time.Now().Unix() }

// Codec implements venue.Codec for Family A venues.
type Codec struct {
	venueName string
	decimals  map[string]int      // symbol -> price decimals, from metadata
	currency  codec.CurrencyTable // coin-id -> currency code
	dedup     *codec.Dedup
}

// New builds a Family A codec. currency may be nil if the venue has no
// numeric coin-id table.
func New(venueName string, currency codec.CurrencyTable) *Codec {
	return &Codec{
		venueName: venueName,
		decimals:  map[string]int{},
		currency:  currency,
		dedup:     codec.NewDedup(2000),
	}
}

type envelope struct {
	Type      string          `json:"type"`
	Channel   string          `json:"channel"`
	Content   json.RawMessage `json:"content"`
	Data      json.RawMessage `json:"data"`
	Payload   json.RawMessage `json:"order_book"`
	SID       string          `json:"sid"`
	Time      float64         `json:"time"`
}

// channelName builds `order_book:<symbol>` / `ticker:<symbol>` style
// channel identifiers (spec §4.5 channel-naming variations are normalized
// on decode; this side always emits the colon form).
func channelName(kind venue.ChannelKind, symbol string) string {
	switch kind {
	case venue.ChannelOrderBook:
		return "order_book:" + symbol
	case venue.ChannelTicker:
		return "ticker:" + symbol
	case venue.ChannelMetadata:
		return "metadata"
	case venue.ChannelPrivate:
		return "account"
	default:
		return string(kind)
	}
}

// parseChannel recognizes every channel-naming variant spec §4.5 lists:
// `order_book:<id>`, `order_book/<id>`, `depth.<id>.<depth>`, `ticker.<id>`.
func parseChannel(raw string) (kind venue.ChannelKind, symbol string) {
	sep := strings.IndexAny(raw, ":/.")
	if sep < 0 {
		return venue.ChannelKind(raw), ""
	}
	head := raw[:sep]
	rest := raw[sep+1:]
	switch head {
	case "order_book", "orderbook", "depth":
		if dot := strings.Index(rest, "."); dot >= 0 {
			rest = rest[:dot] // depth.<id>.<depth>: drop the trailing depth param
		}
		return venue.ChannelOrderBook, rest
	case "ticker", "quote":
		return venue.ChannelTicker, rest
	case "account", "private", "user":
		return venue.ChannelPrivate, ""
	default:
		return venue.ChannelKind(head), rest
	}
}

// EncodeSubscribe builds `{"type":"subscribe","channel":"..."}`, adding
// `"auth"` for private channels (spec §6.1).
func (c *Codec) EncodeSubscribe(sub venue.Subscription, authToken string) ([]byte, error) {
	m := map[string]any{
		"type":    "subscribe",
		"channel": channelName(sub.Kind, sub.Symbol),
	}
	if sub.Kind == venue.ChannelPrivate && authToken != "" {
		m["auth"] = authToken
	}
	return json.Marshal(m)
}

// EncodeUnsubscribe builds `{"type":"unsubscribe","channel":"..."}`.
func (c *Codec) EncodeUnsubscribe(sub venue.Subscription) ([]byte, error) {
	return json.Marshal(map[string]any{
		"type":    "unsubscribe",
		"channel": channelName(sub.Kind, sub.Symbol),
	})
}

// EncodePing builds `{"type":"ping","time":<ts>}`.
func (c *Codec) EncodePing() []byte {
	b, _ := json.Marshal(map[string]any{"type": "ping", "time": nowUnix()})
	return b
}

// EncodePong mirrors the server's ping timestamp back as a pong (spec §6.1).
func (c *Codec) EncodePong(raw []byte) ([]byte, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, err
	}
	return json.Marshal(map[string]any{"type": "pong", "time": env.Time})
}

func (c *Codec) IsPing(frame []byte) bool { return messageType(frame) == "ping" }
func (c *Codec) IsPong(frame []byte) bool { return messageType(frame) == "pong" }
func (c *Codec) IsSubscriptionAck(frame []byte) bool {
	t := messageType(frame)
	return t == "connected" || t == "subscribed"
}

func messageType(frame []byte) string {
	var env struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(frame, &env); err != nil {
		return ""
	}
	return env.Type
}

// Decode classifies one inbound frame and dispatches it to sink, per spec
// §6.1's Family A server-to-client message set.
func (c *Codec) Decode(frame []byte, sink venue.Sink) error {
	var env envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return fmt.Errorf("edgex: malformed frame: %w", err)
	}

	switch {
	case env.Type == "subscribed" && len(env.Payload) > 0:
		return c.decodeOrderBookSnapshot(env, sink)
	case strings.HasPrefix(env.Type, "update/"):
		return c.decodeUpdate(env, sink)
	case env.Type == "quote-event":
		return c.decodeQuoteEvent(env, sink)
	case env.Type == "trade-event":
		return c.decodeTradeEvent(env, sink)
	default:
		return nil // connected/subscribed-without-payload: nothing to forward
	}
}

func (c *Codec) decodeOrderBookSnapshot(env envelope, sink venue.Sink) error {
	var raw struct {
		Symbol  string        `json:"symbol"`
		Bids    []codec.Level `json:"bids"`
		Asks    []codec.Level `json:"asks"`
		Version int64         `json:"version"`
	}
	if err := json.Unmarshal(env.Payload, &raw); err != nil {
		return fmt.Errorf("edgex: order book snapshot: %w", err)
	}
	snap := market.OrderBookSnapshot{
		Venue:   c.venueName,
		Symbol:  raw.Symbol,
		Bids:    levelsFromPairs(raw.Bids),
		Asks:    levelsFromPairs(raw.Asks),
		Version: raw.Version,
	}
	sink.OnOrderBookSnapshot(snap)
	return nil
}

func (c *Codec) decodeUpdate(env envelope, sink venue.Sink) error {
	_, symbol := parseChannel(env.Channel)

	var raw struct {
		Bids    []codec.Level `json:"bids"`
		Asks    []codec.Level `json:"asks"`
		Version int64         `json:"version"`
	}
	payload := env.Data
	if len(payload) == 0 {
		payload = env.Content
	}
	if err := json.Unmarshal(payload, &raw); err != nil {
		return fmt.Errorf("edgex: update payload: %w", err)
	}
	sink.OnOrderBookDelta(market.OrderBookDelta{
		Venue:   c.venueName,
		Symbol:  symbol,
		Bids:    levelsFromPairs(raw.Bids),
		Asks:    levelsFromPairs(raw.Asks),
		Version: raw.Version,
	})
	return nil
}

func (c *Codec) decodeQuoteEvent(env envelope, sink venue.Sink) error {
	_, symbol := parseChannel(env.Channel)

	var m map[string]any
	if err := json.Unmarshal(env.Content, &m); err != nil {
		return fmt.Errorf("edgex: quote-event content: %w", err)
	}

	last, _ := codec.FirstString(m, "last", "lastPrice", "last_trade_price")
	oi, _ := codec.FirstFloat(m, "open_interest", "openInterest")
	fundingRate, _ := codec.FirstFloat(m, "funding_rate", "fundingRate")
	ts, _ := codec.FirstFloat(m, "timestamp", "ts", "eventTime")
	bid, _ := codec.FirstFloat(m, "bid", "bestBid")
	ask, _ := codec.FirstFloat(m, "ask", "bestAsk")

	var lastPrice float64
	fmt.Sscanf(last, "%f", &lastPrice)

	sink.OnTicker(market.Ticker{
		Venue:             c.venueName,
		Symbol:            symbol,
		Last:              lastPrice,
		Bid:               bid,
		Ask:               ask,
		OpenInterest:      oi,
		FundingRate8h:     codec.NormalizeFunding(fundingRate, codec.FundingPeriod8h),
		ExchangeTimestamp: codec.ParseTimestamp(ts),
	})
	return nil
}

func (c *Codec) decodeTradeEvent(env envelope, sink venue.Sink) error {
	var raw struct {
		Event string          `json:"event"`
		Data  json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(env.Content, &raw); err != nil {
		return fmt.Errorf("edgex: trade-event content: %w", err)
	}

	switch raw.Event {
	case "ORDER_UPDATE":
		return c.decodeOrderUpdate(raw.Data, sink)
	case "POSITION_UPDATE":
		return c.decodePositionUpdate(raw.Data, sink)
	case "ACCOUNT_UPDATE":
		return c.decodeBalanceUpdate(raw.Data, sink)
	default:
		return nil
	}
}

func (c *Codec) decodeOrderUpdate(data json.RawMessage, sink venue.Sink) error {
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}

	orderID, _ := codec.FirstString(m, "order_id", "orderId")
	clientID, _ := codec.FirstString(m, "client_id", "clientId")
	filled, _ := codec.FirstFloat(m, "filled_size", "filledSize", "cum_filled")

	if c.dedup.Seen(orderID, clientID, filled) {
		return nil
	}

	status, _ := codec.FirstString(m, "status")
	price, _ := codec.FirstFloat(m, "price")
	amount, _ := codec.FirstFloat(m, "size", "amount")
	symbol, _ := codec.FirstString(m, "symbol")

	sink.OnOrderUpdate(market.Order{
		Venue:     c.venueName,
		OrderID:   orderID,
		ClientID:  clientID,
		Symbol:    symbol,
		Price:     price,
		Amount:    amount,
		Filled:    filled,
		Remaining: amount - filled,
		Status:    market.OrderStatus(status),
		RawStatus: status,
	})
	return nil
}

func (c *Codec) decodePositionUpdate(data json.RawMessage, sink venue.Sink) error {
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}

	symbol, _ := codec.FirstString(m, "symbol")
	size, _ := codec.FirstFloat(m, "size", "position_size")
	entry, _ := codec.FirstFloat(m, "entry_price", "entryPrice")

	// Position direction correction: an unsigned size paired with an
	// explicit side field must be resigned before emitting (spec §4.5).
	if sideStr, ok := codec.FirstString(m, "side"); ok && strings.EqualFold(sideStr, "short") && size > 0 {
		size = -size
	}

	sink.OnPositionUpdate(market.Position{
		Venue:      c.venueName,
		Symbol:     symbol,
		Size:       size,
		EntryPrice: entry,
	})
	return nil
}

func (c *Codec) decodeBalanceUpdate(data json.RawMessage, sink venue.Sink) error {
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}

	currency, _ := codec.FirstString(m, "currency", "asset")
	if currency == "" && c.currency != nil {
		if coinID, ok := codec.FirstFloat(m, "coin_id", "coinId"); ok {
			if name, known := c.currency.Lookup(int(coinID)); known {
				currency = name
			}
		}
	}
	free, _ := codec.FirstFloat(m, "available", "availableBalance", "free")
	total, _ := codec.FirstFloat(m, "total", "equity")

	sink.OnBalanceUpdate(market.BalanceEntry{
		Venue:    c.venueName,
		Currency: currency,
		Free:     free,
		Used:     total - free,
		Total:    total,
	})
	return nil
}

func levelsFromPairs(levels []codec.Level) []market.PriceLevelInput {
	out := make([]market.PriceLevelInput, 0, len(levels))
	for _, l := range levels {
		out = append(out, market.PriceLevelInput{Price: l.Price, Size: l.Size})
	}
	return out
}
