// Package lighter implements the "JSON-RPC-ish" batch wire protocol (spec
// §6.1 Family B): a single `jsonapi/sendtxbatch` outbound envelope wrapping
// one or more signed transactions, and the compact single-letter private
// order-event schema (spec §4.5).
package lighter

import (
	"encoding/json"
	"fmt"

	"github.com/sawpanic/xarbfeed/internal/codec"
	"github.com/sawpanic/xarbfeed/internal/market"
	"github.com/sawpanic/xarbfeed/internal/venue"
)

// orderStatusCode maps the compact wire schema's st field (spec §4.5:
// "0=failed, 1=pending, 2=executed, 3=pending-final").
var orderStatusCode = map[int]market.OrderStatus{
	0: market.OrderStatusRejected,
	1: market.OrderStatusPending,
	2: market.OrderStatusFilled,
	3: market.OrderStatusOpen,
}

// Codec implements venue.Codec for Family B venues.
type Codec struct {
	venueName string
	decimals  map[string]int // symbol -> price decimals, from metadata
	dedup     *codec.Dedup
}

// New builds a Family B codec. decimals should be populated from the
// venue's metadata channel before private-channel frames arrive.
func New(venueName string) *Codec {
	return &Codec{
		venueName: venueName,
		decimals:  map[string]int{},
		dedup:     codec.NewDedup(2000),
	}
}

// SetSymbolDecimals records the per-symbol price-decimals needed to decode
// the compact integer-encoded order schema (spec §4.5).
func (c *Codec) SetSymbolDecimals(symbol string, decimals int) {
	c.decimals[symbol] = decimals
}

type txBatchRequest struct {
	Type string `json:"type"`
	Data struct {
		ID       string   `json:"id"`
		TxTypes  []string `json:"tx_types"`
		TxInfos  []string `json:"tx_infos"`
	} `json:"data"`
}

// EncodeSendTxBatch builds the `jsonapi/sendtxbatch` envelope (spec §6.1,
// §6.2 send_tx_batch). requestID is caller-supplied so the response can be
// correlated back to the waiting caller.
func EncodeSendTxBatch(requestID string, txTypes, txInfos []string) ([]byte, error) {
	req := txBatchRequest{Type: "jsonapi/sendtxbatch"}
	req.Data.ID = requestID
	req.Data.TxTypes = txTypes
	req.Data.TxInfos = txInfos
	return json.Marshal(req)
}

// TxBatchResponse is the decoded server reply to a send_tx_batch call
// (spec §6.1: "echoing id; on failure ... error:{code,message}").
type TxBatchResponse struct {
	ID    string
	Error *struct {
		Code    int
		Message string
	}
}

// DecodeSendTxBatchResponse parses a Family B response frame.
func DecodeSendTxBatchResponse(frame []byte) (TxBatchResponse, error) {
	var raw struct {
		ID    string `json:"id"`
		Error *struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(frame, &raw); err != nil {
		return TxBatchResponse{}, fmt.Errorf("lighter: malformed response: %w", err)
	}
	resp := TxBatchResponse{ID: raw.ID}
	if raw.Error != nil {
		resp.Error = &struct {
			Code    int
			Message string
		}{Code: raw.Error.Code, Message: raw.Error.Message}
	}
	return resp, nil
}

// EncodeSubscribe builds a `jsonapi/subscribe` request whose data object
// carries the channel name and, when authToken is non-empty, the token.
func (c *Codec) EncodeSubscribe(sub venue.Subscription, authToken string) ([]byte, error) {
	m := map[string]any{
		"type": "jsonapi/subscribe",
		"data": map[string]any{"channel": channelName(sub.Kind, sub.Symbol)},
	}
	if authToken != "" {
		m["data"].(map[string]any)["auth"] = authToken
	}
	return json.Marshal(m)
}

// EncodeUnsubscribe is EncodeSubscribe's inverse.
func (c *Codec) EncodeUnsubscribe(sub venue.Subscription) ([]byte, error) {
	return json.Marshal(map[string]any{
		"type": "jsonapi/unsubscribe",
		"data": map[string]any{"channel": channelName(sub.Kind, sub.Symbol)},
	})
}

func channelName(kind venue.ChannelKind, symbol string) string {
	switch kind {
	case venue.ChannelOrderBook:
		return "order_book." + symbol
	case venue.ChannelTicker:
		return "ticker." + symbol
	case venue.ChannelMetadata:
		return "metadata"
	case venue.ChannelPrivate:
		return "account_all"
	default:
		return string(kind)
	}
}

func (c *Codec) EncodePing() []byte {
	b, _ := json.Marshal(map[string]any{"type": "ping"})
	return b
}

func (c *Codec) EncodePong([]byte) ([]byte, error) {
	b, _ := json.Marshal(map[string]any{"type": "pong"})
	return b, nil
}

func (c *Codec) IsPing(frame []byte) bool { return messageType(frame) == "ping" }
func (c *Codec) IsPong(frame []byte) bool { return messageType(frame) == "pong" }
func (c *Codec) IsSubscriptionAck(frame []byte) bool {
	return messageType(frame) == "subscribed"
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

// Decode classifies one inbound frame. Metadata frames populate the
// decimals table the compact order schema depends on, so metadata must be
// subscribed before private channels on this venue family.
func (c *Codec) Decode(frame []byte, sink venue.Sink) error {
	var env struct {
		Type    string          `json:"type"`
		Channel string          `json:"channel"`
		Data    json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(frame, &env); err != nil {
		return fmt.Errorf("lighter: malformed frame: %w", err)
	}

	switch env.Type {
	case "metadata":
		return c.decodeMetadata(env.Data, sink)
	case "order_book_snapshot":
		return c.decodeOrderBookSnapshot(env.Data, sink)
	case "order_book_update":
		return c.decodeOrderBookUpdate(env.Data, sink)
	case "ticker":
		return c.decodeTicker(env.Data, sink)
	case "account_update":
		return c.decodeAccountUpdate(env.Data, sink)
	default:
		return nil
	}
}

func (c *Codec) decodeMetadata(data json.RawMessage, sink venue.Sink) error {
	var entries []struct {
		Canonical     string `json:"canonical"`
		Native        string `json:"native"`
		ContractID    string `json:"contract_id"`
		PriceDecimals int    `json:"price_decimals"`
		SizeDecimals  int    `json:"size_decimals"`
	}
	if err := json.Unmarshal(data, &entries); err != nil {
		return fmt.Errorf("lighter: metadata: %w", err)
	}

	out := make([]market.MetadataEntry, 0, len(entries))
	for _, e := range entries {
		c.decimals[e.Canonical] = e.PriceDecimals
		out = append(out, market.MetadataEntry{
			Canonical:     e.Canonical,
			Native:        e.Native,
			ContractID:    e.ContractID,
			PriceDecimals: e.PriceDecimals,
			SizeDecimals:  e.SizeDecimals,
		})
	}
	sink.OnMetadata(c.venueName, out)
	return nil
}

func (c *Codec) decodeOrderBookSnapshot(data json.RawMessage, sink venue.Sink) error {
	var raw struct {
		Symbol  string        `json:"symbol"`
		Bids    []codec.Level `json:"bids"`
		Asks    []codec.Level `json:"asks"`
		Version int64         `json:"version"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("lighter: order book snapshot: %w", err)
	}
	sink.OnOrderBookSnapshot(market.OrderBookSnapshot{
		Venue:   c.venueName,
		Symbol:  raw.Symbol,
		Bids:    levelsFromPairs(raw.Bids),
		Asks:    levelsFromPairs(raw.Asks),
		Version: raw.Version,
	})
	return nil
}

func (c *Codec) decodeOrderBookUpdate(data json.RawMessage, sink venue.Sink) error {
	var raw struct {
		Symbol  string        `json:"symbol"`
		Bids    []codec.Level `json:"bids"`
		Asks    []codec.Level `json:"asks"`
		Version int64         `json:"version"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("lighter: order book update: %w", err)
	}
	sink.OnOrderBookDelta(market.OrderBookDelta{
		Venue:   c.venueName,
		Symbol:  raw.Symbol,
		Bids:    levelsFromPairs(raw.Bids),
		Asks:    levelsFromPairs(raw.Asks),
		Version: raw.Version,
	})
	return nil
}

func (c *Codec) decodeTicker(data json.RawMessage, sink venue.Sink) error {
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return fmt.Errorf("lighter: ticker: %w", err)
	}

	symbol, _ := codec.FirstString(m, "symbol")
	last, _ := codec.FirstFloat(m, "last", "lastPrice")
	fundingRate, _ := codec.FirstFloat(m, "funding_rate", "fundingRate")
	oi, _ := codec.FirstFloat(m, "open_interest", "openInterest")
	ts, _ := codec.FirstFloat(m, "timestamp", "ts", "eventTime")

	sink.OnTicker(market.Ticker{
		Venue: c.venueName,
		Symbol: symbol,
		Last:   last,
		OpenInterest:  oi,
		// This venue reports funding on a 1-hour cycle (spec §4.5 ×8 rule).
		FundingRate8h:     codec.NormalizeFunding(fundingRate, codec.FundingPeriod1h),
		ExchangeTimestamp: codec.ParseTimestamp(ts),
	})
	return nil
}

// decodeAccountUpdate parses the compact single-letter private order-event
// schema from spec §4.5: i=order-index, u=client-order-index,
// is=initial-size, rs=remaining-size, p=price×10^decimals, ia=is-ask,
// st=status-code.
func (c *Codec) decodeAccountUpdate(data json.RawMessage, sink venue.Sink) error {
	var raw struct {
		Symbol string `json:"symbol"`
		I      int64  `json:"i"`
		U      int64  `json:"u"`
		IS     int64  `json:"is"`
		RS     int64  `json:"rs"`
		P      int64  `json:"p"`
		IA     bool   `json:"ia"`
		ST     int    `json:"st"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("lighter: account update: %w", err)
	}

	decimals := c.decimals[raw.Symbol]
	orderID := fmt.Sprintf("%d", raw.I)
	clientID := fmt.Sprintf("%d", raw.U)
	initialSize := codec.ScaleInt(raw.IS, 0)
	remaining := codec.ScaleInt(raw.RS, 0)
	filled := initialSize - remaining
	price := codec.ScaleInt(raw.P, decimals)

	if c.dedup.Seen(orderID, clientID, filled) {
		return nil
	}

	side := market.SideBuy
	if raw.IA {
		side = market.SideSell
	}

	status, ok := orderStatusCode[raw.ST]
	if !ok {
		status = market.OrderStatusUnknown
	}

	sink.OnOrderUpdate(market.Order{
		Venue:     c.venueName,
		OrderID:   orderID,
		ClientID:  clientID,
		Symbol:    raw.Symbol,
		Side:      side,
		Amount:    initialSize,
		Price:     price,
		Filled:    filled,
		Remaining: remaining,
		Status:    status,
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
