// Package venue implements the per-exchange WebSocket session manager (spec
// §4.4, C4): connection lifecycle, heartbeat, reconnection with exponential
// backoff, subscription replay, and private-channel authentication. It is
// transport- and wire-format-agnostic; internal/venue/edgex and
// internal/venue/lighter supply the Codec and Dialer for each venue family.
package venue

import (
	"context"
	"net/http"
	"time"

	"github.com/sawpanic/xarbfeed/internal/market"
)

// ConnState is the venue session's connection lifecycle state (spec §4.4).
type ConnState string

const (
	StateDisconnected  ConnState = "DISCONNECTED"
	StateConnecting    ConnState = "CONNECTING"
	StateConnected     ConnState = "CONNECTED"
	StateAuthenticated ConnState = "AUTHENTICATED"
	StateError         ConnState = "ERROR"
)

// ChannelKind is one of the four channel kinds a venue may offer (spec
// §4.4 Subscription model). Not every venue offers all four.
type ChannelKind string

const (
	ChannelMetadata  ChannelKind = "metadata"
	ChannelTicker    ChannelKind = "ticker"
	ChannelOrderBook ChannelKind = "orderbook"
	ChannelPrivate   ChannelKind = "private"
)

// Subscription identifies one durable entry in the session's subscribed
// set (spec §4.4, P5). Symbol is empty for venue-wide channels (metadata,
// private).
type Subscription struct {
	Kind   ChannelKind
	Symbol string // canonical symbol, or "" for venue-wide channels
}

// Conn is the minimal surface the session needs from a WebSocket
// connection, letting tests substitute a fake without pulling in gorilla.
type Conn interface {
	ReadMessage() (messageType int, data []byte, err error)
	WriteMessage(messageType int, data []byte) error
	SetReadDeadline(t time.Time) error
	Close() error
}

// Dialer opens a Conn to a URL. Implementations disable client-library
// ping frames (spec §4.4 "Client-library ping frames are disabled to avoid
// conflict") since heartbeating is handled at the JSON application layer.
type Dialer interface {
	Dial(ctx context.Context, url string, header http.Header) (Conn, error)
}

// AuthMode selects how private channels authenticate (spec §4.4
// Authentication, §6.3 configuration surface).
type AuthMode int

const (
	AuthNone AuthMode = iota
	AuthAPIKeyL2        // long-lived API key + signed L2 token
	AuthShortLivedToken // ~10 minute TTL token, refreshed every reconnect
)

// Authenticator mints the credential a private channel subscribe needs.
// MintToken must never be cached across reconnects for AuthShortLivedToken
// venues, even if the apparent TTL has not elapsed, because some venues
// bind tokens to connection identity (spec §4.4 Authentication).
type Authenticator interface {
	Mode() AuthMode
	MintToken(ctx context.Context) (string, error)
}

// Codec turns raw inbound frames into the engine-agnostic event set named
// in spec §4.5 (C5), and raw outbound control frames (subscribe, ping) into
// wire bytes for Family A or Family B.
type Codec interface {
	// Decode classifies and parses one inbound frame, dispatching to the
	// Sink. It must not block; parsing errors are logged by the caller with
	// a bounded preview (spec §4.4) and must not stop the read loop.
	Decode(frame []byte, sink Sink) error

	// EncodeSubscribe builds the wire frame for subscribing to one channel.
	EncodeSubscribe(sub Subscription, authToken string) ([]byte, error)
	// EncodeUnsubscribe builds the wire frame for unsubscribing.
	EncodeUnsubscribe(sub Subscription) ([]byte, error)
	// EncodePing builds an unsolicited application-layer ping frame.
	EncodePing() []byte
	// EncodePong builds the response to a server ping.
	EncodePong(raw []byte) ([]byte, error)

	// IsPing/IsPong/IsSubscriptionAck classify a frame without fully
	// decoding it, so the session can decide whether it counts toward
	// last_business_message_time (spec §4.4: pings and acks never do).
	IsPing(frame []byte) bool
	IsPong(frame []byte) bool
	IsSubscriptionAck(frame []byte) bool
}

// Sink receives the normalized events a Codec produces. The Venue Session
// forwards every call synchronously onto the fan-in pipeline's bounded
// queues (spec §4.6).
type Sink interface {
	OnMetadata(venue string, entries []market.MetadataEntry)
	OnTicker(update market.Ticker)
	OnOrderBookSnapshot(snap market.OrderBookSnapshot)
	OnOrderBookDelta(delta market.OrderBookDelta)
	OnOrderUpdate(order market.Order)
	OnPositionUpdate(pos market.Position)
	OnBalanceUpdate(bal market.BalanceEntry)
	OnTrade(trade market.TradeUpdate)
}

// HealthRecord is the status surface spec §7 requires every persistent
// failure to be reported through ("status, subscriptions, reconnect_count,
// bytes_received, bytes_sent, last_business_message_ago_seconds"). The
// dashboard (out of scope) reads this; it is not part of engine semantics.
type HealthRecord struct {
	Venue                       string
	Status                      ConnState
	Subscriptions               []Subscription
	ReconnectCount              int
	BytesReceived               int64
	BytesSent                   int64
	LastBusinessMessageAgoSecs  float64
	Degraded                    bool
	DegradedReason              string
}
