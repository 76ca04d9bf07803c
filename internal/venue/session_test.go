package venue

import (
	"context"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/xarbfeed/internal/backoff"
	"github.com/sawpanic/xarbfeed/internal/logging"
	"github.com/sawpanic/xarbfeed/internal/market"
)

// fakeConn is an in-memory Conn that lets a test script inbound frames and
// observe outbound writes, grounded on the teacher's fake-transport pattern
// used to unit test internal/providers/kraken/websocket.go without a real
// socket.
type fakeConn struct {
	mu      sync.Mutex
	inbound chan []byte
	written [][]byte
	closed  bool
}

func newFakeConn() *fakeConn {
	return &fakeConn{inbound: make(chan []byte, 64)}
}

func (c *fakeConn) push(frame []byte) { c.inbound <- frame }

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	frame, ok := <-c.inbound
	if !ok {
		return 0, nil, errClosed
	}
	return 1, frame, nil
}

func (c *fakeConn) WriteMessage(_ int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	cp := append([]byte(nil), data...)
	c.written = append(c.written, cp)
	return nil
}

func (c *fakeConn) SetReadDeadline(time.Time) error { return nil }

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.inbound)
	}
	return nil
}

func (c *fakeConn) writes() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([][]byte, len(c.written))
	copy(out, c.written)
	return out
}

type errString string

func (e errString) Error() string { return string(e) }

const errClosed = errString("fake conn closed")

// fakeDialer hands out a queue of pre-built conns, one per Dial call, so a
// test can script a disconnect followed by a successful reconnect.
type fakeDialer struct {
	mu    sync.Mutex
	conns []*fakeConn
	calls int
}

func (d *fakeDialer) Dial(_ context.Context, _ string, _ http.Header) (Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.calls >= len(d.conns) {
		return d.conns[len(d.conns)-1], nil
	}
	c := d.conns[d.calls]
	d.calls++
	return c, nil
}

// fakeCodec is a minimal Codec that treats every frame as a plain ping/pong
// marker or an opaque business message, without real wire parsing.
type fakeCodec struct {
	decoded [][]byte
}

func (c *fakeCodec) Decode(frame []byte, _ Sink) error {
	c.decoded = append(c.decoded, frame)
	return nil
}
func (c *fakeCodec) EncodeSubscribe(sub Subscription, _ string) ([]byte, error) {
	return []byte("sub:" + string(sub.Kind) + ":" + sub.Symbol), nil
}
func (c *fakeCodec) EncodeUnsubscribe(sub Subscription) ([]byte, error) {
	return []byte("unsub:" + string(sub.Kind) + ":" + sub.Symbol), nil
}
func (c *fakeCodec) EncodePing() []byte                    { return []byte("ping") }
func (c *fakeCodec) EncodePong(raw []byte) ([]byte, error) { return []byte("pong"), nil }
func (c *fakeCodec) IsPing(frame []byte) bool              { return string(frame) == "server-ping" }
func (c *fakeCodec) IsPong(frame []byte) bool              { return string(frame) == "server-pong" }
func (c *fakeCodec) IsSubscriptionAck(frame []byte) bool   { return string(frame) == "ack" }

// testSink is a no-op Sink used by tests that only exercise the connection
// lifecycle, not decoded-event routing.
type testSink struct{}

func (testSink) OnMetadata(string, []market.MetadataEntry)       {}
func (testSink) OnTicker(market.Ticker)                          {}
func (testSink) OnOrderBookSnapshot(market.OrderBookSnapshot)     {}
func (testSink) OnOrderBookDelta(market.OrderBookDelta)           {}
func (testSink) OnOrderUpdate(market.Order)                       {}
func (testSink) OnPositionUpdate(market.Position)                 {}
func (testSink) OnBalanceUpdate(market.BalanceEntry)              {}
func (testSink) OnTrade(market.TradeUpdate)                       {}

func TestSession_ConnectReplaysSubscriptions(t *testing.T) {
	conn := newFakeConn()
	dialer := &fakeDialer{conns: []*fakeConn{conn}}
	codec := &fakeCodec{}
	sess := New(Config{Venue: "edgex", URL: "wss://example/ws"}, dialer, codec, testSink{}, backoff.New(logging.Nop()), logging.Nop())

	require.NoError(t, sess.Subscribe(context.Background(), Subscription{Kind: ChannelTicker, Symbol: "BTC-USDC-PERP"}))

	require.NoError(t, sess.Connect(context.Background()))
	defer sess.Disconnect()

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, StateConnected, sess.State())

	writes := conn.writes()
	require.Len(t, writes, 1)
	assert.Equal(t, "sub:ticker:BTC-USDC-PERP", string(writes[0]))
}

func TestSession_ReconnectAfterReadError(t *testing.T) {
	connA := newFakeConn()
	connB := newFakeConn()
	dialer := &fakeDialer{conns: []*fakeConn{connA, connB}}
	codec := &fakeCodec{}
	sess := New(Config{Venue: "edgex", URL: "wss://example/ws"}, dialer, codec, testSink{}, backoff.New(logging.Nop()), logging.Nop())

	require.NoError(t, sess.Connect(context.Background()))
	defer sess.Disconnect()

	connA.Close() // forces a read error on the first conn

	require.Eventually(t, func() bool {
		return sess.State() == StateConnected && dialer.calls == 2
	}, 2*time.Second, 10*time.Millisecond, "session should reconnect onto the second dialed conn")
}

func TestSession_DisconnectIsIdempotent(t *testing.T) {
	conn := newFakeConn()
	dialer := &fakeDialer{conns: []*fakeConn{conn}}
	codec := &fakeCodec{}
	sess := New(Config{Venue: "edgex", URL: "wss://example/ws"}, dialer, codec, testSink{}, backoff.New(logging.Nop()), logging.Nop())

	require.NoError(t, sess.Connect(context.Background()))
	sess.Disconnect()
	assert.NotPanics(t, func() { sess.Disconnect() })
	assert.Equal(t, StateDisconnected, sess.State())
}

func TestReconnectDelay_AggressiveThenExponential(t *testing.T) {
	assert.Equal(t, time.Duration(0), reconnectDelay(0))
	assert.Equal(t, time.Second, reconnectDelay(1))
	assert.Equal(t, 8*time.Second, reconnectDelay(4))
	assert.Equal(t, 16*time.Second, reconnectDelay(5))
	assert.Equal(t, reconnectMaxBackoff, reconnectDelay(20))
}
