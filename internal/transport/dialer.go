// Package transport wraps gorilla/websocket behind the venue.Dialer and
// venue.Conn interfaces, grounded on the teacher's
// internal/providers/kraken WebSocketClient dial/read/write plumbing.
package transport

import (
	"context"
	"crypto/tls"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/sawpanic/xarbfeed/internal/venue"
)

// GorillaDialer dials venue WebSocket URLs with gorilla/websocket. Client
// ping frames are disabled at this layer; heartbeating happens at the
// JSON application layer the Codec owns (spec §4.4).
type GorillaDialer struct {
	VerifySSL bool
}

// Dial opens a connection to url, returning a venue.Conn.
func (d GorillaDialer) Dial(ctx context.Context, url string, header http.Header) (venue.Conn, error) {
	dialer := *websocket.DefaultDialer
	dialer.HandshakeTimeout = 10 * time.Second
	if !d.VerifySSL {
		dialer.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // opt-in per venue config (spec §6.3)
	}

	conn, _, err := dialer.DialContext(ctx, url, header)
	if err != nil {
		return nil, err
	}
	return &gorillaConn{conn: conn}, nil
}

// gorillaConn adapts *websocket.Conn to venue.Conn.
type gorillaConn struct {
	conn *websocket.Conn
}

func (c *gorillaConn) ReadMessage() (int, []byte, error) {
	return c.conn.ReadMessage()
}

func (c *gorillaConn) WriteMessage(messageType int, data []byte) error {
	return c.conn.WriteMessage(messageType, data)
}

func (c *gorillaConn) SetReadDeadline(t time.Time) error {
	return c.conn.SetReadDeadline(t)
}

func (c *gorillaConn) Close() error {
	return c.conn.Close()
}
