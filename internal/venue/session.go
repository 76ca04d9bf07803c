package venue

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/sawpanic/xarbfeed/internal/backoff"
	"github.com/sawpanic/xarbfeed/internal/market"
)

const (
	// heartbeatCheckInterval is how often the heartbeat monitor wakes up
	// (spec §4.4 "Heartbeat check runs every 5 s").
	heartbeatCheckInterval = 5 * time.Second
	// dataSilenceThreshold triggers an immediate reconnect (spec §4.4).
	dataSilenceThreshold = 60 * time.Second
	// manualPingThreshold is the point at which the client probes with an
	// unsolicited ping rather than waiting for the silence threshold.
	manualPingThreshold = 30 * time.Second
	// unsolicitedPongInterval keeps the connection warm even when the
	// server hasn't pinged recently (spec §4.4, ~20-30s).
	unsolicitedPongInterval = 25 * time.Second
	// subscriptionReplayDelay avoids triggering venue rate limits when
	// replaying many subscriptions after a reconnect (spec §4.4, ~100ms).
	subscriptionReplayDelay = 100 * time.Millisecond
	// socketCloseGrace is how long disconnect waits for server cleanup
	// after sending a close frame (spec §4.4, ~500ms).
	socketCloseGrace = 500 * time.Millisecond

	handlerShutdownTimeout = 2 * time.Second
	socketShutdownTimeout  = 3 * time.Second
)

// reconnectSchedule is the aggressive fixed prefix from spec §4.4: first
// attempt immediate, then 1s, 2s, 4s, 8s, after which the caller falls back
// to exponential backoff capped at 300s.
var reconnectSchedule = []time.Duration{0, time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second}

const reconnectMaxBackoff = 300 * time.Second

func reconnectDelay(attempt int) time.Duration {
	if attempt < len(reconnectSchedule) {
		return reconnectSchedule[attempt]
	}
	d := reconnectSchedule[len(reconnectSchedule)-1]
	for i := len(reconnectSchedule); i <= attempt; i++ {
		d *= 2
		if d >= reconnectMaxBackoff {
			return reconnectMaxBackoff
		}
	}
	return d
}

// Config configures one venue session (spec §6.3).
type Config struct {
	Venue         string
	URL           string
	IsPrivate     bool
	Auth          Authenticator
	VerifySSL     bool // carried for the dialer's TLS config; not used here directly

	// TerminalCacheTTL is P7's terminal_cache_ttl; zero means the 10s
	// default.
	TerminalCacheTTL time.Duration
}

// Session is one venue's WebSocket session: one public or private
// connection, its heartbeat/silence monitor, its durable subscription set,
// and its reconnect loop (spec §4.4, C4).
type Session struct {
	cfg    Config
	dialer Dialer
	codec  Codec
	sink   Sink
	cache  *OrderCache
	backoffCtl *backoff.Controller
	log    zerolog.Logger

	mu              sync.Mutex
	conn            Conn
	state           ConnState
	subscriptions   map[Subscription]struct{}
	reconnectAttempt int
	reconnectCount  int // successful-reconnect observability counter
	shouldRun       bool
	reconnecting    bool

	lastMessageTime         time.Time
	lastBusinessMessageTime time.Time
	pingInFlight            bool

	bytesReceived int64
	bytesSent     int64
	degraded      bool
	degradedReason string

	cancel context.CancelFunc
	wg     sync.WaitGroup

	// authToken is never reused across a reconnect for AuthShortLivedToken
	// venues (spec §4.4).
	authToken string

	// sendLimiter paces outbound control frames (subscribe/unsubscribe/ping)
	// per venue, generalizing the ~100ms inter-send delay spec §4.4 requires
	// during subscription replay to every outbound send, not just replay.
	sendLimiter *rate.Limiter

	// responseDispatcher, when set, gets first look at every inbound frame
	// that is neither ping/pong nor a subscription ack, and reports whether
	// it claimed the frame as a correlated response (e.g. Family B's
	// send_tx_batch replies). Unclaimed frames fall through to codec.Decode.
	responseDispatcher func(frame []byte) bool
}

// SetResponseDispatcher installs the request/response correlator used by
// Family B's send_tx_batch (spec §6.2). Public channels never need one.
func (s *Session) SetResponseDispatcher(dispatch func(frame []byte) bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.responseDispatcher = dispatch
}

// New builds a Session in DISCONNECTED state with an empty subscription
// set. The session interposes its own order/position cache (spec §3
// VenueSessionState "shared caches for positions/balances/orders/
// terminal-orders") between the codec and the caller-supplied sink, so
// every OnOrderUpdate/OnPositionUpdate the codec emits feeds the cache
// before reaching the caller.
func New(cfg Config, dialer Dialer, codec Codec, sink Sink, backoffCtl *backoff.Controller, log zerolog.Logger) *Session {
	cache := newOrderCache(cfg.TerminalCacheTTL)
	return &Session{
		cfg:           cfg,
		dialer:        dialer,
		codec:         codec,
		sink:          &cachingSink{cache: cache, inner: sink},
		cache:         cache,
		backoffCtl:    backoffCtl,
		log:           log.With().Str("venue", cfg.Venue).Logger(),
		state:         StateDisconnected,
		subscriptions: map[Subscription]struct{}{},
		sendLimiter:   rate.NewLimiter(rate.Every(subscriptionReplayDelay), 1),
	}
}

// Order resolves an order by order id or client id from the session's
// cache, preferring an unexpired terminal-order entry (spec P7: "within
// terminal_cache_ttl of receiving a terminal status for order O, a local
// query for O returns the cached state without issuing a REST call").
func (s *Session) Order(id string) (market.Order, bool) {
	return s.cache.Order(id)
}

// Position returns the cached position for a canonical symbol, if any.
func (s *Session) Position(symbol string) (market.Position, bool) {
	return s.cache.Position(symbol)
}

// State returns the current connection state.
func (s *Session) State() ConnState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Subscribe adds a channel to the durable subscription set and sends it
// immediately if connected (spec §4.4 Subscription model).
func (s *Session) Subscribe(ctx context.Context, sub Subscription) error {
	s.mu.Lock()
	s.subscriptions[sub] = struct{}{}
	connected := s.state == StateConnected || s.state == StateAuthenticated
	s.mu.Unlock()

	if !connected {
		return nil
	}
	return s.sendSubscribe(sub)
}

// Unsubscribe removes a channel from the durable set and, if connected,
// sends the unsubscribe frame. Used both for caller-driven unsubscription
// and for the forced resync path in spec §7 (Order-book integrity).
func (s *Session) Unsubscribe(sub Subscription) error {
	s.mu.Lock()
	delete(s.subscriptions, sub)
	conn := s.conn
	s.mu.Unlock()

	if conn == nil {
		return nil
	}
	frame, err := s.codec.EncodeUnsubscribe(sub)
	if err != nil {
		return err
	}
	return s.write(frame)
}

// ForceResync unsubscribes and resubscribes one channel, per spec §7's
// "force a resync by unsubscribing and resubscribing the channel" for
// order-book integrity violations that persist beyond the anomaly
// threshold.
func (s *Session) ForceResync(ctx context.Context, sub Subscription) error {
	if err := s.Unsubscribe(sub); err != nil {
		s.log.Warn().Err(err).Msg("session: unsubscribe during forced resync failed")
	}
	return s.Subscribe(ctx, sub)
}

func (s *Session) sendSubscribe(sub Subscription) error {
	token := ""
	if sub.Kind == ChannelPrivate && s.cfg.Auth != nil {
		token = s.currentAuthToken()
	}
	frame, err := s.codec.EncodeSubscribe(sub, token)
	if err != nil {
		return err
	}
	return s.write(frame)
}

func (s *Session) currentAuthToken() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.authToken
}

// Connect dials the venue, starts the inbound loop and heartbeat monitor,
// and replays the durable subscription set (spec §4.4 state machine).
func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateDisconnected && s.state != StateError {
		s.mu.Unlock()
		return fmt.Errorf("session %s: connect called from state %s", s.cfg.Venue, s.state)
	}
	s.state = StateConnecting
	s.shouldRun = true
	s.mu.Unlock()

	runCtx, cancel := context.WithCancel(ctx)

	// A short-lived-token venue must mint a fresh token on every reconnect,
	// never reuse one across connections (spec §4.4 Authentication).
	if s.cfg.IsPrivate && s.cfg.Auth != nil && s.cfg.Auth.Mode() == AuthShortLivedToken {
		token, err := s.cfg.Auth.MintToken(runCtx)
		if err != nil {
			cancel()
			s.setState(StateError)
			return fmt.Errorf("mint auth token: %w", err)
		}
		s.mu.Lock()
		s.authToken = token
		s.mu.Unlock()
	}

	conn, err := s.dialer.Dial(runCtx, s.cfg.URL, http.Header{})
	if err != nil {
		cancel()
		s.setState(StateError)
		return fmt.Errorf("dial %s: %w", s.cfg.Venue, err)
	}

	s.mu.Lock()
	s.conn = conn
	s.state = StateConnected
	s.cancel = cancel
	now := time.Now()
	s.lastMessageTime = now
	s.lastBusinessMessageTime = now
	s.mu.Unlock()

	s.wg.Add(2)
	go s.readLoop(runCtx)
	go s.heartbeatLoop(runCtx)

	if s.cfg.IsPrivate && s.cfg.Auth != nil && s.cfg.Auth.Mode() != AuthNone {
		s.setState(StateAuthenticated)
	}

	s.replaySubscriptions()

	s.log.Info().Msg("session: connected")
	return nil
}

// replaySubscriptions resends every durable subscription with a small
// inter-send delay, per spec §4.4 / P5.
func (s *Session) replaySubscriptions() {
	s.mu.Lock()
	subs := make([]Subscription, 0, len(s.subscriptions))
	for sub := range s.subscriptions {
		subs = append(subs, sub)
	}
	s.mu.Unlock()

	for _, sub := range subs {
		// Pacing between sends comes from sendLimiter inside write(), not a
		// manual sleep here (spec §4.4 P5).
		if err := s.sendSubscribe(sub); err != nil {
			s.log.Warn().Err(err).Interface("subscription", sub).Msg("session: subscription replay failed")
		}
	}
}

func (s *Session) setState(state ConnState) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

// WriteRaw sends a pre-encoded frame through the same paced outbound path
// every control frame uses. It is the hook Family B's send_tx_batch
// correlation (internal/venue/lighter.TxBatcher) writes through (spec
// §6.2).
func (s *Session) WriteRaw(frame []byte) error {
	return s.write(frame)
}

func (s *Session) write(frame []byte) error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("session %s: not connected", s.cfg.Venue)
	}

	// Every outbound control frame is paced through the same per-venue
	// limiter subscription replay uses, so a burst of subscribes never
	// exceeds the venue's rate limit (spec §4.4 P5).
	_ = s.sendLimiter.Wait(context.Background())

	if err := conn.WriteMessage(1, frame); err != nil {
		return err
	}
	s.mu.Lock()
	s.bytesSent += int64(len(frame))
	s.mu.Unlock()
	return nil
}

func (s *Session) readLoop(ctx context.Context) {
	defer s.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		s.mu.Lock()
		conn := s.conn
		s.mu.Unlock()
		if conn == nil {
			return
		}

		conn.SetReadDeadline(time.Now().Add(dataSilenceThreshold + heartbeatCheckInterval))
		_, data, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
			}
			s.log.Warn().Err(err).Msg("session: read error, forcing reconnect")
			go s.forceReconnect(ctx, "read_error")
			return
		}

		now := time.Now()
		s.mu.Lock()
		s.lastMessageTime = now
		s.bytesReceived += int64(len(data))
		s.mu.Unlock()

		s.handleFrame(ctx, data)
	}
}

func (s *Session) handleFrame(ctx context.Context, data []byte) {
	switch {
	case s.codec.IsPing(data):
		if pong, err := s.codec.EncodePong(data); err == nil {
			if err := s.write(pong); err != nil {
				s.log.Warn().Err(err).Msg("session: pong send failed")
				go s.forceReconnect(ctx, "ping_failure")
				return
			}
		}
		return
	case s.codec.IsPong(data):
		s.mu.Lock()
		s.pingInFlight = false
		s.mu.Unlock()
		return
	case s.codec.IsSubscriptionAck(data):
		return
	}

	s.mu.Lock()
	dispatcher := s.responseDispatcher
	s.mu.Unlock()
	if dispatcher != nil && dispatcher(data) {
		return
	}

	if err := s.codec.Decode(data, s.sink); err != nil {
		preview := data
		if len(preview) > 500 {
			preview = preview[:500]
		}
		s.log.Error().Err(err).Str("preview", string(preview)).Msg("session: frame decode failed")
		return
	}

	s.mu.Lock()
	s.lastBusinessMessageTime = time.Now()
	s.mu.Unlock()
}

func (s *Session) heartbeatLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(heartbeatCheckInterval)
	defer ticker.Stop()

	lastUnsolicitedPong := time.Now()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		s.mu.Lock()
		reconnecting := s.reconnecting
		silence := time.Since(s.lastBusinessMessageTime)
		s.mu.Unlock()
		if reconnecting {
			continue // heartbeat observers racing a reconnect become no-ops
		}

		if silence >= dataSilenceThreshold {
			s.log.Warn().Dur("silence", silence).Msg("session: data silence threshold exceeded, forcing reconnect")
			go s.forceReconnect(ctx, "silence_timeout")
			return
		}

		if silence >= manualPingThreshold {
			s.mu.Lock()
			alreadyProbing := s.pingInFlight
			if !alreadyProbing {
				s.pingInFlight = true
			}
			s.mu.Unlock()
			if !alreadyProbing {
				if err := s.write(s.codec.EncodePing()); err != nil {
					s.log.Warn().Err(err).Msg("session: ping send failed")
					go s.forceReconnect(ctx, "ping_failure")
					return
				}
			}
		}

		if time.Since(lastUnsolicitedPong) >= unsolicitedPongInterval {
			// EncodePong answers a ping frame; a locally built ping supplies
			// the timestamp that venues echoing one expect.
			if pong, err := s.codec.EncodePong(s.codec.EncodePing()); err == nil {
				if err := s.write(pong); err == nil {
					lastUnsolicitedPong = time.Now()
				}
			}
		}
	}
}

// forceReconnect routes every failure kind named in spec §4.4 /§7 (connection
// errors, silence timeout, ping failure) through the same path.
func (s *Session) forceReconnect(ctx context.Context, reason string) {
	s.mu.Lock()
	if s.reconnecting {
		s.mu.Unlock()
		return
	}
	s.reconnecting = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.reconnecting = false
		s.mu.Unlock()
	}()

	s.disconnect(true)

	s.mu.Lock()
	shouldRun := s.shouldRun
	s.mu.Unlock()
	if !shouldRun {
		return
	}

	// ctx belongs to the connection disconnect just canceled; the loop runs
	// on a detached copy and stops once Disconnect clears shouldRun.
	ctx = context.WithoutCancel(ctx)

	for {
		s.mu.Lock()
		attempt := s.reconnectAttempt
		s.reconnectAttempt++
		s.mu.Unlock()

		delay := reconnectDelay(attempt)
		s.log.Info().Str("reason", reason).Int("attempt", attempt).Dur("delay", delay).Msg("session: reconnecting")

		time.Sleep(delay)

		s.mu.Lock()
		shouldRun = s.shouldRun
		s.mu.Unlock()
		if !shouldRun {
			return
		}

		if err := s.Connect(ctx); err != nil {
			s.log.Warn().Err(err).Msg("session: reconnect attempt failed")
			continue
		}

		s.mu.Lock()
		s.reconnectAttempt = 0
		s.reconnectCount++
		s.mu.Unlock()
		return
	}
}

// Disconnect is the public, idempotent shutdown entrypoint (spec §4.4
// Cancellation and shutdown).
func (s *Session) Disconnect() {
	s.mu.Lock()
	s.shouldRun = false
	s.mu.Unlock()
	s.disconnect(false)
}

// disconnect tears down the current connection and its tasks. It never
// changes the should-not-run flag: Disconnect clears it before calling with
// forReconnect false, and the reconnect path calls with forReconnect true
// and leaves it set so the reconnect loop can continue (spec §4.4
// "for_reconnect=true variant").
func (s *Session) disconnect(forReconnect bool) {
	s.mu.Lock()
	conn := s.conn
	cancel := s.cancel
	s.conn = nil
	s.cancel = nil
	s.state = StateDisconnected
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(handlerShutdownTimeout):
		s.log.Warn().Msg("session: handler shutdown exceeded deadline")
	}

	if conn != nil {
		closeDone := make(chan struct{})
		go func() {
			conn.Close()
			close(closeDone)
		}()
		select {
		case <-closeDone:
		case <-time.After(socketShutdownTimeout):
			s.log.Warn().Msg("session: socket close exceeded deadline")
		}
	}

	time.Sleep(socketCloseGrace)

	_ = forReconnect
}

// Health returns the observability record described in spec §7.
func (s *Session) Health() HealthRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	subs := make([]Subscription, 0, len(s.subscriptions))
	for sub := range s.subscriptions {
		subs = append(subs, sub)
	}

	return HealthRecord{
		Venue:                      s.cfg.Venue,
		Status:                     s.state,
		Subscriptions:              subs,
		ReconnectCount:             s.reconnectCount,
		BytesReceived:              s.bytesReceived,
		BytesSent:                  s.bytesSent,
		LastBusinessMessageAgoSecs: time.Since(s.lastBusinessMessageTime).Seconds(),
		Degraded:                   s.degraded,
		DegradedReason:             s.degradedReason,
	}
}

// RegisterBusinessError routes an exchange-reported business error to the
// Backoff Controller (spec §7 Exchange-reported business error). It does not
// count auth failures or change the session's mode; only Degrade marks the
// session degraded.
func (s *Session) RegisterBusinessError(code, message string) {
	s.backoffCtl.RegisterError(s.cfg.Venue, code, message)
}

// Degrade marks the session as degraded (public-only) after repeated
// private-auth rejection, surfacing a degraded-status event via Health().
func (s *Session) Degrade(reason string) {
	s.mu.Lock()
	s.degraded = true
	s.degradedReason = reason
	s.mu.Unlock()
	s.log.Warn().Str("reason", reason).Msg("session: degraded to public-only mode")
}
