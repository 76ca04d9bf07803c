package main

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/sawpanic/xarbfeed/internal/backoff"
	"github.com/sawpanic/xarbfeed/internal/config"
	"github.com/sawpanic/xarbfeed/internal/health"
	"github.com/sawpanic/xarbfeed/internal/market"
	"github.com/sawpanic/xarbfeed/internal/opportunity"
	"github.com/sawpanic/xarbfeed/internal/orderbook"
	"github.com/sawpanic/xarbfeed/internal/pipeline"
	"github.com/sawpanic/xarbfeed/internal/restmeta"
	"github.com/sawpanic/xarbfeed/internal/symbol"
	"github.com/sawpanic/xarbfeed/internal/transport"
	"github.com/sawpanic/xarbfeed/internal/venue"
	"github.com/sawpanic/xarbfeed/internal/venue/edgex"
	"github.com/sawpanic/xarbfeed/internal/venue/lighter"
)

// application wires every component named in spec §4 into one running
// process: one venue.Session per configured venue, a shared Backoff
// Controller, the Order-Book Engine, the fan-in pipeline, and the
// Opportunity Detector.
type application struct {
	log zerolog.Logger

	sessions       map[string]*venue.Session
	registries     map[string]*symbol.Registry
	txBatchers     map[string]*lighter.TxBatcher
	balancePollers []*restmeta.BalancePoller
	backoffCtl     *backoff.Controller
	engine         *orderbook.Engine
	pipe           *pipeline.Pipeline
	detector       *opportunity.Detector
	health         *health.Aggregator

	mu       sync.RWMutex
	tickers  map[string]map[string]market.Ticker     // symbol -> venue -> latest ticker
	balances map[string]map[string]market.BalanceEntry // venue -> currency -> latest balance
}

func newApplication(cfg *config.Config, log zerolog.Logger) (*application, error) {
	app := &application{
		log:        log,
		sessions:   map[string]*venue.Session{},
		registries: map[string]*symbol.Registry{},
		txBatchers: map[string]*lighter.TxBatcher{},
		backoffCtl: backoff.New(log),
		engine:     orderbook.New(log),
		tickers:    map[string]map[string]market.Ticker{},
		balances:   map[string]map[string]market.BalanceEntry{},
	}

	app.detector = opportunity.New(
		opportunity.Thresholds{
			MinPriceSpreadPct:   cfg.Opportunity.MinPriceSpreadPct,
			MinFundingSpreadAbs: cfg.Opportunity.MinFundingSpreadAbs,
			MinScore:            cfg.Opportunity.MinScore,
		},
		app.quotesFor,
		app.onOpportunity,
		log,
	)

	app.pipe = pipeline.New(pipeline.Config{
		OrderBookQueueSize: cfg.Pipeline.OrderBookQueueSize,
		TickerQueueSize:    cfg.Pipeline.TickerQueueSize,
		AnalysisQueueSize:  cfg.Pipeline.AnalysisQueueSize,
	}, app.detector, app.onOrderBookEvent, app.onTicker, log)

	sources := map[string]health.Source{}
	for _, vc := range cfg.Venues {
		sess, registry, err := app.buildSession(vc)
		if err != nil {
			return nil, err
		}
		app.sessions[vc.Name] = sess
		app.registries[vc.Name] = registry
		sources[vc.Name] = sess
	}
	app.health = health.New(sources)

	return app, nil
}

func (app *application) buildSession(vc config.VenueConfig) (*venue.Session, *symbol.Registry, error) {
	registry := symbol.NewRegistry(vc.Name, symbol.QuoteAlias{USDCSettled: vc.Family == "edgex"})

	var codec venue.Codec
	var txBatcher *lighter.TxBatcher
	switch vc.Family {
	case "lighter":
		lc := lighter.New(vc.Name)
		codec = lc
	default:
		codec = edgex.New(vc.Name, nil)
	}

	sink := &venueSink{app: app, venue: vc.Name, registry: registry}

	verifySSL := vc.VerifySSLEnabled()
	dialer := transport.GorillaDialer{VerifySSL: verifySSL}

	sess := venue.New(venue.Config{
		Venue:            vc.Name,
		URL:              vc.PublicWSURL,
		IsPrivate:        vc.IsAuthenticated(),
		VerifySSL:        verifySSL,
		TerminalCacheTTL: time.Duration(vc.TerminalCacheTTLSeconds) * time.Second,
	}, dialer, codec, sink, app.backoffCtl, app.log)

	if vc.Family == "lighter" {
		txBatcher = lighter.NewTxBatcher(sess)
		sess.SetResponseDispatcher(txBatcher.Dispatch)
		app.txBatchers[vc.Name] = txBatcher
	}

	if vc.SubscriptionMode == config.SubscriptionPredefined {
		for sym, kinds := range vc.Symbols {
			if kinds.Ticker {
				_ = sess.Subscribe(context.Background(), venue.Subscription{Kind: venue.ChannelTicker, Symbol: sym})
			}
			if kinds.OrderBook {
				_ = sess.Subscribe(context.Background(), venue.Subscription{Kind: venue.ChannelOrderBook, Symbol: sym})
			}
		}
	} else {
		_ = sess.Subscribe(context.Background(), venue.Subscription{Kind: venue.ChannelMetadata})
		if vc.RESTURL != "" {
			fetcher := symbol.NewRESTFetcher(vc.Name, restmeta.FetchFunc(vc.RESTURL, verifySSL))
			if err := fetcher.FetchInto(context.Background(), registry); err != nil {
				app.log.Warn().Err(err).Str("venue", vc.Name).Msg("collector: dynamic metadata REST fetch failed, falling back to the WS metadata channel")
			}
		}
	}

	if !vc.BalanceRefresh.UseWebSocket && vc.RESTURL != "" && vc.IsAuthenticated() {
		interval := time.Duration(vc.BalanceRefresh.RESTIntervalSeconds) * time.Second
		poller := restmeta.NewBalancePoller(vc.Name, vc.RESTURL, vc.APIKey, verifySSL, interval, sink.onBalanceUpdate)
		app.balancePollers = append(app.balancePollers, poller)
	}

	return sess, registry, nil
}

// Run connects every venue, starts the pipeline, and blocks until ctx is
// canceled.
func (app *application) Run(ctx context.Context) error {
	app.connectAll(ctx)
	defer app.disconnectAll()

	app.pipe.Run(ctx)
	return nil
}

func (app *application) connectAll(ctx context.Context) {
	for name, sess := range app.sessions {
		if err := sess.Connect(ctx); err != nil {
			app.log.Warn().Err(err).Str("venue", name).Msg("collector: initial connect failed, reconnect loop will retry")
		}
	}
	for _, poller := range app.balancePollers {
		go poller.Run(ctx)
	}
}

func (app *application) disconnectAll() {
	for _, sess := range app.sessions {
		sess.Disconnect()
	}
}

func (app *application) onOrderBookEvent(ev pipeline.OrderBookEvent) {
	switch {
	case ev.Snapshot != nil:
		app.engine.ApplySnapshot(*ev.Snapshot)
	case ev.Delta != nil:
		if _, ok := app.engine.ApplyDelta(*ev.Delta); !ok && app.engine.ResyncNeeded(ev.Delta.Venue, ev.Delta.Symbol) {
			if sess, ok := app.sessions[ev.Delta.Venue]; ok {
				_ = sess.ForceResync(context.Background(), venue.Subscription{Kind: venue.ChannelOrderBook, Symbol: ev.Delta.Symbol})
			}
		}
	}
}

func (app *application) onTicker(t market.Ticker) {
	app.mu.Lock()
	defer app.mu.Unlock()
	byVenue, ok := app.tickers[t.Symbol]
	if !ok {
		byVenue = map[string]market.Ticker{}
		app.tickers[t.Symbol] = byVenue
	}
	byVenue[t.Venue] = t
}

// quotesFor builds the Opportunity Detector's per-venue input set for one
// symbol by combining the order-book engine's top-of-book with the last
// seen ticker's funding rate (spec §4.7 inputs).
func (app *application) quotesFor(symbolName string) []opportunity.VenueQuote {
	app.mu.RLock()
	byVenue := app.tickers[symbolName]
	snapshot := make(map[string]market.Ticker, len(byVenue))
	for k, v := range byVenue {
		snapshot[k] = v
	}
	app.mu.RUnlock()

	quotes := make([]opportunity.VenueQuote, 0, len(snapshot))
	for venueName, t := range snapshot {
		bid, ask, ok := app.engine.TopOfBook(venueName, symbolName)
		if !ok {
			continue
		}
		quotes = append(quotes, opportunity.VenueQuote{
			Venue:         venueName,
			BestBid:       bid.Price,
			BestAsk:       ask.Price,
			BidSize:       bid.Size,
			AskSize:       ask.Size,
			FundingRate8h: t.FundingRate8h,
		})
	}
	return quotes
}

func (app *application) onBalanceUpdate(b market.BalanceEntry) {
	app.mu.Lock()
	defer app.mu.Unlock()
	byCurrency, ok := app.balances[b.Venue]
	if !ok {
		byCurrency = map[string]market.BalanceEntry{}
		app.balances[b.Venue] = byCurrency
	}
	byCurrency[b.Currency] = b
}

func (app *application) onOpportunity(o opportunity.Opportunity) {
	app.log.Info().
		Str("kind", string(o.Kind)).
		Str("symbol", o.Symbol).
		Str("buy", o.ExchangeBuy).
		Str("sell", o.ExchangeSell).
		Float64("spread_pct", o.SpreadPct).
		Float64("funding_spread_abs", o.FundingSpreadAbs).
		Msg("opportunity: detected")
}

// venueSink adapts one venue's decoded events into the pipeline and symbol
// registry (spec §4.4 Sink contract).
type venueSink struct {
	app      *application
	venue    string
	registry *symbol.Registry
}

func (s *venueSink) OnMetadata(venueName string, entries []market.MetadataEntry) {
	s.registry.Replace(entries)
}

func (s *venueSink) OnTicker(t market.Ticker) {
	s.app.pipe.PushTicker(t)
}

func (s *venueSink) OnOrderBookSnapshot(snap market.OrderBookSnapshot) {
	s.app.pipe.PushOrderBookSnapshot(snap)
}

func (s *venueSink) OnOrderBookDelta(delta market.OrderBookDelta) {
	s.app.pipe.PushOrderBookDelta(delta)
}

// OnOrderUpdate/OnPositionUpdate are no-ops here: venue.Session's own
// cachingSink (spec §3 VenueSessionState caches) already records every
// update before it reaches this sink, and the query path for them is
// Session.Order/Session.Position, not the application.
func (s *venueSink) OnOrderUpdate(market.Order)       {}
func (s *venueSink) OnPositionUpdate(market.Position) {}
func (s *venueSink) OnTrade(market.TradeUpdate)       {}

// OnBalanceUpdate handles the WS-push path (spec §6.3 balance_refresh:
// use_websocket: true); onBalanceUpdate also serves as the REST-poll path's
// callback so both feed the same app-level balance table.
func (s *venueSink) OnBalanceUpdate(b market.BalanceEntry) {
	s.onBalanceUpdate(b)
}

func (s *venueSink) onBalanceUpdate(b market.BalanceEntry) {
	if b.Venue == "" {
		b.Venue = s.venue
	}
	s.app.onBalanceUpdate(b)
}
