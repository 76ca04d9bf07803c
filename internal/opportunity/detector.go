// Package opportunity implements the Opportunity Detector (spec §4.7, C7):
// per-symbol, cross-venue price-spread and funding-rate-spread evaluation
// against configured thresholds, with throttled "liquidity insufficient"
// logging.
package opportunity

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Kind is the category of an emitted Opportunity (spec §4.7).
type Kind string

const (
	KindPriceSpread   Kind = "price_spread"
	KindFundingSpread Kind = "funding_rate_spread"
	KindCombined      Kind = "combined"
)

// Opportunity is one detected cross-venue condition. Score is left at its
// zero value here: the spec's own §9 Open Question defers its weighting
// formula to a policy layer, so the detector only ever emits the structured
// record a scorer can later annotate.
type Opportunity struct {
	Kind Kind

	Symbol string

	ExchangeBuy  string
	ExchangeSell string
	SpreadAbs    float64
	SpreadPct    float64

	ExchangeLong      string
	ExchangeShort     string
	FundingSpreadAbs  float64
	AnnualizedPct     float64

	Score float64
}

// VenueQuote is one venue's current state for a symbol, as read from the
// order-book engine and ticker state store (spec §4.7 inputs).
type VenueQuote struct {
	Venue         string
	BestBid       float64
	BestAsk       float64
	BidSize       float64
	AskSize       float64
	FundingRate8h float64
}

// Thresholds configures the detector (spec §4.7 "Thresholds are
// configurable").
type Thresholds struct {
	MinPriceSpreadPct   float64
	MinFundingSpreadAbs float64
	MinScore            float64
}

// QuoteSource supplies the current per-venue quote set for a symbol.
type QuoteSource func(symbol string) []VenueQuote

// Detector evaluates one symbol at a time, invoked by the fan-in
// pipeline's Analysis Worker (spec §4.6, §4.7).
type Detector struct {
	thresholds Thresholds
	quotes     QuoteSource
	log        zerolog.Logger
	onOpportunity func(Opportunity)

	mu                sync.Mutex
	lastInsufficientLog map[string]time.Time

	now func() time.Time
}

const insufficientLogThrottle = 3 * time.Second

// New builds a Detector. onOpportunity is invoked once per emitted record;
// it must not block.
func New(thresholds Thresholds, quotes QuoteSource, onOpportunity func(Opportunity), log zerolog.Logger) *Detector {
	return &Detector{
		thresholds:          thresholds,
		quotes:              quotes,
		onOpportunity:       onOpportunity,
		log:                 log,
		lastInsufficientLog: map[string]time.Time{},
		now:                 time.Now,
	}
}

// Evaluate computes every pairwise opportunity for symbol across the
// venues QuoteSource currently reports, emitting each one that clears
// threshold (spec §4.7).
func (d *Detector) Evaluate(ctx context.Context, symbol string) {
	quotes := d.quotes(symbol)
	if len(quotes) < 2 {
		return
	}

	for i := range quotes {
		for j := range quotes {
			if i == j {
				continue
			}
			buy, sell := quotes[i], quotes[j]

			// A profitable direction exists only when sell's bid clears
			// buy's ask; otherwise this symbol contributes no price-spread
			// record at all (spec §4.7).
			if sell.BestBid <= buy.BestAsk {
				continue
			}

			spreadAbs := sell.BestBid - buy.BestAsk
			spreadPct := spreadAbs / buy.BestAsk * 100

			if spreadPct < d.thresholds.MinPriceSpreadPct {
				continue
			}
			if buy.AskSize <= 0 || sell.BidSize <= 0 {
				d.logInsufficientLiquidity(symbol)
				continue
			}

			d.emit(Opportunity{
				Kind:         KindPriceSpread,
				Symbol:       symbol,
				ExchangeBuy:  buy.Venue,
				ExchangeSell: sell.Venue,
				SpreadAbs:    spreadAbs,
				SpreadPct:    spreadPct,
			})
		}
	}

	d.evaluateFundingSpreads(symbol, quotes)
}

func (d *Detector) evaluateFundingSpreads(symbol string, quotes []VenueQuote) {
	for i := range quotes {
		for j := range quotes {
			if i == j {
				continue
			}
			long, short := quotes[i], quotes[j]
			spread := short.FundingRate8h - long.FundingRate8h
			if spread <= 0 {
				continue // not worth going long on this venue over the other
			}
			if spread < d.thresholds.MinFundingSpreadAbs {
				continue
			}

			d.emit(Opportunity{
				Kind:             KindFundingSpread,
				Symbol:           symbol,
				ExchangeLong:     long.Venue,
				ExchangeShort:    short.Venue,
				FundingSpreadAbs: spread,
				AnnualizedPct:    spread * 3 * 365 * 100, // 8h periods per year
			})
		}
	}
}

// emit forwards an opportunity that has already cleared its kind-specific
// threshold. MinScore is intentionally not applied here: score is a policy
// layer's responsibility (spec §9 Open Question), computed from weights
// this detector has no opinion on.
func (d *Detector) emit(o Opportunity) {
	if d.onOpportunity != nil {
		d.onOpportunity(o)
	}
}

// logInsufficientLiquidity logs at most once per 3s per symbol, suppressing
// identical repeats (spec §4.7).
func (d *Detector) logInsufficientLiquidity(symbol string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	if last, ok := d.lastInsufficientLog[symbol]; ok && now.Sub(last) < insufficientLogThrottle {
		return
	}
	d.lastInsufficientLog[symbol] = now
	d.log.Debug().Str("symbol", symbol).Msg("opportunity: liquidity insufficient")
}
