package orderbook

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/xarbfeed/internal/logging"
	"github.com/sawpanic/xarbfeed/internal/market"
)

func lvl(price, size float64) market.PriceLevelInput {
	return market.PriceLevelInput{Price: price, Size: size}
}

// TestSnapshotDeltaTopOfBook is seed scenario §8 #1.
func TestSnapshotDeltaTopOfBook(t *testing.T) {
	e := New(logging.Nop())

	snap := market.OrderBookSnapshot{
		Venue:  "edgex",
		Symbol: "BTC-USDC-PERP",
		Bids:   []market.PriceLevelInput{lvl(50000, 1.0), lvl(49900, 2.0)},
		Asks:   []market.PriceLevelInput{lvl(50100, 0.5), lvl(50200, 1.5)},
		Version: 1,
	}
	ob, ok := e.ApplySnapshot(snap)
	require.True(t, ok)
	bid, _ := ob.BestBid()
	ask, _ := ob.BestAsk()
	assert.Equal(t, 50000.0, bid.Price)
	assert.Equal(t, 50100.0, ask.Price)

	delta := market.OrderBookDelta{
		Venue:  "edgex",
		Symbol: "BTC-USDC-PERP",
		Bids:   []market.PriceLevelInput{lvl(50000, 0.0), lvl(50050, 0.7)},
		Version: 2,
	}
	ob, ok = e.ApplyDelta(delta)
	require.True(t, ok)

	bestBid, bestAsk, ok := e.TopOfBook("edgex", "BTC-USDC-PERP")
	require.True(t, ok)
	assert.Equal(t, 50050.0, bestBid.Price)
	assert.Equal(t, 0.7, bestBid.Size)
	assert.Equal(t, 50100.0, bestAsk.Price)
	assert.Equal(t, 0.5, bestAsk.Size)
}

func TestApplyDelta_ZeroSizeDeletesLevel(t *testing.T) {
	e := New(logging.Nop())
	e.ApplySnapshot(market.OrderBookSnapshot{
		Venue: "edgex", Symbol: "ETH-USDC-PERP",
		Bids: []market.PriceLevelInput{lvl(100, 1)},
		Asks: []market.PriceLevelInput{lvl(101, 1)},
		Version: 1,
	})

	ob, ok := e.ApplyDelta(market.OrderBookDelta{
		Venue: "edgex", Symbol: "ETH-USDC-PERP",
		Bids: []market.PriceLevelInput{lvl(100, 0)},
		Version: 2,
	})
	assert.False(t, ok, "book with an empty side must not emit downstream (I3)")
	assert.Empty(t, ob.Bids)
}

func TestApplyDelta_OutOfOrderVersionDropped(t *testing.T) {
	e := New(logging.Nop())
	e.ApplySnapshot(market.OrderBookSnapshot{
		Venue: "edgex", Symbol: "BTC-USDC-PERP",
		Bids: []market.PriceLevelInput{lvl(100, 1)},
		Asks: []market.PriceLevelInput{lvl(101, 1)},
		Version: 10,
	})

	_, ok := e.ApplyDelta(market.OrderBookDelta{
		Venue: "edgex", Symbol: "BTC-USDC-PERP",
		Bids: []market.PriceLevelInput{lvl(99, 1)},
		Version: 5, // regression
	})
	assert.False(t, ok)

	bid, _, _ := e.TopOfBook("edgex", "BTC-USDC-PERP")
	assert.Equal(t, 100.0, bid.Price, "out-of-order delta must be dropped, not applied")
}

func TestApplyDelta_CrossedBookDropped(t *testing.T) {
	e := New(logging.Nop())
	e.ApplySnapshot(market.OrderBookSnapshot{
		Venue: "edgex", Symbol: "BTC-USDC-PERP",
		Bids: []market.PriceLevelInput{lvl(100, 1)},
		Asks: []market.PriceLevelInput{lvl(101, 1)},
		Version: 1,
	})

	_, ok := e.ApplyDelta(market.OrderBookDelta{
		Venue: "edgex", Symbol: "BTC-USDC-PERP",
		Bids: []market.PriceLevelInput{lvl(105, 1)}, // now crosses the ask at 101
		Version: 2,
	})
	assert.False(t, ok)
}

func TestApplyDelta_ToleratesMissingSnapshot(t *testing.T) {
	e := New(logging.Nop())

	// No ApplySnapshot call: first delta is treated as a partial snapshot
	// and the book stays in BUILDING until both sides exist.
	_, ok := e.ApplyDelta(market.OrderBookDelta{
		Venue: "lighter", Symbol: "BTC-USDC-PERP",
		Bids: []market.PriceLevelInput{lvl(100, 1)},
		Version: 1,
	})
	assert.False(t, ok)

	ob, ok := e.ApplyDelta(market.OrderBookDelta{
		Venue: "lighter", Symbol: "BTC-USDC-PERP",
		Asks: []market.PriceLevelInput{lvl(101, 1)},
		Version: 2,
	})
	require.True(t, ok)
	bid, _ := ob.BestBid()
	ask, _ := ob.BestAsk()
	assert.Equal(t, 100.0, bid.Price)
	assert.Equal(t, 101.0, ask.Price)
}

func TestResyncNeeded_AfterConsecutiveAnomalies(t *testing.T) {
	e := New(logging.Nop())
	e.ApplySnapshot(market.OrderBookSnapshot{
		Venue: "edgex", Symbol: "BTC-USDC-PERP",
		Bids: []market.PriceLevelInput{lvl(100, 1)},
		Asks: []market.PriceLevelInput{lvl(101, 1)},
		Version: 100,
	})

	for i := 0; i < 3; i++ {
		e.ApplyDelta(market.OrderBookDelta{
			Venue: "edgex", Symbol: "BTC-USDC-PERP",
			Bids: []market.PriceLevelInput{lvl(50, 1)},
			Version: 10, // regression every time
		})
	}

	assert.True(t, e.ResyncNeeded("edgex", "BTC-USDC-PERP"))
}

func TestStaleAfter(t *testing.T) {
	e := New(logging.Nop())
	assert.True(t, e.StaleAfter("edgex", "BTC-USDC-PERP", time.Second), "unknown book is stale")

	e.ApplySnapshot(market.OrderBookSnapshot{
		Venue: "edgex", Symbol: "BTC-USDC-PERP",
		Bids: []market.PriceLevelInput{lvl(100, 1)},
		Asks: []market.PriceLevelInput{lvl(101, 1)},
		Version: 1,
	})
	assert.False(t, e.StaleAfter("edgex", "BTC-USDC-PERP", time.Minute))
}
