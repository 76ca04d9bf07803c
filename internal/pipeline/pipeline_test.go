package pipeline

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/xarbfeed/internal/logging"
	"github.com/sawpanic/xarbfeed/internal/market"
)

type countingDetector struct {
	mu    sync.Mutex
	calls []string
}

func (d *countingDetector) Evaluate(_ context.Context, symbol string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = append(d.calls, symbol)
}

func (d *countingDetector) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.calls)
}

func TestDroppingQueue_DropsOldestOnSaturation(t *testing.T) {
	q := newDroppingQueue[int](3)
	q.push(1)
	q.push(2)
	q.push(3)
	q.push(4) // evicts 1

	var got []int
	for {
		v, ok := q.pop()
		if !ok {
			break
		}
		got = append(got, v)
	}
	assert.Equal(t, []int{2, 3, 4}, got)
	assert.Equal(t, int64(1), q.dropped.Load())
}

func TestPipeline_DrainsOrderBookAndTicker(t *testing.T) {
	var tickerCount atomic.Int64
	var bookCount atomic.Int64

	p := New(Config{}, &countingDetector{}, func(OrderBookEvent) {
		bookCount.Add(1)
	}, func(market.Ticker) {
		tickerCount.Add(1)
	}, logging.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { p.Run(ctx); close(done) }()

	p.PushOrderBookSnapshot(market.OrderBookSnapshot{Venue: "edgex", Symbol: "BTC-USDC-PERP"})
	p.PushTicker(market.Ticker{Venue: "edgex", Symbol: "BTC-USDC-PERP"})

	require.Eventually(t, func() bool {
		return bookCount.Load() == 1 && tickerCount.Load() == 1
	}, time.Second, 5*time.Millisecond)

	cancel()
	<-done
}

func TestPipeline_AnalysisWorkerInvokesDetector(t *testing.T) {
	detector := &countingDetector{}
	p := New(Config{}, detector, nil, nil, logging.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { p.Run(ctx); close(done) }()

	p.PushAnalysisTask("edgex", "BTC-USDC-PERP")

	require.Eventually(t, func() bool { return detector.count() == 1 }, time.Second, 5*time.Millisecond)
	assert.Greater(t, p.LastAnalysisLatency(), time.Duration(0))

	cancel()
	<-done
}

func TestPipeline_ShutdownFlushesQueueBeforeReturning(t *testing.T) {
	detector := &countingDetector{}
	p := New(Config{}, detector, nil, nil, logging.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	for i := 0; i < 5; i++ {
		p.PushAnalysisTask("edgex", "BTC-USDC-PERP")
	}
	cancel() // cancel before Run ever starts draining

	p.Run(ctx)
	assert.Equal(t, 5, detector.count(), "canceled run must still flush queued work")
}
