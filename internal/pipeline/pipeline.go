// Package pipeline implements the fan-in pipeline (spec §4.6, C6): bounded
// per-kind queues fed by every venue session, drained by the order-book
// engine, the ticker state store, and a single Analysis Worker. Grounded
// on the teacher's stream/bus.go fan-in channel plumbing, generalized from
// one queue to the three kinds this spec requires plus drop-oldest
// saturation handling.
package pipeline

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/sawpanic/xarbfeed/internal/market"
)

// AnalysisTask is the "something changed for (venue, symbol)" notification
// the Analysis Worker consumes (spec §4.6).
type AnalysisTask struct {
	Venue     string
	Symbol    string
	EnqueuedAt time.Time
}

// droppingQueue is a bounded FIFO that drops the oldest entry rather than
// blocking the producer when full (spec §4.6 "producer drops the oldest
// item rather than blocking the venue session").
type droppingQueue[T any] struct {
	mu       sync.Mutex
	items    []T
	capacity int
	dropped  atomic.Int64
}

func newDroppingQueue[T any](capacity int) *droppingQueue[T] {
	return &droppingQueue[T]{capacity: capacity}
}

func (q *droppingQueue[T]) push(item T) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) >= q.capacity {
		q.items = q.items[1:]
		q.dropped.Add(1)
	}
	q.items = append(q.items, item)
}

func (q *droppingQueue[T]) pop() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	var zero T
	if len(q.items) == 0 {
		return zero, false
	}
	item := q.items[0]
	q.items = q.items[1:]
	return item, true
}

func (q *droppingQueue[T]) depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// OrderBookEvent carries either a snapshot or a delta; exactly one of the
// two pointers is non-nil.
type OrderBookEvent struct {
	Snapshot *market.OrderBookSnapshot
	Delta    *market.OrderBookDelta
}

// Detector is the narrow collaborator the Analysis Worker invokes per
// notification (spec §4.7, C7); kept as an interface so the pipeline does
// not import the opportunity package directly.
type Detector interface {
	Evaluate(ctx context.Context, symbol string)
}

// Pipeline owns the three bounded queues and the single Analysis Worker
// (spec §4.6).
type Pipeline struct {
	log zerolog.Logger

	orderBookQueue *droppingQueue[OrderBookEvent]
	tickerQueue    *droppingQueue[market.Ticker]
	analysisQueue  *droppingQueue[AnalysisTask]

	onOrderBook func(OrderBookEvent)
	onTicker    func(market.Ticker)
	detector    Detector

	lastAnalysisLatency atomic.Int64 // nanoseconds
}

// Config sizes the three queues (spec §4.6 defaults: ~500/~200/~200).
type Config struct {
	OrderBookQueueSize int
	TickerQueueSize    int
	AnalysisQueueSize  int
}

// New builds a Pipeline. onOrderBook and onTicker are the Order-Book
// Engine's and Price State Store's drain callbacks, invoked from the
// pipeline's own drain loops, never from the producing venue session's
// goroutine (spec §4.6 architecture).
func New(cfg Config, detector Detector, onOrderBook func(OrderBookEvent), onTicker func(market.Ticker), log zerolog.Logger) *Pipeline {
	if cfg.OrderBookQueueSize <= 0 {
		cfg.OrderBookQueueSize = 500
	}
	if cfg.TickerQueueSize <= 0 {
		cfg.TickerQueueSize = 200
	}
	if cfg.AnalysisQueueSize <= 0 {
		cfg.AnalysisQueueSize = 200
	}
	return &Pipeline{
		log:            log,
		orderBookQueue: newDroppingQueue[OrderBookEvent](cfg.OrderBookQueueSize),
		tickerQueue:    newDroppingQueue[market.Ticker](cfg.TickerQueueSize),
		analysisQueue:  newDroppingQueue[AnalysisTask](cfg.AnalysisQueueSize),
		onOrderBook:    onOrderBook,
		onTicker:       onTicker,
		detector:       detector,
	}
}

// PushOrderBookSnapshot enqueues a snapshot, dropping the oldest queued
// event on saturation. Never blocks (spec §4.6, §5 suspension points).
func (p *Pipeline) PushOrderBookSnapshot(snap market.OrderBookSnapshot) {
	p.orderBookQueue.push(OrderBookEvent{Snapshot: &snap})
	p.PushAnalysisTask(snap.Venue, snap.Symbol)
}

// PushOrderBookDelta enqueues a delta.
func (p *Pipeline) PushOrderBookDelta(delta market.OrderBookDelta) {
	p.orderBookQueue.push(OrderBookEvent{Delta: &delta})
	p.PushAnalysisTask(delta.Venue, delta.Symbol)
}

// PushTicker enqueues a ticker update.
func (p *Pipeline) PushTicker(t market.Ticker) {
	p.tickerQueue.push(t)
	p.PushAnalysisTask(t.Venue, t.Symbol)
}

// PushAnalysisTask enqueues a derived notification for the Analysis
// Worker.
func (p *Pipeline) PushAnalysisTask(venue, symbol string) {
	p.analysisQueue.push(AnalysisTask{Venue: venue, Symbol: symbol, EnqueuedAt: time.Now()})
}

// Depths reports the current depth of each queue (spec §4.6
// observability).
func (p *Pipeline) Depths() (orderBook, ticker, analysis int) {
	return p.orderBookQueue.depth(), p.tickerQueue.depth(), p.analysisQueue.depth()
}

// LastAnalysisLatency reports the time from enqueue to worker pickup for
// the most recently processed analysis task.
func (p *Pipeline) LastAnalysisLatency() time.Duration {
	return time.Duration(p.lastAnalysisLatency.Load())
}

// Run drains all three queues cooperatively until ctx is canceled. Each
// worker finalizes by flushing its inbound queue before returning (spec
// §4.6 Cancellation).
func (p *Pipeline) Run(ctx context.Context) {
	var wg sync.WaitGroup
	wg.Add(3)
	go func() { defer wg.Done(); p.drainOrderBook(ctx) }()
	go func() { defer wg.Done(); p.drainTicker(ctx) }()
	go func() { defer wg.Done(); p.drainAnalysis(ctx) }()
	wg.Wait()
}

const drainPollInterval = 5 * time.Millisecond

func (p *Pipeline) drainOrderBook(ctx context.Context) {
	for {
		if ev, ok := p.orderBookQueue.pop(); ok {
			if p.onOrderBook != nil {
				p.onOrderBook(ev)
			}
			continue
		}
		select {
		case <-ctx.Done():
			for {
				ev, ok := p.orderBookQueue.pop()
				if !ok {
					return
				}
				if p.onOrderBook != nil {
					p.onOrderBook(ev)
				}
			}
		case <-time.After(drainPollInterval):
		}
	}
}

func (p *Pipeline) drainTicker(ctx context.Context) {
	for {
		if t, ok := p.tickerQueue.pop(); ok {
			if p.onTicker != nil {
				p.onTicker(t)
			}
			continue
		}
		select {
		case <-ctx.Done():
			for {
				t, ok := p.tickerQueue.pop()
				if !ok {
					return
				}
				if p.onTicker != nil {
					p.onTicker(t)
				}
			}
		case <-time.After(drainPollInterval):
		}
	}
}

func (p *Pipeline) drainAnalysis(ctx context.Context) {
	for {
		if task, ok := p.analysisQueue.pop(); ok {
			p.runAnalysis(ctx, task)
			continue
		}
		select {
		case <-ctx.Done():
			for {
				task, ok := p.analysisQueue.pop()
				if !ok {
					return
				}
				p.runAnalysis(ctx, task)
			}
		case <-time.After(drainPollInterval):
		}
	}
}

func (p *Pipeline) runAnalysis(ctx context.Context, task AnalysisTask) {
	p.lastAnalysisLatency.Store(int64(time.Since(task.EnqueuedAt)))
	if p.detector != nil {
		p.detector.Evaluate(ctx, task.Symbol)
	}
}
