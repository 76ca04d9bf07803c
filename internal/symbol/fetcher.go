package symbol

import (
	"context"
	"fmt"
	"time"

	"github.com/sony/gobreaker"

	"github.com/sawpanic/xarbfeed/internal/market"
)

// RESTFetcher calls a venue's REST metadata endpoint, populating a
// Registry for "dynamic" subscription mode (spec §6.3: "discover symbols
// from the venue's metadata channel at connect"). Wrapped in a circuit
// breaker, grounded on the teacher's infra/breakers/breakers.go, so a
// misbehaving venue's metadata endpoint cannot wedge the whole connect
// sequence with repeated slow failures.
type RESTFetcher struct {
	fetch   func(ctx context.Context) ([]market.MetadataEntry, error)
	breaker *gobreaker.CircuitBreaker
}

// NewRESTFetcher builds a fetcher. fetch performs the actual HTTP call;
// it is injected so tests never need a real REST endpoint.
func NewRESTFetcher(venueName string, fetch func(ctx context.Context) ([]market.MetadataEntry, error)) *RESTFetcher {
	settings := gobreaker.Settings{
		Name:        "symbol-metadata-" + venueName,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
	}
	return &RESTFetcher{fetch: fetch, breaker: gobreaker.NewCircuitBreaker(settings)}
}

// FetchInto calls the breaker-guarded fetch and, on success, replaces the
// registry's table in one atomic swap (spec §4.1).
func (f *RESTFetcher) FetchInto(ctx context.Context, registry *Registry) error {
	result, err := f.breaker.Execute(func() (interface{}, error) {
		return f.fetch(ctx)
	})
	if err != nil {
		return fmt.Errorf("symbol: metadata fetch: %w", err)
	}

	entries, ok := result.([]market.MetadataEntry)
	if !ok {
		return fmt.Errorf("symbol: metadata fetch returned unexpected type %T", result)
	}
	registry.Replace(entries)
	return nil
}
