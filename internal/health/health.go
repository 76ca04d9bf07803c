// Package health aggregates the per-venue status surface spec §7 requires
// ("status, subscriptions, reconnect_count, bytes_received, bytes_sent,
// last_business_message_ago_seconds") across every running venue session,
// for the dashboard (out of scope) or a log line to consume.
package health

import (
	"github.com/sawpanic/xarbfeed/internal/venue"
)

// Source reports a single venue session's current health record.
type Source interface {
	Health() venue.HealthRecord
}

// Aggregator polls a fixed set of venue sessions on demand.
type Aggregator struct {
	sources map[string]Source
}

// New builds an Aggregator over the given named sessions.
func New(sources map[string]Source) *Aggregator {
	return &Aggregator{sources: sources}
}

// Snapshot returns every registered venue's current health record.
func (a *Aggregator) Snapshot() []venue.HealthRecord {
	out := make([]venue.HealthRecord, 0, len(a.sources))
	for _, s := range a.sources {
		out = append(out, s.Health())
	}
	return out
}

// Degraded reports the subset of venues currently in a degraded state.
func (a *Aggregator) Degraded() []venue.HealthRecord {
	var out []venue.HealthRecord
	for _, rec := range a.Snapshot() {
		if rec.Degraded {
			out = append(out, rec)
		}
	}
	return out
}
