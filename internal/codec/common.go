// Package codec holds the venue-peculiarity handling that spec §4.5 (C5)
// says belongs in the codec layer, not downstream: timestamp precision
// detection, funding-rate unit normalization, field-name aliasing, currency
// id mapping, order-id disambiguation, and order-update deduplication. Each
// venue package (internal/venue/edgex, internal/venue/lighter) builds its
// own parser on top of these helpers.
package codec

import (
	"container/list"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"
)

// Level is one order-book price level. Venues disagree on wire shape: some
// send a two-element array [price, size], others an object
// {"price":...,"size":...}. UnmarshalJSON accepts either (spec §4.3 "Mixed
// representations ... must both be accepted"), trying the array form first
// since it is the more common of the two across the venues in this pack.
type Level struct {
	Price float64
	Size  float64
}

func (l *Level) UnmarshalJSON(data []byte) error {
	var pair [2]json.Number
	if err := json.Unmarshal(data, &pair); err == nil {
		l.Price, _ = pair[0].Float64()
		l.Size, _ = pair[1].Float64()
		return nil
	}

	var obj struct {
		Price json.Number `json:"price"`
		Size  json.Number `json:"size"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return fmt.Errorf("codec: order book level: neither array nor object form: %w", err)
	}
	l.Price, _ = obj.Price.Float64()
	l.Size, _ = obj.Size.Float64()
	return nil
}

// FirstString returns the first non-empty value found in m for the given
// aliased keys, in priority order — the generalized form of the teacher's
// "last/lastPrice/last_trade_price" field-alias handling (spec §4.5).
func FirstString(m map[string]any, keys ...string) (string, bool) {
	for _, k := range keys {
		if v, ok := m[k]; ok {
			switch t := v.(type) {
			case string:
				if t != "" {
					return t, true
				}
			case float64:
				return strconv.FormatFloat(t, 'f', -1, 64), true
			}
		}
	}
	return "", false
}

// FirstFloat is FirstString's numeric counterpart, accepting either a JSON
// number or a numeric string (venues are inconsistent about which they
// send for the same field).
func FirstFloat(m map[string]any, keys ...string) (float64, bool) {
	s, ok := FirstString(m, keys...)
	if !ok {
		return 0, false
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

// ParseTimestamp detects whether a venue-supplied epoch number is in
// seconds, milliseconds, microseconds or nanoseconds by magnitude, per spec
// §4.5 "timestamp/ts/eventTime with automatic precision detection".
func ParseTimestamp(raw float64) time.Time {
	switch {
	case raw == 0:
		return time.Time{}
	case raw < 1e11: // seconds: ~year 5138 cutoff
		return time.Unix(int64(raw), 0).UTC()
	case raw < 1e14: // milliseconds
		return time.UnixMilli(int64(raw)).UTC()
	case raw < 1e17: // microseconds
		return time.UnixMicro(int64(raw)).UTC()
	default: // nanoseconds
		return time.Unix(0, int64(raw)).UTC()
	}
}

// FundingPeriod is the venue-native funding interval a rate was reported
// for. NormalizeFunding converts it to the mandatory 8-hour equivalent
// (spec §3 Ticker, §4.5, P8).
type FundingPeriod time.Duration

const (
	FundingPeriod1h FundingPeriod = FundingPeriod(time.Hour)
	FundingPeriod4h FundingPeriod = FundingPeriod(4 * time.Hour)
	FundingPeriod8h FundingPeriod = FundingPeriod(8 * time.Hour)
)

// NormalizeFunding scales a venue-native funding rate to its 8-hour
// equivalent: x2 from a 4h cycle, x8 from a 1h cycle, unchanged from 8h.
func NormalizeFunding(rate float64, period FundingPeriod) float64 {
	if period <= 0 {
		return rate
	}
	factor := float64(FundingPeriod8h) / float64(period)
	return rate * factor
}

// CurrencyTable maps a venue's numeric coin ids to currency codes (spec
// §4.5 "Currency-id mapping"). Venues supply their own table; an unknown id
// is the caller's responsibility to warn about.
type CurrencyTable map[int]string

// Lookup resolves a coin id, reporting whether it was known.
func (t CurrencyTable) Lookup(id int) (string, bool) {
	c, ok := t[id]
	return c, ok
}

// IsClientTimestampID reports whether a raw order identifier looks like a
// client-supplied 13-digit millisecond timestamp id rather than a
// venue-assigned order id (spec §4.5 "Order-id vs client-id
// disambiguation"). Both remain usable as lookup keys regardless of what
// this reports: the venue session's order cache indexes every order under
// both its order id and its client id.
func IsClientTimestampID(raw string) bool {
	if len(raw) != 13 {
		return false
	}
	for _, r := range raw {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// ScaleInt converts an integer-encoded price or size (e.g. price *
// 10^decimals, as used by compact single-letter wire schemas) into a
// decimal float using the venue's per-symbol decimal count from metadata
// (spec §4.5 "compact-field schema").
func ScaleInt(v int64, decimals int) float64 {
	if decimals <= 0 {
		return float64(v)
	}
	divisor := 1.0
	for i := 0; i < decimals; i++ {
		divisor *= 10
	}
	return float64(v) / divisor
}

// Dedup is a bounded LRU used to suppress repeated order-update pushes with
// an identical (order_id, client_id, filled) key, per spec §4.5 and P6.
type Dedup struct {
	mu       sync.Mutex
	capacity int
	order    *list.List
	index    map[string]*list.Element
}

// NewDedup creates a dedup cache with the given bounded capacity (spec
// §4.5 default ~2000 entries).
func NewDedup(capacity int) *Dedup {
	if capacity <= 0 {
		capacity = 2000
	}
	return &Dedup{
		capacity: capacity,
		order:    list.New(),
		index:    map[string]*list.Element{},
	}
}

// Seen reports whether this key was already recorded, and records it if
// not. A true return means the caller should suppress the forward.
func (d *Dedup) Seen(orderID, clientID string, filled float64) bool {
	key := orderID + "|" + clientID + "|" + strconv.FormatFloat(filled, 'f', -1, 64)

	d.mu.Lock()
	defer d.mu.Unlock()

	if elem, ok := d.index[key]; ok {
		d.order.MoveToFront(elem)
		return true
	}

	elem := d.order.PushFront(key)
	d.index[key] = elem

	if d.order.Len() > d.capacity {
		oldest := d.order.Back()
		if oldest != nil {
			d.order.Remove(oldest)
			delete(d.index, oldest.Value.(string))
		}
	}
	return false
}
