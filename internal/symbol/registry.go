// Package symbol implements the canonical <-> venue-native symbol mapping
// registry described in spec §4.1 (C1). Entries are replaced, never merged,
// on each metadata frame, and published via a single atomic swap so readers
// always observe either the old complete map or the new one.
package symbol

import (
	"strings"
	"sync/atomic"

	"github.com/sawpanic/xarbfeed/internal/market"
)

// QuoteAlias declares how a venue's quote-currency aliases resolve to the
// canonical quote currency, per spec §4.1 ("per-venue policy declared
// alongside the venue codec").
type QuoteAlias struct {
	// USDCSettled is true when the venue trades USDC-settled perpetuals,
	// in which case USD/USDT/USDC suffixes all resolve to -USDC-PERP.
	USDCSettled bool
}

type table struct {
	canonicalToNative     map[string]string // canonical -> native
	nativeToCanonical     map[string]string // native -> canonical
	canonicalToContractID map[string]string
	contractIDToCanonical map[string]string
}

func emptyTable() *table {
	return &table{
		canonicalToNative:     map[string]string{},
		nativeToCanonical:     map[string]string{},
		canonicalToContractID: map[string]string{},
		contractIDToCanonical: map[string]string{},
	}
}

// Registry answers the four queries named in spec §4.1. One Registry
// instance exists per venue.
type Registry struct {
	venue string
	alias QuoteAlias
	tbl   atomic.Pointer[table]
}

// NewRegistry creates an empty registry for one venue.
func NewRegistry(venue string, alias QuoteAlias) *Registry {
	r := &Registry{venue: venue, alias: alias}
	r.tbl.Store(emptyTable())
	return r
}

// Replace atomically swaps in a brand-new mapping built from a metadata
// frame. The previous table is discarded wholesale — entries are never
// merged across frames (spec §4.1 "Swap is observed by readers as either
// 'old complete' or 'new complete'").
func (r *Registry) Replace(entries []market.MetadataEntry) {
	t := emptyTable()
	for _, e := range entries {
		canonical := Normalize(e.Canonical, r.alias)
		t.canonicalToNative[canonical] = e.Native
		t.nativeToCanonical[e.Native] = canonical
		if e.ContractID != "" {
			t.canonicalToContractID[canonical] = e.ContractID
			t.contractIDToCanonical[e.ContractID] = canonical
		}
	}
	r.tbl.Store(t)
}

// CanonicalOf resolves a venue-native symbol to its canonical form. The
// empty string distinguishes "unknown symbol" from a valid result — never a
// silently-constructed placeholder (spec §4.1 failure mode).
func (r *Registry) CanonicalOf(native string) string {
	t := r.tbl.Load()
	if c, ok := t.nativeToCanonical[native]; ok {
		return c
	}
	// Fall back to candidate generation against the canonical side, in case
	// the caller already has a near-canonical string in a slightly
	// different alias form. Most-specific first, first match wins.
	for _, candidate := range candidates(native, r.alias) {
		if _, ok := t.canonicalToNative[candidate]; ok {
			return candidate
		}
	}
	return ""
}

// NativeOf resolves a canonical symbol to this venue's native form.
func (r *Registry) NativeOf(canonical string) string {
	t := r.tbl.Load()
	return t.canonicalToNative[Normalize(canonical, r.alias)]
}

// ContractIDOf resolves a canonical symbol to this venue's contract id.
func (r *Registry) ContractIDOf(canonical string) string {
	t := r.tbl.Load()
	return t.canonicalToContractID[Normalize(canonical, r.alias)]
}

// SymbolOf resolves a venue contract id back to the canonical symbol.
func (r *Registry) SymbolOf(contractID string) string {
	t := r.tbl.Load()
	return t.contractIDToCanonical[contractID]
}

// Normalize upper-cases and hyphen-delimits a symbol and applies the
// venue's quote-currency alias policy to resolve it to the canonical
// BASE-USDC-PERP form when the venue is USDC-settled (spec §4.1).
func Normalize(raw string, alias QuoteAlias) string {
	s := strings.ToUpper(strings.TrimSpace(raw))
	s = strings.NewReplacer("_", "-", "/", "-").Replace(s)
	if !alias.USDCSettled {
		return s
	}
	for _, quote := range []string{"USDT", "USDC", "USD"} {
		suffix := "-" + quote + "-PERP"
		if strings.HasSuffix(s, suffix) {
			base := strings.TrimSuffix(s, suffix)
			return base + "-USDC-PERP"
		}
	}
	if strings.HasSuffix(s, "-PERP") {
		base := strings.TrimSuffix(s, "-PERP")
		return base + "-USDC-PERP"
	}
	return s
}

// candidates generates the ordered, most-specific-first set of canonical
// forms a raw native string might resolve to, per spec §4.1 "Candidate
// generation for lookup is ordered (most-specific first); first match
// wins; no fuzzy matching."
func candidates(raw string, alias QuoteAlias) []string {
	norm := Normalize(raw, alias)
	out := []string{norm}
	if !strings.HasSuffix(norm, "-PERP") {
		out = append(out, norm+"-PERP")
	}
	return out
}
