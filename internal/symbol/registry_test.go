package symbol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/xarbfeed/internal/market"
)

func TestNormalize_USDCSettled(t *testing.T) {
	alias := QuoteAlias{USDCSettled: true}

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"underscore usdt", "btc_usdt_perp", "BTC-USDC-PERP"},
		{"hyphen usd", "BTC-USD-PERP", "BTC-USDC-PERP"},
		{"already canonical", "BTC-USDC-PERP", "BTC-USDC-PERP"},
		{"bare perp no quote", "ETH-PERP", "ETH-USDC-PERP"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Normalize(tt.in, alias))
		})
	}
}

func TestNormalize_NonUSDCSettled(t *testing.T) {
	alias := QuoteAlias{USDCSettled: false}
	assert.Equal(t, "BTC-USD-PERP", Normalize("btc_usd_perp", alias))
}

func TestRegistry_SwapIsAtomicAndComplete(t *testing.T) {
	r := NewRegistry("edgex", QuoteAlias{USDCSettled: true})

	r.Replace([]market.MetadataEntry{
		{Canonical: "BTC-USDC-PERP", Native: "BTC-USD-PERP", ContractID: "10"},
		{Canonical: "ETH-USDC-PERP", Native: "ETH-USD-PERP", ContractID: "11"},
	})

	require.Equal(t, "BTC-USD-PERP", r.NativeOf("BTC-USDC-PERP"))
	require.Equal(t, "BTC-USDC-PERP", r.CanonicalOf("BTC-USD-PERP"))
	require.Equal(t, "10", r.ContractIDOf("BTC-USDC-PERP"))
	require.Equal(t, "BTC-USDC-PERP", r.SymbolOf("10"))

	// Replace must wholesale discard the old table, not merge into it.
	r.Replace([]market.MetadataEntry{
		{Canonical: "ETH-USDC-PERP", Native: "ETH-USD-PERP", ContractID: "11"},
	})

	assert.Empty(t, r.NativeOf("BTC-USDC-PERP"), "stale entry must not survive a replace")
	assert.Equal(t, "ETH-USD-PERP", r.NativeOf("ETH-USDC-PERP"))
}

func TestRegistry_UnknownSymbolIsDistinguishedEmpty(t *testing.T) {
	r := NewRegistry("lighter", QuoteAlias{USDCSettled: true})
	r.Replace([]market.MetadataEntry{
		{Canonical: "BTC-USDC-PERP", Native: "BTC_USDT_PERP", ContractID: "1"},
	})

	assert.Empty(t, r.CanonicalOf("DOGE_USDT_PERP"))
	assert.Empty(t, r.NativeOf("DOGE-USDC-PERP"))
	assert.Empty(t, r.SymbolOf("999"))
}

func TestRegistry_CandidateGenerationMostSpecificFirst(t *testing.T) {
	r := NewRegistry("edgex", QuoteAlias{USDCSettled: true})
	r.Replace([]market.MetadataEntry{
		{Canonical: "BTC-USDC-PERP", Native: "BTC-USD-PERP", ContractID: "10"},
	})

	// A native-ish string missing the registered exact native form but
	// resolvable once normalized should still match via candidate lookup.
	assert.Equal(t, "BTC-USDC-PERP", r.CanonicalOf("btc_usdc_perp"))
}
