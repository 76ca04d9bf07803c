package symbol

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/xarbfeed/internal/market"
)

func TestRESTFetcher_FetchIntoPopulatesRegistry(t *testing.T) {
	registry := NewRegistry("edgex", QuoteAlias{})
	f := NewRESTFetcher("edgex", func(ctx context.Context) ([]market.MetadataEntry, error) {
		return []market.MetadataEntry{{Canonical: "BTC-USDC-PERP", Native: "BTC-USD-PERP", ContractID: "1"}}, nil
	})

	require.NoError(t, f.FetchInto(context.Background(), registry))
	assert.Equal(t, "BTC-USD-PERP", registry.NativeOf("BTC-USDC-PERP"))
}

func TestRESTFetcher_PropagatesFetchError(t *testing.T) {
	registry := NewRegistry("edgex", QuoteAlias{})
	f := NewRESTFetcher("edgex", func(ctx context.Context) ([]market.MetadataEntry, error) {
		return nil, errors.New("boom")
	})

	err := f.FetchInto(context.Background(), registry)
	assert.Error(t, err)
}
