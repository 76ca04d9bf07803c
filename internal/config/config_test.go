package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleYAML = `
log_level: debug
venues:
  - name: edgex
    family: edgex
    public_ws_url: wss://quote.edgex.exchange/api/v1/public/ws
    private_ws_url: wss://quote.edgex.exchange/api/v1/private/ws
    development:
      insecure_skip_verify: false
    api_key: abc
    subscription_mode: predefined
    symbols:
      BTC-USDC-PERP:
        ticker: true
        orderbook: true
  - name: lighter
    family: lighter
    public_ws_url: wss://mainnet.zklighter.elliot.ai/stream
    subscription_mode: dynamic
    balance_refresh:
      use_websocket: false
      rest_interval_seconds: 15
opportunity:
  min_price_spread_pct: 0.1
  min_funding_spread_abs: 0.00005
`

func writeTemp(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_ParsesAndAppliesDefaults(t *testing.T) {
	path := writeTemp(t, sampleYAML)
	cfg, err := Load(path)
	require.NoError(t, err)

	require.Len(t, cfg.Venues, 2)
	assert.Equal(t, 500, cfg.Pipeline.OrderBookQueueSize)
	assert.Equal(t, 200, cfg.Pipeline.TickerQueueSize)
	assert.Equal(t, 200, cfg.Pipeline.AnalysisQueueSize)

	edgex := cfg.Venues[0]
	assert.True(t, edgex.IsAuthenticated())
	assert.Equal(t, SubscriptionPredefined, edgex.SubscriptionMode)
	assert.True(t, edgex.VerifySSLEnabled())
	assert.Equal(t, 10, edgex.TerminalCacheTTLSeconds)

	lighter := cfg.Venues[1]
	assert.False(t, lighter.IsAuthenticated())
	assert.Equal(t, SubscriptionDynamic, lighter.SubscriptionMode)
	assert.Equal(t, 15, lighter.BalanceRefresh.RESTIntervalSeconds)
}

func TestVenueConfig_VerifySSLEnabled_DevelopmentOptOut(t *testing.T) {
	v := VenueConfig{Development: DevelopmentConfig{InsecureSkipVerify: true}}
	assert.False(t, v.VerifySSLEnabled())

	v = VenueConfig{}
	assert.True(t, v.VerifySSLEnabled())
}

func TestLoad_MissingPublicWSURLFails(t *testing.T) {
	path := writeTemp(t, "venues:\n  - name: x\n")
	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoad_NoVenuesFails(t *testing.T) {
	path := writeTemp(t, "venues: []\n")
	_, err := Load(path)
	assert.Error(t, err)
}
