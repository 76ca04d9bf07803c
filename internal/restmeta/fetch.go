// Package restmeta builds the REST fetch closures symbol.RESTFetcher wraps
// in a circuit breaker, grounded on the teacher's provider REST clients
// (src/infrastructure/providers/*.go): a short-timeout http.Client hitting
// one JSON endpoint and decoding straight into the market model.
package restmeta

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/sawpanic/xarbfeed/internal/market"
)

// newTransport mirrors transport.GorillaDialer's TLS handling so the REST
// fallback path for "dynamic" venues never applies a stricter policy than
// the venue's own WS connection does.
func newTransport(verifySSL bool) *http.Transport {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if !verifySSL {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // opt-in per venue config (spec §6.3)
	}
	return transport
}

const metadataPath = "/metadata"

type metadataEntryDTO struct {
	Canonical     string `json:"canonical"`
	Native        string `json:"native"`
	ContractID    string `json:"contract_id"`
	PriceDecimals int    `json:"price_decimals"`
	SizeDecimals  int    `json:"size_decimals"`
}

// FetchFunc returns a closure that GETs baseURL+"/metadata" and decodes a
// JSON array of contract descriptions into []market.MetadataEntry. verifySSL
// mirrors the venue's own config.VenueConfig.VerifySSLEnabled() result so a
// REST fallback never applies a stricter TLS policy than the venue's WS
// connection does.
func FetchFunc(baseURL string, verifySSL bool) func(ctx context.Context) ([]market.MetadataEntry, error) {
	client := &http.Client{
		Timeout:   10 * time.Second,
		Transport: newTransport(verifySSL),
	}

	return func(ctx context.Context) ([]market.MetadataEntry, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+metadataPath, nil)
		if err != nil {
			return nil, fmt.Errorf("restmeta: build request: %w", err)
		}

		resp, err := client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("restmeta: request: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("restmeta: unexpected status %d from %s", resp.StatusCode, baseURL+metadataPath)
		}

		var dtos []metadataEntryDTO
		if err := json.NewDecoder(resp.Body).Decode(&dtos); err != nil {
			return nil, fmt.Errorf("restmeta: decode response: %w", err)
		}

		entries := make([]market.MetadataEntry, 0, len(dtos))
		for _, d := range dtos {
			entries = append(entries, market.MetadataEntry{
				Canonical:     d.Canonical,
				Native:        d.Native,
				ContractID:    d.ContractID,
				PriceDecimals: d.PriceDecimals,
				SizeDecimals:  d.SizeDecimals,
			})
		}
		return entries, nil
	}
}
