// Package pricing fetches USD prices (Jupiter) and market data (Dexscreener).
package pricing

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"slices"
	"strings"

	"github.com/brojonat/owfn/service/upstream"
)

const (
	// DefaultJupiterURL is the Jupiter price endpoint.
	DefaultJupiterURL = "https://lite-api.jup.ag/price/v3"
	// maxPriceIDs is the most mints the price endpoint accepts per request.
	maxPriceIDs = 50
)

// Jupiter is a wallet.PriceSource backed by the Jupiter price API.
type Jupiter struct {
	url    string
	http   *upstream.Client
	logger *slog.Logger
}

// NewJupiter creates a Jupiter price client.
func NewJupiter(priceURL string, httpClient *upstream.Client, logger *slog.Logger) *Jupiter {
	if priceURL == "" {
		priceURL = DefaultJupiterURL
	}
	return &Jupiter{url: priceURL, http: httpClient, logger: logger}
}

type jupiterQuote struct {
	USDPrice float64 `json:"usdPrice"`
}

// Prices returns USD prices for mints, batching maxPriceIDs mints per
// request. Mints the feed does not know are absent from the result. Any
// failed batch fails the call.
func (j *Jupiter) Prices(ctx context.Context, mints []string) (map[string]float64, error) {
	prices := make(map[string]float64, len(mints))
	if len(mints) == 0 {
		return prices, nil
	}

	batches := 0
	for batch := range slices.Chunk(mints, maxPriceIDs) {
		endpoint := j.url + "?ids=" + url.QueryEscape(strings.Join(batch, ","))
		var quotes map[string]*jupiterQuote
		if err := j.http.GetJSON(ctx, endpoint, "prices", &quotes); err != nil {
			return nil, fmt.Errorf("failed to fetch prices: %w", err)
		}
		for mint, q := range quotes {
			if q == nil || q.USDPrice <= 0 {
				continue
			}
			prices[mint] = q.USDPrice
		}
		batches++
	}

	j.logger.DebugContext(ctx, "fetched prices",
		"requested", len(mints),
		"priced", len(prices),
		"batches", batches,
	)
	return prices, nil
}
