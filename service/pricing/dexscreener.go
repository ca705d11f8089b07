package pricing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"

	"github.com/brojonat/owfn/service/upstream"
	"github.com/tidwall/gjson"
)

// DefaultDexscreenerURL is the Dexscreener API root.
const DefaultDexscreenerURL = "https://api.dexscreener.com"

// ErrNoMarket is returned when a mint has no Solana trading pair.
var ErrNoMarket = errors.New("no market found")

// Market is the most liquid Solana pair for a token.
type Market struct {
	PairAddress    string  `json:"pair_address"`
	DEX            string  `json:"dex"`
	Name           string  `json:"name"`
	Symbol         string  `json:"symbol"`
	PriceUSD       float64 `json:"price_usd"`
	PriceNative    float64 `json:"price_native"`
	LiquidityUSD   float64 `json:"liquidity_usd"`
	Volume24h      float64 `json:"volume_24h"`
	PriceChange24h float64 `json:"price_change_24h"`
	FDV            float64 `json:"fdv"`
	MarketCap      float64 `json:"market_cap"`
	URL            string  `json:"url"`
}

// Dexscreener fetches market data for tokens.
type Dexscreener struct {
	url    string
	http   *upstream.Client
	logger *slog.Logger
}

// NewDexscreener creates a Dexscreener client.
func NewDexscreener(baseURL string, httpClient *upstream.Client, logger *slog.Logger) *Dexscreener {
	if baseURL == "" {
		baseURL = DefaultDexscreenerURL
	}
	return &Dexscreener{url: baseURL, http: httpClient, logger: logger}
}

// Market returns the Solana pair with the deepest USD liquidity for mint.
func (d *Dexscreener) Market(ctx context.Context, mint string) (*Market, error) {
	endpoint := fmt.Sprintf("%s/latest/dex/tokens/%s", d.url, url.PathEscape(mint))
	body, err := d.http.GetRaw(ctx, endpoint, "token_pairs")
	if err != nil {
		return nil, fmt.Errorf("failed to fetch market for %s: %w", mint, err)
	}
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("invalid dexscreener response for %s", mint)
	}

	// ForEach also visits object members and bare scalars, so anything but
	// an array of objects has no market in it.
	pairs := gjson.GetBytes(body, "pairs")
	if !pairs.IsArray() {
		return nil, ErrNoMarket
	}

	var best gjson.Result
	bestLiquidity := -1.0
	pairs.ForEach(func(_, pair gjson.Result) bool {
		if !pair.IsObject() {
			return true
		}
		if chain := pair.Get("chainId").String(); chain != "" && chain != "solana" {
			return true
		}
		if liq := pair.Get("liquidity.usd").Float(); liq > bestLiquidity {
			best, bestLiquidity = pair, liq
		}
		return true
	})
	if !best.Exists() {
		return nil, ErrNoMarket
	}

	return &Market{
		PairAddress:    best.Get("pairAddress").String(),
		DEX:            best.Get("dexId").String(),
		Name:           best.Get("baseToken.name").String(),
		Symbol:         best.Get("baseToken.symbol").String(),
		PriceUSD:       best.Get("priceUsd").Float(),
		PriceNative:    best.Get("priceNative").Float(),
		LiquidityUSD:   best.Get("liquidity.usd").Float(),
		Volume24h:      best.Get("volume.h24").Float(),
		PriceChange24h: best.Get("priceChange.h24").Float(),
		FDV:            best.Get("fdv").Float(),
		MarketCap:      best.Get("marketCap").Float(),
		URL:            best.Get("url").String(),
	}, nil
}
