package wallet

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strconv"
	"time"

	"github.com/brojonat/owfn/service/cache"
	"github.com/brojonat/owfn/service/metrics"
)

// DefaultTTL is how long resolved balances stay cached.
const DefaultTTL = 2 * time.Minute

const cacheName = "wallet_balances"

// Resolver turns indexer holdings and price-feed quotes into priced token
// lists, caching results per wallet.
type Resolver struct {
	assets  AssetSource
	prices  PriceSource
	cache   cache.Cache
	ttl     time.Duration
	logos   LogoSet
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithTTL overrides DefaultTTL.
func WithTTL(ttl time.Duration) Option {
	return func(r *Resolver) { r.ttl = ttl }
}

// WithLogos overrides DefaultLogos.
func WithLogos(logos LogoSet) Option {
	return func(r *Resolver) { r.logos = logos }
}

// WithMetrics records cache lookups.
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Resolver) { r.metrics = m }
}

// NewResolver creates a resolver. The cache is required; pass
// cache.NewMemoryCache() for a single instance.
func NewResolver(assets AssetSource, prices PriceSource, c cache.Cache, logger *slog.Logger, opts ...Option) *Resolver {
	r := &Resolver{
		assets: assets,
		prices: prices,
		cache:  c,
		ttl:    DefaultTTL,
		logos:  DefaultLogos(),
		logger: logger,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Balances returns the priced fungible balances of wallet, largest USD value
// first. A wallet with no assets yields an empty list. Indexer failures are
// returned; price-feed failures leave prices at zero.
func (r *Resolver) Balances(ctx context.Context, wallet string) ([]Token, error) {
	if tokens, ok := r.cached(ctx, wallet); ok {
		return tokens, nil
	}

	holdings, err := r.assets.AssetsByOwner(ctx, wallet)
	if err != nil {
		r.logger.ErrorContext(ctx, "failed to fetch wallet assets", "wallet", wallet, "error", err)
		return nil, fmt.Errorf("failed to fetch assets for %s: %w", wallet, err)
	}

	prices := r.fetchPrices(ctx, mintsOf(holdings))
	tokens := r.buildTokens(holdings, prices)
	r.store(ctx, wallet, tokens)
	return tokens, nil
}

// BatchBalances resolves many wallets at once: one indexer round trip for
// all uncached wallets and one price query for the union of their mints.
// The result has exactly one key per distinct input wallet; a wallet that
// failed maps to an empty list and its error is reported in the second map.
func (r *Resolver) BatchBalances(ctx context.Context, wallets []string) (map[string][]Token, map[string]error) {
	result := make(map[string][]Token, len(wallets))
	errs := make(map[string]error)

	var misses []string
	for _, w := range wallets {
		if _, seen := result[w]; seen {
			continue
		}
		if tokens, ok := r.cached(ctx, w); ok {
			result[w] = tokens
			continue
		}
		result[w] = []Token{}
		misses = append(misses, w)
	}
	if len(misses) == 0 {
		return result, errs
	}

	holdings, perOwner, err := r.assets.AssetsByOwners(ctx, misses)
	if err != nil {
		r.logger.ErrorContext(ctx, "batch asset lookup failed", "wallets", len(misses), "error", err)
		for _, w := range misses {
			errs[w] = err
		}
		return result, errs
	}

	var union []string
	seenMint := make(map[string]struct{})
	for _, w := range misses {
		if e, ok := perOwner[w]; ok {
			errs[w] = e
			continue
		}
		h, ok := holdings[w]
		if !ok || h == nil {
			errs[w] = fmt.Errorf("no result for %s", w)
			continue
		}
		for _, m := range mintsOf(h) {
			if _, dup := seenMint[m]; !dup {
				seenMint[m] = struct{}{}
				union = append(union, m)
			}
		}
	}

	prices := r.fetchPrices(ctx, union)
	for _, w := range misses {
		if _, failed := errs[w]; failed {
			r.logger.WarnContext(ctx, "wallet degraded to empty balance list", "wallet", w, "error", errs[w])
			continue
		}
		tokens := r.buildTokens(holdings[w], prices)
		result[w] = tokens
		r.store(ctx, w, tokens)
	}
	return result, errs
}

// Invalidate drops the cached balances for wallet, e.g. after it sends a
// transfer.
func (r *Resolver) Invalidate(ctx context.Context, wallet string) error {
	if err := r.cache.Delete(ctx, cacheKey(wallet)); err != nil {
		return fmt.Errorf("failed to invalidate balances for %s: %w", wallet, err)
	}
	return nil
}

func (r *Resolver) cached(ctx context.Context, wallet string) ([]Token, bool) {
	raw, ok, err := r.cache.Get(ctx, cacheKey(wallet))
	if err != nil {
		r.logger.WarnContext(ctx, "balance cache lookup failed", "wallet", wallet, "error", err)
		r.recordLookup("error")
		return nil, false
	}
	if !ok {
		r.recordLookup("miss")
		return nil, false
	}

	var tokens []Token
	if err := json.Unmarshal(raw, &tokens); err != nil {
		r.logger.WarnContext(ctx, "discarding corrupt cache entry", "wallet", wallet, "error", err)
		r.recordLookup("error")
		return nil, false
	}
	r.recordLookup("hit")
	if tokens == nil {
		tokens = []Token{}
	}
	return tokens, true
}

func (r *Resolver) store(ctx context.Context, wallet string, tokens []Token) {
	raw, err := json.Marshal(tokens)
	if err != nil {
		return
	}
	if err := r.cache.Set(ctx, cacheKey(wallet), raw, r.ttl); err != nil {
		r.logger.WarnContext(ctx, "failed to cache balances", "wallet", wallet, "error", err)
	}
}

func (r *Resolver) recordLookup(result string) {
	if r.metrics != nil {
		r.metrics.RecordCacheLookup(cacheName, result)
	}
}

func (r *Resolver) fetchPrices(ctx context.Context, mints []string) map[string]float64 {
	if len(mints) == 0 {
		return map[string]float64{}
	}
	prices, err := r.prices.Prices(ctx, mints)
	if err != nil {
		r.logger.WarnContext(ctx, "price feed failed, using zero prices", "mints", len(mints), "error", err)
		return map[string]float64{}
	}
	return prices
}

// buildTokens merges holdings with prices. Native SOL is listed under
// NativeSOLMint and priced through the wrapped SOL mint. Zero, compressed and non-fungible balances are dropped.
func (r *Resolver) buildTokens(h *Holdings, prices map[string]float64) []Token {
	tokens := []Token{}

	if h.NativeLamports > 0 {
		price, ok := prices[WrappedSOLMint]
		if !ok {
			price = h.NativePrice
		}
		balance := float64(h.NativeLamports) / 1e9
		tokens = append(tokens, Token{
			MintAddress:   NativeSOLMint,
			Name:          "Solana",
			Symbol:        "SOL",
			Balance:       balance,
			RawBalance:    strconv.FormatUint(h.NativeLamports, 10),
			Decimals:      9,
			PricePerToken: price,
			USDValue:      balance * price,
			Logo:          r.logos.Resolve(WrappedSOLMint, "SOL", ""),
		})
	}

	for _, a := range h.Assets {
		if !countable(a) {
			continue
		}
		price, ok := prices[a.Mint]
		if !ok {
			price = a.IndexerPrice
		}
		balance := float64(a.RawBalance) / math.Pow10(a.Decimals)
		tokens = append(tokens, Token{
			MintAddress:   a.Mint,
			Name:          a.Name,
			Symbol:        a.Symbol,
			Balance:       balance,
			RawBalance:    strconv.FormatUint(a.RawBalance, 10),
			Decimals:      a.Decimals,
			PricePerToken: price,
			USDValue:      balance * price,
			Logo:          r.logos.Resolve(a.Mint, a.Symbol, a.ImageURI),
		})
	}

	SortByUSDValue(tokens)
	return tokens
}

// SortByUSDValue orders tokens by USD value, largest first. Ties keep their
// input order.
func SortByUSDValue(tokens []Token) {
	sort.SliceStable(tokens, func(i, j int) bool {
		return tokens[i].USDValue > tokens[j].USDValue
	})
}

func countable(a Asset) bool {
	return a.Fungible && !a.Compressed && a.RawBalance > 0
}

// mintsOf lists the mints that need a price: wrapped SOL when there is a
// native balance, plus every countable asset.
func mintsOf(h *Holdings) []string {
	var mints []string
	seen := make(map[string]bool)
	add := func(mint string) {
		if !seen[mint] {
			seen[mint] = true
			mints = append(mints, mint)
		}
	}
	if h.NativeLamports > 0 {
		add(WrappedSOLMint)
	}
	for _, a := range h.Assets {
		if countable(a) {
			add(a.Mint)
		}
	}
	return mints
}

func cacheKey(wallet string) string {
	return "wallet-balances:" + wallet
}
