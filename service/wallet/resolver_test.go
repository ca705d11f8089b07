package wallet

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sort"
	"sync"
	"testing"

	"github.com/brojonat/owfn/service/cache"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testWallet  = "DYw8jCTfwHNRJhhmFcbXvVDTqWMEVFBX6ZKUmG5CNSKK"
	testWallet2 = "9WzDXwBbmkg8ZTbNMqUxvQRAyrZzDsGYdLVL9zYtAWWM"
	usdcMint    = "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"
	bonkMint    = "DezXAZ8z7PnrnRJjz3wXBoRgixCa6xjnB7YaB1pPB263"
)

type fakeAssets struct {
	mu       sync.Mutex
	holdings map[string]*Holdings
	failFor  map[string]error
	err      error
	calls    int
	batched  [][]string
}

func (f *fakeAssets) AssetsByOwner(ctx context.Context, owner string) (*Holdings, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if err, ok := f.failFor[owner]; ok {
		return nil, err
	}
	if h, ok := f.holdings[owner]; ok {
		return h, nil
	}
	return &Holdings{}, nil
}

func (f *fakeAssets) AssetsByOwners(ctx context.Context, owners []string) (map[string]*Holdings, map[string]error, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.batched = append(f.batched, append([]string(nil), owners...))
	if f.err != nil {
		return nil, nil, f.err
	}
	out := make(map[string]*Holdings)
	errs := make(map[string]error)
	for _, o := range owners {
		if err, ok := f.failFor[o]; ok {
			errs[o] = err
			continue
		}
		if h, ok := f.holdings[o]; ok {
			out[o] = h
		} else {
			out[o] = &Holdings{}
		}
	}
	return out, errs, nil
}

type fakePrices struct {
	prices  map[string]float64
	err     error
	queries [][]string
}

func (f *fakePrices) Prices(ctx context.Context, mints []string) (map[string]float64, error) {
	q := append([]string(nil), mints...)
	sort.Strings(q)
	f.queries = append(f.queries, q)
	if f.err != nil {
		return nil, f.err
	}
	out := make(map[string]float64)
	for _, m := range mints {
		if p, ok := f.prices[m]; ok {
			out[m] = p
		}
	}
	return out, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func sampleHoldings() *Holdings {
	return &Holdings{
		NativeLamports: 2_000_000_000,
		NativePrice:    100,
		Assets: []Asset{
			{Mint: usdcMint, Name: "USD Coin", Symbol: "USDC", RawBalance: 50_000_000, Decimals: 6, Fungible: true},
			{Mint: bonkMint, Name: "Bonk", Symbol: "BONK", ImageURI: "https://img.example/bonk.png", RawBalance: 1_000_00000, Decimals: 5, Fungible: true},
			{Mint: "ZeroBalanceMint1111111111111111111111111111", Symbol: "ZERO", RawBalance: 0, Decimals: 6, Fungible: true},
			{Mint: "CompressedMint11111111111111111111111111111", Symbol: "CMP", RawBalance: 10, Decimals: 0, Fungible: true, Compressed: true},
			{Mint: "NftMint111111111111111111111111111111111111", Symbol: "NFT", RawBalance: 1, Decimals: 0},
		},
	}
}

func TestBalances_PricesAndSorts(t *testing.T) {
	assets := &fakeAssets{holdings: map[string]*Holdings{testWallet: sampleHoldings()}}
	prices := &fakePrices{prices: map[string]float64{
		WrappedSOLMint: 150,
		usdcMint:       1,
		bonkMint:       0.00002,
	}}
	r := NewResolver(assets, prices, cache.NewMemoryCache(), testLogger())

	tokens, err := r.Balances(context.Background(), testWallet)
	require.NoError(t, err)
	require.Len(t, tokens, 3)

	assert.Equal(t, NativeSOLMint, tokens[0].MintAddress)
	assert.Equal(t, "SOL", tokens[0].Symbol)
	assert.Equal(t, "Solana", tokens[0].Name)
	assert.InDelta(t, 2.0, tokens[0].Balance, 1e-9)
	assert.InDelta(t, 300.0, tokens[0].USDValue, 1e-9)
	assert.Equal(t, "2000000000", tokens[0].RawBalance)
	assert.Equal(t, Logo{Kind: LogoKnown, Value: "SOL"}, tokens[0].Logo)

	assert.Equal(t, usdcMint, tokens[1].MintAddress)
	assert.InDelta(t, 50.0, tokens[1].USDValue, 1e-9)
	assert.Equal(t, Logo{Kind: LogoKnown, Value: "USDC"}, tokens[1].Logo)

	assert.Equal(t, bonkMint, tokens[2].MintAddress)
	assert.InDelta(t, 1000.0, tokens[2].Balance, 1e-9)
	assert.Equal(t, Logo{Kind: LogoURI, Value: "https://img.example/bonk.png"}, tokens[2].Logo)

	require.Len(t, prices.queries, 1)
	assert.ElementsMatch(t, []string{WrappedSOLMint, usdcMint, bonkMint}, prices.queries[0])
}

func TestBalances_NativeAndWrappedSOLAreDistinct(t *testing.T) {
	h := &Holdings{
		NativeLamports: 1_000_000_000,
		Assets: []Asset{
			{Mint: WrappedSOLMint, Name: "Wrapped SOL", Symbol: "SOL", RawBalance: 500_000_000, Decimals: 9, Fungible: true},
		},
	}
	assets := &fakeAssets{holdings: map[string]*Holdings{testWallet: h}}
	prices := &fakePrices{prices: map[string]float64{WrappedSOLMint: 150}}
	r := NewResolver(assets, prices, cache.NewMemoryCache(), testLogger())

	tokens, err := r.Balances(context.Background(), testWallet)
	require.NoError(t, err)
	require.Len(t, tokens, 2)

	assert.Equal(t, NativeSOLMint, tokens[0].MintAddress)
	assert.InDelta(t, 150.0, tokens[0].USDValue, 1e-9)
	assert.Equal(t, WrappedSOLMint, tokens[1].MintAddress)
	assert.Equal(t, "Wrapped SOL", tokens[1].Name)
	assert.InDelta(t, 75.0, tokens[1].USDValue, 1e-9)
	assert.NotEqual(t, tokens[0].MintAddress, tokens[1].MintAddress)

	// both are priced by the one wrapped SOL lookup
	require.Len(t, prices.queries, 1)
	assert.Equal(t, []string{WrappedSOLMint}, prices.queries[0])
}

func TestBalances_WrappedSOLWithoutNativeBalance(t *testing.T) {
	h := &Holdings{Assets: []Asset{
		{Mint: WrappedSOLMint, Name: "Wrapped SOL", Symbol: "SOL", RawBalance: 2_000_000_000, Decimals: 9, Fungible: true},
	}}
	prices := &fakePrices{prices: map[string]float64{WrappedSOLMint: 150}}
	r := NewResolver(&fakeAssets{holdings: map[string]*Holdings{testWallet: h}}, prices, cache.NewMemoryCache(), testLogger())

	tokens, err := r.Balances(context.Background(), testWallet)
	require.NoError(t, err)
	require.Len(t, tokens, 1)
	assert.Equal(t, WrappedSOLMint, tokens[0].MintAddress)
	assert.InDelta(t, 300.0, tokens[0].USDValue, 1e-9)
}

func TestBalances_EmptyWallet(t *testing.T) {
	r := NewResolver(&fakeAssets{}, &fakePrices{}, cache.NewMemoryCache(), testLogger())

	tokens, err := r.Balances(context.Background(), testWallet)
	require.NoError(t, err)
	assert.NotNil(t, tokens)
	assert.Empty(t, tokens)
}

func TestBalances_PriceFailureDegradesToZero(t *testing.T) {
	h := sampleHoldings()
	h.NativePrice = 0
	assets := &fakeAssets{holdings: map[string]*Holdings{testWallet: h}}
	r := NewResolver(assets, &fakePrices{err: errors.New("jupiter down")}, cache.NewMemoryCache(), testLogger())

	tokens, err := r.Balances(context.Background(), testWallet)
	require.NoError(t, err)
	require.Len(t, tokens, 3)
	for _, tok := range tokens {
		assert.Zero(t, tok.PricePerToken, tok.Symbol)
		assert.Zero(t, tok.USDValue, tok.Symbol)
	}
	// all ties: input order is kept
	assert.Equal(t, NativeSOLMint, tokens[0].MintAddress)
	assert.Equal(t, usdcMint, tokens[1].MintAddress)
}

func TestBalances_IndexerPriceFallback(t *testing.T) {
	assets := &fakeAssets{holdings: map[string]*Holdings{testWallet: sampleHoldings()}}
	r := NewResolver(assets, &fakePrices{prices: map[string]float64{usdcMint: 1}}, cache.NewMemoryCache(), testLogger())

	tokens, err := r.Balances(context.Background(), testWallet)
	require.NoError(t, err)
	assert.Equal(t, NativeSOLMint, tokens[0].MintAddress)
	assert.Equal(t, 100.0, tokens[0].PricePerToken)
}

func TestBalances_IndexerFailure(t *testing.T) {
	assets := &fakeAssets{err: errors.New("helius request failed with status 429")}
	r := NewResolver(assets, &fakePrices{}, cache.NewMemoryCache(), testLogger())

	_, err := r.Balances(context.Background(), testWallet)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 429")
}

func TestBalances_CachedUntilInvalidated(t *testing.T) {
	assets := &fakeAssets{holdings: map[string]*Holdings{testWallet: sampleHoldings()}}
	r := NewResolver(assets, &fakePrices{}, cache.NewMemoryCache(), testLogger())
	ctx := context.Background()

	first, err := r.Balances(ctx, testWallet)
	require.NoError(t, err)
	second, err := r.Balances(ctx, testWallet)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, assets.calls)

	require.NoError(t, r.Invalidate(ctx, testWallet))
	_, err = r.Balances(ctx, testWallet)
	require.NoError(t, err)
	assert.Equal(t, 2, assets.calls)
}

func TestBatchBalances_ExactlyNKeys(t *testing.T) {
	failing := "So11111111111111111111111111111111111111112"
	assets := &fakeAssets{
		holdings: map[string]*Holdings{testWallet: sampleHoldings()},
		failFor:  map[string]error{failing: errors.New("invalid owner")},
	}
	prices := &fakePrices{prices: map[string]float64{usdcMint: 1}}
	r := NewResolver(assets, prices, cache.NewMemoryCache(), testLogger())

	wallets := []string{testWallet, testWallet2, failing}
	result, errs := r.BatchBalances(context.Background(), wallets)

	require.Len(t, result, 3)
	assert.Len(t, result[testWallet], 3)
	assert.NotNil(t, result[testWallet2])
	assert.Empty(t, result[testWallet2])
	assert.NotNil(t, result[failing])
	assert.Empty(t, result[failing])

	require.Len(t, errs, 1)
	assert.Contains(t, errs[failing].Error(), "invalid owner")

	// one indexer batch and one price query for the union of mints
	require.Len(t, assets.batched, 1)
	assert.ElementsMatch(t, wallets, assets.batched[0])
	require.Len(t, prices.queries, 1)
	assert.ElementsMatch(t, []string{WrappedSOLMint, usdcMint, bonkMint}, prices.queries[0])
}

func TestBatchBalances_WholeBatchFailure(t *testing.T) {
	assets := &fakeAssets{err: errors.New("helius request failed with status 500")}
	r := NewResolver(assets, &fakePrices{}, cache.NewMemoryCache(), testLogger())

	result, errs := r.BatchBalances(context.Background(), []string{testWallet, testWallet2})
	require.Len(t, result, 2)
	assert.Empty(t, result[testWallet])
	assert.Empty(t, result[testWallet2])
	assert.Len(t, errs, 2)
}

func TestBatchBalances_UsesCacheAndDedupes(t *testing.T) {
	assets := &fakeAssets{holdings: map[string]*Holdings{testWallet: sampleHoldings()}}
	r := NewResolver(assets, &fakePrices{}, cache.NewMemoryCache(), testLogger())
	ctx := context.Background()

	_, err := r.Balances(ctx, testWallet)
	require.NoError(t, err)

	result, errs := r.BatchBalances(ctx, []string{testWallet, testWallet2, testWallet2})
	assert.Empty(t, errs)
	assert.Len(t, result, 2)
	require.Len(t, assets.batched, 1)
	assert.Equal(t, []string{testWallet2}, assets.batched[0])
}

func TestSortByUSDValue_Stable(t *testing.T) {
	tokens := []Token{
		{Symbol: "A", USDValue: 1},
		{Symbol: "B", USDValue: 5},
		{Symbol: "C", USDValue: 1},
		{Symbol: "D", USDValue: 0},
		{Symbol: "E", USDValue: 5},
	}
	SortByUSDValue(tokens)

	var got []string
	for _, tok := range tokens {
		got = append(got, tok.Symbol)
	}
	assert.Equal(t, []string{"B", "E", "A", "C", "D"}, got)
	for i := 1; i < len(tokens); i++ {
		assert.GreaterOrEqual(t, tokens[i-1].USDValue, tokens[i].USDValue)
	}
}

func TestBalances_CustomLogos(t *testing.T) {
	assets := &fakeAssets{holdings: map[string]*Holdings{testWallet: sampleHoldings()}}
	r := NewResolver(assets, &fakePrices{}, cache.NewMemoryCache(), testLogger(),
		WithLogos(LogoSet{bonkMint: "BONK"}))

	tokens, err := r.Balances(context.Background(), testWallet)
	require.NoError(t, err)

	logos := make(map[string]Logo, len(tokens))
	for _, tok := range tokens {
		logos[tok.MintAddress] = tok.Logo
	}
	assert.Equal(t, Logo{Kind: LogoKnown, Value: "BONK"}, logos[bonkMint])
	// USDC is not in the custom set and has no image.
	assert.Equal(t, Logo{Kind: LogoGeneric, Value: "USDC"}, logos[usdcMint])
}
