// Package wallet resolves a wallet's fungible balances (native SOL and SPL
// tokens) and prices them in USD.
package wallet

import (
	"context"
)

const (
	// WrappedSOLMint is the wrapped SOL SPL mint. Native SOL is priced
	// through it.
	WrappedSOLMint = "So11111111111111111111111111111111111111112"
	// NativeSOLMint identifies the native SOL balance. It is not base58, so
	// it never collides with a wrapped SOL token account in the same list.
	NativeSOLMint = "native"
)

// Token is one priced balance in a wallet.
type Token struct {
	MintAddress   string  `json:"mint_address"`
	Name          string  `json:"name"`
	Symbol        string  `json:"symbol"`
	Balance       float64 `json:"balance"`
	RawBalance    string  `json:"raw_balance"`
	Decimals      int     `json:"decimals"`
	PricePerToken float64 `json:"price_per_token"`
	USDValue      float64 `json:"usd_value"`
	Logo          Logo    `json:"logo"`
}

// Asset is one owned asset as reported by the indexer.
type Asset struct {
	Mint       string
	Name       string
	Symbol     string
	ImageURI   string
	RawBalance uint64
	Decimals   int
	Fungible   bool
	Compressed bool
	// IndexerPrice is the indexer's own USD price, used when the price feed
	// has none. Zero when unknown.
	IndexerPrice float64
}

// Holdings is everything the indexer reports for one owner.
type Holdings struct {
	NativeLamports uint64
	// NativePrice is the indexer's SOL price, used when the price feed has none.
	NativePrice float64
	Assets      []Asset
}

// AssetSource lists assets owned by wallets.
type AssetSource interface {
	AssetsByOwner(ctx context.Context, owner string) (*Holdings, error)
	// AssetsByOwners resolves many owners in one round trip. Per-owner
	// failures are returned in the error map; a non-nil error means the
	// whole request failed.
	AssetsByOwners(ctx context.Context, owners []string) (map[string]*Holdings, map[string]error, error)
}

// PriceSource returns USD prices keyed by mint. Mints without a price are
// absent from the result.
type PriceSource interface {
	Prices(ctx context.Context, mints []string) (map[string]float64, error)
}
