// Package tokeninfo combines on-chain mint state with market data.
package tokeninfo

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/brojonat/owfn/service/pricing"
	"github.com/brojonat/owfn/service/solana"
	"golang.org/x/sync/errgroup"
)

// MintSource reads mint accounts.
type MintSource interface {
	MintInfo(ctx context.Context, mint string) (*solana.MintInfo, error)
}

// MarketSource reads market data.
type MarketSource interface {
	Market(ctx context.Context, mint string) (*pricing.Market, error)
}

// TokenInfo is the response of the token-info route.
type TokenInfo struct {
	Mint            string          `json:"mint"`
	ProgramID       string          `json:"program_id"`
	Decimals        uint8           `json:"decimals"`
	Supply          string          `json:"supply"`
	UISupply        float64         `json:"ui_supply"`
	MintAuthority   *string         `json:"mint_authority"`
	FreezeAuthority *string         `json:"freeze_authority"`
	Market          *pricing.Market `json:"market"`
}

// Resolver builds TokenInfo.
type Resolver struct {
	mints   MintSource
	markets MarketSource
	logger  *slog.Logger
}

// NewResolver creates a resolver.
func NewResolver(mints MintSource, markets MarketSource, logger *slog.Logger) *Resolver {
	return &Resolver{mints: mints, markets: markets, logger: logger}
}

// TokenInfo fetches the mint account and market data concurrently. A mint
// failure is returned; a market failure leaves Market nil.
func (r *Resolver) TokenInfo(ctx context.Context, mint string) (*TokenInfo, error) {
	var (
		info   *solana.MintInfo
		market *pricing.Market
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		info, err = r.mints.MintInfo(gctx, mint)
		return err
	})
	g.Go(func() error {
		m, err := r.markets.Market(gctx, mint)
		if err != nil {
			r.logger.WarnContext(ctx, "market data unavailable", "mint", mint, "error", err)
			return nil
		}
		market = m
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("failed to resolve token %s: %w", mint, err)
	}

	return &TokenInfo{
		Mint:            info.Mint,
		ProgramID:       info.ProgramID,
		Decimals:        info.Decimals,
		Supply:          fmt.Sprintf("%d", info.Supply),
		UISupply:        info.UISupply,
		MintAuthority:   info.MintAuthority,
		FreezeAuthority: info.FreezeAuthority,
		Market:          market,
	}, nil
}
