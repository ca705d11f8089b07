package helius

import (
	"context"
	"fmt"
	"net/url"

	"github.com/brojonat/owfn/service/upstream"
	"github.com/brojonat/owfn/service/wallet"
)

// AssetsByOwner returns the fungible holdings and native balance of owner.
func (c *Client) AssetsByOwner(ctx context.Context, owner string) (*wallet.Holdings, error) {
	holdings, errs, err := c.AssetsByOwners(ctx, []string{owner})
	if err != nil {
		return nil, err
	}
	if err, ok := errs[owner]; ok {
		return nil, err
	}
	return holdings[owner], nil
}

// AssetsByOwners resolves every owner in a single JSON-RPC batch. Each
// request's id is the owner address, so responses may arrive in any order.
func (c *Client) AssetsByOwners(ctx context.Context, owners []string) (map[string]*wallet.Holdings, map[string]error, error) {
	if !c.Configured() {
		return nil, nil, upstream.ErrNotConfigured
	}

	holdings := make(map[string]*wallet.Holdings, len(owners))
	errs := make(map[string]error)
	if len(owners) == 0 {
		return holdings, errs, nil
	}

	batch := make([]rpcRequest, 0, len(owners))
	seen := make(map[string]struct{}, len(owners))
	for _, owner := range owners {
		if _, dup := seen[owner]; dup {
			continue
		}
		seen[owner] = struct{}{}
		batch = append(batch, rpcRequest{
			JSONRPC: "2.0",
			ID:      owner,
			Method:  "getAssetsByOwner",
			Params: assetsByOwnerParams{
				OwnerAddress: owner,
				Page:         1,
				Limit:        maxAssetsLimit,
				DisplayOptions: displayOptions{
					ShowFungible:      true,
					ShowNativeBalance: true,
				},
			},
		})
	}

	endpoint := c.rpcURL + "/?api-key=" + url.QueryEscape(c.apiKey)
	var responses []assetsByOwnerResponse
	if err := c.http.PostJSON(ctx, endpoint, "get_assets_by_owner", nil, batch, &responses); err != nil {
		return nil, nil, fmt.Errorf("failed to fetch assets: %w", err)
	}

	for _, resp := range responses {
		if _, ok := seen[resp.ID]; !ok {
			continue
		}
		switch {
		case resp.Error != nil:
			errs[resp.ID] = fmt.Errorf("getAssetsByOwner failed for %s: %s (code %d)", resp.ID, resp.Error.Message, resp.Error.Code)
		case resp.Result == nil:
			errs[resp.ID] = fmt.Errorf("getAssetsByOwner returned no result for %s", resp.ID)
		default:
			holdings[resp.ID] = toHoldings(resp.Result)
		}
	}
	for owner := range seen {
		if _, ok := holdings[owner]; ok {
			continue
		}
		if _, ok := errs[owner]; !ok {
			errs[owner] = fmt.Errorf("getAssetsByOwner response missing for %s", owner)
		}
	}

	c.logger.DebugContext(ctx, "resolved assets batch",
		"owners", len(seen),
		"failed", len(errs),
	)
	return holdings, errs, nil
}

func toHoldings(r *assetsByOwnerResult) *wallet.Holdings {
	h := &wallet.Holdings{}
	if r.NativeBalance != nil {
		h.NativeLamports = r.NativeBalance.Lamports
		h.NativePrice = r.NativeBalance.PricePerSOL
	}
	for _, item := range r.Items {
		a := wallet.Asset{
			Mint:       item.ID,
			Name:       item.Content.Metadata.Name,
			Symbol:     item.Content.Metadata.Symbol,
			ImageURI:   item.Content.Links.Image,
			Fungible:   isFungible(item.Interface),
			Compressed: item.Compression != nil && item.Compression.Compressed,
		}
		if ti := item.TokenInfo; ti != nil {
			a.RawBalance = ti.Balance
			a.Decimals = ti.Decimals
			if a.Symbol == "" {
				a.Symbol = ti.Symbol
			}
			if ti.PriceInfo != nil {
				a.IndexerPrice = ti.PriceInfo.PricePerToken
			}
		}
		h.Assets = append(h.Assets, a)
	}
	return h
}

func isFungible(iface string) bool {
	return iface == "FungibleToken" || iface == "FungibleAsset"
}
