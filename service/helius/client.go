// Package helius talks to the Helius enhanced transaction API and the DAS
// (Digital Asset Standard) JSON-RPC methods.
//
// Client implements presale.TransactionSource over the enhanced history
// endpoint and wallet.AssetSource over getAssetsByOwner.
package helius

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"time"

	"github.com/brojonat/owfn/service/presale"
	"github.com/brojonat/owfn/service/upstream"
)

const (
	// DefaultAPIURL hosts the enhanced transaction endpoints.
	DefaultAPIURL = "https://api.helius.xyz"
	// DefaultRPCURL hosts the JSON-RPC and DAS methods.
	DefaultRPCURL = "https://mainnet.helius-rpc.com"

	// maxHistoryLimit is the largest page the history endpoint serves.
	maxHistoryLimit = 100
	// maxAssetsLimit is the largest page getAssetsByOwner serves.
	maxAssetsLimit = 1000
)

// Client is a Helius API client. A Client with an empty API key returns
// upstream.ErrNotConfigured from every call.
type Client struct {
	apiKey string
	apiURL string
	rpcURL string
	http   *upstream.Client
	logger *slog.Logger
}

// NewClient creates a Helius client. Empty URLs fall back to the mainnet
// defaults.
func NewClient(apiKey, apiURL, rpcURL string, httpClient *upstream.Client, logger *slog.Logger) *Client {
	if apiURL == "" {
		apiURL = DefaultAPIURL
	}
	if rpcURL == "" {
		rpcURL = DefaultRPCURL
	}
	return &Client{
		apiKey: apiKey,
		apiURL: apiURL,
		rpcURL: rpcURL,
		http:   httpClient,
		logger: logger,
	}
}

var (
	_ presale.TransactionSource = (*Client)(nil)
	_ presale.PageLimiter       = (*Client)(nil)
)

// Configured reports whether an API key is set.
func (c *Client) Configured() bool {
	return c.apiKey != ""
}

// MaxPageSize reports the largest page FetchPage will request.
func (c *Client) MaxPageSize() int {
	return maxHistoryLimit
}

// FetchPage returns one page of parsed history for wallet, newest first.
func (c *Client) FetchPage(ctx context.Context, wallet, before string, limit int) ([]presale.ObservedTransaction, error) {
	if !c.Configured() {
		return nil, upstream.ErrNotConfigured
	}
	if limit <= 0 || limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}

	q := url.Values{}
	q.Set("api-key", c.apiKey)
	q.Set("limit", strconv.Itoa(limit))
	if before != "" {
		q.Set("before", before)
	}
	endpoint := fmt.Sprintf("%s/v0/addresses/%s/transactions?%s", c.apiURL, url.PathEscape(wallet), q.Encode())

	var txs []enhancedTransaction
	if err := c.http.GetJSON(ctx, endpoint, "transaction_history", &txs); err != nil {
		return nil, fmt.Errorf("failed to fetch history for %s: %w", wallet, err)
	}

	c.logger.DebugContext(ctx, "fetched enhanced history page",
		"wallet", wallet,
		"before", before,
		"count", len(txs),
	)

	out := make([]presale.ObservedTransaction, 0, len(txs))
	for _, tx := range txs {
		out = append(out, toObserved(tx))
	}
	return out, nil
}

func toObserved(tx enhancedTransaction) presale.ObservedTransaction {
	obs := presale.ObservedTransaction{
		Signature: tx.Signature,
		Timestamp: time.Unix(tx.Timestamp, 0).UTC(),
		FeePayer:  tx.FeePayer,
		Failed:    tx.TransactionError != nil && string(*tx.TransactionError) != "null",
	}
	for _, nt := range tx.NativeTransfers {
		if nt.Amount <= 0 {
			continue
		}
		obs.Transfers = append(obs.Transfers, presale.NativeTransfer{
			From:     nt.FromUserAccount,
			To:       nt.ToUserAccount,
			Lamports: uint64(nt.Amount),
		})
	}
	return obs
}
