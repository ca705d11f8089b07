package solana

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/brojonat/owfn/service/metrics"
	"github.com/brojonat/owfn/service/presale"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"golang.org/x/sync/errgroup"
)

// RPCClient is an interface for the Solana RPC operations we need.
// This allows us to mock the RPC layer in tests without hitting real Solana nodes.
type RPCClient interface {
	GetSignaturesForAddress(
		ctx context.Context,
		address solana.PublicKey,
		opts *rpc.GetSignaturesForAddressOpts,
	) ([]*rpc.TransactionSignature, error)

	GetTransaction(
		ctx context.Context,
		signature solana.Signature,
		opts *rpc.GetTransactionOpts,
	) (*rpc.GetTransactionResult, error)

	GetAccountInfo(
		ctx context.Context,
		account solana.PublicKey,
	) (*rpc.GetAccountInfoResult, error)
}

// ErrAccountNotFound is returned when a requested account does not exist.
var ErrAccountNotFound = errors.New("account not found")

// ErrNotMint is returned when an account exists but is not an SPL mint.
var ErrNotMint = errors.New("account is not a token mint")

// defaultFetchConcurrency bounds concurrent GetTransaction calls per page.
const (
	defaultFetchConcurrency = 4
	// maxSignaturesLimit is the largest limit getSignaturesForAddress accepts.
	maxSignaturesLimit = 1000
)

// Client reads presale history and mint accounts over raw Solana JSON-RPC.
// It implements presale.TransactionSource.
type Client struct {
	rpc         RPCClient
	logger      *slog.Logger
	metrics     *metrics.Metrics
	concurrency int
}

// NewClient creates a new Solana client.
// If metrics is nil, no metrics will be recorded.
func NewClient(rpcClient RPCClient, m *metrics.Metrics, logger *slog.Logger) *Client {
	return &Client{
		rpc:         rpcClient,
		logger:      logger,
		metrics:     m,
		concurrency: defaultFetchConcurrency,
	}
}

var (
	_ presale.TransactionSource = (*Client)(nil)
	_ presale.PageLimiter       = (*Client)(nil)
)

// MaxPageSize reports the largest signature page the RPC node serves.
func (c *Client) MaxPageSize() int {
	return maxSignaturesLimit
}

// FetchPage returns up to limit transactions for wallet, newest first,
// starting before the given signature. Each transaction is fetched in full
// and decoded into its native transfers. Any RPC failure aborts the page.
func (c *Client) FetchPage(ctx context.Context, wallet, before string, limit int) ([]presale.ObservedTransaction, error) {
	walletKey, err := solana.PublicKeyFromBase58(wallet)
	if err != nil {
		return nil, fmt.Errorf("invalid wallet address %q: %w", wallet, err)
	}

	opts := &rpc.GetSignaturesForAddressOpts{
		Limit: &limit,
	}
	if before != "" {
		sig, err := solana.SignatureFromBase58(before)
		if err != nil {
			return nil, fmt.Errorf("invalid before signature %q: %w", before, err)
		}
		opts.Before = sig
	}

	c.logger.DebugContext(ctx, "calling GetSignaturesForAddress",
		"wallet", wallet,
		"limit", limit,
		"before", before,
	)

	start := time.Now()
	signatures, err := c.rpc.GetSignaturesForAddress(ctx, walletKey, opts)
	if c.metrics != nil {
		c.metrics.RecordRPCCall("GetSignaturesForAddress", err, time.Since(start).Seconds())
	}
	if err != nil {
		c.logger.ErrorContext(ctx, "failed to get signatures",
			"wallet", wallet,
			"error", err,
		)
		return nil, fmt.Errorf("failed to get signatures: %w", err)
	}

	out := make([]presale.ObservedTransaction, len(signatures))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency)
	for i, sig := range signatures {
		// Failed transactions never count; skip the detail fetch.
		if sig.Err != nil {
			out[i] = signatureToObserved(sig)
			continue
		}
		g.Go(func() error {
			obs, err := c.fetchTransaction(gctx, sig)
			if err != nil {
				return err
			}
			out[i] = obs
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	c.logger.DebugContext(ctx, "fetched and parsed transactions",
		"wallet", wallet,
		"count", len(out),
	)
	return out, nil
}

func (c *Client) fetchTransaction(ctx context.Context, sig *rpc.TransactionSignature) (presale.ObservedTransaction, error) {
	maxVersion := uint64(0)
	opts := &rpc.GetTransactionOpts{
		Encoding:                       solana.EncodingBase64,
		MaxSupportedTransactionVersion: &maxVersion,
	}

	start := time.Now()
	result, err := c.rpc.GetTransaction(ctx, sig.Signature, opts)
	if c.metrics != nil {
		c.metrics.RecordRPCCall("GetTransaction", err, time.Since(start).Seconds())
	}
	if err != nil {
		if errors.Is(err, rpc.ErrNotFound) {
			// A pruned transaction would hide its transfers and under-count
			// the totals, so it fails the page like any other RPC error.
			c.logger.ErrorContext(ctx, "transaction not available",
				"signature", sig.Signature.String(),
			)
			return presale.ObservedTransaction{}, fmt.Errorf("transaction %s not available: %w", sig.Signature, err)
		}
		c.logger.ErrorContext(ctx, "failed to get transaction",
			"signature", sig.Signature.String(),
			"error", err,
		)
		return presale.ObservedTransaction{}, fmt.Errorf("failed to get transaction %s: %w", sig.Signature, err)
	}

	obs, err := parseObservedTransaction(sig, result)
	if err != nil {
		return presale.ObservedTransaction{}, fmt.Errorf("failed to parse transaction %s: %w", sig.Signature, err)
	}
	return obs, nil
}

// MintInfo fetches and decodes an SPL token mint account.
func (c *Client) MintInfo(ctx context.Context, mint string) (*MintInfo, error) {
	mintKey, err := solana.PublicKeyFromBase58(mint)
	if err != nil {
		return nil, fmt.Errorf("invalid mint address %q: %w", mint, err)
	}

	start := time.Now()
	result, err := c.rpc.GetAccountInfo(ctx, mintKey)
	if c.metrics != nil {
		c.metrics.RecordRPCCall("GetAccountInfo", err, time.Since(start).Seconds())
	}
	if err != nil {
		if errors.Is(err, rpc.ErrNotFound) {
			return nil, fmt.Errorf("mint %s: %w", mint, ErrAccountNotFound)
		}
		return nil, fmt.Errorf("failed to get mint account: %w", err)
	}
	if result == nil || result.Value == nil {
		return nil, fmt.Errorf("mint %s: %w", mint, ErrAccountNotFound)
	}

	return decodeMint(mintKey, result.Value.Owner, result.GetBinary())
}
