// Package client is a typed HTTP client for the owfn gateway.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/brojonat/owfn/service/chat"
	"github.com/brojonat/owfn/service/db"
	"github.com/brojonat/owfn/service/presale"
	"github.com/brojonat/owfn/service/tokeninfo"
	"github.com/brojonat/owfn/service/wallet"
)

// Client talks to the gateway's JSON routes.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a new gateway client. Streaming calls are bounded only
// by their context, so a client-wide timeout on httpClient also cuts them.
func NewClient(baseURL string, httpClient *http.Client, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return &Client{
		baseURL:    baseURL,
		httpClient: httpClient,
		logger:     logger,
	}
}

// APIError is a non-2xx response from the gateway.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("request failed with status %d: %s", e.StatusCode, e.Message)
}

// WalletBalances is the response of the wallet-balances route.
type WalletBalances struct {
	WalletAddress string         `json:"wallet_address"`
	Tokens        []wallet.Token `json:"tokens"`
}

// BatchBalances is the response of the batch-wallet-balances route. Every
// requested address is present in Balances; failed ones are also in Errors.
type BatchBalances struct {
	Balances map[string][]wallet.Token `json:"balances"`
	Errors   map[string]string         `json:"errors"`
}

// SocialCaseFilter narrows SocialCases. Zero values are omitted.
type SocialCaseFilter struct {
	Category string
	Status   string
	Limit    int
}

// WalletBalances fetches one wallet's priced holdings.
func (c *Client) WalletBalances(ctx context.Context, address string) (*WalletBalances, error) {
	var out WalletBalances
	q := url.Values{"walletAddress": {address}}
	if err := c.get(ctx, "/api/wallet-balances", q, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// InvalidateBalances drops a wallet's cached balances on the server.
func (c *Client) InvalidateBalances(ctx context.Context, address string) error {
	body := map[string]string{"walletAddress": address}
	if err := c.post(ctx, "/api/wallet-balances/invalidate", body, http.StatusNoContent, nil); err != nil {
		return err
	}
	c.logger.Debug("wallet balances invalidated", "address", address)
	return nil
}

// BatchWalletBalances fetches several wallets at once.
func (c *Client) BatchWalletBalances(ctx context.Context, addresses []string) (*BatchBalances, error) {
	var out BatchBalances
	body := map[string][]string{"addresses": addresses}
	if err := c.post(ctx, "/api/batch-wallet-balances", body, http.StatusOK, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// PresaleProgress fetches the presale-wide totals.
func (c *Client) PresaleProgress(ctx context.Context) (*presale.Progress, error) {
	var out presale.Progress
	if err := c.get(ctx, "/api/presale-info", url.Values{"mode": {"progress"}}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// UserContribution fetches one wallet's presale standing.
func (c *Client) UserContribution(ctx context.Context, address string) (*presale.UserContribution, error) {
	var out presale.UserContribution
	q := url.Values{"mode": {"user"}, "wallet": {address}}
	if err := c.get(ctx, "/api/presale-info", q, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// RecentContributions fetches up to limit contributions, newest first. A
// zero limit uses the server default.
func (c *Client) RecentContributions(ctx context.Context, limit int) ([]presale.Entry, error) {
	q := url.Values{"mode": {"transactions"}}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var out struct {
		Transactions []presale.Entry `json:"transactions"`
	}
	if err := c.get(ctx, "/api/presale-info", q, &out); err != nil {
		return nil, err
	}
	return out.Transactions, nil
}

// AllContributions fetches per-wallet totals.
func (c *Client) AllContributions(ctx context.Context) ([]presale.AggregatedContribution, error) {
	var out struct {
		Contributions []presale.AggregatedContribution `json:"contributions"`
	}
	if err := c.get(ctx, "/api/presale-info", url.Values{"mode": {"admin-all"}}, &out); err != nil {
		return nil, err
	}
	return out.Contributions, nil
}

// TokenInfo fetches mint and market data.
func (c *Client) TokenInfo(ctx context.Context, mint string) (*tokeninfo.TokenInfo, error) {
	var out tokeninfo.TokenInfo
	if err := c.get(ctx, "/api/token-info", url.Values{"mint": {mint}}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SocialCases lists donation cases.
func (c *Client) SocialCases(ctx context.Context, f SocialCaseFilter) ([]*db.SocialCase, error) {
	q := url.Values{}
	if f.Category != "" {
		q.Set("category", f.Category)
	}
	if f.Status != "" {
		q.Set("status", f.Status)
	}
	if f.Limit > 0 {
		q.Set("limit", strconv.Itoa(f.Limit))
	}
	var out struct {
		Cases []*db.SocialCase `json:"cases"`
	}
	if err := c.get(ctx, "/api/social-cases", q, &out); err != nil {
		return nil, err
	}
	return out.Cases, nil
}

// Stats fetches live figures. Nil bounds mean all time; both must be set
// together.
func (c *Client) Stats(ctx context.Context, from, to *time.Time) (*chat.Stats, error) {
	q := url.Values{}
	if from != nil && to != nil {
		q.Set("from", from.Format(time.DateOnly))
		q.Set("to", to.Format(time.DateOnly))
	}
	var out chat.Stats
	if err := c.get(ctx, "/api/stats", q, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Summarize condenses a conversation.
func (c *Client) Summarize(ctx context.Context, messages []chat.Message, lang string) (string, error) {
	body := map[string]any{"messages": messages, "langCode": lang}
	var out struct {
		Summary string `json:"summary"`
	}
	if err := c.post(ctx, "/api/summarize", body, http.StatusOK, &out); err != nil {
		return "", err
	}
	return out.Summary, nil
}

// Narrative drafts an appeal for a social case.
func (c *Client) Narrative(ctx context.Context, req chat.NarrativeRequest) (string, error) {
	var out struct {
		Narrative string `json:"narrative"`
	}
	if err := c.post(ctx, "/api/narrative", req, http.StatusOK, &out); err != nil {
		return "", err
	}
	return out.Narrative, nil
}

// EmailChat emails a transcript and returns the provider message id.
func (c *Client) EmailChat(ctx context.Context, recipient string, messages []chat.Message, lang string) (string, error) {
	body := map[string]any{"recipientEmail": recipient, "messages": messages, "langCode": lang}
	var out struct {
		MessageID string `json:"message_id"`
	}
	if err := c.post(ctx, "/api/email-chat", body, http.StatusOK, &out); err != nil {
		return "", err
	}
	c.logger.Debug("transcript emailed", "message_id", out.MessageID)
	return out.MessageID, nil
}

func (c *Client) get(ctx context.Context, path string, q url.Values, out any) error {
	u := c.baseURL + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	return c.do(req, http.StatusOK, out)
}

func (c *Client) post(ctx context.Context, path string, body any, want int, out any) error {
	req, err := c.newPost(ctx, path, body)
	if err != nil {
		return err
	}
	return c.do(req, want, out)
}

func (c *Client) newPost(ctx context.Context, path string, body any) (*http.Request, error) {
	b, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(b))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

func (c *Client) do(req *http.Request, want int, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != want {
		return c.parseErrorResponse(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// parseErrorResponse attempts to parse an error response from the server.
func (c *Client) parseErrorResponse(resp *http.Response) error {
	var errResp struct {
		Error string `json:"error"`
	}

	body, _ := io.ReadAll(resp.Body)
	if err := json.Unmarshal(body, &errResp); err != nil || errResp.Error == "" {
		return &APIError{StatusCode: resp.StatusCode, Message: string(body)}
	}
	return &APIError{StatusCode: resp.StatusCode, Message: errResp.Error}
}
