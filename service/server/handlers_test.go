package server

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/brojonat/owfn/service/chat"
	"github.com/brojonat/owfn/service/config"
	"github.com/brojonat/owfn/service/db"
	natspkg "github.com/brojonat/owfn/service/nats"
	"github.com/brojonat/owfn/service/presale"
	"github.com/brojonat/owfn/service/solana"
	"github.com/brojonat/owfn/service/tokeninfo"
	"github.com/brojonat/owfn/service/upstream"
	"github.com/brojonat/owfn/service/wallet"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	walletA = "So11111111111111111111111111111111111111112"
	walletB = "TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA"
)

type fakeBalances struct {
	mu          sync.Mutex
	tokens      map[string][]wallet.Token
	errs        map[string]error
	invalidated []string
}

func (f *fakeBalances) Balances(ctx context.Context, w string) ([]wallet.Token, error) {
	if err := f.errs[w]; err != nil {
		return nil, err
	}
	return f.tokens[w], nil
}

func (f *fakeBalances) BatchBalances(ctx context.Context, wallets []string) (map[string][]wallet.Token, map[string]error) {
	out := make(map[string][]wallet.Token)
	errs := make(map[string]error)
	for _, w := range wallets {
		if err := f.errs[w]; err != nil {
			out[w] = []wallet.Token{}
			errs[w] = err
			continue
		}
		out[w] = f.tokens[w]
	}
	return out, errs
}

func (f *fakeBalances) Invalidate(ctx context.Context, w string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.invalidated = append(f.invalidated, w)
	return nil
}

func (f *fakeBalances) Invalidated() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.invalidated...)
}

type fakePresale struct {
	progress  *presale.Progress
	user      *presale.UserContribution
	recent    []presale.Entry
	all       []presale.AggregatedContribution
	err       error
	lastLimit int
}

func (f *fakePresale) Progress(ctx context.Context) (*presale.Progress, error) {
	return f.progress, f.err
}

func (f *fakePresale) UserContribution(ctx context.Context, w string) (*presale.UserContribution, error) {
	return f.user, f.err
}

func (f *fakePresale) Recent(ctx context.Context, limit int) ([]presale.Entry, error) {
	f.lastLimit = limit
	return f.recent, f.err
}

func (f *fakePresale) AllContributions(ctx context.Context) ([]presale.AggregatedContribution, error) {
	return f.all, f.err
}

type fakeTokens struct {
	info *tokeninfo.TokenInfo
	err  error
}

func (f *fakeTokens) TokenInfo(ctx context.Context, mint string) (*tokeninfo.TokenInfo, error) {
	return f.info, f.err
}

type fakeSocial struct {
	cases  []*db.SocialCase
	params db.ListSocialCasesParams
}

func (f *fakeSocial) ListSocialCases(ctx context.Context, params db.ListSocialCasesParams) ([]*db.SocialCase, error) {
	f.params = params
	return f.cases, nil
}

type fakeStats struct {
	stats *chat.Stats
	got   *chat.DateRange
}

func (f *fakeStats) Stats(ctx context.Context, r *chat.DateRange) (*chat.Stats, error) {
	f.got = r
	return f.stats, nil
}

type fakeChat struct {
	chunks  []string
	summary string
	err     error
}

func (f *fakeChat) Stream(ctx context.Context, req chat.Request, w chat.EventWriter) error {
	for _, c := range f.chunks {
		if err := w.WriteEvent(chat.Event{Type: chat.EventChunk, Text: c}); err != nil {
			return err
		}
	}
	return w.WriteEvent(chat.Event{Type: chat.EventEnd})
}

func (f *fakeChat) Summarize(ctx context.Context, messages []chat.Message, lang string) (string, error) {
	return f.summary, f.err
}

func (f *fakeChat) Narrative(ctx context.Context, req chat.NarrativeRequest) (string, error) {
	return "story of " + req.Title, f.err
}

type fakeMailer struct {
	recipient string
	err       error
}

func (f *fakeMailer) SendTranscript(ctx context.Context, recipient string, messages []chat.Message, lang string) (string, error) {
	f.recipient = recipient
	return "msg-1", f.err
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func newTestHandler(deps Deps, cfg *config.Config) http.Handler {
	if cfg == nil {
		cfg = &config.Config{}
	}
	if deps.Balances == nil {
		deps.Balances = &fakeBalances{}
	}
	if deps.Presale == nil {
		deps.Presale = &fakePresale{}
	}
	if deps.Tokens == nil {
		deps.Tokens = &fakeTokens{}
	}
	if deps.Stats == nil {
		deps.Stats = &fakeStats{stats: &chat.Stats{}}
	}
	return New(":0", cfg, deps, nil, testLogger()).Handler()
}

func do(t *testing.T, h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, r)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func errorBody(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp["error"]
}

func TestWalletBalances(t *testing.T) {
	balances := &fakeBalances{
		tokens: map[string][]wallet.Token{
			walletA: {{MintAddress: wallet.NativeSOLMint, Symbol: "SOL", Balance: 1.5, USDValue: 300}},
		},
		errs: map[string]error{
			walletB: &upstream.Error{Service: "helius", StatusCode: 429},
		},
	}
	h := newTestHandler(Deps{Balances: balances}, nil)

	rec := do(t, h, http.MethodGet, "/api/wallet-balances?walletAddress="+walletA, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var resp walletBalancesResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, walletA, resp.WalletAddress)
	require.Len(t, resp.Tokens, 1)
	assert.Equal(t, "SOL", resp.Tokens[0].Symbol)

	rec = do(t, h, http.MethodGet, "/api/wallet-balances?walletAddress="+walletB, "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "helius request failed with status 429", errorBody(t, rec))

	rec = do(t, h, http.MethodPost, "/api/wallet-balances?walletAddress="+walletA, "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.Equal(t, http.MethodGet, rec.Header().Get("Allow"))
}

func TestWalletBalances_InvalidAddress(t *testing.T) {
	h := newTestHandler(Deps{}, nil)

	tests := []struct {
		name    string
		address string
		want    string
	}{
		{"missing", "", "address is required"},
		{"too long", strings.Repeat("A", 150), "address too long"},
		{"not base58", "0OIl", "invalid address format"},
		{"injection", "wallet';DROP", "invalid address format"},
		{"spaces", "wallet with spaces", "invalid address format"},
		{"wrong length", "abc", "not a 32-byte public key"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, h, http.MethodGet, "/api/wallet-balances?walletAddress="+url.QueryEscape(tt.address), "")
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Contains(t, errorBody(t, rec), tt.want)
		})
	}
}

func TestMissingConfigurationMessage(t *testing.T) {
	balances := &fakeBalances{errs: map[string]error{walletA: upstream.ErrNotConfigured}}
	h := newTestHandler(Deps{Balances: balances}, nil)

	rec := do(t, h, http.MethodGet, "/api/wallet-balances?walletAddress="+walletA, "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "server configuration error: HELIUS_API_KEY is not set", errorBody(t, rec))

	for path, key := range map[string]string{
		"/api/social-cases": "DATABASE_URL",
		"/api/chatbot":      "GEMINI_API_KEY",
		"/api/summarize":    "GEMINI_API_KEY",
		"/api/narrative":    "GEMINI_API_KEY",
		"/api/email-chat":   "RESEND_API_KEY",
		"/api/presale-feed": "NATS_URL",
	} {
		rec := do(t, h, http.MethodPost, path, `{}`)
		assert.Equal(t, http.StatusInternalServerError, rec.Code, path)
		assert.Equal(t, "server configuration error: "+key+" is not set", errorBody(t, rec), path)
	}
}

func TestBatchWalletBalances(t *testing.T) {
	balances := &fakeBalances{
		tokens: map[string][]wallet.Token{
			walletA: {{MintAddress: wallet.NativeSOLMint, Symbol: "SOL"}},
		},
		errs: map[string]error{walletB: context.DeadlineExceeded},
	}
	h := newTestHandler(Deps{Balances: balances}, nil)

	rec := do(t, h, http.MethodPost, "/api/batch-wallet-balances", `{"addresses":["`+walletA+`"," `+walletB+` "]}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp batchBalancesResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Len(t, resp.Balances[walletA], 1)
	assert.Empty(t, resp.Balances[walletB])
	assert.Contains(t, resp.Balances, walletB)
	assert.Equal(t, "failed to fetch wallet balances: upstream timed out", resp.Errors[walletB])

	t.Run("rejects bad input", func(t *testing.T) {
		cases := map[string]string{
			`{"addresses":[]}`:            "non-empty",
			`{"addresses":["x0"]}`:        "addresses[0]",
			`{"addresses":`:               "invalid request body",
			`{"addresses":` + many(101) + `}`: "at most 100",
		}
		for body, want := range cases {
			rec := do(t, h, http.MethodPost, "/api/batch-wallet-balances", body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Contains(t, errorBody(t, rec), want)
		}
	})

	t.Run("body too large", func(t *testing.T) {
		body := `{"addresses":["` + strings.Repeat("A", 2<<20) + `"]}`
		rec := do(t, h, http.MethodPost, "/api/batch-wallet-balances", body)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, errorBody(t, rec), "request body too large")
	})
}

func many(n int) string {
	addrs := make([]string, n)
	for i := range addrs {
		addrs[i] = walletA
	}
	b, _ := json.Marshal(addrs)
	return string(b)
}

func TestInvalidateBalances(t *testing.T) {
	balances := &fakeBalances{}
	h := newTestHandler(Deps{Balances: balances}, nil)

	rec := do(t, h, http.MethodPost, "/api/wallet-balances/invalidate", `{"walletAddress":"`+walletA+`"}`)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, []string{walletA}, balances.Invalidated())

	rec = do(t, h, http.MethodPost, "/api/wallet-balances/invalidate", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPresaleInfo(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc := &fakePresale{
		progress: &presale.Progress{Wallet: walletB, TotalSOL: 12.5, Contributors: 3},
		user:     &presale.UserContribution{Wallet: walletA, SOL: 2, MeetsMinimum: true},
		recent: []presale.Entry{{
			PresaleTransaction: presale.PresaleTransaction{Signature: "sig1", SourceAddress: walletA, Lamports: 1e9, Timestamp: now},
			SOL:                1,
		}},
		all: []presale.AggregatedContribution{{Wallet: walletA, SOL: 2, TransactionCount: 2}},
	}
	h := newTestHandler(Deps{Presale: svc}, nil)

	t.Run("progress by default", func(t *testing.T) {
		rec := do(t, h, http.MethodGet, "/api/presale-info", "")
		require.Equal(t, http.StatusOK, rec.Code)
		var p presale.Progress
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &p))
		assert.Equal(t, 12.5, p.TotalSOL)
		assert.Equal(t, 3, p.Contributors)
	})

	t.Run("user", func(t *testing.T) {
		rec := do(t, h, http.MethodGet, "/api/presale-info?mode=user&wallet="+walletA, "")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `"meets_minimum":true`)

		rec = do(t, h, http.MethodGet, "/api/presale-info?mode=user", "")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, errorBody(t, rec), "wallet: address is required")
	})

	t.Run("transactions", func(t *testing.T) {
		rec := do(t, h, http.MethodGet, "/api/presale-info?mode=transactions&limit=5", "")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, 5, svc.lastLimit)
		var resp struct {
			Transactions []presale.Entry `json:"transactions"`
			Limit        int             `json:"limit"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		require.Len(t, resp.Transactions, 1)
		assert.Equal(t, "sig1", resp.Transactions[0].Signature)

		do(t, h, http.MethodGet, "/api/presale-info?mode=transactions", "")
		assert.Equal(t, defaultRecentLimit, svc.lastLimit)

		rec = do(t, h, http.MethodGet, "/api/presale-info?mode=transactions&limit=1000", "")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, errorBody(t, rec), "limit cannot exceed 100")
	})

	t.Run("admin-all", func(t *testing.T) {
		rec := do(t, h, http.MethodGet, "/api/presale-info?mode=admin-all", "")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `"transaction_count":2`)
	})

	t.Run("unknown mode", func(t *testing.T) {
		rec := do(t, h, http.MethodGet, "/api/presale-info?mode=nope", "")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("upstream failure", func(t *testing.T) {
		failing := newTestHandler(Deps{Presale: &fakePresale{err: errors.New("boom")}}, nil)
		rec := do(t, failing, http.MethodGet, "/api/presale-info", "")
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.Equal(t, "failed to load presale info", errorBody(t, rec))
	})
}

func TestTokenInfo(t *testing.T) {
	info := &tokeninfo.TokenInfo{Mint: walletA, Decimals: 9, Supply: "1000"}
	h := newTestHandler(Deps{Tokens: &fakeTokens{info: info}}, nil)

	rec := do(t, h, http.MethodGet, "/api/token-info?mint="+walletA, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"decimals":9`)
	assert.Contains(t, rec.Body.String(), `"market":null`)

	notFound := newTestHandler(Deps{Tokens: &fakeTokens{err: solana.ErrAccountNotFound}}, nil)
	rec = do(t, notFound, http.MethodGet, "/api/token-info?mint="+walletA, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	notMint := newTestHandler(Deps{Tokens: &fakeTokens{err: solana.ErrNotMint}}, nil)
	rec = do(t, notMint, http.MethodGet, "/api/token-info?mint="+walletA, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSocialCases(t *testing.T) {
	social := &fakeSocial{cases: []*db.SocialCase{{ID: 1, Title: "Well", Category: "water", Status: "active"}}}
	h := newTestHandler(Deps{Social: social}, nil)

	rec := do(t, h, http.MethodGet, "/api/social-cases?category=water&status=active&limit=10", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"count":1`)
	assert.Equal(t, db.ListSocialCasesParams{Category: "water", Status: "active", Limit: 10}, social.params)

	rec = do(t, h, http.MethodGet, "/api/social-cases?status=bogus", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStats(t *testing.T) {
	stats := &fakeStats{stats: &chat.Stats{PresaleSOL: 4}}
	h := newTestHandler(Deps{Stats: stats}, nil)

	rec := do(t, h, http.MethodGet, "/api/stats", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Nil(t, stats.got)

	rec = do(t, h, http.MethodGet, "/api/stats?from=2026-01-01&to=2026-01-31", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, stats.got)
	assert.Equal(t, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), stats.got.From)
	assert.Equal(t, 2026, stats.got.To.Year())
	assert.Equal(t, 31, stats.got.To.Day())
	assert.Equal(t, 23, stats.got.To.Hour())

	for _, q := range []string{"from=2026-01-01", "from=bad&to=2026-01-01", "from=2026-02-01&to=2026-01-01"} {
		rec = do(t, h, http.MethodGet, "/api/stats?"+q, "")
		assert.Equal(t, http.StatusBadRequest, rec.Code, q)
	}
}

func TestChatbot(t *testing.T) {
	h := newTestHandler(Deps{Chat: &fakeChat{chunks: []string{"Hello", " there"}}}, nil)

	rec := do(t, h, http.MethodPost, "/api/chatbot", `{"question":"How much was raised?","langCode":"en"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/x-ndjson", rec.Header().Get("Content-Type"))

	var events []chat.Event
	sc := bufio.NewScanner(rec.Body)
	for sc.Scan() {
		var e chat.Event
		require.NoError(t, json.Unmarshal(sc.Bytes(), &e))
		events = append(events, e)
	}
	require.Len(t, events, 3)
	assert.Equal(t, chat.Event{Type: chat.EventChunk, Text: "Hello"}, events[0])
	assert.Equal(t, chat.EventEnd, events[2].Type)

	rec = do(t, h, http.MethodPost, "/api/chatbot", `{"question":"   "}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	rec = do(t, h, http.MethodGet, "/api/chatbot", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestSummarizeAndNarrative(t *testing.T) {
	gw := &fakeChat{summary: "short version"}
	h := newTestHandler(Deps{Chat: gw}, nil)

	rec := do(t, h, http.MethodPost, "/api/summarize", `{"messages":[{"role":"user","text":"hi"}],"langCode":"en"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"summary":"short version"}`, rec.Body.String())

	rec = do(t, h, http.MethodPost, "/api/summarize", `{"messages":[]}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodPost, "/api/narrative", `{"title":"Clean water","details":"A well for the village"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"narrative":"story of Clean water"}`, rec.Body.String())

	rec = do(t, h, http.MethodPost, "/api/narrative", `{"title":"Clean water"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	gw.err = &upstream.Error{Service: "gemini", StatusCode: 503}
	rec = do(t, h, http.MethodPost, "/api/summarize", `{"messages":[{"role":"user","text":"hi"}]}`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "gemini request failed with status 503", errorBody(t, rec))
}

func TestEmailChat(t *testing.T) {
	mailer := &fakeMailer{}
	h := newTestHandler(Deps{Mailer: mailer}, nil)

	rec := do(t, h, http.MethodPost, "/api/email-chat",
		`{"recipientEmail":" a@example.com ","messages":[{"role":"user","text":"hi"}],"langCode":"ro"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"sent":true,"message_id":"msg-1"}`, rec.Body.String())
	assert.Equal(t, "a@example.com", mailer.recipient)

	for _, body := range []string{
		`{"messages":[{"role":"user","text":"hi"}]}`,
		`{"recipientEmail":"not-an-email","messages":[{"role":"user","text":"hi"}]}`,
		`{"recipientEmail":"Bob <b@example.com>","messages":[{"role":"user","text":"hi"}]}`,
		`{"recipientEmail":"a@example.com","messages":[]}`,
	} {
		rec := do(t, h, http.MethodPost, "/api/email-chat", body)
		assert.Equal(t, http.StatusBadRequest, rec.Code, body)
	}

	mailer.err = &upstream.Error{Service: "resend", StatusCode: 403}
	rec = do(t, h, http.MethodPost, "/api/email-chat",
		`{"recipientEmail":"a@example.com","messages":[{"role":"user","text":"hi"}]}`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "resend request failed with status 403", errorBody(t, rec))
}

func TestRateLimit(t *testing.T) {
	cfg := &config.Config{AIRateLimitRPS: 0.001, AIRateLimitBurst: 2}
	h := newTestHandler(Deps{Chat: &fakeChat{summary: "ok"}}, cfg)

	body := `{"messages":[{"role":"user","text":"hi"}]}`
	send := func(ip string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/summarize", strings.NewReader(body))
		req.Header.Set("X-Forwarded-For", ip+", 10.0.0.1")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	assert.Equal(t, http.StatusOK, send("1.1.1.1").Code)
	assert.Equal(t, http.StatusOK, send("1.1.1.1").Code)
	rec := send("1.1.1.1")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))
	assert.Equal(t, "too many requests", errorBody(t, rec))

	// Other clients have their own bucket.
	assert.Equal(t, http.StatusOK, send("2.2.2.2").Code)

	// Non-AI routes are not limited.
	for i := 0; i < 5; i++ {
		rec := do(t, h, http.MethodGet, "/api/stats", "")
		assert.Equal(t, http.StatusOK, rec.Code)
	}
}

func TestClientLimiterSweepsIdleClients(t *testing.T) {
	l := newClientLimiter(1, 1)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }

	assert.True(t, l.allow("a"))
	assert.False(t, l.allow("a"))
	assert.Len(t, l.clients, 1)

	now = now.Add(limiterIdleTTL + time.Minute)
	assert.True(t, l.allow("b"))
	assert.Len(t, l.clients, 1)
	assert.Contains(t, l.clients, "b")
}

func TestCORSPreflight(t *testing.T) {
	h := newTestHandler(Deps{}, nil)
	rec := do(t, h, http.MethodOptions, "/api/chatbot", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestPresaleFeed(t *testing.T) {
	now := time.Now().UTC()
	feed := &natspkg.MockSubscriber{Events: []*natspkg.ContributionEvent{
		{Signature: "sig1", Source: walletA, Lamports: 1e9, SOL: 1, Timestamp: now},
		{Signature: "sig2", Source: walletB, Lamports: 2e9, SOL: 2, Timestamp: now},
	}}
	balances := &fakeBalances{}
	h := newTestHandler(Deps{Feed: feed, Balances: balances}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req := httptest.NewRequest(http.MethodGet, "/api/presale-feed?replay=5", nil).WithContext(ctx)
	rec := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		defer close(done)
		h.ServeHTTP(rec, req)
	}()

	assert.Eventually(t, func() bool { return len(balances.Invalidated()) == 2 }, 2*time.Second, 10*time.Millisecond)
	// give the handler a moment to write the second event after invalidating
	time.Sleep(50 * time.Millisecond)
	cancel()
	<-done

	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	body := rec.Body.String()
	assert.Contains(t, body, "event: connected\ndata: {\"replay\":5}")
	assert.Equal(t, 2, strings.Count(body, "event: contribution"))
	assert.Contains(t, body, `"signature":"sig2"`)
	assert.Equal(t, []string{walletA, walletB}, balances.Invalidated())
	require.Len(t, feed.Calls(), 1)
	assert.Equal(t, uint64(5), feed.Calls()[0].LastN)

	rec = do(t, h, http.MethodGet, "/api/presale-feed?replay=-1", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPresaleFeed_SubscribeError(t *testing.T) {
	feed := &natspkg.MockSubscriber{Err: errors.New("stream not found")}
	h := newTestHandler(Deps{Feed: feed}, nil)

	rec := do(t, h, http.MethodGet, "/api/presale-feed", "")
	assert.Contains(t, rec.Body.String(), "event: error")
}
