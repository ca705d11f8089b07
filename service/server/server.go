package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/brojonat/owfn/service/chat"
	"github.com/brojonat/owfn/service/config"
	"github.com/brojonat/owfn/service/db"
	"github.com/brojonat/owfn/service/metrics"
	natspkg "github.com/brojonat/owfn/service/nats"
	"github.com/brojonat/owfn/service/presale"
	"github.com/brojonat/owfn/service/tokeninfo"
	"github.com/brojonat/owfn/service/wallet"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// BalanceService is satisfied by *wallet.Resolver.
type BalanceService interface {
	Balances(ctx context.Context, wallet string) ([]wallet.Token, error)
	BatchBalances(ctx context.Context, wallets []string) (map[string][]wallet.Token, map[string]error)
	Invalidate(ctx context.Context, wallet string) error
}

// PresaleService is satisfied by *presale.Aggregator.
type PresaleService interface {
	Progress(ctx context.Context) (*presale.Progress, error)
	UserContribution(ctx context.Context, wallet string) (*presale.UserContribution, error)
	Recent(ctx context.Context, limit int) ([]presale.Entry, error)
	AllContributions(ctx context.Context) ([]presale.AggregatedContribution, error)
}

// TokenInfoService is satisfied by *tokeninfo.Resolver.
type TokenInfoService interface {
	TokenInfo(ctx context.Context, mint string) (*tokeninfo.TokenInfo, error)
}

// SocialCaseStore is satisfied by *db.Store.
type SocialCaseStore interface {
	ListSocialCases(ctx context.Context, params db.ListSocialCasesParams) ([]*db.SocialCase, error)
}

// ChatService is satisfied by *chat.Gateway.
type ChatService interface {
	Stream(ctx context.Context, req chat.Request, w chat.EventWriter) error
	Summarize(ctx context.Context, messages []chat.Message, lang string) (string, error)
	Narrative(ctx context.Context, req chat.NarrativeRequest) (string, error)
}

// TranscriptMailer is satisfied by *email.Service.
type TranscriptMailer interface {
	SendTranscript(ctx context.Context, recipient string, messages []chat.Message, lang string) (string, error)
}

// Deps are the services behind the routes. Balances, Presale, Tokens and
// Stats are required. Social, Chat, Mailer and Feed may be nil, in which case
// their routes answer with a static configuration error.
type Deps struct {
	Balances BalanceService
	Presale  PresaleService
	Tokens   TokenInfoService
	Social   SocialCaseStore
	Stats    chat.StatsProvider
	Chat     ChatService
	Mailer   TranscriptMailer
	Feed     natspkg.Subscriber
}

// Server represents the HTTP gateway.
type Server struct {
	addr    string
	cfg     *config.Config
	deps    Deps
	metrics *metrics.Metrics
	logger  *slog.Logger
	server  *http.Server
	limiter *clientLimiter
}

// New creates a new HTTP server with the given dependencies. The metrics is
// optional; if nil, the /metrics endpoint is not served.
func New(addr string, cfg *config.Config, deps Deps, m *metrics.Metrics, logger *slog.Logger) *Server {
	return &Server{
		addr:    addr,
		cfg:     cfg,
		deps:    deps,
		metrics: m,
		logger:  logger,
		limiter: newClientLimiter(cfg.AIRateLimitRPS, cfg.AIRateLimitBurst),
	}
}

// Handler builds the route table wrapped in CORS handling.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	route := func(pattern, name string, h http.Handler) {
		mux.Handle(pattern, metrics.HTTPMetricsMiddleware(s.metrics, name)(h))
	}
	limited := func(name string, h http.Handler) http.Handler {
		return s.limiter.middleware(name, s.metrics, s.logger)(h)
	}

	route("/api/wallet-balances", "/api/wallet-balances",
		allow(http.MethodGet, handleWalletBalances(s.deps.Balances, s.logger)))
	route("/api/wallet-balances/invalidate", "/api/wallet-balances/invalidate",
		allow(http.MethodPost, handleInvalidateBalances(s.deps.Balances, s.logger)))
	route("/api/batch-wallet-balances", "/api/batch-wallet-balances",
		allow(http.MethodPost, handleBatchWalletBalances(s.deps.Balances, s.logger)))
	route("/api/presale-info", "/api/presale-info",
		allow(http.MethodGet, handlePresaleInfo(s.deps.Presale, s.logger)))
	route("/api/token-info", "/api/token-info",
		allow(http.MethodGet, handleTokenInfo(s.deps.Tokens, s.logger)))
	route("/api/stats", "/api/stats",
		allow(http.MethodGet, handleStats(s.deps.Stats, s.logger)))

	if s.deps.Social != nil {
		route("/api/social-cases", "/api/social-cases",
			allow(http.MethodGet, handleSocialCases(s.deps.Social, s.logger)))
	} else {
		s.logger.Warn("database not configured, social cases disabled")
		route("/api/social-cases", "/api/social-cases", handleMissingConfig("DATABASE_URL"))
	}

	if s.deps.Chat != nil {
		route("/api/chatbot", "/api/chatbot",
			allow(http.MethodPost, limited("/api/chatbot", handleChatbot(s.deps.Chat, s.logger))))
		route("/api/summarize", "/api/summarize",
			allow(http.MethodPost, limited("/api/summarize", handleSummarize(s.deps.Chat, s.logger))))
		route("/api/narrative", "/api/narrative",
			allow(http.MethodPost, limited("/api/narrative", handleNarrative(s.deps.Chat, s.logger))))
	} else {
		s.logger.Warn("Gemini not configured, AI routes disabled")
		for _, p := range []string{"/api/chatbot", "/api/summarize", "/api/narrative"} {
			route(p, p, handleMissingConfig("GEMINI_API_KEY"))
		}
	}

	if s.deps.Mailer != nil {
		route("/api/email-chat", "/api/email-chat",
			allow(http.MethodPost, limited("/api/email-chat", handleEmailChat(s.deps.Mailer, s.logger))))
	} else {
		s.logger.Warn("Resend not configured, email route disabled")
		route("/api/email-chat", "/api/email-chat", handleMissingConfig("RESEND_API_KEY"))
	}

	if s.deps.Feed != nil {
		route("/api/presale-feed", "/api/presale-feed",
			allow(http.MethodGet, handlePresaleFeed(s.deps.Feed, s.deps.Balances, s.metrics, s.logger)))
		s.logger.Info("presale feed endpoint enabled")
	} else {
		s.logger.Warn("NATS not configured, presale feed disabled")
		route("/api/presale-feed", "/api/presale-feed", handleMissingConfig("NATS_URL"))
	}

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	if s.metrics != nil {
		mux.Handle("GET /metrics", promhttp.Handler())
		s.logger.Info("Prometheus metrics endpoint enabled")
	}

	return corsMiddleware(mux)
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:        s.addr,
		Handler:     s.Handler(),
		ReadTimeout: 15 * time.Second,
		// Streaming routes (chatbot, presale-feed) hold the connection open.
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("starting HTTP server", "addr", s.addr)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server failed: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

// allow answers 405 for any method other than method. OPTIONS is handled by
// corsMiddleware before reaching here.
func allow(method string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != method {
			w.Header().Set("Allow", method)
			writeError(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// corsMiddleware adds CORS headers to all responses and handles OPTIONS preflight requests.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Max-Age", "3600")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}
