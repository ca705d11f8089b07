package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/brojonat/owfn/service/chat"
	"github.com/brojonat/owfn/service/db"
	"github.com/brojonat/owfn/service/solana"
	"github.com/brojonat/owfn/service/upstream"
	"github.com/brojonat/owfn/service/wallet"
	solanago "github.com/gagliardetto/solana-go"
)

const (
	maxRequestBodySize = 1 << 20 // 1MB
	maxAddressLength   = 100     // Solana addresses are at most 44 chars
	maxBatchAddresses  = 100
	defaultRecentLimit = 20
	maxRecentLimit     = 100
	maxSocialCases     = 500
	dateParamLayout    = "2006-01-02"
)

var (
	// Valid Solana address characters: base58 (no 0, O, I, l)
	validAddressRegex = regexp.MustCompile(`^[1-9A-HJ-NP-Za-km-z]+$`)
)

// handleWalletBalances returns a handler for one wallet's priced holdings.
// GET /api/wallet-balances?walletAddress=ADDRESS
func handleWalletBalances(balances BalanceService, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		address := strings.TrimSpace(r.URL.Query().Get("walletAddress"))
		if err := validateAddress(address); err != nil {
			logger.DebugContext(r.Context(), "invalid address", "address", address, "error", err)
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		tokens, err := balances.Balances(r.Context(), address)
		if err != nil {
			logger.ErrorContext(r.Context(), "failed to fetch wallet balances", "address", address, "error", err)
			writeServiceError(w, err, "HELIUS_API_KEY", "failed to fetch wallet balances")
			return
		}

		logger.DebugContext(r.Context(), "wallet balances resolved", "address", address, "tokens", len(tokens))
		writeJSON(w, walletBalancesResponse{WalletAddress: address, Tokens: tokens}, http.StatusOK)
	})
}

type walletBalancesResponse struct {
	WalletAddress string         `json:"wallet_address"`
	Tokens        []wallet.Token `json:"tokens"`
}

// handleInvalidateBalances drops a wallet's cached balances.
// POST /api/wallet-balances/invalidate {"walletAddress": "..."}
func handleInvalidateBalances(balances BalanceService, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			WalletAddress string `json:"walletAddress"`
		}
		if !decodeBody(w, r, logger, &req) {
			return
		}
		if err := validateAddress(req.WalletAddress); err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		if err := balances.Invalidate(r.Context(), req.WalletAddress); err != nil {
			logger.ErrorContext(r.Context(), "failed to invalidate balances", "address", req.WalletAddress, "error", err)
			writeError(w, "failed to invalidate cached balances", http.StatusInternalServerError)
			return
		}

		logger.InfoContext(r.Context(), "wallet balances invalidated", "address", req.WalletAddress)
		w.WriteHeader(http.StatusNoContent)
	})
}

// handleBatchWalletBalances resolves many wallets at once. Every distinct
// address appears in balances; failed ones are empty and listed in errors.
// POST /api/batch-wallet-balances {"addresses": ["..."]}
func handleBatchWalletBalances(balances BalanceService, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Addresses []string `json:"addresses"`
		}
		if !decodeBody(w, r, logger, &req) {
			return
		}
		if len(req.Addresses) == 0 {
			writeError(w, "addresses must be a non-empty array", http.StatusBadRequest)
			return
		}
		if len(req.Addresses) > maxBatchAddresses {
			writeError(w, fmt.Sprintf("at most %d addresses are accepted", maxBatchAddresses), http.StatusBadRequest)
			return
		}
		addresses := make([]string, len(req.Addresses))
		for i, a := range req.Addresses {
			a = strings.TrimSpace(a)
			if err := validateAddress(a); err != nil {
				writeError(w, fmt.Sprintf("addresses[%d]: %v", i, err), http.StatusBadRequest)
				return
			}
			addresses[i] = a
		}

		results, errs := balances.BatchBalances(r.Context(), addresses)

		resp := batchBalancesResponse{
			Balances: results,
			Errors:   make(map[string]string, len(errs)),
		}
		for addr, err := range errs {
			logger.WarnContext(r.Context(), "wallet balance degraded to empty", "address", addr, "error", err)
			resp.Errors[addr] = errorMessage(err, "HELIUS_API_KEY", "failed to fetch wallet balances")
		}

		logger.DebugContext(r.Context(), "batch balances resolved", "wallets", len(results), "failed", len(errs))
		writeJSON(w, resp, http.StatusOK)
	})
}

type batchBalancesResponse struct {
	Balances map[string][]wallet.Token `json:"balances"`
	Errors   map[string]string         `json:"errors"`
}

// handlePresaleInfo serves the presale views.
// GET /api/presale-info?mode=progress|user|transactions|admin-all[&wallet=ADDRESS][&limit=N]
func handlePresaleInfo(svc PresaleService, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query()
		mode := query.Get("mode")
		if mode == "" {
			mode = "progress"
		}

		var (
			resp any
			err  error
		)
		switch mode {
		case "progress":
			resp, err = svc.Progress(r.Context())

		case "user":
			address := strings.TrimSpace(query.Get("wallet"))
			if verr := validateAddress(address); verr != nil {
				writeError(w, "wallet: "+verr.Error(), http.StatusBadRequest)
				return
			}
			resp, err = svc.UserContribution(r.Context(), address)

		case "transactions":
			limit, verr := parseLimit(query.Get("limit"), defaultRecentLimit, maxRecentLimit)
			if verr != nil {
				writeError(w, verr.Error(), http.StatusBadRequest)
				return
			}
			var entries any
			entries, err = svc.Recent(r.Context(), limit)
			resp = map[string]any{"transactions": entries, "limit": limit}

		case "admin-all":
			var all any
			all, err = svc.AllContributions(r.Context())
			resp = map[string]any{"contributions": all}

		default:
			writeError(w, "invalid mode: must be one of progress, user, transactions, admin-all", http.StatusBadRequest)
			return
		}

		if err != nil {
			logger.ErrorContext(r.Context(), "failed to load presale info", "mode", mode, "error", err)
			writeServiceError(w, err, "HELIUS_API_KEY", "failed to load presale info")
			return
		}
		writeJSON(w, resp, http.StatusOK)
	})
}

// handleTokenInfo returns on-chain and market data for a mint.
// GET /api/token-info?mint=ADDRESS
func handleTokenInfo(tokens TokenInfoService, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mint := strings.TrimSpace(r.URL.Query().Get("mint"))
		if err := validateAddress(mint); err != nil {
			writeError(w, "mint: "+err.Error(), http.StatusBadRequest)
			return
		}

		info, err := tokens.TokenInfo(r.Context(), mint)
		switch {
		case errors.Is(err, solana.ErrAccountNotFound):
			writeError(w, "mint not found", http.StatusNotFound)
			return
		case errors.Is(err, solana.ErrNotMint):
			writeError(w, "address is not a token mint", http.StatusBadRequest)
			return
		case err != nil:
			logger.ErrorContext(r.Context(), "failed to fetch token info", "mint", mint, "error", err)
			writeServiceError(w, err, "QUICKNODE_RPC_URL", "failed to fetch token info")
			return
		}
		writeJSON(w, info, http.StatusOK)
	})
}

// handleSocialCases lists donation cases.
// GET /api/social-cases[?category=C][&status=S][&limit=N]
func handleSocialCases(store SocialCaseStore, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query()
		limit, err := parseLimit(query.Get("limit"), 100, maxSocialCases)
		if err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}
		status := query.Get("status")
		if status != "" && status != "active" && status != "funded" && status != "closed" {
			writeError(w, "invalid status: must be active, funded or closed", http.StatusBadRequest)
			return
		}

		cases, err := store.ListSocialCases(r.Context(), db.ListSocialCasesParams{
			Category: query.Get("category"),
			Status:   status,
			Limit:    int32(limit),
		})
		if err != nil {
			logger.ErrorContext(r.Context(), "failed to list social cases", "error", err)
			writeError(w, "failed to list social cases", http.StatusInternalServerError)
			return
		}

		writeJSON(w, map[string]any{
			"cases": cases,
			"count": len(cases),
		}, http.StatusOK)
	})
}

// handleStats returns presale and donation figures, optionally for a range
// of whole days.
// GET /api/stats[?from=YYYY-MM-DD&to=YYYY-MM-DD]
func handleStats(stats chat.StatsProvider, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		dr, err := parseDateRange(r.URL.Query().Get("from"), r.URL.Query().Get("to"))
		if err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		s, err := stats.Stats(r.Context(), dr)
		if err != nil {
			logger.ErrorContext(r.Context(), "failed to collect stats", "range", dr.String(), "error", err)
			writeServiceError(w, err, "HELIUS_API_KEY", "failed to collect stats")
			return
		}
		writeJSON(w, s, http.StatusOK)
	})
}

// handleMissingConfig answers every request with the static configuration
// error for key.
func handleMissingConfig(key string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, configErrorMessage(key), http.StatusInternalServerError)
	})
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, data interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(map[string]string{
		"error": message,
	})
}

// writeServiceError maps a service error to a 500. A missing key yields the
// static configuration message; an upstream status is folded into the
// message; anything else gets fallback.
func writeServiceError(w http.ResponseWriter, err error, key, fallback string) {
	writeError(w, errorMessage(err, key, fallback), http.StatusInternalServerError)
}

func errorMessage(err error, key, fallback string) string {
	if errors.Is(err, upstream.ErrNotConfigured) {
		return configErrorMessage(key)
	}
	var ue *upstream.Error
	if errors.As(err, &ue) {
		return ue.Error()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fallback + ": upstream timed out"
	}
	return fallback
}

func configErrorMessage(key string) string {
	return "server configuration error: " + key + " is not set"
}

// decodeBody decodes a size-limited JSON body into v, writing a 400 and
// returning false on failure.
func decodeBody(w http.ResponseWriter, r *http.Request, logger *slog.Logger, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		logger.DebugContext(r.Context(), "failed to decode request", "error", err)
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, "request body too large: maximum size is 1MB", http.StatusBadRequest)
			return false
		}
		writeError(w, "invalid request body: must be valid JSON", http.StatusBadRequest)
		return false
	}
	return true
}

// validateAddress validates a Solana address for format and safety.
func validateAddress(address string) error {
	if address == "" {
		return errorf("address is required")
	}

	if len(address) > maxAddressLength {
		return errorf("address too long: maximum length is %d characters", maxAddressLength)
	}

	for _, r := range address {
		if r == 0 || unicode.IsControl(r) {
			return errorf("invalid characters in address: control characters not allowed")
		}
	}

	if !validAddressRegex.MatchString(address) {
		return errorf("invalid address format: must contain only valid base58 characters")
	}

	if _, err := solanago.PublicKeyFromBase58(address); err != nil {
		return errorf("invalid address: not a 32-byte public key")
	}

	return nil
}

// parseLimit parses an optional positive integer bounded by max.
func parseLimit(raw string, def, max int) (int, error) {
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errorf("invalid limit parameter: must be an integer")
	}
	if n < 1 {
		return 0, errorf("limit must be at least 1")
	}
	if n > max {
		return 0, errorf("limit cannot exceed %d", max)
	}
	return n, nil
}

// parseDateRange parses optional from/to days. Both or neither must be set.
func parseDateRange(from, to string) (*chat.DateRange, error) {
	if from == "" && to == "" {
		return nil, nil
	}
	if from == "" || to == "" {
		return nil, errorf("from and to must be given together")
	}
	f, err := time.Parse(dateParamLayout, from)
	if err != nil {
		return nil, errorf("invalid from: must be YYYY-MM-DD")
	}
	t, err := time.Parse(dateParamLayout, to)
	if err != nil {
		return nil, errorf("invalid to: must be YYYY-MM-DD")
	}
	if t.Before(f) {
		return nil, errorf("to must not be before from")
	}
	return &chat.DateRange{From: f, To: t.Add(24*time.Hour - time.Nanosecond)}, nil
}

// errorf is a helper to format error strings.
func errorf(format string, args ...interface{}) error {
	return &validationError{msg: strings.TrimSpace(fmt.Sprintf(format, args...))}
}

type validationError struct {
	msg string
}

func (e *validationError) Error() string {
	return e.msg
}
