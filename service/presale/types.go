// Package presale derives presale contributions from the transaction history
// of the presale wallet and aggregates them into progress, per-user and
// per-wallet views.
//
// Totals are computed from a bounded scan of recent history (see
// PaginationPolicy). They are suitable for a progress indicator, not as an
// audit trail.
package presale

import (
	"context"
	"time"
)

// LamportsPerSOL is the number of lamports in one SOL.
const LamportsPerSOL = 1_000_000_000

// NativeTransfer is a single system-program SOL transfer inside a transaction.
type NativeTransfer struct {
	From     string `json:"from"`
	To       string `json:"to"`
	Lamports uint64 `json:"lamports"`
}

// ObservedTransaction is a source-neutral view of one transaction touching the
// presale wallet. Sources list transfers in instruction order.
type ObservedTransaction struct {
	Signature string           `json:"signature"`
	Timestamp time.Time        `json:"timestamp"`
	FeePayer  string           `json:"fee_payer"`
	Failed    bool             `json:"failed"`
	Transfers []NativeTransfer `json:"transfers"`
}

// TransactionSource returns one page of the presale wallet's history, newest
// first. before is the signature to page back from; empty means the most
// recent transactions.
type TransactionSource interface {
	FetchPage(ctx context.Context, wallet, before string, limit int) ([]ObservedTransaction, error)
}

// PageLimiter is implemented by sources that serve at most MaxPageSize
// transactions per page regardless of the requested limit.
type PageLimiter interface {
	MaxPageSize() int
}

// PresaleTransaction is a counted contribution. Identity is the signature.
type PresaleTransaction struct {
	Signature     string    `json:"signature"`
	SourceAddress string    `json:"source_address"`
	Lamports      uint64    `json:"lamports"`
	Timestamp     time.Time `json:"timestamp"`
}

// SOL returns the contribution amount in SOL.
func (t PresaleTransaction) SOL() float64 {
	return LamportsToSOL(t.Lamports)
}

// Entry is a contribution annotated with its SOL and OWFN amounts.
type Entry struct {
	PresaleTransaction
	SOL  float64    `json:"sol"`
	OWFN OWFNAmount `json:"owfn"`
}

// AggregatedContribution is the sum of one wallet's contributions.
type AggregatedContribution struct {
	Wallet           string  `json:"wallet"`
	Lamports         uint64  `json:"lamports"`
	SOL              float64 `json:"sol"`
	OWFN             float64 `json:"owfn"`
	TransactionCount int     `json:"transaction_count"`
}

// Terms are the presale economics.
type Terms struct {
	Rate               float64    `json:"rate"` // OWFN per SOL
	BonusThresholdSOL  float64    `json:"bonus_threshold_sol"`
	BonusPercentage    float64    `json:"bonus_percentage"`
	MinContributionSOL float64    `json:"min_contribution_sol"`
	MaxContributionSOL float64    `json:"max_contribution_sol"`
	StartTime          *time.Time `json:"start_time,omitempty"`
}

// PaginationPolicy bounds a history scan. A scan stops after MaxPages pages,
// once at least MaxRecords transactions have been fetched, or when a page
// returns fewer than PageSize transactions.
type PaginationPolicy struct {
	PageSize   int `json:"page_size"`
	MaxPages   int `json:"max_pages"`
	MaxRecords int `json:"max_records"`
}

// DefaultPolicy is used for any policy field left at zero.
var DefaultPolicy = PaginationPolicy{PageSize: 100, MaxPages: 10, MaxRecords: 1000}

// Stop reasons reported by Collect.
const (
	StopShortPage   = "short_page"
	StopMaxPages    = "max_pages"
	StopMaxRecords  = "max_records"
	StopBeforeStart = "before_start"
)

// Collection is the outcome of one bounded scan.
type Collection struct {
	Transactions []PresaleTransaction `json:"transactions"` // newest first
	Pages        int                  `json:"pages"`
	Scanned      int                  `json:"scanned"`
	StopReason   string               `json:"stop_reason"`
	// Approximate is set when the scan stopped on a ceiling rather than by
	// reaching the start of the relevant history.
	Approximate bool `json:"approximate"`
}

// Progress is the presale-wide total.
type Progress struct {
	Wallet        string  `json:"wallet"`
	TotalLamports uint64  `json:"total_lamports"`
	TotalSOL      float64 `json:"total_sol"`
	TotalOWFN     float64 `json:"total_owfn"`
	Contributors  int     `json:"contributors"`
	Transactions  int     `json:"transactions"`
	Approximate   bool    `json:"approximate"`
}

// UserContribution is one wallet's standing in the presale.
type UserContribution struct {
	Wallet       string  `json:"wallet"`
	Lamports     uint64  `json:"lamports"`
	SOL          float64 `json:"sol"`
	OWFN         float64 `json:"owfn"`
	Transactions []Entry `json:"transactions"`
	RemainingSOL float64 `json:"remaining_sol"`
	MeetsMinimum bool    `json:"meets_minimum"`
	// WithinCaps reports whether the total stays at or under the per-wallet
	// maximum. Caps are not enforced on chain.
	WithinCaps  bool `json:"within_caps"`
	Approximate bool `json:"approximate"`
}

// RangeStats are totals restricted to a time range.
type RangeStats struct {
	From          *time.Time `json:"from,omitempty"`
	To            *time.Time `json:"to,omitempty"`
	TotalLamports uint64     `json:"total_lamports"`
	TotalSOL      float64    `json:"total_sol"`
	TotalOWFN     float64    `json:"total_owfn"`
	Contributors  int        `json:"contributors"`
	Transactions  int        `json:"transactions"`
	Approximate   bool       `json:"approximate"`
}
