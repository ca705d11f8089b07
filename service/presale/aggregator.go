package presale

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/brojonat/owfn/service/metrics"
)

// Config configures an Aggregator.
type Config struct {
	Wallet        string
	Terms         Terms
	Policy        PaginationPolicy
	RequireSigner bool
	SourceName    string // label for metrics and logs ("helius", "rpc")
}

// Aggregator scans the presale wallet's history and builds contribution views.
// Each call performs a fresh scan; nothing is cached between calls.
type Aggregator struct {
	source  TransactionSource
	cfg     Config
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewAggregator creates an aggregator. m may be nil.
func NewAggregator(source TransactionSource, cfg Config, logger *slog.Logger, m *metrics.Metrics) *Aggregator {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Policy.PageSize <= 0 {
		cfg.Policy.PageSize = DefaultPolicy.PageSize
	}
	if cfg.Policy.MaxPages <= 0 {
		cfg.Policy.MaxPages = DefaultPolicy.MaxPages
	}
	if cfg.Policy.MaxRecords <= 0 {
		cfg.Policy.MaxRecords = DefaultPolicy.MaxRecords
	}
	// A page size above the source's cap would make every full page look
	// short and end the scan after the first one.
	if pl, ok := source.(PageLimiter); ok {
		if limit := pl.MaxPageSize(); limit > 0 && cfg.Policy.PageSize > limit {
			logger.Warn("page size exceeds source limit, clamping",
				"source", cfg.SourceName,
				"requested", cfg.Policy.PageSize,
				"max", limit,
			)
			cfg.Policy.PageSize = limit
		}
	}
	return &Aggregator{
		source:  source,
		cfg:     cfg,
		logger:  logger,
		metrics: m,
	}
}

// Collect pages through the wallet history under the pagination policy and
// returns the counted contributions, newest first. Any fetch error aborts the
// scan and nothing collected so far is returned.
func (a *Aggregator) Collect(ctx context.Context) (*Collection, error) {
	policy := a.cfg.Policy
	start := a.cfg.Terms.StartTime

	var (
		observed   []ObservedTransaction
		before     string
		pages      int
		stopReason string
	)

	for {
		page, err := a.source.FetchPage(ctx, a.cfg.Wallet, before, policy.PageSize)
		if err != nil {
			a.logger.ErrorContext(ctx, "failed to fetch presale history page",
				"wallet", a.cfg.Wallet,
				"page", pages+1,
				"before", before,
				"error", err,
			)
			return nil, fmt.Errorf("failed to fetch presale history: %w", err)
		}
		pages++
		observed = append(observed, page...)

		if len(page) < policy.PageSize {
			stopReason = StopShortPage
			break
		}
		if start != nil && page[len(page)-1].Timestamp.Before(*start) {
			stopReason = StopBeforeStart
			break
		}
		if len(observed) >= policy.MaxRecords {
			stopReason = StopMaxRecords
			break
		}
		if pages >= policy.MaxPages {
			stopReason = StopMaxPages
			break
		}
		before = page[len(page)-1].Signature
	}

	txs := dedupe(FilterContributions(observed, a.cfg.Wallet, start, a.cfg.RequireSigner))

	if a.metrics != nil {
		a.metrics.RecordPresaleScan(a.cfg.SourceName, stopReason, pages)
		a.metrics.RecordPresaleFilter(len(txs), len(observed)-len(txs))
	}

	a.logger.DebugContext(ctx, "presale history scanned",
		"wallet", a.cfg.Wallet,
		"pages", pages,
		"scanned", len(observed),
		"contributions", len(txs),
		"stop_reason", stopReason,
	)

	return &Collection{
		Transactions: txs,
		Pages:        pages,
		Scanned:      len(observed),
		StopReason:   stopReason,
		Approximate:  stopReason == StopMaxPages || stopReason == StopMaxRecords,
	}, nil
}

// Progress returns the presale-wide totals.
func (a *Aggregator) Progress(ctx context.Context) (*Progress, error) {
	col, err := a.Collect(ctx)
	if err != nil {
		return nil, err
	}

	contributions := Aggregate(col.Transactions, a.cfg.Terms)
	p := &Progress{
		Wallet:       a.cfg.Wallet,
		Contributors: len(contributions),
		Transactions: len(col.Transactions),
		Approximate:  col.Approximate,
	}
	for _, c := range contributions {
		p.TotalLamports += c.Lamports
		p.TotalOWFN += c.OWFN
	}
	p.TotalSOL = LamportsToSOL(p.TotalLamports)
	return p, nil
}

// UserContribution returns a single wallet's contributions and its standing
// against the per-wallet caps.
func (a *Aggregator) UserContribution(ctx context.Context, wallet string) (*UserContribution, error) {
	col, err := a.Collect(ctx)
	if err != nil {
		return nil, err
	}

	uc := &UserContribution{
		Wallet:       wallet,
		Transactions: []Entry{},
		Approximate:  col.Approximate,
	}
	for _, tx := range col.Transactions {
		if tx.SourceAddress != wallet {
			continue
		}
		e := a.entry(tx)
		uc.Lamports += tx.Lamports
		uc.OWFN += e.OWFN.Total
		uc.Transactions = append(uc.Transactions, e)
	}

	uc.SOL = LamportsToSOL(uc.Lamports)
	terms := a.cfg.Terms
	uc.RemainingSOL = terms.MaxContributionSOL - uc.SOL
	if uc.RemainingSOL < 0 {
		uc.RemainingSOL = 0
	}
	uc.MeetsMinimum = uc.SOL >= terms.MinContributionSOL
	uc.WithinCaps = uc.SOL <= terms.MaxContributionSOL
	return uc, nil
}

// Recent returns up to limit of the newest contributions.
func (a *Aggregator) Recent(ctx context.Context, limit int) ([]Entry, error) {
	col, err := a.Collect(ctx)
	if err != nil {
		return nil, err
	}

	txs := col.Transactions
	if limit > 0 && len(txs) > limit {
		txs = txs[:limit]
	}
	entries := make([]Entry, len(txs))
	for i, tx := range txs {
		entries[i] = a.entry(tx)
	}
	return entries, nil
}

// AllContributions returns every contributing wallet, largest first.
func (a *Aggregator) AllContributions(ctx context.Context) ([]AggregatedContribution, error) {
	col, err := a.Collect(ctx)
	if err != nil {
		return nil, err
	}
	return Aggregate(col.Transactions, a.cfg.Terms), nil
}

// Stats returns totals for contributions made within [from, to]. Either
// bound may be nil.
func (a *Aggregator) Stats(ctx context.Context, from, to *time.Time) (*RangeStats, error) {
	col, err := a.Collect(ctx)
	if err != nil {
		return nil, err
	}

	var inRange []PresaleTransaction
	for _, tx := range col.Transactions {
		if from != nil && tx.Timestamp.Before(*from) {
			continue
		}
		if to != nil && tx.Timestamp.After(*to) {
			continue
		}
		inRange = append(inRange, tx)
	}

	contributions := Aggregate(inRange, a.cfg.Terms)
	s := &RangeStats{
		From:         from,
		To:           to,
		Contributors: len(contributions),
		Transactions: len(inRange),
		Approximate:  col.Approximate,
	}
	for _, c := range contributions {
		s.TotalLamports += c.Lamports
		s.TotalOWFN += c.OWFN
	}
	s.TotalSOL = LamportsToSOL(s.TotalLamports)
	return s, nil
}

func (a *Aggregator) entry(tx PresaleTransaction) Entry {
	return Entry{
		PresaleTransaction: tx,
		SOL:                tx.SOL(),
		OWFN:               CalculateOWFNLamports(tx.Lamports, a.cfg.Terms),
	}
}

// Aggregate sums contributions per source wallet. The bonus is evaluated per
// contribution. Results are sorted by lamports descending, then wallet.
func Aggregate(txs []PresaleTransaction, terms Terms) []AggregatedContribution {
	byWallet := make(map[string]*AggregatedContribution)
	for _, tx := range txs {
		c, ok := byWallet[tx.SourceAddress]
		if !ok {
			c = &AggregatedContribution{Wallet: tx.SourceAddress}
			byWallet[tx.SourceAddress] = c
		}
		c.Lamports += tx.Lamports
		c.OWFN += CalculateOWFNLamports(tx.Lamports, terms).Total
		c.TransactionCount++
	}

	out := make([]AggregatedContribution, 0, len(byWallet))
	for _, c := range byWallet {
		c.SOL = LamportsToSOL(c.Lamports)
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Lamports != out[j].Lamports {
			return out[i].Lamports > out[j].Lamports
		}
		return out[i].Wallet < out[j].Wallet
	})
	return out
}

func dedupe(txs []PresaleTransaction) []PresaleTransaction {
	seen := make(map[string]struct{}, len(txs))
	out := txs[:0]
	for _, tx := range txs {
		if _, ok := seen[tx.Signature]; ok {
			continue
		}
		seen[tx.Signature] = struct{}{}
		out = append(out, tx)
	}
	return out
}
