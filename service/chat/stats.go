package chat

import (
	"context"
	"fmt"
	"time"

	"github.com/brojonat/owfn/service/db"
	"github.com/brojonat/owfn/service/presale"
	"golang.org/x/sync/errgroup"
)

// Stats are the live figures injected into the system prompt and served by
// the stats route.
type Stats struct {
	Range               *DateRange `json:"range,omitempty"`
	PresaleSOL          float64    `json:"presale_sol"`
	PresaleOWFN         float64    `json:"presale_owfn"`
	PresaleContributors int        `json:"presale_contributors"`
	PresaleTransactions int        `json:"presale_transactions"`
	DonationCases       int        `json:"donation_cases"`
	DonationsUSD        float64    `json:"donations_usd"`
	Donors              int        `json:"donors"`
	// Approximate is set when presale totals come from a bounded scan that
	// hit a ceiling.
	Approximate bool `json:"approximate"`
	// Fallback marks the placeholder used when live figures are unavailable.
	Fallback bool `json:"fallback"`
}

// FallbackStats is used when live figures cannot be fetched. All figures are
// zero; the prompt tells the model they are unavailable.
func FallbackStats() Stats {
	return Stats{Fallback: true}
}

// StatsProvider returns live figures, optionally scoped to a date range.
type StatsProvider interface {
	Stats(ctx context.Context, r *DateRange) (*Stats, error)
}

// PresaleStats is satisfied by *presale.Aggregator.
type PresaleStats interface {
	Stats(ctx context.Context, from, to *time.Time) (*presale.RangeStats, error)
}

// DonationStats is satisfied by *db.Store.
type DonationStats interface {
	SocialCaseTotals(ctx context.Context, from, to *time.Time) (*db.SocialCaseTotals, error)
}

// Collector gathers presale and donation figures concurrently. A nil
// DonationStats reports zero donations.
type Collector struct {
	presale   PresaleStats
	donations DonationStats
}

// NewCollector creates a Collector.
func NewCollector(p PresaleStats, d DonationStats) *Collector {
	return &Collector{presale: p, donations: d}
}

// Stats fetches both sources; either failing fails the call.
func (c *Collector) Stats(ctx context.Context, r *DateRange) (*Stats, error) {
	var from, to *time.Time
	if r != nil {
		from, to = &r.From, &r.To
	}

	var (
		ps     *presale.RangeStats
		totals *db.SocialCaseTotals
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		if ps, err = c.presale.Stats(gctx, from, to); err != nil {
			return fmt.Errorf("presale stats: %w", err)
		}
		return nil
	})
	if c.donations != nil {
		g.Go(func() error {
			var err error
			if totals, err = c.donations.SocialCaseTotals(gctx, from, to); err != nil {
				return fmt.Errorf("donation stats: %w", err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	s := &Stats{
		Range:               r,
		PresaleSOL:          ps.TotalSOL,
		PresaleOWFN:         ps.TotalOWFN,
		PresaleContributors: ps.Contributors,
		PresaleTransactions: ps.Transactions,
		Approximate:         ps.Approximate,
	}
	if totals != nil {
		s.DonationCases = totals.Cases
		s.DonationsUSD = totals.RaisedUSD
		s.Donors = totals.Donors
	}
	return s, nil
}
