package temporal

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/brojonat/owfn/service/metrics"
	natspkg "github.com/brojonat/owfn/service/nats"
	"github.com/brojonat/owfn/service/presale"
)

// PollPresaleInput contains the input parameters for one feed tick.
type PollPresaleInput struct {
	// Limit bounds how many of the newest contributions are considered.
	Limit int `json:"limit"`
}

// PollPresaleResult summarizes one feed tick.
type PollPresaleResult struct {
	Fetched         int       `json:"fetched"`
	Recorded        int       `json:"recorded"`
	Published       int       `json:"published"`
	NewestSignature *string   `json:"newest_signature,omitempty"`
	PollTime        time.Time `json:"poll_time"`
	Error           *string   `json:"error,omitempty"`
}

// FetchRecentContributionsInput contains parameters for FetchRecentContributions.
type FetchRecentContributionsInput struct {
	Limit int `json:"limit"`
}

// FetchRecentContributionsResult holds the newest contributions, newest first.
type FetchRecentContributionsResult struct {
	Entries []presale.Entry `json:"entries"`
}

// FilterUnrecordedInput contains parameters for FilterUnrecordedContributions.
type FilterUnrecordedInput struct {
	Entries []presale.Entry `json:"entries"`
}

// FilterUnrecordedResult holds the entries the ledger has not seen yet.
type FilterUnrecordedResult struct {
	New     []presale.Entry `json:"new"`
	Skipped int             `json:"skipped"`
}

// RecordContributionsInput contains parameters for RecordContributions.
type RecordContributionsInput struct {
	Entries []presale.Entry `json:"entries"`
}

// RecordContributionsResult holds the entries that were not yet in the ledger.
type RecordContributionsResult struct {
	New     []presale.Entry `json:"new"`
	Skipped int             `json:"skipped"`
}

// PublishContributionsInput contains parameters for PublishContributions.
type PublishContributionsInput struct {
	Entries []presale.Entry `json:"entries"`
}

// PublishContributionsResult contains the result of publishing.
type PublishContributionsResult struct {
	Published int `json:"published"`
}

// ContributionSource is satisfied by *presale.Aggregator.
type ContributionSource interface {
	Recent(ctx context.Context, limit int) ([]presale.Entry, error)
}

// LedgerInterface is satisfied by *db.Store.
type LedgerInterface interface {
	RecordedSignatures(ctx context.Context, signatures []string) (map[string]bool, error)
	InsertContributions(ctx context.Context, txs []presale.PresaleTransaction) ([]presale.PresaleTransaction, error)
}

// PublisherInterface defines the NATS publishing operations needed by activities.
type PublisherInterface interface {
	PublishContributions(ctx context.Context, events []*natspkg.ContributionEvent) (int, error)
}

// Activities holds the dependencies needed by Temporal activities.
type Activities struct {
	source    ContributionSource
	ledger    LedgerInterface
	publisher PublisherInterface
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

// NewActivities creates a new Activities instance. A nil ledger treats every
// fetched contribution as new; JetStream's duplicate window then drops the
// ones already published.
func NewActivities(
	source ContributionSource,
	ledger LedgerInterface,
	publisher PublisherInterface,
	m *metrics.Metrics,
	logger *slog.Logger,
) *Activities {
	if logger == nil {
		logger = slog.Default()
	}
	return &Activities{
		source:    source,
		ledger:    ledger,
		publisher: publisher,
		metrics:   m,
		logger:    logger,
	}
}

// FetchRecentContributions reads the newest presale contributions from chain.
func (a *Activities) FetchRecentContributions(ctx context.Context, input FetchRecentContributionsInput) (*FetchRecentContributionsResult, error) {
	defer a.observe("FetchRecentContributions", time.Now())

	entries, err := a.source.Recent(ctx, input.Limit)
	if err != nil {
		a.logger.ErrorContext(ctx, "failed to fetch recent contributions",
			"limit", input.Limit,
			"error", err,
		)
		return nil, fmt.Errorf("failed to fetch recent contributions: %w", err)
	}

	a.logger.InfoContext(ctx, "fetched recent contributions", "count", len(entries))
	a.count("fetched", len(entries))
	return &FetchRecentContributionsResult{Entries: entries}, nil
}

// FilterUnrecordedContributions drops entries already in the ledger,
// preserving order. It writes nothing; entries are recorded only once they
// have been published.
func (a *Activities) FilterUnrecordedContributions(ctx context.Context, input FilterUnrecordedInput) (*FilterUnrecordedResult, error) {
	defer a.observe("FilterUnrecordedContributions", time.Now())

	if a.ledger == nil {
		return &FilterUnrecordedResult{New: input.Entries}, nil
	}

	sigs := make([]string, len(input.Entries))
	for i, e := range input.Entries {
		sigs[i] = e.Signature
	}
	recorded, err := a.ledger.RecordedSignatures(ctx, sigs)
	if err != nil {
		a.logger.ErrorContext(ctx, "failed to look up recorded contributions",
			"count", len(sigs),
			"error", err,
		)
		return nil, fmt.Errorf("failed to look up recorded contributions: %w", err)
	}

	result := &FilterUnrecordedResult{New: []presale.Entry{}}
	for _, e := range input.Entries {
		if recorded[e.Signature] {
			result.Skipped++
			continue
		}
		result.New = append(result.New, e)
	}

	a.logger.InfoContext(ctx, "filtered recorded contributions",
		"new", len(result.New),
		"skipped", result.Skipped,
	)
	return result, nil
}

// RecordContributions writes entries to the ledger and returns those that
// were not already recorded, preserving order.
func (a *Activities) RecordContributions(ctx context.Context, input RecordContributionsInput) (*RecordContributionsResult, error) {
	defer a.observe("RecordContributions", time.Now())

	if a.ledger == nil {
		a.count("recorded", len(input.Entries))
		return &RecordContributionsResult{New: input.Entries}, nil
	}

	txs := make([]presale.PresaleTransaction, len(input.Entries))
	for i, e := range input.Entries {
		txs[i] = e.PresaleTransaction
	}

	inserted, err := a.ledger.InsertContributions(ctx, txs)
	if err != nil {
		a.logger.ErrorContext(ctx, "failed to record contributions",
			"count", len(txs),
			"error", err,
		)
		return nil, fmt.Errorf("failed to record contributions: %w", err)
	}

	isNew := make(map[string]bool, len(inserted))
	for _, tx := range inserted {
		isNew[tx.Signature] = true
	}
	result := &RecordContributionsResult{New: []presale.Entry{}}
	for _, e := range input.Entries {
		if isNew[e.Signature] {
			result.New = append(result.New, e)
		} else {
			result.Skipped++
		}
	}

	a.logger.InfoContext(ctx, "recorded contributions",
		"new", len(result.New),
		"skipped", result.Skipped,
	)
	a.count("recorded", len(result.New))
	return result, nil
}

// PublishContributions publishes entries to the presale feed, oldest first so
// subscribers see them in chain order.
func (a *Activities) PublishContributions(ctx context.Context, input PublishContributionsInput) (*PublishContributionsResult, error) {
	defer a.observe("PublishContributions", time.Now())

	if a.publisher == nil {
		a.logger.WarnContext(ctx, "no publisher configured, skipping publish", "count", len(input.Entries))
		return &PublishContributionsResult{}, nil
	}

	events := make([]*natspkg.ContributionEvent, 0, len(input.Entries))
	for i := len(input.Entries) - 1; i >= 0; i-- {
		events = append(events, natspkg.FromEntry(input.Entries[i]))
	}

	published, err := a.publisher.PublishContributions(ctx, events)
	if err != nil {
		a.logger.ErrorContext(ctx, "failed to publish contributions",
			"count", len(events),
			"published", published,
			"error", err,
		)
		return nil, fmt.Errorf("failed to publish contributions: %w", err)
	}

	a.logger.InfoContext(ctx, "published contributions", "count", published)
	a.count("published", published)
	return &PublishContributionsResult{Published: published}, nil
}

func (a *Activities) observe(activity string, start time.Time) {
	if a.metrics != nil {
		a.metrics.RecordActivityDuration(activity, time.Since(start).Seconds())
	}
}

func (a *Activities) count(stage string, n int) {
	if a.metrics != nil {
		a.metrics.RecordFeedContributions(stage, n)
	}
}
