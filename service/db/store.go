package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/brojonat/owfn/service/metrics"
	"github.com/brojonat/owfn/service/presale"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store provides database operations for the service.
type Store struct {
	pool    *pgxpool.Pool
	metrics *metrics.Metrics
}

// NewStore creates a new Store with the given database connection pool.
// m may be nil.
func NewStore(pool *pgxpool.Pool, m *metrics.Metrics) *Store {
	return &Store{pool: pool, metrics: m}
}

// SocialCase is a donation case.
type SocialCase struct {
	ID          int64     `json:"id"`
	Title       string    `json:"title"`
	Category    string    `json:"category"`
	Description string    `json:"description"`
	ImageURL    *string   `json:"image_url"`
	GoalUSD     float64   `json:"goal_usd"`
	RaisedUSD   float64   `json:"raised_usd"`
	DonorCount  int       `json:"donor_count"`
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// ListSocialCasesParams filters ListSocialCases. Zero values match everything.
type ListSocialCasesParams struct {
	Category string
	Status   string
	Limit    int32
}

// SocialCaseTotals summarizes donation cases.
type SocialCaseTotals struct {
	Cases     int     `json:"cases"`
	GoalUSD   float64 `json:"goal_usd"`
	RaisedUSD float64 `json:"raised_usd"`
	Donors    int     `json:"donors"`
}

// Contribution is a ledger row.
type Contribution struct {
	presale.PresaleTransaction
	RecordedAt time.Time `json:"recorded_at"`
}

// ListContributionsParams filters ListContributions. An empty Wallet lists
// every contributor.
type ListContributionsParams struct {
	Wallet string
	Limit  int32
}

const socialCaseColumns = `id, title, category, description, image_url, goal_usd, raised_usd, donor_count, status, created_at, updated_at`

// ListSocialCases returns donation cases, newest first.
func (s *Store) ListSocialCases(ctx context.Context, params ListSocialCasesParams) ([]*SocialCase, error) {
	limit := params.Limit
	if limit <= 0 {
		limit = 100
	}

	start := time.Now()
	rows, err := s.pool.Query(ctx, `
		SELECT `+socialCaseColumns+`
		FROM social_cases
		WHERE ($1 = '' OR category = $1)
		  AND ($2 = '' OR status = $2)
		ORDER BY created_at DESC, id DESC
		LIMIT $3`,
		params.Category, params.Status, limit,
	)
	if err != nil {
		s.record("select", "social_cases", start, err)
		return nil, fmt.Errorf("failed to list social cases: %w", err)
	}

	cases, err := pgx.CollectRows(rows, scanSocialCase)
	s.record("select", "social_cases", start, err)
	if err != nil {
		return nil, fmt.Errorf("failed to scan social cases: %w", err)
	}
	if cases == nil {
		cases = []*SocialCase{}
	}
	return cases, nil
}

// SocialCaseTotals sums cases created within [from, to]. Nil bounds are open.
func (s *Store) SocialCaseTotals(ctx context.Context, from, to *time.Time) (*SocialCaseTotals, error) {
	start := time.Now()
	var totals SocialCaseTotals
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*), COALESCE(SUM(goal_usd), 0), COALESCE(SUM(raised_usd), 0), COALESCE(SUM(donor_count), 0)
		FROM social_cases
		WHERE ($1::timestamptz IS NULL OR created_at >= $1)
		  AND ($2::timestamptz IS NULL OR created_at <= $2)`,
		timestamptz(from), timestamptz(to),
	).Scan(&totals.Cases, &totals.GoalUSD, &totals.RaisedUSD, &totals.Donors)
	s.record("aggregate", "social_cases", start, err)
	if err != nil {
		return nil, fmt.Errorf("failed to total social cases: %w", err)
	}
	return &totals, nil
}

// InsertContributions records contributions and returns the ones that were
// not already in the ledger, in input order.
func (s *Store) InsertContributions(ctx context.Context, txs []presale.PresaleTransaction) ([]presale.PresaleTransaction, error) {
	inserted := []presale.PresaleTransaction{}
	if len(txs) == 0 {
		return inserted, nil
	}

	start := time.Now()
	batch := &pgx.Batch{}
	for _, tx := range txs {
		batch.Queue(`
			INSERT INTO presale_contributions (signature, source_address, lamports, block_time)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (signature) DO NOTHING
			RETURNING signature`,
			tx.Signature, tx.SourceAddress, int64(tx.Lamports), tx.Timestamp,
		)
	}

	results := s.pool.SendBatch(ctx, batch)
	var batchErr error
	for _, tx := range txs {
		var sig string
		err := results.QueryRow().Scan(&sig)
		if errors.Is(err, pgx.ErrNoRows) {
			continue
		}
		if err != nil {
			batchErr = fmt.Errorf("failed to insert contribution %s: %w", tx.Signature, err)
			break
		}
		inserted = append(inserted, tx)
	}
	if err := results.Close(); err != nil && batchErr == nil {
		batchErr = fmt.Errorf("failed to insert contributions: %w", err)
	}
	s.record("insert", "presale_contributions", start, batchErr)
	if batchErr != nil {
		return nil, batchErr
	}
	return inserted, nil
}

// RecordedSignatures reports which of signatures are already in the ledger.
func (s *Store) RecordedSignatures(ctx context.Context, signatures []string) (map[string]bool, error) {
	recorded := make(map[string]bool)
	if len(signatures) == 0 {
		return recorded, nil
	}

	start := time.Now()
	rows, err := s.pool.Query(ctx, `
		SELECT signature
		FROM presale_contributions
		WHERE signature = ANY($1)`,
		signatures,
	)
	if err != nil {
		s.record("select", "presale_contributions", start, err)
		return nil, fmt.Errorf("failed to look up contributions: %w", err)
	}

	sigs, err := pgx.CollectRows(rows, pgx.RowTo[string])
	s.record("select", "presale_contributions", start, err)
	if err != nil {
		return nil, fmt.Errorf("failed to scan contributions: %w", err)
	}
	for _, sig := range sigs {
		recorded[sig] = true
	}
	return recorded, nil
}

// ListContributions returns ledger rows, newest block time first.
func (s *Store) ListContributions(ctx context.Context, params ListContributionsParams) ([]*Contribution, error) {
	limit := params.Limit
	if limit <= 0 {
		limit = 100
	}

	start := time.Now()
	rows, err := s.pool.Query(ctx, `
		SELECT signature, source_address, lamports, block_time, recorded_at
		FROM presale_contributions
		WHERE ($1 = '' OR source_address = $1)
		ORDER BY block_time DESC, signature
		LIMIT $2`,
		params.Wallet, limit,
	)
	if err != nil {
		s.record("select", "presale_contributions", start, err)
		return nil, fmt.Errorf("failed to list contributions: %w", err)
	}

	contributions, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (*Contribution, error) {
		var (
			c        Contribution
			lamports int64
		)
		if err := row.Scan(&c.Signature, &c.SourceAddress, &lamports, &c.Timestamp, &c.RecordedAt); err != nil {
			return nil, err
		}
		c.Lamports = uint64(lamports)
		return &c, nil
	})
	s.record("select", "presale_contributions", start, err)
	if err != nil {
		return nil, fmt.Errorf("failed to scan contributions: %w", err)
	}
	if contributions == nil {
		contributions = []*Contribution{}
	}
	return contributions, nil
}

func scanSocialCase(row pgx.CollectableRow) (*SocialCase, error) {
	var (
		c        SocialCase
		imageURL pgtype.Text
	)
	err := row.Scan(
		&c.ID, &c.Title, &c.Category, &c.Description, &imageURL,
		&c.GoalUSD, &c.RaisedUSD, &c.DonorCount, &c.Status,
		&c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	c.ImageURL = stringPtrFromPgtext(imageURL)
	return &c, nil
}

func (s *Store) record(op, table string, start time.Time, err error) {
	if s.metrics != nil {
		s.metrics.RecordDBQuery(op, table, time.Since(start).Seconds(), err)
	}
}

func timestamptz(t *time.Time) pgtype.Timestamptz {
	if t == nil {
		return pgtype.Timestamptz{Valid: false}
	}
	return pgtype.Timestamptz{Time: *t, Valid: true}
}

func stringPtrFromPgtext(t pgtype.Text) *string {
	if !t.Valid {
		return nil
	}
	return &t.String
}
