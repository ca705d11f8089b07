package db

import (
	"context"
	"testing"
	"time"

	"github.com/brojonat/owfn/service/presale"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMigrationFilesOrdered(t *testing.T) {
	files, err := migrationFiles()
	require.NoError(t, err)
	assert.Equal(t, []string{"0001_social_cases.sql", "0002_presale_contributions.sql"}, files)
}

func TestMigrateIsIdempotent(t *testing.T) {
	SkipIfNoTestDB(t)

	store := NewTestStore(t)
	defer store.Close()

	require.NoError(t, Migrate(context.Background(), store.pool))
}

func TestListSocialCases(t *testing.T) {
	SkipIfNoTestDB(t)

	store := NewTestStore(t)
	defer store.Close()
	defer store.Cleanup(t)
	store.Cleanup(t)

	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	insert := `INSERT INTO social_cases (title, category, description, image_url, goal_usd, raised_usd, donor_count, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	store.MustExec(t, insert, "Clean water for Kisumu", "health", "wells", "https://img/water.png", 5000.0, 1200.5, 14, "active", now.Add(-48*time.Hour))
	store.MustExec(t, insert, "School roof", "education", "roof repair", nil, 3000.0, 3000.0, 40, "funded", now.Add(-24*time.Hour))
	store.MustExec(t, insert, "Shelter meals", "health", "", nil, 800.0, 100.0, 3, "active", now)

	t.Run("all cases newest first", func(t *testing.T) {
		cases, err := store.ListSocialCases(ctx, ListSocialCasesParams{})
		require.NoError(t, err)
		require.Len(t, cases, 3)
		assert.Equal(t, "Shelter meals", cases[0].Title)
		assert.Nil(t, cases[0].ImageURL)
		assert.Equal(t, "Clean water for Kisumu", cases[2].Title)
		require.NotNil(t, cases[2].ImageURL)
		assert.Equal(t, "https://img/water.png", *cases[2].ImageURL)
		assert.Equal(t, 14, cases[2].DonorCount)
	})

	t.Run("filter by category and status", func(t *testing.T) {
		cases, err := store.ListSocialCases(ctx, ListSocialCasesParams{Category: "health", Status: "active"})
		require.NoError(t, err)
		assert.Len(t, cases, 2)

		cases, err = store.ListSocialCases(ctx, ListSocialCasesParams{Status: "funded"})
		require.NoError(t, err)
		require.Len(t, cases, 1)
		assert.Equal(t, "School roof", cases[0].Title)
	})

	t.Run("limit", func(t *testing.T) {
		cases, err := store.ListSocialCases(ctx, ListSocialCasesParams{Limit: 1})
		require.NoError(t, err)
		assert.Len(t, cases, 1)
	})

	t.Run("totals", func(t *testing.T) {
		totals, err := store.SocialCaseTotals(ctx, nil, nil)
		require.NoError(t, err)
		assert.Equal(t, 3, totals.Cases)
		assert.InDelta(t, 4300.5, totals.RaisedUSD, 1e-9)
		assert.InDelta(t, 8800.0, totals.GoalUSD, 1e-9)
		assert.Equal(t, 57, totals.Donors)

		from := now.Add(-30 * time.Hour)
		totals, err = store.SocialCaseTotals(ctx, &from, nil)
		require.NoError(t, err)
		assert.Equal(t, 2, totals.Cases)
	})
}

func TestListSocialCases_Empty(t *testing.T) {
	SkipIfNoTestDB(t)

	store := NewTestStore(t)
	defer store.Close()
	store.Cleanup(t)

	cases, err := store.ListSocialCases(context.Background(), ListSocialCasesParams{})
	require.NoError(t, err)
	assert.NotNil(t, cases)
	assert.Empty(t, cases)
}

func TestInsertContributions(t *testing.T) {
	SkipIfNoTestDB(t)

	store := NewTestStore(t)
	defer store.Close()
	defer store.Cleanup(t)
	store.Cleanup(t)

	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)
	walletA := "DYw8jCTfwHNRJhhmFcbXvVDTqWMEVFBX6ZKUmG5CNSKK"
	walletB := "9WzDXwBbmkg8ZTbNMqUxvQRAyrZzDsGYdLVL9zYtAWWM"

	first := []presale.PresaleTransaction{
		{Signature: "sig1", SourceAddress: walletA, Lamports: 1_000_000_000, Timestamp: now.Add(-2 * time.Minute)},
		{Signature: "sig2", SourceAddress: walletB, Lamports: 2_500_000_000, Timestamp: now.Add(-time.Minute)},
	}
	inserted, err := store.InsertContributions(ctx, first)
	require.NoError(t, err)
	assert.Equal(t, first, inserted)

	t.Run("duplicates are skipped", func(t *testing.T) {
		again := []presale.PresaleTransaction{
			first[1],
			{Signature: "sig3", SourceAddress: walletA, Lamports: 500_000_000, Timestamp: now},
		}
		inserted, err := store.InsertContributions(ctx, again)
		require.NoError(t, err)
		require.Len(t, inserted, 1)
		assert.Equal(t, "sig3", inserted[0].Signature)
	})

	t.Run("empty input", func(t *testing.T) {
		inserted, err := store.InsertContributions(ctx, nil)
		require.NoError(t, err)
		assert.Empty(t, inserted)
	})

	t.Run("recorded signatures", func(t *testing.T) {
		recorded, err := store.RecordedSignatures(ctx, []string{"sig1", "sig3", "sig9"})
		require.NoError(t, err)
		assert.Equal(t, map[string]bool{"sig1": true, "sig3": true}, recorded)

		recorded, err = store.RecordedSignatures(ctx, nil)
		require.NoError(t, err)
		assert.Empty(t, recorded)
	})

	t.Run("list newest first", func(t *testing.T) {
		all, err := store.ListContributions(ctx, ListContributionsParams{})
		require.NoError(t, err)
		require.Len(t, all, 3)
		assert.Equal(t, "sig3", all[0].Signature)
		assert.Equal(t, "sig1", all[2].Signature)
		assert.Equal(t, uint64(2_500_000_000), all[1].Lamports)
		assert.WithinDuration(t, now.Add(-time.Minute), all[1].Timestamp, time.Second)
		assert.WithinDuration(t, time.Now(), all[0].RecordedAt, 10*time.Second)
	})

	t.Run("list by wallet", func(t *testing.T) {
		mine, err := store.ListContributions(ctx, ListContributionsParams{Wallet: walletA, Limit: 10})
		require.NoError(t, err)
		require.Len(t, mine, 2)
		for _, c := range mine {
			assert.Equal(t, walletA, c.SourceAddress)
		}
	})
}
