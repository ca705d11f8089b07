package temporal

import (
	"fmt"
	"time"

	temporalsdk "go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"
)

// DefaultFeedLimit is how many of the newest contributions a tick considers
// when the input doesn't say.
const DefaultFeedLimit = 50

var a *Activities // for type-safe activity invocation

// PollPresaleWorkflow is triggered by a Temporal schedule every
// PRESALE_FEED_INTERVAL. It:
//  1. fetches the newest presale contributions (FetchRecentContributions)
//  2. drops the ones the ledger already holds (FilterUnrecordedContributions)
//  3. publishes the rest to JetStream (PublishContributions)
//  4. writes the published ones to the ledger (RecordContributions)
//
// A failed publish records nothing, so the next tick publishes the same
// contributions again; JetStream drops any that already went out.
func PollPresaleWorkflow(ctx workflow.Context, input PollPresaleInput) (*PollPresaleResult, error) {
	logger := workflow.GetLogger(ctx)

	limit := input.Limit
	if limit <= 0 {
		limit = DefaultFeedLimit
	}
	logger.Info("PollPresaleWorkflow started", "limit", limit)

	result := &PollPresaleResult{PollTime: workflow.Now(ctx)}
	fail := func(step string, err error) (*PollPresaleResult, error) {
		msg := fmt.Sprintf("failed to %s: %v", step, err)
		result.Error = &msg
		return result, fmt.Errorf("failed to %s: %w", step, err)
	}

	ctx = workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 120 * time.Second,
		RetryPolicy: &temporalsdk.RetryPolicy{
			InitialInterval:    time.Second,
			BackoffCoefficient: 2.0,
			MaximumInterval:    30 * time.Second,
			MaximumAttempts:    3,
		},
	})

	var fetched *FetchRecentContributionsResult
	err := workflow.ExecuteActivity(ctx, a.FetchRecentContributions, FetchRecentContributionsInput{Limit: limit}).Get(ctx, &fetched)
	if err != nil {
		logger.Error("failed to fetch contributions", "error", err)
		return fail("fetch contributions", err)
	}

	result.Fetched = len(fetched.Entries)
	if result.Fetched == 0 {
		logger.Info("no contributions found")
		return result, nil
	}
	newest := fetched.Entries[0].Signature
	result.NewestSignature = &newest

	var unrecorded *FilterUnrecordedResult
	err = workflow.ExecuteActivity(ctx, a.FilterUnrecordedContributions, FilterUnrecordedInput{Entries: fetched.Entries}).Get(ctx, &unrecorded)
	if err != nil {
		logger.Error("failed to filter contributions", "error", err)
		return fail("filter contributions", err)
	}
	if len(unrecorded.New) == 0 {
		logger.Info("no new contributions", "skipped", unrecorded.Skipped)
		return result, nil
	}

	var published *PublishContributionsResult
	err = workflow.ExecuteActivity(ctx, a.PublishContributions, PublishContributionsInput{Entries: unrecorded.New}).Get(ctx, &published)
	if err != nil {
		logger.Error("failed to publish contributions", "error", err)
		return fail("publish contributions", err)
	}
	result.Published = published.Published

	var recorded *RecordContributionsResult
	err = workflow.ExecuteActivity(ctx, a.RecordContributions, RecordContributionsInput{Entries: unrecorded.New}).Get(ctx, &recorded)
	if err != nil {
		logger.Error("failed to record contributions", "error", err)
		return fail("record contributions", err)
	}
	result.Recorded = len(recorded.New)

	logger.Info("PollPresaleWorkflow completed",
		"fetched", result.Fetched,
		"recorded", result.Recorded,
		"published", result.Published,
	)
	return result, nil
}
