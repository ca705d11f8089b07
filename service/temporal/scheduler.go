package temporal

import (
	"context"
	"log/slog"
	"time"
)

// Scheduler manages the Temporal schedule that drives the presale feed.
type Scheduler interface {
	// UpsertPresaleSchedule creates the schedule, or updates its interval and
	// limit if it already exists.
	UpsertPresaleSchedule(ctx context.Context, interval time.Duration, limit int) error

	// DeletePresaleSchedule deletes the schedule, stopping the feed.
	DeletePresaleSchedule(ctx context.Context) error
}

// ScheduleID is the id of the presale feed schedule. There is one feed per
// deployment.
const ScheduleID = "poll-presale-feed"

// WorkflowName is the registered name of PollPresaleWorkflow.
const WorkflowName = "PollPresaleWorkflow"

// ReconcileSchedule makes the schedule match interval. A positive interval
// upserts it; zero or less removes it so the feed stops. A failed delete is
// only logged since the schedule may never have existed.
func ReconcileSchedule(ctx context.Context, s Scheduler, interval time.Duration, limit int, logger *slog.Logger) error {
	if interval > 0 {
		if err := s.UpsertPresaleSchedule(ctx, interval, limit); err != nil {
			return err
		}
		logger.Info("presale schedule ready", "interval", interval, "limit", limit)
		return nil
	}
	if err := s.DeletePresaleSchedule(ctx); err != nil {
		logger.Warn("presale schedule not removed", "error", err)
		return nil
	}
	logger.Info("presale feed disabled, schedule removed")
	return nil
}
