package temporal

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.temporal.io/sdk/client"
)

// Client is a production implementation of Scheduler that talks to Temporal.
type Client struct {
	client    client.Client
	taskQueue string
	logger    *slog.Logger
}

// NewClient creates a new Temporal client.
func NewClient(host, namespace, taskQueue string, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}

	logger.Info("connecting to temporal",
		"host", host,
		"namespace", namespace,
		"task_queue", taskQueue,
	)

	c, err := client.Dial(client.Options{
		HostPort:  host,
		Namespace: namespace,
		Logger:    newTemporalLogger(logger),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Temporal: %w", err)
	}

	logger.Info("connected to temporal successfully")

	return &Client{
		client:    c,
		taskQueue: taskQueue,
		logger:    logger,
	}, nil
}

// CreatePresaleSchedule creates the feed schedule.
func (c *Client) CreatePresaleSchedule(ctx context.Context, interval time.Duration, limit int) error {
	c.logger.Debug("creating presale schedule",
		"schedule_id", ScheduleID,
		"interval", interval,
		"limit", limit,
	)

	_, err := c.client.ScheduleClient().Create(ctx, client.ScheduleOptions{
		ID: ScheduleID,
		Spec: client.ScheduleSpec{
			Intervals: []client.ScheduleIntervalSpec{{Every: interval}},
		},
		Action: &client.ScheduleWorkflowAction{
			ID:        "poll-presale",
			Workflow:  WorkflowName,
			TaskQueue: c.taskQueue,
			Args:      []interface{}{PollPresaleInput{Limit: limit}},
		},
		Memo: map[string]interface{}{
			"created_by": "owfn",
		},
	})
	if err != nil {
		c.logger.Error("failed to create schedule",
			"schedule_id", ScheduleID,
			"error", err,
		)
		return fmt.Errorf("failed to create schedule %q: %w", ScheduleID, err)
	}

	c.logger.Info("presale schedule created",
		"schedule_id", ScheduleID,
		"interval", interval,
	)
	return nil
}

// UpsertPresaleSchedule creates the schedule, or updates its interval and
// workflow input if it already exists.
func (c *Client) UpsertPresaleSchedule(ctx context.Context, interval time.Duration, limit int) error {
	handle := c.client.ScheduleClient().GetHandle(ctx, ScheduleID)
	if _, err := handle.Describe(ctx); err != nil {
		c.logger.Debug("schedule not found, creating new one",
			"schedule_id", ScheduleID,
			"error", err,
		)
		return c.CreatePresaleSchedule(ctx, interval, limit)
	}

	err := handle.Update(ctx, client.ScheduleUpdateOptions{
		DoUpdate: func(input client.ScheduleUpdateInput) (*client.ScheduleUpdate, error) {
			input.Description.Schedule.Spec.Intervals = []client.ScheduleIntervalSpec{
				{Every: interval},
			}
			if action, ok := input.Description.Schedule.Action.(*client.ScheduleWorkflowAction); ok {
				action.Args = []interface{}{PollPresaleInput{Limit: limit}}
			}
			return &client.ScheduleUpdate{
				Schedule: &input.Description.Schedule,
			}, nil
		},
	})
	if err != nil {
		c.logger.Error("failed to update schedule",
			"schedule_id", ScheduleID,
			"error", err,
		)
		return fmt.Errorf("failed to update schedule %q: %w", ScheduleID, err)
	}

	c.logger.Info("presale schedule updated",
		"schedule_id", ScheduleID,
		"interval", interval,
		"limit", limit,
	)
	return nil
}

// DeletePresaleSchedule deletes the feed schedule.
func (c *Client) DeletePresaleSchedule(ctx context.Context) error {
	handle := c.client.ScheduleClient().GetHandle(ctx, ScheduleID)
	if err := handle.Delete(ctx); err != nil {
		c.logger.Error("failed to delete schedule",
			"schedule_id", ScheduleID,
			"error", err,
		)
		return fmt.Errorf("failed to delete schedule %q: %w", ScheduleID, err)
	}

	c.logger.Info("presale schedule deleted", "schedule_id", ScheduleID)
	return nil
}

// TriggerPresaleSchedule runs the feed workflow immediately.
func (c *Client) TriggerPresaleSchedule(ctx context.Context) error {
	handle := c.client.ScheduleClient().GetHandle(ctx, ScheduleID)
	if err := handle.Trigger(ctx, client.ScheduleTriggerOptions{}); err != nil {
		return fmt.Errorf("failed to trigger schedule %q: %w", ScheduleID, err)
	}
	c.logger.Info("presale schedule triggered", "schedule_id", ScheduleID)
	return nil
}

// DescribePresaleSchedule returns the feed schedule's spec and recent runs.
func (c *Client) DescribePresaleSchedule(ctx context.Context) (*client.ScheduleDescription, error) {
	handle := c.client.ScheduleClient().GetHandle(ctx, ScheduleID)
	desc, err := handle.Describe(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to describe schedule %q: %w", ScheduleID, err)
	}
	return desc, nil
}

// TaskQueue returns the configured task queue for this client.
func (c *Client) TaskQueue() string {
	return c.taskQueue
}

// Close closes the Temporal client connection.
func (c *Client) Close() {
	c.logger.Info("closing temporal client")
	c.client.Close()
}

// temporalLogger adapts slog.Logger to Temporal's logger interface.
type temporalLogger struct {
	logger *slog.Logger
}

func newTemporalLogger(logger *slog.Logger) *temporalLogger {
	return &temporalLogger{logger: logger}
}

func (l *temporalLogger) Debug(msg string, keyvals ...interface{}) {
	l.logger.Debug(msg, keyvals...)
}

func (l *temporalLogger) Info(msg string, keyvals ...interface{}) {
	l.logger.Info(msg, keyvals...)
}

func (l *temporalLogger) Warn(msg string, keyvals ...interface{}) {
	l.logger.Warn(msg, keyvals...)
}

func (l *temporalLogger) Error(msg string, keyvals ...interface{}) {
	l.logger.Error(msg, keyvals...)
}
