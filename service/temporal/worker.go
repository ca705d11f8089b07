package temporal

import (
	"fmt"
	"log/slog"

	"github.com/brojonat/owfn/service/metrics"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
)

// WorkerConfig contains configuration for the Temporal worker.
type WorkerConfig struct {
	TemporalHost      string
	TemporalNamespace string
	TaskQueue         string

	Source    ContributionSource
	Ledger    LedgerInterface    // Optional: nil treats every contribution as new
	Publisher PublisherInterface // Optional: nil skips publishing
	Metrics   *metrics.Metrics   // Optional: if nil, no metrics will be recorded
	Logger    *slog.Logger
}

// Worker wraps a Temporal worker and provides lifecycle management.
type Worker struct {
	client client.Client
	worker worker.Worker
	logger *slog.Logger
}

// NewWorker creates and configures a new Temporal worker.
func NewWorker(config WorkerConfig) (*Worker, error) {
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.Source == nil {
		return nil, fmt.Errorf("contribution source is required")
	}

	logger := config.Logger.With("component", "temporal_worker")

	logger.Info("creating temporal worker",
		"host", config.TemporalHost,
		"namespace", config.TemporalNamespace,
		"task_queue", config.TaskQueue,
	)

	c, err := client.Dial(client.Options{
		HostPort:  config.TemporalHost,
		Namespace: config.TemporalNamespace,
		Logger:    newTemporalLogger(logger),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to temporal: %w", err)
	}

	w := worker.New(c, config.TaskQueue, worker.Options{
		MaxConcurrentActivityExecutionSize:     10,
		MaxConcurrentWorkflowTaskExecutionSize: 10,
	})

	w.RegisterWorkflow(PollPresaleWorkflow)
	logger.Info("registered workflow", "name", WorkflowName)

	activities := NewActivities(
		config.Source,
		config.Ledger,
		config.Publisher,
		config.Metrics,
		logger,
	)
	w.RegisterActivity(activities.FetchRecentContributions)
	w.RegisterActivity(activities.FilterUnrecordedContributions)
	w.RegisterActivity(activities.RecordContributions)
	w.RegisterActivity(activities.PublishContributions)

	logger.Info("registered activities",
		"activities", []string{"FetchRecentContributions", "FilterUnrecordedContributions", "PublishContributions", "RecordContributions"},
	)

	return &Worker{
		client: c,
		worker: w,
		logger: logger,
	}, nil
}

// Start begins processing workflows and activities. It blocks until the
// process is interrupted or the worker fails.
func (w *Worker) Start() error {
	w.logger.Info("starting temporal worker")
	err := w.worker.Run(worker.InterruptCh())
	if err != nil {
		w.logger.Error("worker stopped with error", "error", err)
		return fmt.Errorf("worker stopped with error: %w", err)
	}
	w.logger.Info("worker stopped gracefully")
	return nil
}

// Stop gracefully stops the worker.
func (w *Worker) Stop() {
	w.logger.Info("stopping temporal worker")
	w.worker.Stop()
	w.client.Close()
	w.logger.Info("temporal worker stopped")
}
