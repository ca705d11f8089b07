package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/brojonat/owfn/service/metrics"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// Publisher publishes presale contribution events.
type Publisher interface {
	// PublishContribution publishes one event. The signature is used as the
	// JetStream message id, so repeats inside the duplicate window are dropped
	// by the server.
	PublishContribution(ctx context.Context, event *ContributionEvent) error

	// PublishContributions publishes events in order and returns how many
	// were accepted. A failed event is logged and skipped.
	PublishContributions(ctx context.Context, events []*ContributionEvent) (int, error)

	Close() error
}

const (
	// StreamName is the JetStream stream holding presale events.
	StreamName = "PRESALE"

	// StreamSubjects is the subject pattern for the stream.
	StreamSubjects = "presale.>"

	// ContributionsSubject carries ContributionEvent messages.
	ContributionsSubject = "presale.contributions"

	// StreamRetention is how long messages are retained.
	StreamRetention = 7 * 24 * time.Hour

	// DuplicateWindow is how long JetStream remembers message ids.
	DuplicateWindow = 24 * time.Hour
)

// Connect dials NATS with the reconnect settings shared by publishers and
// subscribers.
func Connect(natsURL, name string) (*nats.Conn, jetstream.JetStream, error) {
	nc, err := nats.Connect(natsURL,
		nats.Name(name),
		nats.Timeout(10*time.Second),
		nats.ReconnectWait(1*time.Second),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}
	return nc, js, nil
}

// JetStreamPublisher publishes contribution events to NATS JetStream.
type JetStreamPublisher struct {
	nc      *nats.Conn
	js      jetstream.JetStream
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewPublisher connects to NATS and ensures the stream exists.
func NewPublisher(natsURL string, logger *slog.Logger, m *metrics.Metrics) (*JetStreamPublisher, error) {
	nc, js, err := Connect(natsURL, "owfn-publisher")
	if err != nil {
		return nil, err
	}

	publisher := &JetStreamPublisher{
		nc:      nc,
		js:      js,
		logger:  logger,
		metrics: m,
	}

	if err := EnsureStream(context.Background(), js, logger); err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to ensure stream exists: %w", err)
	}

	logger.Info("NATS publisher initialized",
		"url", natsURL,
		"stream", StreamName,
	)

	return publisher, nil
}

// EnsureStream creates the presale stream if it doesn't exist.
func EnsureStream(ctx context.Context, js jetstream.JetStream, logger *slog.Logger) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	stream, err := js.Stream(ctx, StreamName)
	if err == nil {
		if info, err := stream.Info(ctx); err == nil {
			logger.Debug("JetStream stream already exists",
				"stream", StreamName,
				"messages", info.State.Msgs,
			)
		}
		return nil
	}

	logger.Info("creating JetStream stream", "stream", StreamName)

	_, err = js.CreateStream(ctx, jetstream.StreamConfig{
		Name:        StreamName,
		Description: "OWFN presale contribution events",
		Subjects:    []string{StreamSubjects},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      StreamRetention,
		Duplicates:  DuplicateWindow,
		Storage:     jetstream.FileStorage,
		Replicas:    1,
	})
	if err != nil {
		return fmt.Errorf("failed to create stream: %w", err)
	}

	logger.Info("JetStream stream created", "stream", StreamName)
	return nil
}

// PublishContribution publishes a single event.
func (p *JetStreamPublisher) PublishContribution(ctx context.Context, event *ContributionEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal contribution event: %w", err)
	}

	start := time.Now()
	ack, err := p.js.Publish(ctx, ContributionsSubject, data, jetstream.WithMsgID(event.Signature))
	status := "success"
	switch {
	case err != nil:
		status = "error"
	case ack.Duplicate:
		status = "duplicate"
	}
	if p.metrics != nil {
		p.metrics.RecordNATSPublish(ContributionsSubject, status, time.Since(start).Seconds())
	}
	if err != nil {
		return fmt.Errorf("failed to publish contribution: %w", err)
	}

	p.logger.Debug("published contribution event",
		"subject", ContributionsSubject,
		"signature", event.Signature,
		"source", event.Source,
		"duplicate", ack.Duplicate,
	)

	return nil
}

// PublishContributions publishes events one by one. Every event is attempted;
// if any fail, the returned error counts them so the caller can retry the
// batch. Events that did go out are dropped as duplicates on the retry.
func (p *JetStreamPublisher) PublishContributions(ctx context.Context, events []*ContributionEvent) (int, error) {
	published, failed := 0, 0
	var lastErr error
	for _, event := range events {
		if err := p.PublishContribution(ctx, event); err != nil {
			p.logger.Error("failed to publish contribution in batch",
				"signature", event.Signature,
				"error", err,
			)
			if ctx.Err() != nil {
				return published, ctx.Err()
			}
			failed++
			lastErr = err
			continue
		}
		published++
	}

	p.logger.Debug("published contribution batch",
		"count", len(events),
		"published", published,
		"failed", failed,
	)
	if failed > 0 {
		return published, fmt.Errorf("failed to publish %d of %d contributions: %w", failed, len(events), lastErr)
	}
	return published, nil
}

// Close closes the connection to NATS.
func (p *JetStreamPublisher) Close() error {
	if p.nc != nil {
		p.nc.Close()
		p.logger.Info("NATS publisher closed")
	}
	return nil
}
