package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// Subscriber delivers contribution events to a handler until the context is
// cancelled.
type Subscriber interface {
	Subscribe(ctx context.Context, opts SubscribeOptions, handle func(*ContributionEvent) error) error
}

// SubscribeOptions selects where delivery starts.
type SubscribeOptions struct {
	// LastN replays the last N events before following new ones. Zero
	// delivers only events published after subscribing.
	LastN uint64
}

// JetStreamSubscriber reads the presale stream with ephemeral consumers.
type JetStreamSubscriber struct {
	nc     *nats.Conn
	js     jetstream.JetStream
	logger *slog.Logger
}

// NewSubscriber connects to NATS. name identifies the connection.
func NewSubscriber(natsURL, name string, logger *slog.Logger) (*JetStreamSubscriber, error) {
	nc, js, err := Connect(natsURL, name)
	if err != nil {
		return nil, err
	}
	logger.Info("NATS subscriber initialized", "url", natsURL, "name", name)
	return &JetStreamSubscriber{nc: nc, js: js, logger: logger}, nil
}

// Subscribe creates an ephemeral consumer and calls handle for each event,
// in order, until ctx is done or handle returns an error. Malformed messages
// are acked and skipped.
func (s *JetStreamSubscriber) Subscribe(ctx context.Context, opts SubscribeOptions, handle func(*ContributionEvent) error) error {
	cfg := jetstream.ConsumerConfig{
		FilterSubject: ContributionsSubject,
		AckPolicy:     jetstream.AckExplicitPolicy,
		DeliverPolicy: jetstream.DeliverNewPolicy,
	}
	if opts.LastN > 0 {
		info, err := s.streamInfo(ctx)
		if err != nil {
			return err
		}
		cfg.DeliverPolicy = jetstream.DeliverByStartSequencePolicy
		cfg.OptStartSeq = 1
		if info.State.LastSeq > opts.LastN {
			cfg.OptStartSeq = info.State.LastSeq - opts.LastN + 1
		}
	}

	cons, err := s.js.CreateOrUpdateConsumer(ctx, StreamName, cfg)
	if err != nil {
		return fmt.Errorf("failed to create consumer: %w", err)
	}

	msgs, err := cons.Messages()
	if err != nil {
		return fmt.Errorf("failed to start consuming messages: %w", err)
	}
	defer msgs.Stop()

	// Next blocks without a context; stop the iterator when ctx ends.
	go func() {
		<-ctx.Done()
		msgs.Stop()
	}()

	for {
		msg, err := msgs.Next()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("failed to read message: %w", err)
		}

		var event ContributionEvent
		if err := json.Unmarshal(msg.Data(), &event); err != nil {
			s.logger.WarnContext(ctx, "failed to unmarshal contribution event", "error", err)
			_ = msg.Ack()
			continue
		}
		if err := handle(&event); err != nil {
			_ = msg.Nak()
			return err
		}
		_ = msg.Ack()
	}
}

func (s *JetStreamSubscriber) streamInfo(ctx context.Context) (*jetstream.StreamInfo, error) {
	stream, err := s.js.Stream(ctx, StreamName)
	if err != nil {
		return nil, fmt.Errorf("failed to get stream %s: %w", StreamName, err)
	}
	info, err := stream.Info(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get stream info: %w", err)
	}
	return info, nil
}

// Close closes the connection to NATS.
func (s *JetStreamSubscriber) Close() error {
	if s.nc != nil {
		s.nc.Close()
		s.logger.Info("NATS subscriber closed")
	}
	return nil
}
