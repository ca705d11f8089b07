package nats

import (
	"context"
	"sync"
)

// MockPublisher is a mock implementation of Publisher for testing. Like
// JetStream it drops events whose signature was already published.
type MockPublisher struct {
	mu              sync.RWMutex
	publishedEvents []*ContributionEvent
	seen            map[string]bool
	publishError    error
	closed          bool
}

// NewMockPublisher creates a new mock publisher for testing.
func NewMockPublisher() *MockPublisher {
	return &MockPublisher{seen: make(map[string]bool)}
}

// PublishContribution records the event and returns any configured error.
func (m *MockPublisher) PublishContribution(ctx context.Context, event *ContributionEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.publishError != nil {
		return m.publishError
	}
	if m.seen[event.Signature] {
		return nil
	}
	m.seen[event.Signature] = true
	m.publishedEvents = append(m.publishedEvents, event)
	return nil
}

// PublishContributions records the events and returns any configured error.
func (m *MockPublisher) PublishContributions(ctx context.Context, events []*ContributionEvent) (int, error) {
	n := 0
	for _, e := range events {
		if err := m.PublishContribution(ctx, e); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

// Close marks the publisher as closed.
func (m *MockPublisher) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// GetPublishedEvents returns a copy of all published events.
func (m *MockPublisher) GetPublishedEvents() []*ContributionEvent {
	m.mu.RLock()
	defer m.mu.RUnlock()

	events := make([]*ContributionEvent, len(m.publishedEvents))
	copy(events, m.publishedEvents)
	return events
}

// SetPublishError configures the mock to fail every publish.
func (m *MockPublisher) SetPublishError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.publishError = err
}

// IsClosed returns whether the publisher has been closed.
func (m *MockPublisher) IsClosed() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.closed
}

// MockSubscriber replays a fixed list of events and then blocks until the
// context is done.
type MockSubscriber struct {
	Events []*ContributionEvent
	Err    error

	mu   sync.Mutex
	opts []SubscribeOptions
}

// Subscribe delivers m.Events to handle.
func (m *MockSubscriber) Subscribe(ctx context.Context, opts SubscribeOptions, handle func(*ContributionEvent) error) error {
	m.mu.Lock()
	m.opts = append(m.opts, opts)
	m.mu.Unlock()

	if m.Err != nil {
		return m.Err
	}
	for _, e := range m.Events {
		if err := handle(e); err != nil {
			return err
		}
	}
	<-ctx.Done()
	return ctx.Err()
}

// Calls returns the options of every Subscribe call.
func (m *MockSubscriber) Calls() []SubscribeOptions {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]SubscribeOptions(nil), m.opts...)
}
