package temporal

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrScheduleNotFound is returned by MockScheduler when deleting a missing
// schedule.
var ErrScheduleNotFound = errors.New("schedule not found")

// MockScheduler is a mock implementation of Scheduler for testing.
type MockScheduler struct {
	mu        sync.Mutex
	exists    bool
	interval  time.Duration
	limit     int
	createErr error
	deleteErr error
}

// NewMockScheduler creates a new MockScheduler.
func NewMockScheduler() *MockScheduler {
	return &MockScheduler{}
}

// UpsertPresaleSchedule records the schedule.
func (m *MockScheduler) UpsertPresaleSchedule(ctx context.Context, interval time.Duration, limit int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.createErr != nil {
		return m.createErr
	}
	m.exists = true
	m.interval = interval
	m.limit = limit
	return nil
}

// DeletePresaleSchedule removes the schedule.
func (m *MockScheduler) DeletePresaleSchedule(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.deleteErr != nil {
		return m.deleteErr
	}
	if !m.exists {
		return ErrScheduleNotFound
	}
	m.exists = false
	return nil
}

// SetCreateError makes UpsertPresaleSchedule return an error.
func (m *MockScheduler) SetCreateError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.createErr = err
}

// SetDeleteError makes DeletePresaleSchedule return an error.
func (m *MockScheduler) SetDeleteError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleteErr = err
}

// Schedule returns the recorded interval and limit, and whether the schedule
// exists.
func (m *MockScheduler) Schedule() (time.Duration, int, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.interval, m.limit, m.exists
}
