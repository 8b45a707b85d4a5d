package publisher

import (
	"context"
	"sync"
	"time"

	r "github.com/fjod/go_market/internal/repository"
	"github.com/segmentio/kafka-go"
)

type MockRepository struct {
	mu sync.Mutex

	OutboxEvents []*r.OutboxEvent
	GetErr       error
	MarkErr      error
	ProcessedIDs []int64

	AbandonedBefore  time.Time
	StaleNow         time.Time
	AbandonedCount   int64
	StaleCount       int64
	AbandonErr       error
	StaleErr         error
	ExpireOrderCalls int
	ExpireStaleCalls int
}

// GetUnprocessedEvents returns the queued events once, like rows that were marked processed.
func (m *MockRepository) GetUnprocessedEvents(_ context.Context, limit int) ([]*r.OutboxEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.GetErr != nil {
		return nil, m.GetErr
	}
	events := m.OutboxEvents
	if len(events) > limit {
		events = events[:limit]
	}
	m.OutboxEvents = nil
	return events, nil
}

func (m *MockRepository) MarkEventAsProcessed(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.MarkErr != nil {
		return m.MarkErr
	}
	m.ProcessedIDs = append(m.ProcessedIDs, id)
	return nil
}

func (m *MockRepository) ExpireAbandonedOrders(_ context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ExpireOrderCalls++
	m.AbandonedBefore = before
	return m.AbandonedCount, m.AbandonErr
}

func (m *MockRepository) ExpireStaleRedemptions(_ context.Context, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ExpireStaleCalls++
	m.StaleNow = now
	return m.StaleCount, m.StaleErr
}

func (m *MockRepository) Processed() []int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]int64(nil), m.ProcessedIDs...)
}

type MockWriter struct {
	mu       sync.Mutex
	Messages []kafka.Message
	// FailOn makes the write of the message with this key fail.
	FailOn string
	Err    error
	Closed bool
}

func (w *MockWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, msg := range msgs {
		if w.FailOn != "" && string(msg.Key) == w.FailOn {
			return w.Err
		}
		w.Messages = append(w.Messages, msg)
	}
	return nil
}

func (w *MockWriter) Close() error {
	w.Closed = true
	return nil
}

type MockRecorder struct {
	mu      sync.Mutex
	Pending []int
	Expired map[string]int64
}

func (m *MockRecorder) OutboxPending(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Pending = append(m.Pending, n)
}

func (m *MockRecorder) ExpiredRows(kind string, n int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Expired == nil {
		m.Expired = make(map[string]int64)
	}
	m.Expired[kind] += n
}
