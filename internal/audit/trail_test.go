package audit

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// memStorage копит пачки в памяти.
type memStorage struct {
	mu      sync.Mutex
	batches [][]Event
}

func (m *memStorage) WriteBatch(ctx context.Context, events []Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	batch := make([]Event, len(events))
	copy(batch, events)
	m.batches = append(m.batches, batch)
	return nil
}

func (m *memStorage) total() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, b := range m.batches {
		n += len(b)
	}
	return n
}

func testEvent(i int) Event {
	return Event{
		ID:        fmt.Sprintf("evt-%d", i),
		TraceID:   "trace-1",
		EventType: EventActionExecuted,
		Timestamp: time.Now(),
	}
}

func TestTrailFlushesOnBatchSize(t *testing.T) {
	storage := &memStorage{}
	trail := NewTrail(storage, zap.NewNop(), 100, 3, time.Hour)
	trail.Start()

	for i := 0; i < 3; i++ {
		trail.Record(testEvent(i))
	}

	// Таймер на час: сброс мог случиться только по размеру пачки
	require.Eventually(t, func() bool { return storage.total() == 3 },
		2*time.Second, 10*time.Millisecond)

	trail.Stop()
}

func TestTrailFlushesOnInterval(t *testing.T) {
	storage := &memStorage{}
	trail := NewTrail(storage, zap.NewNop(), 100, 1000, 30*time.Millisecond)
	trail.Start()

	trail.Record(testEvent(0))
	trail.Record(testEvent(1))

	require.Eventually(t, func() bool { return storage.total() == 2 },
		2*time.Second, 10*time.Millisecond)

	trail.Stop()
}

func TestTrailDrainsOnStop(t *testing.T) {
	storage := &memStorage{}
	trail := NewTrail(storage, zap.NewNop(), 1000, 100, time.Hour)
	trail.Start()

	for i := 0; i < 42; i++ {
		trail.Record(testEvent(i))
	}
	trail.Stop()

	// Остатки буфера дописаны финальным сбросом
	require.Equal(t, 42, storage.total())
}

func TestTrailDropsAfterStop(t *testing.T) {
	storage := &memStorage{}
	trail := NewTrail(storage, zap.NewNop(), 100, 10, time.Hour)
	trail.Start()
	trail.Stop()

	// Не паникует и не пишет: вход заперт
	trail.Record(testEvent(0))
	require.Equal(t, 0, storage.total())
}

func TestTrailShedsLoadOnOverflow(t *testing.T) {
	storage := &memStorage{}
	// Воркер не запущен: буфер на 2 события заполняется и перестает принимать
	trail := NewTrail(storage, zap.NewNop(), 2, 10, time.Hour)

	for i := 0; i < 5; i++ {
		trail.Record(testEvent(i)) // Никогда не блокирует
	}

	trail.Start()
	trail.Stop()

	// Дожили только первые два события, остальные сброшены в лог
	require.Equal(t, 2, storage.total())
}

func TestTrailStampsMissingTimestamp(t *testing.T) {
	storage := &memStorage{}
	trail := NewTrail(storage, zap.NewNop(), 10, 1, time.Hour)
	trail.Start()

	trail.Record(Event{ID: "evt-x", EventType: EventSagaStarted})

	require.Eventually(t, func() bool { return storage.total() == 1 },
		2*time.Second, 10*time.Millisecond)
	trail.Stop()

	storage.mu.Lock()
	defer storage.mu.Unlock()
	require.False(t, storage.batches[0][0].Timestamp.IsZero())
}
