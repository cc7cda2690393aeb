package audit

/*
Файл trail.go реализует Trail — асинхронный накопитель аудиторского следа.

Ключевые особенности архитектуры:
- Non-blocking Logging: события уходят из Hot Path оркестрации через
  неблокирующий канал; задержки БД не влияют на время исполнения действий.
- Batching: накопление в памяти и пакетная запись (Bulk Insert) по таймеру
  или при достижении лимита пачки.
- Drain Pattern & Graceful Shutdown: при остановке канал запирается,
  воркер вычитывает остатки и делает финальный flush — события не теряются
  при перезагрузке.
- Fire-and-forget: сбой записи аудита логируется, но никогда не блокирует
  и не роняет оркестрацию.
*/

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// StorageInterface определяет, куда физически сохраняются события
type StorageInterface interface {
	// WriteBatch сохраняет пачку событий за один раз
	WriteBatch(ctx context.Context, events []Event) error
}

// Auditor — узкий интерфейс, который видит ядро.
type Auditor interface {
	Record(event Event)
}

// BufferGauge — необязательный хук для метрики заполненности буфера.
type BufferGauge interface {
	Set(float64)
}

type Trail struct {
	ch     chan Event
	repo   StorageInterface
	logger *zap.Logger
	gauge  BufferGauge
	wg     sync.WaitGroup

	batchSize     int
	flushInterval time.Duration

	// Атомарный флаг (0 - открыт, 1 - закрыт): защита от Record после Stop
	isClosed int32
}

func NewTrail(repo StorageInterface, logger *zap.Logger, bufferSize, batchSize int, flushInterval time.Duration) *Trail {
	if bufferSize <= 0 {
		bufferSize = 10000
	}
	if batchSize <= 0 {
		batchSize = 100
	}
	if flushInterval <= 0 {
		flushInterval = 500 * time.Millisecond
	}
	return &Trail{
		ch:            make(chan Event, bufferSize),
		repo:          repo,
		logger:        logger.With(zap.String("mod", "audit-trail")),
		batchSize:     batchSize,
		flushInterval: flushInterval,
	}
}

// SetGauge подключает метрику заполненности буфера (опционально).
func (t *Trail) SetGauge(g BufferGauge) { t.gauge = g }

func (t *Trail) Start() {
	t.wg.Add(1)
	go t.worker()
}

// Stop «запирает» вход в канал и ждет, пока воркер всё допишет.
func (t *Trail) Stop() {
	atomic.StoreInt32(&t.isClosed, 1)

	// Крошечная пауза, чтобы текущие Record успели проскочить
	time.Sleep(10 * time.Millisecond)

	t.logger.Info("stopping audit trail: closing channel and flushing buffer...")
	close(t.ch)
	t.wg.Wait()
	t.logger.Info("audit trail stopped gracefully")
}

// Record ставит событие в очередь. Никогда не блокирует: при переполнении
// буфера событие сбрасывается в обычный лог (Load Shedding).
func (t *Trail) Record(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	if atomic.LoadInt32(&t.isClosed) == 1 {
		t.logger.Warn("audit event dropped: trail is stopping", zap.String("id", event.ID))
		return
	}

	select {
	case t.ch <- event:
		if t.gauge != nil {
			t.gauge.Set(float64(len(t.ch)))
		}
	default:
		// Backpressure: буфер полон, фиксируем хотя бы факт события
		t.logger.Error("audit_buffer_overflow",
			zap.String("event_type", event.EventType),
			zap.String("trace_id", event.TraceID),
		)
	}
}

func (t *Trail) worker() {
	defer t.wg.Done()

	batch := make([]Event, 0, t.batchSize)
	ticker := time.NewTicker(t.flushInterval)
	defer ticker.Stop()

	flush := func() {
		if len(batch) > 0 {
			// Background: основной контекст на этапе drain уже может быть закрыт
			if err := t.repo.WriteBatch(context.Background(), batch); err != nil {
				t.logger.Error("audit flush failed", zap.Error(err))
			}
			batch = batch[:0]
		}
	}

	for {
		select {
		case event, ok := <-t.ch:
			if !ok {
				// Канал закрыт в Stop(): вычитали остатки, финальный сброс, выходим
				flush()
				t.logger.Info("audit worker finished")
				return
			}
			batch = append(batch, event)
			if len(batch) >= t.batchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}
