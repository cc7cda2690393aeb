package worker

import (
	"context"
	"sync"
	"time"

	"github.com/xela07ax/bookflow/internal/engine"

	"go.uber.org/zap"
)

// Handler обрабатывает одну джобу до конца (без кооперативной приостановки).
type Handler func(ctx context.Context, job Job) error

// Config — параметры пула воркеров.
type Config struct {
	Workers      int
	PollInterval time.Duration
	BatchSize    int
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 2
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 2 * time.Second
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 10
	}
	return c
}

// Pool — небольшой пул воркеров, опрашивающих очередь с фиксированным
// интервалом. Каждая джоба обрабатывается до завершения, и только потом
// воркер берет следующую из пачки. Саги разных писем крутятся параллельно
// на разных воркерах; единственность прогона одной саги обеспечивает
// singleton-ключ очереди, не пул.
type Pool struct {
	queue    Queue
	handlers map[JobType]Handler
	order    []JobType // Порядок опроса типов фиксирован
	cfg      Config
	logger   *zap.Logger
	wg       sync.WaitGroup
}

func NewPool(queue Queue, cfg Config, logger *zap.Logger) *Pool {
	return &Pool{
		queue:    queue,
		handlers: make(map[JobType]Handler),
		cfg:      cfg.withDefaults(),
		logger:   logger.Named("worker-pool"),
	}
}

// Register привязывает обработчик к типу джобы (до Start).
func (p *Pool) Register(jobType JobType, h Handler) {
	p.handlers[jobType] = h
	p.order = append(p.order, jobType)
}

// Start запускает воркеров; останавливаются они по отмене контекста.
func (p *Pool) Start(ctx context.Context) {
	for i := 0; i < p.cfg.Workers; i++ {
		p.wg.Add(1)
		go p.worker(ctx, i)
	}
	p.logger.Info("worker pool started",
		zap.Int("workers", p.cfg.Workers),
		zap.Duration("poll_interval", p.cfg.PollInterval))
}

// Wait блокируется до полной остановки всех воркеров.
func (p *Pool) Wait() {
	p.wg.Wait()
}

func (p *Pool) worker(ctx context.Context, n int) {
	defer p.wg.Done()
	log := p.logger.With(zap.Int("worker", n))

	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("worker stopped")
			return
		case <-ticker.C:
			p.drainOnce(ctx, log)
		}
	}
}

// drainOnce забирает и обрабатывает по одной пачке каждого типа.
func (p *Pool) drainOnce(ctx context.Context, log *zap.Logger) {
	for _, jobType := range p.order {
		handler := p.handlers[jobType]

		jobs, err := p.queue.DequeueBatch(ctx, jobType, p.cfg.BatchSize)
		if err != nil {
			if ctx.Err() == nil {
				log.Error("dequeue failed", zap.String("job_type", string(jobType)), zap.Error(err))
			}
			continue
		}

		for _, job := range jobs {
			p.process(ctx, log, handler, job)
		}
	}
}

func (p *Pool) process(ctx context.Context, log *zap.Logger, handler Handler, job Job) {
	// Каждая джоба — отдельный trace
	jobCtx := engine.WithTraceID(ctx, "")
	start := time.Now()

	if err := handler(jobCtx, job); err != nil {
		log.Warn("job failed",
			zap.String("job_id", job.ID),
			zap.String("job_type", string(job.Type)),
			zap.Int("attempts", job.Attempts),
			zap.Error(err))
		if qErr := p.queue.Fail(ctx, job.ID, err.Error()); qErr != nil {
			log.Error("failed to mark job failed", zap.String("job_id", job.ID), zap.Error(qErr))
		}
		return
	}

	if err := p.queue.Complete(ctx, job.ID); err != nil {
		log.Error("failed to mark job complete", zap.String("job_id", job.ID), zap.Error(err))
		return
	}
	log.Debug("job done",
		zap.String("job_id", job.ID),
		zap.String("job_type", string(job.Type)),
		zap.Duration("took", time.Since(start)))
}
