package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/xela07ax/bookflow/internal/audit"
	"github.com/xela07ax/bookflow/internal/domain"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// StepDispatcher — то, что оркестратору нужно от диспетчера действий.
type StepDispatcher interface {
	Execute(ctx context.Context, a *domain.ActionRecord) domain.ActionResult
	Compensate(ctx context.Context, a *domain.ActionRecord) domain.ActionResult
}

// SagaRepository персистит сагу целиком: статус, current_step и весь
// упорядоченный список шагов атомарно (replace whole list).
type SagaRepository interface {
	SaveSaga(ctx context.Context, s *domain.Saga) error
}

// Orchestrator владеет многошаговыми планами: двигает шаги строго по
// порядку, ставит сагу на паузу перед approval-гейтом, а при сбое шага
// запускает обратную компенсацию по задекларированным откатам.
//
// Статус саги — единственный канал результата: вызывающие читают состояние,
// а не ловят ошибки (ошибку возвращают только нарушенные предусловия).
// Взаимное исключение прогонов одной саги обеспечивается снаружи
// (singleton-ключ очереди), оркестратор не полагается на блокировки.
type Orchestrator struct {
	dispatcher StepDispatcher
	repo       SagaRepository
	auditor    audit.Auditor
	metrics    *Metrics
	logger     *zap.Logger
}

func NewOrchestrator(d StepDispatcher, repo SagaRepository, auditor audit.Auditor, metrics *Metrics, logger *zap.Logger) *Orchestrator {
	return &Orchestrator{
		dispatcher: d,
		repo:       repo,
		auditor:    auditor,
		metrics:    metrics,
		logger:     logger.Named("orchestrator"),
	}
}

// Execute прогоняет сагу вперед с текущего шага.
func (o *Orchestrator) Execute(ctx context.Context, saga *domain.Saga) error {
	if !saga.CanStart() {
		return fmt.Errorf("saga %s cannot start from status %s: %w",
			saga.ID, saga.Status, domain.ErrSagaAlreadyActive)
	}

	if saga.Status == domain.SagaPending {
		now := time.Now()
		saga.StartedAt = &now
		o.record(ctx, audit.EventSagaStarted, saga, "saga execution started")
	}
	saga.Status = domain.SagaRunning
	o.save(ctx, saga)

	o.runForward(ctx, saga)
	return nil
}

// Resume возобновляет сагу после одобрения. Допустимо только из
// awaiting_approval. Одобрение засчитывается как подтверждение исполнения
// текущего шага: адаптер повторно не вызывается (наблюдаемое поведение
// источника; факт подмены фиксируется отдельным событием аудита).
func (o *Orchestrator) Resume(ctx context.Context, saga *domain.Saga) error {
	if !saga.CanResume() {
		return fmt.Errorf("saga %s: %w (status=%s)", saga.ID, domain.ErrSagaNotResumable, saga.Status)
	}
	if saga.CurrentStep >= len(saga.Steps) {
		return fmt.Errorf("saga %s: current step %d out of range", saga.ID, saga.CurrentStep)
	}

	step := &saga.Steps[saga.CurrentStep]
	now := time.Now()
	step.Status = domain.StepCompleted
	step.ExecutedAt = &now
	saga.CurrentStep++
	saga.Status = domain.SagaRunning
	o.save(ctx, saga)

	o.record(ctx, audit.EventApprovalSubstituted, saga,
		fmt.Sprintf("step %q marked completed on approval without dispatch", step.Name))
	o.record(ctx, audit.EventSagaResumed, saga, "saga resumed after approval")

	o.runForward(ctx, saga)
	return nil
}

// runForward — основной цикл: шаги строго последовательно, шаг N+1 не
// диспатчится, пока шаг N не достиг терминального пошагового статуса.
func (o *Orchestrator) runForward(ctx context.Context, saga *domain.Saga) {
	for saga.CurrentStep < len(saga.Steps) {
		step := &saga.Steps[saga.CurrentStep]

		// Approval-гейт: останавливаемся и отдаем управление;
		// возобновлением займется джоба resume_saga после решения оператора
		if step.RequiresApproval && step.Status != domain.StepCompleted {
			saga.Status = domain.SagaAwaitingApproval
			o.save(ctx, saga)
			o.metrics.SagaStepsTotal.WithLabelValues("paused").Inc()
			o.record(ctx, audit.EventSagaPaused, saga,
				fmt.Sprintf("step %q awaits operator approval", step.Name))
			return
		}

		step.Status = domain.StepExecuting
		o.save(ctx, saga)

		record := actionRecordOf(saga, step)
		result := o.dispatcher.Execute(ctx, record)

		if !result.Success {
			now := time.Now()
			step.Status = domain.StepFailed
			step.Error = result.Error.Error()
			saga.Status = domain.SagaFailed
			saga.FailedAt = &now
			saga.Error = fmt.Sprintf("step %d (%s) failed: %s", saga.CurrentStep, step.Name, step.Error)
			o.save(ctx, saga)
			o.metrics.SagaStepsTotal.WithLabelValues("failed").Inc()
			o.record(ctx, audit.EventSagaFailed, saga, saga.Error)

			// Сбой шага всегда терминален для прямого хода
			// и всегда запускает компенсацию
			o.Compensate(ctx, saga)
			return
		}

		now := time.Now()
		step.Status = domain.StepCompleted
		step.Result = result.Data
		step.ExecutedAt = &now
		if result.ExternalID != "" {
			externalID := result.ExternalID
			step.ExternalID = &externalID
		}
		saga.CurrentStep++
		o.save(ctx, saga)
		o.metrics.SagaStepsTotal.WithLabelValues("completed").Inc()
	}

	now := time.Now()
	saga.Status = domain.SagaCompleted
	saga.CompletedAt = &now
	o.save(ctx, saga)
	o.record(ctx, audit.EventSagaCompleted, saga, "all steps completed")
}

// Compensate откатывает исполненные шаги в обратном порядке от точки сбоя.
// Best-effort: сбой отката одного шага логируется, проход продолжается.
// Терминальный статус всегда compensated — количество реально откаченных
// шагов отдается в observability, на выбор статуса оно не влияет.
func (o *Orchestrator) Compensate(ctx context.Context, saga *domain.Saga) {
	saga.Status = domain.SagaCompensating
	o.save(ctx, saga)

	start := saga.CurrentStep
	if start >= len(saga.Steps) {
		start = len(saga.Steps) - 1
	}

	skipped := 0
	for i := start; i >= 0; i-- {
		step := &saga.Steps[i]

		if step.Status != domain.StepCompleted {
			continue // Еще не исполнялся либо и есть точка сбоя
		}

		// Шаги без объявленного отката и жестко необратимые пропускаются:
		// не ретраятся, не эскалируются — только ручной разбор
		if !step.Compensable() {
			skipped++
			o.metrics.CompensationsTotal.WithLabelValues("skipped").Inc()
			o.record(ctx, audit.EventCompensationSkipped, saga,
				fmt.Sprintf("step %q left as-is: reversibility=%s has_compensation=%v",
					step.Name, step.Reversibility, step.Compensation != nil))
			o.logger.Warn("compensation skipped, manual follow-up required",
				zap.String("saga_id", saga.ID),
				zap.String("step", step.Name),
				zap.String("reversibility", string(step.Reversibility)))
			continue
		}

		record := actionRecordOf(saga, step)
		record.Status = domain.ActionCompleted
		record.ExternalID = step.ExternalID

		result := o.dispatcher.Compensate(ctx, record)
		if !result.Success {
			o.record(ctx, audit.EventCompensationFailed, saga,
				fmt.Sprintf("step %q compensation failed: %s", step.Name, result.Error.Error()))
			o.logger.Error("step compensation failed, continuing with earlier steps",
				zap.String("saga_id", saga.ID),
				zap.String("step", step.Name),
				zap.Error(result.Error))
			continue
		}

		now := time.Now()
		step.Status = domain.StepCompensated
		step.CompensatedAt = &now
		if result.ExternalID != "" {
			compensationID := result.ExternalID
			step.CompensationID = &compensationID
		}
		o.save(ctx, saga)
	}

	now := time.Now()
	saga.Status = domain.SagaCompensated
	saga.CompensatedAt = &now
	o.save(ctx, saga)
	o.record(ctx, audit.EventSagaCompensated, saga,
		fmt.Sprintf("compensation pass finished: %d undone, %d skipped",
			saga.CompensatedSteps(), skipped))
}

// actionRecordOf превращает шаг саги в запись действия для диспетчера.
// Статус approved: approval-гейт саги уже пройден на уровне шага.
func actionRecordOf(saga *domain.Saga, step *domain.SagaStep) *domain.ActionRecord {
	return &domain.ActionRecord{
		ProposedAction: domain.ProposedAction{
			ID:               step.ID,
			ActionType:       step.ActionType,
			TargetSystem:     step.TargetSystem,
			Parameters:       step.Parameters,
			Reversibility:    step.Reversibility,
			Compensation:     step.Compensation,
			RequiresApproval: step.RequiresApproval,
		},
		Status:    domain.ActionApproved,
		EmailID:   saga.EmailID,
		CreatedAt: saga.CreatedAt,
		UpdatedAt: time.Now(),
	}
}

func (o *Orchestrator) save(ctx context.Context, saga *domain.Saga) {
	saga.UpdatedAt = time.Now()
	if o.repo == nil {
		return
	}
	if err := o.repo.SaveSaga(ctx, saga); err != nil {
		o.logger.Error("failed to persist saga",
			zap.String("saga_id", saga.ID), zap.Error(err))
	}
}

func (o *Orchestrator) record(ctx context.Context, eventType string, saga *domain.Saga, description string) {
	if o.auditor == nil {
		return
	}
	o.auditor.Record(audit.Event{
		ID:          uuid.New().String(),
		TraceID:     ExtractTraceID(ctx),
		EventType:   eventType,
		SagaID:      saga.ID,
		EmailID:     saga.EmailID,
		Description: description,
		Metadata: map[string]interface{}{
			"status":       string(saga.Status),
			"current_step": saga.CurrentStep,
			"total_steps":  len(saga.Steps),
		},
		Timestamp: time.Now(),
	})
}
