package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/xela07ax/bookflow/internal/domain"
	"github.com/xela07ax/bookflow/internal/engine"

	"go.uber.org/zap"
)

// SagaLoader / ActionLoader — что обработчикам нужно от персистентности.
type SagaLoader interface {
	GetSaga(ctx context.Context, id string) (*domain.Saga, error)
}

type ActionLoader interface {
	GetAction(ctx context.Context, id string) (*domain.ActionRecord, error)
}

// Handlers связывает джобы очереди с ядром оркестрации.
type Handlers struct {
	orchestrator *engine.Orchestrator
	dispatcher   *engine.Dispatcher
	sagas        SagaLoader
	actions      ActionLoader
	logger       *zap.Logger
}

func NewHandlers(orc *engine.Orchestrator, disp *engine.Dispatcher, sagas SagaLoader, actions ActionLoader, logger *zap.Logger) *Handlers {
	return &Handlers{
		orchestrator: orc,
		dispatcher:   disp,
		sagas:        sagas,
		actions:      actions,
		logger:       logger.Named("handlers"),
	}
}

// RegisterAll подключает все обработчики к пулу.
func (h *Handlers) RegisterAll(pool *Pool) {
	pool.Register(JobRunSaga, h.HandleRunSaga)
	pool.Register(JobResumeSaga, h.HandleResumeSaga)
	pool.Register(JobCompensateSaga, h.HandleCompensateSaga)
	pool.Register(JobExecuteAction, h.HandleExecuteAction)
}

// HandleRunSaga запускает (или продолжает после рестарта) прогон саги.
func (h *Handlers) HandleRunSaga(ctx context.Context, job Job) error {
	saga, err := h.loadSaga(ctx, job)
	if err != nil {
		return err
	}
	// Ошибки шагов не всплывают: результат читается из статуса саги
	return h.ignorePrecondition(h.orchestrator.Execute(ctx, saga))
}

// HandleResumeSaga возобновляет сагу после решения оператора.
func (h *Handlers) HandleResumeSaga(ctx context.Context, job Job) error {
	saga, err := h.loadSaga(ctx, job)
	if err != nil {
		return err
	}
	return h.ignorePrecondition(h.orchestrator.Resume(ctx, saga))
}

// HandleCompensateSaga — откат саги, отклоненной оператором.
func (h *Handlers) HandleCompensateSaga(ctx context.Context, job Job) error {
	saga, err := h.loadSaga(ctx, job)
	if err != nil {
		return err
	}
	h.orchestrator.Compensate(ctx, saga)
	return nil
}

// HandleExecuteAction исполняет одиночное действие (вне саги).
// Неуспешный диспатч НЕ роняет джобу: ретраи вызовов — дело
// resilience-слоя, а результат читается из статуса записи действия.
func (h *Handlers) HandleExecuteAction(ctx context.Context, job Job) error {
	var payload ActionPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return fmt.Errorf("malformed job payload: %w", err)
	}

	action, err := h.actions.GetAction(ctx, payload.ActionID)
	if err != nil {
		return err // Транзиентная ошибка загрузки — пусть очередь ретраит
	}

	result := h.dispatcher.Execute(ctx, action)
	if !result.Success {
		h.logger.Warn("action execution unsuccessful",
			zap.String("action_id", action.ID),
			zap.String("kind", string(result.Error.Kind)))
	}
	return nil
}

// ignorePrecondition: повторная доставка джобы для уже ушедшей вперед
// саги — не сбой, ретраить ее бессмысленно.
func (h *Handlers) ignorePrecondition(err error) error {
	if errors.Is(err, domain.ErrSagaAlreadyActive) || errors.Is(err, domain.ErrSagaNotResumable) {
		h.logger.Info("saga job skipped: state moved on", zap.Error(err))
		return nil
	}
	return err
}

func (h *Handlers) loadSaga(ctx context.Context, job Job) (*domain.Saga, error) {
	var payload SagaPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return nil, fmt.Errorf("malformed job payload: %w", err)
	}
	return h.sagas.GetSaga(ctx, payload.SagaID)
}
