package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/xela07ax/bookflow/internal/audit"
	"github.com/xela07ax/bookflow/internal/domain"
	"github.com/xela07ax/bookflow/internal/risk"
	"github.com/xela07ax/bookflow/internal/worker"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// SagaRepository — персистентность саг и след аудита для инспекции.
type SagaRepository interface {
	GetSaga(ctx context.Context, id string) (*domain.Saga, error)
	SaveSaga(ctx context.Context, s *domain.Saga) error
	ListBySaga(ctx context.Context, sagaID string, limit int) ([]audit.Event, error)
}

// PolicyProvider отдает актуальный движок риска (кэш политики).
type PolicyProvider interface {
	Engine() *risk.Engine
}

// SagaView — сага вместе с ее следом аудита (что сделано, что пропущено).
type SagaView struct {
	Saga  *domain.Saga  `json:"saga"`
	Trail []audit.Event `json:"trail"`
}

// PlanRequest — план действий, поданный на исполнение.
type PlanRequest struct {
	EmailID                string                  `json:"email_id"`
	ClientID               string                  `json:"client_id,omitempty"`
	VendorTransactionCount *int                    `json:"vendor_transaction_count,omitempty"`
	ExtractionConfidence   *float64                `json:"extraction_confidence,omitempty"`
	Actions                []domain.ProposedAction `json:"actions"`
}

// PlanResponse — результат подачи плана: итог валидации и созданная сага.
type PlanResponse struct {
	Validation domain.ValidationResult `json:"validation"`
	SagaID     string                  `json:"saga_id,omitempty"`
}

// SagaService — подача планов на исполнение и инспекция прогонов.
type SagaService struct {
	repo     SagaRepository
	queue    worker.Queue
	policies PolicyProvider
	logger   *zap.Logger
}

func NewSagaService(repo SagaRepository, queue worker.Queue, policies PolicyProvider, logger *zap.Logger) *SagaService {
	return &SagaService{
		repo:     repo,
		queue:    queue,
		policies: policies,
		logger:   logger.Named("sagas"),
	}
}

// Inspect возвращает сагу вместе со следом аудита.
func (s *SagaService) Inspect(ctx context.Context, id string) (*SagaView, error) {
	saga, err := s.repo.GetSaga(ctx, id)
	if err != nil {
		return nil, err
	}
	trail, err := s.repo.ListBySaga(ctx, id, 0)
	if err != nil {
		return nil, err
	}
	return &SagaView{Saga: saga, Trail: trail}, nil
}

// SubmitPlan валидирует план против политики риска, собирает сагу и
// ставит ее прогон в очередь. Невалидный план (strict mode) дальше
// валидации не проходит: сага не создается вовсе.
func (s *SagaService) SubmitPlan(ctx context.Context, req PlanRequest) (*PlanResponse, error) {
	if len(req.Actions) == 0 {
		return nil, fmt.Errorf("plan contains no actions")
	}

	eng := s.policies.Engine()
	actx := assessContextOf(req)

	validation := eng.ValidatePlan(req.Actions, actx)
	if !validation.Valid {
		return &PlanResponse{Validation: validation}, nil
	}

	saga := &domain.Saga{
		ID:        uuid.New().String(),
		EmailID:   req.EmailID,
		Status:    domain.SagaPending,
		Steps:     make([]domain.SagaStep, 0, len(req.Actions)),
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}

	for i, action := range req.Actions {
		if action.ID == "" {
			action.ID = uuid.New().String()
		}
		// Оценка каждого действия определяет, нужен ли шагу approval-гейт
		assessment := eng.Assess(action.ActionType, action.Parameters, actx)

		saga.Steps = append(saga.Steps, domain.SagaStep{
			ID:               action.ID,
			Name:             fmt.Sprintf("step-%d-%s", i+1, action.ActionType),
			ActionType:       action.ActionType,
			TargetSystem:     action.TargetSystem,
			Parameters:       action.Parameters,
			Compensation:     action.Compensation,
			Reversibility:    action.Reversibility,
			RequiresApproval: action.RequiresApproval || assessment.RequiresApproval,
			Status:           domain.StepPending,
		})
	}
	saga.TotalSteps = len(saga.Steps)

	if err := s.repo.SaveSaga(ctx, saga); err != nil {
		return nil, fmt.Errorf("failed to persist saga: %w", err)
	}

	payload, _ := json.Marshal(worker.SagaPayload{SagaID: saga.ID})
	if err := s.queue.Enqueue(ctx, worker.Job{
		Type:         worker.JobRunSaga,
		Payload:      payload,
		SingletonKey: worker.SagaSingletonKey(saga.ID),
	}); err != nil {
		return nil, fmt.Errorf("saga persisted but run not scheduled: %w", err)
	}

	s.logger.Info("plan accepted",
		zap.String("saga_id", saga.ID),
		zap.String("email_id", saga.EmailID),
		zap.Int("steps", saga.TotalSteps),
		zap.String("risk_level", string(validation.RiskLevel)))

	return &PlanResponse{Validation: validation, SagaID: saga.ID}, nil
}

func assessContextOf(req PlanRequest) domain.AssessContext {
	actx := domain.AssessContext{
		VendorTransactionCount: req.VendorTransactionCount,
		ExtractionConfidence:   req.ExtractionConfidence,
	}
	if req.ClientID != "" {
		actx.Client = &domain.Client{ID: req.ClientID}
	}
	return actx
}
