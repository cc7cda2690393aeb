package service

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/xela07ax/bookflow/internal/domain"
	"github.com/xela07ax/bookflow/internal/worker"

	"go.uber.org/zap"
)

// ApprovalRepository описывает требования сервиса к хранилищу.
type ApprovalRepository interface {
	ListPendingApprovals(ctx context.Context, limit int) ([]*domain.ActionRecord, error)
	ListAwaitingApproval(ctx context.Context, limit int) ([]*domain.Saga, error)
	DecideAction(ctx context.Context, id string, approved bool, reviewerID, comment string) (*domain.ActionRecord, error)
	GetSaga(ctx context.Context, id string) (*domain.Saga, error)
}

// DecisionQueue — очередь решений оператора: одиночные действия плюс
// саги, остановленные на approval-гейте.
type DecisionQueue struct {
	Actions []*domain.ActionRecord `json:"actions"`
	Sagas   []*domain.Saga         `json:"sagas"`
}

// ApprovalService реализует HITL-цикл: решение фиксируется в базе,
// а исполнение уходит джобой в долговечную очередь. Консоль сама
// никогда не вызывает диспетчер или оркестратор напрямую.
type ApprovalService struct {
	repo   ApprovalRepository
	queue  worker.Queue
	logger *zap.Logger
}

func NewApprovalService(repo ApprovalRepository, queue worker.Queue, logger *zap.Logger) *ApprovalService {
	return &ApprovalService{
		repo:   repo,
		queue:  queue,
		logger: logger.Named("approvals"),
	}
}

// Queue возвращает текущую очередь решений.
func (s *ApprovalService) Queue(ctx context.Context, limit int) (*DecisionQueue, error) {
	actions, err := s.repo.ListPendingApprovals(ctx, limit)
	if err != nil {
		return nil, err
	}
	sagas, err := s.repo.ListAwaitingApproval(ctx, limit)
	if err != nil {
		return nil, err
	}
	return &DecisionQueue{Actions: actions, Sagas: sagas}, nil
}

// DecideAction фиксирует решение по одиночному действию.
// Guard от Double Decision живет в хранилище (условный UPDATE);
// при одобрении исполнение ставится в очередь.
func (s *ApprovalService) DecideAction(ctx context.Context, id string, approved bool, reviewerID, comment string) (*domain.ActionRecord, error) {
	record, err := s.repo.DecideAction(ctx, id, approved, reviewerID, comment)
	if err != nil {
		return nil, err
	}

	if approved {
		payload, _ := json.Marshal(worker.ActionPayload{ActionID: record.ID})
		if err := s.queue.Enqueue(ctx, worker.Job{
			Type:         worker.JobExecuteAction,
			Payload:      payload,
			SingletonKey: worker.ActionSingletonKey(record.ID),
		}); err != nil {
			// Решение уже зафиксировано — потерянную джобу доставит оператор
			// повторным запросом, а не откат решения
			s.logger.Error("failed to enqueue approved action",
				zap.String("action_id", record.ID), zap.Error(err))
			return record, fmt.Errorf("decision recorded but execution not scheduled: %w", err)
		}
	}

	s.logger.Info("action decision recorded",
		zap.String("action_id", record.ID),
		zap.Bool("approved", approved),
		zap.String("reviewer", reviewerID))
	return record, nil
}

// DecideSaga фиксирует решение по саге на approval-гейте: одобрение
// возобновляет прогон, отказ запускает компенсацию исполненных шагов.
func (s *ApprovalService) DecideSaga(ctx context.Context, id string, approved bool, reviewerID string) (*domain.Saga, error) {
	saga, err := s.repo.GetSaga(ctx, id)
	if err != nil {
		return nil, err
	}
	if !saga.CanResume() {
		return nil, fmt.Errorf("saga %s is not awaiting approval (status=%s)", saga.ID, saga.Status)
	}

	jobType := worker.JobResumeSaga
	if !approved {
		jobType = worker.JobCompensateSaga
	}

	payload, _ := json.Marshal(worker.SagaPayload{SagaID: saga.ID})
	if err := s.queue.Enqueue(ctx, worker.Job{
		Type:         jobType,
		Payload:      payload,
		SingletonKey: worker.SagaSingletonKey(saga.ID),
	}); err != nil {
		return nil, fmt.Errorf("failed to schedule saga decision: %w", err)
	}

	s.logger.Info("saga decision recorded",
		zap.String("saga_id", saga.ID),
		zap.Bool("approved", approved),
		zap.String("reviewer", reviewerID))
	return saga, nil
}
