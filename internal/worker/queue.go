package worker

import (
	"context"
	"encoding/json"
	"time"
)

// JobType — типы джоб оркестрации.
type JobType string

const (
	JobExecuteAction  JobType = "execute_action"
	JobRunSaga        JobType = "run_saga"
	JobResumeSaga     JobType = "resume_saga"
	JobCompensateSaga JobType = "compensate_saga"
)

// Job — единица работы в долговечной очереди.
type Job struct {
	ID           string          `json:"id"`
	Type         JobType         `json:"type"`
	Payload      json.RawMessage `json:"payload"`
	SingletonKey string          `json:"singleton_key,omitempty"` // У саги не бывает двух прогонов одновременно
	Attempts     int             `json:"attempts"`
	MaxAttempts  int             `json:"max_attempts"`
	Backoff      time.Duration   `json:"backoff"`
}

// Queue — контракт долговечной очереди. Ядру важны только семантика
// singleton-ключа и параметры ретраев; механика очереди — нет.
type Queue interface {
	// Enqueue ставит джобу. Если для (type, singleton_key) уже есть
	// живая джоба, постановка тихо игнорируется.
	Enqueue(ctx context.Context, job Job) error

	// DequeueBatch забирает пачку джоб данного типа в работу.
	DequeueBatch(ctx context.Context, jobType JobType, limit int) ([]Job, error)

	// Complete помечает джобу выполненной.
	Complete(ctx context.Context, id string) error

	// Fail возвращает джобу в очередь с бэкоффом либо хоронит ее,
	// если попытки исчерпаны.
	Fail(ctx context.Context, id string, reason string) error
}

// SagaPayload / ActionPayload — полезные нагрузки джоб.
type SagaPayload struct {
	SagaID string `json:"saga_id"`
}

type ActionPayload struct {
	ActionID string `json:"action_id"`
}

// SagaSingletonKey — ключ единственности прогона саги.
func SagaSingletonKey(sagaID string) string { return "saga:" + sagaID }

// ActionSingletonKey — ключ единственности исполнения одиночного действия.
func ActionSingletonKey(actionID string) string { return "action:" + actionID }
