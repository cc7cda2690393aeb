package domain

import (
	"errors"
	"time"
)

// SagaStatus — статусы State Machine саги.
type SagaStatus string

const (
	SagaPending          SagaStatus = "pending"
	SagaRunning          SagaStatus = "running"
	SagaAwaitingApproval SagaStatus = "awaiting_approval"
	SagaCompleted        SagaStatus = "completed"
	SagaFailed           SagaStatus = "failed" // Транзитный статус: после failed всегда идет компенсация
	SagaCompensating     SagaStatus = "compensating"
	SagaCompensated      SagaStatus = "compensated"
)

// StepStatus — статусы отдельного шага внутри саги.
type StepStatus string

const (
	StepPending     StepStatus = "pending"
	StepExecuting   StepStatus = "executing"
	StepCompleted   StepStatus = "completed"
	StepFailed      StepStatus = "failed"
	StepCompensated StepStatus = "compensated"
)

var (
	ErrSagaNotResumable  = errors.New("saga is not awaiting approval")
	ErrSagaAlreadyActive = errors.New("saga execution already started")
)

// SagaStep — один шаг плана. Шаги адресуются только по индексу:
// сага владеет всем списком и заменяет его целиком при каждой мутации.
type SagaStep struct {
	ID               string                 `json:"id"`
	Name             string                 `json:"name"`
	ActionType       string                 `json:"action_type"`
	TargetSystem     string                 `json:"target_system"`
	Parameters       map[string]interface{} `json:"parameters"`
	Compensation     *CompensationSpec      `json:"compensation,omitempty"`
	Reversibility    Reversibility          `json:"reversibility"`
	RequiresApproval bool                   `json:"requires_approval"`

	Status         StepStatus             `json:"status"`
	Result         map[string]interface{} `json:"result,omitempty"`
	ExternalID     *string                `json:"external_id,omitempty"`
	Error          string                 `json:"error,omitempty"`
	ExecutedAt     *time.Time             `json:"executed_at,omitempty"`
	CompensatedAt  *time.Time             `json:"compensated_at,omitempty"`
	CompensationID *string                `json:"compensation_id,omitempty"`
}

// Compensable — шаг подлежит откату: он завершился, откат объявлен
// и шаг не является жестко необратимым.
func (s *SagaStep) Compensable() bool {
	return s.Status == StepCompleted &&
		s.Compensation != nil &&
		s.Reversibility != ReversibilityHardIrreversible
}

// Saga создается планировщиком; на время прогона ею монопольно владеет
// оркестратор (single-writer обеспечивается singleton-ключом очереди).
type Saga struct {
	ID          string     `json:"id"`
	EmailID     string     `json:"email_id"`
	Status      SagaStatus `json:"status"`
	CurrentStep int        `json:"current_step"`
	TotalSteps  int        `json:"total_steps"`
	Steps       []SagaStep `json:"steps"`

	StartedAt     *time.Time `json:"started_at,omitempty"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
	FailedAt      *time.Time `json:"failed_at,omitempty"`
	CompensatedAt *time.Time `json:"compensated_at,omitempty"`
	Error         string     `json:"error,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// CanStart — исполнение начинается из pending либо продолжается из running
// (повторная доставка джобы после рестарта воркера).
func (s *Saga) CanStart() bool {
	return s.Status == SagaPending || s.Status == SagaRunning
}

// CanResume — возобновление допустимо только из awaiting_approval.
func (s *Saga) CanResume() bool {
	return s.Status == SagaAwaitingApproval
}

// CompensatedSteps возвращает количество фактически откаченных шагов.
// Используется для observability, не для выбора терминального статуса.
func (s *Saga) CompensatedSteps() int {
	n := 0
	for i := range s.Steps {
		if s.Steps[i].Status == StepCompensated {
			n++
		}
	}
	return n
}
