package audit

import "time"

// Event — одна запись аудиторского следа оркестрации.
// Ядро только эмитит события через узкий интерфейс Auditor;
// запись и чексуммы — забота внешнего слоя персистентности.
type Event struct {
	ID        string `json:"id"`       // UUID события
	TraceID   string `json:"trace_id"` // Сквозной ID прогона
	EventType string `json:"event_type"`

	// Субъекты события (что именно трогали)
	ActionID string `json:"action_id,omitempty"`
	SagaID   string `json:"saga_id,omitempty"`
	EmailID  string `json:"email_id,omitempty"`

	Description string                 `json:"description"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`

	Timestamp  time.Time `json:"timestamp"`
	DurationMs int64     `json:"duration_ms,omitempty"`
}

// Типы событий, которые эмитит ядро.
const (
	EventActionExecuted    = "action.executed"
	EventActionFailed      = "action.failed"
	EventActionDryRun      = "action.dry_run"
	EventActionInternal    = "action.internal"
	EventActionCompensated = "action.compensated"

	EventSagaStarted          = "saga.started"
	EventSagaCompleted        = "saga.completed"
	EventSagaPaused           = "saga.paused"
	EventSagaResumed          = "saga.resumed"
	EventSagaFailed           = "saga.failed"
	EventSagaCompensated      = "saga.compensated"
	EventCompensationSkipped  = "saga.compensation_skipped"
	EventCompensationFailed   = "saga.compensation_failed"
	EventApprovalSubstituted  = "saga.approval_substituted_execution"
)
