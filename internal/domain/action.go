package domain

import "time"

// Reversibility классифицирует, насколько шаг можно откатить.
type Reversibility string

const (
	ReversibilityFull             Reversibility = "full"              // Полностью обратимо
	ReversibilityCompensate       Reversibility = "compensate"        // Обратимо через компенсирующее действие
	ReversibilitySoftIrreversible Reversibility = "soft_irreversible" // Откат возможен, но с побочными эффектами
	ReversibilityHardIrreversible Reversibility = "hard_irreversible" // Откат невозможен (деньги ушли)
)

// ActionStatus — статусы State Machine жизненного цикла действия.
type ActionStatus string

const (
	ActionPending     ActionStatus = "pending"
	ActionApproved    ActionStatus = "approved"
	ActionRejected    ActionStatus = "rejected"
	ActionExecuting   ActionStatus = "executing"
	ActionCompleted   ActionStatus = "completed"
	ActionFailed      ActionStatus = "failed"
	ActionCompensated ActionStatus = "compensated"
)

// CompensationSpec — явно объявленное контрдействие для отката шага.
type CompensationSpec struct {
	ActionType string                 `json:"action_type"`
	Parameters map[string]interface{} `json:"parameters,omitempty"`
}

// ProposedAction создается планировщиком (выше по конвейеру) и неизменяем после создания.
type ProposedAction struct {
	ID               string                 `json:"id"` // UUID
	ActionType       string                 `json:"action_type"`   // e.g. "create_bill"
	TargetSystem     string                 `json:"target_system"` // e.g. "ledgerbooks", "internal"
	Parameters       map[string]interface{} `json:"parameters"`
	Reversibility    Reversibility          `json:"reversibility"`
	Compensation     *CompensationSpec      `json:"compensation,omitempty"`
	RequiresApproval bool                   `json:"requires_approval"`
}

// ActionRecord — персистентный объект жизненного цикла действия.
// Во время исполнения им монопольно владеет диспетчер; все мутации идут
// только через определенные переходы статусов.
type ActionRecord struct {
	ProposedAction

	Status ActionStatus `json:"status"`

	// Метаданные решения (HITL)
	ApprovedBy *string    `json:"approved_by,omitempty"`
	ApprovedAt *time.Time `json:"approved_at,omitempty"`
	RejectedBy *string    `json:"rejected_by,omitempty"`
	RejectedAt *time.Time `json:"rejected_at,omitempty"`
	Comment    *string    `json:"comment,omitempty"`

	// Результат исполнения
	Result     map[string]interface{} `json:"result,omitempty"`
	ExternalID *string                `json:"external_id,omitempty"` // ID объекта во внешней системе
	Error      string                 `json:"error,omitempty"`

	// Компенсация: IsCompensated == true влечет непустой CompensationID
	IsCompensated  bool    `json:"is_compensated"`
	CompensationID *string `json:"compensation_id,omitempty"`

	EmailID   string    `json:"email_id,omitempty"` // Ссылка на исходное письмо
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// CanStartExecution проверяет инвариант: в executing можно перейти
// только из pending или approved.
func (a *ActionRecord) CanStartExecution() bool {
	return a.Status == ActionPending || a.Status == ActionApproved
}

// IsTerminal — из этих статусов действие уже не исполняется повторно.
func (a *ActionRecord) IsTerminal() bool {
	switch a.Status {
	case ActionCompleted, ActionFailed, ActionCompensated, ActionRejected:
		return true
	}
	return false
}

// MarkCompensated фиксирует факт отката. Инвариант: без ID компенсирующего
// действия запись считается не откаченной.
func (a *ActionRecord) MarkCompensated(compensationID string) {
	a.Status = ActionCompensated
	a.IsCompensated = true
	a.CompensationID = &compensationID
	a.UpdatedAt = time.Now()
}

// ActionResult — нормализованный результат работы диспетчера.
type ActionResult struct {
	Success    bool                   `json:"success"`
	ExternalID string                 `json:"external_id,omitempty"`
	Data       map[string]interface{} `json:"data,omitempty"`
	DryRun     bool                   `json:"dry_run,omitempty"`
	Error      *OpError               `json:"error,omitempty"`
}
