package domain

// RiskLevel — порядковая шкала серьезности: low < medium < high < critical.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

var riskSeverity = map[RiskLevel]int{
	RiskLow:      0,
	RiskMedium:   1,
	RiskHigh:     2,
	RiskCritical: 3,
}

// Severity возвращает позицию уровня на шкале. Неизвестный уровень
// трактуем как low, чтобы битые данные не завышали риск молча.
func (l RiskLevel) Severity() int {
	if s, ok := riskSeverity[l]; ok {
		return s
	}
	return 0
}

// MaxRiskLevel — свертка "побеждает максимальная серьезность".
func MaxRiskLevel(a, b RiskLevel) RiskLevel {
	if b.Severity() > a.Severity() {
		return b
	}
	return a
}

// RuleOperator — закрытый набор операторов сравнения в условиях правил.
type RuleOperator string

const (
	OpGT    RuleOperator = ">"
	OpLT    RuleOperator = "<"
	OpGTE   RuleOperator = ">="
	OpLTE   RuleOperator = "<="
	OpEQ    RuleOperator = "=="
	OpNEQ   RuleOperator = "!="
	OpIn    RuleOperator = "in"
	OpNotIn RuleOperator = "not_in"
)

// RuleCondition описывает одно декларативное условие:
// {"field": "amount", "operator": ">", "value": 5000}.
type RuleCondition struct {
	Field    string       `json:"field"`
	Operator RuleOperator `json:"operator"`
	Value    interface{}  `json:"value"`
}

// RiskRule — именованное правило политики.
type RiskRule struct {
	Name             string        `json:"name"`
	Description      string        `json:"description,omitempty"`
	Condition        RuleCondition `json:"condition"`
	RiskLevel        RiskLevel     `json:"risk_level"`
	RequiresApproval bool          `json:"requires_approval"`
}

// RiskBehavior — поведение, сконфигурированное для уровня риска целиком.
type RiskBehavior struct {
	RequiresApproval bool   `json:"requires_approval"`
	Notify           string `json:"notify,omitempty"` // Канал уведомления операторов
}

// ClientOverride позволяет для конкретного клиента переопределить
// вычисленный уровень риска (но не уже выведенные флаги approval).
type ClientOverride struct {
	ClientID          string    `json:"client_id"`
	RiskLevelOverride RiskLevel `json:"risk_level_override,omitempty"`
	Note              string    `json:"note,omitempty"`
}

// RiskPolicySettings — структурные проверки, работающие независимо от rules.
type RiskPolicySettings struct {
	DefaultRiskLevel            RiskLevel `json:"default_risk_level"`
	RequireApprovalForNewVendor bool      `json:"require_approval_for_new_vendors"`
	RequireApprovalForNewClient bool      `json:"require_approval_for_new_clients"`
}

// RiskPolicy — декларативный документ политики. Загружается один раз,
// кэшируется; во время оценки read-only (движок его никогда не мутирует).
type RiskPolicy struct {
	Version        string                     `json:"version"`
	Settings       RiskPolicySettings         `json:"settings"`
	Rules          []RiskRule                 `json:"rules"`
	RiskBehaviors  map[RiskLevel]RiskBehavior `json:"risk_behaviors"`
	ClientOverride []ClientOverride           `json:"client_overrides,omitempty"`
}

// DefaultRiskPolicy — встроенный fallback на случай, когда источник политики
// не сконфигурирован вовсе (отсутствие != повреждение: битая политика
// всегда дает POLICY_ERROR).
func DefaultRiskPolicy() *RiskPolicy {
	return &RiskPolicy{
		Version: "builtin-default",
		Settings: RiskPolicySettings{
			DefaultRiskLevel:            RiskLow,
			RequireApprovalForNewVendor: true,
			RequireApprovalForNewClient: true,
		},
		Rules: []RiskRule{
			{
				Name:             "high_amount",
				Description:      "Suspiciously large transaction amount",
				Condition:        RuleCondition{Field: "amount", Operator: OpGT, Value: 5000.0},
				RiskLevel:        RiskHigh,
				RequiresApproval: true,
			},
			{
				Name:             "critical_amount",
				Description:      "Amount above the hard review threshold",
				Condition:        RuleCondition{Field: "amount", Operator: OpGT, Value: 25000.0},
				RiskLevel:        RiskCritical,
				RequiresApproval: true,
			},
			{
				Name:             "low_extraction_confidence",
				Description:      "Extractor was not confident about the parsed fields",
				Condition:        RuleCondition{Field: "extraction_confidence", Operator: OpLT, Value: 0.7},
				RiskLevel:        RiskMedium,
				RequiresApproval: true,
			},
		},
		RiskBehaviors: map[RiskLevel]RiskBehavior{
			RiskLow:      {RequiresApproval: false},
			RiskMedium:   {RequiresApproval: false},
			RiskHigh:     {RequiresApproval: true},
			RiskCritical: {RequiresApproval: true, Notify: "ops"},
		},
	}
}

// RiskAssessment — чистый результат оценки одного действия.
// Никогда не персистится отдельно; складывается в ActionRecord/ValidationResult.
type RiskAssessment struct {
	Level            RiskLevel `json:"level"`
	Reasons          []string  `json:"reasons"`
	RequiresApproval bool      `json:"requires_approval"`
	AppliedRules     []string  `json:"applied_rules"`
	OverrideAllowed  bool      `json:"override_allowed"`
}

// Violation — нарушение уровня плана.
type Violation struct {
	Rule     string `json:"rule"`
	Message  string `json:"message"`
	Severity string `json:"severity"` // "warning" | "error"
}

// ValidationResult — агрегат по-действийных оценок всего плана.
type ValidationResult struct {
	Valid            bool        `json:"valid"`
	RiskLevel        RiskLevel   `json:"risk_level"`
	RequiresApproval bool        `json:"requires_approval"`
	Violations       []Violation `json:"violations"`
	Warnings         []string    `json:"warnings"`
	AppliedRules     []string    `json:"applied_rules"`
}

// Client — сматченный клиент (внешняя сущность; здесь только то,
// что нужно движку риска).
type Client struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// AssessContext — контекст оценки одного действия.
type AssessContext struct {
	Client                 *Client `json:"client,omitempty"`
	VendorTransactionCount *int    `json:"vendor_transaction_count,omitempty"`
	ExtractionConfidence   *float64 `json:"extraction_confidence,omitempty"`
}
