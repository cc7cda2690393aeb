package risk

import (
	"fmt"

	"github.com/xela07ax/bookflow/internal/domain"
	"go.uber.org/zap"
)

// Options — операционные переключатели движка. Переключатели задаются при
// конструировании: "перезагрузка" политики = новый экземпляр движка.
type Options struct {
	// StrictMode превращает каждое предупреждение в нарушение уровня error,
	// т.е. план с предупреждениями перестает быть валидным.
	StrictMode bool

	// SkipRules полностью исключает именованные правила из оценки
	// (для тестов и операционных override'ов). Пол уровня риска при этом
	// никогда молча не поднимается.
	SkipRules []string
}

// Engine оценивает предлагаемые действия против декларативной политики.
// Политика после конструирования read-only; движок не хранит состояния
// между вызовами и безопасен для конкурентного использования.
type Engine struct {
	policy *domain.RiskPolicy
	skip   map[string]struct{}
	strict bool
	logger *zap.Logger
}

// NewEngine валидирует политику и собирает движок.
// nil-политика означает "источник не сконфигурирован" — берем встроенный
// дефолт. Поврежденная политика — это POLICY_ERROR, движок не гадает.
func NewEngine(policy *domain.RiskPolicy, logger *zap.Logger, opts Options) (*Engine, error) {
	if policy == nil {
		policy = domain.DefaultRiskPolicy()
	}
	if err := validatePolicy(policy); err != nil {
		return nil, err
	}

	skip := make(map[string]struct{}, len(opts.SkipRules))
	for _, name := range opts.SkipRules {
		skip[name] = struct{}{}
	}

	return &Engine{
		policy: policy,
		skip:   skip,
		strict: opts.StrictMode,
		logger: logger.Named("risk"),
	}, nil
}

// PolicyVersion — версия загруженного документа (для аудита и метрик).
func (e *Engine) PolicyVersion() string { return e.policy.Version }

func validatePolicy(p *domain.RiskPolicy) error {
	for i, r := range p.Rules {
		if r.Name == "" {
			return domain.NewOpError(domain.KindPolicyError, "",
				fmt.Sprintf("rule #%d has no name", i), nil)
		}
		switch r.Condition.Operator {
		case domain.OpGT, domain.OpLT, domain.OpGTE, domain.OpLTE,
			domain.OpEQ, domain.OpNEQ, domain.OpIn, domain.OpNotIn:
		default:
			return domain.NewOpError(domain.KindPolicyError, "",
				fmt.Sprintf("rule %q: unknown operator %q", r.Name, r.Condition.Operator), nil)
		}
	}
	return nil
}

// Assess оценивает параметры одного действия. Чистая функция:
// результат никуда не персистится, вызывающий складывает его сам.
func (e *Engine) Assess(actionType string, params map[string]interface{}, actx domain.AssessContext) domain.RiskAssessment {
	level := e.policy.Settings.DefaultRiskLevel
	if level == "" {
		level = domain.RiskLow
	}

	assessment := domain.RiskAssessment{
		Reasons:      []string{},
		AppliedRules: []string{},
	}

	// 1. Декларативные правила политики
	for _, rule := range e.policy.Rules {
		if _, skipped := e.skip[rule.Name]; skipped {
			continue
		}
		if !e.ruleFires(rule, actionType, params, actx) {
			continue
		}

		level = domain.MaxRiskLevel(level, rule.RiskLevel)
		assessment.AppliedRules = append(assessment.AppliedRules, rule.Name)
		reason := rule.Description
		if reason == "" {
			reason = rule.Name
		}
		assessment.Reasons = append(assessment.Reasons, reason)
		if rule.RequiresApproval {
			assessment.RequiresApproval = true
		}
	}

	// 2. Структурные проверки — работают всегда, независимо от rules
	if e.policy.Settings.RequireApprovalForNewVendor &&
		actx.VendorTransactionCount != nil && *actx.VendorTransactionCount == 0 {
		assessment.RequiresApproval = true
		assessment.AppliedRules = append(assessment.AppliedRules, "new_vendor_policy")
		assessment.Reasons = append(assessment.Reasons, "first transaction with this vendor")
	}
	if e.policy.Settings.RequireApprovalForNewClient && actx.Client == nil {
		assessment.RequiresApproval = true
		assessment.AppliedRules = append(assessment.AppliedRules, "new_client_policy")
		assessment.Reasons = append(assessment.Reasons, "email sender did not match a known client")
	}

	// 3. Поведение, сконфигурированное для уровня целиком
	if behavior, ok := e.policy.RiskBehaviors[level]; ok && behavior.RequiresApproval {
		assessment.RequiresApproval = true
	}

	// 4. Клиентский override заменяет только уровень,
	// уже выведенные флаги approval не трогает
	if actx.Client != nil {
		for _, ov := range e.policy.ClientOverride {
			if ov.ClientID == actx.Client.ID && ov.RiskLevelOverride != "" {
				level = ov.RiskLevelOverride
				assessment.AppliedRules = append(assessment.AppliedRules, "client_risk_override")
				e.logger.Info("client risk override applied",
					zap.String("client_id", ov.ClientID),
					zap.String("level", string(level)))
				break
			}
		}
	}

	assessment.Level = level
	// Совещательный флаг для человека-апрувера, движком не энфорсится
	assessment.OverrideAllowed = level != domain.RiskCritical
	return assessment
}

// ValidatePlan сворачивает по-действийные оценки всего плана:
// риск = максимум, approval = OR, примененные правила дедуплицируются.
func (e *Engine) ValidatePlan(actions []domain.ProposedAction, actx domain.AssessContext) domain.ValidationResult {
	result := domain.ValidationResult{
		Valid:        true,
		RiskLevel:    domain.RiskLow,
		Violations:   []domain.Violation{},
		Warnings:     []string{},
		AppliedRules: []string{},
	}

	seenRules := make(map[string]struct{})
	for _, action := range actions {
		a := e.Assess(action.ActionType, action.Parameters, actx)

		result.RiskLevel = domain.MaxRiskLevel(result.RiskLevel, a.Level)
		if a.RequiresApproval {
			result.RequiresApproval = true
		}
		for _, name := range a.AppliedRules {
			if _, seen := seenRules[name]; seen {
				continue
			}
			seenRules[name] = struct{}{}
			result.AppliedRules = append(result.AppliedRules, name)
		}
		for _, reason := range a.Reasons {
			result.Warnings = append(result.Warnings, fmt.Sprintf("%s: %s", action.ActionType, reason))
		}
	}

	if e.strict {
		for _, w := range result.Warnings {
			result.Violations = append(result.Violations, domain.Violation{
				Rule:     "strict_mode",
				Message:  w,
				Severity: "error",
			})
		}
	}

	for _, v := range result.Violations {
		if v.Severity == "error" {
			result.Valid = false
			break
		}
	}

	return result
}

// ruleFires проверяет, выполняется ли условие правила на данном действии.
func (e *Engine) ruleFires(rule domain.RiskRule, actionType string, params map[string]interface{}, actx domain.AssessContext) bool {
	value, ok := e.resolveField(rule.Condition.Field, actionType, params, actx)
	if !ok {
		return false
	}
	return compare(value, rule.Condition.Operator, rule.Condition.Value)
}

// resolveField достает значение поля условия из фиксированного словаря;
// неизвестное поле ищется напрямую в параметрах действия (fallback).
func (e *Engine) resolveField(field, actionType string, params map[string]interface{}, actx domain.AssessContext) (interface{}, bool) {
	switch field {
	case "amount":
		if amount, ok := ParseAmount(params["amount"]); ok {
			return amount, true
		}
		return nil, false
	case "action_type":
		return actionType, true
	case "vendor_transaction_count":
		if actx.VendorTransactionCount != nil {
			return float64(*actx.VendorTransactionCount), true
		}
		return nil, false
	case "extraction_confidence":
		if actx.ExtractionConfidence != nil {
			return *actx.ExtractionConfidence, true
		}
		if v, ok := params["extraction_confidence"]; ok {
			return v, true
		}
		return nil, false
	case "client_id":
		if actx.Client != nil {
			return actx.Client.ID, true
		}
		return nil, false
	default:
		v, ok := params[field]
		return v, ok
	}
}

// compare выполняет сравнение по закрытому набору операторов.
// Числовые операторы требуют чисел с обеих сторон (строки с валютой
// уже приведены на этапе resolveField).
func compare(actual interface{}, op domain.RuleOperator, expected interface{}) bool {
	switch op {
	case domain.OpGT, domain.OpLT, domain.OpGTE, domain.OpLTE:
		a, okA := toFloat(actual)
		b, okB := toFloat(expected)
		if !okA || !okB {
			return false
		}
		switch op {
		case domain.OpGT:
			return a > b
		case domain.OpLT:
			return a < b
		case domain.OpGTE:
			return a >= b
		default:
			return a <= b
		}

	case domain.OpEQ:
		return looseEqual(actual, expected)
	case domain.OpNEQ:
		return !looseEqual(actual, expected)

	case domain.OpIn, domain.OpNotIn:
		list, ok := expected.([]interface{})
		if !ok {
			return false
		}
		found := false
		for _, item := range list {
			if looseEqual(actual, item) {
				found = true
				break
			}
		}
		if op == domain.OpIn {
			return found
		}
		return !found
	}
	return false
}

func toFloat(v interface{}) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	}
	return 0, false
}

// looseEqual сравнивает значения, пришедшие из JSON: числа сравниваются
// как числа, остальное — через строковое представление.
func looseEqual(a, b interface{}) bool {
	if fa, ok := toFloat(a); ok {
		if fb, ok := toFloat(b); ok {
			return fa == fb
		}
	}
	return fmt.Sprintf("%v", a) == fmt.Sprintf("%v", b)
}
