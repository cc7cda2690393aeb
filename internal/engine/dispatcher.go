package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/xela07ax/bookflow/internal/audit"
	"github.com/xela07ax/bookflow/internal/connectors"
	"github.com/xela07ax/bookflow/internal/domain"
	"github.com/xela07ax/bookflow/internal/risk"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Типы действий, которые умеет роутить диспетчер.
const (
	ActionCreateBill      = "create_bill"
	ActionDeleteBill      = "delete_bill"
	ActionSchedulePayment = "schedule_payment"
	ActionVoidPayment     = "void_payment"

	// TargetInternal — действия без внешней системы (заметки, задачи):
	// всегда успешны, фиксируются только в аудите.
	TargetInternal = "internal"
)

// operationFor мапит тип действия на примитив адаптера.
func operationFor(actionType string) (connectors.Operation, bool) {
	switch actionType {
	case ActionCreateBill:
		return connectors.OpCreateBill, true
	case ActionDeleteBill:
		return connectors.OpDeleteBill, true
	case ActionSchedulePayment:
		return connectors.OpSchedulePayment, true
	case ActionVoidPayment:
		return connectors.OpVoidPayment, true
	}
	return "", false
}

// compensationFor — явная, аудируемая таблица откатов. Компенсация
// намеренно не выводится автоматически из типа действия.
var compensationFor = map[string]string{
	ActionCreateBill:      ActionDeleteBill,
	ActionSchedulePayment: ActionVoidPayment,
}

// PolicyProvider отдает актуальный движок риска (кэш политики).
type PolicyProvider interface {
	Engine() *risk.Engine
}

// ActionRepository — персистентность записей жизненного цикла.
type ActionRepository interface {
	SaveAction(ctx context.Context, a *domain.ActionRecord) error
}

// DispatcherConfig — операционные режимы диспетчера.
type DispatcherConfig struct {
	// DryRun возвращает синтетический успех, не трогая ни один адаптер.
	DryRun bool
	// SkipApprovals отключает approval-гейт (локальные стенды, тесты).
	SkipApprovals bool
}

// Dispatcher исполняет или компенсирует одно действие: гейт риска,
// предусловия статуса, роутинг в адаптер через resilience-слой,
// нормализация результата и ошибок. Никогда сам не ретраит (это дело
// resilience-слоя) и никогда сам не компенсирует (это дело оркестратора).
type Dispatcher struct {
	adapters   map[string]connectors.Adapter
	resilience *Resilience
	policies   PolicyProvider
	repo       ActionRepository
	auditor    audit.Auditor
	metrics    *Metrics
	logger     *zap.Logger
	cfg        DispatcherConfig
}

func NewDispatcher(
	adapters []connectors.Adapter,
	res *Resilience,
	policies PolicyProvider,
	repo ActionRepository,
	auditor audit.Auditor,
	metrics *Metrics,
	logger *zap.Logger,
	cfg DispatcherConfig,
) *Dispatcher {
	byName := make(map[string]connectors.Adapter, len(adapters))
	for _, a := range adapters {
		byName[a.Name()] = a
	}
	return &Dispatcher{
		adapters:   byName,
		resilience: res,
		policies:   policies,
		repo:       repo,
		auditor:    auditor,
		metrics:    metrics,
		logger:     logger.Named("dispatcher"),
		cfg:        cfg,
	}
}

// CanExecute — чистая проверка предусловий без побочных эффектов.
// Используется и самим диспетчером, и вызывающими при решении,
// ставить ли действие в очередь вообще.
func (d *Dispatcher) CanExecute(a *domain.ActionRecord) bool {
	if !a.CanStartExecution() {
		return false
	}
	if a.RequiresApproval && a.Status != domain.ActionApproved && !d.cfg.SkipApprovals {
		return false
	}
	return true
}

// Execute исполняет одно действие и нормализует результат.
func (d *Dispatcher) Execute(ctx context.Context, a *domain.ActionRecord) domain.ActionResult {
	start := time.Now()
	d.metrics.ActionsTotal.WithLabelValues(a.TargetSystem, a.ActionType).Inc()

	status := "success"
	defer func() {
		d.metrics.ActionDuration.
			WithLabelValues(a.TargetSystem, a.ActionType, status).
			Observe(time.Since(start).Seconds())
	}()

	// 1. Предусловия статуса/одобрения
	if !d.CanExecute(a) {
		status = "rejected"
		return d.fail(ctx, a, domain.NewOpError(domain.KindInvalidState, a.TargetSystem,
			fmt.Sprintf("action %s is not executable: status=%s requires_approval=%v",
				a.ID, a.Status, a.RequiresApproval), nil))
	}

	// 2. Гейт риска: оценка делается один раз, ДО ретраев и вызовов
	assessment := d.policies.Engine().Assess(a.ActionType, a.Parameters, assessContextOf(a))
	if assessment.RequiresApproval && a.Status != domain.ActionApproved && !d.cfg.SkipApprovals {
		status = "rejected"
		return d.fail(ctx, a, domain.NewOpError(domain.KindInvalidState, a.TargetSystem,
			fmt.Sprintf("risk policy requires approval (level=%s, rules=%v)",
				assessment.Level, assessment.AppliedRules), nil))
	}

	a.Status = domain.ActionExecuting
	a.UpdatedAt = time.Now()
	d.save(ctx, a)

	// 3. Dry-run: синтетический успех без единого вызова адаптера
	if d.cfg.DryRun {
		a.Status = domain.ActionCompleted
		a.Result = map[string]interface{}{"dry_run": true}
		d.save(ctx, a)
		d.record(ctx, audit.EventActionDryRun, a, "action captured in dry-run mode, no real impact made", start)
		return domain.ActionResult{Success: true, DryRun: true, Data: a.Result}
	}

	// 4. Внутренние действия: внешней системы нет, resilience не нужен
	if a.TargetSystem == TargetInternal || a.TargetSystem == "" {
		a.Status = domain.ActionCompleted
		a.Result = map[string]interface{}{"recorded": true}
		d.save(ctx, a)
		d.record(ctx, audit.EventActionInternal, a, "internal action recorded", start)
		return domain.ActionResult{Success: true, Data: a.Result}
	}

	// 5. Роутинг: неизвестная система и неподдерживаемая операция —
	// разные виды ошибок (решает, менять роутинг или бросать действие)
	adapter, ok := d.adapters[a.TargetSystem]
	if !ok {
		status = "failed"
		return d.fail(ctx, a, domain.NewOpError(domain.KindInvalidState, a.TargetSystem,
			fmt.Sprintf("unknown target system %q", a.TargetSystem), nil))
	}

	op, known := operationFor(a.ActionType)
	if !known || !adapter.Supports(op) {
		status = "failed"
		return d.fail(ctx, a, domain.NewOpError(domain.KindActionFailed, a.TargetSystem,
			fmt.Sprintf("action type %q is not supported by %s", a.ActionType, a.TargetSystem), nil))
	}

	externalID, data, err := d.executeOn(ctx, adapter, a)
	if err != nil {
		status = "failed"
		return d.fail(ctx, a, d.normalizeAdapterErr(a.TargetSystem, err))
	}

	a.Status = domain.ActionCompleted
	a.ExternalID = &externalID
	a.Result = data
	a.UpdatedAt = time.Now()
	d.save(ctx, a)
	d.record(ctx, audit.EventActionExecuted, a, "action executed against "+a.TargetSystem, start)

	return domain.ActionResult{Success: true, ExternalID: externalID, Data: data}
}

// Compensate откатывает ранее завершенное действие по фиксированной таблице.
func (d *Dispatcher) Compensate(ctx context.Context, a *domain.ActionRecord) domain.ActionResult {
	start := time.Now()

	// Откатывать можно только завершенное действие с внешним ID;
	// до адаптера в противном случае даже не доходим
	if a.Status != domain.ActionCompleted || a.ExternalID == nil {
		return d.failCompensation(a, domain.NewOpError(domain.KindCompensationFailed, a.TargetSystem,
			fmt.Sprintf("action %s is not compensable: status=%s has_external_id=%v",
				a.ID, a.Status, a.ExternalID != nil), nil))
	}

	counterType, ok := compensationFor[a.ActionType]
	if !ok {
		return d.failCompensation(a, domain.NewOpError(domain.KindCompensationFailed, a.TargetSystem,
			fmt.Sprintf("no compensation defined for action type %q", a.ActionType), nil))
	}

	adapter, ok := d.adapters[a.TargetSystem]
	if !ok {
		return d.failCompensation(a, domain.NewOpError(domain.KindCompensationFailed, a.TargetSystem,
			fmt.Sprintf("unknown target system %q", a.TargetSystem), nil))
	}

	var err error
	switch counterType {
	case ActionDeleteBill:
		err = d.resilience.Do(ctx, a.TargetSystem, func(ctx context.Context) error {
			return adapter.DeleteBill(ctx, *a.ExternalID)
		})
	case ActionVoidPayment:
		err = d.resilience.Do(ctx, a.TargetSystem, func(ctx context.Context) error {
			return adapter.VoidPayment(ctx, *a.ExternalID)
		})
	default:
		err = fmt.Errorf("no handler for compensation type %q", counterType)
	}

	if err != nil {
		d.metrics.CompensationsTotal.WithLabelValues("failed").Inc()
		return d.failCompensation(a, domain.NewOpError(domain.KindCompensationFailed, a.TargetSystem,
			fmt.Sprintf("compensation %s failed", counterType), err))
	}

	compensationID := uuid.New().String()
	a.MarkCompensated(compensationID)
	d.save(ctx, a)
	d.metrics.CompensationsTotal.WithLabelValues("done").Inc()
	d.record(ctx, audit.EventActionCompensated, a,
		fmt.Sprintf("action compensated via %s", counterType), start)

	return domain.ActionResult{Success: true, ExternalID: compensationID}
}

// executeOn роутит действие на операцию конкретной системы.
// Каждый исходящий вызов идет через resilience-слой отдельно.
func (d *Dispatcher) executeOn(ctx context.Context, adapter connectors.Adapter, a *domain.ActionRecord) (string, map[string]interface{}, error) {
	switch a.ActionType {
	case ActionCreateBill:
		return d.createBill(ctx, adapter, a)

	case ActionDeleteBill:
		externalID := stringParam(a.Parameters, "external_id", "bill_id")
		err := d.resilience.Do(ctx, adapter.Name(), func(ctx context.Context) error {
			return adapter.DeleteBill(ctx, externalID)
		})
		if err != nil {
			return "", nil, err
		}
		return externalID, map[string]interface{}{"deleted": true}, nil

	case ActionSchedulePayment:
		amount, _ := risk.ParseAmount(a.Parameters["amount"])
		in := connectors.PaymentInput{
			BillID:      stringParam(a.Parameters, "bill_id"),
			VendorID:    stringParam(a.Parameters, "vendor_id"),
			Amount:      amount,
			ProcessDate: stringParam(a.Parameters, "process_date", "due_date"),
		}
		var payment *connectors.Payment
		err := d.resilience.Do(ctx, adapter.Name(), func(ctx context.Context) error {
			var callErr error
			payment, callErr = adapter.SchedulePayment(ctx, in)
			return callErr
		})
		if err != nil {
			return "", nil, err
		}
		return payment.ID, map[string]interface{}{"payment_id": payment.ID, "status": payment.Status}, nil

	case ActionVoidPayment:
		externalID := stringParam(a.Parameters, "external_id", "payment_id")
		err := d.resilience.Do(ctx, adapter.Name(), func(ctx context.Context) error {
			return adapter.VoidPayment(ctx, externalID)
		})
		if err != nil {
			return "", nil, err
		}
		return externalID, map[string]interface{}{"voided": true}, nil
	}

	// operationFor уже отфильтровал неизвестные типы; сюда не попадаем
	return "", nil, fmt.Errorf("no handler for action type %q", a.ActionType)
}

// createBill: резолвим (или создаем) контрагента, затем создаем счет.
func (d *Dispatcher) createBill(ctx context.Context, adapter connectors.Adapter, a *domain.ActionRecord) (string, map[string]interface{}, error) {
	vendorName := stringParam(a.Parameters, "vendor_name", "vendor")

	var vendor *connectors.Vendor
	err := d.resilience.Do(ctx, adapter.Name(), func(ctx context.Context) error {
		var callErr error
		vendor, callErr = adapter.FindVendorByName(ctx, vendorName)
		return callErr
	})
	if err != nil {
		return "", nil, err
	}

	if vendor == nil {
		err = d.resilience.Do(ctx, adapter.Name(), func(ctx context.Context) error {
			var callErr error
			vendor, callErr = adapter.CreateVendor(ctx, vendorName)
			return callErr
		})
		if err != nil {
			return "", nil, err
		}
	}

	amount, _ := risk.ParseAmount(a.Parameters["amount"])
	in := connectors.BillInput{
		VendorID:      vendor.ID,
		Amount:        amount,
		Currency:      stringParam(a.Parameters, "currency"),
		InvoiceNumber: stringParam(a.Parameters, "invoice_number"),
		DueDate:       stringParam(a.Parameters, "due_date"),
		Memo:          stringParam(a.Parameters, "memo"),
	}

	var bill *connectors.Bill
	err = d.resilience.Do(ctx, adapter.Name(), func(ctx context.Context) error {
		var callErr error
		bill, callErr = adapter.CreateBill(ctx, in)
		return callErr
	})
	if err != nil {
		return "", nil, err
	}

	return bill.ID, map[string]interface{}{
		"bill_id":   bill.ID,
		"vendor_id": vendor.ID,
		"amount":    bill.Amount,
	}, nil
}

// normalizeAdapterErr разрывает связь между таксономией диспетчера
// и формами ошибок конкретных адаптеров.
func (d *Dispatcher) normalizeAdapterErr(target string, err error) *domain.OpError {
	var oe *domain.OpError
	if errors.As(err, &oe) && oe.Kind == domain.KindCircuitOpen {
		return oe // CIRCUIT_OPEN — самостоятельный вид, не затираем
	}

	opErr := domain.NewOpError(domain.KindExternalAPIError, target, "external system call failed", err)
	var ae *connectors.AdapterError
	if errors.As(err, &ae) {
		opErr.StatusCode = ae.StatusCode
		opErr.Message = ae.Message
	}
	return opErr
}

func (d *Dispatcher) fail(ctx context.Context, a *domain.ActionRecord, opErr *domain.OpError) domain.ActionResult {
	d.metrics.ErrorsTotal.WithLabelValues(string(opErr.Kind)).Inc()

	// Предусловные отказы не переводят действие в failed: оно остается
	// в своем статусе и может быть исполнено после одобрения
	if opErr.Kind != domain.KindInvalidState {
		a.Status = domain.ActionFailed
		a.Error = opErr.Error()
		a.UpdatedAt = time.Now()
		d.save(ctx, a)
	}

	d.record(ctx, audit.EventActionFailed, a, opErr.Error(), time.Now())
	d.logger.Warn("action dispatch failed",
		zap.String("action_id", a.ID),
		zap.String("kind", string(opErr.Kind)),
		zap.Error(opErr))

	return domain.ActionResult{Success: false, Error: opErr}
}

func (d *Dispatcher) failCompensation(a *domain.ActionRecord, opErr *domain.OpError) domain.ActionResult {
	d.metrics.ErrorsTotal.WithLabelValues(string(opErr.Kind)).Inc()
	d.logger.Warn("compensation failed",
		zap.String("action_id", a.ID),
		zap.Error(opErr))
	return domain.ActionResult{Success: false, Error: opErr}
}

func (d *Dispatcher) save(ctx context.Context, a *domain.ActionRecord) {
	if d.repo == nil {
		return
	}
	if err := d.repo.SaveAction(ctx, a); err != nil {
		// Персистентность не должна ронять исполнение: состояние дойдет
		// со следующим сохранением, факт фиксируем в логе
		d.logger.Error("failed to persist action record",
			zap.String("action_id", a.ID), zap.Error(err))
	}
}

func (d *Dispatcher) record(ctx context.Context, eventType string, a *domain.ActionRecord, description string, start time.Time) {
	if d.auditor == nil {
		return
	}
	d.auditor.Record(audit.Event{
		ID:          uuid.New().String(),
		TraceID:     ExtractTraceID(ctx),
		EventType:   eventType,
		ActionID:    a.ID,
		EmailID:     a.EmailID,
		Description: description,
		Metadata: map[string]interface{}{
			"action_type":   a.ActionType,
			"target_system": a.TargetSystem,
			"status":        string(a.Status),
		},
		Timestamp:  time.Now(),
		DurationMs: time.Since(start).Milliseconds(),
	})
}

// assessContextOf собирает контекст риска из того, что планировщик
// положил в параметры действия.
func assessContextOf(a *domain.ActionRecord) domain.AssessContext {
	actx := domain.AssessContext{}
	if raw, ok := a.Parameters["vendor_transaction_count"]; ok {
		if f, ok := risk.ParseAmount(raw); ok {
			n := int(f)
			actx.VendorTransactionCount = &n
		}
	}
	if raw, ok := a.Parameters["extraction_confidence"]; ok {
		if f, ok := risk.ParseAmount(raw); ok {
			actx.ExtractionConfidence = &f
		}
	}
	if clientID := stringParam(a.Parameters, "client_id"); clientID != "" {
		actx.Client = &domain.Client{ID: clientID}
	}
	return actx
}

// stringParam достает первый непустой строковый параметр из списка ключей.
func stringParam(params map[string]interface{}, keys ...string) string {
	for _, key := range keys {
		if v, ok := params[key]; ok {
			if s, ok := v.(string); ok && s != "" {
				return s
			}
		}
	}
	return ""
}
