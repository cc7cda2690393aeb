package engine

import (
	"context"
	"testing"
	"time"

	"github.com/xela07ax/bookflow/internal/connectors"
	"github.com/xela07ax/bookflow/internal/domain"
	"github.com/xela07ax/bookflow/internal/risk"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// staticPolicies — провайдер с фиксированным движком (без кэша и БД).
type staticPolicies struct {
	eng *risk.Engine
}

func (s staticPolicies) Engine() *risk.Engine { return s.eng }

func testPolicies(t *testing.T) staticPolicies {
	t.Helper()
	eng, err := risk.NewEngine(nil, zap.NewNop(), risk.Options{})
	require.NoError(t, err)
	return staticPolicies{eng: eng}
}

func testResilience(t *testing.T) *Resilience {
	t.Helper()
	return NewResilience(ResilienceConfig{
		Attempts:    1,
		CallTimeout: time.Second,
		RateLimit:   rate.Inf,
		RateBurst:   1,
		Breaker:     BreakerSettings{FailureThreshold: 100},
	}, zap.NewNop(), NewMetrics(nil))
}

func newTestDispatcher(t *testing.T, adapters []connectors.Adapter, cfg DispatcherConfig) *Dispatcher {
	t.Helper()
	return NewDispatcher(adapters, testResilience(t), testPolicies(t),
		nil, nil, NewMetrics(nil), zap.NewNop(), cfg)
}

// safeParams — параметры, не задевающие ни одно правило дефолтной политики
// и структурные проверки (клиент сматчен, контрагент не новый).
func safeParams(extra map[string]interface{}) map[string]interface{} {
	params := map[string]interface{}{
		"amount":                   100.0,
		"client_id":                "client-1",
		"vendor_transaction_count": 5,
	}
	for k, v := range extra {
		params[k] = v
	}
	return params
}

func testAction(actionType, target string, params map[string]interface{}) *domain.ActionRecord {
	return &domain.ActionRecord{
		ProposedAction: domain.ProposedAction{
			ID:           "act-1",
			ActionType:   actionType,
			TargetSystem: target,
			Parameters:   params,
		},
		Status:    domain.ActionPending,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
}

func TestCanExecuteMatrix(t *testing.T) {
	tests := []struct {
		name             string
		status           domain.ActionStatus
		requiresApproval bool
		skipApprovals    bool
		want             bool
	}{
		{name: "pending without approval", status: domain.ActionPending, want: true},
		{name: "pending awaiting approval", status: domain.ActionPending, requiresApproval: true, want: false},
		{name: "approved", status: domain.ActionApproved, requiresApproval: true, want: true},
		{name: "rejected", status: domain.ActionRejected, want: false},
		{name: "executing", status: domain.ActionExecuting, want: false},
		{name: "completed", status: domain.ActionCompleted, want: false},
		{name: "failed", status: domain.ActionFailed, want: false},
		{name: "compensated", status: domain.ActionCompensated, want: false},
		{name: "skip approvals mode", status: domain.ActionPending, requiresApproval: true, skipApprovals: true, want: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			d := newTestDispatcher(t, nil, DispatcherConfig{SkipApprovals: tc.skipApprovals})
			a := testAction(ActionCreateBill, "ledgerbooks", safeParams(nil))
			a.Status = tc.status
			a.RequiresApproval = tc.requiresApproval
			require.Equal(t, tc.want, d.CanExecute(a))
		})
	}
}

func TestExecutePreconditionFailureKeepsStatus(t *testing.T) {
	d := newTestDispatcher(t, nil, DispatcherConfig{})

	a := testAction(ActionCreateBill, "ledgerbooks", safeParams(nil))
	a.RequiresApproval = true // pending + approval -> не исполняемо

	result := d.Execute(context.Background(), a)

	require.False(t, result.Success)
	require.Equal(t, domain.KindInvalidState, result.Error.Kind)
	// Предусловный отказ не хоронит действие: после одобрения оно исполнимо
	require.Equal(t, domain.ActionPending, a.Status)
}

func TestExecuteRiskGateBlocksUnapprovedAction(t *testing.T) {
	books := connectors.NewMockBooksAdapter()
	d := newTestDispatcher(t, []connectors.Adapter{books}, DispatcherConfig{})

	// Сумма выше порога политики: оценка потребует approval
	a := testAction(ActionCreateBill, "ledgerbooks", safeParams(map[string]interface{}{
		"amount": 30000.0, "vendor_name": "Acme Corp",
	}))

	result := d.Execute(context.Background(), a)
	require.False(t, result.Success)
	require.Equal(t, domain.KindInvalidState, result.Error.Kind)
	require.Equal(t, domain.ActionPending, a.Status)

	// После одобрения то же действие проходит
	a.Status = domain.ActionApproved
	result = d.Execute(context.Background(), a)
	require.True(t, result.Success)
	require.Equal(t, domain.ActionCompleted, a.Status)
}

func TestExecuteDryRun(t *testing.T) {
	books := connectors.NewMockBooksAdapter()
	books.FailOn[connectors.OpCreateBill] = true // Адаптер не должен быть тронут вовсе

	d := newTestDispatcher(t, []connectors.Adapter{books}, DispatcherConfig{DryRun: true})
	a := testAction(ActionCreateBill, "ledgerbooks", safeParams(map[string]interface{}{"vendor_name": "Acme"}))

	result := d.Execute(context.Background(), a)

	require.True(t, result.Success)
	require.True(t, result.DryRun)
	require.Equal(t, domain.ActionCompleted, a.Status)
	require.Nil(t, a.ExternalID)
}

func TestExecuteInternalAction(t *testing.T) {
	d := newTestDispatcher(t, nil, DispatcherConfig{})
	a := testAction("create_task", TargetInternal, safeParams(nil))

	result := d.Execute(context.Background(), a)

	require.True(t, result.Success)
	require.Equal(t, domain.ActionCompleted, a.Status)
}

func TestExecuteUnknownTargetSystem(t *testing.T) {
	d := newTestDispatcher(t, nil, DispatcherConfig{})
	a := testAction(ActionCreateBill, "no-such-system", safeParams(nil))

	result := d.Execute(context.Background(), a)

	require.False(t, result.Success)
	// Дыра в роутинге — это не отказ действия, а неверное состояние конфигурации
	require.Equal(t, domain.KindInvalidState, result.Error.Kind)
}

func TestExecuteUnsupportedOperation(t *testing.T) {
	books := connectors.NewMockBooksAdapter()
	d := newTestDispatcher(t, []connectors.Adapter{books}, DispatcherConfig{})

	// Бухгалтерская система не умеет платежи
	a := testAction(ActionSchedulePayment, "ledgerbooks", safeParams(nil))

	result := d.Execute(context.Background(), a)

	require.False(t, result.Success)
	require.Equal(t, domain.KindActionFailed, result.Error.Kind)
	require.Equal(t, domain.ActionFailed, a.Status)
}

func TestExecuteCreateBillResolvesVendor(t *testing.T) {
	books := connectors.NewMockBooksAdapter()
	d := newTestDispatcher(t, []connectors.Adapter{books}, DispatcherConfig{})

	a := testAction(ActionCreateBill, "ledgerbooks", safeParams(map[string]interface{}{
		"vendor_name":    "Acme Corp",
		"amount":         "$250.00",
		"invoice_number": "INV-1001",
	}))

	result := d.Execute(context.Background(), a)

	require.True(t, result.Success)
	require.NotEmpty(t, result.ExternalID)
	require.Equal(t, domain.ActionCompleted, a.Status)
	require.NotNil(t, a.ExternalID)
	require.Equal(t, result.ExternalID, *a.ExternalID)
	require.NotEmpty(t, result.Data["vendor_id"])
}

func TestExecuteAdapterFailureNormalized(t *testing.T) {
	books := connectors.NewMockBooksAdapter()
	books.FailOn[connectors.OpFindVendor] = true

	d := newTestDispatcher(t, []connectors.Adapter{books}, DispatcherConfig{})
	a := testAction(ActionCreateBill, "ledgerbooks", safeParams(map[string]interface{}{"vendor_name": "Acme"}))

	result := d.Execute(context.Background(), a)

	require.False(t, result.Success)
	require.Equal(t, domain.KindExternalAPIError, result.Error.Kind)
	require.Equal(t, 500, result.Error.StatusCode)
	require.Equal(t, domain.ActionFailed, a.Status)
}

func TestCompensatePreconditions(t *testing.T) {
	books := connectors.NewMockBooksAdapter()
	books.FailOn[connectors.OpDeleteBill] = true // Любой вызов адаптера провалил бы тест иначе

	d := newTestDispatcher(t, []connectors.Adapter{books}, DispatcherConfig{})
	externalID := "B-123"

	tests := []struct {
		name   string
		mutate func(a *domain.ActionRecord)
	}{
		{
			name:   "not completed",
			mutate: func(a *domain.ActionRecord) { a.Status = domain.ActionPending; a.ExternalID = &externalID },
		},
		{
			name:   "no external id",
			mutate: func(a *domain.ActionRecord) { a.Status = domain.ActionCompleted },
		},
		{
			name: "no compensation mapping",
			mutate: func(a *domain.ActionRecord) {
				a.ActionType = ActionVoidPayment
				a.Status = domain.ActionCompleted
				a.ExternalID = &externalID
			},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			a := testAction(ActionCreateBill, "ledgerbooks", safeParams(nil))
			tc.mutate(a)

			result := d.Compensate(context.Background(), a)

			require.False(t, result.Success)
			require.Equal(t, domain.KindCompensationFailed, result.Error.Kind)
			require.False(t, a.IsCompensated)
		})
	}
}

func TestCompensateCreateBill(t *testing.T) {
	books := connectors.NewMockBooksAdapter()
	d := newTestDispatcher(t, []connectors.Adapter{books}, DispatcherConfig{})

	a := testAction(ActionCreateBill, "ledgerbooks", safeParams(map[string]interface{}{"vendor_name": "Acme"}))
	execResult := d.Execute(context.Background(), a)
	require.True(t, execResult.Success)

	compResult := d.Compensate(context.Background(), a)

	require.True(t, compResult.Success)
	require.True(t, a.IsCompensated)
	require.Equal(t, domain.ActionCompensated, a.Status)
	require.NotNil(t, a.CompensationID)
	require.Equal(t, compResult.ExternalID, *a.CompensationID)

	// Счет реально удален: повторный откат упирается в 404
	a.Status = domain.ActionCompleted
	again := d.Compensate(context.Background(), a)
	require.False(t, again.Success)
}
