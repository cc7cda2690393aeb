package engine

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/xela07ax/bookflow/internal/audit"
	"github.com/xela07ax/bookflow/internal/domain"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// scriptedDispatcher — диспетчер со сценарием: шаги с перечисленными ID
// проваливаются, остальные завершаются успешно.
type scriptedDispatcher struct {
	mu           sync.Mutex
	failOn       map[string]bool
	executed     []string
	compensated  []string
	failCompense bool
}

func newScriptedDispatcher(failOn ...string) *scriptedDispatcher {
	fail := make(map[string]bool, len(failOn))
	for _, id := range failOn {
		fail[id] = true
	}
	return &scriptedDispatcher{failOn: fail}
}

func (s *scriptedDispatcher) Execute(ctx context.Context, a *domain.ActionRecord) domain.ActionResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.executed = append(s.executed, a.ID)

	if s.failOn[a.ID] {
		return domain.ActionResult{Success: false, Error: domain.NewOpError(
			domain.KindExternalAPIError, a.TargetSystem, "scripted failure", nil)}
	}
	return domain.ActionResult{Success: true, ExternalID: "ext-" + a.ID}
}

func (s *scriptedDispatcher) Compensate(ctx context.Context, a *domain.ActionRecord) domain.ActionResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.compensated = append(s.compensated, a.ID)

	if s.failCompense {
		return domain.ActionResult{Success: false, Error: domain.NewOpError(
			domain.KindCompensationFailed, a.TargetSystem, "scripted compensation failure", nil)}
	}
	return domain.ActionResult{Success: true, ExternalID: "comp-" + a.ID}
}

// memAuditor копит события в памяти.
type memAuditor struct {
	mu     sync.Mutex
	events []audit.Event
}

func (m *memAuditor) Record(event audit.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
}

func (m *memAuditor) types() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.events))
	for _, e := range m.events {
		out = append(out, e.EventType)
	}
	return out
}

func compensableStep(id string) domain.SagaStep {
	return domain.SagaStep{
		ID:           id,
		Name:         "step-" + id,
		ActionType:   ActionCreateBill,
		TargetSystem: "ledgerbooks",
		Parameters:   map[string]interface{}{"amount": 10.0},
		Compensation: &domain.CompensationSpec{ActionType: ActionDeleteBill},
		Reversibility: domain.ReversibilityCompensate,
		Status:        domain.StepPending,
	}
}

func testSaga(steps ...domain.SagaStep) *domain.Saga {
	return &domain.Saga{
		ID:         "saga-1",
		EmailID:    "email-1",
		Status:     domain.SagaPending,
		Steps:      steps,
		TotalSteps: len(steps),
		CreatedAt:  time.Now(),
		UpdatedAt:  time.Now(),
	}
}

func newTestOrchestrator(d StepDispatcher, auditor audit.Auditor) *Orchestrator {
	return NewOrchestrator(d, nil, auditor, NewMetrics(nil), zap.NewNop())
}

func TestOrchestratorHappyPath(t *testing.T) {
	dispatcher := newScriptedDispatcher()
	auditor := &memAuditor{}
	orc := newTestOrchestrator(dispatcher, auditor)

	saga := testSaga(compensableStep("s1"), compensableStep("s2"), compensableStep("s3"))

	require.NoError(t, orc.Execute(context.Background(), saga))

	require.Equal(t, domain.SagaCompleted, saga.Status)
	require.Equal(t, 3, saga.CurrentStep)
	require.NotNil(t, saga.StartedAt)
	require.NotNil(t, saga.CompletedAt)
	require.Equal(t, []string{"s1", "s2", "s3"}, dispatcher.executed)
	for i := range saga.Steps {
		require.Equal(t, domain.StepCompleted, saga.Steps[i].Status)
		require.NotNil(t, saga.Steps[i].ExternalID)
	}
	require.Contains(t, auditor.types(), audit.EventSagaStarted)
	require.Contains(t, auditor.types(), audit.EventSagaCompleted)
}

func TestOrchestratorRejectsDoubleStart(t *testing.T) {
	orc := newTestOrchestrator(newScriptedDispatcher(), nil)

	saga := testSaga(compensableStep("s1"))
	saga.Status = domain.SagaCompleted

	err := orc.Execute(context.Background(), saga)
	require.ErrorIs(t, err, domain.ErrSagaAlreadyActive)
}

func TestOrchestratorFailureTriggersCompensation(t *testing.T) {
	dispatcher := newScriptedDispatcher("s3")
	auditor := &memAuditor{}
	orc := newTestOrchestrator(dispatcher, auditor)

	saga := testSaga(compensableStep("s1"), compensableStep("s2"), compensableStep("s3"))

	require.NoError(t, orc.Execute(context.Background(), saga))

	// Терминальный статус после сбоя — всегда compensated
	require.Equal(t, domain.SagaCompensated, saga.Status)
	require.NotNil(t, saga.FailedAt)
	require.NotNil(t, saga.CompensatedAt)
	require.NotEmpty(t, saga.Error)

	// Откат строго в обратном порядке, только исполненные шаги
	require.Equal(t, []string{"s2", "s1"}, dispatcher.compensated)
	require.Equal(t, domain.StepFailed, saga.Steps[2].Status)
	require.Equal(t, domain.StepCompensated, saga.Steps[1].Status)
	require.Equal(t, domain.StepCompensated, saga.Steps[0].Status)
	require.Equal(t, 2, saga.CompensatedSteps())

	require.Contains(t, auditor.types(), audit.EventSagaFailed)
	require.Contains(t, auditor.types(), audit.EventSagaCompensated)
}

func TestOrchestratorCompensationSkipsIrreversible(t *testing.T) {
	dispatcher := newScriptedDispatcher("s3")
	auditor := &memAuditor{}
	orc := newTestOrchestrator(dispatcher, auditor)

	hard := compensableStep("s1")
	hard.Reversibility = domain.ReversibilityHardIrreversible

	noComp := compensableStep("s2")
	noComp.Compensation = nil

	saga := testSaga(hard, noComp, compensableStep("s3"))

	require.NoError(t, orc.Execute(context.Background(), saga))

	require.Equal(t, domain.SagaCompensated, saga.Status)
	// Оба исполненных шага пропущены: ни одного вызова Compensate
	require.Empty(t, dispatcher.compensated)
	require.Equal(t, domain.StepCompleted, saga.Steps[0].Status)
	require.Equal(t, domain.StepCompleted, saga.Steps[1].Status)
	require.Equal(t, 0, saga.CompensatedSteps())

	skips := 0
	for _, et := range auditor.types() {
		if et == audit.EventCompensationSkipped {
			skips++
		}
	}
	require.Equal(t, 2, skips)
}

func TestOrchestratorCompensationFailureContinues(t *testing.T) {
	dispatcher := newScriptedDispatcher("s3")
	dispatcher.failCompense = true
	auditor := &memAuditor{}
	orc := newTestOrchestrator(dispatcher, auditor)

	saga := testSaga(compensableStep("s1"), compensableStep("s2"), compensableStep("s3"))

	require.NoError(t, orc.Execute(context.Background(), saga))

	// Сбой отката не останавливает проход и не меняет терминальный статус
	require.Equal(t, domain.SagaCompensated, saga.Status)
	require.Equal(t, []string{"s2", "s1"}, dispatcher.compensated)
	require.Equal(t, 0, saga.CompensatedSteps())

	failures := 0
	for _, et := range auditor.types() {
		if et == audit.EventCompensationFailed {
			failures++
		}
	}
	require.Equal(t, 2, failures)
}

func TestOrchestratorApprovalPauseAndResume(t *testing.T) {
	dispatcher := newScriptedDispatcher()
	auditor := &memAuditor{}
	orc := newTestOrchestrator(dispatcher, auditor)

	gated := compensableStep("s2")
	gated.RequiresApproval = true

	saga := testSaga(compensableStep("s1"), gated, compensableStep("s3"))

	require.NoError(t, orc.Execute(context.Background(), saga))

	// Прогон остановился ПЕРЕД гейтованным шагом
	require.Equal(t, domain.SagaAwaitingApproval, saga.Status)
	require.Equal(t, 1, saga.CurrentStep)
	require.Equal(t, []string{"s1"}, dispatcher.executed)
	require.Contains(t, auditor.types(), audit.EventSagaPaused)

	// Возобновление: гейтованный шаг засчитан одобрением, без диспатча
	require.NoError(t, orc.Resume(context.Background(), saga))

	require.Equal(t, domain.SagaCompleted, saga.Status)
	require.Equal(t, 3, saga.CurrentStep)
	require.Equal(t, []string{"s1", "s3"}, dispatcher.executed)
	require.Equal(t, domain.StepCompleted, saga.Steps[1].Status)
	require.Contains(t, auditor.types(), audit.EventApprovalSubstituted)
	require.Contains(t, auditor.types(), audit.EventSagaResumed)
}

func TestOrchestratorResumePreconditions(t *testing.T) {
	orc := newTestOrchestrator(newScriptedDispatcher(), nil)

	for _, status := range []domain.SagaStatus{
		domain.SagaPending, domain.SagaRunning, domain.SagaCompleted,
		domain.SagaFailed, domain.SagaCompensating, domain.SagaCompensated,
	} {
		t.Run(string(status), func(t *testing.T) {
			saga := testSaga(compensableStep("s1"))
			saga.Status = status
			err := orc.Resume(context.Background(), saga)
			require.ErrorIs(t, err, domain.ErrSagaNotResumable)
		})
	}
}

func TestOrchestratorManyStepsKeepOrder(t *testing.T) {
	dispatcher := newScriptedDispatcher()
	orc := newTestOrchestrator(dispatcher, nil)

	steps := make([]domain.SagaStep, 0, 10)
	want := make([]string, 0, 10)
	for i := 0; i < 10; i++ {
		id := fmt.Sprintf("s%02d", i)
		steps = append(steps, compensableStep(id))
		want = append(want, id)
	}
	saga := testSaga(steps...)

	require.NoError(t, orc.Execute(context.Background(), saga))

	require.Equal(t, domain.SagaCompleted, saga.Status)
	require.Equal(t, want, dispatcher.executed)
}
