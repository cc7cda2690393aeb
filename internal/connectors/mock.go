package connectors

import (
	"context"
	"fmt"
	"math/rand/v2" // Используем v2 для Go 1.25
	"sync"
	"time"

	"github.com/google/uuid"
)

// MockBooksAdapter имитирует бухгалтерскую систему (vendors + bills).
// Используется в тестах и в локальном окружении без реальных интеграций.
type MockBooksAdapter struct {
	mu      sync.Mutex
	vendors map[string]*Vendor // name -> vendor
	bills   map[string]*Bill   // id -> bill

	// FailOn заставляет именованную операцию возвращать 500-ку
	// (для сценариев отказов в тестах resilience/компенсаций).
	FailOn map[Operation]bool
}

func NewMockBooksAdapter() *MockBooksAdapter {
	return &MockBooksAdapter{
		vendors: make(map[string]*Vendor),
		bills:   make(map[string]*Bill),
		FailOn:  make(map[Operation]bool),
	}
}

func (a *MockBooksAdapter) Name() string { return "ledgerbooks" }

func (a *MockBooksAdapter) Supports(op Operation) bool {
	switch op {
	case OpFindVendor, OpCreateVendor, OpCreateBill, OpDeleteBill:
		return true
	}
	return false
}

// simulateLatency имитирует сетевую задержку 5-30мс с уважением контекста.
func simulateLatency(ctx context.Context) error {
	latency := time.Duration(5+rand.IntN(25)) * time.Millisecond
	select {
	case <-time.After(latency):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (a *MockBooksAdapter) fail(op Operation) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.FailOn[op] {
		return &AdapterError{System: a.Name(), Op: op, StatusCode: 500, Message: "simulated backend failure"}
	}
	return nil
}

func (a *MockBooksAdapter) FindVendorByName(ctx context.Context, name string) (*Vendor, error) {
	if err := simulateLatency(ctx); err != nil {
		return nil, err
	}
	if err := a.fail(OpFindVendor); err != nil {
		return nil, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if v, ok := a.vendors[name]; ok {
		return v, nil
	}
	return nil, nil // Не найден — не ошибка
}

func (a *MockBooksAdapter) CreateVendor(ctx context.Context, name string) (*Vendor, error) {
	if err := simulateLatency(ctx); err != nil {
		return nil, err
	}
	if err := a.fail(OpCreateVendor); err != nil {
		return nil, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	v := &Vendor{ID: "V-" + uuid.New().String()[:8], Name: name}
	a.vendors[name] = v
	return v, nil
}

func (a *MockBooksAdapter) CreateBill(ctx context.Context, in BillInput) (*Bill, error) {
	if err := simulateLatency(ctx); err != nil {
		return nil, err
	}
	if err := a.fail(OpCreateBill); err != nil {
		return nil, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	b := &Bill{ID: "B-" + uuid.New().String()[:8], VendorID: in.VendorID, Amount: in.Amount}
	a.bills[b.ID] = b
	return b, nil
}

func (a *MockBooksAdapter) DeleteBill(ctx context.Context, externalID string) error {
	if err := simulateLatency(ctx); err != nil {
		return err
	}
	if err := a.fail(OpDeleteBill); err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.bills[externalID]; !ok {
		return &AdapterError{System: a.Name(), Op: OpDeleteBill, StatusCode: 404,
			Message: fmt.Sprintf("bill %s not found", externalID)}
	}
	delete(a.bills, externalID)
	return nil
}

func (a *MockBooksAdapter) SchedulePayment(ctx context.Context, in PaymentInput) (*Payment, error) {
	return nil, NewUnsupported(a.Name(), OpSchedulePayment)
}

func (a *MockBooksAdapter) VoidPayment(ctx context.Context, externalID string) error {
	return NewUnsupported(a.Name(), OpVoidPayment)
}

// MockPayAdapter имитирует платежную систему (schedule/void payment).
type MockPayAdapter struct {
	mu       sync.Mutex
	payments map[string]*Payment
	FailOn   map[Operation]bool
}

func NewMockPayAdapter() *MockPayAdapter {
	return &MockPayAdapter{
		payments: make(map[string]*Payment),
		FailOn:   make(map[Operation]bool),
	}
}

func (a *MockPayAdapter) Name() string { return "paystream" }

func (a *MockPayAdapter) Supports(op Operation) bool {
	return op == OpSchedulePayment || op == OpVoidPayment
}

func (a *MockPayAdapter) fail(op Operation) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.FailOn[op] {
		return &AdapterError{System: a.Name(), Op: op, StatusCode: 500, Message: "simulated backend failure"}
	}
	return nil
}

func (a *MockPayAdapter) FindVendorByName(ctx context.Context, name string) (*Vendor, error) {
	return nil, NewUnsupported(a.Name(), OpFindVendor)
}

func (a *MockPayAdapter) CreateVendor(ctx context.Context, name string) (*Vendor, error) {
	return nil, NewUnsupported(a.Name(), OpCreateVendor)
}

func (a *MockPayAdapter) CreateBill(ctx context.Context, in BillInput) (*Bill, error) {
	return nil, NewUnsupported(a.Name(), OpCreateBill)
}

func (a *MockPayAdapter) DeleteBill(ctx context.Context, externalID string) error {
	return NewUnsupported(a.Name(), OpDeleteBill)
}

func (a *MockPayAdapter) SchedulePayment(ctx context.Context, in PaymentInput) (*Payment, error) {
	if err := simulateLatency(ctx); err != nil {
		return nil, err
	}
	if err := a.fail(OpSchedulePayment); err != nil {
		return nil, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	p := &Payment{ID: "P-" + uuid.New().String()[:8], Status: "scheduled"}
	a.payments[p.ID] = p
	return p, nil
}

func (a *MockPayAdapter) VoidPayment(ctx context.Context, externalID string) error {
	if err := simulateLatency(ctx); err != nil {
		return err
	}
	if err := a.fail(OpVoidPayment); err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	p, ok := a.payments[externalID]
	if !ok {
		return &AdapterError{System: a.Name(), Op: OpVoidPayment, StatusCode: 404,
			Message: fmt.Sprintf("payment %s not found", externalID)}
	}
	p.Status = "voided"
	return nil
}
