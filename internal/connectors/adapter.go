package connectors

import "context"

// Operation — закрытый набор примитивов внешних финансовых систем.
// Роутинг по (система, операция) проверяется через Supports, а не через
// default-ветку строкового switch.
type Operation string

const (
	OpFindVendor      Operation = "find_vendor"
	OpCreateVendor    Operation = "create_vendor"
	OpCreateBill      Operation = "create_bill"
	OpDeleteBill      Operation = "delete_bill"
	OpSchedulePayment Operation = "schedule_payment"
	OpVoidPayment     Operation = "void_payment"
)

// Vendor — контрагент во внешней системе.
type Vendor struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// BillInput — параметры создания счета. Маппинг на конкретные поля
// вендорского API — забота адаптера, не ядра.
type BillInput struct {
	VendorID      string  `json:"vendor_id"`
	Amount        float64 `json:"amount"`
	Currency      string  `json:"currency,omitempty"`
	InvoiceNumber string  `json:"invoice_number,omitempty"`
	DueDate       string  `json:"due_date,omitempty"`
	Memo          string  `json:"memo,omitempty"`
}

type Bill struct {
	ID       string  `json:"id"`
	VendorID string  `json:"vendor_id"`
	Amount   float64 `json:"amount"`
}

// PaymentInput — параметры планирования платежа.
type PaymentInput struct {
	BillID      string  `json:"bill_id,omitempty"`
	VendorID    string  `json:"vendor_id,omitempty"`
	Amount      float64 `json:"amount"`
	ProcessDate string  `json:"process_date,omitempty"`
}

type Payment struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// Adapter — контракт одной внешней финансовой системы.
// Каждая реализация покрывает свое подмножество операций; вызов
// неподдерживаемой операции возвращает *AdapterError.
// Все вызовы идут только через resilience-слой ядра.
type Adapter interface {
	Name() string
	Supports(op Operation) bool

	// FindVendorByName возвращает (nil, nil), если контрагент не найден —
	// отсутствие не является ошибкой.
	FindVendorByName(ctx context.Context, name string) (*Vendor, error)
	CreateVendor(ctx context.Context, name string) (*Vendor, error)
	CreateBill(ctx context.Context, in BillInput) (*Bill, error)
	DeleteBill(ctx context.Context, externalID string) error
	SchedulePayment(ctx context.Context, in PaymentInput) (*Payment, error)
	VoidPayment(ctx context.Context, externalID string) error
}
