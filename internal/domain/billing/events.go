package billing

import (
	"time"

	"github.com/google/uuid"
	"github.com/rentbill/backend/internal/domain/shared"
	"github.com/shopspring/decimal"
)

// Event type names
const (
	EventTypeInvoiceGenerated     = "InvoiceGenerated"
	EventTypeInvoicePaid          = "InvoicePaid"
	EventTypeInvoiceVoided        = "InvoiceVoided"
	EventTypePaymentRecorded      = "PaymentRecorded"
	EventTypePaymentAllocated     = "PaymentAllocated"
	EventTypePaymentStatusChanged = "PaymentStatusChanged"
)

const (
	aggregateTypeInvoice = "Invoice"
	aggregateTypePayment = "Payment"
)

// InvoiceGeneratedEvent is raised when a period invoice is created
type InvoiceGeneratedEvent struct {
	shared.BaseDomainEvent
	InvoiceID      uuid.UUID       `json:"invoice_id"`
	TenantID       uuid.UUID       `json:"tenant_id"`
	PeriodStart    time.Time       `json:"period_start"`
	DueDate        time.Time       `json:"due_date"`
	Amount         decimal.Decimal `json:"amount"`
	OpeningBalance decimal.Decimal `json:"opening_balance"`
}

// NewInvoiceGeneratedEvent creates an InvoiceGeneratedEvent
func NewInvoiceGeneratedEvent(inv *Invoice) *InvoiceGeneratedEvent {
	return &InvoiceGeneratedEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent(EventTypeInvoiceGenerated, aggregateTypeInvoice, inv.ID, inv.LandlordID),
		InvoiceID:       inv.ID,
		TenantID:        inv.TenantID,
		PeriodStart:     inv.PeriodStart,
		DueDate:         inv.DueDate,
		Amount:          inv.Amount,
		OpeningBalance:  inv.OpeningBalance,
	}
}

// InvoicePaidEvent is raised when an invoice balance reaches zero
type InvoicePaidEvent struct {
	shared.BaseDomainEvent
	InvoiceID uuid.UUID `json:"invoice_id"`
	TenantID  uuid.UUID `json:"tenant_id"`
}

// NewInvoicePaidEvent creates an InvoicePaidEvent
func NewInvoicePaidEvent(inv *Invoice) *InvoicePaidEvent {
	return &InvoicePaidEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent(EventTypeInvoicePaid, aggregateTypeInvoice, inv.ID, inv.LandlordID),
		InvoiceID:       inv.ID,
		TenantID:        inv.TenantID,
	}
}

// InvoiceVoidedEvent is raised when a landlord voids an invoice
type InvoiceVoidedEvent struct {
	shared.BaseDomainEvent
	InvoiceID      uuid.UUID       `json:"invoice_id"`
	TenantID       uuid.UUID       `json:"tenant_id"`
	Reason         string          `json:"reason"`
	ReleasedCredit decimal.Decimal `json:"released_credit"`
}

// NewInvoiceVoidedEvent creates an InvoiceVoidedEvent
func NewInvoiceVoidedEvent(inv *Invoice, released decimal.Decimal) *InvoiceVoidedEvent {
	return &InvoiceVoidedEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent(EventTypeInvoiceVoided, aggregateTypeInvoice, inv.ID, inv.LandlordID),
		InvoiceID:       inv.ID,
		TenantID:        inv.TenantID,
		Reason:          inv.VoidReason,
		ReleasedCredit:  released,
	}
}

// PaymentRecordedEvent is raised when funds are recorded
type PaymentRecordedEvent struct {
	shared.BaseDomainEvent
	PaymentID uuid.UUID       `json:"payment_id"`
	TenantID  uuid.UUID       `json:"tenant_id"`
	Amount    decimal.Decimal `json:"amount"`
	Reference string          `json:"reference"`
}

// NewPaymentRecordedEvent creates a PaymentRecordedEvent
func NewPaymentRecordedEvent(p *Payment) *PaymentRecordedEvent {
	return &PaymentRecordedEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent(EventTypePaymentRecorded, aggregateTypePayment, p.ID, p.LandlordID),
		PaymentID:       p.ID,
		TenantID:        p.TenantID,
		Amount:          p.Amount,
		Reference:       p.TransactionReference,
	}
}

// PaymentAllocatedEvent is raised after a payment has been spread across invoices
type PaymentAllocatedEvent struct {
	shared.BaseDomainEvent
	PaymentID   uuid.UUID           `json:"payment_id"`
	TenantID    uuid.UUID           `json:"tenant_id"`
	Allocations []PaymentAllocation `json:"allocations"`
	Unapplied   decimal.Decimal     `json:"unapplied"`
}

// NewPaymentAllocatedEvent creates a PaymentAllocatedEvent
func NewPaymentAllocatedEvent(p *Payment) *PaymentAllocatedEvent {
	return &PaymentAllocatedEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent(EventTypePaymentAllocated, aggregateTypePayment, p.ID, p.LandlordID),
		PaymentID:       p.ID,
		TenantID:        p.TenantID,
		Allocations:     p.Allocations,
		Unapplied:       p.UnappliedAmount,
	}
}

// PaymentStatusChangedEvent is raised on every payment status transition
type PaymentStatusChangedEvent struct {
	shared.BaseDomainEvent
	PaymentID uuid.UUID     `json:"payment_id"`
	TenantID  uuid.UUID     `json:"tenant_id"`
	From      PaymentStatus `json:"from"`
	To        PaymentStatus `json:"to"`
}

// NewPaymentStatusChangedEvent creates a PaymentStatusChangedEvent
func NewPaymentStatusChangedEvent(p *Payment, from PaymentStatus) *PaymentStatusChangedEvent {
	return &PaymentStatusChangedEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent(EventTypePaymentStatusChanged, aggregateTypePayment, p.ID, p.LandlordID),
		PaymentID:       p.ID,
		TenantID:        p.TenantID,
		From:            from,
		To:              p.Status,
	}
}
