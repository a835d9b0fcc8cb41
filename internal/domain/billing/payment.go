package billing

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rentbill/backend/internal/domain/shared"
	"github.com/shopspring/decimal"
)

// PaymentMethod is how funds were received
type PaymentMethod string

const (
	PaymentMethodCash         PaymentMethod = "CASH"
	PaymentMethodBankTransfer PaymentMethod = "BANK_TRANSFER"
	PaymentMethodCard         PaymentMethod = "CARD"
	PaymentMethodMobileMoney  PaymentMethod = "MOBILE_MONEY"
	PaymentMethodGateway      PaymentMethod = "GATEWAY"
)

// IsValid checks if the method is known
func (m PaymentMethod) IsValid() bool {
	switch m {
	case PaymentMethodCash, PaymentMethodBankTransfer, PaymentMethodCard,
		PaymentMethodMobileMoney, PaymentMethodGateway:
		return true
	}
	return false
}

// PaymentStatus is the state of a funds receipt
type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "PENDING"
	PaymentStatusCompleted PaymentStatus = "COMPLETED"
	PaymentStatusFailed    PaymentStatus = "FAILED"
	PaymentStatusRefunded  PaymentStatus = "REFUNDED"
)

// IsValid checks if the status is known
func (s PaymentStatus) IsValid() bool {
	switch s {
	case PaymentStatusPending, PaymentStatusCompleted, PaymentStatusFailed, PaymentStatusRefunded:
		return true
	}
	return false
}

// String returns the string representation
func (s PaymentStatus) String() string {
	return string(s)
}

// CanTransitionTo reports whether s may move to next
func (s PaymentStatus) CanTransitionTo(next PaymentStatus) bool {
	switch s {
	case PaymentStatusPending:
		return next == PaymentStatusCompleted || next == PaymentStatusFailed || next == PaymentStatusRefunded
	case PaymentStatusCompleted:
		return next == PaymentStatusRefunded
	}
	return false
}

// PaymentAllocation links a portion of a payment to one invoice
type PaymentAllocation struct {
	ID          uuid.UUID
	PaymentID   uuid.UUID
	InvoiceID   uuid.UUID
	Amount      decimal.Decimal
	AllocatedAt time.Time
}

// Payment is a recorded receipt of funds from a tenant
type Payment struct {
	shared.LandlordAggregateRoot
	TenantID             uuid.UUID
	Amount               decimal.Decimal
	PaymentDate          time.Time
	Method               PaymentMethod
	TransactionReference string
	Status               PaymentStatus
	Allocations          []PaymentAllocation
	UnappliedAmount      decimal.Decimal
	AllocatedAt          *time.Time
	Notes                string
}

// NewPayment records a receipt. An empty reference is replaced by a
// generated MANUAL- reference so the per-landlord uniqueness still holds.
func NewPayment(
	landlordID, tenantID uuid.UUID,
	amount decimal.Decimal,
	paymentDate time.Time,
	method PaymentMethod,
	reference string,
	status PaymentStatus,
) (*Payment, error) {
	if !amount.IsPositive() {
		return nil, shared.NewDomainError(shared.CodeInvalidArgument, "payment amount must be positive")
	}
	if tenantID == uuid.Nil {
		return nil, shared.NewDomainError(shared.CodeInvalidArgument, "tenant is required")
	}
	if !method.IsValid() {
		return nil, shared.NewDomainError(shared.CodeInvalidArgument, fmt.Sprintf("unknown payment method %q", method))
	}
	if status == "" {
		status = PaymentStatusCompleted
	}
	if !status.IsValid() || status == PaymentStatusRefunded {
		return nil, shared.NewDomainError(shared.CodeInvalidArgument, fmt.Sprintf("payment cannot be recorded as %s", status))
	}

	reference = strings.TrimSpace(reference)
	if reference == "" {
		reference = "MANUAL-" + uuid.NewString()
	}

	p := &Payment{
		LandlordAggregateRoot: shared.NewLandlordAggregateRoot(landlordID),
		TenantID:              tenantID,
		Amount:                amount,
		PaymentDate:           paymentDate,
		Method:                method,
		TransactionReference:  reference,
		Status:                status,
		UnappliedAmount:       decimal.Zero,
	}
	p.AddDomainEvent(NewPaymentRecordedEvent(p))
	return p, nil
}

// IsAllocated reports whether allocation has already run for this payment
func (p *Payment) IsAllocated() bool {
	return p.AllocatedAt != nil
}

// CanAllocate reports whether the payment holds confirmed funds that were not yet allocated
func (p *Payment) CanAllocate() bool {
	return p.Status == PaymentStatusCompleted && !p.IsAllocated()
}

// TransitionTo moves the payment to next. It returns the previous status.
func (p *Payment) TransitionTo(next PaymentStatus) (PaymentStatus, error) {
	prev := p.Status
	if !prev.CanTransitionTo(next) {
		return prev, shared.NewDomainError(shared.CodeInvalidState,
			fmt.Sprintf("cannot move payment from %s to %s", prev, next))
	}
	p.Status = next
	p.Touch()
	p.AddDomainEvent(NewPaymentStatusChangedEvent(p, prev))
	return prev, nil
}

// RecordAllocation stores the outcome of an allocation run.
func (p *Payment) RecordAllocation(results []AllocationResult, remainder decimal.Decimal, at time.Time) error {
	if !p.CanAllocate() {
		return shared.NewDomainError(shared.CodeInvalidState, "payment is not eligible for allocation")
	}
	total := remainder
	p.Allocations = make([]PaymentAllocation, 0, len(results))
	for _, r := range results {
		p.Allocations = append(p.Allocations, PaymentAllocation{
			ID:          uuid.New(),
			PaymentID:   p.ID,
			InvoiceID:   r.TargetID,
			Amount:      r.Amount,
			AllocatedAt: at,
		})
		total = total.Add(r.Amount)
	}
	if !total.Equal(p.Amount) {
		return shared.NewDomainError(shared.CodeInvalidState,
			fmt.Sprintf("allocations %s do not add up to payment amount %s", total.StringFixed(2), p.Amount.StringFixed(2)))
	}
	p.UnappliedAmount = remainder
	allocatedAt := at
	p.AllocatedAt = &allocatedAt
	p.Touch()
	p.AddDomainEvent(NewPaymentAllocatedEvent(p))
	return nil
}

// AppliedAmount is the part of the payment that went to invoices
func (p *Payment) AppliedAmount() decimal.Decimal {
	return p.Amount.Sub(p.UnappliedAmount)
}
