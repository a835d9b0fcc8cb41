package billing

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rentbill/backend/internal/domain/shared"
	"github.com/shopspring/decimal"
)

// Invoice is one billing period for one tenant.
//
// AllocatedAmount is the sum of payment allocations. CarriedForwardAmount is
// unpaid balance moved into a later invoice's opening balance; both count
// toward the allocated total so the same debt is only ever owed once.
// CreditApplied is tenant credit netted into the opening balance.
type Invoice struct {
	shared.LandlordAggregateRoot
	TenantID             uuid.UUID
	UnitID               uuid.UUID
	PropertyID           uuid.UUID
	PeriodStart          time.Time
	PeriodEnd            time.Time
	DueDate              time.Time
	Amount               decimal.Decimal
	OpeningBalance       decimal.Decimal
	AllocatedAmount      decimal.Decimal
	CarriedForwardAmount decimal.Decimal
	CarriedForwardTo     *uuid.UUID
	CreditApplied        decimal.Decimal
	Balance              decimal.Decimal
	Status               InvoiceStatus
	LineItems            []InvoiceLineItem
	IssuedAt             *time.Time
	PaidAt               *time.Time
	VoidedAt             *time.Time
	VoidReason           string
}

// NewInvoice builds an invoice for tenant over the given period from ordered
// line items. initialStatus must be Draft or Issued.
func NewInvoice(
	tenant *Tenant,
	periodStart, periodEnd, dueDate time.Time,
	items []InvoiceLineItem,
	initialStatus InvoiceStatus,
	asOf time.Time,
) (*Invoice, error) {
	if tenant == nil {
		return nil, shared.NewDomainError(shared.CodeInvalidArgument, "tenant is required")
	}
	if initialStatus != InvoiceStatusDraft && initialStatus != InvoiceStatusIssued {
		return nil, shared.NewDomainError(shared.CodeInvalidArgument,
			fmt.Sprintf("initial status must be DRAFT or ISSUED, got %s", initialStatus))
	}
	if DateOf(periodEnd).Before(DateOf(periodStart)) {
		return nil, shared.NewDomainError(shared.CodeInvalidArgument, "period end precedes period start")
	}

	inv := &Invoice{
		LandlordAggregateRoot: shared.NewLandlordAggregateRoot(tenant.LandlordID),
		TenantID:              tenant.ID,
		UnitID:                tenant.UnitID,
		PropertyID:            tenant.PropertyID,
		PeriodStart:           DateOf(periodStart),
		PeriodEnd:             DateOf(periodEnd),
		DueDate:               DateOf(dueDate),
		AllocatedAmount:       decimal.Zero,
		CarriedForwardAmount:  decimal.Zero,
		CreditApplied:         decimal.Zero,
		Status:                initialStatus,
	}

	inv.LineItems = make([]InvoiceLineItem, len(items))
	for i, li := range items {
		if li.ID == uuid.Nil {
			li.ID = uuid.New()
		}
		li.InvoiceID = inv.ID
		li.Position = i + 1
		inv.LineItems[i] = li
	}
	inv.Amount, inv.OpeningBalance = sumLines(inv.LineItems)

	if initialStatus == InvoiceStatusIssued {
		issued := asOf
		inv.IssuedAt = &issued
	}
	inv.Recalculate(asOf)
	inv.AddDomainEvent(NewInvoiceGeneratedEvent(inv))
	return inv, nil
}

// AllocatedTotal is everything that reduced this invoice's balance.
func (inv *Invoice) AllocatedTotal() decimal.Decimal {
	return inv.AllocatedAmount.Add(inv.CarriedForwardAmount)
}

// Recalculate runs Apply with the invoice's own allocated total. A draft that
// leaves Draft this way counts as issued at asOf.
func (inv *Invoice) Recalculate(asOf time.Time) bool {
	before := inv.Status
	changed := Apply(inv, inv.AllocatedTotal(), asOf)
	if changed {
		inv.Touch()
	}
	if before == InvoiceStatusDraft && inv.Status != InvoiceStatusDraft && inv.IssuedAt == nil {
		issued := asOf
		inv.IssuedAt = &issued
	}
	if before != InvoiceStatusPaid && inv.Status == InvoiceStatusPaid {
		paidAt := asOf
		inv.PaidAt = &paidAt
		inv.AddDomainEvent(NewInvoicePaidEvent(inv))
	} else if inv.Status != InvoiceStatusPaid {
		inv.PaidAt = nil
	}
	return changed
}

// Issue moves a draft invoice to Issued.
func (inv *Invoice) Issue(asOf time.Time) error {
	if inv.Status != InvoiceStatusDraft {
		return shared.NewDomainError(shared.CodeInvalidState,
			fmt.Sprintf("cannot issue invoice in %s status", inv.Status))
	}
	inv.Status = InvoiceStatusIssued
	issued := asOf
	inv.IssuedAt = &issued
	inv.Recalculate(asOf)
	return nil
}

// Void cancels the invoice. It returns the payment money allocated to it plus
// the tenant credit it consumed; the caller must return both to the tenant.
func (inv *Invoice) Void(reason string, asOf time.Time) (released decimal.Decimal, err error) {
	if !inv.Status.IsOutstanding() {
		return decimal.Zero, shared.NewDomainError(shared.CodeInvalidState,
			fmt.Sprintf("cannot void invoice in %s status", inv.Status))
	}
	if reason == "" {
		return decimal.Zero, shared.NewDomainError(shared.CodeInvalidArgument, "void reason is required")
	}
	inv.Status = InvoiceStatusVoid
	inv.VoidReason = reason
	voided := asOf
	inv.VoidedAt = &voided
	inv.Touch()
	released = inv.AllocatedAmount.Add(inv.CreditApplied)
	inv.AddDomainEvent(NewInvoiceVoidedEvent(inv, released))
	return released, nil
}

// CarriedIn is the prior balance this invoice took over, before credit.
func (inv *Invoice) CarriedIn() decimal.Decimal {
	return inv.OpeningBalance.Add(inv.CreditApplied)
}

// ApplyAllocation records amount of a payment against this invoice.
func (inv *Invoice) ApplyAllocation(amount decimal.Decimal, asOf time.Time) error {
	if !inv.Status.IsOutstanding() {
		return shared.NewDomainError(shared.CodeInvalidState,
			fmt.Sprintf("cannot allocate to invoice in %s status", inv.Status))
	}
	if !amount.IsPositive() {
		return shared.NewDomainError(shared.CodeInvalidArgument, "allocation amount must be positive")
	}
	if amount.GreaterThan(inv.Balance) {
		return shared.NewDomainError(shared.CodeInvalidArgument,
			fmt.Sprintf("allocation %s exceeds balance %s", amount.StringFixed(2), inv.Balance.StringFixed(2)))
	}
	inv.AllocatedAmount = inv.AllocatedAmount.Add(amount)
	inv.Recalculate(asOf)
	return nil
}

// RemoveAllocation reverses a previous allocation, for example on refund.
// Paid invoices accept the reversal and reopen.
func (inv *Invoice) RemoveAllocation(amount decimal.Decimal, asOf time.Time) error {
	if inv.Status == InvoiceStatusVoid {
		return shared.NewDomainError(shared.CodeInvalidState, "cannot change allocations of a void invoice")
	}
	if !amount.IsPositive() {
		return shared.NewDomainError(shared.CodeInvalidArgument, "allocation amount must be positive")
	}
	if amount.GreaterThan(inv.AllocatedAmount) {
		return shared.NewDomainError(shared.CodeInvalidArgument, "cannot remove more than was allocated")
	}
	inv.AllocatedAmount = inv.AllocatedAmount.Sub(amount)
	inv.Recalculate(asOf)
	return nil
}

// CarryForwardTo moves the remaining balance into the invoice identified by
// next, settling this one. It returns the amount moved.
//
// The invoice ends up PAID although no money arrived: PAID here also means the
// debt was rolled over. CarriedForwardAmount and CarriedForwardTo tell the two
// apart, and the debt is owed on next.
func (inv *Invoice) CarryForwardTo(next uuid.UUID, asOf time.Time) decimal.Decimal {
	if !inv.Status.IsOutstanding() || !inv.Balance.IsPositive() {
		return decimal.Zero
	}
	moved := inv.Balance
	inv.CarriedForwardAmount = inv.CarriedForwardAmount.Add(moved)
	inv.CarriedForwardTo = &next
	inv.Recalculate(asOf)
	return moved
}

// ReleaseCarryForward undoes up to amount of a carry-forward into the invoice
// identified by from, which was voided. The balance is owed here again.
func (inv *Invoice) ReleaseCarryForward(from uuid.UUID, amount decimal.Decimal, asOf time.Time) decimal.Decimal {
	if inv.CarriedForwardTo == nil || *inv.CarriedForwardTo != from || !amount.IsPositive() {
		return decimal.Zero
	}
	restored := decimal.Min(amount, inv.CarriedForwardAmount)
	inv.CarriedForwardAmount = inv.CarriedForwardAmount.Sub(restored)
	inv.CarriedForwardTo = nil
	inv.Recalculate(asOf)
	inv.Touch()
	return restored
}

// IsOverdueAt reports whether the invoice would be overdue as of asOf.
func (inv *Invoice) IsOverdueAt(asOf time.Time) bool {
	return CalculateStatus(inv, inv.AllocatedTotal(), asOf) == InvoiceStatusOverdue
}
