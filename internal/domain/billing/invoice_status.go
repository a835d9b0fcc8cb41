package billing

import (
	"time"

	"github.com/shopspring/decimal"
)

// InvoiceStatus is the lifecycle state of an invoice
type InvoiceStatus string

const (
	InvoiceStatusDraft         InvoiceStatus = "DRAFT"
	InvoiceStatusIssued        InvoiceStatus = "ISSUED"
	InvoiceStatusPartiallyPaid InvoiceStatus = "PARTIALLY_PAID"
	InvoiceStatusOverdue       InvoiceStatus = "OVERDUE"
	InvoiceStatusPaid          InvoiceStatus = "PAID"
	InvoiceStatusVoid          InvoiceStatus = "VOID"
)

// IsValid checks if the status is known
func (s InvoiceStatus) IsValid() bool {
	switch s {
	case InvoiceStatusDraft, InvoiceStatusIssued, InvoiceStatusPartiallyPaid,
		InvoiceStatusOverdue, InvoiceStatusPaid, InvoiceStatusVoid:
		return true
	}
	return false
}

// String returns the string representation
func (s InvoiceStatus) String() string {
	return string(s)
}

// IsOutstanding reports whether the invoice can still receive payments
func (s InvoiceStatus) IsOutstanding() bool {
	return s != InvoiceStatusPaid && s != InvoiceStatusVoid
}

// OutstandingStatuses lists every status an invoice may receive payments in
func OutstandingStatuses() []InvoiceStatus {
	return []InvoiceStatus{
		InvoiceStatusDraft,
		InvoiceStatusIssued,
		InvoiceStatusPartiallyPaid,
		InvoiceStatusOverdue,
	}
}

// CalculateBalance returns max(0, amount + openingBalance - allocatedTotal).
func CalculateBalance(inv *Invoice, allocatedTotal decimal.Decimal) decimal.Decimal {
	return decimal.Max(decimal.Zero, inv.Amount.Add(inv.OpeningBalance).Sub(allocatedTotal))
}

// CalculateStatus derives the status of inv as of asOf. Checks run in order
// and the first match wins; Overdue takes precedence over PartiallyPaid.
func CalculateStatus(inv *Invoice, allocatedTotal decimal.Decimal, asOf time.Time) InvoiceStatus {
	if inv.Status == InvoiceStatusVoid {
		return InvoiceStatusVoid
	}
	if !CalculateBalance(inv, allocatedTotal).IsPositive() {
		return InvoiceStatusPaid
	}
	if DateOf(inv.DueDate).Before(DateOf(asOf)) {
		return InvoiceStatusOverdue
	}
	if allocatedTotal.IsPositive() {
		return InvoiceStatusPartiallyPaid
	}
	if inv.Status == InvoiceStatusDraft {
		return InvoiceStatusDraft
	}
	return InvoiceStatusIssued
}

// Apply recomputes balance and status in place and reports whether either changed.
func Apply(inv *Invoice, allocatedTotal decimal.Decimal, asOf time.Time) bool {
	balance := CalculateBalance(inv, allocatedTotal)
	status := CalculateStatus(inv, allocatedTotal, asOf)

	changed := !balance.Equal(inv.Balance) || status != inv.Status
	inv.Balance = balance
	inv.Status = status
	return changed
}
