package billing

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// UtilityBilling supplies utility charges for a unit. Results must be the
// same for repeated calls over the same period.
type UtilityBilling interface {
	GetChargesForPeriod(ctx context.Context, unitID uuid.UUID, periodStart, periodEnd time.Time) ([]InvoiceLineItem, error)
}

// Notifier is told about allocated payments. Delivery is best effort.
type Notifier interface {
	PaymentConfirmed(ctx context.Context, tenantID, invoiceID uuid.UUID, amountApplied decimal.Decimal) error
}
