package billing

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rentbill/backend/internal/domain/shared"
	"github.com/shopspring/decimal"
)

// TenantRepository persists leases.
type TenantRepository interface {
	FindByID(ctx context.Context, id uuid.UUID) (*Tenant, error)
	// FindActive returns active tenants, optionally restricted to one landlord.
	FindActive(ctx context.Context, landlordID *uuid.UUID) ([]*Tenant, error)
	Create(ctx context.Context, tenant *Tenant) error
	// SaveWithLock updates the tenant if its version is unchanged since it was read.
	SaveWithLock(ctx context.Context, tenant *Tenant) error
}

// InvoiceFilter narrows invoice listings
type InvoiceFilter struct {
	shared.Filter
	LandlordID *uuid.UUID
	TenantID   *uuid.UUID
	Status     *InvoiceStatus
	PeriodFrom *time.Time
	PeriodTo   *time.Time
}

// InvoiceRepository persists invoices together with their line items.
type InvoiceRepository interface {
	FindByID(ctx context.Context, id uuid.UUID) (*Invoice, error)
	// FindByTenantAndPeriod returns the non-void invoice of the tenant for the
	// period starting at periodStart, or ErrNotFound.
	FindByTenantAndPeriod(ctx context.Context, tenantID uuid.UUID, periodStart time.Time) (*Invoice, error)
	// FindPrior returns the latest non-void invoice of the tenant whose period
	// starts before periodStart, or ErrNotFound.
	FindPrior(ctx context.Context, tenantID uuid.UUID, periodStart time.Time) (*Invoice, error)
	// FindOutstandingByTenant returns non-Void, non-Paid invoices ordered by
	// due date, then creation time.
	FindOutstandingByTenant(ctx context.Context, tenantID uuid.UUID) ([]*Invoice, error)
	// FindSweepCandidates returns Issued or PartiallyPaid invoices due before asOf.
	FindSweepCandidates(ctx context.Context, asOf time.Time, limit int) ([]*Invoice, error)
	FindAll(ctx context.Context, filter InvoiceFilter) ([]*Invoice, int64, error)
	// Create inserts a new invoice. A second non-void invoice for the same
	// tenant and period start fails with ErrDuplicate.
	Create(ctx context.Context, invoice *Invoice) error
	SaveWithLock(ctx context.Context, invoice *Invoice) error
}

// PaymentRepository persists payments and their allocation records.
type PaymentRepository interface {
	FindByID(ctx context.Context, id uuid.UUID) (*Payment, error)
	FindByReference(ctx context.Context, landlordID uuid.UUID, reference string) (*Payment, error)
	// Create inserts a payment. A reused reference for the same landlord fails with ErrDuplicate.
	Create(ctx context.Context, payment *Payment) error
	// SaveWithLock updates the payment and inserts allocation records not yet stored.
	SaveWithLock(ctx context.Context, payment *Payment) error
	// SumAllocationsForInvoice totals allocations to invoiceID from payments
	// that are still completed.
	SumAllocationsForInvoice(ctx context.Context, invoiceID uuid.UUID) (decimal.Decimal, error)
}
