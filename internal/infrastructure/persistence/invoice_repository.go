package persistence

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rentbill/backend/internal/domain/billing"
	"github.com/rentbill/backend/internal/infrastructure/persistence/models"
	"gorm.io/gorm"
)

// GormInvoiceRepository implements billing.InvoiceRepository using GORM.
// Line items are always loaded with their invoice.
type GormInvoiceRepository struct {
	db *gorm.DB
}

// NewGormInvoiceRepository creates a new GormInvoiceRepository
func NewGormInvoiceRepository(db *gorm.DB) *GormInvoiceRepository {
	return &GormInvoiceRepository{db: db}
}

func (r *GormInvoiceRepository) query(ctx context.Context) *gorm.DB {
	return r.db.WithContext(ctx).
		Model(&models.InvoiceModel{}).
		Preload("LineItems", func(db *gorm.DB) *gorm.DB {
			return db.Order("position ASC")
		})
}

func (r *GormInvoiceRepository) first(query *gorm.DB) (*billing.Invoice, error) {
	var model models.InvoiceModel
	if err := query.First(&model).Error; err != nil {
		return nil, TranslateError(err)
	}
	return model.ToDomain(), nil
}

func (r *GormInvoiceRepository) find(query *gorm.DB) ([]*billing.Invoice, error) {
	var rows []models.InvoiceModel
	if err := query.Find(&rows).Error; err != nil {
		return nil, err
	}
	invoices := make([]*billing.Invoice, len(rows))
	for i := range rows {
		invoices[i] = rows[i].ToDomain()
	}
	return invoices, nil
}

// FindByID finds an invoice by its ID
func (r *GormInvoiceRepository) FindByID(ctx context.Context, id uuid.UUID) (*billing.Invoice, error) {
	return r.first(r.query(ctx).Where("id = ?", id))
}

// FindByTenantAndPeriod returns the non-void invoice for the period starting at periodStart
func (r *GormInvoiceRepository) FindByTenantAndPeriod(ctx context.Context, tenantID uuid.UUID, periodStart time.Time) (*billing.Invoice, error) {
	return r.first(r.query(ctx).
		Where("tenant_id = ? AND period_start = ? AND status <> ?", tenantID, billing.DateOf(periodStart), billing.InvoiceStatusVoid))
}

// FindPrior returns the latest non-void invoice starting before periodStart
func (r *GormInvoiceRepository) FindPrior(ctx context.Context, tenantID uuid.UUID, periodStart time.Time) (*billing.Invoice, error) {
	return r.first(r.query(ctx).
		Where("tenant_id = ? AND period_start < ? AND status <> ?", tenantID, billing.DateOf(periodStart), billing.InvoiceStatusVoid).
		Order("period_start DESC"))
}

// FindOutstandingByTenant returns invoices that can still receive payments,
// oldest due date first
func (r *GormInvoiceRepository) FindOutstandingByTenant(ctx context.Context, tenantID uuid.UUID) ([]*billing.Invoice, error) {
	return r.find(r.query(ctx).
		Where("tenant_id = ? AND status IN ?", tenantID, billing.OutstandingStatuses()).
		Order("due_date ASC, created_at ASC, id ASC"))
}

// FindSweepCandidates returns issued or partially paid invoices due before asOf
func (r *GormInvoiceRepository) FindSweepCandidates(ctx context.Context, asOf time.Time, limit int) ([]*billing.Invoice, error) {
	query := r.query(ctx).
		Where("status IN ? AND due_date < ?",
			[]billing.InvoiceStatus{billing.InvoiceStatusIssued, billing.InvoiceStatusPartiallyPaid},
			billing.DateOf(asOf)).
		Order("due_date ASC, id ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	return r.find(query)
}

// FindAll returns one page of invoices matching filter and the total count
func (r *GormInvoiceRepository) FindAll(ctx context.Context, filter billing.InvoiceFilter) ([]*billing.Invoice, int64, error) {
	query := r.db.WithContext(ctx).Model(&models.InvoiceModel{})
	if filter.LandlordID != nil {
		query = query.Scopes(LandlordScope(*filter.LandlordID))
	}
	if filter.TenantID != nil {
		query = query.Where("tenant_id = ?", *filter.TenantID)
	}
	if filter.Status != nil {
		query = query.Where("status = ?", *filter.Status)
	}
	if filter.PeriodFrom != nil {
		query = query.Where("period_start >= ?", billing.DateOf(*filter.PeriodFrom))
	}
	if filter.PeriodTo != nil {
		query = query.Where("period_start <= ?", billing.DateOf(*filter.PeriodTo))
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	orderBy := ValidateSortField(filter.OrderBy, InvoiceSortFields, "period_start")
	orderDir := ValidateSortOrder(filter.OrderDir)
	query = query.
		Preload("LineItems", func(db *gorm.DB) *gorm.DB { return db.Order("position ASC") }).
		Order(orderBy + " " + orderDir).
		Order("id ASC")
	if filter.PageSize > 0 {
		query = query.Offset(filter.Offset()).Limit(filter.PageSize)
	}

	invoices, err := r.find(query)
	if err != nil {
		return nil, 0, err
	}
	return invoices, total, nil
}

// Create inserts the invoice and its line items
func (r *GormInvoiceRepository) Create(ctx context.Context, invoice *billing.Invoice) error {
	return TranslateError(r.db.WithContext(ctx).Create(models.InvoiceModelFromDomain(invoice)).Error)
}

// SaveWithLock updates the invoice header if its version is unchanged.
// Line items are immutable once the invoice exists.
func (r *GormInvoiceRepository) SaveWithLock(ctx context.Context, invoice *billing.Invoice) error {
	m := models.InvoiceModelFromDomain(invoice)
	result := r.db.WithContext(ctx).
		Model(&models.InvoiceModel{}).
		Where("id = ? AND version = ?", invoice.ID, invoice.Version).
		Updates(map[string]any{
			"amount":                 m.Amount,
			"opening_balance":        m.OpeningBalance,
			"allocated_amount":       m.AllocatedAmount,
			"carried_forward_amount": m.CarriedForwardAmount,
			"carried_forward_to":     m.CarriedForwardTo,
			"credit_applied":         m.CreditApplied,
			"balance":                m.Balance,
			"status":                 m.Status,
			"issued_at":              m.IssuedAt,
			"paid_at":                m.PaidAt,
			"voided_at":              m.VoidedAt,
			"void_reason":            m.VoidReason,
			"version":                gorm.Expr("version + 1"),
			"updated_at":             time.Now(),
		})
	if result.Error != nil {
		return TranslateError(result.Error)
	}
	if result.RowsAffected == 0 {
		return concurrencyConflict("invoice")
	}
	invoice.IncrementVersion()
	return nil
}

var _ billing.InvoiceRepository = (*GormInvoiceRepository)(nil)
