package persistence

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rentbill/backend/internal/domain/billing"
	"github.com/rentbill/backend/internal/infrastructure/persistence/models"
	"gorm.io/gorm"
)

// GormTenantRepository implements billing.TenantRepository using GORM
type GormTenantRepository struct {
	db *gorm.DB
}

// NewGormTenantRepository creates a new GormTenantRepository
func NewGormTenantRepository(db *gorm.DB) *GormTenantRepository {
	return &GormTenantRepository{db: db}
}

// FindByID finds a tenant by its ID
func (r *GormTenantRepository) FindByID(ctx context.Context, id uuid.UUID) (*billing.Tenant, error) {
	var model models.TenantModel
	if err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		return nil, TranslateError(err)
	}
	return model.ToDomain(), nil
}

// FindActive returns active tenants ordered by creation, optionally for one landlord
func (r *GormTenantRepository) FindActive(ctx context.Context, landlordID *uuid.UUID) ([]*billing.Tenant, error) {
	query := r.db.WithContext(ctx).
		Where("status = ?", billing.TenantStatusActive)
	if landlordID != nil {
		query = query.Scopes(LandlordScope(*landlordID))
	}

	var rows []models.TenantModel
	if err := query.Order("created_at ASC, id ASC").Find(&rows).Error; err != nil {
		return nil, err
	}
	tenants := make([]*billing.Tenant, len(rows))
	for i := range rows {
		tenants[i] = rows[i].ToDomain()
	}
	return tenants, nil
}

// Create inserts a new tenant
func (r *GormTenantRepository) Create(ctx context.Context, tenant *billing.Tenant) error {
	return TranslateError(r.db.WithContext(ctx).Create(models.TenantModelFromDomain(tenant)).Error)
}

// SaveWithLock updates the mutable lease fields if the stored version still
// matches tenant.Version, then advances tenant.Version.
func (r *GormTenantRepository) SaveWithLock(ctx context.Context, tenant *billing.Tenant) error {
	m := models.TenantModelFromDomain(tenant)
	result := r.db.WithContext(ctx).
		Model(&models.TenantModel{}).
		Where("id = ? AND version = ?", tenant.ID, tenant.Version).
		Updates(map[string]any{
			"name":                m.Name,
			"email":               m.Email,
			"monthly_rent":        m.MonthlyRent,
			"rent_due_day":        m.RentDueDay,
			"lease_end":           m.LeaseEnd,
			"status":              m.Status,
			"late_fee_grace_days": m.LateFeeGraceDays,
			"late_fee_type":       m.LateFeeType,
			"late_fee_percentage": m.LateFeePercentage,
			"late_fee_amount":     m.LateFeeAmount,
			"credit_balance":      m.CreditBalance,
			"version":             gorm.Expr("version + 1"),
			"updated_at":          time.Now(),
		})
	if result.Error != nil {
		return TranslateError(result.Error)
	}
	if result.RowsAffected == 0 {
		return concurrencyConflict("tenant")
	}
	tenant.IncrementVersion()
	return nil
}

var _ billing.TenantRepository = (*GormTenantRepository)(nil)
