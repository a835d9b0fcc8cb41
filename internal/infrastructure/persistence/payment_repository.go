package persistence

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rentbill/backend/internal/domain/billing"
	"github.com/rentbill/backend/internal/infrastructure/persistence/models"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormPaymentRepository implements billing.PaymentRepository using GORM
type GormPaymentRepository struct {
	db *gorm.DB
}

// NewGormPaymentRepository creates a new GormPaymentRepository
func NewGormPaymentRepository(db *gorm.DB) *GormPaymentRepository {
	return &GormPaymentRepository{db: db}
}

func (r *GormPaymentRepository) first(ctx context.Context, query string, args ...any) (*billing.Payment, error) {
	var model models.PaymentModel
	err := r.db.WithContext(ctx).
		Preload("Allocations", func(db *gorm.DB) *gorm.DB {
			return db.Order("allocated_at ASC, id ASC")
		}).
		Where(query, args...).
		First(&model).Error
	if err != nil {
		return nil, TranslateError(err)
	}
	return model.ToDomain(), nil
}

// FindByID finds a payment and its allocations
func (r *GormPaymentRepository) FindByID(ctx context.Context, id uuid.UUID) (*billing.Payment, error) {
	return r.first(ctx, "id = ?", id)
}

// FindByReference finds the landlord's payment with the given transaction reference
func (r *GormPaymentRepository) FindByReference(ctx context.Context, landlordID uuid.UUID, reference string) (*billing.Payment, error) {
	return r.first(ctx, "landlord_id = ? AND transaction_reference = ?", landlordID, reference)
}

// Create inserts a payment together with any allocations it already carries
func (r *GormPaymentRepository) Create(ctx context.Context, payment *billing.Payment) error {
	db := r.db.WithContext(ctx)
	if err := db.Create(models.PaymentModelFromDomain(payment)).Error; err != nil {
		return TranslateError(err)
	}
	return r.insertAllocations(db, payment)
}

// SaveWithLock updates the payment if its version is unchanged and inserts
// allocations that are not stored yet.
func (r *GormPaymentRepository) SaveWithLock(ctx context.Context, payment *billing.Payment) error {
	db := r.db.WithContext(ctx)
	result := db.
		Model(&models.PaymentModel{}).
		Where("id = ? AND version = ?", payment.ID, payment.Version).
		Updates(map[string]any{
			"status":           payment.Status,
			"unapplied_amount": payment.UnappliedAmount,
			"allocated_at":     payment.AllocatedAt,
			"notes":            payment.Notes,
			"version":          gorm.Expr("version + 1"),
			"updated_at":       time.Now(),
		})
	if result.Error != nil {
		return TranslateError(result.Error)
	}
	if result.RowsAffected == 0 {
		return concurrencyConflict("payment")
	}
	if err := r.insertAllocations(db, payment); err != nil {
		return err
	}
	payment.IncrementVersion()
	return nil
}

// insertAllocations writes allocation rows, skipping ids already present.
func (r *GormPaymentRepository) insertAllocations(db *gorm.DB, payment *billing.Payment) error {
	if len(payment.Allocations) == 0 {
		return nil
	}
	rows := make([]models.PaymentAllocationModel, len(payment.Allocations))
	for i, a := range payment.Allocations {
		rows[i] = models.PaymentAllocationModelFromDomain(a)
	}
	err := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoNothing: true,
	}).Create(&rows).Error
	return TranslateError(err)
}

// SumAllocationsForInvoice totals allocations to invoiceID from completed payments
func (r *GormPaymentRepository) SumAllocationsForInvoice(ctx context.Context, invoiceID uuid.UUID) (decimal.Decimal, error) {
	var total decimal.NullDecimal
	err := r.db.WithContext(ctx).
		Model(&models.PaymentAllocationModel{}).
		Select("SUM(payment_allocations.amount)").
		Joins("JOIN payments ON payments.id = payment_allocations.payment_id").
		Where("payment_allocations.invoice_id = ? AND payments.status = ?", invoiceID, billing.PaymentStatusCompleted).
		Row().
		Scan(&total)
	if err != nil {
		return decimal.Zero, err
	}
	if !total.Valid {
		return decimal.Zero, nil
	}
	return total.Decimal, nil
}

var _ billing.PaymentRepository = (*GormPaymentRepository)(nil)
