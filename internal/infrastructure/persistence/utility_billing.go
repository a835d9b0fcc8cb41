package persistence

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rentbill/backend/internal/domain/billing"
	"github.com/rentbill/backend/internal/infrastructure/persistence/models"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// GormUtilityBilling supplies utility charges from meter readings and
// recurring flat charges stored alongside the billing tables.
type GormUtilityBilling struct {
	db *gorm.DB
}

// NewGormUtilityBilling creates a new GormUtilityBilling
func NewGormUtilityBilling(db *gorm.DB) *GormUtilityBilling {
	return &GormUtilityBilling{db: db}
}

// GetChargesForPeriod returns metered charges for readings taken within the
// period, followed by the recurring charges active during it. Readings
// without a positive rate produce no line.
func (u *GormUtilityBilling) GetChargesForPeriod(ctx context.Context, unitID uuid.UUID, periodStart, periodEnd time.Time) ([]billing.InvoiceLineItem, error) {
	start, end := billing.DateOf(periodStart), billing.DateOf(periodEnd)
	db := u.db.WithContext(ctx)

	var readings []models.UtilityMeterReadingModel
	if err := db.
		Where("unit_id = ? AND reading_date >= ? AND reading_date <= ?", unitID, start, end).
		Order("utility_type ASC, reading_date ASC, id ASC").
		Find(&readings).Error; err != nil {
		return nil, fmt.Errorf("load meter readings: %w", err)
	}

	var charges []models.RecurringChargeModel
	if err := db.
		Where("unit_id = ? AND active = ? AND starts_on <= ? AND (ends_on IS NULL OR ends_on >= ?)", unitID, true, end, start).
		Order("charge_type ASC, description ASC, id ASC").
		Find(&charges).Error; err != nil {
		return nil, fmt.Errorf("load recurring charges: %w", err)
	}

	items := make([]billing.InvoiceLineItem, 0, len(readings)+len(charges))
	for i := range readings {
		r := &readings[i]
		if r.Rate == nil || !r.Rate.IsPositive() {
			continue
		}
		items = append(items, billing.NewLineItem(
			billing.LineItemTypeUtility,
			meterDescription(r),
			r.Consumption(),
			*r.Rate,
		))
	}
	for _, c := range charges {
		items = append(items, billing.NewLineItem(
			chargeLineType(c.ChargeType),
			c.Description,
			decimal.NewFromInt(1),
			c.Amount,
		))
	}
	return items, nil
}

func meterDescription(r *models.UtilityMeterReadingModel) string {
	name := strings.ReplaceAll(strings.ToLower(r.UtilityType), "_", " ")
	if name != "" {
		name = strings.ToUpper(name[:1]) + name[1:]
	}
	desc := fmt.Sprintf("%s %s to %s", name, r.PreviousReading.String(), r.CurrentReading.String())
	if r.MeasureUnit != "" {
		desc += " " + r.MeasureUnit
	}
	return desc
}

func chargeLineType(chargeType string) billing.LineItemType {
	t := billing.LineItemType(strings.ToUpper(chargeType))
	if t.IsValid() && t != billing.LineItemTypeOpeningBalance && t != billing.LineItemTypeRent {
		return t
	}
	return billing.LineItemTypeUtility
}

var _ billing.UtilityBilling = (*GormUtilityBilling)(nil)
