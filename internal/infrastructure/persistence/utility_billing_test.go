package persistence

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	domain "github.com/rentbill/backend/internal/domain/billing"
	"github.com/rentbill/backend/internal/infrastructure/persistence/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func seedReading(t *testing.T, db *gorm.DB, unitID uuid.UUID, utility string, on time.Time, prev, cur string, rate *decimal.Decimal) {
	t.Helper()
	require.NoError(t, db.Create(&models.UtilityMeterReadingModel{
		BaseModel:       models.BaseModel{ID: uuid.New(), CreatedAt: time.Now(), UpdatedAt: time.Now()},
		UnitID:          unitID,
		UtilityType:     utility,
		ReadingDate:     on,
		PreviousReading: dec(prev),
		CurrentReading:  dec(cur),
		Rate:            rate,
		MeasureUnit:     "kWh",
	}).Error)
}

func seedCharge(t *testing.T, db *gorm.DB, unitID uuid.UUID, chargeType, desc, amount string, starts time.Time, ends *time.Time) {
	t.Helper()
	require.NoError(t, db.Create(&models.RecurringChargeModel{
		BaseModel:   models.BaseModel{ID: uuid.New(), CreatedAt: time.Now(), UpdatedAt: time.Now()},
		UnitID:      unitID,
		ChargeType:  chargeType,
		Description: desc,
		Amount:      dec(amount),
		StartsOn:    starts,
		EndsOn:      ends,
		Active:      true,
	}).Error)
}

func TestGormUtilityBilling_GetChargesForPeriod(t *testing.T) {
	ctx := context.Background()
	db := setupBillingTestDB(t)
	utilities := NewGormUtilityBilling(db)
	unitID := uuid.New()
	rate := dec("0.25")
	zero := decimal.Zero

	seedReading(t, db, unitID, "WATER", date(2026, 3, 20), "100", "112", &rate)
	seedReading(t, db, unitID, "ELECTRICITY", date(2026, 3, 28), "5000", "5400", &rate)
	seedReading(t, db, unitID, "GAS", date(2026, 3, 28), "10", "20", &zero)
	seedReading(t, db, unitID, "GAS", date(2026, 3, 29), "20", "30", nil)
	seedReading(t, db, unitID, "WATER", date(2026, 2, 20), "90", "100", &rate)
	seedReading(t, db, uuid.New(), "WATER", date(2026, 3, 20), "0", "1000", &rate)

	seedCharge(t, db, unitID, "FEE", "Parking", "40", date(2025, 1, 1), nil)
	ended := date(2026, 2, 28)
	seedCharge(t, db, unitID, "UTILITY", "Trash", "15", date(2025, 1, 1), &ended)

	items, err := utilities.GetChargesForPeriod(ctx, unitID, date(2026, 3, 1), date(2026, 3, 31))
	require.NoError(t, err)
	require.Len(t, items, 3)

	assert.Equal(t, domain.LineItemTypeUtility, items[0].Type)
	assert.Equal(t, "Electricity 5000 to 5400 kWh", items[0].Description)
	assert.True(t, items[0].Amount.Equal(dec("100")))

	assert.Equal(t, "Water 100 to 112 kWh", items[1].Description)
	assert.True(t, items[1].Quantity.Equal(dec("12")))
	assert.True(t, items[1].Amount.Equal(dec("3")))

	assert.Equal(t, domain.LineItemTypeFee, items[2].Type)
	assert.Equal(t, "Parking", items[2].Description)
	assert.True(t, items[2].Amount.Equal(dec("40")))

	again, err := utilities.GetChargesForPeriod(ctx, unitID, date(2026, 3, 1), date(2026, 3, 31))
	require.NoError(t, err)
	require.Len(t, again, len(items))
	for i := range items {
		assert.Equal(t, items[i].Description, again[i].Description)
		assert.True(t, items[i].Amount.Equal(again[i].Amount))
	}
}

func TestChargeLineType(t *testing.T) {
	assert.Equal(t, domain.LineItemTypeFee, chargeLineType("fee"))
	assert.Equal(t, domain.LineItemTypeOther, chargeLineType("OTHER"))
	assert.Equal(t, domain.LineItemTypeUtility, chargeLineType("RENT"))
	assert.Equal(t, domain.LineItemTypeUtility, chargeLineType("OPENING_BALANCE"))
	assert.Equal(t, domain.LineItemTypeUtility, chargeLineType("internet"))
}
