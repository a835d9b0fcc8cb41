package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// UtilityMeterReadingModel is one metered utility reading for a unit
type UtilityMeterReadingModel struct {
	BaseModel
	UnitID          uuid.UUID        `gorm:"type:uuid;not null;index:idx_meter_reading_unit_date,priority:1"`
	UtilityType     string           `gorm:"type:varchar(30);not null"`
	ReadingDate     time.Time        `gorm:"type:date;not null;index:idx_meter_reading_unit_date,priority:2"`
	PreviousReading decimal.Decimal  `gorm:"type:decimal(18,4);not null"`
	CurrentReading  decimal.Decimal  `gorm:"type:decimal(18,4);not null"`
	Rate            *decimal.Decimal `gorm:"type:decimal(18,4)"`
	MeasureUnit     string           `gorm:"type:varchar(20)"`
}

// TableName returns the table name for GORM
func (UtilityMeterReadingModel) TableName() string {
	return "utility_meter_readings"
}

// Consumption is the metered usage between the two readings
func (m *UtilityMeterReadingModel) Consumption() decimal.Decimal {
	return m.CurrentReading.Sub(m.PreviousReading)
}

// RecurringChargeModel is a flat monthly charge attached to a unit
type RecurringChargeModel struct {
	BaseModel
	UnitID      uuid.UUID       `gorm:"type:uuid;not null;index"`
	ChargeType  string          `gorm:"type:varchar(30);not null"`
	Description string          `gorm:"type:varchar(500);not null"`
	Amount      decimal.Decimal `gorm:"type:decimal(18,4);not null"`
	StartsOn    time.Time       `gorm:"type:date;not null"`
	EndsOn      *time.Time      `gorm:"type:date"`
	Active      bool            `gorm:"not null;default:true"`
}

// TableName returns the table name for GORM
func (RecurringChargeModel) TableName() string {
	return "recurring_charges"
}
