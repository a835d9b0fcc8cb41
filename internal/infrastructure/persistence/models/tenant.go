package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/rentbill/backend/internal/domain/billing"
	"github.com/shopspring/decimal"
)

// TenantModel is the persistence model for the Tenant aggregate (a lease).
type TenantModel struct {
	LandlordAggregateModel
	PropertyID        uuid.UUID            `gorm:"type:uuid;not null;index"`
	UnitID            uuid.UUID            `gorm:"type:uuid;not null;index"`
	Name              string               `gorm:"type:varchar(200);not null"`
	Email             string               `gorm:"type:varchar(200)"`
	MonthlyRent       decimal.Decimal      `gorm:"type:decimal(18,4);not null"`
	RentDueDay        int                  `gorm:"not null"`
	LeaseStart        time.Time            `gorm:"type:date;not null"`
	LeaseEnd          *time.Time           `gorm:"type:date"`
	Status            billing.TenantStatus `gorm:"type:varchar(20);not null;default:'ACTIVE';index"`
	LateFeeGraceDays  int                  `gorm:"not null;default:0"`
	LateFeeType       string               `gorm:"type:varchar(20)"`
	LateFeePercentage *decimal.Decimal     `gorm:"type:decimal(9,4)"`
	LateFeeAmount     *decimal.Decimal     `gorm:"type:decimal(18,4)"`
	CreditBalance     decimal.Decimal      `gorm:"type:decimal(18,4);not null;default:0"`
}

// TableName returns the table name for GORM
func (TenantModel) TableName() string {
	return "tenants"
}

// ToDomain converts the persistence model to a domain Tenant
func (m *TenantModel) ToDomain() *billing.Tenant {
	return &billing.Tenant{
		LandlordAggregateRoot: m.ToLandlordAggregateRoot(),
		PropertyID:            m.PropertyID,
		UnitID:                m.UnitID,
		Name:                  m.Name,
		Email:                 m.Email,
		MonthlyRent:           m.MonthlyRent,
		RentDueDay:            m.RentDueDay,
		LeaseStart:            billing.DateOf(m.LeaseStart),
		LeaseEnd:              dateOfPtr(m.LeaseEnd),
		Status:                m.Status,
		LateFeePolicy: billing.LateFeePolicy{
			GracePeriodDays: m.LateFeeGraceDays,
			FeeType:         billing.LateFeeType(m.LateFeeType),
			FeePercentage:   m.LateFeePercentage,
			FeeAmount:       m.LateFeeAmount,
		},
		CreditBalance: m.CreditBalance,
	}
}

// TenantModelFromDomain creates a persistence model from a domain Tenant
func TenantModelFromDomain(t *billing.Tenant) *TenantModel {
	m := &TenantModel{
		PropertyID:        t.PropertyID,
		UnitID:            t.UnitID,
		Name:              t.Name,
		Email:             t.Email,
		MonthlyRent:       t.MonthlyRent,
		RentDueDay:        t.RentDueDay,
		LeaseStart:        t.LeaseStart,
		LeaseEnd:          t.LeaseEnd,
		Status:            t.Status,
		LateFeeGraceDays:  t.LateFeePolicy.GracePeriodDays,
		LateFeeType:       string(t.LateFeePolicy.FeeType),
		LateFeePercentage: t.LateFeePolicy.FeePercentage,
		LateFeeAmount:     t.LateFeePolicy.FeeAmount,
		CreditBalance:     t.CreditBalance,
	}
	m.FromDomainLandlordAggregateRoot(t.LandlordAggregateRoot)
	return m
}

func dateOfPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	d := billing.DateOf(*t)
	return &d
}
