package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/rentbill/backend/internal/domain/billing"
	"github.com/shopspring/decimal"
)

// PaymentModel is the persistence model for the Payment aggregate
type PaymentModel struct {
	LandlordAggregateModel
	TenantID             uuid.UUID             `gorm:"type:uuid;not null;index"`
	Amount               decimal.Decimal       `gorm:"type:decimal(18,4);not null"`
	PaymentDate          time.Time             `gorm:"not null"`
	Method               billing.PaymentMethod `gorm:"type:varchar(30);not null"`
	TransactionReference string                `gorm:"type:varchar(255);not null"`
	Status               billing.PaymentStatus `gorm:"type:varchar(20);not null;index"`
	UnappliedAmount      decimal.Decimal       `gorm:"type:decimal(18,4);not null;default:0"`
	AllocatedAt          *time.Time
	Notes                string `gorm:"type:text"`
	// Associations
	Allocations []PaymentAllocationModel `gorm:"foreignKey:PaymentID;references:ID"`
}

// TableName returns the table name for GORM
func (PaymentModel) TableName() string {
	return "payments"
}

// ToDomain converts the persistence model to a domain Payment
func (m *PaymentModel) ToDomain() *billing.Payment {
	p := &billing.Payment{
		LandlordAggregateRoot: m.ToLandlordAggregateRoot(),
		TenantID:              m.TenantID,
		Amount:                m.Amount,
		PaymentDate:           m.PaymentDate,
		Method:                m.Method,
		TransactionReference:  m.TransactionReference,
		Status:                m.Status,
		UnappliedAmount:       m.UnappliedAmount,
		AllocatedAt:           m.AllocatedAt,
		Notes:                 m.Notes,
	}
	if len(m.Allocations) > 0 {
		p.Allocations = make([]billing.PaymentAllocation, len(m.Allocations))
		for i := range m.Allocations {
			p.Allocations[i] = m.Allocations[i].ToDomain()
		}
	}
	return p
}

// PaymentModelFromDomain creates a persistence model from a domain Payment.
// Allocations are stored separately and are not included.
func PaymentModelFromDomain(p *billing.Payment) *PaymentModel {
	m := &PaymentModel{
		TenantID:             p.TenantID,
		Amount:               p.Amount,
		PaymentDate:          p.PaymentDate,
		Method:               p.Method,
		TransactionReference: p.TransactionReference,
		Status:               p.Status,
		UnappliedAmount:      p.UnappliedAmount,
		AllocatedAt:          p.AllocatedAt,
		Notes:                p.Notes,
	}
	m.FromDomainLandlordAggregateRoot(p.LandlordAggregateRoot)
	return m
}

// PaymentAllocationModel links part of a payment to an invoice
type PaymentAllocationModel struct {
	ID          uuid.UUID       `gorm:"type:uuid;primaryKey"`
	PaymentID   uuid.UUID       `gorm:"type:uuid;not null;index"`
	InvoiceID   uuid.UUID       `gorm:"type:uuid;not null;index"`
	Amount      decimal.Decimal `gorm:"type:decimal(18,4);not null"`
	AllocatedAt time.Time       `gorm:"not null"`
}

// TableName returns the table name for GORM
func (PaymentAllocationModel) TableName() string {
	return "payment_allocations"
}

// ToDomain converts the row to a domain allocation
func (m PaymentAllocationModel) ToDomain() billing.PaymentAllocation {
	return billing.PaymentAllocation{
		ID:          m.ID,
		PaymentID:   m.PaymentID,
		InvoiceID:   m.InvoiceID,
		Amount:      m.Amount,
		AllocatedAt: m.AllocatedAt,
	}
}

// PaymentAllocationModelFromDomain creates a row from a domain allocation
func PaymentAllocationModelFromDomain(a billing.PaymentAllocation) PaymentAllocationModel {
	return PaymentAllocationModel{
		ID:          a.ID,
		PaymentID:   a.PaymentID,
		InvoiceID:   a.InvoiceID,
		Amount:      a.Amount,
		AllocatedAt: a.AllocatedAt,
	}
}
