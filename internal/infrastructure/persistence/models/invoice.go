package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/rentbill/backend/internal/domain/billing"
	"github.com/shopspring/decimal"
)

// InvoiceModel is the persistence model for the Invoice aggregate.
// Uniqueness of (tenant_id, period_start) among non-void invoices is enforced
// by a partial index created in the migrations.
type InvoiceModel struct {
	LandlordAggregateModel
	TenantID             uuid.UUID             `gorm:"type:uuid;not null;index"`
	UnitID               uuid.UUID             `gorm:"type:uuid;not null"`
	PropertyID           uuid.UUID             `gorm:"type:uuid"`
	PeriodStart          time.Time             `gorm:"type:date;not null"`
	PeriodEnd            time.Time             `gorm:"type:date;not null"`
	DueDate              time.Time             `gorm:"type:date;not null;index"`
	Amount               decimal.Decimal       `gorm:"type:decimal(18,4);not null;default:0"`
	OpeningBalance       decimal.Decimal       `gorm:"type:decimal(18,4);not null;default:0"`
	AllocatedAmount      decimal.Decimal       `gorm:"type:decimal(18,4);not null;default:0"`
	CarriedForwardAmount decimal.Decimal       `gorm:"type:decimal(18,4);not null;default:0"`
	CarriedForwardTo     *uuid.UUID            `gorm:"type:uuid"`
	CreditApplied        decimal.Decimal       `gorm:"type:decimal(18,4);not null;default:0"`
	Balance              decimal.Decimal       `gorm:"type:decimal(18,4);not null;default:0"`
	Status               billing.InvoiceStatus `gorm:"type:varchar(20);not null;index"`
	IssuedAt             *time.Time
	PaidAt               *time.Time
	VoidedAt             *time.Time
	VoidReason           string `gorm:"type:varchar(500)"`
	// Associations
	LineItems []InvoiceLineItemModel `gorm:"foreignKey:InvoiceID;references:ID"`
}

// TableName returns the table name for GORM
func (InvoiceModel) TableName() string {
	return "invoices"
}

// ToDomain converts the persistence model to a domain Invoice
func (m *InvoiceModel) ToDomain() *billing.Invoice {
	inv := &billing.Invoice{
		LandlordAggregateRoot: m.ToLandlordAggregateRoot(),
		TenantID:              m.TenantID,
		UnitID:                m.UnitID,
		PropertyID:            m.PropertyID,
		PeriodStart:           billing.DateOf(m.PeriodStart),
		PeriodEnd:             billing.DateOf(m.PeriodEnd),
		DueDate:               billing.DateOf(m.DueDate),
		Amount:                m.Amount,
		OpeningBalance:        m.OpeningBalance,
		AllocatedAmount:       m.AllocatedAmount,
		CarriedForwardAmount:  m.CarriedForwardAmount,
		CarriedForwardTo:      m.CarriedForwardTo,
		CreditApplied:         m.CreditApplied,
		Balance:               m.Balance,
		Status:                m.Status,
		IssuedAt:              m.IssuedAt,
		PaidAt:                m.PaidAt,
		VoidedAt:              m.VoidedAt,
		VoidReason:            m.VoidReason,
		LineItems:             make([]billing.InvoiceLineItem, len(m.LineItems)),
	}
	for i := range m.LineItems {
		inv.LineItems[i] = m.LineItems[i].ToDomain()
	}
	return inv
}

// InvoiceModelFromDomain creates a persistence model from a domain Invoice,
// including its line items.
func InvoiceModelFromDomain(inv *billing.Invoice) *InvoiceModel {
	m := &InvoiceModel{
		TenantID:             inv.TenantID,
		UnitID:               inv.UnitID,
		PropertyID:           inv.PropertyID,
		PeriodStart:          inv.PeriodStart,
		PeriodEnd:            inv.PeriodEnd,
		DueDate:              inv.DueDate,
		Amount:               inv.Amount,
		OpeningBalance:       inv.OpeningBalance,
		AllocatedAmount:      inv.AllocatedAmount,
		CarriedForwardAmount: inv.CarriedForwardAmount,
		CarriedForwardTo:     inv.CarriedForwardTo,
		CreditApplied:        inv.CreditApplied,
		Balance:              inv.Balance,
		Status:               inv.Status,
		IssuedAt:             inv.IssuedAt,
		PaidAt:               inv.PaidAt,
		VoidedAt:             inv.VoidedAt,
		VoidReason:           inv.VoidReason,
		LineItems:            make([]InvoiceLineItemModel, len(inv.LineItems)),
	}
	m.FromDomainLandlordAggregateRoot(inv.LandlordAggregateRoot)
	for i, li := range inv.LineItems {
		m.LineItems[i] = InvoiceLineItemModelFromDomain(inv.ID, li)
	}
	return m
}

// InvoiceLineItemModel is one charge row of an invoice
type InvoiceLineItemModel struct {
	ID          uuid.UUID            `gorm:"type:uuid;primaryKey"`
	InvoiceID   uuid.UUID            `gorm:"type:uuid;not null;index"`
	Position    int                  `gorm:"not null"`
	Type        billing.LineItemType `gorm:"type:varchar(30);not null"`
	Description string               `gorm:"type:varchar(500)"`
	Quantity    decimal.Decimal      `gorm:"type:decimal(18,4);not null"`
	UnitRate    decimal.Decimal      `gorm:"type:decimal(18,4);not null"`
	Amount      decimal.Decimal      `gorm:"type:decimal(18,4);not null"`
}

// TableName returns the table name for GORM
func (InvoiceLineItemModel) TableName() string {
	return "invoice_line_items"
}

// ToDomain converts the row to a domain line item
func (m InvoiceLineItemModel) ToDomain() billing.InvoiceLineItem {
	return billing.InvoiceLineItem{
		ID:          m.ID,
		InvoiceID:   m.InvoiceID,
		Position:    m.Position,
		Type:        m.Type,
		Description: m.Description,
		Quantity:    m.Quantity,
		UnitRate:    m.UnitRate,
		Amount:      m.Amount,
	}
}

// InvoiceLineItemModelFromDomain creates a row for a line item of invoiceID
func InvoiceLineItemModelFromDomain(invoiceID uuid.UUID, li billing.InvoiceLineItem) InvoiceLineItemModel {
	return InvoiceLineItemModel{
		ID:          li.ID,
		InvoiceID:   invoiceID,
		Position:    li.Position,
		Type:        li.Type,
		Description: li.Description,
		Quantity:    li.Quantity,
		UnitRate:    li.UnitRate,
		Amount:      li.Amount,
	}
}
