package billing

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rentbill/backend/internal/domain/shared"
	"github.com/shopspring/decimal"
)

// TenantStatus represents whether a lease is being billed
type TenantStatus string

const (
	TenantStatusActive   TenantStatus = "ACTIVE"
	TenantStatusInactive TenantStatus = "INACTIVE"
)

// IsValid checks if the status is known
func (s TenantStatus) IsValid() bool {
	return s == TenantStatusActive || s == TenantStatusInactive
}

// Tenant is a lease: who rents which unit, for how much, due on which day.
// CreditBalance holds unapplied payment money, consumed by the next invoice.
type Tenant struct {
	shared.LandlordAggregateRoot
	PropertyID    uuid.UUID
	UnitID        uuid.UUID
	Name          string
	Email         string
	MonthlyRent   decimal.Decimal
	RentDueDay    int
	LeaseStart    time.Time
	LeaseEnd      *time.Time
	Status        TenantStatus
	LateFeePolicy LateFeePolicy
	CreditBalance decimal.Decimal
}

// NewTenant creates an active lease
func NewTenant(
	landlordID, propertyID, unitID uuid.UUID,
	name string,
	monthlyRent decimal.Decimal,
	rentDueDay int,
	leaseStart time.Time,
) (*Tenant, error) {
	if landlordID == uuid.Nil || unitID == uuid.Nil {
		return nil, shared.NewDomainError(shared.CodeInvalidArgument, "landlord and unit are required")
	}
	if strings.TrimSpace(name) == "" {
		return nil, shared.NewDomainError(shared.CodeInvalidArgument, "tenant name cannot be empty")
	}
	if monthlyRent.IsNegative() {
		return nil, shared.NewDomainError(shared.CodeInvalidArgument, "monthly rent cannot be negative")
	}
	if rentDueDay < 1 || rentDueDay > 31 {
		return nil, shared.NewDomainError(shared.CodeInvalidArgument, "rent due day must be between 1 and 31")
	}

	return &Tenant{
		LandlordAggregateRoot: shared.NewLandlordAggregateRoot(landlordID),
		PropertyID:            propertyID,
		UnitID:                unitID,
		Name:                  strings.TrimSpace(name),
		MonthlyRent:           monthlyRent,
		RentDueDay:            rentDueDay,
		LeaseStart:            DateOf(leaseStart),
		Status:                TenantStatusActive,
		CreditBalance:         decimal.Zero,
	}, nil
}

// IsActive reports whether the lease is billed
func (t *Tenant) IsActive() bool {
	return t.Status == TenantStatusActive
}

// CoversPeriod reports whether the lease overlaps [periodStart, periodEnd].
func (t *Tenant) CoversPeriod(periodStart, periodEnd time.Time) bool {
	if DateOf(t.LeaseStart).After(DateOf(periodEnd)) {
		return false
	}
	return t.LeaseEnd == nil || !DateOf(*t.LeaseEnd).Before(DateOf(periodStart))
}

// SetLateFeePolicy replaces the late fee configuration
func (t *Tenant) SetLateFeePolicy(policy LateFeePolicy) error {
	if err := policy.Validate(); err != nil {
		return err
	}
	t.LateFeePolicy = policy
	t.Touch()
	return nil
}

// Terminate ends the lease on the given date and stops billing
func (t *Tenant) Terminate(leaseEnd time.Time) error {
	end := DateOf(leaseEnd)
	if end.Before(DateOf(t.LeaseStart)) {
		return shared.NewDomainError(shared.CodeInvalidArgument, "lease end cannot precede lease start")
	}
	t.LeaseEnd = &end
	t.Status = TenantStatusInactive
	t.Touch()
	return nil
}

// AddCredit retains unapplied money for the next invoice
func (t *Tenant) AddCredit(amount decimal.Decimal) error {
	if amount.IsNegative() {
		return shared.NewDomainError(shared.CodeInvalidArgument, "credit amount cannot be negative")
	}
	t.CreditBalance = t.CreditBalance.Add(amount)
	t.Touch()
	return nil
}

// ConsumeCredit takes up to limit from the credit balance and returns what was taken.
func (t *Tenant) ConsumeCredit(limit decimal.Decimal) decimal.Decimal {
	if !limit.IsPositive() || !t.CreditBalance.IsPositive() {
		return decimal.Zero
	}
	applied := decimal.Min(limit, t.CreditBalance)
	t.CreditBalance = t.CreditBalance.Sub(applied)
	t.Touch()
	return applied
}

// ReduceCredit removes amount from the credit balance, never below zero.
// It returns the part of amount that could not be covered.
func (t *Tenant) ReduceCredit(amount decimal.Decimal) (shortfall decimal.Decimal) {
	taken := t.ConsumeCredit(amount)
	return amount.Sub(taken)
}
