package billing

import (
	"time"

	"github.com/rentbill/backend/internal/domain/shared"
	"github.com/shopspring/decimal"
)

// LateFeeType selects how a late fee is computed
type LateFeeType string

const (
	LateFeeTypePercentage  LateFeeType = "PERCENTAGE"
	LateFeeTypeFixedAmount LateFeeType = "FIXED_AMOUNT"
)

// IsValid checks if the fee type is known
func (t LateFeeType) IsValid() bool {
	return t == LateFeeTypePercentage || t == LateFeeTypeFixedAmount
}

// String returns the string representation
func (t LateFeeType) String() string {
	return string(t)
}

var hundred = decimal.NewFromInt(100)

// GetDaysOverdue returns the number of whole days asOf lies past dueDate,
// never negative.
func GetDaysOverdue(dueDate, asOf time.Time) int {
	return max(0, daysBetween(dueDate, asOf))
}

// CalculateLateFee computes the late fee owed on rentAmount.
//
// No fee accrues while the days overdue are within the grace period (the
// boundary day included). A missing percentage or amount for the chosen fee
// type, or an unknown fee type, yields zero rather than an error.
func CalculateLateFee(
	rentAmount decimal.Decimal,
	dueDate, asOf time.Time,
	gracePeriodDays int,
	feeType LateFeeType,
	feePercentage, feeAmount *decimal.Decimal,
) decimal.Decimal {
	if daysBetween(dueDate, asOf) <= max(0, gracePeriodDays) {
		return decimal.Zero
	}

	switch feeType {
	case LateFeeTypePercentage:
		if feePercentage == nil || feePercentage.IsNegative() {
			return decimal.Zero
		}
		return rentAmount.Mul(*feePercentage).Div(hundred).Round(2)
	case LateFeeTypeFixedAmount:
		if feeAmount == nil || feeAmount.IsNegative() {
			return decimal.Zero
		}
		return *feeAmount
	}
	return decimal.Zero
}

// LateFeePolicy is a landlord's late fee configuration for one lease
type LateFeePolicy struct {
	GracePeriodDays int
	FeeType         LateFeeType
	FeePercentage   *decimal.Decimal
	FeeAmount       *decimal.Decimal
}

// Calculate applies the policy to a base amount.
func (p LateFeePolicy) Calculate(base decimal.Decimal, dueDate, asOf time.Time) decimal.Decimal {
	return CalculateLateFee(base, dueDate, asOf, p.GracePeriodDays, p.FeeType, p.FeePercentage, p.FeeAmount)
}

// Validate rejects policies that can never be expressed correctly.
// A policy without the parameter its type needs is allowed and charges nothing.
func (p LateFeePolicy) Validate() error {
	if p.GracePeriodDays < 0 {
		return shared.NewDomainError(shared.CodeInvalidArgument, "grace period cannot be negative")
	}
	if p.FeeType != "" && !p.FeeType.IsValid() {
		return shared.NewDomainError(shared.CodeInvalidArgument, "unknown late fee type "+p.FeeType.String())
	}
	if p.FeePercentage != nil && p.FeePercentage.IsNegative() {
		return shared.NewDomainError(shared.CodeInvalidArgument, "fee percentage cannot be negative")
	}
	if p.FeeAmount != nil && p.FeeAmount.IsNegative() {
		return shared.NewDomainError(shared.CodeInvalidArgument, "fee amount cannot be negative")
	}
	return nil
}
