package billing

import (
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rentbill/backend/internal/domain/shared"
	"github.com/shopspring/decimal"
)

// AllocationTarget is an outstanding invoice as seen by an allocation strategy
type AllocationTarget struct {
	ID                uuid.UUID
	OutstandingAmount decimal.Decimal
	DueDate           time.Time
	CreatedAt         time.Time
}

// AllocationResult is the share of a payment assigned to one target
type AllocationResult struct {
	TargetID uuid.UUID
	Amount   decimal.Decimal
}

// AllocationPlan is the complete outcome of an allocation strategy
type AllocationPlan struct {
	Allocations          []AllocationResult
	TotalAllocated       decimal.Decimal
	RemainingAmount      decimal.Decimal
	FullyAllocated       bool
	TargetsFullyPaid     []uuid.UUID
	TargetsPartiallyPaid []uuid.UUID
}

// AllocationStrategy decides how an amount is spread across targets
type AllocationStrategy interface {
	Allocate(amount decimal.Decimal, targets []AllocationTarget) (*AllocationPlan, error)
}

// FIFOAllocationStrategy pays the oldest due invoice first, falling back to
// creation time for invoices due on the same day.
type FIFOAllocationStrategy struct{}

// NewFIFOAllocationStrategy creates a FIFO allocation strategy
func NewFIFOAllocationStrategy() *FIFOAllocationStrategy {
	return &FIFOAllocationStrategy{}
}

// Allocate walks targets oldest first, giving each as much of the remaining
// amount as its outstanding balance absorbs.
func (s *FIFOAllocationStrategy) Allocate(amount decimal.Decimal, targets []AllocationTarget) (*AllocationPlan, error) {
	if !amount.IsPositive() {
		return nil, shared.NewDomainError(shared.CodeInvalidArgument, "allocation amount must be positive")
	}

	sorted := make([]AllocationTarget, len(targets))
	copy(sorted, targets)
	sort.SliceStable(sorted, func(i, j int) bool {
		di, dj := DateOf(sorted[i].DueDate), DateOf(sorted[j].DueDate)
		if !di.Equal(dj) {
			return di.Before(dj)
		}
		return sorted[i].CreatedAt.Before(sorted[j].CreatedAt)
	})

	plan := &AllocationPlan{
		Allocations:          make([]AllocationResult, 0),
		TotalAllocated:       decimal.Zero,
		RemainingAmount:      amount,
		TargetsFullyPaid:     make([]uuid.UUID, 0),
		TargetsPartiallyPaid: make([]uuid.UUID, 0),
	}

	for _, target := range sorted {
		if plan.RemainingAmount.IsZero() {
			break
		}
		if !target.OutstandingAmount.IsPositive() {
			continue
		}

		alloc := decimal.Min(plan.RemainingAmount, target.OutstandingAmount)
		plan.Allocations = append(plan.Allocations, AllocationResult{TargetID: target.ID, Amount: alloc})
		plan.TotalAllocated = plan.TotalAllocated.Add(alloc)
		plan.RemainingAmount = plan.RemainingAmount.Sub(alloc)

		if alloc.GreaterThanOrEqual(target.OutstandingAmount) {
			plan.TargetsFullyPaid = append(plan.TargetsFullyPaid, target.ID)
		} else {
			plan.TargetsPartiallyPaid = append(plan.TargetsPartiallyPaid, target.ID)
		}
	}

	plan.FullyAllocated = plan.RemainingAmount.IsZero()
	return plan, nil
}

// TargetsFromInvoices converts outstanding invoices into allocation targets
func TargetsFromInvoices(invoices []*Invoice) []AllocationTarget {
	targets := make([]AllocationTarget, 0, len(invoices))
	for _, inv := range invoices {
		if !inv.Status.IsOutstanding() {
			continue
		}
		targets = append(targets, AllocationTarget{
			ID:                inv.ID,
			OutstandingAmount: inv.Balance,
			DueDate:           inv.DueDate,
			CreatedAt:         inv.CreatedAt,
		})
	}
	return targets
}
