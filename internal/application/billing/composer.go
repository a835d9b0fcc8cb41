package billing

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rentbill/backend/internal/domain/billing"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Composition is the charge lines of one new invoice plus the bookkeeping
// the generator must apply alongside it.
type Composition struct {
	Items []billing.InvoiceLineItem
	// Amount is the sum of every line except the opening balance.
	Amount decimal.Decimal
	// OpeningBalance is the prior unpaid balance net of the tenant credit applied.
	OpeningBalance decimal.Decimal
	// CarriedForward is the prior invoice's balance moved into this invoice.
	CarriedForward decimal.Decimal
	// CreditApplied is the tenant credit consumed by this invoice.
	CreditApplied decimal.Decimal
	LateFee       decimal.Decimal
}

// ComposeInput is everything the composer needs for one tenant and period.
type ComposeInput struct {
	Tenant      *billing.Tenant
	PeriodStart time.Time
	PeriodEnd   time.Time
	Prior       *billing.Invoice
	Utilities   []billing.InvoiceLineItem
	AsOf        time.Time
}

// LineItemComposer assembles invoice lines in a fixed order: opening
// balance, rent, utilities, late fee.
type LineItemComposer struct {
	utilities billing.UtilityBilling
	retry     RetryPolicy
	logger    *zap.Logger
}

// NewLineItemComposer creates a LineItemComposer
func NewLineItemComposer(utilities billing.UtilityBilling, retry RetryPolicy, logger *zap.Logger) *LineItemComposer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LineItemComposer{
		utilities: utilities,
		retry:     retry,
		logger:    logger,
	}
}

// FetchUtilities asks the utility-billing collaborator for the unit's charges,
// retrying transient failures with bounded backoff.
func (c *LineItemComposer) FetchUtilities(ctx context.Context, unitID uuid.UUID, periodStart, periodEnd time.Time) ([]billing.InvoiceLineItem, error) {
	if c.utilities == nil {
		return nil, nil
	}

	var items []billing.InvoiceLineItem
	err := retry(ctx, c.retry, isTransient, func(err error, attempt int) {
		c.logger.Warn("Retrying utility charge lookup",
			zap.String("unit_id", unitID.String()),
			zap.Int("attempt", attempt),
			zap.Error(err))
	}, func(int) error {
		var err error
		items, err = c.utilities.GetChargesForPeriod(ctx, unitID, periodStart, periodEnd)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("utility charges for unit %s: %w", unitID, err)
	}
	return items, nil
}

// Compose builds the ordered line items for one invoice.
func (c *LineItemComposer) Compose(in ComposeInput) Composition {
	tenant := in.Tenant
	comp := Composition{
		Amount:         decimal.Zero,
		OpeningBalance: decimal.Zero,
		CarriedForward: decimal.Zero,
		CreditApplied:  decimal.Zero,
		LateFee:        decimal.Zero,
	}

	charges := make([]billing.InvoiceLineItem, 0, len(in.Utilities)+2)
	charges = append(charges, billing.NewLineItem(
		billing.LineItemTypeRent,
		fmt.Sprintf("Rent %s", in.PeriodStart.Format("January 2006")),
		decimal.NewFromInt(1),
		tenant.MonthlyRent,
	))

	for _, u := range in.Utilities {
		line, ok := c.normalizeUtility(u)
		if ok {
			charges = append(charges, line)
		}
	}

	if in.Prior != nil && in.Prior.IsOverdueAt(in.AsOf) {
		fee := tenant.LateFeePolicy.Calculate(in.Prior.Balance, in.Prior.DueDate, in.AsOf)
		if fee.IsPositive() {
			comp.LateFee = fee
			charges = append(charges, billing.NewLineItem(
				billing.LineItemTypeFee,
				fmt.Sprintf("Late fee, %d days overdue on %s invoice",
					billing.GetDaysOverdue(in.Prior.DueDate, in.AsOf),
					in.Prior.PeriodStart.Format("January 2006")),
				decimal.NewFromInt(1),
				fee,
			))
		}
	}

	for _, li := range charges {
		comp.Amount = comp.Amount.Add(li.Amount)
	}

	if in.Prior != nil && in.Prior.Status.IsOutstanding() {
		comp.CarriedForward = in.Prior.Balance
	}
	// Credit never exceeds what this invoice could absorb, so none of it is lost.
	comp.CreditApplied = decimal.Min(tenant.CreditBalance, comp.CarriedForward.Add(comp.Amount))
	if comp.CreditApplied.IsNegative() {
		comp.CreditApplied = decimal.Zero
	}
	comp.OpeningBalance = comp.CarriedForward.Sub(comp.CreditApplied)

	comp.Items = make([]billing.InvoiceLineItem, 0, len(charges)+1)
	if !comp.OpeningBalance.IsZero() {
		comp.Items = append(comp.Items, billing.NewOpeningBalanceLine(comp.OpeningBalance))
	}
	comp.Items = append(comp.Items, charges...)
	return comp
}

// normalizeUtility recomputes the amount and drops lines that cannot be
// charged, such as a missing or negative rate.
func (c *LineItemComposer) normalizeUtility(u billing.InvoiceLineItem) (billing.InvoiceLineItem, bool) {
	if u.Quantity.IsNegative() || u.UnitRate.IsNegative() {
		c.logger.Warn("Dropping utility line with negative quantity or rate",
			zap.String("description", u.Description),
			zap.String("quantity", u.Quantity.String()),
			zap.String("rate", u.UnitRate.String()))
		return u, false
	}
	itemType := u.Type
	if itemType != billing.LineItemTypeOther {
		itemType = billing.LineItemTypeUtility
	}
	line := billing.NewLineItem(itemType, u.Description, u.Quantity, u.UnitRate)
	if line.Amount.IsZero() {
		return line, false
	}
	return line, true
}
