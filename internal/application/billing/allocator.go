package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rentbill/backend/internal/domain/billing"
	"github.com/rentbill/backend/internal/domain/shared"
	"github.com/rentbill/backend/internal/infrastructure/telemetry"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// AllocationOutcome is the result of allocating one payment.
type AllocationOutcome struct {
	PaymentID   uuid.UUID
	TenantID    uuid.UUID
	Allocations []billing.PaymentAllocation
	// Unapplied is the remainder credited to the tenant.
	Unapplied decimal.Decimal
	// AlreadyAllocated is true when an earlier run had allocated the payment.
	AlreadyAllocated bool
}

// RefundOutcome is the result of refunding one payment.
type RefundOutcome struct {
	PaymentID uuid.UUID
	Reversed  []billing.PaymentAllocation
	// CreditReduced is the tenant credit taken back.
	CreditReduced decimal.Decimal
	// Shortfall is credit that had already been consumed by later invoices.
	Shortfall decimal.Decimal
}

// PaymentAllocator spreads confirmed payments across a tenant's outstanding
// invoices, oldest due date first.
type PaymentAllocator struct {
	paymentRepo billing.PaymentRepository
	txScope     TransactionScope
	strategy    billing.AllocationStrategy
	locker      shared.Locker
	notifier    billing.Notifier
	events      shared.EventPublisher
	metrics     *telemetry.BillingMetrics
	retry       RetryPolicy
	clock       func() time.Time
	logger      *zap.Logger
}

// PaymentAllocatorConfig contains the dependencies of PaymentAllocator
type PaymentAllocatorConfig struct {
	PaymentRepo billing.PaymentRepository
	TxScope     TransactionScope
	// Strategy defaults to FIFO by due date.
	Strategy billing.AllocationStrategy
	Locker   shared.Locker
	Notifier billing.Notifier
	Events   shared.EventPublisher
	Metrics  *telemetry.BillingMetrics
	Retry    RetryPolicy
	Clock    func() time.Time
	Logger   *zap.Logger
}

// NewPaymentAllocator creates a new PaymentAllocator
func NewPaymentAllocator(cfg PaymentAllocatorConfig) *PaymentAllocator {
	a := &PaymentAllocator{
		paymentRepo: cfg.PaymentRepo,
		txScope:     cfg.TxScope,
		strategy:    cfg.Strategy,
		locker:      cfg.Locker,
		notifier:    cfg.Notifier,
		events:      cfg.Events,
		metrics:     cfg.Metrics,
		retry:       cfg.Retry,
		clock:       cfg.Clock,
		logger:      cfg.Logger,
	}
	if a.strategy == nil {
		a.strategy = billing.NewFIFOAllocationStrategy()
	}
	if a.clock == nil {
		a.clock = time.Now
	}
	if a.logger == nil {
		a.logger = zap.NewNop()
	}
	return a
}

// AllocatePayment applies a completed payment to the tenant's outstanding
// invoices. The whole allocation commits in one transaction or not at all;
// lost optimistic-lock races are retried from a fresh read. Calling it again
// for an allocated payment returns the stored allocations.
func (a *PaymentAllocator) AllocatePayment(ctx context.Context, paymentID uuid.UUID) (*AllocationOutcome, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "payment_allocator", "allocate_payment",
		telemetry.WithAttribute(telemetry.SpanAttrPaymentID, paymentID.String()))
	defer span.End()

	head, err := a.loadPayment(ctx, paymentID)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	telemetry.SetAttributes(span,
		telemetry.SpanAttrTenantID, head.TenantID.String(),
		telemetry.SpanAttrLandlordID, head.LandlordID.String(),
		telemetry.SpanAttrAmount, head.Amount.String(),
	)
	if head.IsAllocated() {
		return outcomeOf(head, true), nil
	}

	release, err := lockTenant(ctx, a.locker, head.TenantID)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	defer release()

	var (
		payment  *billing.Payment
		tenant   *billing.Tenant
		invoices []*billing.Invoice
		already  bool
	)
	err = retry(ctx, a.retry, isTransient, func(err error, attempt int) {
		if isConcurrencyConflict(err) {
			a.metrics.RecordAllocationConflict(ctx)
		}
		telemetry.AddEvent(span, "allocation_retry",
			telemetry.SpanAttrAttempt, attempt,
			"error", err.Error(),
		)
		a.logger.Info("Retrying payment allocation",
			zap.String("payment_id", paymentID.String()),
			zap.Int("attempt", attempt),
			zap.Error(err))
	}, func(int) error {
		payment, tenant, invoices, already = nil, nil, nil, false
		return a.txScope.Execute(ctx, func(repos TransactionalRepositories) error {
			var err error
			payment, tenant, invoices, already, err = a.allocate(ctx, repos, paymentID)
			return err
		})
	})
	if err != nil {
		telemetry.RecordError(span, err)
		if errors.Is(err, errRetriesExhausted) {
			return nil, shared.NewDomainError(shared.CodeUnavailable,
				fmt.Sprintf("allocation of payment %s did not complete, retry later: %v", paymentID, err))
		}
		return nil, err
	}

	outcome := outcomeOf(payment, already)
	if already {
		telemetry.SetOK(span)
		return outcome, nil
	}

	a.metrics.RecordPaymentAllocated(ctx, payment.LandlordID, payment.AppliedAmount())
	a.notify(ctx, payment)
	sources := []eventSource{payment}
	if tenant != nil {
		sources = append(sources, tenant)
	}
	for _, inv := range invoices {
		sources = append(sources, inv)
	}
	publishEvents(ctx, a.events, a.logger, sources...)

	telemetry.SetAttributes(span,
		"allocation_count", len(outcome.Allocations),
		"unapplied", outcome.Unapplied.String(),
	)
	telemetry.SetOK(span)
	a.logger.Info("Payment allocated",
		zap.String("payment_id", payment.ID.String()),
		zap.String("tenant_id", payment.TenantID.String()),
		zap.Int("allocations", len(outcome.Allocations)),
		zap.String("unapplied", outcome.Unapplied.String()))
	return outcome, nil
}

// allocate is one attempt inside a transaction. It returns only the invoices
// that received money.
func (a *PaymentAllocator) allocate(
	ctx context.Context,
	repos TransactionalRepositories,
	paymentID uuid.UUID,
) (*billing.Payment, *billing.Tenant, []*billing.Invoice, bool, error) {
	now := a.clock()

	payment, err := repos.PaymentRepo().FindByID(ctx, paymentID)
	if err != nil {
		return nil, nil, nil, false, err
	}
	if payment.IsAllocated() {
		return payment, nil, nil, true, nil
	}
	if payment.Status != billing.PaymentStatusCompleted {
		return nil, nil, nil, false, shared.NewDomainError(shared.CodeInvalidState,
			fmt.Sprintf("payment in %s status cannot be allocated", payment.Status))
	}

	outstanding, err := repos.InvoiceRepo().FindOutstandingByTenant(ctx, payment.TenantID)
	if err != nil {
		return nil, nil, nil, false, err
	}
	plan, err := a.strategy.Allocate(payment.Amount, billing.TargetsFromInvoices(outstanding))
	if err != nil {
		return nil, nil, nil, false, err
	}

	byID := make(map[uuid.UUID]*billing.Invoice, len(outstanding))
	for _, inv := range outstanding {
		byID[inv.ID] = inv
	}
	touched := make([]*billing.Invoice, 0, len(plan.Allocations))
	for _, alloc := range plan.Allocations {
		inv := byID[alloc.TargetID]
		if err := inv.ApplyAllocation(alloc.Amount, now); err != nil {
			return nil, nil, nil, false, err
		}
		if err := repos.InvoiceRepo().SaveWithLock(ctx, inv); err != nil {
			return nil, nil, nil, false, err
		}
		touched = append(touched, inv)
	}

	if err := payment.RecordAllocation(plan.Allocations, plan.RemainingAmount, now); err != nil {
		return nil, nil, nil, false, err
	}
	if err := repos.PaymentRepo().SaveWithLock(ctx, payment); err != nil {
		return nil, nil, nil, false, err
	}

	var tenant *billing.Tenant
	if plan.RemainingAmount.IsPositive() {
		tenant, err = repos.TenantRepo().FindByID(ctx, payment.TenantID)
		if err != nil {
			return nil, nil, nil, false, err
		}
		if err := tenant.AddCredit(plan.RemainingAmount); err != nil {
			return nil, nil, nil, false, err
		}
		if err := repos.TenantRepo().SaveWithLock(ctx, tenant); err != nil {
			return nil, nil, nil, false, err
		}
	}
	return payment, tenant, touched, false, nil
}

// RefundPayment moves the payment to Refunded and, if it was allocated,
// reverses every allocation: invoices get their balance back (Paid ones
// reopen), money released by a void is taken back from tenant credit, and
// the unapplied remainder is removed from tenant credit.
func (a *PaymentAllocator) RefundPayment(ctx context.Context, paymentID uuid.UUID) (*RefundOutcome, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "payment_allocator", "refund_payment",
		telemetry.WithAttribute(telemetry.SpanAttrPaymentID, paymentID.String()))
	defer span.End()

	head, err := a.loadPayment(ctx, paymentID)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}

	release, err := lockTenant(ctx, a.locker, head.TenantID)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	defer release()

	var (
		outcome  *RefundOutcome
		payment  *billing.Payment
		tenant   *billing.Tenant
		invoices []*billing.Invoice
	)
	err = retry(ctx, a.retry, isTransient, nil, func(int) error {
		return a.txScope.Execute(ctx, func(repos TransactionalRepositories) error {
			var err error
			outcome, payment, tenant, invoices, err = a.refund(ctx, repos, paymentID)
			return err
		})
	})
	if err != nil {
		telemetry.RecordError(span, err)
		if errors.Is(err, errRetriesExhausted) {
			return nil, shared.NewDomainError(shared.CodeUnavailable,
				fmt.Sprintf("refund of payment %s did not complete, retry later: %v", paymentID, err))
		}
		return nil, err
	}

	if outcome.Shortfall.IsPositive() {
		a.logger.Warn("Refunded payment credit was already consumed by later invoices",
			zap.String("payment_id", paymentID.String()),
			zap.String("tenant_id", payment.TenantID.String()),
			zap.String("shortfall", outcome.Shortfall.String()))
	}
	sources := []eventSource{payment}
	if tenant != nil {
		sources = append(sources, tenant)
	}
	for _, inv := range invoices {
		sources = append(sources, inv)
	}
	publishEvents(ctx, a.events, a.logger, sources...)
	telemetry.SetOK(span)
	return outcome, nil
}

func (a *PaymentAllocator) refund(
	ctx context.Context,
	repos TransactionalRepositories,
	paymentID uuid.UUID,
) (*RefundOutcome, *billing.Payment, *billing.Tenant, []*billing.Invoice, error) {
	now := a.clock()

	payment, err := repos.PaymentRepo().FindByID(ctx, paymentID)
	if err != nil {
		return nil, nil, nil, nil, err
	}
	wasAllocated := payment.IsAllocated()
	if _, err := payment.TransitionTo(billing.PaymentStatusRefunded); err != nil {
		return nil, nil, nil, nil, err
	}

	outcome := &RefundOutcome{
		PaymentID:     payment.ID,
		Reversed:      []billing.PaymentAllocation{},
		CreditReduced: decimal.Zero,
		Shortfall:     decimal.Zero,
	}
	var touched []*billing.Invoice
	var tenant *billing.Tenant

	if wasAllocated {
		toTakeBack := payment.UnappliedAmount
		for _, alloc := range payment.Allocations {
			inv, err := repos.InvoiceRepo().FindByID(ctx, alloc.InvoiceID)
			if err != nil {
				return nil, nil, nil, nil, err
			}
			if inv.Status == billing.InvoiceStatusVoid {
				toTakeBack = toTakeBack.Add(alloc.Amount)
			} else {
				if err := inv.RemoveAllocation(alloc.Amount, now); err != nil {
					return nil, nil, nil, nil, err
				}
				if err := repos.InvoiceRepo().SaveWithLock(ctx, inv); err != nil {
					return nil, nil, nil, nil, err
				}
				touched = append(touched, inv)
			}
			outcome.Reversed = append(outcome.Reversed, alloc)
		}

		if toTakeBack.IsPositive() {
			tenant, err = repos.TenantRepo().FindByID(ctx, payment.TenantID)
			if err != nil {
				return nil, nil, nil, nil, err
			}
			outcome.Shortfall = tenant.ReduceCredit(toTakeBack)
			outcome.CreditReduced = toTakeBack.Sub(outcome.Shortfall)
			if outcome.CreditReduced.IsPositive() {
				if err := repos.TenantRepo().SaveWithLock(ctx, tenant); err != nil {
					return nil, nil, nil, nil, err
				}
			}
		}
	}

	if err := repos.PaymentRepo().SaveWithLock(ctx, payment); err != nil {
		return nil, nil, nil, nil, err
	}
	return outcome, payment, tenant, touched, nil
}

func (a *PaymentAllocator) loadPayment(ctx context.Context, paymentID uuid.UUID) (*billing.Payment, error) {
	var payment *billing.Payment
	err := retry(ctx, a.retry, isTransient, nil, func(int) error {
		var err error
		payment, err = a.paymentRepo.FindByID(ctx, paymentID)
		return err
	})
	return payment, err
}

// notify tells the notifier about each allocation. A failed notification
// never undoes the allocation.
func (a *PaymentAllocator) notify(ctx context.Context, payment *billing.Payment) {
	if a.notifier == nil {
		return
	}
	for _, alloc := range payment.Allocations {
		if err := a.notifier.PaymentConfirmed(ctx, payment.TenantID, alloc.InvoiceID, alloc.Amount); err != nil {
			a.logger.Warn("Failed to send payment confirmation",
				zap.String("payment_id", payment.ID.String()),
				zap.String("invoice_id", alloc.InvoiceID.String()),
				zap.Error(err))
		}
	}
}

func outcomeOf(p *billing.Payment, already bool) *AllocationOutcome {
	allocations := p.Allocations
	if allocations == nil {
		allocations = []billing.PaymentAllocation{}
	}
	return &AllocationOutcome{
		PaymentID:        p.ID,
		TenantID:         p.TenantID,
		Allocations:      allocations,
		Unapplied:        p.UnappliedAmount,
		AlreadyAllocated: already,
	}
}
