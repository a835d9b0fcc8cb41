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

const defaultSweepBatchSize = 200

// RecordPaymentInput describes a funds receipt to record.
type RecordPaymentInput struct {
	TenantID    uuid.UUID
	Amount      decimal.Decimal
	PaymentDate time.Time
	Method      billing.PaymentMethod
	// Reference is the bank or gateway transaction id. Empty means a manual entry.
	Reference string
	// Status defaults to COMPLETED.
	Status billing.PaymentStatus
	Notes  string
}

// PaymentResult is a payment together with its allocation, if any.
type PaymentResult struct {
	Payment    *billing.Payment
	Allocation *AllocationOutcome
	Refund     *RefundOutcome
	// Duplicate is true when the reference had already been recorded.
	Duplicate bool
}

// SweepSummary is the outcome of one overdue sweep.
type SweepSummary struct {
	AsOf      time.Time `json:"as_of"`
	Examined  int       `json:"examined"`
	Updated   int       `json:"updated"`
	Conflicts int       `json:"conflicts"`
	Failed    int       `json:"failed"`
}

// BillingService exposes invoice and payment operations to the API,
// the scheduler and the payment gateway.
type BillingService struct {
	tenantRepo     billing.TenantRepository
	invoiceRepo    billing.InvoiceRepository
	paymentRepo    billing.PaymentRepository
	txScope        TransactionScope
	allocator      *PaymentAllocator
	locker         shared.Locker
	events         shared.EventPublisher
	retry          RetryPolicy
	clock          func() time.Time
	sweepBatchSize int
	logger         *zap.Logger
}

// BillingServiceConfig contains the dependencies of BillingService
type BillingServiceConfig struct {
	TenantRepo     billing.TenantRepository
	InvoiceRepo    billing.InvoiceRepository
	PaymentRepo    billing.PaymentRepository
	TxScope        TransactionScope
	Allocator      *PaymentAllocator
	Locker         shared.Locker
	Events         shared.EventPublisher
	Retry          RetryPolicy
	Clock          func() time.Time
	SweepBatchSize int
	Logger         *zap.Logger
}

// NewBillingService creates a new BillingService
func NewBillingService(cfg BillingServiceConfig) *BillingService {
	s := &BillingService{
		tenantRepo:     cfg.TenantRepo,
		invoiceRepo:    cfg.InvoiceRepo,
		paymentRepo:    cfg.PaymentRepo,
		txScope:        cfg.TxScope,
		allocator:      cfg.Allocator,
		locker:         cfg.Locker,
		events:         cfg.Events,
		retry:          cfg.Retry,
		clock:          cfg.Clock,
		sweepBatchSize: cfg.SweepBatchSize,
		logger:         cfg.Logger,
	}
	if s.clock == nil {
		s.clock = time.Now
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if s.sweepBatchSize <= 0 {
		s.sweepBatchSize = defaultSweepBatchSize
	}
	return s
}

// GetInvoice returns an invoice the caller is allowed to see. Tenants only
// see their own invoices.
func (s *BillingService) GetInvoice(ctx context.Context, id uuid.UUID, identity Identity) (*billing.Invoice, error) {
	inv, err := s.invoiceRepo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := identity.authorize(inv.LandlordID, inv.TenantID); err != nil {
		s.logger.Warn("Rejected cross-tenant invoice read",
			zap.String("invoice_id", id.String()),
			zap.String("user_id", identity.UserID.String()),
			zap.String("role", string(identity.Role)))
		return nil, err
	}
	return inv, nil
}

// ListInvoices returns a page of invoices, narrowed to what the caller may see.
func (s *BillingService) ListInvoices(ctx context.Context, filter billing.InvoiceFilter, identity Identity) (*shared.Paginated[*billing.Invoice], error) {
	switch identity.Role {
	case RoleAdmin:
	case RoleLandlord:
		landlordID := identity.LandlordID
		filter.LandlordID = &landlordID
	case RoleTenant:
		landlordID, tenantID := identity.LandlordID, identity.TenantID
		filter.LandlordID = &landlordID
		filter.TenantID = &tenantID
	default:
		return nil, shared.ErrForbidden
	}
	if filter.Status != nil && !filter.Status.IsValid() {
		return nil, shared.NewDomainError(shared.CodeInvalidArgument, fmt.Sprintf("unknown invoice status %q", *filter.Status))
	}
	if filter.Page < 1 {
		filter.Page = 1
	}
	if filter.PageSize < 1 || filter.PageSize > 100 {
		filter.PageSize = shared.DefaultFilter().PageSize
	}

	items, total, err := s.invoiceRepo.FindAll(ctx, filter)
	if err != nil {
		return nil, err
	}
	return &shared.Paginated[*billing.Invoice]{
		Items:    items,
		Total:    total,
		Page:     filter.Page,
		PageSize: filter.PageSize,
	}, nil
}

// RecordPayment stores a receipt and allocates it when it is completed.
// Recording a reference twice returns the first payment; a reference reused
// for a different tenant is a conflict.
func (s *BillingService) RecordPayment(ctx context.Context, in RecordPaymentInput, identity Identity) (*PaymentResult, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "billing", "record_payment")
	defer span.End()
	telemetry.SetAttributes(span,
		telemetry.SpanAttrTenantID, in.TenantID.String(),
		telemetry.SpanAttrAmount, in.Amount.String(),
	)

	if !in.Amount.IsPositive() {
		return nil, shared.NewDomainError(shared.CodeInvalidArgument, "payment amount must be positive")
	}
	tenant, err := s.tenantRepo.FindByID(ctx, in.TenantID)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	if err := identity.canManage(tenant.LandlordID); err != nil {
		return nil, err
	}

	if in.Reference != "" {
		existing, err := s.paymentRepo.FindByReference(ctx, tenant.LandlordID, in.Reference)
		if err == nil {
			return s.duplicatePayment(ctx, existing, in)
		}
		if !errors.Is(err, shared.ErrNotFound) {
			telemetry.RecordError(span, err)
			return nil, err
		}
	}

	paymentDate := in.PaymentDate
	if paymentDate.IsZero() {
		paymentDate = s.clock()
	}
	payment, err := billing.NewPayment(tenant.LandlordID, tenant.ID, in.Amount, paymentDate, in.Method, in.Reference, in.Status)
	if err != nil {
		return nil, err
	}
	payment.Notes = in.Notes

	if err := s.paymentRepo.Create(ctx, payment); err != nil {
		if errors.Is(err, shared.ErrDuplicate) {
			existing, findErr := s.paymentRepo.FindByReference(ctx, tenant.LandlordID, payment.TransactionReference)
			if findErr != nil {
				return nil, findErr
			}
			return s.duplicatePayment(ctx, existing, in)
		}
		telemetry.RecordError(span, err)
		return nil, err
	}
	publishEvents(ctx, s.events, s.logger, payment)
	telemetry.SetAttributes(span, telemetry.SpanAttrPaymentID, payment.ID.String())
	s.logger.Info("Payment recorded",
		zap.String("payment_id", payment.ID.String()),
		zap.String("tenant_id", tenant.ID.String()),
		zap.String("amount", payment.Amount.String()),
		zap.String("method", string(payment.Method)),
		zap.String("status", payment.Status.String()))

	result := &PaymentResult{Payment: payment}
	if payment.CanAllocate() {
		if err := s.allocateInto(ctx, result); err != nil {
			telemetry.RecordError(span, err)
			return result, err
		}
	}
	telemetry.SetOK(span)
	return result, nil
}

func (s *BillingService) duplicatePayment(ctx context.Context, existing *billing.Payment, in RecordPaymentInput) (*PaymentResult, error) {
	if existing.TenantID != in.TenantID {
		return nil, shared.NewDomainError(shared.CodeConflict,
			fmt.Sprintf("transaction reference %q is already recorded for another tenant", existing.TransactionReference))
	}
	s.logger.Info("Payment reference already recorded",
		zap.String("payment_id", existing.ID.String()),
		zap.String("reference", existing.TransactionReference))

	result := &PaymentResult{Payment: existing, Duplicate: true}
	if existing.CanAllocate() {
		return result, s.allocateInto(ctx, result)
	}
	if existing.IsAllocated() {
		result.Allocation = outcomeOf(existing, true)
	}
	return result, nil
}

// allocateInto allocates result.Payment and refreshes it from the store.
func (s *BillingService) allocateInto(ctx context.Context, result *PaymentResult) error {
	outcome, err := s.allocator.AllocatePayment(ctx, result.Payment.ID)
	if err != nil {
		return err
	}
	result.Allocation = outcome
	if fresh, err := s.paymentRepo.FindByID(ctx, result.Payment.ID); err == nil {
		result.Payment = fresh
	}
	return nil
}

// GetPayment returns a payment the caller is allowed to see.
func (s *BillingService) GetPayment(ctx context.Context, id uuid.UUID, identity Identity) (*billing.Payment, error) {
	payment, err := s.paymentRepo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := identity.authorize(payment.LandlordID, payment.TenantID); err != nil {
		return nil, err
	}
	return payment, nil
}

// UpdatePaymentStatus moves a payment through its lifecycle. Completing a
// payment allocates it; refunding an allocated payment reverses it.
func (s *BillingService) UpdatePaymentStatus(ctx context.Context, id uuid.UUID, status billing.PaymentStatus, identity Identity) (*PaymentResult, error) {
	if !status.IsValid() {
		return nil, shared.NewDomainError(shared.CodeInvalidArgument, fmt.Sprintf("unknown payment status %q", status))
	}
	payment, err := s.paymentRepo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := identity.canManage(payment.LandlordID); err != nil {
		return nil, err
	}

	result := &PaymentResult{Payment: payment}
	if payment.Status == status {
		if payment.CanAllocate() {
			return result, s.allocateInto(ctx, result)
		}
		return result, nil
	}

	if status == billing.PaymentStatusRefunded {
		refund, err := s.allocator.RefundPayment(ctx, id)
		if err != nil {
			return nil, err
		}
		result.Refund = refund
		if fresh, err := s.paymentRepo.FindByID(ctx, id); err == nil {
			result.Payment = fresh
		}
		return result, nil
	}

	err = retry(ctx, s.retry, isTransient, nil, func(int) error {
		return s.txScope.Execute(ctx, func(repos TransactionalRepositories) error {
			p, err := repos.PaymentRepo().FindByID(ctx, id)
			if err != nil {
				return err
			}
			if _, err := p.TransitionTo(status); err != nil {
				return err
			}
			if err := repos.PaymentRepo().SaveWithLock(ctx, p); err != nil {
				return err
			}
			result.Payment = p
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	publishEvents(ctx, s.events, s.logger, result.Payment)
	s.logger.Info("Payment status changed",
		zap.String("payment_id", id.String()),
		zap.String("status", status.String()))

	if result.Payment.CanAllocate() {
		return result, s.allocateInto(ctx, result)
	}
	return result, nil
}

// RecalculateInvoice re-derives the allocated amount from completed payment
// allocations and re-runs the status calculator. It reports whether the
// invoice changed.
func (s *BillingService) RecalculateInvoice(ctx context.Context, id uuid.UUID, identity Identity) (*billing.Invoice, bool, error) {
	var (
		invoice *billing.Invoice
		changed bool
	)
	err := retry(ctx, s.retry, isTransient, nil, func(int) error {
		return s.txScope.Execute(ctx, func(repos TransactionalRepositories) error {
			inv, err := repos.InvoiceRepo().FindByID(ctx, id)
			if err != nil {
				return err
			}
			if err := identity.canManage(inv.LandlordID); err != nil {
				return err
			}
			allocated, err := repos.PaymentRepo().SumAllocationsForInvoice(ctx, id)
			if err != nil {
				return err
			}

			changed = false
			if inv.Status != billing.InvoiceStatusVoid && !allocated.Equal(inv.AllocatedAmount) {
				s.logger.Warn("Invoice allocated amount drifted from payment allocations",
					zap.String("invoice_id", id.String()),
					zap.String("stored", inv.AllocatedAmount.String()),
					zap.String("allocations", allocated.String()))
				inv.AllocatedAmount = allocated
				changed = true
			}
			if inv.Recalculate(s.clock()) {
				changed = true
			}
			if changed {
				if err := repos.InvoiceRepo().SaveWithLock(ctx, inv); err != nil {
					return err
				}
			}
			invoice = inv
			return nil
		})
	})
	if err != nil {
		return nil, false, err
	}
	publishEvents(ctx, s.events, s.logger, invoice)
	return invoice, changed, nil
}

// SweepOverdue re-evaluates every Issued or PartiallyPaid invoice due before
// asOf. Invoices changed concurrently are counted and left for the next sweep.
func (s *BillingService) SweepOverdue(ctx context.Context, asOf time.Time) (*SweepSummary, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "billing", "sweep_overdue")
	defer span.End()

	summary := &SweepSummary{AsOf: asOf}
	seen := make(map[uuid.UUID]struct{})
	for {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		batch, err := s.invoiceRepo.FindSweepCandidates(ctx, asOf, s.sweepBatchSize)
		if err != nil {
			telemetry.RecordError(span, err)
			return summary, err
		}

		fresh := 0
		for _, inv := range batch {
			if _, ok := seen[inv.ID]; ok {
				continue
			}
			seen[inv.ID] = struct{}{}
			fresh++
			summary.Examined++

			if !inv.Recalculate(asOf) {
				continue
			}
			err := s.invoiceRepo.SaveWithLock(ctx, inv)
			switch {
			case err == nil:
				summary.Updated++
				publishEvents(ctx, s.events, s.logger, inv)
			case isConcurrencyConflict(err):
				summary.Conflicts++
			default:
				summary.Failed++
				s.logger.Error("Failed to save swept invoice",
					zap.String("invoice_id", inv.ID.String()),
					zap.Error(err))
			}
		}
		if fresh == 0 || len(batch) < s.sweepBatchSize {
			break
		}
	}

	telemetry.SetAttributes(span,
		"examined", summary.Examined,
		"updated", summary.Updated,
		"conflicts", summary.Conflicts,
	)
	telemetry.SetOK(span)
	s.logger.Info("Overdue sweep finished",
		zap.Time("as_of", asOf),
		zap.Int("examined", summary.Examined),
		zap.Int("updated", summary.Updated),
		zap.Int("conflicts", summary.Conflicts),
		zap.Int("failed", summary.Failed))
	return summary, nil
}

// IssueInvoice moves a draft invoice to Issued.
func (s *BillingService) IssueInvoice(ctx context.Context, id uuid.UUID, identity Identity) (*billing.Invoice, error) {
	var invoice *billing.Invoice
	err := retry(ctx, s.retry, isTransient, nil, func(int) error {
		return s.txScope.Execute(ctx, func(repos TransactionalRepositories) error {
			inv, err := repos.InvoiceRepo().FindByID(ctx, id)
			if err != nil {
				return err
			}
			if err := identity.canManage(inv.LandlordID); err != nil {
				return err
			}
			if err := inv.Issue(s.clock()); err != nil {
				return err
			}
			if err := repos.InvoiceRepo().SaveWithLock(ctx, inv); err != nil {
				return err
			}
			invoice = inv
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	publishEvents(ctx, s.events, s.logger, invoice)
	return invoice, nil
}

// VoidInvoice cancels an unpaid invoice. Payment money allocated to it and
// credit it consumed go back to the tenant, and a balance it took over from
// the prior invoice is owed on that invoice again.
func (s *BillingService) VoidInvoice(ctx context.Context, id uuid.UUID, reason string, identity Identity) (*billing.Invoice, error) {
	head, err := s.invoiceRepo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := identity.canManage(head.LandlordID); err != nil {
		return nil, err
	}

	release, err := lockTenant(ctx, s.locker, head.TenantID)
	if err != nil {
		return nil, err
	}
	defer release()

	var invoice, prior *billing.Invoice
	var tenant *billing.Tenant
	err = retry(ctx, s.retry, isTransient, nil, func(int) error {
		invoice, prior, tenant = nil, nil, nil
		return s.txScope.Execute(ctx, func(repos TransactionalRepositories) error {
			now := s.clock()
			inv, err := repos.InvoiceRepo().FindByID(ctx, id)
			if err != nil {
				return err
			}
			carriedIn := inv.CarriedIn()
			released, err := inv.Void(reason, now)
			if err != nil {
				return err
			}
			if err := repos.InvoiceRepo().SaveWithLock(ctx, inv); err != nil {
				return err
			}
			invoice = inv

			if carriedIn.IsPositive() {
				p, err := repos.InvoiceRepo().FindPrior(ctx, inv.TenantID, inv.PeriodStart)
				if err = ignoreNotFound(err); err != nil {
					return err
				}
				if p != nil && p.ReleaseCarryForward(inv.ID, carriedIn, now).IsPositive() {
					if err := repos.InvoiceRepo().SaveWithLock(ctx, p); err != nil {
						return err
					}
					prior = p
				}
			}

			if released.IsPositive() {
				t, err := repos.TenantRepo().FindByID(ctx, inv.TenantID)
				if err != nil {
					return err
				}
				if err := t.AddCredit(released); err != nil {
					return err
				}
				if err := repos.TenantRepo().SaveWithLock(ctx, t); err != nil {
					return err
				}
				tenant = t
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	sources := []eventSource{invoice}
	if prior != nil {
		sources = append(sources, prior)
	}
	if tenant != nil {
		sources = append(sources, tenant)
	}
	publishEvents(ctx, s.events, s.logger, sources...)
	s.logger.Info("Invoice voided",
		zap.String("invoice_id", id.String()),
		zap.String("reason", reason))
	return invoice, nil
}
