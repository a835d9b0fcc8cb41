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
	"go.uber.org/zap"
)

// TenantFailure records why one tenant could not be invoiced.
type TenantFailure struct {
	TenantID uuid.UUID `json:"tenant_id"`
	Code     string    `json:"code"`
	Message  string    `json:"message"`
}

// GenerationSummary is the outcome of one generation run.
type GenerationSummary struct {
	Year     int             `json:"year"`
	Month    time.Month      `json:"month"`
	Created  int             `json:"created"`
	Skipped  int             `json:"skipped"`
	Failures []TenantFailure `json:"failures"`
}

type generateOptions struct {
	landlordID *uuid.UUID
}

// GenerateOption narrows a generation run.
type GenerateOption func(*generateOptions)

// ForLandlord restricts generation to one landlord's tenants.
func ForLandlord(landlordID uuid.UUID) GenerateOption {
	return func(o *generateOptions) {
		id := landlordID
		o.landlordID = &id
	}
}

// InvoiceGenerator creates one invoice per active tenant and billing period.
type InvoiceGenerator struct {
	tenantRepo    billing.TenantRepository
	invoiceRepo   billing.InvoiceRepository
	txScope       TransactionScope
	composer      *LineItemComposer
	locker        shared.Locker
	events        shared.EventPublisher
	metrics       *telemetry.BillingMetrics
	initialStatus billing.InvoiceStatus
	retry         RetryPolicy
	clock         func() time.Time
	logger        *zap.Logger
}

// InvoiceGeneratorConfig contains the dependencies of InvoiceGenerator
type InvoiceGeneratorConfig struct {
	TenantRepo  billing.TenantRepository
	InvoiceRepo billing.InvoiceRepository
	TxScope     TransactionScope
	Composer    *LineItemComposer
	Locker      shared.Locker
	Events      shared.EventPublisher
	Metrics     *telemetry.BillingMetrics
	// InitialStatus is DRAFT or ISSUED. Defaults to ISSUED.
	InitialStatus billing.InvoiceStatus
	Retry         RetryPolicy
	Clock         func() time.Time
	Logger        *zap.Logger
}

// NewInvoiceGenerator creates a new InvoiceGenerator
func NewInvoiceGenerator(cfg InvoiceGeneratorConfig) *InvoiceGenerator {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	status := cfg.InitialStatus
	if status != billing.InvoiceStatusDraft {
		status = billing.InvoiceStatusIssued
	}
	composer := cfg.Composer
	if composer == nil {
		composer = NewLineItemComposer(nil, cfg.Retry, logger)
	}
	return &InvoiceGenerator{
		tenantRepo:    cfg.TenantRepo,
		invoiceRepo:   cfg.InvoiceRepo,
		txScope:       cfg.TxScope,
		composer:      composer,
		locker:        cfg.Locker,
		events:        cfg.Events,
		metrics:       cfg.Metrics,
		initialStatus: status,
		retry:         cfg.Retry,
		clock:         clock,
		logger:        logger,
	}
}

// GenerateMonthlyInvoices invoices every active tenant whose lease covers the
// given month. Tenants that already have an invoice for the period are
// skipped. Per-tenant errors are collected in the summary; only context
// cancellation stops the batch, and it is checked between tenants.
func (g *InvoiceGenerator) GenerateMonthlyInvoices(ctx context.Context, year int, month time.Month, opts ...GenerateOption) (*GenerationSummary, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "invoice_generator", "generate_monthly_invoices")
	defer span.End()
	started := time.Now()
	defer func() { g.metrics.RecordGenerationDuration(ctx, time.Since(started)) }()

	var o generateOptions
	for _, opt := range opts {
		opt(&o)
	}

	summary := &GenerationSummary{Year: year, Month: month, Failures: []TenantFailure{}}
	if month < time.January || month > time.December {
		return nil, shared.NewDomainError(shared.CodeInvalidArgument, fmt.Sprintf("invalid month %d", month))
	}
	telemetry.SetAttributes(span, telemetry.SpanAttrPeriod, fmt.Sprintf("%04d-%02d", year, month))
	if o.landlordID != nil {
		telemetry.SetAttributes(span, telemetry.SpanAttrLandlordID, o.landlordID.String())
	}

	var tenants []*billing.Tenant
	err := retry(ctx, g.retry, isTransient, nil, func(int) error {
		var err error
		tenants, err = g.tenantRepo.FindActive(ctx, o.landlordID)
		return err
	})
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, fmt.Errorf("load active tenants: %w", err)
	}

	for _, tenant := range tenants {
		if err := ctx.Err(); err != nil {
			g.logger.Warn("Invoice generation cancelled",
				zap.Int("created", summary.Created),
				zap.Int("skipped", summary.Skipped),
				zap.Error(err))
			telemetry.RecordError(span, err)
			return summary, err
		}

		created, err := g.generateForTenant(ctx, tenant, year, month)
		switch {
		case errors.Is(err, errNotEligible):
			continue
		case err != nil:
			g.logger.Error("Failed to generate invoice for tenant",
				zap.String("tenant_id", tenant.ID.String()),
				zap.String("landlord_id", tenant.LandlordID.String()),
				zap.Int("year", year),
				zap.Int("month", int(month)),
				zap.Error(err))
			g.metrics.RecordGenerationFailure(ctx, tenant.LandlordID, errorCode(err))
			summary.Failures = append(summary.Failures, TenantFailure{
				TenantID: tenant.ID,
				Code:     errorCode(err),
				Message:  err.Error(),
			})
		case created:
			summary.Created++
			g.metrics.RecordInvoiceGenerated(ctx, tenant.LandlordID)
		default:
			summary.Skipped++
			g.metrics.RecordInvoiceSkipped(ctx, tenant.LandlordID)
		}
	}

	telemetry.SetAttributes(span,
		"created", summary.Created,
		"skipped", summary.Skipped,
		"failed", len(summary.Failures),
	)
	telemetry.SetOK(span)
	g.logger.Info("Invoice generation finished",
		zap.Int("year", year),
		zap.Int("month", int(month)),
		zap.Int("created", summary.Created),
		zap.Int("skipped", summary.Skipped),
		zap.Int("failed", len(summary.Failures)))
	return summary, nil
}

// errNotEligible marks a tenant whose lease does not cover the period.
var errNotEligible = errors.New("lease does not cover period")

// generateForTenant returns created=false when the period is already invoiced.
func (g *InvoiceGenerator) generateForTenant(ctx context.Context, tenant *billing.Tenant, year int, month time.Month) (created bool, err error) {
	dueDate, err := billing.CalculateDueDate(year, month, tenant.RentDueDay)
	if err != nil {
		return false, err
	}
	periodStart, periodEnd := billing.CalculatePaymentPeriod(dueDate)
	if !tenant.CoversPeriod(periodStart, periodEnd) {
		return false, errNotEligible
	}

	ctx, span := telemetry.StartServiceSpan(ctx, "invoice_generator", "generate_for_tenant",
		telemetry.WithAttribute(telemetry.SpanAttrTenantID, tenant.ID.String()),
		telemetry.WithAttribute(telemetry.SpanAttrLandlordID, tenant.LandlordID.String()),
		telemetry.WithAttribute(telemetry.SpanAttrPeriod, periodStart.Format("2006-01")),
	)
	defer span.End()
	defer func() {
		if err != nil {
			telemetry.RecordError(span, err)
		} else {
			outcome := "skipped"
			if created {
				outcome = "created"
			}
			telemetry.SetAttributes(span, telemetry.SpanAttrOutcome, outcome)
			telemetry.SetOK(span)
		}
	}()

	// A tenant that has started runs to completion. The batch checks for
	// cancellation between tenants only.
	ctx = context.WithoutCancel(ctx)

	release, err := lockTenant(ctx, g.locker, tenant.ID)
	if err != nil {
		return false, err
	}
	defer release()

	exists, err := g.invoiceExists(ctx, tenant.ID, periodStart)
	if err != nil || exists {
		return false, err
	}

	utilities, err := g.composer.FetchUtilities(ctx, tenant.UnitID, periodStart, periodEnd)
	if err != nil {
		return false, err
	}

	var invoice, prior *billing.Invoice
	err = retry(ctx, g.retry, isTransient, func(err error, attempt int) {
		telemetry.AddEvent(span, "generation_retry",
			telemetry.SpanAttrAttempt, attempt,
			"error", err.Error(),
		)
		g.logger.Debug("Retrying invoice generation for tenant",
			zap.String("tenant_id", tenant.ID.String()),
			zap.Int("attempt", attempt),
			zap.Error(err))
	}, func(int) error {
		invoice, prior = nil, nil
		return g.txScope.Execute(ctx, func(repos TransactionalRepositories) error {
			var err error
			invoice, prior, err = g.createInvoice(ctx, repos, tenant.ID, periodStart, periodEnd, dueDate, utilities)
			return err
		})
	})
	if errors.Is(err, shared.ErrDuplicate) {
		g.logger.Debug("Invoice already created by a concurrent run",
			zap.String("tenant_id", tenant.ID.String()),
			zap.Time("period_start", periodStart))
		return false, nil
	}
	if err != nil {
		return false, err
	}

	sources := []eventSource{invoice}
	if prior != nil {
		sources = append(sources, prior)
	}
	publishEvents(ctx, g.events, g.logger, sources...)
	g.logger.Info("Invoice generated",
		zap.String("invoice_id", invoice.ID.String()),
		zap.String("tenant_id", tenant.ID.String()),
		zap.String("amount", invoice.Amount.String()),
		zap.String("opening_balance", invoice.OpeningBalance.String()),
		zap.String("status", invoice.Status.String()))
	return true, nil
}

func (g *InvoiceGenerator) invoiceExists(ctx context.Context, tenantID uuid.UUID, periodStart time.Time) (bool, error) {
	exists := false
	err := retry(ctx, g.retry, isTransient, nil, func(int) error {
		_, err := g.invoiceRepo.FindByTenantAndPeriod(ctx, tenantID, periodStart)
		if err == nil {
			exists = true
			return nil
		}
		return ignoreNotFound(err)
	})
	return exists, err
}

// createInvoice runs inside one transaction: it re-reads the tenant and the
// prior invoice, builds the new invoice, and persists the invoice, the carried
// forward prior invoice and the consumed tenant credit together.
func (g *InvoiceGenerator) createInvoice(
	ctx context.Context,
	repos TransactionalRepositories,
	tenantID uuid.UUID,
	periodStart, periodEnd, dueDate time.Time,
	utilities []billing.InvoiceLineItem,
) (*billing.Invoice, *billing.Invoice, error) {
	now := g.clock()

	tenant, err := repos.TenantRepo().FindByID(ctx, tenantID)
	if err != nil {
		return nil, nil, err
	}
	prior, err := repos.InvoiceRepo().FindPrior(ctx, tenantID, periodStart)
	if err = ignoreNotFound(err); err != nil {
		return nil, nil, err
	}

	comp := g.composer.Compose(ComposeInput{
		Tenant:      tenant,
		PeriodStart: periodStart,
		PeriodEnd:   periodEnd,
		Prior:       prior,
		Utilities:   utilities,
		AsOf:        now,
	})

	invoice, err := billing.NewInvoice(tenant, periodStart, periodEnd, dueDate, comp.Items, g.initialStatus, now)
	if err != nil {
		return nil, nil, err
	}
	invoice.CreditApplied = comp.CreditApplied
	if err := repos.InvoiceRepo().Create(ctx, invoice); err != nil {
		return nil, nil, err
	}

	if prior != nil && comp.CarriedForward.IsPositive() {
		prior.CarryForwardTo(invoice.ID, now)
		if err := repos.InvoiceRepo().SaveWithLock(ctx, prior); err != nil {
			return nil, nil, err
		}
	}
	if comp.CreditApplied.IsPositive() {
		tenant.ConsumeCredit(comp.CreditApplied)
		if err := repos.TenantRepo().SaveWithLock(ctx, tenant); err != nil {
			return nil, nil, err
		}
	}
	return invoice, prior, nil
}
