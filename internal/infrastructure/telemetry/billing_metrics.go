package telemetry

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

// ErrMeterNil is returned when BillingMetrics is built without a meter.
var ErrMeterNil = errors.New("NewBillingMetrics: meter cannot be nil")

// Metric attribute keys
const (
	AttrLandlordID = attribute.Key("landlord_id")
	AttrStatus     = attribute.Key("status")
	AttrReason     = attribute.Key("reason")
)

// BillingMetrics records counters for invoice generation and payment allocation.
// A nil *BillingMetrics is valid and records nothing.
type BillingMetrics struct {
	invoicesGenerated   *Counter
	invoicesSkipped     *Counter
	generationFailures  *Counter
	paymentsAllocated   *Counter
	allocationConflicts *Counter
	amountAllocated     *Histogram
	generationDuration  *Histogram
	logger              *zap.Logger
}

// BillingMetricsConfig configures BillingMetrics
type BillingMetricsConfig struct {
	Meter  metric.Meter
	Logger *zap.Logger
}

// NewBillingMetrics creates all billing instruments on the given meter.
func NewBillingMetrics(cfg BillingMetricsConfig) (*BillingMetrics, error) {
	if cfg.Meter == nil {
		return nil, ErrMeterNil
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	m := &BillingMetrics{logger: logger}
	var err error

	if m.invoicesGenerated, err = NewCounter(cfg.Meter, "billing_invoices_generated_total",
		"Invoices created by monthly generation", "{invoice}"); err != nil {
		return nil, err
	}
	if m.invoicesSkipped, err = NewCounter(cfg.Meter, "billing_invoices_skipped_total",
		"Tenants skipped because the period was already invoiced", "{invoice}"); err != nil {
		return nil, err
	}
	if m.generationFailures, err = NewCounter(cfg.Meter, "billing_generation_failures_total",
		"Tenants whose invoice could not be generated", "{tenant}"); err != nil {
		return nil, err
	}
	if m.paymentsAllocated, err = NewCounter(cfg.Meter, "billing_payments_allocated_total",
		"Payments allocated across invoices", "{payment}"); err != nil {
		return nil, err
	}
	if m.allocationConflicts, err = NewCounter(cfg.Meter, "billing_allocation_conflicts_total",
		"Optimistic concurrency conflicts retried during allocation", "{conflict}"); err != nil {
		return nil, err
	}
	if m.amountAllocated, err = NewHistogram(cfg.Meter, HistogramOpts{
		Name:        "billing_payment_amount",
		Description: "Amount of allocated payments",
		Unit:        "1",
		Boundaries:  []float64{100, 500, 1000, 5000, 10000, 50000, 100000},
	}); err != nil {
		return nil, err
	}
	if m.generationDuration, err = NewHistogram(cfg.Meter, HistogramOpts{
		Name:        "billing_generation_duration_seconds",
		Description: "Duration of a monthly generation run",
		Unit:        "s",
		Boundaries:  []float64{0.1, 0.5, 1, 5, 10, 30, 60, 300},
	}); err != nil {
		return nil, err
	}

	return m, nil
}

// RecordInvoiceGenerated counts one created invoice.
func (m *BillingMetrics) RecordInvoiceGenerated(ctx context.Context, landlordID uuid.UUID) {
	if m == nil {
		return
	}
	m.invoicesGenerated.Inc(ctx, AttrLandlordID.String(landlordID.String()))
}

// RecordInvoiceSkipped counts one tenant skipped as already invoiced.
func (m *BillingMetrics) RecordInvoiceSkipped(ctx context.Context, landlordID uuid.UUID) {
	if m == nil {
		return
	}
	m.invoicesSkipped.Inc(ctx, AttrLandlordID.String(landlordID.String()))
}

// RecordGenerationFailure counts one tenant that failed during generation.
func (m *BillingMetrics) RecordGenerationFailure(ctx context.Context, landlordID uuid.UUID, reason string) {
	if m == nil {
		return
	}
	m.generationFailures.Inc(ctx, AttrLandlordID.String(landlordID.String()), AttrReason.String(reason))
}

// RecordGenerationDuration records how long a generation run took.
func (m *BillingMetrics) RecordGenerationDuration(ctx context.Context, d time.Duration) {
	if m == nil {
		return
	}
	m.generationDuration.RecordDuration(ctx, d)
}

// RecordPaymentAllocated counts an allocated payment and its amount.
func (m *BillingMetrics) RecordPaymentAllocated(ctx context.Context, landlordID uuid.UUID, amount decimal.Decimal) {
	if m == nil {
		return
	}
	attr := AttrLandlordID.String(landlordID.String())
	m.paymentsAllocated.Inc(ctx, attr)
	m.amountAllocated.Record(ctx, amount.InexactFloat64(), attr)
}

// RecordAllocationConflict counts a retried concurrency conflict.
func (m *BillingMetrics) RecordAllocationConflict(ctx context.Context) {
	if m == nil {
		return
	}
	m.allocationConflicts.Inc(ctx)
}
