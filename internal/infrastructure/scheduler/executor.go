package scheduler

import (
	"context"
	"fmt"
	"time"

	appbilling "github.com/rentbill/backend/internal/application/billing"
	"go.uber.org/zap"
)

// InvoiceGenerationRunner generates invoices for a billing month
type InvoiceGenerationRunner interface {
	GenerateMonthlyInvoices(ctx context.Context, year int, month time.Month, opts ...appbilling.GenerateOption) (*appbilling.GenerationSummary, error)
}

// OverdueSweeper marks past-due invoices overdue
type OverdueSweeper interface {
	SweepOverdue(ctx context.Context, asOf time.Time) (*appbilling.SweepSummary, error)
}

// BillingJobExecutor runs scheduler jobs against the billing services.
// A run that leaves tenants or invoices unprocessed returns an error so the
// scheduler retries it; both operations skip work that is already done.
type BillingJobExecutor struct {
	generator InvoiceGenerationRunner
	sweeper   OverdueSweeper
	logger    *zap.Logger
}

// NewBillingJobExecutor creates a new BillingJobExecutor
func NewBillingJobExecutor(generator InvoiceGenerationRunner, sweeper OverdueSweeper, logger *zap.Logger) *BillingJobExecutor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BillingJobExecutor{
		generator: generator,
		sweeper:   sweeper,
		logger:    logger,
	}
}

// Execute implements JobExecutor
func (e *BillingJobExecutor) Execute(ctx context.Context, job *Job) error {
	switch job.Type {
	case JobTypeGenerateInvoices:
		return e.generate(ctx, job)
	case JobTypeSweepOverdue:
		return e.sweep(ctx, job)
	default:
		return fmt.Errorf("%w: %q", ErrInvalidJobType, job.Type)
	}
}

func (e *BillingJobExecutor) generate(ctx context.Context, job *Job) error {
	var opts []appbilling.GenerateOption
	if job.LandlordID != nil {
		opts = append(opts, appbilling.ForLandlord(*job.LandlordID))
	}

	summary, err := e.generator.GenerateMonthlyInvoices(ctx, job.Year, job.Month, opts...)
	if err != nil {
		return fmt.Errorf("generate invoices for %d-%02d: %w", job.Year, job.Month, err)
	}

	e.logger.Info("Invoice generation finished",
		zap.String("job_id", job.ID.String()),
		zap.Int("year", summary.Year),
		zap.Int("month", int(summary.Month)),
		zap.Int("created", summary.Created),
		zap.Int("skipped", summary.Skipped),
		zap.Int("failed", len(summary.Failures)),
	)
	if len(summary.Failures) > 0 {
		return fmt.Errorf("%w: %d tenants failed", ErrGenerationIncomplete, len(summary.Failures))
	}
	return nil
}

func (e *BillingJobExecutor) sweep(ctx context.Context, job *Job) error {
	summary, err := e.sweeper.SweepOverdue(ctx, job.AsOf)
	if err != nil {
		return fmt.Errorf("sweep overdue invoices as of %s: %w", job.AsOf.Format(time.DateOnly), err)
	}

	e.logger.Info("Overdue sweep finished",
		zap.String("job_id", job.ID.String()),
		zap.Time("as_of", summary.AsOf),
		zap.Int("examined", summary.Examined),
		zap.Int("updated", summary.Updated),
		zap.Int("conflicts", summary.Conflicts),
		zap.Int("failed", summary.Failed),
	)
	if summary.Failed > 0 {
		return fmt.Errorf("%w: %d invoices failed", ErrSweepIncomplete, summary.Failed)
	}
	return nil
}

var _ JobExecutor = (*BillingJobExecutor)(nil)
