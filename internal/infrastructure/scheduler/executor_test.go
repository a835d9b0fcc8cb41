package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	appbilling "github.com/rentbill/backend/internal/application/billing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"go.uber.org/zap"
)

type MockGenerationRunner struct {
	mock.Mock
}

// GenerateMonthlyInvoices records the number of options since option funcs cannot be compared
func (m *MockGenerationRunner) GenerateMonthlyInvoices(ctx context.Context, year int, month time.Month, opts ...appbilling.GenerateOption) (*appbilling.GenerationSummary, error) {
	args := m.Called(ctx, year, month, len(opts))
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*appbilling.GenerationSummary), args.Error(1)
}

type MockOverdueSweeper struct {
	mock.Mock
}

func (m *MockOverdueSweeper) SweepOverdue(ctx context.Context, asOf time.Time) (*appbilling.SweepSummary, error) {
	args := m.Called(ctx, asOf)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*appbilling.SweepSummary), args.Error(1)
}

func TestBillingJobExecutor_Generate(t *testing.T) {
	ctx := context.Background()

	t.Run("all landlords", func(t *testing.T) {
		gen := new(MockGenerationRunner)
		gen.On("GenerateMonthlyInvoices", ctx, 2026, time.March, 0).
			Return(&appbilling.GenerationSummary{Year: 2026, Month: time.March, Created: 4, Skipped: 1}, nil)
		exec := NewBillingJobExecutor(gen, new(MockOverdueSweeper), zap.NewNop())

		err := exec.Execute(ctx, NewGenerationJob(nil, 2026, time.March, 0))

		assert.NoError(t, err)
		gen.AssertExpectations(t)
	})

	t.Run("one landlord", func(t *testing.T) {
		landlordID := uuid.New()
		gen := new(MockGenerationRunner)
		gen.On("GenerateMonthlyInvoices", ctx, 2026, time.April, 1).
			Return(&appbilling.GenerationSummary{Year: 2026, Month: time.April}, nil)
		exec := NewBillingJobExecutor(gen, new(MockOverdueSweeper), nil)

		assert.NoError(t, exec.Execute(ctx, NewGenerationJob(&landlordID, 2026, time.April, 0)))
		gen.AssertExpectations(t)
	})

	t.Run("tenant failures make the job retryable", func(t *testing.T) {
		gen := new(MockGenerationRunner)
		gen.On("GenerateMonthlyInvoices", ctx, 2026, time.March, 0).
			Return(&appbilling.GenerationSummary{
				Year:     2026,
				Month:    time.March,
				Created:  2,
				Failures: []appbilling.TenantFailure{{TenantID: uuid.New(), Code: "UNAVAILABLE"}},
			}, nil)
		exec := NewBillingJobExecutor(gen, new(MockOverdueSweeper), nil)

		err := exec.Execute(ctx, NewGenerationJob(nil, 2026, time.March, 0))
		assert.ErrorIs(t, err, ErrGenerationIncomplete)
	})

	t.Run("run error is wrapped", func(t *testing.T) {
		cause := errors.New("tenant lookup failed")
		gen := new(MockGenerationRunner)
		gen.On("GenerateMonthlyInvoices", ctx, 2026, time.March, 0).Return(nil, cause)
		exec := NewBillingJobExecutor(gen, new(MockOverdueSweeper), nil)

		err := exec.Execute(ctx, NewGenerationJob(nil, 2026, time.March, 0))
		assert.ErrorIs(t, err, cause)
		assert.Contains(t, err.Error(), "2026-03")
	})
}

func TestBillingJobExecutor_Sweep(t *testing.T) {
	ctx := context.Background()
	asOf := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)

	t.Run("success", func(t *testing.T) {
		sweeper := new(MockOverdueSweeper)
		sweeper.On("SweepOverdue", ctx, asOf).
			Return(&appbilling.SweepSummary{AsOf: asOf, Examined: 3, Updated: 2, Conflicts: 1}, nil)
		exec := NewBillingJobExecutor(new(MockGenerationRunner), sweeper, nil)

		assert.NoError(t, exec.Execute(ctx, NewSweepJob(asOf, 0)))
		sweeper.AssertExpectations(t)
	})

	t.Run("failed invoices make the job retryable", func(t *testing.T) {
		sweeper := new(MockOverdueSweeper)
		sweeper.On("SweepOverdue", ctx, asOf).
			Return(&appbilling.SweepSummary{AsOf: asOf, Examined: 3, Failed: 1}, nil)
		exec := NewBillingJobExecutor(new(MockGenerationRunner), sweeper, nil)

		assert.ErrorIs(t, exec.Execute(ctx, NewSweepJob(asOf, 0)), ErrSweepIncomplete)
	})
}

func TestBillingJobExecutor_UnknownType(t *testing.T) {
	exec := NewBillingJobExecutor(new(MockGenerationRunner), new(MockOverdueSweeper), nil)

	err := exec.Execute(context.Background(), &Job{Type: "REPORT"})
	assert.ErrorIs(t, err, ErrInvalidJobType)
}
