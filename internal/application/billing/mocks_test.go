package billing

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rentbill/backend/internal/domain/billing"
	"github.com/rentbill/backend/internal/domain/shared"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"
)

// MockTenantRepository is a mock implementation of billing.TenantRepository
type MockTenantRepository struct {
	mock.Mock
}

func (m *MockTenantRepository) FindByID(ctx context.Context, id uuid.UUID) (*billing.Tenant, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*billing.Tenant), args.Error(1)
}

func (m *MockTenantRepository) FindActive(ctx context.Context, landlordID *uuid.UUID) ([]*billing.Tenant, error) {
	args := m.Called(ctx, landlordID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*billing.Tenant), args.Error(1)
}

func (m *MockTenantRepository) Create(ctx context.Context, tenant *billing.Tenant) error {
	args := m.Called(ctx, tenant)
	return args.Error(0)
}

func (m *MockTenantRepository) SaveWithLock(ctx context.Context, tenant *billing.Tenant) error {
	args := m.Called(ctx, tenant)
	return args.Error(0)
}

// MockInvoiceRepository is a mock implementation of billing.InvoiceRepository
type MockInvoiceRepository struct {
	mock.Mock
}

func (m *MockInvoiceRepository) FindByID(ctx context.Context, id uuid.UUID) (*billing.Invoice, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*billing.Invoice), args.Error(1)
}

func (m *MockInvoiceRepository) FindByTenantAndPeriod(ctx context.Context, tenantID uuid.UUID, periodStart time.Time) (*billing.Invoice, error) {
	args := m.Called(ctx, tenantID, periodStart)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*billing.Invoice), args.Error(1)
}

func (m *MockInvoiceRepository) FindPrior(ctx context.Context, tenantID uuid.UUID, periodStart time.Time) (*billing.Invoice, error) {
	args := m.Called(ctx, tenantID, periodStart)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*billing.Invoice), args.Error(1)
}

func (m *MockInvoiceRepository) FindOutstandingByTenant(ctx context.Context, tenantID uuid.UUID) ([]*billing.Invoice, error) {
	args := m.Called(ctx, tenantID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*billing.Invoice), args.Error(1)
}

func (m *MockInvoiceRepository) FindSweepCandidates(ctx context.Context, asOf time.Time, limit int) ([]*billing.Invoice, error) {
	args := m.Called(ctx, asOf, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*billing.Invoice), args.Error(1)
}

func (m *MockInvoiceRepository) FindAll(ctx context.Context, filter billing.InvoiceFilter) ([]*billing.Invoice, int64, error) {
	args := m.Called(ctx, filter)
	if args.Get(0) == nil {
		return nil, 0, args.Error(2)
	}
	return args.Get(0).([]*billing.Invoice), args.Get(1).(int64), args.Error(2)
}

func (m *MockInvoiceRepository) Create(ctx context.Context, invoice *billing.Invoice) error {
	args := m.Called(ctx, invoice)
	return args.Error(0)
}

func (m *MockInvoiceRepository) SaveWithLock(ctx context.Context, invoice *billing.Invoice) error {
	args := m.Called(ctx, invoice)
	return args.Error(0)
}

// MockPaymentRepository is a mock implementation of billing.PaymentRepository
type MockPaymentRepository struct {
	mock.Mock
}

func (m *MockPaymentRepository) FindByID(ctx context.Context, id uuid.UUID) (*billing.Payment, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*billing.Payment), args.Error(1)
}

func (m *MockPaymentRepository) FindByReference(ctx context.Context, landlordID uuid.UUID, reference string) (*billing.Payment, error) {
	args := m.Called(ctx, landlordID, reference)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*billing.Payment), args.Error(1)
}

func (m *MockPaymentRepository) Create(ctx context.Context, payment *billing.Payment) error {
	args := m.Called(ctx, payment)
	return args.Error(0)
}

func (m *MockPaymentRepository) SaveWithLock(ctx context.Context, payment *billing.Payment) error {
	args := m.Called(ctx, payment)
	return args.Error(0)
}

func (m *MockPaymentRepository) SumAllocationsForInvoice(ctx context.Context, invoiceID uuid.UUID) (decimal.Decimal, error) {
	args := m.Called(ctx, invoiceID)
	return args.Get(0).(decimal.Decimal), args.Error(1)
}

// MockUtilityBilling is a mock implementation of billing.UtilityBilling
type MockUtilityBilling struct {
	mock.Mock
}

func (m *MockUtilityBilling) GetChargesForPeriod(ctx context.Context, unitID uuid.UUID, periodStart, periodEnd time.Time) ([]billing.InvoiceLineItem, error) {
	args := m.Called(ctx, unitID, periodStart, periodEnd)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]billing.InvoiceLineItem), args.Error(1)
}

// MockNotifier is a mock implementation of billing.Notifier
type MockNotifier struct {
	mock.Mock
}

func (m *MockNotifier) PaymentConfirmed(ctx context.Context, tenantID, invoiceID uuid.UUID, amountApplied decimal.Decimal) error {
	args := m.Called(ctx, tenantID, invoiceID, amountApplied)
	return args.Error(0)
}

// MockEventPublisher is a mock implementation of shared.EventPublisher
type MockEventPublisher struct {
	mock.Mock
}

func (m *MockEventPublisher) Publish(ctx context.Context, events ...shared.DomainEvent) error {
	args := m.Called(ctx, events)
	return args.Error(0)
}

// MockIdempotencyStore is a mock implementation of shared.IdempotencyStore
type MockIdempotencyStore struct {
	mock.Mock
}

func (m *MockIdempotencyStore) MarkProcessed(ctx context.Context, eventID string, ttl time.Duration) (bool, error) {
	args := m.Called(ctx, eventID, ttl)
	return args.Bool(0), args.Error(1)
}

func (m *MockIdempotencyStore) IsProcessed(ctx context.Context, eventID string) (bool, error) {
	args := m.Called(ctx, eventID)
	return args.Bool(0), args.Error(1)
}

func (m *MockIdempotencyStore) Close() error {
	return m.Called().Error(0)
}

// recordingLocker counts acquisitions and releases per key.
type recordingLocker struct {
	acquired map[string]int
	released map[string]int
	err      error
}

func newRecordingLocker() *recordingLocker {
	return &recordingLocker{acquired: map[string]int{}, released: map[string]int{}}
}

func (l *recordingLocker) Acquire(_ context.Context, key string) (func(), error) {
	if l.err != nil {
		return nil, l.err
	}
	l.acquired[key]++
	return func() { l.released[key]++ }, nil
}

// fastRetry keeps backoff waits short in tests.
func fastRetry() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, InitialInterval: time.Millisecond, MaxInterval: 2 * time.Millisecond}
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func newTestTenant(rent int64, dueDay int) *billing.Tenant {
	t, err := billing.NewTenant(uuid.New(), uuid.New(), uuid.New(), "Ada Tenant",
		decimal.NewFromInt(rent), dueDay, day(2023, time.January, 1))
	if err != nil {
		panic(err)
	}
	return t
}

func newTestInvoice(tenant *billing.Tenant, amount int64, due time.Time, asOf time.Time) *billing.Invoice {
	start, end := billing.CalculatePaymentPeriod(due)
	items := []billing.InvoiceLineItem{
		billing.NewLineItem(billing.LineItemTypeRent, "Rent", decimal.NewFromInt(1), decimal.NewFromInt(amount)),
	}
	inv, err := billing.NewInvoice(tenant, start, end, due, items, billing.InvoiceStatusIssued, asOf)
	if err != nil {
		panic(err)
	}
	inv.ClearDomainEvents()
	return inv
}
