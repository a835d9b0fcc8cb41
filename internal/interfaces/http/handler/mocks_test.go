package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	appbilling "github.com/rentbill/backend/internal/application/billing"
	"github.com/rentbill/backend/internal/domain/billing"
	"github.com/rentbill/backend/internal/domain/shared"
	"github.com/rentbill/backend/internal/infrastructure/scheduler"
	"github.com/rentbill/backend/internal/interfaces/http/middleware"
	"github.com/stretchr/testify/mock"
)

func init() {
	gin.SetMode(gin.TestMode)
	if err := middleware.SetupValidator(); err != nil {
		panic(err)
	}
}

// MockBillingService implements BillingOperations for testing
type MockBillingService struct {
	mock.Mock
}

func (m *MockBillingService) GetInvoice(ctx context.Context, id uuid.UUID, identity appbilling.Identity) (*billing.Invoice, error) {
	args := m.Called(ctx, id, identity)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*billing.Invoice), args.Error(1)
}

func (m *MockBillingService) ListInvoices(ctx context.Context, filter billing.InvoiceFilter, identity appbilling.Identity) (*shared.Paginated[*billing.Invoice], error) {
	args := m.Called(ctx, filter, identity)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*shared.Paginated[*billing.Invoice]), args.Error(1)
}

func (m *MockBillingService) RecalculateInvoice(ctx context.Context, id uuid.UUID, identity appbilling.Identity) (*billing.Invoice, bool, error) {
	args := m.Called(ctx, id, identity)
	if args.Get(0) == nil {
		return nil, false, args.Error(2)
	}
	return args.Get(0).(*billing.Invoice), args.Bool(1), args.Error(2)
}

func (m *MockBillingService) IssueInvoice(ctx context.Context, id uuid.UUID, identity appbilling.Identity) (*billing.Invoice, error) {
	args := m.Called(ctx, id, identity)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*billing.Invoice), args.Error(1)
}

func (m *MockBillingService) VoidInvoice(ctx context.Context, id uuid.UUID, reason string, identity appbilling.Identity) (*billing.Invoice, error) {
	args := m.Called(ctx, id, reason, identity)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*billing.Invoice), args.Error(1)
}

func (m *MockBillingService) RecordPayment(ctx context.Context, in appbilling.RecordPaymentInput, identity appbilling.Identity) (*appbilling.PaymentResult, error) {
	args := m.Called(ctx, in, identity)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*appbilling.PaymentResult), args.Error(1)
}

func (m *MockBillingService) GetPayment(ctx context.Context, id uuid.UUID, identity appbilling.Identity) (*billing.Payment, error) {
	args := m.Called(ctx, id, identity)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*billing.Payment), args.Error(1)
}

func (m *MockBillingService) UpdatePaymentStatus(ctx context.Context, id uuid.UUID, status billing.PaymentStatus, identity appbilling.Identity) (*appbilling.PaymentResult, error) {
	args := m.Called(ctx, id, status, identity)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*appbilling.PaymentResult), args.Error(1)
}

// MockGenerator implements InvoiceGenerationRunner for testing
type MockGenerator struct {
	mock.Mock
}

func (m *MockGenerator) GenerateMonthlyInvoices(ctx context.Context, year int, month time.Month, opts ...appbilling.GenerateOption) (*appbilling.GenerationSummary, error) {
	args := m.Called(ctx, year, month, len(opts))
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*appbilling.GenerationSummary), args.Error(1)
}

// MockJobSubmitter implements scheduler.JobSubmitter for testing
type MockJobSubmitter struct {
	mock.Mock
}

func (m *MockJobSubmitter) ScheduleGeneration(landlordID *uuid.UUID, year int, month time.Month) (*scheduler.Job, error) {
	args := m.Called(landlordID, year, month)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*scheduler.Job), args.Error(1)
}

func (m *MockJobSubmitter) ScheduleSweep(asOf time.Time) (*scheduler.Job, error) {
	args := m.Called(asOf)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*scheduler.Job), args.Error(1)
}

// withIdentity stands in for the JWT middleware
func withIdentity(identity *appbilling.Identity) gin.HandlerFunc {
	return func(c *gin.Context) {
		if identity != nil {
			c.Set(middleware.JWTIdentityKey, *identity)
		}
		c.Next()
	}
}

func newTestEngine(identity *appbilling.Identity) *gin.Engine {
	r := gin.New()
	r.Use(middleware.RequestID(), withIdentity(identity))
	return r
}

func doRequest(r http.Handler, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}
