package billing

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rentbill/backend/internal/domain/billing"
	"github.com/rentbill/backend/internal/domain/shared"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v81/webhook"
)

const testWebhookSecret = "whsec_test_secret"

var eventCreated = time.Date(2025, time.March, 3, 9, 30, 0, 0, time.UTC)

func signedEvent(t *testing.T, id, eventType string, object map[string]any) ([]byte, string) {
	t.Helper()
	payload, err := json.Marshal(map[string]any{
		"id":          id,
		"object":      "event",
		"type":        eventType,
		"created":     eventCreated.Unix(),
		"api_version": "2024-09-30.acacia",
		"data":        map[string]any{"object": object},
	})
	require.NoError(t, err)
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{Payload: payload, Secret: testWebhookSecret})
	return signed.Payload, signed.Header
}

func ownerMetadata(tenant *billing.Tenant) map[string]any {
	return map[string]any{
		MetadataTenantID:   tenant.ID.String(),
		MetadataLandlordID: tenant.LandlordID.String(),
	}
}

type webhookFixture struct {
	*serviceFixture
	idempotency *MockIdempotencyStore
	webhooks    *PaymentWebhookService
}

func newWebhookFixture(now time.Time, seed ...*billing.Payment) *webhookFixture {
	f := &webhookFixture{
		serviceFixture: newServiceFixture(now, seed...),
		idempotency:    new(MockIdempotencyStore),
	}
	f.webhooks = NewPaymentWebhookService(PaymentWebhookServiceConfig{
		Service:          f.service,
		TenantRepo:       f.tenants,
		PaymentRepo:      f.payments,
		Idempotency:      f.idempotency,
		WebhookSecret:    testWebhookSecret,
		CurrencyExponent: 2,
	})
	return f
}

func TestPaymentWebhookService_ProcessWebhook(t *testing.T) {
	ctx := context.Background()
	now := day(2025, time.March, 3)

	t.Run("rejects a bad signature", func(t *testing.T) {
		f := newWebhookFixture(now)
		payload, _ := signedEvent(t, "evt_bad", "payment_intent.succeeded", map[string]any{"id": "pi_x"})

		_, err := f.webhooks.ProcessWebhook(ctx, payload, "t=1,v1=deadbeef")

		assert.True(t, errors.Is(err, ErrInvalidSignature))
		f.idempotency.AssertNotCalled(t, "IsProcessed", mock.Anything, mock.Anything)
	})

	t.Run("succeeded intent records and allocates a payment", func(t *testing.T) {
		f := newWebhookFixture(now)
		tenant := newTestTenant(2000, 10)
		inv := newTestInvoice(tenant, 2000, day(2025, time.March, 10), day(2025, time.March, 1))
		f.tenants.On("FindByID", mock.Anything, tenant.ID).Return(tenant, nil)
		f.invoices.On("FindOutstandingByTenant", mock.Anything, tenant.ID).Return([]*billing.Invoice{inv}, nil)
		f.invoices.On("SaveWithLock", mock.Anything, inv).Return(nil)
		f.idempotency.On("IsProcessed", mock.Anything, "stripe:evt_1").Return(false, nil)
		f.idempotency.On("MarkProcessed", mock.Anything, "stripe:evt_1", 72*time.Hour).Return(true, nil)

		payload, header := signedEvent(t, "evt_1", "payment_intent.succeeded", map[string]any{
			"id":              "pi_1",
			"object":          "payment_intent",
			"amount":          125050,
			"amount_received": 125050,
			"currency":        "usd",
			"metadata":        ownerMetadata(tenant),
		})

		result, err := f.webhooks.ProcessWebhook(ctx, payload, header)

		require.NoError(t, err)
		assert.True(t, result.Processed)
		assert.Equal(t, "payment_intent.succeeded", result.EventType)

		payment, err := f.payments.FindByReference(ctx, tenant.LandlordID, "pi_1")
		require.NoError(t, err)
		assert.True(t, payment.Amount.Equal(decimal.RequireFromString("1250.50")))
		assert.Equal(t, billing.PaymentMethodGateway, payment.Method)
		assert.Equal(t, eventCreated, payment.PaymentDate)
		assert.True(t, payment.IsAllocated())
		assert.Equal(t, "749.5", inv.Balance.String())
		f.idempotency.AssertExpectations(t)
	})

	t.Run("succeeded intent completes the pending payment", func(t *testing.T) {
		tenant := newTestTenant(2000, 10)
		pending, err := billing.NewPayment(tenant.LandlordID, tenant.ID, decimal.NewFromInt(100), now,
			billing.PaymentMethodGateway, "pi_2", billing.PaymentStatusPending)
		require.NoError(t, err)
		f := newWebhookFixture(now, pending)
		f.invoices.On("FindOutstandingByTenant", mock.Anything, tenant.ID).Return([]*billing.Invoice{}, nil)
		f.tenants.On("FindByID", mock.Anything, tenant.ID).Return(tenant, nil)
		f.tenants.On("SaveWithLock", mock.Anything, tenant).Return(nil)
		f.idempotency.On("IsProcessed", mock.Anything, mock.Anything).Return(false, nil)
		f.idempotency.On("MarkProcessed", mock.Anything, mock.Anything, mock.Anything).Return(true, nil)

		payload, header := signedEvent(t, "evt_2", "payment_intent.succeeded", map[string]any{
			"id":       "pi_2",
			"object":   "payment_intent",
			"amount":   10000,
			"metadata": ownerMetadata(tenant),
		})

		_, err = f.webhooks.ProcessWebhook(ctx, payload, header)

		require.NoError(t, err)
		assert.Equal(t, billing.PaymentStatusCompleted, pending.Status)
		assert.Equal(t, "100", tenant.CreditBalance.String())
		assert.Equal(t, 0, f.payments.creates)
	})

	t.Run("already processed event is acknowledged", func(t *testing.T) {
		f := newWebhookFixture(now)
		f.idempotency.On("IsProcessed", mock.Anything, "stripe:evt_3").Return(true, nil)
		payload, header := signedEvent(t, "evt_3", "payment_intent.succeeded", map[string]any{"id": "pi_3"})

		result, err := f.webhooks.ProcessWebhook(ctx, payload, header)

		require.NoError(t, err)
		assert.True(t, result.Duplicate)
		f.idempotency.AssertNotCalled(t, "MarkProcessed", mock.Anything, mock.Anything, mock.Anything)
		f.tenants.AssertNotCalled(t, "FindByID", mock.Anything, mock.Anything)
	})

	t.Run("failed processing is not marked so redelivery retries", func(t *testing.T) {
		f := newWebhookFixture(now)
		tenant := newTestTenant(2000, 10)
		f.tenants.On("FindByID", mock.Anything, tenant.ID).Return(nil, errors.New("connection refused"))
		f.idempotency.On("IsProcessed", mock.Anything, mock.Anything).Return(false, nil)

		payload, header := signedEvent(t, "evt_4", "payment_intent.succeeded", map[string]any{
			"id":       "pi_4",
			"object":   "payment_intent",
			"amount":   500,
			"metadata": ownerMetadata(tenant),
		})

		result, err := f.webhooks.ProcessWebhook(ctx, payload, header)

		require.Error(t, err)
		assert.False(t, result.Processed)
		f.idempotency.AssertNotCalled(t, "MarkProcessed", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("intent without tenant metadata is skipped", func(t *testing.T) {
		f := newWebhookFixture(now)
		f.idempotency.On("IsProcessed", mock.Anything, mock.Anything).Return(false, nil)
		f.idempotency.On("MarkProcessed", mock.Anything, mock.Anything, mock.Anything).Return(true, nil)
		payload, header := signedEvent(t, "evt_5", "payment_intent.succeeded", map[string]any{
			"id":     "pi_5",
			"object": "payment_intent",
			"amount": 500,
		})

		result, err := f.webhooks.ProcessWebhook(ctx, payload, header)

		require.NoError(t, err)
		assert.True(t, result.Processed)
		assert.Equal(t, 0, f.payments.creates)
	})

	t.Run("intent naming another landlord is rejected", func(t *testing.T) {
		f := newWebhookFixture(now)
		tenant := newTestTenant(2000, 10)
		f.tenants.On("FindByID", mock.Anything, tenant.ID).Return(tenant, nil)
		f.idempotency.On("IsProcessed", mock.Anything, mock.Anything).Return(false, nil)

		metadata := ownerMetadata(tenant)
		metadata[MetadataLandlordID] = uuid.NewString()
		payload, header := signedEvent(t, "evt_10", "payment_intent.succeeded", map[string]any{
			"id":       "pi_10",
			"object":   "payment_intent",
			"amount":   500,
			"metadata": metadata,
		})

		result, err := f.webhooks.ProcessWebhook(ctx, payload, header)

		require.Error(t, err)
		assert.True(t, errors.Is(err, shared.ErrForbidden))
		assert.False(t, result.Processed)
		assert.Equal(t, 0, f.payments.creates)
		f.idempotency.AssertNotCalled(t, "MarkProcessed", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("payment failure marks the pending payment failed", func(t *testing.T) {
		tenant := newTestTenant(2000, 10)
		pending, err := billing.NewPayment(tenant.LandlordID, tenant.ID, decimal.NewFromInt(100), now,
			billing.PaymentMethodGateway, "pi_6", billing.PaymentStatusPending)
		require.NoError(t, err)
		f := newWebhookFixture(now, pending)
		f.tenants.On("FindByID", mock.Anything, tenant.ID).Return(tenant, nil)
		f.idempotency.On("IsProcessed", mock.Anything, mock.Anything).Return(false, nil)
		f.idempotency.On("MarkProcessed", mock.Anything, mock.Anything, mock.Anything).Return(true, nil)

		payload, header := signedEvent(t, "evt_6", "payment_intent.payment_failed", map[string]any{
			"id":       "pi_6",
			"object":   "payment_intent",
			"amount":   10000,
			"metadata": ownerMetadata(tenant),
		})

		_, err = f.webhooks.ProcessWebhook(ctx, payload, header)

		require.NoError(t, err)
		assert.Equal(t, billing.PaymentStatusFailed, pending.Status)
	})

	t.Run("refunded charge refunds the payment", func(t *testing.T) {
		tenant := newTestTenant(2000, 10)
		done, err := billing.NewPayment(tenant.LandlordID, tenant.ID, decimal.NewFromInt(100), now,
			billing.PaymentMethodGateway, "pi_7", billing.PaymentStatusCompleted)
		require.NoError(t, err)
		f := newWebhookFixture(now, done)
		f.idempotency.On("IsProcessed", mock.Anything, mock.Anything).Return(false, nil)
		f.idempotency.On("MarkProcessed", mock.Anything, mock.Anything, mock.Anything).Return(true, nil)

		payload, header := signedEvent(t, "evt_7", "charge.refunded", map[string]any{
			"id":             "ch_7",
			"object":         "charge",
			"payment_intent": "pi_7",
			"metadata":       ownerMetadata(tenant),
		})

		_, err = f.webhooks.ProcessWebhook(ctx, payload, header)

		require.NoError(t, err)
		assert.Equal(t, billing.PaymentStatusRefunded, done.Status)
	})

	t.Run("unhandled event types are acknowledged", func(t *testing.T) {
		f := newWebhookFixture(now)
		f.idempotency.On("IsProcessed", mock.Anything, mock.Anything).Return(false, nil)
		f.idempotency.On("MarkProcessed", mock.Anything, mock.Anything, mock.Anything).Return(true, nil)
		payload, header := signedEvent(t, "evt_8", "customer.created", map[string]any{"id": "cus_8", "object": "customer"})

		result, err := f.webhooks.ProcessWebhook(ctx, payload, header)

		require.NoError(t, err)
		assert.Equal(t, "Event type not handled", result.Message)
	})

	t.Run("idempotency store outage does not block processing", func(t *testing.T) {
		f := newWebhookFixture(now)
		f.idempotency.On("IsProcessed", mock.Anything, mock.Anything).Return(false, shared.ErrUnavailable)
		f.idempotency.On("MarkProcessed", mock.Anything, mock.Anything, mock.Anything).Return(false, shared.ErrUnavailable)
		payload, header := signedEvent(t, "evt_9", "customer.created", map[string]any{"id": "cus_9", "object": "customer"})

		result, err := f.webhooks.ProcessWebhook(ctx, payload, header)

		require.NoError(t, err)
		assert.True(t, result.Processed)
	})
}
