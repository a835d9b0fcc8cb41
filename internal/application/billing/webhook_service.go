package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rentbill/backend/internal/domain/billing"
	"github.com/rentbill/backend/internal/domain/shared"
	"github.com/rentbill/backend/internal/infrastructure/telemetry"
	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/webhook"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Metadata keys a payment intent must carry to be matched to a tenant.
const (
	MetadataTenantID   = "tenant_id"
	MetadataLandlordID = "landlord_id"
)

const defaultWebhookDedupTTL = 72 * time.Hour

// ErrInvalidSignature is returned when a webhook payload fails verification.
var ErrInvalidSignature = shared.NewDomainError(shared.CodeUnauthorized, "webhook signature verification failed")

// PaymentWebhookService turns payment gateway callbacks into recorded and
// allocated payments.
type PaymentWebhookService struct {
	service          *BillingService
	tenantRepo       billing.TenantRepository
	paymentRepo      billing.PaymentRepository
	idempotency      shared.IdempotencyStore
	webhookSecret    string
	currencyExponent int32
	dedupTTL         time.Duration
	logger           *zap.Logger
}

// PaymentWebhookServiceConfig contains configuration for PaymentWebhookService
type PaymentWebhookServiceConfig struct {
	Service     *BillingService
	TenantRepo  billing.TenantRepository
	PaymentRepo billing.PaymentRepository
	Idempotency shared.IdempotencyStore
	// WebhookSecret is the endpoint signing secret (whsec_...).
	WebhookSecret string
	// CurrencyExponent is the number of minor-unit digits, 2 for USD.
	CurrencyExponent int
	DedupTTL         time.Duration
	Logger           *zap.Logger
}

// NewPaymentWebhookService creates a new PaymentWebhookService
func NewPaymentWebhookService(cfg PaymentWebhookServiceConfig) *PaymentWebhookService {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	ttl := cfg.DedupTTL
	if ttl <= 0 {
		ttl = defaultWebhookDedupTTL
	}
	return &PaymentWebhookService{
		service:          cfg.Service,
		tenantRepo:       cfg.TenantRepo,
		paymentRepo:      cfg.PaymentRepo,
		idempotency:      cfg.Idempotency,
		webhookSecret:    cfg.WebhookSecret,
		currencyExponent: int32(cfg.CurrencyExponent),
		dedupTTL:         ttl,
		logger:           logger,
	}
}

// WebhookResult contains the result of processing a webhook
type WebhookResult struct {
	EventID   string `json:"event_id"`
	EventType string `json:"event_type"`
	Processed bool   `json:"processed"`
	Duplicate bool   `json:"duplicate,omitempty"`
	Message   string `json:"message,omitempty"`
}

// ProcessWebhook verifies and handles one gateway event. Events already
// handled successfully are acknowledged without reprocessing.
func (s *PaymentWebhookService) ProcessWebhook(ctx context.Context, payload []byte, signature string) (*WebhookResult, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "payment_webhook", "process_webhook",
		telemetry.WithSpanKind(trace.SpanKindConsumer))
	defer span.End()

	event, err := webhook.ConstructEventWithOptions(payload, signature, s.webhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		s.logger.Warn("Failed to verify webhook signature", zap.Error(err))
		telemetry.RecordError(span, ErrInvalidSignature)
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	telemetry.SetAttributes(span, "event_id", event.ID, "event_type", string(event.Type))

	result := &WebhookResult{
		EventID:   event.ID,
		EventType: string(event.Type),
		Processed: true,
	}
	dedupKey := "stripe:" + event.ID

	if s.idempotency != nil {
		seen, err := s.idempotency.IsProcessed(ctx, dedupKey)
		if err != nil {
			s.logger.Warn("Failed to check webhook idempotency, processing anyway",
				zap.String("event_id", event.ID),
				zap.Error(err))
		} else if seen {
			result.Duplicate = true
			result.Message = "Event already processed"
			return result, nil
		}
	}

	s.logger.Info("Processing payment webhook event",
		zap.String("event_id", event.ID),
		zap.String("event_type", string(event.Type)))

	switch event.Type {
	case "payment_intent.succeeded":
		err = s.handleIntentSucceeded(ctx, event)
	case "payment_intent.payment_failed":
		err = s.handleIntentFailed(ctx, event)
	case "charge.refunded":
		err = s.handleChargeRefunded(ctx, event)
	default:
		s.logger.Debug("Unhandled webhook event type",
			zap.String("event_type", string(event.Type)))
		result.Message = "Event type not handled"
	}

	if err != nil {
		s.logger.Error("Failed to process webhook event",
			zap.String("event_id", event.ID),
			zap.String("event_type", string(event.Type)),
			zap.Error(err))
		result.Processed = false
		result.Message = err.Error()
		telemetry.RecordError(span, err)
		return result, err
	}

	// Marked only after success so the gateway's redelivery retries failures.
	if s.idempotency != nil {
		if _, err := s.idempotency.MarkProcessed(ctx, dedupKey, s.dedupTTL); err != nil {
			s.logger.Warn("Failed to mark webhook event processed",
				zap.String("event_id", event.ID),
				zap.Error(err))
		}
	}
	telemetry.SetOK(span)
	return result, nil
}

// handleIntentSucceeded records a completed gateway payment, or completes
// the pending one recorded earlier under the same intent id.
func (s *PaymentWebhookService) handleIntentSucceeded(ctx context.Context, event stripe.Event) error {
	var intent stripe.PaymentIntent
	if err := json.Unmarshal(event.Data.Raw, &intent); err != nil {
		return fmt.Errorf("failed to unmarshal payment intent: %w", err)
	}
	tenantID, landlordID, err := parseOwner(intent.Metadata)
	if err != nil {
		s.logger.Warn("Payment intent is not linked to a tenant, skipping",
			zap.String("payment_intent_id", intent.ID),
			zap.Error(err))
		return nil
	}
	if err := s.verifyOwner(ctx, tenantID, landlordID); err != nil {
		return err
	}

	existing, err := s.paymentRepo.FindByReference(ctx, landlordID, intent.ID)
	switch {
	case err == nil:
		if existing.Status == billing.PaymentStatusPending || existing.CanAllocate() {
			_, err = s.service.UpdatePaymentStatus(ctx, existing.ID, billing.PaymentStatusCompleted, SystemIdentity())
		}
		return err
	case !errors.Is(err, shared.ErrNotFound):
		return err
	}

	received := intent.AmountReceived
	if received == 0 {
		received = intent.Amount
	}
	_, err = s.service.RecordPayment(ctx, RecordPaymentInput{
		TenantID:    tenantID,
		Amount:      s.toDecimal(received),
		PaymentDate: time.Unix(event.Created, 0).UTC(),
		Method:      billing.PaymentMethodGateway,
		Reference:   intent.ID,
		Status:      billing.PaymentStatusCompleted,
		Notes:       intent.Description,
	}, SystemIdentity())
	return err
}

// handleIntentFailed marks a pending payment failed, or records the failed
// attempt when none was recorded.
func (s *PaymentWebhookService) handleIntentFailed(ctx context.Context, event stripe.Event) error {
	var intent stripe.PaymentIntent
	if err := json.Unmarshal(event.Data.Raw, &intent); err != nil {
		return fmt.Errorf("failed to unmarshal payment intent: %w", err)
	}
	tenantID, landlordID, err := parseOwner(intent.Metadata)
	if err != nil {
		s.logger.Warn("Failed payment intent is not linked to a tenant, skipping",
			zap.String("payment_intent_id", intent.ID),
			zap.Error(err))
		return nil
	}
	if err := s.verifyOwner(ctx, tenantID, landlordID); err != nil {
		return err
	}

	existing, err := s.paymentRepo.FindByReference(ctx, landlordID, intent.ID)
	switch {
	case err == nil:
		if existing.Status != billing.PaymentStatusPending {
			s.logger.Warn("Ignoring failure for payment that is no longer pending",
				zap.String("payment_id", existing.ID.String()),
				zap.String("status", existing.Status.String()))
			return nil
		}
		_, err = s.service.UpdatePaymentStatus(ctx, existing.ID, billing.PaymentStatusFailed, SystemIdentity())
		return err
	case !errors.Is(err, shared.ErrNotFound):
		return err
	}

	if intent.Amount <= 0 {
		return nil
	}
	_, err = s.service.RecordPayment(ctx, RecordPaymentInput{
		TenantID:    tenantID,
		Amount:      s.toDecimal(intent.Amount),
		PaymentDate: time.Unix(event.Created, 0).UTC(),
		Method:      billing.PaymentMethodGateway,
		Reference:   intent.ID,
		Status:      billing.PaymentStatusFailed,
	}, SystemIdentity())
	return err
}

// handleChargeRefunded refunds the payment recorded for the charge's intent.
func (s *PaymentWebhookService) handleChargeRefunded(ctx context.Context, event stripe.Event) error {
	var charge stripe.Charge
	if err := json.Unmarshal(event.Data.Raw, &charge); err != nil {
		return fmt.Errorf("failed to unmarshal charge: %w", err)
	}
	if charge.PaymentIntent == nil || charge.PaymentIntent.ID == "" {
		s.logger.Warn("Refunded charge has no payment intent, skipping",
			zap.String("charge_id", charge.ID))
		return nil
	}

	metadata := charge.Metadata
	if len(metadata) == 0 {
		metadata = charge.PaymentIntent.Metadata
	}
	_, landlordID, err := parseOwner(metadata)
	if err != nil {
		s.logger.Warn("Refunded charge is not linked to a tenant, skipping",
			zap.String("charge_id", charge.ID),
			zap.Error(err))
		return nil
	}

	existing, err := s.paymentRepo.FindByReference(ctx, landlordID, charge.PaymentIntent.ID)
	if errors.Is(err, shared.ErrNotFound) {
		s.logger.Warn("No payment recorded for refunded charge",
			zap.String("charge_id", charge.ID),
			zap.String("payment_intent_id", charge.PaymentIntent.ID))
		return nil
	}
	if err != nil {
		return err
	}
	if existing.Status == billing.PaymentStatusRefunded {
		return nil
	}
	_, err = s.service.UpdatePaymentStatus(ctx, existing.ID, billing.PaymentStatusRefunded, SystemIdentity())
	return err
}

// verifyOwner rejects metadata whose landlord does not own the tenant.
func (s *PaymentWebhookService) verifyOwner(ctx context.Context, tenantID, landlordID uuid.UUID) error {
	tenant, err := s.tenantRepo.FindByID(ctx, tenantID)
	if err != nil {
		return err
	}
	if tenant.LandlordID != landlordID {
		return shared.NewDomainError(shared.CodeForbidden,
			fmt.Sprintf("tenant %s does not belong to landlord %s", tenantID, landlordID))
	}
	return nil
}

// toDecimal converts gateway minor units to a currency amount.
func (s *PaymentWebhookService) toDecimal(minor int64) decimal.Decimal {
	return decimal.New(minor, -s.currencyExponent)
}

func parseOwner(metadata map[string]string) (tenantID, landlordID uuid.UUID, err error) {
	tenantID, err = uuid.Parse(metadata[MetadataTenantID])
	if err != nil {
		return uuid.Nil, uuid.Nil, fmt.Errorf("metadata %s: %w", MetadataTenantID, err)
	}
	landlordID, err = uuid.Parse(metadata[MetadataLandlordID])
	if err != nil {
		return uuid.Nil, uuid.Nil, fmt.Errorf("metadata %s: %w", MetadataLandlordID, err)
	}
	return tenantID, landlordID, nil
}
