package handler

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	appbilling "github.com/rentbill/backend/internal/application/billing"
	"github.com/rentbill/backend/internal/interfaces/http/dto"
)

// Maximum webhook payload size (64KB, gateway callbacks are small)
const maxWebhookPayloadSize = 65536

// StripeSignatureHeader carries the gateway's payload signature
const StripeSignatureHeader = "Stripe-Signature"

// WebhookProcessor verifies and applies a gateway callback
type WebhookProcessor interface {
	ProcessWebhook(ctx context.Context, payload []byte, signature string) (*appbilling.WebhookResult, error)
}

// PaymentWebhookHandler receives payment gateway callbacks. The route is
// not behind JWT; the payload signature authenticates the caller.
type PaymentWebhookHandler struct {
	BaseHandler
	processor WebhookProcessor
}

// NewPaymentWebhookHandler creates a PaymentWebhookHandler
func NewPaymentWebhookHandler(processor WebhookProcessor) *PaymentWebhookHandler {
	return &PaymentWebhookHandler{processor: processor}
}

// HandleStripeWebhook handles POST /webhooks/payments/stripe.
// Processing failures are acknowledged with 200 and processed=false so the
// gateway does not redeliver events that cannot succeed.
func (h *PaymentWebhookHandler) HandleStripeWebhook(c *gin.Context) {
	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookPayloadSize+1))
	if err != nil {
		c.JSON(http.StatusBadRequest, dto.WebhookResponse{Message: "Failed to read request body"})
		return
	}
	if len(payload) > maxWebhookPayloadSize {
		c.JSON(http.StatusRequestEntityTooLarge, dto.WebhookResponse{Message: "Payload too large"})
		return
	}

	signature := c.GetHeader(StripeSignatureHeader)
	if signature == "" {
		c.JSON(http.StatusUnauthorized, dto.WebhookResponse{Message: "Missing " + StripeSignatureHeader + " header"})
		return
	}

	result, err := h.processor.ProcessWebhook(c.Request.Context(), payload, signature)
	if err != nil && (result == nil || errors.Is(err, appbilling.ErrInvalidSignature)) {
		c.JSON(http.StatusUnauthorized, dto.WebhookResponse{Message: "Webhook signature verification failed"})
		return
	}

	resp := dto.WebhookResponse{
		Received:  true,
		Processed: result.Processed,
		Duplicate: result.Duplicate,
		EventID:   result.EventID,
		EventType: result.EventType,
		Message:   result.Message,
	}
	if err != nil {
		resp.Processed = false
		resp.Message = "Webhook received but processing encountered an issue"
	}
	c.JSON(http.StatusOK, resp)
}
