// Package notification holds the delivery side of billing notifications.
// Nothing here is allowed to fail an allocation: callers treat errors as
// informational.
package notification

import (
	"context"

	"github.com/google/uuid"
	"github.com/rentbill/backend/internal/domain/billing"
	"github.com/rentbill/backend/internal/infrastructure/logger"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// LogNotifier records payment confirmations in the application log. It is
// the default Notifier until an SMS or email channel is configured.
type LogNotifier struct {
	logger *zap.Logger
}

// NewLogNotifier creates a LogNotifier
func NewLogNotifier(l *zap.Logger) *LogNotifier {
	if l == nil {
		l = zap.NewNop()
	}
	return &LogNotifier{logger: l}
}

// PaymentConfirmed logs the amount applied to invoiceID for tenantID
func (n *LogNotifier) PaymentConfirmed(ctx context.Context, tenantID, invoiceID uuid.UUID, amountApplied decimal.Decimal) error {
	logger.WithTraceContext(ctx, n.logger).Info("Payment confirmed",
		zap.String("tenant_id", tenantID.String()),
		zap.String("invoice_id", invoiceID.String()),
		zap.String("amount_applied", amountApplied.StringFixed(2)),
	)
	return nil
}

var _ billing.Notifier = (*LogNotifier)(nil)
