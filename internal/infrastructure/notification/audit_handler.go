package notification

import (
	"context"

	"github.com/rentbill/backend/internal/domain/shared"
	"github.com/rentbill/backend/internal/infrastructure/event"
	"github.com/rentbill/backend/internal/infrastructure/logger"
	"go.uber.org/zap"
)

// AuditLogHandler writes every billing event it receives to the log as an
// envelope. Subscribed without event types it acts as a wildcard handler.
type AuditLogHandler struct {
	logger *zap.Logger
	types  []string
}

// NewAuditLogHandler creates an AuditLogHandler for eventTypes, or for all
// events when none are given
func NewAuditLogHandler(l *zap.Logger, eventTypes ...string) *AuditLogHandler {
	if l == nil {
		l = zap.NewNop()
	}
	return &AuditLogHandler{logger: l.Named("audit"), types: eventTypes}
}

// EventTypes returns the subscribed event types
func (h *AuditLogHandler) EventTypes() []string {
	return h.types
}

// Handle logs the event envelope
func (h *AuditLogHandler) Handle(ctx context.Context, e shared.DomainEvent) error {
	env, err := event.NewEnvelope(e)
	if err != nil {
		return err
	}
	logger.WithTraceContext(ctx, h.logger).Info("Billing event",
		zap.String("event_id", env.ID.String()),
		zap.String("event_type", env.Type),
		zap.String("aggregate_type", env.AggregateType),
		zap.String("aggregate_id", env.AggregateID.String()),
		zap.String("landlord_id", env.LandlordID.String()),
		zap.Time("occurred_at", env.OccurredAt),
		zap.ByteString("payload", env.Payload),
	)
	return nil
}

var _ shared.EventHandler = (*AuditLogHandler)(nil)
