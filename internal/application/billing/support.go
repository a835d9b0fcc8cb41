package billing

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rentbill/backend/internal/domain/shared"
	"go.uber.org/zap"
)

// eventSource is any aggregate that buffers domain events.
type eventSource interface {
	GetDomainEvents() []shared.DomainEvent
	ClearDomainEvents()
}

// publishEvents drains the pending events of each aggregate and publishes
// them. Publishing happens after commit, so a failure is only logged.
// Sources must be non-nil.
func publishEvents(ctx context.Context, publisher shared.EventPublisher, logger *zap.Logger, sources ...eventSource) {
	var events []shared.DomainEvent
	for _, src := range sources {
		events = append(events, src.GetDomainEvents()...)
		src.ClearDomainEvents()
	}
	if publisher == nil || len(events) == 0 {
		return
	}
	if err := publisher.Publish(ctx, events...); err != nil {
		logger.Warn("Failed to publish domain events",
			zap.Int("event_count", len(events)),
			zap.Error(err))
	}
}

// tenantLockKey is the lock shared by generation, allocation and voiding
// for one tenant's invoice set.
func tenantLockKey(tenantID uuid.UUID) string {
	return "tenant:" + tenantID.String()
}

// lockTenant takes the per-tenant lock, or does nothing when no locker is configured.
func lockTenant(ctx context.Context, locker shared.Locker, tenantID uuid.UUID) (func(), error) {
	if locker == nil {
		return func() {}, nil
	}
	release, err := locker.Acquire(ctx, tenantLockKey(tenantID))
	if err != nil {
		return nil, fmt.Errorf("lock tenant %s: %w", tenantID, err)
	}
	return release, nil
}

// ignoreNotFound turns ErrNotFound into a nil error.
func ignoreNotFound(err error) error {
	if errors.Is(err, shared.ErrNotFound) {
		return nil
	}
	return err
}

// errorCode extracts the DomainError code of err, or INTERNAL_ERROR.
func errorCode(err error) string {
	var de *shared.DomainError
	if errors.As(err, &de) {
		return de.Code
	}
	return "INTERNAL_ERROR"
}
