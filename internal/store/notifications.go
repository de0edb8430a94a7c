package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	"yoyaku/backend/internal/domain"
)

// NotificationRepository is the dispatcher's store surface. Deliveries are
// append/update-only here; the enqueue path writes through BookingTx so
// intents commit atomically with the reservation.
type NotificationRepository interface {
	// ClaimDue atomically selects up to limit pending deliveries whose
	// next_attempt_at is due and marks them in_progress, so concurrent
	// dispatchers never double-send.
	ClaimDue(ctx context.Context, now time.Time, limit int) ([]domain.NotificationDelivery, error)

	// RecordOutcome persists the delivery's post-attempt state and appends
	// the attempt audit row in one transaction.
	RecordOutcome(ctx context.Context, d domain.NotificationDelivery, att domain.NotificationAttempt) error

	// RequeueStale returns in_progress deliveries last touched before
	// olderThan to pending, recovering claims from dead dispatchers.
	RequeueStale(ctx context.Context, olderThan time.Time) (int, error)

	ListAttempts(ctx context.Context, deliveryID uuid.UUID) ([]domain.NotificationAttempt, error)

	Stats(ctx context.Context, now time.Time) (domain.QueueStats, error)
}
