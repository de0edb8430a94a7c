package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	"yoyaku/backend/internal/domain"
)

// ReservationWindowSlack widens the query window around a requested interval
// so buffer-expanded neighbours are always fetched, even when a shop's
// buffer configuration changed after older reservations copied it.
const ReservationWindowSlack = 6 * time.Hour

// BookingRepository is the write-side store for the admission engine plus
// the shared read surface for availability.
type BookingRepository interface {
	// InShopTransaction runs fn inside one transaction holding an advisory
	// lock scoped to the shop. Concurrent admissions for the same shop
	// serialize on this lock; the whole check-then-insert sequence happens
	// under it.
	InShopTransaction(ctx context.Context, shopID uuid.UUID, fn func(ctx context.Context, tx BookingTx) error) error

	GetShop(ctx context.Context, shopID uuid.UUID) (domain.Shop, error)
	FindShift(ctx context.Context, shopID, therapistID uuid.UUID, workDate string) (*domain.Shift, error)
	ListActiveReservations(ctx context.Context, therapistID uuid.UUID, window domain.Interval, now time.Time) ([]domain.Reservation, error)
	GetReservation(ctx context.Context, id uuid.UUID) (domain.Reservation, error)

	CreateShift(ctx context.Context, shift domain.Shift) (domain.Shift, error)
	// DeleteShift rejects with ErrConflict when the shift window still
	// overlaps active reservations, unless force is set.
	DeleteShift(ctx context.Context, shiftID uuid.UUID, force bool) error

	// ExpireReservedHolds transitions reserved holds whose TTL elapsed to
	// expired and reports how many rows it touched. Rows without an explicit
	// reserved_until fall back to created_at + ttl.
	ExpireReservedHolds(ctx context.Context, now time.Time, ttl time.Duration) (int, error)
}

// BookingTx is the admission engine's view of one locked transaction.
type BookingTx interface {
	GetShop(ctx context.Context, shopID uuid.UUID) (domain.Shop, error)
	ListShifts(ctx context.Context, shopID uuid.UUID, workDate string) ([]domain.Shift, error)
	ListActiveReservations(ctx context.Context, therapistID uuid.UUID, window domain.Interval, now time.Time) ([]domain.Reservation, error)
	// ListOtherActiveReservations returns active reservations at the shop
	// for therapists other than exceptTherapist that intersect window.
	ListOtherActiveReservations(ctx context.Context, shopID uuid.UUID, exceptTherapist uuid.UUID, window domain.Interval, now time.Time) ([]domain.Reservation, error)
	FindReservationByKey(ctx context.Context, key string) (*domain.Reservation, error)
	GetReservation(ctx context.Context, id uuid.UUID) (domain.Reservation, error)
	InsertReservation(ctx context.Context, res domain.Reservation) (domain.Reservation, error)
	UpdateReservation(ctx context.Context, res domain.Reservation) (domain.Reservation, error)
	InsertDeliveries(ctx context.Context, rows []domain.NotificationDelivery) error
	CancelPendingDeliveries(ctx context.Context, reservationID uuid.UUID) (int, error)
}
