package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/uptrace/bun"
)

type ReservationStatus string

const (
	// ReservationStatusReserved is a short-lived hold awaiting guest checkout.
	ReservationStatusReserved  ReservationStatus = "reserved"
	ReservationStatusPending   ReservationStatus = "pending"
	ReservationStatusConfirmed ReservationStatus = "confirmed"
	ReservationStatusCancelled ReservationStatus = "cancelled"
	ReservationStatusNoShow    ReservationStatus = "no_show"
	ReservationStatusExpired   ReservationStatus = "expired"
)

type Reservation struct {
	bun.BaseModel `bun:"table:reservations"`

	ID               uuid.UUID         `bun:"id,pk,type:uuid"`
	ShopID           uuid.UUID         `bun:"shop_id,notnull,type:uuid"`
	TherapistID      *uuid.UUID        `bun:"therapist_id,type:uuid"`
	StartAt          time.Time         `bun:"start_at,notnull"`
	EndAt            time.Time         `bun:"end_at,notnull"`
	DurationMinutes  int               `bun:"duration_minutes,notnull"`
	ExtensionMinutes int               `bun:"extension_minutes,notnull"`
	BufferMinutes    int               `bun:"buffer_minutes,notnull"`
	Status           ReservationStatus `bun:"status,notnull"`
	ReservedUntil    *time.Time        `bun:"reserved_until"`
	IdempotencyKey   *string           `bun:"idempotency_key"`
	GuestName        string            `bun:"guest_name"`
	GuestEmail       string            `bun:"guest_email"`
	GuestPhone       string            `bun:"guest_phone"`
	Price            decimal.Decimal   `bun:"price,type:numeric"`
	CancelReason     string            `bun:"cancel_reason"`
	CreatedAt        time.Time         `bun:"created_at,notnull"`
	UpdatedAt        time.Time         `bun:"updated_at,notnull"`
}

func (r *Reservation) BeforeAppendModel(ctx context.Context, query bun.Query) error {
	now := time.Now().UTC()
	switch query.(type) {
	case *bun.InsertQuery:
		if r.ID == uuid.Nil {
			id, err := uuid.NewV7()
			if err != nil {
				return err
			}
			r.ID = id
		}
		if r.CreatedAt.IsZero() {
			r.CreatedAt = now
		}
		if r.UpdatedAt.IsZero() {
			r.UpdatedAt = now
		}
	case *bun.UpdateQuery:
		r.UpdatedAt = now
	}
	return nil
}

func (r *Reservation) Span() Interval {
	return Interval{Start: r.StartAt.UTC(), End: r.EndAt.UTC()}
}

// BufferedSpan is the reservation interval expanded by its buffer minutes on
// both sides, which is the footprint it occupies for overlap checks.
func (r *Reservation) BufferedSpan() Interval {
	return r.Span().Expand(time.Duration(r.BufferMinutes) * time.Minute)
}

// IsActiveAt reports whether the reservation still consumes capacity.
// A reserved hold with no recorded expiry counts as live; the reaper retires
// it from created_at instead. Favors rejecting a new booking over allowing a
// double booking.
func (r *Reservation) IsActiveAt(now time.Time) bool {
	switch r.Status {
	case ReservationStatusPending, ReservationStatusConfirmed:
		return true
	case ReservationStatusReserved:
		return r.ReservedUntil == nil || r.ReservedUntil.After(now)
	default:
		return false
	}
}
