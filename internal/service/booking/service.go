package booking

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"yoyaku/backend/internal/domain"
	"yoyaku/backend/internal/store"
)

// RejectionReason is an expected, enumerable admission outcome. Rejections
// are data, never errors.
type RejectionReason string

const (
	RejectNoShift                RejectionReason = "no_shift"
	RejectOnBreak                RejectionReason = "on_break"
	RejectOverlapExisting        RejectionReason = "overlap_existing_reservation"
	RejectRoomFull               RejectionReason = "room_full"
	RejectDeadlineOver           RejectionReason = "deadline_over"
	RejectOutsideBusinessHours   RejectionReason = "outside_business_hours"
	RejectNoAvailableTherapist   RejectionReason = "no_available_therapist"
	RejectIdempotencyKeyConflict RejectionReason = "idempotency_key_conflict"
	// RejectInternalError stands in for datastore or lock failures. Callers
	// must back off before retrying; it may indicate contention.
	RejectInternalError RejectionReason = "internal_error"
)

// errRejected aborts the admission transaction once a reason is recorded.
var errRejected = errors.New("admission rejected")

type ValidationError struct {
	msg string
}

func (e *ValidationError) Error() string {
	return e.msg
}

func validationError(msg string) error {
	return &ValidationError{msg: msg}
}

// NotificationEnqueuer creates the delivery rows for a reservation event
// inside the admission transaction, so a committed booking always has its
// notification intents durably queued.
type NotificationEnqueuer interface {
	Enqueue(ctx context.Context, tx store.BookingTx, shop domain.Shop, res domain.Reservation, event domain.ReservationEvent, now time.Time) ([]domain.NotificationDelivery, error)
}

type Service struct {
	repo    store.BookingRepository
	notify  NotificationEnqueuer
	holdTTL time.Duration
	log     *slog.Logger
}

func NewService(repo store.BookingRepository, notify NotificationEnqueuer, holdTTL time.Duration, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		repo:    repo,
		notify:  notify,
		holdTTL: holdTTL,
		log:     log.With(slog.String("component", "booking")),
	}
}

type CreateInput struct {
	ShopID           uuid.UUID
	TherapistID      *uuid.UUID
	StartAt          time.Time
	DurationMinutes  int
	ExtensionMinutes int
	GuestName        string
	GuestEmail       string
	GuestPhone       string
	Price            decimal.Decimal
}

// CreateReservation is the non-idempotent staff/admin booking path. The
// returned reason list is nil exactly when a reservation was created.
func (s *Service) CreateReservation(ctx context.Context, in CreateInput, now time.Time) (*domain.Reservation, []RejectionReason, error) {
	return s.admit(ctx, "create_reservation", in, nil, now)
}

// CreateReservationHold is the idempotent guest path: it creates a reserved
// row with reserved_until = now + hold TTL. Replaying the same key with
// identical parameters returns the stored reservation; a different payload
// under the same key rejects with idempotency_key_conflict.
func (s *Service) CreateReservationHold(ctx context.Context, in CreateInput, idempotencyKey string, now time.Time) (*domain.Reservation, []RejectionReason, error) {
	if idempotencyKey == "" {
		return nil, nil, validationError("idempotency_key is required")
	}
	if len(idempotencyKey) > 256 {
		return nil, nil, validationError("idempotency_key too long")
	}
	return s.admit(ctx, "create_reservation_hold", in, &idempotencyKey, now)
}

func (s *Service) validate(in CreateInput) error {
	if in.ShopID == uuid.Nil {
		return validationError("shop_id is required")
	}
	if in.StartAt.IsZero() {
		return validationError("start_at is required")
	}
	if in.DurationMinutes <= 0 {
		return validationError("duration_minutes must be positive")
	}
	if in.ExtensionMinutes < 0 {
		return validationError("extension_minutes must not be negative")
	}
	if in.Price.IsNegative() {
		return validationError("price must not be negative")
	}
	return nil
}

func (s *Service) admit(ctx context.Context, op string, in CreateInput, idempotencyKey *string, now time.Time) (*domain.Reservation, []RejectionReason, error) {
	if err := s.validate(in); err != nil {
		return nil, nil, err
	}

	now = now.UTC()
	start := in.StartAt.UTC()
	end := start.Add(time.Duration(in.DurationMinutes+in.ExtensionMinutes) * time.Minute)
	requested := domain.Interval{Start: start, End: end}

	var out *domain.Reservation
	var reasons []RejectionReason
	reject := func(r RejectionReason) error {
		reasons = append(reasons, r)
		return errRejected
	}

	err := s.repo.InShopTransaction(ctx, in.ShopID, func(ctx context.Context, tx store.BookingTx) error {
		shop, err := tx.GetShop(ctx, in.ShopID)
		if err != nil {
			return err
		}
		loc, err := shop.Location()
		if err != nil {
			return validationError("shop timezone is invalid")
		}
		if in.ExtensionMinutes > 0 {
			if shop.MaxExtensionMinutes > 0 && in.ExtensionMinutes > shop.MaxExtensionMinutes {
				return validationError("extension_minutes exceeds shop maximum")
			}
			if shop.ExtensionStepMinutes > 0 && in.ExtensionMinutes%shop.ExtensionStepMinutes != 0 {
				return validationError("extension_minutes is not a multiple of the shop step")
			}
		}

		// Replay lookup runs before any admission check; otherwise a replay
		// would collide with its own stored row at the overlap step.
		if idempotencyKey != nil {
			existing, err := tx.FindReservationByKey(ctx, *idempotencyKey)
			if err != nil {
				return err
			}
			if existing != nil {
				if sameRequest(existing, in, requested) {
					out = existing
					return nil
				}
				return reject(RejectIdempotencyKeyConflict)
			}
		}

		if start.Before(now.Add(time.Duration(shop.BookingDeadlineMinutes) * time.Minute)) {
			return reject(RejectDeadlineOver)
		}

		if !shop.WithinBusinessHours(requested, loc) {
			return reject(RejectOutsideBusinessHours)
		}

		shifts, err := tx.ListShifts(ctx, in.ShopID, domain.WorkDateOf(start, loc))
		if err != nil {
			return err
		}

		therapistID, rejection, err := s.resolveTherapist(ctx, tx, shifts, in.TherapistID, requested, now)
		if err != nil {
			return err
		}
		if rejection != "" {
			return reject(rejection)
		}

		if shop.RoomCount > 0 {
			others, err := tx.ListOtherActiveReservations(ctx, in.ShopID, therapistID, requested, now)
			if err != nil {
				return err
			}
			if len(others) >= shop.RoomCount {
				return reject(RejectRoomFull)
			}
		}

		res := domain.Reservation{
			ShopID:           in.ShopID,
			TherapistID:      &therapistID,
			StartAt:          start,
			EndAt:            end,
			DurationMinutes:  in.DurationMinutes,
			ExtensionMinutes: in.ExtensionMinutes,
			BufferMinutes:    shop.BufferMinutes,
			Status:           domain.ReservationStatusPending,
			IdempotencyKey:   idempotencyKey,
			GuestName:        in.GuestName,
			GuestEmail:       in.GuestEmail,
			GuestPhone:       in.GuestPhone,
			Price:            in.Price,
		}
		if idempotencyKey != nil {
			until := now.Add(s.holdTTL)
			res.Status = domain.ReservationStatusReserved
			res.ReservedUntil = &until
		}

		inserted, err := tx.InsertReservation(ctx, res)
		if err != nil {
			// Constraint backstops: a concurrent commit slipped past the
			// in-transaction checks.
			if errors.Is(err, store.ErrConflict) {
				return reject(RejectOverlapExisting)
			}
			if errors.Is(err, store.ErrIdempotencyConflict) {
				return reject(RejectIdempotencyKeyConflict)
			}
			return err
		}

		if _, err := s.notify.Enqueue(ctx, tx, shop, inserted, domain.EventReservationCreated, now); err != nil {
			return err
		}

		out = &inserted
		return nil
	})
	if err != nil {
		if errors.Is(err, errRejected) {
			admissionsTotal.WithLabelValues(op, string(reasons[len(reasons)-1])).Inc()
			logReasons := make([]string, len(reasons))
			for i, r := range reasons {
				logReasons[i] = string(r)
			}
			s.log.Info("admission rejected",
				slog.String("operation", op),
				slog.String("shop_id", in.ShopID.String()),
				slog.Time("start_at", start),
				slog.Any("reasons", logReasons),
			)
			return nil, reasons, nil
		}
		var vErr *ValidationError
		if errors.As(err, &vErr) || errors.Is(err, store.ErrNotFound) {
			return nil, nil, err
		}
		admissionsTotal.WithLabelValues(op, string(RejectInternalError)).Inc()
		s.log.Error("admission failed",
			slog.Any("err", err),
			slog.String("operation", op),
			slog.String("shop_id", in.ShopID.String()),
			slog.Time("start_at", start),
		)
		return nil, []RejectionReason{RejectInternalError}, nil
	}

	admissionsTotal.WithLabelValues(op, "accepted").Inc()
	return out, nil, nil
}

// resolveTherapist picks the therapist for the requested interval. With an
// explicit therapist the caller gets the precise rejection reason; auto
// assignment walks the day's shifts in stable order and takes the first
// therapist whose shift admits the interval conflict-free.
func (s *Service) resolveTherapist(ctx context.Context, tx store.BookingTx, shifts []domain.Shift, requestedID *uuid.UUID, requested domain.Interval, now time.Time) (uuid.UUID, RejectionReason, error) {
	if requestedID != nil {
		var shift *domain.Shift
		for i := range shifts {
			if shifts[i].TherapistID == *requestedID {
				shift = &shifts[i]
				break
			}
		}
		if r := shiftAdmits(shift, requested); r != "" {
			return uuid.Nil, r, nil
		}
		conflict, err := s.hasBufferedConflict(ctx, tx, *requestedID, requested, now)
		if err != nil {
			return uuid.Nil, "", err
		}
		if conflict {
			return uuid.Nil, RejectOverlapExisting, nil
		}
		return *requestedID, "", nil
	}

	for i := range shifts {
		shift := &shifts[i]
		if shiftAdmits(shift, requested) != "" {
			continue
		}
		conflict, err := s.hasBufferedConflict(ctx, tx, shift.TherapistID, requested, now)
		if err != nil {
			return uuid.Nil, "", err
		}
		if conflict {
			continue
		}
		return shift.TherapistID, "", nil
	}
	return uuid.Nil, RejectNoAvailableTherapist, nil
}

func (s *Service) hasBufferedConflict(ctx context.Context, tx store.BookingTx, therapistID uuid.UUID, requested domain.Interval, now time.Time) (bool, error) {
	existing, err := tx.ListActiveReservations(ctx, therapistID, requested.Expand(store.ReservationWindowSlack), now)
	if err != nil {
		return false, err
	}
	for i := range existing {
		r := &existing[i]
		if !r.IsActiveAt(now) {
			continue
		}
		if r.BufferedSpan().Overlaps(requested) {
			return true, nil
		}
	}
	return false, nil
}

// shiftAdmits reports whether one break-free span of the shift fully
// contains the requested interval, distinguishing on_break from no_shift.
func shiftAdmits(shift *domain.Shift, requested domain.Interval) RejectionReason {
	if shift == nil || shift.Status != domain.ShiftStatusAvailable {
		return RejectNoShift
	}
	for _, span := range shift.Intervals() {
		if span.Contains(requested) {
			return ""
		}
	}
	if shift.Span().Contains(requested) {
		return RejectOnBreak
	}
	return RejectNoShift
}

// sameRequest compares a stored reservation against a replayed request.
// Everything the client supplied must match for the replay to be honored.
func sameRequest(existing *domain.Reservation, in CreateInput, requested domain.Interval) bool {
	if existing.ShopID != in.ShopID {
		return false
	}
	if in.TherapistID != nil {
		if existing.TherapistID == nil || *existing.TherapistID != *in.TherapistID {
			return false
		}
	}
	return existing.StartAt.Equal(requested.Start) &&
		existing.EndAt.Equal(requested.End) &&
		existing.DurationMinutes == in.DurationMinutes &&
		existing.ExtensionMinutes == in.ExtensionMinutes &&
		existing.GuestName == in.GuestName &&
		existing.GuestEmail == in.GuestEmail &&
		existing.GuestPhone == in.GuestPhone &&
		existing.Price.Equal(in.Price)
}

// ConfirmReservation finalizes a hold or pending booking. Confirming an
// already-confirmed reservation succeeds unchanged; a hold whose TTL has
// elapsed rejects with deadline_over and is left for the reaper.
func (s *Service) ConfirmReservation(ctx context.Context, id uuid.UUID, now time.Time) (*domain.Reservation, []RejectionReason, error) {
	current, err := s.repo.GetReservation(ctx, id)
	if err != nil {
		return nil, nil, err
	}

	now = now.UTC()
	var out *domain.Reservation
	var reasons []RejectionReason
	err = s.repo.InShopTransaction(ctx, current.ShopID, func(ctx context.Context, tx store.BookingTx) error {
		res, err := tx.GetReservation(ctx, id)
		if err != nil {
			return err
		}

		switch res.Status {
		case domain.ReservationStatusConfirmed:
			out = &res
			return nil
		case domain.ReservationStatusPending:
		case domain.ReservationStatusReserved:
			if res.ReservedUntil != nil && !res.ReservedUntil.After(now) {
				reasons = append(reasons, RejectDeadlineOver)
				return errRejected
			}
		case domain.ReservationStatusExpired:
			reasons = append(reasons, RejectDeadlineOver)
			return errRejected
		default:
			return store.ErrConflict
		}

		res.Status = domain.ReservationStatusConfirmed
		res.ReservedUntil = nil
		updated, err := tx.UpdateReservation(ctx, res)
		if err != nil {
			return err
		}

		shop, err := tx.GetShop(ctx, res.ShopID)
		if err != nil {
			return err
		}
		if _, err := s.notify.Enqueue(ctx, tx, shop, updated, domain.EventReservationConfirmed, now); err != nil {
			return err
		}

		out = &updated
		return nil
	})
	if err != nil {
		if errors.Is(err, errRejected) {
			return nil, reasons, nil
		}
		if errors.Is(err, store.ErrNotFound) || errors.Is(err, store.ErrConflict) {
			return nil, nil, err
		}
		s.log.Error("confirm failed", slog.Any("err", err), slog.String("reservation_id", id.String()))
		return nil, []RejectionReason{RejectInternalError}, nil
	}
	return out, nil, nil
}

// CancelReservation is idempotent: cancelling an already-cancelled
// reservation returns it unchanged. Unknown ids report store.ErrNotFound.
func (s *Service) CancelReservation(ctx context.Context, id uuid.UUID, reason string, now time.Time) (*domain.Reservation, error) {
	current, err := s.repo.GetReservation(ctx, id)
	if err != nil {
		return nil, err
	}

	now = now.UTC()
	var out *domain.Reservation
	err = s.repo.InShopTransaction(ctx, current.ShopID, func(ctx context.Context, tx store.BookingTx) error {
		res, err := tx.GetReservation(ctx, id)
		if err != nil {
			return err
		}
		if res.Status == domain.ReservationStatusCancelled {
			out = &res
			return nil
		}

		res.Status = domain.ReservationStatusCancelled
		res.CancelReason = reason
		updated, err := tx.UpdateReservation(ctx, res)
		if err != nil {
			return err
		}

		// Undelivered notifications for a dead reservation are noise.
		if _, err := tx.CancelPendingDeliveries(ctx, id); err != nil {
			return err
		}

		shop, err := tx.GetShop(ctx, res.ShopID)
		if err != nil {
			return err
		}
		if _, err := s.notify.Enqueue(ctx, tx, shop, updated, domain.EventReservationCancelled, now); err != nil {
			return err
		}

		out = &updated
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("reservation cancelled", slog.String("reservation_id", id.String()), slog.String("reason", reason))
	return out, nil
}
