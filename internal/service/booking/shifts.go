package booking

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"yoyaku/backend/internal/domain"
)

type CreateShiftInput struct {
	ShopID      uuid.UUID
	TherapistID uuid.UUID
	StartAt     time.Time
	EndAt       time.Time
	Breaks      []domain.BreakInterval
	Status      domain.ShiftStatus
}

// CreateShift registers one therapist work day. The work date key is derived
// from the shift start in the shop's local time, so an overnight shift files
// under the day it begins.
func (s *Service) CreateShift(ctx context.Context, in CreateShiftInput) (domain.Shift, error) {
	if in.ShopID == uuid.Nil {
		return domain.Shift{}, validationError("shop_id is required")
	}
	if in.TherapistID == uuid.Nil {
		return domain.Shift{}, validationError("therapist_id is required")
	}
	if !in.EndAt.After(in.StartAt) {
		return domain.Shift{}, validationError("end_at must be after start_at")
	}
	for _, b := range in.Breaks {
		if !b.EndAt.After(b.StartAt) {
			return domain.Shift{}, validationError("break end_at must be after start_at")
		}
		span := domain.Interval{Start: in.StartAt.UTC(), End: in.EndAt.UTC()}
		if !span.Contains(domain.Interval{Start: b.StartAt.UTC(), End: b.EndAt.UTC()}) {
			return domain.Shift{}, validationError("break must fall inside the shift")
		}
	}
	if in.Status != "" {
		switch in.Status {
		case domain.ShiftStatusAvailable, domain.ShiftStatusBusy, domain.ShiftStatusOff:
		default:
			return domain.Shift{}, validationError("unknown shift status")
		}
	}

	shop, err := s.repo.GetShop(ctx, in.ShopID)
	if err != nil {
		return domain.Shift{}, err
	}
	loc, err := shop.Location()
	if err != nil {
		return domain.Shift{}, validationError("shop timezone is invalid")
	}

	shift := domain.Shift{
		ShopID:      in.ShopID,
		TherapistID: in.TherapistID,
		WorkDate:    domain.WorkDateOf(in.StartAt, loc),
		StartAt:     in.StartAt.UTC(),
		EndAt:       in.EndAt.UTC(),
		Breaks:      in.Breaks,
		Status:      in.Status,
	}
	created, err := s.repo.CreateShift(ctx, shift)
	if err != nil {
		return domain.Shift{}, err
	}

	s.log.Info("shift created",
		slog.String("shift_id", created.ID.String()),
		slog.String("shop_id", in.ShopID.String()),
		slog.String("therapist_id", in.TherapistID.String()),
		slog.String("work_date", created.WorkDate),
	)
	return created, nil
}

// DeleteShift removes a shift. Without force it reports store.ErrConflict
// when active reservations still sit inside the shift window.
func (s *Service) DeleteShift(ctx context.Context, shiftID uuid.UUID, force bool) error {
	if err := s.repo.DeleteShift(ctx, shiftID, force); err != nil {
		return err
	}
	s.log.Info("shift deleted", slog.String("shift_id", shiftID.String()), slog.Bool("force", force))
	return nil
}
