package availability

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"yoyaku/backend/internal/domain"
	"yoyaku/backend/internal/store"
)

type ValidationError struct {
	msg string
}

func (e *ValidationError) Error() string {
	return e.msg
}

func validationError(msg string) error {
	return &ValidationError{msg: msg}
}

// Reader is the lock-free read surface the calculator needs. Reads are
// advisory: they may observe either side of a concurrent admission commit.
type Reader interface {
	GetShop(ctx context.Context, shopID uuid.UUID) (domain.Shop, error)
	FindShift(ctx context.Context, shopID, therapistID uuid.UUID, workDate string) (*domain.Shift, error)
	ListActiveReservations(ctx context.Context, therapistID uuid.UUID, window domain.Interval, now time.Time) ([]domain.Reservation, error)
}

type SlotStatus string

const (
	SlotOpen    SlotStatus = "open"
	SlotBlocked SlotStatus = "blocked"
)

type Slot struct {
	StartAt time.Time  `json:"start_at"`
	EndAt   time.Time  `json:"end_at"`
	Status  SlotStatus `json:"status"`
}

type Day struct {
	Date    string `json:"date"`
	IsToday bool   `json:"is_today"`
	Slots   []Slot `json:"slots"`
}

type Service struct {
	repo Reader
	log  *slog.Logger
}

func NewService(repo Reader, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{repo: repo, log: log.With(slog.String("component", "availability"))}
}

// Slots derives the bookable view of one therapist's day: the shift spans
// minus buffer-expanded active reservations, filtered by business hours.
// Slots already over (end at or before now) are relabeled blocked; the
// inclusive boundary means a slot ending exactly now is blocked. A missing
// shift yields an empty day, not an error.
func (s *Service) Slots(ctx context.Context, shopID, therapistID uuid.UUID, date string, now time.Time) (Day, error) {
	if shopID == uuid.Nil {
		return Day{}, validationError("shop_id is required")
	}
	if therapistID == uuid.Nil {
		return Day{}, validationError("therapist_id is required")
	}
	if _, err := time.Parse("2006-01-02", date); err != nil {
		return Day{}, validationError("date must be formatted YYYY-MM-DD")
	}

	now = now.UTC()

	shop, err := s.repo.GetShop(ctx, shopID)
	if err != nil {
		return Day{}, err
	}
	loc, err := shop.Location()
	if err != nil {
		return Day{}, validationError("shop timezone is invalid")
	}

	day := Day{
		Date:    date,
		IsToday: domain.WorkDateOf(now, loc) == date,
		Slots:   []Slot{},
	}

	shift, err := s.repo.FindShift(ctx, shopID, therapistID, date)
	if err != nil {
		return Day{}, err
	}
	raw := shift.Intervals()
	if len(raw) == 0 {
		return day, nil
	}

	active, err := s.repo.ListActiveReservations(ctx, therapistID, shift.Span().Expand(store.ReservationWindowSlack), now)
	if err != nil {
		return Day{}, err
	}
	blocks := make([]domain.Interval, 0, len(active))
	for i := range active {
		r := &active[i]
		if !r.IsActiveAt(now) {
			continue
		}
		blocks = append(blocks, r.BufferedSpan())
	}

	for _, span := range raw {
		for _, open := range span.Subtract(blocks) {
			if !shop.WithinBusinessHours(open, loc) {
				continue
			}
			status := SlotOpen
			if !open.End.After(now) {
				status = SlotBlocked
			}
			day.Slots = append(day.Slots, Slot{StartAt: open.Start, EndAt: open.End, Status: status})
		}
	}
	return day, nil
}
