package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

type ShiftStatus string

const (
	ShiftStatusAvailable ShiftStatus = "available"
	ShiftStatusBusy      ShiftStatus = "busy"
	ShiftStatusOff       ShiftStatus = "off"
)

// BreakInterval is a pause inside a shift, stored as UTC instants.
type BreakInterval struct {
	StartAt time.Time `json:"start_at"`
	EndAt   time.Time `json:"end_at"`
}

type Shift struct {
	bun.BaseModel `bun:"table:shifts"`

	ID          uuid.UUID       `bun:"id,pk,type:uuid"`
	ShopID      uuid.UUID       `bun:"shop_id,notnull,type:uuid"`
	TherapistID uuid.UUID       `bun:"therapist_id,notnull,type:uuid"`
	WorkDate    string          `bun:"work_date,notnull"`
	StartAt     time.Time       `bun:"start_at,notnull"`
	EndAt       time.Time       `bun:"end_at,notnull"`
	Breaks      []BreakInterval `bun:"breaks,type:jsonb"`
	Status      ShiftStatus     `bun:"status,notnull"`
	CreatedAt   time.Time       `bun:"created_at,notnull"`
	UpdatedAt   time.Time       `bun:"updated_at,notnull"`
}

func (s *Shift) BeforeAppendModel(ctx context.Context, query bun.Query) error {
	now := time.Now().UTC()
	switch query.(type) {
	case *bun.InsertQuery:
		if s.ID == uuid.Nil {
			id, err := uuid.NewV7()
			if err != nil {
				return err
			}
			s.ID = id
		}
		if s.Status == "" {
			s.Status = ShiftStatusAvailable
		}
		if s.CreatedAt.IsZero() {
			s.CreatedAt = now
		}
		if s.UpdatedAt.IsZero() {
			s.UpdatedAt = now
		}
	case *bun.UpdateQuery:
		s.UpdatedAt = now
	}
	return nil
}

func (s *Shift) Span() Interval {
	return Interval{Start: s.StartAt.UTC(), End: s.EndAt.UTC()}
}

// Intervals derives the bookable spans of the shift: [StartAt, EndAt) minus
// the break intervals, clipped to non-negative length. A nil shift or one
// that is not available yields no spans; callers treat an empty result as
// "no availability", never as an error.
func (s *Shift) Intervals() []Interval {
	if s == nil || s.Status != ShiftStatusAvailable {
		return nil
	}
	blocks := make([]Interval, 0, len(s.Breaks))
	for _, b := range s.Breaks {
		blocks = append(blocks, Interval{Start: b.StartAt.UTC(), End: b.EndAt.UTC()})
	}
	return s.Span().Subtract(blocks)
}

// WorkDateOf formats a shop-local instant as the shift work_date key.
func WorkDateOf(t time.Time, loc *time.Location) string {
	return t.In(loc).Format("2006-01-02")
}
