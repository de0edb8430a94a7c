package availability

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"yoyaku/backend/internal/domain"
	"yoyaku/backend/internal/store"
)

type fakeReader struct {
	shop         domain.Shop
	shift        *domain.Shift
	reservations []domain.Reservation

	shopErr error
}

func (f *fakeReader) GetShop(ctx context.Context, shopID uuid.UUID) (domain.Shop, error) {
	if f.shopErr != nil {
		return domain.Shop{}, f.shopErr
	}
	return f.shop, nil
}

func (f *fakeReader) FindShift(ctx context.Context, shopID, therapistID uuid.UUID, workDate string) (*domain.Shift, error) {
	if f.shift != nil && f.shift.WorkDate == workDate && f.shift.TherapistID == therapistID {
		return f.shift, nil
	}
	return nil, nil
}

func (f *fakeReader) ListActiveReservations(ctx context.Context, therapistID uuid.UUID, window domain.Interval, now time.Time) ([]domain.Reservation, error) {
	var out []domain.Reservation
	for _, r := range f.reservations {
		if r.TherapistID != nil && *r.TherapistID == therapistID && r.IsActiveAt(now) && r.Span().Overlaps(window) {
			out = append(out, r)
		}
	}
	return out, nil
}

var (
	shopID      = uuid.MustParse("11111111-1111-1111-1111-111111111111")
	therapistID = uuid.MustParse("22222222-2222-2222-2222-222222222222")
)

func utc(h, m int) time.Time {
	return time.Date(2026, 3, 2, h, m, 0, 0, time.UTC)
}

func testShop() domain.Shop {
	return domain.Shop{
		ID:            shopID,
		Name:          "Test Shop",
		Timezone:      "UTC",
		BufferMinutes: 10,
		Hours: []domain.BusinessHoursSegment{
			{Weekday: time.Monday, OpenMin: 9 * 60, CloseMin: 20 * 60},
		},
	}
}

func testShift(breaks ...domain.BreakInterval) *domain.Shift {
	return &domain.Shift{
		ID:          uuid.New(),
		ShopID:      shopID,
		TherapistID: therapistID,
		WorkDate:    "2026-03-02",
		StartAt:     utc(10, 0),
		EndAt:       utc(18, 0),
		Breaks:      breaks,
		Status:      domain.ShiftStatusAvailable,
	}
}

func TestSlots_Validation(t *testing.T) {
	svc := NewService(&fakeReader{shop: testShop()}, nil)
	now := utc(8, 0)

	tests := []struct {
		name        string
		shopID      uuid.UUID
		therapistID uuid.UUID
		date        string
		wantErr     string
	}{
		{name: "missing shop", therapistID: therapistID, date: "2026-03-02", wantErr: "shop_id is required"},
		{name: "missing therapist", shopID: shopID, date: "2026-03-02", wantErr: "therapist_id is required"},
		{name: "bad date", shopID: shopID, therapistID: therapistID, date: "03/02/2026", wantErr: "date must be formatted YYYY-MM-DD"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Slots(context.Background(), tt.shopID, tt.therapistID, tt.date, now)
			var vErr *ValidationError
			if !errors.As(err, &vErr) {
				t.Fatalf("error type = %T, want *ValidationError", err)
			}
			if vErr.Error() != tt.wantErr {
				t.Fatalf("error = %q, want %q", vErr.Error(), tt.wantErr)
			}
		})
	}
}

func TestSlots_EmptyDayWithoutShift(t *testing.T) {
	svc := NewService(&fakeReader{shop: testShop()}, nil)

	day, err := svc.Slots(context.Background(), shopID, therapistID, "2026-03-02", utc(8, 0))
	if err != nil {
		t.Fatalf("Slots: %v", err)
	}
	if day.Date != "2026-03-02" {
		t.Fatalf("date = %q, want 2026-03-02", day.Date)
	}
	if !day.IsToday {
		t.Fatalf("is_today = false, want true")
	}
	if len(day.Slots) != 0 {
		t.Fatalf("slots = %v, want empty", day.Slots)
	}
}

func TestSlots_FullShift(t *testing.T) {
	svc := NewService(&fakeReader{shop: testShop(), shift: testShift()}, nil)

	day, err := svc.Slots(context.Background(), shopID, therapistID, "2026-03-02", utc(8, 0))
	if err != nil {
		t.Fatalf("Slots: %v", err)
	}
	if len(day.Slots) != 1 {
		t.Fatalf("slots = %d, want 1", len(day.Slots))
	}
	s := day.Slots[0]
	if !s.StartAt.Equal(utc(10, 0)) || !s.EndAt.Equal(utc(18, 0)) || s.Status != SlotOpen {
		t.Fatalf("slot = %+v, want open 10:00-18:00", s)
	}
}

func TestSlots_BreaksAndReservations(t *testing.T) {
	shift := testShift(domain.BreakInterval{StartAt: utc(13, 0), EndAt: utc(14, 0)})
	res := domain.Reservation{
		ID:            uuid.New(),
		ShopID:        shopID,
		TherapistID:   &therapistID,
		StartAt:       utc(10, 30),
		EndAt:         utc(11, 30),
		BufferMinutes: 10,
		Status:        domain.ReservationStatusConfirmed,
	}
	svc := NewService(&fakeReader{shop: testShop(), shift: shift, reservations: []domain.Reservation{res}}, nil)

	day, err := svc.Slots(context.Background(), shopID, therapistID, "2026-03-02", utc(8, 0))
	if err != nil {
		t.Fatalf("Slots: %v", err)
	}

	// Reservation blocks 10:20-11:40 with its buffer; the break blocks
	// 13:00-14:00.
	want := []Slot{
		{StartAt: utc(10, 0), EndAt: utc(10, 20), Status: SlotOpen},
		{StartAt: utc(11, 40), EndAt: utc(13, 0), Status: SlotOpen},
		{StartAt: utc(14, 0), EndAt: utc(18, 0), Status: SlotOpen},
	}
	if len(day.Slots) != len(want) {
		t.Fatalf("slots = %v, want %v", day.Slots, want)
	}
	for i, s := range day.Slots {
		if !s.StartAt.Equal(want[i].StartAt) || !s.EndAt.Equal(want[i].EndAt) || s.Status != want[i].Status {
			t.Fatalf("slot[%d] = %+v, want %+v", i, s, want[i])
		}
	}

	// Every open slot must be disjoint from the buffered reservation.
	buffered := res.BufferedSpan()
	for _, s := range day.Slots {
		if (domain.Interval{Start: s.StartAt, End: s.EndAt}).Overlaps(buffered) {
			t.Fatalf("slot %+v overlaps buffered reservation %v", s, buffered)
		}
	}
}

func TestSlots_ExpiredHoldDoesNotBlock(t *testing.T) {
	past := utc(7, 45)
	hold := domain.Reservation{
		ID:            uuid.New(),
		ShopID:        shopID,
		TherapistID:   &therapistID,
		StartAt:       utc(10, 30),
		EndAt:         utc(11, 30),
		Status:        domain.ReservationStatusReserved,
		ReservedUntil: &past,
	}
	svc := NewService(&fakeReader{shop: testShop(), shift: testShift(), reservations: []domain.Reservation{hold}}, nil)

	day, err := svc.Slots(context.Background(), shopID, therapistID, "2026-03-02", utc(8, 0))
	if err != nil {
		t.Fatalf("Slots: %v", err)
	}
	if len(day.Slots) != 1 {
		t.Fatalf("slots = %v, want the whole shift open", day.Slots)
	}
}

func TestSlots_PastSlotsBlocked(t *testing.T) {
	shift := testShift(domain.BreakInterval{StartAt: utc(12, 0), EndAt: utc(13, 0)})
	svc := NewService(&fakeReader{shop: testShop(), shift: shift}, nil)

	// Midday: the morning span is already over.
	day, err := svc.Slots(context.Background(), shopID, therapistID, "2026-03-02", utc(12, 30))
	if err != nil {
		t.Fatalf("Slots: %v", err)
	}
	if len(day.Slots) != 2 {
		t.Fatalf("slots = %v, want 2", day.Slots)
	}
	if day.Slots[0].Status != SlotBlocked {
		t.Fatalf("morning slot status = %q, want blocked", day.Slots[0].Status)
	}
	if day.Slots[1].Status != SlotOpen {
		t.Fatalf("afternoon slot status = %q, want open", day.Slots[1].Status)
	}

	// A slot ending exactly now is blocked.
	day, err = svc.Slots(context.Background(), shopID, therapistID, "2026-03-02", utc(12, 0))
	if err != nil {
		t.Fatalf("Slots: %v", err)
	}
	if day.Slots[0].Status != SlotBlocked {
		t.Fatalf("slot ending at now = %q, want blocked", day.Slots[0].Status)
	}
}

func TestSlots_ShopError(t *testing.T) {
	svc := NewService(&fakeReader{shopErr: store.ErrNotFound}, nil)
	_, err := svc.Slots(context.Background(), shopID, therapistID, "2026-03-02", utc(8, 0))
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestSlots_JSTDay(t *testing.T) {
	jst, err := time.LoadLocation("Asia/Tokyo")
	if err != nil {
		t.Fatalf("LoadLocation: %v", err)
	}

	shop := testShop()
	shop.Timezone = "Asia/Tokyo"
	shop.Hours = []domain.BusinessHoursSegment{
		{Weekday: time.Monday, OpenMin: 10 * 60, CloseMin: 20 * 60},
	}
	shift := &domain.Shift{
		ID:          uuid.New(),
		ShopID:      shopID,
		TherapistID: therapistID,
		WorkDate:    "2026-03-02",
		StartAt:     time.Date(2026, 3, 2, 10, 0, 0, 0, jst).UTC(),
		EndAt:       time.Date(2026, 3, 2, 19, 0, 0, 0, jst).UTC(),
		Status:      domain.ShiftStatusAvailable,
	}
	svc := NewService(&fakeReader{shop: shop, shift: shift}, nil)

	// 08:00 JST on the same local day; UTC clock still reads the prior
	// evening.
	now := time.Date(2026, 3, 2, 8, 0, 0, 0, jst).UTC()
	day, err := svc.Slots(context.Background(), shopID, therapistID, "2026-03-02", now)
	if err != nil {
		t.Fatalf("Slots: %v", err)
	}
	if !day.IsToday {
		t.Fatalf("is_today = false, want true for the shop-local day")
	}
	if len(day.Slots) != 1 {
		t.Fatalf("slots = %v, want 1", day.Slots)
	}
	if !day.Slots[0].StartAt.Equal(shift.StartAt) || day.Slots[0].Status != SlotOpen {
		t.Fatalf("slot = %+v, want open slot starting at shift start", day.Slots[0])
	}
}
