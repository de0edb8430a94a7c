package http

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/kataras/iris/v12"
	"github.com/shopspring/decimal"

	"yoyaku/backend/internal/domain"
	"yoyaku/backend/internal/service/booking"
)

type reservationRequest struct {
	ShopID           string          `json:"shop_id"`
	TherapistID      string          `json:"therapist_id"`
	StartAt          time.Time       `json:"start_at"`
	DurationMinutes  int             `json:"duration_minutes"`
	ExtensionMinutes int             `json:"extension_minutes"`
	GuestName        string          `json:"guest_name"`
	GuestEmail       string          `json:"guest_email"`
	GuestPhone       string          `json:"guest_phone"`
	Price            decimal.Decimal `json:"price"`
}

type cancelRequest struct {
	Reason string `json:"reason"`
}

type reservationResponse struct {
	ID               uuid.UUID                `json:"id"`
	ShopID           uuid.UUID                `json:"shop_id"`
	TherapistID      *uuid.UUID               `json:"therapist_id,omitempty"`
	StartAt          time.Time                `json:"start_at"`
	EndAt            time.Time                `json:"end_at"`
	DurationMinutes  int                      `json:"duration_minutes"`
	ExtensionMinutes int                      `json:"extension_minutes"`
	Status           domain.ReservationStatus `json:"status"`
	ReservedUntil    *time.Time               `json:"reserved_until,omitempty"`
	GuestName        string                   `json:"guest_name,omitempty"`
	Price            decimal.Decimal          `json:"price"`
	CancelReason     string                   `json:"cancel_reason,omitempty"`
	CreatedAt        time.Time                `json:"created_at"`
}

func toReservationResponse(r *domain.Reservation) reservationResponse {
	return reservationResponse{
		ID:               r.ID,
		ShopID:           r.ShopID,
		TherapistID:      r.TherapistID,
		StartAt:          r.StartAt,
		EndAt:            r.EndAt,
		DurationMinutes:  r.DurationMinutes,
		ExtensionMinutes: r.ExtensionMinutes,
		Status:           r.Status,
		ReservedUntil:    r.ReservedUntil,
		GuestName:        r.GuestName,
		Price:            r.Price,
		CancelReason:     r.CancelReason,
		CreatedAt:        r.CreatedAt,
	}
}

func (req reservationRequest) toInput() (booking.CreateInput, error) {
	shopID, err := uuid.Parse(req.ShopID)
	if err != nil {
		return booking.CreateInput{}, &badRequestError{msg: "shop_id must be a uuid"}
	}
	in := booking.CreateInput{
		ShopID:           shopID,
		StartAt:          req.StartAt,
		DurationMinutes:  req.DurationMinutes,
		ExtensionMinutes: req.ExtensionMinutes,
		GuestName:        req.GuestName,
		GuestEmail:       req.GuestEmail,
		GuestPhone:       req.GuestPhone,
		Price:            req.Price,
	}
	if req.TherapistID != "" {
		therapistID, err := uuid.Parse(req.TherapistID)
		if err != nil {
			return booking.CreateInput{}, &badRequestError{msg: "therapist_id must be a uuid"}
		}
		in.TherapistID = &therapistID
	}
	return in, nil
}

type badRequestError struct {
	msg string
}

func (e *badRequestError) Error() string {
	return e.msg
}

func (s *Server) getAvailability(ctx iris.Context) {
	shopID, err := uuid.Parse(ctx.Params().Get("shopID"))
	if err != nil {
		badRequest(ctx, "shop_id must be a uuid")
		return
	}
	therapistID, err := uuid.Parse(ctx.Params().Get("therapistID"))
	if err != nil {
		badRequest(ctx, "therapist_id must be a uuid")
		return
	}
	date := ctx.URLParam("date")

	day, err := s.availability.Slots(ctx, shopID, therapistID, date, time.Now().UTC())
	if err != nil {
		s.respondError(ctx, err)
		return
	}
	_ = ctx.JSON(day)
}

func (s *Server) postReservation(ctx iris.Context) {
	var req reservationRequest
	if err := ctx.ReadJSON(&req); err != nil {
		badRequest(ctx, "invalid request body")
		return
	}
	in, err := req.toInput()
	if err != nil {
		badRequest(ctx, err.Error())
		return
	}

	res, reasons, err := s.booking.CreateReservation(ctx, in, time.Now().UTC())
	if err != nil {
		s.respondError(ctx, err)
		return
	}
	if len(reasons) > 0 {
		s.respondRejections(ctx, reasons)
		return
	}
	ctx.StatusCode(http.StatusCreated)
	_ = ctx.JSON(toReservationResponse(res))
}

func (s *Server) postReservationHold(ctx iris.Context) {
	key := ctx.GetHeader("Idempotency-Key")
	if key == "" {
		badRequest(ctx, "Idempotency-Key header is required")
		return
	}
	var req reservationRequest
	if err := ctx.ReadJSON(&req); err != nil {
		badRequest(ctx, "invalid request body")
		return
	}
	in, err := req.toInput()
	if err != nil {
		badRequest(ctx, err.Error())
		return
	}

	res, reasons, err := s.booking.CreateReservationHold(ctx, in, key, time.Now().UTC())
	if err != nil {
		s.respondError(ctx, err)
		return
	}
	if len(reasons) > 0 {
		s.respondRejections(ctx, reasons)
		return
	}
	ctx.StatusCode(http.StatusCreated)
	_ = ctx.JSON(toReservationResponse(res))
}

func (s *Server) postConfirm(ctx iris.Context) {
	id, err := uuid.Parse(ctx.Params().Get("id"))
	if err != nil {
		badRequest(ctx, "id must be a uuid")
		return
	}

	res, reasons, err := s.booking.ConfirmReservation(ctx, id, time.Now().UTC())
	if err != nil {
		s.respondError(ctx, err)
		return
	}
	if len(reasons) > 0 {
		s.respondRejections(ctx, reasons)
		return
	}
	_ = ctx.JSON(toReservationResponse(res))
}

func (s *Server) postCancel(ctx iris.Context) {
	id, err := uuid.Parse(ctx.Params().Get("id"))
	if err != nil {
		badRequest(ctx, "id must be a uuid")
		return
	}
	var req cancelRequest
	if err := ctx.ReadJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		badRequest(ctx, "invalid request body")
		return
	}

	res, err := s.booking.CancelReservation(ctx, id, req.Reason, time.Now().UTC())
	if err != nil {
		s.respondError(ctx, err)
		return
	}
	_ = ctx.JSON(toReservationResponse(res))
}

type shiftRequest struct {
	ShopID      string                 `json:"shop_id"`
	TherapistID string                 `json:"therapist_id"`
	StartAt     time.Time              `json:"start_at"`
	EndAt       time.Time              `json:"end_at"`
	Breaks      []domain.BreakInterval `json:"breaks"`
	Status      string                 `json:"status"`
}

type shiftResponse struct {
	ID          uuid.UUID              `json:"id"`
	ShopID      uuid.UUID              `json:"shop_id"`
	TherapistID uuid.UUID              `json:"therapist_id"`
	WorkDate    string                 `json:"work_date"`
	StartAt     time.Time              `json:"start_at"`
	EndAt       time.Time              `json:"end_at"`
	Breaks      []domain.BreakInterval `json:"breaks,omitempty"`
	Status      domain.ShiftStatus     `json:"status"`
}

func (s *Server) postShift(ctx iris.Context) {
	var req shiftRequest
	if err := ctx.ReadJSON(&req); err != nil {
		badRequest(ctx, "invalid request body")
		return
	}
	shopID, err := uuid.Parse(req.ShopID)
	if err != nil {
		badRequest(ctx, "shop_id must be a uuid")
		return
	}
	therapistID, err := uuid.Parse(req.TherapistID)
	if err != nil {
		badRequest(ctx, "therapist_id must be a uuid")
		return
	}

	shift, err := s.booking.CreateShift(ctx, booking.CreateShiftInput{
		ShopID:      shopID,
		TherapistID: therapistID,
		StartAt:     req.StartAt,
		EndAt:       req.EndAt,
		Breaks:      req.Breaks,
		Status:      domain.ShiftStatus(req.Status),
	})
	if err != nil {
		s.respondError(ctx, err)
		return
	}
	ctx.StatusCode(http.StatusCreated)
	_ = ctx.JSON(shiftResponse{
		ID:          shift.ID,
		ShopID:      shift.ShopID,
		TherapistID: shift.TherapistID,
		WorkDate:    shift.WorkDate,
		StartAt:     shift.StartAt,
		EndAt:       shift.EndAt,
		Breaks:      shift.Breaks,
		Status:      shift.Status,
	})
}

func (s *Server) deleteShift(ctx iris.Context) {
	id, err := uuid.Parse(ctx.Params().Get("id"))
	if err != nil {
		badRequest(ctx, "id must be a uuid")
		return
	}
	force, _ := ctx.URLParamBool("force")

	if err := s.booking.DeleteShift(ctx, id, force); err != nil {
		s.respondError(ctx, err)
		return
	}
	ctx.StatusCode(http.StatusNoContent)
}

type queueStatsResponse struct {
	Pending                 int                                      `json:"pending"`
	OldestPendingAgeSeconds float64                                  `json:"oldest_pending_age_seconds"`
	ByChannel               map[domain.Channel]domain.ChannelBacklog `json:"by_channel"`
}

func (s *Server) getQueueStats(ctx iris.Context) {
	stats, err := s.notify.Stats(ctx, time.Now().UTC())
	if err != nil {
		s.respondError(ctx, err)
		return
	}
	_ = ctx.JSON(queueStatsResponse{
		Pending:                 stats.Pending,
		OldestPendingAgeSeconds: stats.OldestPendingAge.Seconds(),
		ByChannel:               stats.ByChannel,
	})
}

func badRequest(ctx iris.Context, msg string) {
	ctx.StatusCode(http.StatusBadRequest)
	_ = ctx.JSON(iris.Map{"message": msg})
}
