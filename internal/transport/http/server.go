package http

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/kataras/iris/v12"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"yoyaku/backend/internal/domain"
	"yoyaku/backend/internal/service/availability"
	"yoyaku/backend/internal/service/booking"
	"yoyaku/backend/internal/store"
)

type bookingService interface {
	CreateReservation(ctx context.Context, in booking.CreateInput, now time.Time) (*domain.Reservation, []booking.RejectionReason, error)
	CreateReservationHold(ctx context.Context, in booking.CreateInput, idempotencyKey string, now time.Time) (*domain.Reservation, []booking.RejectionReason, error)
	ConfirmReservation(ctx context.Context, id uuid.UUID, now time.Time) (*domain.Reservation, []booking.RejectionReason, error)
	CancelReservation(ctx context.Context, id uuid.UUID, reason string, now time.Time) (*domain.Reservation, error)
	CreateShift(ctx context.Context, in booking.CreateShiftInput) (domain.Shift, error)
	DeleteShift(ctx context.Context, shiftID uuid.UUID, force bool) error
}

type availabilityService interface {
	Slots(ctx context.Context, shopID, therapistID uuid.UUID, date string, now time.Time) (availability.Day, error)
}

type queueStatsService interface {
	Stats(ctx context.Context, now time.Time) (domain.QueueStats, error)
}

// Server is the thin collaborator-facing surface: it validates transport
// concerns and translates engine results; all booking decisions stay in the
// services.
type Server struct {
	booking      bookingService
	availability availabilityService
	notify       queueStatsService
	log          *slog.Logger
}

func NewServer(b bookingService, a availabilityService, n queueStatsService, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		booking:      b,
		availability: a,
		notify:       n,
		log:          log.With(slog.String("component", "http")),
	}
}

func (s *Server) Register(app *iris.Application) {
	api := app.Party("/v1")
	api.Get("/shops/{shopID:uuid}/therapists/{therapistID:uuid}/availability", s.getAvailability)
	api.Post("/reservations", s.postReservation)
	api.Post("/reservation-holds", s.postReservationHold)
	api.Post("/reservations/{id:uuid}/confirm", s.postConfirm)
	api.Post("/reservations/{id:uuid}/cancel", s.postCancel)
	api.Post("/shifts", s.postShift)
	api.Delete("/shifts/{id:uuid}", s.deleteShift)
	api.Get("/ops/notifications/stats", s.getQueueStats)

	app.Get("/healthz", func(ctx iris.Context) {
		_ = ctx.JSON(iris.Map{"status": "ok"})
	})
	app.Get("/metrics", iris.FromStd(promhttp.Handler()))
}

func (s *Server) respondError(ctx iris.Context, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		ctx.StatusCode(http.StatusNotFound)
		_ = ctx.JSON(iris.Map{"message": "not found"})
	case errors.Is(err, store.ErrConflict):
		ctx.StatusCode(http.StatusConflict)
		_ = ctx.JSON(iris.Map{"message": "reservation state does not allow this operation"})
	case isValidationError(err):
		ctx.StatusCode(http.StatusBadRequest)
		_ = ctx.JSON(iris.Map{"message": err.Error()})
	default:
		s.log.Error("request failed", slog.Any("err", err), slog.String("path", ctx.Path()))
		ctx.StatusCode(http.StatusInternalServerError)
		_ = ctx.JSON(iris.Map{"message": "internal error"})
	}
}

func isValidationError(err error) bool {
	var bookingErr *booking.ValidationError
	var availErr *availability.ValidationError
	return errors.As(err, &bookingErr) || errors.As(err, &availErr)
}

// respondRejections distinguishes contention-free business rejections from
// internal_error, which callers must treat as retry-with-backoff.
func (s *Server) respondRejections(ctx iris.Context, reasons []booking.RejectionReason) {
	for _, r := range reasons {
		if r == booking.RejectInternalError {
			ctx.StatusCode(http.StatusServiceUnavailable)
			_ = ctx.JSON(iris.Map{"reasons": reasons})
			return
		}
	}
	ctx.StatusCode(http.StatusConflict)
	_ = ctx.JSON(iris.Map{"reasons": reasons})
}
