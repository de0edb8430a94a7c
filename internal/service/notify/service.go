package notify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"yoyaku/backend/internal/domain"
	"yoyaku/backend/internal/store"
)

// Sender delivers one rendered message over a single channel. The returned
// status code is whatever the transport reported and lands in the attempt
// audit row; it may be zero when the transport has no such concept.
type Sender interface {
	Send(ctx context.Context, d domain.NotificationDelivery) (statusCode int, err error)
}

type Service struct {
	repo    store.NotificationRepository
	senders map[domain.Channel]Sender
	policy  domain.BackoffPolicy
	log     *slog.Logger
}

// NewService wires the channel capability map. Unknown channel tags are a
// configuration error caught here, at startup, not a runtime crash.
func NewService(repo store.NotificationRepository, senders map[domain.Channel]Sender, policy domain.BackoffPolicy, log *slog.Logger) (*Service, error) {
	for ch := range senders {
		if !domain.KnownChannel(ch) {
			return nil, fmt.Errorf("unknown notification channel %q", ch)
		}
	}
	if policy.MaxAttempts < 1 {
		return nil, fmt.Errorf("backoff max attempts must be at least 1, got %d", policy.MaxAttempts)
	}
	if policy.Base <= 0 {
		return nil, fmt.Errorf("backoff base must be positive, got %s", policy.Base)
	}
	if policy.Multiplier < 1 {
		return nil, fmt.Errorf("backoff multiplier must be at least 1, got %g", policy.Multiplier)
	}
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		repo:    repo,
		senders: senders,
		policy:  policy,
		log:     log.With(slog.String("component", "notify")),
	}, nil
}

// Enqueue creates one pending delivery per channel the shop has configured,
// inside the caller's booking transaction: commit succeeds means the intents
// are durably queued. Zero configured channels produce zero rows.
func (s *Service) Enqueue(ctx context.Context, tx store.BookingTx, shop domain.Shop, res domain.Reservation, event domain.ReservationEvent, now time.Time) ([]domain.NotificationDelivery, error) {
	channels := shop.Channels.Channels()
	if len(channels) == 0 {
		return nil, nil
	}

	subject, body := renderMessage(shop, res, event)
	rows := make([]domain.NotificationDelivery, 0, len(channels))
	for _, ch := range channels {
		due := now.UTC()
		rows = append(rows, domain.NotificationDelivery{
			ReservationID: res.ID,
			Event:         event,
			Channel:       ch,
			Status:        domain.DeliveryStatusPending,
			Subject:       subject,
			Body:          body,
			ChannelConfig: shop.Channels,
			NextAttemptAt: &due,
		})
	}
	if err := tx.InsertDeliveries(ctx, rows); err != nil {
		return nil, err
	}
	return rows, nil
}

// Dispatch sends one claimed delivery and persists the outcome. The report
// is whether the outcome was recorded, not whether the send succeeded: a
// failed send that was rescheduled counts as handled.
func (s *Service) Dispatch(ctx context.Context, d domain.NotificationDelivery, now time.Time) bool {
	now = now.UTC()

	sender, ok := s.senders[d.Channel]
	if !ok {
		return s.recordFailure(ctx, d, now, 0, fmt.Errorf("no sender configured for channel %q", d.Channel))
	}

	code, err := sender.Send(ctx, d)
	if err != nil {
		return s.recordFailure(ctx, d, now, code, err)
	}

	d.Status = domain.DeliveryStatusSucceeded
	d.AttemptCount++
	d.NextAttemptAt = nil
	d.LastAttemptAt = &now
	d.LastError = ""
	att := domain.NotificationAttempt{
		DeliveryID:  d.ID,
		Outcome:     domain.AttemptOutcomeSuccess,
		StatusCode:  code,
		AttemptedAt: now,
	}
	if err := s.repo.RecordOutcome(ctx, d, att); err != nil {
		s.log.Error("record delivery success failed", slog.Any("err", err), slog.String("delivery_id", d.ID.String()))
		return false
	}

	deliveryAttemptsTotal.WithLabelValues(string(d.Channel), "success").Inc()
	s.log.Info("delivery sent",
		slog.String("delivery_id", d.ID.String()),
		slog.String("channel", string(d.Channel)),
		slog.Int("attempt", d.AttemptCount),
	)
	return true
}

func (s *Service) recordFailure(ctx context.Context, d domain.NotificationDelivery, now time.Time, code int, sendErr error) bool {
	d.AttemptCount++
	d.LastAttemptAt = &now
	d.LastError = sendErr.Error()

	if d.AttemptCount >= s.policy.MaxAttempts {
		// Terminal. Left visible as failed for operators; no automatic
		// retries past this point.
		d.Status = domain.DeliveryStatusFailed
		d.NextAttemptAt = nil
		deliveriesExhaustedTotal.WithLabelValues(string(d.Channel)).Inc()
	} else {
		d.Status = domain.DeliveryStatusPending
		next := now.Add(s.policy.Delay(d.AttemptCount))
		d.NextAttemptAt = &next
	}

	att := domain.NotificationAttempt{
		DeliveryID:   d.ID,
		Outcome:      domain.AttemptOutcomeFailure,
		StatusCode:   code,
		ErrorMessage: sendErr.Error(),
		AttemptedAt:  now,
	}
	if err := s.repo.RecordOutcome(ctx, d, att); err != nil {
		s.log.Error("record delivery failure failed", slog.Any("err", err), slog.String("delivery_id", d.ID.String()))
		return false
	}

	deliveryAttemptsTotal.WithLabelValues(string(d.Channel), "failure").Inc()
	s.log.Warn("delivery attempt failed",
		slog.String("delivery_id", d.ID.String()),
		slog.String("channel", string(d.Channel)),
		slog.Int("attempt", d.AttemptCount),
		slog.String("status", string(d.Status)),
		slog.Any("err", sendErr),
	)
	return true
}

// Stats exposes the operational queue view for dashboards.
func (s *Service) Stats(ctx context.Context, now time.Time) (domain.QueueStats, error) {
	return s.repo.Stats(ctx, now.UTC())
}
