package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelSlack Channel = "slack"
	ChannelLine  Channel = "line"
	ChannelLog   Channel = "log"
)

// KnownChannel reports whether c is one of the dispatchable channel tags.
func KnownChannel(c Channel) bool {
	switch c {
	case ChannelEmail, ChannelSlack, ChannelLine, ChannelLog:
		return true
	}
	return false
}

type ReservationEvent string

const (
	EventReservationCreated   ReservationEvent = "reservation_created"
	EventReservationConfirmed ReservationEvent = "reservation_confirmed"
	EventReservationCancelled ReservationEvent = "reservation_cancelled"
)

type DeliveryStatus string

const (
	DeliveryStatusPending    DeliveryStatus = "pending"
	DeliveryStatusInProgress DeliveryStatus = "in_progress"
	DeliveryStatusSucceeded  DeliveryStatus = "succeeded"
	DeliveryStatusFailed     DeliveryStatus = "failed"
	DeliveryStatusCancelled  DeliveryStatus = "cancelled"
)

// NotificationDelivery is one durable notification intent: a rendered
// message bound to a single channel for a single reservation event. Created
// by the enqueue step and mutated only by the dispatcher.
type NotificationDelivery struct {
	bun.BaseModel `bun:"table:notification_deliveries"`

	ID            uuid.UUID        `bun:"id,pk,type:uuid"`
	ReservationID uuid.UUID        `bun:"reservation_id,notnull,type:uuid"`
	Event         ReservationEvent `bun:"event,notnull"`
	Channel       Channel          `bun:"channel,notnull"`
	Status        DeliveryStatus   `bun:"status,notnull"`
	Subject       string           `bun:"subject"`
	Body          string           `bun:"body"`
	ChannelConfig ChannelConfig    `bun:"channel_config,type:jsonb"`
	AttemptCount  int              `bun:"attempt_count,notnull"`
	NextAttemptAt *time.Time       `bun:"next_attempt_at"`
	LastAttemptAt *time.Time       `bun:"last_attempt_at"`
	LastError     string           `bun:"last_error"`
	CreatedAt     time.Time        `bun:"created_at,notnull"`
	UpdatedAt     time.Time        `bun:"updated_at,notnull"`
}

func (d *NotificationDelivery) BeforeAppendModel(ctx context.Context, query bun.Query) error {
	now := time.Now().UTC()
	switch query.(type) {
	case *bun.InsertQuery:
		if d.ID == uuid.Nil {
			id, err := uuid.NewV7()
			if err != nil {
				return err
			}
			d.ID = id
		}
		if d.Status == "" {
			d.Status = DeliveryStatusPending
		}
		if d.CreatedAt.IsZero() {
			d.CreatedAt = now
		}
		if d.UpdatedAt.IsZero() {
			d.UpdatedAt = now
		}
	case *bun.UpdateQuery:
		d.UpdatedAt = now
	}
	return nil
}

type AttemptOutcome string

const (
	AttemptOutcomeSuccess AttemptOutcome = "success"
	AttemptOutcomeFailure AttemptOutcome = "failure"
)

// NotificationAttempt is the append-only audit row for one send attempt.
// Immutable once written.
type NotificationAttempt struct {
	bun.BaseModel `bun:"table:notification_attempts"`

	ID           uuid.UUID      `bun:"id,pk,type:uuid"`
	DeliveryID   uuid.UUID      `bun:"delivery_id,notnull,type:uuid"`
	Outcome      AttemptOutcome `bun:"outcome,notnull"`
	StatusCode   int            `bun:"status_code"`
	ErrorMessage string         `bun:"error_message"`
	AttemptedAt  time.Time      `bun:"attempted_at,notnull"`
}

func (a *NotificationAttempt) BeforeAppendModel(ctx context.Context, query bun.Query) error {
	if _, ok := query.(*bun.InsertQuery); ok {
		if a.ID == uuid.Nil {
			id, err := uuid.NewV7()
			if err != nil {
				return err
			}
			a.ID = id
		}
		if a.AttemptedAt.IsZero() {
			a.AttemptedAt = time.Now().UTC()
		}
	}
	return nil
}

// BackoffPolicy controls delivery retries: base * multiplier^(attempts-1)
// between attempts, up to MaxAttempts.
type BackoffPolicy struct {
	MaxAttempts int
	Base        time.Duration
	Multiplier  float64
}

// Delay returns the wait applied after the given 1-based failed attempt.
func (p BackoffPolicy) Delay(attemptCount int) time.Duration {
	if attemptCount < 1 {
		attemptCount = 1
	}
	d := float64(p.Base)
	for i := 1; i < attemptCount; i++ {
		d *= p.Multiplier
	}
	return time.Duration(d)
}

// ChannelBacklog is the per-channel slice of the operational queue view.
type ChannelBacklog struct {
	Pending int `json:"pending"`
	Failed  int `json:"failed"`
}

// QueueStats is the dispatcher's operational dashboard view.
type QueueStats struct {
	Pending          int                        `json:"pending"`
	OldestPendingAge time.Duration              `json:"oldest_pending_age"`
	ByChannel        map[Channel]ChannelBacklog `json:"by_channel"`
}
