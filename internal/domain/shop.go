package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// BusinessHoursSegment is one weekly open window in shop-local time, given
// as minutes from local midnight. CloseMin at or below OpenMin means the
// segment wraps past midnight into the next day.
type BusinessHoursSegment struct {
	Weekday  time.Weekday `json:"weekday"`
	OpenMin  int          `json:"open_min"`
	CloseMin int          `json:"close_min"`
}

// ChannelConfig captures which notification channels a shop has configured.
// Stored on the shop and snapshotted onto each delivery at enqueue time.
type ChannelConfig struct {
	EmailRecipients []string `json:"email_recipients,omitempty"`
	SlackWebhookURL string   `json:"slack_webhook_url,omitempty"`
	LineToken       string   `json:"line_token,omitempty"`
	LineTo          string   `json:"line_to,omitempty"`
	LogEnabled      bool     `json:"log_enabled,omitempty"`
}

// Channels lists the channels the config enables, in a fixed order.
func (c ChannelConfig) Channels() []Channel {
	out := make([]Channel, 0, 4)
	if len(c.EmailRecipients) > 0 {
		out = append(out, ChannelEmail)
	}
	if c.SlackWebhookURL != "" {
		out = append(out, ChannelSlack)
	}
	if c.LineToken != "" {
		out = append(out, ChannelLine)
	}
	if c.LogEnabled {
		out = append(out, ChannelLog)
	}
	return out
}

type Shop struct {
	bun.BaseModel `bun:"table:shops"`

	ID                     uuid.UUID              `bun:"id,pk,type:uuid"`
	Name                   string                 `bun:"name,notnull"`
	Timezone               string                 `bun:"timezone,notnull"`
	RoomCount              int                    `bun:"room_count,notnull"`
	BufferMinutes          int                    `bun:"buffer_minutes,notnull"`
	BookingDeadlineMinutes int                    `bun:"booking_deadline_minutes,notnull"`
	MaxExtensionMinutes    int                    `bun:"max_extension_minutes,notnull"`
	ExtensionStepMinutes   int                    `bun:"extension_step_minutes,notnull"`
	Hours                  []BusinessHoursSegment `bun:"business_hours,type:jsonb"`
	Channels               ChannelConfig          `bun:"notification_channels,type:jsonb"`
	CreatedAt              time.Time              `bun:"created_at,notnull"`
	UpdatedAt              time.Time              `bun:"updated_at,notnull"`
}

func (s *Shop) BeforeAppendModel(ctx context.Context, query bun.Query) error {
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
		if s.RoomCount == 0 {
			s.RoomCount = 1
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

func (s *Shop) Location() (*time.Location, error) {
	if s.Timezone == "" {
		return time.UTC, nil
	}
	return time.LoadLocation(s.Timezone)
}

// WithinBusinessHours reports whether iv is contained in one of the shop's
// weekly segments, evaluated in loc. An empty rule set imposes no
// restriction. Overnight segments anchored on the previous weekday are
// considered, so a 22:00–02:00 window admits a 01:00 interval the next
// morning.
func (s *Shop) WithinBusinessHours(iv Interval, loc *time.Location) bool {
	if len(s.Hours) == 0 {
		return true
	}

	startLocal := iv.Start.In(loc)
	for dayOffset := -1; dayOffset <= 0; dayOffset++ {
		day := time.Date(startLocal.Year(), startLocal.Month(), startLocal.Day(), 0, 0, 0, 0, loc).AddDate(0, 0, dayOffset)
		for _, seg := range s.Hours {
			if seg.Weekday != day.Weekday() {
				continue
			}
			closeMin := seg.CloseMin
			if closeMin <= seg.OpenMin {
				closeMin += 24 * 60
			}
			window := Interval{
				Start: time.Date(day.Year(), day.Month(), day.Day(), 0, seg.OpenMin, 0, 0, loc),
				End:   time.Date(day.Year(), day.Month(), day.Day(), 0, closeMin, 0, 0, loc),
			}
			if window.Contains(iv) {
				return true
			}
		}
	}
	return false
}
