package postgres

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"yoyaku/backend/internal/domain"
)

type NotificationRepo struct {
	db *bun.DB
}

func NewNotificationRepo(db *bun.DB) *NotificationRepo {
	return &NotificationRepo{db: db}
}

// ClaimDue picks up to limit due pending deliveries and flips them to
// in_progress in one transaction. SKIP LOCKED keeps concurrent dispatchers
// from fighting over the same rows.
func (r *NotificationRepo) ClaimDue(ctx context.Context, now time.Time, limit int) ([]domain.NotificationDelivery, error) {
	var claimed []domain.NotificationDelivery
	err := r.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		var rows []domain.NotificationDelivery
		err := tx.NewSelect().
			Model(&rows).
			Where("status = ?", domain.DeliveryStatusPending).
			Where("next_attempt_at <= ?", now).
			OrderExpr("next_attempt_at ASC").
			Limit(limit).
			For("UPDATE SKIP LOCKED").
			Scan(ctx)
		if err != nil {
			return err
		}
		if len(rows) == 0 {
			return nil
		}

		ids := make([]uuid.UUID, len(rows))
		for i := range rows {
			ids[i] = rows[i].ID
			rows[i].Status = domain.DeliveryStatusInProgress
		}
		_, err = tx.NewUpdate().
			Model((*domain.NotificationDelivery)(nil)).
			Set("status = ?", domain.DeliveryStatusInProgress).
			Set("updated_at = ?", now).
			Where("id IN (?)", bun.In(ids)).
			Exec(ctx)
		if err != nil {
			return err
		}
		claimed = rows
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

func (r *NotificationRepo) RecordOutcome(ctx context.Context, d domain.NotificationDelivery, att domain.NotificationAttempt) error {
	return r.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		_, err := tx.NewUpdate().
			Model(&d).
			Column("status", "attempt_count", "next_attempt_at", "last_attempt_at", "last_error", "updated_at").
			WherePK().
			Exec(ctx)
		if err != nil {
			return err
		}
		_, err = tx.NewInsert().Model(&att).Exec(ctx)
		return err
	})
}

func (r *NotificationRepo) RequeueStale(ctx context.Context, olderThan time.Time) (int, error) {
	res, err := r.db.NewUpdate().
		Model((*domain.NotificationDelivery)(nil)).
		Set("status = ?", domain.DeliveryStatusPending).
		Set("updated_at = ?", time.Now().UTC()).
		Where("status = ?", domain.DeliveryStatusInProgress).
		Where("updated_at < ?", olderThan).
		Exec(ctx)
	if err != nil {
		return 0, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(affected), nil
}

func (r *NotificationRepo) ListAttempts(ctx context.Context, deliveryID uuid.UUID) ([]domain.NotificationAttempt, error) {
	var rows []domain.NotificationAttempt
	err := r.db.NewSelect().
		Model(&rows).
		Where("delivery_id = ?", deliveryID).
		OrderExpr("attempted_at ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *NotificationRepo) Stats(ctx context.Context, now time.Time) (domain.QueueStats, error) {
	stats := domain.QueueStats{ByChannel: map[domain.Channel]domain.ChannelBacklog{}}

	var backlog []struct {
		Channel domain.Channel        `bun:"channel"`
		Status  domain.DeliveryStatus `bun:"status"`
		Count   int                   `bun:"count"`
	}
	err := r.db.NewSelect().
		Model((*domain.NotificationDelivery)(nil)).
		ColumnExpr("channel, status, count(*) AS count").
		Where("status IN (?)", bun.In([]domain.DeliveryStatus{domain.DeliveryStatusPending, domain.DeliveryStatusFailed})).
		GroupExpr("channel, status").
		Scan(ctx, &backlog)
	if err != nil {
		return domain.QueueStats{}, err
	}
	for _, row := range backlog {
		b := stats.ByChannel[row.Channel]
		switch row.Status {
		case domain.DeliveryStatusPending:
			b.Pending += row.Count
			stats.Pending += row.Count
		case domain.DeliveryStatusFailed:
			b.Failed += row.Count
		}
		stats.ByChannel[row.Channel] = b
	}

	var oldest sql.NullTime
	err = r.db.NewSelect().
		Model((*domain.NotificationDelivery)(nil)).
		ColumnExpr("min(created_at)").
		Where("status = ?", domain.DeliveryStatusPending).
		Scan(ctx, &oldest)
	if err != nil {
		return domain.QueueStats{}, err
	}
	if oldest.Valid {
		stats.OldestPendingAge = now.Sub(oldest.Time)
	}

	return stats, nil
}
