package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/uptrace/bun"

	"yoyaku/backend/internal/domain"
	"yoyaku/backend/internal/store"
)

type BookingRepo struct {
	db *bun.DB
}

func NewBookingRepo(db *bun.DB) *BookingRepo {
	return &BookingRepo{db: db}
}

type bookingTx struct {
	tx bun.Tx
}

// InShopTransaction serializes all admissions for one shop on an advisory
// lock keyed by the shop id. Therapist overlap and shop capacity are both
// decided under this lock, so first committer wins and the rest see the
// committed row.
func (r *BookingRepo) InShopTransaction(ctx context.Context, shopID uuid.UUID, fn func(ctx context.Context, tx store.BookingTx) error) error {
	return r.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if err := lockShop(ctx, tx, shopID); err != nil {
			return err
		}
		return fn(ctx, bookingTx{tx: tx})
	})
}

func lockShop(ctx context.Context, tx bun.Tx, shopID uuid.UUID) error {
	_, err := tx.NewRaw("SELECT pg_advisory_xact_lock(hashtext(?))", shopID.String()).Exec(ctx)
	return err
}

func (r *BookingRepo) GetShop(ctx context.Context, shopID uuid.UUID) (domain.Shop, error) {
	return getShop(ctx, r.db, shopID)
}

func (r *BookingRepo) FindShift(ctx context.Context, shopID, therapistID uuid.UUID, workDate string) (*domain.Shift, error) {
	var row domain.Shift
	err := r.db.NewSelect().
		Model(&row).
		Where("shop_id = ?", shopID).
		Where("therapist_id = ?", therapistID).
		Where("work_date = ?", workDate).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &row, nil
}

func (r *BookingRepo) ListActiveReservations(ctx context.Context, therapistID uuid.UUID, window domain.Interval, now time.Time) ([]domain.Reservation, error) {
	return listActiveReservations(ctx, r.db, therapistID, window, now)
}

func (r *BookingRepo) GetReservation(ctx context.Context, id uuid.UUID) (domain.Reservation, error) {
	return getReservation(ctx, r.db, id)
}

func (r *BookingRepo) CreateShift(ctx context.Context, shift domain.Shift) (domain.Shift, error) {
	if _, err := r.db.NewInsert().Model(&shift).Exec(ctx); err != nil {
		return domain.Shift{}, err
	}
	return shift, nil
}

// DeleteShift refuses to drop a shift that still overlaps active
// reservations unless forced; re-deriving availability from a gone shift
// would orphan the bookings silently.
func (r *BookingRepo) DeleteShift(ctx context.Context, shiftID uuid.UUID, force bool) error {
	return r.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		var shift domain.Shift
		err := tx.NewSelect().Model(&shift).Where("id = ?", shiftID).Limit(1).Scan(ctx)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return store.ErrNotFound
			}
			return err
		}

		if !force {
			overlapping, err := listActiveReservations(ctx, tx, shift.TherapistID, shift.Span(), time.Now().UTC())
			if err != nil {
				return err
			}
			if len(overlapping) > 0 {
				return store.ErrConflict
			}
		}

		_, err = tx.NewDelete().Model((*domain.Shift)(nil)).Where("id = ?", shiftID).Exec(ctx)
		return err
	})
}

func (r *BookingRepo) ExpireReservedHolds(ctx context.Context, now time.Time, ttl time.Duration) (int, error) {
	res, err := r.db.NewUpdate().
		Model((*domain.Reservation)(nil)).
		Set("status = ?", domain.ReservationStatusExpired).
		Set("updated_at = ?", now).
		Where("status = ?", domain.ReservationStatusReserved).
		Where("(reserved_until <= ? OR (reserved_until IS NULL AND created_at <= ?))", now, now.Add(-ttl)).
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

func (r bookingTx) GetShop(ctx context.Context, shopID uuid.UUID) (domain.Shop, error) {
	return getShop(ctx, r.tx, shopID)
}

func (r bookingTx) ListShifts(ctx context.Context, shopID uuid.UUID, workDate string) ([]domain.Shift, error) {
	var rows []domain.Shift
	err := r.tx.NewSelect().
		Model(&rows).
		Where("shop_id = ?", shopID).
		Where("work_date = ?", workDate).
		OrderExpr("therapist_id ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (r bookingTx) ListActiveReservations(ctx context.Context, therapistID uuid.UUID, window domain.Interval, now time.Time) ([]domain.Reservation, error) {
	return listActiveReservations(ctx, r.tx, therapistID, window, now)
}

func (r bookingTx) ListOtherActiveReservations(ctx context.Context, shopID uuid.UUID, exceptTherapist uuid.UUID, window domain.Interval, now time.Time) ([]domain.Reservation, error) {
	var rows []domain.Reservation
	err := r.tx.NewSelect().
		Model(&rows).
		Where("shop_id = ?", shopID).
		Where("therapist_id IS DISTINCT FROM ?", exceptTherapist).
		Where("start_at < ?", window.End).
		Where("end_at > ?", window.Start).
		WhereGroup(" AND ", activeStatusFilter(now)).
		OrderExpr("start_at ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (r bookingTx) FindReservationByKey(ctx context.Context, key string) (*domain.Reservation, error) {
	var row domain.Reservation
	err := r.tx.NewSelect().
		Model(&row).
		Where("idempotency_key = ?", key).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &row, nil
}

func (r bookingTx) GetReservation(ctx context.Context, id uuid.UUID) (domain.Reservation, error) {
	return getReservation(ctx, r.tx, id)
}

func (r bookingTx) InsertReservation(ctx context.Context, res domain.Reservation) (domain.Reservation, error) {
	if _, err := r.tx.NewInsert().Model(&res).Exec(ctx); err != nil {
		return domain.Reservation{}, mapReservationInsertError(err)
	}
	return res, nil
}

func (r bookingTx) UpdateReservation(ctx context.Context, res domain.Reservation) (domain.Reservation, error) {
	result, err := r.tx.NewUpdate().Model(&res).WherePK().Exec(ctx)
	if err != nil {
		return domain.Reservation{}, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return domain.Reservation{}, err
	}
	if affected == 0 {
		return domain.Reservation{}, store.ErrNotFound
	}
	return res, nil
}

func (r bookingTx) InsertDeliveries(ctx context.Context, rows []domain.NotificationDelivery) error {
	if len(rows) == 0 {
		return nil
	}
	_, err := r.tx.NewInsert().Model(&rows).Exec(ctx)
	return err
}

func (r bookingTx) CancelPendingDeliveries(ctx context.Context, reservationID uuid.UUID) (int, error) {
	res, err := r.tx.NewUpdate().
		Model((*domain.NotificationDelivery)(nil)).
		Set("status = ?", domain.DeliveryStatusCancelled).
		Set("updated_at = ?", time.Now().UTC()).
		Where("reservation_id = ?", reservationID).
		Where("status = ?", domain.DeliveryStatusPending).
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

func getShop(ctx context.Context, db bun.IDB, shopID uuid.UUID) (domain.Shop, error) {
	var row domain.Shop
	err := db.NewSelect().Model(&row).Where("id = ?", shopID).Limit(1).Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Shop{}, store.ErrNotFound
		}
		return domain.Shop{}, err
	}
	return row, nil
}

func getReservation(ctx context.Context, db bun.IDB, id uuid.UUID) (domain.Reservation, error) {
	var row domain.Reservation
	err := db.NewSelect().Model(&row).Where("id = ?", id).Limit(1).Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Reservation{}, store.ErrNotFound
		}
		return domain.Reservation{}, err
	}
	return row, nil
}

func listActiveReservations(ctx context.Context, db bun.IDB, therapistID uuid.UUID, window domain.Interval, now time.Time) ([]domain.Reservation, error) {
	var rows []domain.Reservation
	err := db.NewSelect().
		Model(&rows).
		Where("therapist_id = ?", therapistID).
		Where("start_at < ?", window.End).
		Where("end_at > ?", window.Start).
		WhereGroup(" AND ", activeStatusFilter(now)).
		OrderExpr("start_at ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// activeStatusFilter matches reservations that still consume capacity: firm
// bookings, plus holds that have not provably expired. A NULL reserved_until
// counts as live.
func activeStatusFilter(now time.Time) func(*bun.SelectQuery) *bun.SelectQuery {
	return func(q *bun.SelectQuery) *bun.SelectQuery {
		return q.
			Where("status IN ('pending', 'confirmed')").
			WhereOr("(status = 'reserved' AND (reserved_until IS NULL OR reserved_until > ?))", now)
	}
}

// mapReservationInsertError turns constraint violations into the store
// sentinels the admission engine understands. 23P01 is the overlap
// exclusion backstop, 23505 the idempotency key unique index.
func mapReservationInsertError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if pgErr.Code == "23P01" && pgErr.ConstraintName == "reservations_no_overlap" {
			return store.ErrConflict
		}
		if pgErr.Code == "23505" && pgErr.ConstraintName == "reservations_idempotency_key_idx" {
			return store.ErrIdempotencyConflict
		}
	}
	return err
}
