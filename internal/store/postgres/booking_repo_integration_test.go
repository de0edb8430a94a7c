package postgres

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"yoyaku/backend/internal/domain"
	"yoyaku/backend/internal/store"
)

func TestPostgresIntegration_AdmissionConstraints(t *testing.T) {
	databaseURL := strings.TrimSpace(os.Getenv("YOYAKU_TEST_DATABASE_URL"))
	if databaseURL == "" {
		t.Skip("YOYAKU_TEST_DATABASE_URL not set")
	}

	db, err := Open(databaseURL, PoolConfig{MaxOpenConns: 1})
	if err != nil {
		t.Fatalf("Open error: %v", err)
	}
	t.Cleanup(func() {
		_ = Close(db)
	})

	schema := "yoyaku_test_" + randomHex(t, 8)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_, _ = db.NewRaw("DROP SCHEMA IF EXISTS " + schema + " CASCADE").Exec(ctx)
	})

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	err = db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewRaw("CREATE SCHEMA " + schema).Exec(ctx); err != nil {
			return err
		}
		if _, err := tx.NewRaw("SET LOCAL search_path TO " + schema + ", public").Exec(ctx); err != nil {
			return err
		}
		if err := applyMigrations(ctx, tx); err != nil {
			return err
		}

		b := bookingTx{tx: tx}
		now := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
		therapistID := uuid.MustParse("00000000-0000-0000-0000-000000000002")

		shop := domain.Shop{
			ID:       uuid.MustParse("00000000-0000-0000-0000-000000000001"),
			Name:     "integration",
			Timezone: "UTC",
		}
		if _, err := tx.NewInsert().Model(&shop).Exec(ctx); err != nil {
			return err
		}
		got, err := b.GetShop(ctx, shop.ID)
		if err != nil {
			return err
		}
		if got.RoomCount != 1 {
			return fmt.Errorf("room_count = %d, want default 1", got.RoomCount)
		}

		start := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
		end := start.Add(time.Hour)
		key := "int-key-1"

		first, err := b.InsertReservation(ctx, domain.Reservation{
			ShopID:          shop.ID,
			TherapistID:     &therapistID,
			StartAt:         start,
			EndAt:           end,
			DurationMinutes: 60,
			Status:          domain.ReservationStatusPending,
			IdempotencyKey:  &key,
		})
		if err != nil {
			return err
		}
		if first.ID == uuid.Nil {
			return fmt.Errorf("expected generated id")
		}

		// Overlapping pending row trips the exclusion constraint.
		_, err = b.InsertReservation(ctx, domain.Reservation{
			ShopID:          shop.ID,
			TherapistID:     &therapistID,
			StartAt:         start.Add(30 * time.Minute),
			EndAt:           end.Add(30 * time.Minute),
			DurationMinutes: 60,
			Status:          domain.ReservationStatusPending,
		})
		if !errors.Is(err, store.ErrConflict) {
			return fmt.Errorf("overlap err = %v, want %v", err, store.ErrConflict)
		}

		// A reserved hold is outside the constraint predicate; the admission
		// checks police holds instead.
		until := now.Add(15 * time.Minute)
		_, err = b.InsertReservation(ctx, domain.Reservation{
			ShopID:          shop.ID,
			TherapistID:     &therapistID,
			StartAt:         start.Add(30 * time.Minute),
			EndAt:           end.Add(30 * time.Minute),
			DurationMinutes: 60,
			Status:          domain.ReservationStatusReserved,
			ReservedUntil:   &until,
		})
		if err != nil {
			return fmt.Errorf("hold insert err = %v, want nil", err)
		}

		// Duplicate idempotency key maps to the sentinel.
		_, err = b.InsertReservation(ctx, domain.Reservation{
			ShopID:          shop.ID,
			TherapistID:     &therapistID,
			StartAt:         start.Add(3 * time.Hour),
			EndAt:           end.Add(3 * time.Hour),
			DurationMinutes: 60,
			Status:          domain.ReservationStatusReserved,
			IdempotencyKey:  &key,
		})
		if !errors.Is(err, store.ErrIdempotencyConflict) {
			return fmt.Errorf("idempotency err = %v, want %v", err, store.ErrIdempotencyConflict)
		}

		found, err := b.FindReservationByKey(ctx, key)
		if err != nil {
			return err
		}
		if found == nil || found.ID != first.ID {
			return fmt.Errorf("FindReservationByKey = %v, want %s", found, first.ID)
		}

		// Active listing sees the pending row and the live hold; after the
		// hold's TTL it sees only the pending row.
		window := domain.Interval{Start: start.Add(-time.Hour), End: end.Add(2 * time.Hour)}
		active, err := b.ListActiveReservations(ctx, therapistID, window, now)
		if err != nil {
			return err
		}
		if len(active) != 2 {
			return fmt.Errorf("active rows = %d, want 2", len(active))
		}
		active, err = b.ListActiveReservations(ctx, therapistID, window, until.Add(time.Minute))
		if err != nil {
			return err
		}
		if len(active) != 1 || active[0].ID != first.ID {
			return fmt.Errorf("active rows after TTL = %v, want only %s", active, first.ID)
		}

		// Cancelled reservations drop their pending deliveries.
		if err := b.InsertDeliveries(ctx, []domain.NotificationDelivery{
			{ReservationID: first.ID, Event: domain.EventReservationCreated, Channel: domain.ChannelLog, Status: domain.DeliveryStatusPending, NextAttemptAt: &now},
		}); err != nil {
			return err
		}
		n, err := b.CancelPendingDeliveries(ctx, first.ID)
		if err != nil {
			return err
		}
		if n != 1 {
			return fmt.Errorf("cancelled deliveries = %d, want 1", n)
		}

		// Cancelling the pending row frees the slot at the constraint level.
		first.Status = domain.ReservationStatusCancelled
		if _, err := b.UpdateReservation(ctx, first); err != nil {
			return err
		}
		_, err = b.InsertReservation(ctx, domain.Reservation{
			ShopID:          shop.ID,
			TherapistID:     &therapistID,
			StartAt:         start,
			EndAt:           end,
			DurationMinutes: 60,
			Status:          domain.ReservationStatusPending,
		})
		if err != nil {
			return fmt.Errorf("rebooking after cancel err = %v, want nil", err)
		}

		return nil
	})
	if err != nil {
		t.Fatalf("tx error: %v", err)
	}
}

func randomHex(t *testing.T, bytesLen int) string {
	t.Helper()
	b := make([]byte, bytesLen)
	if _, err := rand.Read(b); err != nil {
		t.Fatalf("rand.Read error: %v", err)
	}
	return hex.EncodeToString(b)
}

type rawExecutor interface {
	NewRaw(query string, args ...any) *bun.RawQuery
}

// applyMigrations runs the up migrations statement by statement inside the
// caller's transaction so they land in the test schema. The btree_gist
// extension is pinned to public; extensions are cluster-wide anyway.
func applyMigrations(ctx context.Context, exec rawExecutor) error {
	dir, err := migrationsDir()
	if err != nil {
		return err
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}

	var files []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".up.sql") {
			continue
		}
		files = append(files, filepath.Join(dir, e.Name()))
	}
	sort.Strings(files)

	for _, path := range files {
		b, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		for _, stmt := range splitSQLStatements(string(b)) {
			if normalized, ok := normalizeExtensionStatement(stmt); ok {
				stmt = normalized
			}
			if _, err := exec.NewRaw(stmt).Exec(ctx); err != nil {
				return fmt.Errorf("%s: %w", filepath.Base(path), err)
			}
		}
	}
	return nil
}

func migrationsDir() (string, error) {
	_, file, _, ok := runtime.Caller(0)
	if !ok {
		return "", fmt.Errorf("runtime.Caller failed")
	}
	return filepath.Join(filepath.Dir(file), "migrations"), nil
}

func normalizeExtensionStatement(stmt string) (string, bool) {
	s := strings.TrimSpace(stmt)
	upper := strings.ToUpper(s)
	if !strings.HasPrefix(upper, "CREATE EXTENSION") {
		return "", false
	}
	if !strings.Contains(upper, "BTREE_GIST") {
		return "", false
	}
	if strings.Contains(upper, " SCHEMA ") {
		return "", false
	}
	return s + " SCHEMA public", true
}

func splitSQLStatements(sql string) []string {
	var out []string
	for _, p := range strings.Split(sql, ";") {
		s := strings.TrimSpace(p)
		if s == "" {
			continue
		}
		out = append(out, s)
	}
	return out
}
