package booking

import (
	"context"
	"log/slog"
	"time"
)

// ExpireReservedHolds sweeps reserved holds whose TTL elapsed into expired,
// freeing their capacity. Safe to run concurrently with admissions; whoever
// commits first wins and the loser re-checks.
func (s *Service) ExpireReservedHolds(ctx context.Context, now time.Time, ttl time.Duration) (int, error) {
	count, err := s.repo.ExpireReservedHolds(ctx, now.UTC(), ttl)
	if err != nil {
		return 0, err
	}
	if count > 0 {
		expiredHoldsTotal.Add(float64(count))
		s.log.Info("expired reserved holds", slog.Int("count", count))
	}
	return count, nil
}

// Reaper periodically expires stale holds. One instance runs per process;
// overlapping runs across processes are harmless.
type Reaper struct {
	svc      *Service
	ttl      time.Duration
	interval time.Duration
	log      *slog.Logger
}

func NewReaper(svc *Service, ttl, interval time.Duration, log *slog.Logger) *Reaper {
	if log == nil {
		log = slog.Default()
	}
	return &Reaper{
		svc:      svc,
		ttl:      ttl,
		interval: interval,
		log:      log.With(slog.String("component", "hold_reaper")),
	}
}

func (r *Reaper) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.sweep(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.sweep(ctx)
		}
	}
}

func (r *Reaper) sweep(ctx context.Context) {
	if _, err := r.svc.ExpireReservedHolds(ctx, time.Now().UTC(), r.ttl); err != nil {
		r.log.Error("hold sweep failed", slog.Any("err", err))
	}
}
