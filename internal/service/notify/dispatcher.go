package notify

import (
	"context"
	"log/slog"
	"time"
)

// StaleClaimAge is how long a delivery may sit in_progress before the
// dispatcher assumes its claimant died and returns it to pending.
const StaleClaimAge = 5 * time.Minute

// Dispatcher drains the delivery queue: claim a bounded batch of due
// pending rows, send each, sleep, repeat. It never touches the booking
// transaction path.
type Dispatcher struct {
	svc          *Service
	pollInterval time.Duration
	batchSize    int
	log          *slog.Logger
}

func NewDispatcher(svc *Service, pollInterval time.Duration, batchSize int, log *slog.Logger) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}
	return &Dispatcher{
		svc:          svc,
		pollInterval: pollInterval,
		batchSize:    batchSize,
		log:          log.With(slog.String("component", "notify_dispatcher")),
	}
}

func (d *Dispatcher) Run(ctx context.Context) {
	ticker := time.NewTicker(d.pollInterval)
	defer ticker.Stop()

	d.cycle(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.cycle(ctx)
		}
	}
}

func (d *Dispatcher) cycle(ctx context.Context) {
	now := time.Now().UTC()

	if n, err := d.svc.repo.RequeueStale(ctx, now.Add(-StaleClaimAge)); err != nil {
		d.log.Error("requeue stale claims failed", slog.Any("err", err))
	} else if n > 0 {
		d.log.Warn("requeued stale in-progress deliveries", slog.Int("count", n))
	}

	batch, err := d.svc.repo.ClaimDue(ctx, now, d.batchSize)
	if err != nil {
		d.log.Error("claim due deliveries failed", slog.Any("err", err))
		return
	}
	for i := range batch {
		if ctx.Err() != nil {
			return
		}
		d.svc.Dispatch(ctx, batch[i], time.Now().UTC())
	}

	stats, err := d.svc.repo.Stats(ctx, now)
	if err != nil {
		d.log.Error("queue stats failed", slog.Any("err", err))
		return
	}
	queuePending.Set(float64(stats.Pending))
	queueOldestPendingAge.Set(stats.OldestPendingAge.Seconds())
}
