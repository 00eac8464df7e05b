package jobs

import (
	"context"
	"log/slog"
	"time"

	"github.com/polytech-platform/traffic-attendance-service/internal/observability"
	"github.com/polytech-platform/traffic-attendance-service/internal/repository"
)

// Notifier matches the service-layer notifier; the sweeper publishes after
// closing a session so kiosks repaint without waiting for their next poll.
type Notifier interface {
	NotifyTablet(tabletID string)
}

// Sweeper closes sessions that outlived the maximum age. The services also
// expire lazily on read; the sweeper catches sessions nobody reads.
type Sweeper struct {
	sessions repository.SessionRepository
	maxAge   time.Duration
	interval time.Duration
	notifier Notifier
	logger   *slog.Logger
	now      func() time.Time
}

func NewSweeper(
	sessions repository.SessionRepository,
	maxAge, interval time.Duration,
	notifier Notifier,
	logger *slog.Logger,
) *Sweeper {
	return &Sweeper{
		sessions: sessions,
		maxAge:   maxAge,
		interval: interval,
		notifier: notifier,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Run sweeps on a fixed ticker until the context ends. One failing pass is
// logged and retried on the next tick.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := s.SweepOnce(ctx); err != nil {
				s.logger.ErrorContext(ctx, "session sweep failed", "error", err)
			}
		}
	}
}

// SweepOnce closes every active session started before the cutoff and
// returns how many it closed.
func (s *Sweeper) SweepOnce(ctx context.Context) (int, error) {
	cutoff := s.now().Add(-s.maxAge)
	stale, err := s.sessions.ListActiveStartedBefore(ctx, cutoff)
	if err != nil {
		return 0, err
	}

	closed := 0
	for i := range stale {
		changed, err := s.sessions.CloseByID(ctx, stale[i].ID, s.now())
		if err != nil {
			return closed, err
		}
		if !changed {
			// Someone closed it between the list and the update. Fine.
			continue
		}
		closed++
		s.notifier.NotifyTablet(stale[i].TabletID)
		s.logger.InfoContext(ctx, "swept overdue session",
			"session_id", stale[i].ID, "tablet_id", stale[i].TabletID, "started_at", stale[i].StartedAt)
	}
	if closed > 0 {
		observability.RecordSweepClosed(ctx, int64(closed))
	}
	return closed, nil
}
