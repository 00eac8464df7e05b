package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/polytech-platform/traffic-attendance-service/internal/domain"
	"github.com/polytech-platform/traffic-attendance-service/internal/observability"
	"github.com/polytech-platform/traffic-attendance-service/internal/repository"
	"github.com/polytech-platform/traffic-attendance-service/internal/security"
)

const (
	pinNamespaceReg     = "reg_pin"
	pinNamespaceDisplay = "display_pin"

	// How long an unknown PIN stays in the negative cache. Short enough
	// that a freshly provisioned tablet is findable almost immediately.
	pinMissTTL = 30 * time.Second

	maxPINAttempts = 100
)

type TabletService struct {
	tablets  repository.TabletRepository
	sessions repository.SessionRepository

	pinCache PINLookupCache
	notifier Notifier
	logger   *slog.Logger
	now      func() time.Time
}

func NewTabletService(
	tablets repository.TabletRepository,
	sessions repository.SessionRepository,
	pinCache PINLookupCache,
	notifier Notifier,
	logger *slog.Logger,
) *TabletService {
	return &TabletService{
		tablets:  tablets,
		sessions: sessions,
		pinCache: pinCache,
		notifier: notifier,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Init provisions a new tablet with two fresh PINs. The registration PIN is
// what an admin types to bind the device to a room; the display PIN is what
// the kiosk uses to authenticate its polling.
func (s *TabletService) Init(ctx context.Context) (*domain.Tablet, error) {
	regPIN, err := s.uniquePIN(ctx)
	if err != nil {
		return nil, err
	}
	displayPIN, err := s.uniquePIN(ctx)
	if err != nil {
		return nil, err
	}
	tablet := &domain.Tablet{
		ID:         uuid.NewString(),
		RegPIN:     regPIN,
		DisplayPIN: displayPIN,
		CreatedAt:  s.now(),
	}
	if err := s.tablets.Create(ctx, tablet); err != nil {
		return nil, err
	}
	// A PIN probed before this tablet existed may sit in the miss cache.
	_ = s.pinCache.Invalidate(ctx, pinNamespaceReg)
	_ = s.pinCache.Invalidate(ctx, pinNamespaceDisplay)
	s.notifier.NotifyRoster()
	s.logger.InfoContext(ctx, "tablet provisioned", "tablet_id", tablet.ID)
	return tablet, nil
}

// Register binds the tablet identified by its registration PIN to a room.
func (s *TabletService) Register(ctx context.Context, regPIN string, assignment domain.RoomAssignment) (*domain.Tablet, error) {
	tablet, err := s.ByRegPIN(ctx, regPIN)
	if err != nil {
		return nil, err
	}
	if err := s.tablets.Assign(ctx, tablet.ID, assignment, s.now()); err != nil {
		if errors.Is(err, repository.ErrTabletNotFound) {
			return nil, ErrTabletNotFound
		}
		return nil, err
	}
	s.notifier.NotifyTablet(tablet.ID)
	s.notifier.NotifyRoster()
	s.logger.InfoContext(ctx, "tablet registered",
		"tablet_id", tablet.ID, "room_id", assignment.RoomID)
	return s.tablets.FindByID(ctx, tablet.ID)
}

// ByRegPIN resolves a tablet by registration PIN, consulting the negative
// cache before the database.
func (s *TabletService) ByRegPIN(ctx context.Context, pin string) (*domain.Tablet, error) {
	return s.byPIN(ctx, pinNamespaceReg, pin, s.tablets.FindByRegPIN)
}

// ByDisplayPIN resolves a tablet by display PIN, same negative-cache path.
func (s *TabletService) ByDisplayPIN(ctx context.Context, pin string) (*domain.Tablet, error) {
	return s.byPIN(ctx, pinNamespaceDisplay, pin, s.tablets.FindByDisplayPIN)
}

func (s *TabletService) byPIN(ctx context.Context, namespace, pin string, lookup func(context.Context, string) (*domain.Tablet, error)) (*domain.Tablet, error) {
	if miss, err := s.pinCache.IsKnownMiss(ctx, namespace, pin); err != nil {
		s.logger.WarnContext(ctx, "pin miss cache unavailable", "error", err)
	} else if miss {
		observability.RecordRateLimitDecision(ctx, "pin_lookup", "cached_miss")
		return nil, ErrTabletNotFound
	}

	tablet, err := lookup(ctx, pin)
	if errors.Is(err, repository.ErrTabletNotFound) {
		if cacheErr := s.pinCache.RememberMiss(ctx, namespace, pin, pinMissTTL); cacheErr != nil {
			s.logger.WarnContext(ctx, "pin miss cache unavailable", "error", cacheErr)
		}
		return nil, ErrTabletNotFound
	}
	if err != nil {
		return nil, err
	}
	return tablet, nil
}

func (s *TabletService) Get(ctx context.Context, tabletID string) (*domain.Tablet, error) {
	tablet, err := s.tablets.FindByID(ctx, tabletID)
	if errors.Is(err, repository.ErrTabletNotFound) {
		return nil, ErrTabletNotFound
	}
	return tablet, err
}

func (s *TabletService) List(ctx context.Context) ([]domain.Tablet, error) {
	return s.tablets.List(ctx)
}

func (s *TabletService) ListIDs(ctx context.Context) ([]string, error) {
	return s.tablets.ListIDs(ctx)
}

// Delete removes the tablet and its entire history. Sessions and attendance
// rows go with it.
func (s *TabletService) Delete(ctx context.Context, tabletID string) error {
	err := s.tablets.Delete(ctx, tabletID)
	if errors.Is(err, repository.ErrTabletNotFound) {
		return ErrTabletNotFound
	}
	if err != nil {
		return err
	}
	s.notifier.NotifyTablet(tabletID)
	s.notifier.NotifyRoster()
	s.logger.InfoContext(ctx, "tablet deleted", "tablet_id", tabletID)
	return nil
}

func (s *TabletService) uniquePIN(ctx context.Context) (string, error) {
	for attempt := 0; attempt < maxPINAttempts; attempt++ {
		pin, err := security.NewPIN()
		if err != nil {
			return "", err
		}
		inUse, err := s.tablets.PINInUse(ctx, pin)
		if err != nil {
			return "", err
		}
		if !inUse {
			return pin, nil
		}
	}
	return "", fmt.Errorf("could not find a free pin after %d attempts", maxPINAttempts)
}
