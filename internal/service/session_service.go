package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/polytech-platform/traffic-attendance-service/internal/domain"
	"github.com/polytech-platform/traffic-attendance-service/internal/observability"
	"github.com/polytech-platform/traffic-attendance-service/internal/repository"
	"github.com/polytech-platform/traffic-attendance-service/internal/security"
)

// OpenSessionInput carries everything a teacher supplies when starting a
// session on a tablet. TeacherID is nil for admin-opened sessions.
type OpenSessionInput struct {
	TabletID    string
	TeacherID   *string
	TeacherName string
	Discipline  string
}

// OpenPolicy decides what happens when a session is opened on a tablet that
// already has an active one.
type OpenPolicy string

const (
	// OpenPolicyDisplace closes the previous session and opens the new one.
	OpenPolicyDisplace OpenPolicy = "displace"
	// OpenPolicyReject refuses the open with ErrSessionConflict.
	OpenPolicyReject OpenPolicy = "reject"
)

// AdminActor is the actor value for callers that are not scoped to a single
// teacher. Admins and internal jobs see every session.
const AdminActor = ""

type SessionService struct {
	sessions repository.SessionRepository
	tablets  repository.TabletRepository

	rotateSeconds int
	maxAge        time.Duration
	openPolicy    OpenPolicy

	notifier Notifier
	logger   *slog.Logger
	now      func() time.Time
}

func NewSessionService(
	sessions repository.SessionRepository,
	tablets repository.TabletRepository,
	rotateSeconds int,
	maxAge time.Duration,
	openPolicy OpenPolicy,
	notifier Notifier,
	logger *slog.Logger,
) *SessionService {
	return &SessionService{
		sessions:      sessions,
		tablets:       tablets,
		rotateSeconds: rotateSeconds,
		maxAge:        maxAge,
		openPolicy:    openPolicy,
		notifier:      notifier,
		logger:        logger,
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// ownedBy reports whether the actor may see the session. An empty actor is
// an admin or internal caller and is never restricted; a teacher only sees
// sessions carrying their own teacher id.
func ownedBy(session *domain.Session, actorTeacherID string) bool {
	if actorTeacherID == AdminActor {
		return true
	}
	return session.TeacherID != nil && *session.TeacherID == actorTeacherID
}

// Open starts a session on a registered tablet. Under the displace policy
// any session still active on that tablet is closed first, so a teacher
// never has to hunt down a session a colleague forgot to end. Under the
// reject policy a busy tablet refuses the open with ErrSessionConflict;
// a session past its maximum age does not count as busy.
func (s *SessionService) Open(ctx context.Context, in OpenSessionInput) (*domain.Session, error) {
	tablet, err := s.tablets.FindByID(ctx, in.TabletID)
	if err != nil {
		if errors.Is(err, repository.ErrTabletNotFound) {
			return nil, ErrTabletNotFound
		}
		return nil, err
	}
	if !tablet.IsRegistered() {
		return nil, ErrTabletNotRegistered
	}

	if s.openPolicy == OpenPolicyReject {
		active, err := s.sessions.FindActiveByTabletID(ctx, tablet.ID)
		switch {
		case err == nil:
			if _, err := s.expireIfStale(ctx, active); err != nil {
				return nil, err
			}
		case !errors.Is(err, repository.ErrSessionNotFound):
			return nil, err
		}
	} else {
		closed, err := s.sessions.CloseActiveByTabletID(ctx, tablet.ID, s.now())
		if err != nil {
			return nil, err
		}
		if closed > 0 {
			observability.RecordSessionEvent(ctx, "displaced")
			s.logger.InfoContext(ctx, "closed stale sessions before open",
				"tablet_id", tablet.ID, "count", closed)
		}
	}

	secret, err := security.NewQRSecret()
	if err != nil {
		return nil, err
	}
	session := &domain.Session{
		ID:            uuid.NewString(),
		TabletID:      tablet.ID,
		TeacherID:     in.TeacherID,
		TeacherName:   in.TeacherName,
		Discipline:    in.Discipline,
		QRSecret:      secret,
		RotateSeconds: s.rotateSeconds,
		StartedAt:     s.now(),
		IsActive:      true,
	}
	if s.openPolicy == OpenPolicyReject {
		if err := s.sessions.CreateExclusive(ctx, session); err != nil {
			if errors.Is(err, repository.ErrSessionConflict) {
				observability.RecordSessionEvent(ctx, "rejected")
				return nil, ErrSessionConflict
			}
			return nil, err
		}
	} else if err := s.sessions.Create(ctx, session); err != nil {
		return nil, err
	}

	observability.RecordSessionEvent(ctx, "opened")
	s.notifier.NotifyTablet(tablet.ID)
	s.logger.InfoContext(ctx, "session opened",
		"session_id", session.ID, "tablet_id", tablet.ID, "discipline", session.Discipline)
	return session, nil
}

// Close ends a session. Closing an already closed session succeeds without
// touching it; callers retry freely. A teacher actor can only close their
// own sessions; a foreign session reads as not found so the id does not
// leak its existence.
func (s *SessionService) Close(ctx context.Context, sessionID, actorTeacherID string) (*domain.Session, error) {
	session, err := s.sessions.FindByID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, repository.ErrSessionNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}
	if !ownedBy(session, actorTeacherID) {
		return nil, ErrSessionNotFound
	}

	changed, err := s.sessions.CloseByID(ctx, sessionID, s.now())
	if err != nil {
		return nil, err
	}
	if changed {
		observability.RecordSessionEvent(ctx, "closed")
		s.notifier.NotifyTablet(session.TabletID)
		s.logger.InfoContext(ctx, "session closed", "session_id", sessionID)
		return s.sessions.FindByID(ctx, sessionID)
	}
	return session, nil
}

// ActiveForTablet returns the tablet's live session. A session past the
// maximum age is closed on the spot and reported as absent.
func (s *SessionService) ActiveForTablet(ctx context.Context, tabletID string) (*domain.Session, error) {
	session, err := s.sessions.FindActiveByTabletID(ctx, tabletID)
	if err != nil {
		if errors.Is(err, repository.ErrSessionNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}
	if expired, err := s.expireIfStale(ctx, session); err != nil {
		return nil, err
	} else if expired {
		return nil, ErrSessionNotFound
	}
	return session, nil
}

// Get fetches a session by ID regardless of state. The same ownership rule
// as Close applies.
func (s *SessionService) Get(ctx context.Context, sessionID, actorTeacherID string) (*domain.Session, error) {
	session, err := s.sessions.FindByID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, repository.ErrSessionNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}
	if !ownedBy(session, actorTeacherID) {
		return nil, ErrSessionNotFound
	}
	if _, err := s.expireIfStale(ctx, session); err != nil {
		return nil, err
	}
	return session, nil
}

// ListForTeacher returns a teacher's sessions, newest first, optionally
// narrowed to one tablet.
func (s *SessionService) ListForTeacher(ctx context.Context, teacherID, tabletID string) ([]domain.Session, error) {
	return s.sessions.ListByTeacher(ctx, teacherID, tabletID)
}

func (s *SessionService) expireIfStale(ctx context.Context, session *domain.Session) (bool, error) {
	if !session.IsActive || session.Age(s.now()) <= s.maxAge {
		return false, nil
	}
	changed, err := s.sessions.CloseByID(ctx, session.ID, s.now())
	if err != nil {
		return false, err
	}
	if changed {
		observability.RecordSessionEvent(ctx, "expired")
		s.notifier.NotifyTablet(session.TabletID)
		s.logger.InfoContext(ctx, "session expired past max age",
			"session_id", session.ID, "started_at", session.StartedAt)
	}
	session.IsActive = false
	ended := s.now()
	session.EndedAt = &ended
	return true, nil
}
