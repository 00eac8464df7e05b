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

// AttendanceResult reports the outcome of a verified scan. AlreadyRecorded
// distinguishes a repeat scan from a fresh mark; both are success to the
// student.
type AttendanceResult struct {
	Attendance      *domain.Attendance
	AlreadyRecorded bool
}

type AttendanceService struct {
	attendances repository.AttendanceRepository
	sessions    repository.SessionRepository

	maxAge   time.Duration
	notifier Notifier
	logger   *slog.Logger
	now      func() time.Time
}

func NewAttendanceService(
	attendances repository.AttendanceRepository,
	sessions repository.SessionRepository,
	maxAge time.Duration,
	notifier Notifier,
	logger *slog.Logger,
) *AttendanceService {
	return &AttendanceService{
		attendances: attendances,
		sessions:    sessions,
		maxAge:      maxAge,
		notifier:    notifier,
		logger:      logger,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// VerifyAndRecord checks a scanned token against the session's secret and
// records the student if it matches the current or immediately previous
// rotation window. The insert is idempotent; the first mark's timestamp wins.
func (s *AttendanceService) VerifyAndRecord(ctx context.Context, sessionID, token string, student security.LaunchIdentity) (*AttendanceResult, error) {
	session, err := s.sessions.FindByID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, repository.ErrSessionNotFound) {
			observability.RecordVerifyAttempt(ctx, "session_not_found")
			return nil, ErrSessionNotFound
		}
		return nil, err
	}

	now := s.now()
	if !session.IsActive {
		observability.RecordVerifyAttempt(ctx, "session_closed")
		return nil, ErrSessionClosed
	}
	if session.Age(now) > s.maxAge {
		if changed, err := s.sessions.CloseByID(ctx, session.ID, now); err == nil && changed {
			observability.RecordSessionEvent(ctx, "expired")
			s.notifier.NotifyTablet(session.TabletID)
		}
		observability.RecordVerifyAttempt(ctx, "session_expired")
		return nil, ErrSessionClosed
	}

	if !security.VerifyQRToken(session.QRSecret, session.ID, token, now, session.RotateSeconds) {
		observability.RecordVerifyAttempt(ctx, "invalid_token")
		s.logger.WarnContext(ctx, "attendance token rejected",
			"session_id", session.ID, "student_external_id", student.StudentExternalID)
		return nil, ErrInvalidToken
	}

	attendance := &domain.Attendance{
		ID:                uuid.NewString(),
		SessionID:         session.ID,
		StudentExternalID: student.StudentExternalID,
		StudentName:       student.StudentName,
		StudentEmail:      student.StudentEmail,
		MarkedAt:          now,
	}
	created, err := s.attendances.Insert(ctx, attendance)
	if err != nil {
		return nil, err
	}
	if !created {
		observability.RecordVerifyAttempt(ctx, "already_recorded")
		existing, err := s.attendances.FindBySessionAndStudent(ctx, session.ID, student.StudentExternalID)
		if err != nil {
			return nil, err
		}
		return &AttendanceResult{Attendance: existing, AlreadyRecorded: true}, nil
	}

	observability.RecordVerifyAttempt(ctx, "recorded")
	s.notifier.NotifyTablet(session.TabletID)
	s.logger.InfoContext(ctx, "attendance recorded",
		"session_id", session.ID, "student_external_id", student.StudentExternalID)
	return &AttendanceResult{Attendance: attendance}, nil
}

// ListForSession returns the session roster in scan order. A teacher actor
// only reads rosters of their own sessions; foreign sessions read as not
// found.
func (s *AttendanceService) ListForSession(ctx context.Context, sessionID, actorTeacherID string) ([]domain.Attendance, error) {
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
	return s.attendances.ListBySession(ctx, sessionID)
}

// CountForSession returns the number of distinct students recorded.
func (s *AttendanceService) CountForSession(ctx context.Context, sessionID string) (int64, error) {
	return s.attendances.CountBySession(ctx, sessionID)
}
