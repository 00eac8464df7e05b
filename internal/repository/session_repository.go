package repository

import (
	"context"
	"errors"
	"time"

	"github.com/polytech-platform/traffic-attendance-service/internal/domain"
	"github.com/polytech-platform/traffic-attendance-service/internal/observability"

	"gorm.io/gorm"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	// ErrSessionConflict is returned by CreateExclusive when the tablet
	// already has an active session.
	ErrSessionConflict = errors.New("tablet already has an active session")
)

type SessionRepository interface {
	Create(ctx context.Context, s *domain.Session) error
	// CreateExclusive creates the session only if the tablet has no active
	// one, inside a single transaction.
	CreateExclusive(ctx context.Context, s *domain.Session) error
	FindByID(ctx context.Context, id string) (*domain.Session, error)
	FindActiveByTabletID(ctx context.Context, tabletID string) (*domain.Session, error)
	ListByTeacher(ctx context.Context, teacherID, tabletID string) ([]domain.Session, error)
	// CloseByID conditionally flips active -> closed and stamps the end
	// time. Returns false when the session was already closed.
	CloseByID(ctx context.Context, id string, endedAt time.Time) (bool, error)
	CloseActiveByTabletID(ctx context.Context, tabletID string, endedAt time.Time) (int64, error)
	ListActiveStartedBefore(ctx context.Context, cutoff time.Time) ([]domain.Session, error)
}

type GormSessionRepository struct{ db *gorm.DB }

func NewSessionRepository(db *gorm.DB) SessionRepository { return &GormSessionRepository{db: db} }

func (r *GormSessionRepository) Create(ctx context.Context, s *domain.Session) error {
	err := r.db.WithContext(ctx).Create(s).Error
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "session", "create", "error")
		return err
	}
	observability.RecordRepositoryOperation(ctx, "session", "create", "success")
	return nil
}

func (r *GormSessionRepository) CreateExclusive(ctx context.Context, s *domain.Session) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&domain.Session{}).
			Where("tablet_id = ? AND is_active = ?", s.TabletID, true).
			Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return ErrSessionConflict
		}
		return tx.Create(s).Error
	})
	if err != nil {
		if errors.Is(err, ErrSessionConflict) {
			observability.RecordRepositoryOperation(ctx, "session", "create_exclusive", "conflict")
		} else {
			observability.RecordRepositoryOperation(ctx, "session", "create_exclusive", "error")
		}
		return err
	}
	observability.RecordRepositoryOperation(ctx, "session", "create_exclusive", "success")
	return nil
}

func (r *GormSessionRepository) FindByID(ctx context.Context, id string) (*domain.Session, error) {
	var s domain.Session
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&s).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			observability.RecordRepositoryOperation(ctx, "session", "find_by_id", "not_found")
			return nil, ErrSessionNotFound
		}
		observability.RecordRepositoryOperation(ctx, "session", "find_by_id", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(ctx, "session", "find_by_id", "success")
	return &s, nil
}

func (r *GormSessionRepository) FindActiveByTabletID(ctx context.Context, tabletID string) (*domain.Session, error) {
	var s domain.Session
	err := r.db.WithContext(ctx).
		Where("tablet_id = ? AND is_active = ?", tabletID, true).
		First(&s).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			observability.RecordRepositoryOperation(ctx, "session", "find_active_by_tablet", "not_found")
			return nil, ErrSessionNotFound
		}
		observability.RecordRepositoryOperation(ctx, "session", "find_active_by_tablet", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(ctx, "session", "find_active_by_tablet", "success")
	return &s, nil
}

func (r *GormSessionRepository) ListByTeacher(ctx context.Context, teacherID, tabletID string) ([]domain.Session, error) {
	q := r.db.WithContext(ctx).Where("teacher_id = ?", teacherID)
	if tabletID != "" {
		q = q.Where("tablet_id = ?", tabletID)
	}
	var sessions []domain.Session
	err := q.Order("started_at DESC").Find(&sessions).Error
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "session", "list_by_teacher", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(ctx, "session", "list_by_teacher", "success")
	return sessions, nil
}

func (r *GormSessionRepository) CloseByID(ctx context.Context, id string, endedAt time.Time) (bool, error) {
	res := r.db.WithContext(ctx).Model(&domain.Session{}).
		Where("id = ? AND is_active = ?", id, true).
		Updates(map[string]any{"is_active": false, "ended_at": endedAt})
	if res.Error != nil {
		observability.RecordRepositoryOperation(ctx, "session", "close_by_id", "error")
		return false, res.Error
	}
	observability.RecordRepositoryOperation(ctx, "session", "close_by_id", "success")
	return res.RowsAffected > 0, nil
}

func (r *GormSessionRepository) CloseActiveByTabletID(ctx context.Context, tabletID string, endedAt time.Time) (int64, error) {
	res := r.db.WithContext(ctx).Model(&domain.Session{}).
		Where("tablet_id = ? AND is_active = ?", tabletID, true).
		Updates(map[string]any{"is_active": false, "ended_at": endedAt})
	if res.Error != nil {
		observability.RecordRepositoryOperation(ctx, "session", "close_active_by_tablet", "error")
		return 0, res.Error
	}
	observability.RecordRepositoryOperation(ctx, "session", "close_active_by_tablet", "success")
	return res.RowsAffected, nil
}

func (r *GormSessionRepository) ListActiveStartedBefore(ctx context.Context, cutoff time.Time) ([]domain.Session, error) {
	var sessions []domain.Session
	err := r.db.WithContext(ctx).
		Where("is_active = ? AND started_at < ?", true, cutoff).
		Find(&sessions).Error
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "session", "list_active_started_before", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(ctx, "session", "list_active_started_before", "success")
	return sessions, nil
}
