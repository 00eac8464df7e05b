package repository

import (
	"context"
	"errors"

	"github.com/polytech-platform/traffic-attendance-service/internal/domain"
	"github.com/polytech-platform/traffic-attendance-service/internal/observability"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var ErrAttendanceNotFound = errors.New("attendance record not found")

type AttendanceRepository interface {
	// Insert records the check-in unless the (session, student) pair already
	// exists. Returns created=false on the duplicate path; the uniqueness
	// constraint, not application locking, decides the winner under
	// concurrency.
	Insert(ctx context.Context, a *domain.Attendance) (created bool, err error)
	FindBySessionAndStudent(ctx context.Context, sessionID, studentExternalID string) (*domain.Attendance, error)
	ListBySession(ctx context.Context, sessionID string) ([]domain.Attendance, error)
	CountBySession(ctx context.Context, sessionID string) (int64, error)
}

type GormAttendanceRepository struct{ db *gorm.DB }

func NewAttendanceRepository(db *gorm.DB) AttendanceRepository {
	return &GormAttendanceRepository{db: db}
}

func (r *GormAttendanceRepository) Insert(ctx context.Context, a *domain.Attendance) (bool, error) {
	res := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "session_id"}, {Name: "student_external_id"}},
		DoNothing: true,
	}).Create(a)
	if res.Error != nil {
		observability.RecordRepositoryOperation(ctx, "attendance", "insert", "error")
		return false, res.Error
	}
	if res.RowsAffected == 0 {
		// First write wins: the existing row's timestamp stays authoritative.
		observability.RecordRepositoryOperation(ctx, "attendance", "insert", "duplicate")
		return false, nil
	}
	observability.RecordRepositoryOperation(ctx, "attendance", "insert", "success")
	return true, nil
}

func (r *GormAttendanceRepository) FindBySessionAndStudent(ctx context.Context, sessionID, studentExternalID string) (*domain.Attendance, error) {
	var row domain.Attendance
	err := r.db.WithContext(ctx).
		Where("session_id = ? AND student_external_id = ?", sessionID, studentExternalID).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		observability.RecordRepositoryOperation(ctx, "attendance", "find_by_session_student", "not_found")
		return nil, ErrAttendanceNotFound
	}
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "attendance", "find_by_session_student", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(ctx, "attendance", "find_by_session_student", "success")
	return &row, nil
}

func (r *GormAttendanceRepository) ListBySession(ctx context.Context, sessionID string) ([]domain.Attendance, error) {
	var rows []domain.Attendance
	err := r.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("marked_at ASC").
		Find(&rows).Error
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "attendance", "list_by_session", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(ctx, "attendance", "list_by_session", "success")
	return rows, nil
}

func (r *GormAttendanceRepository) CountBySession(ctx context.Context, sessionID string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&domain.Attendance{}).
		Where("session_id = ?", sessionID).
		Count(&count).Error
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "attendance", "count_by_session", "error")
		return 0, err
	}
	observability.RecordRepositoryOperation(ctx, "attendance", "count_by_session", "success")
	return count, nil
}
