package repository

import (
	"context"
	"errors"

	"github.com/polytech-platform/traffic-attendance-service/internal/domain"
	"github.com/polytech-platform/traffic-attendance-service/internal/observability"

	"gorm.io/gorm"
)

var ErrTeacherNotFound = errors.New("teacher not found")

type TeacherRepository interface {
	Create(ctx context.Context, t *domain.Teacher) error
	FindByID(ctx context.Context, id string) (*domain.Teacher, error)
	FindByUsername(ctx context.Context, username string) (*domain.Teacher, error)
}

type GormTeacherRepository struct{ db *gorm.DB }

func NewTeacherRepository(db *gorm.DB) TeacherRepository { return &GormTeacherRepository{db: db} }

func (r *GormTeacherRepository) Create(ctx context.Context, t *domain.Teacher) error {
	err := r.db.WithContext(ctx).Create(t).Error
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "teacher", "create", "error")
		return err
	}
	observability.RecordRepositoryOperation(ctx, "teacher", "create", "success")
	return nil
}

func (r *GormTeacherRepository) FindByID(ctx context.Context, id string) (*domain.Teacher, error) {
	return r.findOne(ctx, "find_by_id", "id = ?", id)
}

func (r *GormTeacherRepository) FindByUsername(ctx context.Context, username string) (*domain.Teacher, error) {
	return r.findOne(ctx, "find_by_username", "username = ?", username)
}

func (r *GormTeacherRepository) findOne(ctx context.Context, op, query string, arg any) (*domain.Teacher, error) {
	var t domain.Teacher
	err := r.db.WithContext(ctx).Where(query, arg).First(&t).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			observability.RecordRepositoryOperation(ctx, "teacher", op, "not_found")
			return nil, ErrTeacherNotFound
		}
		observability.RecordRepositoryOperation(ctx, "teacher", op, "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(ctx, "teacher", op, "success")
	return &t, nil
}
