package repository

import (
	"context"
	"errors"
	"time"

	"github.com/polytech-platform/traffic-attendance-service/internal/domain"
	"github.com/polytech-platform/traffic-attendance-service/internal/observability"

	"gorm.io/gorm"
)

var ErrTabletNotFound = errors.New("tablet not found")

type TabletRepository interface {
	Create(ctx context.Context, t *domain.Tablet) error
	FindByID(ctx context.Context, id string) (*domain.Tablet, error)
	FindByRegPIN(ctx context.Context, pin string) (*domain.Tablet, error)
	FindByDisplayPIN(ctx context.Context, pin string) (*domain.Tablet, error)
	PINInUse(ctx context.Context, pin string) (bool, error)
	List(ctx context.Context) ([]domain.Tablet, error)
	ListIDs(ctx context.Context) ([]string, error)
	Assign(ctx context.Context, id string, assignment domain.RoomAssignment, assignedAt time.Time) error
	// Delete removes the tablet and cascades through its sessions to their
	// attendance rows in one transaction. Hard deletion, no tombstones.
	Delete(ctx context.Context, id string) error
}

type GormTabletRepository struct{ db *gorm.DB }

func NewTabletRepository(db *gorm.DB) TabletRepository { return &GormTabletRepository{db: db} }

func (r *GormTabletRepository) Create(ctx context.Context, t *domain.Tablet) error {
	err := r.db.WithContext(ctx).Create(t).Error
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "tablet", "create", "error")
		return err
	}
	observability.RecordRepositoryOperation(ctx, "tablet", "create", "success")
	return nil
}

func (r *GormTabletRepository) FindByID(ctx context.Context, id string) (*domain.Tablet, error) {
	return r.findOne(ctx, "find_by_id", "id = ?", id)
}

func (r *GormTabletRepository) FindByRegPIN(ctx context.Context, pin string) (*domain.Tablet, error) {
	return r.findOne(ctx, "find_by_reg_pin", "reg_pin = ?", pin)
}

func (r *GormTabletRepository) FindByDisplayPIN(ctx context.Context, pin string) (*domain.Tablet, error) {
	return r.findOne(ctx, "find_by_display_pin", "display_pin = ?", pin)
}

func (r *GormTabletRepository) findOne(ctx context.Context, op, query string, arg any) (*domain.Tablet, error) {
	var t domain.Tablet
	err := r.db.WithContext(ctx).Where(query, arg).First(&t).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			observability.RecordRepositoryOperation(ctx, "tablet", op, "not_found")
			return nil, ErrTabletNotFound
		}
		observability.RecordRepositoryOperation(ctx, "tablet", op, "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(ctx, "tablet", op, "success")
	return &t, nil
}

func (r *GormTabletRepository) PINInUse(ctx context.Context, pin string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&domain.Tablet{}).
		Where("reg_pin = ? OR display_pin = ?", pin, pin).
		Count(&count).Error
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "tablet", "pin_in_use", "error")
		return false, err
	}
	observability.RecordRepositoryOperation(ctx, "tablet", "pin_in_use", "success")
	return count > 0, nil
}

func (r *GormTabletRepository) List(ctx context.Context) ([]domain.Tablet, error) {
	var tablets []domain.Tablet
	err := r.db.WithContext(ctx).Order("created_at ASC").Find(&tablets).Error
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "tablet", "list", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(ctx, "tablet", "list", "success")
	return tablets, nil
}

func (r *GormTabletRepository) ListIDs(ctx context.Context) ([]string, error) {
	var ids []string
	err := r.db.WithContext(ctx).Model(&domain.Tablet{}).Pluck("id", &ids).Error
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "tablet", "list_ids", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(ctx, "tablet", "list_ids", "success")
	return ids, nil
}

func (r *GormTabletRepository) Assign(ctx context.Context, id string, assignment domain.RoomAssignment, assignedAt time.Time) error {
	res := r.db.WithContext(ctx).Model(&domain.Tablet{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"building_id":   assignment.BuildingID,
			"building_name": assignment.BuildingName,
			"room_id":       assignment.RoomID,
			"room_name":     assignment.RoomName,
			"assigned_at":   assignedAt,
		})
	if res.Error != nil {
		observability.RecordRepositoryOperation(ctx, "tablet", "assign", "error")
		return res.Error
	}
	if res.RowsAffected == 0 {
		observability.RecordRepositoryOperation(ctx, "tablet", "assign", "not_found")
		return ErrTabletNotFound
	}
	observability.RecordRepositoryOperation(ctx, "tablet", "assign", "success")
	return nil
}

func (r *GormTabletRepository) Delete(ctx context.Context, id string) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var t domain.Tablet
		if err := tx.Where("id = ?", id).First(&t).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrTabletNotFound
			}
			return err
		}
		if err := tx.Where("session_id IN (?)",
			tx.Model(&domain.Session{}).Select("id").Where("tablet_id = ?", id),
		).Delete(&domain.Attendance{}).Error; err != nil {
			return err
		}
		if err := tx.Where("tablet_id = ?", id).Delete(&domain.Session{}).Error; err != nil {
			return err
		}
		return tx.Delete(&domain.Tablet{}, "id = ?", id).Error
	})
	if err != nil {
		if errors.Is(err, ErrTabletNotFound) {
			observability.RecordRepositoryOperation(ctx, "tablet", "delete", "not_found")
		} else {
			observability.RecordRepositoryOperation(ctx, "tablet", "delete", "error")
		}
		return err
	}
	observability.RecordRepositoryOperation(ctx, "tablet", "delete", "success")
	return nil
}
