package repository

import (
	"context"
	"errors"
	"time"

	"github.com/Lawyer-ray/FachuanHybridSystem-sub003/internal/domain"
	"gorm.io/gorm"
)

type ScheduleRepository interface {
	GetByID(ctx context.Context, id string) (*domain.Schedule, error)
	// ListDue returns active schedules whose next run is unset or has arrived.
	ListDue(ctx context.Context, now time.Time) ([]domain.Schedule, error)
	// UpdateRunTimes records a completed run; it is called exactly once per
	// execution regardless of how many notifications the run processed.
	UpdateRunTimes(ctx context.Context, id string, lastRunAt, nextRunAt time.Time) error
}

type GormScheduleRepo struct {
	db *gorm.DB
}

func NewGormScheduleRepo(db *gorm.DB) *GormScheduleRepo {
	return &GormScheduleRepo{db: db}
}

func (r *GormScheduleRepo) GetByID(ctx context.Context, id string) (*domain.Schedule, error) {
	var s domain.Schedule
	err := r.db.WithContext(ctx).First(&s, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *GormScheduleRepo) ListDue(ctx context.Context, now time.Time) ([]domain.Schedule, error) {
	var schedules []domain.Schedule
	err := r.db.WithContext(ctx).
		Where("active = ? AND (next_run_at IS NULL OR next_run_at <= ?)", true, now).
		Order("next_run_at ASC NULLS FIRST").
		Find(&schedules).Error
	if err != nil {
		return nil, err
	}
	return schedules, nil
}

func (r *GormScheduleRepo) UpdateRunTimes(ctx context.Context, id string, lastRunAt, nextRunAt time.Time) error {
	result := r.db.WithContext(ctx).
		Model(&domain.Schedule{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"last_run_at": lastRunAt,
			"next_run_at": nextRunAt,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}
