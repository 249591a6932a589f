package repository

import (
	"context"
	"errors"

	"github.com/Lawyer-ray/FachuanHybridSystem-sub003/internal/domain"
	"gorm.io/gorm"
)

type TaskRepository interface {
	Create(ctx context.Context, t *domain.DownloadTask) error
	GetByID(ctx context.Context, id string) (*domain.DownloadTask, error)
	// Complete writes the final strategy, counts and outcome. Tasks are
	// immutable afterwards.
	Complete(ctx context.Context, t *domain.DownloadTask) error
	CreateItem(ctx context.Context, item *domain.DownloadItem) error
	ListItems(ctx context.Context, taskID string) ([]domain.DownloadItem, error)
}

type GormTaskRepo struct {
	db *gorm.DB
}

func NewGormTaskRepo(db *gorm.DB) *GormTaskRepo {
	return &GormTaskRepo{db: db}
}

func (r *GormTaskRepo) Create(ctx context.Context, t *domain.DownloadTask) error {
	return r.db.WithContext(ctx).Create(t).Error
}

func (r *GormTaskRepo) GetByID(ctx context.Context, id string) (*domain.DownloadTask, error) {
	var t domain.DownloadTask
	err := r.db.WithContext(ctx).First(&t, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (r *GormTaskRepo) Complete(ctx context.Context, t *domain.DownloadTask) error {
	result := r.db.WithContext(ctx).
		Model(&domain.DownloadTask{}).
		Where("id = ?", t.ID).
		Updates(map[string]any{
			"strategy":      t.Strategy,
			"total_count":   t.TotalCount,
			"success_count": t.SuccessCount,
			"failed_count":  t.FailedCount,
			"success":       t.Success,
			"error":         t.Error,
			"completed_at":  t.CompletedAt,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *GormTaskRepo) CreateItem(ctx context.Context, item *domain.DownloadItem) error {
	return r.db.WithContext(ctx).Create(item).Error
}

func (r *GormTaskRepo) ListItems(ctx context.Context, taskID string) ([]domain.DownloadItem, error) {
	var items []domain.DownloadItem
	err := r.db.WithContext(ctx).
		Where("task_id = ?", taskID).
		Order("created_at ASC").
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}
