package repository

import (
	"context"
	"errors"
	"time"

	"github.com/Lawyer-ray/FachuanHybridSystem-sub003/internal/domain"
	"gorm.io/gorm"
)

type NotificationRepository interface {
	Create(ctx context.Context, n *domain.Notification) error
	GetByID(ctx context.Context, id string) (*domain.Notification, error)
	GetByDownloadTaskID(ctx context.Context, taskID string) (*domain.Notification, error)
	// ListStartable returns notifications for a site created after the cutoff
	// whose status allows scheduler pickup.
	ListStartable(ctx context.Context, site string, since time.Time, limit int) ([]domain.Notification, error)
	// ListUnfinished returns non-terminal notifications created after the cutoff.
	ListUnfinished(ctx context.Context, since time.Time, limit int) ([]domain.Notification, error)
	// ApplyTransition persists a state change atomically with any data the
	// transition produced. The from-status guard makes concurrent drivers of
	// the same record safe: the loser sees ErrConflict.
	ApplyTransition(ctx context.Context, id string, from, to domain.Status, fields map[string]any) error
}

// startableStatuses are the states a schedule run may pick up.
var startableStatuses = []domain.Status{
	domain.StatusPending,
	domain.StatusDownloadFailed,
}

type GormNotificationRepo struct {
	db *gorm.DB
}

func NewGormNotificationRepo(db *gorm.DB) *GormNotificationRepo {
	return &GormNotificationRepo{db: db}
}

func (r *GormNotificationRepo) Create(ctx context.Context, n *domain.Notification) error {
	return r.db.WithContext(ctx).Create(n).Error
}

func (r *GormNotificationRepo) GetByID(ctx context.Context, id string) (*domain.Notification, error) {
	var n domain.Notification
	err := r.db.WithContext(ctx).First(&n, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &n, nil
}

func (r *GormNotificationRepo) GetByDownloadTaskID(ctx context.Context, taskID string) (*domain.Notification, error) {
	var n domain.Notification
	err := r.db.WithContext(ctx).First(&n, "download_task_id = ?", taskID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &n, nil
}

func (r *GormNotificationRepo) ListStartable(ctx context.Context, site string, since time.Time, limit int) ([]domain.Notification, error) {
	var notifications []domain.Notification
	err := r.db.WithContext(ctx).
		Where("site = ? AND status IN ? AND created_at >= ?", site, startableStatuses, since).
		Order("created_at ASC").
		Limit(limit).
		Find(&notifications).Error
	if err != nil {
		return nil, err
	}
	return notifications, nil
}

func (r *GormNotificationRepo) ListUnfinished(ctx context.Context, since time.Time, limit int) ([]domain.Notification, error) {
	var notifications []domain.Notification
	err := r.db.WithContext(ctx).
		Where("status NOT IN ? AND created_at >= ?",
			[]domain.Status{domain.StatusCompleted, domain.StatusFailed}, since).
		Order("updated_at ASC").
		Limit(limit).
		Find(&notifications).Error
	if err != nil {
		return nil, err
	}
	return notifications, nil
}

func (r *GormNotificationRepo) ApplyTransition(ctx context.Context, id string, from, to domain.Status, fields map[string]any) error {
	updates := map[string]any{
		"status":     to,
		"updated_at": time.Now().UTC(),
	}
	for k, v := range fields {
		updates[k] = v
	}

	result := r.db.WithContext(ctx).
		Model(&domain.Notification{}).
		Where("id = ? AND status = ?", id, from).
		Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrConflict
	}
	return nil
}
