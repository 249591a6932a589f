package repository

import (
	"context"

	"github.com/Lawyer-ray/FachuanHybridSystem-sub003/internal/domain"
	"gorm.io/gorm"
)

type AttemptRepository interface {
	Create(ctx context.Context, a *domain.LoginAttempt) error
	ListByAccount(ctx context.Context, site, account string, limit int) ([]domain.LoginAttempt, error)
}

type GormAttemptRepo struct {
	db *gorm.DB
}

func NewGormAttemptRepo(db *gorm.DB) *GormAttemptRepo {
	return &GormAttemptRepo{db: db}
}

func (r *GormAttemptRepo) Create(ctx context.Context, a *domain.LoginAttempt) error {
	return r.db.WithContext(ctx).Create(a).Error
}

func (r *GormAttemptRepo) ListByAccount(ctx context.Context, site, account string, limit int) ([]domain.LoginAttempt, error) {
	var attempts []domain.LoginAttempt
	err := r.db.WithContext(ctx).
		Where("site = ? AND account = ?", site, account).
		Order("created_at DESC").
		Limit(limit).
		Find(&attempts).Error
	if err != nil {
		return nil, err
	}
	return attempts, nil
}
