package repository

import (
	"context"
	"errors"
	"time"

	"github.com/Lawyer-ray/FachuanHybridSystem-sub003/internal/domain"
	"gorm.io/gorm"
)

type CredentialRepository interface {
	GetByID(ctx context.Context, id string) (*domain.Credential, error)
	GetByAccount(ctx context.Context, site, account string) (*domain.Credential, error)
	// BestForSite picks the active credential with the strongest history:
	// preferred flag first, then success ratio, then recency.
	BestForSite(ctx context.Context, site string) (*domain.Credential, error)
	RecordSuccess(ctx context.Context, id string, at time.Time) error
	RecordFailure(ctx context.Context, id string) error
}

type GormCredentialRepo struct {
	db *gorm.DB
}

func NewGormCredentialRepo(db *gorm.DB) *GormCredentialRepo {
	return &GormCredentialRepo{db: db}
}

func (r *GormCredentialRepo) GetByID(ctx context.Context, id string) (*domain.Credential, error) {
	var c domain.Credential
	err := r.db.WithContext(ctx).First(&c, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *GormCredentialRepo) GetByAccount(ctx context.Context, site, account string) (*domain.Credential, error) {
	var c domain.Credential
	err := r.db.WithContext(ctx).
		Where("site = ? AND account = ?", site, account).
		First(&c).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *GormCredentialRepo) BestForSite(ctx context.Context, site string) (*domain.Credential, error) {
	var candidates []domain.Credential
	err := r.db.WithContext(ctx).
		Where("site = ? AND active = ?", site, true).
		Find(&candidates).Error
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return nil, domain.ErrNoAvailableAccount
	}

	best := &candidates[0]
	for i := 1; i < len(candidates); i++ {
		if betterCredential(&candidates[i], best) {
			best = &candidates[i]
		}
	}
	return best, nil
}

func betterCredential(a, b *domain.Credential) bool {
	if a.Preferred != b.Preferred {
		return a.Preferred
	}
	if ra, rb := a.SuccessRatio(), b.SuccessRatio(); ra != rb {
		return ra > rb
	}
	switch {
	case a.LastSuccessAt == nil:
		return false
	case b.LastSuccessAt == nil:
		return true
	default:
		return a.LastSuccessAt.After(*b.LastSuccessAt)
	}
}

func (r *GormCredentialRepo) RecordSuccess(ctx context.Context, id string, at time.Time) error {
	result := r.db.WithContext(ctx).
		Model(&domain.Credential{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"success_count":   gorm.Expr("success_count + 1"),
			"last_success_at": at,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *GormCredentialRepo) RecordFailure(ctx context.Context, id string) error {
	result := r.db.WithContext(ctx).
		Model(&domain.Credential{}).
		Where("id = ?", id).
		Update("failure_count", gorm.Expr("failure_count + 1"))
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}
