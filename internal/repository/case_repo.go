package repository

import (
	"context"
	"errors"

	"github.com/Lawyer-ray/FachuanHybridSystem-sub003/internal/domain"
	"gorm.io/gorm"
)

type CaseRepository interface {
	GetByID(ctx context.Context, id string) (*domain.Case, error)
	// FindByCaseNumbers returns the first case matching any of the numbers,
	// tried in order. ErrCaseNotFound when none match.
	FindByCaseNumbers(ctx context.Context, numbers []string) (*domain.Case, error)
	// FindByParty falls back to a title search when no case number matched.
	FindByParty(ctx context.Context, party string) (*domain.Case, error)
}

type GormCaseRepo struct {
	db *gorm.DB
}

func NewGormCaseRepo(db *gorm.DB) *GormCaseRepo {
	return &GormCaseRepo{db: db}
}

func (r *GormCaseRepo) GetByID(ctx context.Context, id string) (*domain.Case, error) {
	var c domain.Case
	err := r.db.WithContext(ctx).First(&c, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *GormCaseRepo) FindByCaseNumbers(ctx context.Context, numbers []string) (*domain.Case, error) {
	for _, number := range numbers {
		var c domain.Case
		err := r.db.WithContext(ctx).
			Where("case_number = ?", number).
			First(&c).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return &c, nil
	}
	return nil, domain.ErrCaseNotFound
}

func (r *GormCaseRepo) FindByParty(ctx context.Context, party string) (*domain.Case, error) {
	var c domain.Case
	err := r.db.WithContext(ctx).
		Where("title LIKE ?", "%"+party+"%").
		Order("updated_at DESC").
		First(&c).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrCaseNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}
