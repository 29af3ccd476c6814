package repository

import (
	"context"
	"errors"

	"cascade-payroll/pkg/db/option"

	"gorm.io/gorm"
)

// Repository is a typed data-access layer over gorm. Implementations are
// cheap value objects: WithTrx returns a copy bound to the given transaction.
type Repository[T any] interface {
	WithTrx(tx *gorm.DB) Repository[T]
	Find(ctx context.Context, filter *T, opts ...option.QueryOption) ([]*T, error)
	FindOne(ctx context.Context, filter *T, opts ...option.QueryOption) (*T, error)
	Create(ctx context.Context, resource *T) error
	Update(ctx context.Context, id string, resource any) error
	BatchCreate(ctx context.Context, resources []*T) error
	BatchUpdate(ctx context.Context, filter *T, values any) (int64, error)
	Count(ctx context.Context, filter *T, opts ...option.QueryOption) (int64, error)
	Delete(ctx context.Context, filter *T) error
}

type store[T any] struct {
	db *gorm.DB
}

func ProvideStore[T any](db *gorm.DB) Repository[T] {
	return &store[T]{db: db}
}

func (s *store[T]) WithTrx(tx *gorm.DB) Repository[T] {
	return &store[T]{db: tx}
}

func (s *store[T]) Find(ctx context.Context, filter *T, opts ...option.QueryOption) ([]*T, error) {
	var results []*T

	tx := s.db.WithContext(ctx).Where(filter)
	for _, opt := range opts {
		tx = opt(tx)
	}

	if err := tx.Find(&results).Error; err != nil {
		return nil, err
	}

	return results, nil
}

func (s *store[T]) FindOne(ctx context.Context, filter *T, opts ...option.QueryOption) (*T, error) {
	var result T

	tx := s.db.WithContext(ctx).Where(filter)
	for _, opt := range opts {
		tx = opt(tx)
	}

	if err := tx.First(&result).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}

	return &result, nil
}

func (s *store[T]) Create(ctx context.Context, resource *T) error {
	return s.db.WithContext(ctx).Create(resource).Error
}

func (s *store[T]) Update(ctx context.Context, id string, resource any) error {
	var model T
	return s.db.WithContext(ctx).Model(&model).Where("id = ?", id).Updates(resource).Error
}

func (s *store[T]) BatchCreate(ctx context.Context, resources []*T) error {
	if len(resources) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).Create(resources).Error
}

func (s *store[T]) BatchUpdate(ctx context.Context, filter *T, values any) (int64, error) {
	var model T
	tx := s.db.WithContext(ctx).Model(&model).Where(filter).Updates(values)
	return tx.RowsAffected, tx.Error
}

func (s *store[T]) Count(ctx context.Context, filter *T, opts ...option.QueryOption) (int64, error) {
	var model T
	var count int64

	tx := s.db.WithContext(ctx).Model(&model).Where(filter)
	for _, opt := range opts {
		tx = opt(tx)
	}

	if err := tx.Count(&count).Error; err != nil {
		return 0, err
	}

	return count, nil
}

func (s *store[T]) Delete(ctx context.Context, filter *T) error {
	var model T
	return s.db.WithContext(ctx).Where(filter).Delete(&model).Error
}
