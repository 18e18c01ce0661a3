package services

import (
	"context"

	"github.com/google/uuid"
	"github.com/vireo-cms/apiserver/types"
)

// CategoryRepository defines persistence operations for categories.
type CategoryRepository interface {
	List(ctx context.Context) ([]types.Category, error)
	GetByID(ctx context.Context, id uuid.UUID) (types.Category, error)
	GetByName(ctx context.Context, name string) (types.Category, error)
	Create(ctx context.Context, category types.Category) (types.Category, error)
	Update(ctx context.Context, category types.Category) (types.Category, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

// CategoryService encapsulates category use-cases.
type CategoryService struct {
	repo CategoryRepository
}

func NewCategoryService(repo CategoryRepository) *CategoryService {
	return &CategoryService{repo: repo}
}

func (s *CategoryService) List(ctx context.Context) ([]types.Category, error) {
	return s.repo.List(ctx)
}

func (s *CategoryService) GetByID(ctx context.Context, id uuid.UUID) (types.Category, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *CategoryService) GetByName(ctx context.Context, name string) (types.Category, error) {
	return s.repo.GetByName(ctx, name)
}

func (s *CategoryService) Create(ctx context.Context, category types.Category) (types.Category, error) {
	return s.repo.Create(ctx, category)
}

func (s *CategoryService) Update(ctx context.Context, category types.Category) (types.Category, error) {
	return s.repo.Update(ctx, category)
}

func (s *CategoryService) Delete(ctx context.Context, id uuid.UUID) error {
	return s.repo.Delete(ctx, id)
}
