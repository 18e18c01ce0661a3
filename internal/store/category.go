package store

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"
	"github.com/vireo-cms/apiserver/types"
)

// CategoryRepository handles persistence for categories.
type CategoryRepository struct {
	db *sql.DB
}

func NewCategoryRepository(db *sql.DB) *CategoryRepository {
	return &CategoryRepository{db: db}
}

func (r *CategoryRepository) List(ctx context.Context) ([]types.Category, error) {
	const query = `SELECT id, name FROM categories ORDER BY name`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	categories := make([]types.Category, 0)
	for rows.Next() {
		var category types.Category
		if err := rows.Scan(&category.ID, &category.Name); err != nil {
			return nil, err
		}
		categories = append(categories, category)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return categories, nil
}

func (r *CategoryRepository) GetByID(ctx context.Context, id uuid.UUID) (types.Category, error) {
	const query = `SELECT id, name FROM categories WHERE id = $1`
	var category types.Category
	err := r.db.QueryRowContext(ctx, query, id).Scan(&category.ID, &category.Name)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.Category{}, ErrNotFound
		}
		return types.Category{}, err
	}
	return category, nil
}

func (r *CategoryRepository) GetByName(ctx context.Context, name string) (types.Category, error) {
	const query = `SELECT id, name FROM categories WHERE name = $1`
	var category types.Category
	err := r.db.QueryRowContext(ctx, query, name).Scan(&category.ID, &category.Name)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.Category{}, ErrNotFound
		}
		return types.Category{}, err
	}
	return category, nil
}

func (r *CategoryRepository) Create(ctx context.Context, category types.Category) (types.Category, error) {
	const query = `
		INSERT INTO categories (name)
		VALUES ($1)
		RETURNING id`
	if err := r.db.QueryRowContext(ctx, query, category.Name).Scan(&category.ID); err != nil {
		if isUniqueViolation(err) {
			return types.Category{}, ErrConflict
		}
		return types.Category{}, err
	}
	return category, nil
}

func (r *CategoryRepository) Update(ctx context.Context, category types.Category) (types.Category, error) {
	const query = `UPDATE categories SET name = $1 WHERE id = $2`
	result, err := r.db.ExecContext(ctx, query, category.Name, category.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return types.Category{}, ErrConflict
		}
		return types.Category{}, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return types.Category{}, err
	}
	if affected == 0 {
		return types.Category{}, ErrNotFound
	}
	return category, nil
}

// Delete removes a category. Posts referencing it keep their rows; the
// category_id foreign key is set NULL by the schema's referential action.
func (r *CategoryRepository) Delete(ctx context.Context, id uuid.UUID) error {
	const query = `DELETE FROM categories WHERE id = $1`
	result, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}
