package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/vireo-cms/apiserver/types"
)

// PostFilter narrows a post listing. Zero values mean "no filter".
type PostFilter struct {
	CategoryID *uuid.UUID
	Status     string
	Search     string
}

// PostRepository handles persistence for posts.
type PostRepository struct {
	db *sql.DB
}

func NewPostRepository(db *sql.DB) *PostRepository {
	return &PostRepository{db: db}
}

const postSelectColumns = `
	p.id, p.title, p.slug, p.content, p.image_url, p.status,
	p.author_id, p.category_id, p.created_at, p.updated_at,
	u.first_name, u.last_name, u.email, u.role,
	c.name`

const postSelectFrom = `
	FROM posts p
	JOIN users u ON u.id = p.author_id
	LEFT JOIN categories c ON c.id = p.category_id`

func (r *PostRepository) List(ctx context.Context, filter PostFilter, offset, limit int) ([]types.Post, int, error) {
	if offset < 0 {
		offset = 0
	}
	if limit < 1 {
		limit = 20
	}

	where, args := buildPostWhere(filter)

	countQuery := `SELECT COUNT(1) FROM posts p` + where
	var total int
	if err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	listQuery := fmt.Sprintf(
		`SELECT %s %s%s ORDER BY p.created_at DESC OFFSET $%d LIMIT $%d`,
		postSelectColumns, postSelectFrom, where, len(args)+1, len(args)+2,
	)
	args = append(args, offset, limit)

	rows, err := r.db.QueryContext(ctx, listQuery, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	posts := make([]types.Post, 0, limit)
	for rows.Next() {
		post, err := scanPost(rows)
		if err != nil {
			return nil, 0, err
		}
		posts = append(posts, post)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	return posts, total, nil
}

func (r *PostRepository) GetByID(ctx context.Context, id uuid.UUID) (types.Post, error) {
	query := `SELECT ` + postSelectColumns + postSelectFrom + ` WHERE p.id = $1`
	post, err := scanPost(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.Post{}, ErrNotFound
		}
		return types.Post{}, err
	}
	return post, nil
}

func (r *PostRepository) GetBySlug(ctx context.Context, slug string) (types.Post, error) {
	query := `SELECT ` + postSelectColumns + postSelectFrom + ` WHERE p.slug = $1`
	post, err := scanPost(r.db.QueryRowContext(ctx, query, slug))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.Post{}, ErrNotFound
		}
		return types.Post{}, err
	}
	return post, nil
}

// SlugExists reports whether any post other than excludeID already owns the
// slug. Pass uuid.Nil to consider every post.
func (r *PostRepository) SlugExists(ctx context.Context, slug string, excludeID uuid.UUID) (bool, error) {
	const query = `SELECT EXISTS (SELECT 1 FROM posts WHERE slug = $1 AND id <> $2)`
	var exists bool
	if err := r.db.QueryRowContext(ctx, query, slug, excludeID).Scan(&exists); err != nil {
		return false, err
	}
	return exists, nil
}

func (r *PostRepository) Create(ctx context.Context, post types.Post) (types.Post, error) {
	now := time.Now()
	post.CreatedAt = now
	post.UpdatedAt = now

	const query = `
		INSERT INTO posts (title, slug, content, image_url, status, author_id, category_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id`
	if err := r.db.QueryRowContext(
		ctx,
		query,
		post.Title,
		post.Slug,
		post.Content,
		nullString(post.ImageURL),
		post.Status,
		post.AuthorID,
		nullUUID(post.CategoryID),
		post.CreatedAt,
		post.UpdatedAt,
	).Scan(&post.ID); err != nil {
		if isUniqueViolation(err) {
			return types.Post{}, ErrConflict
		}
		return types.Post{}, err
	}
	return post, nil
}

func (r *PostRepository) Update(ctx context.Context, post types.Post) (types.Post, error) {
	post.UpdatedAt = time.Now()

	const query = `
		UPDATE posts
		SET title = $1,
			slug = $2,
			content = $3,
			image_url = $4,
			status = $5,
			category_id = $6,
			updated_at = $7
		WHERE id = $8`
	result, err := r.db.ExecContext(
		ctx,
		query,
		post.Title,
		post.Slug,
		post.Content,
		nullString(post.ImageURL),
		post.Status,
		nullUUID(post.CategoryID),
		post.UpdatedAt,
		post.ID,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return types.Post{}, ErrConflict
		}
		return types.Post{}, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return types.Post{}, err
	}
	if affected == 0 {
		return types.Post{}, ErrNotFound
	}
	return post, nil
}

func (r *PostRepository) Delete(ctx context.Context, id uuid.UUID) error {
	const query = `DELETE FROM posts WHERE id = $1`
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

func buildPostWhere(filter PostFilter) (string, []any) {
	var clauses []string
	var args []any

	if filter.CategoryID != nil {
		args = append(args, *filter.CategoryID)
		clauses = append(clauses, fmt.Sprintf("p.category_id = $%d", len(args)))
	}
	if filter.Status != "" {
		args = append(args, filter.Status)
		clauses = append(clauses, fmt.Sprintf("p.status = $%d", len(args)))
	}
	if filter.Search != "" {
		args = append(args, "%"+filter.Search+"%")
		n := len(args)
		clauses = append(clauses, fmt.Sprintf("(p.title ILIKE $%d OR p.content ILIKE $%d)", n, n))
	}

	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPost(row rowScanner) (types.Post, error) {
	var post types.Post
	var imageURL sql.NullString
	var categoryID uuid.NullUUID
	var author types.User
	var categoryName sql.NullString

	if err := row.Scan(
		&post.ID,
		&post.Title,
		&post.Slug,
		&post.Content,
		&imageURL,
		&post.Status,
		&post.AuthorID,
		&categoryID,
		&post.CreatedAt,
		&post.UpdatedAt,
		&author.FirstName,
		&author.LastName,
		&author.Email,
		&author.Role,
		&categoryName,
	); err != nil {
		return types.Post{}, err
	}

	post.ImageURL = imageURL.String
	author.ID = post.AuthorID
	post.Author = &author
	if categoryID.Valid {
		id := categoryID.UUID
		post.CategoryID = &id
		post.Category = &types.Category{ID: id, Name: categoryName.String}
	}
	return post, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullUUID(id *uuid.UUID) uuid.NullUUID {
	if id == nil {
		return uuid.NullUUID{}
	}
	return uuid.NullUUID{UUID: *id, Valid: true}
}
