package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"strings"

	"github.com/google/uuid"
	"github.com/vireo-cms/apiserver/internal/storage"
	"github.com/vireo-cms/apiserver/internal/store"
	"github.com/vireo-cms/apiserver/types"
)

// Referential failures surfaced by post use-cases. Both wrap nothing; the
// handlers map them to 404 with a specific message.
var (
	ErrAuthorNotFound   = errors.New("author not found")
	ErrCategoryNotFound = errors.New("category not found")
)

const imageFolder = "post-images"

// PostRepository defines persistence operations for posts.
type PostRepository interface {
	List(ctx context.Context, filter store.PostFilter, offset, limit int) ([]types.Post, int, error)
	GetByID(ctx context.Context, id uuid.UUID) (types.Post, error)
	GetBySlug(ctx context.Context, slug string) (types.Post, error)
	SlugExists(ctx context.Context, slug string, excludeID uuid.UUID) (bool, error)
	Create(ctx context.Context, post types.Post) (types.Post, error)
	Update(ctx context.Context, post types.Post) (types.Post, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

// AuthorStore resolves post authors.
type AuthorStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (types.User, error)
}

// CategoryStore resolves post categories.
type CategoryStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (types.Category, error)
}

// ImageUpload is an in-memory image received from a multipart request.
type ImageUpload struct {
	Filename    string
	ContentType string
	Data        []byte
}

// CreatePostInput carries the validated fields for a new post.
type CreatePostInput struct {
	AuthorID   uuid.UUID
	Title      string
	Content    string
	Status     string
	CategoryID *uuid.UUID
	Image      *ImageUpload
}

// UpdatePostInput carries the fields of a post update. Empty Title, Content,
// and Status keep the current values. CategorySet distinguishes "clear the
// category" (true, nil CategoryID) from "leave it alone" (false).
type UpdatePostInput struct {
	Title       string
	Content     string
	Status      string
	CategorySet bool
	CategoryID  *uuid.UUID
	Image       *ImageUpload
	RemoveImage bool
}

// PostService encapsulates post use-cases: slug resolution, referential
// checks, and image storage orchestration.
type PostService struct {
	repo       PostRepository
	authors    AuthorStore
	categories CategoryStore
	storage    *storage.Storage
}

func NewPostService(repo PostRepository, authors AuthorStore, categories CategoryStore, st *storage.Storage) *PostService {
	return &PostService{
		repo:       repo,
		authors:    authors,
		categories: categories,
		storage:    st,
	}
}

func (s *PostService) List(ctx context.Context, filter store.PostFilter, offset, limit int) ([]types.Post, int, error) {
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	return s.repo.List(ctx, filter, offset, limit)
}

func (s *PostService) GetByID(ctx context.Context, id uuid.UUID) (types.Post, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *PostService) GetBySlug(ctx context.Context, slug string) (types.Post, error) {
	return s.repo.GetBySlug(ctx, slug)
}

func (s *PostService) Create(ctx context.Context, in CreatePostInput) (types.Post, error) {
	if _, err := s.authors.GetByID(ctx, in.AuthorID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return types.Post{}, ErrAuthorNotFound
		}
		return types.Post{}, err
	}

	if in.CategoryID != nil {
		if _, err := s.categories.GetByID(ctx, *in.CategoryID); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return types.Post{}, ErrCategoryNotFound
			}
			return types.Post{}, err
		}
	}

	postSlug, err := ResolveSlug(ctx, s.repo, in.Title, uuid.Nil)
	if err != nil {
		return types.Post{}, err
	}

	status := in.Status
	if status == "" {
		status = types.StatusDraft
	}

	post := types.Post{
		Title:      in.Title,
		Slug:       postSlug,
		Content:    in.Content,
		Status:     status,
		AuthorID:   in.AuthorID,
		CategoryID: in.CategoryID,
	}

	if in.Image != nil {
		url, err := s.uploadImage(ctx, postSlug, in.Image)
		if err != nil {
			return types.Post{}, err
		}
		post.ImageURL = url
	}

	created, err := s.repo.Create(ctx, post)
	if err != nil {
		return types.Post{}, err
	}
	return s.repo.GetByID(ctx, created.ID)
}

// Update applies in to post. The caller is expected to have fetched post and
// enforced the ownership guard already.
func (s *PostService) Update(ctx context.Context, post types.Post, in UpdatePostInput) (types.Post, error) {
	if in.Title != "" && in.Title != post.Title {
		newSlug, err := ResolveSlug(ctx, s.repo, in.Title, post.ID)
		if err != nil {
			return types.Post{}, err
		}
		post.Title = in.Title
		post.Slug = newSlug
	}
	if in.Content != "" {
		post.Content = in.Content
	}
	if in.Status != "" {
		post.Status = in.Status
	}

	if in.CategorySet {
		if in.CategoryID == nil {
			post.CategoryID = nil
		} else {
			if _, err := s.categories.GetByID(ctx, *in.CategoryID); err != nil {
				if errors.Is(err, store.ErrNotFound) {
					return types.Post{}, ErrCategoryNotFound
				}
				return types.Post{}, err
			}
			post.CategoryID = in.CategoryID
		}
	}

	if in.Image != nil {
		if post.ImageURL != "" {
			if err := s.deleteImage(ctx, post.ImageURL); err != nil {
				return types.Post{}, err
			}
		}
		url, err := s.uploadImage(ctx, post.Slug, in.Image)
		if err != nil {
			return types.Post{}, err
		}
		post.ImageURL = url
	} else if in.RemoveImage && post.ImageURL != "" {
		if err := s.deleteImage(ctx, post.ImageURL); err != nil {
			return types.Post{}, err
		}
		post.ImageURL = ""
	}

	if _, err := s.repo.Update(ctx, post); err != nil {
		return types.Post{}, err
	}
	return s.repo.GetByID(ctx, post.ID)
}

// Delete removes the post record. The associated image is deleted best-effort:
// a storage failure is logged and does not block the row deletion.
func (s *PostService) Delete(ctx context.Context, post types.Post) error {
	if post.ImageURL != "" {
		if err := s.deleteImage(ctx, post.ImageURL); err != nil {
			slog.Warn("failed to delete post image", "post_id", post.ID, "image_url", post.ImageURL, "error", err)
		}
	}
	return s.repo.Delete(ctx, post.ID)
}

func (s *PostService) uploadImage(ctx context.Context, postSlug string, img *ImageUpload) (string, error) {
	ext := strings.ToLower(path.Ext(img.Filename))
	key := fmt.Sprintf("%s/%s-%s%s", imageFolder, postSlug, uuid.New(), ext)

	reader := bytes.NewReader(img.Data)
	if err := s.storage.Put(ctx, key, reader, int64(len(img.Data)), img.ContentType); err != nil {
		return "", err
	}
	return s.storage.PublicURL(key), nil
}

func (s *PostService) deleteImage(ctx context.Context, imageURL string) error {
	key := s.storage.KeyFromURL(imageURL)
	if key == "" {
		slog.Warn("image url does not belong to configured storage", "image_url", imageURL)
		return nil
	}
	return s.storage.Delete(ctx, key)
}
