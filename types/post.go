package types

import (
	"time"

	"github.com/google/uuid"
)

// Publication states a post can be in.
const (
	StatusDraft     = "draft"
	StatusPublished = "published"
)

// Post represents a blog post authored by a user.
type Post struct {
	// ID is the unique identifier of the post.
	ID uuid.UUID `json:"id" db:"id"`

	// Title is the human-readable headline of the post.
	Title string `json:"title" db:"title"`

	// Slug is the URL-safe unique identifier derived from the title.
	// It only changes when the title changes.
	Slug string `json:"slug" db:"slug"`

	// Content is the post body.
	Content string `json:"content" db:"content"`

	// ImageURL is the public URL of the post's cover image in object
	// storage. Empty when the post has no image.
	ImageURL string `json:"image_url,omitempty" db:"image_url"`

	// Status is either "draft" or "published".
	Status string `json:"status" db:"status"`

	// AuthorID references the owning user. Posts are removed when their
	// author is deleted.
	AuthorID uuid.UUID `json:"author_id" db:"author_id"`

	// CategoryID optionally references a category. Cleared when the
	// category is deleted.
	CategoryID *uuid.UUID `json:"category_id,omitempty" db:"category_id"`

	// Author carries the resolved author on reads. Never persisted.
	Author *User `json:"author,omitempty" db:"-"`

	// Category carries the resolved category on reads. Never persisted.
	Category *Category `json:"category,omitempty" db:"-"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}
