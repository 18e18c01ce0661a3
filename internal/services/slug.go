package services

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/gosimple/slug"
)

// SlugChecker reports whether a slug is already taken by a post other than
// excludeID. Pass uuid.Nil when creating, so every post counts.
type SlugChecker interface {
	SlugExists(ctx context.Context, slug string, excludeID uuid.UUID) (bool, error)
}

// ResolveSlug derives a URL-safe slug from a title and resolves collisions by
// appending -1, -2, ... until an unused candidate is found. The read-then-write
// window is accepted; the unique index on posts.slug is the backstop.
func ResolveSlug(ctx context.Context, checker SlugChecker, title string, selfID uuid.UUID) (string, error) {
	base := slug.Make(title)
	if base == "" {
		base = "post"
	}

	candidate := base
	for i := 1; ; i++ {
		exists, err := checker.SlugExists(ctx, candidate, selfID)
		if err != nil {
			return "", err
		}
		if !exists {
			return candidate, nil
		}
		candidate = fmt.Sprintf("%s-%d", base, i)
	}
}
