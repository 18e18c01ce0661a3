package handlers

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http/httptest"
	"net/textproto"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/vireo-cms/apiserver/internal/services"
	"github.com/vireo-cms/apiserver/internal/storage"
	"github.com/vireo-cms/apiserver/internal/store"
	"github.com/vireo-cms/apiserver/types"
	"golang.org/x/crypto/bcrypt"
)

const testSecret = "test-secret"

type memUserRepo struct {
	users map[uuid.UUID]types.User
}

func newMemUserRepo() *memUserRepo {
	return &memUserRepo{users: map[uuid.UUID]types.User{}}
}

func (r *memUserRepo) GetByID(_ context.Context, id uuid.UUID) (types.User, error) {
	user, ok := r.users[id]
	if !ok {
		return types.User{}, store.ErrNotFound
	}
	return user, nil
}

func (r *memUserRepo) GetByEmail(_ context.Context, email string) (types.User, error) {
	for _, user := range r.users {
		if user.Email == email {
			return user, nil
		}
	}
	return types.User{}, store.ErrNotFound
}

func (r *memUserRepo) Create(_ context.Context, user types.User) (types.User, error) {
	for _, existing := range r.users {
		if existing.Email == user.Email {
			return types.User{}, store.ErrConflict
		}
	}
	user.ID = uuid.New()
	now := time.Now()
	user.CreatedAt = now
	user.UpdatedAt = now
	r.users[user.ID] = user
	return user, nil
}

type memPostRepo struct {
	posts map[uuid.UUID]types.Post
	seq   int
}

func newMemPostRepo() *memPostRepo {
	return &memPostRepo{posts: map[uuid.UUID]types.Post{}}
}

func (r *memPostRepo) List(_ context.Context, filter store.PostFilter, offset, limit int) ([]types.Post, int, error) {
	var matched []types.Post
	for _, post := range r.posts {
		if filter.Status != "" && post.Status != filter.Status {
			continue
		}
		if filter.CategoryID != nil && (post.CategoryID == nil || *post.CategoryID != *filter.CategoryID) {
			continue
		}
		if filter.Search != "" {
			needle := strings.ToLower(filter.Search)
			if !strings.Contains(strings.ToLower(post.Title), needle) &&
				!strings.Contains(strings.ToLower(post.Content), needle) {
				continue
			}
		}
		matched = append(matched, post)
	}
	sort.Slice(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	total := len(matched)
	if offset >= total {
		return []types.Post{}, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return matched[offset:end], total, nil
}

func (r *memPostRepo) GetByID(_ context.Context, id uuid.UUID) (types.Post, error) {
	post, ok := r.posts[id]
	if !ok {
		return types.Post{}, store.ErrNotFound
	}
	return post, nil
}

func (r *memPostRepo) GetBySlug(_ context.Context, slug string) (types.Post, error) {
	for _, post := range r.posts {
		if post.Slug == slug {
			return post, nil
		}
	}
	return types.Post{}, store.ErrNotFound
}

func (r *memPostRepo) SlugExists(_ context.Context, slug string, excludeID uuid.UUID) (bool, error) {
	for _, post := range r.posts {
		if post.Slug == slug && post.ID != excludeID {
			return true, nil
		}
	}
	return false, nil
}

func (r *memPostRepo) Create(_ context.Context, post types.Post) (types.Post, error) {
	for _, existing := range r.posts {
		if existing.Slug == post.Slug {
			return types.Post{}, store.ErrConflict
		}
	}
	post.ID = uuid.New()
	// Creation timestamps are strictly increasing so ordering is stable.
	r.seq++
	post.CreatedAt = time.Unix(int64(r.seq), 0)
	post.UpdatedAt = post.CreatedAt
	r.posts[post.ID] = post
	return post, nil
}

func (r *memPostRepo) Update(_ context.Context, post types.Post) (types.Post, error) {
	if _, ok := r.posts[post.ID]; !ok {
		return types.Post{}, store.ErrNotFound
	}
	post.UpdatedAt = time.Now()
	r.posts[post.ID] = post
	return post, nil
}

func (r *memPostRepo) Delete(_ context.Context, id uuid.UUID) error {
	if _, ok := r.posts[id]; !ok {
		return store.ErrNotFound
	}
	delete(r.posts, id)
	return nil
}

type memCategoryRepo struct {
	categories map[uuid.UUID]types.Category
	posts      *memPostRepo
}

func newMemCategoryRepo(posts *memPostRepo) *memCategoryRepo {
	return &memCategoryRepo{categories: map[uuid.UUID]types.Category{}, posts: posts}
}

func (r *memCategoryRepo) List(context.Context) ([]types.Category, error) {
	categories := make([]types.Category, 0, len(r.categories))
	for _, category := range r.categories {
		categories = append(categories, category)
	}
	sort.Slice(categories, func(i, j int) bool { return categories[i].Name < categories[j].Name })
	return categories, nil
}

func (r *memCategoryRepo) GetByID(_ context.Context, id uuid.UUID) (types.Category, error) {
	category, ok := r.categories[id]
	if !ok {
		return types.Category{}, store.ErrNotFound
	}
	return category, nil
}

func (r *memCategoryRepo) GetByName(_ context.Context, name string) (types.Category, error) {
	for _, category := range r.categories {
		if category.Name == name {
			return category, nil
		}
	}
	return types.Category{}, store.ErrNotFound
}

func (r *memCategoryRepo) Create(_ context.Context, category types.Category) (types.Category, error) {
	for _, existing := range r.categories {
		if existing.Name == category.Name {
			return types.Category{}, store.ErrConflict
		}
	}
	category.ID = uuid.New()
	r.categories[category.ID] = category
	return category, nil
}

func (r *memCategoryRepo) Update(_ context.Context, category types.Category) (types.Category, error) {
	if _, ok := r.categories[category.ID]; !ok {
		return types.Category{}, store.ErrNotFound
	}
	for _, existing := range r.categories {
		if existing.Name == category.Name && existing.ID != category.ID {
			return types.Category{}, store.ErrConflict
		}
	}
	r.categories[category.ID] = category
	return category, nil
}

// Delete mirrors the schema's ON DELETE SET NULL: referencing posts keep
// their rows with the category reference cleared.
func (r *memCategoryRepo) Delete(_ context.Context, id uuid.UUID) error {
	if _, ok := r.categories[id]; !ok {
		return store.ErrNotFound
	}
	delete(r.categories, id)
	for postID, post := range r.posts.posts {
		if post.CategoryID != nil && *post.CategoryID == id {
			post.CategoryID = nil
			post.Category = nil
			r.posts.posts[postID] = post
		}
	}
	return nil
}

type memBackend struct {
	objects map[string][]byte
}

func newMemBackend() *memBackend {
	return &memBackend{objects: map[string][]byte{}}
}

func (b *memBackend) EnsureBucket(context.Context) error { return nil }

func (b *memBackend) Put(_ context.Context, key string, r io.Reader, _ int64, _ string) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	b.objects[key] = data
	return nil
}

func (b *memBackend) Delete(_ context.Context, key string) error {
	delete(b.objects, key)
	return nil
}

func (b *memBackend) PublicURL(key string) string { return "https://cdn.test/media/" + key }

func (b *memBackend) Bucket() string { return "media" }

type testEnv struct {
	router     chi.Router
	users      *memUserRepo
	categories *memCategoryRepo
	posts      *memPostRepo
	backend    *memBackend
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	users := newMemUserRepo()
	posts := newMemPostRepo()
	categories := newMemCategoryRepo(posts)
	backend := newMemBackend()

	userService := services.NewUserService(users)
	categoryService := services.NewCategoryService(categories)
	postService := services.NewPostService(posts, users, categories, storage.NewStorage(backend))

	authMiddleware := RequireAuth(testSecret)

	router := chi.NewRouter()
	router.Route("/api/v1", func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			AuthRouter(r, userService, testSecret)
		})
		r.Route("/categories", func(r chi.Router) {
			CategoryRouter(r, categoryService, authMiddleware)
		})
		r.Route("/posts", func(r chi.Router) {
			PostRouter(r, postService, authMiddleware)
		})
	})

	return &testEnv{
		router:     router,
		users:      users,
		categories: categories,
		posts:      posts,
		backend:    backend,
	}
}

// seedUser stores a user with password "password123" and returns it with a
// valid bearer token.
func (e *testEnv) seedUser(t *testing.T, role string) (types.User, string) {
	t.Helper()

	hash, err := bcrypt.GenerateFromPassword([]byte("password123"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}

	user, err := e.users.Create(context.Background(), types.User{
		FirstName:    "Test",
		LastName:     "User",
		Email:        fmt.Sprintf("%s@example.com", uuid.New()),
		Role:         role,
		PasswordHash: string(hash),
	})
	if err != nil {
		t.Fatalf("seed user: %v", err)
	}

	token, err := issueToken(user, []byte(testSecret), time.Hour)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	return user, token
}

func (e *testEnv) do(t *testing.T, method, target, token string, body io.Reader, contentType string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(method, target, body)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) doJSON(t *testing.T, method, target, token, body string) *httptest.ResponseRecorder {
	t.Helper()
	return e.do(t, method, target, token, strings.NewReader(body), "application/json")
}

// multipartBody builds a multipart form with optional image part. The image
// part carries an explicit Content-Type header, as browsers send.
func multipartBody(t *testing.T, fields map[string]string, imageName, imageType string, imageData []byte) (*bytes.Buffer, string) {
	t.Helper()

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	for key, value := range fields {
		if err := writer.WriteField(key, value); err != nil {
			t.Fatalf("write field %s: %v", key, err)
		}
	}
	if imageName != "" {
		header := make(textproto.MIMEHeader)
		header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="image"; filename="%s"`, imageName))
		header.Set("Content-Type", imageType)
		part, err := writer.CreatePart(header)
		if err != nil {
			t.Fatalf("create image part: %v", err)
		}
		if _, err := part.Write(imageData); err != nil {
			t.Fatalf("write image: %v", err)
		}
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close multipart writer: %v", err)
	}
	return &buf, writer.FormDataContentType()
}
