package handlers

import (
	"errors"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/vireo-cms/apiserver/internal/services"
	"github.com/vireo-cms/apiserver/internal/store"
	"github.com/vireo-cms/apiserver/types"
)

const (
	maxMultipartMemory = 32 << 20
	maxImageBytes      = 5 << 20

	formFieldTitle       = "title"
	formFieldContent     = "content"
	formFieldStatus      = "status"
	formFieldCategoryID  = "category_id"
	formFieldRemoveImage = "remove_image"
	formFieldImage       = "image"
)

// PostHandler provides HTTP handlers for posts.
type PostHandler struct {
	postService *services.PostService
}

// NewPostHandler constructs a handler with the provided service.
func NewPostHandler(postService *services.PostService) *PostHandler {
	return &PostHandler{postService: postService}
}

// PostRouter registers post routes on the given router. The /{postRef}
// segment is a slug for reads and a post id for writes.
func PostRouter(r chi.Router, postService *services.PostService, authMiddleware func(http.Handler) http.Handler) {
	handler := NewPostHandler(postService)

	r.Get("/", handler.ListPosts)
	r.With(authMiddleware).Post("/", handler.CreatePost)
	r.Route("/{postRef}", func(r chi.Router) {
		r.Get("/", handler.GetPostBySlug)
		r.With(authMiddleware).Put("/", handler.UpdatePost)
		r.With(authMiddleware).Delete("/", handler.DeletePost)
	})
}

// PostListResponse is the paginated list response payload.
type PostListResponse struct {
	Items      []types.Post `json:"items"`
	Page       int          `json:"page"`
	Limit      int          `json:"limit"`
	Total      int          `json:"total"`
	TotalPages int          `json:"total_pages"`
}

func (h *PostHandler) ListPosts(w http.ResponseWriter, r *http.Request) {
	page, limit, offset, err := parsePagination(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	filter, err := parsePostFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	items, total, err := h.postService.List(r.Context(), filter, offset, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list posts")
		return
	}

	totalPages := (total + limit - 1) / limit

	resp := PostListResponse{
		Items:      items,
		Page:       page,
		Limit:      limit,
		Total:      total,
		TotalPages: totalPages,
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *PostHandler) GetPostBySlug(w http.ResponseWriter, r *http.Request) {
	slug := chi.URLParam(r, "postRef")

	post, err := h.postService.GetBySlug(r.Context(), slug)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "post not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to fetch post")
		return
	}

	writeJSON(w, http.StatusOK, post)
}

func (h *PostHandler) CreatePost(w http.ResponseWriter, r *http.Request) {
	claims, err := claimsFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	form, err := parsePostForm(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if form.Title == "" {
		writeError(w, http.StatusBadRequest, "title is required")
		return
	}
	if form.Content == "" {
		writeError(w, http.StatusBadRequest, "content is required")
		return
	}

	post, err := h.postService.Create(r.Context(), services.CreatePostInput{
		AuthorID:   claims.UserID,
		Title:      form.Title,
		Content:    form.Content,
		Status:     form.Status,
		CategoryID: form.CategoryID,
		Image:      form.Image,
	})
	if err != nil {
		writePostServiceError(w, err, "failed to create post")
		return
	}

	writeJSON(w, http.StatusCreated, post)
}

func (h *PostHandler) UpdatePost(w http.ResponseWriter, r *http.Request) {
	_, post, ok := h.loadOwnedPost(w, r)
	if !ok {
		return
	}

	form, err := parsePostForm(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	updated, err := h.postService.Update(r.Context(), post, services.UpdatePostInput{
		Title:       form.Title,
		Content:     form.Content,
		Status:      form.Status,
		CategorySet: form.CategorySet,
		CategoryID:  form.CategoryID,
		Image:       form.Image,
		RemoveImage: form.RemoveImage,
	})
	if err != nil {
		writePostServiceError(w, err, "failed to update post")
		return
	}

	writeJSON(w, http.StatusOK, updated)
}

func (h *PostHandler) DeletePost(w http.ResponseWriter, r *http.Request) {
	_, post, ok := h.loadOwnedPost(w, r)
	if !ok {
		return
	}

	if err := h.postService.Delete(r.Context(), post); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "post not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to delete post")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// loadOwnedPost resolves the claims and the addressed post and enforces the
// ownership guard: the caller must be the post's author or an admin.
func (h *PostHandler) loadOwnedPost(w http.ResponseWriter, r *http.Request) (*Claims, types.Post, bool) {
	claims, err := claimsFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return nil, types.Post{}, false
	}

	id, err := uuid.Parse(chi.URLParam(r, "postRef"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid post id")
		return nil, types.Post{}, false
	}

	post, err := h.postService.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "post not found")
			return nil, types.Post{}, false
		}
		writeError(w, http.StatusInternalServerError, "failed to fetch post")
		return nil, types.Post{}, false
	}

	if post.AuthorID != claims.UserID && !strings.EqualFold(claims.Role, types.RoleAdmin) {
		writeError(w, http.StatusForbidden, "you do not have permission to modify this post")
		return nil, types.Post{}, false
	}

	return claims, post, true
}

func writePostServiceError(w http.ResponseWriter, err error, fallback string) {
	switch {
	case errors.Is(err, services.ErrAuthorNotFound):
		writeError(w, http.StatusNotFound, "author not found")
	case errors.Is(err, services.ErrCategoryNotFound):
		writeError(w, http.StatusNotFound, "category not found")
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "post not found")
	case errors.Is(err, store.ErrConflict):
		writeError(w, http.StatusConflict, "post slug already exists")
	default:
		writeError(w, http.StatusInternalServerError, fallback)
	}
}

// PostForm is the parsed multipart payload of a create or update request.
type PostForm struct {
	Title       string
	Content     string
	Status      string
	CategorySet bool
	CategoryID  *uuid.UUID
	RemoveImage bool
	Image       *services.ImageUpload
}

func parsePostForm(r *http.Request) (PostForm, error) {
	if err := r.ParseMultipartForm(maxMultipartMemory); err != nil {
		return PostForm{}, errors.New("invalid multipart form")
	}

	form := PostForm{
		Title:   strings.TrimSpace(r.FormValue(formFieldTitle)),
		Content: strings.TrimSpace(r.FormValue(formFieldContent)),
	}

	if status := strings.TrimSpace(r.FormValue(formFieldStatus)); status != "" {
		status = strings.ToLower(status)
		if status != types.StatusDraft && status != types.StatusPublished {
			return PostForm{}, errors.New("invalid status")
		}
		form.Status = status
	}

	// An absent category_id keeps the current association; "" or "null"
	// clears it.
	if values, ok := r.MultipartForm.Value[formFieldCategoryID]; ok && len(values) > 0 {
		form.CategorySet = true
		raw := strings.TrimSpace(values[0])
		if raw != "" && raw != "null" {
			id, err := uuid.Parse(raw)
			if err != nil {
				return PostForm{}, errors.New("invalid category id")
			}
			form.CategoryID = &id
		}
	}

	if remove := strings.TrimSpace(r.FormValue(formFieldRemoveImage)); remove != "" {
		form.RemoveImage = strings.EqualFold(remove, "true")
	}

	image, err := parseImageFile(r.MultipartForm)
	if err != nil {
		return PostForm{}, err
	}
	form.Image = image

	return form, nil
}

func parseImageFile(form *multipart.Form) (*services.ImageUpload, error) {
	if form == nil {
		return nil, nil
	}

	files := form.File[formFieldImage]
	if len(files) == 0 {
		return nil, nil
	}
	if len(files) > 1 {
		return nil, errors.New("only one image file is allowed")
	}

	fileHeader := files[0]
	file, err := fileHeader.Open()
	if err != nil {
		return nil, errors.New("failed to read image file")
	}

	data, err := readFileLimited(file, maxImageBytes)
	_ = file.Close()
	if err != nil {
		return nil, err
	}

	contentType := fileHeader.Header.Get("Content-Type")
	if !strings.HasPrefix(contentType, "image/") {
		contentType = http.DetectContentType(data)
	}
	if !strings.HasPrefix(contentType, "image/") {
		return nil, errors.New("only image files are allowed")
	}

	return &services.ImageUpload{
		Filename:    fileHeader.Filename,
		ContentType: contentType,
		Data:        data,
	}, nil
}

func parsePostFilter(r *http.Request) (store.PostFilter, error) {
	var filter store.PostFilter

	if raw := strings.TrimSpace(r.URL.Query().Get("category_id")); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return store.PostFilter{}, errors.New("invalid category id")
		}
		filter.CategoryID = &id
	}

	if status := strings.TrimSpace(r.URL.Query().Get("status")); status != "" {
		status = strings.ToLower(status)
		if status != types.StatusDraft && status != types.StatusPublished {
			return store.PostFilter{}, errors.New("invalid status")
		}
		filter.Status = status
	}

	filter.Search = strings.TrimSpace(r.URL.Query().Get("search"))

	return filter, nil
}
