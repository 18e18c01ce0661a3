package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/vireo-cms/apiserver/internal/services"
	"github.com/vireo-cms/apiserver/internal/store"
	"github.com/vireo-cms/apiserver/types"
)

// CategoryHandler provides HTTP handlers for categories.
type CategoryHandler struct {
	categoryService *services.CategoryService
}

// NewCategoryHandler constructs a handler with the provided service.
func NewCategoryHandler(categoryService *services.CategoryService) *CategoryHandler {
	return &CategoryHandler{categoryService: categoryService}
}

// CategoryRouter registers category routes on the given router. Reads are
// public; writes require an authenticated admin.
func CategoryRouter(r chi.Router, categoryService *services.CategoryService, authMiddleware func(http.Handler) http.Handler) {
	handler := NewCategoryHandler(categoryService)

	r.Get("/", handler.ListCategories)
	r.With(authMiddleware, requireAdmin).Post("/", handler.CreateCategory)
	r.Route("/{categoryID}", func(r chi.Router) {
		r.Get("/", handler.GetCategory)
		r.With(authMiddleware, requireAdmin).Put("/", handler.UpdateCategory)
		r.With(authMiddleware, requireAdmin).Delete("/", handler.DeleteCategory)
	})
}

func (h *CategoryHandler) ListCategories(w http.ResponseWriter, r *http.Request) {
	categories, err := h.categoryService.List(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list categories")
		return
	}
	writeJSON(w, http.StatusOK, categories)
}

func (h *CategoryHandler) GetCategory(w http.ResponseWriter, r *http.Request) {
	id, err := parseCategoryID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	category, err := h.categoryService.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "category not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to fetch category")
		return
	}

	writeJSON(w, http.StatusOK, category)
}

func (h *CategoryHandler) CreateCategory(w http.ResponseWriter, r *http.Request) {
	name, ok := decodeCategoryName(w, r)
	if !ok {
		return
	}

	// Fast-path duplicate check; the unique index is the authoritative guard.
	if _, err := h.categoryService.GetByName(r.Context(), name); err == nil {
		writeError(w, http.StatusConflict, "category name already exists")
		return
	} else if !errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusInternalServerError, "failed to check category")
		return
	}

	category, err := h.categoryService.Create(r.Context(), types.Category{Name: name})
	if err != nil {
		if errors.Is(err, store.ErrConflict) {
			writeError(w, http.StatusConflict, "category name already exists")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to create category")
		return
	}

	writeJSON(w, http.StatusCreated, category)
}

func (h *CategoryHandler) UpdateCategory(w http.ResponseWriter, r *http.Request) {
	id, err := parseCategoryID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	name, ok := decodeCategoryName(w, r)
	if !ok {
		return
	}

	if _, err := h.categoryService.GetByID(r.Context(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "category not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to fetch category")
		return
	}

	// A rename to the category's own current name is allowed.
	if existing, err := h.categoryService.GetByName(r.Context(), name); err == nil && existing.ID != id {
		writeError(w, http.StatusConflict, "category name already exists")
		return
	} else if err != nil && !errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusInternalServerError, "failed to check category")
		return
	}

	category, err := h.categoryService.Update(r.Context(), types.Category{ID: id, Name: name})
	if err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound):
			writeError(w, http.StatusNotFound, "category not found")
		case errors.Is(err, store.ErrConflict):
			writeError(w, http.StatusConflict, "category name already exists")
		default:
			writeError(w, http.StatusInternalServerError, "failed to update category")
		}
		return
	}

	writeJSON(w, http.StatusOK, category)
}

func (h *CategoryHandler) DeleteCategory(w http.ResponseWriter, r *http.Request) {
	id, err := parseCategoryID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.categoryService.Delete(r.Context(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "category not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to delete category")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

type categoryRequest struct {
	Name string `json:"name"`
}

func decodeCategoryName(w http.ResponseWriter, r *http.Request) (string, bool) {
	var req categoryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return "", false
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		writeError(w, http.StatusBadRequest, "category name is required")
		return "", false
	}
	return name, true
}

func parseCategoryID(r *http.Request) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, "categoryID"))
	if err != nil {
		return uuid.Nil, errors.New("invalid category id")
	}
	return id, nil
}
