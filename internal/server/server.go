package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/vireo-cms/apiserver/config"
	"github.com/vireo-cms/apiserver/internal/db"
	"github.com/vireo-cms/apiserver/internal/handlers"
	"github.com/vireo-cms/apiserver/internal/services"
	"github.com/vireo-cms/apiserver/internal/storage"
	"github.com/vireo-cms/apiserver/internal/store"
)

// Server wraps the HTTP server and router.
type Server struct {
	httpServer *http.Server
	router     *chi.Mux
	db         *sql.DB
}

// New constructs a Server with its dependencies wired: database pool, object
// storage backend, repositories, services, and routes.
func New(ctx context.Context, cfg config.Config) (*Server, error) {
	dbConn, err := db.Open(ctx, cfg)
	if err != nil {
		return nil, err
	}

	objectStorage, err := newObjectStorage(ctx, cfg)
	if err != nil {
		_ = dbConn.Close()
		return nil, err
	}
	st := storage.NewStorage(objectStorage)
	if err := st.EnsureBucket(ctx); err != nil {
		_ = dbConn.Close()
		return nil, fmt.Errorf("ensure bucket: %w", err)
	}

	userRepo := store.NewUserRepository(dbConn)
	categoryRepo := store.NewCategoryRepository(dbConn)
	postRepo := store.NewPostRepository(dbConn)

	userService := services.NewUserService(userRepo)
	categoryService := services.NewCategoryService(categoryRepo)
	postService := services.NewPostService(postRepo, userRepo, categoryRepo, st)

	jwtSecret := strings.TrimSpace(os.Getenv("JWT_SECRET"))
	if jwtSecret == "" {
		_ = dbConn.Close()
		return nil, errors.New("JWT_SECRET is required")
	}

	authMiddleware := handlers.RequireAuth(jwtSecret)

	router := chi.NewRouter()
	router.Use(
		middleware.RequestID,
		middleware.RealIP,
		middleware.Recoverer,
		middleware.Logger,
		middleware.Timeout(60*time.Second),
	)
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
	}))

	router.Get("/healthz", handlers.Healthz)
	router.Route("/api/v1", func(r chi.Router) {
		r.Use(httprate.LimitByIP(cfg.RateLimit.Requests, cfg.RateLimit.Window))

		r.Route("/auth", func(r chi.Router) {
			handlers.AuthRouter(r, userService, jwtSecret)
		})
		r.Route("/categories", func(r chi.Router) {
			handlers.CategoryRouter(r, categoryService, authMiddleware)
		})
		r.Route("/posts", func(r chi.Router) {
			handlers.PostRouter(r, postService, authMiddleware)
		})
	})

	port := cfg.ServerPort
	if port == 0 {
		port = 8080
	}

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		httpServer: httpServer,
		router:     router,
		db:         dbConn,
	}, nil
}

func newObjectStorage(ctx context.Context, cfg config.Config) (storage.ObjectStorage, error) {
	switch strings.ToLower(cfg.Storage.Backend) {
	case "gcs":
		return storage.NewGCSClient(ctx, cfg.GCS)
	case "", "minio":
		return storage.NewMinioClient(cfg.Minio)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}
}

// Router exposes the chi router for route registration.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Start runs the HTTP server.
func (s *Server) Start() error {
	return s.httpServer.ListenAndServe()
}

// Shutdown attempts a graceful shutdown.
func (s *Server) Shutdown() error {
	if s.db != nil {
		_ = s.db.Close()
	}
	return s.httpServer.Close()
}
