package http

import (
	"net/http"

	"github.com/DRSN-tech/image-gallery/internal/cfg"
	"github.com/DRSN-tech/image-gallery/internal/metrics"
	"github.com/DRSN-tech/image-gallery/internal/usecase"
	"github.com/DRSN-tech/image-gallery/pkg/logger"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Router struct {
	router *chi.Mux
	logger logger.Logger
}

func NewRouter(router *chi.Mux, logger logger.Logger) *Router {
	return &Router{router: router, logger: logger}
}

// Deps зависимости обработчиков. StaticRoot пуст, если файлы хранятся не локально.
type Deps struct {
	Search       usecase.SearchUC
	Admin        usecase.AdminUC
	Upload       usecase.UploadUC
	Maintenance  usecase.MaintenanceUC
	AdminCfg     *cfg.AdminCfg
	MaxImageSize int64
	StaticRoot   string
}

func (r *Router) Init(deps *Deps) {
	r.router.Use(middleware.RealIP)
	r.router.Use(middleware.Recoverer)
	r.router.Use(metrics.Middleware())

	r.router.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		WriteSuccess(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.router.Handle("/metrics", promhttp.Handler())

	if deps.StaticRoot != "" {
		r.router.Handle("/static/*", http.StripPrefix("/static", staticFiles(deps.StaticRoot)))
	}

	r.router.Route("/api/v1", func(v1 chi.Router) {
		searchHandler := NewSearchHandler(deps.Search, deps.MaxImageSize, r.logger)
		registerSearchRoutes(v1, searchHandler)

		adminHandler := NewAdminHandler(deps.Admin, deps.Upload, deps.Maintenance, deps.MaxImageSize, r.logger)
		registerAdminRoutes(v1, adminHandler, adminAuth(deps.AdminCfg, r.logger))
	})
}

func registerSearchRoutes(router chi.Router, h *SearchHandler) {
	router.Route("/search", func(s chi.Router) {
		s.Get("/text/{prompt}", h.textSearch)
		s.Post("/image", h.imageSearch)
		s.Get("/similar/{id}", h.similarSearch)
		s.Post("/advanced", h.advancedSearch)
		s.Post("/combined", h.combinedSearch)
		s.Get("/random", h.randomPick)
	})
}

func registerAdminRoutes(router chi.Router, h *AdminHandler, auth func(http.Handler) http.Handler) {
	router.Route("/admin", func(a chi.Router) {
		a.Use(auth)
		a.Delete("/delete/{id}", h.deleteImage)
		a.Post("/delete_batch", h.deleteImages)
		a.Put("/update_opt/{id}", h.updateOpt)
		a.Get("/server_info", h.serverInfo)
		a.Post("/upload", h.upload)
		a.Post("/index_directory", h.indexDirectory)
		a.Post("/maintenance/thumbnails", h.backfillThumbnails)
		a.Post("/maintenance/ocr_vectors", h.backfillTextVectors)
	})
}
