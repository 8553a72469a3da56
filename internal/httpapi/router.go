// Package httpapi is the thin REST landing strip over internal/control
// (spec.md §4.J / SPEC_FULL.md's [EXPANSION] note): no property CRUD,
// no LLM query parsing, no auth — just enqueue/inspect/monitor/health.
package httpapi

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	mw "github.com/integritystudio/tcad-scraper/internal/httpapi/middleware"
)

// DefaultMaxBodyBytes caps request bodies at 1MB.
const DefaultMaxBodyBytes = 1 << 20

// Config holds configuration for the router.
type Config struct {
	MaxBodyBytes int64
}

// NewRouter builds the chi router over handler's use-case methods.
// Applies DefaultMaxBodyBytes for a zero/negative config value.
func NewRouter(h *Handler, logger *slog.Logger, cfg Config) *chi.Mux {
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = DefaultMaxBodyBytes
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(mw.MaxBodyBytes(cfg.MaxBodyBytes))

	r.Get("/healthz", h.Health)

	r.Route("/v1", func(r chi.Router) {
		r.Post("/scrapes", h.EnqueueScrape)
		r.Get("/scrapes/{id}", h.GetScrape)
		r.Post("/monitors", h.AddMonitor)
		r.Get("/monitors", h.ListMonitors)
		r.Get("/stats", h.Stats)
	})

	return r
}
