package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/integritystudio/tcad-scraper/internal/control"
	"github.com/integritystudio/tcad-scraper/internal/model"
)

// Handler adapts internal/control.Surface to HTTP.
type Handler struct {
	surface *control.Surface
	logger  *slog.Logger
}

// NewHandler builds a Handler over surface.
func NewHandler(surface *control.Surface, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{surface: surface, logger: logger}
}

type errorResponse struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	resp := errorResponse{}
	resp.Error.Code = code
	resp.Error.Message = message
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// Health handles GET /healthz.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	health, err := h.surface.Health(r.Context())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "httpapi: health check failed", "error", err)
		writeError(w, http.StatusServiceUnavailable, "UNAVAILABLE", "health check failed")
		return
	}
	writeJSON(w, http.StatusOK, health)
}

type enqueueScrapeRequest struct {
	SearchTerm string `json:"search_term"`
}

type enqueueScrapeResponse struct {
	JobID string `json:"job_id"`
}

// EnqueueScrape handles POST /v1/scrapes.
func (h *Handler) EnqueueScrape(w http.ResponseWriter, r *http.Request) {
	var req enqueueScrapeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid JSON body")
		return
	}
	if req.SearchTerm == "" {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "search_term is required")
		return
	}

	jobID, err := h.surface.EnqueueScrape(r.Context(), req.SearchTerm)
	if err != nil {
		if errors.Is(err, control.ErrRateLimited) {
			writeError(w, http.StatusTooManyRequests, "RATE_LIMITED", err.Error())
			return
		}
		h.logger.ErrorContext(r.Context(), "httpapi: enqueue scrape failed", "error", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL", "failed to enqueue scrape")
		return
	}
	writeJSON(w, http.StatusAccepted, enqueueScrapeResponse{JobID: jobID})
}

// GetScrape handles GET /v1/scrapes/{id}.
func (h *Handler) GetScrape(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	view, err := h.surface.GetJob(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "scrape job not found")
		return
	}
	writeJSON(w, http.StatusOK, view)
}

type addMonitorRequest struct {
	SearchTerm string `json:"search_term"`
	Frequency  string `json:"frequency"`
}

// AddMonitor handles POST /v1/monitors.
func (h *Handler) AddMonitor(w http.ResponseWriter, r *http.Request) {
	var req addMonitorRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid JSON body")
		return
	}
	if req.SearchTerm == "" {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "search_term is required")
		return
	}

	frequency := model.Frequency(req.Frequency)
	switch frequency {
	case model.FrequencyHourly, model.FrequencyDaily, model.FrequencyWeekly, model.FrequencyMonthly:
	default:
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "frequency must be one of hourly, daily, weekly, monthly")
		return
	}

	if err := h.surface.AddMonitor(r.Context(), req.SearchTerm, frequency); err != nil {
		h.logger.ErrorContext(r.Context(), "httpapi: add monitor failed", "error", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL", "failed to add monitor")
		return
	}
	w.WriteHeader(http.StatusCreated)
}

// ListMonitors handles GET /v1/monitors.
func (h *Handler) ListMonitors(w http.ResponseWriter, r *http.Request) {
	monitors, err := h.surface.ListMonitors(r.Context())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "httpapi: list monitors failed", "error", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL", "failed to list monitors")
		return
	}
	writeJSON(w, http.StatusOK, monitors)
}

// Stats handles GET /v1/stats.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.surface.Stats(r.Context()))
}
