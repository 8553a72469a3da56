package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/integritystudio/tcad-scraper/internal/analytics"
	"github.com/integritystudio/tcad-scraper/internal/control"
	"github.com/integritystudio/tcad-scraper/internal/persistence/postgres"
	"github.com/integritystudio/tcad-scraper/internal/queue"
	"github.com/integritystudio/tcad-scraper/internal/token"
)

func setupTestRouter(t *testing.T) http.Handler {
	t.Helper()

	dsn := os.Getenv("SCRAPER_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("SCRAPER_TEST_POSTGRES_DSN not set; skipping httpapi integration test")
	}

	ctx := context.Background()
	gw, err := postgres.NewGateway(ctx, postgres.DBConfig{DSN: dsn})
	require.NoError(t, err)
	t.Cleanup(func() {
		_, _ = gw.Pool().Exec(ctx, `TRUNCATE TABLE
			scrape_queue_jobs, scrape_jobs, monitored_searches CASCADE`)
		gw.Close()
	})

	broker := queue.New(gw.Pool())
	recorder := analytics.New(gw)
	tokens := token.New("http://unused.invalid", &http.Client{}, slog.New(slog.NewTextHandler(os.Stderr, nil)))
	surface := control.New(gw, broker, recorder, tokens, control.Config{})

	h := NewHandler(surface, slog.New(slog.NewTextHandler(os.Stderr, nil)))
	return NewRouter(h, slog.New(slog.NewTextHandler(os.Stderr, nil)), Config{})
}

func TestHealthz_ReturnsOK(t *testing.T) {
	router := setupTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestEnqueueScrape_ReturnsAcceptedWithJobID(t *testing.T) {
	router := setupTestRouter(t)

	body, _ := json.Marshal(enqueueScrapeRequest{SearchTerm: "Smith"})
	req := httptest.NewRequest(http.MethodPost, "/v1/scrapes", bytes.NewReader(body))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusAccepted, w.Code)

	var resp enqueueScrapeResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.JobID)
}

func TestEnqueueScrape_MissingSearchTermReturnsBadRequest(t *testing.T) {
	router := setupTestRouter(t)

	body, _ := json.Marshal(enqueueScrapeRequest{})
	req := httptest.NewRequest(http.MethodPost, "/v1/scrapes", bytes.NewReader(body))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestEnqueueScrape_WithinCooldownReturnsTooManyRequests(t *testing.T) {
	router := setupTestRouter(t)

	body, _ := json.Marshal(enqueueScrapeRequest{SearchTerm: "Jones"})

	req1 := httptest.NewRequest(http.MethodPost, "/v1/scrapes", bytes.NewReader(body))
	w1 := httptest.NewRecorder()
	router.ServeHTTP(w1, req1)
	require.Equal(t, http.StatusAccepted, w1.Code)

	req2 := httptest.NewRequest(http.MethodPost, "/v1/scrapes", bytes.NewReader(body))
	w2 := httptest.NewRecorder()
	router.ServeHTTP(w2, req2)
	assert.Equal(t, http.StatusTooManyRequests, w2.Code)
}

func TestAddMonitor_InvalidFrequencyReturnsBadRequest(t *testing.T) {
	router := setupTestRouter(t)

	body, _ := json.Marshal(addMonitorRequest{SearchTerm: "Garcia", Frequency: "fortnightly"})
	req := httptest.NewRequest(http.MethodPost, "/v1/monitors", bytes.NewReader(body))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAddMonitorThenListMonitors(t *testing.T) {
	router := setupTestRouter(t)

	body, _ := json.Marshal(addMonitorRequest{SearchTerm: "Garcia", Frequency: "weekly"})
	req := httptest.NewRequest(http.MethodPost, "/v1/monitors", bytes.NewReader(body))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusCreated, w.Code)

	req2 := httptest.NewRequest(http.MethodGet, "/v1/monitors", nil)
	w2 := httptest.NewRecorder()
	router.ServeHTTP(w2, req2)
	require.Equal(t, http.StatusOK, w2.Code)
	assert.Contains(t, w2.Body.String(), "Garcia")
}

func TestGetScrape_UnknownIDReturnsNotFound(t *testing.T) {
	router := setupTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/v1/scrapes/does-not-exist", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestStats_ReturnsEmptyArrayInitially(t *testing.T) {
	router := setupTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/v1/stats", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "[]\n", w.Body.String())
}
