// Package fetcher performs adaptive paginating fetches of a single search
// term against the upstream property-records endpoint. It is the hardest
// subsystem of the engine: it must reconcile server-enforced page-size
// limits, truncated-response failures, and transient rate-limit/timeout
// errors into either a complete result set or a classified error.
package fetcher

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/integritystudio/tcad-scraper/internal/clock"
	"github.com/integritystudio/tcad-scraper/internal/model"
)

// candidatePageSizes is the adaptive page-size ladder, largest first.
var candidatePageSizes = []int{1000, 500, 100, 50}

const maxPages = 100

// maxSamePageRetries bounds how many times a single page may be
// retried on 409/504 before it is treated as stalled. spec.md §4.C says
// to retry the same page rather than advance; it does not say forever.
const maxSamePageRetries = 5

// FetchResult is the outcome of a successful Fetch.
type FetchResult struct {
	Total    int
	Records  []model.PropertyRecord
	PageSize int
}

// Fetcher performs one "search-term -> full result list" fetch.
type Fetcher struct {
	httpClient *http.Client
	baseURL    string
	clock      clock.Clock
	limiter    *rate.Limiter
	breaker    *gobreaker.CircuitBreaker[*FetchResult]
	logger     *slog.Logger
}

// Config configures a Fetcher.
type Config struct {
	BaseURL string

	// RateLimitRPS bounds outbound requests beyond the mandated 1-second
	// inter-page sleep. 0 disables the limiter.
	RateLimitRPS float64

	// BreakerFailureThreshold (consecutive failed Fetch calls before the
	// breaker opens) and BreakerOpenTimeout tune the circuit breaker;
	// zero values default to 5 failures and 30s respectively.
	BreakerFailureThreshold uint32
	BreakerOpenTimeout      time.Duration
}

// New constructs a Fetcher. httpClient should already be wrapped for
// tracing (otelhttp.NewTransport) by the caller.
func New(cfg Config, httpClient *http.Client, clk clock.Clock, logger *slog.Logger) *Fetcher {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	if clk == nil {
		clk = clock.RealClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}

	var limiter *rate.Limiter
	if cfg.RateLimitRPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), 1)
	}

	failThreshold := cfg.BreakerFailureThreshold
	if failThreshold == 0 {
		failThreshold = 5
	}
	openTimeout := cfg.BreakerOpenTimeout
	if openTimeout == 0 {
		openTimeout = 30 * time.Second
	}

	breaker := gobreaker.NewCircuitBreaker[*FetchResult](gobreaker.Settings{
		Name:    "upstream-fetch",
		Timeout: openTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failThreshold
		},
	})

	return &Fetcher{
		httpClient: httpClient,
		baseURL:    cfg.BaseURL,
		clock:      clk,
		limiter:    limiter,
		breaker:    breaker,
		logger:     logger,
	}
}

// downsizeSignal marks an error that should trigger abandoning the
// current page size and retrying the whole term from page 1 at the next
// smaller candidate.
type downsizeSignal struct {
	cause error
}

func (d downsizeSignal) Error() string { return d.cause.Error() }
func (d downsizeSignal) Unwrap() error { return d.cause }

// Fetch retrieves the full result set for term at the given year, or
// returns a classified error. See spec.md §4.C for the exact algorithm.
func (f *Fetcher) Fetch(ctx context.Context, token, term, year string) (*FetchResult, error) {
	result, err := f.breaker.Execute(func() (*FetchResult, error) {
		return f.fetchTerm(ctx, token, term, year)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, ErrCircuitOpen
		}
		return nil, err
	}
	return result, nil
}

func (f *Fetcher) fetchTerm(ctx context.Context, token, term, year string) (*FetchResult, error) {
	var lastErr error
	for _, pageSize := range candidatePageSizes {
		result, err := f.fetchAtPageSize(ctx, token, term, year, pageSize)
		if err == nil {
			return result, nil
		}

		var ds downsizeSignal
		if errors.As(err, &ds) {
			lastErr = ds.cause
			f.logger.Info("fetcher downsizing page size", "term", term, "page_size", pageSize, "cause", ds.cause)
			continue
		}

		// Non-downsize errors (TokenExpired, UpstreamError) abort
		// immediately; they are not page-size related.
		return nil, err
	}

	return nil, UnrecoverableError{Term: term, Last: lastErr}
}

func (f *Fetcher) fetchAtPageSize(ctx context.Context, token, term, year string, pageSize int) (*FetchResult, error) {
	var accumulated []model.PropertyRecord
	total := 0
	samePageRetries := 0

	for page := 1; page <= maxPages; {
		body, status, err := f.doRequest(ctx, token, term, year, page, pageSize)
		if err != nil {
			return nil, err
		}

		switch status {
		case http.StatusOK:
			// fall through to parsing below
		case http.StatusUnauthorized:
			return nil, ErrTokenExpired
		case http.StatusConflict:
			samePageRetries++
			if samePageRetries > maxSamePageRetries {
				return nil, downsizeSignal{cause: StalledPageError{Page: page, Status: status}}
			}
			if err := f.clock.Sleep(ctx, 2*time.Second); err != nil {
				return nil, err
			}
			continue // retry same page, do not advance
		case http.StatusGatewayTimeout:
			samePageRetries++
			if samePageRetries > maxSamePageRetries {
				return nil, downsizeSignal{cause: StalledPageError{Page: page, Status: status}}
			}
			if err := f.clock.Sleep(ctx, 5*time.Second); err != nil {
				return nil, err
			}
			continue // retry same page, do not advance
		default:
			return nil, UpstreamError{Status: status}
		}
		samePageRetries = 0

		if isTruncated(body) {
			return nil, downsizeSignal{cause: TruncatedError{PageSize: pageSize, Page: page}}
		}

		var parsed rawSearchResponse
		if err := json.Unmarshal(body, &parsed); err != nil {
			return nil, downsizeSignal{cause: ParseError{Err: err}}
		}

		total = parsed.TotalProperty.PropertyCount
		pageRecordCount := len(parsed.Results)

		for _, raw := range parsed.Results {
			rec, ok, err := mapRecord(raw, term)
			if err != nil {
				return nil, downsizeSignal{cause: err}
			}
			if !ok {
				continue
			}
			accumulated = append(accumulated, rec)
		}

		if len(accumulated) >= total || pageRecordCount < pageSize {
			return &FetchResult{Total: total, Records: accumulated, PageSize: pageSize}, nil
		}

		page++
		if page > maxPages {
			break
		}
		if err := f.clock.Sleep(ctx, time.Second); err != nil {
			return nil, err
		}
	}

	// Hard page cap reached: return what was accumulated as a terminal
	// success (spec.md §8 invariant 8 permits this).
	return &FetchResult{Total: total, Records: accumulated, PageSize: pageSize}, nil
}

type upstreamRequestBody struct {
	PYear struct {
		Operator string `json:"operator"`
		Value    string `json:"value"`
	} `json:"pYear"`
	FullTextSearch struct {
		Operator string `json:"operator"`
		Value    string `json:"value"`
	} `json:"fullTextSearch"`
}

func (f *Fetcher) doRequest(ctx context.Context, token, term, year string, page, pageSize int) (body []byte, status int, err error) {
	if f.limiter != nil {
		if err := f.limiter.Wait(ctx); err != nil {
			return nil, 0, err
		}
	}

	var reqBody upstreamRequestBody
	reqBody.PYear.Operator = "="
	reqBody.PYear.Value = year
	reqBody.FullTextSearch.Operator = "match"
	reqBody.FullTextSearch.Value = term

	encoded, err := json.Marshal(reqBody)
	if err != nil {
		return nil, 0, fmt.Errorf("fetcher: encode request body: %w", err)
	}

	url := fmt.Sprintf("%s?page=%d&pageSize=%d", f.baseURL, page, pageSize)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(encoded))
	if err != nil {
		return nil, 0, fmt.Errorf("fetcher: build request: %w", err)
	}
	req.Header.Set("Authorization", token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("fetcher: request failed (page=%d pageSize=%d): %w", page, pageSize, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, fmt.Errorf("fetcher: read response body: %w", err)
	}

	return respBody, resp.StatusCode, nil
}

// FormatYear is a small convenience so callers can pass an int year.
func FormatYear(year int) string { return strconv.Itoa(year) }
