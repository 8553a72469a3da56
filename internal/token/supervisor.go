// Package token holds the process-wide bearer token used by the upstream
// fetcher and keeps it fresh ahead of the upstream's ~5-minute expiry.
package token

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"
)

// Snapshot is an immutable view of the current token. Readers always see
// either nil (never refreshed successfully) or a fully-constructed
// snapshot, never partially-written state.
type Snapshot struct {
	Value        string
	LastRefresh  time.Time
	RefreshCount int
	FailureCount int
}

// Health summarizes supervisor state for the control surface.
type Health struct {
	HasToken     bool
	LastRefresh  time.Time
	RefreshCount int
	FailureCount int
	FailureRate  float64
	IsRefreshing bool
	IsRunning    bool
}

// Supervisor holds the process-wide bearer and refreshes it on interval.
// The current snapshot is published via atomic.Pointer: one writer (the
// refresh goroutine or a caller of Refresh), many readers.
type Supervisor struct {
	endpointURL string
	httpClient  *http.Client

	snapshot atomic.Pointer[Snapshot]
	group    singleflight.Group

	mu          sync.Mutex
	stopCh      chan struct{}
	wg          sync.WaitGroup
	running     bool
	refreshing  atomic.Bool
	refreshCnt  atomic.Int64
	failureCnt  atomic.Int64
	lastRefresh atomic.Pointer[time.Time]

	logger *slog.Logger
}

// New constructs a Supervisor that refreshes against endpointURL.
func New(endpointURL string, httpClient *http.Client, logger *slog.Logger) *Supervisor {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Supervisor{
		endpointURL: endpointURL,
		httpClient:  httpClient,
		logger:      logger,
	}
}

// Current returns the latest known token, or "", false if never refreshed
// successfully.
func (s *Supervisor) Current() (string, bool) {
	snap := s.snapshot.Load()
	if snap == nil || snap.Value == "" {
		return "", false
	}
	return snap.Value, true
}

type refreshResponse struct {
	Token     string `json:"token"`
	ExpiresIn int    `json:"expiresIn"`
}

// Refresh performs one forced refresh cycle. Concurrent callers coalesce
// via singleflight: only one HTTP GET is in flight at a time, and later
// callers observe its outcome instead of issuing their own request.
func (s *Supervisor) Refresh(ctx context.Context) error {
	s.refreshing.Store(true)
	defer s.refreshing.Store(false)

	_, err, _ := s.group.Do("refresh", func() (any, error) {
		return nil, s.doRefresh(ctx)
	})
	return err
}

func (s *Supervisor) doRefresh(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.endpointURL, nil)
	if err != nil {
		s.recordFailure()
		return fmt.Errorf("token: build refresh request: %w", err)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		s.recordFailure()
		return fmt.Errorf("token: refresh request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		s.recordFailure()
		return fmt.Errorf("token: refresh endpoint returned %d", resp.StatusCode)
	}

	var body refreshResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		s.recordFailure()
		return fmt.Errorf("token: decode refresh response: %w", err)
	}

	if body.Token == "" {
		s.recordFailure()
		return fmt.Errorf("token: refresh response had empty token")
	}

	now := time.Now()
	s.refreshCnt.Add(1)
	s.lastRefresh.Store(&now)
	s.snapshot.Store(&Snapshot{
		Value:        body.Token,
		LastRefresh:  now,
		RefreshCount: int(s.refreshCnt.Load()),
		FailureCount: int(s.failureCnt.Load()),
	})
	return nil
}

func (s *Supervisor) recordFailure() {
	s.failureCnt.Add(1)
	s.logger.Warn("token refresh failed", "failure_count", s.failureCnt.Load())
}

// StartAutoRefresh launches a background loop invoking Refresh every
// interval. Idempotent: a second call stops the previous loop first.
func (s *Supervisor) StartAutoRefresh(ctx context.Context, interval time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		s.stopLocked()
	}

	stop := make(chan struct{})
	s.stopCh = stop
	s.running = true

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := s.Refresh(ctx); err != nil {
					s.logger.Warn("scheduled token refresh failed", "error", err)
				}
			case <-stop:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop halts the background loop. Safe to call at any time, including
// before Start.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked()
}

func (s *Supervisor) stopLocked() {
	if !s.running {
		return
	}
	close(s.stopCh)
	s.wg.Wait()
	s.running = false
}

// HealthSnapshot returns the current health summary.
func (s *Supervisor) HealthSnapshot() Health {
	s.mu.Lock()
	running := s.running
	s.mu.Unlock()

	refreshCount := int(s.refreshCnt.Load())
	failureCount := int(s.failureCnt.Load())
	total := refreshCount + failureCount

	var failureRate float64
	if total > 0 {
		failureRate = float64(failureCount) / float64(total)
	}

	var lastRefresh time.Time
	if lr := s.lastRefresh.Load(); lr != nil {
		lastRefresh = *lr
	}

	_, hasToken := s.Current()

	return Health{
		HasToken:     hasToken,
		LastRefresh:  lastRefresh,
		RefreshCount: refreshCount,
		FailureCount: failureCount,
		FailureRate:  failureRate,
		IsRefreshing: s.refreshing.Load(),
		IsRunning:    running,
	}
}
