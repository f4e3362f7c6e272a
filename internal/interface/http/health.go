package http

import (
	"context"
	"net/http"
	"sort"
	"sync"
	"time"
)

// CheckFunc probes one dependency.
type CheckFunc func(ctx context.Context) error

// CheckResult is the outcome of one probe.
type CheckResult struct {
	Healthy  bool   `json:"healthy"`
	Message  string `json:"message,omitempty"`
	Duration string `json:"duration"`
}

// HealthStatus is the aggregated health of the service.
type HealthStatus struct {
	Healthy   bool                   `json:"healthy"`
	Checks    map[string]CheckResult `json:"checks,omitempty"`
	Uptime    string                 `json:"uptime"`
	Timestamp time.Time              `json:"timestamp"`
}

// HealthChecker runs named dependency probes (store, redis) concurrently.
type HealthChecker struct {
	mu        sync.RWMutex
	checks    map[string]CheckFunc
	timeout   time.Duration
	startTime time.Time
}

// NewHealthChecker creates a checker; each probe gets at most timeout.
func NewHealthChecker(timeout time.Duration) *HealthChecker {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HealthChecker{
		checks:    make(map[string]CheckFunc),
		timeout:   timeout,
		startTime: time.Now(),
	}
}

// AddCheck registers a named probe.
func (h *HealthChecker) AddCheck(name string, check CheckFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks[name] = check
}

// Check runs every probe and aggregates the results.
func (h *HealthChecker) Check(ctx context.Context) HealthStatus {
	h.mu.RLock()
	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	h.mu.RUnlock()
	sort.Strings(names)

	results := make([]CheckResult, len(names))
	var wg sync.WaitGroup
	for i, name := range names {
		h.mu.RLock()
		check := h.checks[name]
		h.mu.RUnlock()

		wg.Add(1)
		go func() {
			defer wg.Done()
			cctx, cancel := context.WithTimeout(ctx, h.timeout)
			defer cancel()

			start := time.Now()
			err := check(cctx)
			res := CheckResult{Healthy: err == nil, Duration: time.Since(start).String()}
			if err != nil {
				res.Message = err.Error()
			}
			results[i] = res
		}()
	}
	wg.Wait()

	status := HealthStatus{
		Healthy:   true,
		Checks:    make(map[string]CheckResult, len(names)),
		Uptime:    time.Since(h.startTime).Round(time.Second).String(),
		Timestamp: time.Now().UTC(),
	}
	for i, name := range names {
		status.Checks[name] = results[i]
		if !results[i].Healthy {
			status.Healthy = false
		}
	}
	return status
}

// handleHealth reports 200 when every probe passes and 503 otherwise.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := s.deps.Health.Check(r.Context())
	if !status.Healthy {
		writeJSON(w, r, http.StatusServiceUnavailable, status)
		return
	}
	writeJSON(w, r, http.StatusOK, status)
}
