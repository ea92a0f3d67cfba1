package observability

import (
	"context"
	"encoding/json"
	"net/http"
	"runtime"
	"sync"
	"time"
)

// HealthStatus represents the health status of the process.
type HealthStatus string

// Health states.
const (
	HealthStatusHealthy   HealthStatus = "healthy"
	HealthStatusDegraded  HealthStatus = "degraded"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
)

// HealthCheck is a single named probe. Critical checks pull the overall
// status to unhealthy on failure; non-critical ones only degrade it.
type HealthCheck struct {
	Name      string
	CheckFunc func(context.Context) error
	Timeout   time.Duration
	Critical  bool
}

// HealthChecker runs registered checks on demand.
type HealthChecker struct {
	mu        sync.RWMutex
	checks    map[string]*HealthCheck
	startedAt time.Time
	version   string
}

// CheckStatus is one check's outcome in a health response.
type CheckStatus struct {
	Status   HealthStatus `json:"status"`
	Message  string       `json:"message,omitempty"`
	Duration string       `json:"duration,omitempty"`
}

// HealthResponse is the /health payload.
type HealthResponse struct {
	Status    HealthStatus           `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Version   string                 `json:"version"`
	Uptime    string                 `json:"uptime"`
	Checks    map[string]CheckStatus `json:"checks"`
	System    SystemInfo             `json:"system"`
}

// SystemInfo carries basic runtime numbers.
type SystemInfo struct {
	NumGoroutines int `json:"num_goroutines"`
	NumCPU        int `json:"num_cpu"`
}

// NewHealthChecker creates a checker stamping version on responses.
func NewHealthChecker(version string) *HealthChecker {
	return &HealthChecker{
		checks:    make(map[string]*HealthCheck),
		startedAt: time.Now(),
		version:   version,
	}
}

// RegisterCheck adds a named check. A zero timeout defaults to 5 seconds.
func (h *HealthChecker) RegisterCheck(check *HealthCheck) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if check.Timeout <= 0 {
		check.Timeout = 5 * time.Second
	}
	h.checks[check.Name] = check
}

// Run executes all checks and aggregates the overall status.
func (h *HealthChecker) Run(ctx context.Context) *HealthResponse {
	h.mu.RLock()
	checks := make([]*HealthCheck, 0, len(h.checks))
	for _, c := range h.checks {
		checks = append(checks, c)
	}
	h.mu.RUnlock()

	resp := &HealthResponse{
		Status:    HealthStatusHealthy,
		Timestamp: time.Now().UTC(),
		Version:   h.version,
		Uptime:    time.Since(h.startedAt).Round(time.Second).String(),
		Checks:    make(map[string]CheckStatus, len(checks)),
		System: SystemInfo{
			NumGoroutines: runtime.NumGoroutine(),
			NumCPU:        runtime.NumCPU(),
		},
	}

	for _, check := range checks {
		start := time.Now()
		checkCtx, cancel := context.WithTimeout(ctx, check.Timeout)
		err := check.CheckFunc(checkCtx)
		cancel()

		status := CheckStatus{
			Status:   HealthStatusHealthy,
			Duration: time.Since(start).Round(time.Millisecond).String(),
		}
		if err != nil {
			status.Message = err.Error()
			if check.Critical {
				status.Status = HealthStatusUnhealthy
				resp.Status = HealthStatusUnhealthy
			} else {
				status.Status = HealthStatusDegraded
				if resp.Status == HealthStatusHealthy {
					resp.Status = HealthStatusDegraded
				}
			}
		}
		resp.Checks[check.Name] = status
	}
	return resp
}

// Handler serves the full health report.
func (h *HealthChecker) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := h.Run(r.Context())

		code := http.StatusOK
		if resp.Status == HealthStatusUnhealthy {
			code = http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(resp)
	}
}

// LivenessHandler always reports alive; it answers "is the process up".
func LivenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "alive"})
	}
}

// ReadinessHandler reports ready once critical checks pass.
func (h *HealthChecker) ReadinessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := h.Run(r.Context())
		code := http.StatusOK
		if resp.Status == HealthStatusUnhealthy {
			code = http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(map[string]any{"status": resp.Status})
	}
}
