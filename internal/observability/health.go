package observability

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"time"
)

const serviceName = "speech-player"

// Version is reported by the health endpoints
var Version = "1.0.0"

// HealthStatus represents the health status of the service
type HealthStatus struct {
	Status       string                      `json:"status"`
	Service      string                      `json:"service"`
	Version      string                      `json:"version"`
	Timestamp    string                      `json:"timestamp"`
	Dependencies map[string]DependencyStatus `json:"dependencies,omitempty"`
}

// DependencyStatus represents the status of a dependency
type DependencyStatus struct {
	Status    string `json:"status"`
	Message   string `json:"message,omitempty"`
	LatencyMs int64  `json:"latency_ms,omitempty"`
}

// HealthCheckFunc reports whether a dependency is usable
type HealthCheckFunc func(ctx context.Context) (bool, error)

// HealthCheckHandler handles liveness requests
func HealthCheckHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := HealthStatus{
			Status:    "healthy",
			Service:   serviceName,
			Version:   Version,
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		}
		writeJSON(w, http.StatusOK, status)
	}
}

// ReadinessHandler runs every named check and reports 503 if any fails
func ReadinessHandler(checks map[string]HealthCheckFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		dependencies, allHealthy := RunChecks(ctx, checks)

		status := HealthStatus{
			Status:       "ready",
			Service:      serviceName,
			Version:      Version,
			Timestamp:    time.Now().UTC().Format(time.RFC3339),
			Dependencies: dependencies,
		}

		code := http.StatusOK
		if !allHealthy {
			status.Status = "not_ready"
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, status)
	}
}

// RunChecks evaluates checks in name order
func RunChecks(ctx context.Context, checks map[string]HealthCheckFunc) (map[string]DependencyStatus, bool) {
	names := make([]string, 0, len(checks))
	for name := range checks {
		names = append(names, name)
	}
	sort.Strings(names)

	dependencies := make(map[string]DependencyStatus, len(checks))
	allHealthy := true
	for _, name := range names {
		start := time.Now()
		healthy, err := checks[name](ctx)
		latency := time.Since(start).Milliseconds()

		status := "healthy"
		message := ""
		if err != nil || !healthy {
			status = "unhealthy"
			allHealthy = false
			if err != nil {
				message = err.Error()
			}
		}

		dependencies[name] = DependencyStatus{
			Status:    status,
			Message:   message,
			LatencyMs: latency,
		}
	}
	return dependencies, allHealthy
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
