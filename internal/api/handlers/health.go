package handlers

import (
	"net/http"
	"runtime"
	"time"

	"github.com/inferloop/dashengine/internal/api/responses"
	"github.com/inferloop/dashengine/internal/observability/health"
)

// HealthHandler serves liveness, readiness and build information.
type HealthHandler struct {
	monitor   *health.HealthMonitor
	version   string
	gitCommit string
}

// NewHealthHandler creates a health handler reporting the checks of monitor.
func NewHealthHandler(monitor *health.HealthMonitor, version, gitCommit string) *HealthHandler {
	return &HealthHandler{
		monitor:   monitor,
		version:   version,
		gitCommit: gitCommit,
	}
}

// GetHealth runs every check. Degraded still answers 200.
func (h *HealthHandler) GetHealth(w http.ResponseWriter, r *http.Request) {
	status := h.monitor.Check(r.Context())
	code := http.StatusOK
	if !status.Ready() {
		code = http.StatusServiceUnavailable
	}
	responses.JSON(w, code, status)
}

// GetLiveness answers as long as the process serves requests.
func (h *HealthHandler) GetLiveness(w http.ResponseWriter, r *http.Request) {
	responses.OK(w, map[string]interface{}{
		"status":    "alive",
		"timestamp": time.Now().UTC(),
		"uptime":    h.monitor.Uptime().Round(time.Second).String(),
	})
}

// GetReadiness answers 503 while a critical dependency is down.
func (h *HealthHandler) GetReadiness(w http.ResponseWriter, r *http.Request) {
	status := h.monitor.Check(r.Context())

	state, code := "ready", http.StatusOK
	if !status.Ready() {
		state, code = "not_ready", http.StatusServiceUnavailable
	}
	responses.JSON(w, code, map[string]interface{}{
		"status":    state,
		"timestamp": status.Timestamp,
		"checks":    status.Checks,
	})
}

// GetVersion reports build and runtime information.
func (h *HealthHandler) GetVersion(w http.ResponseWriter, r *http.Request) {
	responses.OK(w, map[string]interface{}{
		"version":    h.version,
		"git_commit": h.gitCommit,
		"build_info": map[string]interface{}{
			"go_version": runtime.Version(),
			"go_os":      runtime.GOOS,
			"go_arch":    runtime.GOARCH,
			"num_cpu":    runtime.NumCPU(),
		},
		"runtime": map[string]interface{}{
			"uptime":     h.monitor.Uptime().Round(time.Second).String(),
			"goroutines": runtime.NumGoroutine(),
		},
	})
}
