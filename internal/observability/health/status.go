// Package health runs dependency checks for the readiness endpoint.
package health

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/sirupsen/logrus"
)

// HealthStatus represents the health status
type HealthStatus string

const (
	StatusHealthy   HealthStatus = "healthy"
	StatusDegraded  HealthStatus = "degraded"
	StatusUnhealthy HealthStatus = "unhealthy"
)

// HealthCheck defines a health check function
type HealthCheck interface {
	Name() string
	Check(ctx context.Context) error
	Critical() bool
	Timeout() time.Duration
}

// HealthResult represents the result of a health check
type HealthResult struct {
	Name     string        `json:"name"`
	Status   HealthStatus  `json:"status"`
	Message  string        `json:"message"`
	Critical bool          `json:"critical"`
	Duration time.Duration `json:"duration"`
}

// SystemStatus represents overall system health
type SystemStatus struct {
	Status    HealthStatus   `json:"status"`
	Version   string         `json:"version"`
	Uptime    string         `json:"uptime"`
	Timestamp time.Time      `json:"timestamp"`
	Checks    []HealthResult `json:"checks"`
}

// Ready reports whether no critical check failed.
func (s *SystemStatus) Ready() bool {
	return s.Status != StatusUnhealthy
}

// HealthMonitor runs registered checks concurrently on demand.
type HealthMonitor struct {
	logger         *logrus.Logger
	clock          clock.Clock
	version        string
	start          time.Time
	defaultTimeout time.Duration

	mu     sync.RWMutex
	checks map[string]HealthCheck
}

// NewHealthMonitor creates a monitor reporting version. A nil clock uses the
// wall clock.
func NewHealthMonitor(version string, clk clock.Clock, logger *logrus.Logger) *HealthMonitor {
	if clk == nil {
		clk = clock.New()
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &HealthMonitor{
		logger:         logger,
		clock:          clk,
		version:        version,
		start:          clk.Now(),
		defaultTimeout: 5 * time.Second,
		checks:         make(map[string]HealthCheck),
	}
}

// RegisterCheck registers a new health check, replacing one with the same name.
func (hm *HealthMonitor) RegisterCheck(check HealthCheck) {
	hm.mu.Lock()
	defer hm.mu.Unlock()

	hm.checks[check.Name()] = check
	hm.logger.WithField("check", check.Name()).Debug("Registered health check")
}

// Uptime returns the time since the monitor was created.
func (hm *HealthMonitor) Uptime() time.Duration {
	return hm.clock.Since(hm.start)
}

// Check runs every check and aggregates the results. A failing critical
// check makes the system unhealthy; any other failure degrades it.
func (hm *HealthMonitor) Check(ctx context.Context) *SystemStatus {
	hm.mu.RLock()
	checks := make([]HealthCheck, 0, len(hm.checks))
	for _, c := range hm.checks {
		checks = append(checks, c)
	}
	hm.mu.RUnlock()

	results := make([]HealthResult, len(checks))
	var wg sync.WaitGroup
	for i, c := range checks {
		wg.Add(1)
		go func(i int, c HealthCheck) {
			defer wg.Done()
			results[i] = hm.executeCheck(ctx, c)
		}(i, c)
	}
	wg.Wait()

	sort.Slice(results, func(i, j int) bool { return results[i].Name < results[j].Name })

	status := StatusHealthy
	for _, r := range results {
		if r.Status != StatusUnhealthy {
			continue
		}
		if r.Critical {
			status = StatusUnhealthy
			break
		}
		status = StatusDegraded
	}

	return &SystemStatus{
		Status:    status,
		Version:   hm.version,
		Uptime:    hm.Uptime().Round(time.Second).String(),
		Timestamp: hm.clock.Now(),
		Checks:    results,
	}
}

// executeCheck executes a single health check
func (hm *HealthMonitor) executeCheck(ctx context.Context, check HealthCheck) HealthResult {
	timeout := check.Timeout()
	if timeout <= 0 {
		timeout = hm.defaultTimeout
	}
	checkCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := hm.clock.Now()
	err := check.Check(checkCtx)

	result := HealthResult{
		Name:     check.Name(),
		Status:   StatusHealthy,
		Message:  "OK",
		Critical: check.Critical(),
		Duration: hm.clock.Since(start),
	}
	if err != nil {
		result.Status = StatusUnhealthy
		result.Message = err.Error()
		hm.logger.WithFields(logrus.Fields{
			"check":    result.Name,
			"critical": result.Critical,
		}).WithError(err).Warn("Health check failed")
	}
	return result
}

// BasicHealthCheck implements a basic health check
type BasicHealthCheck struct {
	name      string
	checkFunc func(ctx context.Context) error
	critical  bool
	timeout   time.Duration
}

// NewBasicHealthCheck creates a new basic health check
func NewBasicHealthCheck(name string, checkFunc func(ctx context.Context) error, critical bool, timeout time.Duration) *BasicHealthCheck {
	return &BasicHealthCheck{
		name:      name,
		checkFunc: checkFunc,
		critical:  critical,
		timeout:   timeout,
	}
}

// Name returns the check name
func (bhc *BasicHealthCheck) Name() string {
	return bhc.name
}

// Check executes the health check. A panicking check fails.
func (bhc *BasicHealthCheck) Check(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("check panicked: %v", r)
		}
	}()
	return bhc.checkFunc(ctx)
}

// Critical returns whether this check is critical
func (bhc *BasicHealthCheck) Critical() bool {
	return bhc.critical
}

// Timeout returns the check timeout
func (bhc *BasicHealthCheck) Timeout() time.Duration {
	return bhc.timeout
}
