package handlers

import (
	"context"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fulmenhq/gofulmen/errors"
)

// Check results reported per checker.
const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
	StatusTimeout   = "timeout"
	StatusStarting  = "starting"
)

// HealthResponse represents the aggregate health check response
type HealthResponse struct {
	Status    string            `json:"status"`
	Version   string            `json:"version"`
	Timestamp string            `json:"timestamp"`
	Checks    map[string]string `json:"checks,omitempty"`
}

// ProbeResponse represents individual probe response
type ProbeResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// HealthChecker defines interface for health checkable components
type HealthChecker interface {
	CheckHealth(ctx context.Context) error
}

type registeredCheck struct {
	checker HealthChecker

	// optional checks degrade the aggregate status instead of failing it.
	optional bool
}

// HealthManager runs registered checks for the health endpoints. The
// realtime channel is registered as optional because commands and state
// still work over HTTP while it reconnects.
type HealthManager struct {
	mu       sync.RWMutex
	checks   map[string]registeredCheck
	version  string
	started  atomic.Bool
	observer func(name string, healthy bool, elapsed time.Duration)
}

// NewHealthManager creates a new health manager
func NewHealthManager(version string) *HealthManager {
	return &HealthManager{
		checks:  make(map[string]registeredCheck),
		version: version,
	}
}

// RegisterChecker registers a check that must pass for the service to be ready.
func (hm *HealthManager) RegisterChecker(name string, checker HealthChecker) {
	hm.register(name, checker, false)
}

// RegisterOptional registers a check whose failure only degrades the service.
func (hm *HealthManager) RegisterOptional(name string, checker HealthChecker) {
	hm.register(name, checker, true)
}

func (hm *HealthManager) register(name string, checker HealthChecker, optional bool) {
	hm.mu.Lock()
	defer hm.mu.Unlock()
	hm.checks[name] = registeredCheck{checker: checker, optional: optional}
}

// SetObserver receives the outcome and duration of every check run.
func (hm *HealthManager) SetObserver(fn func(name string, healthy bool, elapsed time.Duration)) {
	hm.mu.Lock()
	defer hm.mu.Unlock()
	hm.observer = fn
}

// MarkStarted flips the startup probe once initialization is done.
func (hm *HealthManager) MarkStarted() { hm.started.Store(true) }

// runHealthChecks executes every registered check concurrently. Checks that
// outlive ctx are reported as timeouts.
func (hm *HealthManager) runHealthChecks(ctx context.Context) map[string]string {
	hm.mu.RLock()
	checks := make(map[string]registeredCheck, len(hm.checks))
	for name, c := range hm.checks {
		checks[name] = c
	}
	observer := hm.observer
	hm.mu.RUnlock()

	type outcome struct {
		name   string
		status string
	}
	results := make(chan outcome, len(checks))
	for name, c := range checks {
		go func(name string, c registeredCheck) {
			start := time.Now()
			err := c.checker.CheckHealth(ctx)
			if observer != nil {
				observer(name, err == nil, time.Since(start))
			}
			switch {
			case err == nil:
				results <- outcome{name, StatusHealthy}
			case c.optional:
				results <- outcome{name, StatusDegraded}
			default:
				results <- outcome{name, StatusUnhealthy}
			}
		}(name, c)
	}

	statuses := make(map[string]string, len(checks))
	for range checks {
		select {
		case res := <-results:
			statuses[res.name] = res.status
		case <-ctx.Done():
			for name := range checks {
				if _, ok := statuses[name]; !ok {
					statuses[name] = StatusTimeout
				}
			}
			return statuses
		}
	}
	return statuses
}

// determineOverallStatus determines overall health status
func (hm *HealthManager) determineOverallStatus(checks map[string]string) string {
	degraded := false
	for _, status := range checks {
		switch status {
		case StatusUnhealthy:
			return StatusUnhealthy
		case StatusDegraded, StatusTimeout:
			degraded = true
		}
	}
	if degraded {
		return StatusDegraded
	}
	return StatusHealthy
}

type probeSpec struct {
	name    string
	timeout time.Duration
	message string
}

var (
	aggregateProbe = probeSpec{name: "aggregate", timeout: 5 * time.Second, message: "aggregate health check failed"}
	readyProbe     = probeSpec{name: "ready", timeout: 5 * time.Second, message: "readiness probe failed"}
)

func (hm *HealthManager) evaluate(r *http.Request, spec probeSpec) (string, map[string]string) {
	checkCtx, cancel := context.WithTimeout(r.Context(), spec.timeout)
	defer cancel()
	checks := hm.runHealthChecks(checkCtx)
	return hm.determineOverallStatus(checks), checks
}

// HealthHandler handles aggregate health check requests
func (hm *HealthManager) HealthHandler(w http.ResponseWriter, r *http.Request) {
	status, checks := hm.evaluate(r, aggregateProbe)
	if status == StatusUnhealthy {
		respondProbeFailure(w, r, aggregateProbe, status, checks)
		return
	}
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:    status,
		Version:   hm.version,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Checks:    checks,
	})
}

// LivenessHandler reports that the process is serving requests. It runs no
// checks so an unreachable receiver never gets the service restarted.
func (hm *HealthManager) LivenessHandler(w http.ResponseWriter, r *http.Request) {
	writeProbe(w, StatusHealthy)
}

// ReadinessHandler handles readiness probe requests
// Readiness indicates if the application is ready to serve traffic
func (hm *HealthManager) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	status, checks := hm.evaluate(r, readyProbe)
	if status == StatusUnhealthy {
		respondProbeFailure(w, r, readyProbe, status, checks)
		return
	}
	writeProbe(w, status)
}

// StartupHandler reports whether initialization has completed.
func (hm *HealthManager) StartupHandler(w http.ResponseWriter, r *http.Request) {
	if !hm.started.Load() {
		envelope := errors.NewErrorEnvelope("SERVICE_UNAVAILABLE", "startup probe failed")
		respondWithError(w, r, enrichHealthEnvelope(envelope, "startup", StatusStarting, nil))
		return
	}
	writeProbe(w, StatusHealthy)
}

func writeProbe(w http.ResponseWriter, status string) {
	writeJSON(w, http.StatusOK, ProbeResponse{Status: status, Timestamp: time.Now().UTC()})
}

func respondProbeFailure(w http.ResponseWriter, r *http.Request, spec probeSpec, status string, checks map[string]string) {
	envelope := errors.NewErrorEnvelope("SERVICE_UNAVAILABLE", spec.message)
	probe := spec.name
	if probe == aggregateProbe.name {
		probe = ""
	}
	respondWithError(w, r, enrichHealthEnvelope(envelope, probe, status, checks))
}

func enrichHealthEnvelope(envelope *errors.ErrorEnvelope, probe, status string, checks map[string]string) *errors.ErrorEnvelope {
	if envelope == nil {
		return nil
	}

	details := map[string]interface{}{
		"status": status,
	}
	if len(checks) > 0 {
		details["checks"] = checks
	}
	if probe != "" {
		details["probe"] = probe
	}
	envelope = envelope.WithDetails(details)

	contextData := map[string]interface{}{
		"status": status,
	}
	if probe != "" {
		contextData["probe"] = probe
	}

	var failing []string
	for name, result := range checks {
		if result != StatusHealthy {
			failing = append(failing, name)
		}
	}
	if len(failing) > 0 {
		sort.Strings(failing)
		contextData["unhealthy_checks"] = failing
	}

	envelope, _ = envelope.WithContext(contextData)
	return envelope
}

var globalHealthManager *HealthManager

// InitHealthManager initializes the global health manager
func InitHealthManager(version string) {
	globalHealthManager = NewHealthManager(version)
}

// GetHealthManager returns the global health manager
func GetHealthManager() *HealthManager {
	return globalHealthManager
}

func withGlobal(probe string, serve func(*HealthManager, http.ResponseWriter, *http.Request)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if globalHealthManager != nil {
			serve(globalHealthManager, w, r)
			return
		}
		envelope := errors.NewErrorEnvelope("SERVICE_UNAVAILABLE", "health manager not initialized")
		respondWithError(w, r, enrichHealthEnvelope(envelope, probe, "unknown", nil))
	}
}

// Handlers backed by the global manager.
var (
	HealthHandler    = withGlobal("aggregate", (*HealthManager).HealthHandler)
	LivenessHandler  = withGlobal("live", (*HealthManager).LivenessHandler)
	ReadinessHandler = withGlobal("ready", (*HealthManager).ReadinessHandler)
	StartupHandler   = withGlobal("startup", (*HealthManager).StartupHandler)
)
