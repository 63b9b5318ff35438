package core

import (
	"encoding/json"
	"net/http"
	"time"
)

// HealthStatus represents the health state of the service
type HealthStatus struct {
	Status        string     `json:"status"` // "healthy", "degraded", "unhealthy"
	UptimeSeconds int64      `json:"uptime_seconds"`
	RunActive     bool       `json:"run_active"`
	SchedulePause bool       `json:"schedule_paused"`
	NextRun       *time.Time `json:"next_run,omitempty"`
	MQTTEnabled   bool       `json:"mqtt_enabled"`
	MQTTConnected bool       `json:"mqtt_connected"`
	LastRun       *RunReport `json:"last_run,omitempty"`
}

// HealthCheck returns the current health status of the service. A failed
// or cancelled last run, or a configured but disconnected broker, degrades
// the service; it is unhealthy only when not running.
func (s *Service) HealthCheck() HealthStatus {
	s.mu.RLock()
	running := s.isRunning
	started := s.started
	s.mu.RUnlock()

	status := HealthStatus{
		Status:        "healthy",
		RunActive:     s.orchestrator.Running(),
		SchedulePause: s.scheduler.Paused(),
		MQTTEnabled:   s.emitter != nil,
		LastRun:       s.orchestrator.LastRun(),
	}
	if running {
		status.UptimeSeconds = int64(time.Since(started).Seconds())
	}
	if next := s.scheduler.Next(); !next.IsZero() {
		status.NextRun = &next
	}
	if s.emitter != nil {
		status.MQTTConnected = s.emitter.Stats().Connected
	}

	switch {
	case !running:
		status.Status = "unhealthy"
	case status.MQTTEnabled && !status.MQTTConnected:
		status.Status = "degraded"
	case status.LastRun != nil && !status.LastRun.Succeeded():
		status.Status = "degraded"
	}
	return status
}

// LivenessHandler handles /health endpoint (simple liveness check)
func (s *Service) LivenessHandler(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	started := s.started
	s.mu.RUnlock()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status": "alive",
		"uptime": int64(time.Since(started).Seconds()),
	})
}

// ReadinessHandler handles /readiness endpoint (detailed readiness check).
// Degraded is still ready.
func (s *Service) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	health := s.HealthCheck()

	statusCode := http.StatusOK
	if health.Status == "unhealthy" {
		statusCode = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(health)
}
