// Package server exposes health, metrics and run control over HTTP.
package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/care/oviss/internal/core"
	"github.com/care/oviss/internal/logger"
	"github.com/care/oviss/internal/metrics"
)

// Backend is the service surface the HTTP routes drive
type Backend interface {
	LivenessHandler(w http.ResponseWriter, r *http.Request)
	ReadinessHandler(w http.ResponseWriter, r *http.Request)
	LastRun() *core.RunReport
	CurrentRun() *core.RunReport
	TriggerRun() error
	CancelRun() bool
}

// Handler exposes run endpoints
type Handler struct {
	backend Backend
	log     *slog.Logger
}

// NewRouter mounts every route. m may be nil to disable /metrics and request
// counting (e.g. in tests).
func NewRouter(b Backend, m *metrics.Metrics, updateGauges func(), log *slog.Logger) http.Handler {
	h := &Handler{backend: b, log: log}

	r := chi.NewRouter()
	r.Use(logger.RequestLogger(log))
	if m != nil {
		r.Use(metrics.RequestMiddleware(m))
		r.Method(http.MethodGet, "/metrics", m.Handler(updateGauges))
	}

	r.Get("/health", b.LivenessHandler)
	r.Get("/readiness", b.ReadinessHandler)

	r.Route("/runs", func(r chi.Router) {
		r.Post("/", h.TriggerRun)
		r.Get("/last", h.LastRun)
		r.Get("/current", h.CurrentRun)
		r.Delete("/current", h.CancelRun)
	})
	return r
}

// New returns an http.Server for addr with the router's timeouts
func New(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

// TriggerRun handles POST /runs. 202 when a run was started, 409 when one is
// already active.
func (h *Handler) TriggerRun(w http.ResponseWriter, r *http.Request) {
	if err := h.backend.TriggerRun(); err != nil {
		if errors.Is(err, core.ErrRunInProgress) {
			writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
			return
		}
		h.log.Error("trigger run failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	h.log.Info("capture run triggered over http")
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

// LastRun handles GET /runs/last
func (h *Handler) LastRun(w http.ResponseWriter, r *http.Request) {
	report := h.backend.LastRun()
	if report == nil {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// CurrentRun handles GET /runs/current
func (h *Handler) CurrentRun(w http.ResponseWriter, r *http.Request) {
	report := h.backend.CurrentRun()
	if report == nil {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// CancelRun handles DELETE /runs/current
func (h *Handler) CancelRun(w http.ResponseWriter, r *http.Request) {
	if !h.backend.CancelRun() {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "cancelling"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
