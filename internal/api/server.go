// Package api exposes the HTTP surface of the harvester: the dispatch
// endpoint the queue's push subscriptions deliver task messages to, plus
// health and metrics endpoints.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/opendevdata/harvester/internal/harvest"
	"github.com/opendevdata/harvester/internal/metrics"
	"github.com/opendevdata/harvester/internal/queue"
	"github.com/opendevdata/harvester/internal/workflows"
)

// Headers set by the queue's push delivery.
const (
	headerDeliveryID      = "delivery-id"
	headerDeliveryAttempt = "delivery-attempt-count"
)

// Server routes HTTP requests to workflow execution.
type Server struct {
	router   chi.Router
	registry *workflows.Registry
	deps     workflows.Deps
	logger   *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(registry *workflows.Registry, deps workflows.Deps, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{registry: registry, deps: deps, logger: logger}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(metricsMiddleware)

	r.Get("/healthz", s.healthz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())
	r.Route("/v1", func(r chi.Router) {
		r.Post("/tasks/dispatch", s.dispatchTask)
	})

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// dispatchTask decodes one queue delivery and runs the registered workflow
// for it. A 500 response triggers queue redelivery; a 400 means the message
// itself is unusable and redelivering it would not help.
func (s *Server) dispatchTask(w http.ResponseWriter, r *http.Request) {
	deliveryID := r.Header.Get(headerDeliveryID)
	if deliveryID == "" {
		writeError(w, http.StatusBadRequest, "missing delivery-id header")
		return
	}
	attempt, err := strconv.Atoi(r.Header.Get(headerDeliveryAttempt))
	if err != nil || attempt < 1 {
		writeError(w, http.StatusBadRequest, "delivery-attempt-count header must be an integer >= 1")
		return
	}

	var msg queue.TaskMessage
	if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if msg.ID <= 0 || msg.JobID <= 0 || msg.Source == "" || msg.WorkflowType == "" {
		writeError(w, http.StatusBadRequest, "id, job_id, source, and workflow_type are required")
		return
	}

	wf, err := s.registry.Get(msg.Source, msg.WorkflowType, s.deps)
	if err != nil {
		var cerr *harvest.ConfigurationError
		if errors.As(err, &cerr) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	delivery := workflows.Delivery{
		MessageID: deliveryID,
		Attempt:   attempt,
		JobID:     msg.JobID,
		TaskID:    msg.ID,
		Source:    msg.Source,
		URL:       msg.URL,
	}

	start := time.Now()
	execErr := wf.Execute(r.Context(), delivery)
	outcome := "success"
	if execErr != nil {
		outcome = "failure"
	}
	metrics.ObserveTask(msg.Source, msg.WorkflowType, outcome, time.Since(start))

	if execErr != nil {
		writeError(w, http.StatusInternalServerError, execErr.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
