// Package admin serves the status, health, and metrics HTTP endpoints
package admin

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	json "github.com/goccy/go-json"
	"github.com/maxpert/tailpub/tailer"
	"github.com/rs/zerolog/log"
)

// StatusProvider exposes the running pipeline
type StatusProvider interface {
	Statuses() []tailer.Status
	Pending() int64
}

// StatusResponse is the body of GET /status
type StatusResponse struct {
	ClientID string          `json:"client_id"`
	Broker   string          `json:"broker"`
	Pending  int64           `json:"pending"`
	Files    []tailer.Status `json:"files"`
	Time     time.Time       `json:"time"`
}

type handlers struct {
	provider StatusProvider
	clientID string
	broker   string
}

// RoutesConfig configures NewRouter
type RoutesConfig struct {
	Provider StatusProvider
	ClientID string
	Broker   string
	Token    string       // Optional, see AuthMiddleware
	Metrics  http.Handler // Optional Prometheus handler
}

// NewRouter builds the admin routes:
//
//	GET /healthz          liveness, never authenticated
//	GET /status           every tailed file
//	GET /status/file      one file, selected by ?path=
//	GET /metrics          Prometheus exposition (when enabled)
//	GET /debug/pprof/*    profiling
func NewRouter(config RoutesConfig) http.Handler {
	h := &handlers{provider: config.Provider, clientID: config.ClientID, broker: config.Broker}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)

	r.Get("/healthz", h.handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(config.Token))

		r.Get("/status", h.handleStatus)
		r.Get("/status/file", h.handleFileStatus)

		if config.Metrics != nil {
			r.Method(http.MethodGet, "/metrics", config.Metrics)
			log.Info().Msg("Metrics endpoint enabled at /metrics")
		}

		r.Mount("/debug", middleware.Profiler())
	})

	return r
}

func (h *handlers) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"files":  len(h.provider.Statuses()),
	})
}

func (h *handlers) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, StatusResponse{
		ClientID: h.clientID,
		Broker:   h.broker,
		Pending:  h.provider.Pending(),
		Files:    h.provider.Statuses(),
		Time:     time.Now(),
	})
}

func (h *handlers) handleFileStatus(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("path")
	if path == "" {
		writeErrorResponse(w, http.StatusBadRequest, "path is required")
		return
	}

	for _, st := range h.provider.Statuses() {
		if st.Path == path {
			writeJSON(w, http.StatusOK, st)
			return
		}
	}
	writeErrorResponse(w, http.StatusNotFound, "file is not tailed: "+path)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

// writeErrorResponse writes an error JSON response
func writeErrorResponse(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
