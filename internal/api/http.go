package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sgerhart/aegisflux/backend/avclass/internal/metrics"
	"github.com/sgerhart/aegisflux/backend/avclass/internal/model"
	"github.com/sgerhart/aegisflux/backend/avclass/internal/service"
)

const maxRequestBytes = 4 << 20

// HTTPAPI serves classification, family lookup and dataset endpoints
type HTTPAPI struct {
	service  *service.Service
	metrics  *metrics.Metrics
	natsConn *nats.Conn
	logger   *slog.Logger
	router   *chi.Mux
}

// NewHTTPAPI creates the API. natsConn may be nil when NATS is disabled, in
// which case readiness only depends on the rule files.
func NewHTTPAPI(svc *service.Service, m *metrics.Metrics, natsConn *nats.Conn, logger *slog.Logger) *HTTPAPI {
	api := &HTTPAPI{
		service:  svc,
		metrics:  m,
		natsConn: natsConn,
		logger:   logger,
		router:   chi.NewRouter(),
	}

	api.router.Use(middleware.RequestID)
	api.router.Use(middleware.Logger)
	api.router.Use(middleware.Recoverer)

	api.routes()
	return api
}

func (api *HTTPAPI) routes() {
	api.router.Handle("/metrics", promhttp.Handler())
	api.router.Get("/healthz", api.handleHealth)
	api.router.Get("/readyz", api.handleReady)

	api.router.Route("/v1", func(r chi.Router) {
		r.Post("/classify", api.handleClassify)
		r.Get("/families/{name}", api.handleFamily)
		r.Get("/dataset", api.handleDataset)
		r.Post("/dataset/reload", api.handleReload)
	})
}

// Handler returns the root handler
func (api *HTTPAPI) Handler() http.Handler { return api.router }

// handleClassify handles POST /v1/classify
func (api *HTTPAPI) handleClassify(w http.ResponseWriter, r *http.Request) {
	var req model.Request
	if err := json.NewDecoder(io.LimitReader(r.Body, maxRequestBytes)).Decode(&req); err != nil {
		api.metrics.IncRequestsInvalid()
		writeError(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.SHA256) == "" {
		api.metrics.IncRequestsInvalid()
		writeError(w, "sha256 is required", http.StatusBadRequest)
		return
	}

	report, err := api.service.Execute(r.Context(), &req)
	if err != nil {
		api.logger.Error("Classification failed", "sha256", req.SHA256, "error", err)
		status := http.StatusInternalServerError
		if errors.Is(err, service.ErrNotStarted) {
			status = http.StatusServiceUnavailable
		}
		writeError(w, err.Error(), status)
		return
	}
	if report == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	writeJSON(w, report, http.StatusOK)
}

// handleFamily handles GET /v1/families/{name}
func (api *HTTPAPI) handleFamily(w http.ResponseWriter, r *http.Request) {
	name := strings.ToLower(chi.URLParam(r, "name"))
	fileType := r.URL.Query().Get("file_type")

	useDataset := api.service.IncludeAliasDataset()
	if raw := r.URL.Query().Get("alias"); raw != "" {
		parsed, err := strconv.ParseBool(raw)
		if err != nil {
			writeError(w, "alias must be a boolean", http.StatusBadRequest)
			return
		}
		useDataset = parsed
	}

	info, err := api.service.Lookup(name, fileType, useDataset)
	if err != nil {
		writeError(w, err.Error(), http.StatusServiceUnavailable)
		return
	}

	writeJSON(w, info, http.StatusOK)
}

// handleDataset handles GET /v1/dataset
func (api *HTTPAPI) handleDataset(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, api.service.DatasetStatus(), http.StatusOK)
}

// handleReload handles POST /v1/dataset/reload
func (api *HTTPAPI) handleReload(w http.ResponseWriter, r *http.Request) {
	if err := api.service.LoadLatest(); err != nil {
		writeJSON(w, map[string]interface{}{
			"reloaded": false,
			"error":    err.Error(),
			"dataset":  api.service.DatasetStatus(),
		}, http.StatusUnprocessableEntity)
		return
	}

	writeJSON(w, map[string]interface{}{
		"reloaded": true,
		"dataset":  api.service.DatasetStatus(),
	}, http.StatusOK)
}

// handleHealth handles GET /healthz
func (api *HTTPAPI) handleHealth(w http.ResponseWriter, r *http.Request) {
	dataset := api.service.DatasetStatus()

	writeJSON(w, map[string]interface{}{
		"status":          "healthy",
		"timestamp":       time.Now().UTC(),
		"dataset_loaded":  dataset.Loaded,
		"dataset_entries": dataset.Entries,
	}, http.StatusOK)
}

// handleReady handles GET /readyz
func (api *HTTPAPI) handleReady(w http.ResponseWriter, r *http.Request) {
	natsConfigured := api.natsConn != nil
	natsConnected := natsConfigured && api.natsConn.IsConnected()
	if natsConfigured {
		api.metrics.SetNatsConnected(natsConnected)
	}

	rulesLoaded := api.service.Ready()

	ready := rulesLoaded && (!natsConfigured || natsConnected)
	status := "ready"
	statusCode := http.StatusOK
	if !ready {
		status = "not ready"
		statusCode = http.StatusServiceUnavailable
	}

	writeJSON(w, map[string]interface{}{
		"status":          status,
		"timestamp":       time.Now().UTC(),
		"nats_configured": natsConfigured,
		"nats_connected":  natsConnected,
		"rules_loaded":    rulesLoaded,
	}, statusCode)
}

func writeJSON(w http.ResponseWriter, v interface{}, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, message string, code int) {
	writeJSON(w, map[string]string{"error": message}, code)
}
