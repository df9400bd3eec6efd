package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"
	"github.com/gorilla/mux"
	gws "github.com/gorilla/websocket"

	"marscast/internal/dataset"
	"marscast/internal/filter"
	"marscast/internal/services"
	"marscast/internal/websocket"
	"marscast/pkg/logging"
	"marscast/pkg/metrics"
)

const (
	defaultPageLimit = 100
	maxPageLimit     = 1000
	maxHistogramBins = 200
	maxBodyBytes     = 16 * 1024
)

// DashboardHandler exposes dashboard sessions over HTTP and websocket
type DashboardHandler struct {
	explorer *services.ExplorerService
	sessions *services.SessionService
	hub      *websocket.Hub
	upgrader gws.Upgrader
	validate *validator.Validate
	logger   *logging.StructuredLogger
	metrics  *metrics.Collector
}

// NewDashboardHandler creates a new dashboard handler. hub may be nil, in
// which case the websocket endpoint is not registered.
func NewDashboardHandler(
	explorer *services.ExplorerService,
	sessions *services.SessionService,
	hub *websocket.Hub,
	allowedOrigins []string,
	logger *logging.StructuredLogger,
	metricsCollector *metrics.Collector,
) *DashboardHandler {
	return &DashboardHandler{
		explorer: explorer,
		sessions: sessions,
		hub:      hub,
		upgrader: gws.Upgrader{
			ReadBufferSize:   1024,
			WriteBufferSize:  1024,
			HandshakeTimeout: 10 * time.Second,
			CheckOrigin:      originChecker(allowedOrigins),
		},
		validate: validator.New(validator.WithRequiredStructEnabled()),
		logger:   logger,
		metrics:  metricsCollector,
	}
}

// ErrorResponse represents an API error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}

// PaginatedResponse represents a paginated API response
type PaginatedResponse struct {
	Data       interface{} `json:"data"`
	Total      int         `json:"total"`
	Page       int         `json:"page"`
	Limit      int         `json:"limit"`
	TotalPages int         `json:"total_pages"`
}

// FilterRequest is the body of PUT /api/sessions/{id}/filters/{criterion}
type FilterRequest struct {
	Value string `json:"value" validate:"max=64"`
	Start string `json:"start" validate:"omitempty,datetime=2006-01-02"`
	End   string `json:"end" validate:"omitempty,datetime=2006-01-02"`
}

// DatasetResponse describes the loaded table and the filter domains
type DatasetResponse struct {
	dataset.LoadSummary
	Seasons filter.SeasonTable  `json:"seasons"`
	Recency filter.RecencyTable `json:"recency"`
	Columns []dataset.Column    `json:"columns"`
}

// HealthCheck handles GET /health
func (h *DashboardHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	status := map[string]interface{}{
		"status":          "healthy",
		"timestamp":       time.Now().UTC().Format(time.RFC3339),
		"rows":            h.explorer.Store().Len(),
		"active_sessions": h.sessions.Count(),
	}

	h.logger.Debug(ctx, "[HEALTH_CHECK] Health check requested", logging.Fields{})
	h.sendJSON(w, status, http.StatusOK)
}

// GetDataset handles GET /api/dataset
func (h *DashboardHandler) GetDataset(w http.ResponseWriter, r *http.Request) {
	cfg := h.explorer.Filters().Config()
	h.sendJSON(w, DatasetResponse{
		LoadSummary: h.explorer.Store().Summary(),
		Seasons:     cfg.Seasons,
		Recency:     cfg.Recency,
		Columns:     dataset.Columns,
	}, http.StatusOK)
}

// CreateSession handles POST /api/sessions
func (h *DashboardHandler) CreateSession(w http.ResponseWriter, r *http.Request) {
	d, err := h.sessions.Create(r.Context())
	if err != nil {
		h.handleError(w, r, "/api/sessions", err)
		return
	}
	w.Header().Set("Location", "/api/sessions/"+d.ID())
	h.sendJSON(w, d.Snapshot(), http.StatusCreated)
}

// GetSession handles GET /api/sessions/{id}
func (h *DashboardHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	d, ok := h.dashboard(w, r)
	if !ok {
		return
	}
	h.sendJSON(w, d.Snapshot(), http.StatusOK)
}

// DeleteSession handles DELETE /api/sessions/{id}
func (h *DashboardHandler) DeleteSession(w http.ResponseWriter, r *http.Request) {
	if err := h.sessions.Delete(r.Context(), mux.Vars(r)["id"]); err != nil {
		h.handleError(w, r, "/api/sessions/{id}", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SetFilter handles PUT /api/sessions/{id}/filters/{criterion}
func (h *DashboardHandler) SetFilter(w http.ResponseWriter, r *http.Request) {
	const endpoint = "/api/sessions/{id}/filters/{criterion}"

	d, ok := h.dashboard(w, r)
	if !ok {
		return
	}

	criterion, err := filter.ParseCriterion(mux.Vars(r)["criterion"])
	if err != nil {
		h.handleError(w, r, endpoint, err)
		return
	}

	var req FilterRequest
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		h.metrics.RecordAPIError("invalid_body", endpoint)
		h.sendError(w, r, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		h.metrics.RecordAPIError("validation_error", endpoint)
		h.metrics.RecordInvalidInput(string(criterion))
		h.sendError(w, r, err.Error(), http.StatusBadRequest)
		return
	}

	snap, err := d.Set(r.Context(), criterion, services.FilterValue{
		Value: req.Value,
		Start: req.Start,
		End:   req.End,
	})
	if err != nil {
		h.handleError(w, r, endpoint, err)
		return
	}
	h.sendJSON(w, snap, http.StatusOK)
}

// ResetSession handles POST /api/sessions/{id}/reset
func (h *DashboardHandler) ResetSession(w http.ResponseWriter, r *http.Request) {
	d, ok := h.dashboard(w, r)
	if !ok {
		return
	}
	h.sendJSON(w, d.Reset(r.Context()), http.StatusOK)
}

// GetRows handles GET /api/sessions/{id}/rows
func (h *DashboardHandler) GetRows(w http.ResponseWriter, r *http.Request) {
	d, ok := h.dashboard(w, r)
	if !ok {
		return
	}

	page, limit := parsePagination(r)
	rows := d.Rows()
	total := len(rows)

	start := (page - 1) * limit
	if start > total {
		start = total
	}
	end := start + limit
	if end > total {
		end = total
	}

	h.sendJSON(w, PaginatedResponse{
		Data:       rows[start:end],
		Total:      total,
		Page:       page,
		Limit:      limit,
		TotalPages: (total + limit - 1) / limit,
	}, http.StatusOK)
}

// GetChoices handles GET /api/sessions/{id}/choices
func (h *DashboardHandler) GetChoices(w http.ResponseWriter, r *http.Request) {
	d, ok := h.dashboard(w, r)
	if !ok {
		return
	}
	h.sendJSON(w, d.Choices(), http.StatusOK)
}

// GetAggregates handles GET /api/sessions/{id}/aggregates
func (h *DashboardHandler) GetAggregates(w http.ResponseWriter, r *http.Request) {
	d, ok := h.dashboard(w, r)
	if !ok {
		return
	}
	h.sendJSON(w, d.Aggregate().Summary, http.StatusOK)
}

// GetTimeSeries handles GET /api/sessions/{id}/timeseries
func (h *DashboardHandler) GetTimeSeries(w http.ResponseWriter, r *http.Request) {
	d, ok := h.dashboard(w, r)
	if !ok {
		return
	}
	h.sendJSON(w, d.Aggregate().Series, http.StatusOK)
}

// GetHistogram handles GET /api/sessions/{id}/histograms/{column}
func (h *DashboardHandler) GetHistogram(w http.ResponseWriter, r *http.Request) {
	const endpoint = "/api/sessions/{id}/histograms/{column}"

	d, ok := h.dashboard(w, r)
	if !ok {
		return
	}

	bins := 0
	if binsStr := r.URL.Query().Get("bins"); binsStr != "" {
		b, err := strconv.Atoi(binsStr)
		if err != nil || b < 1 || b > maxHistogramBins {
			h.metrics.RecordAPIError("validation_error", endpoint)
			h.sendError(w, r, "invalid bins, expected integer between 1 and 200", http.StatusBadRequest)
			return
		}
		bins = b
	}

	hist, err := h.explorer.Histogram(r.Context(), d.Rows(), mux.Vars(r)["column"], bins)
	if err != nil {
		h.handleError(w, r, endpoint, err)
		return
	}
	h.sendJSON(w, hist, http.StatusOK)
}

// Subscribe handles GET /api/sessions/{id}/ws. The current snapshot is sent
// first, then one message per reaction.
func (h *DashboardHandler) Subscribe(w http.ResponseWriter, r *http.Request) {
	d, ok := h.dashboard(w, r)
	if !ok {
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn(r.Context(), "[WS_UPGRADE_ERROR] Websocket upgrade failed", logging.Fields{
			"error": err.Error(),
		})
		h.metrics.RecordAPIError("upgrade_failed", "/api/sessions/{id}/ws")
		return
	}

	client := websocket.NewClient(h.hub, conn, d.ID())
	client.Enqueue(websocket.Message{
		Type:      websocket.MessageTypeSnapshot,
		SessionID: d.ID(),
		Data:      d.Snapshot(),
	})
	if !h.hub.Join(client) {
		_ = conn.Close()
		return
	}
	client.Start()
}

// dashboard resolves the {id} route variable, writing a 404 when unknown
func (h *DashboardHandler) dashboard(w http.ResponseWriter, r *http.Request) (*services.Dashboard, bool) {
	d, err := h.sessions.Get(mux.Vars(r)["id"])
	if err != nil {
		h.handleError(w, r, "/api/sessions/{id}", err)
		return nil, false
	}
	return d, true
}

// handleError maps domain errors onto HTTP status codes
func (h *DashboardHandler) handleError(w http.ResponseWriter, r *http.Request, endpoint string, err error) {
	switch {
	case errors.Is(err, filter.ErrInvalidValue), errors.Is(err, dataset.ErrUnknownColumn):
		h.metrics.RecordAPIError("invalid_input", endpoint)
		h.sendError(w, r, err.Error(), http.StatusBadRequest)
	case errors.Is(err, services.ErrSessionNotFound):
		h.metrics.RecordAPIError("not_found", endpoint)
		h.sendError(w, r, err.Error(), http.StatusNotFound)
	case errors.Is(err, services.ErrTooManySessions):
		h.metrics.RecordAPIError("session_limit", endpoint)
		h.sendError(w, r, err.Error(), http.StatusTooManyRequests)
	default:
		h.logger.Error(r.Context(), "[API_ERROR] Request failed", logging.Fields{
			"endpoint": endpoint,
		}, err)
		h.metrics.RecordAPIError("internal_error", endpoint)
		h.sendError(w, r, "internal error", http.StatusInternalServerError)
	}
}

func parsePagination(r *http.Request) (page, limit int) {
	page, limit = 1, defaultPageLimit

	if p, err := strconv.Atoi(r.URL.Query().Get("page")); err == nil && p > 0 {
		page = p
	}
	if l, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && l > 0 && l <= maxPageLimit {
		limit = l
	}
	return page, limit
}

// sendJSON sends a JSON response
func (h *DashboardHandler) sendJSON(w http.ResponseWriter, data interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Warn(context.Background(), "[API_ENCODE_ERROR] Failed to encode response", logging.Fields{
			"error": err.Error(),
		})
	}
}

// sendError sends an error response
func (h *DashboardHandler) sendError(w http.ResponseWriter, r *http.Request, message string, statusCode int) {
	response := ErrorResponse{
		Error:   http.StatusText(statusCode),
		Message: message,
		Code:    statusCode,
	}

	h.sendJSON(w, response, statusCode)
}

// RegisterRoutes registers all dashboard API routes
func (h *DashboardHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/health", h.HealthCheck).Methods("GET")
	router.HandleFunc("/api/dataset", h.GetDataset).Methods("GET")

	router.HandleFunc("/api/sessions", h.CreateSession).Methods("POST")
	router.HandleFunc("/api/sessions/{id}", h.GetSession).Methods("GET")
	router.HandleFunc("/api/sessions/{id}", h.DeleteSession).Methods("DELETE")
	router.HandleFunc("/api/sessions/{id}/filters/{criterion}", h.SetFilter).Methods("PUT")
	router.HandleFunc("/api/sessions/{id}/reset", h.ResetSession).Methods("POST")
	router.HandleFunc("/api/sessions/{id}/rows", h.GetRows).Methods("GET")
	router.HandleFunc("/api/sessions/{id}/choices", h.GetChoices).Methods("GET")
	router.HandleFunc("/api/sessions/{id}/aggregates", h.GetAggregates).Methods("GET")
	router.HandleFunc("/api/sessions/{id}/timeseries", h.GetTimeSeries).Methods("GET")
	router.HandleFunc("/api/sessions/{id}/histograms/{column}", h.GetHistogram).Methods("GET")

	if h.hub != nil {
		router.HandleFunc("/api/sessions/{id}/ws", h.Subscribe).Methods("GET")
	}
}
