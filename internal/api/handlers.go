package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/maltedev/price-tracker/internal/database"
	"github.com/maltedev/price-tracker/internal/models"
	"github.com/maltedev/price-tracker/internal/scheduler"
	"github.com/maltedev/price-tracker/internal/search"
	"github.com/maltedev/price-tracker/internal/tracker"
)

const maxBodyBytes = 1 << 20

type ProductService interface {
	Track(ctx context.Context, rawURL string) (*tracker.TrackResult, error)
	ListTracked(ctx context.Context) ([]*models.Product, error)
}

type Searcher interface {
	Search(ctx context.Context, req search.Request) (*search.Response, error)
}

// OutboxStats reports relay backlog for the health check.
type OutboxStats interface {
	Stats(ctx context.Context) (database.RelayStats, error)
}

// Pinger checks database connectivity for the health check.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Refresher interface {
	// TryStart claims a run and executes it in the background. It returns
	// scheduler.ErrRunInProgress when a run is already active.
	TryStart(ctx context.Context) error
	LastRun() *scheduler.RunStats
}

type Handlers struct {
	products  ProductService
	searcher  Searcher
	database  Pinger
	outbox    OutboxStats
	refresher Refresher
	logger    *slog.Logger
}

// NewHandlers wires the API. db, outbox and refresher may be nil when
// the corresponding component is not running.
func NewHandlers(products ProductService, searcher Searcher, db Pinger, outbox OutboxStats, refresher Refresher, logger *slog.Logger) *Handlers {
	return &Handlers{
		products:  products,
		searcher:  searcher,
		database:  db,
		outbox:    outbox,
		refresher: refresher,
		logger:    logger.With("component", "api"),
	}
}

type TrackRequest struct {
	URL string `json:"url"`
}

type ErrorResponse struct {
	Error  string   `json:"error"`
	Fields []string `json:"fields,omitempty"`
}

func (h *Handlers) Root(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, http.StatusOK, map[string]string{"message": "Price Tracker API is running"})
}

// Health reports ok, plus database reachability and the outbox backlog when
// those components are running.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	health := map[string]interface{}{"status": "ok"}
	status := http.StatusOK

	if h.database != nil {
		if err := h.database.Ping(r.Context()); err != nil {
			h.logger.Error("database ping failed", "error", err)
			health["status"] = "error"
			health["database"] = "unreachable"
			health["message"] = "database unavailable"
			h.respondJSON(w, http.StatusServiceUnavailable, health)
			return
		}
		health["database"] = "ok"
	}

	if h.outbox != nil {
		stats, err := h.outbox.Stats(r.Context())
		if err != nil {
			h.logger.Error("failed to read outbox stats", "error", err)
			health["status"] = "error"
			health["message"] = "outbox unavailable"
			h.respondJSON(w, http.StatusServiceUnavailable, health)
			return
		}

		health["outbox"] = map[string]int64{
			"pending":     stats.Pending,
			"dead_letter": stats.DeadLetter,
		}
		if stats.Pending > 1000 {
			health["status"] = "warning"
			health["message"] = "high number of pending outbox events"
		}
		if stats.DeadLetter > 100 {
			health["status"] = "error"
			health["message"] = "high number of dead letter events"
			status = http.StatusServiceUnavailable
		}
	}

	if h.refresher != nil {
		if last := h.refresher.LastRun(); last != nil {
			health["last_refresh"] = last
		}
	}

	h.respondJSON(w, status, health)
}

// TrackProduct scrapes the posted URL and stores the result.
func (h *Handlers) TrackProduct(w http.ResponseWriter, r *http.Request) {
	var req TrackRequest
	if err := h.decode(w, r, &req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.URL == "" {
		h.respondError(w, http.StatusBadRequest, "url is required")
		return
	}

	result, err := h.products.Track(r.Context(), req.URL)
	if err != nil {
		h.respondTrackError(w, req.URL, err)
		return
	}

	h.respondJSON(w, http.StatusCreated, result)
}

func (h *Handlers) ListProducts(w http.ResponseWriter, r *http.Request) {
	products, err := h.products.ListTracked(r.Context())
	if err != nil {
		h.logger.Error("failed to list products", "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to list products")
		return
	}

	if products == nil {
		products = []*models.Product{}
	}
	h.respondJSON(w, http.StatusOK, map[string]interface{}{"products": products})
}

func (h *Handlers) Search(w http.ResponseWriter, r *http.Request) {
	var req search.Request
	if err := h.decode(w, r, &req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	resp, err := h.searcher.Search(r.Context(), req)
	switch {
	case err == nil:
		h.respondJSON(w, http.StatusOK, resp)
	case errors.Is(err, search.ErrEmptyQuery), errors.Is(err, search.ErrInvalidPriceRange):
		h.respondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, search.ErrAllSitesFailed):
		h.logger.Warn("search failed on every site", "query", req.Query, "error", err)
		h.respondError(w, http.StatusBadGateway, "no retailer could be searched")
	default:
		h.logger.Error("search failed", "query", req.Query, "error", err)
		h.respondError(w, http.StatusInternalServerError, "search failed")
	}
}

// TriggerRefresh starts a refresh run in the background.
func (h *Handlers) TriggerRefresh(w http.ResponseWriter, r *http.Request) {
	if h.refresher == nil {
		h.respondError(w, http.StatusNotFound, "refresh is not enabled")
		return
	}

	// the run outlives the request
	if err := h.refresher.TryStart(context.WithoutCancel(r.Context())); err != nil {
		if errors.Is(err, scheduler.ErrRunInProgress) {
			h.respondError(w, http.StatusConflict, err.Error())
			return
		}
		h.logger.Error("manual refresh failed to start", "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to start refresh")
		return
	}

	h.respondJSON(w, http.StatusAccepted, map[string]string{"status": "refresh started"})
}

func (h *Handlers) LastRefresh(w http.ResponseWriter, r *http.Request) {
	if h.refresher == nil {
		h.respondError(w, http.StatusNotFound, "refresh is not enabled")
		return
	}

	last := h.refresher.LastRun()
	if last == nil {
		h.respondError(w, http.StatusNotFound, "no refresh has completed yet")
		return
	}
	h.respondJSON(w, http.StatusOK, last)
}

func (h *Handlers) respondTrackError(w http.ResponseWriter, url string, err error) {
	var missing *tracker.MissingFieldsError

	switch {
	case errors.Is(err, tracker.ErrInvalidURL):
		h.respondError(w, http.StatusBadRequest, err.Error())
	case errors.As(err, &missing):
		h.logger.Warn("extraction incomplete", "url", url, "fields", missing.Fields)
		h.respondJSON(w, http.StatusUnprocessableEntity, ErrorResponse{
			Error:  tracker.ErrMissingFields.Error(),
			Fields: missing.Fields,
		})
	case errors.Is(err, tracker.ErrFetchFailed):
		h.logger.Warn("fetch failed", "url", url, "error", err)
		h.respondError(w, http.StatusBadGateway, "failed to fetch product page")
	case errors.Is(err, tracker.ErrStorage):
		h.logger.Error("failed to store product", "url", url, "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to store product")
	default:
		h.logger.Error("failed to track product", "url", url, "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to track product")
	}
}

func (h *Handlers) decode(w http.ResponseWriter, r *http.Request, dest interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	return json.NewDecoder(r.Body).Decode(dest)
}

func (h *Handlers) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

func (h *Handlers) respondError(w http.ResponseWriter, status int, message string) {
	h.respondJSON(w, status, ErrorResponse{Error: message})
}
