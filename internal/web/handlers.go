package web

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/charmbracelet/log"
	"github.com/go-chi/chi/v5"

	"github.com/justestif/go-playlist-mirror/internal/lock"
	"github.com/justestif/go-playlist-mirror/internal/sources"
	"github.com/justestif/go-playlist-mirror/internal/spotify"
	mirrorsync "github.com/justestif/go-playlist-mirror/internal/sync"
	"github.com/justestif/go-playlist-mirror/internal/walker"
)

// Handlers contains the HTTP handlers.
type Handlers struct {
	syncer Syncer
	health HealthCheck
	log    *log.Logger
}

// NewHandlers creates a new Handlers instance. A nil health check always
// reports healthy.
func NewHandlers(syncer Syncer, health HealthCheck, logger *log.Logger) *Handlers {
	if logger == nil {
		logger = log.New(io.Discard)
	}
	return &Handlers{syncer: syncer, health: health, log: logger}
}

type errorResponse struct {
	Error  string             `json:"error"`
	Result *mirrorsync.Result `json:"result,omitempty"`
}

// Health handles GET /healthz.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	if h.health != nil {
		if err := h.health(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: err.Error()})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Sync runs a scheduled cycle (POST /sync).
func (h *Handlers) Sync(w http.ResponseWriter, r *http.Request) {
	h.run(w, r, walker.Scheduled{})
}

// SyncEntity runs a cycle for a freshly registered entity
// (POST /entities/{source}/{entityID}/sync).
func (h *Handlers) SyncEntity(w http.ResponseWriter, r *http.Request) {
	h.run(w, r, walker.EntitySignaled{
		Source:   chi.URLParam(r, "source"),
		EntityID: chi.URLParam(r, "entityID"),
	})
}

func (h *Handlers) run(w http.ResponseWriter, r *http.Request, trigger walker.Trigger) {
	result, err := h.syncer.Run(r.Context(), trigger)
	if err != nil {
		status := statusFor(err)
		if status == http.StatusInternalServerError {
			h.log.Error("sync request failed", "err", err)
		}
		writeJSON(w, status, errorResponse{Error: err.Error(), Result: result})
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// statusFor maps a cycle error to an HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, sources.ErrHostNotFound):
		return http.StatusNotFound
	case errors.Is(err, lock.ErrEntityBusy):
		return http.StatusConflict
	case errors.Is(err, spotify.ErrQuotaExceeded):
		return http.StatusTooManyRequests
	case errors.Is(err, spotify.ErrCircuitOpen):
		return http.StatusServiceUnavailable
	case errors.Is(err, spotify.ErrUnauthorized):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
