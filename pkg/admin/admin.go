// Package admin provides the /admin/* control plane shared by twins: state
// reset and seeding, fault injection, request inspection and clock control.
package admin

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/wondertwin-ai/gtagkit/pkg/store"
	"github.com/wondertwin-ai/gtagkit/pkg/twincore"
)

// StateStore is implemented by a twin's state to support snapshots.
type StateStore interface {
	Snapshot() any
	LoadState(data []byte) error
	Reset()
}

// ConfigProvider exposes a twin's runtime configuration.
type ConfigProvider interface {
	GetConfig() map[string]any
	UpdateConfig(updates map[string]any) error
}

// Handler serves the admin endpoints.
type Handler struct {
	state  StateStore
	mw     *twincore.Middleware
	clock  *store.Clock
	config ConfigProvider
}

// NewHandler creates an admin handler. clock may be nil.
func NewHandler(state StateStore, mw *twincore.Middleware, clock *store.Clock) *Handler {
	return &Handler{state: state, mw: mw, clock: clock}
}

// SetConfigProvider enables the /admin/config endpoints.
func (h *Handler) SetConfigProvider(p ConfigProvider) {
	h.config = p
}

// Routes mounts the admin endpoints on r. Fault paths may contain slashes,
// e.g. POST /admin/fault/gtag/js.
func (h *Handler) Routes(r chi.Router) {
	r.Route("/admin", func(r chi.Router) {
		r.Post("/reset", h.handleReset)
		r.Get("/state", h.handleGetState)
		r.Post("/state", h.handleLoadState)
		r.Post("/fault/*", h.handleInjectFault)
		r.Delete("/fault/*", h.handleRemoveFault)
		r.Get("/faults", h.handleListFaults)
		r.Get("/requests", h.handleGetRequests)
		r.Get("/config", h.handleGetConfig)
		r.Patch("/config", h.handleUpdateConfig)
		r.Post("/time/advance", h.handleTimeAdvance)
		r.Get("/time", h.handleGetTime)
		r.Get("/health", h.handleHealth)
	})
}

func faultPath(r *http.Request) string {
	return "/" + strings.TrimPrefix(chi.URLParam(r, "*"), "/")
}

func (h *Handler) handleReset(w http.ResponseWriter, r *http.Request) {
	h.state.Reset()
	h.mw.ReqLog.Clear()
	h.mw.Faults.Reset()
	if h.clock != nil {
		h.clock.Reset()
	}
	twincore.JSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

func (h *Handler) handleGetState(w http.ResponseWriter, r *http.Request) {
	twincore.JSON(w, http.StatusOK, h.state.Snapshot())
}

func (h *Handler) handleLoadState(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		twincore.Error(w, http.StatusBadRequest, "failed to read body: "+err.Error())
		return
	}
	if err := h.state.LoadState(body); err != nil {
		twincore.Error(w, http.StatusBadRequest, "failed to load state: "+err.Error())
		return
	}
	twincore.JSON(w, http.StatusOK, map[string]string{"status": "loaded"})
}

func (h *Handler) handleInjectFault(w http.ResponseWriter, r *http.Request) {
	path := faultPath(r)

	var req struct {
		StatusCode int     `json:"status_code"`
		Body       string  `json:"body"`
		Delay      string  `json:"delay"`
		Rate       float64 `json:"rate"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		twincore.Error(w, http.StatusBadRequest, "invalid fault config: "+err.Error())
		return
	}
	if req.Rate < 0 || req.Rate > 1 {
		twincore.Error(w, http.StatusBadRequest, "rate must be between 0.0 and 1.0")
		return
	}
	fault := twincore.FaultConfig{StatusCode: req.StatusCode, Body: req.Body, Rate: req.Rate}
	if req.Delay != "" {
		d, err := time.ParseDuration(req.Delay)
		if err != nil {
			twincore.Error(w, http.StatusBadRequest, "invalid delay: "+err.Error())
			return
		}
		fault.Delay = d
	}

	h.mw.Faults.Set(path, fault)
	twincore.JSON(w, http.StatusOK, map[string]any{
		"status":   "injected",
		"endpoint": path,
		"fault":    fault,
	})
}

func (h *Handler) handleRemoveFault(w http.ResponseWriter, r *http.Request) {
	path := faultPath(r)
	if !h.mw.Faults.Remove(path) {
		twincore.Error(w, http.StatusNotFound, "no fault registered for "+path)
		return
	}
	twincore.JSON(w, http.StatusOK, map[string]any{"status": "removed", "endpoint": path})
}

func (h *Handler) handleListFaults(w http.ResponseWriter, r *http.Request) {
	twincore.JSON(w, http.StatusOK, h.mw.Faults.All())
}

// handleGetRequests lists logged requests, optionally only those for ?path=.
func (h *Handler) handleGetRequests(w http.ResponseWriter, r *http.Request) {
	entries := h.mw.ReqLog.Entries()
	if path := r.URL.Query().Get("path"); path != "" {
		filtered := entries[:0]
		for _, e := range entries {
			if e.Path == path {
				filtered = append(filtered, e)
			}
		}
		entries = filtered
	}
	twincore.JSON(w, http.StatusOK, entries)
}

func (h *Handler) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	if h.config == nil {
		twincore.Error(w, http.StatusNotFound, "runtime config not available")
		return
	}
	twincore.JSON(w, http.StatusOK, h.config.GetConfig())
}

func (h *Handler) handleUpdateConfig(w http.ResponseWriter, r *http.Request) {
	if h.config == nil {
		twincore.Error(w, http.StatusNotFound, "runtime config not available")
		return
	}
	var updates map[string]any
	if err := json.NewDecoder(r.Body).Decode(&updates); err != nil {
		twincore.Error(w, http.StatusBadRequest, "invalid config: "+err.Error())
		return
	}
	if err := h.config.UpdateConfig(updates); err != nil {
		twincore.Error(w, http.StatusBadRequest, err.Error())
		return
	}
	twincore.JSON(w, http.StatusOK, h.config.GetConfig())
}

func (h *Handler) handleTimeAdvance(w http.ResponseWriter, r *http.Request) {
	if h.clock == nil {
		twincore.Error(w, http.StatusBadRequest, "simulated clock not configured")
		return
	}
	var req struct {
		Duration string `json:"duration"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		twincore.Error(w, http.StatusBadRequest, "invalid request: "+err.Error())
		return
	}
	d, err := time.ParseDuration(req.Duration)
	if err != nil {
		twincore.Error(w, http.StatusBadRequest, "invalid duration: "+err.Error())
		return
	}

	h.clock.Advance(d)
	twincore.JSON(w, http.StatusOK, map[string]any{
		"status":    "advanced",
		"offset":    h.clock.Offset().String(),
		"simulated": h.clock.Now().Format(time.RFC3339),
	})
}

func (h *Handler) handleGetTime(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{"real": time.Now().Format(time.RFC3339)}
	if h.clock != nil {
		resp["simulated"] = h.clock.Now().Format(time.RFC3339)
		resp["offset"] = h.clock.Offset().String()
	}
	twincore.JSON(w, http.StatusOK, resp)
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	twincore.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
