// Package api implements the collector twin's script, collect and inspection
// endpoints.
package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/wondertwin-ai/gtagkit/internal/collector/debugview"
	"github.com/wondertwin-ai/gtagkit/internal/collector/store"
	"github.com/wondertwin-ai/gtagkit/pkg/twincore"
)

// Handler holds the API handler state.
type Handler struct {
	store *store.MemoryStore
	mw    *twincore.Middleware
	hub   *debugview.Hub
}

// NewHandler creates the API handler. When hub is non-nil every recorded hit
// is published to it.
func NewHandler(s *store.MemoryStore, mw *twincore.Middleware, hub *debugview.Hub) *Handler {
	if hub != nil {
		s.OnHit(hub.Publish)
	}
	return &Handler{store: s, mw: mw, hub: hub}
}

// Routes mounts the collector routes and admin extras. Faults only apply to
// the collector routes.
func (h *Handler) Routes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.mw.FaultInjection)

		r.Get("/gtag/js", h.ServeScript)
		r.Post("/g/collect", h.Collect)
	})

	r.Get("/admin/hits", h.AdminListHits)
	r.Get("/admin/summary", h.AdminSummary)
	if h.hub != nil {
		r.Handle("/admin/debug/stream", h.hub)
	}
}
