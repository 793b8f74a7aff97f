package main

import (
	"encoding/json"
	"fmt"
	"html"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/wondertwin-ai/gtagkit/pkg/gtag"
	"github.com/wondertwin-ai/gtagkit/pkg/gtag/lifecycle"
	"github.com/wondertwin-ai/gtagkit/pkg/gtag/taxonomy"
	"github.com/wondertwin-ai/gtagkit/pkg/twincore"
)

var pages = map[string]string{
	"/":                     "C2 Generic Dashboard",
	"/brokerage-activities": "Brokerage Activities",
	"/shipments":            "Shipments",
	"/entry-details":        "Entry Details",
	"/invoices":             "Invoices",
}

func pageTitle(s lifecycle.Snapshot) string {
	if t, ok := pages[s.Path]; ok {
		return t
	}
	if strings.HasPrefix(s.Path, "/brokerage-file/") {
		return "Brokerage File"
	}
	return "Dashboard"
}

type app struct {
	client *gtag.Client
	logger *slog.Logger
}

func newApp(client *gtag.Client, logger *slog.Logger) *app {
	return &app{client: client, logger: logger}
}

// Handler returns the routes. Page routes sit behind the client middleware so
// each render is reported as a navigation; /api routes are not page views.
func (a *app) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)

	r.Group(func(r chi.Router) {
		r.Use(a.client.Middleware)
		for path := range pages {
			r.Get(path, a.renderPage)
		}
		r.Get("/brokerage-file/{file}", a.renderPage)
	})

	r.Route("/api", func(r chi.Router) {
		r.Get("/status", a.status)
		r.Post("/widgets/{widget}/interaction", a.widgetInteraction)
		r.Post("/widgets/{widget}/view", a.viewChange)
		r.Post("/widgets/{widget}/data-point", a.dataPoint)
		r.Post("/widgets/{widget}/export", a.export)
		r.Post("/consent", a.consent)
		r.Post("/user-properties", a.userProperties)
	})
	return r
}

func (a *app) renderPage(w http.ResponseWriter, r *http.Request) {
	title := pageTitle(lifecycle.Snapshot{Path: r.URL.Path})
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprintf(w, "<!doctype html><title>%s</title><h1>%s</h1>\n",
		html.EscapeString(title), html.EscapeString(title))
}

func (a *app) status(w http.ResponseWriter, r *http.Request) {
	twincore.JSON(w, http.StatusOK, map[string]any{
		"tracking_id": a.client.TrackingID(),
		"state":       a.client.State().String(),
		"consent":     a.client.Consent(),
	})
}

type interactionRequest struct {
	Action string         `json:"action"`
	View   string         `json:"view"`
	Label  string         `json:"label"`
	Type   string         `json:"type"`
	Extra  map[string]any `json:"extra"`
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		twincore.Error(w, http.StatusBadRequest, "invalid body: "+err.Error())
		return false
	}
	return true
}

func accepted(w http.ResponseWriter) {
	twincore.JSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
}

func (a *app) widgetInteraction(w http.ResponseWriter, r *http.Request) {
	var req interactionRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Action == "" {
		twincore.Error(w, http.StatusBadRequest, "action is required")
		return
	}
	action := taxonomy.Action(req.Action)
	if !action.Known() {
		a.logger.Debug("action outside taxonomy", "action", req.Action)
	}
	a.client.TrackWidgetInteraction(chi.URLParam(r, "widget"), action, req.Extra)
	accepted(w)
}

func (a *app) viewChange(w http.ResponseWriter, r *http.Request) {
	var req interactionRequest
	if !decode(w, r, &req) {
		return
	}
	if req.View == "" {
		twincore.Error(w, http.StatusBadRequest, "view is required")
		return
	}
	a.client.TrackViewChange(chi.URLParam(r, "widget"), taxonomy.ViewType(req.View), req.Extra)
	accepted(w)
}

func (a *app) dataPoint(w http.ResponseWriter, r *http.Request) {
	var req interactionRequest
	if !decode(w, r, &req) {
		return
	}
	a.client.TrackDataPointInteraction(chi.URLParam(r, "widget"), req.Label, req.Extra)
	accepted(w)
}

func (a *app) export(w http.ResponseWriter, r *http.Request) {
	var req interactionRequest
	if !decode(w, r, &req) {
		return
	}
	kind := taxonomy.ExportType(req.Type)
	if kind == "" {
		kind = taxonomy.ExportAll
	}
	a.client.TrackExport(chi.URLParam(r, "widget"), kind, req.Extra)
	accepted(w)
}

func (a *app) consent(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Granted *bool `json:"granted"`
	}
	if !decode(w, r, &req) {
		return
	}
	if req.Granted == nil {
		twincore.Error(w, http.StatusBadRequest, "granted is required")
		return
	}
	a.client.SetConsent(*req.Granted)
	accepted(w)
}

func (a *app) userProperties(w http.ResponseWriter, r *http.Request) {
	var props map[string]any
	if !decode(w, r, &props) {
		return
	}
	if len(props) == 0 {
		twincore.Error(w, http.StatusBadRequest, "at least one property is required")
		return
	}
	a.client.SetUserProperties(props)
	accepted(w)
}
