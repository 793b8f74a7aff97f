// Package gtag is the public telemetry client. A Client wires the transport,
// consent manager, verification gate and lifecycle controller for one
// tracking id and exposes fire-and-forget tracking calls that never panic.
//
// Most applications use the process-wide Default client; tests build their
// own with New.
package gtag

import (
	"context"
	"log/slog"
	"net/http"
	"sync"

	"github.com/wondertwin-ai/gtagkit/pkg/gtag/config"
	"github.com/wondertwin-ai/gtagkit/pkg/gtag/consent"
	"github.com/wondertwin-ai/gtagkit/pkg/gtag/lifecycle"
	"github.com/wondertwin-ai/gtagkit/pkg/gtag/taxonomy"
	"github.com/wondertwin-ai/gtagkit/pkg/gtag/transport"
	"github.com/wondertwin-ai/gtagkit/pkg/gtag/verify"
)

// Client is the telemetry client for one tracking id.
type Client struct {
	cfg        config.Config
	logger     *slog.Logger
	transport  *transport.Transport
	consent    *consent.Manager
	gate       *verify.Gate
	controller *lifecycle.Controller
}

type options struct {
	logger *slog.Logger
	loader transport.Loader
	title  func(lifecycle.Snapshot) string
}

// Option customizes New.
type Option func(*options)

// WithLogger sets the logger used by every component.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithLoader replaces the HTTP script loader.
func WithLoader(l transport.Loader) Option {
	return func(o *options) { o.loader = l }
}

// WithTitle sets how page titles are derived from navigation snapshots.
func WithTitle(fn func(lifecycle.Snapshot) string) Option {
	return func(o *options) { o.title = fn }
}

// New builds a Client from cfg. Nothing is loaded until Start.
func New(cfg config.Config, opts ...Option) *Client {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	if o.loader == nil {
		o.loader = &transport.HTTPLoader{CollectURL: cfg.CollectURL, Logger: o.logger}
	}

	tr := transport.New(transport.Config{
		TrackingID:  cfg.TrackingID,
		ScriptBase:  cfg.ScriptBase,
		Loader:      o.loader,
		LoadTimeout: cfg.LoadTimeout,
		Logger:      o.logger,
	})
	cm := consent.New(tr, cfg.TrackingID, consent.Baseline{
		DebugMode:     cfg.DebugMode,
		CookieDomain:  cfg.CookieDomain,
		CookieFlags:   cfg.CookieFlags,
		CookieExpires: cfg.CookieExpires,
	})
	tr.OnReady(func(s transport.Sender) { cm.ApplyBaselineWith(s) })
	gate := verify.New(tr, o.logger)

	var smoke *taxonomy.Event
	if cfg.SmokeEvent {
		smoke = &taxonomy.Event{
			Action:   taxonomy.ActionDashPending,
			Category: taxonomy.CategoryDashboard,
			Label:    "Test Button Click",
			Value:    taxonomy.Value(1),
			Extra: map[string]any{
				taxonomy.ParamPageName: "C2 Generic Dashboard",
				taxonomy.ParamTabName:  "Brokerage Activities",
			},
		}
	}

	ctrl := lifecycle.New(lifecycle.Config{
		TrackingID:    cfg.TrackingID,
		Transport:     tr,
		Gate:          gate,
		Origin:        cfg.Origin,
		Title:         o.title,
		SettleDelay:   cfg.SettleDelay,
		SmokeEvent:    smoke,
		ReplayPending: cfg.ReplayPending,
		Logger:        o.logger,
	})

	return &Client{
		cfg:        cfg,
		logger:     o.logger.With("component", "gtag"),
		transport:  tr,
		consent:    cm,
		gate:       gate,
		controller: ctrl,
	}
}

var (
	defaultOnce   sync.Once
	defaultClient *Client
)

// Default returns the process-wide client, built once from the environment.
// If the environment cannot be parsed the client falls back to the built-in
// configuration.
func Default() *Client {
	defaultOnce.Do(func() {
		cfg, err := config.FromEnv()
		if err != nil {
			slog.Default().Warn("gtag: using built-in configuration", "err", err)
			cfg = config.Default()
			cfg.TrackingID = config.FallbackTrackingID
		}
		defaultClient = New(*cfg)
	})
	return defaultClient
}

// TrackingID returns the destination collector account.
func (c *Client) TrackingID() string { return c.cfg.TrackingID }

// Transport exposes the underlying transport.
func (c *Client) Transport() *transport.Transport { return c.transport }

// Start begins collector initialization in the background.
func (c *Client) Start(ctx context.Context) { c.controller.Start(ctx) }

// Settled is closed once tracking is active or has been given up.
func (c *Client) Settled() <-chan struct{} { return c.controller.Settled() }

// State returns the lifecycle phase.
func (c *Client) State() lifecycle.State { return c.controller.State() }

// Navigate reports a navigation change.
func (c *Client) Navigate(s lifecycle.Snapshot) {
	defer c.recover("navigate")
	c.controller.Navigate(s)
}

// Middleware tracks page views for requests served by next.
func (c *Client) Middleware(next http.Handler) http.Handler {
	return c.controller.Middleware(next)
}

// Stop ends navigation tracking.
func (c *Client) Stop() { c.controller.Stop() }

// Close stops tracking and flushes the collector.
func (c *Client) Close(ctx context.Context) error {
	c.controller.Stop()
	return c.transport.Close(ctx)
}

// Consent returns the current consent state.
func (c *Client) Consent() consent.State { return c.consent.State() }

// Track sends an interaction event. Events are buffered until the collector
// is ready and dropped once tracking has degraded.
func (c *Client) Track(e taxonomy.Event) {
	defer c.recover("track")
	if !c.tracking(string(e.Action)) {
		return
	}
	c.transport.Send(transport.KindEvent, string(e.Action), taxonomy.Normalize(e))
}

// TrackWidgetInteraction sends an action taken inside a widget.
func (c *Client) TrackWidgetInteraction(widget string, action taxonomy.Action, extra map[string]any) {
	c.Track(taxonomy.WidgetInteraction(widget, action, extra))
}

// TrackViewChange sends a widget layout switch.
func (c *Client) TrackViewChange(widget string, view taxonomy.ViewType, extra map[string]any) {
	c.Track(taxonomy.ViewChange(widget, view, extra))
}

// TrackDataPointInteraction sends a click on a chart data point.
func (c *Client) TrackDataPointInteraction(widget, dataPoint string, extra map[string]any) {
	c.Track(taxonomy.DataPointInteraction(widget, dataPoint, extra))
}

// TrackExport sends a data export.
func (c *Client) TrackExport(widget string, kind taxonomy.ExportType, extra map[string]any) {
	c.Track(taxonomy.Export(widget, kind, extra))
}

// SetConsent records the user's analytics consent choice. A choice made
// before the collector is ready reaches it after the default grant.
func (c *Client) SetConsent(granted bool) {
	defer c.recover("set consent")
	if !c.tracking("consent update") {
		return
	}
	c.consent.UpdateConsent(granted)
}

// SetUserProperties attaches properties to the current user.
func (c *Client) SetUserProperties(props map[string]any) {
	defer c.recover("set user properties")
	if !c.tracking("user properties") {
		return
	}
	c.consent.SetUserProperties(props)
}

// tracking reports whether calls should still reach the transport.
func (c *Client) tracking(what string) bool {
	if c.cfg.TrackingID == "" {
		return false
	}
	if c.controller.State() == lifecycle.Degraded {
		c.logger.Debug("call dropped, tracking degraded", "call", what)
		return false
	}
	return true
}

func (c *Client) recover(op string) {
	if r := recover(); r != nil {
		c.logger.Error("gtag call failed", "op", op, "panic", r)
	}
}
