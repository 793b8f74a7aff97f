// Package lifecycle sequences collector start-up and turns navigation changes
// into page-view commands once tracking is trusted.
//
// The controller is an explicit state machine driven by two signals, Start and
// Navigate. It knows nothing about the UI framework hosting it; Middleware
// adapts it to net/http.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/wondertwin-ai/gtagkit/pkg/gtag/taxonomy"
	"github.com/wondertwin-ai/gtagkit/pkg/gtag/transport"
)

// ErrVerificationFailed is recorded when the verification gate rejects the
// collector. It is never returned to callers.
var ErrVerificationFailed = errors.New("lifecycle: verification failed")

// ErrStopped is recorded when Stop interrupts start-up.
var ErrStopped = errors.New("lifecycle: stopped before active")

// State is a lifecycle phase.
type State int

const (
	Idle State = iota
	Initializing
	Verifying
	Active
	Degraded // terminal
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Initializing:
		return "initializing"
	case Verifying:
		return "verifying"
	case Active:
		return "active"
	case Degraded:
		return "degraded"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Snapshot is the host's current navigation position.
type Snapshot struct {
	Path  string
	Query string // raw query, without the leading '?'
}

// URL returns the page path, with the query appended when non-empty.
func (s Snapshot) URL() string {
	if s.Query == "" {
		return s.Path
	}
	return s.Path + "?" + s.Query
}

// Transport is the part of the transport the controller drives.
type Transport interface {
	Initialize(ctx context.Context) *transport.Outcome
	Send(kind transport.Kind, target string, payload map[string]any)
}

// Verifier confirms the transport is operable.
type Verifier interface {
	Verify(ctx context.Context) bool
}

// Config configures a Controller.
type Config struct {
	TrackingID string
	Transport  Transport
	Gate       Verifier

	// Origin prefixes the page URL to form page_location.
	Origin string
	// Title names the page for page_title. Optional.
	Title func(Snapshot) string
	// SettleDelay is waited between initialization and verification.
	SettleDelay time.Duration
	// SmokeEvent, when set, is sent once when the controller becomes active.
	SmokeEvent *taxonomy.Event
	// ReplayPending sends a page view for the last navigation that arrived
	// before the controller became active.
	ReplayPending bool

	Logger *slog.Logger
	Tracer trace.Tracer
}

// Controller is the lifecycle state machine. A Controller is started at most
// once; several controllers may share one Transport.
type Controller struct {
	cfg    Config
	logger *slog.Logger
	tracer trace.Tracer

	mu      sync.Mutex
	state   State
	err     error
	stopped bool
	pending *Snapshot
	cancel  context.CancelFunc
	settled chan struct{}
}

// New creates an idle Controller.
func New(cfg Config) *Controller {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	tracer := cfg.Tracer
	if tracer == nil {
		tracer = otel.Tracer("github.com/wondertwin-ai/gtagkit/pkg/gtag/lifecycle")
	}
	return &Controller{
		cfg:     cfg,
		logger:  logger.With("component", "lifecycle"),
		tracer:  tracer,
		settled: make(chan struct{}),
	}
}

// State returns the current phase.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Err returns why the controller degraded, or nil.
func (c *Controller) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Settled is closed once the controller reaches Active or Degraded.
func (c *Controller) Settled() <-chan struct{} {
	return c.settled
}

// Start begins initialization and returns immediately. Only the first call
// from Idle has any effect. ctx bounds start-up: cancelling it before the
// controller settles degrades it.
func (c *Controller) Start(ctx context.Context) {
	c.mu.Lock()
	if c.state != Idle || c.stopped {
		c.mu.Unlock()
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.state = Initializing
	c.mu.Unlock()

	c.logger.Info("lifecycle transition", "from", Idle.String(), "to", Initializing.String())
	go c.run(runCtx)
}

func (c *Controller) run(ctx context.Context) {
	ctx, span := c.tracer.Start(ctx, "gtag.lifecycle.start",
		trace.WithAttributes(attribute.String("gtag.tracking_id", c.cfg.TrackingID)))
	defer span.End()

	if c.cfg.Transport == nil {
		c.degrade(span, fmt.Errorf("%w: no transport", transport.ErrEnvironmentUnsupported))
		return
	}
	if err := c.cfg.Transport.Initialize(ctx).Wait(ctx); err != nil {
		if ctx.Err() != nil {
			err = ErrStopped
		}
		c.degrade(span, err)
		return
	}
	c.transition(span, Initializing, Verifying)

	if d := c.cfg.SettleDelay; d > 0 {
		timer := time.NewTimer(d)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			c.degrade(span, ErrStopped)
			return
		}
	}

	if c.cfg.Gate == nil || !c.cfg.Gate.Verify(ctx) {
		c.degrade(span, ErrVerificationFailed)
		return
	}

	pending := c.activate(span)
	if ev := c.cfg.SmokeEvent; ev != nil {
		c.cfg.Transport.Send(transport.KindEvent, string(ev.Action), taxonomy.Normalize(*ev))
	}
	if pending != nil {
		c.logger.Debug("replaying navigation", "url", pending.URL())
		c.sendPageView(*pending)
	}
}

func (c *Controller) transition(span trace.Span, from, to State) {
	c.mu.Lock()
	c.state = to
	c.mu.Unlock()

	span.AddEvent("transition", trace.WithAttributes(
		attribute.String("from", from.String()),
		attribute.String("to", to.String()),
	))
	c.logger.Info("lifecycle transition", "from", from.String(), "to", to.String())
}

// activate moves to Active and hands back the navigation to replay, if any.
func (c *Controller) activate(span trace.Span) *Snapshot {
	c.mu.Lock()
	c.state = Active
	pending := c.pending
	c.pending = nil
	c.mu.Unlock()

	close(c.settled)
	span.AddEvent("transition", trace.WithAttributes(
		attribute.String("from", Verifying.String()),
		attribute.String("to", Active.String()),
	))
	c.logger.Info("lifecycle transition", "from", Verifying.String(), "to", Active.String())
	return pending
}

func (c *Controller) degrade(span trace.Span, err error) {
	c.mu.Lock()
	from := c.state
	c.state = Degraded
	c.err = err
	c.pending = nil
	c.mu.Unlock()

	close(c.settled)
	span.RecordError(err)
	span.SetStatus(codes.Error, "degraded")
	span.AddEvent("transition", trace.WithAttributes(
		attribute.String("from", from.String()),
		attribute.String("to", Degraded.String()),
	))
	c.logger.Warn("lifecycle degraded, tracking disabled", "from", from.String(), "err", err)
}

// Navigate reports a navigation change. A page view is sent only if the
// controller is Active at the time of the call; otherwise the change is
// dropped, or remembered for replay when ReplayPending is set.
func (c *Controller) Navigate(s Snapshot) {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	state := c.state
	if state != Active {
		if c.cfg.ReplayPending && state != Degraded {
			snap := s
			c.pending = &snap
		}
		c.mu.Unlock()
		c.logger.Debug("navigation not tracked", "url", s.URL(), "state", state.String())
		return
	}
	c.mu.Unlock()

	c.sendPageView(s)
}

func (c *Controller) sendPageView(s Snapshot) {
	u := s.URL()
	title := ""
	if c.cfg.Title != nil {
		title = c.cfg.Title(s)
	}
	c.logger.Debug("tracking page view", "url", u)
	c.cfg.Transport.Send(transport.KindConfig, c.cfg.TrackingID, map[string]any{
		"page_path":     u,
		"page_location": c.cfg.Origin + u,
		"page_title":    title,
	})
}

// Stop ends navigation tracking. Commands already handed to the transport
// are not retracted, and an in-flight script load keeps running.
func (c *Controller) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopped = true
	if c.cancel != nil {
		c.cancel()
	}
}

// Middleware serves every request through next, then reports GET and HEAD
// requests as navigations. Rendering is never gated on tracking.
func (c *Controller) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		next.ServeHTTP(w, r)
		if r.Method == http.MethodGet || r.Method == http.MethodHead {
			c.Navigate(Snapshot{Path: r.URL.Path, Query: r.URL.RawQuery})
		}
	})
}
