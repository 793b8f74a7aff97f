// Package transport bridges the client to the external gtag collector. It
// injects the collector script, owns the data layer that buffers commands
// until the collector is ready, and exposes the single send primitive.
package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"slices"
	"strings"
	"sync"
	"time"
)

var (
	// ErrEnvironmentUnsupported means initialization cannot be attempted at
	// all: no tracking id, or nothing to inject the script with.
	ErrEnvironmentUnsupported = errors.New("transport: environment unsupported")
	// ErrTransportUnavailable means the collector script failed to load.
	ErrTransportUnavailable = errors.New("transport: collector unavailable")
	// ErrNotReady is returned by Probe before the collector is installed.
	ErrNotReady = errors.New("transport: collector not ready")
	// ErrClosed means the Transport was closed before the collector loaded.
	ErrClosed = errors.New("transport: closed")
)

// InitState is the initialization state of a Transport. It only moves forward;
// Failed is terminal for the lifetime of the Transport.
type InitState int

const (
	NotStarted InitState = iota
	Initializing
	Ready
	Failed
)

func (s InitState) String() string {
	switch s {
	case NotStarted:
		return "not_started"
	case Initializing:
		return "initializing"
	case Ready:
		return "ready"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("InitState(%d)", int(s))
	}
}

// Loader injects the collector script found at src and returns the runtime it
// installs.
type Loader interface {
	Load(ctx context.Context, src string) (Collector, error)
}

// Collector is the loaded script's runtime: the destination of every command
// drained from the data layer.
type Collector interface {
	Consume(ctx context.Context, cmd Command) error
}

// Sender is the send primitive. OnReady hooks receive one whose commands are
// delivered ahead of everything buffered before the collector was ready.
type Sender interface {
	Send(kind Kind, target string, payload map[string]any)
}

// DefaultScriptBase is the origin the collector script is fetched from.
const DefaultScriptBase = "https://www.googletagmanager.com"

// DefaultLoadTimeout bounds a single script load.
const DefaultLoadTimeout = 10 * time.Second

// Config configures a Transport.
type Config struct {
	TrackingID  string
	ScriptBase  string
	Loader      Loader
	LoadTimeout time.Duration
	History     int // delivered commands kept in the data layer
	Logger      *slog.Logger
	Clock       func() time.Time
}

// Transport owns the data layer and the collector for one tracking id. A
// process normally holds exactly one; all of its state is written only by the
// single Initialize run.
type Transport struct {
	cfg    Config
	logger *slog.Logger

	mu        sync.Mutex
	state     InitState
	queue     *DataLayer
	outcome   *Outcome
	collector Collector
	hooks     []func(Sender)
	closed    bool

	deliverMu sync.Mutex // serializes draining so delivery order matches push order
}

// New creates a Transport. Nothing is loaded until Initialize.
func New(cfg Config) *Transport {
	if cfg.ScriptBase == "" {
		cfg.ScriptBase = DefaultScriptBase
	}
	if cfg.LoadTimeout <= 0 {
		cfg.LoadTimeout = DefaultLoadTimeout
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Transport{
		cfg:    cfg,
		logger: logger.With("component", "transport"),
	}
}

// TrackingID returns the destination collector account.
func (t *Transport) TrackingID() string {
	return t.cfg.TrackingID
}

// ScriptURL returns the collector script reference for the tracking id.
func (t *Transport) ScriptURL() string {
	base := strings.TrimRight(t.cfg.ScriptBase, "/")
	return base + "/gtag/js?" + url.Values{"id": {t.cfg.TrackingID}}.Encode()
}

// OnReady registers fn to run once the collector has loaded and before the
// Initialize outcome resolves. Commands fn sends through its Sender follow the
// js command and precede every command buffered while loading. Hooks
// registered after that point never run.
func (t *Transport) OnReady(fn func(Sender)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.hooks = append(t.hooks, fn)
}

// State returns the current initialization state.
func (t *Transport) State() InitState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Installed reports whether the send primitive has a collector behind it.
func (t *Transport) Installed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.collector != nil
}

// DataLayer returns the command queue, or nil if nothing has created it yet.
func (t *Transport) DataLayer() *DataLayer {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.queue
}

// ensureQueue creates the data layer on first use. Callers hold t.mu.
func (t *Transport) ensureQueue() *DataLayer {
	if t.queue == nil {
		t.queue = NewDataLayer(t.cfg.History)
	}
	return t.queue
}

// Initialize starts loading the collector script and returns the completion
// signal. It is idempotent: while a load is in flight every call returns the
// same pending Outcome, and once the Transport is Ready or Failed the settled
// Outcome is returned without injecting the script again.
//
// The load is detached from ctx cancellation so an abandoned caller cannot
// poison the shared Transport; it is bounded by the configured LoadTimeout.
func (t *Transport) Initialize(ctx context.Context) *Outcome {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.outcome != nil {
		return t.outcome
	}

	switch {
	case t.cfg.TrackingID == "":
		t.state = Failed
		t.outcome = settledOutcome(fmt.Errorf("%w: no tracking id", ErrEnvironmentUnsupported))
		return t.outcome
	case t.cfg.Loader == nil:
		t.state = Failed
		t.outcome = settledOutcome(fmt.Errorf("%w: no script loader", ErrEnvironmentUnsupported))
		return t.outcome
	}

	t.ensureQueue()
	t.state = Initializing
	t.outcome = newOutcome()
	go t.load(context.WithoutCancel(ctx), t.ScriptURL(), t.outcome)
	return t.outcome
}

func (t *Transport) load(ctx context.Context, src string, out *Outcome) {
	ctx, cancel := context.WithTimeout(ctx, t.cfg.LoadTimeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			t.fail(out, src, fmt.Errorf("panic during install: %v", r))
		}
	}()

	t.logger.Info("loading collector script", "src", src)
	c, err := t.cfg.Loader.Load(ctx, src)
	if err == nil && c == nil {
		err = errors.New("loader returned no collector")
	}
	if err != nil {
		t.fail(out, src, err)
		return
	}

	now := t.cfg.Clock()
	pre := &preamble{t: t}
	pre.cmds = append(pre.cmds, Command{Kind: KindJS, Target: now.UTC().Format(time.RFC3339Nano), At: now})

	t.mu.Lock()
	hooks := slices.Clone(t.hooks)
	t.mu.Unlock()
	for _, fn := range hooks {
		fn(pre)
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		closeCollector(ctx, c)
		t.fail(out, src, ErrClosed)
		return
	}
	t.collector = c
	t.queue.prepend(pre.cmds)
	t.state = Ready
	t.mu.Unlock()

	t.flush(ctx)
	t.logger.Info("collector ready", "tracking_id", t.cfg.TrackingID)
	out.resolve(nil)
}

// preamble collects the commands OnReady hooks send so they can be placed
// ahead of the buffered ones.
type preamble struct {
	t    *Transport
	cmds []Command
}

func (p *preamble) Send(kind Kind, target string, payload map[string]any) {
	p.cmds = append(p.cmds, p.t.command(kind, target, payload))
}

func (t *Transport) fail(out *Outcome, src string, cause error) {
	err := fmt.Errorf("%w: load %s: %w", ErrTransportUnavailable, src, cause)
	t.mu.Lock()
	t.state = Failed
	t.mu.Unlock()
	t.logger.Error("failed to load collector script", "src", src, "err", cause)
	out.resolve(err)
}

// Send enqueues a gtag call. Before the collector is ready the call waits in
// the data layer; once ready, the layer is drained in order. Send never fails:
// collector errors are logged. Once initialization has failed nothing will
// ever drain the layer, so the command is dropped.
func (t *Transport) Send(kind Kind, target string, payload map[string]any) {
	t.mu.Lock()
	if t.state == Failed {
		t.mu.Unlock()
		t.logger.Debug("command dropped, collector unavailable", "kind", kind, "target", target)
		return
	}
	t.ensureQueue().Push(t.command(kind, target, payload))
	ready := t.state == Ready
	t.mu.Unlock()

	if ready {
		t.flush(context.Background())
	}
}

// Probe sends one command synchronously and reports whether the collector
// accepted it. Commands queued ahead of it are delivered first.
func (t *Transport) Probe(ctx context.Context, kind Kind, target string, payload map[string]any) error {
	t.mu.Lock()
	if t.state != Ready {
		t.mu.Unlock()
		return ErrNotReady
	}
	seq := t.queue.Push(t.command(kind, target, payload))
	t.mu.Unlock()

	var probeErr error
	t.drain(ctx, func(cmd Command, err error) {
		if cmd.seq == seq {
			probeErr = err
		} else if err != nil {
			t.logger.Warn("collector rejected command", "kind", cmd.Kind, "target", cmd.Target, "err", err)
		}
	})
	return probeErr
}

func (t *Transport) command(kind Kind, target string, payload map[string]any) Command {
	return Command{Kind: kind, Target: target, Payload: payload, At: t.cfg.Clock()}
}

func (t *Transport) flush(ctx context.Context) {
	t.drain(ctx, func(cmd Command, err error) {
		if err != nil {
			t.logger.Warn("collector rejected command", "kind", cmd.Kind, "target", cmd.Target, "err", err)
		}
	})
}

func (t *Transport) drain(ctx context.Context, report func(Command, error)) {
	t.deliverMu.Lock()
	defer t.deliverMu.Unlock()

	t.mu.Lock()
	c := t.collector
	q := t.queue
	t.mu.Unlock()

	for _, cmd := range q.take() {
		report(cmd, deliver(ctx, c, cmd))
	}
}

func deliver(ctx context.Context, c Collector, cmd Command) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("collector panic: %v", r)
		}
	}()
	return c.Consume(ctx, cmd)
}

// Close releases the collector if it holds resources, flushing what it can
// before ctx expires. A collector still loading is released as soon as it
// arrives.
func (t *Transport) Close(ctx context.Context) error {
	t.mu.Lock()
	t.closed = true
	c := t.collector
	t.mu.Unlock()
	return closeCollector(ctx, c)
}

func closeCollector(ctx context.Context, c Collector) error {
	if closer, ok := c.(interface{ Close(context.Context) error }); ok {
		return closer.Close(ctx)
	}
	return nil
}
