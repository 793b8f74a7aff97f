package lifecycle

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/wondertwin-ai/gtagkit/pkg/gtag/taxonomy"
	"github.com/wondertwin-ai/gtagkit/pkg/gtag/transport"
	"github.com/wondertwin-ai/gtagkit/pkg/gtag/verify"
)

type recorder struct {
	mu      sync.Mutex
	cmds    []transport.Command
	panicOn string
}

func (r *recorder) Consume(ctx context.Context, cmd transport.Command) error {
	if r.panicOn != "" && cmd.Target == r.panicOn {
		panic("self-test threw")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cmds = append(r.cmds, cmd)
	return nil
}

// pageViews returns the page_path of every page-view command received.
func (r *recorder) pageViews() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, cmd := range r.cmds {
		if cmd.Kind != transport.KindConfig {
			continue
		}
		if p, ok := cmd.Payload["page_path"].(string); ok {
			out = append(out, p)
		}
	}
	return out
}

func (r *recorder) events(action taxonomy.Action) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, cmd := range r.cmds {
		if cmd.Kind == transport.KindEvent && cmd.Target == string(action) {
			n++
		}
	}
	return n
}

type gatedLoader struct {
	release chan struct{}
	err     error
	rec     *recorder
	loads   atomic.Int32
}

func (l *gatedLoader) Load(ctx context.Context, src string) (transport.Collector, error) {
	l.loads.Add(1)
	if l.release != nil {
		<-l.release
	}
	if l.err != nil {
		return nil, l.err
	}
	return l.rec, nil
}

type fixedVerifier bool

func (v fixedVerifier) Verify(context.Context) bool { return bool(v) }

type harness struct {
	ctrl   *Controller
	tr     *transport.Transport
	loader *gatedLoader
	rec    *recorder
}

func newHarness(t *testing.T, loader *gatedLoader, mutate func(*Config)) *harness {
	t.Helper()
	if loader.rec == nil {
		loader.rec = &recorder{}
	}
	tr := transport.New(transport.Config{TrackingID: "G-TEST", Loader: loader})
	cfg := Config{
		TrackingID: "G-TEST",
		Transport:  tr,
		Gate:       verify.New(tr, nil),
		Origin:     "https://portal.example.com",
	}
	if mutate != nil {
		mutate(&cfg)
	}
	return &harness{ctrl: New(cfg), tr: tr, loader: loader, rec: loader.rec}
}

func waitSettled(t *testing.T, c *Controller) {
	t.Helper()
	select {
	case <-c.Settled():
	case <-time.After(2 * time.Second):
		t.Fatalf("controller did not settle, state %s", c.State())
	}
}

func TestSnapshotURL(t *testing.T) {
	tests := []struct {
		snap Snapshot
		want string
	}{
		{Snapshot{Path: "/dashboard"}, "/dashboard"},
		{Snapshot{Path: "/dashboard", Query: "tab=entries"}, "/dashboard?tab=entries"},
		{Snapshot{Path: "/", Query: "a=1&b=2"}, "/?a=1&b=2"},
	}
	for _, tt := range tests {
		if got := tt.snap.URL(); got != tt.want {
			t.Errorf("URL() = %q, want %q", got, tt.want)
		}
	}
}

func TestActiveNavigationSendsPageView(t *testing.T) {
	h := newHarness(t, &gatedLoader{}, func(c *Config) {
		c.Title = func(s Snapshot) string { return "Dashboard" }
	})
	h.ctrl.Start(context.Background())
	waitSettled(t, h.ctrl)
	if h.ctrl.State() != Active {
		t.Fatalf("expected active, got %s (err %v)", h.ctrl.State(), h.ctrl.Err())
	}

	h.ctrl.Navigate(Snapshot{Path: "/dashboard", Query: "tab=entries"})

	views := h.rec.pageViews()
	if len(views) != 1 || views[0] != "/dashboard?tab=entries" {
		t.Fatalf("expected one page view for /dashboard?tab=entries, got %v", views)
	}

	h.rec.mu.Lock()
	last := h.rec.cmds[len(h.rec.cmds)-1]
	h.rec.mu.Unlock()
	if last.Target != "G-TEST" {
		t.Errorf("expected config target G-TEST, got %s", last.Target)
	}
	if last.Payload["page_location"] != "https://portal.example.com/dashboard?tab=entries" {
		t.Errorf("unexpected page_location %v", last.Payload["page_location"])
	}
	if last.Payload["page_title"] != "Dashboard" {
		t.Errorf("unexpected page_title %v", last.Payload["page_title"])
	}
}

func TestNavigationBeforeActiveIsDropped(t *testing.T) {
	h := newHarness(t, &gatedLoader{release: make(chan struct{})}, nil)

	h.ctrl.Navigate(Snapshot{Path: "/idle"})
	h.ctrl.Start(context.Background())
	if h.ctrl.State() != Initializing {
		t.Fatalf("expected initializing, got %s", h.ctrl.State())
	}
	h.ctrl.Navigate(Snapshot{Path: "/early"})

	close(h.loader.release)
	waitSettled(t, h.ctrl)
	h.ctrl.Navigate(Snapshot{Path: "/shipments"})

	views := h.rec.pageViews()
	if len(views) != 1 || views[0] != "/shipments" {
		t.Fatalf("expected only the post-activation page view, got %v", views)
	}
}

func TestReplayPendingNavigation(t *testing.T) {
	h := newHarness(t, &gatedLoader{release: make(chan struct{})}, func(c *Config) {
		c.ReplayPending = true
	})
	h.ctrl.Start(context.Background())
	h.ctrl.Navigate(Snapshot{Path: "/first"})
	h.ctrl.Navigate(Snapshot{Path: "/invoices", Query: "month=3"})

	close(h.loader.release)
	waitSettled(t, h.ctrl)

	views := h.rec.pageViews()
	if len(views) != 1 || views[0] != "/invoices?month=3" {
		t.Fatalf("expected replay of the latest navigation only, got %v", views)
	}
}

func TestScriptLoadFailureDegrades(t *testing.T) {
	h := newHarness(t, &gatedLoader{err: errors.New("network error")}, nil)
	h.ctrl.Start(context.Background())
	waitSettled(t, h.ctrl)

	if h.ctrl.State() != Degraded {
		t.Fatalf("expected degraded, got %s", h.ctrl.State())
	}
	if !errors.Is(h.ctrl.Err(), transport.ErrTransportUnavailable) {
		t.Errorf("expected ErrTransportUnavailable, got %v", h.ctrl.Err())
	}

	h.ctrl.Navigate(Snapshot{Path: "/shipments"})
	if views := h.rec.pageViews(); len(views) != 0 {
		t.Errorf("expected no page views while degraded, got %v", views)
	}
}

func TestVerificationFailureDegrades(t *testing.T) {
	h := newHarness(t, &gatedLoader{}, func(c *Config) {
		c.Gate = fixedVerifier(false)
	})
	h.ctrl.Start(context.Background())
	waitSettled(t, h.ctrl)

	if h.ctrl.State() != Degraded {
		t.Fatalf("expected degraded, got %s", h.ctrl.State())
	}
	if !errors.Is(h.ctrl.Err(), ErrVerificationFailed) {
		t.Errorf("expected ErrVerificationFailed, got %v", h.ctrl.Err())
	}
	h.ctrl.Navigate(Snapshot{Path: "/dashboard"})
	if views := h.rec.pageViews(); len(views) != 0 {
		t.Errorf("expected no page views, got %v", views)
	}
}

func TestSelfTestPanicDegrades(t *testing.T) {
	rec := &recorder{panicOn: string(taxonomy.ActionVerification)}
	h := newHarness(t, &gatedLoader{rec: rec}, nil)
	h.ctrl.Start(context.Background())
	waitSettled(t, h.ctrl)

	if h.ctrl.State() != Degraded {
		t.Fatalf("expected degraded, got %s", h.ctrl.State())
	}
}

func TestStartIsIdempotent(t *testing.T) {
	loader := &gatedLoader{}
	h := newHarness(t, loader, nil)
	other := New(Config{TrackingID: "G-TEST", Transport: h.tr, Gate: fixedVerifier(true)})

	h.ctrl.Start(context.Background())
	h.ctrl.Start(context.Background())
	other.Start(context.Background())
	waitSettled(t, h.ctrl)
	waitSettled(t, other)

	if n := loader.loads.Load(); n != 1 {
		t.Errorf("expected one script injection across controllers, got %d", n)
	}
}

func TestSmokeEventOnActive(t *testing.T) {
	smoke := taxonomy.Event{Action: taxonomy.ActionDashPending, Category: taxonomy.CategoryDashboard, Label: "Test Button Click"}
	h := newHarness(t, &gatedLoader{}, func(c *Config) {
		c.SmokeEvent = &smoke
	})
	h.ctrl.Start(context.Background())
	waitSettled(t, h.ctrl)

	if n := h.rec.events(taxonomy.ActionDashPending); n != 1 {
		t.Errorf("expected one smoke event, got %d", n)
	}
}

func TestStopEndsTracking(t *testing.T) {
	h := newHarness(t, &gatedLoader{}, nil)
	h.ctrl.Start(context.Background())
	waitSettled(t, h.ctrl)

	h.ctrl.Navigate(Snapshot{Path: "/a"})
	h.ctrl.Stop()
	h.ctrl.Navigate(Snapshot{Path: "/b"})

	views := h.rec.pageViews()
	if len(views) != 1 || views[0] != "/a" {
		t.Errorf("expected only the page view before stop, got %v", views)
	}
}

func TestStopDuringSettleDelay(t *testing.T) {
	h := newHarness(t, &gatedLoader{}, func(c *Config) {
		c.SettleDelay = time.Hour
	})
	h.ctrl.Start(context.Background())

	deadline := time.Now().Add(2 * time.Second)
	for h.ctrl.State() != Verifying && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	h.ctrl.Stop()
	waitSettled(t, h.ctrl)

	if h.ctrl.State() != Degraded || !errors.Is(h.ctrl.Err(), ErrStopped) {
		t.Errorf("expected degraded by stop, got %s (%v)", h.ctrl.State(), h.ctrl.Err())
	}
}

func TestMiddlewareRendersAndTracks(t *testing.T) {
	h := newHarness(t, &gatedLoader{release: make(chan struct{})}, nil)
	h.ctrl.Start(context.Background())

	handler := h.ctrl.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("page"))
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/dashboard", nil))
	if rec.Body.String() != "page" {
		t.Fatalf("expected content to render while initializing, got %q", rec.Body.String())
	}

	close(h.loader.release)
	waitSettled(t, h.ctrl)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/dashboard?tab=entries", nil))
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/export", nil))

	views := h.rec.pageViews()
	if len(views) != 1 || views[0] != "/dashboard?tab=entries" {
		t.Errorf("expected one tracked GET, got %v", views)
	}
}

func TestStateString(t *testing.T) {
	for s, want := range map[State]string{
		Idle: "idle", Initializing: "initializing", Verifying: "verifying",
		Active: "active", Degraded: "degraded",
	} {
		if s.String() != want {
			t.Errorf("expected %s, got %s", want, s)
		}
	}
}
