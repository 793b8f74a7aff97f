package twincore

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func staticConfig(cfg Config) func() Config {
	return func() Config { return cfg }
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestRequestLogRingBuffer(t *testing.T) {
	rl := NewRequestLog(3)
	for _, p := range []string{"/a", "/b", "/c", "/d", "/e"} {
		rl.Add(RequestLogEntry{Path: p})
	}

	entries := rl.Entries()
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}
	if entries[0].Path != "/c" || entries[2].Path != "/e" {
		t.Errorf("unexpected entries: %+v", entries)
	}

	entries[0].Path = "/mutated"
	if rl.Entries()[0].Path != "/c" {
		t.Error("Entries should return a copy")
	}

	rl.Clear()
	if len(rl.Entries()) != 0 {
		t.Error("expected empty log after Clear")
	}
}

func TestRequestLogCount(t *testing.T) {
	rl := NewRequestLog(10)
	rl.Add(RequestLogEntry{Path: "/gtag/js"})
	rl.Add(RequestLogEntry{Path: "/g/collect"})
	rl.Add(RequestLogEntry{Path: "/gtag/js"})

	if n := rl.Count("/gtag/js"); n != 2 {
		t.Errorf("Count(/gtag/js) = %d, want 2", n)
	}
	if n := rl.Count("/missing"); n != 0 {
		t.Errorf("Count(/missing) = %d, want 0", n)
	}
}

func TestFaultRegistry(t *testing.T) {
	fr := NewFaultRegistry()
	fr.Set("/gtag/js", FaultConfig{StatusCode: 503})

	f := fr.Check("/gtag/js")
	if f == nil || f.StatusCode != 503 {
		t.Fatalf("Check = %+v", f)
	}
	if f.Rate != 1.0 {
		t.Errorf("default rate = %v, want 1.0", f.Rate)
	}
	if fr.Check("/g/collect") != nil {
		t.Error("unexpected fault on unregistered path")
	}

	all := fr.All()
	delete(all, "/gtag/js")
	if len(fr.All()) != 1 {
		t.Error("All should return a copy")
	}

	if !fr.Remove("/gtag/js") {
		t.Error("Remove should report an existing fault")
	}
	if fr.Remove("/gtag/js") {
		t.Error("Remove should report a missing fault")
	}

	fr.Set("/a", FaultConfig{StatusCode: 500})
	fr.Reset()
	if len(fr.All()) != 0 {
		t.Error("expected no faults after Reset")
	}
}

func TestCORS(t *testing.T) {
	m := NewMiddleware(staticConfig(Config{}), quietLogger())
	h := m.CORS(okHandler())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodOptions, "/g/collect", nil))
	if rec.Code != http.StatusNoContent {
		t.Errorf("preflight status = %d, want 204", rec.Code)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Error("missing Access-Control-Allow-Origin")
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/gtag/js", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("GET status = %d, want 200", rec.Code)
	}
}

func TestRequestLogMiddleware(t *testing.T) {
	for _, verbose := range []bool{false, true} {
		m := NewMiddleware(staticConfig(Config{Verbose: verbose}), quietLogger())
		h := m.RequestLog(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusAccepted)
		}))

		req := httptest.NewRequest(http.MethodPost, "/g/collect?v=2", nil)
		req.Header.Set("X-Test", "yes")
		h.ServeHTTP(httptest.NewRecorder(), req)

		entries := m.ReqLog.Entries()
		if len(entries) != 1 {
			t.Fatalf("verbose=%v: expected 1 entry, got %d", verbose, len(entries))
		}
		e := entries[0]
		if e.Method != http.MethodPost || e.Path != "/g/collect" || e.Query != "v=2" || e.StatusCode != http.StatusAccepted {
			t.Errorf("verbose=%v: unexpected entry %+v", verbose, e)
		}
		if gotHeaders := e.Headers != nil; gotHeaders != verbose {
			t.Errorf("verbose=%v: headers captured = %v", verbose, gotHeaders)
		}
	}
}

func TestFaultInjection(t *testing.T) {
	tests := []struct {
		name       string
		fault      *FaultConfig
		wantStatus int
		wantBody   string
	}{
		{name: "no fault", wantStatus: http.StatusOK},
		{name: "status", fault: &FaultConfig{StatusCode: 503}, wantStatus: 503, wantBody: `{"error":{"message":"injected fault","code":503}}`},
		{name: "custom body", fault: &FaultConfig{StatusCode: 404, Body: "not here"}, wantStatus: 404, wantBody: "not here"},
		{name: "delay only", fault: &FaultConfig{Delay: 10 * time.Millisecond}, wantStatus: http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewMiddleware(staticConfig(Config{}), quietLogger())
			if tt.fault != nil {
				m.Faults.Set("/gtag/js", *tt.fault)
			}
			rec := httptest.NewRecorder()
			m.FaultInjection(okHandler()).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/gtag/js", nil))

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if tt.wantBody != "" && rec.Body.String() != tt.wantBody {
				t.Errorf("body = %q, want %q", rec.Body.String(), tt.wantBody)
			}
		})
	}
}

func TestLatencyInjection(t *testing.T) {
	m := NewMiddleware(staticConfig(Config{Latency: 50 * time.Millisecond}), quietLogger())
	start := time.Now()
	m.LatencyInjection(okHandler()).ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	if elapsed := time.Since(start); elapsed < 40*time.Millisecond {
		t.Errorf("elapsed %v, want at least 40ms", elapsed)
	}
}

func TestRandomFailure(t *testing.T) {
	tests := []struct {
		rate float64
		want int
	}{
		{rate: 1.0, want: http.StatusInternalServerError},
		{rate: 0, want: http.StatusOK},
	}
	for _, tt := range tests {
		m := NewMiddleware(staticConfig(Config{FailRate: tt.rate}), quietLogger())
		for i := 0; i < 20; i++ {
			rec := httptest.NewRecorder()
			m.RandomFailure(okHandler()).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
			if rec.Code != tt.want {
				t.Fatalf("rate %v: status = %d, want %d", tt.rate, rec.Code, tt.want)
			}
		}
	}
}
