package twincore

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestJSON(t *testing.T) {
	rec := httptest.NewRecorder()
	JSON(rec, http.StatusCreated, map[string]string{"id": "hit_000001"})

	if rec.Code != http.StatusCreated {
		t.Errorf("status = %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %s", ct)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body["id"] != "hit_000001" {
		t.Errorf("body = %+v", body)
	}

	rec = httptest.NewRecorder()
	JSON(rec, http.StatusNoContent, nil)
	if rec.Body.Len() != 0 {
		t.Errorf("expected empty body, got %s", rec.Body.String())
	}
}

func TestError(t *testing.T) {
	rec := httptest.NewRecorder()
	Error(rec, http.StatusBadRequest, "missing id")

	var body struct {
		Error struct {
			Message string `json:"message"`
			Type    string `json:"type"`
			Code    int    `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body.Error.Message != "missing id" || body.Error.Code != 400 || body.Error.Type != "Bad Request" {
		t.Errorf("error body = %+v", body.Error)
	}
}

func TestParseFlags(t *testing.T) {
	t.Setenv("PORT", "")
	cfg, err := ParseFlags("twin-gtag", []string{"-port", "9100", "-latency", "5ms", "-fail-rate", "0.5", "-verbose"})
	if err != nil {
		t.Fatalf("ParseFlags: %v", err)
	}
	if cfg.Name != "twin-gtag" || cfg.Port != 9100 || cfg.Latency != 5*time.Millisecond || cfg.FailRate != 0.5 || !cfg.Verbose {
		t.Errorf("cfg = %+v", cfg)
	}
}

func TestParseFlagsPortFromEnv(t *testing.T) {
	t.Setenv("PORT", "9200")
	cfg, err := ParseFlags("twin-gtag", nil)
	if err != nil {
		t.Fatalf("ParseFlags: %v", err)
	}
	if cfg.Port != 9200 {
		t.Errorf("Port = %d, want 9200", cfg.Port)
	}
}

func TestParseFlagsRejectsBadInput(t *testing.T) {
	t.Setenv("PORT", "")
	tests := [][]string{
		{"-fail-rate", "2"},
		{"-unknown"},
	}
	for _, args := range tests {
		if _, err := ParseFlags("twin-gtag", args); err == nil {
			t.Errorf("ParseFlags(%v) succeeded", args)
		}
	}
}

func TestUpdateConfig(t *testing.T) {
	tw := New(&Config{Name: "twin-gtag"})

	if err := tw.UpdateConfig(map[string]any{"latency": "20ms", "fail_rate": 0.25, "verbose": true}); err != nil {
		t.Fatalf("UpdateConfig: %v", err)
	}
	cfg := tw.Config()
	if cfg.Latency != 20*time.Millisecond || cfg.FailRate != 0.25 || !cfg.Verbose {
		t.Errorf("cfg = %+v", cfg)
	}

	bad := []map[string]any{
		{"latency": "-1s"},
		{"fail_rate": 1.5},
		{"verbose": "yes"},
		{"port": 1},
		{"nope": true},
		{"latency": "1s", "fail_rate": "high"},
	}
	for _, u := range bad {
		if err := tw.UpdateConfig(u); err == nil {
			t.Errorf("UpdateConfig(%v) succeeded", u)
		}
	}
	if tw.Config().Latency != 20*time.Millisecond {
		t.Error("rejected update was partially applied")
	}
}

func TestTwinServeHTTP(t *testing.T) {
	tw := New(&Config{Name: "twin-gtag"})
	tw.Router.Get("/ping", func(w http.ResponseWriter, r *http.Request) {
		JSON(w, http.StatusOK, map[string]string{"pong": "1"})
	})

	rec := httptest.NewRecorder()
	tw.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ping", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	entries := tw.Middleware().ReqLog.Entries()
	if len(entries) != 1 || entries[0].RequestID == "" {
		t.Errorf("request log = %+v", entries)
	}
}
