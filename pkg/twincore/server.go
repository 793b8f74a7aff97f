// Package twincore provides the HTTP server, flags, middleware chain and
// response helpers shared by gtagkit twins.
package twincore

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
)

// Config holds the settings common to every twin.
type Config struct {
	Name     string
	Port     int
	Latency  time.Duration
	FailRate float64
	SeedFile string
	Verbose  bool
}

// ParseFlags parses the common twin flags from args. PORT from the
// environment is used when -port is not given.
func ParseFlags(name string, args []string) (*Config, error) {
	cfg := &Config{Name: name}
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.IntVar(&cfg.Port, "port", 0, "HTTP listen port")
	fs.DurationVar(&cfg.Latency, "latency", 0, "base simulated latency")
	fs.Float64Var(&cfg.FailRate, "fail-rate", 0, "random failure rate 0.0-1.0")
	fs.StringVar(&cfg.SeedFile, "seed-file", "", "JSON fixture loaded as initial state")
	fs.BoolVar(&cfg.Verbose, "verbose", false, "log every request")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if cfg.Port == 0 {
		if p := os.Getenv("PORT"); p != "" {
			n, err := strconv.Atoi(p)
			if err != nil {
				return nil, fmt.Errorf("invalid PORT %q: %w", p, err)
			}
			cfg.Port = n
		}
	}
	if cfg.FailRate < 0 || cfg.FailRate > 1 {
		return nil, fmt.Errorf("fail-rate must be between 0.0 and 1.0")
	}
	return cfg, nil
}

// NewLogger returns the JSON logger twins and demo binaries write to stdout.
func NewLogger(verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
}

// Twin is the base server: a chi router behind the common middleware.
type Twin struct {
	Router *chi.Mux
	Logger *slog.Logger

	mu  sync.RWMutex
	cfg Config
	mw  *Middleware
}

// New creates a Twin. Latency and random failure middleware are always
// mounted and read the live config, so runtime updates take effect at once.
func New(cfg *Config) *Twin {
	t := &Twin{
		Router: chi.NewRouter(),
		Logger: NewLogger(cfg.Verbose),
		cfg:    *cfg,
	}
	t.mw = NewMiddleware(t.Config, t.Logger)

	t.Router.Use(chimw.RequestID)
	t.Router.Use(chimw.RealIP)
	t.Router.Use(t.mw.CORS)
	t.Router.Use(t.mw.RequestLog)
	t.Router.Use(t.mw.LatencyInjection)
	t.Router.Use(t.mw.RandomFailure)
	return t
}

// Config returns a copy of the live configuration.
func (t *Twin) Config() Config {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.cfg
}

// Middleware returns the shared middleware, e.g. for fault injection.
func (t *Twin) Middleware() *Middleware {
	return t.mw
}

// GetConfig returns the runtime configuration for the admin plane.
func (t *Twin) GetConfig() map[string]any {
	cfg := t.Config()
	return map[string]any{
		"name":      cfg.Name,
		"port":      cfg.Port,
		"latency":   cfg.Latency.String(),
		"fail_rate": cfg.FailRate,
		"verbose":   cfg.Verbose,
	}
}

// UpdateConfig applies runtime changes to latency, fail_rate and verbose.
// Every key is validated before any is applied.
func (t *Twin) UpdateConfig(updates map[string]any) error {
	next := t.Config()
	for k, v := range updates {
		switch k {
		case "latency":
			s, ok := v.(string)
			if !ok {
				return fmt.Errorf("latency must be a duration string")
			}
			d, err := time.ParseDuration(s)
			if err != nil {
				return fmt.Errorf("invalid latency duration: %w", err)
			}
			if d < 0 {
				return fmt.Errorf("latency must not be negative")
			}
			next.Latency = d
		case "fail_rate":
			f, ok := v.(float64)
			if !ok {
				return fmt.Errorf("fail_rate must be a number")
			}
			if f < 0 || f > 1 {
				return fmt.Errorf("fail_rate must be between 0.0 and 1.0")
			}
			next.FailRate = f
		case "verbose":
			b, ok := v.(bool)
			if !ok {
				return fmt.Errorf("verbose must be a boolean")
			}
			next.Verbose = b
		case "name", "port", "seed_file":
			return fmt.Errorf("%s cannot be changed at runtime", k)
		default:
			return fmt.Errorf("unknown config key: %s", k)
		}
	}

	t.mu.Lock()
	t.cfg = next
	t.mu.Unlock()
	return nil
}

// Serve listens until ctx is cancelled or the process is interrupted, then
// shuts down gracefully.
func (t *Twin) Serve(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := t.Config()
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      t.Router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		t.Logger.Info("starting twin", "name", cfg.Name, "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	t.Logger.Info("shutting down twin", "name", cfg.Name)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func (t *Twin) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	t.Router.ServeHTTP(w, r)
}

// JSON writes v as a JSON response.
func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		json.NewEncoder(w).Encode(v)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]any{
		"error": map[string]any{
			"message": message,
			"type":    http.StatusText(status),
			"code":    status,
		},
	})
}
