// twin-gtag simulates the gtag collector: it serves the loader script,
// ingests hits on the collect endpoint and exposes them through the admin
// plane and a DebugView-style websocket stream.
//
// Point a client at it by setting GTAG_SCRIPT_BASE to the twin's address.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/wondertwin-ai/gtagkit/internal/collector/api"
	"github.com/wondertwin-ai/gtagkit/internal/collector/debugview"
	"github.com/wondertwin-ai/gtagkit/internal/collector/store"
	"github.com/wondertwin-ai/gtagkit/internal/otel"
	"github.com/wondertwin-ai/gtagkit/pkg/admin"
	"github.com/wondertwin-ai/gtagkit/pkg/twincore"
)

const defaultPort = 12120

func main() {
	if err := run(context.Background(), os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "twin-gtag: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	cfg, err := twincore.ParseFlags("twin-gtag", args)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil
		}
		return err
	}
	if cfg.Port == 0 {
		cfg.Port = defaultPort
	}

	shutdown, err := otel.Setup(ctx, "twin-gtag")
	if err != nil {
		return err
	}
	defer shutdown(context.Background())

	twin := twincore.New(cfg)
	memStore := store.New(store.DefaultRetention)
	hub := debugview.NewHub(32, twin.Logger)

	api.NewHandler(memStore, twin.Middleware(), hub).Routes(twin.Router)

	adminHandler := admin.NewHandler(memStore, twin.Middleware(), memStore.Clock)
	adminHandler.SetConfigProvider(twin)
	adminHandler.Routes(twin.Router)

	if cfg.SeedFile != "" {
		data, err := os.ReadFile(cfg.SeedFile)
		if err != nil {
			return fmt.Errorf("reading seed file: %w", err)
		}
		if err := memStore.LoadState(data); err != nil {
			return fmt.Errorf("loading seed data: %w", err)
		}
		twin.Logger.Info("loaded seed data", "file", cfg.SeedFile)
	}

	twin.Logger.Info("twin-gtag ready", "port", cfg.Port)
	return twin.Serve(ctx)
}
