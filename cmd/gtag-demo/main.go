// gtag-demo is a small dashboard server instrumented with the gtag client.
// Page requests are reported as navigations and the /api routes emit
// widget interaction events, consent changes and user properties.
//
// Run twin-gtag alongside it and set GTAG_SCRIPT_BASE=http://localhost:12120
// to inspect the traffic without touching the real collector.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/wondertwin-ai/gtagkit/internal/otel"
	"github.com/wondertwin-ai/gtagkit/internal/scenario"
	"github.com/wondertwin-ai/gtagkit/pkg/gtag"
	"github.com/wondertwin-ai/gtagkit/pkg/gtag/config"
	"github.com/wondertwin-ai/gtagkit/pkg/twincore"
)

func main() {
	if err := run(context.Background(), os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "gtag-demo: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("gtag-demo", flag.ContinueOnError)
	addr := fs.String("addr", ":8080", "listen address")
	configPath := fs.String("config", "", "YAML client configuration")
	verbose := fs.Bool("verbose", false, "debug logging")
	scenarioPath := fs.String("scenario", "", "run a scenario file or directory against a collector twin and exit")
	twinURL := fs.String("twin", "", "collector twin base URL for -scenario (default: the configured script base)")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil
		}
		return err
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	if *verbose {
		cfg.Verbose = true
	}
	logger := twincore.NewLogger(cfg.Verbose)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := otel.Setup(ctx, "gtag-demo")
	if err != nil {
		return err
	}
	defer shutdownTracing(context.Background())

	if *scenarioPath != "" {
		if *twinURL == "" {
			*twinURL = cfg.ScriptBase
		}
		return runScenarios(ctx, *cfg, *scenarioPath, *twinURL, logger)
	}

	client := gtag.New(*cfg, gtag.WithLogger(logger), gtag.WithTitle(pageTitle))
	client.Start(ctx)

	srv := &http.Server{
		Addr:              *addr,
		Handler:           newApp(client, logger).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		logger.Info("gtag-demo listening", "addr", *addr, "tracking_id", cfg.TrackingID)
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

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", "err", err)
	}
	if err := client.Close(shutdownCtx); err != nil {
		logger.Warn("flushing telemetry", "err", err)
	}
	return nil
}

// runScenarios plays each scenario with a fresh client and prints one line
// per expectation.
func runScenarios(ctx context.Context, cfg config.Config, path, twinURL string, logger *slog.Logger) error {
	var scenarios []*scenario.Scenario
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if info.IsDir() {
		scenarios, err = scenario.LoadDir(path)
	} else {
		var s *scenario.Scenario
		s, err = scenario.LoadScenario(path)
		scenarios = append(scenarios, s)
	}
	if err != nil {
		return err
	}

	failed := 0
	for _, s := range scenarios {
		client := gtag.New(cfg, gtag.WithLogger(logger), gtag.WithTitle(pageTitle))
		res, err := scenario.NewRunner(client, twinURL, nil).Run(ctx, s)
		if err != nil {
			return fmt.Errorf("scenario %q: %w", s.Name, err)
		}
		fmt.Printf("%s (%s, %v)\n", res.ScenarioName, res.State, res.Duration.Round(time.Millisecond))
		for _, c := range res.Checks {
			if c.Passed {
				fmt.Printf("  PASS %s\n", c.Name)
				continue
			}
			fmt.Printf("  FAIL %s: %s\n", c.Name, c.Error)
		}
		if !res.Passed {
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d scenarios failed", failed, len(scenarios))
	}
	return nil
}
