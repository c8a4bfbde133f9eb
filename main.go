package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/safetrail-data/sentinel.report/internal/analysis"
	"github.com/safetrail-data/sentinel.report/internal/api"
	"github.com/safetrail-data/sentinel.report/internal/config"
	"github.com/safetrail-data/sentinel.report/internal/eventstore"
	"github.com/safetrail-data/sentinel.report/internal/iforest"
	"github.com/safetrail-data/sentinel.report/internal/timeutil"
	"github.com/safetrail-data/sentinel.report/internal/version"
)

var (
	listen      = flag.String("listen", "", "Listen address (overrides HOST/PORT)")
	dbPath      = flag.String("db", "", "Event store path (overrides EVENT_STORE_PATH)")
	modelPath   = flag.String("model", "", "Model bundle path (overrides MODEL_PATH)")
	showVersion = flag.Bool("version", false, "Print version and exit")
)

// Main
func main() {
	flag.Parse()

	if *showVersion {
		fmt.Printf("sentinel %s (%s, built %s)\n", version.Version, version.GitSHA, version.BuildTime)
		return
	}

	cfg, err := config.FromEnv()
	if err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}
	if *dbPath != "" {
		cfg.EventStorePath = *dbPath
	}
	if *modelPath != "" {
		cfg.ModelPath = *modelPath
	}
	addr := *listen
	if addr == "" {
		addr = fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	}

	store, err := eventstore.NewDB(cfg.EventStorePath)
	if err != nil {
		log.Fatalf("failed to open event store: %v", err)
	}
	defer store.Close()
	store.AggregationWindow = cfg.FeatureWindow()
	store.MinEventsPerWindow = cfg.MinEventsPerWindow

	scorer := iforest.NewScorer(cfg.ModelPath)
	driver := analysis.NewDriver(store, scorer, cfg, timeutil.RealClock{})

	var wg sync.WaitGroup
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// run the periodic analysis loop
	driver.Start(ctx)
	defer driver.Stop()

	// HTTP server goroutine
	wg.Add(1)
	go func() {
		defer wg.Done()

		mux := api.NewServer(store, driver, scorer, cfg).ServeMux()
		server := &http.Server{
			Addr:    addr,
			Handler: api.LoggingMiddleware(mux),
		}

		// Start server in a goroutine so it doesn't block
		go func() {
			log.Printf("sentinel %s listening on %s", version.Version, addr)
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatalf("failed to start server: %v", err)
			}
		}()

		// Wait for context cancellation to shut down server
		<-ctx.Done()
		log.Println("shutting down HTTP server...")

		// Create a shutdown context with a timeout
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP server shutdown error: %v", err)
		}

		log.Printf("HTTP server routine stopped")
	}()

	// Wait for all goroutines to finish
	wg.Wait()
	log.Printf("Graceful shutdown complete")
}
