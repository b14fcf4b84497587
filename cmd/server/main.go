// The API server terminates provider webhooks and operator requests. It
// never processes events itself; everything it accepts becomes a durable
// event for the worker fleet.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/brightline/outreach-engine/internal/api"
	"github.com/brightline/outreach-engine/internal/attribution"
	"github.com/brightline/outreach-engine/internal/config"
	"github.com/brightline/outreach-engine/internal/pkg/logger"
	"github.com/brightline/outreach-engine/internal/runner"
	"github.com/brightline/outreach-engine/internal/store"
)

func main() {
	cfg, err := config.LoadFromEnv(os.Getenv("CONFIG_PATH"))
	if err != nil {
		log.Fatalf("[Server] config: %v", err)
	}
	logger.SetLevel(logger.ParseLevel(cfg.LogLevel))

	db, err := store.Open(cfg.Store.DatabaseURL, cfg.Store.MaxOpenConns, cfg.Store.MaxIdleConns, cfg.Store.ConnMaxLifetime)
	if err != nil {
		log.Fatalf("[Server] database: %v", err)
	}
	defer db.Close()
	st := store.New(db)

	// Emit-only runner: no handlers registered, never started.
	emitter := runner.New(db, runner.Config{})
	recorder := attribution.New(st)

	srv := api.New(cfg.Server, st, emitter, recorder)

	errc := make(chan error, 1)
	go func() { errc <- srv.Start() }()
	log.Printf("[Server] listening on %s", cfg.Server.Addr)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errc:
		if err != nil {
			log.Fatalf("[Server] listen: %v", err)
		}
	case <-sig:
		log.Println("[Server] shutting down")
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			log.Printf("[Server] shutdown: %v", err)
		}
	}
}
