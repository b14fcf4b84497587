// Package api is the HTTP edge: provider webhooks translated into internal
// orchestration events, plus manual triggers for ingestion and learning
// runs. All real work happens in event handlers; these endpoints validate,
// record, enqueue, and return.
package api

import (
	"context"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/brightline/outreach-engine/internal/attribution"
	"github.com/brightline/outreach-engine/internal/config"
	"github.com/brightline/outreach-engine/internal/ingest"
	"github.com/brightline/outreach-engine/internal/pkg/httputil"
	"github.com/brightline/outreach-engine/internal/store"
)

// Server is the HTTP edge.
type Server struct {
	cfg      config.ServerConfig
	store    *store.Store
	emitter  ingest.Emitter
	recorder *attribution.Recorder

	httpServer *http.Server
}

// New builds the server and its routes.
func New(cfg config.ServerConfig, st *store.Store, em ingest.Emitter, rec *attribution.Recorder) *Server {
	s := &Server{cfg: cfg, store: st, emitter: em, recorder: rec}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: allowedOrigins(cfg),
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/healthz", s.handleHealth)

	r.Route("/webhooks", func(r chi.Router) {
		r.Post("/email/{tenantID}", s.handleEmailWebhook)
		r.Post("/linkedin/{tenantID}", s.handleLinkedInWebhook)
	})

	r.Route("/api", func(r chi.Router) {
		r.Post("/tenants/{tenantID}/campaigns/{campaignID}/ingest", s.handleManualIngest)
		r.Post("/tenants/{tenantID}/learning/analyze", s.handleLearningAnalyze)
		r.Get("/tenants/{tenantID}/leads/{leadID}/timeline", s.handleLeadTimeline)
	})

	s.httpServer = &http.Server{
		Addr:         cfg.Addr,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	return s
}

func allowedOrigins(cfg config.ServerConfig) []string {
	if len(cfg.AllowedOrigins) > 0 {
		return cfg.AllowedOrigins
	}
	return []string{"*"}
}

// Start serves until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	log.Printf("[API] listening on %s", s.cfg.Addr)
	err := s.httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		httputil.Error(w, http.StatusServiceUnavailable, "store unavailable")
		return
	}
	workers, err := s.store.LiveWorkers(r.Context(), 30*time.Second)
	if err != nil {
		log.Printf("[API] health: live workers: %v", err)
	}
	httputil.OK(w, map[string]any{"status": "ok", "live_workers": workers})
}
