// Package store is the transactional state store: Postgres repositories for
// every aggregate the workflow engine owns. All external state lives here;
// no in-memory state between handlers survives a restart.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// ErrNotFound is returned when a row does not exist.
var ErrNotFound = errors.New("not found")

// ErrVersionConflict is returned when an optimistic-locked update lost the
// race; callers re-read and retry.
var ErrVersionConflict = errors.New("version conflict")

// ErrConflict is returned on a unique violation; callers convert the race
// to read-then-update.
var ErrConflict = errors.New("unique conflict")

// Store bundles the repositories over one database handle.
type Store struct {
	db *sql.DB

	Tenants       *TenantRepo
	Campaigns     *CampaignRepo
	Leads         *LeadRepo
	Research      *ResearchRepo
	Sequences     *SequenceRepo
	Orchestration *OrchestrationRepo
	Attribution   *AttributionRepo
	Learning      *LearningRepo
	Prompts       *PromptRepo
	Triggers      *TriggerRepo
	RAG           *RAGRepo
}

// New creates a Store over an existing database handle.
func New(db *sql.DB) *Store {
	return &Store{
		db:            db,
		Tenants:       &TenantRepo{db: db},
		Campaigns:     &CampaignRepo{db: db},
		Leads:         &LeadRepo{db: db},
		Research:      &ResearchRepo{db: db},
		Sequences:     &SequenceRepo{db: db},
		Orchestration: &OrchestrationRepo{db: db},
		Attribution:   &AttributionRepo{db: db},
		Learning:      &LearningRepo{db: db},
		Prompts:       &PromptRepo{db: db},
		Triggers:      &TriggerRepo{db: db},
		RAG:           &RAGRepo{db: db},
	}
}

// DB exposes the underlying handle for the runner and migrations.
func (s *Store) DB() *sql.DB { return s.db }

// Ping verifies database connectivity, for health checks.
func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// LiveWorkers counts runner workers that heartbeated within the window.
func (s *Store) LiveWorkers(ctx context.Context, window time.Duration) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM runner_workers
		WHERE status = 'running' AND last_heartbeat_at > NOW() - $1::interval
	`, window.String()).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("live workers: %w", err)
	}
	return n, nil
}

// Open connects to Postgres with pooling configured and verifies the
// connection.
func Open(databaseURL string, maxOpen, maxIdle int, maxLifetime time.Duration) (*sql.DB, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxIdle)
	db.SetConnMaxLifetime(maxLifetime)
	db.SetConnMaxIdleTime(1 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return db, nil
}

// execer abstracts *sql.DB and *sql.Tx for writes that may join a
// caller-owned transaction.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// jsonScan unmarshals a nullable JSONB column into dst. NULL leaves dst
// untouched.
func jsonScan(data []byte, dst any) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, dst)
}

// jsonVal marshals v for a JSONB parameter; nil stays NULL.
func jsonVal(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return data, nil
}
