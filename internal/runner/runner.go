package runner

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"math"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// Handler processes one delivered event. Delivery is at-least-once: the
// handler must be idempotent on its identifying key (lead id for lead
// workflows, campaign id for ingestion). Returning an error wrapped with
// Fatal aborts without retry; any other error retries with backoff up to
// the event's max attempts.
type Handler func(ctx context.Context, ev *Event, step *StepContext) error

// HandlerOpts tunes one registered handler.
type HandlerOpts struct {
	// Concurrency caps in-flight invocations of this handler per process.
	// Zero means no cap beyond the worker pool size.
	Concurrency int
	// MaxAttempts overrides the runner default for events of this name.
	MaxAttempts int
	// Timeout bounds one invocation. Zero means 2 minutes.
	Timeout time.Duration
}

type registration struct {
	handler Handler
	opts    HandlerOpts
	sem     chan struct{}
}

// Runner is the durable event runner: a Postgres-backed queue polled with
// FOR UPDATE SKIP LOCKED, a worker pool with per-handler concurrency caps,
// bounded retries with exponential backoff, checkpointed steps, cron
// schedules, and delayed delivery for timers.
type Runner struct {
	db           *sql.DB
	workerID     string
	numWorkers   int
	pollInterval time.Duration
	maxAttempts  int

	mu       sync.RWMutex
	handlers map[string]*registration
	running  bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	totalProcessed int64
	totalErrors    int64
}

// Config tunes the runner.
type Config struct {
	NumWorkers   int
	PollInterval time.Duration
	MaxAttempts  int
}

// New creates a runner over the given database.
func New(db *sql.DB, cfg Config) *Runner {
	if cfg.NumWorkers <= 0 {
		cfg.NumWorkers = 4
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 1 * time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	return &Runner{
		db:           db,
		workerID:     fmt.Sprintf("runner-%s", uuid.New().String()[:8]),
		numWorkers:   cfg.NumWorkers,
		pollInterval: cfg.PollInterval,
		maxAttempts:  cfg.MaxAttempts,
		handlers:     make(map[string]*registration),
	}
}

// Register binds a handler to an event name. Must be called before Start.
func (r *Runner) Register(name string, h Handler, opts HandlerOpts) {
	reg := &registration{handler: h, opts: opts}
	if opts.Concurrency > 0 {
		reg.sem = make(chan struct{}, opts.Concurrency)
	}
	r.mu.Lock()
	r.handlers[name] = reg
	r.mu.Unlock()
}

// Emit enqueues one or more events and returns their ids. Large batches go
// through COPY; small ones through a plain insert loop in one transaction.
func (r *Runner) Emit(ctx context.Context, emissions ...Emission) ([]string, error) {
	if len(emissions) == 0 {
		return nil, nil
	}

	txn, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("emit: begin: %w", err)
	}
	defer txn.Rollback()

	ids := make([]string, 0, len(emissions))

	if len(emissions) >= 50 {
		stmt, err := txn.Prepare(pq.CopyIn("runner_events",
			"id", "name", "payload", "status", "attempts", "max_attempts", "run_at", "created_at"))
		if err != nil {
			return nil, fmt.Errorf("emit: copy prepare: %w", err)
		}
		now := time.Now()
		for _, em := range emissions {
			payload, id, runAt, err := r.encodeEmission(em, now)
			if err != nil {
				return nil, err
			}
			if _, err := stmt.Exec(id, em.Name, string(payload), string(EventPending), 0, r.maxAttemptsFor(em.Name), runAt, now); err != nil {
				return nil, fmt.Errorf("emit: copy row: %w", err)
			}
			ids = append(ids, id)
		}
		if _, err := stmt.Exec(); err != nil {
			return nil, fmt.Errorf("emit: copy flush: %w", err)
		}
		if err := stmt.Close(); err != nil {
			return nil, fmt.Errorf("emit: copy close: %w", err)
		}
	} else {
		now := time.Now()
		for _, em := range emissions {
			payload, id, runAt, err := r.encodeEmission(em, now)
			if err != nil {
				return nil, err
			}
			if _, err := txn.ExecContext(ctx, `
				INSERT INTO runner_events (id, name, payload, status, attempts, max_attempts, run_at, created_at)
				VALUES ($1, $2, $3, 'pending', 0, $4, $5, NOW())
			`, id, em.Name, payload, r.maxAttemptsFor(em.Name), runAt); err != nil {
				return nil, fmt.Errorf("emit %s: %w", em.Name, err)
			}
			ids = append(ids, id)
		}
	}

	if err := txn.Commit(); err != nil {
		return nil, fmt.Errorf("emit: commit: %w", err)
	}
	return ids, nil
}

func (r *Runner) encodeEmission(em Emission, now time.Time) ([]byte, string, time.Time, error) {
	payload, err := json.Marshal(em.Payload)
	if err != nil {
		return nil, "", time.Time{}, fmt.Errorf("emit %s: marshal payload: %w", em.Name, err)
	}
	runAt := em.RunAt
	if runAt.IsZero() {
		runAt = now
	}
	return payload, uuid.New().String(), runAt, nil
}

func (r *Runner) maxAttemptsFor(name string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if reg, ok := r.handlers[name]; ok && reg.opts.MaxAttempts > 0 {
		return reg.opts.MaxAttempts
	}
	return r.maxAttempts
}

// Start launches the worker pool and heartbeat. Returns an error if already
// running.
func (r *Runner) Start() error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return fmt.Errorf("runner already running")
	}
	r.running = true
	r.ctx, r.cancel = context.WithCancel(context.Background())
	r.mu.Unlock()

	log.Printf("[Runner] Starting %s with %d workers", r.workerID, r.numWorkers)
	r.registerWorker()

	for i := 0; i < r.numWorkers; i++ {
		r.wg.Add(1)
		go r.workerLoop(i)
	}
	r.wg.Add(1)
	go r.heartbeatLoop()
	return nil
}

// Stop drains workers, waiting up to a grace period for in-flight events.
func (r *Runner) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	r.cancel()
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(30 * time.Second):
		log.Println("[Runner] Shutdown timeout - forcing stop")
	}
	r.deregisterWorker()
	log.Printf("[Runner] Stopped. Processed: %d, Errors: %d",
		atomic.LoadInt64(&r.totalProcessed), atomic.LoadInt64(&r.totalErrors))
}

func (r *Runner) workerLoop(n int) {
	defer r.wg.Done()

	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.ctx.Done():
			return
		case <-ticker.C:
			for r.claimAndProcess() {
				if r.ctx.Err() != nil {
					return
				}
			}
		}
	}
}

// claimAndProcess claims one due event and runs its handler. Returns true
// when an event was processed so the caller can drain without waiting for
// the next tick.
func (r *Runner) claimAndProcess() bool {
	names := r.registeredNames()
	if len(names) == 0 {
		return false
	}

	ctx, cancel := context.WithTimeout(r.ctx, 10*time.Second)
	ev, err := r.claim(ctx, names)
	cancel()
	if err != nil {
		if err != sql.ErrNoRows {
			log.Printf("[Runner] claim error: %v", err)
		}
		return false
	}
	if ev == nil {
		return false
	}

	r.mu.RLock()
	reg := r.handlers[ev.Name]
	r.mu.RUnlock()
	if reg == nil {
		// Handler unregistered between claim and dispatch; requeue.
		r.requeue(ev, time.Now().Add(time.Minute), "no handler registered")
		return true
	}

	if reg.sem != nil {
		select {
		case reg.sem <- struct{}{}:
			defer func() { <-reg.sem }()
		case <-r.ctx.Done():
			r.requeue(ev, time.Now(), "shutdown before dispatch")
			return false
		}
	}

	r.dispatch(ev, reg)
	return true
}

func (r *Runner) registeredNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	return names
}

func (r *Runner) claim(ctx context.Context, names []string) (*Event, error) {
	row := r.db.QueryRowContext(ctx, `
		UPDATE runner_events SET
			status = 'processing',
			attempts = attempts + 1,
			claimed_by = $1,
			claimed_at = NOW()
		WHERE id = (
			SELECT id FROM runner_events
			WHERE status = 'pending'
			  AND run_at <= NOW()
			  AND name = ANY($2)
			ORDER BY run_at
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, name, payload, status, attempts, max_attempts, run_at, COALESCE(last_error,''), created_at
	`, r.workerID, pq.Array(names))

	ev := &Event{}
	err := row.Scan(&ev.ID, &ev.Name, &ev.Payload, &ev.Status, &ev.Attempts,
		&ev.MaxAttempts, &ev.RunAt, &ev.LastError, &ev.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return ev, nil
}

func (r *Runner) dispatch(ev *Event, reg *registration) {
	timeout := reg.opts.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	ctx, cancel := context.WithTimeout(r.ctx, timeout)
	defer cancel()

	step := NewStepContext(r.db, ev.ID)
	err := reg.handler(ctx, ev, step)

	switch {
	case err == nil:
		r.complete(ev)
		atomic.AddInt64(&r.totalProcessed, 1)

	case IsFatal(err):
		log.Printf("[Runner] event %s (%s) failed non-retriably: %v", ev.ID, ev.Name, err)
		r.fail(ev, err)
		atomic.AddInt64(&r.totalErrors, 1)

	case ev.Attempts >= ev.MaxAttempts:
		log.Printf("[Runner] event %s (%s) exhausted %d attempts: %v", ev.ID, ev.Name, ev.Attempts, err)
		r.deadLetter(ev, err)
		atomic.AddInt64(&r.totalErrors, 1)

	default:
		delay, ok := retryHint(err)
		if !ok {
			delay = backoff(ev.Attempts)
		}
		log.Printf("[Runner] event %s (%s) attempt %d/%d failed, retrying in %s: %v",
			ev.ID, ev.Name, ev.Attempts, ev.MaxAttempts, delay, err)
		r.requeue(ev, time.Now().Add(delay), err.Error())
	}
}

// backoff is exponential with full jitter, capped at 5 minutes.
func backoff(attempt int) time.Duration {
	base := float64(2*time.Second) * math.Pow(2, float64(attempt-1))
	if base > float64(5*time.Minute) {
		base = float64(5 * time.Minute)
	}
	d := time.Duration(rand.Float64() * base)
	if d < 500*time.Millisecond {
		d = 500 * time.Millisecond
	}
	return d
}

func (r *Runner) complete(ev *Event) {
	r.exec(`UPDATE runner_events SET status = 'completed', completed_at = NOW() WHERE id = $1`, ev.ID)
}

func (r *Runner) fail(ev *Event, err error) {
	r.exec(`UPDATE runner_events SET status = 'failed', last_error = $2 WHERE id = $1`, ev.ID, err.Error())
}

func (r *Runner) deadLetter(ev *Event, err error) {
	r.exec(`UPDATE runner_events SET status = 'dead_letter', last_error = $2 WHERE id = $1`, ev.ID, err.Error())
}

func (r *Runner) requeue(ev *Event, runAt time.Time, reason string) {
	r.exec(`
		UPDATE runner_events
		SET status = 'pending', claimed_by = NULL, claimed_at = NULL, run_at = $2, last_error = $3
		WHERE id = $1
	`, ev.ID, runAt, reason)
}

func (r *Runner) exec(q string, args ...any) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if _, err := r.db.ExecContext(ctx, q, args...); err != nil {
		log.Printf("[Runner] state update error: %v", err)
	}
}

func (r *Runner) registerWorker() {
	r.exec(`
		INSERT INTO runner_workers (id, worker_type, status, started_at, last_heartbeat_at)
		VALUES ($1, 'event_runner', 'running', NOW(), NOW())
		ON CONFLICT (id) DO UPDATE SET status = 'running', started_at = NOW(), last_heartbeat_at = NOW()
	`, r.workerID)
}

func (r *Runner) deregisterWorker() {
	r.exec(`UPDATE runner_workers SET status = 'stopped' WHERE id = $1`, r.workerID)
}

func (r *Runner) heartbeatLoop() {
	defer r.wg.Done()

	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-r.ctx.Done():
			return
		case <-ticker.C:
			r.exec(`
				UPDATE runner_workers
				SET last_heartbeat_at = NOW(), total_processed = $2, total_errors = $3
				WHERE id = $1
			`, r.workerID, atomic.LoadInt64(&r.totalProcessed), atomic.LoadInt64(&r.totalErrors))
		}
	}
}
