package runner

import (
	"context"
	"database/sql"
	"log"
	"time"
)

const (
	// DefaultRecoveryInterval is how often the sweep scans for stuck events.
	DefaultRecoveryInterval = 2 * time.Minute

	// DefaultStaleAge is how long an event can sit in 'processing' before
	// we assume the claiming worker crashed.
	DefaultStaleAge = 5 * time.Minute
)

// RecoveryWorker requeues events stuck in 'processing' past the visibility
// deadline and dead-letters events that exhausted their attempts while
// stuck. Without it, a worker crash strands its claimed events forever.
type RecoveryWorker struct {
	db       *sql.DB
	interval time.Duration
	staleAge time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// NewRecoveryWorker creates a sweep with default timing.
func NewRecoveryWorker(db *sql.DB) *RecoveryWorker {
	return &RecoveryWorker{db: db, interval: DefaultRecoveryInterval, staleAge: DefaultStaleAge}
}

// Start begins the recovery loop.
func (rw *RecoveryWorker) Start() {
	rw.ctx, rw.cancel = context.WithCancel(context.Background())
	rw.done = make(chan struct{})
	go func() {
		defer close(rw.done)
		log.Printf("[Recovery] Starting (interval=%s, stale_age=%s)", rw.interval, rw.staleAge)
		ticker := time.NewTicker(rw.interval)
		defer ticker.Stop()
		for {
			select {
			case <-rw.ctx.Done():
				log.Println("[Recovery] Stopping")
				return
			case <-ticker.C:
				rw.sweep()
			}
		}
	}()
}

// Stop halts the sweep.
func (rw *RecoveryWorker) Stop() {
	if rw.cancel != nil {
		rw.cancel()
		<-rw.done
	}
}

func (rw *RecoveryWorker) sweep() {
	ctx, cancel := context.WithTimeout(rw.ctx, 30*time.Second)
	defer cancel()

	// Requeue stuck events that still have attempts left.
	res, err := rw.db.ExecContext(ctx, `
		UPDATE runner_events
		SET status = 'pending', claimed_by = NULL, claimed_at = NULL,
		    last_error = 'reclaimed: worker presumed crashed'
		WHERE status = 'processing'
		  AND claimed_at < NOW() - $1::interval
		  AND attempts < max_attempts
	`, rw.staleAge.String())
	if err != nil {
		log.Printf("[Recovery] requeue error: %v", err)
	} else if n, _ := res.RowsAffected(); n > 0 {
		log.Printf("[Recovery] requeued %d stuck events", n)
	}

	// Dead-letter stuck events that are out of attempts.
	res, err = rw.db.ExecContext(ctx, `
		UPDATE runner_events
		SET status = 'dead_letter',
		    last_error = 'reclaimed after max attempts'
		WHERE status = 'processing'
		  AND claimed_at < NOW() - $1::interval
		  AND attempts >= max_attempts
	`, rw.staleAge.String())
	if err != nil {
		log.Printf("[Recovery] dead-letter error: %v", err)
	} else if n, _ := res.RowsAffected(); n > 0 {
		log.Printf("[Recovery] dead-lettered %d events", n)
	}
}
