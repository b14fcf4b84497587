package runner

import (
	"context"
	"database/sql"
	"encoding/json"
	"log"
	"time"
)

// CronScheduler fires named events on fixed schedules stored in
// runner_cron_schedules. Claims use a compare-and-swap on next_run_at so
// multiple scheduler processes never double-fire.
type CronScheduler struct {
	db     *sql.DB
	runner *Runner
	tick   time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// NewCronScheduler creates a scheduler over the given runner.
func NewCronScheduler(db *sql.DB, r *Runner) *CronScheduler {
	return &CronScheduler{db: db, runner: r, tick: 30 * time.Second}
}

// Ensure upserts a schedule: the named event fires every interval, starting
// one interval from now unless the row already exists.
func (c *CronScheduler) Ensure(ctx context.Context, name, eventName string, payload any, every time.Duration) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	_, err = c.db.ExecContext(ctx, `
		INSERT INTO runner_cron_schedules (name, event_name, payload, interval_seconds, next_run_at)
		VALUES ($1, $2, $3, $4, NOW() + ($4 || ' seconds')::interval)
		ON CONFLICT (name) DO UPDATE SET
			event_name = EXCLUDED.event_name,
			payload = EXCLUDED.payload,
			interval_seconds = EXCLUDED.interval_seconds
	`, name, eventName, data, int(every.Seconds()))
	return err
}

// Start begins the scheduler loop.
func (c *CronScheduler) Start() {
	c.ctx, c.cancel = context.WithCancel(context.Background())
	c.done = make(chan struct{})
	go func() {
		defer close(c.done)
		log.Println("[Cron] Starting scheduler")
		ticker := time.NewTicker(c.tick)
		defer ticker.Stop()
		for {
			select {
			case <-c.ctx.Done():
				log.Println("[Cron] Stopped")
				return
			case <-ticker.C:
				c.fireDue()
			}
		}
	}()
}

// Stop halts the scheduler.
func (c *CronScheduler) Stop() {
	if c.cancel != nil {
		c.cancel()
		<-c.done
	}
}

func (c *CronScheduler) fireDue() {
	ctx, cancel := context.WithTimeout(c.ctx, 30*time.Second)
	defer cancel()

	// CAS claim: advancing next_run_at is the claim, so concurrent
	// schedulers each fire a disjoint set of rows.
	rows, err := c.db.QueryContext(ctx, `
		UPDATE runner_cron_schedules SET
			next_run_at = NOW() + (interval_seconds || ' seconds')::interval,
			last_run_at = NOW()
		WHERE name IN (
			SELECT name FROM runner_cron_schedules
			WHERE enabled AND next_run_at <= NOW()
			FOR UPDATE SKIP LOCKED
		)
		RETURNING name, event_name, payload
	`)
	if err != nil {
		log.Printf("[Cron] claim error: %v", err)
		return
	}
	defer rows.Close()

	var emissions []Emission
	for rows.Next() {
		var name, eventName string
		var payload json.RawMessage
		if err := rows.Scan(&name, &eventName, &payload); err != nil {
			continue
		}
		emissions = append(emissions, Emission{Name: eventName, Payload: payload})
	}
	if len(emissions) == 0 {
		return
	}
	if _, err := c.runner.Emit(ctx, emissions...); err != nil {
		log.Printf("[Cron] emit error: %v", err)
		return
	}
	log.Printf("[Cron] fired %d schedules", len(emissions))
}
