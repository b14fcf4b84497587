package runner

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

// StepContext memoizes named step results for one event so that replay
// after a crash or retry is idempotent. Handlers thread it explicitly and
// never rely on local variables surviving a failure: every step's result is
// durably persisted before the next begins.
type StepContext struct {
	db      *sql.DB
	eventID string
}

// NewStepContext creates a step context bound to one event delivery.
func NewStepContext(db *sql.DB, eventID string) *StepContext {
	return &StepContext{db: db, eventID: eventID}
}

// Run executes the named step unless a memoized result exists. On first run
// the result is persisted in the same statement order the handler declares;
// on replay the stored result is returned and fn is not called.
func (s *StepContext) Run(ctx context.Context, name string, fn func(ctx context.Context) (any, error)) (json.RawMessage, error) {
	var stored []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT result FROM runner_event_steps
		WHERE event_id = $1 AND step_name = $2
	`, s.eventID, name).Scan(&stored)
	if err == nil {
		return json.RawMessage(stored), nil
	}
	if err != sql.ErrNoRows {
		return nil, fmt.Errorf("step %s: load checkpoint: %w", name, err)
	}

	out, err := fn(ctx)
	if err != nil {
		return nil, fmt.Errorf("step %s: %w", name, err)
	}

	data, err := json.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("step %s: marshal result: %w", name, err)
	}

	// Another worker may have raced the same step; the stored result wins.
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO runner_event_steps (event_id, step_name, result, completed_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (event_id, step_name) DO NOTHING
	`, s.eventID, name, data)
	if err != nil {
		return nil, fmt.Errorf("step %s: save checkpoint: %w", name, err)
	}
	return data, nil
}

// Step runs a checkpointed step and unmarshals the (possibly replayed)
// result into a T.
func Step[T any](ctx context.Context, sc *StepContext, name string, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	raw, err := sc.Run(ctx, name, func(ctx context.Context) (any, error) {
		return fn(ctx)
	})
	if err != nil {
		return zero, err
	}
	var out T
	if err := json.Unmarshal(raw, &out); err != nil {
		return zero, fmt.Errorf("step %s: unmarshal checkpoint: %w", name, err)
	}
	return out, nil
}
