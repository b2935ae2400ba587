package bulkload

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Run statuses recorded in ops.pipeline_runs.
const (
	RunStatusRunning = "running"
	RunStatusSuccess = "success"
	RunStatusFailed  = "failed"
)

const (
	queryStartRun = `
		INSERT INTO ops.pipeline_runs (run_id, started_at, status)
		VALUES ($1, $2, $3)
	`

	queryEndRun = `
		UPDATE ops.pipeline_runs
		SET finished_at = $2, status = $3, error_summary = $4
		WHERE run_id = $1
	`
)

// RunTracker records pipeline executions in ops.pipeline_runs so operators
// can see when the external loader last ran and how it ended.
type RunTracker struct {
	db *sql.DB
}

func NewRunTracker(db *sql.DB) *RunTracker {
	return &RunTracker{db: db}
}

// StartRun inserts a new run with status "running" and returns its ID.
func (t *RunTracker) StartRun(ctx context.Context) (string, error) {
	runID := uuid.NewString()
	_, err := t.db.ExecContext(ctx, queryStartRun, runID, time.Now().UTC(), RunStatusRunning)
	if err != nil {
		return "", fmt.Errorf("failed to start pipeline run: %w", err)
	}
	return runID, nil
}

// EndRun closes the run with a final status and optional error summary.
func (t *RunTracker) EndRun(ctx context.Context, runID, status, errorSummary string) error {
	var summary interface{}
	if errorSummary != "" {
		summary = errorSummary
	}
	_, err := t.db.ExecContext(ctx, queryEndRun, runID, time.Now().UTC(), status, summary)
	if err != nil {
		return fmt.Errorf("failed to end pipeline run %s: %w", runID, err)
	}
	return nil
}
