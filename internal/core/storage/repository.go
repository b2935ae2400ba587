package storage

import (
	"context"

	v1 "github.com/wearlytics/telemetry-ingest/internal/api/v1"
)

// Outcome reports what an idempotent insert did. Both values are
// non-exceptional: a duplicate submission is absorbed, never an error.
type Outcome int

const (
	// OutcomeInserted means a new row was written.
	OutcomeInserted Outcome = iota
	// OutcomeDuplicate means a row with the same event_id already existed.
	// The original row is untouched, even when other fields diverge.
	OutcomeDuplicate
)

// EventStore is the durable, idempotent persistence layer for events.
type EventStore interface {
	// BeginBatch opens the transaction that scopes one batch. Every insert
	// for the batch goes through the returned BatchTx and becomes durable
	// only on Commit; any storage failure mid-batch rolls back the whole
	// transaction so partial batches are never visible.
	BeginBatch(ctx context.Context) (BatchTx, error)
}

// BatchTx is one in-flight batch transaction.
type BatchTx interface {
	// InsertEvent attempts an idempotent insert keyed by event_id.
	// Errors other than the absorbed duplicate case abort the batch.
	InsertEvent(ctx context.Context, event *v1.Event) (Outcome, error)

	Commit() error

	// Rollback discards the batch. Safe to call after a failed Commit.
	Rollback() error
}
