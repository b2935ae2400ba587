// Package bulkload holds the persistence support for the external CSV bulk
// loader: the file-granularity ingest manifest, pipeline run tracking, and
// the raw-file source selection. The loader itself is a separate process; it
// links this package to keep re-loads of unchanged files idempotent, the same
// insert-or-skip pattern the event writer applies per event_id.
package bulkload

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"time"
)

// ManifestRecord is one row of ops.raw_ingest_manifest, unique per filename.
type ManifestRecord struct {
	SourceFilename string
	Checksum       string
	IngestedAt     time.Time
	RowCount       int
	Status         string
}

const (
	queryGetManifest = `
		SELECT source_filename, checksum, ingested_at, row_count, status
		FROM ops.raw_ingest_manifest
		WHERE source_filename = $1
	`

	queryUpsertManifest = `
		INSERT INTO ops.raw_ingest_manifest (source_filename, checksum, row_count, status)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (source_filename)
		DO UPDATE SET
			checksum = EXCLUDED.checksum,
			ingested_at = now(),
			row_count = EXCLUDED.row_count,
			status = EXCLUDED.status
	`
)

// ManifestStore reads and writes the ingest manifest.
type ManifestStore struct {
	db *sql.DB
}

func NewManifestStore(db *sql.DB) *ManifestStore {
	return &ManifestStore{db: db}
}

// Get returns the manifest record for sourceFilename, or nil when the file
// has never been loaded.
func (s *ManifestStore) Get(ctx context.Context, sourceFilename string) (*ManifestRecord, error) {
	var rec ManifestRecord
	err := s.db.QueryRowContext(ctx, queryGetManifest, sourceFilename).Scan(
		&rec.SourceFilename,
		&rec.Checksum,
		&rec.IngestedAt,
		&rec.RowCount,
		&rec.Status,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest for %q: %w", sourceFilename, err)
	}
	return &rec, nil
}

// Upsert inserts or replaces the manifest record for rec.SourceFilename.
// Unlike event rows the manifest is not append-only: a re-load of a changed
// file overwrites checksum, row count and status.
func (s *ManifestStore) Upsert(ctx context.Context, rec ManifestRecord) error {
	status := rec.Status
	if status == "" {
		status = "success"
	}
	_, err := s.db.ExecContext(ctx, queryUpsertManifest,
		rec.SourceFilename,
		rec.Checksum,
		rec.RowCount,
		status,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert manifest for %q: %w", rec.SourceFilename, err)
	}
	return nil
}

// FileChecksum computes the SHA-256 hex digest of the file contents,
// streaming so large CSVs do not load into memory.
func FileChecksum(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open %q: %w", path, err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("failed to hash %q: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
