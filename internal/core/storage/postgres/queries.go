package postgres

// SQL for the append-only raw event table.

const (
	// queryInsertEvent performs the idempotent insert keyed by event_id.
	// ON CONFLICT DO NOTHING returns no rows (sql.ErrNoRows) for duplicates;
	// RETURNING received_at distinguishes a fresh insert from an absorbed one.
	queryInsertEvent = `
		INSERT INTO raw.raw_events (
			event_id, schema_version, event_name,
			user_id, anonymous_id, device_id, session_id,
			client_ts, server_ts,
			source, environment, app_version, page, referrer,
			payload
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT (event_id) DO NOTHING
		RETURNING received_at
	`
)
