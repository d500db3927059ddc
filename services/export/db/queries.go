package db

import (
	"context"
	"database/sql"
)

type Queries struct {
	db *sql.DB
}

func New(db *sql.DB) *Queries {
	return &Queries{db: db}
}

type RecordRunParams struct {
	ID            string
	StartedAt     int64
	FinishedAt    int64
	Successes     int64
	Skips         int64
	Failures      int64
	Cancelled     bool
	TopLevelError string
}

const recordRun = `
INSERT INTO export_runs (
    id, started_at, finished_at, successes, skips, failures, cancelled, top_level_error
) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
`

func (q *Queries) RecordRun(ctx context.Context, arg RecordRunParams) error {
	_, err := q.db.ExecContext(ctx, recordRun,
		arg.ID,
		arg.StartedAt,
		arg.FinishedAt,
		arg.Successes,
		arg.Skips,
		arg.Failures,
		arg.Cancelled,
		arg.TopLevelError,
	)
	return err
}

type RecordFailureParams struct {
	RunID   string
	Idx     int64
	Context string
	Reason  string
}

const recordFailure = `
INSERT INTO export_failures (run_id, idx, context, reason)
VALUES (?, ?, ?, ?)
`

func (q *Queries) RecordFailure(ctx context.Context, arg RecordFailureParams) error {
	_, err := q.db.ExecContext(ctx, recordFailure,
		arg.RunID,
		arg.Idx,
		arg.Context,
		arg.Reason,
	)
	return err
}

type RunRow struct {
	ID            string
	StartedAt     int64
	FinishedAt    int64
	Successes     int64
	Skips         int64
	Failures      int64
	Cancelled     bool
	TopLevelError string
}

const listRuns = `
SELECT id, started_at, finished_at, successes, skips, failures, cancelled, top_level_error
FROM export_runs
ORDER BY started_at DESC
`

func (q *Queries) ListRuns(ctx context.Context) ([]RunRow, error) {
	rows, err := q.db.QueryContext(ctx, listRuns)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []RunRow
	for rows.Next() {
		var r RunRow
		err := rows.Scan(
			&r.ID,
			&r.StartedAt,
			&r.FinishedAt,
			&r.Successes,
			&r.Skips,
			&r.Failures,
			&r.Cancelled,
			&r.TopLevelError,
		)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
