// Copyright (C) 2025 CardinalHQ, Inc
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, version 3.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

package censusdb

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
)

type IngestRun struct {
	ID           uuid.UUID
	Pipeline     string
	Mode         string
	Filter       string
	State        string
	InstanceID   int64
	ResumedFrom  pgtype.Int8
	Fetched      int64
	Inserted     int64
	Updated      int64
	Errored      int64
	SuccessRate  float64
	ErrorSummary []byte
	ErrorMessage pgtype.Text
	StartedAt    time.Time
	HeartbeatAt  pgtype.Timestamptz
	EndedAt      pgtype.Timestamptz
}

const insertIngestRun = `
INSERT INTO ingest_runs (id, pipeline, mode, filter, state, instance_id, resumed_from, started_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
`

type InsertIngestRunParams struct {
	ID          uuid.UUID
	Pipeline    string
	Mode        string
	Filter      string
	State       string
	InstanceID  int64
	ResumedFrom pgtype.Int8
	StartedAt   time.Time
}

func (q *Queries) InsertIngestRun(ctx context.Context, arg InsertIngestRunParams) error {
	_, err := q.db.Exec(ctx, insertIngestRun,
		arg.ID, arg.Pipeline, arg.Mode, arg.Filter, arg.State, arg.InstanceID, arg.ResumedFrom, arg.StartedAt)
	return err
}

const finishIngestRun = `
UPDATE ingest_runs SET
  state = $2,
  fetched = $3,
  inserted = $4,
  updated = $5,
  errored = $6,
  success_rate = $7,
  error_summary = $8,
  error_message = $9,
  ended_at = $10
WHERE id = $1
`

type FinishIngestRunParams struct {
	ID           uuid.UUID
	State        string
	Fetched      int64
	Inserted     int64
	Updated      int64
	Errored      int64
	SuccessRate  float64
	ErrorSummary []byte
	ErrorMessage pgtype.Text
	EndedAt      time.Time
}

func (q *Queries) FinishIngestRun(ctx context.Context, arg FinishIngestRunParams) error {
	summary := arg.ErrorSummary
	if len(summary) == 0 {
		summary = []byte("{}")
	}
	_, err := q.db.Exec(ctx, finishIngestRun,
		arg.ID, arg.State, arg.Fetched, arg.Inserted, arg.Updated, arg.Errored,
		arg.SuccessRate, summary, arg.ErrorMessage, arg.EndedAt)
	return err
}

// TouchIngestRun stamps a running run as alive. Finished runs are left alone.
func (q *Queries) TouchIngestRun(ctx context.Context, id uuid.UUID, at time.Time) error {
	_, err := q.db.Exec(ctx,
		"UPDATE ingest_runs SET heartbeat_at = $2 WHERE id = $1 AND state = 'running'",
		id, at)
	return err
}

const ingestRunColumns = `id, pipeline, mode, filter, state, instance_id, resumed_from,
  fetched, inserted, updated, errored, success_rate, error_summary, error_message,
  started_at, heartbeat_at, ended_at`

func scanIngestRun(row pgx.Row) (IngestRun, error) {
	var r IngestRun
	err := row.Scan(
		&r.ID, &r.Pipeline, &r.Mode, &r.Filter, &r.State, &r.InstanceID, &r.ResumedFrom,
		&r.Fetched, &r.Inserted, &r.Updated, &r.Errored, &r.SuccessRate, &r.ErrorSummary, &r.ErrorMessage,
		&r.StartedAt, &r.HeartbeatAt, &r.EndedAt,
	)
	return r, err
}

// ListIngestRuns returns the most recent runs first.
func (q *Queries) ListIngestRuns(ctx context.Context, pipeline string, limit int32) ([]IngestRun, error) {
	rows, err := q.db.Query(ctx,
		"SELECT "+ingestRunColumns+" FROM ingest_runs WHERE pipeline = $1 ORDER BY started_at DESC LIMIT $2",
		pipeline, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []IngestRun
	for rows.Next() {
		r, err := scanIngestRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// LastSuccessfulIngestRun returns nil when no run has completed.
func (q *Queries) LastSuccessfulIngestRun(ctx context.Context, pipeline string) (*IngestRun, error) {
	r, err := scanIngestRun(q.db.QueryRow(ctx,
		"SELECT "+ingestRunColumns+" FROM ingest_runs WHERE pipeline = $1 AND state = 'completed' ORDER BY started_at DESC LIMIT 1",
		pipeline))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}
