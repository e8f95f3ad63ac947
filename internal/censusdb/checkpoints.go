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
)

type IngestCheckpoint struct {
	Pipeline         string    `json:"pipeline"`
	RunID            uuid.UUID `json:"run_id"`
	Mode             string    `json:"mode"`
	Filter           string    `json:"filter"`
	CursorOffset     int64     `json:"cursor_offset"`
	RecordsConfirmed int64     `json:"records_confirmed"`
	Fetched          int64     `json:"fetched"`
	Inserted         int64     `json:"inserted"`
	Updated          int64     `json:"updated"`
	Errored          int64     `json:"errored"`
	RunStartedAt     time.Time `json:"run_started_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

const getIngestCheckpoint = `
SELECT pipeline, run_id, mode, filter, cursor_offset, records_confirmed,
       fetched, inserted, updated, errored, run_started_at, updated_at
FROM ingest_checkpoints
WHERE pipeline = $1
`

// GetIngestCheckpoint returns nil when the pipeline has no checkpoint.
func (q *Queries) GetIngestCheckpoint(ctx context.Context, pipeline string) (*IngestCheckpoint, error) {
	var cp IngestCheckpoint
	err := q.db.QueryRow(ctx, getIngestCheckpoint, pipeline).Scan(
		&cp.Pipeline, &cp.RunID, &cp.Mode, &cp.Filter, &cp.CursorOffset, &cp.RecordsConfirmed,
		&cp.Fetched, &cp.Inserted, &cp.Updated, &cp.Errored, &cp.RunStartedAt, &cp.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &cp, nil
}

const upsertIngestCheckpoint = `
INSERT INTO ingest_checkpoints (
  pipeline, run_id, mode, filter, cursor_offset, records_confirmed,
  fetched, inserted, updated, errored, run_started_at, updated_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
ON CONFLICT (pipeline) DO UPDATE SET
  run_id = EXCLUDED.run_id,
  mode = EXCLUDED.mode,
  filter = EXCLUDED.filter,
  cursor_offset = EXCLUDED.cursor_offset,
  records_confirmed = EXCLUDED.records_confirmed,
  fetched = EXCLUDED.fetched,
  inserted = EXCLUDED.inserted,
  updated = EXCLUDED.updated,
  errored = EXCLUDED.errored,
  run_started_at = EXCLUDED.run_started_at,
  updated_at = EXCLUDED.updated_at
`

// UpsertIngestCheckpoint overwrites the pipeline's checkpoint.
func (q *Queries) UpsertIngestCheckpoint(ctx context.Context, cp IngestCheckpoint) error {
	_, err := q.db.Exec(ctx, upsertIngestCheckpoint,
		cp.Pipeline, cp.RunID, cp.Mode, cp.Filter, cp.CursorOffset, cp.RecordsConfirmed,
		cp.Fetched, cp.Inserted, cp.Updated, cp.Errored, cp.RunStartedAt, cp.UpdatedAt,
	)
	return err
}

func (q *Queries) DeleteIngestCheckpoint(ctx context.Context, pipeline string) error {
	_, err := q.db.Exec(ctx, "DELETE FROM ingest_checkpoints WHERE pipeline = $1", pipeline)
	return err
}
