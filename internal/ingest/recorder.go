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

package ingest

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5/pgtype"

	"github.com/cardinalhq/censusrunner/internal/censusdb"
	"github.com/cardinalhq/censusrunner/internal/idgen"
)

// RunRecorder keeps the history of runs. Failures are logged by the
// orchestrator and never abort a run.
type RunRecorder interface {
	RunStarted(ctx context.Context, stats *RunStats) error
	RunFinished(ctx context.Context, stats *RunStats, runErr error) error
}

type nopRecorder struct{}

func (nopRecorder) RunStarted(context.Context, *RunStats) error         { return nil }
func (nopRecorder) RunFinished(context.Context, *RunStats, error) error { return nil }

const runStateRunning = "running"

type runQuerier interface {
	InsertIngestRun(ctx context.Context, arg censusdb.InsertIngestRunParams) error
	FinishIngestRun(ctx context.Context, arg censusdb.FinishIngestRunParams) error
}

// DBRunRecorder writes runs to the ingest_runs table.
type DBRunRecorder struct {
	db         runQuerier
	instanceID int64
}

var _ RunRecorder = (*DBRunRecorder)(nil)

func NewDBRunRecorder(db runQuerier) *DBRunRecorder {
	return &DBRunRecorder{db: db, instanceID: idgen.InstanceID()}
}

func (r *DBRunRecorder) RunStarted(ctx context.Context, stats *RunStats) error {
	params := censusdb.InsertIngestRunParams{
		ID:         stats.RunID,
		Pipeline:   stats.Pipeline,
		Mode:       stats.Mode,
		Filter:     stats.Filter,
		State:      runStateRunning,
		InstanceID: r.instanceID,
		StartedAt:  stats.OriginalStartedAt,
	}
	if params.StartedAt.IsZero() {
		params.StartedAt = stats.StartedAt
	}
	if stats.Resumed {
		params.ResumedFrom = pgtype.Int8{Int64: stats.ResumedFrom, Valid: true}
	}
	return r.db.InsertIngestRun(ctx, params)
}

type errorSummary struct {
	ByType  map[string]int64 `json:"by_type"`
	Samples []ErrorSample    `json:"samples,omitempty"`
}

func (r *DBRunRecorder) RunFinished(ctx context.Context, stats *RunStats, runErr error) error {
	summary, err := json.Marshal(errorSummary{ByType: stats.ErrorsByType, Samples: stats.ErrorSamples})
	if err != nil {
		return err
	}
	params := censusdb.FinishIngestRunParams{
		ID:           stats.RunID,
		State:        string(stats.State),
		Fetched:      stats.Fetched,
		Inserted:     stats.Inserted,
		Updated:      stats.Updated,
		Errored:      stats.Errored,
		SuccessRate:  stats.SuccessRate(),
		ErrorSummary: summary,
		EndedAt:      stats.EndedAt,
	}
	if runErr != nil {
		params.ErrorMessage = pgtype.Text{String: runErr.Error(), Valid: true}
	}
	return r.db.FinishIngestRun(ctx, params)
}

type lastRunQuerier interface {
	LastSuccessfulIngestRun(ctx context.Context, pipeline string) (*censusdb.IngestRun, error)
}

// LastSuccessfulRun returns when the last completed run of pipeline
// started. A resumed run is recorded with the start of the invocation it
// resumed. Records modified after that instant may not have been seen by
// it, so it is the safe lower bound for an incremental update.
func LastSuccessfulRun(ctx context.Context, db lastRunQuerier, pipeline string) (time.Time, bool, error) {
	run, err := db.LastSuccessfulIngestRun(ctx, pipeline)
	if err != nil || run == nil {
		return time.Time{}, false, err
	}
	return run.StartedAt, true, nil
}
