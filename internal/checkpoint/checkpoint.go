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

// Package checkpoint persists ingestion progress so an interrupted run can
// resume from the last durably loaded batch.
package checkpoint

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Checkpoint is the resume point of one pipeline. CursorOffset is always a
// source offset from which re-fetching loses nothing.
type Checkpoint struct {
	Pipeline         string    `json:"pipeline" yaml:"pipeline"`
	RunID            uuid.UUID `json:"run_id" yaml:"run_id"`
	Mode             string    `json:"mode" yaml:"mode"`
	Filter           string    `json:"filter" yaml:"filter"`
	CursorOffset     int64     `json:"cursor_offset" yaml:"cursor_offset"`
	RecordsConfirmed int64     `json:"records_confirmed" yaml:"records_confirmed"`
	Fetched          int64     `json:"fetched" yaml:"fetched"`
	Inserted         int64     `json:"inserted" yaml:"inserted"`
	Updated          int64     `json:"updated" yaml:"updated"`
	Errored          int64     `json:"errored" yaml:"errored"`
	RunStartedAt     time.Time `json:"run_started_at" yaml:"run_started_at"`
	UpdatedAt        time.Time `json:"updated_at" yaml:"updated_at"`
}

// Store persists at most one checkpoint per pipeline. Save overwrites
// atomically and Load returns nil, nil when there is nothing saved.
type Store interface {
	Load(ctx context.Context, pipeline string) (*Checkpoint, error)
	Save(ctx context.Context, cp Checkpoint) error
	Clear(ctx context.Context, pipeline string) error
}

// CheckpointError is a failed checkpoint read or write. Runs treat it as
// fatal.
type CheckpointError struct {
	Op       string
	Pipeline string
	Err      error
}

func (e *CheckpointError) Error() string {
	return fmt.Sprintf("checkpoint %s for pipeline %q: %v", e.Op, e.Pipeline, e.Err)
}

func (e *CheckpointError) Unwrap() error { return e.Err }
