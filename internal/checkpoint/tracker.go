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

package checkpoint

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Run identifies the run a tracker writes checkpoints for.
type Run struct {
	ID        uuid.UUID
	Mode      string
	Filter    string
	StartedAt time.Time
}

// Counts are the cumulative run counters stored with each checkpoint.
type Counts struct {
	RecordsConfirmed int64
	Fetched          int64
	Inserted         int64
	Updated          int64
	Errored          int64
}

// Tracker records progress for a single pipeline.
type Tracker struct {
	store    Store
	pipeline string
	run      Run
	now      func() time.Time
}

func NewTracker(store Store, pipeline string) *Tracker {
	return &Tracker{
		store:    store,
		pipeline: pipeline,
		now:      time.Now,
	}
}

func (t *Tracker) Pipeline() string { return t.pipeline }

// Begin sets the run that subsequent checkpoints belong to.
func (t *Tracker) Begin(run Run) {
	t.run = run
}

// RecordProgress persists cursor as the resume point. It must only be
// called once everything before cursor is durably loaded.
func (t *Tracker) RecordProgress(ctx context.Context, cursor int64, counts Counts) error {
	if t.run.ID == uuid.Nil {
		return t.wrap("save", errors.New("no run started"))
	}
	cp := Checkpoint{
		Pipeline:         t.pipeline,
		RunID:            t.run.ID,
		Mode:             t.run.Mode,
		Filter:           t.run.Filter,
		CursorOffset:     cursor,
		RecordsConfirmed: counts.RecordsConfirmed,
		Fetched:          counts.Fetched,
		Inserted:         counts.Inserted,
		Updated:          counts.Updated,
		Errored:          counts.Errored,
		RunStartedAt:     t.run.StartedAt.UTC(),
		UpdatedAt:        t.now().UTC(),
	}
	err := t.store.Save(ctx, cp)
	recordWrite(ctx, "save", err)
	return t.wrap("save", err)
}

func (t *Tracker) LoadCheckpoint(ctx context.Context) (*Checkpoint, error) {
	cp, err := t.store.Load(ctx, t.pipeline)
	if err != nil {
		return nil, t.wrap("load", err)
	}
	return cp, nil
}

func (t *Tracker) ClearCheckpoint(ctx context.Context) error {
	err := t.store.Clear(ctx, t.pipeline)
	recordWrite(ctx, "clear", err)
	return t.wrap("clear", err)
}

func (t *Tracker) wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	return &CheckpointError{Op: op, Pipeline: t.pipeline, Err: err}
}

// Matches reports whether cp was written by a run of the same mode and
// filter, which is the only case where resuming from it is safe.
func (cp *Checkpoint) Matches(mode, filter string) bool {
	return cp != nil && cp.Mode == mode && cp.Filter == filter
}
