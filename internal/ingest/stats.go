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
	"maps"
	"slices"
	"time"

	"github.com/google/uuid"
)

// State is where a run is in its lifecycle.
type State string

const (
	StateIdle        State = "idle"
	StateFetching    State = "fetching"
	StateNormalizing State = "normalizing"
	StateLoading     State = "loading"
	StateCompleted   State = "completed"
	StateAborted     State = "aborted"
)

func (s State) Terminal() bool {
	return s == StateCompleted || s == StateAborted
}

const (
	ModeFull        = "full"
	ModeIncremental = "incremental"
)

// Error types as they appear in ErrorsByType.
const (
	ErrorTypeValidation = "ValidationError"
	ErrorTypeLoad       = "LoadError"
	ErrorTypeFetch      = "FetchError"
)

// ErrorSample describes one error event for the run report.
type ErrorSample struct {
	Type string `json:"type"`
	// Key is the natural key for rejected records and the batch ID for
	// failed batches.
	Key     string `json:"key,omitempty"`
	Offset  int64  `json:"offset"`
	Message string `json:"message"`
}

// RunStats is owned by a single run. Counters seeded from a resumed
// checkpoint include the work of the interrupted run.
type RunStats struct {
	RunID    uuid.UUID
	Pipeline string
	Mode     string
	Filter   string
	State    State

	Fetched  int64
	Inserted int64
	Updated  int64
	// Errored counts records that did not make it into the store.
	Errored int64

	ValidationErrors int64
	FailedBatches    int64
	FailedPages      int64

	Batches         int64
	FastPathBatches int64
	SafePathBatches int64

	ErrorsByType map[string]int64
	ErrorSamples []ErrorSample

	Resumed     bool
	ResumedFrom int64
	// Checkpointed is false for fast-path eligible runs, which write no
	// mid-run checkpoints and cannot be resumed.
	Checkpointed bool
	// Cursor is the source offset everything before which has been
	// processed.
	Cursor         int64
	EstimatedTotal int64

	// StartedAt is when this invocation began. OriginalStartedAt is when
	// the run began, which is earlier than StartedAt after a resume.
	StartedAt         time.Time
	OriginalStartedAt time.Time
	EndedAt           time.Time

	baseFetched int64
	maxSamples  int
}

func newRunStats(id uuid.UUID, pipeline, mode, filter string, startedAt time.Time, maxSamples int) *RunStats {
	return &RunStats{
		RunID:        id,
		Pipeline:     pipeline,
		Mode:         mode,
		Filter:       filter,
		State:        StateIdle,
		ErrorsByType: map[string]int64{},
		StartedAt:    startedAt,
		maxSamples:   maxSamples,

		OriginalStartedAt: startedAt,
	}
}

// SuccessRate is the percentage of fetched records that were not errored.
func (s *RunStats) SuccessRate() float64 {
	if s.Fetched == 0 {
		return 0
	}
	return float64(s.Fetched-s.Errored) / float64(s.Fetched) * 100
}

// Duration is the wall time of this invocation, up to now while running.
func (s *RunStats) Duration() time.Duration {
	end := s.EndedAt
	if end.IsZero() {
		end = time.Now()
	}
	return end.Sub(s.StartedAt)
}

// Throughput is records fetched per second by this invocation.
func (s *RunStats) Throughput() float64 {
	secs := s.Duration().Seconds()
	if secs <= 0 {
		return 0
	}
	return float64(s.Fetched-s.baseFetched) / secs
}

// ErrorEvents is what the error budget is charged with.
func (s *RunStats) ErrorEvents() int64 {
	return s.ValidationErrors + s.FailedBatches + s.FailedPages
}

func (s *RunStats) Confirmed() int64 {
	return s.Inserted + s.Updated
}

func (s *RunStats) recordError(sample ErrorSample) {
	s.ErrorsByType[sample.Type]++
	if len(s.ErrorSamples) < s.maxSamples {
		s.ErrorSamples = append(s.ErrorSamples, sample)
	}
}

func (s *RunStats) clone() *RunStats {
	c := *s
	c.ErrorsByType = maps.Clone(s.ErrorsByType)
	c.ErrorSamples = slices.Clone(s.ErrorSamples)
	return &c
}

// Snapshot is the JSON view of a run served on /statusz.
type Snapshot struct {
	RunID            string           `json:"run_id"`
	Pipeline         string           `json:"pipeline"`
	Mode             string           `json:"mode"`
	Filter           string           `json:"filter,omitempty"`
	State            State            `json:"state"`
	Fetched          int64            `json:"fetched"`
	Inserted         int64            `json:"inserted"`
	Updated          int64            `json:"updated"`
	Errored          int64            `json:"errored"`
	Batches          int64            `json:"batches"`
	ErrorsByType     map[string]int64 `json:"errors_by_type,omitempty"`
	Cursor           int64            `json:"cursor"`
	EstimatedTotal   int64            `json:"estimated_total"`
	Resumed          bool             `json:"resumed"`
	SuccessRate      float64          `json:"success_rate"`
	RecordsPerSecond float64          `json:"records_per_second"`
	StartedAt        time.Time        `json:"started_at"`
	EndedAt          *time.Time       `json:"ended_at,omitempty"`
}

func (s *RunStats) Snapshot() Snapshot {
	snap := Snapshot{
		RunID:            s.RunID.String(),
		Pipeline:         s.Pipeline,
		Mode:             s.Mode,
		Filter:           s.Filter,
		State:            s.State,
		Fetched:          s.Fetched,
		Inserted:         s.Inserted,
		Updated:          s.Updated,
		Errored:          s.Errored,
		Batches:          s.Batches,
		ErrorsByType:     maps.Clone(s.ErrorsByType),
		Cursor:           s.Cursor,
		EstimatedTotal:   s.EstimatedTotal,
		Resumed:          s.Resumed,
		SuccessRate:      s.SuccessRate(),
		RecordsPerSecond: s.Throughput(),
		StartedAt:        s.StartedAt,
	}
	if !s.EndedAt.IsZero() {
		end := s.EndedAt
		snap.EndedAt = &end
	}
	return snap
}
