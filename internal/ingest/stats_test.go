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
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cardinalhq/censusrunner/internal/censusdb"
)

func TestRunStats_Derived(t *testing.T) {
	start := time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC)
	s := newRunStats(uuid.New(), "census", ModeFull, "", start, 10)
	assert.Zero(t, s.SuccessRate())

	s.Fetched = 250
	s.Errored = 5
	s.EndedAt = start.Add(10 * time.Second)
	assert.InDelta(t, 98.0, s.SuccessRate(), 1e-9)
	assert.InDelta(t, 25.0, s.Throughput(), 1e-9)

	s.baseFetched = 150
	assert.InDelta(t, 10.0, s.Throughput(), 1e-9, "throughput only counts this invocation")

	s.ValidationErrors, s.FailedBatches, s.FailedPages = 3, 1, 2
	assert.Equal(t, int64(6), s.ErrorEvents())
}

func TestRunStats_CloneIsIndependent(t *testing.T) {
	s := newRunStats(uuid.New(), "census", ModeFull, "", time.Now(), 10)
	s.recordError(ErrorSample{Type: ErrorTypeFetch})

	c := s.clone()
	s.recordError(ErrorSample{Type: ErrorTypeFetch})

	assert.Equal(t, int64(1), c.ErrorsByType[ErrorTypeFetch])
	assert.Len(t, c.ErrorSamples, 1)
}

func TestSnapshot_JSON(t *testing.T) {
	s := newRunStats(uuid.New(), "census", ModeIncremental, "f", time.Now(), 10)
	s.State = StateLoading
	s.Fetched = 10

	data, err := json.Marshal(s.Snapshot())
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "loading", decoded["state"])
	assert.Equal(t, "incremental", decoded["mode"])
	assert.NotContains(t, decoded, "ended_at")
}

func TestState_Terminal(t *testing.T) {
	assert.True(t, StateCompleted.Terminal())
	assert.True(t, StateAborted.Terminal())
	assert.False(t, StateLoading.Terminal())
	assert.False(t, StateIdle.Terminal())
}

func TestNotifier_LatestWinsAndNeverBlocks(t *testing.T) {
	release := make(chan struct{})
	var got []int64
	n := newNotifier(func(current, _ int64) {
		<-release
		got = append(got, current)
	})

	done := make(chan struct{})
	go func() {
		for i := int64(1); i <= 100; i++ {
			n.notify(i, 100)
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("notify blocked on a slow callback")
	}

	close(release)
	assert.True(t, n.close())

	require.NotEmpty(t, got)
	assert.LessOrEqual(t, len(got), 2)
	assert.Equal(t, int64(100), got[len(got)-1])
}

func TestNotifier_Nil(t *testing.T) {
	n := newNotifier(nil)
	assert.Nil(t, n)
	n.notify(1, 2)
	assert.True(t, n.close())
}

func TestNotifier_CloseDoesNotWaitForHungCallback(t *testing.T) {
	hang := make(chan struct{})
	defer close(hang)
	n := newNotifier(func(int64, int64) { <-hang })
	n.drainTimeout = 20 * time.Millisecond

	n.notify(1, 10)
	n.notify(2, 10)

	start := time.Now()
	assert.False(t, n.close())
	assert.Less(t, time.Since(start), 2*time.Second)
}

type fakeRunQuerier struct {
	inserted []censusdb.InsertIngestRunParams
	finished []censusdb.FinishIngestRunParams
	last     *censusdb.IngestRun
}

func (f *fakeRunQuerier) InsertIngestRun(_ context.Context, arg censusdb.InsertIngestRunParams) error {
	f.inserted = append(f.inserted, arg)
	return nil
}

func (f *fakeRunQuerier) FinishIngestRun(_ context.Context, arg censusdb.FinishIngestRunParams) error {
	f.finished = append(f.finished, arg)
	return nil
}

func (f *fakeRunQuerier) LastSuccessfulIngestRun(_ context.Context, _ string) (*censusdb.IngestRun, error) {
	return f.last, nil
}

func TestDBRunRecorder(t *testing.T) {
	db := &fakeRunQuerier{}
	rec := NewDBRunRecorder(db)

	s := newRunStats(uuid.New(), "census", ModeFull, "", time.Now(), 10)
	s.Resumed = true
	s.ResumedFrom = 5000
	require.NoError(t, rec.RunStarted(t.Context(), s))

	require.Len(t, db.inserted, 1)
	assert.Equal(t, "running", db.inserted[0].State)
	assert.True(t, db.inserted[0].ResumedFrom.Valid)
	assert.Equal(t, int64(5000), db.inserted[0].ResumedFrom.Int64)
	assert.Positive(t, db.inserted[0].InstanceID)
	assert.Equal(t, s.StartedAt, db.inserted[0].StartedAt)

	s.State = StateAborted
	s.Fetched = 10
	s.Errored = 10
	s.recordError(ErrorSample{Type: ErrorTypeValidation, Key: "x", Message: "bad"})
	s.EndedAt = time.Now()
	require.NoError(t, rec.RunFinished(t.Context(), s, ErrErrorBudgetExceeded))

	require.Len(t, db.finished, 1)
	f := db.finished[0]
	assert.Equal(t, "aborted", f.State)
	assert.Equal(t, ErrErrorBudgetExceeded.Error(), f.ErrorMessage.String)
	assert.Zero(t, f.SuccessRate)

	var summary errorSummary
	require.NoError(t, json.Unmarshal(f.ErrorSummary, &summary))
	assert.Equal(t, int64(1), summary.ByType[ErrorTypeValidation])
	require.Len(t, summary.Samples, 1)
	assert.Equal(t, "x", summary.Samples[0].Key)
}

func TestLastSuccessfulRun(t *testing.T) {
	db := &fakeRunQuerier{}
	_, ok, err := LastSuccessfulRun(t.Context(), db, "census")
	require.NoError(t, err)
	assert.False(t, ok)

	started := time.Date(2025, 7, 1, 6, 0, 0, 0, time.UTC)
	db.last = &censusdb.IngestRun{StartedAt: started}
	since, ok, err := LastSuccessfulRun(t.Context(), db, "census")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, started, since)
}

func TestRunInProgress(t *testing.T) {
	h := newHarness(t, testConfig(), &fakeSource{records: rawRecords(1)}, newMemTarget())
	h.orch.running.Store(true)

	_, err := h.orch.RunFullIngestion(t.Context(), 100, nil)
	assert.True(t, errors.Is(err, ErrRunInProgress))
}
