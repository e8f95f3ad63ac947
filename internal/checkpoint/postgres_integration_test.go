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

package checkpoint_test

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cardinalhq/censusrunner/internal/censusdb"
	"github.com/cardinalhq/censusrunner/internal/checkpoint"
	"github.com/cardinalhq/censusrunner/testhelpers"
)

func TestPostgresStore_Tracker(t *testing.T) {
	ctx := t.Context()
	db := censusdb.NewStore(testhelpers.SetupTestCensusDB(t))

	store, err := checkpoint.NewStore(ctx, checkpoint.Config{Backend: checkpoint.BackendPostgres}, db)
	require.NoError(t, err)

	tr := checkpoint.NewTracker(store, "census")
	cp, err := tr.LoadCheckpoint(ctx)
	require.NoError(t, err)
	assert.Nil(t, cp)

	run := checkpoint.Run{
		ID:        uuid.New(),
		Mode:      "full",
		StartedAt: time.Now().UTC().Truncate(time.Microsecond),
	}
	tr.Begin(run)
	require.NoError(t, tr.RecordProgress(ctx, 1000, checkpoint.Counts{RecordsConfirmed: 990, Fetched: 1000, Inserted: 990, Errored: 10}))
	require.NoError(t, tr.RecordProgress(ctx, 2000, checkpoint.Counts{RecordsConfirmed: 1990, Fetched: 2000, Inserted: 1990, Errored: 10}))

	cp, err = tr.LoadCheckpoint(ctx)
	require.NoError(t, err)
	require.NotNil(t, cp)
	assert.Equal(t, int64(2000), cp.CursorOffset)
	assert.Equal(t, int64(1990), cp.RecordsConfirmed)
	assert.Equal(t, run.ID, cp.RunID)
	assert.True(t, cp.Matches("full", ""))

	require.NoError(t, tr.ClearCheckpoint(ctx))
	cp, err = tr.LoadCheckpoint(ctx)
	require.NoError(t, err)
	assert.Nil(t, cp)
}
