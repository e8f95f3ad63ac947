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

package loader

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cardinalhq/censusrunner/internal/carrier"
)

// memStore mimics the carriers table: COPY fails on any existing or
// repeated key, upsert reports inserts and updates.
type memStore struct {
	mu         sync.Mutex
	rows       map[int64]carrier.Carrier
	copyCalls  int
	upserts    int
	failCopy   error
	failUpsert []error
}

func newMemStore() *memStore {
	return &memStore{rows: map[int64]carrier.Carrier{}}
}

func (m *memStore) CopyCarriers(_ context.Context, rows []carrier.Carrier) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.copyCalls++
	if m.failCopy != nil {
		return 0, m.failCopy
	}
	seen := map[int64]bool{}
	for _, r := range rows {
		if _, ok := m.rows[r.USDOTNumber]; ok || seen[r.USDOTNumber] {
			return 0, errors.New("duplicate key value violates unique constraint")
		}
		seen[r.USDOTNumber] = true
	}
	for _, r := range rows {
		m.rows[r.USDOTNumber] = r
	}
	return int64(len(rows)), nil
}

func (m *memStore) UpsertCarriers(_ context.Context, rows []carrier.Carrier) (int64, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.upserts++
	if len(m.failUpsert) > 0 {
		err := m.failUpsert[0]
		m.failUpsert = m.failUpsert[1:]
		if err != nil {
			return 0, 0, err
		}
	}
	var inserted, updated int64
	for _, r := range rows {
		if _, ok := m.rows[r.USDOTNumber]; ok {
			updated++
		} else {
			inserted++
		}
		m.rows[r.USDOTNumber] = r
	}
	return inserted, updated, nil
}

func batchOf(from, n int) Batch {
	recs := make([]carrier.Carrier, n)
	for i := range recs {
		recs[i] = carrier.Carrier{
			USDOTNumber: int64(from + i),
			LegalName:   pgtype.Text{String: "x", Valid: true},
		}
	}
	return Batch{Records: recs, FirstOffset: int64(from), NextOffset: int64(from + n)}
}

func testLoader(store Store) *Loader {
	cfg := DefaultConfig()
	cfg.Retry.Sleep = func(ctx context.Context, _ time.Duration) error { return ctx.Err() }
	return NewLoader(store, cfg)
}

func TestLoadBatch_SafePathIsIdempotent(t *testing.T) {
	store := newMemStore()
	l := testLoader(store)
	b := batchOf(1, 50)

	res, err := l.LoadBatch(t.Context(), b, false)
	require.NoError(t, err)
	assert.Equal(t, BatchResult{Inserted: 50, Path: PathSafe, Attempts: 1}, res)

	res, err = l.LoadBatch(t.Context(), b, false)
	require.NoError(t, err)
	assert.Equal(t, BatchResult{Updated: 50, Path: PathSafe, Attempts: 1}, res)
	assert.Len(t, store.rows, 50)
}

func TestLoadBatch_FastPathNeedsSizeAndPermission(t *testing.T) {
	store := newMemStore()
	l := testLoader(store)

	res, err := l.LoadBatch(t.Context(), batchOf(1, 100), true)
	require.NoError(t, err)
	assert.Equal(t, PathSafe, res.Path, "exactly the threshold stays on the safe path")

	res, err = l.LoadBatch(t.Context(), batchOf(1000, 101), false)
	require.NoError(t, err)
	assert.Equal(t, PathSafe, res.Path, "fast path not allowed")

	res, err = l.LoadBatch(t.Context(), batchOf(2000, 101), true)
	require.NoError(t, err)
	assert.Equal(t, PathFast, res.Path)
	assert.Equal(t, int64(101), res.Inserted)
	assert.Equal(t, 1, store.copyCalls)
}

func TestLoadBatch_SeenKeysStayOffFastPath(t *testing.T) {
	store := newMemStore()
	l := testLoader(store)

	_, err := l.LoadBatch(t.Context(), batchOf(1, 10), false)
	require.NoError(t, err)

	// Overlaps key 10 from the previous batch.
	res, err := l.LoadBatch(t.Context(), batchOf(10, 150), true)
	require.NoError(t, err)
	assert.Equal(t, PathSafe, res.Path)
	assert.Equal(t, int64(149), res.Inserted)
	assert.Equal(t, int64(1), res.Updated)
	assert.Zero(t, store.copyCalls)

	l.ResetKeys()
	assert.True(t, l.FastEligible(batchOf(10, 150)))
}

func TestLoadBatch_FailedCopyFallsBackToSafePath(t *testing.T) {
	store := newMemStore()
	store.failCopy = errors.New("connection reset")
	l := testLoader(store)

	res, err := l.LoadBatch(t.Context(), batchOf(1, 200), true)
	require.NoError(t, err)
	assert.Equal(t, PathSafe, res.Path)
	assert.True(t, res.FellBack)
	assert.Equal(t, 2, res.Attempts)
	assert.Equal(t, int64(200), res.Inserted)
	assert.Equal(t, 1, store.upserts)
}

func TestLoadBatch_FallbackFailureIsLoadError(t *testing.T) {
	store := newMemStore()
	copyErr := errors.New("copy broke")
	upsertErr := errors.New("upsert broke")
	store.failCopy = copyErr
	store.failUpsert = []error{upsertErr, nil}
	l := testLoader(store)

	b := batchOf(1, 200)
	_, err := l.LoadBatch(t.Context(), b, true)

	var le *LoadError
	require.ErrorAs(t, err, &le)
	assert.Equal(t, PathSafe, le.Path)
	assert.Equal(t, int64(1), le.Batch.FirstOffset)
	assert.ErrorIs(t, err, copyErr)
	assert.ErrorIs(t, err, upsertErr)
	assert.Equal(t, 1, store.upserts, "fallback gets exactly one safe attempt")
}

func TestLoadBatch_SafePathRetriesOnce(t *testing.T) {
	store := newMemStore()
	store.failUpsert = []error{errors.New("deadlock detected")}
	l := testLoader(store)

	res, err := l.LoadBatch(t.Context(), batchOf(1, 5), false)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Attempts)
	assert.Equal(t, int64(5), res.Inserted)

	store.failUpsert = []error{errors.New("a"), errors.New("b"), errors.New("c")}
	_, err = l.LoadBatch(t.Context(), batchOf(100, 5), false)
	var le *LoadError
	require.ErrorAs(t, err, &le)
	assert.Equal(t, 4, store.upserts)
}

func TestLoadBatch_Empty(t *testing.T) {
	store := newMemStore()
	res, err := testLoader(store).LoadBatch(t.Context(), Batch{}, true)
	require.NoError(t, err)
	assert.Zero(t, res.Inserted)
	assert.Zero(t, store.upserts+store.copyCalls)
}
