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
	"errors"
	"fmt"
	"iter"
	"slices"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cardinalhq/censusrunner/internal/cache"
	"github.com/cardinalhq/censusrunner/internal/carrier"
	"github.com/cardinalhq/censusrunner/internal/checkpoint"
	"github.com/cardinalhq/censusrunner/internal/loader"
	"github.com/cardinalhq/censusrunner/internal/source"
)

// rawRecords builds n census records. Offsets listed in bad get an
// invalid natural key.
func rawRecords(n int, bad ...int) []carrier.RawRecord {
	recs := make([]carrier.RawRecord, n)
	for i := range recs {
		key := strconv.Itoa(i + 1)
		if slices.Contains(bad, i) {
			key = "not-a-number"
		}
		recs[i] = carrier.RawRecord{
			"usdot_number": key,
			"legal_name":   fmt.Sprintf("Carrier %d", i+1),
			"phy_state":    "TX",
		}
	}
	return recs
}

// fakeSource pages over an in-memory dataset the same way the census
// client does.
type fakeSource struct {
	records []carrier.RawRecord
	failAt  map[int64]bool
	count   int64
	// downAt ends the sequence with source.ErrSourceUnavailable.
	downAt map[int64]bool

	// cancel is called once cancelAfter pages have been consumed.
	cancelAfter int
	cancel      context.CancelFunc

	mu      sync.Mutex
	offsets []int64
	filters []string
}

func (f *fakeSource) Pages(ctx context.Context, start int64, pageSize int, filter string) iter.Seq2[source.Page, error] {
	if pageSize <= 0 {
		pageSize = 100
	}
	return func(yield func(source.Page, error) bool) {
		offset := start
		consumed := 0
		for {
			if err := ctx.Err(); err != nil {
				yield(source.Page{Offset: offset, NextOffset: offset}, err)
				return
			}
			f.mu.Lock()
			f.offsets = append(f.offsets, offset)
			f.filters = append(f.filters, filter)
			f.mu.Unlock()

			if f.downAt[offset] {
				yield(source.Page{Offset: offset, Limit: pageSize, NextOffset: offset}, source.ErrSourceUnavailable)
				return
			}
			if f.failAt[offset] {
				err := &source.FetchError{Offset: offset, Attempts: 3, Err: errors.New("source returned status 503")}
				if !yield(source.Page{Offset: offset, Limit: pageSize, NextOffset: offset}, err) {
					return
				}
				offset += int64(pageSize)
				continue
			}

			end := min(offset+int64(pageSize), int64(len(f.records)))
			if offset >= end {
				return
			}
			recs := f.records[offset:end]
			page := source.Page{Offset: offset, Limit: pageSize, Records: recs, NextOffset: end}
			if !yield(page, nil) {
				return
			}
			consumed++
			if f.cancelAfter > 0 && consumed == f.cancelAfter {
				f.cancel()
			}
			if len(recs) < pageSize {
				return
			}
			offset = end
		}
	}
}

func (f *fakeSource) Count(_ context.Context, _ string) (int64, error) {
	if f.count == 0 {
		return int64(len(f.records)), nil
	}
	return f.count, nil
}

func (f *fakeSource) requestedOffsets() []int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.offsets)
}

// memTarget is the carriers table in memory. COPY rejects existing keys
// like the primary key would.
type memTarget struct {
	mu      sync.Mutex
	rows    map[int64]carrier.Carrier
	copies  int
	upserts int
	failKey int64
}

func newMemTarget(preload ...int64) *memTarget {
	m := &memTarget{rows: map[int64]carrier.Carrier{}}
	for _, k := range preload {
		m.rows[k] = carrier.Carrier{USDOTNumber: k}
	}
	return m
}

func (m *memTarget) hasFailKey(rows []carrier.Carrier) bool {
	if m.failKey == 0 {
		return false
	}
	return slices.ContainsFunc(rows, func(c carrier.Carrier) bool { return c.USDOTNumber == m.failKey })
}

func (m *memTarget) CopyCarriers(_ context.Context, rows []carrier.Carrier) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.copies++
	if m.hasFailKey(rows) {
		return 0, errors.New("copy failed")
	}
	for _, c := range rows {
		if _, ok := m.rows[c.USDOTNumber]; ok {
			return 0, fmt.Errorf("duplicate key %d", c.USDOTNumber)
		}
	}
	for _, c := range rows {
		m.rows[c.USDOTNumber] = c
	}
	return int64(len(rows)), nil
}

func (m *memTarget) UpsertCarriers(_ context.Context, rows []carrier.Carrier) (inserted, updated int64, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.upserts++
	if m.hasFailKey(rows) {
		return 0, 0, errors.New("connection reset")
	}
	for _, c := range rows {
		if _, ok := m.rows[c.USDOTNumber]; ok {
			updated++
		} else {
			inserted++
		}
		m.rows[c.USDOTNumber] = c
	}
	return inserted, updated, nil
}

func (m *memTarget) CountCarriers(context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.rows)), nil
}

func (m *memTarget) TruncateCarriers(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	clear(m.rows)
	return nil
}

func (m *memTarget) len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rows)
}

// memCheckpoints is a checkpoint.Store that keeps every save.
type memCheckpoints struct {
	mu      sync.Mutex
	current *checkpoint.Checkpoint
	saves   []checkpoint.Checkpoint
	clears  int
	saveErr error
}

func (m *memCheckpoints) Load(_ context.Context, _ string) (*checkpoint.Checkpoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return nil, nil
	}
	cp := *m.current
	return &cp, nil
}

func (m *memCheckpoints) Save(_ context.Context, cp checkpoint.Checkpoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	m.current = &cp
	m.saves = append(m.saves, cp)
	return nil
}

func (m *memCheckpoints) Clear(_ context.Context, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.current = nil
	m.clears++
	return nil
}

func (m *memCheckpoints) cursors() []int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []int64
	for _, cp := range m.saves {
		out = append(out, cp.CursorOffset)
	}
	return out
}

func noSleep(ctx context.Context, _ time.Duration) error { return ctx.Err() }

func testLoader(target loader.Store) *loader.Loader {
	cfg := loader.DefaultConfig()
	cfg.Retry.Sleep = noSleep
	cfg.KeyCache = cache.Config{}
	return loader.NewLoader(target, cfg)
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.BatchSize = 100
	cfg.PageSize = 100
	cfg.Workers = 2
	return cfg
}

type harness struct {
	orch        *Orchestrator
	source      *fakeSource
	target      *memTarget
	checkpoints *memCheckpoints
}

func newHarness(t *testing.T, cfg Config, src *fakeSource, target *memTarget) *harness {
	t.Helper()
	cps := &memCheckpoints{}
	tracker := checkpoint.NewTracker(cps, "census")
	orch := NewOrchestrator(cfg, src, testLoader(target), target, tracker)
	return &harness{orch: orch, source: src, target: target, checkpoints: cps}
}

func requireCompleted(t *testing.T, stats *RunStats, err error) {
	t.Helper()
	require.NoError(t, err)
	require.NotNil(t, stats)
	require.Equal(t, StateCompleted, stats.State)
}
