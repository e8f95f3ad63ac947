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

package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cardinalhq/censusrunner/internal/carrier"
	"github.com/cardinalhq/censusrunner/internal/censusdb"
	"github.com/cardinalhq/censusrunner/internal/checkpoint"
	"github.com/cardinalhq/censusrunner/internal/ingest"
	"github.com/cardinalhq/censusrunner/internal/logctx"
)

func TestParseSince(t *testing.T) {
	want := time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)

	for _, s := range []string{"2024-03-15", "2024-03-15T00:00:00", "2024-03-15T00:00:00Z", "2024-03-14T19:00:00-05:00"} {
		got, err := parseSince(s)
		require.NoError(t, err, s)
		assert.True(t, want.Equal(got), s)
		assert.Equal(t, time.UTC, got.Location())
	}

	_, err := parseSince("last tuesday")
	assert.Error(t, err)
}

func TestStateFilter(t *testing.T) {
	f, err := stateFilter("")
	require.NoError(t, err)
	assert.Empty(t, f)

	f, err = stateFilter("tx")
	require.NoError(t, err)
	assert.Contains(t, f, "'TX'")

	_, err = stateFilter("Texas")
	assert.Error(t, err)
}

func TestPrintCheckpoint(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, printCheckpoint(&buf, "json", "census", nil))
	assert.Equal(t, "No checkpoint saved for pipeline \"census\"\n", buf.String())

	cp := &checkpoint.Checkpoint{Pipeline: "census", Mode: "full", CursorOffset: 5000, RecordsConfirmed: 4990}

	buf.Reset()
	require.NoError(t, printCheckpoint(&buf, "json", "census", cp))
	var back checkpoint.Checkpoint
	require.NoError(t, json.Unmarshal(buf.Bytes(), &back))
	assert.Equal(t, int64(5000), back.CursorOffset)
	assert.Equal(t, int64(4990), back.RecordsConfirmed)

	buf.Reset()
	require.NoError(t, printCheckpoint(&buf, "yaml", "census", cp))
	assert.Contains(t, buf.String(), "cursor_offset: 5000\n")
	assert.Contains(t, buf.String(), "mode: full\n")

	assert.Error(t, printCheckpoint(&buf, "xml", "census", cp))
}

var sampleNow = time.Date(2024, 3, 15, 3, 1, 0, 0, time.UTC)

func sampleRuns() []censusdb.IngestRun {
	started := time.Date(2024, 3, 15, 2, 0, 0, 0, time.UTC)
	return []censusdb.IngestRun{
		{
			ID:           uuid.MustParse("0b5e8d4e-6a52-4f0e-9a62-7d4c1d1b9a01"),
			Mode:         "full",
			State:        "completed",
			Fetched:      1000,
			Inserted:     990,
			Errored:      10,
			SuccessRate:  99,
			ErrorSummary: []byte(`{"by_type":{"ValidationError":10}}`),
			StartedAt:    started,
			EndedAt:      pgtype.Timestamptz{Time: started.Add(90 * time.Second), Valid: true},
		},
		{
			ID:          uuid.MustParse("0b5e8d4e-6a52-4f0e-9a62-7d4c1d1b9a02"),
			Mode:        "incremental",
			State:       "running",
			ResumedFrom: pgtype.Int8{Int64: 500, Valid: true},
			StartedAt:   started.Add(time.Hour),
			HeartbeatAt: pgtype.Timestamptz{Time: started.Add(time.Hour + 30*time.Second), Valid: true},
		},
	}
}

func TestPrintRunsTable(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, printRunsTable(&buf, sampleRuns(), sampleNow))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
	assert.True(t, strings.HasPrefix(lines[0], "RUN"))
	assert.Contains(t, lines[1], "completed")
	assert.Contains(t, lines[1], "1m30s")
	assert.Contains(t, lines[1], "99.0%")
	assert.Contains(t, lines[2], "running")

	buf.Reset()
	require.NoError(t, printRunsTable(&buf, nil, sampleNow))
	assert.Equal(t, "No runs recorded\n", buf.String())
}

func TestPrintRunsJSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, printRunsJSON(&buf, sampleRuns(), sampleNow))

	var views []map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &views))
	require.Len(t, views, 2)
	assert.Equal(t, "completed", views[0]["state"])
	assert.NotNil(t, views[0]["error_summary"])
	assert.NotNil(t, views[0]["ended_at"])
	assert.Nil(t, views[1]["ended_at"])
	assert.Equal(t, float64(500), views[1]["resumed_from"])
}

func TestDisplayState(t *testing.T) {
	now := time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC)

	done := censusdb.IngestRun{State: "completed", StartedAt: now.Add(-24 * time.Hour)}
	assert.Equal(t, "completed", displayState(done, now))

	live := censusdb.IngestRun{
		State:       "running",
		StartedAt:   now.Add(-3 * time.Hour),
		HeartbeatAt: pgtype.Timestamptz{Time: now.Add(-time.Minute), Valid: true},
	}
	assert.Equal(t, "running", displayState(live, now))

	live.HeartbeatAt.Time = now.Add(-time.Hour)
	assert.Equal(t, "stale", displayState(live, now))

	fresh := censusdb.IngestRun{State: "running", StartedAt: now.Add(-time.Minute)}
	assert.Equal(t, "running", displayState(fresh, now))

	fresh.StartedAt = now.Add(-time.Hour)
	assert.Equal(t, "stale", displayState(fresh, now))
}

func TestPrintRawCarrier(t *testing.T) {
	var buf bytes.Buffer
	raw := carrier.RawRecord{"usdot_number": "42", "legal_name": "ACME"}
	require.NoError(t, printRawCarrier(&buf, raw))

	back, err := carrier.ParseRawRecord(bytes.TrimSpace(buf.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, raw, back)

	// Rejected records still print.
	buf.Reset()
	require.NoError(t, printRawCarrier(&buf, carrier.RawRecord{"legal_name": "NO KEY"}))
	assert.Contains(t, buf.String(), "NO KEY")
}

func TestProgressLogger_Throttles(t *testing.T) {
	var buf bytes.Buffer
	ctx := logctx.WithLogger(t.Context(), slog.New(slog.NewTextHandler(&buf, nil)))

	progress := progressLogger(ctx, time.Hour)
	for i := range 5 {
		progress(int64(i+1)*10, 100)
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 1)
	assert.Contains(t, lines[0], "records=10")
	assert.Contains(t, lines[0], "percent=10")
}

func TestCommandTree(t *testing.T) {
	for _, path := range [][]string{
		{"migrate"},
		{"ingest", "full"},
		{"ingest", "incremental"},
		{"checkpoint", "show"},
		{"checkpoint", "clear"},
		{"source", "count"},
		{"source", "fetch"},
		{"runs", "list"},
	} {
		c, _, err := rootCmd.Find(path)
		require.NoError(t, err, path)
		assert.Equal(t, path[len(path)-1], c.Name())
	}

	full, _, err := rootCmd.Find([]string{"ingest", "full"})
	require.NoError(t, err)
	for _, flag := range []string{"batch-size", "truncate", "state"} {
		assert.NotNil(t, full.Flags().Lookup(flag), flag)
	}

	incr, _, err := rootCmd.Find([]string{"ingest", "incremental"})
	require.NoError(t, err)
	for _, flag := range []string{"batch-size", "since", "since-last-run", "state"} {
		assert.NotNil(t, incr.Flags().Lookup(flag), flag)
	}
}

func TestIngestIncremental_RequiresSince(t *testing.T) {
	rootCmd.SetArgs([]string{"ingest", "incremental"})
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	t.Cleanup(func() {
		rootCmd.SetArgs(nil)
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
	})

	err := rootCmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "since")
}

func TestSourceFetch_RejectsBadUSDOT(t *testing.T) {
	rootCmd.SetArgs([]string{"source", "fetch", "abc"})
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	t.Cleanup(func() {
		rootCmd.SetArgs(nil)
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
	})

	err := rootCmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid USDOT number")
}

func TestLogLevel(t *testing.T) {
	t.Setenv("DEBUG", "")
	t.Setenv("CENSUSRUNNER_DEBUG", "")
	assert.Equal(t, slog.LevelInfo, logLevel())

	t.Setenv("CENSUSRUNNER_DEBUG", "1")
	assert.Equal(t, slog.LevelDebug, logLevel())
}

func TestOTLPExportEnabled(t *testing.T) {
	t.Setenv("OTEL_SERVICE_NAME", "censusrunner")
	t.Setenv("ENABLE_OTLP_TELEMETRY", "")
	assert.False(t, otlpExportEnabled())

	t.Setenv("ENABLE_OTLP_TELEMETRY", "true")
	assert.True(t, otlpExportEnabled())

	t.Setenv("OTEL_SERVICE_NAME", "")
	assert.False(t, otlpExportEnabled())
}

func TestRecordCommand_BeforeSetup(t *testing.T) {
	assert.NotPanics(t, func() { recordCommand(time.Now(), "ingest full", nil) })
}

func TestRunMigrations_UnknownDatabase(t *testing.T) {
	err := runMigrations(t.Context(), []string{" ", "lrdb"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown database "lrdb"`)
	assert.Contains(t, err.Error(), "known: censusdb")
}

func TestLoadDotEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "census.env")
	require.NoError(t, os.WriteFile(path, []byte("CENSUSDB_HOST=from-file\nCENSUSDB_DBNAME=census\n"), 0o600))

	t.Setenv("CENSUSRUNNER_ENV_FILE", path)
	t.Setenv("CENSUSDB_HOST", "from-env")
	t.Setenv("CENSUSDB_DBNAME", "")
	require.NoError(t, os.Unsetenv("CENSUSDB_DBNAME"))

	require.NoError(t, loadDotEnv())
	assert.Equal(t, "from-env", os.Getenv("CENSUSDB_HOST"))
	assert.Equal(t, "census", os.Getenv("CENSUSDB_DBNAME"))

	t.Setenv("CENSUSRUNNER_ENV_FILE", filepath.Join(t.TempDir(), "missing.env"))
	assert.Error(t, loadDotEnv())
}

func TestInterruptedMessage(t *testing.T) {
	assert.Contains(t, interruptedMessage(&ingest.RunStats{Checkpointed: true}), "to resume")

	msg := interruptedMessage(&ingest.RunStats{})
	assert.Contains(t, msg, "no checkpoint")
	assert.NotContains(t, msg, "to resume")
}

type fakeCarrierLookup struct {
	stored map[int64]bool
	err    error
}

func (f fakeCarrierLookup) CarrierExists(_ context.Context, usdot int64) (bool, error) {
	return f.stored[usdot], f.err
}

func TestLogStoredState(t *testing.T) {
	var buf bytes.Buffer
	ctx := logctx.WithLogger(t.Context(), slog.New(slog.NewTextHandler(&buf, nil)))
	db := fakeCarrierLookup{stored: map[int64]bool{42: true}}

	require.NoError(t, logStoredState(ctx, db, 42))
	assert.Contains(t, buf.String(), "usdot=42 stored=true")

	buf.Reset()
	require.NoError(t, logStoredState(ctx, db, 7))
	assert.Contains(t, buf.String(), "usdot=7 stored=false")

	err := logStoredState(ctx, fakeCarrierLookup{err: errors.New("connection refused")}, 7)
	assert.ErrorContains(t, err, "connection refused")
}
