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
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/cardinalhq/censusrunner/config"
	"github.com/cardinalhq/censusrunner/internal/cache"
	"github.com/cardinalhq/censusrunner/internal/censusdb"
	"github.com/cardinalhq/censusrunner/internal/checkpoint"
	"github.com/cardinalhq/censusrunner/internal/dbopen"
	"github.com/cardinalhq/censusrunner/internal/heartbeat"
	"github.com/cardinalhq/censusrunner/internal/ingest"
	"github.com/cardinalhq/censusrunner/internal/loader"
	"github.com/cardinalhq/censusrunner/internal/logctx"
	"github.com/cardinalhq/censusrunner/internal/source"
)

// pipeline is everything an ingestion run needs, opened together and
// closed together.
type pipeline struct {
	cfg     *config.Config
	db      *censusdb.Store
	client  *source.Client
	counts  *cache.Cache[string, int64]
	keys    *cache.Cache[int64, struct{}]
	tracker *checkpoint.Tracker
	orch    *ingest.Orchestrator
}

func openPipeline(ctx context.Context, cfg *config.Config) (*pipeline, error) {
	db, err := censusdb.CensusDBStore(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to open census database: %w", err)
	}

	store, err := checkpoint.NewStore(ctx, cfg.Checkpoint, db)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create checkpoint store: %w", err)
	}

	p := &pipeline{
		cfg:     cfg,
		db:      db,
		tracker: checkpoint.NewTracker(store, cfg.Checkpoint.Pipeline),
	}
	p.client, p.counts = newSourceClient(cfg.Source)

	p.keys = cache.New[int64, struct{}](cfg.Loader.KeyCache)
	p.keys.Start()
	ld := loader.NewLoader(db, cfg.Loader, loader.WithKeyCache(p.keys))

	p.orch = ingest.NewOrchestrator(cfg.Ingest, p.client, ld, db, p.tracker,
		ingest.WithRunRecorder(ingest.NewDBRunRecorder(db)))

	logctx.FromContext(ctx).Info("Pipeline ready",
		slog.String("pipeline", cfg.Checkpoint.Pipeline),
		slog.String("checkpointBackend", cfg.Checkpoint.Backend),
		slog.String("source", cfg.Source.BaseURL),
		slog.Int("batchSize", cfg.Ingest.BatchSize),
		slog.Int("errorBudget", cfg.Ingest.ErrorBudget))

	return p, nil
}

func (p *pipeline) Close() {
	p.counts.Stop()
	p.keys.Stop()
	p.db.Close()
}

// startHeartbeat keeps heartbeat_at fresh on the active run's history row.
func (p *pipeline) startHeartbeat(ctx context.Context) (stop func()) {
	return heartbeat.New(func(ctx context.Context) error {
		snap, ok := p.orch.Status()
		if !ok || snap.State.Terminal() {
			return nil
		}
		id, err := uuid.Parse(snap.RunID)
		if err != nil {
			return err
		}
		return p.db.TouchIngestRun(ctx, id, time.Now().UTC())
	}, runHeartbeatInterval).Start(ctx)
}

func newSourceClient(cfg source.Config) (*source.Client, *cache.Cache[string, int64]) {
	counts := cache.New[string, int64](cfg.CountCache)
	counts.Start()
	return source.NewClient(cfg, source.WithCountCache(counts)), counts
}

// openCheckpointStore opens only what the configured backend needs. The
// returned close func is never nil.
func openCheckpointStore(ctx context.Context, cfg checkpoint.Config) (checkpoint.Store, func(), error) {
	var db *censusdb.Store
	if cfg.Backend == "" || cfg.Backend == checkpoint.BackendPostgres {
		var err error
		db, err = censusdb.CensusDBStore(ctx, dbopen.WarnOnMigrationMismatch())
		if err != nil {
			return nil, func() {}, fmt.Errorf("failed to open census database: %w", err)
		}
	}
	closeFn := func() {
		if db != nil {
			db.Close()
		}
	}

	store, err := checkpoint.NewStore(ctx, cfg, db)
	if err != nil {
		closeFn()
		return nil, func() {}, err
	}
	return store, closeFn, nil
}

// progressLogger logs run progress at most once per interval. Progress is
// delivered from a single goroutine, so no locking is needed.
func progressLogger(ctx context.Context, interval time.Duration) ingest.ProgressFunc {
	ll := logctx.FromContext(ctx)
	var last time.Time
	return func(current, estimatedTotal int64) {
		if time.Since(last) < interval {
			return
		}
		last = time.Now()
		attrs := []any{slog.Int64("records", current), slog.Int64("estimatedTotal", estimatedTotal)}
		if estimatedTotal > 0 {
			attrs = append(attrs, slog.Float64("percent", float64(current)*100/float64(estimatedTotal)))
		}
		ll.Info("Ingestion progress", attrs...)
	}
}

// parseSince accepts RFC 3339 timestamps or plain dates.
func parseSince(s string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid time %q, expected RFC 3339 or YYYY-MM-DD", s)
}
