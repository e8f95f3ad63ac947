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

// Package ingest drives census ingestion runs: pages from the source are
// normalized, batched, loaded and checkpointed strictly in source order.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/cardinalhq/censusrunner/internal/carrier"
	"github.com/cardinalhq/censusrunner/internal/checkpoint"
	"github.com/cardinalhq/censusrunner/internal/idgen"
	"github.com/cardinalhq/censusrunner/internal/loader"
	"github.com/cardinalhq/censusrunner/internal/logctx"
	"github.com/cardinalhq/censusrunner/internal/normalize"
	"github.com/cardinalhq/censusrunner/internal/source"
)

var (
	// ErrErrorBudgetExceeded aborts a run that hit more error events than
	// its budget allows.
	ErrErrorBudgetExceeded = errors.New("error budget exceeded")

	ErrRunInProgress = errors.New("an ingestion run is already in progress")
)

// Source is the paginated census feed.
type Source interface {
	Pages(ctx context.Context, start int64, pageSize int, filter string) iter.Seq2[source.Page, error]
	Count(ctx context.Context, filter string) (int64, error)
}

type BatchLoader interface {
	LoadBatch(ctx context.Context, batch loader.Batch, allowFast bool) (loader.BatchResult, error)
	ResetKeys()
}

// Target is the record store as seen by the orchestrator, used to decide
// whether the fast path is safe.
type Target interface {
	CountCarriers(ctx context.Context) (int64, error)
	TruncateCarriers(ctx context.Context) error
}

type Orchestrator struct {
	cfg      Config
	source   Source
	loader   BatchLoader
	target   Target
	tracker  *checkpoint.Tracker
	recorder RunRecorder
	batchIDs *idgen.BatchIDSource
	now      func() time.Time

	running atomic.Bool

	mu      sync.RWMutex
	current *RunStats
}

type Option func(*Orchestrator)

func WithRunRecorder(r RunRecorder) Option {
	return func(o *Orchestrator) { o.recorder = r }
}

func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

func NewOrchestrator(cfg Config, src Source, ld BatchLoader, target Target, tracker *checkpoint.Tracker, opts ...Option) *Orchestrator {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultConfig().BatchSize
	}
	o := &Orchestrator{
		cfg:      cfg,
		source:   src,
		loader:   ld,
		target:   target,
		tracker:  tracker,
		recorder: nopRecorder{},
		batchIDs: idgen.NewBatchIDSource(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// FullOptions tunes a full ingestion run.
type FullOptions struct {
	BatchSize int
	Progress  ProgressFunc
	// Truncate empties the carriers table first, which makes the run
	// eligible for the fast path. Ignored when resuming.
	Truncate bool
	// Filter restricts the run, for example to one state.
	Filter string
}

type IncrementalOptions struct {
	Since     time.Time
	BatchSize int
	Progress  ProgressFunc
	// Filter is ANDed with the modified-since predicate.
	Filter string
}

// RunFullIngestion loads the whole census. The error is non-nil exactly
// when the run aborted; stats are returned either way.
func (o *Orchestrator) RunFullIngestion(ctx context.Context, batchSize int, progress ProgressFunc) (*RunStats, error) {
	return o.RunFullIngestionWithOptions(ctx, FullOptions{BatchSize: batchSize, Progress: progress})
}

func (o *Orchestrator) RunFullIngestionWithOptions(ctx context.Context, opts FullOptions) (*RunStats, error) {
	return o.execute(ctx, runPlan{
		mode:      ModeFull,
		filter:    opts.Filter,
		batchSize: opts.BatchSize,
		truncate:  opts.Truncate,
		progress:  opts.Progress,
	})
}

// RunIncrementalUpdate loads records modified after since.
func (o *Orchestrator) RunIncrementalUpdate(ctx context.Context, since time.Time, batchSize int, progress ProgressFunc) (*RunStats, error) {
	return o.RunIncrementalUpdateWithOptions(ctx, IncrementalOptions{Since: since, BatchSize: batchSize, Progress: progress})
}

func (o *Orchestrator) RunIncrementalUpdateWithOptions(ctx context.Context, opts IncrementalOptions) (*RunStats, error) {
	modified, err := source.ModifiedSinceFilter(source.ModifiedField, opts.Since)
	if err != nil {
		return nil, err
	}
	return o.execute(ctx, runPlan{
		mode:      ModeIncremental,
		filter:    source.And(modified, opts.Filter),
		batchSize: opts.BatchSize,
		progress:  opts.Progress,
	})
}

// Status returns the state of the current or most recent run.
func (o *Orchestrator) Status() (Snapshot, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.current == nil {
		return Snapshot{}, false
	}
	return o.current.Snapshot(), true
}

type runPlan struct {
	mode      string
	filter    string
	batchSize int
	truncate  bool
	progress  ProgressFunc
}

// run is the state of one execution, touched only by the goroutine that
// called execute.
type run struct {
	o         *Orchestrator
	plan      runPlan
	stats     *RunStats
	start     int64
	allowFast bool
	buf       loader.Batch
	progress  *notifier
}

func (o *Orchestrator) execute(ctx context.Context, plan runPlan) (*RunStats, error) {
	if !o.running.CompareAndSwap(false, true) {
		return nil, ErrRunInProgress
	}
	defer o.running.Store(false)

	if plan.batchSize <= 0 {
		plan.batchSize = o.cfg.BatchSize
	}

	stats := newRunStats(uuid.New(), o.tracker.Pipeline(), plan.mode, plan.filter, o.now(), o.cfg.ErrorSamples)

	ctx, span := tracer.Start(ctx, "census.ingest.run")
	defer span.End()
	span.SetAttributes(
		attribute.String("run_id", stats.RunID.String()),
		attribute.String("pipeline", stats.Pipeline),
		attribute.String("mode", plan.mode),
		attribute.String("filter", plan.filter),
	)

	ctx = logctx.With(ctx,
		slog.String("runID", stats.RunID.String()),
		slog.String("pipeline", stats.Pipeline),
		slog.String("mode", plan.mode))

	r := &run{o: o, plan: plan, stats: stats}
	o.publish(stats)

	// Store writes and checkpoints must finish even when the caller cancels.
	durable := context.WithoutCancel(ctx)

	err := r.begin(ctx)
	if recErr := o.recorder.RunStarted(durable, stats.clone()); recErr != nil {
		logctx.FromContext(ctx).Warn("Failed to record run start", slog.Any("error", recErr))
	}

	if err == nil {
		r.progress = newNotifier(plan.progress)
		err = r.loop(ctx, durable)
		if err == nil {
			err = o.tracker.ClearCheckpoint(durable)
		}
		r.progress.notify(stats.Fetched, stats.EstimatedTotal)
		if !r.progress.close() {
			logctx.FromContext(ctx).Warn("Progress callback still running, not waiting for it",
				slog.Duration("waited", progressDrainTimeout))
		}
	}

	stats.EndedAt = o.now()
	stats.State = StateCompleted
	if err != nil {
		stats.State = StateAborted
	}
	o.publish(stats)
	recordRunFinished(durable, plan.mode, stats.State)

	span.SetAttributes(
		attribute.Int64("fetched", stats.Fetched),
		attribute.Int64("inserted", stats.Inserted),
		attribute.Int64("updated", stats.Updated),
		attribute.Int64("errored", stats.Errored),
		attribute.Bool("resumed", stats.Resumed),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "run aborted")
	}

	if recErr := o.recorder.RunFinished(durable, stats.clone(), err); recErr != nil {
		logctx.FromContext(ctx).Warn("Failed to record run end", slog.Any("error", recErr))
	}
	logReport(ctx, stats, err)
	return stats.clone(), err
}

func (o *Orchestrator) publish(stats *RunStats) {
	snap := stats.clone()
	o.mu.Lock()
	o.current = snap
	o.mu.Unlock()
}

// begin resolves the start offset, the fast-path decision and the
// estimated total.
func (r *run) begin(ctx context.Context) error {
	o := r.o
	ll := logctx.FromContext(ctx)
	stats := r.stats

	cp, err := o.tracker.LoadCheckpoint(ctx)
	if err != nil {
		return err
	}
	if cp != nil {
		if cp.Matches(r.plan.mode, r.plan.filter) {
			r.start = cp.CursorOffset
			if !cp.RunStartedAt.IsZero() {
				stats.OriginalStartedAt = cp.RunStartedAt
			}
			stats.Resumed = true
			stats.ResumedFrom = cp.CursorOffset
			stats.Fetched = cp.Fetched
			stats.Inserted = cp.Inserted
			stats.Updated = cp.Updated
			stats.Errored = cp.Errored
			stats.baseFetched = cp.Fetched
			ll.Info("Resuming from checkpoint",
				slog.Int64("cursor", cp.CursorOffset),
				slog.Int64("recordsConfirmed", cp.RecordsConfirmed),
				slog.String("previousRunID", cp.RunID.String()))
		} else {
			ll.Warn("Discarding checkpoint written by a different kind of run",
				slog.String("checkpointMode", cp.Mode),
				slog.String("checkpointFilter", cp.Filter),
				slog.Int64("checkpointCursor", cp.CursorOffset))
			if err := o.tracker.ClearCheckpoint(ctx); err != nil {
				return err
			}
		}
	}

	if r.plan.truncate {
		if stats.Resumed {
			ll.Warn("Not truncating carriers while resuming an interrupted run")
		} else {
			ll.Info("Truncating carriers before full load")
			if err := o.target.TruncateCarriers(ctx); err != nil {
				return fmt.Errorf("truncate carriers: %w", err)
			}
		}
	}

	if r.plan.mode == ModeFull && !stats.Resumed {
		n, err := o.target.CountCarriers(ctx)
		if err != nil {
			return fmt.Errorf("count carriers: %w", err)
		}
		r.allowFast = n == 0
	}
	stats.Checkpointed = !r.allowFast
	if r.allowFast {
		ll.Info("Target is empty, fast path enabled and mid-run checkpoints disabled")
	}

	o.loader.ResetKeys()
	o.tracker.Begin(checkpoint.Run{
		ID:        stats.RunID,
		Mode:      r.plan.mode,
		Filter:    r.plan.filter,
		StartedAt: stats.OriginalStartedAt,
	})

	stats.EstimatedTotal = r.estimateTotal(ctx)
	stats.Cursor = r.start
	r.buf = loader.Batch{FirstOffset: r.start, NextOffset: r.start}
	stats.State = StateFetching
	o.publish(stats)

	ll.Info("Starting ingestion run",
		slog.String("filter", r.plan.filter),
		slog.Int64("startOffset", r.start),
		slog.Int("batchSize", r.plan.batchSize),
		slog.Int64("estimatedTotal", stats.EstimatedTotal))
	return nil
}

func (r *run) estimateTotal(ctx context.Context) int64 {
	n, err := r.o.source.Count(ctx, r.plan.filter)
	if err == nil {
		return n
	}
	logctx.FromContext(ctx).Warn("Could not count source records", slog.Any("error", err))
	if r.plan.filter == "" {
		return r.o.cfg.EstimatedTotal
	}
	return 0
}

// loop consumes pages until the source is exhausted. ctx governs fetching;
// durable is used for everything that must not be interrupted.
func (r *run) loop(ctx, durable context.Context) error {
	o := r.o
	for page, err := range o.source.Pages(ctx, r.start, o.cfg.PageSize, r.plan.filter) {
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			var fe *source.FetchError
			if !errors.As(err, &fe) {
				// Keep what was already fetched; a resume picks up after it.
				return errors.Join(err, r.flush(durable))
			}
			if err := r.pageFailed(durable, fe); err != nil {
				return err
			}
			continue
		}

		if err := r.processPage(durable, page); err != nil {
			return err
		}
		if ctx.Err() != nil {
			break
		}
		r.setState(StateFetching)
	}

	if err := ctx.Err(); err != nil {
		logctx.FromContext(ctx).Info("Ingestion cancelled, flushing buffered records",
			slog.Int("buffered", r.buf.Len()))
		if ferr := r.flush(durable); ferr != nil {
			return errors.Join(fmt.Errorf("ingestion cancelled: %w", err), ferr)
		}
		return fmt.Errorf("ingestion cancelled: %w", err)
	}
	return r.flush(durable)
}

func (r *run) pageFailed(ctx context.Context, fe *source.FetchError) error {
	stats := r.stats
	stats.FailedPages++
	stats.recordError(ErrorSample{Type: ErrorTypeFetch, Offset: fe.Offset, Message: fe.Error()})
	recordErrorEvent(ctx, ErrorTypeFetch)
	logctx.FromContext(ctx).Error("Skipping page that could not be fetched",
		slog.Int64("offset", fe.Offset),
		slog.Int("attempts", fe.Attempts),
		slog.Any("error", fe))
	r.o.publish(stats)
	return r.checkBudget()
}

func (r *run) processPage(ctx context.Context, page source.Page) error {
	stats := r.stats
	r.setState(StateNormalizing)

	results, err := normalize.NormalizeAll(ctx, page.Records, r.o.cfg.Workers)
	if err != nil {
		return err
	}
	stats.Fetched += int64(len(page.Records))

	for i, res := range results {
		offset := page.Offset + int64(i)
		if res.Err != nil {
			if err := r.rejected(ctx, offset, res.Err); err != nil {
				return err
			}
			continue
		}
		r.add(res.Carrier, offset)
		if r.buf.Len() >= r.plan.batchSize {
			if err := r.loadBuffered(ctx); err != nil {
				return err
			}
		}
	}
	r.o.publish(stats)
	return nil
}

func (r *run) rejected(ctx context.Context, offset int64, err error) error {
	stats := r.stats
	r.buf.NextOffset = offset + 1
	stats.ValidationErrors++
	stats.Errored++

	sample := ErrorSample{Type: ErrorTypeValidation, Offset: offset, Message: err.Error()}
	var ve *normalize.ValidationError
	if errors.As(err, &ve) {
		sample.Key = ve.Key
	}
	stats.recordError(sample)
	recordErrorEvent(ctx, ErrorTypeValidation)
	logctx.FromContext(ctx).Debug("Rejected census record", slog.Int64("offset", offset), slog.Any("error", err))
	return r.checkBudget()
}

func (r *run) add(c carrier.Carrier, offset int64) {
	if r.buf.Len() == 0 {
		r.buf.FirstOffset = offset
	}
	r.buf.Records = append(r.buf.Records, c)
	r.buf.NextOffset = offset + 1
}

func (r *run) flush(ctx context.Context) error {
	if r.buf.Len() == 0 {
		return nil
	}
	return r.loadBuffered(ctx)
}

// loadBuffered writes the buffered batch and, outside fast-path runs,
// checkpoints past it.
func (r *run) loadBuffered(ctx context.Context) error {
	o := r.o
	stats := r.stats
	batch := r.buf
	r.buf = loader.Batch{
		Records:     make([]carrier.Carrier, 0, r.plan.batchSize),
		FirstOffset: batch.NextOffset,
		NextOffset:  batch.NextOffset,
	}

	batchID := o.batchIDs.Next(o.now())
	ll := logctx.FromContext(ctx).With(slog.String("batchID", batchID))
	r.setState(StateLoading)

	ctx, span := tracer.Start(ctx, "census.ingest.load_batch")
	defer span.End()
	span.SetAttributes(
		attribute.String("batch_id", batchID),
		attribute.Int("records", batch.Len()),
		attribute.Int64("first_offset", batch.FirstOffset),
		attribute.Int64("next_offset", batch.NextOffset),
	)

	res, err := o.loader.LoadBatch(ctx, batch, r.allowFast)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "batch load failed")
		stats.FailedBatches++
		stats.Errored += int64(batch.Len())
		stats.recordError(ErrorSample{Type: ErrorTypeLoad, Key: batchID, Offset: batch.FirstOffset, Message: err.Error()})
		recordErrorEvent(ctx, ErrorTypeLoad)
		ll.Error("Batch load failed, records counted as errors",
			slog.Int("records", batch.Len()),
			slog.Int64("firstOffset", batch.FirstOffset),
			slog.Int64("nextOffset", batch.NextOffset),
			slog.Any("error", err))
		o.publish(stats)
		return r.checkBudget()
	}

	span.SetAttributes(attribute.String("path", string(res.Path)))

	stats.Batches++
	stats.Inserted += res.Inserted
	stats.Updated += res.Updated
	if res.Path == loader.PathFast {
		stats.FastPathBatches++
	} else {
		stats.SafePathBatches++
	}
	stats.Cursor = batch.NextOffset
	ll.Debug("Loaded batch",
		slog.String("path", string(res.Path)),
		slog.Int("records", batch.Len()),
		slog.Int64("inserted", res.Inserted),
		slog.Int64("updated", res.Updated),
		slog.Int64("nextOffset", batch.NextOffset))

	if !r.allowFast {
		err := o.tracker.RecordProgress(ctx, batch.NextOffset, checkpoint.Counts{
			RecordsConfirmed: stats.Confirmed(),
			Fetched:          stats.Fetched,
			Inserted:         stats.Inserted,
			Updated:          stats.Updated,
			Errored:          stats.Errored,
		})
		if err != nil {
			return err
		}
	}

	o.publish(stats)
	r.progress.notify(stats.Fetched, stats.EstimatedTotal)
	return nil
}

func (r *run) checkBudget() error {
	budget := r.o.cfg.ErrorBudget
	if budget < 0 {
		return nil
	}
	if events := r.stats.ErrorEvents(); events > int64(budget) {
		return fmt.Errorf("%w: %d error events, budget %d", ErrErrorBudgetExceeded, events, budget)
	}
	return nil
}

func (r *run) setState(s State) {
	if r.stats.State == s {
		return
	}
	r.stats.State = s
	r.o.publish(r.stats)
}
