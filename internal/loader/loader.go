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

// Package loader writes normalized carrier batches to the record store,
// choosing between a bulk COPY and an idempotent upsert per batch.
package loader

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cardinalhq/censusrunner/internal/cache"
	"github.com/cardinalhq/censusrunner/internal/carrier"
	"github.com/cardinalhq/censusrunner/internal/logctx"
)

// Path is the write strategy used for a batch.
type Path string

const (
	PathFast Path = "fast"
	PathSafe Path = "safe"
)

// Store is the subset of the record store the loader writes through.
type Store interface {
	CopyCarriers(ctx context.Context, rows []carrier.Carrier) (int64, error)
	UpsertCarriers(ctx context.Context, rows []carrier.Carrier) (inserted, updated int64, err error)
}

// Batch is an ordered run of carriers and the source offsets it covers:
// FirstOffset is the offset of the first record and NextOffset the offset
// just past the last one.
type Batch struct {
	Records     []carrier.Carrier
	FirstOffset int64
	NextOffset  int64
}

func (b Batch) Len() int { return len(b.Records) }

type BatchResult struct {
	Inserted int64
	Updated  int64
	Path     Path
	// Attempts counts store writes, including a failed COPY.
	Attempts int
	// FellBack is set when a COPY failed and the safe path took over.
	FellBack bool
}

// LoadError reports a batch that could not be written.
type LoadError struct {
	Batch Batch
	Path  Path
	Err   error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("load batch of %d records at offsets [%d, %d) via %s path: %v",
		e.Batch.Len(), e.Batch.FirstOffset, e.Batch.NextOffset, e.Path, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

type Loader struct {
	store Store
	cfg   Config
	keys  *cache.Cache[int64, struct{}]
}

type Option func(*Loader)

// WithKeyCache injects the natural-key cache.
func WithKeyCache(keys *cache.Cache[int64, struct{}]) Option {
	return func(l *Loader) { l.keys = keys }
}

func NewLoader(store Store, cfg Config, opts ...Option) *Loader {
	if cfg.FastPathThreshold < 0 {
		cfg.FastPathThreshold = 0
	}
	l := &Loader{store: store, cfg: cfg}
	for _, opt := range opts {
		opt(l)
	}
	if l.keys == nil {
		l.keys = cache.New[int64, struct{}](cfg.KeyCache)
	}
	return l
}

// ResetKeys forgets every key seen so far. Called at the start of a run.
func (l *Loader) ResetKeys() {
	l.keys.Reset()
}

// FastEligible reports whether batch qualifies for COPY on its own merits.
// The caller still decides whether the target allows it.
func (l *Loader) FastEligible(batch Batch) bool {
	if batch.Len() <= l.cfg.FastPathThreshold {
		return false
	}
	for i := range batch.Records {
		if l.keys.Has(batch.Records[i].USDOTNumber) {
			return false
		}
	}
	return true
}

// LoadBatch writes batch. allowFast grants COPY, which is only safe when
// the target held none of these keys before the run.
func (l *Loader) LoadBatch(ctx context.Context, batch Batch, allowFast bool) (BatchResult, error) {
	if batch.Len() == 0 {
		return BatchResult{Path: PathSafe}, nil
	}

	ll := logctx.FromContext(ctx)
	start := time.Now()

	if allowFast && l.FastEligible(batch) {
		n, err := l.store.CopyCarriers(ctx, batch.Records)
		if err == nil {
			l.remember(batch)
			res := BatchResult{Inserted: n, Path: PathFast, Attempts: 1}
			recordBatch(ctx, res, time.Since(start))
			return res, nil
		}

		// COPY is all-or-nothing, so nothing from this batch landed and the
		// upsert path can take it from scratch.
		recordFallback(ctx)
		ll.Warn("Fast-path load failed, retrying batch on safe path",
			slog.Int("records", batch.Len()),
			slog.Int64("firstOffset", batch.FirstOffset),
			slog.Any("error", err))

		res, safeErr := l.upsert(ctx, batch, 1)
		res.Attempts++
		res.FellBack = true
		if safeErr != nil {
			recordFailure(ctx, PathSafe)
			return res, &LoadError{Batch: batch, Path: PathSafe, Err: errors.Join(err, safeErr)}
		}
		recordBatch(ctx, res, time.Since(start))
		return res, nil
	}

	res, err := l.upsert(ctx, batch, l.cfg.Retry.Attempts())
	if err != nil {
		recordFailure(ctx, PathSafe)
		return res, &LoadError{Batch: batch, Path: PathSafe, Err: err}
	}
	recordBatch(ctx, res, time.Since(start))
	return res, nil
}

// upsert runs the safe path, retrying up to attempts times.
func (l *Loader) upsert(ctx context.Context, batch Batch, attempts int) (BatchResult, error) {
	ll := logctx.FromContext(ctx)
	res := BatchResult{Path: PathSafe}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		res.Attempts = attempt
		inserted, updated, err := l.store.UpsertCarriers(ctx, batch.Records)
		if err == nil {
			l.remember(batch)
			res.Inserted = inserted
			res.Updated = updated
			return res, nil
		}
		lastErr = err
		if ctx.Err() != nil || attempt == attempts {
			break
		}

		delay := l.cfg.Retry.Delay(attempt)
		ll.Warn("Safe-path load failed, retrying",
			slog.Int("attempt", attempt),
			slog.Int("records", batch.Len()),
			slog.Duration("delay", delay),
			slog.Any("error", err))
		if err := l.cfg.Retry.Wait(ctx, delay); err != nil {
			return res, errors.Join(lastErr, err)
		}
	}
	return res, lastErr
}

func (l *Loader) remember(batch Batch) {
	for i := range batch.Records {
		l.keys.Set(batch.Records[i].USDOTNumber, struct{}{})
	}
}
