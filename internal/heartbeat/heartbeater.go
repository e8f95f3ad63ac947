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

// Package heartbeat calls a function on a fixed interval until stopped.
// Ingestion uses it to stamp the running row in ingest_runs so abandoned
// runs can be told apart from live ones.
package heartbeat

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/cardinalhq/censusrunner/internal/logctx"
)

type Func func(ctx context.Context) error

type Heartbeater struct {
	fn       Func
	interval time.Duration
}

func New(fn Func, interval time.Duration) *Heartbeater {
	return &Heartbeater{fn: fn, interval: interval}
}

// Start beats once immediately and then every interval. The returned stop
// function cancels the loop and waits for an in-flight beat to return.
func (h *Heartbeater) Start(ctx context.Context) (stop func()) {
	ctx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		h.run(ctx)
	}()
	return func() {
		cancel()
		wg.Wait()
	}
}

func (h *Heartbeater) run(ctx context.Context) {
	h.beat(ctx)

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.beat(ctx)
		}
	}
}

func (h *Heartbeater) beat(ctx context.Context) {
	if err := h.fn(ctx); err != nil && ctx.Err() == nil {
		logctx.FromContext(ctx).Warn("Heartbeat failed (continuing)", slog.Any("error", err))
	}
}
