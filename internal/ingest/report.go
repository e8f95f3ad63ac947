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
	"log/slog"
	"strconv"

	"github.com/cardinalhq/censusrunner/internal/logctx"
)

// logReport writes the end-of-run summary.
func logReport(ctx context.Context, stats *RunStats, runErr error) {
	ll := logctx.FromContext(ctx)

	attrs := []any{
		slog.String("state", string(stats.State)),
		slog.Int64("fetched", stats.Fetched),
		slog.Int64("inserted", stats.Inserted),
		slog.Int64("updated", stats.Updated),
		slog.Int64("errored", stats.Errored),
		slog.Int64("batches", stats.Batches),
		slog.Int64("fastPathBatches", stats.FastPathBatches),
		slog.Int64("safePathBatches", stats.SafePathBatches),
		slog.String("successRate", formatPercent(stats.SuccessRate())),
		slog.Float64("recordsPerSecond", stats.Throughput()),
		slog.Duration("duration", stats.Duration()),
	}
	if stats.Resumed {
		attrs = append(attrs, slog.Int64("resumedFrom", stats.ResumedFrom))
	}

	if runErr != nil {
		attrs = append(attrs, slog.Any("error", runErr))
		ll.Error("Ingestion run aborted", attrs...)
	} else {
		ll.Info("Ingestion run completed", attrs...)
	}

	for errType, n := range stats.ErrorsByType {
		ll.Warn("Ingestion errors by type", slog.String("type", errType), slog.Int64("count", n))
	}
	for _, s := range stats.ErrorSamples {
		ll.Warn("Ingestion error sample",
			slog.String("type", s.Type),
			slog.String("key", s.Key),
			slog.Int64("offset", s.Offset),
			slog.String("message", s.Message))
	}
}

func formatPercent(p float64) string {
	return strconv.FormatFloat(p, 'f', 2, 64) + "%"
}
