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
	"log"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	batchCounter     metric.Int64Counter
	rowCounter       metric.Int64Counter
	fallbackCounter  metric.Int64Counter
	failureCounter   metric.Int64Counter
	loadDurationHist metric.Float64Histogram
)

func init() {
	meter := otel.Meter("github.com/cardinalhq/censusrunner/internal/loader")

	var err error
	batchCounter, err = meter.Int64Counter(
		"censusrunner.loader.batches",
		metric.WithDescription("Number of batches loaded, by path"),
	)
	if err != nil {
		log.Fatalf("failed to create loader.batches counter: %v", err)
	}

	rowCounter, err = meter.Int64Counter(
		"censusrunner.loader.rows",
		metric.WithDescription("Number of carrier rows written, by outcome"),
	)
	if err != nil {
		log.Fatalf("failed to create loader.rows counter: %v", err)
	}

	fallbackCounter, err = meter.Int64Counter(
		"censusrunner.loader.fast_path_fallbacks",
		metric.WithDescription("Number of COPY batches that fell back to the upsert path"),
	)
	if err != nil {
		log.Fatalf("failed to create loader.fast_path_fallbacks counter: %v", err)
	}

	failureCounter, err = meter.Int64Counter(
		"censusrunner.loader.failed_batches",
		metric.WithDescription("Number of batches that could not be written"),
	)
	if err != nil {
		log.Fatalf("failed to create loader.failed_batches counter: %v", err)
	}

	loadDurationHist, err = meter.Float64Histogram(
		"censusrunner.loader.batch.duration",
		metric.WithUnit("s"),
		metric.WithDescription("Time to write one batch, including retries"),
	)
	if err != nil {
		log.Fatalf("failed to create loader.batch.duration histogram: %v", err)
	}
}

func recordBatch(ctx context.Context, res BatchResult, d time.Duration) {
	path := metric.WithAttributes(attribute.String("path", string(res.Path)))
	batchCounter.Add(ctx, 1, path)
	loadDurationHist.Record(ctx, d.Seconds(), path)
	if res.Inserted > 0 {
		rowCounter.Add(ctx, res.Inserted, metric.WithAttributes(attribute.String("outcome", "inserted")))
	}
	if res.Updated > 0 {
		rowCounter.Add(ctx, res.Updated, metric.WithAttributes(attribute.String("outcome", "updated")))
	}
}

func recordFallback(ctx context.Context) {
	fallbackCounter.Add(ctx, 1)
}

func recordFailure(ctx context.Context, p Path) {
	failureCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("path", string(p))))
}
