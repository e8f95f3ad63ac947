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

package source

import (
	"context"
	"log"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	requestCounter    metric.Int64Counter
	retryCounter      metric.Int64Counter
	rateLimitCounter  metric.Int64Counter
	recordsCounter    metric.Int64Counter
	requestDurationMs metric.Float64Histogram
)

func init() {
	meter := otel.Meter("github.com/cardinalhq/censusrunner/internal/source")

	var err error

	requestCounter, err = meter.Int64Counter(
		"censusrunner.source.requests",
		metric.WithDescription("Number of HTTP requests made to the census source"),
	)
	if err != nil {
		log.Fatalf("failed to create source.requests counter: %v", err)
	}

	retryCounter, err = meter.Int64Counter(
		"censusrunner.source.retries",
		metric.WithDescription("Number of source requests retried after a transient failure"),
	)
	if err != nil {
		log.Fatalf("failed to create source.retries counter: %v", err)
	}

	rateLimitCounter, err = meter.Int64Counter(
		"censusrunner.source.rate_limited",
		metric.WithDescription("Number of 429 responses honored from the census source"),
	)
	if err != nil {
		log.Fatalf("failed to create source.rate_limited counter: %v", err)
	}

	recordsCounter, err = meter.Int64Counter(
		"censusrunner.source.records",
		metric.WithDescription("Number of raw records fetched from the census source"),
	)
	if err != nil {
		log.Fatalf("failed to create source.records counter: %v", err)
	}

	requestDurationMs, err = meter.Float64Histogram(
		"censusrunner.source.request.duration",
		metric.WithUnit("ms"),
		metric.WithDescription("Duration of a single census source request"),
	)
	if err != nil {
		log.Fatalf("failed to create source.request.duration histogram: %v", err)
	}
}

func recordRequest(ctx context.Context, status string, d time.Duration) {
	attrs := metric.WithAttributes(attribute.String("status", status))
	requestCounter.Add(ctx, 1, attrs)
	requestDurationMs.Record(ctx, float64(d.Milliseconds()), attrs)
}
