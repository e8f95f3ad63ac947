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
	"log"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

var tracer trace.Tracer = otel.Tracer("github.com/cardinalhq/censusrunner/internal/ingest")

var (
	runsCounter        metric.Int64Counter
	errorEventsCounter metric.Int64Counter
)

func init() {
	meter := otel.Meter("github.com/cardinalhq/censusrunner/internal/ingest")

	var err error
	runsCounter, err = meter.Int64Counter(
		"censusrunner.ingest.runs",
		metric.WithDescription("Number of ingestion runs finished, by mode and final state"),
	)
	if err != nil {
		log.Fatalf("failed to create ingest.runs counter: %v", err)
	}

	errorEventsCounter, err = meter.Int64Counter(
		"censusrunner.ingest.error_events",
		metric.WithDescription("Number of error events charged to the error budget, by type"),
	)
	if err != nil {
		log.Fatalf("failed to create ingest.error_events counter: %v", err)
	}
}

func recordRunFinished(ctx context.Context, mode string, state State) {
	runsCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("mode", mode),
		attribute.String("state", string(state)),
	))
}

func recordErrorEvent(ctx context.Context, errorType string) {
	errorEventsCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("type", errorType)))
}
