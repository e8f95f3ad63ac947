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

package checkpoint

import (
	"context"
	"log"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var writesCounter metric.Int64Counter

func init() {
	meter := otel.Meter("github.com/cardinalhq/censusrunner/internal/checkpoint")

	var err error
	writesCounter, err = meter.Int64Counter(
		"censusrunner.checkpoint.writes",
		metric.WithDescription("Number of checkpoint writes, by operation and outcome"),
	)
	if err != nil {
		log.Fatalf("failed to create checkpoint.writes counter: %v", err)
	}
}

func recordWrite(ctx context.Context, op string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	writesCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("op", op),
		attribute.String("outcome", outcome),
	))
}
