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

package normalize

import (
	"context"
	"log"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var recordsCounter metric.Int64Counter

func init() {
	meter := otel.Meter("github.com/cardinalhq/censusrunner/internal/normalize")

	var err error
	recordsCounter, err = meter.Int64Counter(
		"censusrunner.normalize.records",
		metric.WithDescription("Number of census records normalized, by outcome"),
	)
	if err != nil {
		log.Fatalf("failed to create normalize.records counter: %v", err)
	}
}

func recordNormalized(ctx context.Context, ok, rejected int) {
	if ok > 0 {
		recordsCounter.Add(ctx, int64(ok), metric.WithAttributes(attribute.String("outcome", "ok")))
	}
	if rejected > 0 {
		recordsCounter.Add(ctx, int64(rejected), metric.WithAttributes(attribute.String("outcome", "rejected")))
	}
}
