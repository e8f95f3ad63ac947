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
	"os"
	"time"

	"github.com/cardinalhq/oteltools/pkg/telemetry"
	slogmulti "github.com/samber/slog-multi"
	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/contrib/instrumentation/host"
	iruntime "go.opentelemetry.io/contrib/instrumentation/runtime"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/cardinalhq/censusrunner/internal/idgen"
)

const otelShutdownTimeout = 10 * time.Second

var (
	meter = otel.Meter("github.com/cardinalhq/censusrunner")

	// commandAttrs tag every process-level metric with the instance and
	// the command being run.
	commandAttrs attribute.Set

	commandDuration metric.Float64Histogram
)

// setupTelemetry installs the default logger, the command metrics and,
// when OTLP export is enabled, the OpenTelemetry SDK. The returned context
// is cancelled on SIGINT or SIGTERM; the returned func flushes exporters.
func setupTelemetry(service string, extra ...attribute.KeyValue) (context.Context, func() error, error) {
	ctx, cancel := handleSignals(context.Background())

	instance := idgen.InstanceID()
	commandAttrs = attribute.NewSet(append([]attribute.KeyValue{attribute.Int64("instanceID", instance)}, extra...)...)

	exporting := otlpExportEnabled()
	slog.SetDefault(slog.New(logHandler(service, exporting)).With(
		slog.String("service", service),
		slog.Int64("instanceID", instance),
	))

	if err := initCommandMetrics(); err != nil {
		cancel()
		return ctx, nil, err
	}

	if !exporting {
		return ctx, func() error { cancel(); return nil }, nil
	}

	slog.Info("OpenTelemetry exporting enabled")
	shutdown, err := telemetry.SetupOTelSDK(ctx)
	if err != nil {
		cancel()
		return ctx, nil, fmt.Errorf("failed to setup OpenTelemetry SDK: %w", err)
	}
	startProcessMetrics()

	return ctx, func() error {
		defer cancel()
		sctx, scancel := context.WithTimeout(context.Background(), otelShutdownTimeout)
		defer scancel()
		return shutdown(sctx)
	}, nil
}

func otlpExportEnabled() bool {
	return os.Getenv("OTEL_SERVICE_NAME") != "" && os.Getenv("ENABLE_OTLP_TELEMETRY") == "true"
}

func logLevel() slog.Level {
	if os.Getenv("DEBUG") != "" || os.Getenv("CENSUSRUNNER_DEBUG") != "" {
		return slog.LevelDebug
	}
	return slog.LevelInfo
}

// logHandler writes text to stdout, and also to the OTLP log exporter
// when exporting.
func logHandler(service string, exporting bool) slog.Handler {
	text := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel()})
	if !exporting {
		return text
	}
	return slogmulti.Fanout(text, otelslog.NewHandler(service))
}

func startProcessMetrics() {
	if err := iruntime.Start(iruntime.WithMinimumReadMemStatsInterval(10 * time.Second)); err != nil {
		slog.Warn("Runtime metrics unavailable", slog.Any("error", err))
	}
	if err := host.Start(); err != nil {
		slog.Warn("Host metrics unavailable", slog.Any("error", err))
	}
}

func initCommandMetrics() error {
	var err error
	commandDuration, err = meter.Float64Histogram(
		"censusrunner.command.duration",
		metric.WithUnit("s"),
		metric.WithDescription("Wall time of a censusrunner command"),
	)
	if err != nil {
		return fmt.Errorf("failed to create command.duration histogram: %w", err)
	}

	// Recorded once so dashboards can tell a live process from a silent one.
	exists, err := meter.Int64Gauge(
		"censusrunner.exists",
		metric.WithDescription("Set to 1 while a censusrunner process is alive"),
	)
	if err != nil {
		return fmt.Errorf("failed to create exists gauge: %w", err)
	}
	exists.Record(context.Background(), 1, metric.WithAttributeSet(commandAttrs))
	return nil
}

func recordCommand(start time.Time, command string, err error) {
	if commandDuration == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	commandDuration.Record(context.Background(), time.Since(start).Seconds(),
		metric.WithAttributeSet(commandAttrs),
		metric.WithAttributes(
			attribute.String("command", command),
			attribute.String("outcome", outcome),
		))
}
