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
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/attribute"

	"github.com/cardinalhq/censusrunner/config"
	"github.com/cardinalhq/censusrunner/internal/debugging"
	"github.com/cardinalhq/censusrunner/internal/healthcheck"
	"github.com/cardinalhq/censusrunner/internal/idgen"
	"github.com/cardinalhq/censusrunner/internal/ingest"
	"github.com/cardinalhq/censusrunner/internal/logctx"
	"github.com/cardinalhq/censusrunner/internal/source"
)

const (
	progressLogInterval  = 15 * time.Second
	runHeartbeatInterval = 30 * time.Second
)

type ingestFunc func(ctx context.Context, p *pipeline, progress ingest.ProgressFunc) (*ingest.RunStats, error)

func init() {
	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Load carrier census records into the database",
	}
	cmd.AddCommand(ingestFullCmd(), ingestIncrementalCmd())
	rootCmd.AddCommand(cmd)
}

func ingestFullCmd() *cobra.Command {
	var (
		batchSize int
		truncate  bool
		state     string
	)

	cmd := &cobra.Command{
		Use:   "full",
		Short: "Load the entire census, resuming an interrupted full run",
		RunE: func(_ *cobra.Command, _ []string) error {
			filter, err := stateFilter(state)
			if err != nil {
				return err
			}
			return runIngest(ingest.ModeFull, func(ctx context.Context, p *pipeline, progress ingest.ProgressFunc) (*ingest.RunStats, error) {
				return p.orch.RunFullIngestionWithOptions(ctx, ingest.FullOptions{
					BatchSize: batchSize,
					Progress:  progress,
					Truncate:  truncate,
					Filter:    filter,
				})
			})
		},
	}

	cmd.Flags().IntVar(&batchSize, "batch-size", 0, "Records per database write (default from config)")
	cmd.Flags().BoolVar(&truncate, "truncate", false, "Empty the carriers table before a fresh full load")
	cmd.Flags().StringVar(&state, "state", "", "Only load carriers physically located in this two-letter state")
	return cmd
}

func ingestIncrementalCmd() *cobra.Command {
	var (
		batchSize    int
		since        string
		sinceLastRun bool
		state        string
	)

	cmd := &cobra.Command{
		Use:   "incremental",
		Short: "Load carriers whose census filing changed after a point in time",
		RunE: func(_ *cobra.Command, _ []string) error {
			filter, err := stateFilter(state)
			if err != nil {
				return err
			}

			var sinceTime time.Time
			if since != "" {
				if sinceTime, err = parseSince(since); err != nil {
					return err
				}
			}

			return runIngest(ingest.ModeIncremental, func(ctx context.Context, p *pipeline, progress ingest.ProgressFunc) (*ingest.RunStats, error) {
				if sinceLastRun {
					last, found, err := ingest.LastSuccessfulRun(ctx, p.db, p.cfg.Checkpoint.Pipeline)
					if err != nil {
						return nil, err
					}
					if !found {
						return nil, errors.New("no completed run recorded; use --since or run a full ingestion first")
					}
					sinceTime = last
					logctx.FromContext(ctx).Info("Resolved --since-last-run", slog.Time("since", sinceTime))
				}
				return p.orch.RunIncrementalUpdateWithOptions(ctx, ingest.IncrementalOptions{
					Since:     sinceTime,
					BatchSize: batchSize,
					Progress:  progress,
					Filter:    filter,
				})
			})
		},
	}

	cmd.Flags().IntVar(&batchSize, "batch-size", 0, "Records per database write (default from config)")
	cmd.Flags().StringVar(&since, "since", "", "Only load carriers with a census filing after this time (RFC 3339 or YYYY-MM-DD)")
	cmd.Flags().BoolVar(&sinceLastRun, "since-last-run", false, "Use the start of the last completed run as --since")
	cmd.Flags().StringVar(&state, "state", "", "Only load carriers physically located in this two-letter state")
	cmd.MarkFlagsMutuallyExclusive("since", "since-last-run")
	cmd.MarkFlagsOneRequired("since", "since-last-run")
	return cmd
}

func stateFilter(state string) (string, error) {
	if state == "" {
		return "", nil
	}
	return source.StateFilter(state)
}

func runIngest(mode string, run ingestFunc) (err error) {
	start := time.Now()

	servicename := config.ServiceName + "-ingest-" + mode
	doneCtx, doneFx, err := setupTelemetry(servicename,
		attribute.String("action", "ingest"),
		attribute.String("mode", mode),
	)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	defer func() {
		if err := doneFx(); err != nil {
			slog.Error("Error shutting down telemetry", slog.Any("error", err))
		}
	}()
	defer func() {
		recordCommand(start, "ingest "+mode, err)
	}()

	go debugging.RunPprof(doneCtx)

	healthServer := healthcheck.NewServer(healthcheck.GetConfigFromEnv())
	go func() {
		if err := healthServer.Start(doneCtx); err != nil {
			slog.Error("Health check server stopped", slog.Any("error", err))
		}
	}()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	ctx := logctx.WithLogger(doneCtx, slog.Default().With(
		slog.String("operationID", idgen.OperationID()),
		slog.String("mode", mode),
	))
	ll := logctx.FromContext(ctx)

	healthServer.SetReadyCondition("pipeline", false)
	p, err := openPipeline(ctx, cfg)
	if err != nil {
		return err
	}
	defer p.Close()
	healthServer.SetReadyCondition("pipeline", true)

	healthServer.SetStatusProvider(func() (any, bool) {
		snap, ok := p.orch.Status()
		return snap, ok
	})
	healthServer.SetStatus(healthcheck.StatusHealthy)
	healthServer.SetReady(true)

	stopHeartbeat := p.startHeartbeat(ctx)
	defer stopHeartbeat()

	stats, err := run(ctx, p, progressLogger(ctx, progressLogInterval))
	if errors.Is(err, context.Canceled) && stats != nil {
		ll.Info(interruptedMessage(stats), slog.Int64("cursor", stats.Cursor))
		return nil
	}
	if err != nil {
		healthServer.SetStatus(healthcheck.StatusUnhealthy)
		return err
	}
	return nil
}

func interruptedMessage(stats *ingest.RunStats) string {
	if stats.Checkpointed {
		return "Ingestion interrupted, progress is checkpointed; rerun the same command to resume"
	}
	return "Ingestion interrupted during a fast-path load with no checkpoint; rerun the same command to start over"
}
