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
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/cardinalhq/censusrunner/config"
	"github.com/cardinalhq/censusrunner/internal/checkpoint"
)

func init() {
	var (
		pipelineName string
		output       string
	)

	cmd := &cobra.Command{
		Use:   "checkpoint",
		Short: "Inspect or reset the saved resume point",
	}
	cmd.PersistentFlags().StringVar(&pipelineName, "pipeline", "", "Pipeline name (default from config)")

	show := &cobra.Command{
		Use:   "show",
		Short: "Print the saved checkpoint",
		RunE: func(c *cobra.Command, _ []string) error {
			return withTracker(pipelineName, func(ctx context.Context, tracker *checkpoint.Tracker) error {
				cp, err := tracker.LoadCheckpoint(ctx)
				if err != nil {
					return err
				}
				return printCheckpoint(c.OutOrStdout(), output, tracker.Pipeline(), cp)
			})
		},
	}
	show.Flags().StringVarP(&output, "output", "o", "json", "Output format (json or yaml)")
	cmd.AddCommand(show)

	cmd.AddCommand(&cobra.Command{
		Use:   "clear",
		Short: "Delete the saved checkpoint so the next run starts from the beginning",
		RunE: func(_ *cobra.Command, _ []string) error {
			return withTracker(pipelineName, func(ctx context.Context, tracker *checkpoint.Tracker) error {
				if err := tracker.ClearCheckpoint(ctx); err != nil {
					return err
				}
				slog.Info("Checkpoint cleared", slog.String("pipeline", tracker.Pipeline()))
				return nil
			})
		},
	})

	rootCmd.AddCommand(cmd)
}

func withTracker(pipelineName string, fn func(ctx context.Context, tracker *checkpoint.Tracker) error) error {
	ctx, cancel := handleSignals(context.Background())
	defer cancel()
	ctx, cancelTimeout := context.WithTimeout(ctx, time.Minute)
	defer cancelTimeout()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if pipelineName != "" {
		cfg.Checkpoint.Pipeline = pipelineName
	}

	store, closeStore, err := openCheckpointStore(ctx, cfg.Checkpoint)
	if err != nil {
		return err
	}
	defer closeStore()

	return fn(ctx, checkpoint.NewTracker(store, cfg.Checkpoint.Pipeline))
}

func printCheckpoint(w io.Writer, output, pipelineName string, cp *checkpoint.Checkpoint) error {
	if cp == nil {
		_, err := fmt.Fprintf(w, "No checkpoint saved for pipeline %q\n", pipelineName)
		return err
	}
	switch output {
	case "", "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(cp)
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(cp); err != nil {
			return err
		}
		return enc.Close()
	default:
		return fmt.Errorf("unknown output format %q", output)
	}
}
