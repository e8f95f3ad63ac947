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
	"io"
	"log/slog"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/cardinalhq/censusrunner/config"
	"github.com/cardinalhq/censusrunner/internal/carrier"
	"github.com/cardinalhq/censusrunner/internal/censusdb"
	"github.com/cardinalhq/censusrunner/internal/dbopen"
	"github.com/cardinalhq/censusrunner/internal/logctx"
	"github.com/cardinalhq/censusrunner/internal/normalize"
	"github.com/cardinalhq/censusrunner/internal/source"
)

func init() {
	cmd := &cobra.Command{
		Use:   "source",
		Short: "Query the census API directly",
	}
	cmd.AddCommand(sourceCountCmd(), sourceFetchCmd())
	rootCmd.AddCommand(cmd)
}

func sourceCountCmd() *cobra.Command {
	var state, since string

	cmd := &cobra.Command{
		Use:   "count",
		Short: "Print how many census records match the given filters",
		RunE: func(c *cobra.Command, _ []string) error {
			var filters []string
			f, err := stateFilter(state)
			if err != nil {
				return err
			}
			filters = append(filters, f)

			if since != "" {
				t, err := parseSince(since)
				if err != nil {
					return err
				}
				f, err := source.ModifiedSinceFilter(source.ModifiedField, t)
				if err != nil {
					return err
				}
				filters = append(filters, f)
			}

			return withSourceClient(func(ctx context.Context, client *source.Client) error {
				n, err := client.Count(ctx, source.And(filters...))
				if err != nil {
					return err
				}
				_, err = fmt.Fprintln(c.OutOrStdout(), n)
				return err
			})
		},
	}

	cmd.Flags().StringVar(&state, "state", "", "Only count carriers physically located in this two-letter state")
	cmd.Flags().StringVar(&since, "since", "", "Only count carriers with a census filing after this time")
	return cmd
}

func sourceFetchCmd() *cobra.Command {
	var checkDB bool

	cmd := &cobra.Command{
		Use:   "fetch <usdot>",
		Short: "Print one carrier's raw census record",
		Args:  cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			usdot, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil || usdot <= 0 {
				return fmt.Errorf("invalid USDOT number %q", args[0])
			}

			return withSourceClient(func(ctx context.Context, client *source.Client) error {
				raw, found, err := client.FetchCarrier(ctx, usdot)
				if err != nil {
					return err
				}
				if !found {
					return fmt.Errorf("carrier %d not found", usdot)
				}
				if err := printRawCarrier(c.OutOrStdout(), raw); err != nil {
					return err
				}
				if !checkDB {
					return nil
				}

				db, err := censusdb.CensusDBStore(ctx, dbopen.WarnOnMigrationMismatch())
				if err != nil {
					return fmt.Errorf("failed to open census database: %w", err)
				}
				defer db.Close()
				return logStoredState(ctx, db, usdot)
			})
		},
	}

	cmd.Flags().BoolVar(&checkDB, "check-db", false, "Also report whether the carrier is already in the census database")
	return cmd
}

type carrierLookup interface {
	CarrierExists(ctx context.Context, usdot int64) (bool, error)
}

// logStoredState reports whether usdot has already been ingested.
func logStoredState(ctx context.Context, db carrierLookup, usdot int64) error {
	stored, err := db.CarrierExists(ctx, usdot)
	if err != nil {
		return fmt.Errorf("failed to look up stored carrier: %w", err)
	}
	logctx.FromContext(ctx).Info("Stored carrier lookup",
		slog.Int64("usdot", usdot),
		slog.Bool("stored", stored))
	return nil
}

// printRawCarrier writes the record as JSON and warns when ingestion would
// reject it.
func printRawCarrier(w io.Writer, raw carrier.RawRecord) error {
	data, err := raw.Marshal()
	if err != nil {
		return err
	}
	if _, err := normalize.Normalize(raw); err != nil {
		slog.Warn("Record would be rejected by ingestion", slog.Any("error", err))
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

func withSourceClient(fn func(ctx context.Context, client *source.Client) error) error {
	ctx, cancel := handleSignals(context.Background())
	defer cancel()
	ctx, cancelTimeout := context.WithTimeout(ctx, 5*time.Minute)
	defer cancelTimeout()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	client, counts := newSourceClient(cfg.Source)
	defer counts.Stop()
	return fn(ctx, client)
}
