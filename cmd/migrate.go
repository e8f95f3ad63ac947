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
	"slices"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/spf13/cobra"

	"github.com/cardinalhq/censusrunner/internal/censusdb"
	"github.com/cardinalhq/censusrunner/internal/censusdb/migrations"
	"github.com/cardinalhq/censusrunner/internal/dbopen"
)

// migrators maps a --databases name to its migration.
var migrators = map[string]func(context.Context) error{
	"censusdb": migrateCensusDB,
}

func init() {
	var (
		databases []string
		timeout   time.Duration
	)
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Create or upgrade the census schema",
		Long:  "Create or upgrade the carriers, ingest_checkpoints and ingest_runs tables.",
		RunE: func(c *cobra.Command, _ []string) error {
			ctx, cancel := context.WithTimeout(c.Context(), timeout)
			defer cancel()
			return runMigrations(ctx, databases)
		},
	}
	cmd.Flags().StringSliceVar(&databases, "databases", []string{"censusdb"}, "Databases to migrate")
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Minute, "Give up after this long")
	rootCmd.AddCommand(cmd)
}

// runMigrations migrates every named database, continuing past failures,
// and reports all of them together.
func runMigrations(ctx context.Context, names []string) error {
	var result *multierror.Error
	for _, name := range names {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		migrate, ok := migrators[name]
		if !ok {
			result = multierror.Append(result, fmt.Errorf("unknown database %q (known: %s)", name, knownDatabases()))
			continue
		}
		slog.Info("Migrating", slog.String("database", name))
		if err := migrate(ctx); err != nil {
			result = multierror.Append(result, fmt.Errorf("%s: %w", name, err))
			continue
		}
		slog.Info("Migrated", slog.String("database", name))
	}
	return result.ErrorOrNil()
}

func knownDatabases() string {
	names := make([]string, 0, len(migrators))
	for name := range migrators {
		names = append(names, name)
	}
	slices.Sort(names)
	return strings.Join(names, ", ")
}

func migrateCensusDB(ctx context.Context) error {
	// The schema may not exist yet.
	pool, err := censusdb.ConnectToCensusDB(ctx, dbopen.SkipMigrationCheck())
	if err != nil {
		return err
	}
	defer pool.Close()
	return migrations.RunMigrationsUp(ctx, pool)
}
