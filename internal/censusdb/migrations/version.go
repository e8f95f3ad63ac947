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

package migrations

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// CheckVersion compares the censusdb schema version with the newest
// migration embedded in this binary.
func CheckVersion(ctx context.Context, pool *pgxpool.Pool, options ...CheckOption) error {
	opts := checkOptionsFromEnv(options...)
	if opts.Mode == CheckModeSkip {
		return nil
	}

	want, err := latestVersion(migrationFiles)
	if err != nil {
		return err
	}

	s, err := openSchema(pool)
	if err != nil {
		return err
	}
	defer s.close()

	have, dirty, err := s.version()
	if err != nil {
		return err
	}
	blocked := dirty && !opts.AllowDirty
	if err := versionProblem(have, want, blocked); err != nil {
		if opts.Mode == CheckModeWarn {
			slog.Warn("Continuing with mismatched censusdb schema", slog.Any("problem", err))
			return nil
		}
		if blocked || have > want {
			return err
		}
		return waitForVersion(ctx, s, want, opts)
	}
	return nil
}

// versionProblem describes why a database at have cannot serve a binary
// built for want, or returns nil.
func versionProblem(have, want uint, dirty bool) error {
	switch {
	case dirty:
		return fmt.Errorf("censusdb schema version %d is dirty", have)
	case have > want:
		return fmt.Errorf("censusdb schema version %d is newer than %d; upgrade censusrunner", have, want)
	case have < want:
		return fmt.Errorf("censusdb schema version %d is older than %d; run 'censusrunner migrate'", have, want)
	}
	return nil
}

// waitForVersion polls while another process migrates the schema.
func waitForVersion(ctx context.Context, s *schema, want uint, opts CheckOptions) error {
	ctx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	ticker := time.NewTicker(opts.RetryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			have, _, _ := s.version()
			return fmt.Errorf("waiting for censusdb schema %d (at %d): %w", want, have, ctx.Err())
		case <-ticker.C:
		}
		have, _, err := s.version()
		if err != nil {
			return err
		}
		if have == want {
			return nil
		}
		slog.Info("Waiting for censusdb migrations",
			slog.Uint64("currentVersion", uint64(have)),
			slog.Uint64("expectedVersion", uint64(want)))
	}
}

// latestVersion returns the highest version among "<version>_<name>.up.sql".
func latestVersion(files fs.ReadDirFS) (uint, error) {
	entries, err := files.ReadDir(".")
	if err != nil {
		return 0, fmt.Errorf("read migrations: %w", err)
	}
	var latest uint64
	for _, e := range entries {
		name, ok := strings.CutSuffix(e.Name(), ".up.sql")
		if e.IsDir() || !ok {
			continue
		}
		prefix, _, _ := strings.Cut(name, "_")
		if v, err := strconv.ParseUint(prefix, 10, 64); err == nil {
			latest = max(latest, v)
		}
	}
	if latest == 0 {
		return 0, errors.New("no up migrations embedded")
	}
	return uint(latest), nil
}
