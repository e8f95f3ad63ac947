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
	"log/slog"

	"github.com/golang-migrate/migrate/v4"
	migratepgx "github.com/golang-migrate/migrate/v4/database/pgx"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
)

// schema drives golang-migrate over a database/sql view of the pool.
type schema struct {
	m     *migrate.Migrate
	close func()
}

func openSchema(pool *pgxpool.Pool) (*schema, error) {
	src, err := iofs.New(migrationFiles, ".")
	if err != nil {
		return nil, fmt.Errorf("open embedded migrations: %w", err)
	}

	sqlDB := stdlib.OpenDBFromPool(pool)
	driver, err := migratepgx.WithInstance(sqlDB, &migratepgx.Config{MigrationsTable: MigrationsTable})
	if err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("open migration driver: %w", err)
	}
	closeAll := func() {
		_ = driver.Close()
		_ = sqlDB.Close()
	}

	m, err := migrate.NewWithInstance("iofs", src, "postgres", driver)
	if err != nil {
		closeAll()
		return nil, fmt.Errorf("init migrate: %w", err)
	}
	return &schema{m: m, close: closeAll}, nil
}

// version is 0 for a database that has never been migrated.
func (s *schema) version() (uint, bool, error) {
	v, dirty, err := s.m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("read schema version: %w", err)
	}
	return v, dirty, nil
}

// RunMigrationsUp applies every pending up migration. Cancelling ctx stops
// after the migration in progress.
func RunMigrationsUp(ctx context.Context, pool *pgxpool.Pool) error {
	s, err := openSchema(pool)
	if err != nil {
		return err
	}
	defer s.close()

	from, dirty, err := s.version()
	if err != nil {
		return err
	}
	if dirty {
		return fmt.Errorf("censusdb schema version %d is dirty; repair it with the migrate CLI before retrying", from)
	}

	stop := context.AfterFunc(ctx, func() { s.m.GracefulStop <- true })
	defer stop()

	if err := s.m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", err)
	}

	to, _, _ := s.version()
	slog.Info("censusdb schema up to date",
		slog.Uint64("fromVersion", uint64(from)),
		slog.Uint64("toVersion", uint64(to)))
	return nil
}
