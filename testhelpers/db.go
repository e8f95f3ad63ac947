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

// Package testhelpers provisions throwaway census databases for
// integration tests.
package testhelpers

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/orlangure/gnomock"
	"github.com/orlangure/gnomock/preset/postgres"
	"github.com/stretchr/testify/require"

	"github.com/cardinalhq/censusrunner/internal/censusdb/migrations"
	"github.com/cardinalhq/censusrunner/internal/dbopen"
)

// SetupTestCensusDB returns a pool on an empty, migrated census database
// that is dropped when the test ends. The database lives on the server
// named by CENSUSDB_HOST, or in a Postgres container when
// CENSUSRUNNER_TEST_CONTAINERS is set. Otherwise the test is skipped.
func SetupTestCensusDB(t *testing.T) *pgxpool.Pool {
	t.Helper()

	var server dbopen.Params
	switch {
	case os.Getenv("CENSUSDB_HOST") != "":
		server = serverFromEnv()
	case os.Getenv("CENSUSRUNNER_TEST_CONTAINERS") != "":
		server = startPostgres(t)
	default:
		t.Skip("set CENSUSDB_HOST or CENSUSRUNNER_TEST_CONTAINERS to run database tests")
	}

	pool := scratchDatabase(t, server)
	require.NoError(t, migrations.RunMigrationsUp(t.Context(), pool), "migrate scratch database")
	return pool
}

func serverFromEnv() dbopen.Params {
	return dbopen.Params{
		Host:     os.Getenv("CENSUSDB_HOST"),
		Port:     envOr("CENSUSDB_PORT", "5432"),
		User:     envOr("CENSUSDB_USER", os.Getenv("USER")),
		Password: os.Getenv("CENSUSDB_PASSWORD"),
		DBName:   envOr("CENSUSDB_DBNAME", "testing_censusdb"),
		SSLMode:  os.Getenv("CENSUSDB_SSLMODE"),
	}
}

// startPostgres runs a Postgres 16 container for the life of the test and
// connects as the preset's superuser.
func startPostgres(t *testing.T) dbopen.Params {
	t.Helper()

	container, err := gnomock.Start(postgres.Preset(
		postgres.WithVersion("16"),
		postgres.WithDatabase("censusdb"),
	))
	require.NoError(t, err, "start Postgres container")
	t.Cleanup(func() { _ = gnomock.Stop(container) })

	return dbopen.Params{
		Host:     container.Host,
		Port:     strconv.Itoa(container.DefaultPort()),
		User:     "postgres",
		Password: "password",
		DBName:   "censusdb",
		SSLMode:  "disable",
	}
}

// scratchDatabase creates a uniquely named database on server and drops
// it in cleanup.
func scratchDatabase(t *testing.T, server dbopen.Params) *pgxpool.Pool {
	t.Helper()
	ctx := context.Background()

	admin, err := pgxpool.New(ctx, server.URL())
	require.NoError(t, err, "connect to %s", server.Host)

	name := fmt.Sprintf("census_test_%d", time.Now().UnixNano())
	if _, err := admin.Exec(ctx, "CREATE DATABASE "+name); err != nil {
		admin.Close()
		t.Fatalf("create database %s: %v", name, err)
	}

	scratch := server
	scratch.DBName = name
	pool, err := pgxpool.New(ctx, scratch.URL())
	if err != nil {
		admin.Close()
		t.Fatalf("connect to %s: %v", name, err)
	}

	t.Cleanup(func() {
		pool.Close()
		if _, err := admin.Exec(context.Background(), "DROP DATABASE IF EXISTS "+name); err != nil {
			t.Logf("drop database %s: %v", name, err)
		}
		admin.Close()
	})
	return pool
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
