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

package censusdb

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cardinalhq/censusrunner/internal/censusdb/migrations"
	"github.com/cardinalhq/censusrunner/internal/dbopen"
)

// EnvPrefix names the CENSUSDB_URL / CENSUSDB_HOST family of variables.
const EnvPrefix = "CENSUSDB"

// ConnectToCensusDB opens a pool from the environment and checks the schema
// version.
func ConnectToCensusDB(ctx context.Context, opts ...dbopen.Options) (*pgxpool.Pool, error) {
	connectionString, err := dbopen.GetDatabaseURLFromEnv(EnvPrefix)
	if err != nil {
		return nil, errors.Join(dbopen.ErrDatabaseNotConfigured, fmt.Errorf("failed to get CENSUSDB connection string: %w", err))
	}

	pool, err := NewConnectionPool(ctx, connectionString)
	if err != nil {
		return nil, err
	}

	var checkOptions []migrations.CheckOption
	for _, o := range opts {
		checkOptions = append(checkOptions, o.CheckOptions()...)
	}

	if err := migrations.CheckVersion(ctx, pool, checkOptions...); err != nil {
		pool.Close()
		return nil, fmt.Errorf("CENSUSDB migration version check failed: %w", err)
	}

	return pool, nil
}

// CensusDBStore connects and wraps the pool in a Store.
func CensusDBStore(ctx context.Context, opts ...dbopen.Options) (*Store, error) {
	pool, err := ConnectToCensusDB(ctx, opts...)
	if err != nil {
		return nil, err
	}
	return NewStore(pool), nil
}
