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
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgx-contrib/pgxotel"
)

// A run holds at most one batch transaction plus checkpoint and run
// history writes, so a small pool is plenty.
const (
	minPoolConns     = 4
	poolConnIdleTime = 5 * time.Minute
)

// NewConnectionPool opens a traced pgx pool for url. Pool size from the
// URL (pool_max_conns) is respected but never drops below minPoolConns.
func NewConnectionPool(ctx context.Context, url string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("parse censusdb url: %w", err)
	}
	cfg.MaxConns = max(cfg.MaxConns, minPoolConns)
	cfg.MaxConnIdleTime = poolConnIdleTime
	cfg.ConnConfig.Tracer = &pgxotel.QueryTracer{Name: "censusdb"}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open censusdb pool: %w", err)
	}
	return pool, nil
}
