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
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cardinalhq/censusrunner/internal/carrier"
)

// txFinishTimeout bounds commit and rollback, which run detached from the
// caller's cancellation.
const txFinishTimeout = 10 * time.Second

// Store adds the multi-statement operations to Queries.
type Store struct {
	*Queries
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{Queries: New(pool), pool: pool}
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// inTx runs fn in a READ COMMITTED transaction. A batch either commits or
// rolls back even when ctx is cancelled while fn runs.
func (s *Store) inTx(ctx context.Context, fn func(*Queries) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	finish, cancel := context.WithTimeout(context.WithoutCancel(ctx), txFinishTimeout)
	defer cancel()

	if err := fn(s.WithTx(tx)); err != nil {
		if rbErr := tx.Rollback(finish); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			err = errors.Join(err, fmt.Errorf("rollback failed: %w", rbErr))
		}
		return err
	}
	if err := tx.Commit(finish); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// UpsertCarriers applies the batch in one transaction and reports how many
// rows were inserted and how many were updated in place.
func (s *Store) UpsertCarriers(ctx context.Context, rows []carrier.Carrier) (inserted, updated int64, err error) {
	err = s.inTx(ctx, func(q *Queries) error {
		inserted, updated, err = q.upsertCarriers(ctx, rows)
		return err
	})
	if err != nil {
		return 0, 0, err
	}
	return inserted, updated, nil
}
