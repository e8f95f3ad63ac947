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

package checkpoint

import (
	"context"

	"github.com/cardinalhq/censusrunner/internal/censusdb"
)

// checkpointQuerier is the slice of censusdb.Queries this backend needs.
type checkpointQuerier interface {
	GetIngestCheckpoint(ctx context.Context, pipeline string) (*censusdb.IngestCheckpoint, error)
	UpsertIngestCheckpoint(ctx context.Context, cp censusdb.IngestCheckpoint) error
	DeleteIngestCheckpoint(ctx context.Context, pipeline string) error
}

// PostgresStore keeps checkpoints as rows of ingest_checkpoints, next to
// the data they describe.
type PostgresStore struct {
	db checkpointQuerier
}

var _ Store = (*PostgresStore)(nil)

func NewPostgresStore(db checkpointQuerier) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Load(ctx context.Context, pipeline string) (*Checkpoint, error) {
	row, err := s.db.GetIngestCheckpoint(ctx, pipeline)
	if err != nil || row == nil {
		return nil, err
	}
	cp := Checkpoint(*row)
	return &cp, nil
}

func (s *PostgresStore) Save(ctx context.Context, cp Checkpoint) error {
	return s.db.UpsertIngestCheckpoint(ctx, censusdb.IngestCheckpoint(cp))
}

func (s *PostgresStore) Clear(ctx context.Context, pipeline string) error {
	return s.db.DeleteIngestCheckpoint(ctx, pipeline)
}
