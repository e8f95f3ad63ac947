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
	"fmt"

	"github.com/cardinalhq/censusrunner/internal/censusdb"
)

// NewStore builds the backend named by cfg.Backend. db is only used by the
// postgres backend.
func NewStore(ctx context.Context, cfg Config, db *censusdb.Store) (Store, error) {
	switch cfg.Backend {
	case "", BackendPostgres:
		if db == nil {
			return nil, fmt.Errorf("postgres checkpoint backend needs a database")
		}
		return NewPostgresStore(db), nil
	case BackendFile:
		return NewFileStore(cfg.Dir)
	case BackendS3:
		return NewS3Store(ctx, cfg.S3)
	default:
		return nil, fmt.Errorf("unknown checkpoint backend %q", cfg.Backend)
	}
}
