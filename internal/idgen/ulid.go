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

package idgen

import (
	crand "crypto/rand"
	"io"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// BatchIDSource hands out ULIDs for load batches. IDs drawn for the same
// millisecond still sort in the order they were drawn.
type BatchIDSource struct {
	mu      sync.Mutex
	entropy io.Reader
}

func NewBatchIDSource() *BatchIDSource {
	return &BatchIDSource{entropy: ulid.Monotonic(crand.Reader, 0)}
}

func (s *BatchIDSource) Next(at time.Time) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, err := ulid.New(ulid.Timestamp(at), s.entropy)
	if err != nil {
		// Monotonic entropy is exhausted for this millisecond.
		return ulid.Make().String()
	}
	return id.String()
}
