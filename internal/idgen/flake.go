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

// Package idgen generates the identifiers that tag run history rows,
// load batches and log lines.
package idgen

import (
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/sony/sonyflake"
)

// flakeEpoch keeps instance IDs small enough to read in `runs list`.
var flakeEpoch = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

var instanceID = sync.OnceValue(func() int64 {
	return newInstanceID(sonyflake.Settings{StartTime: flakeEpoch})
})

// InstanceID identifies this process in the run history. It is fixed for
// the life of the process and always positive.
func InstanceID() int64 {
	return instanceID()
}

// newInstanceID draws one sonyflake ID. Sonyflake needs a private IPv4
// address for its machine ID; hosts without one get a random ID instead.
func newInstanceID(st sonyflake.Settings) int64 {
	sf, err := sonyflake.New(st)
	if err == nil && sf != nil {
		if id, err := sf.NextID(); err == nil && id > 0 {
			return int64(id)
		}
	}
	return rand.Int64N(math.MaxInt64-1) + 1
}
