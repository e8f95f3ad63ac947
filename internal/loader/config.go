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

package loader

import (
	"time"

	"github.com/cardinalhq/censusrunner/internal/cache"
	"github.com/cardinalhq/censusrunner/internal/retry"
)

type Config struct {
	// FastPathThreshold is the batch length a batch must exceed to be
	// eligible for COPY.
	FastPathThreshold int `mapstructure:"fast_path_threshold"`

	// Retry governs safe-path attempts. MaxAttempts of 2 means one retry.
	Retry retry.Policy `mapstructure:"retry"`

	// KeyCache remembers natural keys written during the run.
	KeyCache cache.Config `mapstructure:"key_cache"`
}

func DefaultConfig() Config {
	return Config{
		FastPathThreshold: 100,
		Retry: retry.Policy{
			BaseDelay:   time.Second,
			Factor:      2.0,
			MaxAttempts: 2,
			MaxDelay:    30 * time.Second,
		},
		KeyCache: cache.Config{
			TTL:      12 * time.Hour,
			Capacity: 1_000_000,
		},
	}
}
