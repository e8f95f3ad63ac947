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

package source

import (
	"time"

	"github.com/cardinalhq/censusrunner/internal/cache"
	"github.com/cardinalhq/censusrunner/internal/retry"
)

const (
	// DefaultBaseURL is the SODA endpoint of the FMCSA Company Census File.
	DefaultBaseURL = "https://data.transportation.gov/resource/az4n-8mr2.json"

	// MaxPageSize is the largest $limit the SODA API honors.
	MaxPageSize = 50_000

	DefaultMaxConsecutiveFailedPages = 5
)

// Config holds the census source settings.
type Config struct {
	BaseURL         string        `mapstructure:"base_url"`
	AppToken        string        `mapstructure:"app_token"`
	Timeout         time.Duration `mapstructure:"timeout"`
	PageSize        int           `mapstructure:"page_size"`
	MaxPageSize     int           `mapstructure:"max_page_size"`
	OrderBy         string        `mapstructure:"order_by"`
	PolitenessDelay time.Duration `mapstructure:"politeness_delay"`

	Retry retry.Policy `mapstructure:"retry"`

	// DefaultRetryAfter is used when a 429 carries no usable Retry-After.
	DefaultRetryAfter time.Duration `mapstructure:"default_retry_after"`
	// MaxRateLimitWaits bounds consecutive 429 waits for one request; 0 is unbounded.
	MaxRateLimitWaits int `mapstructure:"max_rate_limit_waits"`
	// MaxConsecutiveFailedPages ends a page sequence with
	// ErrSourceUnavailable; values below 1 use the default.
	MaxConsecutiveFailedPages int `mapstructure:"max_consecutive_failed_pages"`

	CountCache cache.Config `mapstructure:"count_cache"`
}

// DefaultConfig returns default settings.
func DefaultConfig() Config {
	return Config{
		BaseURL:           DefaultBaseURL,
		Timeout:           30 * time.Second,
		PageSize:          MaxPageSize,
		MaxPageSize:       MaxPageSize,
		OrderBy:           "usdot_number",
		PolitenessDelay:   500 * time.Millisecond,
		Retry:             retry.DefaultPolicy(),
		DefaultRetryAfter: 60 * time.Second,
		MaxRateLimitWaits: 20,

		MaxConsecutiveFailedPages: DefaultMaxConsecutiveFailedPages,

		CountCache: cache.Config{
			TTL:      10 * time.Minute,
			Capacity: 1024,
		},
	}
}
