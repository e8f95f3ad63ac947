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

package ingest

// Config controls how a run batches its work and how much failure it
// tolerates before aborting.
type Config struct {
	// BatchSize is the number of normalized records per store write.
	BatchSize int `mapstructure:"batch_size"`
	// PageSize is the number of records requested per source page. Zero
	// uses the source default.
	PageSize int `mapstructure:"page_size"`
	// ErrorBudget is the number of error events (rejected records, failed
	// batches, failed pages) a run absorbs. One more aborts it. Negative
	// disables the budget.
	ErrorBudget int `mapstructure:"error_budget"`
	// Workers bounds parallel normalization within a page. Zero uses GOMAXPROCS.
	Workers int `mapstructure:"workers"`
	// ErrorSamples is how many error descriptions the run report keeps.
	ErrorSamples int `mapstructure:"error_samples"`
	// EstimatedTotal is reported to progress callbacks when the source
	// cannot count an unfiltered run.
	EstimatedTotal int64 `mapstructure:"estimated_total"`
}

func DefaultConfig() Config {
	return Config{
		BatchSize:      1000,
		ErrorBudget:    100,
		ErrorSamples:   10,
		EstimatedTotal: 2_200_000,
	}
}
