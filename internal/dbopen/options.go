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

package dbopen

import "github.com/cardinalhq/censusrunner/internal/censusdb/migrations"

// Options tunes how a census database connection is opened. The zero
// value waits for the schema to reach the expected version.
type Options struct {
	CheckMode migrations.CheckMode
}

func (o Options) CheckOptions() []migrations.CheckOption {
	return []migrations.CheckOption{migrations.WithCheckMode(o.CheckMode)}
}

// SkipMigrationCheck is for the migrate command, which runs before the
// schema exists.
func SkipMigrationCheck() Options {
	return Options{CheckMode: migrations.CheckModeSkip}
}

// WarnOnMigrationMismatch is for read-only tooling such as "checkpoint show".
func WarnOnMigrationMismatch() Options {
	return Options{CheckMode: migrations.CheckModeWarn}
}
