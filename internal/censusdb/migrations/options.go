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

package migrations

import (
	"os"
	"strings"
	"time"
)

// CheckMode controls what a version mismatch does on connect.
type CheckMode int

const (
	// CheckModeWait polls until the schema catches up or the timeout passes.
	CheckModeWait CheckMode = iota
	// CheckModeWarn logs the mismatch and continues.
	CheckModeWarn
	// CheckModeSkip does not look at the schema version.
	CheckModeSkip
)

type CheckOptions struct {
	Mode          CheckMode
	Timeout       time.Duration
	RetryInterval time.Duration
	AllowDirty    bool
}

type CheckOption func(*CheckOptions)

func WithCheckMode(mode CheckMode) CheckOption {
	return func(o *CheckOptions) { o.Mode = mode }
}

func DefaultCheckOptions() CheckOptions {
	return CheckOptions{
		Mode:          CheckModeWait,
		Timeout:       2 * time.Minute,
		RetryInterval: 5 * time.Second,
	}
}

// checkOptionsFromEnv applies options, then lets CENSUSDB_MIGRATION_CHECK_*
// variables override the wait tuning. CENSUSDB_MIGRATION_CHECK=off turns
// checking off entirely.
func checkOptionsFromEnv(options ...CheckOption) CheckOptions {
	o := DefaultCheckOptions()
	for _, opt := range options {
		opt(&o)
	}
	if v := strings.ToLower(os.Getenv("CENSUSDB_MIGRATION_CHECK")); v == "off" || v == "false" {
		o.Mode = CheckModeSkip
	}
	if d, err := time.ParseDuration(os.Getenv("CENSUSDB_MIGRATION_CHECK_TIMEOUT")); err == nil {
		o.Timeout = d
	}
	if d, err := time.ParseDuration(os.Getenv("CENSUSDB_MIGRATION_CHECK_INTERVAL")); err == nil && d > 0 {
		o.RetryInterval = d
	}
	if strings.EqualFold(os.Getenv("CENSUSDB_MIGRATION_CHECK_ALLOW_DIRTY"), "true") {
		o.AllowDirty = true
	}
	return o
}
