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
	"fmt"
	"regexp"
	"strings"
	"time"
)

// SoQL helpers. The client never interprets a filter; these only build
// the common predicates.

const (
	soqlTimestamp = "2006-01-02T15:04:05"

	// ModifiedField is the census column incremental runs filter on.
	ModifiedField = "mcs_150_date"
)

var (
	stateCodeRE = regexp.MustCompile(`^[A-Z]{2}$`)
	fieldNameRE = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)
)

// ModifiedSinceFilter selects records whose field is strictly after since.
func ModifiedSinceFilter(field string, since time.Time) (string, error) {
	if !fieldNameRE.MatchString(field) {
		return "", fmt.Errorf("invalid field name %q", field)
	}
	return fmt.Sprintf("%s > '%s'", field, since.UTC().Format(soqlTimestamp)), nil
}

// StateFilter selects carriers whose physical address is in the state.
func StateFilter(code string) (string, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if !stateCodeRE.MatchString(code) {
		return "", fmt.Errorf("invalid state code %q", code)
	}
	return fmt.Sprintf("phy_state = '%s'", code), nil
}

// USDOTFilter selects a single carrier.
func USDOTFilter(usdot int64) string {
	return fmt.Sprintf("usdot_number = %d", usdot)
}

// And joins non-empty predicates.
func And(filters ...string) string {
	var parts []string
	for _, f := range filters {
		if f = strings.TrimSpace(f); f != "" {
			parts = append(parts, "("+f+")")
		}
	}
	if len(parts) == 1 {
		return strings.TrimSuffix(strings.TrimPrefix(parts[0], "("), ")")
	}
	return strings.Join(parts, " AND ")
}
