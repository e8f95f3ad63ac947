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

// Package normalize turns raw census records into typed carrier rows.
// Normalization is pure: a malformed field becomes unknown, and only a
// missing or non-positive natural key rejects the record.
package normalize

import (
	"context"
	"fmt"
	"runtime"
	"strings"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/jackc/pgx/v5/pgtype"
	"golang.org/x/sync/errgroup"

	"github.com/cardinalhq/censusrunner/internal/carrier"
)

// ValidationError rejects a single record.
type ValidationError struct {
	// Key is the raw natural key value, empty when missing.
	Key    string
	Field  string
	Reason string
	Err    error
}

func (e *ValidationError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("invalid record: %s %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("invalid record %q: %s %s", e.Key, e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// Normalize maps raw onto a Carrier.
func Normalize(raw carrier.RawRecord) (carrier.Carrier, error) {
	var c carrier.Carrier

	key, err := naturalKey(raw)
	if err != nil {
		return c, err
	}
	c.USDOTNumber = key

	for _, f := range Fields {
		if f.apply == nil {
			continue
		}
		s, ok := raw.String(f.Raw)
		if !ok {
			continue
		}
		f.apply(&c, s)
	}

	c.CargoCarried = cargoTags(raw)

	if !c.LegalName.Valid {
		c.LegalName = pgtype.Text{String: fmt.Sprintf("Unknown Carrier #%d", key), Valid: true}
	}

	c.RawData, err = raw.Marshal()
	if err != nil {
		return carrier.Carrier{}, &ValidationError{
			Key: fmt.Sprint(key), Field: "raw_data", Reason: "is not serializable", Err: err,
		}
	}
	return c, nil
}

func naturalKey(raw carrier.RawRecord) (int64, error) {
	s, ok := raw.String(KeyField)
	if !ok {
		return 0, &ValidationError{Field: KeyField, Reason: "is missing"}
	}
	if _, ok := clean(s); !ok {
		return 0, &ValidationError{Field: KeyField, Reason: "is missing"}
	}
	n, ok := parseInteger(s, 64)
	if !ok {
		return 0, &ValidationError{Key: s, Field: KeyField, Reason: "is not an integer"}
	}
	if n <= 0 {
		return 0, &ValidationError{Key: s, Field: KeyField, Reason: "must be positive"}
	}
	return n, nil
}

func cargoTags(raw carrier.RawRecord) []string {
	var tags []string
	seen := mapset.NewThreadUnsafeSet[string]()
	for _, name := range CargoFields {
		s, ok := raw.String(name)
		if !ok {
			continue
		}
		s, ok = clean(s)
		if !ok {
			continue
		}
		s = strings.Join(strings.Fields(s), " ")
		if !seen.Add(s) {
			continue
		}
		tags = append(tags, s)
	}
	return tags
}

// Result is the outcome for one record of a page.
type Result struct {
	Carrier carrier.Carrier
	Err     error
}

// NormalizeAll normalizes raws on a bounded worker pool. Results are in
// input order. Only context cancellation returns an error; per-record
// failures are reported in the results.
func NormalizeAll(ctx context.Context, raws []carrier.RawRecord, workers int) ([]Result, error) {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	results := make([]Result, len(raws))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, raw := range raws {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			c, err := Normalize(raw)
			results[i] = Result{Carrier: c, Err: err}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	rejected := 0
	for _, r := range results {
		if r.Err != nil {
			rejected++
		}
	}
	recordNormalized(ctx, len(results)-rejected, rejected)
	return results, nil
}
