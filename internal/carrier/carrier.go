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

// Package carrier holds the record shapes that flow through ingestion:
// the raw census record as returned by the source, and the typed carrier
// row that is written to the database.
package carrier

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"
)

// RawRecord is one flat census record exactly as the source returned it.
// Numeric values are json.Number so that re-encoding is lossless.
type RawRecord map[string]any

// Carrier is the normalized census row. Fields that are not Valid are
// unknown and are stored as NULL.
type Carrier struct {
	USDOTNumber int64

	LegalName pgtype.Text
	DBAName   pgtype.Text

	PhysicalAddress pgtype.Text
	PhysicalCity    pgtype.Text
	PhysicalState   pgtype.Text
	PhysicalZip     pgtype.Text
	PhysicalCountry pgtype.Text

	MailingAddress pgtype.Text
	MailingCity    pgtype.Text
	MailingState   pgtype.Text
	MailingZip     pgtype.Text

	Telephone pgtype.Text
	Fax       pgtype.Text
	Email     pgtype.Text

	MCS150Date       pgtype.Date
	MCS150Mileage    pgtype.Int8
	EntityType       pgtype.Text
	OperatingStatus  pgtype.Text
	OutOfServiceDate pgtype.Date

	PowerUnits       pgtype.Int4
	Drivers          pgtype.Int4
	CarrierOperation pgtype.Text
	CargoCarried     []string

	LiabilityInsuranceDate   pgtype.Date
	LiabilityInsuranceAmount decimal.NullDecimal
	CargoInsuranceDate       pgtype.Date
	CargoInsuranceAmount     decimal.NullDecimal
	BondInsuranceDate        pgtype.Date
	BondInsuranceAmount      decimal.NullDecimal

	HazmatFlag        pgtype.Bool
	HazmatPlacardable pgtype.Bool

	SafetyRating     pgtype.Text
	SafetyRatingDate pgtype.Date
	SafetyReviewDate pgtype.Date

	// RawData is the verbatim JSON encoding of the RawRecord this row was built from.
	RawData []byte
}

// ParseRawRecords decodes a JSON array of census records.
func ParseRawRecords(data []byte) ([]RawRecord, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var records []RawRecord
	if err := dec.Decode(&records); err != nil {
		return nil, fmt.Errorf("decode records: %w", err)
	}
	return records, nil
}

// ParseRawRecord decodes a single JSON object, typically a Carrier's RawData.
func ParseRawRecord(data []byte) (RawRecord, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var rec RawRecord
	if err := dec.Decode(&rec); err != nil {
		return nil, fmt.Errorf("decode record: %w", err)
	}
	return rec, nil
}

// Marshal returns the JSON encoding of the record.
func (r RawRecord) Marshal() ([]byte, error) {
	return json.Marshal(map[string]any(r))
}

// String returns the raw value for key as a string. Missing keys and JSON
// nulls report ok=false.
func (r RawRecord) String(key string) (string, bool) {
	v, found := r[key]
	if !found || v == nil {
		return "", false
	}
	switch t := v.(type) {
	case string:
		return t, true
	case json.Number:
		return t.String(), true
	case bool:
		if t {
			return "true", true
		}
		return "false", true
	case float64:
		return decimal.NewFromFloat(t).String(), true
	default:
		return fmt.Sprint(t), true
	}
}

// Name returns the legal name for display, or the empty string when unknown.
func (c *Carrier) Name() string {
	if c.LegalName.Valid {
		return c.LegalName.String
	}
	return ""
}
