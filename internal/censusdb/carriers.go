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

package censusdb

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"

	"github.com/cardinalhq/censusrunner/internal/carrier"
)

var carrierColumns = []string{
	"usdot_number", "legal_name", "dba_name",
	"physical_address", "physical_city", "physical_state", "physical_zip", "physical_country",
	"mailing_address", "mailing_city", "mailing_state", "mailing_zip",
	"telephone", "fax", "email",
	"mcs_150_date", "mcs_150_mileage", "entity_type", "operating_status", "out_of_service_date",
	"power_units", "drivers", "carrier_operation", "cargo_carried",
	"liability_insurance_date", "liability_insurance_amount",
	"cargo_insurance_date", "cargo_insurance_amount",
	"bond_insurance_date", "bond_insurance_amount",
	"hazmat_flag", "hazmat_placardable",
	"safety_rating", "safety_rating_date", "safety_review_date",
	"raw_data",
}

var (
	upsertCarrierSQL = buildUpsertCarrierSQL()
	getCarrierSQL    = "SELECT " + strings.Join(carrierColumns, ", ") + " FROM carriers WHERE usdot_number = $1"
)

func buildUpsertCarrierSQL() string {
	placeholders := make([]string, len(carrierColumns))
	var updates []string
	for i, col := range carrierColumns {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		if col != "usdot_number" {
			updates = append(updates, col+" = EXCLUDED."+col)
		}
	}
	updates = append(updates, "updated_at = now()")

	return "INSERT INTO carriers (" + strings.Join(carrierColumns, ", ") + ")\n" +
		"VALUES (" + strings.Join(placeholders, ", ") + ")\n" +
		"ON CONFLICT (usdot_number) DO UPDATE SET\n  " + strings.Join(updates, ",\n  ") + "\n" +
		"RETURNING (xmax = 0) AS inserted"
}

func numeric(d decimal.NullDecimal) (pgtype.Numeric, error) {
	var n pgtype.Numeric
	if !d.Valid {
		return n, nil
	}
	if err := n.Scan(d.Decimal.String()); err != nil {
		return n, fmt.Errorf("convert %s to numeric: %w", d.Decimal, err)
	}
	return n, nil
}

func nullDecimal(n pgtype.Numeric) (decimal.NullDecimal, error) {
	if !n.Valid {
		return decimal.NullDecimal{}, nil
	}
	v, err := n.Value()
	if err != nil {
		return decimal.NullDecimal{}, err
	}
	s, ok := v.(string)
	if !ok {
		return decimal.NullDecimal{}, fmt.Errorf("unexpected numeric value %T", v)
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.NullDecimal{}, err
	}
	return decimal.NullDecimal{Decimal: d, Valid: true}, nil
}

// carrierValues returns c in carrierColumns order.
func carrierValues(c *carrier.Carrier) ([]any, error) {
	liability, err := numeric(c.LiabilityInsuranceAmount)
	if err != nil {
		return nil, err
	}
	cargo, err := numeric(c.CargoInsuranceAmount)
	if err != nil {
		return nil, err
	}
	bond, err := numeric(c.BondInsuranceAmount)
	if err != nil {
		return nil, err
	}

	return []any{
		c.USDOTNumber, c.LegalName, c.DBAName,
		c.PhysicalAddress, c.PhysicalCity, c.PhysicalState, c.PhysicalZip, c.PhysicalCountry,
		c.MailingAddress, c.MailingCity, c.MailingState, c.MailingZip,
		c.Telephone, c.Fax, c.Email,
		c.MCS150Date, c.MCS150Mileage, c.EntityType, c.OperatingStatus, c.OutOfServiceDate,
		c.PowerUnits, c.Drivers, c.CarrierOperation, c.CargoCarried,
		c.LiabilityInsuranceDate, liability,
		c.CargoInsuranceDate, cargo,
		c.BondInsuranceDate, bond,
		c.HazmatFlag, c.HazmatPlacardable,
		c.SafetyRating, c.SafetyRatingDate, c.SafetyReviewDate,
		c.RawData,
	}, nil
}

// CopyCarriers bulk-appends rows with COPY. There is no conflict handling:
// a duplicate key fails the whole copy.
func (q *Queries) CopyCarriers(ctx context.Context, rows []carrier.Carrier) (int64, error) {
	values := make([][]any, len(rows))
	for i := range rows {
		v, err := carrierValues(&rows[i])
		if err != nil {
			return 0, fmt.Errorf("carrier %d: %w", rows[i].USDOTNumber, err)
		}
		values[i] = v
	}
	return q.db.CopyFrom(ctx, pgx.Identifier{"carriers"}, carrierColumns, pgx.CopyFromRows(values))
}

// upsertCarriers sends one insert-or-update per row in a single batch.
func (q *Queries) upsertCarriers(ctx context.Context, rows []carrier.Carrier) (inserted, updated int64, err error) {
	if len(rows) == 0 {
		return 0, 0, nil
	}

	batch := &pgx.Batch{}
	for i := range rows {
		v, err := carrierValues(&rows[i])
		if err != nil {
			return 0, 0, fmt.Errorf("carrier %d: %w", rows[i].USDOTNumber, err)
		}
		batch.Queue(upsertCarrierSQL, v...)
	}

	br := q.db.SendBatch(ctx, batch)
	for i := range rows {
		var wasInsert bool
		if scanErr := br.QueryRow().Scan(&wasInsert); scanErr != nil {
			err = fmt.Errorf("upsert carrier %d: %w", rows[i].USDOTNumber, scanErr)
			break
		}
		if wasInsert {
			inserted++
		} else {
			updated++
		}
	}
	if closeErr := br.Close(); closeErr != nil && err == nil {
		err = closeErr
	}
	if err != nil {
		return 0, 0, err
	}
	return inserted, updated, nil
}

// TruncateCarriers empties the carriers table.
func (q *Queries) TruncateCarriers(ctx context.Context) error {
	_, err := q.db.Exec(ctx, "TRUNCATE TABLE carriers")
	return err
}

func (q *Queries) CountCarriers(ctx context.Context) (int64, error) {
	var n int64
	err := q.db.QueryRow(ctx, "SELECT count(*) FROM carriers").Scan(&n)
	return n, err
}

func (q *Queries) CarrierExists(ctx context.Context, usdot int64) (bool, error) {
	var exists bool
	err := q.db.QueryRow(ctx, "SELECT EXISTS (SELECT 1 FROM carriers WHERE usdot_number = $1)", usdot).Scan(&exists)
	return exists, err
}

// GetCarrier reads one carrier back. Found is false when no row matches.
func (q *Queries) GetCarrier(ctx context.Context, usdot int64) (c carrier.Carrier, found bool, err error) {
	var liability, cargo, bond pgtype.Numeric
	err = q.db.QueryRow(ctx, getCarrierSQL, usdot).Scan(
		&c.USDOTNumber, &c.LegalName, &c.DBAName,
		&c.PhysicalAddress, &c.PhysicalCity, &c.PhysicalState, &c.PhysicalZip, &c.PhysicalCountry,
		&c.MailingAddress, &c.MailingCity, &c.MailingState, &c.MailingZip,
		&c.Telephone, &c.Fax, &c.Email,
		&c.MCS150Date, &c.MCS150Mileage, &c.EntityType, &c.OperatingStatus, &c.OutOfServiceDate,
		&c.PowerUnits, &c.Drivers, &c.CarrierOperation, &c.CargoCarried,
		&c.LiabilityInsuranceDate, &liability,
		&c.CargoInsuranceDate, &cargo,
		&c.BondInsuranceDate, &bond,
		&c.HazmatFlag, &c.HazmatPlacardable,
		&c.SafetyRating, &c.SafetyRatingDate, &c.SafetyReviewDate,
		&c.RawData,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return carrier.Carrier{}, false, nil
	}
	if err != nil {
		return carrier.Carrier{}, false, err
	}

	if c.LiabilityInsuranceAmount, err = nullDecimal(liability); err != nil {
		return carrier.Carrier{}, false, err
	}
	if c.CargoInsuranceAmount, err = nullDecimal(cargo); err != nil {
		return carrier.Carrier{}, false, err
	}
	if c.BondInsuranceAmount, err = nullDecimal(bond); err != nil {
		return carrier.Carrier{}, false, err
	}
	return c, true, nil
}
