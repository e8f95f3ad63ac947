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

package normalize

import (
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"

	"github.com/cardinalhq/censusrunner/internal/carrier"
)

// FieldMapping maps one raw census field onto a carrier column.
type FieldMapping struct {
	Raw      string
	Column   string
	Coercion Coercion
	// Allowed restricts a Code field to a fixed set. Empty means any
	// well-formed code.
	Allowed []string

	apply func(c *carrier.Carrier, s string)
}

// KeyField is the raw name of the natural key.
const KeyField = "usdot_number"

// CargoFields hold the cargo classification tags.
var CargoFields = []string{
	"cargo_carried_1", "cargo_carried_2", "cargo_carried_3", "cargo_carried_4",
	"cargo_carried_5", "cargo_carried_6", "cargo_carried_7", "cargo_carried_8",
}

// Fields is the static census to carrier mapping table. The natural key is
// listed for completeness; Normalize validates it separately.
var Fields = []FieldMapping{
	{Raw: KeyField, Column: "usdot_number", Coercion: Integer},
	textField("legal_name", "legal_name", Text, func(c *carrier.Carrier) *pgtype.Text { return &c.LegalName }),
	textField("dba_name", "dba_name", Text, func(c *carrier.Carrier) *pgtype.Text { return &c.DBAName }),

	textField("phy_street", "physical_address", Text, func(c *carrier.Carrier) *pgtype.Text { return &c.PhysicalAddress }),
	textField("phy_city", "physical_city", Text, func(c *carrier.Carrier) *pgtype.Text { return &c.PhysicalCity }),
	textField("phy_state", "physical_state", StateCode, func(c *carrier.Carrier) *pgtype.Text { return &c.PhysicalState }),
	textField("phy_zip", "physical_zip", PostalCode, func(c *carrier.Carrier) *pgtype.Text { return &c.PhysicalZip }),
	textField("phy_country", "physical_country", Text, func(c *carrier.Carrier) *pgtype.Text { return &c.PhysicalCountry }),

	textField("mailing_street", "mailing_address", Text, func(c *carrier.Carrier) *pgtype.Text { return &c.MailingAddress }),
	textField("mailing_city", "mailing_city", Text, func(c *carrier.Carrier) *pgtype.Text { return &c.MailingCity }),
	textField("mailing_state", "mailing_state", StateCode, func(c *carrier.Carrier) *pgtype.Text { return &c.MailingState }),
	textField("mailing_zip", "mailing_zip", PostalCode, func(c *carrier.Carrier) *pgtype.Text { return &c.MailingZip }),

	textField("telephone", "telephone", Phone, func(c *carrier.Carrier) *pgtype.Text { return &c.Telephone }),
	textField("fax", "fax", Phone, func(c *carrier.Carrier) *pgtype.Text { return &c.Fax }),
	textField("email_address", "email", Email, func(c *carrier.Carrier) *pgtype.Text { return &c.Email }),

	dateField("mcs_150_date", "mcs_150_date", func(c *carrier.Carrier) *pgtype.Date { return &c.MCS150Date }),
	int8Field("mcs_150_mileage_year", "mcs_150_mileage", func(c *carrier.Carrier) *pgtype.Int8 { return &c.MCS150Mileage }),
	textField("entity_type", "entity_type", Code, func(c *carrier.Carrier) *pgtype.Text { return &c.EntityType }),
	textField("operating_status", "operating_status", Code, func(c *carrier.Carrier) *pgtype.Text { return &c.OperatingStatus }),
	dateField("out_of_service_date", "out_of_service_date", func(c *carrier.Carrier) *pgtype.Date { return &c.OutOfServiceDate }),

	int4Field("power_units", "power_units", func(c *carrier.Carrier) *pgtype.Int4 { return &c.PowerUnits }),
	int4Field("drivers", "drivers", func(c *carrier.Carrier) *pgtype.Int4 { return &c.Drivers }),
	textField("carrier_operation", "carrier_operation", Code, func(c *carrier.Carrier) *pgtype.Text { return &c.CarrierOperation }, "A", "B", "C"),

	boolField("hazmat_flag", "hazmat_flag", func(c *carrier.Carrier) *pgtype.Bool { return &c.HazmatFlag }),
	boolField("pc_flag", "hazmat_placardable", func(c *carrier.Carrier) *pgtype.Bool { return &c.HazmatPlacardable }),

	textField("safety_rating", "safety_rating", Code, func(c *carrier.Carrier) *pgtype.Text { return &c.SafetyRating }, "S", "C", "U", "N"),
	dateField("safety_rating_date", "safety_rating_date", func(c *carrier.Carrier) *pgtype.Date { return &c.SafetyRatingDate }),
	dateField("safety_review_date", "safety_review_date", func(c *carrier.Carrier) *pgtype.Date { return &c.SafetyReviewDate }),

	moneyField("liability_required_amount", "liability_insurance_amount", func(c *carrier.Carrier) *decimal.NullDecimal { return &c.LiabilityInsuranceAmount }),
	dateField("liability_insurance_on_file_date", "liability_insurance_date", func(c *carrier.Carrier) *pgtype.Date { return &c.LiabilityInsuranceDate }),
	moneyField("cargo_required_amount", "cargo_insurance_amount", func(c *carrier.Carrier) *decimal.NullDecimal { return &c.CargoInsuranceAmount }),
	dateField("cargo_insurance_on_file_date", "cargo_insurance_date", func(c *carrier.Carrier) *pgtype.Date { return &c.CargoInsuranceDate }),
	moneyField("bond_insurance_required_amount", "bond_insurance_amount", func(c *carrier.Carrier) *decimal.NullDecimal { return &c.BondInsuranceAmount }),
	dateField("bond_insurance_on_file_date", "bond_insurance_date", func(c *carrier.Carrier) *pgtype.Date { return &c.BondInsuranceDate }),
}

func textField(raw, column string, co Coercion, field func(*carrier.Carrier) *pgtype.Text, allowed ...string) FieldMapping {
	return FieldMapping{
		Raw: raw, Column: column, Coercion: co, Allowed: allowed,
		apply: func(c *carrier.Carrier, s string) { *field(c) = coerceText(co, s, allowed) },
	}
}

func int4Field(raw, column string, field func(*carrier.Carrier) *pgtype.Int4) FieldMapping {
	return FieldMapping{
		Raw: raw, Column: column, Coercion: Integer,
		apply: func(c *carrier.Carrier, s string) { *field(c) = toInt4(s) },
	}
}

func int8Field(raw, column string, field func(*carrier.Carrier) *pgtype.Int8) FieldMapping {
	return FieldMapping{
		Raw: raw, Column: column, Coercion: Integer,
		apply: func(c *carrier.Carrier, s string) { *field(c) = toInt8(s) },
	}
}

func dateField(raw, column string, field func(*carrier.Carrier) *pgtype.Date) FieldMapping {
	return FieldMapping{
		Raw: raw, Column: column, Coercion: Date,
		apply: func(c *carrier.Carrier, s string) { *field(c) = toDate(s) },
	}
}

func boolField(raw, column string, field func(*carrier.Carrier) *pgtype.Bool) FieldMapping {
	return FieldMapping{
		Raw: raw, Column: column, Coercion: Boolean,
		apply: func(c *carrier.Carrier, s string) { *field(c) = toBool(s) },
	}
}

func moneyField(raw, column string, field func(*carrier.Carrier) *decimal.NullDecimal) FieldMapping {
	return FieldMapping{
		Raw: raw, Column: column, Coercion: Decimal,
		apply: func(c *carrier.Carrier, s string) { *field(c) = toDecimal(s) },
	}
}
