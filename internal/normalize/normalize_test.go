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
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cardinalhq/censusrunner/internal/carrier"
)

func mustParse(t *testing.T, js string) carrier.RawRecord {
	t.Helper()
	rec, err := carrier.ParseRawRecord([]byte(js))
	require.NoError(t, err)
	return rec
}

func TestFieldsTable(t *testing.T) {
	assert.Len(t, Fields, 34)

	seenRaw := map[string]bool{}
	seenCol := map[string]bool{}
	for _, f := range Fields {
		assert.False(t, seenRaw[f.Raw], "duplicate raw field %s", f.Raw)
		assert.False(t, seenCol[f.Column], "duplicate column %s", f.Column)
		seenRaw[f.Raw] = true
		seenCol[f.Column] = true
		if f.Raw != KeyField {
			assert.NotNil(t, f.apply, f.Raw)
		}
	}
}

func TestNormalize_FullRecord(t *testing.T) {
	raw := mustParse(t, `{
		"usdot_number": "1234567",
		"legal_name": "  ACME TRUCKING LLC ",
		"dba_name": "NULL",
		"phy_street": "1 MAIN ST",
		"phy_city": "AUSTIN",
		"phy_state": "tx",
		"phy_zip": "787011234",
		"phy_country": "US",
		"mailing_state": "Texas",
		"mailing_zip": "7870",
		"telephone": "(512) 555-0100",
		"fax": "555-01",
		"email_address": "Dispatch@Acme.COM",
		"mcs_150_date": "2024-03-15T00:00:00.000",
		"mcs_150_mileage_year": "1,250,000",
		"entity_type": "carrier",
		"operating_status": "AUTHORIZED FOR HHG",
		"out_of_service_date": "13/40/2024",
		"power_units": "12",
		"drivers": "abc",
		"carrier_operation": "a",
		"hazmat_flag": "Y",
		"pc_flag": "n",
		"safety_rating": "Z",
		"safety_rating_date": "03/15/2024",
		"liability_required_amount": "$750,000.00",
		"cargo_required_amount": "N/A",
		"bond_insurance_required_amount": "lots",
		"bond_insurance_on_file_date": "20240102",
		"cargo_carried_1": "General Freight",
		"cargo_carried_2": " general   freight ",
		"cargo_carried_3": "",
		"cargo_carried_4": "Household Goods"
	}`)

	c, err := Normalize(raw)
	require.NoError(t, err)

	assert.Equal(t, int64(1234567), c.USDOTNumber)
	assert.Equal(t, "ACME TRUCKING LLC", c.LegalName.String)
	assert.False(t, c.DBAName.Valid)
	assert.Equal(t, "TX", c.PhysicalState.String)
	assert.Equal(t, "78701-1234", c.PhysicalZip.String)
	assert.False(t, c.MailingState.Valid)
	assert.False(t, c.MailingZip.Valid)
	assert.Equal(t, "(512) 555-0100", c.Telephone.String)
	assert.False(t, c.Fax.Valid)
	assert.Equal(t, "dispatch@acme.com", c.Email.String)

	require.True(t, c.MCS150Date.Valid)
	assert.Equal(t, time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC), c.MCS150Date.Time)
	assert.Equal(t, int64(1_250_000), c.MCS150Mileage.Int64)
	assert.Equal(t, "CARRIER", c.EntityType.String)
	assert.Equal(t, "AUTHORIZED FOR HHG", c.OperatingStatus.String)
	assert.False(t, c.OutOfServiceDate.Valid)

	assert.Equal(t, int32(12), c.PowerUnits.Int32)
	assert.True(t, c.PowerUnits.Valid)
	assert.False(t, c.Drivers.Valid)
	assert.Equal(t, "A", c.CarrierOperation.String)

	assert.True(t, c.HazmatFlag.Valid)
	assert.True(t, c.HazmatFlag.Bool)
	assert.True(t, c.HazmatPlacardable.Valid)
	assert.False(t, c.HazmatPlacardable.Bool)

	assert.False(t, c.SafetyRating.Valid)
	assert.Equal(t, time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC), c.SafetyRatingDate.Time)

	require.True(t, c.LiabilityInsuranceAmount.Valid)
	assert.Equal(t, "750000", c.LiabilityInsuranceAmount.Decimal.String())
	assert.False(t, c.CargoInsuranceAmount.Valid)
	assert.False(t, c.BondInsuranceAmount.Valid)
	assert.Equal(t, time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC), c.BondInsuranceDate.Time)

	assert.Equal(t, []string{"General Freight", "general freight", "Household Goods"}, c.CargoCarried)
}

func TestNormalize_InvalidDateBecomesUnknown(t *testing.T) {
	raw := carrier.RawRecord{"usdot_number": "42", "mcs_150_date": "13/40/2024"}
	c, err := Normalize(raw)
	require.NoError(t, err)
	assert.False(t, c.MCS150Date.Valid)
}

func TestNormalize_PlaceholderName(t *testing.T) {
	for _, name := range []any{nil, "", "   ", "NONE"} {
		raw := carrier.RawRecord{"usdot_number": "77", "legal_name": name}
		c, err := Normalize(raw)
		require.NoError(t, err)
		assert.Equal(t, "Unknown Carrier #77", c.LegalName.String)
	}

	c, err := Normalize(carrier.RawRecord{"usdot_number": "78"})
	require.NoError(t, err)
	assert.Equal(t, "Unknown Carrier #78", c.Name())
	assert.Nil(t, c.CargoCarried)
}

func TestNormalize_RejectsBadKey(t *testing.T) {
	tests := []struct {
		name string
		raw  carrier.RawRecord
	}{
		{"missing", carrier.RawRecord{"legal_name": "X"}},
		{"null", carrier.RawRecord{"usdot_number": nil}},
		{"empty", carrier.RawRecord{"usdot_number": ""}},
		{"placeholder", carrier.RawRecord{"usdot_number": "N/A"}},
		{"zero", carrier.RawRecord{"usdot_number": "0"}},
		{"negative", carrier.RawRecord{"usdot_number": "-5"}},
		{"fraction", carrier.RawRecord{"usdot_number": "1.5"}},
		{"text", carrier.RawRecord{"usdot_number": "abc"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Normalize(tt.raw)
			var ve *ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Equal(t, KeyField, ve.Field)
		})
	}
}

func TestNormalize_NeverFailsWithPositiveKey(t *testing.T) {
	junk := []any{"", "???", "NULL", "99999999999999999999", "-1", "1/1/1", "@", "x@y", true, nil}
	for i, v := range junk {
		raw := carrier.RawRecord{"usdot_number": fmt.Sprint(i + 1)}
		for _, f := range Fields {
			if f.Raw != KeyField {
				raw[f.Raw] = v
			}
		}
		_, err := Normalize(raw)
		assert.NoError(t, err, "value %v", v)
	}
}

func TestNormalize_RawDataRoundTrips(t *testing.T) {
	raw := mustParse(t, `{"usdot_number":"9","legal_name":"Ünïcode & <co>","power_units":12,"miles":1.50,"flag":true,"nothing":null,"extra_field":"kept"}`)

	c, err := Normalize(raw)
	require.NoError(t, err)

	back, err := carrier.ParseRawRecord(c.RawData)
	require.NoError(t, err)
	assert.Equal(t, raw, back)
}

func TestNormalize_ValuesTheStoreRejects(t *testing.T) {
	raw := carrier.RawRecord{
		"usdot_number":                   "42",
		"legal_name":                     "ACME\x00TRUCKING",
		"liability_required_amount":      "1e15",
		"cargo_required_amount":          "-5",
		"bond_insurance_required_amount": "1000000000000",
	}
	c, err := Normalize(raw)
	require.NoError(t, err)

	assert.Equal(t, "ACMETRUCKING", c.LegalName.String)
	assert.False(t, c.LiabilityInsuranceAmount.Valid)
	assert.False(t, c.CargoInsuranceAmount.Valid)
	assert.False(t, c.BondInsuranceAmount.Valid)

	back, err := carrier.ParseRawRecord(c.RawData)
	require.NoError(t, err)
	assert.Equal(t, "ACME\x00TRUCKING", back["legal_name"])
}

func TestNormalize_NumericKey(t *testing.T) {
	raw := mustParse(t, `{"usdot_number": 31337}`)
	c, err := Normalize(raw)
	require.NoError(t, err)
	assert.Equal(t, int64(31337), c.USDOTNumber)
}

func TestNormalizeAll_PreservesOrder(t *testing.T) {
	var raws []carrier.RawRecord
	for i := 1; i <= 200; i++ {
		key := fmt.Sprint(i)
		if i%50 == 0 {
			key = "bad"
		}
		raws = append(raws, carrier.RawRecord{"usdot_number": key})
	}

	results, err := NormalizeAll(t.Context(), raws, 4)
	require.NoError(t, err)
	require.Len(t, results, 200)

	rejected := 0
	for i, r := range results {
		if r.Err != nil {
			rejected++
			continue
		}
		assert.Equal(t, int64(i+1), r.Carrier.USDOTNumber)
	}
	assert.Equal(t, 4, rejected)
}

func TestNormalizeAll_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	_, err := NormalizeAll(ctx, []carrier.RawRecord{{"usdot_number": "1"}}, 2)
	assert.ErrorIs(t, err, context.Canceled)
}
