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
	"math"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"
)

// Coercion names the conversion a raw field goes through.
type Coercion int

const (
	Text Coercion = iota
	Integer
	Decimal
	Date
	Boolean
	StateCode
	PostalCode
	Phone
	Email
	Code
)

func (c Coercion) String() string {
	switch c {
	case Text:
		return "text"
	case Integer:
		return "integer"
	case Decimal:
		return "decimal"
	case Date:
		return "date"
	case Boolean:
		return "boolean"
	case StateCode:
		return "state_code"
	case PostalCode:
		return "postal_code"
	case Phone:
		return "phone"
	case Email:
		return "email"
	case Code:
		return "code"
	default:
		return "unknown"
	}
}

const (
	maxPhoneLen = 20
	maxEmailLen = 255
	moneyScale  = 2
)

// maxMoney is the largest amount a NUMERIC(14,2) column holds.
var maxMoney = decimal.RequireFromString("999999999999.99")

// DateLayouts are tried in order; the first that parses wins.
var DateLayouts = []string{
	"2006-01-02T15:04:05.000",
	"2006-01-02T15:04:05",
	"2006-01-02",
	"01/02/2006",
	"01-02-2006",
	"20060102",
}

var (
	integerRE    = regexp.MustCompile(`^[+-]?(\d+|\d{1,3}(,\d{3})+)$`)
	stateCodeRE  = regexp.MustCompile(`^[A-Z]{2}$`)
	postalCodeRE = regexp.MustCompile(`^\d{5}(-\d{4})?$`)
	codeRE       = regexp.MustCompile(`^[A-Z0-9][A-Z0-9 &/_-]{0,39}$`)

	trueValues  = []string{"Y", "YES", "TRUE", "1", "T", "X"}
	falseValues = []string{"N", "NO", "FALSE", "0", "F"}
)

// clean trims s and reports false for null-like placeholders. NUL bytes
// and invalid UTF-8 are dropped; Postgres text refuses both.
func clean(s string) (string, bool) {
	s = strings.ToValidUTF8(strings.ReplaceAll(s, "\x00", ""), "")
	s = strings.TrimSpace(s)
	if s == "" {
		return "", false
	}
	switch strings.ToUpper(s) {
	case "NULL", "NONE", "N/A":
		return "", false
	}
	return s, true
}

func parseInteger(s string, bits int) (int64, bool) {
	s, ok := clean(s)
	if !ok || !integerRE.MatchString(s) {
		return 0, false
	}
	n, err := strconv.ParseInt(strings.ReplaceAll(s, ",", ""), 10, bits)
	if err != nil {
		return 0, false
	}
	return n, true
}

func toText(s string) pgtype.Text {
	s, ok := clean(s)
	if !ok {
		return pgtype.Text{}
	}
	return pgtype.Text{String: s, Valid: true}
}

func toInt4(s string) pgtype.Int4 {
	n, ok := parseInteger(s, 32)
	if !ok || n > math.MaxInt32 || n < math.MinInt32 {
		return pgtype.Int4{}
	}
	return pgtype.Int4{Int32: int32(n), Valid: true}
}

func toInt8(s string) pgtype.Int8 {
	n, ok := parseInteger(s, 64)
	if !ok {
		return pgtype.Int8{}
	}
	return pgtype.Int8{Int64: n, Valid: true}
}

func toDecimal(s string) decimal.NullDecimal {
	s, ok := clean(s)
	if !ok {
		return decimal.NullDecimal{}
	}
	s = strings.NewReplacer("$", "", ",", "").Replace(s)
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return decimal.NullDecimal{}
	}
	d = d.Round(moneyScale)
	if d.IsNegative() || d.GreaterThan(maxMoney) {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: d, Valid: true}
}

func toDate(s string) pgtype.Date {
	s, ok := clean(s)
	if !ok {
		return pgtype.Date{}
	}
	for _, layout := range DateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return pgtype.Date{Time: t, Valid: true}
		}
	}
	return pgtype.Date{}
}

func toBool(s string) pgtype.Bool {
	s, ok := clean(s)
	if !ok {
		return pgtype.Bool{}
	}
	s = strings.ToUpper(s)
	switch {
	case slices.Contains(trueValues, s):
		return pgtype.Bool{Bool: true, Valid: true}
	case slices.Contains(falseValues, s):
		return pgtype.Bool{Bool: false, Valid: true}
	}
	return pgtype.Bool{}
}

func toStateCode(s string) pgtype.Text {
	s, ok := clean(s)
	if !ok {
		return pgtype.Text{}
	}
	s = strings.ToUpper(s)
	if !stateCodeRE.MatchString(s) {
		return pgtype.Text{}
	}
	return pgtype.Text{String: s, Valid: true}
}

func toPostalCode(s string) pgtype.Text {
	s, ok := clean(s)
	if !ok {
		return pgtype.Text{}
	}
	s = strings.Map(func(r rune) rune {
		if (r >= '0' && r <= '9') || r == '-' {
			return r
		}
		return -1
	}, s)
	if len(s) == 9 && !strings.Contains(s, "-") {
		s = s[:5] + "-" + s[5:]
	}
	if !postalCodeRE.MatchString(s) {
		return pgtype.Text{}
	}
	return pgtype.Text{String: s, Valid: true}
}

func toPhone(s string) pgtype.Text {
	s, ok := clean(s)
	if !ok {
		return pgtype.Text{}
	}
	digits := 0
	s = strings.Map(func(r rune) rune {
		switch {
		case r >= '0' && r <= '9':
			digits++
			return r
		case r == ' ', r == '-', r == '(', r == ')', r == '+':
			return r
		}
		return -1
	}, s)
	if digits < 10 {
		return pgtype.Text{}
	}
	s = strings.TrimSpace(s)
	if len(s) > maxPhoneLen {
		s = strings.TrimSpace(s[:maxPhoneLen])
	}
	return pgtype.Text{String: s, Valid: true}
}

func toEmail(s string) pgtype.Text {
	s, ok := clean(s)
	if !ok {
		return pgtype.Text{}
	}
	s = strings.ToLower(s)
	at := strings.Index(s, "@")
	if at <= 0 || !strings.Contains(s[at+1:], ".") {
		return pgtype.Text{}
	}
	if len(s) > maxEmailLen {
		s = s[:maxEmailLen]
	}
	return pgtype.Text{String: s, Valid: true}
}

func toCode(s string, allowed []string) pgtype.Text {
	s, ok := clean(s)
	if !ok {
		return pgtype.Text{}
	}
	s = strings.ToUpper(s)
	if !codeRE.MatchString(s) {
		return pgtype.Text{}
	}
	if len(allowed) > 0 && !slices.Contains(allowed, s) {
		return pgtype.Text{}
	}
	return pgtype.Text{String: s, Valid: true}
}

// coerceText applies one of the text-shaped coercions.
func coerceText(c Coercion, s string, allowed []string) pgtype.Text {
	switch c {
	case StateCode:
		return toStateCode(s)
	case PostalCode:
		return toPostalCode(s)
	case Phone:
		return toPhone(s)
	case Email:
		return toEmail(s)
	case Code:
		return toCode(s, allowed)
	default:
		return toText(s)
	}
}
