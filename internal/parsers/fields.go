package parsers

import (
	"strings"
	"time"
	"unicode"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"

	"statement-ingestion-service/internal/mapping"
)

// DateLayouts are tried in order when no explicit date format is configured.
// Month-first layouts come before day-first ones, so "01/02/2024" is
// January 2nd. The order is relied on by stored data and must not change.
var DateLayouts = []string{
	"1/2/2006", // month/day/4-digit year
	"1/2/06",   // month/day/2-digit year
	"2006-1-2", // ISO year-month-day
	"2-1-2006", // day-month-year, hyphenated
	"2/1/2006", // day/month/year, slashed
}

// ParseAmount parses a money field. "$" signs, thousands separators and
// whitespace are removed, and a value wrapped in parentheses is negated.
// Blank, malformed or exponent input reports false; it is never read as
// zero.
func ParseAmount(raw string) (decimal.Decimal, bool) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return decimal.Zero, false
	}

	negative := false
	if len(s) >= 2 && s[0] == '(' && s[len(s)-1] == ')' {
		negative = true
		s = strings.TrimSpace(s[1 : len(s)-1])
	}

	s = strings.Map(func(r rune) rune {
		if r == '$' || r == ',' || unicode.IsSpace(r) {
			return -1
		}
		return r
	}, s)
	// Exponent notation is not a money format and can expand to an
	// arbitrarily long number.
	if s == "" || strings.ContainsAny(s, "eE") {
		return decimal.Zero, false
	}

	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, false
	}
	if negative {
		d = d.Neg()
	}
	return d, true
}

// ParseDate parses a calendar date. With an explicit layout exactly one
// strict attempt is made; otherwise DateLayouts are tried in order and the
// first match wins.
func ParseDate(raw string, layout string) (civil.Date, bool) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return civil.Date{}, false
	}

	if layout != "" {
		t, err := time.Parse(layout, s)
		if err != nil {
			return civil.Date{}, false
		}
		return civil.DateOf(t), true
	}

	for _, l := range DateLayouts {
		if t, err := time.Parse(l, s); err == nil {
			return civil.DateOf(t), true
		}
	}
	return civil.Date{}, false
}

// DebitCreditAmount signs a debit/credit pair. A non-zero debit is an
// outflow, otherwise a non-zero credit is an inflow. Zero counts as absent,
// so a row with only zeros has no amount.
func DebitCreditAmount(debitRaw, creditRaw string) (decimal.Decimal, bool) {
	if debit, ok := ParseAmount(debitRaw); ok && !debit.IsZero() {
		return debit.Abs().Neg(), true
	}
	if credit, ok := ParseAmount(creditRaw); ok && !credit.IsZero() {
		return credit.Abs(), true
	}
	return decimal.Zero, false
}

// ResolveRowAmount computes the signed amount of a row. A mapped amount
// column is used as-is and takes precedence over debit/credit columns.
func ResolveRowAmount(row RawRow, m mapping.ColumnMapping) (decimal.Decimal, bool) {
	if m.Amount != "" {
		return ParseAmount(row.Get(m.Amount))
	}

	var debitRaw, creditRaw string
	if m.Debit != "" {
		debitRaw = row.Get(m.Debit)
	}
	if m.Credit != "" {
		creditRaw = row.Get(m.Credit)
	}
	return DebitCreditAmount(debitRaw, creditRaw)
}
