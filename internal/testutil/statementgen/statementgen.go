// Package statementgen generates synthetic bank statement exports for tests.
package statementgen

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"math/rand"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/text/encoding/charmap"
)

// Format selects the layout of a generated export
type Format string

const (
	// FormatChase matches the chase mapping preset
	FormatChase Format = "chase"
	// FormatDebitCredit has separate unsigned debit and credit columns with
	// headers the mapping inference recognizes
	FormatDebitCredit Format = "debitcredit"
	// FormatEuro is semicolon separated, Latin-1 encoded, with day-first
	// dates and two preamble lines
	FormatEuro Format = "euro"
)

// EuroPreamble is the number of lines above the header in FormatEuro
const EuroPreamble = 2

// StatementGenerator generates bank statement exports
type StatementGenerator struct {
	Count     int
	StartDate time.Time
	EndDate   time.Time
	MinAmount decimal.Decimal
	MaxAmount decimal.Decimal
	Format    Format
	Seed      int64

	// InvalidRatio is the share of rows written with an unparseable amount
	InvalidRatio float64
}

// Row is one generated statement line
type Row struct {
	Date        time.Time
	Description string
	Amount      decimal.Decimal
	Balance     decimal.Decimal
	Invalid     bool
}

// Result holds a generated export and what an importer should make of it
type Result struct {
	Data    []byte
	Rows    []Row
	Valid   int
	Invalid int
}

// New creates a generator with defaults for a year of statement activity
func New(format Format, count int, seed int64) *StatementGenerator {
	return &StatementGenerator{
		Count:     count,
		StartDate: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		EndDate:   time.Date(2024, 12, 31, 0, 0, 0, 0, time.UTC),
		MinAmount: decimal.NewFromFloat(0.01),
		MaxAmount: decimal.NewFromInt(5000),
		Format:    format,
		Seed:      seed,
	}
}

// Generate creates the rows and renders them in the configured format
func (sg *StatementGenerator) Generate() (*Result, error) {
	rows := sg.GenerateRows()
	data, err := sg.Render(rows)
	if err != nil {
		return nil, err
	}

	result := &Result{Data: data, Rows: rows}
	for _, r := range rows {
		if r.Invalid {
			result.Invalid++
		} else {
			result.Valid++
		}
	}
	return result, nil
}

// GenerateRows creates random statement rows in date order
func (sg *StatementGenerator) GenerateRows() []Row {
	rng := rand.New(rand.NewSource(sg.Seed))
	rows := make([]Row, sg.Count)

	days := int(sg.EndDate.Sub(sg.StartDate).Hours()/24) + 1
	step := 1
	if sg.Count > 0 && days > sg.Count {
		step = days / sg.Count
	}
	amountRange := sg.MaxAmount.Sub(sg.MinAmount)
	balance := decimal.NewFromInt(10000)

	for i := range rows {
		amount := decimal.NewFromFloat(rng.Float64()).Mul(amountRange).Add(sg.MinAmount).Round(2)
		if amount.IsZero() {
			amount = sg.MinAmount
		}
		// 60% outflows
		if rng.Float64() < 0.6 {
			amount = amount.Neg()
		}
		balance = balance.Add(amount)

		rows[i] = Row{
			Date:        sg.StartDate.AddDate(0, 0, (i*step)%days),
			Description: description(rng, amount),
			Amount:      amount,
			Balance:     balance,
			Invalid:     rng.Float64() < sg.InvalidRatio,
		}
	}
	return rows
}

func description(rng *rand.Rand, amount decimal.Decimal) string {
	if amount.IsPositive() {
		credits := []string{
			"Deposit", "Transfer In", "Direct Deposit", "Check Deposit",
			"Payroll", "Interest", "Refund", "Cashback", "Dividend",
		}
		return credits[rng.Intn(len(credits))]
	}
	debits := []string{
		"Withdrawal", "Transfer Out", "ATM Withdrawal", "Café Müller",
		"Online Payment", "Bill Payment", "Purchase", "Service Charge",
		"Maintenance Fee", "Auto Payment",
	}
	return debits[rng.Intn(len(debits))]
}

// Render writes rows as an export in the configured format
func (sg *StatementGenerator) Render(rows []Row) ([]byte, error) {
	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)

	switch sg.Format {
	case FormatChase:
		writer.Write([]string{"Details", "Posting Date", "Description", "Amount", "Type", "Balance", "Check or Slip #"})
		for i, r := range rows {
			kind := "DEBIT"
			if r.Amount.IsPositive() {
				kind = "CREDIT"
			}
			amount := r.Amount.StringFixed(2)
			if r.Invalid {
				amount = "n/a"
			}
			writer.Write([]string{
				kind,
				r.Date.Format("01/02/2006"),
				r.Description,
				amount,
				"ACH",
				r.Balance.StringFixed(2),
				fmt.Sprintf("%d", 1000+i),
			})
		}

	case FormatDebitCredit:
		writer.Write([]string{"Transaction Date", "Memo", "Withdrawal", "Deposit", "Running Balance"})
		for _, r := range rows {
			debit, credit := "", ""
			if r.Amount.IsNegative() {
				debit = "$" + r.Amount.Abs().StringFixed(2)
			} else {
				credit = "$" + r.Amount.StringFixed(2)
			}
			if r.Invalid {
				debit, credit = "pending", ""
			}
			writer.Write([]string{r.Date.Format("2006-01-02"), r.Description, debit, credit, r.Balance.StringFixed(2)})
		}

	case FormatEuro:
		writer.Comma = ';'
		buf.WriteString("Kontoauszug\n")
		buf.WriteString("Zeitraum: " + sg.StartDate.Format("02.01.2006") + " - " + sg.EndDate.Format("02.01.2006") + "\n")
		writer.Write([]string{"Buchungstag", "Verwendungszweck", "Betrag"})
		for _, r := range rows {
			amount := r.Amount.StringFixed(2)
			if r.Invalid {
				amount = "offen"
			}
			writer.Write([]string{r.Date.Format("02.01.2006"), r.Description, amount})
		}

	default:
		return nil, fmt.Errorf("unsupported format: %s", sg.Format)
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, err
	}

	if sg.Format == FormatEuro {
		return charmap.ISO8859_1.NewEncoder().Bytes(buf.Bytes())
	}
	return buf.Bytes(), nil
}
