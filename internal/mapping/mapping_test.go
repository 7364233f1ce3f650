package mapping

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"statement-ingestion-service/pkg/errors"
)

func intPtr(n int) *int { return &n }

func TestResolveOverrideWins(t *testing.T) {
	base := ColumnMapping{
		Date:        "Posting Date",
		Description: "Description",
		Amount:      "Amount",
		DateFormat:  "1/2/2006",
		SkipRows:    intPtr(1),
	}
	override := ColumnMapping{
		Description: "Memo",
		Delimiter:   ';',
		SkipRows:    intPtr(0),
	}

	resolved := Resolve(base, override)

	assert.Equal(t, "Posting Date", resolved.Date)
	assert.Equal(t, "Memo", resolved.Description)
	assert.Equal(t, "Amount", resolved.Amount)
	assert.Equal(t, "1/2/2006", resolved.DateFormat)
	assert.Equal(t, ';', resolved.Delimiter)
	require.NotNil(t, resolved.SkipRows)
	assert.Equal(t, 0, *resolved.SkipRows, "an explicit zero override must replace the base value")
}

func TestResolveIdempotent(t *testing.T) {
	cases := []struct {
		name     string
		base     ColumnMapping
		override ColumnMapping
	}{
		{"empty override", ColumnMapping{Date: "d", Description: "x", Amount: "a"}, ColumnMapping{}},
		{"full override", ColumnMapping{Date: "d"}, ColumnMapping{Date: "D", Description: "X", Debit: "Out", Credit: "In", Encoding: EncodingLatin1}},
		{"hints only", ColumnMapping{Amount: "a", SkipRows: intPtr(2)}, ColumnMapping{DateFormat: "2006-1-2", SkipRows: intPtr(3)}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			once := Resolve(tc.base, tc.override)
			twice := Resolve(tc.base, once)
			assert.Equal(t, once, twice)
		})
	}
}

func TestResolveAssociative(t *testing.T) {
	base := ColumnMapping{Date: "Date", Description: "Description", Amount: "Amount"}
	bank := ColumnMapping{Description: "Details", SkipRows: intPtr(2)}
	account := ColumnMapping{Amount: "Value", Delimiter: '\t'}

	left := Resolve(Resolve(base, bank), account)
	right := Resolve(base, Resolve(bank, account))
	chained := Resolve(base, bank, account)

	assert.Equal(t, left, right)
	assert.Equal(t, left, chained)
}

func TestInfer(t *testing.T) {
	tests := []struct {
		name     string
		headers  []string
		expected ColumnMapping
	}{
		{
			name:     "simple signed amount",
			headers:  []string{"Date", "Description", "Amount"},
			expected: ColumnMapping{Date: "Date", Description: "Description", Amount: "Amount"},
		},
		{
			name:     "debit and credit",
			headers:  []string{" Transaction Date ", "Memo", "Withdrawal", "Deposit", "Running Balance"},
			expected: ColumnMapping{Date: " Transaction Date ", Description: "Memo", Debit: "Withdrawal", Credit: "Deposit", Balance: "Running Balance"},
		},
		{
			name:     "amount suppresses debit and credit",
			headers:  []string{"Date", "Details", "Debit", "Credit", "Amount"},
			expected: ColumnMapping{Date: "Date", Description: "Details", Amount: "Amount"},
		},
		{
			name:     "candidate priority beats file order",
			headers:  []string{"Posting Date", "Name", "Date", "Description", "Transaction Amount"},
			expected: ColumnMapping{Date: "Date", Description: "Description", Amount: "Transaction Amount"},
		},
		{
			name:     "first header in file order for the same candidate",
			headers:  []string{"amount", "AMOUNT", "date", "memo"},
			expected: ColumnMapping{Date: "date", Description: "memo", Amount: "amount"},
		},
		{
			name:     "byte order mark on first header",
			headers:  []string{"\ufeffDate", "Description", "Amount"},
			expected: ColumnMapping{Date: "\ufeffDate", Description: "Description", Amount: "Amount"},
		},
		{
			name:     "nothing recognizable",
			headers:  []string{"Foo", "Bar"},
			expected: ColumnMapping{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Infer(tt.headers))
		})
	}
}

func TestMergeExplicitWins(t *testing.T) {
	explicit := ColumnMapping{Description: "Payee", Debit: "Paid Out"}
	inferred := Infer([]string{"Date", "Description", "Amount", "Payee", "Paid Out"})

	merged := Merge(explicit, inferred)

	assert.Equal(t, "Date", merged.Date)
	assert.Equal(t, "Payee", merged.Description)
	assert.Equal(t, "Paid Out", merged.Debit)
	assert.Empty(t, merged.Amount, "inferred amount must not be combined with an explicit debit")
}

func TestForHeaders(t *testing.T) {
	t.Run("complete mapping skips inference", func(t *testing.T) {
		m := ColumnMapping{Date: "D", Description: "X", Amount: "A"}
		got, inferred, err := ForHeaders(m, []string{"Date", "Description", "Amount"})
		require.NoError(t, err)
		assert.False(t, inferred)
		assert.Equal(t, m, got)
	})

	t.Run("gaps are filled", func(t *testing.T) {
		m := ColumnMapping{Amount: "Value", DateFormat: "2006-1-2"}
		got, inferred, err := ForHeaders(m, []string{"Date", "Description", "Value", "Amount"})
		require.NoError(t, err)
		assert.True(t, inferred)
		assert.Equal(t, "Date", got.Date)
		assert.Equal(t, "Description", got.Description)
		assert.Equal(t, "Value", got.Amount)
		assert.Equal(t, "2006-1-2", got.DateFormat)
	})

	t.Run("missing roles fail fast", func(t *testing.T) {
		_, _, err := ForHeaders(ColumnMapping{}, []string{"When", "What", "Amount"})
		require.Error(t, err)

		ingestErr, ok := errors.AsIngestError(err)
		require.True(t, ok)
		assert.Equal(t, errors.CodeMissingRole, ingestErr.Code)
		assert.Equal(t, []string{"date", "description"}, ingestErr.Context["missing_roles"])
	})

	t.Run("no amount source fails", func(t *testing.T) {
		_, _, err := ForHeaders(ColumnMapping{}, []string{"Date", "Description", "Note"})
		require.Error(t, err)
		assert.True(t, errors.HasCode(err, errors.CodeMissingRole))
		assert.Contains(t, err.Error(), "amount or debit/credit")
	})
}

func TestCandidates(t *testing.T) {
	assert.Equal(t, []string{"amount", "transaction amount"}, Candidates(RoleAmount))
	assert.Nil(t, Candidates(RoleReference))

	c := Candidates(RoleDate)
	c[0] = "mutated"
	assert.Equal(t, "date", Candidates(RoleDate)[0])
}

func TestPresets(t *testing.T) {
	chase, ok := LookupPreset(" Chase ")
	require.True(t, ok)
	assert.Equal(t, "Posting Date", chase.Mapping.Date)
	assert.NoError(t, chase.Mapping.Validate())

	_, ok = LookupPreset("unknown")
	assert.False(t, ok)

	assert.Equal(t, []string{"chase", "generic"}, PresetNames())
}
