package mapping

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"statement-ingestion-service/pkg/errors"
)

func TestDecode(t *testing.T) {
	tests := []struct {
		name     string
		doc      string
		expected ColumnMapping
	}{
		{
			name:     "empty document",
			doc:      "",
			expected: ColumnMapping{},
		},
		{
			name: "json with legacy keys",
			doc:  `{"date_column": "Posting Date", "description_column": "Description", "amount_column": "Amount", "date_format": "%m/%d/%Y", "delimiter": ",", "skip_rows": 0}`,
			expected: ColumnMapping{
				Date:        "Posting Date",
				Description: "Description",
				Amount:      "Amount",
				DateFormat:  "1/2/2006",
				Delimiter:   ',',
				SkipRows:    intPtr(0),
			},
		},
		{
			name:     "nulls mean unset",
			doc:      `{"amount": null, "debit": "Out", "credit": "In", "date_format": null, "skip_rows": null}`,
			expected: ColumnMapping{Debit: "Out", Credit: "In"},
		},
		{
			name:     "yaml with numeric string and tab",
			doc:      "date: Date\nskip_rows: \"3\"\ndelimiter: \"\\t\"\nencoding: CP1252\n",
			expected: ColumnMapping{Date: "Date", SkipRows: intPtr(3), Delimiter: '\t', Encoding: EncodingWindows1252},
		},
		{
			name:     "leading zeros are decimal",
			doc:      `{"skip_rows": "08"}`,
			expected: ColumnMapping{SkipRows: intPtr(8)},
		},
		{
			name:     "go layout kept as is",
			doc:      `{"date_format": "02.01.2006"}`,
			expected: ColumnMapping{DateFormat: "02.01.2006"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := Decode([]byte(tt.doc))
			require.NoError(t, err)
			assert.Equal(t, tt.expected, m)
		})
	}
}

func TestIntValue(t *testing.T) {
	tests := []struct {
		value    interface{}
		expected int
	}{
		{"010", 10},
		{" 08 ", 8},
		{"3", 3},
		{7, 7},
		{int64(2), 2},
		{float64(5), 5},
	}

	for _, tt := range tests {
		got, err := IntValue(tt.value)
		require.NoError(t, err, "value %#v", tt.value)
		assert.Equal(t, tt.expected, got, "value %#v", tt.value)
	}

	_, err := IntValue("0x10")
	assert.Error(t, err)
}

func TestDecodeRejects(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		code errors.ErrorCode
	}{
		{"unknown key", `{"payee": "Name"}`, errors.CodeUnknownRole},
		{"role set twice", `{"date": "A", "date_column": "B"}`, errors.CodeInvalidMapping},
		{"multi character delimiter", `{"delimiter": ";;"}`, errors.CodeInvalidMapping},
		{"quote delimiter", `{"delimiter": "\""}`, errors.CodeInvalidMapping},
		{"negative skip rows", `{"skip_rows": -1}`, errors.CodeInvalidMapping},
		{"non numeric skip rows", `{"skip_rows": "two"}`, errors.CodeInvalidMapping},
		{"unsupported directive", `{"date_format": "%j/%Y"}`, errors.CodeInvalidMapping},
		{"unknown encoding", `{"encoding": "utf-16"}`, errors.CodeInvalidMapping},
		{"nested value", `{"date": {"column": "Date"}}`, errors.CodeInvalidMapping},
		{"not a document", `[1, 2]`, errors.CodeInvalidMapping},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode([]byte(tt.doc))
			require.Error(t, err)
			assert.True(t, errors.HasCode(err, tt.code), "expected %s, got %v", tt.code, err)
		})
	}
}

func TestToLayout(t *testing.T) {
	tests := []struct {
		format   string
		expected string
		wantErr  bool
	}{
		{"%m/%d/%Y", "1/2/2006", false},
		{"%m/%d/%y", "1/2/06", false},
		{"%Y-%m-%d", "2006-1-2", false},
		{"%d-%m-%Y", "2-1-2006", false},
		{"%d %b %Y", "2 Jan 2006", false},
		{"100%% %Y", "100% 2006", false},
		{"2006-01-02", "2006-01-02", false},
		{"%Y-%", "", true},
		{"%U", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.format, func(t *testing.T) {
			got, err := ToLayout(tt.format)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestEncode(t *testing.T) {
	data, err := Encode(ColumnMapping{Date: "Date", Description: "Memo", Amount: "Amount"})
	require.NoError(t, err)

	var doc map[string]interface{}
	require.NoError(t, yaml.Unmarshal(data, &doc))
	assert.Equal(t, "Date", doc["date"])
	assert.Equal(t, ",", doc["delimiter"])
	assert.Equal(t, 0, doc["skip_rows"])
	assert.Nil(t, doc["debit"])

	back, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, "Memo", back.Description)
	assert.Equal(t, ',', back.Delimiter)
}
