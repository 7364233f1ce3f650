package parsers

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
	"golang.org/x/text/encoding/charmap"

	"statement-ingestion-service/internal/mapping"
	"statement-ingestion-service/internal/models"
	"statement-ingestion-service/pkg/errors"
)

func readAll(t *testing.T, src RowSource) []RawRow {
	t.Helper()
	var rows []RawRow
	for {
		row, err := src.Next(context.Background())
		if err == io.EOF {
			return rows
		}
		require.NoError(t, err)
		rows = append(rows, row)
	}
}

func TestCSVSourceBasic(t *testing.T) {
	input := "Date,Description,Amount\n01/15/2024,Coffee Shop,-4.50\n01/16/2024,Paycheck,2000.00\n"

	src, err := NewCSVSource(strings.NewReader(input), DefaultSourceConfig())
	require.NoError(t, err)
	defer src.Close()

	assert.Equal(t, []string{"Date", "Description", "Amount"}, src.Header().Names())

	rows := readAll(t, src)
	require.Len(t, rows, 2)
	assert.Equal(t, "Coffee Shop", rows[0].Get("Description"))
	assert.Equal(t, "-4.50", rows[0].Get("amount"), "lookup falls back to case-insensitive match")
	assert.Equal(t, 2, rows[0].Line)
	assert.Equal(t, 3, rows[1].Line)
}

func TestCSVSourceByteOrderMark(t *testing.T) {
	input := "\xef\xbb\xbfDate,Description,Amount\n2024-01-15,Coffee,-4.50\n"

	src, err := NewCSVSource(strings.NewReader(input), DefaultSourceConfig())
	require.NoError(t, err)

	assert.Equal(t, "Date", src.Header().Names()[0])
	rows := readAll(t, src)
	require.Len(t, rows, 1)
	assert.Equal(t, "2024-01-15", rows[0].Get("Date"))
}

func TestCSVSourceSkipRowsAndDelimiter(t *testing.T) {
	input := "Account: 1234\nExported 2024-02-01\nDate;Memo;Amount\n01/15/2024;\"Store; Main St\";-10,00\n"

	cfg := DefaultSourceConfig()
	cfg.SkipRows = 2
	cfg.Delimiter = ';'

	src, err := NewCSVSource(strings.NewReader(input), cfg)
	require.NoError(t, err)

	assert.Equal(t, []string{"Date", "Memo", "Amount"}, src.Header().Names())
	rows := readAll(t, src)
	require.Len(t, rows, 1)
	assert.Equal(t, "Store; Main St", rows[0].Get("Memo"))
	assert.Equal(t, 4, rows[0].Line)
}

func TestCSVSourceSkipsBlankRecords(t *testing.T) {
	input := "Date,Description,Amount\n\n,,\n01/15/2024,Coffee,-4.50\n , , \n"

	src, err := NewCSVSource(strings.NewReader(input), DefaultSourceConfig())
	require.NoError(t, err)

	rows := readAll(t, src)
	require.Len(t, rows, 1)
	assert.Equal(t, "Coffee", rows[0].Get("Description"))
}

func TestCSVSourceShortRows(t *testing.T) {
	input := "Date,Description,Debit,Credit\n02/01/2024,Rent,1200.00\n"

	src, err := NewCSVSource(strings.NewReader(input), DefaultSourceConfig())
	require.NoError(t, err)

	rows := readAll(t, src)
	require.Len(t, rows, 1)
	assert.Equal(t, "", rows[0].Get("Credit"))

	fields := rows[0].Fields()
	require.Len(t, fields, 4)
	assert.Equal(t, Field{Name: "Credit", Value: ""}, fields[3])
}

func TestCSVSourceNoHeader(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		skipRows int
	}{
		{"empty", "", 0},
		{"blank lines", "\n\n", 0},
		{"all skipped", "preamble\n", 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultSourceConfig()
			cfg.SkipRows = tt.skipRows
			_, err := NewCSVSource(strings.NewReader(tt.input), cfg)
			require.Error(t, err)
			assert.True(t, errors.HasCode(err, errors.CodeNoHeader), "got %v", err)
		})
	}
}

func TestCSVSourceEncoding(t *testing.T) {
	latin1, err := charmap.ISO8859_1.NewEncoder().String("Date,Description,Amount\n01/15/2024,Café Crème,-4.50\n")
	require.NoError(t, err)

	t.Run("invalid utf-8 without hint", func(t *testing.T) {
		src, err := NewCSVSource(strings.NewReader(latin1), DefaultSourceConfig())
		require.NoError(t, err)

		_, err = src.Next(context.Background())
		require.Error(t, err)
		assert.True(t, errors.HasCode(err, errors.CodeEncodingError))
	})

	t.Run("latin-1 hint", func(t *testing.T) {
		cfg := DefaultSourceConfig()
		cfg.Encoding = mapping.EncodingLatin1

		src, err := NewCSVSource(strings.NewReader(latin1), cfg)
		require.NoError(t, err)

		rows := readAll(t, src)
		require.Len(t, rows, 1)
		assert.Equal(t, "Café Crème", rows[0].Get("Description"))
	})
}

func TestCSVSourceCancelled(t *testing.T) {
	src, err := NewCSVSource(strings.NewReader("Date,Description,Amount\n01/15/2024,A,1\n"), DefaultSourceConfig())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = src.Next(ctx)
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.CodeUnexpectedError))
}

func TestHeaderDuplicates(t *testing.T) {
	h := NewHeader([]string{"Amount", "amount", "Amount"})
	assert.Equal(t, 0, h.Index("Amount"))
	assert.Equal(t, 1, h.Index("amount"))
	assert.Equal(t, 0, h.Index(" AMOUNT "))
	assert.Equal(t, -1, h.Index("Balance"))
	assert.False(t, h.Has("Balance"))
}

func buildWorkbook(t *testing.T, rows [][]interface{}) *bytes.Buffer {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()

	sheet := f.GetSheetName(0)
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		require.NoError(t, err)
		require.NoError(t, f.SetSheetRow(sheet, cell, &row))
	}

	buf, err := f.WriteToBuffer()
	require.NoError(t, err)
	return buf
}

func TestXLSXSource(t *testing.T) {
	buf := buildWorkbook(t, [][]interface{}{
		{"Bank export"},
		{"Date", "Description", "Amount"},
		{"01/15/2024", "Coffee Shop", "-4.50"},
		{},
		{"01/16/2024", "Paycheck", "2000.00"},
	})

	cfg := DefaultSourceConfig()
	cfg.SkipRows = 1

	src, err := Open(models.SourceXLSX, buf, cfg)
	require.NoError(t, err)
	defer src.Close()

	assert.Equal(t, []string{"Date", "Description", "Amount"}, src.Header().Names())

	rows := readAll(t, src)
	require.Len(t, rows, 2)
	assert.Equal(t, "Coffee Shop", rows[0].Get("Description"))
	assert.Equal(t, "2000.00", rows[1].Get("Amount"))
}

func TestXLSXSourceCorrupt(t *testing.T) {
	_, err := Open(models.SourceXLSX, strings.NewReader("not a workbook"), DefaultSourceConfig())
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.CodeFileCorrupted))
}

func TestOpenRejectsPDF(t *testing.T) {
	_, err := Open(models.SourcePDF, strings.NewReader("%PDF-1.4"), DefaultSourceConfig())
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.CodeUnsupportedFile))
}
