// Package parsers reads statement files into raw rows and converts raw
// textual fields into typed values.
//
// Row sources:
//   - CSVSource: delimited text, BOM tolerant, with optional Latin-1 or
//     Windows-1252 decoding
//   - XLSXSource: the first worksheet of an Excel workbook
//
// Both skip the configured number of leading rows, treat the next row as the
// header, and then yield data rows in file order as RawRow values.
package parsers

import (
	"context"
	"fmt"
	"io"
	"strings"

	"statement-ingestion-service/internal/models"
	"statement-ingestion-service/pkg/errors"
)

// SourceConfig holds the parse hints a row source needs
type SourceConfig struct {
	Name          string
	Delimiter     rune
	SkipRows      int
	Encoding      string
	SkipEmptyRows bool
}

// DefaultSourceConfig returns a configuration with sensible defaults
func DefaultSourceConfig() SourceConfig {
	return SourceConfig{
		Delimiter:     ',',
		SkipEmptyRows: true,
	}
}

// Validate checks the source configuration
func (c SourceConfig) Validate() error {
	if c.SkipRows < 0 {
		return errors.ConfigurationError(errors.CodeInvalidMapping, "skip_rows", c.SkipRows,
			fmt.Errorf("skip_rows must not be negative"))
	}
	if c.Delimiter == '"' || c.Delimiter == '\n' || c.Delimiter == '\r' {
		return errors.ConfigurationError(errors.CodeInvalidMapping, "delimiter", string(c.Delimiter), nil)
	}
	return nil
}

// RowSource yields the header and data rows of one statement file.
// Next returns io.EOF after the last row.
type RowSource interface {
	Header() *Header
	Next(ctx context.Context) (RawRow, error)
	Close() error
}

// Open creates the row source for a classified statement file
func Open(sourceType models.SourceType, r io.Reader, cfg SourceConfig) (RowSource, error) {
	switch sourceType {
	case models.SourceCSV:
		return NewCSVSource(r, cfg)
	case models.SourceXLSX:
		return NewXLSXSource(r, cfg)
	default:
		return nil, errors.FileError(errors.CodeUnsupportedFile, cfg.Name,
			fmt.Errorf("%s statements are not parsed", sourceType))
	}
}

// Header is the cleaned header row of a statement file
type Header struct {
	names  []string
	exact  map[string]int
	folded map[string]int
}

// NewHeader indexes header names. When a name repeats, the first column
// with that name wins.
func NewHeader(names []string) *Header {
	h := &Header{
		names:  names,
		exact:  make(map[string]int, len(names)),
		folded: make(map[string]int, len(names)),
	}
	for i, name := range names {
		if _, ok := h.exact[name]; !ok {
			h.exact[name] = i
		}
		key := foldHeader(name)
		if _, ok := h.folded[key]; !ok {
			h.folded[key] = i
		}
	}
	return h
}

// Names returns the header names in file order
func (h *Header) Names() []string {
	return append([]string(nil), h.names...)
}

// Index returns the position of a column, trying an exact match before a
// case-insensitive one, or -1 if absent
func (h *Header) Index(name string) int {
	if i, ok := h.exact[name]; ok {
		return i
	}
	if i, ok := h.folded[foldHeader(name)]; ok {
		return i
	}
	return -1
}

// Has reports whether a column is present
func (h *Header) Has(name string) bool {
	return h.Index(name) >= 0
}

func foldHeader(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// RawRow is one data line of a statement, keyed by header name
type RawRow struct {
	Line   int
	header *Header
	Values []string
}

// NewRawRow binds values to a header
func NewRawRow(header *Header, line int, values []string) RawRow {
	return RawRow{Line: line, header: header, Values: values}
}

// Get returns the raw value of a column, or "" when the column is absent
// or the row is shorter than the header
func (r RawRow) Get(column string) string {
	if r.header == nil {
		return ""
	}
	i := r.header.Index(column)
	if i < 0 || i >= len(r.Values) {
		return ""
	}
	return r.Values[i]
}

// Field is a single named value of a row
type Field struct {
	Name  string
	Value string
}

// Fields returns the row as name/value pairs in header order
func (r RawRow) Fields() []Field {
	if r.header == nil {
		return nil
	}
	fields := make([]Field, len(r.header.names))
	for i, name := range r.header.names {
		fields[i] = Field{Name: name}
		if i < len(r.Values) {
			fields[i].Value = r.Values[i]
		}
	}
	return fields
}

// IsBlank reports whether every value is empty or whitespace
func (r RawRow) IsBlank() bool {
	return isEmptyRecord(r.Values)
}

func isEmptyRecord(record []string) bool {
	for _, field := range record {
		if strings.TrimSpace(field) != "" {
			return false
		}
	}
	return true
}

func cleanHeaders(headers []string) []string {
	cleaned := make([]string, len(headers))
	for i, header := range headers {
		cleaned[i] = strings.TrimSpace(strings.TrimPrefix(header, "\ufeff"))
	}
	return cleaned
}

func cancelled(ctx context.Context) error {
	if ctx == nil {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return errors.InternalError(errors.CodeUnexpectedError, "statement parsing", err).
			WithSuggestion("the import was cancelled; upload the statement again")
	}
	return nil
}
