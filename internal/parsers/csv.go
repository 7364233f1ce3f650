package parsers

import (
	"bufio"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"statement-ingestion-service/internal/mapping"
	"statement-ingestion-service/pkg/errors"
	"statement-ingestion-service/pkg/logger"
)

// CSVSource reads delimited statement text
type CSVSource struct {
	config  SourceConfig
	reader  *csv.Reader
	header  *Header
	skipped int
	logger  logger.Logger
}

// NewCSVSource decodes r, skips the configured leading lines and reads the
// header row
func NewCSVSource(r io.Reader, cfg SourceConfig) (*CSVSource, error) {
	if cfg.Delimiter == 0 {
		cfg.Delimiter = mapping.DefaultDelimiter
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	log := logger.GetGlobalLogger().WithComponent("csv_source")
	log.WithFields(logger.Fields{
		"file":      cfg.Name,
		"delimiter": string(cfg.Delimiter),
		"skip_rows": cfg.SkipRows,
		"encoding":  cfg.Encoding,
	}).Debug("Opening CSV statement")

	buffered := bufio.NewReader(decodingReader(r, cfg.Encoding))
	skipped, err := skipLines(buffered, cfg.SkipRows)
	if err != nil {
		return nil, errors.FileError(errors.CodeFileCorrupted, cfg.Name, err)
	}

	reader := csv.NewReader(buffered)
	reader.Comma = cfg.Delimiter
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true
	reader.ReuseRecord = false

	s := &CSVSource{
		config:  cfg,
		reader:  reader,
		skipped: skipped,
		logger:  log,
	}
	if err := s.readHeader(); err != nil {
		return nil, err
	}
	return s, nil
}

// Header returns the cleaned header row
func (s *CSVSource) Header() *Header {
	return s.header
}

// Next returns the next non-blank data row
func (s *CSVSource) Next(ctx context.Context) (RawRow, error) {
	for {
		if err := cancelled(ctx); err != nil {
			return RawRow{}, err
		}

		record, err := s.reader.Read()
		if err == io.EOF {
			return RawRow{}, io.EOF
		}
		line := s.line()
		if err != nil {
			s.logger.WithError(err).WithField("line_number", line).Warn("Failed to read CSV record")
			return RawRow{}, s.readError(err, line)
		}

		if err := validUTF8(record, line); err != nil {
			return RawRow{}, err
		}

		if s.config.SkipEmptyRows && isEmptyRecord(record) {
			s.logger.WithField("line_number", line).Debug("Skipping empty record")
			continue
		}

		return NewRawRow(s.header, line, record), nil
	}
}

// Close is a no-op; the caller owns the underlying reader
func (s *CSVSource) Close() error {
	return nil
}

func (s *CSVSource) readHeader() error {
	for {
		record, err := s.reader.Read()
		if err == io.EOF {
			s.logger.WithField("file", s.config.Name).Warn("Statement has no header row")
			return errors.ParseError(errors.CodeNoHeader, s.skipped+1, "", "", nil).
				WithContext("file", s.config.Name)
		}
		line := s.line()
		if err != nil {
			return s.readError(err, line)
		}
		if err := validUTF8(record, line); err != nil {
			return err
		}
		if isEmptyRecord(record) {
			continue
		}

		s.header = NewHeader(cleanHeaders(record))
		s.logger.WithField("headers", s.header.Names()).Debug("Read statement headers")
		return nil
	}
}

// line is the physical line of the record just read, counting skipped lines
func (s *CSVSource) line() int {
	line, _ := s.reader.FieldPos(0)
	return line + s.skipped
}

func (s *CSVSource) readError(err error, line int) error {
	if parseErr, ok := err.(*csv.ParseError); ok {
		line = parseErr.StartLine + s.skipped
	}
	return errors.ParseError(errors.CodeInvalidData, line, "", "", err).
		WithContext("file", s.config.Name).
		WithSuggestion("check the delimiter setting and that quoted fields are closed")
}

// decodingReader converts the statement bytes to UTF-8. Without a hint a
// leading byte order mark is honored and dropped, and other bytes pass
// through unchanged to be validated as UTF-8.
func decodingReader(r io.Reader, encoding string) io.Reader {
	switch encoding {
	case mapping.EncodingLatin1:
		return transform.NewReader(r, charmap.ISO8859_1.NewDecoder())
	case mapping.EncodingWindows1252:
		return transform.NewReader(r, charmap.Windows1252.NewDecoder())
	default:
		return transform.NewReader(r, unicode.BOMOverride(transform.Nop))
	}
}

// skipLines discards n physical lines and returns how many were present
func skipLines(r *bufio.Reader, n int) (int, error) {
	for i := 0; i < n; i++ {
		if partial, err := r.ReadString('\n'); err != nil {
			if err == io.EOF {
				if partial != "" {
					return i + 1, nil
				}
				return i, nil
			}
			return i, err
		}
	}
	return n, nil
}

func validUTF8(record []string, line int) error {
	for i, field := range record {
		if !utf8.ValidString(field) {
			return errors.ParseError(errors.CodeEncodingError, line, fmt.Sprintf("field_%d", i), "", nil).
				WithSuggestion("save the file as UTF-8 or set the mapping encoding to latin-1 or windows-1252")
		}
	}
	return nil
}
