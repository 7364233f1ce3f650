package parsers

import (
	"context"
	"io"

	"github.com/xuri/excelize/v2"

	"statement-ingestion-service/pkg/errors"
	"statement-ingestion-service/pkg/logger"
)

// XLSXSource reads the first worksheet of an Excel statement
type XLSXSource struct {
	config SourceConfig
	file   *excelize.File
	rows   *excelize.Rows
	header *Header
	line   int
	logger logger.Logger
}

// NewXLSXSource opens a workbook, skips the configured leading rows of its
// first sheet and reads the header row
func NewXLSXSource(r io.Reader, cfg SourceConfig) (*XLSXSource, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	log := logger.GetGlobalLogger().WithComponent("xlsx_source")

	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, errors.FileError(errors.CodeFileCorrupted, cfg.Name, err)
	}

	sheet := f.GetSheetName(0)
	rows, err := f.Rows(sheet)
	if err != nil {
		f.Close()
		return nil, errors.FileError(errors.CodeFileCorrupted, cfg.Name, err)
	}

	log.WithFields(logger.Fields{
		"file":      cfg.Name,
		"sheet":     sheet,
		"skip_rows": cfg.SkipRows,
	}).Debug("Opening XLSX statement")

	s := &XLSXSource{
		config: cfg,
		file:   f,
		rows:   rows,
		logger: log,
	}

	for s.line < cfg.SkipRows && s.rows.Next() {
		s.line++
	}
	if err := s.readHeader(); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

// Header returns the cleaned header row
func (s *XLSXSource) Header() *Header {
	return s.header
}

// Next returns the next non-blank data row
func (s *XLSXSource) Next(ctx context.Context) (RawRow, error) {
	for {
		if err := cancelled(ctx); err != nil {
			return RawRow{}, err
		}

		record, err := s.read()
		if err != nil {
			return RawRow{}, err
		}
		if s.config.SkipEmptyRows && isEmptyRecord(record) {
			continue
		}
		return NewRawRow(s.header, s.line, record), nil
	}
}

// Close releases the workbook
func (s *XLSXSource) Close() error {
	var rowsErr error
	if s.rows != nil {
		rowsErr = s.rows.Close()
	}
	if err := s.file.Close(); err != nil {
		return err
	}
	return rowsErr
}

func (s *XLSXSource) readHeader() error {
	for {
		record, err := s.read()
		if err == io.EOF {
			return errors.ParseError(errors.CodeNoHeader, s.line+1, "", "", nil).
				WithContext("file", s.config.Name)
		}
		if err != nil {
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

func (s *XLSXSource) read() ([]string, error) {
	if !s.rows.Next() {
		if err := s.rows.Error(); err != nil {
			return nil, errors.FileError(errors.CodeFileCorrupted, s.config.Name, err)
		}
		return nil, io.EOF
	}
	s.line++

	record, err := s.rows.Columns()
	if err != nil {
		return nil, errors.ParseError(errors.CodeInvalidData, s.line, "", "", err).
			WithContext("file", s.config.Name)
	}
	return record, nil
}
