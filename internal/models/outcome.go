package models

import (
	"fmt"
	"strings"

	"cloud.google.com/go/civil"

	"statement-ingestion-service/pkg/errors"
)

// ImportOutcome is the terminal report of one ingestion call. It is written
// back onto the statement record once the transaction batch has committed.
type ImportOutcome struct {
	StatementID        string      `json:"statement_id,omitempty"`
	Filename           string      `json:"filename,omitempty"`
	SourceType         SourceType  `json:"source_type,omitempty"`
	RowsSeen           int         `json:"rows_seen"`
	RowsImported       int         `json:"rows_imported"`
	SkipReasons        []string    `json:"skip_reasons"`
	MappingVersionUsed int         `json:"mapping_version_used"`
	ParsedOK           bool        `json:"parsed_ok"`
	ParseError         string      `json:"parse_error"`
	Duplicate          bool        `json:"duplicate,omitempty"`
	ReferenceOnly      bool        `json:"reference_only,omitempty"`
	Warnings           []string    `json:"warnings,omitempty"`
	StartDate          *civil.Date `json:"statement_start,omitempty"`
	EndDate            *civil.Date `json:"statement_end,omitempty"`
	PageCount          int         `json:"page_count,omitempty"`
}

// NewImportOutcome creates an empty outcome for the given statement
func NewImportOutcome(statementID string, mappingVersion int) *ImportOutcome {
	return &ImportOutcome{
		StatementID:        statementID,
		SkipReasons:        []string{},
		MappingVersionUsed: mappingVersion,
	}
}

// RowsSkipped returns the number of seen rows that were not imported
func (o *ImportOutcome) RowsSkipped() int {
	if o.RowsImported > o.RowsSeen {
		return 0
	}
	return o.RowsSeen - o.RowsImported
}

// Fail moves the outcome into the failed terminal state. Nothing counts as
// imported once a statement has failed.
func (o *ImportOutcome) Fail(err error) {
	o.ParsedOK = false
	o.RowsImported = 0
	o.StartDate = nil
	o.EndDate = nil
	if err != nil {
		o.ParseError = errors.Describe(err)
	}
	if o.ParseError == "" {
		o.ParseError = "import failed"
	}
}

// Succeed moves the outcome into the successful terminal state
func (o *ImportOutcome) Succeed() {
	o.ParsedOK = true
	o.ParseError = ""
}

// MarkReferenceOnly records a file that is stored but never parsed. The
// statement ends unparsed with the note as its parse error.
func (o *ImportOutcome) MarkReferenceOnly(note string) {
	o.Fail(nil)
	o.ParseError = note
	o.ReferenceOnly = true
}

// AddWarning records an advisory message for the caller
func (o *ImportOutcome) AddWarning(format string, args ...interface{}) {
	o.Warnings = append(o.Warnings, fmt.Sprintf(format, args...))
}

// Status returns a one-word summary of the terminal state
func (o *ImportOutcome) Status() string {
	switch {
	case o.Duplicate:
		return "duplicate"
	case o.ReferenceOnly:
		return "stored"
	case o.ParsedOK && len(o.SkipReasons) > 0:
		return "partial"
	case o.ParsedOK:
		return "success"
	default:
		return "failed"
	}
}

// Summary returns a human-readable one-line description of the outcome
func (o *ImportOutcome) Summary() string {
	switch o.Status() {
	case "duplicate":
		return "statement already imported for this account; nothing ingested"
	case "stored":
		return fmt.Sprintf("%s file stored for reference; no transactions imported", o.SourceType)
	case "failed":
		return fmt.Sprintf("import failed: %s", o.ParseError)
	}

	summary := fmt.Sprintf("imported %d of %d row(s)", o.RowsImported, o.RowsSeen)
	if len(o.SkipReasons) > 0 {
		summary += "; " + strings.Join(o.SkipReasons, "; ")
	}
	return summary
}
