package errors

import (
	"fmt"
)

// SkipReason is the category a rejected statement row is tallied under.
type SkipReason string

const (
	SkipInvalidDate   SkipReason = "invalid date"
	SkipInvalidAmount SkipReason = "missing or invalid amount"
)

// SkipReasonOrder is the fixed order skip categories are reported in.
var SkipReasonOrder = []SkipReason{SkipInvalidDate, SkipInvalidAmount}

// RowError describes why a single data row was excluded from a batch.
// Row errors are recovered locally by the ingestor and only ever surface
// as aggregated counts.
type RowError struct {
	Line   int        `json:"line"`
	Reason SkipReason `json:"reason"`
	Column string     `json:"column,omitempty"`
	Value  string     `json:"value,omitempty"`
}

// NewRowError creates a row error for the given line.
func NewRowError(line int, reason SkipReason, column, value string) *RowError {
	return &RowError{
		Line:   line,
		Reason: reason,
		Column: column,
		Value:  value,
	}
}

func (e *RowError) Error() string {
	if e.Column == "" {
		return fmt.Sprintf("line %d: %s", e.Line, e.Reason)
	}
	return fmt.Sprintf("line %d: %s in column '%s': '%s'", e.Line, e.Reason, e.Column, e.Value)
}

// Code maps the skip reason onto the validation error code space.
func (e *RowError) Code() ErrorCode {
	switch e.Reason {
	case SkipInvalidDate:
		return CodeInvalidDate
	case SkipInvalidAmount:
		return CodeInvalidAmount
	default:
		return CodeInvalidData
	}
}

// AsValidationError converts the row error into a full IngestError,
// for callers that want to surface one row's failure on its own.
func (e *RowError) AsValidationError() *IngestError {
	return ValidationError(e.Code(), e.Column, e.Value, nil).
		WithContext("line", e.Line)
}
