package errors

import (
	"fmt"
	"sort"
	"strings"

	"github.com/pkg/errors"
)

// ErrorCategory represents different categories of errors
type ErrorCategory string

const (
	CategoryFile          ErrorCategory = "file"
	CategoryParse         ErrorCategory = "parse"
	CategoryValidation    ErrorCategory = "validation"
	CategoryConfiguration ErrorCategory = "configuration"
	CategoryStorage       ErrorCategory = "storage"
	CategoryInternal      ErrorCategory = "internal"
)

// ErrorCode represents specific error codes within categories
type ErrorCode string

const (
	// File errors
	CodeFileNotFound    ErrorCode = "file_not_found"
	CodeFilePermission  ErrorCode = "file_permission"
	CodeFileCorrupted   ErrorCode = "file_corrupted"
	CodeUnsupportedFile ErrorCode = "unsupported_file"

	// Parse errors
	CodeNoHeader      ErrorCode = "no_header"
	CodeMissingColumn ErrorCode = "missing_column"
	CodeInvalidData   ErrorCode = "invalid_data"
	CodeEncodingError ErrorCode = "encoding_error"

	// Validation errors
	CodeInvalidAmount ErrorCode = "invalid_amount"
	CodeInvalidDate   ErrorCode = "invalid_date"
	CodeMissingField  ErrorCode = "missing_field"

	// Configuration errors
	CodeMissingRole    ErrorCode = "missing_role"
	CodeUnknownRole    ErrorCode = "unknown_role"
	CodeInvalidMapping ErrorCode = "invalid_mapping"
	CodeInvalidConfig  ErrorCode = "invalid_config"
	CodeMissingConfig  ErrorCode = "missing_config"

	// Storage errors
	CodeCommitFailed       ErrorCode = "commit_failed"
	CodeDuplicateStatement ErrorCode = "duplicate_statement"
	CodeNotFound           ErrorCode = "not_found"
	CodeStoreUnavailable   ErrorCode = "store_unavailable"

	// Internal errors
	CodeUnexpectedError ErrorCode = "unexpected_error"
)

// IngestError is the base error type for all application errors
type IngestError struct {
	Category   ErrorCategory     `json:"category"`
	Code       ErrorCode         `json:"code"`
	Message    string            `json:"message"`
	Suggestion string            `json:"suggestion,omitempty"`
	Context    Context           `json:"context,omitempty"`
	Cause      error             `json:"-"`
	StackTrace errors.StackTrace `json:"-"`
}

// Context provides additional information about the error
type Context map[string]interface{}

// Error implements the error interface
func (e *IngestError) Error() string {
	if e.Suggestion != "" {
		return fmt.Sprintf("%s (suggestion: %s)", e.Message, e.Suggestion)
	}
	return e.Message
}

// Unwrap returns the underlying cause error
func (e *IngestError) Unwrap() error {
	return e.Cause
}

// GetExitCode returns an appropriate exit code for the error
func (e *IngestError) GetExitCode() int {
	switch e.Category {
	case CategoryFile:
		return 2
	case CategoryParse, CategoryValidation:
		return 3
	case CategoryConfiguration:
		return 4
	case CategoryStorage, CategoryInternal:
		return 5
	default:
		return 1
	}
}

// WithContext adds context information to the error
func (e *IngestError) WithContext(key string, value interface{}) *IngestError {
	if e.Context == nil {
		e.Context = make(Context)
	}
	e.Context[key] = value
	return e
}

// WithSuggestion adds a suggestion for fixing the error
func (e *IngestError) WithSuggestion(suggestion string) *IngestError {
	e.Suggestion = suggestion
	return e
}

// New creates a new IngestError
func New(category ErrorCategory, code ErrorCode, message string) *IngestError {
	return &IngestError{
		Category:   category,
		Code:       code,
		Message:    message,
		StackTrace: errors.New("").(stackTracer).StackTrace(),
	}
}

// Wrap wraps an existing error with IngestError context
func Wrap(err error, category ErrorCategory, code ErrorCode, message string) *IngestError {
	if err == nil {
		return nil
	}

	return &IngestError{
		Category:   category,
		Code:       code,
		Message:    message,
		Cause:      err,
		StackTrace: errors.WithStack(err).(stackTracer).StackTrace(),
	}
}

type stackTracer interface {
	StackTrace() errors.StackTrace
}

func build(category ErrorCategory, code ErrorCode, message string, err error) *IngestError {
	if err != nil {
		return Wrap(err, category, code, message)
	}
	return New(category, code, message)
}

// FileError creates a file-related error
func FileError(code ErrorCode, name string, err error) *IngestError {
	var message, suggestion string

	switch code {
	case CodeFileNotFound:
		message = fmt.Sprintf("file not found: %s", name)
		suggestion = "check if the file path is correct and the file exists"
	case CodeFilePermission:
		message = fmt.Sprintf("permission denied accessing file: %s", name)
		suggestion = "check file permissions and ensure you have read access"
	case CodeFileCorrupted:
		message = fmt.Sprintf("file could not be read: %s", name)
		suggestion = "re-export the statement from your bank and upload it again"
	case CodeUnsupportedFile:
		message = fmt.Sprintf("unsupported statement file: %s", name)
		suggestion = "upload a CSV export (XLSX is also accepted, PDF is stored for reference)"
	default:
		message = fmt.Sprintf("file error: %s", name)
		suggestion = "check the file and try again"
	}

	return build(CategoryFile, code, message, err).
		WithSuggestion(suggestion).
		WithContext("file", name)
}

// ParseError creates a parsing-related error
func ParseError(code ErrorCode, line int, column string, value string, err error) *IngestError {
	var message, suggestion string

	switch code {
	case CodeNoHeader:
		message = "statement appears to have no header row"
		suggestion = "make sure the file has a header row, or set skip_rows to jump over preamble lines"
	case CodeMissingColumn:
		message = fmt.Sprintf("mapped column '%s' not found in header", column)
		suggestion = "check the bank mapping against the file's header row"
	case CodeInvalidData:
		message = fmt.Sprintf("invalid data at line %d, column '%s': '%s'", line, column, value)
		suggestion = "correct the data format or remove the invalid entry"
	case CodeEncodingError:
		message = fmt.Sprintf("encoding error at line %d", line)
		suggestion = "save the file as UTF-8 or set the mapping encoding hint"
	default:
		message = fmt.Sprintf("parse error at line %d", line)
		suggestion = "check the file format and data integrity"
	}

	return build(CategoryParse, code, message, err).
		WithSuggestion(suggestion).
		WithContext("line", line).
		WithContext("column", column).
		WithContext("value", value)
}

// ValidationError creates a validation-related error
func ValidationError(code ErrorCode, field string, value interface{}, err error) *IngestError {
	var message, suggestion string

	switch code {
	case CodeInvalidAmount:
		message = fmt.Sprintf("invalid amount in field '%s': %v", field, value)
		suggestion = "amounts look like 1234.56, $1,234.56 or (123.45)"
	case CodeInvalidDate:
		message = fmt.Sprintf("invalid date in field '%s': %v", field, value)
		suggestion = "dates look like 01/31/2024, 2024-01-31 or 31-01-2024"
	case CodeMissingField:
		message = fmt.Sprintf("required field '%s' is missing or empty", field)
		suggestion = "provide a value for this required field"
	default:
		message = fmt.Sprintf("validation error in field '%s': %v", field, value)
		suggestion = "check the field value and format"
	}

	return build(CategoryValidation, code, message, err).
		WithSuggestion(suggestion).
		WithContext("field", field).
		WithContext("value", value)
}

// ConfigurationError creates a configuration-related error
func ConfigurationError(code ErrorCode, setting string, value interface{}, err error) *IngestError {
	var message, suggestion string

	switch code {
	case CodeUnknownRole:
		message = fmt.Sprintf("unknown mapping key '%s'", setting)
		suggestion = "use one of: date, description, amount, debit, credit, balance, reference, date_format, delimiter, skip_rows, encoding"
	case CodeInvalidMapping:
		message = fmt.Sprintf("invalid mapping value for '%s': %v", setting, value)
		suggestion = "check the mapping document for this bank or account"
	case CodeInvalidConfig:
		message = fmt.Sprintf("invalid configuration for '%s': %v", setting, value)
		suggestion = "check the configuration documentation for valid values"
	case CodeMissingConfig:
		message = fmt.Sprintf("missing required configuration: %s", setting)
		suggestion = "provide this configuration setting or use a config file"
	default:
		message = fmt.Sprintf("configuration error: %s", setting)
		suggestion = "check your configuration and try again"
	}

	return build(CategoryConfiguration, code, message, err).
		WithSuggestion(suggestion).
		WithContext("setting", setting).
		WithContext("value", value)
}

// MissingRolesError reports column roles that could not be resolved from
// either the configured mapping or the file header.
func MissingRolesError(roles []string) *IngestError {
	sorted := append([]string(nil), roles...)
	sort.Strings(sorted)

	return New(CategoryConfiguration, CodeMissingRole,
		fmt.Sprintf("missing required mapping: %s", strings.Join(sorted, ", "))).
		WithSuggestion("map these roles in the bank or account mapping, or rename the file's header columns").
		WithContext("missing_roles", sorted)
}

// StorageError creates a storage-related error
func StorageError(code ErrorCode, operation string, err error) *IngestError {
	var message, suggestion string

	switch code {
	case CodeCommitFailed:
		message = fmt.Sprintf("storage commit failed during %s", operation)
		suggestion = "no transactions were saved; upload the statement again"
	case CodeDuplicateStatement:
		message = fmt.Sprintf("statement already imported (%s)", operation)
		suggestion = "the same file was already uploaded to this account"
	case CodeNotFound:
		message = fmt.Sprintf("not found: %s", operation)
		suggestion = "check the identifier and try again"
	case CodeStoreUnavailable:
		message = fmt.Sprintf("store unavailable during %s", operation)
		suggestion = "check the store DSN and that the database is reachable"
	default:
		message = fmt.Sprintf("storage error during %s", operation)
		suggestion = "try again or contact support if the problem persists"
	}

	return build(CategoryStorage, code, message, err).
		WithSuggestion(suggestion).
		WithContext("operation", operation)
}

// InternalError creates an internal error
func InternalError(code ErrorCode, operation string, err error) *IngestError {
	var message, suggestion string

	switch code {
	case CodeUnexpectedError:
		message = fmt.Sprintf("unexpected error during %s", operation)
		suggestion = "this is likely a bug - please report it with the error details"
	default:
		message = fmt.Sprintf("internal error during %s", operation)
		suggestion = "try again or contact support if the problem persists"
	}

	return build(CategoryInternal, code, message, err).
		WithSuggestion(suggestion).
		WithContext("operation", operation)
}

// IsIngestError checks if an error is an IngestError
func IsIngestError(err error) bool {
	_, ok := err.(*IngestError)
	return ok
}

// AsIngestError extracts an IngestError from an error chain
func AsIngestError(err error) (*IngestError, bool) {
	var ingestErr *IngestError
	if errors.As(err, &ingestErr) {
		return ingestErr, true
	}
	return nil, false
}

// HasCode reports whether err carries an IngestError with the given code
func HasCode(err error, code ErrorCode) bool {
	ingestErr, ok := AsIngestError(err)
	return ok && ingestErr.Code == code
}

// WrapIfNeeded wraps an error if it's not already an IngestError
func WrapIfNeeded(err error, category ErrorCategory, code ErrorCode, message string) *IngestError {
	if err == nil {
		return nil
	}

	if ingestErr, ok := AsIngestError(err); ok {
		return ingestErr
	}

	return Wrap(err, category, code, message)
}

// Describe renders an error for persisting on a record: the message and the
// underlying cause, without the suggestion.
func Describe(err error) string {
	if err == nil {
		return ""
	}
	ingestErr, ok := AsIngestError(err)
	if !ok {
		return err.Error()
	}
	if ingestErr.Cause != nil {
		return ingestErr.Message + ": " + ingestErr.Cause.Error()
	}
	return ingestErr.Message
}

// ErrorSummary provides a summary of multiple errors
type ErrorSummary struct {
	Total        int                   `json:"total"`
	ByCategory   map[ErrorCategory]int `json:"by_category"`
	ByCode       map[ErrorCode]int     `json:"by_code"`
	Errors       []*IngestError        `json:"errors"`
	SampleErrors []*IngestError        `json:"sample_errors,omitempty"`
}

// NewErrorSummary creates a new error summary
func NewErrorSummary(errs []*IngestError) *ErrorSummary {
	summary := &ErrorSummary{
		Total:      len(errs),
		ByCategory: make(map[ErrorCategory]int),
		ByCode:     make(map[ErrorCode]int),
		Errors:     errs,
	}
	if summary.Errors == nil {
		summary.Errors = []*IngestError{}
	}

	for _, err := range errs {
		summary.ByCategory[err.Category]++
		summary.ByCode[err.Code]++
	}

	maxSamples := 5
	if len(errs) > maxSamples {
		summary.SampleErrors = errs[:maxSamples]
	} else {
		summary.SampleErrors = errs
	}

	return summary
}

// Error returns a formatted error message for the summary
func (es *ErrorSummary) Error() string {
	if es.Total == 0 {
		return "no errors"
	}

	if es.Total == 1 {
		return es.Errors[0].Error()
	}

	var categories []string
	for category, count := range es.ByCategory {
		categories = append(categories, fmt.Sprintf("%s: %d", category, count))
	}
	sort.Strings(categories)

	return fmt.Sprintf("%d errors occurred (%s)", es.Total, strings.Join(categories, ", "))
}

// HasCategory checks if the summary contains errors of the given category
func (es *ErrorSummary) HasCategory(category ErrorCategory) bool {
	return es.ByCategory[category] > 0
}

// GetExitCode returns the highest priority exit code from all errors
func (es *ErrorSummary) GetExitCode() int {
	if es.Total == 0 {
		return 0
	}

	maxCode := 1
	for _, err := range es.Errors {
		if code := err.GetExitCode(); code > maxCode {
			maxCode = code
		}
	}

	return maxCode
}
