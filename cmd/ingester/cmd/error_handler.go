package cmd

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"syscall"

	"statement-ingestion-service/pkg/errors"
	"statement-ingestion-service/pkg/logger"
)

// CLIErrorHandler provides user-friendly error handling for CLI operations
type CLIErrorHandler struct {
	logger  logger.Logger
	out     io.Writer
	verbose bool
}

// NewCLIErrorHandler creates a CLI error handler writing to out
func NewCLIErrorHandler(out io.Writer, verbose bool) *CLIErrorHandler {
	return &CLIErrorHandler{
		logger:  logger.GetGlobalLogger().WithComponent("cli"),
		out:     out,
		verbose: verbose,
	}
}

// HandleError prints err for the user and returns the process exit code
func (h *CLIErrorHandler) HandleError(err error) int {
	if err == nil {
		return 0
	}

	h.logger.WithError(err).Debug("Command failed")

	if summary, ok := err.(*errors.ErrorSummary); ok {
		return h.handleSummary(summary)
	}
	if ingestErr, ok := errors.AsIngestError(err); ok {
		return h.handleIngestError(ingestErr)
	}
	return h.handleGenericError(err)
}

// handleIngestError prints an IngestError with its context and suggestion
func (h *CLIErrorHandler) handleIngestError(err *errors.IngestError) int {
	fmt.Fprintf(h.out, "Error: %s\n", err.Message)

	if len(err.Context) > 0 {
		keys := make([]string, 0, len(err.Context))
		for key := range err.Context {
			keys = append(keys, key)
		}
		sort.Strings(keys)

		fmt.Fprintf(h.out, "\nContext:\n")
		for _, key := range keys {
			fmt.Fprintf(h.out, "  %s: %v\n", key, err.Context[key])
		}
	}

	if err.Suggestion != "" {
		fmt.Fprintf(h.out, "\nSuggestion: %s\n", err.Suggestion)
	}

	fmt.Fprintf(h.out, "\n%s\n", h.getCategoryHelp(err.Category))

	if h.verbose && err.Cause != nil {
		fmt.Fprintf(h.out, "\nUnderlying error: %v\n", err.Cause)
	}

	return err.GetExitCode()
}

// handleSummary prints the failed files of a multi-file run
func (h *CLIErrorHandler) handleSummary(summary *errors.ErrorSummary) int {
	fmt.Fprintf(h.out, "Error: %s\n", summary.Error())

	for i, err := range summary.SampleErrors {
		fmt.Fprintf(h.out, "  %d. %s\n", i+1, errors.Describe(err))
		if err.Suggestion != "" {
			fmt.Fprintf(h.out, "     Suggestion: %s\n", err.Suggestion)
		}
	}
	if more := summary.Total - len(summary.SampleErrors); more > 0 {
		fmt.Fprintf(h.out, "  ... and %d more errors\n", more)
	}

	return summary.GetExitCode()
}

// handleGenericError handles errors that carry no category
func (h *CLIErrorHandler) handleGenericError(err error) int {
	if h.isFileNotFoundError(err) {
		fmt.Fprintf(h.out, "Error: File not found\n")
		fmt.Fprintf(h.out, "Suggestion: Check if the file path is correct and the file exists\n")
		return 2
	}

	if h.isPermissionError(err) {
		fmt.Fprintf(h.out, "Error: Permission denied\n")
		fmt.Fprintf(h.out, "Suggestion: Check file permissions and ensure you have read access\n")
		return 2
	}

	if h.isDiskFullError(err) {
		fmt.Fprintf(h.out, "Error: Insufficient disk space\n")
		fmt.Fprintf(h.out, "Suggestion: Free up disk space and try again\n")
		return 2
	}

	fmt.Fprintf(h.out, "Error: %v\n", err)
	fmt.Fprintf(h.out, "Run 'ingester --help' for usage.\n")
	return 1
}

// getCategoryHelp returns category-specific help text
func (h *CLIErrorHandler) getCategoryHelp(category errors.ErrorCategory) string {
	switch category {
	case errors.CategoryFile:
		return `File error help:
• Check if the file exists and is readable
• Statements must be CSV or XLSX exports; PDF files are stored for reference only
• Re-export the statement from your bank if the file is damaged`

	case errors.CategoryParse:
		return `Parse error help:
• Check the delimiter and encoding configured for the bank
• Set skip_rows when the export has preamble lines above the header
• Use 'ingester infer FILE' to see which columns the header provides`

	case errors.CategoryValidation:
		return `Validation error help:
• Map the date, description and amount (or debit/credit) columns for the bank
• Check date_format against the dates in the file
• Amounts may carry currency symbols and thousands separators, but must be numeric`

	case errors.CategoryConfiguration:
		return `Configuration error help:
• Check your command-line flags and arguments
• Verify configuration file syntax if using --config
• Environment variables use the INGESTER_ prefix, e.g. INGESTER_STORE_DRIVER`

	case errors.CategoryStorage:
		return `Storage error help:
• Check that the configured account exists and belongs to the user
• Verify the store DSN and that the database is reachable
• Earlier imports are left untouched when a commit fails`

	default:
		return `For more help:
• Use 'ingester --help' for general help
• Use 'ingester ingest --help' for command-specific help
• Run with --verbose for debug logging`
	}
}

func (h *CLIErrorHandler) isFileNotFoundError(err error) bool {
	return os.IsNotExist(err) || strings.Contains(err.Error(), "no such file or directory")
}

func (h *CLIErrorHandler) isPermissionError(err error) bool {
	return os.IsPermission(err) ||
		strings.Contains(err.Error(), "permission denied") ||
		strings.Contains(err.Error(), "access denied")
}

func (h *CLIErrorHandler) isDiskFullError(err error) bool {
	if err == syscall.ENOSPC {
		return true
	}
	errStr := strings.ToLower(err.Error())
	return strings.Contains(errStr, "no space left") ||
		strings.Contains(errStr, "disk full") ||
		strings.Contains(errStr, "device full")
}
