// Package reporter renders import results for the command line.
//
// A report covers one run of the ingester: every file that was submitted,
// its terminal outcome and, optionally, the transactions a statement holds.
//
// Supported output formats:
//   - Console: human-readable summary for terminal display
//   - JSON: structured data for programmatic consumption
//   - CSV: one row per file for spreadsheet applications
//
// Example usage:
//
//	generator, err := reporter.NewReportGenerator(reporter.DefaultReportConfig())
//	report := reporter.NewRunReport(started)
//	report.Add(path, outcome, err)
//	err = generator.GenerateReport(report, os.Stdout)
package reporter

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"statement-ingestion-service/internal/models"
	"statement-ingestion-service/pkg/errors"
)

// OutputFormat represents the supported report output formats
type OutputFormat string

const (
	FormatConsole OutputFormat = "console"
	FormatJSON    OutputFormat = "json"
	FormatCSV     OutputFormat = "csv"
)

// IsValid checks if the output format is supported
func (f OutputFormat) IsValid() bool {
	switch f {
	case FormatConsole, FormatJSON, FormatCSV:
		return true
	default:
		return false
	}
}

// ReportConfig holds configuration options for report generation
type ReportConfig struct {
	Format OutputFormat `json:"format"`

	IncludeWarnings    bool `json:"include_warnings"`
	IncludeSkipReasons bool `json:"include_skip_reasons"`

	// MaxListed caps the transactions printed per statement on the console.
	// Zero prints all of them.
	MaxListed int `json:"max_listed"`

	CSVDelimiter rune `json:"csv_delimiter"`
	CSVHeaders   bool `json:"csv_headers"`
}

// DefaultReportConfig returns a default report configuration
func DefaultReportConfig() *ReportConfig {
	return &ReportConfig{
		Format:             FormatConsole,
		IncludeWarnings:    true,
		IncludeSkipReasons: true,
		MaxListed:          20,
		CSVDelimiter:       ',',
		CSVHeaders:         true,
	}
}

// Validate validates the report configuration
func (c *ReportConfig) Validate() error {
	if !c.Format.IsValid() {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "output.format", string(c.Format),
			fmt.Errorf("must be one of console, json, csv"))
	}
	if c.MaxListed < 0 {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "output.max_listed", c.MaxListed,
			fmt.Errorf("must not be negative"))
	}
	return nil
}

// FileResult is the result of importing one file
type FileResult struct {
	File    string                `json:"file"`
	Outcome *models.ImportOutcome `json:"outcome"`
	Error   string                `json:"error,omitempty"`
	Code    string                `json:"error_code,omitempty"`
}

// Status returns the terminal status of the file
func (r FileResult) Status() string {
	if r.Outcome == nil {
		return "failed"
	}
	return r.Outcome.Status()
}

// RunReport collects the results of one ingester run
type RunReport struct {
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
	Files     []FileResult  `json:"files"`
}

// RunSummary holds totals across all files of a run
type RunSummary struct {
	Files        int            `json:"files"`
	ByStatus     map[string]int `json:"by_status"`
	RowsSeen     int            `json:"rows_seen"`
	RowsImported int            `json:"rows_imported"`
	RowsSkipped  int            `json:"rows_skipped"`
}

// NewRunReport starts an empty report
func NewRunReport(started time.Time) *RunReport {
	return &RunReport{StartedAt: started, Files: []FileResult{}}
}

// Add records the outcome of one file. The outcome is nil when the file could
// not be read at all.
func (r *RunReport) Add(file string, outcome *models.ImportOutcome, err error) {
	result := FileResult{File: file, Outcome: outcome}
	if err != nil {
		result.Error = errors.Describe(err)
		if ie, ok := errors.AsIngestError(err); ok {
			result.Code = string(ie.Code)
		}
	}
	r.Files = append(r.Files, result)
}

// Finish stamps the run duration and orders files by name
func (r *RunReport) Finish(now time.Time) {
	r.Duration = now.Sub(r.StartedAt)
	sort.SliceStable(r.Files, func(i, j int) bool {
		return filename(r.Files[i]) < filename(r.Files[j])
	})
}

// Failed reports whether any file ended in the failed state
func (r *RunReport) Failed() bool {
	for _, f := range r.Files {
		if f.Status() == "failed" {
			return true
		}
	}
	return false
}

// Summary computes run totals
func (r *RunReport) Summary() RunSummary {
	s := RunSummary{Files: len(r.Files), ByStatus: map[string]int{}}
	for _, f := range r.Files {
		s.ByStatus[f.Status()]++
		if f.Outcome == nil {
			continue
		}
		s.RowsSeen += f.Outcome.RowsSeen
		s.RowsImported += f.Outcome.RowsImported
		s.RowsSkipped += f.Outcome.RowsSkipped()
	}
	return s
}

// ReportGenerator generates import reports in various formats
type ReportGenerator struct {
	config *ReportConfig
}

// NewReportGenerator creates a new report generator with the specified configuration
func NewReportGenerator(config *ReportConfig) (*ReportGenerator, error) {
	if config == nil {
		config = DefaultReportConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &ReportGenerator{config: config}, nil
}

// GetConfiguration returns the current configuration
func (rg *ReportGenerator) GetConfiguration() *ReportConfig {
	return rg.config
}

// GenerateReport writes the run report in the configured format
func (rg *ReportGenerator) GenerateReport(report *RunReport, writer io.Writer) error {
	if report == nil {
		return errors.ValidationError(errors.CodeMissingField, "report", nil, fmt.Errorf("report cannot be nil"))
	}

	switch rg.config.Format {
	case FormatConsole:
		return rg.generateConsoleReport(report, writer)
	case FormatJSON:
		return rg.generateJSONReport(report, writer)
	case FormatCSV:
		return rg.generateCSVReport(report, writer)
	default:
		return fmt.Errorf("unsupported output format: %s", rg.config.Format)
	}
}

func (rg *ReportGenerator) generateConsoleReport(report *RunReport, writer io.Writer) error {
	summary := report.Summary()

	fmt.Fprintf(writer, "STATEMENT IMPORT REPORT\n")
	fmt.Fprintf(writer, "Started: %s\n", report.StartedAt.Format(time.RFC3339))
	fmt.Fprintf(writer, "Duration: %v\n\n", report.Duration)

	fmt.Fprintf(writer, "=== SUMMARY ===\n")
	fmt.Fprintf(writer, "Files:         %d\n", summary.Files)
	for _, status := range statusOrder {
		if n := summary.ByStatus[status]; n > 0 {
			fmt.Fprintf(writer, "  %-11s %d\n", status+":", n)
		}
	}
	fmt.Fprintf(writer, "Rows Seen:     %d\n", summary.RowsSeen)
	fmt.Fprintf(writer, "Rows Imported: %d (%.1f%%)\n", summary.RowsImported,
		calculatePercentage(summary.RowsImported, summary.RowsSeen))
	fmt.Fprintf(writer, "Rows Skipped:  %d\n\n", summary.RowsSkipped)

	fmt.Fprintf(writer, "=== FILES ===\n")
	for i, f := range report.Files {
		rg.printFile(i+1, f, writer)
	}
	return nil
}

var statusOrder = []string{"success", "partial", "duplicate", "stored", "failed"}

func (rg *ReportGenerator) printFile(n int, f FileResult, writer io.Writer) {
	fmt.Fprintf(writer, "%d. %s [%s]\n", n, filename(f), strings.ToUpper(f.Status()))
	o := f.Outcome
	if o == nil {
		fmt.Fprintf(writer, "   Error: %s\n", f.Error)
		return
	}

	if o.StatementID != "" {
		fmt.Fprintf(writer, "   Statement: %s\n", o.StatementID)
	}
	fmt.Fprintf(writer, "   %s\n", outcomeLine(o))
	if o.StartDate != nil && o.EndDate != nil {
		fmt.Fprintf(writer, "   Period: %s to %s\n", o.StartDate, o.EndDate)
	}
	if o.PageCount > 0 {
		fmt.Fprintf(writer, "   Pages: %d\n", o.PageCount)
	}
	if !o.ParsedOK && o.ParseError != "" && !o.ReferenceOnly {
		fmt.Fprintf(writer, "   Error: %s\n", o.ParseError)
	}
	if rg.config.IncludeSkipReasons {
		for _, reason := range o.SkipReasons {
			fmt.Fprintf(writer, "   - %s\n", reason)
		}
	}
	if rg.config.IncludeWarnings {
		for _, warning := range o.Warnings {
			fmt.Fprintf(writer, "   ! %s\n", warning)
		}
	}
}

// outcomeLine is the outcome summary without skip reasons, which are
// listed separately when the configuration includes them
func outcomeLine(o *models.ImportOutcome) string {
	switch o.Status() {
	case "success", "partial":
		return fmt.Sprintf("imported %d of %d row(s)", o.RowsImported, o.RowsSeen)
	default:
		return o.Summary()
	}
}

func (rg *ReportGenerator) generateJSONReport(report *RunReport, writer io.Writer) error {
	output := map[string]interface{}{
		"started_at": report.StartedAt,
		"duration":   report.Duration.String(),
		"summary":    report.Summary(),
		"files":      rg.filterFiles(report.Files),
	}

	encoder := json.NewEncoder(writer)
	encoder.SetIndent("", "  ")
	return encoder.Encode(output)
}

// filterFiles drops the detail sections the configuration excludes
func (rg *ReportGenerator) filterFiles(files []FileResult) []FileResult {
	out := make([]FileResult, 0, len(files))
	for _, f := range files {
		if f.Outcome != nil && (!rg.config.IncludeWarnings || !rg.config.IncludeSkipReasons) {
			copied := *f.Outcome
			if !rg.config.IncludeWarnings {
				copied.Warnings = nil
			}
			if !rg.config.IncludeSkipReasons {
				copied.SkipReasons = []string{}
			}
			f.Outcome = &copied
		}
		out = append(out, f)
	}
	return out
}

func (rg *ReportGenerator) generateCSVReport(report *RunReport, writer io.Writer) error {
	csvWriter := csv.NewWriter(writer)
	csvWriter.Comma = rg.config.CSVDelimiter

	if rg.config.CSVHeaders {
		headers := []string{
			"File",
			"Status",
			"Statement_ID",
			"Source_Type",
			"Rows_Seen",
			"Rows_Imported",
			"Rows_Skipped",
			"Mapping_Version",
			"Statement_Start",
			"Statement_End",
			"Parse_Error",
			"Notes",
		}
		if err := csvWriter.Write(headers); err != nil {
			return errors.InternalError(errors.CodeUnexpectedError, "write csv report", err)
		}
	}

	for _, f := range report.Files {
		record := []string{filename(f), f.Status(), "", "", "", "", "", "", "", "", f.Error, ""}
		if o := f.Outcome; o != nil {
			record[2] = o.StatementID
			record[3] = o.SourceType.String()
			record[4] = strconv.Itoa(o.RowsSeen)
			record[5] = strconv.Itoa(o.RowsImported)
			record[6] = strconv.Itoa(o.RowsSkipped())
			record[7] = strconv.Itoa(o.MappingVersionUsed)
			if o.StartDate != nil && o.EndDate != nil {
				record[8] = o.StartDate.String()
				record[9] = o.EndDate.String()
			}
			if o.ParseError != "" {
				record[10] = o.ParseError
			}
			var notes []string
			if rg.config.IncludeSkipReasons {
				notes = append(notes, o.SkipReasons...)
			}
			if rg.config.IncludeWarnings {
				notes = append(notes, o.Warnings...)
			}
			record[11] = strings.Join(notes, "; ")
		}
		if err := csvWriter.Write(record); err != nil {
			return errors.InternalError(errors.CodeUnexpectedError, "write csv report", err)
		}
	}

	csvWriter.Flush()
	return csvWriter.Error()
}

// GenerateTransactions writes the transactions of a statement in the
// configured format
func (rg *ReportGenerator) GenerateTransactions(statement *models.Statement, txs []models.NormalizedTransaction, writer io.Writer) error {
	if statement == nil {
		return errors.ValidationError(errors.CodeMissingField, "statement", nil, fmt.Errorf("statement cannot be nil"))
	}

	switch rg.config.Format {
	case FormatJSON:
		encoder := json.NewEncoder(writer)
		encoder.SetIndent("", "  ")
		return encoder.Encode(map[string]interface{}{
			"statement":    statement,
			"transactions": txs,
		})
	case FormatCSV:
		return rg.writeTransactionsCSV(txs, writer)
	default:
		rg.printTransactions(statement, txs, writer)
		return nil
	}
}

func (rg *ReportGenerator) printTransactions(statement *models.Statement, txs []models.NormalizedTransaction, writer io.Writer) {
	fmt.Fprintf(writer, "Statement %s (%s, account %s)\n", statement.ID, statement.Filename, statement.AccountID)
	if !statement.ParsedOK && statement.ParseError != "" {
		fmt.Fprintf(writer, "Parse Error: %s\n", statement.ParseError)
	}

	inflow, outflow := decimal.Zero, decimal.Zero
	for _, tx := range txs {
		if tx.Amount.IsPositive() {
			inflow = inflow.Add(tx.Amount)
		} else {
			outflow = outflow.Add(tx.Amount)
		}
	}
	fmt.Fprintf(writer, "Transactions: %d\n", len(txs))
	fmt.Fprintf(writer, "Inflow:       %s\n", inflow.StringFixed(2))
	fmt.Fprintf(writer, "Outflow:      %s\n", outflow.StringFixed(2))
	fmt.Fprintf(writer, "Net:          %s\n\n", inflow.Add(outflow).StringFixed(2))

	for i, tx := range txs {
		if rg.config.MaxListed > 0 && i >= rg.config.MaxListed {
			fmt.Fprintf(writer, "  ... and %d more\n", len(txs)-i)
			break
		}
		fmt.Fprintf(writer, "  %s  %12s  %s", tx.Date, tx.Amount.StringFixed(2), tx.Description)
		if tx.Balance != nil {
			fmt.Fprintf(writer, "  (balance %s)", tx.Balance.StringFixed(2))
		}
		fmt.Fprintf(writer, "\n")
	}
}

func (rg *ReportGenerator) writeTransactionsCSV(txs []models.NormalizedTransaction, writer io.Writer) error {
	csvWriter := csv.NewWriter(writer)
	csvWriter.Comma = rg.config.CSVDelimiter

	if rg.config.CSVHeaders {
		if err := csvWriter.Write([]string{"Date", "Description", "Amount", "Balance", "Reference"}); err != nil {
			return errors.InternalError(errors.CodeUnexpectedError, "write csv report", err)
		}
	}
	for _, tx := range txs {
		balance := ""
		if tx.Balance != nil {
			balance = tx.Balance.String()
		}
		if err := csvWriter.Write([]string{tx.Date.String(), tx.Description, tx.Amount.String(), balance, tx.Reference}); err != nil {
			return errors.InternalError(errors.CodeUnexpectedError, "write csv report", err)
		}
	}
	csvWriter.Flush()
	return csvWriter.Error()
}

func filename(f FileResult) string {
	if f.File == "" && f.Outcome != nil {
		return f.Outcome.Filename
	}
	return f.File
}

func calculatePercentage(part, total int) float64 {
	if total == 0 {
		return 0.0
	}
	return float64(part) / float64(total) * 100.0
}
