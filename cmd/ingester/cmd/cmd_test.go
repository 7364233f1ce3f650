package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/afero"

	"statement-ingestion-service/internal/mapping"
	"statement-ingestion-service/pkg/errors"
)

const testConfig = `
log:
  level: error
banks:
  - name: generic
    mapping_version: 3
accounts:
  - id: checking
    user_id: u1
    bank: generic
`

const janCSV = "Date,Description,Amount\n01/15/2024,Coffee Shop,-4.50\n01/16/2024,Paycheck,2000.00\n"

func newTestFs(t *testing.T, files map[string]string) afero.Fs {
	t.Helper()
	fsys := afero.NewMemMapFs()
	for name, content := range files {
		if err := afero.WriteFile(fsys, name, []byte(content), 0644); err != nil {
			t.Fatalf("failed to write %s: %v", name, err)
		}
	}
	return fsys
}

// run executes the CLI and returns its stdout and stderr
func run(t *testing.T, fsys afero.Fs, args ...string) (string, string, error) {
	t.Helper()
	rootCmd := NewRootCommand(fsys)
	var stdout, stderr bytes.Buffer
	rootCmd.SetOut(&stdout)
	rootCmd.SetErr(&stderr)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return stdout.String(), stderr.String(), err
}

type jsonReport struct {
	Summary struct {
		Files        int            `json:"files"`
		ByStatus     map[string]int `json:"by_status"`
		RowsImported int            `json:"rows_imported"`
	} `json:"summary"`
	Files []struct {
		File    string `json:"file"`
		Code    string `json:"error_code"`
		Outcome *struct {
			StatementID  string `json:"statement_id"`
			RowsImported int    `json:"rows_imported"`
		} `json:"outcome"`
	} `json:"files"`
}

func TestIngestCommand(t *testing.T) {
	fsys := newTestFs(t, map[string]string{
		"/etc/ingester.yaml":  testConfig,
		"/statements/jan.csv": janCSV,
	})

	stdout, _, err := run(t, fsys, "--config", "/etc/ingester.yaml",
		"ingest", "--account", "checking", "--output-format", "json", "/statements/jan.csv")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var report jsonReport
	if err := json.Unmarshal([]byte(stdout), &report); err != nil {
		t.Fatalf("report is not JSON: %v\n%s", err, stdout)
	}
	if report.Summary.Files != 1 || report.Summary.RowsImported != 2 {
		t.Errorf("unexpected summary: %+v", report.Summary)
	}
	if report.Files[0].Outcome == nil || report.Files[0].Outcome.StatementID == "" {
		t.Errorf("expected a stored statement, got %+v", report.Files[0])
	}
}

func TestIngestCommandFailures(t *testing.T) {
	fsys := newTestFs(t, map[string]string{
		"/etc/ingester.yaml": testConfig,
		"/jan.csv":           janCSV,
		"/junk.csv":          "Foo,Bar\n1,2\n",
	})

	stdout, _, err := run(t, fsys, "--config", "/etc/ingester.yaml",
		"ingest", "--account", "checking", "/jan.csv", "/junk.csv", "/missing.csv")
	if err == nil {
		t.Fatalf("expected error but got none")
	}

	summary, ok := err.(*errors.ErrorSummary)
	if !ok {
		t.Fatalf("expected an error summary, got %T: %v", err, err)
	}
	if summary.Total != 2 {
		t.Errorf("expected 2 failed files, got %d", summary.Total)
	}
	if !summary.HasCategory(errors.CategoryFile) {
		t.Errorf("expected the missing file to be reported as a file error")
	}
	if summary.ByCode[errors.CodeMissingRole] != 1 {
		t.Errorf("expected one missing_role failure, got %v", summary.ByCode)
	}

	// The report still covers every file.
	for _, name := range []string{"/jan.csv", "/junk.csv", "/missing.csv", "STATEMENT IMPORT REPORT"} {
		if !strings.Contains(stdout, name) {
			t.Errorf("report should mention %q:\n%s", name, stdout)
		}
	}
}

func TestIngestOutputFile(t *testing.T) {
	fsys := newTestFs(t, map[string]string{
		"/etc/ingester.yaml": testConfig,
		"/jan.csv":           janCSV,
	})

	_, stderr, err := run(t, fsys, "--config", "/etc/ingester.yaml",
		"ingest", "--account", "checking", "-f", "csv", "-o", "/reports/run.csv", "/jan.csv")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(stderr, "/reports/run.csv") {
		t.Errorf("expected output path on stderr, got %q", stderr)
	}

	content, err := afero.ReadFile(fsys, "/reports/run.csv")
	if err != nil {
		t.Fatalf("report file not written: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(content)), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected header and one row, got %d lines:\n%s", len(lines), content)
	}
	if !strings.HasPrefix(lines[0], "File") {
		t.Errorf("expected CSV header, got %q", lines[0])
	}
}

func TestIngestAccountResolution(t *testing.T) {
	fsys := newTestFs(t, map[string]string{
		"/etc/ingester.yaml": testConfig,
		"/jan.csv":           janCSV,
	})

	tests := []struct {
		name string
		args []string
	}{
		{"unknown account", []string{"--account", "savings"}},
		{"account of another user", []string{"--account", "checking", "--user", "u2"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args := append([]string{"--config", "/etc/ingester.yaml", "ingest"}, tt.args...)
			args = append(args, "/jan.csv")
			_, _, err := run(t, fsys, args...)
			if !errors.HasCode(err, errors.CodeNotFound) {
				t.Errorf("expected not_found, got %v", err)
			}
		})
	}
}

func TestIngestFlagErrors(t *testing.T) {
	fsys := newTestFs(t, map[string]string{"/jan.csv": janCSV})

	if _, _, err := run(t, fsys, "ingest", "/jan.csv"); err == nil {
		t.Errorf("expected error when --account is missing")
	}
	if _, _, err := run(t, fsys, "ingest", "--account", "checking"); err == nil {
		t.Errorf("expected error without files")
	}
	_, _, err := run(t, fsys, "ingest", "--account", "checking", "-f", "xml", "/jan.csv")
	if !errors.HasCode(err, errors.CodeInvalidConfig) {
		t.Errorf("expected invalid_config for xml output, got %v", err)
	}
}

func TestConfigFileErrors(t *testing.T) {
	fsys := newTestFs(t, map[string]string{
		"/bad.yaml": "store:\n  driver: [\n",
		"/jan.csv":  janCSV,
	})

	for _, path := range []string{"/missing.yaml", "/bad.yaml"} {
		_, _, err := run(t, fsys, "--config", path, "ingest", "--account", "checking", "/jan.csv")
		if !errors.HasCode(err, errors.CodeInvalidConfig) {
			t.Errorf("%s: expected invalid_config, got %v", path, err)
		}
	}
}

func TestInferCommand(t *testing.T) {
	fsys := newTestFs(t, map[string]string{
		"/export.csv": "Account export\nPosting Date;Details;Debit;Credit;Balance\n01/02/2024;Rent;800;;1200\n",
	})

	stdout, stderr, err := run(t, fsys, "infer", "--delimiter", ";", "--skip-rows", "1", "/export.csv")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stderr != "" {
		t.Errorf("expected no warnings, got %q", stderr)
	}

	m, err := mapping.Decode([]byte(stdout))
	if err != nil {
		t.Fatalf("output is not a mapping document: %v\n%s", err, stdout)
	}
	if m.Date != "Posting Date" || m.Description != "Details" {
		t.Errorf("unexpected date/description mapping: %+v", m)
	}
	if m.Debit != "Debit" || m.Credit != "Credit" || m.Amount != "" {
		t.Errorf("expected debit/credit mapping, got %+v", m)
	}
	if m.Balance != "Balance" {
		t.Errorf("expected balance column, got %q", m.Balance)
	}
	if m.Delimiter != ';' || m.SkipRowsOrDefault() != 1 {
		t.Errorf("parse hints not carried over: delimiter %q skip_rows %d", m.Delimiter, m.SkipRowsOrDefault())
	}
}

func TestInferCommandWarnings(t *testing.T) {
	fsys := newTestFs(t, map[string]string{
		"/odd.csv":  "Foo,Bar\n1,2\n",
		"/stmt.pdf": "%PDF-1.4",
	})

	_, stderr, err := run(t, fsys, "infer", "/odd.csv")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(stderr, "no column found") || !strings.Contains(stderr, "Foo | Bar") {
		t.Errorf("expected missing role warning, got %q", stderr)
	}

	_, _, err = run(t, fsys, "infer", "/stmt.pdf")
	if !errors.HasCode(err, errors.CodeUnsupportedFile) {
		t.Errorf("expected unsupported_file for PDF, got %v", err)
	}

	_, _, err = run(t, fsys, "infer", "--delimiter", ";;", "/odd.csv")
	if !errors.HasCode(err, errors.CodeInvalidMapping) {
		t.Errorf("expected invalid_mapping for a two-character delimiter, got %v", err)
	}
}

func TestTransactionsCommand(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "statements.db")
	cfg := testConfig + fmt.Sprintf("store:\n  driver: sqlite\n  dsn: %q\n", dsn)
	fsys := newTestFs(t, map[string]string{
		"/etc/ingester.yaml": cfg,
		"/jan.csv":           janCSV,
	})

	stdout, _, err := run(t, fsys, "--config", "/etc/ingester.yaml",
		"ingest", "--account", "checking", "-f", "json", "/jan.csv")
	if err != nil {
		t.Fatalf("ingest failed: %v", err)
	}
	var report jsonReport
	if err := json.Unmarshal([]byte(stdout), &report); err != nil {
		t.Fatalf("report is not JSON: %v", err)
	}
	statementID := report.Files[0].Outcome.StatementID

	stdout, _, err = run(t, fsys, "--config", "/etc/ingester.yaml",
		"transactions", "--user", "u1", "-f", "csv", statementID)
	if err != nil {
		t.Fatalf("transactions failed: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(stdout), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected header and 2 rows, got:\n%s", stdout)
	}
	if lines[1] != "2024-01-15,Coffee Shop,-4.5,," {
		t.Errorf("unexpected first row %q", lines[1])
	}

	_, _, err = run(t, fsys, "--config", "/etc/ingester.yaml",
		"transactions", "--user", "u2", statementID)
	if !errors.HasCode(err, errors.CodeNotFound) {
		t.Errorf("statements of other users should be not_found, got %v", err)
	}
}

func TestErrorHandler(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected int
		contains []string
	}{
		{"nil", nil, 0, nil},
		{
			name:     "file error",
			err:      errors.FileError(errors.CodeFileNotFound, "jan.csv", os.ErrNotExist),
			expected: 2,
			contains: []string{"Error: file not found: jan.csv", "Suggestion:", "file: jan.csv", "File error help"},
		},
		{
			name:     "missing roles",
			err:      errors.MissingRolesError([]string{"date"}),
			expected: 4,
			contains: []string{"missing required mapping: date", "Configuration error help"},
		},
		{
			name: "summary",
			err: errors.NewErrorSummary([]*errors.IngestError{
				errors.FileError(errors.CodeFileNotFound, "a.csv", nil),
				errors.StorageError(errors.CodeCommitFailed, "commit", nil),
			}),
			expected: 5,
			contains: []string{"2 errors occurred", "1. ", "2. "},
		},
		{
			name:     "path error",
			err:      &fs.PathError{Op: "open", Path: "x.csv", Err: os.ErrNotExist},
			expected: 2,
			contains: []string{"File not found"},
		},
		{
			name:     "plain error",
			err:      fmt.Errorf("unknown flag: --bogus"),
			expected: 1,
			contains: []string{"unknown flag", "ingester --help"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			code := NewCLIErrorHandler(&out, false).HandleError(tt.err)
			if code != tt.expected {
				t.Errorf("expected exit code %d, got %d", tt.expected, code)
			}
			for _, s := range tt.contains {
				if !strings.Contains(out.String(), s) {
					t.Errorf("output should contain %q:\n%s", s, out.String())
				}
			}
		})
	}
}

func TestErrorHandlerVerbose(t *testing.T) {
	err := errors.StorageError(errors.CodeCommitFailed, "commit", fmt.Errorf("disk I/O error"))

	var quiet, verbose bytes.Buffer
	NewCLIErrorHandler(&quiet, false).HandleError(err)
	NewCLIErrorHandler(&verbose, true).HandleError(err)

	if strings.Contains(quiet.String(), "Underlying error") {
		t.Errorf("cause should only be shown in verbose mode")
	}
	if !strings.Contains(verbose.String(), "Underlying error: disk I/O error") {
		t.Errorf("expected cause in verbose output:\n%s", verbose.String())
	}
}
