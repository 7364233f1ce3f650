package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/sourcegraph/conc/pool"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"

	"statement-ingestion-service/cmd/ingester/config"
	"statement-ingestion-service/internal/ingest"
	"statement-ingestion-service/internal/models"
	"statement-ingestion-service/internal/reporter"
	"statement-ingestion-service/pkg/errors"
	"statement-ingestion-service/pkg/logger"
)

type ingestOptions struct {
	account      string
	user         string
	outputFormat string
	outputFile   string
}

// fileImport is the result of importing one file
type fileImport struct {
	path    string
	outcome *models.ImportOutcome
	err     error
}

func (c *cli) newIngestCommand() *cobra.Command {
	opts := &ingestOptions{}
	cmd := &cobra.Command{
		Use:   "ingest --account ID FILE...",
		Short: "Import statement files into an account",
		Long: `Ingest imports one or more statement files into a configured account.

CSV and XLSX files are parsed with the account's column mapping; PDF files
are stored for reference only. Files already imported into the account are
reported as duplicates according to the configured duplicate policy.

Examples:
  # Import two monthly exports
  ingester ingest --account checking jan.csv feb.csv

  # JSON report written to a file
  ingester ingest --account giro --output-format json --output-file report.json export.xlsx`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runIngest(cmd, args, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.account, "account", "a", "", "account to import into (required)")
	cmd.Flags().StringVarP(&opts.user, "user", "u", "", "owning user (default: the account's configured owner)")
	cmd.Flags().StringVarP(&opts.outputFormat, "output-format", "f", "console", "output format: console, json, csv")
	cmd.Flags().StringVarP(&opts.outputFile, "output-file", "o", "", "output file path (default: stdout)")
	cmd.Flags().Int("workers", 0, "number of files imported concurrently (default from config)")
	cmd.MarkFlagRequired("account")

	c.v.BindPFlag("workers", cmd.Flags().Lookup("workers"))
	return cmd
}

func (c *cli) runIngest(cmd *cobra.Command, paths []string, opts *ingestOptions) error {
	reportConfig, err := config.ReportConfig(opts.outputFormat)
	if err != nil {
		return err
	}
	generator, err := reporter.NewReportGenerator(reportConfig)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	rt, err := c.setup(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()

	account, err := rt.owner(opts.user, opts.account)
	if err != nil {
		return err
	}
	owner := models.AccountContext{UserID: account.UserID, AccountID: account.ID}

	op := logger.NewOperationLogger("ingest", rt.log).WithFields(logger.Fields{
		"account_id": owner.AccountID,
		"user_id":    owner.UserID,
		"files":      len(paths),
		"workers":    rt.cfg.Workers,
	})
	op.Step("Importing files")

	report := reporter.NewRunReport(time.Now())
	p := pool.NewWithResults[fileImport]().WithMaxGoroutines(rt.cfg.Workers)
	for _, path := range paths {
		path := path
		p.Go(func() fileImport {
			return c.importFile(ctx, rt.service, path, owner)
		})
	}

	var failed []*errors.IngestError
	for _, result := range p.Wait() {
		report.Add(result.path, result.outcome, result.err)
		if result.err != nil {
			failed = append(failed, errors.WrapIfNeeded(result.err, errors.CategoryInternal,
				errors.CodeUnexpectedError, "import "+result.path))
		}
	}
	report.Finish(time.Now())

	if err := c.writeReport(cmd, opts.outputFile, func(w io.Writer) error {
		return generator.GenerateReport(report, w)
	}); err != nil {
		return err
	}

	if len(failed) > 0 {
		summary := errors.NewErrorSummary(failed)
		op.Error(summary, "Some files failed to import")
		return summary
	}
	op.Success("All files imported")
	return nil
}

func (c *cli) importFile(ctx context.Context, importer *ingest.Service, path string, owner models.AccountContext) fileImport {
	f, err := c.fs.Open(path)
	if err != nil {
		code := errors.CodeFileNotFound
		if os.IsPermission(err) {
			code = errors.CodeFilePermission
		}
		return fileImport{path: path, err: errors.FileError(code, path, err)}
	}
	defer f.Close()

	outcome, err := importer.Import(ctx, ingest.Upload{
		Filename: filepath.Base(path),
		Body:     f,
	}, owner)
	return fileImport{path: path, outcome: outcome, err: err}
}

// writeReport sends output to the file named by path, or to the command's
// stdout when path is empty
func (c *cli) writeReport(cmd *cobra.Command, path string, render func(io.Writer) error) (err error) {
	if path == "" {
		return render(cmd.OutOrStdout())
	}

	out, err := c.fs.Create(path)
	if err != nil {
		return errors.FileError(errors.CodeFilePermission, path, err).
			WithSuggestion("check that the output directory exists and is writable")
	}
	defer func() {
		err = multierr.Append(err, out.Close())
	}()

	if err := render(out); err != nil {
		return err
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "Report written to: %s\n", path)
	return nil
}
