package cmd

import (
	"io"

	"github.com/spf13/cobra"

	"statement-ingestion-service/cmd/ingester/config"
	"statement-ingestion-service/internal/reporter"
	"statement-ingestion-service/pkg/errors"
)

type transactionsOptions struct {
	user         string
	outputFormat string
	outputFile   string
}

func (c *cli) newTransactionsCommand() *cobra.Command {
	opts := &transactionsOptions{}
	cmd := &cobra.Command{
		Use:   "transactions STATEMENT_ID",
		Short: "List the imported transactions of a statement",
		Long: `Transactions prints the committed transactions of a stored statement.

Examples:
  ingester transactions --user u1 3f2b9c1e-...
  ingester transactions --user u1 --output-format csv --output-file jan.csv 3f2b9c1e-...`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runTransactions(cmd, args[0], opts)
		},
	}

	cmd.Flags().StringVarP(&opts.user, "user", "u", "", "owning user (required)")
	cmd.Flags().StringVarP(&opts.outputFormat, "output-format", "f", "console", "output format: console, json, csv")
	cmd.Flags().StringVarP(&opts.outputFile, "output-file", "o", "", "output file path (default: stdout)")
	cmd.MarkFlagRequired("user")
	return cmd
}

func (c *cli) runTransactions(cmd *cobra.Command, statementID string, opts *transactionsOptions) error {
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

	statement, err := rt.store.GetStatement(ctx, statementID)
	if err == nil && statement.UserID != opts.user {
		err = errors.StorageError(errors.CodeNotFound, "statement "+statementID, nil)
	}
	if err != nil {
		return err
	}

	txs, err := rt.store.ListTransactions(ctx, statementID)
	if err != nil {
		return err
	}

	return c.writeReport(cmd, opts.outputFile, func(w io.Writer) error {
		return generator.GenerateTransactions(statement, txs, w)
	})
}
