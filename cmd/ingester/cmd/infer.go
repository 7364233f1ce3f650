package cmd

import (
	"fmt"
	"io"
	"os"
	"strings"
	"unicode/utf8"

	"github.com/spf13/cobra"

	"statement-ingestion-service/internal/mapping"
	"statement-ingestion-service/internal/models"
	"statement-ingestion-service/internal/parsers"
	"statement-ingestion-service/pkg/errors"
)

type inferOptions struct {
	delimiter  string
	skipRows   int
	encoding   string
	outputFile string
}

func (c *cli) newInferCommand() *cobra.Command {
	opts := &inferOptions{}
	cmd := &cobra.Command{
		Use:   "infer FILE",
		Short: "Suggest a column mapping from a statement's header",
		Long: `Infer reads the header row of a CSV or XLSX statement and prints the
column mapping the ingester would infer for it, as a YAML document that can
be pasted into the banks section of the config file.

Examples:
  ingester infer export.csv
  ingester infer --delimiter ';' --skip-rows 4 --encoding latin-1 umsatz.csv`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runInfer(cmd, args[0], opts)
		},
	}

	cmd.Flags().StringVarP(&opts.delimiter, "delimiter", "d", ",", "CSV field delimiter")
	cmd.Flags().IntVar(&opts.skipRows, "skip-rows", 0, "lines to skip before the header row")
	cmd.Flags().StringVar(&opts.encoding, "encoding", "", "file encoding (utf-8, latin-1, windows-1252)")
	cmd.Flags().StringVarP(&opts.outputFile, "output-file", "o", "", "output file path (default: stdout)")
	return cmd
}

func (c *cli) runInfer(cmd *cobra.Command, path string, opts *inferOptions) error {
	delimiter, size := utf8.DecodeRuneInString(opts.delimiter)
	if size == 0 || size != len(opts.delimiter) {
		return errors.ConfigurationError(errors.CodeInvalidMapping, "delimiter", opts.delimiter,
			fmt.Errorf("delimiter must be a single character"))
	}

	sourceType := models.ClassifySource(path)
	if !sourceType.IsParsed() {
		return errors.FileError(errors.CodeUnsupportedFile, path,
			fmt.Errorf("only CSV and XLSX headers can be inferred"))
	}

	f, err := c.fs.Open(path)
	if err != nil {
		code := errors.CodeFileNotFound
		if os.IsPermission(err) {
			code = errors.CodeFilePermission
		}
		return errors.FileError(code, path, err)
	}
	defer f.Close()

	cfg := parsers.DefaultSourceConfig()
	cfg.Name = path
	cfg.Delimiter = delimiter
	cfg.SkipRows = opts.skipRows
	cfg.Encoding = opts.encoding
	if err := cfg.Validate(); err != nil {
		return err
	}

	source, err := parsers.Open(sourceType, f, cfg)
	if err != nil {
		return err
	}
	defer source.Close()

	inferred := mapping.Infer(source.Header().Names())
	if sourceType == models.SourceCSV {
		inferred.Delimiter = delimiter
	}
	skip := opts.skipRows
	inferred.SkipRows = &skip
	inferred.Encoding = opts.encoding

	doc, err := mapping.Encode(inferred)
	if err != nil {
		return errors.InternalError(errors.CodeUnexpectedError, "encode mapping", err)
	}

	if missing := inferred.MissingRoles(); len(missing) > 0 {
		fmt.Fprintf(cmd.ErrOrStderr(), "Warning: no column found for: %s\n", strings.Join(missing, ", "))
		fmt.Fprintf(cmd.ErrOrStderr(), "Header: %s\n", strings.Join(source.Header().Names(), " | "))
	}

	return c.writeReport(cmd, opts.outputFile, func(w io.Writer) error {
		_, err := w.Write(doc)
		return err
	})
}
