// Package ingest turns one uploaded statement file into a committed batch of
// normalized transactions and reports the outcome.
package ingest

import (
	"context"
	"io"

	"statement-ingestion-service/internal/mapping"
	"statement-ingestion-service/internal/models"
	"statement-ingestion-service/internal/parsers"
	"statement-ingestion-service/pkg/errors"
	"statement-ingestion-service/pkg/logger"
)

// MappingSource is the bank/account configuration pair an import is
// resolved against
type MappingSource struct {
	Bank     mapping.ColumnMapping
	Override mapping.ColumnMapping
	Version  int
}

// Resolve applies the account override on top of the bank mapping
func (m MappingSource) Resolve() mapping.ColumnMapping {
	return mapping.Resolve(m.Bank, m.Override)
}

// TransactionCommitter stores the full transaction batch of a statement as
// one all-or-nothing unit
type TransactionCommitter interface {
	ReplaceTransactions(ctx context.Context, statementID string, transactions []models.NormalizedTransaction) error
}

// Input is one statement file to ingest
type Input struct {
	Name       string
	SourceType models.SourceType
	Body       io.Reader
}

// Ingestor parses statement files row by row and commits the valid rows
type Ingestor struct {
	committer     TransactionCommitter
	progressEvery int64
	logger        logger.Logger
}

// Option configures an Ingestor
type Option func(*Ingestor)

// WithProgressEvery sets how many rows pass between progress log lines
func WithProgressEvery(rows int64) Option {
	return func(i *Ingestor) {
		i.progressEvery = rows
	}
}

// WithLogger replaces the ingestor's logger
func WithLogger(l logger.Logger) Option {
	return func(i *Ingestor) {
		i.logger = l.WithComponent("ingestor")
	}
}

// NewIngestor creates an ingestor that commits through the given committer
func NewIngestor(committer TransactionCommitter, opts ...Option) *Ingestor {
	i := &Ingestor{
		committer: committer,
		logger:    logger.GetGlobalLogger().WithComponent("ingestor"),
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Ingest reads one statement file with the resolved mapping, stamps each
// usable row with the owner and commits the batch in one unit.
//
// Row-level problems only feed the skip tally. Configuration, read and commit
// failures are fatal: the returned outcome is failed, nothing counts as
// imported and the error is returned alongside it.
func (i *Ingestor) Ingest(ctx context.Context, in Input, src MappingSource, owner models.AccountContext) ([]models.NormalizedTransaction, *models.ImportOutcome, error) {
	outcome := models.NewImportOutcome(owner.StatementID, src.Version)
	outcome.Filename = in.Name
	outcome.SourceType = in.SourceType

	fail := func(err error) ([]models.NormalizedTransaction, *models.ImportOutcome, error) {
		outcome.Fail(err)
		i.logger.WithFields(logger.Fields{
			"file":         in.Name,
			"statement_id": owner.StatementID,
		}).WithError(err).Warn("Statement import failed")
		return nil, outcome, err
	}

	if err := owner.Validate(); err != nil {
		return fail(errors.ValidationError(errors.CodeMissingField, "owner", owner.UserID+"/"+owner.AccountID, err))
	}
	if owner.StatementID == "" {
		return fail(errors.ValidationError(errors.CodeMissingField, "statement_id", "", nil))
	}

	resolved := src.Resolve()
	cfg := parsers.SourceConfig{
		Name:          in.Name,
		Delimiter:     resolved.DelimiterOrDefault(),
		SkipRows:      resolved.SkipRowsOrDefault(),
		Encoding:      resolved.Encoding,
		SkipEmptyRows: true,
	}

	source, err := parsers.Open(in.SourceType, in.Body, cfg)
	if err != nil {
		return fail(err)
	}
	defer source.Close()

	header := source.Header()
	m, inferred, err := mapping.ForHeaders(resolved, header.Names())
	if err != nil {
		return fail(err)
	}
	if inferred {
		outcome.AddWarning("column mapping inferred from header: %s", m)
		i.logger.WithFields(logger.Fields{
			"file":    in.Name,
			"mapping": m.String(),
		}).Info("Inferred column mapping from header")
	}
	if err := checkColumns(m, header, cfg.SkipRows+1, outcome); err != nil {
		return fail(err)
	}

	transactions, tally, err := i.readRows(ctx, in.Name, source, m, owner, outcome)
	if err != nil {
		return fail(err)
	}

	if err := i.committer.ReplaceTransactions(ctx, owner.StatementID, transactions); err != nil {
		return fail(errors.WrapIfNeeded(err, errors.CategoryStorage, errors.CodeCommitFailed, "transaction batch commit failed"))
	}

	outcome.RowsImported = len(transactions)
	outcome.SkipReasons = tally.Reasons()
	outcome.StartDate, outcome.EndDate = models.DateRange(transactions)
	outcome.Succeed()

	i.logger.WithFields(logger.Fields{
		"file":          in.Name,
		"statement_id":  owner.StatementID,
		"rows_seen":     outcome.RowsSeen,
		"rows_imported": outcome.RowsImported,
		"rows_skipped":  tally.Total(),
	}).Info("Statement imported")

	return transactions, outcome, nil
}

func (i *Ingestor) readRows(ctx context.Context, name string, source parsers.RowSource, m mapping.ColumnMapping, owner models.AccountContext, outcome *models.ImportOutcome) ([]models.NormalizedTransaction, *SkipTally, error) {
	tally := NewSkipTally()
	transactions := []models.NormalizedTransaction{}

	progress := logger.NewProgressTracker(logger.ProgressConfig{
		Operation: "ingest " + name,
		LogEvery:  i.progressEvery,
		Logger:    i.logger,
	})

	for {
		row, err := source.Next(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			progress.CompleteWithError(err)
			return nil, nil, err
		}
		outcome.RowsSeen++
		progress.Increment()

		tx, rowErr := normalizeRow(row, m, owner)
		if rowErr != nil {
			tally.Record(rowErr)
			i.logger.WithFields(logger.Fields{
				"file":   name,
				"line":   rowErr.Line,
				"reason": string(rowErr.Reason),
			}).Debug("Skipped row")
			continue
		}
		transactions = append(transactions, *tx)
	}

	progress.Complete()
	return transactions, tally, nil
}

// normalizeRow converts one raw row. A blank description is never a reason
// to skip; balance and reference are optional.
func normalizeRow(row parsers.RawRow, m mapping.ColumnMapping, owner models.AccountContext) (*models.NormalizedTransaction, *errors.RowError) {
	rawDate := row.Get(m.Date)
	date, ok := parsers.ParseDate(rawDate, m.DateFormat)
	if !ok {
		return nil, errors.NewRowError(row.Line, errors.SkipInvalidDate, m.Date, rawDate)
	}

	amount, ok := parsers.ResolveRowAmount(row, m)
	if !ok {
		return nil, errors.NewRowError(row.Line, errors.SkipInvalidAmount, amountColumn(m), "")
	}

	tx := models.NewNormalizedTransaction(owner, date, row.Get(m.Description), amount)
	if m.Balance != "" {
		if balance, ok := parsers.ParseAmount(row.Get(m.Balance)); ok {
			tx.WithBalance(balance)
		}
	}
	if m.Reference != "" {
		tx.WithReference(row.Get(m.Reference))
	}
	return tx, nil
}

func amountColumn(m mapping.ColumnMapping) string {
	if m.Amount != "" {
		return m.Amount
	}
	if m.Debit != "" && m.Credit != "" {
		return m.Debit + "/" + m.Credit
	}
	if m.Debit != "" {
		return m.Debit
	}
	return m.Credit
}

// checkColumns fails when a required mapped column is absent from the
// header. Absent optional columns only produce warnings.
func checkColumns(m mapping.ColumnMapping, header *parsers.Header, headerLine int, outcome *models.ImportOutcome) error {
	for _, role := range []mapping.Role{mapping.RoleDate, mapping.RoleDescription, mapping.RoleAmount} {
		if col := m.Column(role); col != "" && !header.Has(col) {
			return errors.ParseError(errors.CodeMissingColumn, headerLine, col, "", nil).
				WithContext("role", string(role))
		}
	}

	if m.Amount == "" {
		present := 0
		for _, role := range []mapping.Role{mapping.RoleDebit, mapping.RoleCredit} {
			col := m.Column(role)
			if col == "" {
				continue
			}
			if header.Has(col) {
				present++
				continue
			}
			outcome.AddWarning("mapped %s column %q not found in header", role, col)
		}
		if present == 0 {
			col := amountColumn(m)
			return errors.ParseError(errors.CodeMissingColumn, headerLine, col, "", nil).
				WithContext("role", "amount or debit/credit")
		}
	}

	for _, role := range []mapping.Role{mapping.RoleBalance, mapping.RoleReference} {
		if col := m.Column(role); col != "" && !header.Has(col) {
			outcome.AddWarning("mapped %s column %q not found in header", role, col)
		}
	}
	return nil
}
