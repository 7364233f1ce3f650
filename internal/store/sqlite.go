package store

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/civil"
	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
	"go.uber.org/multierr"

	"statement-ingestion-service/internal/models"
	"statement-ingestion-service/pkg/logger"
)

// SQLiteStore persists statements in a SQLite database file
type SQLiteStore struct {
	db     *sql.DB
	logger logger.Logger
}

// OpenSQLite opens (or creates) a SQLite database and migrates its schema.
// Use ":memory:" for a throwaway database.
func OpenSQLite(ctx context.Context, dsn string) (*SQLiteStore, error) {
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	db, err := sql.Open("sqlite3", dsn+sep+"_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, unavailable("open sqlite", err)
	}
	// One connection serializes writers and keeps an in-memory database alive.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{
		db:     db,
		logger: logger.GetGlobalLogger().WithComponent("store.sqlite"),
	}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, unavailable("migrate sqlite", err)
	}

	s.logger.WithField("dsn", dsn).Debug("SQLite store ready")
	return s, nil
}

func (s *SQLiteStore) migrate(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS statements (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		account_id TEXT NOT NULL,
		source_type TEXT NOT NULL,
		filename TEXT NOT NULL,
		fingerprint TEXT NOT NULL,
		uploaded_at TEXT NOT NULL,
		row_count INTEGER NOT NULL DEFAULT 0,
		mapping_version_used INTEGER NOT NULL DEFAULT 0,
		parsed_ok INTEGER NOT NULL DEFAULT 0,
		parse_error TEXT NOT NULL DEFAULT '',
		statement_start TEXT,
		statement_end TEXT,
		page_count INTEGER NOT NULL DEFAULT 0
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_statements_fingerprint
		ON statements(user_id, account_id, fingerprint);

	CREATE TABLE IF NOT EXISTS transactions (
		id TEXT PRIMARY KEY,
		statement_id TEXT NOT NULL REFERENCES statements(id) ON DELETE CASCADE,
		user_id TEXT NOT NULL,
		account_id TEXT NOT NULL,
		seq INTEGER NOT NULL,
		date TEXT NOT NULL,
		description TEXT NOT NULL,
		amount TEXT NOT NULL,
		balance TEXT,
		reference TEXT NOT NULL DEFAULT ''
	);

	CREATE INDEX IF NOT EXISTS idx_transactions_statement
		ON transactions(statement_id, date, seq);
	`
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

const statementColumns = `id, user_id, account_id, source_type, filename, fingerprint, uploaded_at,
	row_count, mapping_version_used, parsed_ok, parse_error, statement_start, statement_end, page_count`

// CreateStatement inserts the statement row
func (s *SQLiteStore) CreateStatement(ctx context.Context, statement *models.Statement) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO statements (`+statementColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		statement.ID, statement.UserID, statement.AccountID, string(statement.SourceType),
		statement.Filename, statement.Fingerprint, statement.UploadedAt.UTC().Format(timestampLayout),
		statement.RowCount, statement.MappingVersionUsed, statement.ParsedOK, statement.ParseError,
		nullDate(statement.StartDate), nullDate(statement.EndDate), statement.PageCount,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return duplicateStatement(statement, err)
		}
		return unavailable("create statement", err)
	}
	return nil
}

// GetStatement loads a statement by ID
func (s *SQLiteStore) GetStatement(ctx context.Context, statementID string) (*models.Statement, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+statementColumns+` FROM statements WHERE id = ?`, statementID)
	statement, err := scanStatement(row)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, statementNotFound(statementID)
	}
	if err != nil {
		return nil, unavailable("get statement", err)
	}
	return statement, nil
}

// FindStatementByFingerprint looks up a statement within one user and account
func (s *SQLiteStore) FindStatementByFingerprint(ctx context.Context, userID, accountID, fingerprint string) (*models.Statement, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+statementColumns+` FROM statements WHERE user_id = ? AND account_id = ? AND fingerprint = ?`,
		userID, accountID, fingerprint)
	statement, err := scanStatement(row)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, unavailable("find statement", err)
	}
	return statement, nil
}

// UpdateStatement writes the terminal import metadata
func (s *SQLiteStore) UpdateStatement(ctx context.Context, statement *models.Statement) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE statements SET row_count = ?, mapping_version_used = ?, parsed_ok = ?, parse_error = ?,
			statement_start = ?, statement_end = ?, page_count = ?
		WHERE id = ?`,
		statement.RowCount, statement.MappingVersionUsed, statement.ParsedOK, statement.ParseError,
		nullDate(statement.StartDate), nullDate(statement.EndDate), statement.PageCount, statement.ID,
	)
	if err != nil {
		return unavailable("update statement", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return statementNotFound(statement.ID)
	}
	return nil
}

// ReplaceTransactions deletes and re-inserts the batch inside one transaction
func (s *SQLiteStore) ReplaceTransactions(ctx context.Context, statementID string, transactions []models.NormalizedTransaction) (err error) {
	if err := validateBatch(statementID, transactions); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return commitFailed(statementID, err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil && !stderrors.Is(rbErr, sql.ErrTxDone) {
				err = multierr.Append(err, rbErr)
			}
		}
	}()

	var exists int
	if err = tx.QueryRowContext(ctx, `SELECT 1 FROM statements WHERE id = ?`, statementID).Scan(&exists); err != nil {
		if stderrors.Is(err, sql.ErrNoRows) {
			return statementNotFound(statementID)
		}
		return commitFailed(statementID, err)
	}

	if _, err = tx.ExecContext(ctx, `DELETE FROM transactions WHERE statement_id = ?`, statementID); err != nil {
		return commitFailed(statementID, err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO transactions (id, statement_id, user_id, account_id, seq, date, description, amount, balance, reference)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return commitFailed(statementID, err)
	}
	defer stmt.Close()

	for i := range transactions {
		t := &transactions[i]
		if _, err = stmt.ExecContext(ctx,
			t.ID, statementID, t.UserID, t.AccountID, i, t.Date.String(),
			t.Description, t.Amount.String(), nullDecimal(t.Balance), t.Reference,
		); err != nil {
			return commitFailed(statementID, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return commitFailed(statementID, err)
	}

	s.logger.WithFields(logger.Fields{
		"statement_id": statementID,
		"count":        len(transactions),
	}).Debug("Committed transaction batch")
	return nil
}

// ListTransactions returns a statement's transactions ordered by date
func (s *SQLiteStore) ListTransactions(ctx context.Context, statementID string) ([]models.NormalizedTransaction, error) {
	if _, err := s.GetStatement(ctx, statementID); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, statement_id, user_id, account_id, date, description, amount, balance, reference
		FROM transactions WHERE statement_id = ? ORDER BY date, seq`, statementID)
	if err != nil {
		return nil, unavailable("list transactions", err)
	}
	defer rows.Close()

	transactions := []models.NormalizedTransaction{}
	for rows.Next() {
		var (
			t       models.NormalizedTransaction
			date    string
			amount  decimal.Decimal
			balance decimal.NullDecimal
		)
		if err := rows.Scan(&t.ID, &t.StatementID, &t.UserID, &t.AccountID, &date,
			&t.Description, &amount, &balance, &t.Reference); err != nil {
			return nil, unavailable("list transactions", err)
		}
		if t.Date, err = civil.ParseDate(date); err != nil {
			return nil, unavailable("list transactions", err)
		}
		t.Amount = amount
		if balance.Valid {
			b := balance.Decimal
			t.Balance = &b
		}
		transactions = append(transactions, t)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("list transactions", err)
	}
	return transactions, nil
}

// Close closes the database
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanStatement(row rowScanner) (*models.Statement, error) {
	var (
		st         models.Statement
		sourceType string
		uploadedAt string
		start, end sql.NullString
	)
	err := row.Scan(&st.ID, &st.UserID, &st.AccountID, &sourceType, &st.Filename, &st.Fingerprint,
		&uploadedAt, &st.RowCount, &st.MappingVersionUsed, &st.ParsedOK, &st.ParseError,
		&start, &end, &st.PageCount)
	if err != nil {
		return nil, err
	}

	st.SourceType = models.SourceType(sourceType)
	if st.UploadedAt, err = time.Parse(timestampLayout, uploadedAt); err != nil {
		return nil, fmt.Errorf("invalid uploaded_at %q: %w", uploadedAt, err)
	}
	if st.StartDate, err = parseNullDate(start); err != nil {
		return nil, err
	}
	if st.EndDate, err = parseNullDate(end); err != nil {
		return nil, err
	}
	return &st, nil
}

func nullDate(d *civil.Date) sql.NullString {
	if d == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: d.String(), Valid: true}
}

func parseNullDate(s sql.NullString) (*civil.Date, error) {
	if !s.Valid {
		return nil, nil
	}
	d, err := civil.ParseDate(s.String)
	if err != nil {
		return nil, fmt.Errorf("invalid stored date %q: %w", s.String, err)
	}
	return &d, nil
}

func nullDecimal(d *decimal.Decimal) sql.NullString {
	if d == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: d.String(), Valid: true}
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
