package store

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"cloud.google.com/go/civil"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"go.uber.org/multierr"

	"statement-ingestion-service/internal/models"
	"statement-ingestion-service/pkg/logger"
)

// pgUniqueViolation is the SQLSTATE for unique_violation
const pgUniqueViolation = "23505"

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS statements (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		account_id TEXT NOT NULL,
		source_type TEXT NOT NULL,
		filename TEXT NOT NULL,
		fingerprint CHAR(64) NOT NULL,
		uploaded_at TIMESTAMPTZ NOT NULL,
		row_count INTEGER NOT NULL DEFAULT 0,
		mapping_version_used INTEGER NOT NULL DEFAULT 0,
		parsed_ok BOOLEAN NOT NULL DEFAULT FALSE,
		parse_error TEXT NOT NULL DEFAULT '',
		statement_start DATE,
		statement_end DATE,
		page_count INTEGER NOT NULL DEFAULT 0
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_statements_fingerprint
		ON statements (user_id, account_id, fingerprint)`,
	`CREATE TABLE IF NOT EXISTS transactions (
		id TEXT PRIMARY KEY,
		statement_id TEXT NOT NULL REFERENCES statements (id) ON DELETE CASCADE,
		user_id TEXT NOT NULL,
		account_id TEXT NOT NULL,
		seq INTEGER NOT NULL,
		date DATE NOT NULL,
		description VARCHAR(500) NOT NULL,
		amount NUMERIC NOT NULL,
		balance NUMERIC,
		reference VARCHAR(120) NOT NULL DEFAULT ''
	)`,
	`CREATE INDEX IF NOT EXISTS idx_transactions_statement
		ON transactions (statement_id, date, seq)`,
}

var transactionCopyColumns = []string{
	"id", "statement_id", "user_id", "account_id", "seq", "date", "description", "amount", "balance", "reference",
}

// PostgresStore persists statements in PostgreSQL through a pgx pool
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger logger.Logger
}

// OpenPostgres connects a pool and migrates the schema
func OpenPostgres(ctx context.Context, dsn string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, unavailable("open postgres", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, unavailable("ping postgres", err)
	}

	s := &PostgresStore{
		pool:   pool,
		logger: logger.GetGlobalLogger().WithComponent("store.postgres"),
	}
	for _, ddl := range postgresSchema {
		if _, err := pool.Exec(ctx, ddl); err != nil {
			pool.Close()
			return nil, unavailable("migrate postgres", err)
		}
	}

	s.logger.Debug("PostgreSQL store ready")
	return s, nil
}

// CreateStatement inserts the statement row
func (s *PostgresStore) CreateStatement(ctx context.Context, statement *models.Statement) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO statements (`+statementColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		statement.ID, statement.UserID, statement.AccountID, string(statement.SourceType),
		statement.Filename, statement.Fingerprint, statement.UploadedAt.UTC(),
		statement.RowCount, statement.MappingVersionUsed, statement.ParsedOK, statement.ParseError,
		pgDate(statement.StartDate), pgDate(statement.EndDate), statement.PageCount,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if stderrors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return duplicateStatement(statement, err)
		}
		return unavailable("create statement", err)
	}
	return nil
}

// GetStatement loads a statement by ID
func (s *PostgresStore) GetStatement(ctx context.Context, statementID string) (*models.Statement, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+statementColumns+` FROM statements WHERE id = $1`, statementID)
	statement, err := scanPgStatement(row)
	if stderrors.Is(err, pgx.ErrNoRows) {
		return nil, statementNotFound(statementID)
	}
	if err != nil {
		return nil, unavailable("get statement", err)
	}
	return statement, nil
}

// FindStatementByFingerprint looks up a statement within one user and account
func (s *PostgresStore) FindStatementByFingerprint(ctx context.Context, userID, accountID, fingerprint string) (*models.Statement, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+statementColumns+` FROM statements WHERE user_id = $1 AND account_id = $2 AND fingerprint = $3`,
		userID, accountID, fingerprint)
	statement, err := scanPgStatement(row)
	if stderrors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, unavailable("find statement", err)
	}
	return statement, nil
}

// UpdateStatement writes the terminal import metadata
func (s *PostgresStore) UpdateStatement(ctx context.Context, statement *models.Statement) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE statements SET row_count = $1, mapping_version_used = $2, parsed_ok = $3, parse_error = $4,
			statement_start = $5, statement_end = $6, page_count = $7
		WHERE id = $8`,
		statement.RowCount, statement.MappingVersionUsed, statement.ParsedOK, statement.ParseError,
		pgDate(statement.StartDate), pgDate(statement.EndDate), statement.PageCount, statement.ID,
	)
	if err != nil {
		return unavailable("update statement", err)
	}
	if tag.RowsAffected() == 0 {
		return statementNotFound(statement.ID)
	}
	return nil
}

// ReplaceTransactions deletes the old batch and copies the new one in a
// single database transaction
func (s *PostgresStore) ReplaceTransactions(ctx context.Context, statementID string, transactions []models.NormalizedTransaction) (err error) {
	if err := validateBatch(statementID, transactions); err != nil {
		return err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return commitFailed(statementID, err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(ctx); rbErr != nil && !stderrors.Is(rbErr, pgx.ErrTxClosed) {
				err = multierr.Append(err, rbErr)
			}
		}
	}()

	var exists int
	if err = tx.QueryRow(ctx, `SELECT 1 FROM statements WHERE id = $1 FOR UPDATE`, statementID).Scan(&exists); err != nil {
		if stderrors.Is(err, pgx.ErrNoRows) {
			return statementNotFound(statementID)
		}
		return commitFailed(statementID, err)
	}

	if _, err = tx.Exec(ctx, `DELETE FROM transactions WHERE statement_id = $1`, statementID); err != nil {
		return commitFailed(statementID, err)
	}

	src := pgx.CopyFromSlice(len(transactions), func(i int) ([]any, error) {
		t := &transactions[i]
		return []any{
			t.ID, statementID, t.UserID, t.AccountID, int32(i), pgDate(&t.Date),
			t.Description, pgNumeric(&t.Amount), pgNumeric(t.Balance), t.Reference,
		}, nil
	})
	if _, err = tx.CopyFrom(ctx, pgx.Identifier{"transactions"}, transactionCopyColumns, src); err != nil {
		return commitFailed(statementID, err)
	}

	if err = tx.Commit(ctx); err != nil {
		return commitFailed(statementID, err)
	}

	s.logger.WithFields(logger.Fields{
		"statement_id": statementID,
		"count":        len(transactions),
	}).Debug("Committed transaction batch")
	return nil
}

// ListTransactions returns a statement's transactions ordered by date
func (s *PostgresStore) ListTransactions(ctx context.Context, statementID string) ([]models.NormalizedTransaction, error) {
	if _, err := s.GetStatement(ctx, statementID); err != nil {
		return nil, err
	}

	rows, err := s.pool.Query(ctx, `
		SELECT id, statement_id, user_id, account_id, date, description, amount, balance, reference
		FROM transactions WHERE statement_id = $1 ORDER BY date, seq`, statementID)
	if err != nil {
		return nil, unavailable("list transactions", err)
	}
	defer rows.Close()

	transactions := []models.NormalizedTransaction{}
	for rows.Next() {
		var (
			t       models.NormalizedTransaction
			date    pgtype.Date
			amount  pgtype.Numeric
			balance pgtype.Numeric
		)
		if err := rows.Scan(&t.ID, &t.StatementID, &t.UserID, &t.AccountID, &date,
			&t.Description, &amount, &balance, &t.Reference); err != nil {
			return nil, unavailable("list transactions", err)
		}

		t.Date = civil.DateOf(date.Time)
		a, err := fromPgNumeric(amount)
		if err != nil || a == nil {
			return nil, unavailable("list transactions", fmt.Errorf("transaction %s has no usable amount: %v", t.ID, err))
		}
		t.Amount = *a
		if t.Balance, err = fromPgNumeric(balance); err != nil {
			return nil, unavailable("list transactions", err)
		}
		transactions = append(transactions, t)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("list transactions", err)
	}
	return transactions, nil
}

// Close closes the pool
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func scanPgStatement(row pgx.Row) (*models.Statement, error) {
	var (
		st         models.Statement
		sourceType string
		start, end pgtype.Date
	)
	err := row.Scan(&st.ID, &st.UserID, &st.AccountID, &sourceType, &st.Filename, &st.Fingerprint,
		&st.UploadedAt, &st.RowCount, &st.MappingVersionUsed, &st.ParsedOK, &st.ParseError,
		&start, &end, &st.PageCount)
	if err != nil {
		return nil, err
	}

	st.SourceType = models.SourceType(sourceType)
	st.UploadedAt = st.UploadedAt.UTC()
	if start.Valid {
		d := civil.DateOf(start.Time)
		st.StartDate = &d
	}
	if end.Valid {
		d := civil.DateOf(end.Time)
		st.EndDate = &d
	}
	return &st, nil
}

func pgDate(d *civil.Date) pgtype.Date {
	if d == nil {
		return pgtype.Date{}
	}
	return pgtype.Date{Time: d.In(time.UTC), Valid: true}
}

// pgNumeric keeps the exact coefficient and exponent of an amount
func pgNumeric(d *decimal.Decimal) pgtype.Numeric {
	if d == nil {
		return pgtype.Numeric{}
	}
	return pgtype.Numeric{Int: d.Coefficient(), Exp: d.Exponent(), Valid: true}
}

func fromPgNumeric(n pgtype.Numeric) (*decimal.Decimal, error) {
	if !n.Valid {
		return nil, nil
	}
	if n.NaN || n.InfinityModifier != pgtype.Finite {
		return nil, fmt.Errorf("non-finite numeric value")
	}
	d := decimal.NewFromBigInt(n.Int, n.Exp)
	return &d, nil
}
