// Package store persists statements and their normalized transactions.
//
// Every implementation writes the transaction batch of one statement as a
// single atomic unit and enforces fingerprint uniqueness per user and account.
package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"statement-ingestion-service/internal/models"
	"statement-ingestion-service/pkg/errors"
)

// Supported store drivers
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMongo    = "mongo"
)

// DefaultMongoDatabase is used when no database name is configured
const DefaultMongoDatabase = "statements"

// Store is the backing transactional store shared by concurrent imports
type Store interface {
	// CreateStatement inserts a new statement record. A second statement with
	// the same user, account and fingerprint fails with duplicate_statement.
	CreateStatement(ctx context.Context, statement *models.Statement) error

	// GetStatement returns a statement by ID or a not_found error
	GetStatement(ctx context.Context, statementID string) (*models.Statement, error)

	// FindStatementByFingerprint returns nil without error when no statement
	// of this user and account carries the fingerprint.
	FindStatementByFingerprint(ctx context.Context, userID, accountID, fingerprint string) (*models.Statement, error)

	// UpdateStatement writes the terminal import metadata of a statement
	UpdateStatement(ctx context.Context, statement *models.Statement) error

	// ReplaceTransactions atomically swaps the full transaction batch of a
	// statement. On error no transaction of the batch is stored.
	ReplaceTransactions(ctx context.Context, statementID string, transactions []models.NormalizedTransaction) error

	// ListTransactions returns a statement's transactions ordered by date
	ListTransactions(ctx context.Context, statementID string) ([]models.NormalizedTransaction, error)

	Close() error
}

// Config selects and configures a store driver
type Config struct {
	Driver   string `mapstructure:"driver"`
	DSN      string `mapstructure:"dsn"`
	Database string `mapstructure:"database"`
}

// DefaultConfig returns an in-memory store configuration
func DefaultConfig() Config {
	return Config{Driver: DriverMemory}
}

// Validate checks the store configuration
func (c Config) Validate() error {
	switch c.Driver {
	case DriverMemory:
		return nil
	case DriverSQLite, DriverPostgres, DriverMongo:
		if strings.TrimSpace(c.DSN) == "" {
			return errors.ConfigurationError(errors.CodeMissingConfig, "store.dsn", c.Driver, nil)
		}
		return nil
	default:
		return errors.ConfigurationError(errors.CodeInvalidConfig, "store.driver", c.Driver,
			fmt.Errorf("driver must be one of %s", strings.Join(Drivers(), ", ")))
	}
}

// Drivers lists the supported driver names
func Drivers() []string {
	drivers := []string{DriverMemory, DriverSQLite, DriverPostgres, DriverMongo}
	sort.Strings(drivers)
	return drivers
}

// Open connects to the configured store and prepares its schema
func Open(ctx context.Context, cfg Config) (Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	switch cfg.Driver {
	case DriverSQLite:
		return OpenSQLite(ctx, cfg.DSN)
	case DriverPostgres:
		return OpenPostgres(ctx, cfg.DSN)
	case DriverMongo:
		database := cfg.Database
		if database == "" {
			database = DefaultMongoDatabase
		}
		return OpenMongo(ctx, cfg.DSN, database)
	default:
		return NewMemoryStore(), nil
	}
}

func duplicateStatement(statement *models.Statement, err error) error {
	return errors.StorageError(errors.CodeDuplicateStatement, "create statement", err).
		WithContext("user_id", statement.UserID).
		WithContext("account_id", statement.AccountID).
		WithContext("fingerprint", statement.Fingerprint)
}

func statementNotFound(statementID string) error {
	return errors.StorageError(errors.CodeNotFound, "statement "+statementID, nil).
		WithContext("statement_id", statementID)
}

func commitFailed(statementID string, err error) error {
	return errors.StorageError(errors.CodeCommitFailed, "transaction batch commit", err).
		WithContext("statement_id", statementID)
}

func unavailable(operation string, err error) error {
	return errors.WrapIfNeeded(err, errors.CategoryStorage, errors.CodeStoreUnavailable, operation+" failed")
}

func validateBatch(statementID string, transactions []models.NormalizedTransaction) error {
	for i := range transactions {
		if transactions[i].StatementID != statementID {
			return commitFailed(statementID, fmt.Errorf("transaction %s belongs to statement %q", transactions[i].ID, transactions[i].StatementID))
		}
		if err := transactions[i].Validate(); err != nil {
			return commitFailed(statementID, err)
		}
	}
	return nil
}

// sortTransactions orders a batch by date, keeping file order within a day
func sortTransactions(transactions []models.NormalizedTransaction) {
	sort.SliceStable(transactions, func(i, j int) bool {
		return transactions[i].Date.Before(transactions[j].Date)
	})
}

const timestampLayout = time.RFC3339Nano
