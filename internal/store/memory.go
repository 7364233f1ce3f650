package store

import (
	"context"
	"fmt"
	"sync"

	"statement-ingestion-service/internal/models"
)

type fingerprintKey struct {
	userID      string
	accountID   string
	fingerprint string
}

// MemoryStore keeps statements and transactions in process memory.
// It is used by tests and the default CLI configuration.
type MemoryStore struct {
	mu            sync.RWMutex
	statements    map[string]*models.Statement
	byFingerprint map[fingerprintKey]string
	transactions  map[string][]models.NormalizedTransaction
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		statements:    make(map[string]*models.Statement),
		byFingerprint: make(map[fingerprintKey]string),
		transactions:  make(map[string][]models.NormalizedTransaction),
	}
}

func keyOf(s *models.Statement) fingerprintKey {
	return fingerprintKey{userID: s.UserID, accountID: s.AccountID, fingerprint: s.Fingerprint}
}

// CreateStatement stores a copy of the statement
func (m *MemoryStore) CreateStatement(ctx context.Context, statement *models.Statement) error {
	if err := ctx.Err(); err != nil {
		return unavailable("create statement", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	key := keyOf(statement)
	if _, exists := m.byFingerprint[key]; exists {
		return duplicateStatement(statement, nil)
	}

	stored := *statement
	m.statements[statement.ID] = &stored
	m.byFingerprint[key] = statement.ID
	return nil
}

// GetStatement returns a copy of the stored statement
func (m *MemoryStore) GetStatement(ctx context.Context, statementID string) (*models.Statement, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stored, ok := m.statements[statementID]
	if !ok {
		return nil, statementNotFound(statementID)
	}
	out := *stored
	return &out, nil
}

// FindStatementByFingerprint looks up a statement within one user and account
func (m *MemoryStore) FindStatementByFingerprint(ctx context.Context, userID, accountID, fingerprint string) (*models.Statement, error) {
	if err := ctx.Err(); err != nil {
		return nil, unavailable("find statement", err)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.byFingerprint[fingerprintKey{userID: userID, accountID: accountID, fingerprint: fingerprint}]
	if !ok {
		return nil, nil
	}
	out := *m.statements[id]
	return &out, nil
}

// UpdateStatement overwrites the import metadata of a stored statement
func (m *MemoryStore) UpdateStatement(ctx context.Context, statement *models.Statement) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored, ok := m.statements[statement.ID]
	if !ok {
		return statementNotFound(statement.ID)
	}
	stored.RowCount = statement.RowCount
	stored.MappingVersionUsed = statement.MappingVersionUsed
	stored.ParsedOK = statement.ParsedOK
	stored.ParseError = statement.ParseError
	stored.StartDate = statement.StartDate
	stored.EndDate = statement.EndDate
	stored.PageCount = statement.PageCount
	return nil
}

// ReplaceTransactions swaps the batch under the write lock
func (m *MemoryStore) ReplaceTransactions(ctx context.Context, statementID string, transactions []models.NormalizedTransaction) error {
	if err := ctx.Err(); err != nil {
		return commitFailed(statementID, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.statements[statementID]; !ok {
		return statementNotFound(statementID)
	}
	if err := validateBatch(statementID, transactions); err != nil {
		return err
	}

	batch := make([]models.NormalizedTransaction, len(transactions))
	seen := make(map[string]bool, len(transactions))
	for i := range transactions {
		if seen[transactions[i].ID] {
			return commitFailed(statementID, fmt.Errorf("duplicate transaction id %s", transactions[i].ID))
		}
		seen[transactions[i].ID] = true
		batch[i] = transactions[i]
	}
	m.transactions[statementID] = batch
	return nil
}

// ListTransactions returns a copy of the statement's transactions
func (m *MemoryStore) ListTransactions(ctx context.Context, statementID string) ([]models.NormalizedTransaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if _, ok := m.statements[statementID]; !ok {
		return nil, statementNotFound(statementID)
	}

	out := make([]models.NormalizedTransaction, len(m.transactions[statementID]))
	copy(out, m.transactions[statementID])
	sortTransactions(out)
	return out, nil
}

// Close is a no-op for the memory store
func (m *MemoryStore) Close() error {
	return nil
}
