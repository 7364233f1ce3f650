package ingest

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"statement-ingestion-service/internal/mapping"
	"statement-ingestion-service/internal/models"
	"statement-ingestion-service/pkg/errors"
)

// Bank is a bank-level default column mapping
type Bank struct {
	Name           string
	MappingVersion int
	Mapping        mapping.ColumnMapping
}

// Account is a user's account at a bank, optionally overriding roles of the
// bank mapping
type Account struct {
	ID       string
	UserID   string
	Name     string
	Bank     string
	Override mapping.ColumnMapping
}

// MappingLookup resolves the mapping configuration of an owner's account
type MappingLookup interface {
	MappingFor(ctx context.Context, owner models.AccountContext) (MappingSource, error)
}

// Registry holds configured banks and accounts
type Registry struct {
	mu       sync.RWMutex
	banks    map[string]Bank
	accounts map[string]Account
}

// NewRegistry validates and indexes banks and accounts. Every account must
// reference a known bank.
func NewRegistry(banks []Bank, accounts []Account) (*Registry, error) {
	r := &Registry{
		banks:    make(map[string]Bank, len(banks)),
		accounts: make(map[string]Account, len(accounts)),
	}
	for _, b := range banks {
		if err := r.AddBank(b); err != nil {
			return nil, err
		}
	}
	for _, a := range accounts {
		if err := r.AddAccount(a); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// AddBank registers a bank mapping
func (r *Registry) AddBank(b Bank) error {
	if b.Name == "" {
		return errors.ConfigurationError(errors.CodeMissingConfig, "banks[].name", "", nil)
	}
	if b.MappingVersion < 0 {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "banks."+b.Name+".mapping_version", b.MappingVersion,
			fmt.Errorf("mapping_version must not be negative"))
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.banks[b.Name]; exists {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "banks."+b.Name, b.Name, fmt.Errorf("bank defined twice"))
	}
	r.banks[b.Name] = b
	return nil
}

// AddAccount registers an account of a known bank
func (r *Registry) AddAccount(a Account) error {
	if err := (models.AccountContext{UserID: a.UserID, AccountID: a.ID}).Validate(); err != nil {
		return errors.ConfigurationError(errors.CodeMissingConfig, "accounts[]", a.ID, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.banks[a.Bank]; !ok {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "accounts."+a.ID+".bank", a.Bank,
			fmt.Errorf("unknown bank"))
	}
	if _, exists := r.accounts[a.ID]; exists {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "accounts."+a.ID, a.ID, fmt.Errorf("account defined twice"))
	}
	r.accounts[a.ID] = a
	return nil
}

// Account returns an account owned by the user
func (r *Registry) Account(userID, accountID string) (Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.accounts[accountID]
	if !ok || a.UserID != userID {
		return Account{}, errors.StorageError(errors.CodeNotFound, "account "+accountID, nil).
			WithContext("user_id", userID).
			WithContext("account_id", accountID)
	}
	return a, nil
}

// Accounts returns all accounts sorted by ID
func (r *Registry) Accounts() []Account {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Account, 0, len(r.accounts))
	for _, a := range r.accounts {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// MappingFor returns the bank mapping, account override and mapping version
// for the owner's account
func (r *Registry) MappingFor(_ context.Context, owner models.AccountContext) (MappingSource, error) {
	a, err := r.Account(owner.UserID, owner.AccountID)
	if err != nil {
		return MappingSource{}, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	b := r.banks[a.Bank]
	return MappingSource{
		Bank:     b.Mapping,
		Override: a.Override,
		Version:  b.MappingVersion,
	}, nil
}
