package models

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/civil"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	// MaxDescriptionLength is the stored length limit for descriptions, in characters.
	MaxDescriptionLength = 500
	// MaxReferenceLength is the stored length limit for references, in characters.
	MaxReferenceLength = 120
	// NoDescription replaces blank descriptions.
	NoDescription = "(no description)"
)

// SourceType classifies an uploaded statement file
type SourceType string

const (
	SourceCSV  SourceType = "csv"
	SourceXLSX SourceType = "xlsx"
	SourcePDF  SourceType = "pdf"
)

// String returns the string representation of SourceType
func (s SourceType) String() string {
	return string(s)
}

// IsParsed reports whether files of this type are turned into transactions
func (s SourceType) IsParsed() bool {
	return s == SourceCSV || s == SourceXLSX
}

// ClassifySource picks the source type from a declared filename. Only the
// extension is considered.
func ClassifySource(filename string) SourceType {
	name := strings.ToLower(strings.TrimSpace(filename))
	switch {
	case strings.HasSuffix(name, ".pdf"):
		return SourcePDF
	case strings.HasSuffix(name, ".xlsx"):
		return SourceXLSX
	default:
		return SourceCSV
	}
}

// AccountContext identifies who owns an import
type AccountContext struct {
	UserID      string `json:"user_id"`
	AccountID   string `json:"account_id"`
	StatementID string `json:"statement_id,omitempty"`
}

// Validate checks that the owning user and account are set
func (a AccountContext) Validate() error {
	if strings.TrimSpace(a.UserID) == "" {
		return fmt.Errorf("user ID cannot be empty")
	}
	if strings.TrimSpace(a.AccountID) == "" {
		return fmt.Errorf("account ID cannot be empty")
	}
	return nil
}

// NormalizedTransaction is a bank-agnostic transaction with a signed amount.
// Positive amounts are inflows, negative amounts are outflows.
type NormalizedTransaction struct {
	ID          string           `json:"id"`
	UserID      string           `json:"user_id"`
	AccountID   string           `json:"account_id"`
	StatementID string           `json:"statement_id"`
	Date        civil.Date       `json:"date"`
	Description string           `json:"description"`
	Amount      decimal.Decimal  `json:"amount"`
	Balance     *decimal.Decimal `json:"balance,omitempty"`
	Reference   string           `json:"reference,omitempty"`
}

// NewNormalizedTransaction stamps a new transaction with an ID and owner.
// Description and reference are normalized to their stored form.
func NewNormalizedTransaction(owner AccountContext, date civil.Date, description string, amount decimal.Decimal) *NormalizedTransaction {
	return &NormalizedTransaction{
		ID:          uuid.NewString(),
		UserID:      owner.UserID,
		AccountID:   owner.AccountID,
		StatementID: owner.StatementID,
		Date:        date,
		Description: NormalizeDescription(description),
		Amount:      amount,
	}
}

// WithBalance sets the running balance
func (t *NormalizedTransaction) WithBalance(balance decimal.Decimal) *NormalizedTransaction {
	t.Balance = &balance
	return t
}

// WithReference sets the reference, truncated to its stored length
func (t *NormalizedTransaction) WithReference(reference string) *NormalizedTransaction {
	t.Reference = Truncate(strings.TrimSpace(reference), MaxReferenceLength)
	return t
}

// Validate performs basic validation on the transaction
func (t *NormalizedTransaction) Validate() error {
	if strings.TrimSpace(t.StatementID) == "" {
		return fmt.Errorf("transaction statement ID cannot be empty")
	}
	if !t.Date.IsValid() {
		return fmt.Errorf("transaction date is not a valid calendar date")
	}
	if t.Description == "" {
		return fmt.Errorf("transaction description cannot be empty")
	}
	if len([]rune(t.Description)) > MaxDescriptionLength {
		return fmt.Errorf("transaction description exceeds %d characters", MaxDescriptionLength)
	}
	if len([]rune(t.Reference)) > MaxReferenceLength {
		return fmt.Errorf("transaction reference exceeds %d characters", MaxReferenceLength)
	}
	return nil
}

// IsOutflow returns true if money left the account
func (t *NormalizedTransaction) IsOutflow() bool {
	return t.Amount.IsNegative()
}

// String returns a string representation of the transaction
func (t *NormalizedTransaction) String() string {
	return fmt.Sprintf("Transaction{Date: %s, Amount: %s, Description: %q}",
		t.Date.String(), t.Amount.StringFixed(2), t.Description)
}

// MarshalJSON renders amounts as fixed two-place strings
func (t *NormalizedTransaction) MarshalJSON() ([]byte, error) {
	type Alias NormalizedTransaction
	aux := &struct {
		Amount  string  `json:"amount"`
		Balance *string `json:"balance,omitempty"`
		*Alias
	}{
		Amount: t.Amount.StringFixed(2),
		Alias:  (*Alias)(t),
	}
	if t.Balance != nil {
		balance := t.Balance.StringFixed(2)
		aux.Balance = &balance
	}
	return json.Marshal(aux)
}

// UnmarshalJSON implements custom JSON unmarshaling for NormalizedTransaction
func (t *NormalizedTransaction) UnmarshalJSON(data []byte) error {
	type Alias NormalizedTransaction
	aux := &struct {
		Amount  string  `json:"amount"`
		Balance *string `json:"balance,omitempty"`
		*Alias
	}{
		Alias: (*Alias)(t),
	}

	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	amount, err := decimal.NewFromString(aux.Amount)
	if err != nil {
		return fmt.Errorf("invalid amount format: %w", err)
	}
	t.Amount = amount

	t.Balance = nil
	if aux.Balance != nil {
		balance, err := decimal.NewFromString(*aux.Balance)
		if err != nil {
			return fmt.Errorf("invalid balance format: %w", err)
		}
		t.Balance = &balance
	}

	return nil
}

// Statement is the persisted record of one uploaded file
type Statement struct {
	ID                 string      `json:"id"`
	UserID             string      `json:"user_id"`
	AccountID          string      `json:"account_id"`
	SourceType         SourceType  `json:"source_type"`
	Filename           string      `json:"filename"`
	Fingerprint        string      `json:"fingerprint"`
	UploadedAt         time.Time   `json:"uploaded_at"`
	RowCount           int         `json:"row_count"`
	MappingVersionUsed int         `json:"mapping_version_used"`
	ParsedOK           bool        `json:"parsed_ok"`
	ParseError         string      `json:"parse_error"`
	StartDate          *civil.Date `json:"statement_start,omitempty"`
	EndDate            *civil.Date `json:"statement_end,omitempty"`
	PageCount          int         `json:"page_count,omitempty"`
}

// NewStatement creates a pending statement for an upload
func NewStatement(owner AccountContext, filename string, sourceType SourceType, fingerprint string) *Statement {
	return &Statement{
		ID:          uuid.NewString(),
		UserID:      owner.UserID,
		AccountID:   owner.AccountID,
		SourceType:  sourceType,
		Filename:    filename,
		Fingerprint: fingerprint,
		UploadedAt:  time.Now().UTC(),
	}
}

// Owner returns the account context this statement belongs to
func (s *Statement) Owner() AccountContext {
	return AccountContext{
		UserID:      s.UserID,
		AccountID:   s.AccountID,
		StatementID: s.ID,
	}
}

// ApplyOutcome copies the terminal import state onto the statement
func (s *Statement) ApplyOutcome(outcome *ImportOutcome) {
	s.RowCount = outcome.RowsSeen
	s.MappingVersionUsed = outcome.MappingVersionUsed
	s.ParsedOK = outcome.ParsedOK
	s.ParseError = outcome.ParseError
	s.StartDate = outcome.StartDate
	s.EndDate = outcome.EndDate
	if outcome.PageCount > 0 {
		s.PageCount = outcome.PageCount
	}
}

// Validate performs basic validation on the statement
func (s *Statement) Validate() error {
	if err := (AccountContext{UserID: s.UserID, AccountID: s.AccountID}).Validate(); err != nil {
		return err
	}
	if strings.TrimSpace(s.Fingerprint) == "" {
		return fmt.Errorf("statement fingerprint cannot be empty")
	}
	if !s.ParsedOK && s.RowCount > 0 && s.ParseError == "" {
		return fmt.Errorf("unparsed statement must carry a parse error")
	}
	return nil
}

// DateRange computes the earliest and latest transaction dates
func DateRange(transactions []NormalizedTransaction) (start, end *civil.Date) {
	for i := range transactions {
		d := transactions[i].Date
		if start == nil || d.Before(*start) {
			s := d
			start = &s
		}
		if end == nil || d.After(*end) {
			e := d
			end = &e
		}
	}
	return start, end
}

// NormalizeDescription trims a raw description, substitutes the placeholder
// when blank and truncates to the stored length.
func NormalizeDescription(raw string) string {
	desc := strings.TrimSpace(raw)
	if desc == "" {
		return NoDescription
	}
	return Truncate(desc, MaxDescriptionLength)
}

// Truncate cuts s to at most n characters
func Truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
