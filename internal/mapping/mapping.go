// Package mapping resolves which physical columns of a statement file carry
// which semantic roles.
package mapping

import (
	"fmt"
	"strings"

	"statement-ingestion-service/pkg/errors"
)

// Role is a semantic field that must be mapped to a physical column
type Role string

const (
	RoleDate        Role = "date"
	RoleDescription Role = "description"
	RoleAmount      Role = "amount"
	RoleDebit       Role = "debit"
	RoleCredit      Role = "credit"
	RoleBalance     Role = "balance"
	RoleReference   Role = "reference"
)

// Roles lists every column role in canonical order
var Roles = []Role{RoleDate, RoleDescription, RoleAmount, RoleDebit, RoleCredit, RoleBalance, RoleReference}

// DefaultDelimiter is used when no delimiter hint is configured
const DefaultDelimiter = ','

// ColumnMapping assigns column names to roles and carries parse hints.
// The zero value of every field means "unset".
type ColumnMapping struct {
	Date        string `json:"date,omitempty"`
	Description string `json:"description,omitempty"`
	Amount      string `json:"amount,omitempty"`
	Debit       string `json:"debit,omitempty"`
	Credit      string `json:"credit,omitempty"`
	Balance     string `json:"balance,omitempty"`
	Reference   string `json:"reference,omitempty"`

	// DateFormat is a Go reference layout. Strptime patterns are translated
	// when a mapping document is decoded.
	DateFormat string `json:"date_format,omitempty"`
	Delimiter  rune   `json:"delimiter,omitempty"`
	SkipRows   *int   `json:"skip_rows,omitempty"`
	Encoding   string `json:"encoding,omitempty"`
}

// Column returns the column mapped to a role, or "" if unset
func (m ColumnMapping) Column(role Role) string {
	switch role {
	case RoleDate:
		return m.Date
	case RoleDescription:
		return m.Description
	case RoleAmount:
		return m.Amount
	case RoleDebit:
		return m.Debit
	case RoleCredit:
		return m.Credit
	case RoleBalance:
		return m.Balance
	case RoleReference:
		return m.Reference
	default:
		return ""
	}
}

// SetColumn assigns a column to a role
func (m *ColumnMapping) SetColumn(role Role, column string) {
	switch role {
	case RoleDate:
		m.Date = column
	case RoleDescription:
		m.Description = column
	case RoleAmount:
		m.Amount = column
	case RoleDebit:
		m.Debit = column
	case RoleCredit:
		m.Credit = column
	case RoleBalance:
		m.Balance = column
	case RoleReference:
		m.Reference = column
	}
}

// Has reports whether a role is mapped
func (m ColumnMapping) Has(role Role) bool {
	return m.Column(role) != ""
}

// HasAmountSource reports whether the mapping can produce a row amount,
// either from a signed amount column or from a debit/credit pair.
func (m ColumnMapping) HasAmountSource() bool {
	return m.Amount != "" || m.Debit != "" || m.Credit != ""
}

// DelimiterOrDefault returns the configured delimiter or a comma
func (m ColumnMapping) DelimiterOrDefault() rune {
	if m.Delimiter == 0 {
		return DefaultDelimiter
	}
	return m.Delimiter
}

// SkipRowsOrDefault returns the configured skip count or zero
func (m ColumnMapping) SkipRowsOrDefault() int {
	if m.SkipRows == nil {
		return 0
	}
	return *m.SkipRows
}

// MissingRoles lists the required roles the mapping does not resolve.
// An absent amount source is reported as "amount or debit/credit".
func (m ColumnMapping) MissingRoles() []string {
	var missing []string
	if m.Date == "" {
		missing = append(missing, string(RoleDate))
	}
	if m.Description == "" {
		missing = append(missing, string(RoleDescription))
	}
	if !m.HasAmountSource() {
		missing = append(missing, "amount or debit/credit")
	}
	return missing
}

// NeedsInference reports whether header inference should fill gaps
func (m ColumnMapping) NeedsInference() bool {
	return len(m.MissingRoles()) > 0
}

// Validate checks the post-resolution invariant: date and description are
// mapped and an amount source exists.
func (m ColumnMapping) Validate() error {
	if missing := m.MissingRoles(); len(missing) > 0 {
		return errors.MissingRolesError(missing)
	}
	if m.SkipRows != nil && *m.SkipRows < 0 {
		return errors.ConfigurationError(errors.CodeInvalidMapping, "skip_rows", *m.SkipRows, nil)
	}
	return nil
}

// String returns a compact representation of the mapped roles
func (m ColumnMapping) String() string {
	var parts []string
	for _, role := range Roles {
		if col := m.Column(role); col != "" {
			parts = append(parts, fmt.Sprintf("%s=%q", role, col))
		}
	}
	if m.DateFormat != "" {
		parts = append(parts, fmt.Sprintf("date_format=%q", m.DateFormat))
	}
	if m.Delimiter != 0 {
		parts = append(parts, fmt.Sprintf("delimiter=%q", m.Delimiter))
	}
	if m.SkipRows != nil {
		parts = append(parts, fmt.Sprintf("skip_rows=%d", *m.SkipRows))
	}
	if m.Encoding != "" {
		parts = append(parts, fmt.Sprintf("encoding=%s", m.Encoding))
	}
	return "ColumnMapping{" + strings.Join(parts, ", ") + "}"
}

// Resolve layers override mappings on top of a base mapping. Every field
// set in a later mapping replaces the same field of the earlier ones; unset
// fields fall through. Resolve(b, o) == Resolve(b, Resolve(b, o)).
func Resolve(base ColumnMapping, overrides ...ColumnMapping) ColumnMapping {
	resolved := base
	for _, o := range overrides {
		for _, role := range Roles {
			if col := o.Column(role); col != "" {
				resolved.SetColumn(role, col)
			}
		}
		if o.DateFormat != "" {
			resolved.DateFormat = o.DateFormat
		}
		if o.Delimiter != 0 {
			resolved.Delimiter = o.Delimiter
		}
		if o.SkipRows != nil {
			n := *o.SkipRows
			resolved.SkipRows = &n
		}
		if o.Encoding != "" {
			resolved.Encoding = o.Encoding
		}
	}
	if resolved.SkipRows != nil {
		n := *resolved.SkipRows
		resolved.SkipRows = &n
	}
	return resolved
}

// Merge fills gaps in an explicit mapping with inferred roles. Explicit
// roles always win. When the explicit mapping names any amount source, no
// inferred amount, debit or credit role is taken, so a file is never read
// through two amount conventions at once.
func Merge(explicit, inferred ColumnMapping) ColumnMapping {
	merged := explicit
	for _, role := range Roles {
		if merged.Has(role) || !inferred.Has(role) {
			continue
		}
		if isAmountRole(role) && explicit.HasAmountSource() {
			continue
		}
		merged.SetColumn(role, inferred.Column(role))
	}
	return merged
}

// ForHeaders completes a mapping against a concrete header row. Inference
// only runs when required roles are missing, and the result must satisfy
// Validate. The second return value reports whether inference filled any
// role.
func ForHeaders(m ColumnMapping, headers []string) (ColumnMapping, bool, error) {
	if !m.NeedsInference() {
		return m, false, m.Validate()
	}

	merged := Merge(m, Infer(headers))
	inferred := merged != m
	if err := merged.Validate(); err != nil {
		return merged, inferred, err
	}
	return merged, inferred, nil
}

func isAmountRole(role Role) bool {
	return role == RoleAmount || role == RoleDebit || role == RoleCredit
}
