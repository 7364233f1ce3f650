package mapping

import "strings"

// candidates holds header synonyms per role, in priority order
var candidates = []struct {
	role  Role
	names []string
}{
	{RoleDate, []string{"date", "posting date", "transaction date", "posted date"}},
	{RoleDescription, []string{"description", "details", "memo", "merchant", "transaction description", "name"}},
	{RoleAmount, []string{"amount", "transaction amount"}},
	{RoleDebit, []string{"debit", "withdrawal", "outflow", "charge"}},
	{RoleCredit, []string{"credit", "deposit", "inflow", "payment"}},
	{RoleBalance, []string{"balance", "running balance"}},
}

// Candidates returns the synonym list for a role. Roles without synonyms
// return nil.
func Candidates(role Role) []string {
	for _, c := range candidates {
		if c.role == role {
			return append([]string(nil), c.names...)
		}
	}
	return nil
}

// Infer guesses a mapping from a literal header row. Candidates are tried in
// priority order; for each candidate the first header in file order whose
// trimmed, lower-cased text equals it wins. When an amount column is found,
// debit and credit are left unset.
func Infer(headers []string) ColumnMapping {
	normalized := make([]string, len(headers))
	for i, h := range headers {
		normalized[i] = normalizeHeader(h)
	}

	var m ColumnMapping
	for _, c := range candidates {
		if col, ok := pick(headers, normalized, c.names); ok {
			m.SetColumn(c.role, col)
		}
	}

	if m.Amount != "" {
		m.Debit = ""
		m.Credit = ""
	}
	return m
}

func pick(headers, normalized, names []string) (string, bool) {
	for _, name := range names {
		for i, h := range normalized {
			if h == name {
				return headers[i], true
			}
		}
	}
	return "", false
}

func normalizeHeader(h string) string {
	return strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))
}
