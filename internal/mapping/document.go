package mapping

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/spf13/cast"
	"gopkg.in/yaml.v3"

	"statement-ingestion-service/pkg/errors"
)

const (
	keyDateFormat = "date_format"
	keyDelimiter  = "delimiter"
	keySkipRows   = "skip_rows"
	keyEncoding   = "encoding"
)

// Supported encoding hints
const (
	EncodingUTF8        = "utf-8"
	EncodingLatin1      = "latin-1"
	EncodingWindows1252 = "windows-1252"
)

var encodingAliases = map[string]string{
	"utf-8":        EncodingUTF8,
	"utf8":         EncodingUTF8,
	"utf-8-sig":    EncodingUTF8,
	"latin-1":      EncodingLatin1,
	"latin1":       EncodingLatin1,
	"iso-8859-1":   EncodingLatin1,
	"windows-1252": EncodingWindows1252,
	"cp1252":       EncodingWindows1252,
}

// Decode parses a JSON or YAML mapping document
func Decode(doc []byte) (ColumnMapping, error) {
	if len(strings.TrimSpace(string(doc))) == 0 {
		return ColumnMapping{}, nil
	}

	var raw map[string]interface{}
	if err := yaml.Unmarshal(doc, &raw); err != nil {
		return ColumnMapping{}, errors.ConfigurationError(errors.CodeInvalidMapping, "mapping", string(doc), err)
	}
	return FromMap(raw)
}

// FromMap builds a mapping from a loosely typed document. Role keys may be
// given bare ("date") or in column form ("date_column"). Null and empty
// values mean unset. Unknown keys are rejected.
func FromMap(doc map[string]interface{}) (ColumnMapping, error) {
	var m ColumnMapping

	keys := make([]string, 0, len(doc))
	for k := range doc {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	seen := make(map[Role]string)
	for _, key := range keys {
		value := doc[key]
		name := strings.ToLower(strings.TrimSpace(key))

		if role, ok := roleForKey(name); ok {
			if prev, dup := seen[role]; dup {
				return ColumnMapping{}, errors.ConfigurationError(errors.CodeInvalidMapping, key, value,
					fmt.Errorf("role %s is also set by %q", role, prev))
			}
			seen[role] = key

			column, err := stringValue(key, value)
			if err != nil {
				return ColumnMapping{}, err
			}
			m.SetColumn(role, strings.TrimSpace(column))
			continue
		}

		if err := applyHint(&m, name, key, value); err != nil {
			return ColumnMapping{}, err
		}
	}

	return m, nil
}

func applyHint(m *ColumnMapping, name, key string, value interface{}) error {
	switch name {
	case keyDateFormat:
		format, err := stringValue(key, value)
		if err != nil {
			return err
		}
		layout, err := ToLayout(strings.TrimSpace(format))
		if err != nil {
			return errors.ConfigurationError(errors.CodeInvalidMapping, key, value, err)
		}
		m.DateFormat = layout

	case keyDelimiter:
		delim, err := stringValue(key, value)
		if err != nil {
			return err
		}
		if delim == "" {
			return nil
		}
		if utf8.RuneCountInString(delim) != 1 {
			return errors.ConfigurationError(errors.CodeInvalidMapping, key, value,
				fmt.Errorf("delimiter must be a single character"))
		}
		r, _ := utf8.DecodeRuneInString(delim)
		if r == '"' || r == '\r' || r == '\n' || r == utf8.RuneError {
			return errors.ConfigurationError(errors.CodeInvalidMapping, key, value,
				fmt.Errorf("%q cannot be used as a delimiter", r))
		}
		m.Delimiter = r

	case keySkipRows:
		if value == nil {
			return nil
		}
		if s, ok := value.(string); ok && strings.TrimSpace(s) == "" {
			return nil
		}
		n, err := IntValue(value)
		if err != nil {
			return errors.ConfigurationError(errors.CodeInvalidMapping, key, value, err)
		}
		if n < 0 {
			return errors.ConfigurationError(errors.CodeInvalidMapping, key, value,
				fmt.Errorf("skip_rows must not be negative"))
		}
		m.SkipRows = &n

	case keyEncoding:
		enc, err := stringValue(key, value)
		if err != nil {
			return err
		}
		if enc == "" {
			return nil
		}
		canonical, ok := encodingAliases[strings.ToLower(strings.TrimSpace(enc))]
		if !ok {
			return errors.ConfigurationError(errors.CodeInvalidMapping, key, value,
				fmt.Errorf("supported encodings are utf-8, latin-1 and windows-1252"))
		}
		m.Encoding = canonical

	default:
		return errors.ConfigurationError(errors.CodeUnknownRole, key, value, nil)
	}
	return nil
}

// ToDocument renders a mapping as a document using bare role keys.
// Delimiter and skip_rows are always present so the output is complete.
func ToDocument(m ColumnMapping) map[string]interface{} {
	doc := make(map[string]interface{})
	for _, role := range Roles {
		if col := m.Column(role); col != "" {
			doc[string(role)] = col
		} else {
			doc[string(role)] = nil
		}
	}
	if m.DateFormat != "" {
		doc[keyDateFormat] = m.DateFormat
	} else {
		doc[keyDateFormat] = nil
	}
	doc[keyDelimiter] = string(m.DelimiterOrDefault())
	doc[keySkipRows] = m.SkipRowsOrDefault()
	if m.Encoding != "" {
		doc[keyEncoding] = m.Encoding
	}
	return doc
}

// Encode renders a mapping as a YAML document
func Encode(m ColumnMapping) ([]byte, error) {
	return yaml.Marshal(ToDocument(m))
}

func roleForKey(name string) (Role, bool) {
	name = strings.TrimSuffix(name, "_column")
	for _, role := range Roles {
		if string(role) == name {
			return role, true
		}
	}
	return "", false
}

func stringValue(key string, value interface{}) (string, error) {
	if value == nil {
		return "", nil
	}
	switch value.(type) {
	case map[string]interface{}, []interface{}:
		return "", errors.ConfigurationError(errors.CodeInvalidMapping, key, value,
			fmt.Errorf("expected a scalar value"))
	}
	s, err := cast.ToStringE(value)
	if err != nil {
		return "", errors.ConfigurationError(errors.CodeInvalidMapping, key, value, err)
	}
	return s, nil
}

// IntValue coerces a configuration value to an int. Strings are read as
// base-10 so leading zeros are not taken as octal.
func IntValue(value interface{}) (int, error) {
	if s, ok := value.(string); ok {
		return strconv.Atoi(strings.TrimSpace(s))
	}
	return cast.ToIntE(value)
}
