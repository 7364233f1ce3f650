package mapping

import (
	"fmt"
	"strings"
)

var strptimeDirectives = map[byte]string{
	'Y': "2006",
	'y': "06",
	'm': "1",
	'd': "2",
	'b': "Jan",
	'B': "January",
	'a': "Mon",
	'A': "Monday",
	'H': "15",
	'I': "3",
	'M': "4",
	'S': "5",
	'p': "PM",
	'%': "%",
}

// ToLayout converts a strptime-style pattern into a Go reference layout.
// Patterns without a '%' are assumed to be Go layouts already. Numeric
// directives translate to their non-padded Go forms, which accept both
// "1" and "01" the way strptime does.
func ToLayout(format string) (string, error) {
	if format == "" || !strings.Contains(format, "%") {
		return format, nil
	}

	var b strings.Builder
	for i := 0; i < len(format); i++ {
		c := format[i]
		if c != '%' {
			b.WriteByte(c)
			continue
		}
		if i+1 >= len(format) {
			return "", fmt.Errorf("date format %q ends with a bare %%", format)
		}
		i++
		layout, ok := strptimeDirectives[format[i]]
		if !ok {
			return "", fmt.Errorf("unsupported date directive %%%c in %q", format[i], format)
		}
		b.WriteString(layout)
	}
	return b.String(), nil
}
