package backup

import (
	"fmt"
	"strings"

	"github.com/lib/pq"
)

// buildInsert composes one multi-row parameterized INSERT for a batch.
// Values travel as placeholders, never as spliced SQL text; nil fields
// become SQL NULL.
func buildInsert(table string, columns []string, rows [][]*string) (string, []any) {
	quoted := make([]string, len(columns))
	for i, c := range columns {
		quoted[i] = pq.QuoteIdentifier(c)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "INSERT INTO %s (%s) VALUES ",
		pq.QuoteIdentifier(table), strings.Join(quoted, ", "))

	args := make([]any, 0, len(rows)*len(columns))
	for i, row := range rows {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteByte('(')
		for j, field := range row {
			if j > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "$%d", len(args)+1)
			if field == nil {
				args = append(args, nil)
			} else {
				args = append(args, *field)
			}
		}
		b.WriteByte(')')
	}
	return b.String(), args
}
