package storage

import (
	"strconv"
	"strings"
)

// Rebind rewrites a query from ? placeholders to the bindvar style of the
// driver. Queries must not contain literal question marks.
func Rebind(driver Driver, query string) string {
	if driver != Postgres {
		return query
	}

	rqb := make([]byte, 0, len(query)+10)
	n := 0
	for i := strings.IndexByte(query, '?'); i != -1; i = strings.IndexByte(query, '?') {
		rqb = append(rqb, query[:i]...)
		rqb = append(rqb, '$')
		n++
		rqb = strconv.AppendInt(rqb, int64(n), 10)
		query = query[i+1:]
	}
	return string(append(rqb, query...))
}

// Placeholders returns "?, ?, ..." with n markers.
func Placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.Repeat("?, ", n-1) + "?"
}

// Rows returns n comma-separated "(?, ?, ...)" groups of width cols, for
// multi-row VALUES clauses.
func Rows(n, cols int) string {
	if n <= 0 {
		return ""
	}
	row := "(" + Placeholders(cols) + ")"
	return strings.Repeat(row+", ", n-1) + row
}
