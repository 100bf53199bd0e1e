package datasource

import (
	"context"
	"fmt"
)

// Connection is one warehouse session. Statements run sequentially in the
// order they are issued; implementations are not safe for concurrent use.
// Every execution failure is returned as an apperrors.UserError carrying the driver message.
type Connection interface {
	// Exec runs a statement and discards any result set.
	Exec(ctx context.Context, query string) error

	// FetchAll runs a statement and returns every row keyed by column name.
	FetchAll(ctx context.Context, query string) ([]Row, error)

	// QuoteIdentifier and QuoteLiteral are the only escaping used when composing statements.
	QuoteIdentifier(s string) string
	QuoteLiteral(s string) string

	// Close releases the session.
	Close() error
}

// Row is one result row keyed by column name. Driver byte slices are
// converted to strings before they reach callers.
type Row map[string]any

// String returns the column value as a string; NULL and missing keys yield "".
func (r Row) String(key string) string {
	switch v := r[key].(type) {
	case nil:
		return ""
	case string:
		return v
	case []byte:
		return string(v)
	default:
		return fmt.Sprint(v)
	}
}

// Strings collects one column from every row.
func Strings(rows []Row, key string) []string {
	values := make([]string, 0, len(rows))
	for _, row := range rows {
		values = append(values, row.String(key))
	}
	return values
}
