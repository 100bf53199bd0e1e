package sql

import "strings"

// QuoteIdentifier wraps s in double quotes, doubling any embedded double quote.
func QuoteIdentifier(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

var literalEscaper = strings.NewReplacer(
	`\`, `\\`,
	`'`, `\'`,
	`"`, `\"`,
	"\x00", `\0`,
)

// QuoteLiteral wraps s in single quotes, backslash-escaping quotes,
// backslashes and NUL bytes.
func QuoteLiteral(s string) string {
	return "'" + literalEscaper.Replace(s) + "'"
}

// DefaultQuoter implements Quoter with the warehouse's quoting rules.
type DefaultQuoter struct{}

func (DefaultQuoter) QuoteIdentifier(s string) string {
	return QuoteIdentifier(s)
}

func (DefaultQuoter) QuoteLiteral(s string) string {
	return QuoteLiteral(s)
}
