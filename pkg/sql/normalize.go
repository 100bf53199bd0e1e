// Package sql builds warehouse statements and normalizes them before execution.
package sql

import (
	"errors"
	"strings"
)

var (
	// ErrMultipleStatements indicates the statement text contains more than one SQL statement.
	ErrMultipleStatements = errors.New("multiple SQL statements not allowed; only single statements are permitted")
)

// NormalizeStatement trims whitespace, strips one trailing semicolon and
// rejects text that still contains a semicolon outside literals and identifiers.
func NormalizeStatement(stmt string) (string, error) {
	stmt = strings.TrimSpace(stmt)
	if stmt == "" {
		return stmt, nil
	}

	normalized := stripTrailingSemicolon(stmt)
	if hasSemicolonOutsideStrings(normalized) {
		return "", ErrMultipleStatements
	}
	return normalized, nil
}

// hasSemicolonOutsideStrings returns true if the SQL contains any semicolon
// outside of string literals and quoted identifiers.
// Literals may use backslash escapes ('a\'b', '\\') or doubled quotes ('it''s').
func hasSemicolonOutsideStrings(stmt string) bool {
	const (
		stateNormal = iota
		stateSingleQuote
		stateDoubleQuote
	)

	state := stateNormal
	escaped := false

	for _, char := range stmt {
		switch state {
		case stateNormal:
			switch char {
			case ';':
				return true
			case '\'':
				state = stateSingleQuote
			case '"':
				state = stateDoubleQuote
			}
		case stateSingleQuote:
			switch {
			case escaped:
				escaped = false
			case char == '\\':
				escaped = true
			case char == '\'':
				// A doubled quote exits and immediately re-enters
				state = stateNormal
			}
		case stateDoubleQuote:
			if char == '"' {
				state = stateNormal
			}
		}
	}

	return false
}

// stripTrailingSemicolon removes a trailing semicolon and any whitespace around it.
func stripTrailingSemicolon(stmt string) string {
	stmt = strings.TrimRight(stmt, " \t\n\r")
	if strings.HasSuffix(stmt, ";") {
		stmt = strings.TrimSuffix(stmt, ";")
		stmt = strings.TrimRight(stmt, " \t\n\r")
	}
	return stmt
}
