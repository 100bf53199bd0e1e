package logging

import (
	"regexp"
)

// RedactedText is the replacement text for sensitive data
const RedactedText = "[REDACTED]"

var (
	// Quoted credential literals in stage definitions:
	// AWS_KEY_ID='..', AWS_SECRET_KEY='..', AWS_TOKEN='..', AZURE_SAS_TOKEN='..'
	// The value may contain backslash escapes or doubled quotes.
	stageCredentialPattern = regexp.MustCompile(`((?:AWS_[A-Z_]*|AZURE_SAS_TOKEN)\s*=\s*')(?:[^'\\]|\\.|'')*'`)

	// Matches: password=xxx, pwd=xxx, pass=xxx (until next delimiter)
	passwordPattern = regexp.MustCompile(`(?i)(password|pwd|pass)=[^;&\s]+`)

	// Shared access signatures embedded in Azure connection strings or URLs
	sasPattern    = regexp.MustCompile(`(?i)(SharedAccessSignature=)[^;\s']+`)
	sasSigPattern = regexp.MustCompile(`(?i)([?&]sig=)[^;&\s']+`)

	// Matches user:pass@host format
	connStringPattern = regexp.MustCompile(`://[^:/\s]+:[^@\s]+@[^/\s]+`)
)

// RedactCredentials blanks credential values in a SQL statement while keeping
// the rest of it intact for diagnostics. Apply it to every statement before logging.
func RedactCredentials(query string) string {
	if query == "" {
		return ""
	}
	sanitized := stageCredentialPattern.ReplaceAllString(query, "${1}"+RedactedText+"'")
	sanitized = sasPattern.ReplaceAllString(sanitized, "${1}"+RedactedText)
	sanitized = sasSigPattern.ReplaceAllString(sanitized, "${1}"+RedactedText)
	return passwordPattern.ReplaceAllString(sanitized, "${1}="+RedactedText)
}

// SanitizeConnectionString removes sensitive data from connection strings
// Use this before logging any connection string
func SanitizeConnectionString(connStr string) string {
	if connStr == "" {
		return ""
	}

	sanitized := passwordPattern.ReplaceAllString(connStr, "${1}="+RedactedText)
	sanitized = sasPattern.ReplaceAllString(sanitized, "${1}"+RedactedText)
	sanitized = sasSigPattern.ReplaceAllString(sanitized, "${1}"+RedactedText)
	sanitized = connStringPattern.ReplaceAllString(sanitized, "://"+RedactedText+"@"+RedactedText)

	return sanitized
}

// SanitizeError sanitizes error messages that might contain sensitive data.
// Driver errors can echo the failing statement, so stage credentials are blanked too.
func SanitizeError(err error) string {
	if err == nil {
		return ""
	}

	sanitized := RedactCredentials(err.Error())
	return connStringPattern.ReplaceAllString(sanitized, "://"+RedactedText+"@"+RedactedText)
}
