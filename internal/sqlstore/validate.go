// Package sqlstore provides read-only access to a relational database for
// the query tools: schema discovery, validated queries and row sampling.
package sqlstore

import (
	"fmt"
	"regexp"
	"strings"
)

// ValidationError reports a statement rejected before reaching the driver.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "query rejected: " + e.Reason
}

// deniedKeywords are write, DDL, permission and administrative verbs that
// may not appear as whole words anywhere in a read-only statement.
var deniedKeywords = []string{
	"INSERT", "UPDATE", "DELETE", "DROP", "ALTER", "CREATE", "TRUNCATE",
	"MERGE", "EXEC", "EXECUTE", "GRANT", "REVOKE", "DENY", "BACKUP",
	"RESTORE", "SHUTDOWN", "KILL", "DBCC", "BULK", "OPENROWSET",
	"OPENQUERY", "OPENDATASOURCE", "RECONFIGURE", "INTO", "WAITFOR",
	"ATTACH", "DETACH", "PRAGMA",
}

var (
	deniedPattern    = regexp.MustCompile(`(?i)\b(` + strings.Join(deniedKeywords, "|") + `)\b`)
	procedurePattern = regexp.MustCompile(`(?i)\b(sp|xp)_\w*`)
	leadingPattern   = regexp.MustCompile(`^(SELECT|WITH)\b`)
)

// ValidateReadOnly rejects anything that is not a single read-only SELECT
// or WITH statement. The checks run in a fixed order and the first failure
// is returned as a *ValidationError.
func ValidateReadOnly(query string) error {
	trimmed := strings.TrimSpace(query)
	if trimmed == "" {
		return &ValidationError{Reason: "query is empty"}
	}

	upper := strings.ToUpper(trimmed)
	if !leadingPattern.MatchString(upper) {
		return &ValidationError{Reason: "only SELECT or WITH statements are allowed"}
	}

	if m := deniedPattern.FindString(trimmed); m != "" {
		return &ValidationError{Reason: fmt.Sprintf("keyword %s is not allowed", strings.ToUpper(m))}
	}
	if m := procedurePattern.FindString(trimmed); m != "" {
		return &ValidationError{Reason: fmt.Sprintf("procedure call %s is not allowed", m)}
	}

	if i := strings.Index(trimmed, ";"); i >= 0 && i != len(trimmed)-1 {
		return &ValidationError{Reason: "multiple statements are not allowed; a semicolon may only end the query"}
	}
	return nil
}
