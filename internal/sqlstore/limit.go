package sqlstore

import (
	"regexp"
	"strconv"
	"strings"
)

var (
	topPattern         = regexp.MustCompile(`(?is)^\s*SELECT\s+(DISTINCT\s+)?TOP\s*(\(\s*)?(\d+)(\s*\))?(\s+PERCENT\b)?`)
	selectPattern      = regexp.MustCompile(`(?is)^\s*SELECT\s+(DISTINCT\s+)?`)
	trailingLimitMatch = regexp.MustCompile(`(?is)\bLIMIT\s+(\d+)(?:\s*(,|OFFSET)\s*(\d+))?\s*$`)
)

// EnforceRowLimit bounds a validated statement to at most maxRows rows.
// An existing limit above the ceiling is clamped, a smaller one is kept,
// and a missing one is added. A trailing semicolon is always dropped.
// TOP n PERCENT becomes a plain TOP at the ceiling since a percentage
// cannot be bounded in rows. SQLite's LIMIT n OFFSET m and LIMIT m, n
// forms are clamped on their count operand.
// On mssql a WITH statement has no leading SELECT to attach TOP to, so it
// is left as is and the row reader caps it instead.
func EnforceRowLimit(query string, maxRows int, d Dialect) string {
	q := strings.TrimRight(strings.TrimSpace(query), ";")
	q = strings.TrimSpace(q)
	if maxRows <= 0 {
		return q
	}
	if d != nil && d.Name() == "sqlite" {
		return limitClause(q, maxRows)
	}
	return topClause(q, maxRows)
}

func topClause(q string, maxRows int) string {
	if loc := topPattern.FindStringSubmatchIndex(q); loc != nil {
		if loc[10] >= 0 {
			return q[:loc[6]] + strconv.Itoa(maxRows) + q[loc[7]:loc[10]] + q[loc[11]:]
		}
		n, err := strconv.Atoi(q[loc[6]:loc[7]])
		if err != nil || n > maxRows {
			return q[:loc[6]] + strconv.Itoa(maxRows) + q[loc[7]:]
		}
		return q
	}
	if loc := selectPattern.FindStringIndex(q); loc != nil {
		return q[:loc[1]] + "TOP " + strconv.Itoa(maxRows) + " " + q[loc[1]:]
	}
	return q
}

func limitClause(q string, maxRows int) string {
	if loc := trailingLimitMatch.FindStringSubmatchIndex(q); loc != nil {
		// In LIMIT m, n the count is the second operand.
		start, end := loc[2], loc[3]
		if loc[4] >= 0 && q[loc[4]:loc[5]] == "," {
			start, end = loc[6], loc[7]
		}
		n, err := strconv.Atoi(q[start:end])
		if err != nil || n > maxRows {
			return q[:start] + strconv.Itoa(maxRows) + q[end:]
		}
		return q
	}
	if !selectPattern.MatchString(q) && !strings.HasPrefix(strings.ToUpper(q), "WITH") {
		return q
	}
	return q + " LIMIT " + strconv.Itoa(maxRows)
}
