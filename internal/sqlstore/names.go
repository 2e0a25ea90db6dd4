package sqlstore

import (
	"sort"
	"strings"

	"github.com/soyeahso/querydesk/internal/domain"
)

// maxSimilarTables caps the fuzzy suggestions returned for a missing table.
const maxSimilarTables = 10

// ParseTableName resolves a possibly decorated, possibly multi-part name
// such as "[dbo].[Orders]" or "Sales.dbo.Orders" into schema and table.
// The schema is empty when the name has a single part.
func ParseTableName(name string) (schema, table string) {
	var parts []string
	for _, p := range strings.Split(strings.TrimSpace(name), ".") {
		p = strings.Trim(strings.TrimSpace(p), "[]\"`")
		if p != "" {
			parts = append(parts, p)
		}
	}
	switch len(parts) {
	case 0:
		return "", ""
	case 1:
		return "", parts[0]
	default:
		return parts[len(parts)-2], parts[len(parts)-1]
	}
}

// similarTables returns candidate names for a table that was not found.
// A candidate matches when either name contains the other, which also
// pairs singular and plural forms differing by a trailing "s".
func similarTables(requested string, tables []domain.TableRef) []string {
	want := strings.ToLower(requested)
	if want == "" {
		return nil
	}

	seen := make(map[string]bool)
	var out []string
	for _, t := range tables {
		name := strings.ToLower(t.Name)
		match := strings.Contains(name, want) || strings.Contains(want, name)
		if match && !seen[t.Qualified()] {
			seen[t.Qualified()] = true
			out = append(out, t.Qualified())
		}
	}
	sort.Strings(out)
	if len(out) > maxSimilarTables {
		out = out[:maxSimilarTables]
	}
	return out
}
