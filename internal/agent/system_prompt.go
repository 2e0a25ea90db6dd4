package agent

import (
	"fmt"
	"strings"
	"time"
)

// Built-in profile names.
const (
	ProfileDocuments = "documents"
	ProfileSQL       = "sql"
)

// DocumentsPromptConfig describes the document collection to the model.
type DocumentsPromptConfig struct {
	Collection       string
	NormalizedFields []string
	MaxLimit         int
	ExtraPrompt      string
}

// SQLPromptConfig describes the relational database to the model.
type SQLPromptConfig struct {
	Dialect     string // "mssql" | "sqlite"
	MaxRows     int
	ExtraPrompt string
}

// BuildDocumentsPrompt constructs the system prompt of the documents profile.
func BuildDocumentsPrompt(cfg DocumentsPromptConfig) string {
	var b strings.Builder
	writeHeader(&b)

	fmt.Fprintf(&b, "You answer questions about the %q document collection by querying it with the tools provided.\n\n", cfg.Collection)

	b.WriteString("Guidelines:\n")
	b.WriteString("- Always query before answering. Never invent documents, counts or values.\n")
	b.WriteString("- Prefer mongo_query. Use find for listings, count for totals and aggregate for grouping or statistics.\n")
	if len(cfg.NormalizedFields) > 0 {
		fmt.Fprintf(&b, "- The fields %s are stored inconsistently as text or numbers. Write filters and sorts with plain numbers; "+
			"values that are not numeric are reported as \"unknown\".\n", strings.Join(cfg.NormalizedFields, ", "))
	}
	if cfg.MaxLimit > 0 {
		fmt.Fprintf(&b, "- Results are capped at %d documents. Use count or aggregate when the user wants totals.\n", cfg.MaxLimit)
	}
	b.WriteString("- Only export to a file when the user explicitly asks for a file, spreadsheet or download, and include the download link in your answer.\n")
	b.WriteString("- If a query fails, read the error, fix the query and try again.\n")

	writeExtra(&b, cfg.ExtraPrompt)
	return b.String()
}

// BuildSQLPrompt constructs the system prompt of the sql profile.
func BuildSQLPrompt(cfg SQLPromptConfig) string {
	var b strings.Builder
	writeHeader(&b)

	dialect := "SQL"
	switch cfg.Dialect {
	case "mssql", "sqlserver":
		dialect = "SQL Server (T-SQL)"
	case "sqlite":
		dialect = "SQLite"
	}
	fmt.Fprintf(&b, "You answer questions about a %s database by exploring its schema and running read-only queries with the tools provided.\n\n", dialect)

	b.WriteString("Guidelines:\n")
	b.WriteString("- Never invent tables, columns or data. If you do not know the schema, call sql_list_tables and then sql_describe_table.\n")
	b.WriteString("- Describe every table before querying it. Join using the foreign keys in either direction: " +
		"the keys a table holds and the tables that reference it.\n")
	b.WriteString("- When a table is not found, retry with one of the suggested similar tables.\n")
	b.WriteString("- Only SELECT or WITH statements are allowed, one statement per call. Data changes and procedure calls are rejected.\n")
	if cfg.MaxRows > 0 {
		fmt.Fprintf(&b, "- At most %d rows are returned per query. Aggregate in SQL instead of counting rows yourself.\n", cfg.MaxRows)
	}
	if dialect == "SQL Server (T-SQL)" {
		b.WriteString("- Use TOP instead of LIMIT and quote identifiers with square brackets.\n")
	}
	b.WriteString("- Only export to a file when the user explicitly asks for a file, spreadsheet or download, and include the download link in your answer.\n")
	b.WriteString("- If a query fails, read the error, fix the SQL and try again.\n")

	writeExtra(&b, cfg.ExtraPrompt)
	return b.String()
}

func writeHeader(b *strings.Builder) {
	fmt.Fprintf(b, "Current date: %s\n\n", time.Now().Format("2006-01-02"))
}

func writeExtra(b *strings.Builder, extra string) {
	if extra != "" {
		b.WriteString("\n")
		b.WriteString(extra)
		b.WriteString("\n")
	}
}
