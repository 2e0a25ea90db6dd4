package agent

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/soyeahso/querydesk/internal/domain"
)

// RenderToolResult formats a tool result as the text the model reads.
// Output depends only on its inputs, and list-like payloads show at most
// previewRows entries followed by a count of the rest.
func RenderToolResult(res domain.ToolResult, previewRows int) string {
	if previewRows <= 0 {
		previewRows = DefaultPreviewRows
	}

	var b strings.Builder
	if !res.Success {
		fmt.Fprintf(&b, "Error: %s\n", res.Error)
		writeQuery(&b, res.Query)
		return strings.TrimRight(b.String(), "\n")
	}

	switch p := res.Payload.(type) {
	case domain.DocumentsPayload:
		fmt.Fprintf(&b, "Found %d document(s).\n", len(p.Documents))
		for i, d := range p.Documents {
			if i == previewRows {
				fmt.Fprintf(&b, "... %d more rows\n", len(p.Documents)-previewRows)
				break
			}
			data, err := json.Marshal(d)
			if err != nil {
				fmt.Fprintf(&b, "%v\n", d)
				continue
			}
			b.Write(data)
			b.WriteByte('\n')
		}

	case domain.RecordsPayload:
		fmt.Fprintf(&b, "Found %d movie(s).\n", len(p.Records))
		for i, m := range p.Records {
			if i == previewRows {
				fmt.Fprintf(&b, "... %d more rows\n", len(p.Records)-previewRows)
				break
			}
			writeMovie(&b, m)
		}

	case domain.CountsPayload:
		if p.Field != "" {
			fmt.Fprintf(&b, "Counts by %s:\n", p.Field)
		} else {
			b.WriteString("Counts:\n")
		}
		for i, c := range p.Counts {
			if i == previewRows {
				fmt.Fprintf(&b, "... %d more rows\n", len(p.Counts)-previewRows)
				break
			}
			fmt.Fprintf(&b, "- %v: %d\n", c.Key, c.Count)
		}
		fmt.Fprintf(&b, "Total: %d\n", res.TotalCount)

	case domain.ExportPayload:
		fmt.Fprintf(&b, "Export ready: %s (%d rows).\nDownload: %s\n", p.FileName, p.RowCount, p.DownloadURL)

	case domain.TablesPayload:
		fmt.Fprintf(&b, "%d table(s):\n", len(p.Tables))
		for _, t := range p.Tables {
			if t.Type != "" && !strings.Contains(t.Type, "TABLE") {
				fmt.Fprintf(&b, "- %s (%s)\n", t.Qualified(), strings.ToLower(t.Type))
			} else {
				fmt.Fprintf(&b, "- %s\n", t.Qualified())
			}
		}

	case domain.SchemaPayload:
		writeSchema(&b, p.Schema)

	case domain.TabularPayload:
		writeTable(&b, p, previewRows)

	default:
		data, err := json.Marshal(res.Payload)
		if err != nil {
			fmt.Fprintf(&b, "%v\n", res.Payload)
		} else {
			b.Write(data)
			b.WriteByte('\n')
		}
	}

	writeQuery(&b, res.Query)
	return strings.TrimRight(b.String(), "\n")
}

func writeQuery(b *strings.Builder, q string) {
	if q != "" {
		fmt.Fprintf(b, "Query: %s\n", q)
	}
}

func writeMovie(b *strings.Builder, m domain.Movie) {
	b.WriteString("- ")
	b.WriteString(m.Title)
	if m.Year > 0 {
		fmt.Fprintf(b, " (%d)", m.Year)
	}
	if len(m.Genres) > 0 {
		fmt.Fprintf(b, " | %s", strings.Join(m.Genres, ", "))
	}
	if len(m.Directors) > 0 {
		fmt.Fprintf(b, " | dir. %s", strings.Join(m.Directors, ", "))
	}
	if m.Rating > 0 {
		fmt.Fprintf(b, " | rating %.1f", m.Rating)
	}
	b.WriteByte('\n')
}

func writeSchema(b *strings.Builder, s domain.TableSchema) {
	name := s.Table
	if s.Schema != "" {
		name = s.Schema + "." + s.Table
	}
	if len(s.Columns) == 0 {
		fmt.Fprintf(b, "Table %s was not found.", name)
		if len(s.SimilarTables) > 0 {
			fmt.Fprintf(b, " Similar tables: %s.", strings.Join(s.SimilarTables, ", "))
		}
		b.WriteByte('\n')
		return
	}

	fmt.Fprintf(b, "Table %s\nColumns:\n", name)
	for _, c := range s.Columns {
		fmt.Fprintf(b, "- %s %s", c.Name, c.DataType)
		if c.MaxLength != nil {
			fmt.Fprintf(b, "(%d)", *c.MaxLength)
		}
		if !c.Nullable {
			b.WriteString(" NOT NULL")
		}
		if c.PrimaryKey {
			b.WriteString(" PRIMARY KEY")
		}
		b.WriteByte('\n')
	}
	if len(s.ForeignKeys) > 0 {
		b.WriteString("Foreign keys:\n")
		for _, fk := range s.ForeignKeys {
			fmt.Fprintf(b, "- %s -> %s.%s\n", fk.Column, qualify(fk.ReferencedSchema, fk.ReferencedTable), fk.ReferencedColumn)
		}
	}
	if len(s.ReferencedBy) > 0 {
		b.WriteString("Referenced by:\n")
		for _, fk := range s.ReferencedBy {
			fmt.Fprintf(b, "- %s.%s -> %s\n", qualify(fk.ReferencedSchema, fk.ReferencedTable), fk.ReferencedColumn, fk.Column)
		}
	}
}

func writeTable(b *strings.Builder, p domain.TabularPayload, previewRows int) {
	fmt.Fprintf(b, "%d row(s).\n", len(p.Rows))
	if len(p.Columns) > 0 {
		b.WriteString(strings.Join(p.Columns, " | "))
		b.WriteByte('\n')
	}
	for i, row := range p.Rows {
		if i == previewRows {
			fmt.Fprintf(b, "... %d more rows\n", len(p.Rows)-previewRows)
			break
		}
		cells := make([]string, len(row))
		for j, v := range row {
			if v == nil {
				cells[j] = "NULL"
			} else {
				cells[j] = fmt.Sprint(v)
			}
		}
		b.WriteString(strings.Join(cells, " | "))
		b.WriteByte('\n')
	}
	if p.Truncated {
		b.WriteString("(more rows exist beyond the row limit)\n")
	}
}

func qualify(schema, table string) string {
	if schema == "" {
		return table
	}
	return schema + "." + table
}
