package tools

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/soyeahso/querydesk/internal/docstore"
	"github.com/soyeahso/querydesk/internal/domain"
	"github.com/soyeahso/querydesk/internal/export"
	"github.com/soyeahso/querydesk/internal/sqlstore"
	"github.com/soyeahso/querydesk/internal/tool"
)

func exportParams() []tool.Param {
	return []tool.Param{
		{Name: "description", Type: "string", Description: "One line describing the data, written above the table."},
		{Name: "fileName", Type: "string", Description: "Base file name without extension."},
	}
}

// ExportSQLQuery runs a validated read-only query and stores the rows as
// a spreadsheet.
func ExportSQLQuery(svc *sqlstore.Service, sink ExportSink, publicURL string) tool.Tool {
	return &tool.Func{
		ToolName: "export_sql_query",
		ToolDescription: "Export the result of a read-only SQL query to an Excel file and return a download link. " +
			"Use only when the user asks for a file, spreadsheet or download; the same query rules as sql_query apply.",
		Schema: tool.Schema(append([]tool.Param{
			{Name: "sql", Type: "string", Required: true},
		}, exportParams()...)...),
		Run: func(ctx context.Context, args map[string]any, _ domain.Identity) domain.ToolResult {
			var a struct {
				SQL         string `json:"sql"`
				Description string `json:"description"`
				FileName    string `json:"fileName"`
			}
			if err := tool.Decode(args, &a); err != nil {
				return failure(err)
			}
			res, err := svc.ExecuteReadOnly(ctx, a.SQL, svc.MaxRows())
			if err != nil {
				return tabularResult(res, a.SQL, err)
			}
			ref, err := sink.Export(ctx, export.Table{Columns: res.Columns, Rows: res.Rows}, a.Description, a.FileName)
			if err != nil {
				return failure(fmt.Errorf("export failed: %w", err)).WithQuery(res.SQL)
			}
			return exportResult(ref, publicURL, res.SQL)
		},
	}
}

// ExportDocuments runs a find or aggregate and stores the documents as a
// spreadsheet, one column per top-level field.
func ExportDocuments(svc *docstore.Service, sink ExportSink, publicURL string) tool.Tool {
	return &tool.Func{
		ToolName: "export_documents",
		ToolDescription: "Export documents from a find or aggregate to an Excel file and return a download link. " +
			"Use only when the user asks for a file, spreadsheet or download.",
		Schema: tool.Schema(append([]tool.Param{
			{Name: "operation", Type: "string", Required: true, Enum: []string{"find", "aggregate"}},
			{Name: "filter", Type: "string", Description: "Filter document as JSON for find."},
			{Name: "sort", Type: "string", Description: "Sort document as JSON for find."},
			{Name: "pipeline", Type: "string", Description: "Aggregation pipeline as a JSON array for aggregate."},
		}, exportParams()...)...),
		Run: func(ctx context.Context, args map[string]any, _ domain.Identity) domain.ToolResult {
			var a struct {
				Operation   string `json:"operation"`
				Filter      any    `json:"filter"`
				Sort        any    `json:"sort"`
				Pipeline    any    `json:"pipeline"`
				Description string `json:"description"`
				FileName    string `json:"fileName"`
			}
			if err := tool.Decode(args, &a); err != nil {
				return failure(err)
			}

			var (
				q   docstore.Query
				err error
			)
			switch strings.ToLower(strings.TrimSpace(a.Operation)) {
			case "find":
				filter, order, perr := filterAndSort(a.Filter, a.Sort)
				if perr != nil {
					return failure(perr)
				}
				q, err = svc.Find(ctx, filter, order, 0)
			case "aggregate":
				pipeline, perr := parsePipeline(a.Pipeline)
				if perr != nil {
					return failure(perr)
				}
				q, err = svc.Aggregate(ctx, pipeline)
			default:
				return domain.NewFailure(fmt.Sprintf("operation must be find or aggregate; got %q", a.Operation))
			}
			if err != nil {
				return failure(err).WithQuery(q.Pipeline)
			}
			if len(q.Documents) == 0 {
				return domain.NewFailure("the query matched no documents; nothing to export").WithQuery(q.Pipeline)
			}

			ref, err := sink.Export(ctx, documentsTable(q.Documents), a.Description, a.FileName)
			if err != nil {
				return failure(fmt.Errorf("export failed: %w", err)).WithQuery(q.Pipeline)
			}
			return exportResult(ref, publicURL, q.Pipeline)
		},
	}
}

func exportResult(ref export.Ref, publicURL, query string) domain.ToolResult {
	return domain.NewSuccess(domain.KindExport, domain.ExportPayload{
		FileID:      ref.ID,
		FileName:    ref.FileName,
		RowCount:    ref.RowCount,
		DownloadURL: DownloadURL(publicURL, ref.ID),
	}, query, ref.RowCount)
}

// documentsTable flattens documents into rows. Columns are the union of
// top-level keys, _id first and the rest sorted.
func documentsTable(docs []map[string]any) export.Table {
	seen := map[string]bool{}
	var cols []string
	for _, d := range docs {
		for k := range d {
			if !seen[k] {
				seen[k] = true
				cols = append(cols, k)
			}
		}
	}
	sort.Slice(cols, func(i, j int) bool {
		if cols[i] == "_id" || cols[j] == "_id" {
			return cols[i] == "_id"
		}
		return cols[i] < cols[j]
	})

	rows := make([][]any, len(docs))
	for i, d := range docs {
		row := make([]any, len(cols))
		for j, c := range cols {
			row[j] = cellText(d[c])
		}
		rows[i] = row
	}
	return export.Table{Columns: cols, Rows: rows}
}

func cellText(v any) any {
	switch x := v.(type) {
	case []any:
		parts := make([]string, len(x))
		for i, e := range x {
			parts[i] = fmt.Sprint(e)
		}
		return strings.Join(parts, ", ")
	case map[string]any:
		keys := make([]string, 0, len(x))
		for k := range x {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, len(keys))
		for i, k := range keys {
			parts[i] = fmt.Sprintf("%s: %v", k, x[k])
		}
		return strings.Join(parts, "; ")
	default:
		return v
	}
}
