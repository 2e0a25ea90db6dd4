package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/soyeahso/querydesk/internal/domain"
	"github.com/soyeahso/querydesk/internal/sqlstore"
	"github.com/soyeahso/querydesk/internal/tool"
)

// SQLTools returns the relational exploration and query tools.
func SQLTools(svc *sqlstore.Service) []tool.Tool {
	return []tool.Tool{
		listTables(svc),
		describeTable(svc),
		sqlQuery(svc),
		sampleRows(svc),
	}
}

func listTables(svc *sqlstore.Service) tool.Tool {
	return &tool.Func{
		ToolName: "sql_list_tables",
		ToolDescription: "List every table and view in the database with its schema. " +
			"Call this first when you do not know which tables exist.",
		Schema: tool.Schema(),
		Run: func(ctx context.Context, args map[string]any, _ domain.Identity) domain.ToolResult {
			if err := tool.Decode(args, &struct{}{}); err != nil {
				return failure(err)
			}
			tables, err := svc.ListTables(ctx)
			if err != nil {
				return failure(fmt.Errorf("listing tables: %w", err))
			}
			return domain.NewSuccess(domain.KindTables, domain.TablesPayload{Tables: tables}, "", len(tables))
		},
	}
}

func describeTable(svc *sqlstore.Service) tool.Tool {
	return &tool.Func{
		ToolName: "sql_describe_table",
		ToolDescription: "Describe a table: its columns, primary key, the foreign keys it holds and the tables " +
			"that reference it. Call this before writing a query against a table, and use the foreign keys " +
			"in either direction to choose joins.",
		Schema: tool.Schema(
			tool.Param{Name: "table", Type: "string", Required: true, Description: "Table name, optionally schema-qualified (dbo.Orders or [dbo].[Orders])."},
		),
		Run: func(ctx context.Context, args map[string]any, _ domain.Identity) domain.ToolResult {
			var a struct {
				Table string `json:"table"`
			}
			if err := tool.Decode(args, &a); err != nil {
				return failure(err)
			}
			schema, err := svc.DescribeTable(ctx, a.Table)
			if err != nil {
				return failure(fmt.Errorf("describing %s: %w", a.Table, err))
			}
			return domain.NewSuccess(domain.KindSchema, domain.SchemaPayload{Schema: schema}, "", len(schema.Columns))
		},
	}
}

func sqlQuery(svc *sqlstore.Service) tool.Tool {
	return &tool.Func{
		ToolName: "sql_query",
		ToolDescription: fmt.Sprintf("Run one read-only %s query (SELECT or WITH) and return the rows. "+
			"Statements that modify data, call procedures or contain more than one statement are rejected. "+
			"At most %d rows are returned.", dialectLabel(svc), svc.MaxRows()),
		Schema: tool.Schema(
			tool.Param{Name: "sql", Type: "string", Required: true},
			limitParam("maxRows"),
		),
		Run: func(ctx context.Context, args map[string]any, _ domain.Identity) domain.ToolResult {
			var a struct {
				SQL     string `json:"sql"`
				MaxRows int    `json:"maxRows"`
			}
			if err := tool.Decode(args, &a); err != nil {
				return failure(err)
			}
			res, err := svc.ExecuteReadOnly(ctx, a.SQL, a.MaxRows)
			return tabularResult(res, a.SQL, err)
		},
	}
}

func sampleRows(svc *sqlstore.Service) tool.Tool {
	return &tool.Func{
		ToolName:        "sql_sample_rows",
		ToolDescription: "Return the first rows of a table to see what its values look like.",
		Schema: tool.Schema(
			tool.Param{Name: "table", Type: "string", Required: true},
			tool.Param{Name: "rows", Type: "integer", Description: fmt.Sprintf("Number of rows, default %d.", sqlstore.DefaultSampleRows)},
		),
		Run: func(ctx context.Context, args map[string]any, _ domain.Identity) domain.ToolResult {
			var a struct {
				Table string `json:"table"`
				Rows  int    `json:"rows"`
			}
			if err := tool.Decode(args, &a); err != nil {
				return failure(err)
			}
			res, err := svc.SampleRows(ctx, a.Table, a.Rows)
			return tabularResult(res, res.SQL, err)
		},
	}
}

func tabularResult(res sqlstore.QueryResult, query string, err error) domain.ToolResult {
	if err != nil {
		if res.SQL != "" {
			query = res.SQL
		}
		return failure(err).WithQuery(query)
	}
	return domain.NewSuccess(domain.KindTabular, res.Payload(), res.SQL, len(res.Rows))
}

func dialectLabel(svc *sqlstore.Service) string {
	switch strings.ToLower(svc.Dialect().Name()) {
	case "mssql":
		return "SQL Server (T-SQL)"
	case "sqlite":
		return "SQLite"
	default:
		return svc.Dialect().Name()
	}
}
