package agent

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/soyeahso/querydesk/internal/domain"
)

func TestRenderFailureKeepsQuery(t *testing.T) {
	res := domain.NewFailure("no such column: nme").WithQuery("SELECT nme FROM customers")
	assert.Equal(t, "Error: no such column: nme\nQuery: SELECT nme FROM customers", RenderToolResult(res, 0))
}

func TestRenderTabularTruncatesPreview(t *testing.T) {
	rows := make([][]any, 25)
	for i := range rows {
		rows[i] = []any{i, nil}
	}
	res := domain.NewSuccess(domain.KindTabular, domain.TabularPayload{
		Columns:   []string{"id", "name"},
		Rows:      rows,
		Truncated: true,
	}, "SELECT id, name FROM t", 25)

	out := RenderToolResult(res, 0)
	lines := strings.Split(out, "\n")

	assert.Equal(t, "25 row(s).", lines[0])
	assert.Equal(t, "id | name", lines[1])
	assert.Equal(t, "0 | NULL", lines[2])
	assert.Equal(t, "19 | NULL", lines[21])
	assert.Equal(t, "... 5 more rows", lines[22])
	assert.Contains(t, out, "(more rows exist beyond the row limit)")
	assert.True(t, strings.HasSuffix(out, "Query: SELECT id, name FROM t"))
}

func TestRenderCustomPreviewRows(t *testing.T) {
	res := domain.NewSuccess(domain.KindDocuments, domain.DocumentsPayload{
		Documents: []map[string]any{{"a": 1}, {"a": 2}, {"a": 3}},
	}, "", 3)

	out := RenderToolResult(res, 2)
	assert.Equal(t, "Found 3 document(s).\n{\"a\":1}\n{\"a\":2}\n... 1 more rows", out)
}

func TestRenderRecords(t *testing.T) {
	res := domain.NewSuccess(domain.KindRecords, domain.RecordsPayload{Records: []domain.Movie{
		{Title: "Alien", Year: 1979, Genres: []string{"Horror", "Sci-Fi"}, Directors: []string{"Ridley Scott"}, Rating: 8.5},
		{Title: "Untitled"},
	}}, "", 2)

	out := RenderToolResult(res, 0)
	assert.Equal(t, "Found 2 movie(s).\n- Alien (1979) | Horror, Sci-Fi | dir. Ridley Scott | rating 8.5\n- Untitled", out)
}

func TestRenderCounts(t *testing.T) {
	res := domain.NewSuccess(domain.KindCounts, domain.CountsPayload{
		Field:  "decade",
		Counts: []domain.GroupCount{{Key: 1990, Count: 3}, {Key: "unknown", Count: 1}},
	}, "", 4)

	assert.Equal(t, "Counts by decade:\n- 1990: 3\n- unknown: 1\nTotal: 4", RenderToolResult(res, 0))
}

func TestRenderExport(t *testing.T) {
	res := domain.NewSuccess(domain.KindExport, domain.ExportPayload{
		FileID:      "abc",
		FileName:    "orders_20240101_000000.xlsx",
		RowCount:    12,
		DownloadURL: "http://localhost:8080/api/exports/abc",
	}, "SELECT * FROM orders", 12)

	out := RenderToolResult(res, 0)
	assert.Contains(t, out, "Export ready: orders_20240101_000000.xlsx (12 rows).")
	assert.Contains(t, out, "Download: http://localhost:8080/api/exports/abc")
}

func TestRenderTables(t *testing.T) {
	res := domain.NewSuccess(domain.KindTables, domain.TablesPayload{Tables: []domain.TableRef{
		{Schema: "dbo", Name: "orders", Type: "BASE TABLE"},
		{Schema: "dbo", Name: "active_orders", Type: "VIEW"},
	}}, "", 2)

	assert.Equal(t, "2 table(s):\n- dbo.orders\n- dbo.active_orders (view)", RenderToolResult(res, 0))
}

func TestRenderSchema(t *testing.T) {
	size := 80
	res := domain.NewSuccess(domain.KindSchema, domain.SchemaPayload{Schema: domain.TableSchema{
		Schema: "main",
		Table:  "orders",
		Columns: []domain.ColumnInfo{
			{Name: "id", DataType: "INTEGER", PrimaryKey: true},
			{Name: "note", DataType: "VARCHAR", MaxLength: &size, Nullable: true},
		},
		ForeignKeys:  []domain.ForeignKey{{Column: "customer_id", ReferencedSchema: "main", ReferencedTable: "customers", ReferencedColumn: "id"}},
		ReferencedBy: []domain.ForeignKey{{Column: "id", ReferencedSchema: "main", ReferencedTable: "order_items", ReferencedColumn: "order_id"}},
	}}, "", 2)

	out := RenderToolResult(res, 0)
	assert.Contains(t, out, "Table main.orders")
	assert.Contains(t, out, "- id INTEGER NOT NULL PRIMARY KEY")
	assert.Contains(t, out, "- note VARCHAR(80)\n")
	assert.Contains(t, out, "Foreign keys:\n- customer_id -> main.customers.id")
	assert.Contains(t, out, "Referenced by:\n- main.order_items.order_id -> id")
}

func TestRenderSchemaNotFound(t *testing.T) {
	res := domain.NewSuccess(domain.KindSchema, domain.SchemaPayload{Schema: domain.TableSchema{
		Table:         "order",
		SimilarTables: []string{"main.orders"},
	}}, "", 0)

	assert.Equal(t, "Table order was not found. Similar tables: main.orders.", RenderToolResult(res, 0))
}

func TestRenderIsDeterministic(t *testing.T) {
	res := domain.NewSuccess(domain.KindDocuments, domain.DocumentsPayload{
		Documents: []map[string]any{{"b": 2, "a": 1, "c": []any{"x"}}},
	}, "find", 1)

	first := RenderToolResult(res, 0)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, RenderToolResult(res, 0))
	}
	assert.Contains(t, first, `{"a":1,"b":2,"c":["x"]}`)
}
