package domain

import "time"

// ResultKind tags the payload carried by a successful ToolResult.
type ResultKind string

const (
	KindDocuments ResultKind = "documents"
	KindRecords   ResultKind = "records"
	KindCounts    ResultKind = "counts"
	KindExport    ResultKind = "export"
	KindTables    ResultKind = "tables"
	KindSchema    ResultKind = "schema"
	KindTabular   ResultKind = "tabular"
)

// ToolResult is the outcome of executing a tool. Exactly one of Payload
// and Error is populated.
type ToolResult struct {
	Success    bool       `json:"success"`
	Kind       ResultKind `json:"kind,omitempty"`
	Payload    any        `json:"payload,omitempty"`
	Query      string     `json:"query,omitempty"`
	TotalCount int        `json:"totalCount"`
	Error      string     `json:"error,omitempty"`
}

// NewSuccess builds a successful result.
func NewSuccess(kind ResultKind, payload any, query string, total int) ToolResult {
	return ToolResult{
		Success:    true,
		Kind:       kind,
		Payload:    payload,
		Query:      query,
		TotalCount: total,
	}
}

// NewFailure builds a failed result carrying a human-readable message.
func NewFailure(msg string) ToolResult {
	if msg == "" {
		msg = "tool failed without a message"
	}
	return ToolResult{Error: msg}
}

// WithQuery returns a copy of r with the executed query attached.
// Failed results keep the query so the model can correct it.
func (r ToolResult) WithQuery(q string) ToolResult {
	r.Query = q
	return r
}

// DocumentsPayload holds generic documents from the document store.
type DocumentsPayload struct {
	Documents []map[string]any `json:"documents"`
}

// Movie is the typed record returned by the fixed-shape document tools.
type Movie struct {
	ID        string   `json:"id"`
	Title     string   `json:"title"`
	Year      int      `json:"year,omitempty"` // 0 when the stored year is not numeric
	Genres    []string `json:"genres,omitempty"`
	Directors []string `json:"directors,omitempty"`
	Rating    float64  `json:"rating,omitempty"`
	Runtime   int      `json:"runtime,omitempty"`
}

// RecordsPayload holds typed movie records.
type RecordsPayload struct {
	Records []Movie `json:"records"`
}

// GroupCount is one bucket of a grouped count.
type GroupCount struct {
	Key   any `json:"key"`
	Count int `json:"count"`
}

// CountsPayload holds aggregated counts.
type CountsPayload struct {
	Field  string       `json:"field,omitempty"`
	Counts []GroupCount `json:"counts"`
}

// ExportPayload references an artifact held by the export sink.
type ExportPayload struct {
	FileID      string `json:"fileId"`
	FileName    string `json:"fileName"`
	RowCount    int    `json:"rowCount"`
	DownloadURL string `json:"downloadUrl"`
}

// TableRef names a table or view in the relational store.
type TableRef struct {
	Schema string `json:"schema"`
	Name   string `json:"name"`
	Type   string `json:"type,omitempty"`
}

// Qualified returns schema.name.
func (t TableRef) Qualified() string {
	if t.Schema == "" {
		return t.Name
	}
	return t.Schema + "." + t.Name
}

// TablesPayload lists tables.
type TablesPayload struct {
	Tables []TableRef `json:"tables"`
}

// ColumnInfo describes one column of a table.
type ColumnInfo struct {
	Name       string `json:"name"`
	DataType   string `json:"dataType"`
	Nullable   bool   `json:"nullable"`
	MaxLength  *int   `json:"maxLength,omitempty"`
	PrimaryKey bool   `json:"primaryKey,omitempty"`
}

// ForeignKey links a local column to a column of another table.
type ForeignKey struct {
	Column           string `json:"column"`
	ReferencedSchema string `json:"referencedSchema,omitempty"`
	ReferencedTable  string `json:"referencedTable"`
	ReferencedColumn string `json:"referencedColumn"`
}

// TableSchema is the description of a relational table. ReferencedBy lists
// foreign keys in other tables that point at this one; in those entries
// Column is the local column being referenced.
type TableSchema struct {
	Schema        string       `json:"schema"`
	Table         string       `json:"table"`
	Columns       []ColumnInfo `json:"columns"`
	ForeignKeys   []ForeignKey `json:"foreignKeys,omitempty"`
	ReferencedBy  []ForeignKey `json:"referencedBy,omitempty"`
	SimilarTables []string     `json:"similarTables,omitempty"`
}

// SchemaPayload wraps a single table description.
type SchemaPayload struct {
	Schema TableSchema `json:"schema"`
}

// TabularPayload holds a normalized query result.
type TabularPayload struct {
	Columns   []string `json:"columns"`
	Rows      [][]any  `json:"rows"`
	Truncated bool     `json:"truncated,omitempty"`
}

// ExportArtifact is a generated file held by the export sink until it
// ages out of the retention window.
type ExportArtifact struct {
	ID        string    `json:"id"`
	Data      []byte    `json:"-"`
	FileName  string    `json:"fileName"`
	CreatedAt time.Time `json:"createdAt"`
}
