package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/soyeahso/querydesk/internal/domain"
)

// Dialect hides the catalog queries and identifier rules that differ
// between the supported engines.
type Dialect interface {
	Name() string
	DriverName() string
	DefaultSchema() string
	ListTables(ctx context.Context, db *sql.DB) ([]domain.TableRef, error)
	Columns(ctx context.Context, db *sql.DB, schema, table string) ([]domain.ColumnInfo, error)
	ForeignKeys(ctx context.Context, db *sql.DB, schema, table string) ([]domain.ForeignKey, error)
	ReferencedBy(ctx context.Context, db *sql.DB, schema, table string) ([]domain.ForeignKey, error)
	QuoteTable(schema, table string) string
	SampleQuery(quotedTable string, n int) string
}

// DialectFor returns the dialect registered under name.
func DialectFor(name string) (Dialect, error) {
	switch strings.ToLower(name) {
	case "mssql", "sqlserver":
		return MSSQL{}, nil
	case "sqlite":
		return SQLite{}, nil
	default:
		return nil, fmt.Errorf("unsupported sql driver %q", name)
	}
}

// MSSQL reads the catalog through INFORMATION_SCHEMA and sys views.
type MSSQL struct{}

func (MSSQL) Name() string          { return "mssql" }
func (MSSQL) DriverName() string    { return "sqlserver" }
func (MSSQL) DefaultSchema() string { return "dbo" }

func (MSSQL) ListTables(ctx context.Context, db *sql.DB) ([]domain.TableRef, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT TABLE_SCHEMA, TABLE_NAME, TABLE_TYPE
		FROM INFORMATION_SCHEMA.TABLES
		ORDER BY TABLE_SCHEMA, TABLE_NAME`)
	if err != nil {
		return nil, fmt.Errorf("listing tables: %w", err)
	}
	defer rows.Close()

	var out []domain.TableRef
	for rows.Next() {
		var t domain.TableRef
		if err := rows.Scan(&t.Schema, &t.Name, &t.Type); err != nil {
			return nil, fmt.Errorf("scanning table: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (MSSQL) Columns(ctx context.Context, db *sql.DB, schema, table string) ([]domain.ColumnInfo, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT c.COLUMN_NAME, c.DATA_TYPE, c.IS_NULLABLE, c.CHARACTER_MAXIMUM_LENGTH,
			CASE WHEN pk.COLUMN_NAME IS NULL THEN 0 ELSE 1 END
		FROM INFORMATION_SCHEMA.COLUMNS c
		LEFT JOIN (
			SELECT ku.TABLE_SCHEMA, ku.TABLE_NAME, ku.COLUMN_NAME
			FROM INFORMATION_SCHEMA.TABLE_CONSTRAINTS tc
			JOIN INFORMATION_SCHEMA.KEY_COLUMN_USAGE ku
				ON tc.CONSTRAINT_NAME = ku.CONSTRAINT_NAME AND tc.TABLE_SCHEMA = ku.TABLE_SCHEMA
			WHERE tc.CONSTRAINT_TYPE = 'PRIMARY KEY'
		) pk ON pk.TABLE_SCHEMA = c.TABLE_SCHEMA AND pk.TABLE_NAME = c.TABLE_NAME AND pk.COLUMN_NAME = c.COLUMN_NAME
		WHERE c.TABLE_SCHEMA = @p1 AND c.TABLE_NAME = @p2
		ORDER BY c.ORDINAL_POSITION`, schema, table)
	if err != nil {
		return nil, fmt.Errorf("reading columns: %w", err)
	}
	defer rows.Close()

	var out []domain.ColumnInfo
	for rows.Next() {
		var (
			c        domain.ColumnInfo
			nullable string
			maxLen   sql.NullInt64
			pk       int
		)
		if err := rows.Scan(&c.Name, &c.DataType, &nullable, &maxLen, &pk); err != nil {
			return nil, fmt.Errorf("scanning column: %w", err)
		}
		c.Nullable = strings.EqualFold(nullable, "YES")
		c.PrimaryKey = pk == 1
		if maxLen.Valid {
			n := int(maxLen.Int64)
			c.MaxLength = &n
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

const mssqlForeignKeyJoins = `
	FROM sys.foreign_key_columns fkc
	JOIN sys.tables pt ON pt.object_id = fkc.parent_object_id
	JOIN sys.schemas ps ON ps.schema_id = pt.schema_id
	JOIN sys.columns pc ON pc.object_id = fkc.parent_object_id AND pc.column_id = fkc.parent_column_id
	JOIN sys.tables rt ON rt.object_id = fkc.referenced_object_id
	JOIN sys.schemas rs ON rs.schema_id = rt.schema_id
	JOIN sys.columns rc ON rc.object_id = fkc.referenced_object_id AND rc.column_id = fkc.referenced_column_id`

func (MSSQL) ForeignKeys(ctx context.Context, db *sql.DB, schema, table string) ([]domain.ForeignKey, error) {
	return scanForeignKeys(db.QueryContext(ctx,
		`SELECT pc.name, rs.name, rt.name, rc.name`+mssqlForeignKeyJoins+`
		WHERE ps.name = @p1 AND pt.name = @p2
		ORDER BY pc.name`, schema, table))
}

func (MSSQL) ReferencedBy(ctx context.Context, db *sql.DB, schema, table string) ([]domain.ForeignKey, error) {
	return scanForeignKeys(db.QueryContext(ctx,
		`SELECT rc.name, ps.name, pt.name, pc.name`+mssqlForeignKeyJoins+`
		WHERE rs.name = @p1 AND rt.name = @p2
		ORDER BY ps.name, pt.name`, schema, table))
}

func (MSSQL) QuoteTable(schema, table string) string {
	q := func(s string) string { return "[" + strings.ReplaceAll(s, "]", "]]") + "]" }
	return q(schema) + "." + q(table)
}

func (MSSQL) SampleQuery(quotedTable string, n int) string {
	return fmt.Sprintf("SELECT TOP %d * FROM %s", n, quotedTable)
}

// SQLite reads the catalog through sqlite_master and the pragma table
// functions. It has a single schema, "main".
type SQLite struct{}

func (SQLite) Name() string          { return "sqlite" }
func (SQLite) DriverName() string    { return "sqlite" }
func (SQLite) DefaultSchema() string { return "main" }

func (SQLite) ListTables(ctx context.Context, db *sql.DB) ([]domain.TableRef, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT 'main', name, type FROM sqlite_master
		WHERE type IN ('table', 'view') AND name NOT LIKE 'sqlite_%'
		ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("listing tables: %w", err)
	}
	defer rows.Close()

	var out []domain.TableRef
	for rows.Next() {
		var t domain.TableRef
		if err := rows.Scan(&t.Schema, &t.Name, &t.Type); err != nil {
			return nil, fmt.Errorf("scanning table: %w", err)
		}
		t.Type = strings.ToUpper(t.Type)
		out = append(out, t)
	}
	return out, rows.Err()
}

var declaredLength = regexp.MustCompile(`\(\s*(\d+)`)

func (SQLite) Columns(ctx context.Context, db *sql.DB, _, table string) ([]domain.ColumnInfo, error) {
	rows, err := db.QueryContext(ctx, `SELECT name, type, "notnull", pk FROM pragma_table_info(?)`, table)
	if err != nil {
		return nil, fmt.Errorf("reading columns: %w", err)
	}
	defer rows.Close()

	var out []domain.ColumnInfo
	for rows.Next() {
		var (
			c       domain.ColumnInfo
			notNull int
			pk      int
		)
		if err := rows.Scan(&c.Name, &c.DataType, &notNull, &pk); err != nil {
			return nil, fmt.Errorf("scanning column: %w", err)
		}
		c.Nullable = notNull == 0 && pk == 0
		c.PrimaryKey = pk > 0
		if m := declaredLength.FindStringSubmatch(c.DataType); m != nil {
			if n, err := strconv.Atoi(m[1]); err == nil {
				c.MaxLength = &n
			}
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (SQLite) ForeignKeys(ctx context.Context, db *sql.DB, _, table string) ([]domain.ForeignKey, error) {
	rows, err := db.QueryContext(ctx, `SELECT "from", "table", "to" FROM pragma_foreign_key_list(?)`, table)
	if err != nil {
		return nil, fmt.Errorf("reading foreign keys: %w", err)
	}
	defer rows.Close()

	var out []domain.ForeignKey
	for rows.Next() {
		var (
			fk domain.ForeignKey
			to sql.NullString
		)
		if err := rows.Scan(&fk.Column, &fk.ReferencedTable, &to); err != nil {
			return nil, fmt.Errorf("scanning foreign key: %w", err)
		}
		fk.ReferencedSchema = "main"
		fk.ReferencedColumn = to.String
		out = append(out, fk)
	}
	return out, rows.Err()
}

func (SQLite) ReferencedBy(ctx context.Context, db *sql.DB, _, table string) ([]domain.ForeignKey, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT f."to", m.name, f."from"
		FROM sqlite_master m, pragma_foreign_key_list(m.name) f
		WHERE m.type = 'table' AND f."table" = ?
		ORDER BY m.name`, table)
	if err != nil {
		return nil, fmt.Errorf("reading references: %w", err)
	}
	defer rows.Close()

	var out []domain.ForeignKey
	for rows.Next() {
		var (
			fk    domain.ForeignKey
			local sql.NullString
		)
		if err := rows.Scan(&local, &fk.ReferencedTable, &fk.ReferencedColumn); err != nil {
			return nil, fmt.Errorf("scanning reference: %w", err)
		}
		fk.Column = local.String
		fk.ReferencedSchema = "main"
		out = append(out, fk)
	}
	return out, rows.Err()
}

func (SQLite) QuoteTable(_, table string) string {
	return `"` + strings.ReplaceAll(table, `"`, `""`) + `"`
}

func (SQLite) SampleQuery(quotedTable string, n int) string {
	return fmt.Sprintf("SELECT * FROM %s LIMIT %d", quotedTable, n)
}

func scanForeignKeys(rows *sql.Rows, err error) ([]domain.ForeignKey, error) {
	if err != nil {
		return nil, fmt.Errorf("reading foreign keys: %w", err)
	}
	defer rows.Close()

	var out []domain.ForeignKey
	for rows.Next() {
		var fk domain.ForeignKey
		if err := rows.Scan(&fk.Column, &fk.ReferencedSchema, &fk.ReferencedTable, &fk.ReferencedColumn); err != nil {
			return nil, fmt.Errorf("scanning foreign key: %w", err)
		}
		out = append(out, fk)
	}
	return out, rows.Err()
}
