package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/soyeahso/querydesk/internal/domain"
	"github.com/soyeahso/querydesk/internal/logging"
)

// DefaultSampleRows is used when a caller asks for zero or fewer sample rows.
const DefaultSampleRows = 10

// ErrTableNotFound is returned when a table cannot be resolved.
var ErrTableNotFound = errors.New("table not found")

// Options bound the work a single query may do.
type Options struct {
	MaxRows int
	Timeout time.Duration
}

// QueryResult is a normalized, bounded query result.
type QueryResult struct {
	SQL       string
	Columns   []string
	Rows      [][]any
	Truncated bool
}

// Payload converts the result into the tool payload shape.
func (r QueryResult) Payload() domain.TabularPayload {
	return domain.TabularPayload{Columns: r.Columns, Rows: r.Rows, Truncated: r.Truncated}
}

// Service runs read-only catalog and data queries. It holds no per-call
// state; the *sql.DB pool is shared.
type Service struct {
	db      *sql.DB
	dialect Dialect
	opts    Options
	log     *logging.Logger
}

// NewService wraps an open database handle.
func NewService(db *sql.DB, d Dialect, opts Options, log *logging.Logger) *Service {
	if opts.MaxRows <= 0 {
		opts.MaxRows = 500
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	return &Service{db: db, dialect: d, opts: opts, log: log.Sub("sqlstore")}
}

// Dialect returns the engine dialect.
func (s *Service) Dialect() Dialect { return s.dialect }

// MaxRows returns the configured row ceiling.
func (s *Service) MaxRows() int { return s.opts.MaxRows }

// Ping checks connectivity.
func (s *Service) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
	defer cancel()
	return s.db.PingContext(ctx)
}

// Close releases the pool.
func (s *Service) Close() error {
	return s.db.Close()
}

// ListTables returns every user table and view.
func (s *Service) ListTables(ctx context.Context) ([]domain.TableRef, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
	defer cancel()
	return s.dialect.ListTables(ctx, s.db)
}

// DescribeTable resolves name and returns its columns with foreign keys in
// both directions. When the table has no columns the result carries
// similar table names instead of an error.
func (s *Service) DescribeTable(ctx context.Context, name string) (domain.TableSchema, error) {
	schema, table := ParseTableName(name)
	if table == "" {
		return domain.TableSchema{}, fmt.Errorf("table name is required")
	}
	if schema == "" {
		schema = s.dialect.DefaultSchema()
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
	defer cancel()

	out := domain.TableSchema{Schema: schema, Table: table}
	cols, err := s.dialect.Columns(ctx, s.db, schema, table)
	if err != nil {
		return out, err
	}
	out.Columns = cols

	if len(cols) == 0 {
		tables, err := s.dialect.ListTables(ctx, s.db)
		if err != nil {
			return out, err
		}
		out.SimilarTables = similarTables(table, tables)
		s.log.Debug().Str("table", name).Strs("similar", out.SimilarTables).Msg("table not found")
		return out, nil
	}

	if out.ForeignKeys, err = s.dialect.ForeignKeys(ctx, s.db, schema, table); err != nil {
		return out, err
	}
	if out.ReferencedBy, err = s.dialect.ReferencedBy(ctx, s.db, schema, table); err != nil {
		return out, err
	}
	return out, nil
}

// ExecuteReadOnly validates query, bounds it to maxRows (clamped to the
// service ceiling) and runs it under the per-query timeout. Rejected
// statements never reach the driver.
func (s *Service) ExecuteReadOnly(ctx context.Context, query string, maxRows int) (QueryResult, error) {
	if err := ValidateReadOnly(query); err != nil {
		return QueryResult{SQL: query}, err
	}
	limit := s.clampRows(maxRows)
	bounded := EnforceRowLimit(query, limit, s.dialect)
	return s.run(ctx, bounded, limit)
}

// SampleRows returns the first n rows of a table. The table must exist;
// its identifier is quoted by the dialect.
func (s *Service) SampleRows(ctx context.Context, name string, n int) (QueryResult, error) {
	schema, table := ParseTableName(name)
	if table == "" {
		return QueryResult{}, fmt.Errorf("table name is required")
	}
	if n <= 0 {
		n = DefaultSampleRows
	}
	n = s.clampRows(n)

	tables, err := s.ListTables(ctx)
	if err != nil {
		return QueryResult{}, err
	}
	ref, ok := resolveTable(tables, schema, table)
	if !ok {
		hint := similarTables(table, tables)
		if len(hint) > 0 {
			return QueryResult{}, fmt.Errorf("%w: %s (similar: %s)", ErrTableNotFound, name, strings.Join(hint, ", "))
		}
		return QueryResult{}, fmt.Errorf("%w: %s", ErrTableNotFound, name)
	}

	query := s.dialect.SampleQuery(s.dialect.QuoteTable(ref.Schema, ref.Name), n)
	return s.run(ctx, query, n)
}

func (s *Service) clampRows(n int) int {
	if n <= 0 || n > s.opts.MaxRows {
		return s.opts.MaxRows
	}
	return n
}

func (s *Service) run(ctx context.Context, query string, limit int) (QueryResult, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
	defer cancel()

	start := time.Now()
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return QueryResult{SQL: query}, fmt.Errorf("query timed out after %s", s.opts.Timeout)
		}
		return QueryResult{SQL: query}, fmt.Errorf("query failed: %w", err)
	}
	defer rows.Close()

	res, err := readRows(rows, limit)
	res.SQL = query
	if err != nil {
		return res, fmt.Errorf("reading rows: %w", err)
	}
	s.log.Debug().
		Str("sql", query).
		Int("rows", len(res.Rows)).
		Bool("truncated", res.Truncated).
		Dur("duration", time.Since(start)).
		Msg("query executed")
	return res, nil
}

// readRows scans at most limit rows, normalizing each value. Truncated is
// set when more rows were available.
func readRows(rows *sql.Rows, limit int) (QueryResult, error) {
	var res QueryResult
	cols, err := rows.ColumnTypes()
	if err != nil {
		return res, err
	}
	res.Columns = make([]string, len(cols))
	for i, c := range cols {
		res.Columns[i] = c.Name()
	}
	res.Rows = [][]any{}

	for rows.Next() {
		if len(res.Rows) >= limit {
			res.Truncated = true
			break
		}
		raw := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range raw {
			ptrs[i] = &raw[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return res, err
		}
		row := make([]any, len(cols))
		for i, v := range raw {
			row[i] = normalizeValue(v, cols[i].DatabaseTypeName())
		}
		res.Rows = append(res.Rows, row)
	}
	return res, rows.Err()
}

func resolveTable(tables []domain.TableRef, schema, table string) (domain.TableRef, bool) {
	for _, t := range tables {
		if !strings.EqualFold(t.Name, table) {
			continue
		}
		if schema == "" || strings.EqualFold(t.Schema, schema) {
			return t, true
		}
	}
	return domain.TableRef{}, false
}
