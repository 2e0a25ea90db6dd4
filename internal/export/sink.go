package export

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/xuri/excelize/v2"

	"github.com/soyeahso/querydesk/internal/domain"
	"github.com/soyeahso/querydesk/internal/hooks"
	"github.com/soyeahso/querydesk/internal/logging"
)

// MIMEType is served with every downloaded artifact.
const MIMEType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// DefaultRetention is how long artifacts stay downloadable.
const DefaultRetention = 30 * time.Minute

const sheetName = "Data"

// Table is the tabular input to an export.
type Table struct {
	Columns []string
	Rows    [][]any
}

// Ref identifies a stored export.
type Ref struct {
	ID       string
	FileName string
	RowCount int
}

// Sink renders tables to xlsx and hands them to an ArtifactStore.
type Sink struct {
	store   ArtifactStore
	hooks   *hooks.Manager
	maxRows int
	now     func() time.Time
	log     *logging.Logger
}

// Option customizes a Sink.
type Option func(*Sink)

// WithClock overrides the time source used for CreatedAt and sweeps.
func WithClock(now func() time.Time) Option {
	return func(s *Sink) { s.now = now }
}

// WithHooks emits export.created on every export.
func WithHooks(h *hooks.Manager) Option {
	return func(s *Sink) { s.hooks = h }
}

// WithMaxRows caps the rows written to one file.
func WithMaxRows(n int) Option {
	return func(s *Sink) { s.maxRows = n }
}

// NewSink creates a sink over store.
func NewSink(store ArtifactStore, log *logging.Logger, opts ...Option) *Sink {
	s := &Sink{store: store, now: time.Now, log: log.Sub("export")}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Export writes table to a spreadsheet, optionally headed by description,
// and stores it under a new id. The returned file name is derived from
// baseName.
func (s *Sink) Export(ctx context.Context, table Table, description, baseName string) (Ref, error) {
	if len(table.Columns) == 0 {
		return Ref{}, fmt.Errorf("nothing to export: no columns")
	}
	rows := table.Rows
	if s.maxRows > 0 && len(rows) > s.maxRows {
		rows = rows[:s.maxRows]
	}

	data, err := renderXLSX(table.Columns, rows, description)
	if err != nil {
		return Ref{}, fmt.Errorf("rendering spreadsheet: %w", err)
	}

	now := s.now()
	a := domain.ExportArtifact{
		ID:        uuid.NewString(),
		Data:      data,
		FileName:  fileName(baseName, now),
		CreatedAt: now,
	}
	if err := s.store.Put(ctx, a); err != nil {
		return Ref{}, err
	}

	s.log.Info().
		Str("fileId", a.ID).
		Str("fileName", a.FileName).
		Int("rows", len(rows)).
		Int("bytes", len(data)).
		Msg("export created")
	s.hooks.Emit(ctx, hooks.EventExportCreated, &hooks.ExportEvent{
		FileID:   a.ID,
		FileName: a.FileName,
		RowCount: len(rows),
		Bytes:    len(data),
	})

	return Ref{ID: a.ID, FileName: a.FileName, RowCount: len(rows)}, nil
}

// Get returns a stored artifact, or false when unknown or expired.
func (s *Sink) Get(ctx context.Context, id string) (domain.ExportArtifact, bool, error) {
	return s.store.Get(ctx, id)
}

// Sweep purges expired artifacts.
func (s *Sink) Sweep(ctx context.Context) (int, error) {
	return s.store.Sweep(ctx, s.now())
}

// RunJanitor sweeps every interval until ctx is cancelled.
func (s *Sink) RunJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := s.Sweep(ctx)
			if err != nil {
				s.log.Warn().Err(err).Msg("export sweep failed")
				continue
			}
			if n > 0 {
				s.log.Debug().Int("removed", n).Msg("expired exports swept")
			}
		}
	}
}

func renderXLSX(columns []string, rows [][]any, description string) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", sheetName); err != nil {
		return nil, err
	}

	row := 1
	if description != "" {
		if err := f.SetCellValue(sheetName, "A1", description); err != nil {
			return nil, err
		}
		row = 3
	}

	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return nil, err
	}
	header := make([]any, len(columns))
	for i, c := range columns {
		header[i] = c
	}
	if err := writeRow(f, row, header); err != nil {
		return nil, err
	}
	first, _ := excelize.CoordinatesToCellName(1, row)
	last, _ := excelize.CoordinatesToCellName(len(columns), row)
	if err := f.SetCellStyle(sheetName, first, last, bold); err != nil {
		return nil, err
	}

	for _, r := range rows {
		row++
		if err := writeRow(f, row, r); err != nil {
			return nil, err
		}
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeRow(f *excelize.File, row int, values []any) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return err
	}
	out := make([]any, len(values))
	for i, v := range values {
		out[i] = cellValue(v)
	}
	return f.SetSheetRow(sheetName, cell, &out)
}

// cellValue flattens values excelize cannot place in a cell directly.
func cellValue(v any) any {
	switch v.(type) {
	case nil, string, bool, int, int32, int64, float32, float64, time.Time:
		return v
	default:
		return fmt.Sprint(v)
	}
}

var unsafeName = regexp.MustCompile(`[^A-Za-z0-9_-]+`)

func fileName(base string, at time.Time) string {
	base = strings.Trim(unsafeName.ReplaceAllString(strings.TrimSpace(base), "_"), "_")
	if base == "" {
		base = "export"
	}
	return fmt.Sprintf("%s_%s.xlsx", base, at.UTC().Format("20060102_150405"))
}
