package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/microsoft/go-mssqldb" // registers the "sqlserver" driver
	_ "modernc.org/sqlite"              // Pure-Go SQLite driver

	"github.com/soyeahso/querydesk/internal/config"
	"github.com/soyeahso/querydesk/internal/logging"
)

// Open connects to the configured relational store and verifies it answers.
func Open(ctx context.Context, cfg config.SQLConfig, log *logging.Logger) (*Service, error) {
	d, err := DialectFor(cfg.Driver)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(d.DriverName(), cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", d.Name(), err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
		db.SetMaxIdleConns(cfg.MaxOpenConns)
	}
	db.SetConnMaxIdleTime(5 * time.Minute)

	svc := NewService(db, d, Options{
		MaxRows: cfg.MaxRows,
		Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second,
	}, log)

	if err := svc.Ping(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("connecting to %s: %w", d.Name(), err)
	}
	svc.log.Info().Str("driver", d.Name()).Int("maxRows", svc.MaxRows()).Msg("relational store connected")
	return svc, nil
}
