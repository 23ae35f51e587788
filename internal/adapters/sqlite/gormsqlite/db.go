package gormsqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"runtime"
	"strings"
	"time"

	gormdriver "gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	_ "modernc.org/sqlite"
)

// DB pairs a read-only pool with a single-connection writer, matching
// SQLite's one-writer model.
type DB struct {
	R *gorm.DB
	W *gorm.DB
}

type Tx struct {
	*gorm.DB
}

type cbfn func(tx *Tx) error

func (db *DB) ReadTX(ctx context.Context, fn cbfn) error {
	return db.R.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&Tx{DB: tx})
	}, &sql.TxOptions{ReadOnly: true})
}

func (db *DB) WriteTX(ctx context.Context, fn cbfn) error {
	return db.W.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&Tx{DB: tx})
	})
}

// WriteSQLDB exposes the writer pool for tools that need database/sql, such
// as the migration runner.
func (db *DB) WriteSQLDB() (*sql.DB, error) {
	return db.W.DB()
}

func (db *DB) Close() error {
	return errors.Join(closeGORM(db.R), closeGORM(db.W))
}

var _ io.Closer = (*DB)(nil)

type options struct {
	log         *slog.Logger
	readers     int
	busyTimeout time.Duration
}

type Option func(*options)

// WithLogger routes slow queries and driver warnings to log at debug level.
func WithLogger(log *slog.Logger) Option {
	return func(o *options) { o.log = log }
}

// WithReaders caps the read pool. The default is one connection per CPU.
func WithReaders(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.readers = n
		}
	}
}

func WithBusyTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.busyTimeout = d
		}
	}
}

// Open opens both pools on file, creating the database if needed.
func Open(file string, opts ...Option) (*DB, error) {
	o := options{readers: runtime.NumCPU(), busyTimeout: 5 * time.Second}
	for _, opt := range opts {
		opt(&o)
	}
	cfg := &gorm.Config{PrepareStmt: true, Logger: gormLogger(o.log)}

	reader, err := openPool(buildDSN(file, true, o.busyTimeout), cfg, o.readers)
	if err != nil {
		return nil, fmt.Errorf("open read pool: %w", err)
	}
	writer, err := openPool(buildDSN(file, false, o.busyTimeout), cfg, 1)
	if err != nil {
		_ = closeGORM(reader)
		return nil, fmt.Errorf("open write pool: %w", err)
	}
	return &DB{R: reader, W: writer}, nil
}

func openPool(dsn string, cfg *gorm.Config, conns int) (*gorm.DB, error) {
	g, err := gorm.Open(gormdriver.Dialector{DriverName: "sqlite", DSN: dsn}, cfg)
	if err != nil {
		return nil, err
	}
	sqlDB, err := g.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(conns)
	sqlDB.SetMaxIdleConns(conns)
	sqlDB.SetConnMaxLifetime(0)
	sqlDB.SetConnMaxIdleTime(0)
	return g, nil
}

func gormLogger(log *slog.Logger) logger.Interface {
	if log == nil {
		return logger.Discard
	}
	return logger.New(
		slog.NewLogLogger(log.Handler(), slog.LevelDebug),
		logger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
			ParameterizedQueries:      true,
		},
	)
}

// buildDSN puts the pragmas in the DSN so every pooled connection runs them.
func buildDSN(file string, readOnly bool, busyTimeout time.Duration) string {
	queryOnly := 0
	if readOnly {
		queryOnly = 1
	}
	pragmas := []string{
		"journal_mode(WAL)",
		"synchronous(NORMAL)",
		"temp_store(MEMORY)",
		"foreign_keys(1)",
		fmt.Sprintf("busy_timeout(%d)", busyTimeout.Milliseconds()),
		"trusted_schema(OFF)",
		fmt.Sprintf("query_only(%d)", queryOnly),
	}

	q := url.Values{}
	for _, p := range pragmas {
		q.Add("_pragma", p)
	}
	if !readOnly {
		q.Set("_txlock", "immediate")
	}

	dsn := file
	if !strings.HasPrefix(dsn, "file:") {
		dsn = "file:" + (&url.URL{Path: file}).EscapedPath()
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + q.Encode()
}

func closeGORM(g *gorm.DB) error {
	if g == nil {
		return nil
	}
	sqlDB, err := g.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
