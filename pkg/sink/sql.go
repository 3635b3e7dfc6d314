package sink

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/Sternrassler/names-scraper/pkg/model"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

// Dialect selects the SQL flavour of an SQLSink.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

// TableName is the table every SQL sink writes to.
const TableName = "names"

func (d Dialect) schema() []string {
	stmts := make([]string, 0, 4)
	switch d {
	case DialectPostgres:
		stmts = append(stmts, `CREATE TABLE IF NOT EXISTS `+TableName+` (
	id BIGSERIAL PRIMARY KEY,
	display_name TEXT NOT NULL,
	native_name TEXT,
	meaning TEXT,
	url TEXT,
	category TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`)
	default:
		stmts = append(stmts, `CREATE TABLE IF NOT EXISTS `+TableName+` (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	display_name TEXT NOT NULL,
	native_name TEXT,
	meaning TEXT,
	url TEXT,
	category TEXT NOT NULL,
	created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
)`)
	}
	for _, col := range []string{"display_name", "category", "native_name"} {
		stmts = append(stmts, fmt.Sprintf("CREATE INDEX IF NOT EXISTS idx_%s_%s ON %s(%s)", TableName, col, TableName, col))
	}
	return stmts
}

func (d Dialect) insert() string {
	if d == DialectPostgres {
		return `INSERT INTO ` + TableName + ` (display_name, native_name, meaning, url, category) VALUES ($1, $2, $3, $4, $5)`
	}
	return `INSERT INTO ` + TableName + ` (display_name, native_name, meaning, url, category) VALUES (?, ?, ?, ?, ?)`
}

// SQLSink inserts records into a relational table, one transaction per batch.
type SQLSink struct {
	db      *sql.DB
	dialect Dialect
	path    string
	release func()
}

// NewSQLSink creates the table and indexes on db if needed. In Truncate mode
// the rows of earlier runs are deleted, so the table holds exactly this run's
// records. The sink owns db and closes it on Close.
func NewSQLSink(ctx context.Context, db *sql.DB, dialect Dialect, mode Mode) (*SQLSink, error) {
	s := &SQLSink{db: db, dialect: dialect}
	for _, stmt := range dialect.schema() {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return nil, wrapErr(s.Format(), "migrate", err)
		}
	}
	if mode == Truncate {
		if _, err := db.ExecContext(ctx, `DELETE FROM `+TableName); err != nil {
			return nil, wrapErr(s.Format(), "truncate", err)
		}
	}
	return s, nil
}

// OpenSQLite opens (or creates) the SQLite database file at path.
func OpenSQLite(ctx context.Context, path string, mode Mode) (*SQLSink, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, wrapErr(string(DialectSQLite), "open", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, wrapErr(string(DialectSQLite), "open", err)
	}
	db.SetMaxOpenConns(1)

	s, err := NewSQLSink(ctx, db, DialectSQLite, mode)
	if err != nil {
		db.Close()
		return nil, err
	}
	s.path = path
	return s, nil
}

// OpenPostgres connects to dsn through a pgx pool.
func OpenPostgres(ctx context.Context, dsn string, mode Mode) (*SQLSink, error) {
	pc, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, wrapErr(string(DialectPostgres), "parse dsn", err)
	}
	pc.MaxConns = 4
	pc.ConnConfig.RuntimeParams["application_name"] = "names-scraper"

	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	pool, err := pgxpool.NewWithConfig(dialCtx, pc)
	if err != nil {
		return nil, wrapErr(string(DialectPostgres), "connect", err)
	}
	if err := pool.Ping(dialCtx); err != nil {
		pool.Close()
		return nil, wrapErr(string(DialectPostgres), "ping", err)
	}

	s, err := NewSQLSink(ctx, stdlib.OpenDBFromPool(pool), DialectPostgres, mode)
	if err != nil {
		pool.Close()
		return nil, err
	}
	s.release = pool.Close
	return s, nil
}

func (s *SQLSink) Format() string { return string(s.dialect) }

// Path returns the database file, or "" for a server database.
func (s *SQLSink) Path() string { return s.path }

// Append inserts the batch in one transaction.
func (s *SQLSink) Append(ctx context.Context, records []model.Record) error {
	if len(records) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return wrapErr(s.Format(), "begin", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, s.dialect.insert())
	if err != nil {
		return wrapErr(s.Format(), "prepare", err)
	}
	defer stmt.Close()

	for _, r := range records {
		if _, err := stmt.ExecContext(ctx, r.DisplayName, r.NativeName, r.Meaning, r.URL, string(r.Category)); err != nil {
			return wrapErr(s.Format(), "insert", err)
		}
	}
	return wrapErr(s.Format(), "commit", tx.Commit())
}

func (s *SQLSink) Close() error {
	err := s.db.Close()
	if s.release != nil {
		s.release()
	}
	return wrapErr(s.Format(), "close", err)
}
