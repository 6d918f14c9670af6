// Package database is the SQLite ledger backend. Every ledger table maps to
// one SQL table whose columns follow the ledger header.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"

	"meetbook/internal/ledger"
	"meetbook/internal/model"
)

// DB wraps sql.DB and implements ledger.Store.
type DB struct {
	*sql.DB
	path   string
	logger *zerolog.Logger
}

var _ ledger.Store = (*DB)(nil)

// NewDB opens the database at path and creates missing tables.
func NewDB(path string, logger *zerolog.Logger) (*DB, error) {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// a single connection serializes writers inside the process
	db.SetMaxOpenConns(1)

	if err := createTables(db); err != nil {
		db.Close()
		return nil, err
	}
	logger.Info().Str("path", path).Msg("sqlite ledger opened")
	return &DB{DB: db, path: path, logger: logger}, nil
}

// Path returns the database file, used by the backup service.
func (db *DB) Path() string {
	return db.path
}

func quote(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func createTables(db *sql.DB) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS ledger_probe (
			id INTEGER PRIMARY KEY,
			touched_at DATETIME
		)`,
	}
	for _, t := range ledger.Tables() {
		cols := make([]string, 0, len(t.Header())+1)
		cols = append(cols, "seq INTEGER PRIMARY KEY AUTOINCREMENT")
		for _, h := range t.Header() {
			cols = append(cols, quote(h)+" TEXT NOT NULL DEFAULT ''")
		}
		queries = append(queries, fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n\t%s\n)",
			quote(string(t)), strings.Join(cols, ",\n\t")))
	}

	for _, q := range queries {
		if _, err := db.Exec(q); err != nil {
			return fmt.Errorf("exec migration %s: %w", trimSQL(q), err)
		}
	}
	return nil
}

func trimSQL(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > 60 {
		return s[:60] + "..."
	}
	return s
}

func columns(t ledger.Table) string {
	h := t.Header()
	out := make([]string, len(h))
	for i, c := range h {
		out[i] = quote(c)
	}
	return strings.Join(out, ", ")
}

func (db *DB) ReadAll(ctx context.Context, table ledger.Table) ([]ledger.Row, error) {
	if err := ledger.CheckTable(table); err != nil {
		return nil, err
	}
	q := fmt.Sprintf("SELECT %s FROM %s ORDER BY seq", columns(table), quote(string(table)))
	rows, err := db.QueryContext(ctx, q)
	if err != nil {
		return nil, model.Unavailable("read "+string(table), err)
	}
	defer rows.Close()

	width := len(table.Header())
	var out []ledger.Row
	for rows.Next() {
		row := make(ledger.Row, width)
		dest := make([]any, width)
		for i := range row {
			dest[i] = &row[i]
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, model.Unavailable("scan "+string(table), err)
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, model.Unavailable("read "+string(table), err)
	}
	return out, nil
}

// Append inserts rows in one transaction.
func (db *DB) Append(ctx context.Context, table ledger.Table, rows ...ledger.Row) error {
	if err := ledger.CheckTable(table); err != nil {
		return err
	}
	return db.inTx(ctx, "append "+string(table), func(tx *sql.Tx) error {
		return insertRows(ctx, tx, table, rows)
	})
}

// ReplaceAll deletes and re-inserts the table in one transaction.
func (db *DB) ReplaceAll(ctx context.Context, table ledger.Table, rows []ledger.Row) error {
	if err := ledger.CheckTable(table); err != nil {
		return err
	}
	return db.inTx(ctx, "replace "+string(table), func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+quote(string(table))); err != nil {
			return err
		}
		return insertRows(ctx, tx, table, rows)
	})
}

// Probe runs a throwaway write and rolls it back.
func (db *DB) Probe(ctx context.Context) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return model.Unavailable("probe", err)
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx,
		"INSERT OR REPLACE INTO ledger_probe (id, touched_at) VALUES (1, CURRENT_TIMESTAMP)"); err != nil {
		return model.Unavailable("probe", err)
	}
	return nil
}

func (db *DB) inTx(ctx context.Context, op string, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return model.Unavailable(op, err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			db.logger.Warn().Err(rbErr).Str("op", op).Msg("rollback failed")
		}
		return model.Unavailable(op, err)
	}
	if err := tx.Commit(); err != nil {
		return model.Unavailable(op, err)
	}
	return nil
}

func insertRows(ctx context.Context, tx *sql.Tx, table ledger.Table, rows []ledger.Row) error {
	if len(rows) == 0 {
		return nil
	}
	width := len(table.Header())
	q := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		quote(string(table)), columns(table), strings.TrimSuffix(strings.Repeat("?, ", width), ", "))
	stmt, err := tx.PrepareContext(ctx, q)
	if err != nil {
		return err
	}
	defer stmt.Close()

	args := make([]any, width)
	for _, r := range rows {
		for i := range args {
			args[i] = r.Cell(i)
		}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return err
		}
	}
	return nil
}
