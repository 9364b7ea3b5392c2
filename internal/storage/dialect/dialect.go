// Package dialect describes how each supported database spells the few
// statements the trade store cannot write portably.
package dialect

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// Dialect is one database's column types and statement variants.
type Dialect struct {
	// Name is the canonical dialect name: sqlite or postgres.
	Name string

	// DriverName is the database/sql driver registered for the dialect.
	DriverName string

	// TimestampType, TextType and DecimalType are column types. DecimalType
	// must hold money amounts exactly.
	TimestampType string
	TextType      string
	DecimalType   string

	// SerialKey declares an auto-incrementing integer primary key.
	SerialKey string

	// Init runs once after the connection pool opens.
	Init []string

	numbered     bool
	columnExists string
}

var (
	SQLite = &Dialect{
		Name:          "sqlite",
		DriverName:    "sqlite",
		TimestampType: "TIMESTAMP",
		TextType:      "TEXT",
		DecimalType:   "TEXT", // no exact decimal type; amounts are stored as strings
		SerialKey:     "INTEGER PRIMARY KEY AUTOINCREMENT",
		Init: []string{
			"PRAGMA journal_mode=WAL",
			"PRAGMA synchronous=NORMAL",
			"PRAGMA busy_timeout=5000",
		},
		columnExists: `SELECT COUNT(*) FROM pragma_table_info(?) WHERE name = ?`,
	}

	Postgres = &Dialect{
		Name:          "postgres",
		DriverName:    "pgx",
		TimestampType: "TIMESTAMP WITH TIME ZONE",
		TextType:      "TEXT",
		DecimalType:   "NUMERIC(20, 4)",
		SerialKey:     "BIGSERIAL PRIMARY KEY",
		numbered:      true,
		columnExists:  `SELECT COUNT(*) FROM information_schema.columns WHERE table_name = ? AND column_name = ?`,
	}
)

// Lookup returns the dialect for a driver or dialect name.
func Lookup(name string) (*Dialect, error) {
	switch strings.ToLower(name) {
	case "sqlite", "sqlite3":
		return SQLite, nil
	case "postgres", "postgresql", "pgx":
		return Postgres, nil
	default:
		return nil, fmt.Errorf("unsupported driver: %s", name)
	}
}

// Rebind rewrites ? placeholders into the dialect's style. Question marks
// inside single-quoted literals are left alone.
func (d *Dialect) Rebind(query string) string {
	if !d.numbered {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	quoted := false
	for _, ch := range query {
		switch {
		case ch == '\'':
			quoted = !quoted
			b.WriteRune(ch)
		case ch == '?' && !quoted:
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
		default:
			b.WriteRune(ch)
		}
	}
	return b.String()
}

// InsertIgnore is the suffix that turns an INSERT into a no-op when a row
// with the same conflictColumn already exists.
func (d *Dialect) InsertIgnore(conflictColumn string) string {
	return fmt.Sprintf("ON CONFLICT (%s) DO NOTHING", conflictColumn)
}

// ColumnExistsQuery counts the columns named (table, column), already rebound.
func (d *Dialect) ColumnExistsQuery() string {
	return d.Rebind(d.columnExists)
}

// IsUniqueViolation reports whether err was raised by a unique or primary
// key constraint.
func (d *Dialect) IsUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		switch liteErr.Code() {
		case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
			return true
		case sqlite3.SQLITE_CONSTRAINT:
			// connections without extended result codes
			return strings.Contains(liteErr.Error(), "UNIQUE")
		}
	}
	return false
}
