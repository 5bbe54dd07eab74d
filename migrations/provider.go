package migrations

import (
	"database/sql"
	"fmt"
	"io/fs"

	"github.com/pressly/goose/v3"
)

// Dir returns the embedded directory holding migrations for dialect
func Dir(dialect goose.Dialect) (string, error) {
	switch dialect {
	case goose.DialectSQLite3:
		return "sqlite", nil
	case goose.DialectClickHouse:
		return "clickhouse", nil
	default:
		return "", fmt.Errorf("no migrations for dialect %q", dialect)
	}
}

// NewProvider returns a goose provider over the embedded migrations for dialect
func NewProvider(db *sql.DB, dialect goose.Dialect) (*goose.Provider, error) {
	dir, err := Dir(dialect)
	if err != nil {
		return nil, err
	}
	fsys, err := fs.Sub(FS, dir)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s migrations: %w", dir, err)
	}
	return goose.NewProvider(dialect, db, fsys)
}
