package migrations

import (
	"context"
	"database/sql"
	"testing"

	"github.com/pressly/goose/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"
)

func TestNewProvider_SQLite(t *testing.T) {
	db, err := sql.Open("sqlite", "file::memory:?_pragma=foreign_keys(1)")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })

	p, err := NewProvider(db, goose.DialectSQLite3)
	require.NoError(t, err)

	ctx := context.Background()
	results, err := p.Up(ctx)
	require.NoError(t, err)
	assert.Len(t, results, 2)

	version, err := p.GetDBVersion(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, version)

	for _, table := range []string{"user_books", "reading_sessions", "users", "auth_sessions"} {
		var name string
		err := db.QueryRow(`SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?`, table).Scan(&name)
		assert.NoError(t, err, table)
	}

	_, err = p.Down(ctx)
	require.NoError(t, err)
	version, err = p.GetDBVersion(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, version)
}

func TestDir(t *testing.T) {
	dir, err := Dir(goose.DialectClickHouse)
	require.NoError(t, err)
	assert.Equal(t, "clickhouse", dir)

	_, err = Dir(goose.DialectPostgres)
	assert.Error(t, err)
}
