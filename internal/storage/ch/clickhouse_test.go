package ch

import (
	"context"
	"io/fs"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	clickhouseTC "github.com/testcontainers/testcontainers-go/modules/clickhouse"

	"bookshelf/internal/models"
	"bookshelf/internal/storage"
	"bookshelf/migrations"
)

// runMigrations executes the Up sections of the embedded ClickHouse migrations
func runMigrations(ctx context.Context, db *ClickHouseDB) error {
	files, err := fs.Glob(migrations.FS, "clickhouse/*.sql")
	if err != nil {
		return err
	}
	sort.Strings(files)

	for _, name := range files {
		raw, err := fs.ReadFile(migrations.FS, name)
		if err != nil {
			return err
		}
		up := string(raw)
		if i := strings.Index(up, "-- +goose Down"); i >= 0 {
			up = up[:i]
		}
		up = strings.Replace(up, "-- +goose Up", "", 1)
		for _, stmt := range strings.Split(up, ";") {
			if strings.TrimSpace(stmt) == "" {
				continue
			}
			if err := db.conn.Exec(ctx, stmt); err != nil {
				return err
			}
		}
	}
	return nil
}

// setupTestDB creates a test ClickHouse instance using testcontainers
func setupTestDB(t *testing.T) (*ClickHouseDB, func()) {
	if testing.Short() {
		t.Skip("skipping ClickHouse container test in short mode")
	}
	ctx := context.Background()

	// Start ClickHouse container
	clickhouseContainer, err := clickhouseTC.Run(ctx,
		"clickhouse/clickhouse-server:24.3.3.102-alpine",
		clickhouseTC.WithUsername("default"),
		clickhouseTC.WithPassword(""),
		clickhouseTC.WithDatabase("default"),
	)
	require.NoError(t, err, "Failed to start ClickHouse container")

	// Get connection details
	host, err := clickhouseContainer.Host(ctx)
	require.NoError(t, err)

	port, err := clickhouseContainer.MappedPort(ctx, "9000/tcp")
	require.NoError(t, err)

	// Create database connection
	db, err := NewClickHouseDB(host, port.Int(), "default", "default", "", false)
	require.NoError(t, err, "Failed to connect to ClickHouse")

	err = runMigrations(ctx, db)
	require.NoError(t, err, "Failed to run migrations")

	// Cleanup function
	cleanup := func() {
		db.Close()
		clickhouseContainer.Terminate(ctx)
	}

	return db, cleanup
}

func TestClickHouseDB_Ledger(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()

	base := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	tick := 0
	db.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * 100 * time.Millisecond)
	}

	// Add a work and reject the duplicate
	work, err := db.CreateTrackedWork(ctx, models.NewTrackedWork{
		UserID:         "alice",
		OpenLibraryKey: "/works/OL1W",
		Title:          "Dune",
		AuthorName:     "Herbert",
	})
	require.NoError(t, err)
	assert.Equal(t, models.StatusToRead, work.Status)

	_, err = db.CreateTrackedWork(ctx, models.NewTrackedWork{UserID: "alice", OpenLibraryKey: "/works/OL1W"})
	assert.ErrorIs(t, err, storage.ErrConflict)

	// Log two sessions within the same second and advance the counter
	first, err := db.AppendProgressEvent(ctx, "alice", work.ID, 50, nil)
	require.NoError(t, err)
	note := "chapter two"
	second, err := db.AppendProgressEvent(ctx, "alice", work.ID, 30, &note)
	require.NoError(t, err)
	require.Equal(t, first.SessionDate.Truncate(time.Second), second.SessionDate.Truncate(time.Second))
	require.True(t, second.SessionDate.After(first.SessionDate))

	updated, err := db.UpdateCurrentPage(ctx, "alice", work.ID, 80)
	require.NoError(t, err)
	require.NotNil(t, updated)

	got, err := db.GetTrackedWork(ctx, "alice", work.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 80, got.CurrentPageNumber)
	assert.True(t, work.CreatedAt.Equal(got.CreatedAt), "created_at keeps milliseconds: %v != %v", work.CreatedAt, got.CreatedAt)

	works, err := db.ListTrackedWorks(ctx, "alice")
	require.NoError(t, err)
	assert.Len(t, works, 1)

	events, err := db.ListProgressEvents(ctx, "alice", work.ID)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, second.ID, events[0].ID)
	assert.Equal(t, first.ID, events[1].ID)
	assert.Equal(t, 30, events[0].PagesRead)
	require.NotNil(t, events[0].Notes)
	assert.Equal(t, note, *events[0].Notes)
	assert.True(t, second.SessionDate.Equal(events[0].SessionDate), "session_date keeps milliseconds: %v != %v", second.SessionDate, events[0].SessionDate)
	assert.True(t, first.SessionDate.Equal(events[1].SessionDate))

	total, err := db.SumPagesRead(ctx, "alice", work.ID)
	require.NoError(t, err)
	assert.Equal(t, 80, total)

	// Other users see nothing
	other, err := db.GetTrackedWork(ctx, "bob", work.ID)
	require.NoError(t, err)
	assert.Nil(t, other)

	_, err = db.AppendProgressEvent(ctx, "bob", work.ID, 10, nil)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestClickHouseDB_Identity(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()

	require.NoError(t, db.CreateUser(ctx, models.User{ID: "u1", Email: "reader@example.com", Username: "reader", PasswordHash: "x"}))
	assert.ErrorIs(t, db.CreateUser(ctx, models.User{ID: "u2", Email: "READER@example.com"}), storage.ErrConflict)

	user, err := db.GetUserByEmail(ctx, "reader@example.com")
	require.NoError(t, err)
	assert.Equal(t, "u1", user.ID)

	expires := time.Date(2024, 5, 1, 10, 0, 0, 123_000_000, time.UTC)
	require.NoError(t, db.CreateSession(ctx, models.Session{ID: "s1", UserID: "u1", ExpiresAt: expires}))
	require.NoError(t, db.RevokeSession(ctx, "s1", time.Now()))

	session, err := db.GetSession(ctx, "s1")
	require.NoError(t, err)
	assert.NotNil(t, session.RevokedAt)
	assert.True(t, expires.Equal(session.ExpiresAt), "expires_at keeps milliseconds: %v", session.ExpiresAt)
}
