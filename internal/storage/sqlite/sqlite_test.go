package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bookshelf/internal/models"
	"bookshelf/internal/storage"
)

// setupTestDB opens an in-memory database with migrations applied
func setupTestDB(t *testing.T) *SQLiteDB {
	t.Helper()

	db, err := NewSQLiteDB(":memory:")
	require.NoError(t, err, "Failed to open sqlite")
	t.Cleanup(func() { _ = db.Close() })

	base := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	tick := 0
	db.SetClock(func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	})

	require.NoError(t, db.Initialize(context.Background()), "Failed to run migrations")
	return db
}

func dune(userID string) models.NewTrackedWork {
	cover := "https://covers.openlibrary.org/b/id/1-M.jpg"
	return models.NewTrackedWork{
		UserID:         userID,
		OpenLibraryKey: "/works/OL1W",
		Title:          "Dune",
		AuthorName:     "Herbert",
		ImageURL:       &cover,
	}
}

func TestSQLiteDB_Initialize_Idempotent(t *testing.T) {
	db := setupTestDB(t)
	require.NoError(t, db.Initialize(context.Background()))
}

func TestSQLiteDB_CreateAndFindTrackedWork(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	work, err := db.CreateTrackedWork(ctx, dune("alice"))
	require.NoError(t, err)
	assert.NotEmpty(t, work.ID)
	assert.Equal(t, 0, work.CurrentPageNumber)
	assert.Equal(t, models.StatusToRead, work.Status)

	found, err := db.FindTrackedWork(ctx, "alice", "/works/OL1W")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, work, *found)

	missing, err := db.FindTrackedWork(ctx, "bob", "/works/OL1W")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestSQLiteDB_CreateTrackedWork_UniqueViolation(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	_, err := db.CreateTrackedWork(ctx, dune("alice"))
	require.NoError(t, err)

	_, err = db.CreateTrackedWork(ctx, dune("alice"))
	assert.ErrorIs(t, err, storage.ErrConflict)

	works, err := db.ListTrackedWorks(ctx, "alice")
	require.NoError(t, err)
	assert.Len(t, works, 1)
}

func TestSQLiteDB_ProgressEvents(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	work, err := db.CreateTrackedWork(ctx, dune("alice"))
	require.NoError(t, err)

	note := "great opening"
	first, err := db.AppendProgressEvent(ctx, "alice", work.ID, 50, &note)
	require.NoError(t, err)
	_, err = db.AppendProgressEvent(ctx, "alice", work.ID, 25, nil)
	require.NoError(t, err)

	events, err := db.ListProgressEvents(ctx, "alice", work.ID)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, 25, events[0].PagesRead)
	assert.Nil(t, events[0].Notes)
	assert.Equal(t, first.ID, events[1].ID)
	require.NotNil(t, events[1].Notes)
	assert.Equal(t, note, *events[1].Notes)
	assert.True(t, events[0].SessionDate.After(events[1].SessionDate))

	total, err := db.SumPagesRead(ctx, "alice", work.ID)
	require.NoError(t, err)
	assert.Equal(t, 75, total)
}

func TestSQLiteDB_OwnershipFiltering(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	work, err := db.CreateTrackedWork(ctx, dune("alice"))
	require.NoError(t, err)
	_, err = db.AppendProgressEvent(ctx, "alice", work.ID, 10, nil)
	require.NoError(t, err)

	got, err := db.GetTrackedWork(ctx, "bob", work.ID)
	require.NoError(t, err)
	assert.Nil(t, got)

	_, err = db.AppendProgressEvent(ctx, "bob", work.ID, 10, nil)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	events, err := db.ListProgressEvents(ctx, "bob", work.ID)
	require.NoError(t, err)
	assert.Empty(t, events)

	updated, err := db.UpdateCurrentPage(ctx, "bob", work.ID, 500)
	require.NoError(t, err)
	assert.Nil(t, updated)

	total, err := db.SumPagesRead(ctx, "bob", work.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, total)
}

func TestSQLiteDB_UpdateCurrentPage(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	work, err := db.CreateTrackedWork(ctx, dune("alice"))
	require.NoError(t, err)

	updated, err := db.UpdateCurrentPage(ctx, "alice", work.ID, 120)
	require.NoError(t, err)
	require.NotNil(t, updated)
	assert.Equal(t, 120, updated.CurrentPageNumber)

	got, err := db.GetTrackedWork(ctx, "alice", work.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 120, got.CurrentPageNumber)
}

func TestSQLiteDB_Identity(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	user := models.User{ID: "u1", Email: "Reader@Example.com", Username: "reader", PasswordHash: "hash"}
	require.NoError(t, db.CreateUser(ctx, user))
	assert.ErrorIs(t, db.CreateUser(ctx, models.User{ID: "u2", Email: "reader@example.com"}), storage.ErrConflict)

	got, err := db.GetUserByEmail(ctx, "READER@example.com")
	require.NoError(t, err)
	assert.Equal(t, "u1", got.ID)
	assert.Equal(t, "reader@example.com", got.Email)

	_, err = db.GetUserByEmail(ctx, "nobody@example.com")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	expires := time.Now().Add(time.Hour)
	require.NoError(t, db.CreateSession(ctx, models.Session{ID: "s1", UserID: "u1", ExpiresAt: expires}))

	session, err := db.GetSession(ctx, "s1")
	require.NoError(t, err)
	assert.True(t, session.Active(time.Now()))

	require.NoError(t, db.RevokeSession(ctx, "s1", time.Now()))
	session, err = db.GetSession(ctx, "s1")
	require.NoError(t, err)
	assert.False(t, session.Active(time.Now()))

	_, err = db.GetSession(ctx, "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}
