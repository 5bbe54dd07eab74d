// Package sqlite provides the SQLite-backed storage implementation.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pressly/goose/v3"
	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"

	"bookshelf/internal/models"
	"bookshelf/internal/storage"
	"bookshelf/migrations"
)

// SQLiteDB persists the ledger and identity tables in a SQLite file
type SQLiteDB struct {
	db  *sql.DB
	now func() time.Time
}

var _ storage.Storage = (*SQLiteDB)(nil)

const workColumns = `id, user_id, open_library_key, title, author_name, image_url,
	current_page_number, status, start_date, finish_date, created_at`

func toMillis(t time.Time) int64 {
	return t.UTC().UnixMilli()
}

func fromMillis(v int64) time.Time {
	return time.UnixMilli(v).UTC()
}

// NewSQLiteDB opens (or creates) the database at path. Use ":memory:" for a
// throwaway database.
func NewSQLiteDB(path string) (*SQLiteDB, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}

	dsn := "file:" + path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	if path != ":memory:" {
		dsn += "&_pragma=journal_mode(WAL)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}
	// One connection keeps :memory: databases shared and serializes writers
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping sqlite: %w", err)
	}

	return &SQLiteDB{db: db, now: time.Now}, nil
}

// SetClock replaces the time source used for created_at and session dates
func (s *SQLiteDB) SetClock(now func() time.Time) {
	s.now = now
}

// Initialize applies the embedded goose migrations
func (s *SQLiteDB) Initialize(ctx context.Context) error {
	provider, err := migrations.NewProvider(s.db, goose.DialectSQLite3)
	if err != nil {
		return fmt.Errorf("failed to create migration provider: %w", err)
	}
	if _, err := provider.Up(ctx); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanWork(row rowScanner) (models.TrackedWork, error) {
	var (
		w                 models.TrackedWork
		status            string
		imageURL          sql.NullString
		startDate, finish sql.NullInt64
		createdAt         int64
	)
	if err := row.Scan(&w.ID, &w.UserID, &w.OpenLibraryKey, &w.Title, &w.AuthorName, &imageURL,
		&w.CurrentPageNumber, &status, &startDate, &finish, &createdAt); err != nil {
		return models.TrackedWork{}, err
	}
	w.Status = models.Status(status)
	w.CreatedAt = fromMillis(createdAt)
	if imageURL.Valid {
		w.ImageURL = &imageURL.String
	}
	if startDate.Valid {
		t := fromMillis(startDate.Int64)
		w.StartDate = &t
	}
	if finish.Valid {
		t := fromMillis(finish.Int64)
		w.FinishDate = &t
	}
	return w, nil
}

func isUniqueViolation(err error) bool {
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3lib.SQLITE_CONSTRAINT_UNIQUE:
			return true
		}
	}
	return strings.Contains(strings.ToLower(err.Error()), "unique constraint failed")
}

// FindTrackedWork looks a work up by catalog key within one user's library
func (s *SQLiteDB) FindTrackedWork(ctx context.Context, userID, openLibraryKey string) (*models.TrackedWork, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+workColumns+` FROM user_books WHERE user_id = ? AND open_library_key = ?`,
		userID, openLibraryKey)
	w, err := scanWork(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find tracked work: %w", err)
	}
	return &w, nil
}

// CreateTrackedWork inserts a new work with default progress fields
func (s *SQLiteDB) CreateTrackedWork(ctx context.Context, nw models.NewTrackedWork) (models.TrackedWork, error) {
	work := models.TrackedWork{
		ID:             uuid.NewString(),
		UserID:         nw.UserID,
		OpenLibraryKey: nw.OpenLibraryKey,
		Title:          nw.Title,
		AuthorName:     nw.AuthorName,
		ImageURL:       nw.ImageURL,
		Status:         models.StatusToRead,
		CreatedAt:      fromMillis(toMillis(s.now())),
	}

	var imageURL sql.NullString
	if nw.ImageURL != nil {
		imageURL = sql.NullString{String: *nw.ImageURL, Valid: true}
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO user_books (id, user_id, open_library_key, title, author_name, image_url,
			current_page_number, status, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, 0, ?, ?)`,
		work.ID, work.UserID, work.OpenLibraryKey, work.Title, work.AuthorName, imageURL,
		string(work.Status), toMillis(work.CreatedAt))
	if err != nil {
		if isUniqueViolation(err) {
			return models.TrackedWork{}, storage.ErrConflict
		}
		return models.TrackedWork{}, fmt.Errorf("failed to create tracked work: %w", err)
	}
	return work, nil
}

// ListTrackedWorks returns every work in the user's library
func (s *SQLiteDB) ListTrackedWorks(ctx context.Context, userID string) ([]models.TrackedWork, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+workColumns+` FROM user_books WHERE user_id = ? ORDER BY created_at, id`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list tracked works: %w", err)
	}
	defer rows.Close()

	works := make([]models.TrackedWork, 0)
	for rows.Next() {
		w, err := scanWork(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan tracked work: %w", err)
		}
		works = append(works, w)
	}
	return works, rows.Err()
}

// GetTrackedWork returns the work only when userID owns it
func (s *SQLiteDB) GetTrackedWork(ctx context.Context, userID, workID string) (*models.TrackedWork, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+workColumns+` FROM user_books WHERE id = ? AND user_id = ?`, workID, userID)
	w, err := scanWork(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get tracked work: %w", err)
	}
	return &w, nil
}

// AppendProgressEvent inserts a session; the INSERT ... SELECT only matches owned works
func (s *SQLiteDB) AppendProgressEvent(ctx context.Context, userID, workID string, pagesRead int, notes *string) (models.ProgressEvent, error) {
	ev := models.ProgressEvent{
		ID:          uuid.NewString(),
		UserBookID:  workID,
		PagesRead:   pagesRead,
		Notes:       notes,
		SessionDate: fromMillis(toMillis(s.now())),
	}

	var n sql.NullString
	if notes != nil {
		n = sql.NullString{String: *notes, Valid: true}
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO reading_sessions (id, user_book_id, pages_read_in_session, notes, session_date)
		 SELECT ?, id, ?, ?, ? FROM user_books WHERE id = ? AND user_id = ?`,
		ev.ID, pagesRead, n, toMillis(ev.SessionDate), workID, userID)
	if err != nil {
		return models.ProgressEvent{}, fmt.Errorf("failed to append reading session: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return models.ProgressEvent{}, fmt.Errorf("failed to append reading session: %w", err)
	}
	if affected == 0 {
		return models.ProgressEvent{}, storage.ErrNotFound
	}
	return ev, nil
}

// ListProgressEvents returns the sessions of an owned work, newest first
func (s *SQLiteDB) ListProgressEvents(ctx context.Context, userID, workID string) ([]models.ProgressEvent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT rs.id, rs.user_book_id, rs.pages_read_in_session, rs.notes, rs.session_date
		 FROM reading_sessions rs
		 JOIN user_books ub ON ub.id = rs.user_book_id
		 WHERE rs.user_book_id = ? AND ub.user_id = ?
		 ORDER BY rs.session_date DESC, rs.rowid DESC`, workID, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list reading sessions: %w", err)
	}
	defer rows.Close()

	events := make([]models.ProgressEvent, 0)
	for rows.Next() {
		var (
			ev    models.ProgressEvent
			notes sql.NullString
			date  int64
		)
		if err := rows.Scan(&ev.ID, &ev.UserBookID, &ev.PagesRead, &notes, &date); err != nil {
			return nil, fmt.Errorf("failed to scan reading session: %w", err)
		}
		if notes.Valid {
			ev.Notes = &notes.String
		}
		ev.SessionDate = fromMillis(date)
		events = append(events, ev)
	}
	return events, rows.Err()
}

// UpdateCurrentPage sets the page counter, re-checking ownership in the WHERE clause
func (s *SQLiteDB) UpdateCurrentPage(ctx context.Context, userID, workID string, value int) (*models.TrackedWork, error) {
	row := s.db.QueryRowContext(ctx,
		`UPDATE user_books SET current_page_number = ? WHERE id = ? AND user_id = ?
		 RETURNING `+workColumns, value, workID, userID)
	w, err := scanWork(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update current page: %w", err)
	}
	return &w, nil
}

// SumPagesRead totals pages across every session of an owned work
func (s *SQLiteDB) SumPagesRead(ctx context.Context, userID, workID string) (int, error) {
	var total int
	err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(rs.pages_read_in_session), 0)
		 FROM reading_sessions rs
		 JOIN user_books ub ON ub.id = rs.user_book_id
		 WHERE rs.user_book_id = ? AND ub.user_id = ?`, workID, userID).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("failed to sum pages read: %w", err)
	}
	return total, nil
}

// CreateUser inserts a user; the email column is unique
func (s *SQLiteDB) CreateUser(ctx context.Context, user models.User) error {
	createdAt := user.CreatedAt
	if createdAt.IsZero() {
		createdAt = s.now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (id, email, username, password_hash, created_at) VALUES (?, ?, ?, ?, ?)`,
		user.ID, strings.ToLower(user.Email), user.Username, user.PasswordHash, toMillis(createdAt))
	if err != nil {
		if isUniqueViolation(err) {
			return storage.ErrConflict
		}
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

// GetUserByEmail finds a user by (lower-cased) email
func (s *SQLiteDB) GetUserByEmail(ctx context.Context, email string) (models.User, error) {
	var (
		u         models.User
		createdAt int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, email, username, password_hash, created_at FROM users WHERE email = ?`,
		strings.ToLower(email)).Scan(&u.ID, &u.Email, &u.Username, &u.PasswordHash, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return models.User{}, storage.ErrNotFound
	}
	if err != nil {
		return models.User{}, fmt.Errorf("failed to get user: %w", err)
	}
	u.CreatedAt = fromMillis(createdAt)
	return u, nil
}

// CreateSession stores a login session
func (s *SQLiteDB) CreateSession(ctx context.Context, session models.Session) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO auth_sessions (id, user_id, expires_at) VALUES (?, ?, ?)`,
		session.ID, session.UserID, toMillis(session.ExpiresAt))
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	return nil
}

// GetSession returns a login session by id
func (s *SQLiteDB) GetSession(ctx context.Context, id string) (models.Session, error) {
	var (
		session   models.Session
		expiresAt int64
		revokedAt sql.NullInt64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, expires_at, revoked_at FROM auth_sessions WHERE id = ?`, id).
		Scan(&session.ID, &session.UserID, &expiresAt, &revokedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Session{}, storage.ErrNotFound
	}
	if err != nil {
		return models.Session{}, fmt.Errorf("failed to get session: %w", err)
	}
	session.ExpiresAt = fromMillis(expiresAt)
	if revokedAt.Valid {
		t := fromMillis(revokedAt.Int64)
		session.RevokedAt = &t
	}
	return session, nil
}

// RevokeSession marks a login session as ended
func (s *SQLiteDB) RevokeSession(ctx context.Context, id string, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE auth_sessions SET revoked_at = ? WHERE id = ? AND revoked_at IS NULL`, toMillis(at), id)
	if err != nil {
		return fmt.Errorf("failed to revoke session: %w", err)
	}
	return nil
}

// Close closes the database handle
func (s *SQLiteDB) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
