package ch

import (
	"context"
	"crypto/tls"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/google/uuid"

	"bookshelf/internal/models"
	"bookshelf/internal/storage"
)

// ClickHouseDB stores the ledger in ClickHouse. user_books, users and
// auth_sessions are ReplacingMergeTree tables: an update inserts a new row
// version and reads use FINAL. ClickHouse has no unique constraints, so
// uniqueness is checked before insert and is not atomic.
type ClickHouseDB struct {
	conn clickhouse.Conn
	now  func() time.Time
}

var _ storage.Storage = (*ClickHouseDB)(nil)

const workColumns = `id, user_id, open_library_key, title, author_name, image_url,
	current_page_number, status, start_date, finish_date, created_at`

// NewClickHouseDB creates a new ClickHouse database connection
func NewClickHouseDB(host string, port int, database, user, password string, useTLS bool) (*ClickHouseDB, error) {
	addr := fmt.Sprintf("%s:%d", host, port)

	options := &clickhouse.Options{
		Addr:     []string{addr},
		Protocol: clickhouse.Native,
		Auth: clickhouse.Auth{
			Database: database,
			Username: user,
			Password: password,
		},
	}

	// Configure TLS if enabled
	if useTLS {
		options.TLS = &tls.Config{
			InsecureSkipVerify: false,
		}
	}

	conn, err := clickhouse.Open(options)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to ClickHouse: %w", err)
	}

	// Test the connection
	if err := conn.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to ping ClickHouse: %w", err)
	}

	return &ClickHouseDB{conn: conn, now: time.Now}, nil
}

// Initialize is a no-op - tables are managed via migrations
func (db *ClickHouseDB) Initialize(ctx context.Context) error {
	// See migrations/clickhouse and cmd/migrate
	return nil
}

// version orders row versions of ReplacingMergeTree tables
func (db *ClickHouseDB) version() uint64 {
	return uint64(db.now().UnixNano())
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanWork(row rowScanner) (models.TrackedWork, error) {
	var (
		w           models.TrackedWork
		currentPage int64
		status      string
	)
	if err := row.Scan(&w.ID, &w.UserID, &w.OpenLibraryKey, &w.Title, &w.AuthorName, &w.ImageURL,
		&currentPage, &status, &w.StartDate, &w.FinishDate, &w.CreatedAt); err != nil {
		return models.TrackedWork{}, err
	}
	w.CurrentPageNumber = int(currentPage)
	w.Status = models.Status(status)
	w.CreatedAt = w.CreatedAt.UTC()
	return w, nil
}

func (db *ClickHouseDB) queryWork(ctx context.Context, where string, args ...any) (*models.TrackedWork, error) {
	row := db.conn.QueryRow(ctx, `SELECT `+workColumns+` FROM user_books FINAL WHERE `+where+` LIMIT 1`, args...)
	w, err := scanWork(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &w, nil
}

// insert writes one row through a batch. Positional Exec args are bound as
// toDateTime literals and would drop the milliseconds of DateTime64 columns.
func (db *ClickHouseDB) insert(ctx context.Context, query string, values ...any) error {
	batch, err := db.conn.PrepareBatch(ctx, query)
	if err != nil {
		return err
	}
	if err := batch.Append(values...); err != nil {
		_ = batch.Abort()
		return err
	}
	return batch.Send()
}

func (db *ClickHouseDB) insertWork(ctx context.Context, w models.TrackedWork) error {
	return db.insert(ctx,
		`INSERT INTO user_books (id, user_id, open_library_key, title, author_name, image_url,
			current_page_number, status, start_date, finish_date, created_at, version)`,
		w.ID, w.UserID, w.OpenLibraryKey, w.Title, w.AuthorName, w.ImageURL,
		int64(w.CurrentPageNumber), string(w.Status), w.StartDate, w.FinishDate, w.CreatedAt, db.version())
}

// FindTrackedWork looks a work up by catalog key within one user's library
func (db *ClickHouseDB) FindTrackedWork(ctx context.Context, userID, openLibraryKey string) (*models.TrackedWork, error) {
	w, err := db.queryWork(ctx, `user_id = ? AND open_library_key = ?`, userID, openLibraryKey)
	if err != nil {
		return nil, fmt.Errorf("failed to find tracked work: %w", err)
	}
	return w, nil
}

// CreateTrackedWork inserts a new work after checking (user, key) is free
func (db *ClickHouseDB) CreateTrackedWork(ctx context.Context, nw models.NewTrackedWork) (models.TrackedWork, error) {
	existing, err := db.FindTrackedWork(ctx, nw.UserID, nw.OpenLibraryKey)
	if err != nil {
		return models.TrackedWork{}, err
	}
	if existing != nil {
		return models.TrackedWork{}, storage.ErrConflict
	}

	work := models.TrackedWork{
		ID:             uuid.NewString(),
		UserID:         nw.UserID,
		OpenLibraryKey: nw.OpenLibraryKey,
		Title:          nw.Title,
		AuthorName:     nw.AuthorName,
		ImageURL:       nw.ImageURL,
		Status:         models.StatusToRead,
		CreatedAt:      db.now().UTC().Truncate(time.Millisecond),
	}
	if err := db.insertWork(ctx, work); err != nil {
		return models.TrackedWork{}, fmt.Errorf("failed to create tracked work: %w", err)
	}
	return work, nil
}

// ListTrackedWorks returns every work in the user's library
func (db *ClickHouseDB) ListTrackedWorks(ctx context.Context, userID string) ([]models.TrackedWork, error) {
	rows, err := db.conn.Query(ctx,
		`SELECT `+workColumns+` FROM user_books FINAL WHERE user_id = ? ORDER BY created_at, id`, userID)
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
func (db *ClickHouseDB) GetTrackedWork(ctx context.Context, userID, workID string) (*models.TrackedWork, error) {
	w, err := db.queryWork(ctx, `id = ? AND user_id = ?`, workID, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get tracked work: %w", err)
	}
	return w, nil
}

// AppendProgressEvent records a reading session against an owned work
func (db *ClickHouseDB) AppendProgressEvent(ctx context.Context, userID, workID string, pagesRead int, notes *string) (models.ProgressEvent, error) {
	work, err := db.GetTrackedWork(ctx, userID, workID)
	if err != nil {
		return models.ProgressEvent{}, err
	}
	if work == nil {
		return models.ProgressEvent{}, storage.ErrNotFound
	}

	ev := models.ProgressEvent{
		ID:          uuid.NewString(),
		UserBookID:  workID,
		PagesRead:   pagesRead,
		Notes:       notes,
		SessionDate: db.now().UTC().Truncate(time.Millisecond),
	}
	err = db.insert(ctx,
		`INSERT INTO reading_sessions (id, user_id, user_book_id, pages_read_in_session, notes, session_date)`,
		ev.ID, userID, workID, int64(pagesRead), notes, ev.SessionDate)
	if err != nil {
		return models.ProgressEvent{}, fmt.Errorf("failed to append reading session: %w", err)
	}
	return ev, nil
}

// ListProgressEvents returns the sessions of an owned work, newest first
func (db *ClickHouseDB) ListProgressEvents(ctx context.Context, userID, workID string) ([]models.ProgressEvent, error) {
	rows, err := db.conn.Query(ctx,
		`SELECT id, user_book_id, pages_read_in_session, notes, session_date
		 FROM reading_sessions
		 WHERE user_id = ? AND user_book_id = ?
		 ORDER BY session_date DESC, id DESC`, userID, workID)
	if err != nil {
		return nil, fmt.Errorf("failed to list reading sessions: %w", err)
	}
	defer rows.Close()

	events := make([]models.ProgressEvent, 0)
	for rows.Next() {
		var (
			ev    models.ProgressEvent
			pages int64
		)
		if err := rows.Scan(&ev.ID, &ev.UserBookID, &pages, &ev.Notes, &ev.SessionDate); err != nil {
			return nil, fmt.Errorf("failed to scan reading session: %w", err)
		}
		ev.PagesRead = int(pages)
		ev.SessionDate = ev.SessionDate.UTC()
		events = append(events, ev)
	}
	return events, rows.Err()
}

// UpdateCurrentPage writes a new row version carrying the new page counter
func (db *ClickHouseDB) UpdateCurrentPage(ctx context.Context, userID, workID string, value int) (*models.TrackedWork, error) {
	work, err := db.GetTrackedWork(ctx, userID, workID)
	if err != nil {
		return nil, err
	}
	if work == nil {
		return nil, nil
	}

	work.CurrentPageNumber = value
	if err := db.insertWork(ctx, *work); err != nil {
		return nil, fmt.Errorf("failed to update current page: %w", err)
	}
	return work, nil
}

// SumPagesRead totals pages across every session of an owned work
func (db *ClickHouseDB) SumPagesRead(ctx context.Context, userID, workID string) (int, error) {
	var total int64
	err := db.conn.QueryRow(ctx,
		`SELECT sum(pages_read_in_session) FROM reading_sessions WHERE user_id = ? AND user_book_id = ?`,
		userID, workID).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("failed to sum pages read: %w", err)
	}
	return int(total), nil
}

// CreateUser inserts a user after checking the email is free
func (db *ClickHouseDB) CreateUser(ctx context.Context, user models.User) error {
	_, err := db.GetUserByEmail(ctx, user.Email)
	if err == nil {
		return storage.ErrConflict
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return err
	}

	createdAt := user.CreatedAt
	if createdAt.IsZero() {
		createdAt = db.now()
	}
	err = db.insert(ctx,
		`INSERT INTO users (id, email, username, password_hash, created_at)`,
		user.ID, strings.ToLower(user.Email), user.Username, user.PasswordHash, createdAt.UTC().Truncate(time.Millisecond))
	if err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

// GetUserByEmail finds a user by (lower-cased) email
func (db *ClickHouseDB) GetUserByEmail(ctx context.Context, email string) (models.User, error) {
	var u models.User
	err := db.conn.QueryRow(ctx,
		`SELECT id, email, username, password_hash, created_at FROM users FINAL WHERE email = ? LIMIT 1`,
		strings.ToLower(email)).Scan(&u.ID, &u.Email, &u.Username, &u.PasswordHash, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return models.User{}, storage.ErrNotFound
	}
	if err != nil {
		return models.User{}, fmt.Errorf("failed to get user: %w", err)
	}
	return u, nil
}

func (db *ClickHouseDB) insertSession(ctx context.Context, s models.Session) error {
	return db.insert(ctx,
		`INSERT INTO auth_sessions (id, user_id, expires_at, revoked_at, version)`,
		s.ID, s.UserID, s.ExpiresAt.UTC(), s.RevokedAt, db.version())
}

// CreateSession stores a login session
func (db *ClickHouseDB) CreateSession(ctx context.Context, session models.Session) error {
	if err := db.insertSession(ctx, session); err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	return nil
}

// GetSession returns the latest version of a login session
func (db *ClickHouseDB) GetSession(ctx context.Context, id string) (models.Session, error) {
	var s models.Session
	err := db.conn.QueryRow(ctx,
		`SELECT id, user_id, expires_at, revoked_at FROM auth_sessions FINAL WHERE id = ? LIMIT 1`, id).
		Scan(&s.ID, &s.UserID, &s.ExpiresAt, &s.RevokedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Session{}, storage.ErrNotFound
	}
	if err != nil {
		return models.Session{}, fmt.Errorf("failed to get session: %w", err)
	}
	return s, nil
}

// RevokeSession writes a revoked version of the session
func (db *ClickHouseDB) RevokeSession(ctx context.Context, id string, at time.Time) error {
	s, err := db.GetSession(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if s.RevokedAt != nil {
		return nil
	}
	at = at.UTC()
	s.RevokedAt = &at
	if err := db.insertSession(ctx, s); err != nil {
		return fmt.Errorf("failed to revoke session: %w", err)
	}
	return nil
}

// Close closes the database connection
func (db *ClickHouseDB) Close() error {
	if db.conn != nil {
		return db.conn.Close()
	}
	return nil
}
