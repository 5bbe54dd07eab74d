package models

import "time"

// Status is the reading state of a tracked work
type Status string

const (
	StatusToRead   Status = "to-read"
	StatusReading  Status = "reading"
	StatusFinished Status = "finished"
)

// Valid reports whether s is one of the known statuses
func (s Status) Valid() bool {
	switch s {
	case StatusToRead, StatusReading, StatusFinished:
		return true
	}
	return false
}

// TrackedWork is a user's claim on one catalog work (user_books row)
type TrackedWork struct {
	ID                string     `json:"id"`
	UserID            string     `json:"user_id"`
	OpenLibraryKey    string     `json:"open_library_key"`
	Title             string     `json:"title"`
	AuthorName        string     `json:"author_name"`
	ImageURL          *string    `json:"image_url"`
	CurrentPageNumber int        `json:"current_page_number"`
	Status            Status     `json:"status"`
	StartDate         *time.Time `json:"start_date"`
	FinishDate        *time.Time `json:"finish_date"`
	CreatedAt         time.Time  `json:"created_at"`
}

// NewTrackedWork holds the fields supplied when a work is added to a library
type NewTrackedWork struct {
	UserID         string
	OpenLibraryKey string
	Title          string
	AuthorName     string
	ImageURL       *string
}

// ProgressEvent is one immutable reading session (reading_sessions row)
type ProgressEvent struct {
	ID          string    `json:"id"`
	UserBookID  string    `json:"user_book_id"`
	PagesRead   int       `json:"pages_read_in_session"`
	Notes       *string   `json:"notes"`
	SessionDate time.Time `json:"session_date"`
}

// User is a registered reader
type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

// Session is a server-side login session referenced by a token id
type Session struct {
	ID        string
	UserID    string
	ExpiresAt time.Time
	RevokedAt *time.Time
}

// Active reports whether the session can still authenticate requests at now
func (s Session) Active(now time.Time) bool {
	return s.RevokedAt == nil && now.Before(s.ExpiresAt)
}
