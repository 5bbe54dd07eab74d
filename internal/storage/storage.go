package storage

import (
	"context"
	"errors"
	"time"

	"bookshelf/internal/models"
)

var (
	// ErrConflict is returned when a uniqueness constraint would be violated
	ErrConflict = errors.New("storage: conflict")
	// ErrNotFound is returned when a row does not exist for the caller
	ErrNotFound = errors.New("storage: not found")
)

// LedgerStore gives typed access to tracked works and reading sessions.
// Every method is scoped by the owning user id.
type LedgerStore interface {
	// FindTrackedWork returns nil, nil when the user has not added the work
	FindTrackedWork(ctx context.Context, userID, openLibraryKey string) (*models.TrackedWork, error)
	// CreateTrackedWork returns ErrConflict when (user, key) already exists
	CreateTrackedWork(ctx context.Context, work models.NewTrackedWork) (models.TrackedWork, error)
	ListTrackedWorks(ctx context.Context, userID string) ([]models.TrackedWork, error)
	// GetTrackedWork returns nil, nil when the work is absent or owned by someone else
	GetTrackedWork(ctx context.Context, userID, workID string) (*models.TrackedWork, error)

	// AppendProgressEvent returns ErrNotFound when the work is not owned by userID
	AppendProgressEvent(ctx context.Context, userID, workID string, pagesRead int, notes *string) (models.ProgressEvent, error)
	// ListProgressEvents returns sessions ordered by session date, newest first
	ListProgressEvents(ctx context.Context, userID, workID string) ([]models.ProgressEvent, error)
	// UpdateCurrentPage returns nil, nil when the ownership check fails
	UpdateCurrentPage(ctx context.Context, userID, workID string, value int) (*models.TrackedWork, error)
	// SumPagesRead totals pages over every session of the work
	SumPagesRead(ctx context.Context, userID, workID string) (int, error)
}

// IdentityStore persists users and their login sessions
type IdentityStore interface {
	// CreateUser returns ErrConflict when the email is taken
	CreateUser(ctx context.Context, user models.User) error
	// GetUserByEmail returns ErrNotFound when no user has the email
	GetUserByEmail(ctx context.Context, email string) (models.User, error)
	CreateSession(ctx context.Context, session models.Session) error
	// GetSession returns ErrNotFound for unknown ids
	GetSession(ctx context.Context, id string) (models.Session, error)
	RevokeSession(ctx context.Context, id string, at time.Time) error
}

// Storage defines the interface for data storage operations
type Storage interface {
	LedgerStore
	IdentityStore

	// Lifecycle
	Initialize(ctx context.Context) error
	Close() error
}
