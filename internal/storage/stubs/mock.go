package stubs

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"bookshelf/internal/models"
	"bookshelf/internal/storage"
)

// MockDB is an in-memory implementation of storage.Storage for tests and local runs
type MockDB struct {
	mu       sync.RWMutex
	works    map[string]models.TrackedWork
	events   map[string][]models.ProgressEvent
	users    map[string]models.User
	sessions map[string]models.Session

	// now is swapped by tests that need deterministic session dates
	now func() time.Time
}

var _ storage.Storage = (*MockDB)(nil)

// NewMockDB creates a new mock database
func NewMockDB() *MockDB {
	return &MockDB{
		works:    make(map[string]models.TrackedWork),
		events:   make(map[string][]models.ProgressEvent),
		users:    make(map[string]models.User),
		sessions: make(map[string]models.Session),
		now:      time.Now,
	}
}

// SetClock replaces the time source used for session dates
func (m *MockDB) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

// Initialize is a no-op for the mock DB
func (m *MockDB) Initialize(ctx context.Context) error {
	return nil
}

// FindTrackedWork looks a work up by its catalog key within one user's library
func (m *MockDB) FindTrackedWork(ctx context.Context, userID, openLibraryKey string) (*models.TrackedWork, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, w := range m.works {
		if w.UserID == userID && w.OpenLibraryKey == openLibraryKey {
			found := w
			return &found, nil
		}
	}
	return nil, nil
}

// CreateTrackedWork inserts a work with default progress fields
func (m *MockDB) CreateTrackedWork(ctx context.Context, nw models.NewTrackedWork) (models.TrackedWork, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, w := range m.works {
		if w.UserID == nw.UserID && w.OpenLibraryKey == nw.OpenLibraryKey {
			return models.TrackedWork{}, storage.ErrConflict
		}
	}

	work := models.TrackedWork{
		ID:             uuid.NewString(),
		UserID:         nw.UserID,
		OpenLibraryKey: nw.OpenLibraryKey,
		Title:          nw.Title,
		AuthorName:     nw.AuthorName,
		ImageURL:       nw.ImageURL,
		Status:         models.StatusToRead,
		CreatedAt:      m.now().UTC(),
	}
	m.works[work.ID] = work
	return work, nil
}

// ListTrackedWorks returns the user's works ordered by creation time
func (m *MockDB) ListTrackedWorks(ctx context.Context, userID string) ([]models.TrackedWork, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	works := make([]models.TrackedWork, 0)
	for _, w := range m.works {
		if w.UserID == userID {
			works = append(works, w)
		}
	}

	sort.Slice(works, func(i, j int) bool {
		if works[i].CreatedAt.Equal(works[j].CreatedAt) {
			return works[i].ID < works[j].ID
		}
		return works[i].CreatedAt.Before(works[j].CreatedAt)
	})
	return works, nil
}

// GetTrackedWork returns the work only when userID owns it
func (m *MockDB) GetTrackedWork(ctx context.Context, userID, workID string) (*models.TrackedWork, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	w, ok := m.works[workID]
	if !ok || w.UserID != userID {
		return nil, nil
	}
	return &w, nil
}

// AppendProgressEvent records a reading session against an owned work
func (m *MockDB) AppendProgressEvent(ctx context.Context, userID, workID string, pagesRead int, notes *string) (models.ProgressEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	w, ok := m.works[workID]
	if !ok || w.UserID != userID {
		return models.ProgressEvent{}, storage.ErrNotFound
	}

	ev := models.ProgressEvent{
		ID:          uuid.NewString(),
		UserBookID:  workID,
		PagesRead:   pagesRead,
		Notes:       notes,
		SessionDate: m.now().UTC(),
	}
	m.events[workID] = append(m.events[workID], ev)
	return ev, nil
}

// ListProgressEvents returns the sessions of an owned work, newest first
func (m *MockDB) ListProgressEvents(ctx context.Context, userID, workID string) ([]models.ProgressEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	events := make([]models.ProgressEvent, 0)
	if w, ok := m.works[workID]; !ok || w.UserID != userID {
		return events, nil
	}

	events = append(events, m.events[workID]...)
	// Stable so equal timestamps keep reverse insertion order
	for i, j := 0, len(events)-1; i < j; i, j = i+1, j-1 {
		events[i], events[j] = events[j], events[i]
	}
	sort.SliceStable(events, func(i, j int) bool {
		return events[i].SessionDate.After(events[j].SessionDate)
	})
	return events, nil
}

// UpdateCurrentPage sets the page counter of an owned work
func (m *MockDB) UpdateCurrentPage(ctx context.Context, userID, workID string, value int) (*models.TrackedWork, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	w, ok := m.works[workID]
	if !ok || w.UserID != userID {
		return nil, nil
	}
	w.CurrentPageNumber = value
	m.works[workID] = w
	return &w, nil
}

// SumPagesRead totals pages across every session of an owned work
func (m *MockDB) SumPagesRead(ctx context.Context, userID, workID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if w, ok := m.works[workID]; !ok || w.UserID != userID {
		return 0, nil
	}
	total := 0
	for _, ev := range m.events[workID] {
		total += ev.PagesRead
	}
	return total, nil
}

// CreateUser registers a user; emails are compared case-insensitively
func (m *MockDB) CreateUser(ctx context.Context, user models.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	email := strings.ToLower(user.Email)
	for _, u := range m.users {
		if strings.ToLower(u.Email) == email {
			return storage.ErrConflict
		}
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = m.now().UTC()
	}
	m.users[user.ID] = user
	return nil
}

// GetUserByEmail finds a user by email
func (m *MockDB) GetUserByEmail(ctx context.Context, email string) (models.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	email = strings.ToLower(email)
	for _, u := range m.users {
		if strings.ToLower(u.Email) == email {
			return u, nil
		}
	}
	return models.User{}, storage.ErrNotFound
}

// CreateSession stores a login session
func (m *MockDB) CreateSession(ctx context.Context, session models.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.sessions[session.ID] = session
	return nil
}

// GetSession returns a login session by id
func (m *MockDB) GetSession(ctx context.Context, id string) (models.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.sessions[id]
	if !ok {
		return models.Session{}, storage.ErrNotFound
	}
	return s, nil
}

// RevokeSession marks a login session as ended
func (m *MockDB) RevokeSession(ctx context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok {
		return nil
	}
	at = at.UTC()
	s.RevokedAt = &at
	m.sessions[id] = s
	return nil
}

// Close does nothing for mock DB
func (m *MockDB) Close() error {
	return nil
}
