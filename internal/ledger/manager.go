// Package ledger records reading sessions and keeps each tracked work's
// current page counter in step with them.
//
// Logging a session is two separate writes: the session is appended (the
// source of truth) and then the counter is advanced from its last stored
// value. The writes are not atomic. If the second one fails the session is
// still durable and the caller gets a *models.SessionLoggedPageUpdateFailed.
// Two concurrent sessions on one work can also race on the counter (last
// write wins). Either kind of drift is visible through Reconcile, which
// compares the counter with the sum of the sessions.
package ledger

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"bookshelf/internal/models"
	"bookshelf/internal/storage"
)

// Store is the subset of storage.LedgerStore the manager writes through
type Store interface {
	GetTrackedWork(ctx context.Context, userID, workID string) (*models.TrackedWork, error)
	AppendProgressEvent(ctx context.Context, userID, workID string, pagesRead int, notes *string) (models.ProgressEvent, error)
	UpdateCurrentPage(ctx context.Context, userID, workID string, value int) (*models.TrackedWork, error)
	SumPagesRead(ctx context.Context, userID, workID string) (int, error)
}

// SessionResult is the outcome of a fully successful LogSession
type SessionResult struct {
	Session            models.ProgressEvent `json:"session"`
	UpdatedCurrentPage int                  `json:"updatedCurrentPage"`

	// Work is the tracked work after the counter update
	Work models.TrackedWork `json:"-"`
}

// Drift compares the stored counter with the sum of logged sessions
type Drift struct {
	UserBookID          string `json:"user_book_id"`
	StoredCurrentPage   int    `json:"stored_current_page"`
	ComputedCurrentPage int    `json:"computed_current_page"`
	Drifted             bool   `json:"drifted"`
	Repaired            bool   `json:"repaired"`
}

// Manager owns every write to the session ledger
type Manager struct {
	store  Store
	logger *zap.Logger
	tracer trace.Tracer
}

// NewManager creates a ledger manager
func NewManager(store Store, logger *zap.Logger) *Manager {
	return &Manager{
		store:  store,
		logger: logger,
		tracer: otel.Tracer("bookshelf/internal/ledger"),
	}
}

// owned loads the work or returns ErrForbidden when the caller does not own it
func (m *Manager) owned(ctx context.Context, userID, workID string) (*models.TrackedWork, error) {
	work, err := m.store.GetTrackedWork(ctx, userID, workID)
	if err != nil {
		return nil, fmt.Errorf("%w: load tracked work: %v", models.ErrInternal, err)
	}
	if work == nil {
		return nil, models.ErrForbidden
	}
	return work, nil
}

// LogSession appends a reading session and advances the page counter.
//
// Errors: ErrForbidden when the work is not the caller's, ErrInvalidInput
// when pagesRead is not positive, ErrInternal when the append fails (nothing
// was written), and *models.SessionLoggedPageUpdateFailed when the append
// succeeded but the counter update did not. In that last case the returned
// SessionResult still carries the durable session.
func (m *Manager) LogSession(ctx context.Context, userID, workID string, pagesRead int, notes *string) (SessionResult, error) {
	ctx, span := m.tracer.Start(ctx, "ledger.LogSession", trace.WithAttributes(
		attribute.String("user_book_id", workID),
		attribute.Int("pages_read", pagesRead),
	))
	defer span.End()

	work, err := m.owned(ctx, userID, workID)
	if err != nil {
		return SessionResult{}, err
	}
	if pagesRead <= 0 {
		return SessionResult{}, models.InvalidInput("pages read must be a positive number")
	}

	session, err := m.store.AppendProgressEvent(ctx, userID, workID, pagesRead, notes)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		if errors.Is(err, storage.ErrNotFound) {
			return SessionResult{}, models.ErrForbidden
		}
		m.logger.Error("Failed to append reading session",
			zap.String("user_book_id", workID),
			zap.Int("pages_read", pagesRead),
			zap.Error(err),
		)
		return SessionResult{}, fmt.Errorf("%w: append reading session: %v", models.ErrInternal, err)
	}

	newCurrentPage := work.CurrentPageNumber + pagesRead
	updated, err := m.store.UpdateCurrentPage(ctx, userID, workID, newCurrentPage)
	if err == nil && updated == nil {
		err = errors.New("tracked work no longer matches owner")
	}
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		m.logger.Error("Reading session logged but current page update failed",
			zap.String("user_book_id", workID),
			zap.String("session_id", session.ID),
			zap.Int("expected_current_page", newCurrentPage),
			zap.Error(err),
		)
		return SessionResult{Session: session}, &models.SessionLoggedPageUpdateFailed{Session: session, Err: err}
	}

	m.logger.Info("Reading session logged",
		zap.String("user_book_id", workID),
		zap.String("session_id", session.ID),
		zap.Int("pages_read", pagesRead),
		zap.Int("current_page", updated.CurrentPageNumber),
	)
	return SessionResult{Session: session, UpdatedCurrentPage: updated.CurrentPageNumber, Work: *updated}, nil
}

// RecomputeCurrentPage returns the page counter implied by the ledger
func (m *Manager) RecomputeCurrentPage(ctx context.Context, userID, workID string) (int, error) {
	if _, err := m.owned(ctx, userID, workID); err != nil {
		return 0, err
	}
	total, err := m.store.SumPagesRead(ctx, userID, workID)
	if err != nil {
		return 0, fmt.Errorf("%w: sum pages read: %v", models.ErrInternal, err)
	}
	return total, nil
}

// Reconcile reports drift between the stored counter and the ledger. The
// counter is only rewritten when repair is true.
func (m *Manager) Reconcile(ctx context.Context, userID, workID string, repair bool) (Drift, error) {
	ctx, span := m.tracer.Start(ctx, "ledger.Reconcile", trace.WithAttributes(
		attribute.String("user_book_id", workID),
		attribute.Bool("repair", repair),
	))
	defer span.End()

	work, err := m.owned(ctx, userID, workID)
	if err != nil {
		return Drift{}, err
	}
	total, err := m.store.SumPagesRead(ctx, userID, workID)
	if err != nil {
		return Drift{}, fmt.Errorf("%w: sum pages read: %v", models.ErrInternal, err)
	}

	d := Drift{
		UserBookID:          workID,
		StoredCurrentPage:   work.CurrentPageNumber,
		ComputedCurrentPage: total,
		Drifted:             work.CurrentPageNumber != total,
	}
	if !d.Drifted {
		return d, nil
	}

	m.logger.Warn("Current page drifted from reading sessions",
		zap.String("user_book_id", workID),
		zap.Int("stored", d.StoredCurrentPage),
		zap.Int("computed", d.ComputedCurrentPage),
	)
	if !repair {
		return d, nil
	}

	updated, err := m.store.UpdateCurrentPage(ctx, userID, workID, total)
	if err != nil {
		return d, fmt.Errorf("%w: repair current page: %v", models.ErrInternal, err)
	}
	if updated == nil {
		return d, models.ErrForbidden
	}
	d.Repaired = true
	m.logger.Info("Current page repaired from reading sessions",
		zap.String("user_book_id", workID),
		zap.Int("current_page", updated.CurrentPageNumber),
	)
	return d, nil
}

// CheckDrift reports drift without touching the counter
func (m *Manager) CheckDrift(ctx context.Context, userID, workID string) (Drift, error) {
	return m.Reconcile(ctx, userID, workID, false)
}

// RepairCurrentPage rewrites the counter to the ledger sum unconditionally.
// It is the retry path after a SessionLoggedPageUpdateFailed.
func (m *Manager) RepairCurrentPage(ctx context.Context, userID, workID string) (models.TrackedWork, error) {
	total, err := m.RecomputeCurrentPage(ctx, userID, workID)
	if err != nil {
		return models.TrackedWork{}, err
	}
	updated, err := m.store.UpdateCurrentPage(ctx, userID, workID, total)
	if err != nil {
		return models.TrackedWork{}, fmt.Errorf("%w: repair current page: %v", models.ErrInternal, err)
	}
	if updated == nil {
		return models.TrackedWork{}, models.ErrForbidden
	}
	return *updated, nil
}
