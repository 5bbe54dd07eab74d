package library

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"bookshelf/internal/enrich"
	"bookshelf/internal/ledger"
	"bookshelf/internal/models"
	"bookshelf/internal/storage"
)

const notifyTimeout = 5 * time.Second

// Notifier announces logged reading sessions. Failures never affect the
// operation that triggered them.
type Notifier interface {
	SessionLogged(ctx context.Context, work models.TrackedWork, session models.ProgressEvent) error
}

// AddWorkInput is what a reader supplies to add a catalog work
type AddWorkInput struct {
	OpenLibraryKey string  `json:"open_library_key"`
	Title          string  `json:"title"`
	AuthorName     string  `json:"author_name"`
	ImageURL       *string `json:"image_url"`
}

// Service exposes the reader-facing library operations
type Service struct {
	store     storage.LedgerStore
	ledger    *ledger.Manager
	assembler *enrich.Assembler
	notifier  Notifier
	logger    *zap.Logger

	notifyTimeout time.Duration
	pending       sync.WaitGroup
}

// New wires a library service
func New(store storage.LedgerStore, manager *ledger.Manager, assembler *enrich.Assembler, notifier Notifier, logger *zap.Logger) *Service {
	return &Service{
		store:     store,
		ledger:    manager,
		assembler: assembler,
		notifier:  notifier,
		logger:    logger,

		notifyTimeout: notifyTimeout,
	}
}

func (in AddWorkInput) normalize() (models.NewTrackedWork, error) {
	key := strings.TrimSpace(in.OpenLibraryKey)
	title := strings.TrimSpace(in.Title)
	author := strings.TrimSpace(in.AuthorName)

	var missing []string
	if key == "" {
		missing = append(missing, "open_library_key")
	}
	if title == "" {
		missing = append(missing, "title")
	}
	if author == "" {
		missing = append(missing, "author_name")
	}
	if len(missing) > 0 {
		return models.NewTrackedWork{}, models.InvalidInput("missing required fields: %s", strings.Join(missing, ", "))
	}

	var image *string
	if in.ImageURL != nil && strings.TrimSpace(*in.ImageURL) != "" {
		v := strings.TrimSpace(*in.ImageURL)
		image = &v
	}
	return models.NewTrackedWork{
		OpenLibraryKey: key,
		Title:          title,
		AuthorName:     author,
		ImageURL:       image,
	}, nil
}

// AddWork adds a catalog work to the caller's library. Adding the same
// work twice returns ErrConflict.
func (s *Service) AddWork(ctx context.Context, userID string, in AddWorkInput) (models.TrackedWork, error) {
	nw, err := in.normalize()
	if err != nil {
		return models.TrackedWork{}, err
	}
	nw.UserID = userID

	existing, err := s.store.FindTrackedWork(ctx, userID, nw.OpenLibraryKey)
	if err != nil {
		return models.TrackedWork{}, fmt.Errorf("%w: find tracked work: %v", models.ErrInternal, err)
	}
	if existing != nil {
		return models.TrackedWork{}, fmt.Errorf("%w: %s is already in your library", models.ErrConflict, nw.Title)
	}

	work, err := s.store.CreateTrackedWork(ctx, nw)
	if errors.Is(err, storage.ErrConflict) {
		return models.TrackedWork{}, fmt.Errorf("%w: %s is already in your library", models.ErrConflict, nw.Title)
	}
	if err != nil {
		return models.TrackedWork{}, fmt.Errorf("%w: create tracked work: %v", models.ErrInternal, err)
	}

	s.logger.Info("Work added to library",
		zap.String("user_id", userID),
		zap.String("user_book_id", work.ID),
		zap.String("open_library_key", work.OpenLibraryKey),
	)
	return work, nil
}

// ListLibrary returns every tracked work of the caller with enrichment and
// session history. One work's enrichment failing never fails the list.
func (s *Service) ListLibrary(ctx context.Context, userID string) ([]enrich.AugmentedWork, error) {
	works, err := s.store.ListTrackedWorks(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("%w: list tracked works: %v", models.ErrInternal, err)
	}
	if len(works) == 0 {
		return []enrich.AugmentedWork{}, nil
	}
	return s.assembler.AssembleAll(ctx, userID, works), nil
}

// GetWork returns one tracked work with its timeline. A work owned by
// someone else is reported exactly like a missing one.
func (s *Service) GetWork(ctx context.Context, userID, workID string) (enrich.AugmentedWork, error) {
	work, err := s.store.GetTrackedWork(ctx, userID, workID)
	if err != nil {
		return enrich.AugmentedWork{}, fmt.Errorf("%w: get tracked work: %v", models.ErrInternal, err)
	}
	if work == nil {
		return enrich.AugmentedWork{}, models.ErrForbidden
	}
	return s.assembler.Assemble(ctx, userID, *work), nil
}

// LogSession records a reading session. See ledger.Manager.LogSession for
// the error contract.
func (s *Service) LogSession(ctx context.Context, userID, workID string, pagesRead int, notes *string) (ledger.SessionResult, error) {
	if notes != nil && strings.TrimSpace(*notes) == "" {
		notes = nil
	}

	res, err := s.ledger.LogSession(ctx, userID, workID, pagesRead, notes)
	if err != nil {
		return res, err
	}

	if s.notifier != nil {
		s.pending.Add(1)
		go func() {
			defer s.pending.Done()
			s.notify(context.WithoutCancel(ctx), res)
		}()
	}
	return res, nil
}

// Wait blocks until in-flight notifications finish or ctx is done
func (s *Service) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.pending.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Service) notify(ctx context.Context, res ledger.SessionResult) {
	ctx, cancel := context.WithTimeout(ctx, s.notifyTimeout)
	defer cancel()

	if err := s.notifier.SessionLogged(ctx, res.Work, res.Session); err != nil {
		s.logger.Warn("Failed to send session notification",
			zap.String("user_book_id", res.Work.ID),
			zap.String("session_id", res.Session.ID),
			zap.Error(err),
		)
	}
}

// Reconcile reports drift between the page counter and the session ledger,
// rewriting the counter when repair is set.
func (s *Service) Reconcile(ctx context.Context, userID, workID string, repair bool) (ledger.Drift, error) {
	return s.ledger.Reconcile(ctx, userID, workID, repair)
}
