// Package enrich merges a tracked work with its catalog data and reading
// sessions. The two lookups run concurrently and fail independently.
package enrich

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"bookshelf/internal/catalog"
	"bookshelf/internal/models"
)

const (
	DefaultTimeout     = 5 * time.Second
	defaultConcurrency = 8
)

// BibliographicSource fetches catalog enrichment for a work id
type BibliographicSource interface {
	FetchBibliographicData(ctx context.Context, olid string) (catalog.Enrichment, bool)
}

// SessionLister reads the session history of a work
type SessionLister interface {
	ListProgressEvents(ctx context.Context, userID, workID string) ([]models.ProgressEvent, error)
}

// AugmentedWork is a tracked work plus catalog details and session history
type AugmentedWork struct {
	models.TrackedWork
	OpenLibraryDetails catalog.Enrichment     `json:"openLibraryDetails"`
	DetailsAvailable   bool                   `json:"openLibraryDetailsAvailable"`
	ReadingSessions    []models.ProgressEvent `json:"readingSessions"`
}

// Assembler builds AugmentedWork values
type Assembler struct {
	catalog  BibliographicSource
	sessions SessionLister
	timeout  time.Duration
	logger   *zap.Logger
}

// NewAssembler creates an assembler. timeout bounds each catalog fetch; a
// timed-out fetch is treated the same as an empty result.
func NewAssembler(source BibliographicSource, sessions SessionLister, timeout time.Duration, logger *zap.Logger) *Assembler {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Assembler{
		catalog:  source,
		sessions: sessions,
		timeout:  timeout,
		logger:   logger,
	}
}

// Assemble never fails: missing catalog data leaves the default enrichment
// and a failed history read leaves an empty session list.
func (a *Assembler) Assemble(ctx context.Context, userID string, work models.TrackedWork) AugmentedWork {
	out := AugmentedWork{
		TrackedWork:        work,
		OpenLibraryDetails: catalog.DefaultEnrichment(),
		ReadingSessions:    []models.ProgressEvent{},
	}

	var g errgroup.Group

	g.Go(func() error {
		olid, ok := catalog.WorkID(work.OpenLibraryKey)
		if !ok {
			a.logger.Warn("Tracked work has no catalog id, skipping enrichment",
				zap.String("user_book_id", work.ID),
				zap.String("open_library_key", work.OpenLibraryKey),
			)
			return nil
		}

		fetchCtx, cancel := context.WithTimeout(ctx, a.timeout)
		defer cancel()

		details, ok := a.catalog.FetchBibliographicData(fetchCtx, olid)
		if !ok {
			a.logger.Warn("Catalog enrichment unavailable",
				zap.String("user_book_id", work.ID),
				zap.String("open_library_key", work.OpenLibraryKey),
			)
			return nil
		}
		out.OpenLibraryDetails = details
		out.DetailsAvailable = true
		return nil
	})

	g.Go(func() error {
		sessions, err := a.sessions.ListProgressEvents(ctx, userID, work.ID)
		if err != nil {
			a.logger.Error("Failed to fetch reading sessions",
				zap.String("user_book_id", work.ID),
				zap.Error(err),
			)
			return nil
		}
		if sessions != nil {
			out.ReadingSessions = sessions
		}
		return nil
	})

	_ = g.Wait()
	return out
}

// AssembleAll assembles every work concurrently and keeps input order
func (a *Assembler) AssembleAll(ctx context.Context, userID string, works []models.TrackedWork) []AugmentedWork {
	out := make([]AugmentedWork, len(works))

	var g errgroup.Group
	g.SetLimit(defaultConcurrency)
	for i, w := range works {
		g.Go(func() error {
			out[i] = a.Assemble(ctx, userID, w)
			return nil
		})
	}
	_ = g.Wait()

	return out
}
