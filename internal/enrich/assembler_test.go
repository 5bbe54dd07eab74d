package enrich

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	"bookshelf/internal/catalog"
	"bookshelf/internal/models"
	"bookshelf/internal/storage/stubs"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeCatalog struct {
	mu    sync.Mutex
	data  map[string]catalog.Enrichment
	block bool
	calls []string
}

func (f *fakeCatalog) FetchBibliographicData(ctx context.Context, olid string) (catalog.Enrichment, bool) {
	f.mu.Lock()
	f.calls = append(f.calls, olid)
	f.mu.Unlock()

	if f.block {
		<-ctx.Done()
		return catalog.DefaultEnrichment(), false
	}
	e, ok := f.data[olid]
	if !ok {
		return catalog.DefaultEnrichment(), false
	}
	return e, true
}

type failingSessions struct{}

func (failingSessions) ListProgressEvents(ctx context.Context, userID, workID string) ([]models.ProgressEvent, error) {
	return nil, errors.New("store unavailable")
}

func seed(t *testing.T) (*stubs.MockDB, models.TrackedWork) {
	t.Helper()
	db := stubs.NewMockDB()
	ctx := context.Background()

	work, err := db.CreateTrackedWork(ctx, models.NewTrackedWork{
		UserID: "alice", OpenLibraryKey: "/works/OL1W", Title: "Dune", AuthorName: "Herbert",
	})
	require.NoError(t, err)
	_, err = db.AppendProgressEvent(ctx, "alice", work.ID, 50, nil)
	require.NoError(t, err)
	return db, work
}

func TestAssembler_Assemble(t *testing.T) {
	db, work := seed(t)
	source := &fakeCatalog{data: map[string]catalog.Enrichment{
		"OL1W": {Description: "Desert planet.", Subjects: []string{"Arrakis"}},
	}}

	a := NewAssembler(source, db, time.Second, zap.NewNop())
	got := a.Assemble(context.Background(), "alice", work)

	assert.Equal(t, work, got.TrackedWork)
	assert.True(t, got.DetailsAvailable)
	assert.Equal(t, "Desert planet.", got.OpenLibraryDetails.Description)
	require.Len(t, got.ReadingSessions, 1)
	assert.Equal(t, 50, got.ReadingSessions[0].PagesRead)
	assert.Equal(t, []string{"OL1W"}, source.calls)
}

func TestAssembler_CatalogFailureKeepsSessions(t *testing.T) {
	db, work := seed(t)
	source := &fakeCatalog{}

	a := NewAssembler(source, db, time.Second, zap.NewNop())
	got := a.Assemble(context.Background(), "alice", work)

	assert.False(t, got.DetailsAvailable)
	assert.Equal(t, catalog.DefaultEnrichment(), got.OpenLibraryDetails)
	assert.Len(t, got.ReadingSessions, 1)
}

func TestAssembler_CatalogTimeout(t *testing.T) {
	db, work := seed(t)
	source := &fakeCatalog{block: true}

	a := NewAssembler(source, db, 20*time.Millisecond, zap.NewNop())

	start := time.Now()
	got := a.Assemble(context.Background(), "alice", work)

	assert.Less(t, time.Since(start), time.Second)
	assert.False(t, got.DetailsAvailable)
	assert.Len(t, got.ReadingSessions, 1)
}

func TestAssembler_SessionFailureKeepsEnrichment(t *testing.T) {
	_, work := seed(t)
	source := &fakeCatalog{data: map[string]catalog.Enrichment{"OL1W": {Description: "ok"}}}

	a := NewAssembler(source, failingSessions{}, time.Second, zap.NewNop())
	got := a.Assemble(context.Background(), "alice", work)

	assert.True(t, got.DetailsAvailable)
	assert.NotNil(t, got.ReadingSessions)
	assert.Empty(t, got.ReadingSessions)
}

func TestAssembler_UnparseableKeySkipsCatalog(t *testing.T) {
	db := stubs.NewMockDB()
	work, err := db.CreateTrackedWork(context.Background(), models.NewTrackedWork{
		UserID: "alice", OpenLibraryKey: "isbn:123", Title: "Odd", AuthorName: "Someone",
	})
	require.NoError(t, err)

	source := &fakeCatalog{}
	a := NewAssembler(source, db, time.Second, zap.NewNop())
	got := a.Assemble(context.Background(), "alice", work)

	assert.False(t, got.DetailsAvailable)
	assert.Empty(t, source.calls)
}

func TestAssembler_AssembleAll_PreservesOrder(t *testing.T) {
	db := stubs.NewMockDB()
	ctx := context.Background()

	var works []models.TrackedWork
	for _, key := range []string{"/works/OL1W", "/works/OL2W", "/works/OL3W"} {
		w, err := db.CreateTrackedWork(ctx, models.NewTrackedWork{UserID: "alice", OpenLibraryKey: key, Title: key, AuthorName: "x"})
		require.NoError(t, err)
		works = append(works, w)
	}

	// Only the middle work has catalog data
	source := &fakeCatalog{data: map[string]catalog.Enrichment{"OL2W": {Description: "two"}}}
	a := NewAssembler(source, db, time.Second, zap.NewNop())

	got := a.AssembleAll(ctx, "alice", works)
	require.Len(t, got, 3)
	for i := range works {
		assert.Equal(t, works[i].ID, got[i].ID)
	}
	assert.False(t, got[0].DetailsAvailable)
	assert.True(t, got[1].DetailsAvailable)
	assert.False(t, got[2].DetailsAvailable)
}
