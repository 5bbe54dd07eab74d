package app

import (
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"bookshelf/internal/config"
)

func testConfig(backend string) *config.Config {
	return &config.Config{
		Port:           "0",
		AppEnv:         "development",
		LogLevel:       "debug",
		StorageBackend: backend,
		SessionSecret:  "test-secret",
		SessionTTL:     time.Hour,
		CatalogTimeout: time.Second,
	}
}

func TestNewWithConfig_Mock(t *testing.T) {
	a, err := NewWithConfig(testConfig(config.BackendMock), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Shutdown() })

	rec := httptest.NewRecorder()
	a.server.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	a.server.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/profile/my-books", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestNewWithConfig_SQLite(t *testing.T) {
	cfg := testConfig(config.BackendSQLite)
	cfg.SQLitePath = filepath.Join(t.TempDir(), "nested", "bookshelf.db")

	a, err := NewWithConfig(cfg, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, a.Shutdown())
	assert.FileExists(t, cfg.SQLitePath)
}

func TestNewLogger(t *testing.T) {
	cfg := testConfig(config.BackendMock)
	logger, err := newLogger(cfg)
	require.NoError(t, err)
	assert.NotNil(t, logger)

	cfg.LogLevel = "loud"
	_, err = newLogger(cfg)
	assert.Error(t, err)
}
