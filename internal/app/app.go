package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"bookshelf/internal/api"
	"bookshelf/internal/catalog"
	"bookshelf/internal/config"
	"bookshelf/internal/enrich"
	"bookshelf/internal/identity"
	"bookshelf/internal/ledger"
	"bookshelf/internal/library"
	"bookshelf/internal/notify"
	"bookshelf/internal/storage"
	"bookshelf/internal/storage/ch"
	"bookshelf/internal/storage/sqlite"
	"bookshelf/internal/storage/stubs"
	"bookshelf/internal/telemetry"
)

const serviceName = "bookshelf"

// App represents the application
type App struct {
	config   *config.Config
	logger   *zap.Logger
	db       storage.Storage
	server   *http.Server
	library  *library.Service
	shutdown func(context.Context) error
}

// New creates and initializes a new application instance
func New() (*App, error) {
	// Load .env file if it exists
	envErr := godotenv.Load()

	cfg, err := config.LoadFromEnv()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	logger, err := newLogger(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}
	if envErr != nil {
		logger.Debug("No .env file found, using system environment variables")
	}

	return NewWithConfig(cfg, logger)
}

// NewWithConfig wires the application from an already loaded configuration
func NewWithConfig(cfg *config.Config, logger *zap.Logger) (*App, error) {
	app := &App{config: cfg, logger: logger}

	logger.Info("Starting Bookshelf...",
		zap.String("env", cfg.AppEnv),
		zap.String("storage", cfg.StorageBackend),
	)

	shutdown, err := telemetry.Setup(context.Background(), telemetry.Config{
		Endpoint: cfg.OTelEndpoint,
		Enabled:  cfg.OTelEnabled,
	}, serviceName)
	if err != nil {
		return nil, fmt.Errorf("failed to set up tracing: %w", err)
	}
	app.shutdown = shutdown

	if err := app.initDatabase(); err != nil {
		return nil, err
	}

	notifier, err := app.initNotifier()
	if err != nil {
		_ = app.db.Close()
		return nil, err
	}

	app.initHTTPServer(notifier)
	return app, nil
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	zcfg := zap.NewProductionConfig()
	if cfg.Development() {
		zcfg = zap.NewDevelopmentConfig()
	}
	level, err := zap.ParseAtomicLevel(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("invalid LOG_LEVEL %q: %w", cfg.LogLevel, err)
	}
	zcfg.Level = level
	return zcfg.Build()
}

// initDatabase opens the configured storage backend and applies its schema
func (a *App) initDatabase() error {
	var db storage.Storage
	switch a.config.StorageBackend {
	case config.BackendMock:
		a.logger.Info("Using mock database")
		db = stubs.NewMockDB()

	case config.BackendClickHouse:
		a.logger.Info("Connecting to ClickHouse",
			zap.String("host", a.config.ClickHouseHost),
			zap.Int("port", a.config.ClickHousePort),
			zap.String("database", a.config.ClickHouseDatabase),
			zap.String("user", a.config.ClickHouseUser),
			zap.Bool("tls", a.config.ClickHouseUseTLS),
		)
		clickhouseDB, err := ch.NewClickHouseDB(
			a.config.ClickHouseHost,
			a.config.ClickHousePort,
			a.config.ClickHouseDatabase,
			a.config.ClickHouseUser,
			a.config.ClickHousePassword,
			a.config.ClickHouseUseTLS,
		)
		if err != nil {
			return fmt.Errorf("failed to connect to ClickHouse: %w", err)
		}
		db = clickhouseDB

	default:
		if dir := filepath.Dir(a.config.SQLitePath); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return fmt.Errorf("failed to create sqlite directory: %w", err)
			}
		}
		a.logger.Info("Opening SQLite database", zap.String("path", a.config.SQLitePath))
		sqliteDB, err := sqlite.NewSQLiteDB(a.config.SQLitePath)
		if err != nil {
			return fmt.Errorf("failed to open SQLite: %w", err)
		}
		db = sqliteDB
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := db.Initialize(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	a.logger.Info("Database initialized successfully")

	a.db = db
	return nil
}

// initNotifier connects the Telegram bot when a token is configured
func (a *App) initNotifier() (library.Notifier, error) {
	if !a.config.NotificationsEnabled() {
		a.logger.Info("Session notifications disabled")
		return notify.Nop{}, nil
	}
	tg, err := notify.NewTelegram(notify.TelegramConfig{
		Token:    a.config.TelegramToken,
		ChatID:   a.config.TelegramChatID,
		ThreadID: a.config.TelegramThreadID,
	}, a.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create Telegram notifier: %w", err)
	}
	return tg, nil
}

// initHTTPServer wires the services behind the gin router
func (a *App) initHTTPServer(notifier library.Notifier) {
	if !a.config.Development() {
		gin.SetMode(gin.ReleaseMode)
	}

	catalogClient := catalog.New(catalog.Config{
		BaseURL:   a.config.CatalogBaseURL,
		CoversURL: a.config.CatalogCoversURL,
		Timeout:   a.config.CatalogTimeout,
	}, a.logger.Named("catalog"))

	manager := ledger.NewManager(a.db, a.logger.Named("ledger"))
	assembler := enrich.NewAssembler(catalogClient, a.db, a.config.CatalogTimeout, a.logger.Named("enrich"))
	lib := library.New(a.db, manager, assembler, notifier, a.logger.Named("library"))
	a.library = lib
	id := identity.New(a.db, []byte(a.config.SessionSecret), a.config.SessionTTL, a.logger.Named("identity"))

	server := api.NewServer(lib, id, catalogClient, a.logger.Named("http"), !a.config.Development())

	a.server = &http.Server{
		Addr:         ":" + a.config.Port,
		Handler:      otelhttp.NewHandler(server.Router(), serviceName),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
}

// Run serves HTTP and blocks until a shutdown signal or a server error
func (a *App) Run() error {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	errChan := make(chan error, 1)
	go func() {
		a.logger.Info("Starting HTTP server", zap.String("addr", a.server.Addr))
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	select {
	case <-sigChan:
		a.logger.Info("Shutting down...")
		return a.Shutdown()
	case err := <-errChan:
		a.logger.Error("HTTP server error", zap.Error(err))
		_ = a.Shutdown()
		return fmt.Errorf("http server: %w", err)
	}
}

// Shutdown gracefully shuts down the application
func (a *App) Shutdown() error {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := a.server.Shutdown(shutdownCtx); err != nil {
		a.logger.Warn("HTTP server shutdown error", zap.Error(err))
	}
	if err := a.library.Wait(shutdownCtx); err != nil {
		a.logger.Warn("Pending notifications abandoned", zap.Error(err))
	}
	if err := a.shutdown(shutdownCtx); err != nil {
		a.logger.Warn("Tracer shutdown error", zap.Error(err))
	}

	if err := a.db.Close(); err != nil {
		a.logger.Error("Error closing database", zap.Error(err))
		return err
	}

	a.logger.Info("Shutdown complete")
	_ = a.logger.Sync()
	return nil
}
