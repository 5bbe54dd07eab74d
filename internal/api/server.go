// Package api exposes the library over HTTP with gin.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"bookshelf/internal/catalog"
	"bookshelf/internal/enrich"
	"bookshelf/internal/ledger"
	"bookshelf/internal/library"
	"bookshelf/internal/models"
)

// SessionCookie carries the session token for browser clients
const SessionCookie = "bookshelf_session"

// Library is the reader-facing service behind /profile
type Library interface {
	AddWork(ctx context.Context, userID string, in library.AddWorkInput) (models.TrackedWork, error)
	ListLibrary(ctx context.Context, userID string) ([]enrich.AugmentedWork, error)
	GetWork(ctx context.Context, userID, workID string) (enrich.AugmentedWork, error)
	LogSession(ctx context.Context, userID, workID string, pagesRead int, notes *string) (ledger.SessionResult, error)
	Reconcile(ctx context.Context, userID, workID string, repair bool) (ledger.Drift, error)
}

// Identity signs readers in and resolves tokens
type Identity interface {
	SignUp(ctx context.Context, username, email, password string) (models.User, string, error)
	SignIn(ctx context.Context, email, password string) (models.User, string, error)
	SignOut(ctx context.Context, token string) error
	Authenticate(ctx context.Context, token string) (string, error)
	TTL() time.Duration
}

// Catalog is the browse surface proxied under /gallery
type Catalog interface {
	Trending(ctx context.Context) ([]catalog.BookSummary, error)
	Search(ctx context.Context, query string) ([]catalog.BookSummary, error)
	FetchWorkDetail(ctx context.Context, workKey string) (catalog.BookDetail, error)
}

// Server holds the HTTP handlers
type Server struct {
	library       Library
	identity      Identity
	catalog       Catalog
	logger        *zap.Logger
	secureCookies bool
}

// NewServer creates the HTTP handlers. secureCookies marks the session
// cookie Secure and should be set whenever the app is served over TLS.
func NewServer(lib Library, id Identity, cat Catalog, logger *zap.Logger, secureCookies bool) *Server {
	return &Server{
		library:       lib,
		identity:      id,
		catalog:       cat,
		logger:        logger,
		secureCookies: secureCookies,
	}
}

// Router builds the gin engine with every route registered
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), s.requestLogger())

	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"ok": true}) })

	auth := r.Group("/auth")
	auth.POST("/signup", s.handleSignUp)
	auth.POST("/login", s.handleLogin)
	auth.POST("/logout", s.handleLogout)
	auth.GET("/check-session", s.requireAuth(), s.handleCheckSession)

	gallery := r.Group("/gallery")
	gallery.GET("", s.handleTrending)
	gallery.GET("/search", s.handleSearch)
	gallery.GET("/works/:workId", s.handleWorkDetail)

	books := r.Group("/profile/my-books", s.requireAuth())
	books.POST("", s.handleAddWork)
	books.GET("", s.handleListLibrary)
	books.GET("/:userBookId", s.handleGetWork)
	books.POST("/:userBookId/add-session", s.handleLogSession)
	books.GET("/:userBookId/reconcile", s.handleReconcile(false))
	books.POST("/:userBookId/reconcile", s.handleReconcile(true))

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"message": "Not found"})
	})
	return r
}

// requestLogger logs one line per request
func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("route", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("duration", time.Since(start)),
		}
		if c.Writer.Status() >= http.StatusInternalServerError {
			s.logger.Warn("HTTP request failed", fields...)
			return
		}
		s.logger.Debug("HTTP request", fields...)
	}
}
