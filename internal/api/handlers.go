package api

import (
	"errors"
	"math"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"bookshelf/internal/catalog"
	"bookshelf/internal/library"
	"bookshelf/internal/models"
)

type signUpRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type addSessionRequest struct {
	// any so that fractional and non-numeric values can be told apart
	PagesRead any     `json:"pages_read_in_session"`
	Notes     *string `json:"notes"`
}

func (s *Server) setSessionCookie(c *gin.Context, token string, maxAge int) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(SessionCookie, token, maxAge, "/", "", s.secureCookies, true)
}

func (s *Server) handleSignUp(c *gin.Context) {
	var req signUpRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "Invalid JSON body"})
		return
	}

	user, token, err := s.identity.SignUp(c.Request.Context(), req.Username, req.Email, req.Password)
	if err != nil {
		s.writeError(c, err, http.StatusForbidden)
		return
	}

	s.setSessionCookie(c, token, int(s.identity.TTL().Seconds()))
	c.JSON(http.StatusCreated, gin.H{"message": "User created successfully", "user": user, "token": token})
}

func (s *Server) handleLogin(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "Invalid JSON body"})
		return
	}

	user, token, err := s.identity.SignIn(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		s.writeError(c, err, http.StatusForbidden)
		return
	}

	s.setSessionCookie(c, token, int(s.identity.TTL().Seconds()))
	c.JSON(http.StatusOK, gin.H{"message": "Logged in successfully", "user": user, "token": token})
}

func (s *Server) handleLogout(c *gin.Context) {
	if token := sessionToken(c); token != "" {
		if err := s.identity.SignOut(c.Request.Context(), token); err != nil {
			s.writeError(c, err, http.StatusForbidden)
			return
		}
	}
	s.setSessionCookie(c, "", -1)
	c.JSON(http.StatusOK, gin.H{"message": "Logged out successfully"})
}

func (s *Server) handleCheckSession(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"message": "Session is active", "userId": userID(c)})
}

func (s *Server) handleTrending(c *gin.Context) {
	books, err := s.catalog.Trending(c.Request.Context())
	if err != nil {
		s.writeError(c, err, http.StatusNotFound)
		return
	}
	c.JSON(http.StatusOK, books)
}

func (s *Server) handleSearch(c *gin.Context) {
	q := strings.TrimSpace(c.Query("q"))
	if q == "" {
		c.JSON(http.StatusBadRequest, gin.H{"message": "Query parameter q is required"})
		return
	}

	books, err := s.catalog.Search(c.Request.Context(), q)
	if err != nil {
		s.writeError(c, err, http.StatusNotFound)
		return
	}
	c.JSON(http.StatusOK, books)
}

func (s *Server) handleWorkDetail(c *gin.Context) {
	detail, err := s.catalog.FetchWorkDetail(c.Request.Context(), catalog.WorkKeyPrefix+c.Param("workId"))
	if err != nil {
		s.writeError(c, err, http.StatusNotFound)
		return
	}
	c.JSON(http.StatusOK, detail)
}

func (s *Server) handleAddWork(c *gin.Context) {
	var req library.AddWorkInput
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "Invalid JSON body"})
		return
	}

	work, err := s.library.AddWork(c.Request.Context(), userID(c), req)
	if err != nil {
		s.writeError(c, err, http.StatusForbidden)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"message": "Book added to your library", "userBook": work})
}

func (s *Server) handleListLibrary(c *gin.Context) {
	works, err := s.library.ListLibrary(c.Request.Context(), userID(c))
	if err != nil {
		s.writeError(c, err, http.StatusNotFound)
		return
	}
	c.JSON(http.StatusOK, works)
}

func (s *Server) handleGetWork(c *gin.Context) {
	work, err := s.library.GetWork(c.Request.Context(), userID(c), c.Param("userBookId"))
	if err != nil {
		s.writeError(c, err, http.StatusNotFound)
		return
	}
	c.JSON(http.StatusOK, work)
}

func (s *Server) handleLogSession(c *gin.Context) {
	var req addSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "Invalid JSON body"})
		return
	}
	pages, err := pagesRead(req.PagesRead)
	if err != nil {
		s.writeError(c, err, http.StatusForbidden)
		return
	}

	res, err := s.library.LogSession(c.Request.Context(), userID(c), c.Param("userBookId"), pages, req.Notes)
	var partial *models.SessionLoggedPageUpdateFailed
	if errors.As(err, &partial) {
		c.JSON(http.StatusInternalServerError, gin.H{
			"message": "Reading session saved, but the current page could not be updated",
			"partial": true,
			"session": partial.Session,
		})
		return
	}
	if err != nil {
		s.writeError(c, err, http.StatusForbidden)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message":            "Reading session logged",
		"session":            res.Session,
		"updatedCurrentPage": res.UpdatedCurrentPage,
	})
}

func (s *Server) handleReconcile(repair bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		drift, err := s.library.Reconcile(c.Request.Context(), userID(c), c.Param("userBookId"), repair)
		if err != nil {
			s.writeError(c, err, http.StatusNotFound)
			return
		}
		c.JSON(http.StatusOK, drift)
	}
}

// pagesRead accepts only whole JSON numbers. Range checks are left to the
// ledger so that zero and negatives share its error.
func pagesRead(v any) (int, error) {
	switch n := v.(type) {
	case nil:
		return 0, models.InvalidInput("pages_read_in_session is required")
	case float64:
		if n != math.Trunc(n) || math.IsInf(n, 0) {
			return 0, models.InvalidInput("pages_read_in_session must be a whole number")
		}
		if math.Abs(n) > math.MaxInt32 {
			return 0, models.InvalidInput("pages_read_in_session is too large")
		}
		return int(n), nil
	default:
		return 0, models.InvalidInput("pages_read_in_session must be a number")
	}
}
