package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"bookshelf/internal/catalog"
	"bookshelf/internal/models"
)

// writeError maps the error taxonomy to a status and a {"message"} body.
// forbidden is the status used for ErrForbidden: 403 on writes, 404 on
// reads so a work's existence is not revealed.
func (s *Server) writeError(c *gin.Context, err error, forbidden int) {
	status, message := http.StatusInternalServerError, "Internal server error"

	switch {
	case errors.Is(err, models.ErrInvalidInput):
		status, message = http.StatusBadRequest, reason(err, models.ErrInvalidInput)
	case errors.Is(err, models.ErrUnauthorized):
		status, message = http.StatusUnauthorized, "Invalid credentials"
	case errors.Is(err, models.ErrForbidden):
		status = forbidden
		message = "Book not found"
		if forbidden == http.StatusForbidden {
			message = "Forbidden"
		}
	case errors.Is(err, models.ErrConflict):
		status, message = http.StatusConflict, reason(err, models.ErrConflict)
	case errors.Is(err, catalog.ErrNotFound):
		status, message = http.StatusNotFound, "Work not found in catalog"
	case errors.Is(err, models.ErrUpstreamUnavailable):
		status, message = http.StatusBadGateway, "Catalog service unavailable"
	}

	if status >= http.StatusInternalServerError {
		s.logger.Error("Request failed",
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", status),
			zap.Error(err),
		)
	}
	c.JSON(status, gin.H{"message": message})
}

// reason drops the sentinel prefix added by %w wrapping
func reason(err, sentinel error) string {
	msg := strings.TrimPrefix(err.Error(), sentinel.Error()+": ")
	if msg == "" {
		return sentinel.Error()
	}
	return msg
}
