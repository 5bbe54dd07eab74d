package models

import (
	"errors"
	"fmt"
)

// Error taxonomy shared by the service layer and the HTTP surface.
var (
	ErrInvalidInput        = errors.New("invalid input")
	ErrForbidden           = errors.New("not found or not owned by caller")
	ErrConflict            = errors.New("already exists")
	ErrUpstreamUnavailable = errors.New("catalog service unavailable")
	ErrPartialFailure      = errors.New("partial failure")
	ErrInternal            = errors.New("internal error")
	ErrUnauthorized        = errors.New("unauthorized")
)

// SessionLoggedPageUpdateFailed is returned when a reading session was
// appended to the ledger but the current page counter could not be updated.
// Session is durable; only the counter write needs to be retried.
type SessionLoggedPageUpdateFailed struct {
	Session ProgressEvent
	Err     error
}

func (e *SessionLoggedPageUpdateFailed) Error() string {
	return fmt.Sprintf("session %s logged but current page update failed: %v", e.Session.ID, e.Err)
}

func (e *SessionLoggedPageUpdateFailed) Unwrap() error {
	return e.Err
}

// Is lets errors.Is(err, ErrPartialFailure) match.
func (e *SessionLoggedPageUpdateFailed) Is(target error) bool {
	return target == ErrPartialFailure
}

// InvalidInput wraps ErrInvalidInput with a caller-facing reason
func InvalidInput(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}
