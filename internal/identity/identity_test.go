package identity

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"bookshelf/internal/models"
	"bookshelf/internal/storage/stubs"
)

var testSecret = []byte("test-secret")

func newTestService(t *testing.T) (*Service, *stubs.MockDB) {
	t.Helper()
	db := stubs.NewMockDB()
	return New(db, testSecret, time.Hour, zap.NewNop()), db
}

func TestService_SignUpAndAuthenticate(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	user, token, err := svc.SignUp(ctx, "alice", " Alice@Example.com ", "secret123")
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", user.Email)
	assert.NotEqual(t, "secret123", user.PasswordHash)
	require.NotEmpty(t, token)

	userID, err := svc.Authenticate(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, user.ID, userID)
}

func TestService_SignUp_Validation(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	tests := []struct {
		name                      string
		username, email, password string
	}{
		{"missing username", "", "a@example.com", "secret123"},
		{"bad email", "alice", "not-an-email", "secret123"},
		{"short password", "alice", "a@example.com", "abc"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := svc.SignUp(ctx, tt.username, tt.email, tt.password)
			assert.ErrorIs(t, err, models.ErrInvalidInput)
		})
	}
}

func TestService_SignUp_DuplicateEmail(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, _, err := svc.SignUp(ctx, "alice", "alice@example.com", "secret123")
	require.NoError(t, err)

	_, _, err = svc.SignUp(ctx, "alice2", "ALICE@example.com", "secret456")
	assert.ErrorIs(t, err, models.ErrConflict)
}

func TestService_SignIn(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	created, _, err := svc.SignUp(ctx, "alice", "alice@example.com", "secret123")
	require.NoError(t, err)

	user, token, err := svc.SignIn(ctx, "alice@example.com", "secret123")
	require.NoError(t, err)
	assert.Equal(t, created.ID, user.ID)

	userID, err := svc.Authenticate(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, created.ID, userID)

	_, _, err = svc.SignIn(ctx, "alice@example.com", "wrong-password")
	assert.ErrorIs(t, err, models.ErrUnauthorized)

	_, _, err = svc.SignIn(ctx, "nobody@example.com", "secret123")
	assert.ErrorIs(t, err, models.ErrUnauthorized)
}

func TestService_SignOut(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, token, err := svc.SignUp(ctx, "alice", "alice@example.com", "secret123")
	require.NoError(t, err)

	require.NoError(t, svc.SignOut(ctx, token))
	_, err = svc.Authenticate(ctx, token)
	assert.ErrorIs(t, err, models.ErrUnauthorized)

	// Repeating is harmless
	assert.NoError(t, svc.SignOut(ctx, token))
	assert.NoError(t, svc.SignOut(ctx, "garbage"))
}

func TestService_Authenticate_Rejects(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, token, err := svc.SignUp(ctx, "alice", "alice@example.com", "secret123")
	require.NoError(t, err)

	t.Run("empty", func(t *testing.T) {
		_, err := svc.Authenticate(ctx, "")
		assert.ErrorIs(t, err, models.ErrUnauthorized)
	})

	t.Run("wrong secret", func(t *testing.T) {
		other := New(stubs.NewMockDB(), []byte("other-secret"), time.Hour, zap.NewNop())
		_, err := other.Authenticate(ctx, token)
		assert.ErrorIs(t, err, models.ErrUnauthorized)
	})

	t.Run("unknown session", func(t *testing.T) {
		forged, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
			ID: "missing", Subject: "alice", Issuer: issuer,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		}).SignedString(testSecret)
		require.NoError(t, err)

		_, err = svc.Authenticate(ctx, forged)
		assert.ErrorIs(t, err, models.ErrUnauthorized)
	})

	t.Run("expired", func(t *testing.T) {
		svc.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
		defer func() { svc.now = time.Now }()

		_, err := svc.Authenticate(ctx, token)
		assert.ErrorIs(t, err, models.ErrUnauthorized)
	})
}
