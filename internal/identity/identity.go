// Package identity signs readers up and in and resolves session tokens to
// user ids. Tokens are HS256 JWTs whose jti names a server-side session, so
// signing out invalidates a token before it expires.
package identity

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"bookshelf/internal/models"
	"bookshelf/internal/storage"
)

const (
	DefaultTTL        = 24 * time.Hour
	minPasswordLength = 6
	issuer            = "bookshelf"
)

// Service issues and verifies session tokens
type Service struct {
	store  storage.IdentityStore
	secret []byte
	ttl    time.Duration
	now    func() time.Time
	logger *zap.Logger
}

// New creates an identity service
func New(store storage.IdentityStore, secret []byte, ttl time.Duration, logger *zap.Logger) *Service {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Service{
		store:  store,
		secret: secret,
		ttl:    ttl,
		now:    time.Now,
		logger: logger,
	}
}

// TTL is how long an issued token stays valid
func (s *Service) TTL() time.Duration {
	return s.ttl
}

// SignUp registers a reader and opens a session for them
func (s *Service) SignUp(ctx context.Context, username, email, password string) (models.User, string, error) {
	username = strings.TrimSpace(username)
	email = strings.ToLower(strings.TrimSpace(email))

	if username == "" || email == "" || password == "" {
		return models.User{}, "", models.InvalidInput("username, email and password are required")
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return models.User{}, "", models.InvalidInput("invalid email address")
	}
	if len(password) < minPasswordLength {
		return models.User{}, "", models.InvalidInput("password must be at least %d characters", minPasswordLength)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return models.User{}, "", fmt.Errorf("%w: hash password: %v", models.ErrInternal, err)
	}

	user := models.User{
		ID:           uuid.NewString(),
		Email:        email,
		Username:     username,
		PasswordHash: string(hash),
		CreatedAt:    s.now().UTC(),
	}
	if err := s.store.CreateUser(ctx, user); err != nil {
		if errors.Is(err, storage.ErrConflict) {
			return models.User{}, "", fmt.Errorf("%w: email is already registered", models.ErrConflict)
		}
		return models.User{}, "", fmt.Errorf("%w: create user: %v", models.ErrInternal, err)
	}

	token, err := s.issue(ctx, user.ID)
	if err != nil {
		return models.User{}, "", err
	}

	s.logger.Info("User signed up", zap.String("user_id", user.ID))
	return user, token, nil
}

// SignIn verifies credentials and opens a session
func (s *Service) SignIn(ctx context.Context, email, password string) (models.User, string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || password == "" {
		return models.User{}, "", models.InvalidInput("email and password are required")
	}

	user, err := s.store.GetUserByEmail(ctx, email)
	if errors.Is(err, storage.ErrNotFound) {
		return models.User{}, "", fmt.Errorf("%w: invalid credentials", models.ErrUnauthorized)
	}
	if err != nil {
		return models.User{}, "", fmt.Errorf("%w: load user: %v", models.ErrInternal, err)
	}
	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) != nil {
		return models.User{}, "", fmt.Errorf("%w: invalid credentials", models.ErrUnauthorized)
	}

	token, err := s.issue(ctx, user.ID)
	if err != nil {
		return models.User{}, "", err
	}
	return user, token, nil
}

// SignOut revokes the session behind token. Unknown or malformed tokens are
// ignored so logging out is always safe to repeat.
func (s *Service) SignOut(ctx context.Context, token string) error {
	claims, err := s.parse(token, jwt.WithoutClaimsValidation())
	if err != nil {
		return nil
	}
	if err := s.store.RevokeSession(ctx, claims.ID, s.now()); err != nil {
		return fmt.Errorf("%w: revoke session: %v", models.ErrInternal, err)
	}
	return nil
}

// Authenticate resolves a token to the user id of an active session
func (s *Service) Authenticate(ctx context.Context, token string) (string, error) {
	if token == "" {
		return "", models.ErrUnauthorized
	}
	claims, err := s.parse(token)
	if err != nil {
		return "", fmt.Errorf("%w: %v", models.ErrUnauthorized, err)
	}

	session, err := s.store.GetSession(ctx, claims.ID)
	if errors.Is(err, storage.ErrNotFound) {
		return "", fmt.Errorf("%w: unknown session", models.ErrUnauthorized)
	}
	if err != nil {
		return "", fmt.Errorf("%w: load session: %v", models.ErrInternal, err)
	}
	if !session.Active(s.now()) || session.UserID != claims.Subject {
		return "", fmt.Errorf("%w: session ended", models.ErrUnauthorized)
	}
	return session.UserID, nil
}

func (s *Service) issue(ctx context.Context, userID string) (string, error) {
	now := s.now().UTC()
	session := models.Session{
		ID:        uuid.NewString(),
		UserID:    userID,
		ExpiresAt: now.Add(s.ttl),
	}
	if err := s.store.CreateSession(ctx, session); err != nil {
		return "", fmt.Errorf("%w: create session: %v", models.ErrInternal, err)
	}

	claims := jwt.RegisteredClaims{
		ID:        session.ID,
		Subject:   userID,
		Issuer:    issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(session.ExpiresAt),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("%w: sign token: %v", models.ErrInternal, err)
	}
	return token, nil
}

func (s *Service) parse(token string, opts ...jwt.ParserOption) (*jwt.RegisteredClaims, error) {
	opts = append(opts,
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithTimeFunc(s.now),
	)
	claims := &jwt.RegisteredClaims{}
	if _, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return s.secret, nil
	}, opts...); err != nil {
		return nil, err
	}
	if claims.ID == "" || claims.Subject == "" {
		return nil, jwt.ErrTokenInvalidClaims
	}
	return claims, nil
}
