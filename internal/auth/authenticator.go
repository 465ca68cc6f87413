package auth

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"
)

// ErrAuthentication is the kind shared by every rejected credential.
var ErrAuthentication = errors.New("authentication failed")

// ErrUserNotFound is returned by UserLookup implementations for unknown ids.
var ErrUserNotFound = errors.New("user not found")

const (
	reasonNoToken      = "no token"
	reasonInvalidToken = "invalid token"
	reasonUserNotFound = "user not found"
)

// AuthenticationError rejects a connection or request; Reason is safe to show clients.
type AuthenticationError struct {
	Reason string
	cause  error
}

func (e *AuthenticationError) Error() string {
	return e.Reason
}

func (e *AuthenticationError) Unwrap() []error {
	return []error{ErrAuthentication, e.cause}
}

// Identity is the authenticated user attached to a connection for its lifetime.
type Identity struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
}

// TokenValidator resolves a bearer token to its subject.
type TokenValidator interface {
	ValidateToken(token string) (string, error)
}

// UserLookup resolves a subject to its current identity.
type UserLookup interface {
	LookupIdentity(ctx context.Context, userID string) (Identity, error)
}

// Authenticator turns bearer tokens into identities.
type Authenticator struct {
	tokens TokenValidator
	users  UserLookup
	logger *zap.Logger
}

// NewAuthenticator wires the token validator and the user directory.
func NewAuthenticator(tokens TokenValidator, users UserLookup, logger *zap.Logger) (*Authenticator, error) {
	if tokens == nil {
		return nil, errors.New("auth: token validator required")
	}
	if users == nil {
		return nil, errors.New("auth: user lookup required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Authenticator{tokens: tokens, users: users, logger: logger}, nil
}

// Authenticate validates the token and resolves the identity behind it.
func (a *Authenticator) Authenticate(ctx context.Context, token string) (Identity, error) {
	if strings.TrimSpace(token) == "" {
		return Identity{}, &AuthenticationError{Reason: reasonNoToken, cause: ErrMissingToken}
	}
	subject, err := a.tokens.ValidateToken(token)
	if err != nil {
		if errors.Is(err, ErrExpiredToken) {
			a.logger.Info("token validation failed", zap.Error(err))
		} else {
			a.logger.Warn("token validation failed", zap.Error(err))
		}
		return Identity{}, &AuthenticationError{Reason: reasonInvalidToken, cause: err}
	}
	identity, err := a.users.LookupIdentity(ctx, subject)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			a.logger.Info("token subject no longer exists", zap.String("user_id", subject))
			return Identity{}, &AuthenticationError{Reason: reasonUserNotFound, cause: err}
		}
		return Identity{}, err
	}
	return identity, nil
}
