package auth

import (
	"context"
	"errors"

	"github.com/halcyonchat/halcyon/internal/storage"
)

// Authenticator maps an opaque session token to a user identity.
type Authenticator interface {
	// Resolve returns the username bound to token, or ErrInvalidToken.
	Resolve(ctx context.Context, token string) (string, error)
}

// userLookup is the slice of the repository the authenticator needs.
type userLookup interface {
	UserByUsername(ctx context.Context, username string) (storage.User, error)
}

// StoreAuthenticator verifies the token signature and then confirms the
// account still exists, so tokens for deleted users stop working even
// before they expire.
type StoreAuthenticator struct {
	tokens *TokenSource
	users  userLookup
}

// NewStoreAuthenticator wires a TokenSource to a user repository.
func NewStoreAuthenticator(tokens *TokenSource, users userLookup) *StoreAuthenticator {
	return &StoreAuthenticator{tokens: tokens, users: users}
}

// Resolve implements Authenticator.
func (a *StoreAuthenticator) Resolve(ctx context.Context, token string) (string, error) {
	if token == "" {
		return "", ErrInvalidToken
	}
	username, err := a.tokens.Verify(token)
	if err != nil {
		return "", err
	}
	if _, err := a.users.UserByUsername(ctx, username); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return "", ErrInvalidToken
		}
		return "", err
	}
	return username, nil
}
