package auth

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/halcyonchat/halcyon/internal/storage"
)

func TestTokenSource_RoundTrip(t *testing.T) {
	ts := NewTokenSource([]byte("secret"), time.Hour)

	token, err := ts.Issue("alice")
	require.NoError(t, err)
	require.NotEmpty(t, token)

	username, err := ts.Verify(token)
	require.NoError(t, err)
	require.Equal(t, "alice", username)
}

func TestTokenSource_WrongSecret(t *testing.T) {
	ts := NewTokenSource([]byte("secret"), time.Hour)
	other := NewTokenSource([]byte("not-the-secret"), time.Hour)

	token, err := ts.Issue("alice")
	require.NoError(t, err)

	_, err = other.Verify(token)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestTokenSource_Expired(t *testing.T) {
	ts := NewTokenSource([]byte("secret"), time.Nanosecond)

	token, err := ts.Issue("alice")
	require.NoError(t, err)

	time.Sleep(10 * time.Millisecond)
	_, err = ts.Verify(token)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestTokenSource_Garbage(t *testing.T) {
	ts := NewTokenSource([]byte("secret"), time.Hour)

	_, err := ts.Verify("not-a-token")
	require.ErrorIs(t, err, ErrInvalidToken)
}

type fakeUserLookup struct {
	users map[string]bool
}

func (f fakeUserLookup) UserByUsername(_ context.Context, username string) (storage.User, error) {
	if !f.users[username] {
		return storage.User{}, storage.ErrNotFound
	}
	return storage.User{Username: username}, nil
}

func TestStoreAuthenticator_Resolve(t *testing.T) {
	ts := NewTokenSource([]byte("secret"), time.Hour)
	authn := NewStoreAuthenticator(ts, fakeUserLookup{users: map[string]bool{"alice": true}})
	ctx := context.Background()

	token, err := ts.Issue("alice")
	require.NoError(t, err)

	username, err := authn.Resolve(ctx, token)
	require.NoError(t, err)
	require.Equal(t, "alice", username)

	_, err = authn.Resolve(ctx, "")
	require.ErrorIs(t, err, ErrInvalidToken)

	// Valid signature but the account no longer exists.
	ghost, err := ts.Issue("ghost")
	require.NoError(t, err)
	_, err = authn.Resolve(ctx, ghost)
	require.ErrorIs(t, err, ErrInvalidToken)
}
