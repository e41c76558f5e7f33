package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ecrodrig/storefront/internal/domain"
)

func TestTokenRoundTrip(t *testing.T) {
	tm := NewTokenManager([]byte("test-secret"), time.Hour)

	token, err := tm.Issue(&domain.User{ID: "user-1", Admin: false})
	require.NoError(t, err)

	identity, err := tm.Parse(token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", identity.UserID)
	assert.False(t, identity.Admin)
}

func TestTokenCarriesAdminClaim(t *testing.T) {
	tm := NewTokenManager([]byte("test-secret"), time.Hour)

	token, err := tm.Issue(&domain.User{ID: "admin-1", Admin: true})
	require.NoError(t, err)

	identity, err := tm.Parse(token)
	require.NoError(t, err)
	assert.True(t, identity.Admin)
}

func TestExpiredTokenRejected(t *testing.T) {
	tm := NewTokenManager([]byte("test-secret"), -time.Minute)

	token, err := tm.Issue(&domain.User{ID: "user-1"})
	require.NoError(t, err)

	_, err = tm.Parse(token)
	assert.Error(t, err)
}

func TestTokenSignedWithOtherSecretRejected(t *testing.T) {
	issuer := NewTokenManager([]byte("secret-a"), time.Hour)
	verifier := NewTokenManager([]byte("secret-b"), time.Hour)

	token, err := issuer.Issue(&domain.User{ID: "user-1"})
	require.NoError(t, err)

	_, err = verifier.Parse(token)
	assert.Error(t, err)
}

func TestGarbageTokenRejected(t *testing.T) {
	tm := NewTokenManager([]byte("test-secret"), time.Hour)

	_, err := tm.Parse("not-a-token")
	assert.Error(t, err)
}
