package auth

import (
	"testing"
	"time"

	"github.com/erp/stockledger/internal/infrastructure/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestTokenService() *TokenService {
	return NewTokenService(config.JWTConfig{
		Secret: "test-secret-key-at-least-32-chars",
		Issuer: "test-issuer",
	})
}

func TestTokenService_IssueAndVerify(t *testing.T) {
	svc := newTestTokenService()

	issued, err := svc.Issue("ops-bot", []string{ScopeWrite}, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, "Bearer", issued.TokenType)
	assert.True(t, issued.ExpiresAt.After(time.Now()))

	claims, err := svc.Verify(issued.Token)
	require.NoError(t, err)
	assert.Equal(t, "ops-bot", claims.Subject)
	assert.Equal(t, "test-issuer", claims.Issuer)
	assert.True(t, claims.HasScope(ScopeWrite))
	assert.False(t, claims.HasScope(ScopeAdmin))
	assert.WithinDuration(t, issued.ExpiresAt, claims.GetExpiresAtTime(), time.Second)
}

func TestTokenService_DefaultTTL(t *testing.T) {
	svc := newTestTokenService()
	fixed := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return fixed }

	issued, err := svc.Issue("ops-bot", nil, 0)
	require.NoError(t, err)
	assert.Equal(t, fixed.Add(DefaultTokenTTL), issued.ExpiresAt)
}

func TestTokenService_Expired(t *testing.T) {
	svc := newTestTokenService()
	issued, err := svc.Issue("ops-bot", nil, time.Minute)
	require.NoError(t, err)

	svc.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	_, err = svc.Verify(issued.Token)
	assert.ErrorIs(t, err, ErrExpiredToken)
}

func TestTokenService_Rejects(t *testing.T) {
	svc := newTestTokenService()

	t.Run("garbage", func(t *testing.T) {
		_, err := svc.Verify("invalid-token")
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("different secret", func(t *testing.T) {
		other := NewTokenService(config.JWTConfig{Secret: "different-secret-key-32-chars!!", Issuer: "test-issuer"})
		issued, err := other.Issue("ops-bot", nil, time.Hour)
		require.NoError(t, err)

		_, err = svc.Verify(issued.Token)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("different issuer", func(t *testing.T) {
		other := NewTokenService(config.JWTConfig{Secret: "test-secret-key-at-least-32-chars", Issuer: "someone-else"})
		issued, err := other.Issue("ops-bot", nil, time.Hour)
		require.NoError(t, err)

		_, err = svc.Verify(issued.Token)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("missing subject", func(t *testing.T) {
		_, err := svc.Issue("", nil, time.Hour)
		assert.ErrorIs(t, err, ErrMissingSubject)
	})
}

func TestTokenService_Disabled(t *testing.T) {
	svc := NewTokenService(config.JWTConfig{Issuer: "test-issuer"})
	assert.False(t, svc.Enabled())

	_, err := svc.Issue("ops-bot", nil, time.Hour)
	assert.ErrorIs(t, err, ErrNoSecret)
	_, err = svc.Verify("anything")
	assert.ErrorIs(t, err, ErrNoSecret)
}

func TestClaims_HasScope(t *testing.T) {
	admin := &Claims{Scopes: []string{ScopeAdmin}}
	assert.True(t, admin.HasScope(ScopeAdmin))
	assert.True(t, admin.HasScope(ScopeWrite), "admin implies write")

	none := &Claims{}
	assert.False(t, none.HasScope(ScopeWrite))
}
