package auth

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenRoundTrip(t *testing.T) {
	userID := uuid.New()
	token, err := GenerateToken(userID, "op@example.com", "s3cret", time.Hour)
	require.NoError(t, err)

	claims, err := ParseToken(token, "s3cret")
	require.NoError(t, err)
	assert.Equal(t, userID, claims.UserID)
	assert.Equal(t, "op@example.com", claims.Email)
}

func TestParseTokenRejectsWrongSecretAndExpiry(t *testing.T) {
	token, err := GenerateToken(uuid.New(), "op@example.com", "s3cret", time.Hour)
	require.NoError(t, err)
	_, err = ParseToken(token, "other")
	assert.Error(t, err)

	expired, err := GenerateToken(uuid.New(), "op@example.com", "s3cret", -time.Minute)
	require.NoError(t, err)
	_, err = ParseToken(expired, "s3cret")
	assert.Error(t, err)
}

func TestAuthContextVariants(t *testing.T) {
	dev := uuid.New()

	anon := Anonymous(dev)
	assert.True(t, anon.IsAnonymous())
	assert.True(t, anon.Valid())
	assert.Equal(t, dev, anon.UserID)

	sys := System(dev)
	assert.False(t, sys.IsAnonymous())
	assert.Equal(t, KindSystem, sys.Kind)

	assert.False(t, AuthContext{}.Valid())

	ctx := WithContext(context.Background(), anon)
	got, ok := FromContext(ctx)
	require.True(t, ok)
	assert.Equal(t, anon, got)
}
