package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateAndValidateToken(t *testing.T) {
	service := NewService("test-secret")
	service.RegisterAPICredentials(TestAPIKey, TestAPISecret)

	token, err := service.GenerateToken(Credentials{
		APIKey:    TestAPIKey,
		APISecret: TestAPISecret,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, token.Token)
	assert.True(t, token.Expiration.After(time.Now()))

	claims, err := service.ValidateToken(token.Token)
	require.NoError(t, err)
	assert.Equal(t, TestAPIKey, claims.UserID)
	assert.Contains(t, claims.Permissions, "trade")
	assert.Contains(t, claims.Permissions, "view")
}

func TestGenerateTokenInvalidCredentials(t *testing.T) {
	service := NewService("test-secret")
	service.RegisterAPICredentials(TestAPIKey, TestAPISecret)

	_, err := service.GenerateToken(Credentials{
		APIKey:    TestAPIKey,
		APISecret: "wrong-secret",
	})
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = service.GenerateToken(Credentials{
		APIKey:    "unknown-key",
		APISecret: TestAPISecret,
	})
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestValidateTokenWrongSecret(t *testing.T) {
	issuer := NewService("secret-a")
	issuer.RegisterAPICredentials(TestAPIKey, TestAPISecret)

	token, err := issuer.GenerateToken(Credentials{
		APIKey:    TestAPIKey,
		APISecret: TestAPISecret,
	})
	require.NoError(t, err)

	verifier := NewService("secret-b")
	_, err = verifier.ValidateToken(token.Token)
	assert.Error(t, err)
}

func TestGetUserID(t *testing.T) {
	claims := jwt.MapClaims{"user_id": "user-1"}
	assert.Equal(t, "user-1", GetUserID(claims))

	assert.Empty(t, GetUserID(jwt.MapClaims{}))
	assert.Empty(t, GetUserID(jwt.MapClaims{"user_id": 42}))
	assert.Empty(t, GetUserID("not-claims"))
}
