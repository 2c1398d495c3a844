package auth

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func signToken(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func TestGetUserFromToken(t *testing.T) {
	svc := NewAuthService(nil, "test-secret", time.Hour)

	token := signToken(t, "test-secret", jwt.MapClaims{
		"user_id":  float64(42),
		"username": "trader1",
		"exp":      time.Now().Add(time.Hour).Unix(),
	})

	userID, err := svc.GetUserFromToken(token)
	require.NoError(t, err)
	assert.Equal(t, 42, userID)
}

func TestGetUserFromToken_WrongSecret(t *testing.T) {
	svc := NewAuthService(nil, "test-secret", time.Hour)

	token := signToken(t, "other-secret", jwt.MapClaims{
		"user_id": float64(42),
		"exp":     time.Now().Add(time.Hour).Unix(),
	})

	_, err := svc.GetUserFromToken(token)
	assert.Error(t, err)
}

func TestGetUserFromToken_Expired(t *testing.T) {
	svc := NewAuthService(nil, "test-secret", time.Hour)

	token := signToken(t, "test-secret", jwt.MapClaims{
		"user_id": float64(42),
		"exp":     time.Now().Add(-time.Minute).Unix(),
	})

	_, err := svc.GetUserFromToken(token)
	assert.Error(t, err)
}

func TestGetUserFromToken_MissingUserID(t *testing.T) {
	svc := NewAuthService(nil, "test-secret", time.Hour)

	token := signToken(t, "test-secret", jwt.MapClaims{
		"username": "trader1",
		"exp":      time.Now().Add(time.Hour).Unix(),
	})

	_, err := svc.GetUserFromToken(token)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "user_id")
}

func TestGetUserFromToken_Garbage(t *testing.T) {
	svc := NewAuthService(nil, "test-secret", time.Hour)

	_, err := svc.GetUserFromToken("not.a.token")
	assert.Error(t, err)
}

func TestRegister_InputValidation(t *testing.T) {
	svc := NewAuthService(nil, "test-secret", time.Hour)
	ctx := context.Background()

	_, err := svc.Register(ctx, "", "password")
	assert.Error(t, err)

	_, err = svc.Register(ctx, "trader1", "")
	assert.Error(t, err)

	_, err = svc.Register(ctx, strings.Repeat("a", 51), "password")
	assert.Error(t, err)

	_, err = svc.Register(ctx, "trader1", strings.Repeat("a", 101))
	assert.Error(t, err)
}
