package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lightningtalk/backend/internal/models"
)

func TestVerifyRoundTrip(t *testing.T) {
	svc := NewJWTService("secret", 1)
	token, err := svc.Generate("user-1", "a@example.com", models.RoleAdmin)
	require.NoError(t, err)

	id, err := svc.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", id.UserID)
	assert.Equal(t, "a@example.com", id.Email)
	assert.Equal(t, models.RoleAdmin, id.Role)
	assert.True(t, id.IsAdmin())
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	token, err := NewJWTService("one", 1).Generate("user-1", "", models.RoleSpeaker)
	require.NoError(t, err)

	_, err = NewJWTService("two", 1).Verify(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerifyRejectsGarbage(t *testing.T) {
	_, err := NewJWTService("secret", 1).Verify("not-a-jwt")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerifyRejectsExpired(t *testing.T) {
	svc := NewJWTService("secret", 1)
	claims := Claims{
		UserID: "user-1",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("secret"))
	require.NoError(t, err)

	_, err = svc.Verify(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerifyLegacyIDClaimAndDefaultRole(t *testing.T) {
	claims := Claims{LegacyID: "legacy-7"}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("secret"))
	require.NoError(t, err)

	id, err := NewJWTService("secret", 1).Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "legacy-7", id.UserID)
	assert.Equal(t, models.RoleAudience, id.Role)
	assert.False(t, id.IsAdmin())
}

func TestVerifyRejectsTokenWithoutSubject(t *testing.T) {
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{Role: "admin"}).SignedString([]byte("secret"))
	require.NoError(t, err)

	_, err = NewJWTService("secret", 1).Verify(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}
