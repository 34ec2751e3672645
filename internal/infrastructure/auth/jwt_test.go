package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vetclinic/backend/internal/infrastructure/config"
)

const testSecret = "test-secret-key-at-least-32-chars"

func newTestJWTService() *JWTService {
	return NewJWTService(config.JWTConfig{
		Secret:                testSecret,
		Issuer:                "vetclinic-test",
		AccessTokenExpiration: 15 * time.Minute,
	})
}

func signClaims(t *testing.T, claims *Claims, secret string) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return token
}

func baseClaims(userID string) *Claims {
	now := time.Now()
	return &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "vetclinic-test",
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Minute)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
		UserID:    userID,
		Username:  "dr.vet",
		TokenType: TokenTypeAccess,
	}
}

func TestJWTService_RoundTrip(t *testing.T) {
	svc := newTestJWTService()
	userID := uuid.New()

	token, expiresAt, err := svc.GenerateAccessToken(GenerateTokenInput{
		UserID:   userID,
		Username: "dr.vet",
		Email:    "vet@clinic.test",
		Role:     "veterinarian",
	})
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(15*time.Minute), expiresAt, 5*time.Second)

	claims, err := svc.ValidateAccessToken(token)
	require.NoError(t, err)
	assert.Equal(t, userID.String(), claims.UserID)
	assert.Equal(t, "veterinarian", claims.Role)

	actor := claims.Actor()
	require.NotNil(t, actor.UserID)
	assert.Equal(t, userID, *actor.UserID)
	assert.Equal(t, "dr.vet", actor.Name)
	assert.Equal(t, "vet@clinic.test", actor.Email)
	assert.False(t, actor.IsSystem())
}

func TestJWTService_ValidateAccessToken_Errors(t *testing.T) {
	svc := newTestJWTService()

	expired := baseClaims(uuid.NewString())
	expired.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Minute))

	notYet := baseClaims(uuid.NewString())
	notYet.NotBefore = jwt.NewNumericDate(time.Now().Add(time.Hour))

	wrongType := baseClaims(uuid.NewString())
	wrongType.TokenType = "refresh"

	wrongIssuer := baseClaims(uuid.NewString())
	wrongIssuer.Issuer = "someone-else"

	tests := []struct {
		name  string
		token string
		want  error
	}{
		{"garbage", "not-a-token", ErrInvalidToken},
		{"wrong secret", signClaims(t, baseClaims(uuid.NewString()), "another-secret-key-of-32-characters"), ErrInvalidToken},
		{"expired", signClaims(t, expired, testSecret), ErrExpiredToken},
		{"not yet valid", signClaims(t, notYet, testSecret), ErrTokenNotYetValid},
		{"wrong issuer", signClaims(t, wrongIssuer, testSecret), ErrInvalidToken},
		{"refresh token", signClaims(t, wrongType, testSecret), ErrInvalidTokenType},
		{"missing user", signClaims(t, baseClaims(""), testSecret), ErrMissingUserID},
		{"malformed user", signClaims(t, baseClaims("user-42"), testSecret), ErrInvalidClaims},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.ValidateAccessToken(tt.token)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestJWTService_RejectsNonHMAC(t *testing.T) {
	token, err := jwt.NewWithClaims(jwt.SigningMethodNone, baseClaims(uuid.NewString())).
		SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = newTestJWTService().ValidateAccessToken(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}
