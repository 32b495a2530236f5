// ABOUTME: Tests for JWT verification and claim extraction
// ABOUTME: Covers valid tokens, expiry, wrong secrets, and missing claims

package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lumora/deskwire/internal/store"
)

var testSecret = []byte("test-secret-for-deskwire")

func TestVerify_RoundTrip(t *testing.T) {
	v := NewJWTVerifier(testSecret)

	token, err := v.Generate(Identity{ID: "user-1", Role: store.RoleUser}, time.Hour)
	require.NoError(t, err)

	id, err := v.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", id.ID)
	assert.Equal(t, store.RoleUser, id.Role)
	assert.False(t, id.IsAdmin())
}

func TestVerify_AdminRole(t *testing.T) {
	v := NewJWTVerifier(testSecret)

	token, err := v.Generate(Identity{ID: "agent-1", Role: store.RoleAdmin}, time.Hour)
	require.NoError(t, err)

	id, err := v.Verify(token)
	require.NoError(t, err)
	assert.True(t, id.IsAdmin())
}

func TestVerify_Expired(t *testing.T) {
	v := NewJWTVerifier(testSecret)

	token, err := v.Generate(Identity{ID: "user-1", Role: store.RoleUser}, -time.Minute)
	require.NoError(t, err)

	_, err = v.Verify(token)
	assert.ErrorIs(t, err, ErrExpiredToken)
}

func TestVerify_WrongSecret(t *testing.T) {
	v := NewJWTVerifier(testSecret)
	other := NewJWTVerifier([]byte("a-different-secret"))

	token, err := other.Generate(Identity{ID: "user-1", Role: store.RoleUser}, time.Hour)
	require.NoError(t, err)

	_, err = v.Verify(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerify_Garbage(t *testing.T) {
	v := NewJWTVerifier(testSecret)

	_, err := v.Verify("not-a-token")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerify_MissingClaims(t *testing.T) {
	tests := []struct {
		name   string
		claims jwt.MapClaims
	}{
		{"no sub", jwt.MapClaims{"role": "USER", "exp": time.Now().Add(time.Hour).Unix()}},
		{"empty sub", jwt.MapClaims{"sub": "", "role": "USER", "exp": time.Now().Add(time.Hour).Unix()}},
		{"no role", jwt.MapClaims{"sub": "user-1", "exp": time.Now().Add(time.Hour).Unix()}},
	}

	v := NewJWTVerifier(testSecret)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			token := jwt.NewWithClaims(jwt.SigningMethodHS256, tt.claims)
			signed, err := token.SignedString(testSecret)
			require.NoError(t, err)

			_, err = v.Verify(signed)
			assert.ErrorIs(t, err, ErrMissingClaim)
		})
	}
}

func TestVerify_UnknownRole(t *testing.T) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":  "user-1",
		"role": "SUPERUSER",
		"exp":  time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString(testSecret)
	require.NoError(t, err)

	_, err = NewJWTVerifier(testSecret).Verify(signed)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerify_WrongAlgorithm(t *testing.T) {
	// alg=none tokens must be rejected outright
	token := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{
		"sub":  "user-1",
		"role": "USER",
	})
	signed, err := token.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = NewJWTVerifier(testSecret).Verify(signed)
	assert.ErrorIs(t, err, ErrInvalidToken)
}
