package auth

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errordefs "github.com/RegistryAccord/registryaccord-imageapi-go/internal/errors"
)

const secret = "test-secret"

func sign(t *testing.T, key string, claims Claims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(key))
	require.NoError(t, err)
	return s
}

func future() *jwt.NumericDate { return jwt.NewNumericDate(time.Now().Add(time.Hour)) }

func TestVerifyRequest(t *testing.T) {
	v := NewVerifier(secret)

	tests := []struct {
		name   string
		header string
		code   errordefs.ErrorCode // empty means allowed
	}{
		{"role admin", "Bearer " + sign(t, secret, Claims{Role: "admin", RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: future()}}), ""},
		{"isAdmin flag", "Bearer " + sign(t, secret, Claims{IsAdmin: true}), ""},
		{"missing header", "", errordefs.IMG_AUTHN},
		{"basic auth", "Basic dXNlcjpwYXNz", errordefs.IMG_AUTHN},
		{"wrong key", "Bearer " + sign(t, "other", Claims{Role: "admin"}), errordefs.IMG_AUTHN},
		{"expired", "Bearer " + sign(t, secret, Claims{Role: "admin", RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
		}}), errordefs.IMG_AUTHN},
		{"editor", "Bearer " + sign(t, secret, Claims{Role: "editor"}), errordefs.IMG_AUTHZ},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("POST", "/image-api/search-giphy-images", nil)
			if tt.header != "" {
				r.Header.Set("Authorization", tt.header)
			}
			claims, err := v.VerifyRequest(r)
			if tt.code == "" {
				require.NoError(t, err)
				assert.True(t, claims.Admin())
				return
			}
			assert.Equal(t, tt.code, errordefs.CodeOf(err))
		})
	}
}

func TestVerifyRejectsNoneAlgorithm(t *testing.T) {
	token, err := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{Role: "admin"}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = NewVerifier(secret).Verify(token)
	assert.Equal(t, errordefs.IMG_AUTHN, errordefs.CodeOf(err))
}
