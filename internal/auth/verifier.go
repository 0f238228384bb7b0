// Package auth enforces the admin-only policy of the image-api routes.
package auth

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	errordefs "github.com/RegistryAccord/registryaccord-imageapi-go/internal/errors"
)

// Claims are the token claims the service reads.
type Claims struct {
	Role    string `json:"role,omitempty"`
	IsAdmin bool   `json:"isAdmin,omitempty"`
	jwt.RegisteredClaims
}

// Admin reports whether the claims grant admin access.
func (c *Claims) Admin() bool {
	return c.IsAdmin || strings.EqualFold(c.Role, "admin")
}

// Verifier validates HMAC-signed admin bearer tokens.
type Verifier struct {
	secret []byte
	leeway time.Duration
}

// NewVerifier returns a verifier for tokens signed with secret (HS256/384/512).
func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret), leeway: 30 * time.Second}
}

// VerifyRequest checks the Authorization header of r. A missing or invalid
// token is IMG_AUTHN; a valid token without admin rights is IMG_AUTHZ.
func (v *Verifier) VerifyRequest(r *http.Request) (*Claims, error) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return nil, errordefs.New(errordefs.IMG_AUTHN, "missing Authorization header", "")
	}
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return nil, errordefs.New(errordefs.IMG_AUTHN, "invalid Authorization header format", "")
	}
	return v.Verify(strings.TrimPrefix(authHeader, "Bearer "))
}

// Verify parses and validates tokenString.
func (v *Verifier) Verify(tokenString string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.secret, nil
	}, jwt.WithLeeway(v.leeway), jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"}))
	if err != nil {
		return nil, errordefs.Wrap(errordefs.IMG_AUTHN, err, "invalid token")
	}

	if !claims.Admin() {
		return nil, errordefs.New(errordefs.IMG_AUTHZ, "You're not allowed to perform this action!", "")
	}
	return claims, nil
}
