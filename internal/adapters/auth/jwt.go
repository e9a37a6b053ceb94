// Package auth resolves bearer credentials issued by the storefront's
// authentication service
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/roykane/flower-shop-sub000/internal/core/domain"
	"github.com/roykane/flower-shop-sub000/internal/core/ports"
)

// Token errors
var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token expired")
	ErrMissingClaim = errors.New("missing required claim")
)

// Ensure JWTAuthenticator implements Authenticator
var _ ports.Authenticator = (*JWTAuthenticator)(nil)

// Claims carried by storefront tokens
type Claims struct {
	Name string `json:"name,omitempty"`
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// JWTAuthenticator verifies HS256 signed JWTs
type JWTAuthenticator struct {
	secret []byte
}

// NewJWTAuthenticator creates a new authenticator with the given secret
func NewJWTAuthenticator(secret []byte) *JWTAuthenticator {
	return &JWTAuthenticator{secret: secret}
}

// Authenticate validates the token and maps its claims to an identity.
// Unknown roles are treated as customers.
func (a *JWTAuthenticator) Authenticate(_ context.Context, tokenString string) (*domain.Identity, error) {
	tokenString = strings.TrimSpace(strings.TrimPrefix(tokenString, "Bearer "))
	if tokenString == "" {
		return nil, ErrInvalidToken
	}

	var claims Claims
	token, err := jwt.ParseWithClaims(tokenString, &claims, func(token *jwt.Token) (interface{}, error) {
		// Validate the signing method is HMAC
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return a.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid {
		return nil, ErrInvalidToken
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: sub", ErrMissingClaim)
	}

	role := claims.Role
	switch role {
	case domain.RoleAdmin, domain.RoleStaff:
	default:
		role = domain.RoleCustomer
	}

	return &domain.Identity{
		UserID: claims.Subject,
		Name:   claims.Name,
		Role:   role,
	}, nil
}

// Generate creates a signed token for an identity. Used by tooling and tests.
func (a *JWTAuthenticator) Generate(identity domain.Identity, expiresIn time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		Name: identity.Name,
		Role: identity.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   identity.UserID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(expiresIn)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(a.secret)
}
