// Package auth validates the bearer tokens issued by the user service.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/utafrali/storefront/pkg/middleware"
)

// Claims mirrors the user service's access token claims.
type Claims struct {
	UserID string `json:"user_id"`
	Email  string `json:"email"`
	Role   string `json:"role"`
	jwt.RegisteredClaims
}

// Validator checks HS256 access tokens signed with a shared secret.
type Validator struct {
	secret []byte
	parser *jwt.Parser
}

// NewValidator creates a validator for tokens signed with secret.
func NewValidator(secret string) *Validator {
	return &Validator{
		secret: []byte(secret),
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithExpirationRequired(),
		),
	}
}

// Validate parses tokenString and returns the identity it carries. The user
// id falls back to the subject claim.
func (v *Validator) Validate(tokenString string) (*middleware.Claims, error) {
	claims := &Claims{}
	token, err := v.parser.ParseWithClaims(tokenString, claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("parse access token: %w", err)
	}
	if !token.Valid {
		return nil, errors.New("invalid access token")
	}

	userID := claims.UserID
	if userID == "" {
		userID = claims.Subject
	}
	if userID == "" {
		return nil, errors.New("access token has no subject")
	}
	return &middleware.Claims{UserID: userID, Email: claims.Email, Role: claims.Role}, nil
}

// Sign issues a token in the user service's format.
func (v *Validator) Sign(userID, email, role string, ttl time.Duration) (string, error) {
	now := time.Now().UTC()
	claims := &Claims{
		UserID: userID,
		Email:  email,
		Role:   role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			Issuer:    "user-service",
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
	if err != nil {
		return "", fmt.Errorf("sign access token: %w", err)
	}
	return signed, nil
}
