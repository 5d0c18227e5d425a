// Package auth issues and verifies the bearer tokens carried by API calls.
package auth

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims identify the caller. Role and Clearance are copied from the user row
// at issue time; the API re-reads the user for authorization decisions.
type Claims struct {
	Name      string `json:"name"`
	Role      string `json:"role"`
	Clearance string `json:"clearance,omitempty"`
	jwt.RegisteredClaims
}

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("expired token")
)

const issuer = "sgid"

// NewClaims fills the registered claims for an access token.
func NewClaims(userID, name, role, clearance, jti string, now time.Time, ttl time.Duration) Claims {
	return Claims{
		Name:      name,
		Role:      role,
		Clearance: clearance,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   userID,
			ID:        jti,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
}

func IssueToken(secret []byte, claims Claims) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

func ParseToken(secret []byte, raw string) (Claims, error) {
	var claims Claims
	_, err := jwt.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) {
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithIssuer(issuer))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Claims{}, ErrExpiredToken
		}
		return Claims{}, ErrInvalidToken
	}
	if err := requireIdentity(claims); err != nil {
		return Claims{}, err
	}
	return claims, nil
}

func requireIdentity(claims Claims) error {
	if claims.Subject == "" || claims.Name == "" || claims.ID == "" || claims.ExpiresAt == nil {
		return ErrInvalidToken
	}
	return nil
}

func HashToken(value string) string {
	sum := sha256.Sum256([]byte(value))
	return fmt.Sprintf("%x", sum)
}
