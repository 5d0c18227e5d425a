package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
)

// ExternalClaims are the claims an upstream identity provider puts in its
// tokens. Only the subject and email are trusted; role and clearance always
// come from the local user row.
type ExternalClaims struct {
	Email string `json:"email"`
	Name  string `json:"name"`
	jwt.RegisteredClaims
}

// JWKSVerifier validates RS256/ES256 tokens against a remote key set.
type JWKSVerifier struct {
	keyFn  jwt.Keyfunc
	logger zerolog.Logger
}

// NewJWKSVerifier fetches the key set once and keeps it refreshed in the
// background until ctx is cancelled.
func NewJWKSVerifier(ctx context.Context, jwksURL string, logger zerolog.Logger) (*JWKSVerifier, error) {
	if jwksURL == "" {
		return nil, errors.New("jwks url cannot be empty")
	}
	jwks, err := keyfunc.NewDefaultCtx(ctx, []string{jwksURL})
	if err != nil {
		return nil, fmt.Errorf("create jwks client: %w", err)
	}
	logger.Info().Str("jwks_url", jwksURL).Msg("jwt verifier initialized")
	return &JWKSVerifier{keyFn: jwks.Keyfunc, logger: logger}, nil
}

// NewStaticVerifier verifies against a fixed key lookup instead of a
// remote key set.
func NewStaticVerifier(keyFn jwt.Keyfunc, logger zerolog.Logger) *JWKSVerifier {
	return &JWKSVerifier{keyFn: keyFn, logger: logger}
}

func (v *JWKSVerifier) Verify(raw string) (ExternalClaims, error) {
	var claims ExternalClaims
	token, err := jwt.ParseWithClaims(raw, &claims, v.keyFn,
		jwt.WithValidMethods([]string{"RS256", "ES256"}))
	if err != nil {
		v.logger.Debug().Err(err).Msg("external token rejected")
		if errors.Is(err, jwt.ErrTokenExpired) {
			return ExternalClaims{}, ErrExpiredToken
		}
		return ExternalClaims{}, ErrInvalidToken
	}
	if !token.Valid || claims.Subject == "" || claims.Email == "" {
		return ExternalClaims{}, ErrInvalidToken
	}
	return claims, nil
}
