package auth

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
)

func TestIssueAndParseToken(t *testing.T) {
	secret := []byte("secret")
	issued, err := IssueToken(secret, NewClaims("user-1", "Avery", "editor", "confidential", "jti-1", time.Now(), time.Hour))
	if err != nil {
		t.Fatalf("IssueToken() error = %v", err)
	}
	claims, err := ParseToken(secret, issued)
	if err != nil {
		t.Fatalf("ParseToken() error = %v", err)
	}
	if claims.Subject != "user-1" || claims.Name != "Avery" || claims.Role != "editor" || claims.Clearance != "confidential" || claims.ID != "jti-1" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
}

func TestParseTokenRejectsExpired(t *testing.T) {
	secret := []byte("secret")
	issued, err := IssueToken(secret, NewClaims("user-1", "Avery", "editor", "", "jti-1", time.Now().Add(-2*time.Hour), time.Hour))
	if err != nil {
		t.Fatalf("IssueToken() error = %v", err)
	}
	if _, err := ParseToken(secret, issued); !errors.Is(err, ErrExpiredToken) {
		t.Fatalf("ParseToken() error = %v, want ErrExpiredToken", err)
	}
}

func TestParseTokenRejectsWrongSecretAndMissingIdentity(t *testing.T) {
	issued, err := IssueToken([]byte("secret"), NewClaims("user-1", "Avery", "editor", "", "jti-1", time.Now(), time.Hour))
	if err != nil {
		t.Fatalf("IssueToken() error = %v", err)
	}
	if _, err := ParseToken([]byte("other"), issued); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("wrong secret error = %v", err)
	}

	anonymous, err := IssueToken([]byte("secret"), NewClaims("user-1", "", "editor", "", "jti-2", time.Now(), time.Hour))
	if err != nil {
		t.Fatalf("IssueToken() error = %v", err)
	}
	if _, err := ParseToken([]byte("secret"), anonymous); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("missing name error = %v", err)
	}

	if _, err := ParseToken([]byte("secret"), "not-a-token"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("garbage error = %v", err)
	}
}

func TestJWKSVerifier(t *testing.T) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKey() error = %v", err)
	}
	verifier := NewStaticVerifier(func(token *jwt.Token) (any, error) {
		if token.Header["kid"] != "k1" {
			return nil, errors.New("unknown kid")
		}
		return &key.PublicKey, nil
	}, zerolog.Nop())

	sign := func(claims ExternalClaims, method jwt.SigningMethod, signingKey any) string {
		token := jwt.NewWithClaims(method, claims)
		token.Header["kid"] = "k1"
		raw, err := token.SignedString(signingKey)
		if err != nil {
			t.Fatalf("SignedString() error = %v", err)
		}
		return raw
	}
	valid := ExternalClaims{
		Email: "ana@example.org",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "ext-1",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}

	claims, err := verifier.Verify(sign(valid, jwt.SigningMethodES256, key))
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if claims.Subject != "ext-1" || claims.Email != "ana@example.org" {
		t.Fatalf("unexpected claims: %+v", claims)
	}

	if _, err := verifier.Verify(sign(valid, jwt.SigningMethodHS256, []byte("secret"))); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("HS256 token error = %v, want ErrInvalidToken", err)
	}

	expired := valid
	expired.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Minute))
	if _, err := verifier.Verify(sign(expired, jwt.SigningMethodES256, key)); !errors.Is(err, ErrExpiredToken) {
		t.Fatalf("expired token error = %v, want ErrExpiredToken", err)
	}

	noEmail := valid
	noEmail.Email = ""
	if _, err := verifier.Verify(sign(noEmail, jwt.SigningMethodES256, key)); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("token without email error = %v, want ErrInvalidToken", err)
	}
}

func TestHashTokenIsStable(t *testing.T) {
	if HashToken("abc") != HashToken("abc") || HashToken("abc") == HashToken("abd") {
		t.Fatal("HashToken must differ for distinct inputs")
	}
	if len(HashToken("abc")) != 64 {
		t.Fatalf("HashToken length = %d", len(HashToken("abc")))
	}
}
