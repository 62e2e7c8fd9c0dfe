package auth

import (
	"context"
	"errors"
	"slices"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

func setSecret(t *testing.T, value string) {
	t.Helper()
	ResetSecretForTests()
	t.Setenv(secretEnvVar, value)
	t.Cleanup(ResetSecretForTests)
}

func TestGenerateAndValidate(t *testing.T) {
	setSecret(t, "unit-test-secret")

	token, err := GenerateToken("user-42", []string{"Admin", "resident", "admin", " "}, 30*time.Minute)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}

	claims, err := ParseAndValidate(token)
	if err != nil {
		t.Fatalf("ParseAndValidate: %v", err)
	}
	if claims.Subject != "user-42" {
		t.Fatalf("unexpected subject: %s", claims.Subject)
	}
	if claims.Issuer != issuer {
		t.Fatalf("unexpected issuer: %s", claims.Issuer)
	}
	if len(claims.Roles) != 2 || !slices.Contains(claims.Roles, "admin") || !slices.Contains(claims.Roles, "resident") {
		t.Fatalf("roles were not normalized: %v", claims.Roles)
	}
	if claims.ID == "" {
		t.Fatalf("expected a token id")
	}
	if !claims.ExpiresAt.After(time.Now()) {
		t.Fatalf("unexpected expiry: %v", claims.ExpiresAt)
	}
}

func TestGenerateTokenRejectsBadInput(t *testing.T) {
	setSecret(t, "unit-test-secret")

	if _, err := GenerateToken("  ", nil, time.Hour); err == nil {
		t.Fatalf("expected error for blank user id")
	}
	if _, err := GenerateToken("user-42", nil, 0); err == nil {
		t.Fatalf("expected error for non-positive ttl")
	}
}

func TestMissingSecret(t *testing.T) {
	setSecret(t, "")

	if _, err := GenerateToken("user-42", nil, time.Hour); !errors.Is(err, errMissingSecret) {
		t.Fatalf("expected missing secret error, got %v", err)
	}
	if _, err := ParseAndValidate("whatever"); !errors.Is(err, errMissingSecret) {
		t.Fatalf("expected missing secret error, got %v", err)
	}
}

func TestParseRejectsTamperedTokens(t *testing.T) {
	setSecret(t, "unit-test-secret")

	token, err := GenerateToken("user-42", []string{"resident"}, time.Hour)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}

	for name, tok := range map[string]string{
		"empty":   "",
		"garbage": "not.a.jwt",
		"flipped": token[:len(token)-2] + "xx",
	} {
		if _, err := ParseAndValidate(tok); !errors.Is(err, ErrInvalidToken) {
			t.Fatalf("%s: expected ErrInvalidToken, got %v", name, err)
		}
	}

	ResetSecretForTests()
	t.Setenv(secretEnvVar, "a-different-secret")
	if _, err := ParseAndValidate(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected signature mismatch, got %v", err)
	}
}

func signWith(t *testing.T, key string, claims Claims) string {
	t.Helper()
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(key))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return signed
}

func TestParseRejectsDefectiveClaims(t *testing.T) {
	const key = "unit-test-secret"
	setSecret(t, key)

	now := time.Now().UTC()
	base := func() jwt.RegisteredClaims {
		return jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   "user-42",
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
			ID:        uuid.NewString(),
		}
	}

	expired := base()
	expired.IssuedAt = jwt.NewNumericDate(now.Add(-2 * time.Hour))
	expired.ExpiresAt = jwt.NewNumericDate(now.Add(-time.Hour))

	wrongIssuer := base()
	wrongIssuer.Issuer = "somebody-else"

	noSubject := base()
	noSubject.Subject = ""

	noExpiry := base()
	noExpiry.ExpiresAt = nil

	notYetValid := base()
	notYetValid.NotBefore = jwt.NewNumericDate(now.Add(time.Hour))

	for name, reg := range map[string]jwt.RegisteredClaims{
		"expired":       expired,
		"wrong issuer":  wrongIssuer,
		"no subject":    noSubject,
		"no expiry":     noExpiry,
		"not yet valid": notYetValid,
	} {
		tok := signWith(t, key, Claims{RegisteredClaims: reg})
		if _, err := ParseAndValidate(tok); !errors.Is(err, ErrInvalidToken) {
			t.Fatalf("%s: expected ErrInvalidToken, got %v", name, err)
		}
	}
}

func TestContextCarriesUserID(t *testing.T) {
	ctx := context.Background()
	if id, ok := UserIDFromContext(ctx); ok || id != "" {
		t.Fatalf("unexpected user id on empty context: %q", id)
	}

	ctx = ContextWithUser(ctx, " user-7 ")
	id, ok := UserIDFromContext(ctx)
	if !ok || id != "user-7" {
		t.Fatalf("unexpected user id: %q, ok=%v", id, ok)
	}
}

func TestPasswordHashAndVerify(t *testing.T) {
	hash, err := HashPassword("correct horse battery")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	if hash == "correct horse battery" {
		t.Fatalf("hash must not equal the password")
	}
	if err := VerifyPassword(hash, "correct horse battery"); err != nil {
		t.Fatalf("expected matching password to verify, got %v", err)
	}
	if err := VerifyPassword(hash, "wrong password"); err == nil {
		t.Fatalf("expected mismatch to fail")
	}
}
