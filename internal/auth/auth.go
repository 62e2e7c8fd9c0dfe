// Package auth issues and verifies the signed tokens residents use to
// call the API. Tokens are HS256 JWTs keyed by a shared secret taken
// from the environment; role names travel inside the token so clients
// can render role-aware UI, but authorization itself is always derived
// from the stored assignments.
package auth

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	issuer       = "uyim"
	secretEnvVar = "UYIM_AUTH_SECRET"

	// Tolerated clock skew between the issuing and validating host.
	clockSkew = 5 * time.Second
)

// ErrInvalidToken indicates the token failed validation.
var ErrInvalidToken = errors.New("invalid token")

var errMissingSecret = errors.New("auth secret is not configured")

// signingKey caches the shared secret after the first read so every
// request does not hit the environment.
type signingKey struct {
	mu     sync.Mutex
	loaded bool
	key    []byte
	err    error
}

func (s *signingKey) get() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.loaded {
		raw := strings.TrimSpace(os.Getenv(secretEnvVar))
		if raw == "" {
			s.err = errMissingSecret
		} else {
			s.key = []byte(raw)
		}
		s.loaded = true
	}
	return s.key, s.err
}

func (s *signingKey) reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loaded = false
	s.key = nil
	s.err = nil
}

var hmacKey signingKey

// ResetSecretForTests drops the cached secret so tests can swap the
// environment variable between cases.
func ResetSecretForTests() {
	hmacKey.reset()
}

// Claims is the JWT payload issued to authenticated residents.
type Claims struct {
	Roles []string `json:"roles"`
	jwt.RegisteredClaims
}

// GenerateToken signs an HS256 JWT for userID carrying the given role
// names. Roles are normalized to lower case with duplicates removed.
func GenerateToken(userID string, roles []string, ttl time.Duration) (string, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return "", errors.New("userID is required")
	}
	if ttl <= 0 {
		return "", errors.New("ttl must be greater than zero")
	}
	key, err := hmacKey.get()
	if err != nil {
		return "", err
	}

	now := time.Now().UTC()
	claims := Claims{
		Roles: normalizeRoles(roles),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        uuid.NewString(),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(key)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

var tokenParser = jwt.NewParser(
	jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
	jwt.WithIssuer(issuer),
	jwt.WithExpirationRequired(),
	jwt.WithIssuedAt(),
	jwt.WithLeeway(clockSkew),
)

// ParseAndValidate checks the signature, issuer, subject and time
// claims of a bearer token. Any defect comes back as ErrInvalidToken;
// a missing signing secret is reported as its own error.
func ParseAndValidate(token string) (*Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrInvalidToken
	}
	key, err := hmacKey.get()
	if err != nil {
		return nil, err
	}

	var claims Claims
	parsed, err := tokenParser.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return key, nil
	})
	if err != nil || !parsed.Valid {
		return nil, ErrInvalidToken
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return nil, ErrInvalidToken
	}
	if claims.IssuedAt == nil || claims.ExpiresAt == nil {
		return nil, ErrInvalidToken
	}
	if claims.ExpiresAt.Before(claims.IssuedAt.Time) {
		return nil, ErrInvalidToken
	}
	claims.Roles = normalizeRoles(claims.Roles)
	return &claims, nil
}

func normalizeRoles(roles []string) []string {
	if len(roles) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(roles))
	var out []string
	for _, role := range roles {
		role = strings.TrimSpace(strings.ToLower(role))
		if role == "" {
			continue
		}
		if _, dup := seen[role]; dup {
			continue
		}
		seen[role] = struct{}{}
		out = append(out, role)
	}
	return out
}

type userIDKey struct{}

// ContextWithUser records the authenticated user ID on the context.
func ContextWithUser(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDKey{}, strings.TrimSpace(userID))
}

// UserIDFromContext extracts the authenticated user ID, if any.
func UserIDFromContext(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(userIDKey{}).(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}
