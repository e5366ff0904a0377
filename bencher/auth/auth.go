// Package auth implements §6's authentication surface: bearer-JWT
// validation for user-facing endpoints and opaque bearer tokens for
// runners. Full user/auth flows (signup, password reset, OAuth) are out
// of scope; this package only validates what arrives on the wire.
package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"

	"go.bencher.dev/core/bencher/ambient/now"
	"go.bencher.dev/core/bencher/ambient/skerr"
	"go.bencher.dev/core/bencher/apierror"
)

// Claims is the JWT payload §6 expects on every authenticated request.
type Claims struct {
	jwt.RegisteredClaims
	UserUUID string `json:"user_uuid"`
}

// Validator validates Authorization: Bearer <jwt> headers against one
// HS256 server secret.
type Validator struct {
	secret []byte
	issuer string
}

// NewValidator constructs a Validator. issuer, if non-empty, is checked
// against each token's iss claim.
func NewValidator(secret []byte, issuer string) *Validator {
	return &Validator{secret: secret, issuer: issuer}
}

// ValidateBearer requires header to be a well-formed, unexpired,
// correctly-signed "Bearer <jwt>" and returns its Claims. Any other
// shape is apierror.Unauthorized.
func (v *Validator) ValidateBearer(ctx context.Context, header string) (*Claims, error) {
	raw, ok := bearerToken(header)
	if !ok {
		return nil, apierror.New(apierror.Unauthorized, "missing or malformed bearer token")
	}
	return v.parse(ctx, raw)
}

// ValidatePubBearer implements §6's PubBearerToken flavor: an absent
// Authorization header is allowed (nil, nil, for anonymous public-project
// reads), but a present one must still be valid.
func (v *Validator) ValidatePubBearer(ctx context.Context, header string) (*Claims, error) {
	if strings.TrimSpace(header) == "" {
		return nil, nil
	}
	return v.ValidateBearer(ctx, header)
}

func bearerToken(header string) (string, bool) {
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, prefix))
	if token == "" {
		return "", false
	}
	return token, true
}

func (v *Validator) parse(ctx context.Context, raw string) (*Claims, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, skerr.Fmt("unexpected signing method %v", t.Header["alg"])
		}
		return v.secret, nil
	}, jwt.WithTimeFunc(func() time.Time { return now.Now(ctx) }))
	if err != nil || !parsed.Valid {
		return nil, apierror.New(apierror.Unauthorized, "invalid or expired token")
	}
	if v.issuer != "" && claims.Issuer != v.issuer {
		return nil, apierror.New(apierror.Unauthorized, "invalid token issuer")
	}
	return claims, nil
}

const (
	runnerTokenPrefix = "bencher_runner_"
	runnerTokenLength = 79 // len(runnerTokenPrefix) + 64 hex chars
)

// GenerateRunnerToken mints a new per-runner bearer token and the hash
// that should be persisted in runners.token_hash. The plaintext token is
// returned exactly once and never stored.
func GenerateRunnerToken() (token, tokenHash string, err error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", "", skerr.Wrap(err)
	}
	token = runnerTokenPrefix + hex.EncodeToString(raw)
	return token, HashRunnerToken(token), nil
}

// HashRunnerToken returns the stable digest of token stored in
// runners.token_hash, so the plaintext token is never persisted.
func HashRunnerToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// ValidateRunnerToken reports whether token is well-formed and hashes to
// storedHash, in constant time with respect to the comparison.
func ValidateRunnerToken(token, storedHash string) bool {
	if len(token) != runnerTokenLength || !strings.HasPrefix(token, runnerTokenPrefix) {
		return false
	}
	computed := HashRunnerToken(token)
	return subtle.ConstantTimeCompare([]byte(computed), []byte(storedHash)) == 1
}
