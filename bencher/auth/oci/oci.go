// Package oci implements the OCI pull/push token exchange: a short-TTL
// JWT scoped to one project's registry repository, minted at job-claim
// time (§4.8 step 3) and parsed back into its repository/actions scope
// by the registry-facing collaborator that accepts it. The API router
// has no separate token-exchange endpoint.
package oci

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"

	"go.bencher.dev/core/bencher/ambient/now"
	"go.bencher.dev/core/bencher/ambient/skerr"
	"go.bencher.dev/core/bencher/apierror"
)

// Action is a registry permission a minted token may carry.
type Action string

const (
	ActionPull Action = "pull"
	ActionPush Action = "push"
)

// Scope is a parsed `repository:<name>:<actions>` claim.
type Scope struct {
	Repository string
	Actions    []Action
}

// Claims is the payload of a minted pull/push token.
type Claims struct {
	jwt.RegisteredClaims
	Scope string `json:"scope"`
}

// Mint signs a token scoped to projectUUID's repository with the given
// actions, valid for ttl (§5's "OCI-runner=10m" for job-claim mints).
func Mint(ctx context.Context, secret []byte, projectUUID string, actions []Action, ttl time.Duration) (string, error) {
	issued := now.Now(ctx)
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(issued),
			ExpiresAt: jwt.NewNumericDate(issued.Add(ttl)),
		},
		Scope: formatScope(projectUUID, actions),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(secret)
	if err != nil {
		return "", skerr.Wrap(err)
	}
	return signed, nil
}

func formatScope(projectUUID string, actions []Action) string {
	strs := make([]string, len(actions))
	for i, a := range actions {
		strs[i] = string(a)
	}
	return fmt.Sprintf("repository:%s:%s", projectUUID, strings.Join(strs, ","))
}

// ParseScope splits a `repository:<name>:<actions>` query-parameter
// value (as sent by the `GET /v0/auth/oci/token` exchange) into its
// repository name and requested actions.
func ParseScope(raw string) (Scope, error) {
	parts := strings.SplitN(raw, ":", 3)
	if len(parts) != 3 || parts[0] != "repository" || parts[1] == "" || parts[2] == "" {
		return Scope{}, apierror.New(apierror.BadRequest, "malformed scope %q", raw)
	}
	actionStrs := strings.Split(parts[2], ",")
	actions := make([]Action, 0, len(actionStrs))
	for _, s := range actionStrs {
		switch Action(s) {
		case ActionPull, ActionPush:
			actions = append(actions, Action(s))
		default:
			return Scope{}, apierror.New(apierror.BadRequest, "unknown action %q in scope", s)
		}
	}
	return Scope{Repository: parts[1], Actions: actions}, nil
}

// Validate parses and verifies a minted token, returning its Scope.
func Validate(ctx context.Context, secret []byte, tokenString string) (Scope, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, skerr.Fmt("unexpected signing method %v", t.Header["alg"])
		}
		return secret, nil
	}, jwt.WithTimeFunc(func() time.Time { return now.Now(ctx) }))
	if err != nil || !parsed.Valid {
		return Scope{}, apierror.New(apierror.Unauthorized, "invalid or expired OCI token")
	}
	return ParseScope(claims.Scope)
}
