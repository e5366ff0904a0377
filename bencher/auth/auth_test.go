package auth_test

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/stretchr/testify/require"

	"go.bencher.dev/core/bencher/apierror"
	"go.bencher.dev/core/bencher/auth"
)

func signToken(t *testing.T, secret []byte, claims auth.Claims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(secret)
	require.NoError(t, err)
	return signed
}

func TestValidateBearer_ValidToken_ReturnsClaims(t *testing.T) {
	secret := []byte("test-secret")
	v := auth.NewValidator(secret, "")
	now := time.Now()
	raw := signToken(t, secret, auth.Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
		UserUUID: "user-1",
	})

	claims, err := v.ValidateBearer(context.Background(), "Bearer "+raw)
	require.NoError(t, err)
	require.Equal(t, "user-1", claims.UserUUID)
}

func TestValidateBearer_MissingHeader_Unauthorized(t *testing.T) {
	v := auth.NewValidator([]byte("secret"), "")
	_, err := v.ValidateBearer(context.Background(), "")
	require.Error(t, err)
	var apiErr *apierror.Error
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, apierror.Unauthorized, apiErr.Kind)
}

func TestValidateBearer_ExpiredToken_Unauthorized(t *testing.T) {
	secret := []byte("test-secret")
	v := auth.NewValidator(secret, "")
	past := time.Now().Add(-time.Hour)
	raw := signToken(t, secret, auth.Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(past),
		},
	})

	_, err := v.ValidateBearer(context.Background(), "Bearer "+raw)
	require.Error(t, err)
}

func TestValidateBearer_WrongSecret_Unauthorized(t *testing.T) {
	v := auth.NewValidator([]byte("right-secret"), "")
	raw := signToken(t, []byte("wrong-secret"), auth.Claims{
		RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))},
	})

	_, err := v.ValidateBearer(context.Background(), "Bearer "+raw)
	require.Error(t, err)
}

func TestValidatePubBearer_NoHeader_AllowsAnonymous(t *testing.T) {
	v := auth.NewValidator([]byte("secret"), "")
	claims, err := v.ValidatePubBearer(context.Background(), "")
	require.NoError(t, err)
	require.Nil(t, claims)
}

func TestValidatePubBearer_PresentHeader_StillValidated(t *testing.T) {
	v := auth.NewValidator([]byte("secret"), "")
	_, err := v.ValidatePubBearer(context.Background(), "Bearer not-a-jwt")
	require.Error(t, err)
}

func TestRunnerToken_GenerateAndValidate_RoundTrips(t *testing.T) {
	token, hash, err := auth.GenerateRunnerToken()
	require.NoError(t, err)
	require.Len(t, token, 79)
	require.True(t, auth.ValidateRunnerToken(token, hash))
}

func TestRunnerToken_WrongHash_Rejected(t *testing.T) {
	token, _, err := auth.GenerateRunnerToken()
	require.NoError(t, err)
	require.False(t, auth.ValidateRunnerToken(token, "not-the-real-hash"))
}

func TestRunnerToken_WrongLength_Rejected(t *testing.T) {
	require.False(t, auth.ValidateRunnerToken("bencher_runner_tooshort", "anyhash"))
}
