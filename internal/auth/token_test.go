package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenVerifier_Verify(t *testing.T) {
	verifier := NewTokenVerifier(VerifierOptions{APIToken: "static-token", SecretKey: "secret"})

	valid, err := verifier.IssueToken("1", time.Hour)
	require.NoError(t, err)

	expired, err := verifier.IssueToken("1", -time.Minute)
	require.NoError(t, err)

	otherKey, err := NewTokenVerifier(VerifierOptions{SecretKey: "other"}).IssueToken("1", time.Hour)
	require.NoError(t, err)

	noExpiry, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{Subject: "1"}).SignedString([]byte("secret"))
	require.NoError(t, err)

	tests := []struct {
		name      string
		token     string
		principal Principal
		err       error
	}{
		{name: "api token", token: "static-token", principal: Principal{Subject: "api", Method: MethodAPIToken}},
		{name: "jwt", token: valid, principal: Principal{Subject: "1", Method: MethodJWT}},
		{name: "empty", token: "", err: ErrMissingCredentials},
		{name: "wrong token", token: "nope", err: ErrInvalidCredentials},
		{name: "expired", token: expired, err: ErrInvalidCredentials},
		{name: "other key", token: otherKey, err: ErrInvalidCredentials},
		{name: "no expiry", token: noExpiry, err: ErrInvalidCredentials},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			principal, err := verifier.Verify(tt.token)
			if tt.err != nil {
				assert.ErrorIs(t, err, tt.err)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.principal, principal)
		})
	}
}

func TestTokenVerifier_NotConfigured(t *testing.T) {
	verifier := NewTokenVerifier(VerifierOptions{})

	assert.False(t, verifier.Configured())

	_, err := verifier.Verify("anything")
	assert.ErrorIs(t, err, ErrNotConfigured)

	_, err = verifier.IssueToken("1", time.Hour)
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestTokenVerifier_APITokenOnly(t *testing.T) {
	verifier := NewTokenVerifier(VerifierOptions{APIToken: "static-token"})

	_, err := verifier.Verify("static-token")
	require.NoError(t, err)

	_, err = verifier.Verify("eyJhbGciOiJIUzI1NiJ9.e30.x")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}
