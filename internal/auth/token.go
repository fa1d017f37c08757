package auth

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	MethodAPIToken = "api_token"
	MethodJWT      = "jwt"

	apiTokenSubject = "api"
)

var (
	ErrNotConfigured      = errors.New("no API token or secret key configured")
	ErrMissingCredentials = errors.New("missing credentials")
	ErrInvalidCredentials = errors.New("invalid credentials")
)

// Principal is the caller a request was authenticated as
type Principal struct {
	Subject string
	Method  string
}

type VerifierOptions struct {
	// APIToken is a static token compared in constant time
	APIToken string

	// SecretKey signs and verifies HS256 bearer tokens
	SecretKey string
}

// TokenVerifier accepts either the static API token or a JWT signed with the
// secret key
type TokenVerifier struct {
	apiToken  []byte
	secretKey []byte
}

func NewTokenVerifier(opts VerifierOptions) *TokenVerifier {
	v := &TokenVerifier{}

	if opts.APIToken != "" {
		v.apiToken = []byte(opts.APIToken)
	}
	if opts.SecretKey != "" {
		v.secretKey = []byte(opts.SecretKey)
	}

	return v
}

func (v *TokenVerifier) Configured() bool {
	return len(v.apiToken) > 0 || len(v.secretKey) > 0
}

func (v *TokenVerifier) Verify(token string) (Principal, error) {
	if !v.Configured() {
		return Principal{}, ErrNotConfigured
	}

	if token == "" {
		return Principal{}, ErrMissingCredentials
	}

	if len(v.apiToken) > 0 && subtle.ConstantTimeCompare([]byte(token), v.apiToken) == 1 {
		return Principal{Subject: apiTokenSubject, Method: MethodAPIToken}, nil
	}

	if len(v.secretKey) == 0 {
		return Principal{}, ErrInvalidCredentials
	}

	claims := &jwt.RegisteredClaims{}

	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return v.secretKey, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil || !parsed.Valid {
		return Principal{}, fmt.Errorf("%w: %v", ErrInvalidCredentials, err)
	}

	if claims.Subject == "" {
		return Principal{}, fmt.Errorf("%w: token has no subject", ErrInvalidCredentials)
	}

	return Principal{Subject: claims.Subject, Method: MethodJWT}, nil
}

// IssueToken signs an HS256 token for subject valid for ttl
func (v *TokenVerifier) IssueToken(subject string, ttl time.Duration) (string, error) {
	if len(v.secretKey) == 0 {
		return "", ErrNotConfigured
	}

	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	})

	signed, err := token.SignedString(v.secretKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}

	return signed, nil
}
