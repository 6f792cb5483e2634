// Package auth verifies bearer tokens presented by WebSocket clients.
package auth

import (
	"crypto/rsa"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// Supported signing algorithms.
const (
	AlgorithmHS256 = "HS256"
	AlgorithmRS256 = "RS256"
)

var (
	ErrMissingToken = errors.New("missing bearer token")
	ErrInvalidToken = errors.New("invalid token")
)

// Config selects how tokens are checked.
type Config struct {
	Algorithm string
	// SecretKey signs HS256 tokens.
	SecretKey string
	// PublicKeyPEM verifies RS256 tokens.
	PublicKeyPEM string
	// RequiredScope, when set, must appear in the token's scopes claim.
	RequiredScope string
}

// Claims are the parts of a verified token the bridge uses.
type Claims struct {
	Subject string
	Scopes  []string
}

// Verifier checks signed tokens.
type Verifier struct {
	config    Config
	publicKey *rsa.PublicKey
}

// NewVerifier creates a verifier for cfg.Algorithm.
func NewVerifier(cfg Config) (*Verifier, error) {
	v := &Verifier{config: cfg}

	switch cfg.Algorithm {
	case AlgorithmHS256:
		if cfg.SecretKey == "" {
			return nil, fmt.Errorf("HS256 requires secret key")
		}
	case AlgorithmRS256:
		key, err := jwt.ParseRSAPublicKeyFromPEM([]byte(cfg.PublicKeyPEM))
		if err != nil {
			return nil, fmt.Errorf("failed to load public key from PEM: %w", err)
		}
		v.publicKey = key
	default:
		return nil, fmt.Errorf("unsupported algorithm: %q", cfg.Algorithm)
	}
	return v, nil
}

// VerifyToken checks the signature, expiry and claims of tokenString.
func (v *Verifier) VerifyToken(tokenString string) (*Claims, error) {
	if strings.TrimSpace(tokenString) == "" {
		return nil, ErrMissingToken
	}

	claims := jwt.MapClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, v.keyFunc,
		jwt.WithValidMethods([]string{v.config.Algorithm}))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if !token.Valid {
		return nil, ErrInvalidToken
	}

	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return nil, fmt.Errorf("%w: missing 'sub' claim", ErrInvalidToken)
	}
	scopes, err := stringSlice(claims, "scopes")
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	if v.config.RequiredScope != "" && !hasScope(scopes, v.config.RequiredScope) {
		return nil, fmt.Errorf("%w: scope %q required", ErrInvalidToken, v.config.RequiredScope)
	}
	return &Claims{Subject: sub, Scopes: scopes}, nil
}

// VerifyRequest verifies the bearer token in r's Authorization header.
func (v *Verifier) VerifyRequest(r *http.Request) (*Claims, error) {
	token, err := BearerToken(r)
	if err != nil {
		return nil, err
	}
	return v.VerifyToken(token)
}

func (v *Verifier) keyFunc(*jwt.Token) (interface{}, error) {
	if v.config.Algorithm == AlgorithmRS256 {
		return v.publicKey, nil
	}
	return []byte(v.config.SecretKey), nil
}

// BearerToken extracts the token from an "Authorization: Bearer" header.
func BearerToken(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", ErrMissingToken
	}
	if !strings.HasPrefix(header, "Bearer ") {
		return "", fmt.Errorf("%w: invalid Authorization header format", ErrMissingToken)
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if token == "" {
		return "", ErrMissingToken
	}
	return token, nil
}

// stringSlice reads an optional string array claim.
func stringSlice(claims jwt.MapClaims, key string) ([]string, error) {
	value, ok := claims[key]
	if !ok {
		return nil, nil
	}

	switch val := value.(type) {
	case []string:
		return val, nil
	case []interface{}:
		result := make([]string, len(val))
		for i, item := range val {
			str, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("invalid %s claim: not a string", key)
			}
			result[i] = str
		}
		return result, nil
	default:
		return nil, fmt.Errorf("invalid %s claim: not a string array", key)
	}
}

func hasScope(scopes []string, want string) bool {
	for _, s := range scopes {
		if s == want {
			return true
		}
	}
	return false
}
