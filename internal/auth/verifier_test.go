package auth

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const testSecret = "test-secret-key"

func signHS256(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("Failed to sign token: %v", err)
	}
	return s
}

func TestNewVerifier(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr bool
	}{
		{"hs256", Config{Algorithm: AlgorithmHS256, SecretKey: testSecret}, false},
		{"hs256 without secret", Config{Algorithm: AlgorithmHS256}, true},
		{"rs256 bad pem", Config{Algorithm: AlgorithmRS256, PublicKeyPEM: "nope"}, true},
		{"unknown algorithm", Config{Algorithm: "none"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewVerifier(tt.config)
			if (err != nil) != tt.wantErr {
				t.Errorf("NewVerifier() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestVerifyHS256Token(t *testing.T) {
	verifier, err := NewVerifier(Config{Algorithm: AlgorithmHS256, SecretKey: testSecret, RequiredScope: "control"})
	if err != nil {
		t.Fatalf("Failed to create verifier: %v", err)
	}

	token := signHS256(t, jwt.MapClaims{
		"sub":    "bench-1",
		"scopes": []string{"read", "control"},
		"exp":    time.Now().Add(time.Hour).Unix(),
	})

	claims, err := verifier.VerifyToken(token)
	if err != nil {
		t.Fatalf("VerifyToken() error = %v", err)
	}
	if claims.Subject != "bench-1" {
		t.Errorf("Expected subject 'bench-1', got '%s'", claims.Subject)
	}
	if len(claims.Scopes) != 2 {
		t.Errorf("Expected 2 scopes, got %v", claims.Scopes)
	}
}

func TestVerifyRS256Token(t *testing.T) {
	privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("Failed to generate RSA key: %v", err)
	}
	der, err := x509.MarshalPKIXPublicKey(&privateKey.PublicKey)
	if err != nil {
		t.Fatalf("Failed to marshal public key: %v", err)
	}
	publicKeyPEM := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})

	verifier, err := NewVerifier(Config{Algorithm: AlgorithmRS256, PublicKeyPEM: string(publicKeyPEM)})
	if err != nil {
		t.Fatalf("Failed to create verifier: %v", err)
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodRS256, jwt.MapClaims{
		"sub": "bench-2",
		"exp": time.Now().Add(time.Hour).Unix(),
	}).SignedString(privateKey)
	if err != nil {
		t.Fatalf("Failed to sign token: %v", err)
	}

	claims, err := verifier.VerifyToken(token)
	if err != nil {
		t.Fatalf("VerifyToken() error = %v", err)
	}
	if claims.Subject != "bench-2" {
		t.Errorf("Expected subject 'bench-2', got '%s'", claims.Subject)
	}

	// An HS256 token must not be accepted by an RS256 verifier.
	if _, err := verifier.VerifyToken(signHS256(t, jwt.MapClaims{"sub": "x"})); err == nil {
		t.Error("Expected HS256 token to be rejected")
	}
}

func TestVerifyTokenErrors(t *testing.T) {
	verifier, err := NewVerifier(Config{Algorithm: AlgorithmHS256, SecretKey: testSecret, RequiredScope: "control"})
	if err != nil {
		t.Fatalf("Failed to create verifier: %v", err)
	}

	wrongKey, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "x", "scopes": []string{"control"},
	}).SignedString([]byte("other-secret"))

	tests := []struct {
		name  string
		token string
		want  error
	}{
		{"empty", "", ErrMissingToken},
		{"garbage", "not.a.token", ErrInvalidToken},
		{"wrong key", wrongKey, ErrInvalidToken},
		{"expired", signHS256(t, jwt.MapClaims{
			"sub": "x", "scopes": []string{"control"},
			"exp": time.Now().Add(-time.Hour).Unix(),
		}), ErrInvalidToken},
		{"no subject", signHS256(t, jwt.MapClaims{"scopes": []string{"control"}}), ErrInvalidToken},
		{"missing scope", signHS256(t, jwt.MapClaims{"sub": "x", "scopes": []string{"read"}}), ErrInvalidToken},
		{"bad scopes claim", signHS256(t, jwt.MapClaims{"sub": "x", "scopes": "control"}), ErrInvalidToken},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := verifier.VerifyToken(tt.token)
			if !errors.Is(err, tt.want) {
				t.Errorf("VerifyToken() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestBearerToken(t *testing.T) {
	tests := []struct {
		header  string
		want    string
		wantErr bool
	}{
		{"Bearer abc", "abc", false},
		{"", "", true},
		{"Basic abc", "", true},
		{"Bearer ", "", true},
	}

	for _, tt := range tests {
		r := httptest.NewRequest("GET", "/scpi", nil)
		if tt.header != "" {
			r.Header.Set("Authorization", tt.header)
		}
		got, err := BearerToken(r)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("BearerToken(%q) = %q, %v", tt.header, got, err)
		}
	}
}

func TestVerifyRequest(t *testing.T) {
	verifier, err := NewVerifier(Config{Algorithm: AlgorithmHS256, SecretKey: testSecret})
	if err != nil {
		t.Fatalf("Failed to create verifier: %v", err)
	}

	r := httptest.NewRequest("GET", "/scpi", nil)
	if _, err := verifier.VerifyRequest(r); !errors.Is(err, ErrMissingToken) {
		t.Errorf("Expected ErrMissingToken, got %v", err)
	}

	r.Header.Set("Authorization", "Bearer "+signHS256(t, jwt.MapClaims{"sub": "bench-3"}))
	claims, err := verifier.VerifyRequest(r)
	if err != nil {
		t.Fatalf("VerifyRequest() error = %v", err)
	}
	if claims.Subject != "bench-3" {
		t.Errorf("Expected subject 'bench-3', got '%s'", claims.Subject)
	}
}
