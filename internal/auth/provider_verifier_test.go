package auth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestProviderVerifierValidatesTokenUsingJWKS(t *testing.T) {
	privateKey, jwksServer := newJWKSFixture(t)
	defer jwksServer.Close()

	now := time.Now().UTC()
	claims := jwt.MapClaims{
		"aud":     "test-client",
		"iss":     "https://accounts.example.com",
		"sub":     "user-123",
		"email":   "shopper@example.com",
		"name":    "Shopper One",
		"picture": "https://img.example.com/shopper.png",
		"exp":     now.Add(5 * time.Minute).Unix(),
		"iat":     now.Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = "test-key"
	signedToken, err := token.SignedString(privateKey)
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}

	verifier, err := NewProviderVerifier(ProviderVerifierConfig{
		Audience:       "test-client",
		JWKSURL:        jwksServer.URL,
		AllowedIssuers: []string{"https://accounts.example.com"},
		HTTPClient:     jwksServer.Client(),
	})
	if err != nil {
		t.Fatalf("unexpected constructor error: %v", err)
	}

	verified, err := verifier.Verify(context.Background(), signedToken)
	if err != nil {
		t.Fatalf("expected verification to succeed: %v", err)
	}

	if verified.Subject != "user-123" {
		t.Fatalf("unexpected subject %s", verified.Subject)
	}
	if verified.Email != "shopper@example.com" {
		t.Fatalf("unexpected email %s", verified.Email)
	}
	if verified.Name != "Shopper One" {
		t.Fatalf("unexpected name %s", verified.Name)
	}
}

func TestProviderVerifierRejectsUntrustedIssuer(t *testing.T) {
	privateKey, jwksServer := newJWKSFixture(t)
	defer jwksServer.Close()

	now := time.Now().UTC()
	claims := jwt.MapClaims{
		"aud": "test-client",
		"iss": "https://evil.example.com",
		"sub": "user-123",
		"exp": now.Add(5 * time.Minute).Unix(),
		"iat": now.Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = "test-key"
	signedToken, err := token.SignedString(privateKey)
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}

	verifier, err := NewProviderVerifier(ProviderVerifierConfig{
		Audience:       "test-client",
		JWKSURL:        jwksServer.URL,
		AllowedIssuers: []string{"https://accounts.example.com"},
		HTTPClient:     jwksServer.Client(),
	})
	if err != nil {
		t.Fatalf("unexpected constructor error: %v", err)
	}

	if _, err := verifier.Verify(context.Background(), signedToken); err == nil {
		t.Fatalf("expected verification to fail for untrusted issuer")
	}
}

func TestNewProviderVerifierValidatesConfig(t *testing.T) {
	_, err := NewProviderVerifier(ProviderVerifierConfig{
		JWKSURL:        "https://example.com/jwks",
		AllowedIssuers: []string{"https://accounts.example.com"},
	})
	if !errors.Is(err, ErrInvalidProviderConfig) {
		t.Fatalf("expected invalid config error for missing audience, got %v", err)
	}

	_, err = NewProviderVerifier(ProviderVerifierConfig{
		Audience:       "test-client",
		JWKSURL:        " ",
		AllowedIssuers: []string{"https://accounts.example.com"},
	})
	if !errors.Is(err, ErrInvalidProviderConfig) {
		t.Fatalf("expected invalid config error for missing jwks url, got %v", err)
	}

	_, err = NewProviderVerifier(ProviderVerifierConfig{
		Audience:       "test-client",
		JWKSURL:        "https://example.com/jwks",
		AllowedIssuers: []string{"", "  "},
	})
	if !errors.Is(err, ErrInvalidProviderConfig) {
		t.Fatalf("expected invalid config error for empty issuer list, got %v", err)
	}
}

func newJWKSFixture(t *testing.T) (*rsa.PrivateKey, *httptest.Server) {
	t.Helper()

	privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}

	publicKey := privateKey.PublicKey
	jwksResponse := map[string]any{
		"keys": []any{map[string]string{
			"kty": "RSA",
			"alg": "RS256",
			"kid": "test-key",
			"use": "sig",
			"n":   base64.RawURLEncoding.EncodeToString(publicKey.N.Bytes()),
			"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(publicKey.E)).Bytes()),
		}},
	}

	jwksServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(jwksResponse)
	}))

	return privateKey, jwksServer
}
