package auth

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const defaultKeyCacheTTL = 10 * time.Minute

var (
	// ErrInvalidProviderConfig indicates the verifier was constructed without required settings.
	ErrInvalidProviderConfig = errors.New("auth: invalid provider verifier config")

	errMissingIDToken   = errors.New("id token must not be empty")
	errMissingKeyID     = errors.New("token missing key identifier")
	errSigningKeyAbsent = errors.New("signing key not found in provider key set")
	errUntrustedIssuer  = errors.New("token issuer not allowed")
	errMissingSubject   = errors.New("token missing subject claim")
)

// ProviderVerifierConfig bundles configuration for identity-provider token checks.
type ProviderVerifierConfig struct {
	Audience       string
	JWKSURL        string
	AllowedIssuers []string
	HTTPClient     *http.Client
	CacheTTL       time.Duration
	Clock          func() time.Time
}

// ProviderClaims exposes the validated profile claims from a provider ID token.
type ProviderClaims struct {
	Subject string
	Email   string
	Name    string
	Picture string
}

type idTokenClaims struct {
	Email   string `json:"email"`
	Name    string `json:"name"`
	Picture string `json:"picture"`
	jwt.RegisteredClaims
}

// ProviderVerifier verifies identity-provider ID tokens offline using cached signing keys.
type ProviderVerifier struct {
	audience   string
	jwksURL    string
	issuers    map[string]struct{}
	httpClient *http.Client
	clock      func() time.Time

	mu        sync.RWMutex
	keys      map[string]*rsa.PublicKey
	expiresAt time.Time
	cacheTTL  time.Duration
}

// NewProviderVerifier constructs a verifier with validated configuration.
func NewProviderVerifier(cfg ProviderVerifierConfig) (*ProviderVerifier, error) {
	audience := strings.TrimSpace(cfg.Audience)
	if audience == "" {
		return nil, fmt.Errorf("%w: audience required", ErrInvalidProviderConfig)
	}
	jwksURL := strings.TrimSpace(cfg.JWKSURL)
	if jwksURL == "" {
		return nil, fmt.Errorf("%w: jwks url required", ErrInvalidProviderConfig)
	}

	issuers := make(map[string]struct{}, len(cfg.AllowedIssuers))
	for _, issuer := range cfg.AllowedIssuers {
		if trimmed := strings.TrimSpace(issuer); trimmed != "" {
			issuers[trimmed] = struct{}{}
		}
	}
	if len(issuers) == 0 {
		return nil, fmt.Errorf("%w: at least one allowed issuer required", ErrInvalidProviderConfig)
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	cacheTTL := cfg.CacheTTL
	if cacheTTL <= 0 {
		cacheTTL = defaultKeyCacheTTL
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	return &ProviderVerifier{
		audience:   audience,
		jwksURL:    jwksURL,
		issuers:    issuers,
		httpClient: httpClient,
		clock:      clock,
		cacheTTL:   cacheTTL,
	}, nil
}

// Verify validates the provided ID token and returns its profile claims.
func (v *ProviderVerifier) Verify(ctx context.Context, rawToken string) (ProviderClaims, error) {
	if strings.TrimSpace(rawToken) == "" {
		return ProviderClaims{}, errMissingIDToken
	}

	claims := &idTokenClaims{}
	_, err := jwt.ParseWithClaims(
		rawToken,
		claims,
		func(token *jwt.Token) (interface{}, error) {
			keyID, _ := token.Header["kid"].(string)
			if keyID == "" {
				return nil, errMissingKeyID
			}
			return v.lookupKey(ctx, keyID)
		},
		jwt.WithAudience(v.audience),
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithTimeFunc(v.clock),
	)
	if err != nil {
		return ProviderClaims{}, err
	}

	if _, allowed := v.issuers[claims.Issuer]; !allowed {
		return ProviderClaims{}, errUntrustedIssuer
	}
	if claims.Subject == "" {
		return ProviderClaims{}, errMissingSubject
	}

	return ProviderClaims{
		Subject: claims.Subject,
		Email:   claims.Email,
		Name:    claims.Name,
		Picture: claims.Picture,
	}, nil
}

func (v *ProviderVerifier) lookupKey(ctx context.Context, keyID string) (*rsa.PublicKey, error) {
	now := v.clock()

	v.mu.RLock()
	key, fresh := v.keys[keyID], now.Before(v.expiresAt)
	v.mu.RUnlock()
	if fresh && key != nil {
		return key, nil
	}

	if err := v.refreshKeys(ctx, now); err != nil {
		return nil, err
	}

	v.mu.RLock()
	key = v.keys[keyID]
	v.mu.RUnlock()
	if key == nil {
		return nil, errSigningKeyAbsent
	}
	return key, nil
}

func (v *ProviderVerifier) refreshKeys(ctx context.Context, fetchedAt time.Time) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.jwksURL, nil)
	if err != nil {
		return err
	}

	response, err := v.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusOK {
		return fmt.Errorf("jwks request returned status %d", response.StatusCode)
	}

	var document struct {
		Keys []jsonWebKey `json:"keys"`
	}
	if err := json.NewDecoder(response.Body).Decode(&document); err != nil {
		return err
	}

	keys := make(map[string]*rsa.PublicKey, len(document.Keys))
	for _, key := range document.Keys {
		if key.KeyType != "RSA" || key.Use != "sig" {
			continue
		}
		publicKey, err := key.rsaPublicKey()
		if err != nil {
			continue
		}
		keys[key.KeyID] = publicKey
	}
	if len(keys) == 0 {
		return errors.New("jwks document contained no usable keys")
	}

	v.mu.Lock()
	v.keys = keys
	v.expiresAt = fetchedAt.Add(v.cacheTTL)
	v.mu.Unlock()
	return nil
}

type jsonWebKey struct {
	KeyType  string `json:"kty"`
	KeyID    string `json:"kid"`
	Use      string `json:"use"`
	Modulus  string `json:"n"`
	Exponent string `json:"e"`
}

func (k jsonWebKey) rsaPublicKey() (*rsa.PublicKey, error) {
	modulusBytes, err := base64.RawURLEncoding.DecodeString(k.Modulus)
	if err != nil {
		return nil, fmt.Errorf("invalid modulus encoding: %w", err)
	}
	exponentBytes, err := base64.RawURLEncoding.DecodeString(k.Exponent)
	if err != nil {
		return nil, fmt.Errorf("invalid exponent encoding: %w", err)
	}

	exponent := 0
	for _, b := range exponentBytes {
		exponent = exponent<<8 + int(b)
	}
	if exponent == 0 {
		return nil, errors.New("invalid exponent value")
	}

	return &rsa.PublicKey{
		N: new(big.Int).SetBytes(modulusBytes),
		E: exponent,
	}, nil
}
