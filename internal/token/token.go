// Package token issues, validates, and revokes per-client signed JWTs.
package token

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/tessera-id/tessera/internal/platform/config"
	"github.com/tessera-id/tessera/internal/platform/errors"
	"github.com/tessera-id/tessera/internal/platform/metrics"
	"github.com/tessera-id/tessera/internal/storage"
)

// TTL is the lifetime of every issued token.
const TTL = time.Hour

// Config controls token issuance.
type Config struct {
	Issuer string `env:"TESSERA_TOKEN_ISSUER" envDefault:"https://tessera.local"`
}

// LoadConfigFromEnv returns token configuration with defaults.
func LoadConfigFromEnv() Config {
	var cfg Config
	if err := config.ParseEnv(&cfg); err != nil {
		return Config{Issuer: "https://tessera.local"}
	}
	if cfg.Issuer == "" {
		cfg.Issuer = "https://tessera.local"
	}
	return cfg
}

// Service signs and validates tokens with each client's own key pair.
type Service struct {
	clients storage.ClientStore
	keys    storage.KeyStore
	records storage.TokenRecordStore
	issuer  string
	clock   func() time.Time
}

// NewService builds a token service with production defaults.
func NewService(clients storage.ClientStore, keys storage.KeyStore, records storage.TokenRecordStore) *Service {
	return &Service{
		clients: clients,
		keys:    keys,
		records: records,
		issuer:  LoadConfigFromEnv().Issuer,
		clock:   time.Now,
	}
}

// GenerateKeyPair creates a fresh ed25519 signing key pair for a client.
func GenerateKeyPair(clientID int64) (storage.ClientKeyPair, error) {
	publicKey, privateKey, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return storage.ClientKeyPair{}, fmt.Errorf("generate key pair: %w", err)
	}
	return storage.ClientKeyPair{
		ClientID:   clientID,
		PublicKey:  publicKey,
		PrivateKey: privateKey,
	}, nil
}

// idClaims is the claim set of an identity token.
type idClaims struct {
	jwt.RegisteredClaims
	Nonce         string `json:"nonce,omitempty"`
	EmailVerified bool   `json:"email_verified,omitempty"`
}

// accessClaims is the claim set of an access token.
type accessClaims struct {
	jwt.RegisteredClaims
	SubjectKind    string `json:"sub_type"`
	OrganizationID string `json:"org_id"`
	ClientID       int64  `json:"client_id"`
	Scope          string `json:"scope,omitempty"`
}

// signingKey loads a client's key pair. A client without a key pair is a
// deployment misconfiguration, not a caller error.
func (s *Service) signingKey(ctx context.Context, clientID int64) (storage.ClientKeyPair, error) {
	pair, err := s.keys.GetClientKeyPair(ctx, clientID)
	if err != nil {
		if err == storage.ErrNotFound {
			return storage.ClientKeyPair{}, errors.New(errors.CodeSigningKeyMissing,
				fmt.Sprintf("client %d has no signing key pair", clientID))
		}
		return storage.ClientKeyPair{}, err
	}
	return pair, nil
}

// IssueIDToken signs an identity token with the client's private key.
func (s *Service) IssueIDToken(ctx context.Context, subject string, client storage.Client, scopes []string, nonce string) (string, error) {
	pair, err := s.signingKey(ctx, client.ID)
	if err != nil {
		return "", err
	}

	now := s.clock().UTC()
	claims := idClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    s.issuer,
			Audience:  jwt.ClaimStrings{strconv.FormatInt(client.ID, 10)},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(TTL)),
			ID:        uuid.NewString(),
		},
		Nonce: nonce,
	}
	if containsScope(scopes, "email") {
		claims.EmailVerified = true
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims).SignedString(ed25519.PrivateKey(pair.PrivateKey))
	if err != nil {
		return "", fmt.Errorf("sign id token: %w", err)
	}
	metrics.ObserveTokenIssued("id")
	return signed, nil
}

// IssueAccessToken signs an access token with the client's private key and
// records it for later revocation lookups.
func (s *Service) IssueAccessToken(ctx context.Context, subject string, subjectKind storage.ActorKind, client storage.Client, scopes []string) (string, error) {
	pair, err := s.signingKey(ctx, client.ID)
	if err != nil {
		return "", err
	}

	now := s.clock().UTC()
	expiresAt := now.Add(TTL)
	jti := uuid.NewString()
	scope := strings.Join(scopes, " ")

	claims := accessClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    s.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			ID:        jti,
		},
		SubjectKind:    string(subjectKind),
		OrganizationID: client.OrganizationID,
		ClientID:       client.ID,
		Scope:          scope,
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims).SignedString(ed25519.PrivateKey(pair.PrivateKey))
	if err != nil {
		return "", fmt.Errorf("sign access token: %w", err)
	}

	if err := s.records.PutTokenRecord(ctx, storage.TokenRecord{
		JTI:         jti,
		Subject:     subject,
		SubjectKind: subjectKind,
		ClientID:    client.ID,
		ExpiresAt:   expiresAt,
		Scopes:      scope,
	}); err != nil {
		return "", fmt.Errorf("record access token: %w", err)
	}

	metrics.ObserveTokenIssued("access")
	return signed, nil
}

func containsScope(scopes []string, want string) bool {
	for _, scope := range scopes {
		if scope == want {
			return true
		}
	}
	return false
}
