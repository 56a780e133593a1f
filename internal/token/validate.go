package token

import (
	"context"
	"crypto/ed25519"

	"github.com/golang-jwt/jwt/v5"
	"github.com/tessera-id/tessera/internal/platform/errors"
	"github.com/tessera-id/tessera/internal/platform/metrics"
	"github.com/tessera-id/tessera/internal/storage"
)

// Validation is the outcome of an access token validation. An invalid token
// is a value, not an error; the error channel carries only store faults.
type Validation struct {
	Valid          bool
	Subject        string
	SubjectKind    storage.ActorKind
	ClientID       int64
	OrganizationID string
	JTI            string
	Scopes         string
}

func invalid() Validation {
	metrics.ObserveTokenValidation(false)
	return Validation{}
}

// ValidateAccessToken runs the validation pipeline: the unverified client_id
// claim only directs the key lookup; the signature check against that
// client's public key is the actual authority. A forged client_id therefore
// cannot borrow another tenant's validity.
func (s *Service) ValidateAccessToken(ctx context.Context, raw string) (Validation, error) {
	claims := &accessClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(raw, claims); err != nil {
		return invalid(), nil
	}
	if claims.ClientID <= 0 {
		return invalid(), nil
	}

	client, err := s.clients.GetClient(ctx, claims.ClientID)
	if err != nil {
		if err == storage.ErrNotFound {
			return invalid(), nil
		}
		return Validation{}, err
	}

	pair, err := s.keys.GetClientKeyPair(ctx, client.ID)
	if err != nil {
		if err == storage.ErrNotFound {
			return invalid(), nil
		}
		return Validation{}, err
	}

	verified := &accessClaims{}
	_, err = jwt.ParseWithClaims(raw, verified, func(token *jwt.Token) (any, error) {
		return ed25519.PublicKey(pair.PublicKey), nil
	},
		jwt.WithValidMethods([]string{"EdDSA"}),
		jwt.WithIssuer(s.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.clock),
	)
	if err != nil {
		return invalid(), nil
	}

	if verified.ID == "" {
		return invalid(), nil
	}
	record, err := s.records.GetTokenRecord(ctx, verified.ID)
	if err != nil && err != storage.ErrNotFound {
		return Validation{}, err
	}
	if err == nil && record.IsRevoked {
		return invalid(), nil
	}

	metrics.ObserveTokenValidation(true)
	return Validation{
		Valid:          true,
		Subject:        verified.Subject,
		SubjectKind:    storage.ActorKind(verified.SubjectKind),
		ClientID:       verified.ClientID,
		OrganizationID: client.OrganizationID,
		JTI:            verified.ID,
		Scopes:         verified.Scope,
	}, nil
}

// RevokeAccessToken marks the token's record revoked. Only the jti claim is
// read; revocation is an administrative action on a token the server already
// possesses, so the signature is not re-checked. Idempotent: revoking twice
// still reports true.
func (s *Service) RevokeAccessToken(ctx context.Context, raw string) (bool, error) {
	claims := &accessClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(raw, claims); err != nil {
		return false, errors.Wrap(errors.CodeTokenInvalid, "token is not parsable", err)
	}
	if claims.ID == "" {
		return false, errors.New(errors.CodeTokenInvalid, "token jti is missing")
	}
	return s.records.RevokeTokenRecord(ctx, claims.ID, s.clock().UTC())
}

// ValidateIDToken validates an identity token against one explicitly-named
// client's key. Used where the caller already knows which client issued the
// token.
func (s *Service) ValidateIDToken(ctx context.Context, raw string, clientID int64) (string, bool, error) {
	pair, err := s.keys.GetClientKeyPair(ctx, clientID)
	if err != nil {
		if err == storage.ErrNotFound {
			return "", false, nil
		}
		return "", false, err
	}

	claims := &idClaims{}
	_, err = jwt.ParseWithClaims(raw, claims, func(token *jwt.Token) (any, error) {
		return ed25519.PublicKey(pair.PublicKey), nil
	},
		jwt.WithValidMethods([]string{"EdDSA"}),
		jwt.WithIssuer(s.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.clock),
	)
	if err != nil {
		return "", false, nil
	}
	return claims.Subject, true, nil
}
