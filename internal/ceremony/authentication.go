package ceremony

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"
	"github.com/google/uuid"
	"github.com/tessera-id/tessera/internal/challenge"
	"github.com/tessera-id/tessera/internal/platform/metrics"
	"github.com/tessera-id/tessera/internal/storage"
)

// AuthenticationOptionsParams is the input for an authentication start.
// Subject is optional; omitting it yields a discoverable-credential flow.
type AuthenticationOptionsParams struct {
	ClientID       int64
	RelyingPartyID string
	Subject        string
}

// AuthenticationOptions is the payload returned to the authenticating client.
type AuthenticationOptions struct {
	SessionID string
	Options   CredentialRequestOptions
}

// BeginAuthentication validates the request and generates an authentication
// challenge. The allow-list covers the subject's credentials, or every
// credential in the client's organization when no subject is given. An empty
// allow-list is valid and leaves the flow fully discoverable.
func (e *Engine) BeginAuthentication(ctx context.Context, params AuthenticationOptionsParams) (AuthenticationOptions, error) {
	rpID := normalizeRPID(params.RelyingPartyID)
	client, err := e.loadClientForRP(ctx, params.ClientID, rpID)
	if err != nil {
		return AuthenticationOptions{}, err
	}

	var allowed []storage.Credential
	if params.Subject != "" {
		allowed, err = e.credentials.ListCredentialsBySubject(ctx, params.Subject)
	} else {
		allowed, err = e.credentials.ListCredentialsByOrganization(ctx, client.OrganizationID)
	}
	if err != nil {
		return AuthenticationOptions{}, fmt.Errorf("list credentials: %w", err)
	}

	stored, err := e.challenges.Generate(ctx, challenge.GenerateParams{
		Kind:           storage.ChallengeKindAuthentication,
		Actor:          storage.ActorKindB2B,
		Subject:        params.Subject,
		RelyingPartyID: rpID,
		ClientID:       params.ClientID,
	})
	if err != nil {
		return AuthenticationOptions{}, err
	}

	return AuthenticationOptions{
		SessionID: stored.SessionID,
		Options:   buildRequestOptions(stored, allowed),
	}, nil
}

// FinishAuthenticationParams is the input for an authentication finish.
// ClientID must name the client the ceremony was begun under.
type FinishAuthenticationParams struct {
	ClientID  int64
	SessionID string
	Response  []byte
}

// FinishAuthentication verifies an assertion response against the stored
// challenge and the asserted credential. On success the stored signature
// counter is overwritten with the authenticator-reported value and the
// challenge is consumed.
func (e *Engine) FinishAuthentication(ctx context.Context, params FinishAuthenticationParams) (Result, error) {
	result, err := e.finishAuthentication(ctx, params)
	if err == nil {
		metrics.ObserveCeremony("authentication", result.OK)
	}
	return result, err
}

func (e *Engine) finishAuthentication(ctx context.Context, params FinishAuthenticationParams) (Result, error) {
	stored, ok, err := e.challenges.Peek(ctx, params.SessionID)
	if err != nil {
		return Result{}, err
	}
	if !ok {
		return failure("session_not_found"), nil
	}
	if stored.ClientID != params.ClientID {
		// A session begun under another client is invisible to this one.
		return failure("session_not_found"), nil
	}
	if !stored.ExpiresAt.After(e.clock().UTC()) {
		return failure("expired"), nil
	}
	if stored.Kind != storage.ChallengeKindAuthentication {
		return failure("wrong_type"), nil
	}

	rawID, err := assertedCredentialID(params.Response)
	if err != nil {
		return failure("credential_not_found"), nil
	}
	credentialID := encodeCredentialID(rawID)
	record, err := e.credentials.GetCredential(ctx, credentialID)
	if err != nil {
		if err == storage.ErrNotFound {
			return failure("credential_not_found"), nil
		}
		return Result{}, err
	}
	if stored.Subject != "" && stored.Subject != record.OwnerSubject {
		return failure("credential_not_found"), nil
	}

	verifier, err := e.verifier(stored.RelyingPartyID)
	if err != nil {
		return failure(err.Error()), nil
	}

	user := &ceremonyUser{
		subject:     record.OwnerSubject,
		displayName: record.OwnerSubject,
		credentials: []webauthn.Credential{storedCredential(record, rawID)},
	}
	session := webauthn.SessionData{
		Challenge: stored.Challenge,
		UserID:    []byte(record.OwnerSubject),
		Expires:   stored.ExpiresAt,
	}

	verified, err := verifier.VerifyAssertion(user, session, params.Response)
	if err != nil {
		return failure(err.Error()), nil
	}
	if verified.Authenticator.CloneWarning {
		// The reported counter did not advance. Matching upstream behavior,
		// the counter is still overwritten and the login is not rejected.
		log.Printf("clone warning for credential %s", credentialID)
	}

	now := e.clock().UTC()
	if err := e.credentials.UpdateCredentialUsage(ctx, credentialID, verified.Authenticator.SignCount, now); err != nil {
		return Result{}, fmt.Errorf("update credential usage: %w", err)
	}
	if _, err := e.challenges.Consume(ctx, params.SessionID); err != nil {
		return Result{}, fmt.Errorf("consume challenge: %w", err)
	}

	return Result{OK: true, Subject: record.OwnerSubject, CredentialID: credentialID}, nil
}

// assertedCredentialID extracts and decodes the credential id named by an
// assertion response.
func assertedCredentialID(response []byte) ([]byte, error) {
	var peek struct {
		ID    string `json:"id"`
		RawID string `json:"rawId"`
	}
	if err := json.Unmarshal(response, &peek); err != nil {
		return nil, fmt.Errorf("parse assertion response: %w", err)
	}
	encoded := peek.RawID
	if encoded == "" {
		encoded = peek.ID
	}
	if encoded == "" {
		return nil, fmt.Errorf("assertion response is missing a credential id")
	}
	decoded, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(encoded, "="))
	if err != nil {
		return nil, fmt.Errorf("decode credential id: %w", err)
	}
	return decoded, nil
}

// storedCredential rebuilds the webauthn credential from its stored state so
// the verifier can check the signature and counter.
func storedCredential(record storage.Credential, rawID []byte) webauthn.Credential {
	credential := webauthn.Credential{
		ID:        rawID,
		PublicKey: record.PublicKey,
	}
	credential.Authenticator.SignCount = record.SignCount
	if parsed, err := uuid.Parse(record.AuthenticatorGUID); err == nil {
		credential.Authenticator.AAGUID = parsed[:]
	}
	for _, transport := range record.Transports {
		credential.Transport = append(credential.Transport, protocol.AuthenticatorTransport(transport))
	}
	return credential
}
