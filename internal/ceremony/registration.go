package ceremony

import (
	"context"
	"encoding/base64"
	"fmt"

	"github.com/go-webauthn/webauthn/webauthn"
	"github.com/google/uuid"
	"github.com/tessera-id/tessera/internal/challenge"
	"github.com/tessera-id/tessera/internal/platform/metrics"
	"github.com/tessera-id/tessera/internal/storage"
)

// RegistrationOptionsParams is the input for a registration ceremony start.
type RegistrationOptionsParams struct {
	ClientID       int64
	RelyingPartyID string
	Subject        string
	DisplayName    string
}

// RegistrationOptions is the payload returned to the registering client.
type RegistrationOptions struct {
	SessionID   string
	Options     CredentialCreationOptions
	Provisioned bool
}

// BeginRegistration validates the request, provisions the subject when it is
// unknown, and generates a registration challenge. The returned options are
// built from that single stored challenge so the verify step can reconstruct
// the exact ceremony.
func (e *Engine) BeginRegistration(ctx context.Context, params RegistrationOptionsParams) (RegistrationOptions, error) {
	if err := validateSubject(params.Subject); err != nil {
		return RegistrationOptions{}, err
	}
	rpID := normalizeRPID(params.RelyingPartyID)
	client, err := e.loadClientForRP(ctx, params.ClientID, rpID)
	if err != nil {
		return RegistrationOptions{}, err
	}

	user, provisioned, err := e.provisionSubject(ctx, params.Subject, client.OrganizationID, params.DisplayName)
	if err != nil {
		return RegistrationOptions{}, err
	}
	displayName := user.DisplayName
	if displayName == "" {
		displayName = params.Subject
	}

	existing, err := e.credentials.ListCredentialsBySubject(ctx, params.Subject)
	if err != nil {
		return RegistrationOptions{}, fmt.Errorf("list credentials: %w", err)
	}

	stored, err := e.challenges.Generate(ctx, challenge.GenerateParams{
		Kind:           storage.ChallengeKindRegistration,
		Actor:          storage.ActorKindB2B,
		Subject:        params.Subject,
		RelyingPartyID: rpID,
		ClientID:       params.ClientID,
	})
	if err != nil {
		return RegistrationOptions{}, err
	}

	return RegistrationOptions{
		SessionID:   stored.SessionID,
		Options:     buildCreationOptions(stored, e.config.RPDisplayName, displayName, existing),
		Provisioned: provisioned,
	}, nil
}

// provisionSubject creates the user row just in time and returns the
// surviving row. A concurrent first registration may win the insert; that is
// treated as success and the surviving row is re-read.
func (e *Engine) provisionSubject(ctx context.Context, subject string, organizationID string, displayName string) (storage.User, bool, error) {
	user, err := e.users.GetUser(ctx, subject)
	if err == nil {
		return user, false, nil
	}
	if err != storage.ErrNotFound {
		return storage.User{}, false, fmt.Errorf("load user: %w", err)
	}

	if _, err := e.users.CreateUser(ctx, storage.User{
		ID:             subject,
		OrganizationID: organizationID,
		DisplayName:    displayName,
		CreatedAt:      e.clock().UTC(),
	}); err != nil {
		return storage.User{}, false, fmt.Errorf("provision user: %w", err)
	}
	user, err = e.users.GetUser(ctx, subject)
	if err != nil {
		return storage.User{}, false, fmt.Errorf("load provisioned user: %w", err)
	}
	return user, true, nil
}

// FinishRegistrationParams is the input for a registration ceremony finish.
// ClientID must name the client the ceremony was begun under.
type FinishRegistrationParams struct {
	ClientID   int64
	SessionID  string
	Response   []byte
	DeviceName string
}

// FinishRegistration verifies an attestation response against the stored
// challenge and persists the new credential. Verification failures come back
// as a Result, never as an error.
func (e *Engine) FinishRegistration(ctx context.Context, params FinishRegistrationParams) (Result, error) {
	result, err := e.finishRegistration(ctx, params)
	if err == nil {
		metrics.ObserveCeremony("registration", result.OK)
	}
	return result, err
}

func (e *Engine) finishRegistration(ctx context.Context, params FinishRegistrationParams) (Result, error) {
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
	if stored.Kind != storage.ChallengeKindRegistration {
		return failure("wrong_type"), nil
	}

	verifier, err := e.verifier(stored.RelyingPartyID)
	if err != nil {
		return failure(err.Error()), nil
	}

	user := &ceremonyUser{subject: stored.Subject, displayName: stored.Subject}
	session := webauthn.SessionData{
		Challenge: stored.Challenge,
		UserID:    []byte(stored.Subject),
		Expires:   stored.ExpiresAt,
	}

	credential, err := verifier.VerifyRegistration(user, session, params.Response, func(candidateID []byte) (bool, error) {
		_, err := e.credentials.GetCredential(ctx, encodeCredentialID(candidateID))
		if err == storage.ErrNotFound {
			return false, nil
		}
		if err != nil {
			return false, err
		}
		return true, nil
	})
	if err != nil {
		return failure(err.Error()), nil
	}

	credentialID := encodeCredentialID(credential.ID)
	record := storage.Credential{
		CredentialID:      credentialID,
		OwnerSubject:      stored.Subject,
		PublicKey:         credential.PublicKey,
		SignCount:         credential.Authenticator.SignCount,
		DeviceName:        params.DeviceName,
		AuthenticatorGUID: formatAAGUID(credential.Authenticator.AAGUID),
		Transports:        transportStrings(credential),
		CreatedAt:         e.clock().UTC(),
	}
	if err := e.credentials.InsertCredential(ctx, record); err != nil {
		if err == storage.ErrAlreadyExists {
			return failure("credential id is already registered"), nil
		}
		return Result{}, fmt.Errorf("store credential: %w", err)
	}

	if _, err := e.challenges.Consume(ctx, params.SessionID); err != nil {
		return Result{}, fmt.Errorf("consume challenge: %w", err)
	}

	return Result{OK: true, Subject: stored.Subject, CredentialID: credentialID}, nil
}

func encodeCredentialID(raw []byte) string {
	return base64.RawURLEncoding.EncodeToString(raw)
}

func formatAAGUID(raw []byte) string {
	parsed, err := uuid.FromBytes(raw)
	if err != nil {
		return ""
	}
	return parsed.String()
}

func transportStrings(credential *webauthn.Credential) []string {
	if len(credential.Transport) == 0 {
		return nil
	}
	transports := make([]string, 0, len(credential.Transport))
	for _, transport := range credential.Transport {
		transports = append(transports, string(transport))
	}
	return transports
}
