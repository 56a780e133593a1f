package ceremony

import (
	"fmt"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"
)

// Verifier performs the cryptographic half of a WebAuthn ceremony for one
// relying party. Implementations are constructed per rpId because allowed
// origins differ between relying parties.
type Verifier interface {
	// VerifyRegistration checks an attestation response against the session
	// data. credentialTaken is consulted with the candidate credential id
	// before the credential is accepted.
	VerifyRegistration(user webauthn.User, session webauthn.SessionData, response []byte, credentialTaken func(credentialID []byte) (bool, error)) (*webauthn.Credential, error)
	// VerifyAssertion checks an assertion response against the session data
	// and the user's stored credential. The asserted user handle, when
	// present, must match the user's id.
	VerifyAssertion(user webauthn.User, session webauthn.SessionData, response []byte) (*webauthn.Credential, error)
}

// VerifierFactory constructs a verifier scoped to one relying party.
type VerifierFactory func(rpID string, displayName string, origins []string) (Verifier, error)

// NewVerifier builds the production verifier on top of go-webauthn.
func NewVerifier(rpID string, displayName string, origins []string) (Verifier, error) {
	wa, err := webauthn.New(&webauthn.Config{
		RPDisplayName: displayName,
		RPID:          rpID,
		RPOrigins:     origins,
	})
	if err != nil {
		return nil, fmt.Errorf("configure webauthn for %s: %w", rpID, err)
	}
	return &webauthnVerifier{wa: wa}, nil
}

type webauthnVerifier struct {
	wa *webauthn.WebAuthn
}

func (v *webauthnVerifier) VerifyRegistration(user webauthn.User, session webauthn.SessionData, response []byte, credentialTaken func(credentialID []byte) (bool, error)) (*webauthn.Credential, error) {
	parsed, err := protocol.ParseCredentialCreationResponseBytes(response)
	if err != nil {
		return nil, fmt.Errorf("parse attestation response: %w", err)
	}
	if credentialTaken != nil {
		taken, err := credentialTaken(parsed.RawID)
		if err != nil {
			return nil, fmt.Errorf("check credential uniqueness: %w", err)
		}
		if taken {
			return nil, fmt.Errorf("credential id is already registered")
		}
	}
	credential, err := v.wa.CreateCredential(user, session, parsed)
	if err != nil {
		return nil, fmt.Errorf("verify attestation: %w", err)
	}
	return credential, nil
}

func (v *webauthnVerifier) VerifyAssertion(user webauthn.User, session webauthn.SessionData, response []byte) (*webauthn.Credential, error) {
	parsed, err := protocol.ParseCredentialRequestResponseBytes(response)
	if err != nil {
		return nil, fmt.Errorf("parse assertion response: %w", err)
	}
	credential, err := v.wa.ValidateLogin(user, session, parsed)
	if err != nil {
		return nil, fmt.Errorf("verify assertion: %w", err)
	}
	return credential, nil
}

// ceremonyUser adapts an identity subject to the webauthn.User contract.
type ceremonyUser struct {
	subject     string
	displayName string
	credentials []webauthn.Credential
}

func (u *ceremonyUser) WebAuthnID() []byte {
	return []byte(u.subject)
}

func (u *ceremonyUser) WebAuthnName() string {
	return u.subject
}

func (u *ceremonyUser) WebAuthnDisplayName() string {
	return u.displayName
}

func (u *ceremonyUser) WebAuthnIcon() string {
	return ""
}

func (u *ceremonyUser) WebAuthnCredentials() []webauthn.Credential {
	return u.credentials
}
