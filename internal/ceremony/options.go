package ceremony

import (
	"encoding/base64"
	"time"

	"github.com/tessera-id/tessera/internal/challenge"
	"github.com/tessera-id/tessera/internal/storage"
)

// The option payloads below follow the WebAuthn Level 2 JSON shapes the
// browser API expects. They are built only from the stored challenge plus
// store state so the verify step can reconstruct the same ceremony.

// RelyingParty identifies the relying party in creation options.
type RelyingParty struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// UserEntity identifies the registering subject in creation options. ID is
// the base64url-encoded user handle; browser clients decode it before handing
// it to the authenticator, so the decoded bytes must equal the session user
// id the verify step reconstructs.
type UserEntity struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	DisplayName string `json:"displayName"`
}

// CredentialParameter names an acceptable credential algorithm.
type CredentialParameter struct {
	Type string `json:"type"`
	Alg  int    `json:"alg"`
}

// CredentialDescriptor references an existing credential.
type CredentialDescriptor struct {
	Type       string   `json:"type"`
	ID         string   `json:"id"`
	Transports []string `json:"transports,omitempty"`
}

// AuthenticatorSelection constrains authenticator behavior.
type AuthenticatorSelection struct {
	ResidentKey      string `json:"residentKey"`
	UserVerification string `json:"userVerification"`
}

// PublicKeyCredentialCreationOptions is the registration ceremony payload.
type PublicKeyCredentialCreationOptions struct {
	Challenge              string                 `json:"challenge"`
	RP                     RelyingParty           `json:"rp"`
	User                   UserEntity             `json:"user"`
	PubKeyCredParams       []CredentialParameter  `json:"pubKeyCredParams"`
	Timeout                int64                  `json:"timeout"`
	ExcludeCredentials     []CredentialDescriptor `json:"excludeCredentials,omitempty"`
	AuthenticatorSelection AuthenticatorSelection `json:"authenticatorSelection"`
	Attestation            string                 `json:"attestation"`
}

// CredentialCreationOptions wraps creation options for the client.
type CredentialCreationOptions struct {
	PublicKey PublicKeyCredentialCreationOptions `json:"publicKey"`
}

// PublicKeyCredentialRequestOptions is the authentication ceremony payload.
type PublicKeyCredentialRequestOptions struct {
	Challenge        string                 `json:"challenge"`
	RPID             string                 `json:"rpId"`
	Timeout          int64                  `json:"timeout"`
	AllowCredentials []CredentialDescriptor `json:"allowCredentials,omitempty"`
	UserVerification string                 `json:"userVerification"`
}

// CredentialRequestOptions wraps request options for the client.
type CredentialRequestOptions struct {
	PublicKey PublicKeyCredentialRequestOptions `json:"publicKey"`
}

// defaultCredentialParameters lists the COSE algorithms accepted at
// registration: ES256, EdDSA, RS256.
func defaultCredentialParameters() []CredentialParameter {
	return []CredentialParameter{
		{Type: "public-key", Alg: -7},
		{Type: "public-key", Alg: -8},
		{Type: "public-key", Alg: -257},
	}
}

func buildCreationOptions(stored storage.Challenge, rpName string, userDisplayName string, exclude []storage.Credential) CredentialCreationOptions {
	descriptors := make([]CredentialDescriptor, 0, len(exclude))
	for _, credential := range exclude {
		descriptors = append(descriptors, CredentialDescriptor{
			Type:       "public-key",
			ID:         credential.CredentialID,
			Transports: credential.Transports,
		})
	}
	options := CredentialCreationOptions{
		PublicKey: PublicKeyCredentialCreationOptions{
			Challenge: stored.Challenge,
			RP: RelyingParty{
				ID:   stored.RelyingPartyID,
				Name: rpName,
			},
			User: UserEntity{
				ID:          base64.RawURLEncoding.EncodeToString([]byte(stored.Subject)),
				Name:        stored.Subject,
				DisplayName: userDisplayName,
			},
			PubKeyCredParams: defaultCredentialParameters(),
			Timeout:          int64(challenge.TTL / time.Millisecond),
			AuthenticatorSelection: AuthenticatorSelection{
				ResidentKey:      "preferred",
				UserVerification: "preferred",
			},
			Attestation: "none",
		},
	}
	if len(descriptors) > 0 {
		options.PublicKey.ExcludeCredentials = descriptors
	}
	return options
}

func buildRequestOptions(stored storage.Challenge, allow []storage.Credential) CredentialRequestOptions {
	descriptors := make([]CredentialDescriptor, 0, len(allow))
	for _, credential := range allow {
		descriptors = append(descriptors, CredentialDescriptor{
			Type:       "public-key",
			ID:         credential.CredentialID,
			Transports: credential.Transports,
		})
	}
	options := CredentialRequestOptions{
		PublicKey: PublicKeyCredentialRequestOptions{
			Challenge:        stored.Challenge,
			RPID:             stored.RelyingPartyID,
			Timeout:          int64(challenge.TTL / time.Millisecond),
			UserVerification: "preferred",
		},
	}
	if len(descriptors) > 0 {
		options.PublicKey.AllowCredentials = descriptors
	}
	return options
}
