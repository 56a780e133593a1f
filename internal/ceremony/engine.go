// Package ceremony orchestrates WebAuthn registration and authentication.
package ceremony

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tessera-id/tessera/internal/challenge"
	"github.com/tessera-id/tessera/internal/platform/config"
	"github.com/tessera-id/tessera/internal/platform/errors"
	"github.com/tessera-id/tessera/internal/platform/id"
	"github.com/tessera-id/tessera/internal/storage"
)

// Config controls relying-party presentation and origin derivation.
type Config struct {
	RPDisplayName string   `env:"TESSERA_WEBAUTHN_RP_DISPLAY_NAME" envDefault:"Tessera"`
	ExtraOrigins  []string `env:"TESSERA_WEBAUTHN_EXTRA_ORIGINS"   envSeparator:","`
}

// LoadConfigFromEnv returns ceremony configuration with defaults.
func LoadConfigFromEnv() Config {
	var cfg Config
	if err := config.ParseEnv(&cfg); err != nil {
		return Config{RPDisplayName: "Tessera"}
	}
	if cfg.RPDisplayName == "" {
		cfg.RPDisplayName = "Tessera"
	}
	return cfg
}

// Result is the outcome of a finished ceremony. Verification failures are
// values carried here, never errors; the error channel is reserved for
// storage and other infrastructure faults.
type Result struct {
	OK           bool
	Reason       string
	Subject      string
	CredentialID string
}

func failure(reason string) Result {
	return Result{Reason: reason}
}

// Engine runs registration and authentication ceremonies against the
// challenge, credential, client, and user stores.
type Engine struct {
	clients     storage.ClientStore
	users       storage.UserStore
	credentials storage.CredentialStore
	challenges  *challenge.Service
	verifierFor VerifierFactory
	config      Config
	clock       func() time.Time
	idGenerator func() (string, error)
}

// NewEngine builds a ceremony engine with production defaults.
func NewEngine(clients storage.ClientStore, users storage.UserStore, credentials storage.CredentialStore, challenges *challenge.Service) *Engine {
	return &Engine{
		clients:     clients,
		users:       users,
		credentials: credentials,
		challenges:  challenges,
		verifierFor: NewVerifier,
		config:      LoadConfigFromEnv(),
		clock:       time.Now,
		idGenerator: id.NewID,
	}
}

// normalizeRPID lowercases a relying-party id. RP ids are domains and
// domains are case-insensitive.
func normalizeRPID(rpID string) string {
	return strings.ToLower(strings.TrimSpace(rpID))
}

// loadClientForRP loads the client and checks the normalized rpID against
// its allowlist. Membership is case-insensitive.
func (e *Engine) loadClientForRP(ctx context.Context, clientID int64, rpID string) (storage.Client, error) {
	if clientID <= 0 {
		return storage.Client{}, errors.WithField(errors.CodeClientIDInvalid, "client id is required", "client_id")
	}
	if rpID == "" {
		return storage.Client{}, errors.WithField(errors.CodeRelyingPartyRequired, "relying party id is required", "rp_id")
	}
	client, err := e.clients.GetClient(ctx, clientID)
	if err != nil {
		if err == storage.ErrNotFound {
			// Deliberately vague: unknown client and bad secret look the same.
			return storage.Client{}, errors.New(errors.CodeClientAuthFailed, "client authentication failed")
		}
		return storage.Client{}, err
	}
	for _, allowed := range client.AllowedRelyingPartyIDs {
		if strings.EqualFold(strings.TrimSpace(allowed), rpID) {
			return client, nil
		}
	}
	return storage.Client{}, errors.WithField(errors.CodeRelyingPartyNotAllowed, "relying party is not allowed for this client", "rp_id")
}

// validateSubject checks that a subject is a well-formed UUID.
func validateSubject(subject string) error {
	if subject == "" {
		return errors.WithField(errors.CodeSubjectInvalid, "subject is required", "b2b_subject")
	}
	if _, err := uuid.Parse(subject); err != nil {
		return errors.WithField(errors.CodeSubjectInvalid, "subject must be a UUID", "b2b_subject")
	}
	return nil
}

// originsForRP derives the allowed origin set for a relying party.
func (e *Engine) originsForRP(rpID string) []string {
	origins := []string{"https://" + rpID}
	if rpID == "localhost" {
		origins = append(origins, "http://localhost")
	}
	return append(origins, e.config.ExtraOrigins...)
}

// verifier constructs an rpId-scoped verifier. One instance per ceremony
// call; origins differ per relying party, so no shared singleton.
func (e *Engine) verifier(rpID string) (Verifier, error) {
	return e.verifierFor(rpID, e.config.RPDisplayName, e.originsForRP(rpID))
}
