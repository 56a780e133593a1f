// Package challenge issues and consumes single-use WebAuthn challenges.
package challenge

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/tessera-id/tessera/internal/platform/errors"
	"github.com/tessera-id/tessera/internal/platform/id"
	"github.com/tessera-id/tessera/internal/storage"
)

// TTL is the fixed lifetime of a challenge.
const TTL = 5 * time.Minute

// challengeSize is the number of random bytes per challenge.
const challengeSize = 32

// GenerateParams describes the challenge to create.
type GenerateParams struct {
	Kind           storage.ChallengeKind
	Actor          storage.ActorKind
	Subject        string
	RelyingPartyID string
	ClientID       int64
}

// Service generates, reads, and consumes challenges over a ChallengeStore.
type Service struct {
	store       storage.ChallengeStore
	clock       func() time.Time
	idGenerator func() (string, error)
}

// NewService builds a challenge service with production defaults.
func NewService(store storage.ChallengeStore) *Service {
	return &Service{
		store:       store,
		clock:       time.Now,
		idGenerator: id.NewID,
	}
}

// Generate validates the request, creates a fresh challenge, and stores it.
func (s *Service) Generate(ctx context.Context, params GenerateParams) (storage.Challenge, error) {
	if err := validateParams(params); err != nil {
		return storage.Challenge{}, err
	}

	raw := make([]byte, challengeSize)
	if _, err := rand.Read(raw); err != nil {
		return storage.Challenge{}, fmt.Errorf("read challenge bytes: %w", err)
	}

	sessionID, err := s.idGenerator()
	if err != nil {
		return storage.Challenge{}, fmt.Errorf("create session id: %w", err)
	}

	now := s.clock().UTC()
	challenge := storage.Challenge{
		SessionID:      sessionID,
		Challenge:      base64.RawURLEncoding.EncodeToString(raw),
		Kind:           params.Kind,
		Actor:          params.Actor,
		Subject:        params.Subject,
		RelyingPartyID: params.RelyingPartyID,
		ClientID:       params.ClientID,
		ExpiresAt:      now.Add(TTL),
		CreatedAt:      now,
	}
	if err := s.store.PutChallenge(ctx, challenge); err != nil {
		return storage.Challenge{}, fmt.Errorf("store challenge: %w", err)
	}
	return challenge, nil
}

// Get returns a live challenge. Expired challenges are never returned even
// when the row is still physically present.
func (s *Service) Get(ctx context.Context, sessionID string) (storage.Challenge, bool, error) {
	stored, err := s.store.GetChallenge(ctx, sessionID)
	if err != nil {
		if err == storage.ErrNotFound {
			return storage.Challenge{}, false, nil
		}
		return storage.Challenge{}, false, err
	}
	if !stored.ExpiresAt.After(s.clock().UTC()) {
		return storage.Challenge{}, false, nil
	}
	return stored, true, nil
}

// Peek returns the raw challenge row even when it has expired. Ceremony
// verification uses this so an expired challenge can be reported as expired
// rather than missing; every other caller should use Get.
func (s *Service) Peek(ctx context.Context, sessionID string) (storage.Challenge, bool, error) {
	stored, err := s.store.GetChallenge(ctx, sessionID)
	if err != nil {
		if err == storage.ErrNotFound {
			return storage.Challenge{}, false, nil
		}
		return storage.Challenge{}, false, err
	}
	return stored, true, nil
}

// Consume deletes the challenge unconditionally, expired or not, and reports
// whether a row existed.
func (s *Service) Consume(ctx context.Context, sessionID string) (bool, error) {
	return s.store.DeleteChallenge(ctx, sessionID)
}

// Sweep deletes expired challenge rows. Best effort; Get already enforces
// expiry, so cadence only affects storage growth.
func (s *Service) Sweep(ctx context.Context) (int64, error) {
	return s.store.DeleteExpiredChallenges(ctx, s.clock().UTC())
}

func validateParams(params GenerateParams) error {
	switch params.Kind {
	case storage.ChallengeKindRegistration, storage.ChallengeKindAuthentication:
	default:
		return errors.WithField(errors.CodeChallengeKindInvalid, "challenge kind is invalid", "kind")
	}
	switch params.Actor {
	case storage.ActorKindB2B, storage.ActorKindB2C:
	default:
		return errors.WithField(errors.CodeChallengeActorInvalid, "actor kind is invalid", "actor_kind")
	}
	if params.ClientID <= 0 {
		return errors.WithField(errors.CodeClientIDInvalid, "client id is required", "client_id")
	}
	if params.Subject == "" && subjectRequired(params.Kind, params.Actor) {
		return errors.WithField(errors.CodeChallengeSubjectNeeded, "subject is required", "subject")
	}
	return nil
}

// subjectRequired reports whether the kind/actor combination needs a subject.
// The remaining combinations are discoverable-credential flows where the
// subject is only known after the authenticator responds.
func subjectRequired(kind storage.ChallengeKind, actor storage.ActorKind) bool {
	if actor == storage.ActorKindB2B && kind == storage.ChallengeKindRegistration {
		return true
	}
	if actor == storage.ActorKindB2C && kind == storage.ChallengeKindAuthentication {
		return true
	}
	return false
}
