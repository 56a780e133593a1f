package ceremony

import (
	"context"
	stderrors "errors"
	"time"

	"github.com/go-webauthn/webauthn/webauthn"
	"github.com/tessera-id/tessera/internal/challenge"
	"github.com/tessera-id/tessera/internal/storage"
)

const (
	testSubject = "3b241101-e2bb-4255-8caf-4136c566a962"
	testRPID    = "example.com"
)

var errTaken = stderrors.New("credential id is already registered")

type fakeClientStore struct {
	clients map[int64]storage.Client
}

func (f *fakeClientStore) PutClient(ctx context.Context, client storage.Client) error {
	f.clients[client.ID] = client
	return nil
}

func (f *fakeClientStore) GetClient(ctx context.Context, id int64) (storage.Client, error) {
	client, ok := f.clients[id]
	if !ok {
		return storage.Client{}, storage.ErrNotFound
	}
	return client, nil
}

type fakeUserStore struct {
	users       map[string]storage.User
	createCalls int
	// racing simulates a concurrent first registration winning the insert.
	racing bool
}

func (f *fakeUserStore) GetUser(ctx context.Context, subject string) (storage.User, error) {
	user, ok := f.users[subject]
	if !ok {
		return storage.User{}, storage.ErrNotFound
	}
	return user, nil
}

func (f *fakeUserStore) CreateUser(ctx context.Context, user storage.User) (bool, error) {
	f.createCalls++
	if _, ok := f.users[user.ID]; ok {
		return false, nil
	}
	if f.racing {
		// Another writer inserted the row first; this insert is a no-op.
		f.users[user.ID] = storage.User{ID: user.ID, OrganizationID: user.OrganizationID}
		return false, nil
	}
	f.users[user.ID] = user
	return true, nil
}

type fakeCredentialStore struct {
	credentials map[string]storage.Credential
	// ownerOrg maps a subject to its organization for the org-wide listing.
	ownerOrg map[string]string
}

func newFakeCredentialStore() *fakeCredentialStore {
	return &fakeCredentialStore{
		credentials: make(map[string]storage.Credential),
		ownerOrg:    make(map[string]string),
	}
}

func (f *fakeCredentialStore) InsertCredential(ctx context.Context, credential storage.Credential) error {
	if _, ok := f.credentials[credential.CredentialID]; ok {
		return storage.ErrAlreadyExists
	}
	f.credentials[credential.CredentialID] = credential
	return nil
}

func (f *fakeCredentialStore) GetCredential(ctx context.Context, credentialID string) (storage.Credential, error) {
	credential, ok := f.credentials[credentialID]
	if !ok {
		return storage.Credential{}, storage.ErrNotFound
	}
	return credential, nil
}

func (f *fakeCredentialStore) ListCredentialsBySubject(ctx context.Context, subject string) ([]storage.Credential, error) {
	var out []storage.Credential
	for _, credential := range f.credentials {
		if credential.OwnerSubject == subject {
			out = append(out, credential)
		}
	}
	return out, nil
}

func (f *fakeCredentialStore) ListCredentialsByOrganization(ctx context.Context, organizationID string) ([]storage.Credential, error) {
	var out []storage.Credential
	for _, credential := range f.credentials {
		if f.ownerOrg[credential.OwnerSubject] == organizationID {
			out = append(out, credential)
		}
	}
	return out, nil
}

func (f *fakeCredentialStore) DeleteCredential(ctx context.Context, subject string, credentialID string) (bool, error) {
	credential, ok := f.credentials[credentialID]
	if !ok || credential.OwnerSubject != subject {
		return false, nil
	}
	delete(f.credentials, credentialID)
	return true, nil
}

func (f *fakeCredentialStore) CountCredentials(ctx context.Context, subject string) (int, error) {
	count := 0
	for _, credential := range f.credentials {
		if credential.OwnerSubject == subject {
			count++
		}
	}
	return count, nil
}

func (f *fakeCredentialStore) UpdateCredentialUsage(ctx context.Context, credentialID string, signCount uint32, usedAt time.Time) error {
	credential, ok := f.credentials[credentialID]
	if !ok {
		return storage.ErrNotFound
	}
	credential.SignCount = signCount
	credential.LastUsedAt = &usedAt
	f.credentials[credentialID] = credential
	return nil
}

type fakeChallengeStore struct {
	challenges map[string]storage.Challenge
}

func (f *fakeChallengeStore) PutChallenge(ctx context.Context, c storage.Challenge) error {
	f.challenges[c.SessionID] = c
	return nil
}

func (f *fakeChallengeStore) GetChallenge(ctx context.Context, sessionID string) (storage.Challenge, error) {
	c, ok := f.challenges[sessionID]
	if !ok {
		return storage.Challenge{}, storage.ErrNotFound
	}
	return c, nil
}

func (f *fakeChallengeStore) DeleteChallenge(ctx context.Context, sessionID string) (bool, error) {
	if _, ok := f.challenges[sessionID]; !ok {
		return false, nil
	}
	delete(f.challenges, sessionID)
	return true, nil
}

func (f *fakeChallengeStore) DeleteExpiredChallenges(ctx context.Context, now time.Time) (int64, error) {
	var deleted int64
	for sessionID, c := range f.challenges {
		if !c.ExpiresAt.After(now) {
			delete(f.challenges, sessionID)
			deleted++
		}
	}
	return deleted, nil
}

// fakeVerifier returns a canned credential without touching real WebAuthn
// parsing, and still drives the uniqueness callback the way the production
// verifier does.
type fakeVerifier struct {
	credential *webauthn.Credential
	err        error

	registrationUser webauthn.User
	assertionUser    webauthn.User
	session          webauthn.SessionData
}

func (f *fakeVerifier) VerifyRegistration(user webauthn.User, session webauthn.SessionData, response []byte, credentialTaken func([]byte) (bool, error)) (*webauthn.Credential, error) {
	f.registrationUser = user
	f.session = session
	if f.err != nil {
		return nil, f.err
	}
	if credentialTaken != nil {
		taken, err := credentialTaken(f.credential.ID)
		if err != nil {
			return nil, err
		}
		if taken {
			return nil, errTaken
		}
	}
	return f.credential, nil
}

func (f *fakeVerifier) VerifyAssertion(user webauthn.User, session webauthn.SessionData, response []byte) (*webauthn.Credential, error) {
	f.assertionUser = user
	f.session = session
	if f.err != nil {
		return nil, f.err
	}
	return f.credential, nil
}

type engineFixture struct {
	engine         *Engine
	clients        *fakeClientStore
	users          *fakeUserStore
	credentials    *fakeCredentialStore
	challengeStore *fakeChallengeStore
	verifier       *fakeVerifier
}

func newEngineFixture() *engineFixture {
	clients := &fakeClientStore{clients: make(map[int64]storage.Client)}
	users := &fakeUserStore{users: make(map[string]storage.User)}
	credentials := newFakeCredentialStore()
	challengeStore := &fakeChallengeStore{challenges: make(map[string]storage.Challenge)}
	verifier := &fakeVerifier{}

	challenges := challenge.NewService(challengeStore)

	engine := NewEngine(clients, users, credentials, challenges)
	engine.config = Config{RPDisplayName: "Tessera"}
	engine.verifierFor = func(rpID string, displayName string, origins []string) (Verifier, error) {
		return verifier, nil
	}

	clients.clients[42] = storage.Client{
		ID:                     42,
		Secret:                 "secret",
		AllowedRelyingPartyIDs: []string{"Example.COM", "other.test"},
		OrganizationID:         "org-1",
	}

	return &engineFixture{
		engine:         engine,
		clients:        clients,
		users:          users,
		credentials:    credentials,
		challengeStore: challengeStore,
		verifier:       verifier,
	}
}

// expireChallenge rewrites a stored challenge so it is already expired.
func (f *engineFixture) expireChallenge(sessionID string) {
	c := f.challengeStore.challenges[sessionID]
	c.ExpiresAt = time.Now().UTC().Add(-time.Minute)
	f.challengeStore.challenges[sessionID] = c
}

// onlyChallenge returns the single stored challenge row.
func (f *engineFixture) onlyChallenge() (storage.Challenge, bool) {
	for _, c := range f.challengeStore.challenges {
		return c, true
	}
	return storage.Challenge{}, false
}
