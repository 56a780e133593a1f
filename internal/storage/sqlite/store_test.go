package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/tessera-id/tessera/internal/storage"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Errorf("close store: %v", err)
		}
	})
	return store
}

func TestChallengeLifecycle(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	challenge := storage.Challenge{
		SessionID:      "session-1",
		Challenge:      "Y2hhbGxlbmdl",
		Kind:           storage.ChallengeKindRegistration,
		Actor:          storage.ActorKindB2B,
		Subject:        "subject-1",
		RelyingPartyID: "example.com",
		ClientID:       42,
		ExpiresAt:      now.Add(5 * time.Minute),
		CreatedAt:      now,
	}
	if err := store.PutChallenge(ctx, challenge); err != nil {
		t.Fatalf("put challenge: %v", err)
	}

	got, err := store.GetChallenge(ctx, "session-1")
	if err != nil {
		t.Fatalf("get challenge: %v", err)
	}
	if got.Challenge != challenge.Challenge || got.Kind != challenge.Kind || got.ClientID != 42 {
		t.Fatalf("unexpected challenge %+v", got)
	}
	if !got.ExpiresAt.Equal(challenge.ExpiresAt) {
		t.Fatalf("expected expiry %v, got %v", challenge.ExpiresAt, got.ExpiresAt)
	}

	// Re-putting the same session id replaces the row.
	challenge.Challenge = "cmVwbGFjZWQ"
	if err := store.PutChallenge(ctx, challenge); err != nil {
		t.Fatalf("replace challenge: %v", err)
	}
	got, err = store.GetChallenge(ctx, "session-1")
	if err != nil {
		t.Fatalf("get replaced challenge: %v", err)
	}
	if got.Challenge != "cmVwbGFjZWQ" {
		t.Fatalf("expected the replaced challenge, got %q", got.Challenge)
	}

	deleted, err := store.DeleteChallenge(ctx, "session-1")
	if err != nil {
		t.Fatalf("delete challenge: %v", err)
	}
	if !deleted {
		t.Fatal("expected the delete to report true")
	}
	if _, err := store.GetChallenge(ctx, "session-1"); err != storage.ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	deleted, err = store.DeleteChallenge(ctx, "session-1")
	if err != nil {
		t.Fatalf("delete missing challenge: %v", err)
	}
	if deleted {
		t.Fatal("expected the second delete to report false")
	}
}

func TestDeleteExpiredChallenges(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	put := func(sessionID string, expiresAt time.Time) {
		t.Helper()
		err := store.PutChallenge(ctx, storage.Challenge{
			SessionID:      sessionID,
			Challenge:      "Y2hhbGxlbmdl",
			Kind:           storage.ChallengeKindAuthentication,
			Actor:          storage.ActorKindB2B,
			RelyingPartyID: "example.com",
			ClientID:       1,
			ExpiresAt:      expiresAt,
			CreatedAt:      now.Add(-time.Hour),
		})
		if err != nil {
			t.Fatalf("put challenge %s: %v", sessionID, err)
		}
	}
	put("expired", now.Add(-time.Minute))
	put("boundary", now)
	put("live", now.Add(time.Minute))

	deleted, err := store.DeleteExpiredChallenges(ctx, now)
	if err != nil {
		t.Fatalf("delete expired: %v", err)
	}
	if deleted != 2 {
		t.Fatalf("expected 2 deleted rows, got %d", deleted)
	}
	if _, err := store.GetChallenge(ctx, "live"); err != nil {
		t.Fatalf("expected the live challenge to survive: %v", err)
	}
}

func TestCredentialLifecycle(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	credential := storage.Credential{
		CredentialID:      "cred-1",
		OwnerSubject:      "subject-1",
		PublicKey:         []byte{0x01, 0x02},
		SignCount:         3,
		DeviceName:        "phone",
		AuthenticatorGUID: "b93fd961-f2e6-462f-b122-82002247de78",
		Transports:        []string{"internal", "hybrid"},
		CreatedAt:         now,
	}
	if err := store.InsertCredential(ctx, credential); err != nil {
		t.Fatalf("insert credential: %v", err)
	}
	if err := store.InsertCredential(ctx, credential); err != storage.ErrAlreadyExists {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}

	got, err := store.GetCredential(ctx, "cred-1")
	if err != nil {
		t.Fatalf("get credential: %v", err)
	}
	if got.OwnerSubject != "subject-1" || got.SignCount != 3 {
		t.Fatalf("unexpected credential %+v", got)
	}
	if len(got.Transports) != 2 || got.Transports[0] != "internal" {
		t.Fatalf("expected transports to round-trip, got %v", got.Transports)
	}
	if got.LastUsedAt != nil {
		t.Fatal("expected a fresh credential to have no last use")
	}

	usedAt := now.Add(time.Hour)
	if err := store.UpdateCredentialUsage(ctx, "cred-1", 9, usedAt); err != nil {
		t.Fatalf("update usage: %v", err)
	}
	got, err = store.GetCredential(ctx, "cred-1")
	if err != nil {
		t.Fatalf("get credential after update: %v", err)
	}
	if got.SignCount != 9 {
		t.Fatalf("expected sign count 9, got %d", got.SignCount)
	}
	if got.LastUsedAt == nil || !got.LastUsedAt.Equal(usedAt) {
		t.Fatalf("expected last use %v, got %v", usedAt, got.LastUsedAt)
	}

	if err := store.UpdateCredentialUsage(ctx, "missing", 1, usedAt); err != storage.ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestListCredentialsBySubjectNewestFirst(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	for i, id := range []string{"old", "new"} {
		err := store.InsertCredential(ctx, storage.Credential{
			CredentialID: id,
			OwnerSubject: "subject-1",
			PublicKey:    []byte{0x01},
			CreatedAt:    now.Add(time.Duration(i) * time.Hour),
		})
		if err != nil {
			t.Fatalf("insert %s: %v", id, err)
		}
	}

	credentials, err := store.ListCredentialsBySubject(ctx, "subject-1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(credentials) != 2 {
		t.Fatalf("expected 2 credentials, got %d", len(credentials))
	}
	if credentials[0].CredentialID != "new" {
		t.Fatalf("expected newest first, got %q", credentials[0].CredentialID)
	}
}

func TestListCredentialsByOrganization(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	users := []storage.User{
		{ID: "member-1", OrganizationID: "org-1", CreatedAt: now},
		{ID: "member-2", OrganizationID: "org-1", CreatedAt: now},
		{ID: "outsider", OrganizationID: "org-2", CreatedAt: now},
	}
	for _, user := range users {
		if _, err := store.CreateUser(ctx, user); err != nil {
			t.Fatalf("create user %s: %v", user.ID, err)
		}
	}
	for i, owner := range []string{"member-1", "member-2", "outsider"} {
		err := store.InsertCredential(ctx, storage.Credential{
			CredentialID: owner + "-cred",
			OwnerSubject: owner,
			PublicKey:    []byte{0x01},
			CreatedAt:    now.Add(time.Duration(i) * time.Minute),
		})
		if err != nil {
			t.Fatalf("insert credential for %s: %v", owner, err)
		}
	}

	credentials, err := store.ListCredentialsByOrganization(ctx, "org-1")
	if err != nil {
		t.Fatalf("list by organization: %v", err)
	}
	if len(credentials) != 2 {
		t.Fatalf("expected 2 credentials, got %d", len(credentials))
	}
	for _, credential := range credentials {
		if credential.OwnerSubject == "outsider" {
			t.Fatal("expected the foreign organization's credential to be excluded")
		}
	}
}

func TestDeleteCredentialOwnerScoped(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	err := store.InsertCredential(ctx, storage.Credential{
		CredentialID: "cred-1",
		OwnerSubject: "subject-1",
		PublicKey:    []byte{0x01},
		CreatedAt:    time.Now(),
	})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}

	deleted, err := store.DeleteCredential(ctx, "intruder", "cred-1")
	if err != nil {
		t.Fatalf("delete as intruder: %v", err)
	}
	if deleted {
		t.Fatal("expected a foreign delete to report false")
	}

	deleted, err = store.DeleteCredential(ctx, "subject-1", "cred-1")
	if err != nil {
		t.Fatalf("delete as owner: %v", err)
	}
	if !deleted {
		t.Fatal("expected the owner delete to succeed")
	}

	count, err := store.CountCredentials(ctx, "subject-1")
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected 0 credentials, got %d", count)
	}
}

func TestClientAndKeyPairRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	client := storage.Client{
		ID:                     42,
		Secret:                 "s3cret",
		AllowedRelyingPartyIDs: []string{"example.com", "other.test"},
		RedirectURIs:           []string{"https://app.example.com/callback"},
		OrganizationID:         "org-1",
	}
	if err := store.PutClient(ctx, client); err != nil {
		t.Fatalf("put client: %v", err)
	}

	got, err := store.GetClient(ctx, 42)
	if err != nil {
		t.Fatalf("get client: %v", err)
	}
	if got.Secret != "s3cret" || got.OrganizationID != "org-1" {
		t.Fatalf("unexpected client %+v", got)
	}
	if len(got.AllowedRelyingPartyIDs) != 2 || got.AllowedRelyingPartyIDs[1] != "other.test" {
		t.Fatalf("expected rp allowlist to round-trip, got %v", got.AllowedRelyingPartyIDs)
	}
	if len(got.RedirectURIs) != 1 {
		t.Fatalf("expected redirect uris to round-trip, got %v", got.RedirectURIs)
	}

	if _, err := store.GetClient(ctx, 99); err != storage.ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	pair := storage.ClientKeyPair{ClientID: 42, PublicKey: []byte{0x01}, PrivateKey: []byte{0x02}}
	if err := store.PutClientKeyPair(ctx, pair); err != nil {
		t.Fatalf("put key pair: %v", err)
	}
	gotPair, err := store.GetClientKeyPair(ctx, 42)
	if err != nil {
		t.Fatalf("get key pair: %v", err)
	}
	if len(gotPair.PublicKey) != 1 || gotPair.PublicKey[0] != 0x01 {
		t.Fatalf("unexpected key pair %+v", gotPair)
	}
	if _, err := store.GetClientKeyPair(ctx, 99); err != storage.ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestTokenRecordRevocation(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	record := storage.TokenRecord{
		JTI:         "jti-1",
		Subject:     "subject-1",
		SubjectKind: storage.ActorKindB2B,
		ClientID:    42,
		ExpiresAt:   now.Add(time.Hour),
		Scopes:      "openid profile",
	}
	if err := store.PutTokenRecord(ctx, record); err != nil {
		t.Fatalf("put record: %v", err)
	}

	got, err := store.GetTokenRecord(ctx, "jti-1")
	if err != nil {
		t.Fatalf("get record: %v", err)
	}
	if got.IsRevoked || got.RevokedAt != nil {
		t.Fatalf("expected a fresh record to not be revoked, got %+v", got)
	}

	revoked, err := store.RevokeTokenRecord(ctx, "jti-1", now)
	if err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if !revoked {
		t.Fatal("expected revoke to report true")
	}

	got, err = store.GetTokenRecord(ctx, "jti-1")
	if err != nil {
		t.Fatalf("get revoked record: %v", err)
	}
	if !got.IsRevoked {
		t.Fatal("expected the record to be revoked")
	}
	if got.RevokedAt == nil || !got.RevokedAt.Equal(now) {
		t.Fatalf("expected revoked at %v, got %v", now, got.RevokedAt)
	}

	// A second revocation reports true and keeps the original stamp.
	revoked, err = store.RevokeTokenRecord(ctx, "jti-1", now.Add(time.Hour))
	if err != nil {
		t.Fatalf("revoke again: %v", err)
	}
	if !revoked {
		t.Fatal("expected the second revoke to report true")
	}
	got, err = store.GetTokenRecord(ctx, "jti-1")
	if err != nil {
		t.Fatalf("get record after second revoke: %v", err)
	}
	if !got.RevokedAt.Equal(now) {
		t.Fatalf("expected the original stamp %v, got %v", now, got.RevokedAt)
	}

	revoked, err = store.RevokeTokenRecord(ctx, "missing", now)
	if err != nil {
		t.Fatalf("revoke missing: %v", err)
	}
	if revoked {
		t.Fatal("expected revoking a missing record to report false")
	}
}

func TestCreateUserConflict(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	user := storage.User{ID: "subject-1", OrganizationID: "org-1", DisplayName: "Alice", CreatedAt: now}
	created, err := store.CreateUser(ctx, user)
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	if !created {
		t.Fatal("expected the first insert to create the row")
	}

	// A concurrent writer already inserted the subject; not an error.
	duplicate := storage.User{ID: "subject-1", OrganizationID: "org-2", DisplayName: "Imposter", CreatedAt: now}
	created, err = store.CreateUser(ctx, duplicate)
	if err != nil {
		t.Fatalf("create duplicate user: %v", err)
	}
	if created {
		t.Fatal("expected the duplicate insert to report false")
	}

	got, err := store.GetUser(ctx, "subject-1")
	if err != nil {
		t.Fatalf("get user: %v", err)
	}
	if got.OrganizationID != "org-1" || got.DisplayName != "Alice" {
		t.Fatalf("expected the original row to survive, got %+v", got)
	}

	if _, err := store.GetUser(ctx, "missing"); err != storage.ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestAuthCodeSingleUse(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	code := storage.AuthCode{
		Code:        "code-1",
		Subject:     "subject-1",
		ClientID:    42,
		RedirectURI: "https://app.example.com/callback",
		State:       "xyz",
		Scope:       "openid",
		IsB2B:       true,
		ExpiresAt:   now.Add(2 * time.Minute),
	}
	if err := store.PutAuthCode(ctx, code); err != nil {
		t.Fatalf("put code: %v", err)
	}

	got, ok, err := store.ConsumeAuthCode(ctx, "code-1", now)
	if err != nil {
		t.Fatalf("consume: %v", err)
	}
	if !ok {
		t.Fatal("expected the first consume to succeed")
	}
	if got.Subject != "subject-1" || !got.IsB2B || !got.Used {
		t.Fatalf("unexpected code %+v", got)
	}

	_, ok, err = store.ConsumeAuthCode(ctx, "code-1", now)
	if err != nil {
		t.Fatalf("consume again: %v", err)
	}
	if ok {
		t.Fatal("expected the second consume to fail")
	}
}

func TestAuthCodeExpiry(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	code := storage.AuthCode{
		Code:        "code-1",
		Subject:     "subject-1",
		ClientID:    42,
		RedirectURI: "https://app.example.com/callback",
		ExpiresAt:   now,
	}
	if err := store.PutAuthCode(ctx, code); err != nil {
		t.Fatalf("put code: %v", err)
	}

	_, ok, err := store.ConsumeAuthCode(ctx, "code-1", now)
	if err != nil {
		t.Fatalf("consume: %v", err)
	}
	if ok {
		t.Fatal("expected an expired code to not be consumable")
	}

	deleted, err := store.DeleteExpiredAuthCodes(ctx, now)
	if err != nil {
		t.Fatalf("delete expired: %v", err)
	}
	if deleted != 1 {
		t.Fatalf("expected 1 deleted code, got %d", deleted)
	}
}
