// Package storage defines the persistence contracts for the identity core.
package storage

import (
	"context"
	"time"

	"github.com/tessera-id/tessera/internal/platform/errors"
)

// ErrNotFound indicates a requested record is missing.
var ErrNotFound = errors.New(errors.CodeNotFound, "record not found")

// ErrAlreadyExists indicates a unique constraint rejected an insert.
var ErrAlreadyExists = errors.New(errors.CodeAlreadyExists, "record already exists")

// ChallengeKind describes the ceremony a challenge belongs to.
type ChallengeKind string

const (
	ChallengeKindRegistration   ChallengeKind = "registration"
	ChallengeKindAuthentication ChallengeKind = "authentication"
)

// ActorKind distinguishes administrative and consumer actors.
type ActorKind string

const (
	ActorKindB2B ActorKind = "b2b"
	ActorKindB2C ActorKind = "b2c"
)

// Challenge is a single-use WebAuthn challenge bound to a session id.
type Challenge struct {
	SessionID      string
	Challenge      string // base64url-encoded raw challenge bytes
	Kind           ChallengeKind
	Actor          ActorKind
	Subject        string
	RelyingPartyID string
	ClientID       int64
	ExpiresAt      time.Time
	CreatedAt      time.Time
}

// Credential is the server-side state of a passkey.
type Credential struct {
	CredentialID      string // base64url-encoded authenticator credential id
	OwnerSubject      string
	PublicKey         []byte
	SignCount         uint32
	DeviceName        string
	AuthenticatorGUID string
	Transports        []string
	CreatedAt         time.Time
	LastUsedAt        *time.Time
}

// ClientKeyPair is the ed25519 signing key material for one tenant client.
type ClientKeyPair struct {
	ClientID   int64
	PublicKey  []byte
	PrivateKey []byte
}

// TokenRecord tracks an issued access token for revocation and introspection.
type TokenRecord struct {
	JTI         string
	Subject     string
	SubjectKind ActorKind
	ClientID    int64
	ExpiresAt   time.Time
	Scopes      string
	IsRevoked   bool
	RevokedAt   *time.Time
}

// Client is a tenant client and its relying-party boundary.
type Client struct {
	ID                     int64
	Secret                 string
	AllowedRelyingPartyIDs []string
	RedirectURIs           []string
	OrganizationID         string
}

// User is an identity subject within one organization.
type User struct {
	ID             string // UUID subject
	OrganizationID string
	DisplayName    string
	CreatedAt      time.Time
}

// AuthCode is an opaque single-use authorization code.
type AuthCode struct {
	Code        string
	Subject     string
	ClientID    int64
	RedirectURI string
	State       string
	Scope       string
	IsB2B       bool
	ExpiresAt   time.Time
	Used        bool
}

// ChallengeStore persists single-use WebAuthn challenges.
//
// Challenge lookups are keyed by session id alone: session ids are
// unguessable, so these are the explicitly-unscoped call shape.
type ChallengeStore interface {
	PutChallenge(ctx context.Context, challenge Challenge) error
	GetChallenge(ctx context.Context, sessionID string) (Challenge, error)
	DeleteChallenge(ctx context.Context, sessionID string) (bool, error)
	DeleteExpiredChallenges(ctx context.Context, now time.Time) (int64, error)
}

// CredentialStore persists passkey credentials.
type CredentialStore interface {
	// InsertCredential stores a new credential and returns ErrAlreadyExists
	// when the credential id is already taken.
	InsertCredential(ctx context.Context, credential Credential) error
	// GetCredential looks a credential up by its globally-unique id.
	GetCredential(ctx context.Context, credentialID string) (Credential, error)
	ListCredentialsBySubject(ctx context.Context, subject string) ([]Credential, error)
	ListCredentialsByOrganization(ctx context.Context, organizationID string) ([]Credential, error)
	// DeleteCredential removes a credential only when both subject and id match.
	DeleteCredential(ctx context.Context, subject string, credentialID string) (bool, error)
	CountCredentials(ctx context.Context, subject string) (int, error)
	// UpdateCredentialUsage overwrites the signature counter and stamps last use.
	UpdateCredentialUsage(ctx context.Context, credentialID string, signCount uint32, usedAt time.Time) error
}

// KeyStore persists per-client signing key pairs.
type KeyStore interface {
	PutClientKeyPair(ctx context.Context, pair ClientKeyPair) error
	GetClientKeyPair(ctx context.Context, clientID int64) (ClientKeyPair, error)
}

// TokenRecordStore persists revocation bookkeeping rows.
type TokenRecordStore interface {
	PutTokenRecord(ctx context.Context, record TokenRecord) error
	GetTokenRecord(ctx context.Context, jti string) (TokenRecord, error)
	// RevokeTokenRecord marks the record revoked and reports whether a row
	// existed. Revoking an already-revoked record reports true.
	RevokeTokenRecord(ctx context.Context, jti string, revokedAt time.Time) (bool, error)
}

// ClientStore persists tenant clients.
type ClientStore interface {
	PutClient(ctx context.Context, client Client) error
	GetClient(ctx context.Context, id int64) (Client, error)
}

// UserStore persists identity subjects.
type UserStore interface {
	GetUser(ctx context.Context, subject string) (User, error)
	// CreateUser inserts a user and reports whether the row was created.
	// A concurrent insert of the same subject is not an error; callers
	// re-read the row instead.
	CreateUser(ctx context.Context, user User) (bool, error)
}

// AuthCodeStore persists single-use authorization codes.
type AuthCodeStore interface {
	PutAuthCode(ctx context.Context, code AuthCode) error
	// ConsumeAuthCode atomically marks a live code used and returns it.
	ConsumeAuthCode(ctx context.Context, code string, now time.Time) (AuthCode, bool, error)
	DeleteExpiredAuthCodes(ctx context.Context, now time.Time) (int64, error)
}
