// Package authcode issues opaque single-use authorization codes.
package authcode

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/tessera-id/tessera/internal/storage"
)

// Issuer creates and consumes authorization codes.
type Issuer struct {
	store storage.AuthCodeStore
	clock func() time.Time
}

// NewIssuer builds an authorization code issuer.
func NewIssuer(store storage.AuthCodeStore) *Issuer {
	return &Issuer{store: store, clock: time.Now}
}

func generateCode(length int) (string, error) {
	bytes := make([]byte, length)
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}
	return hex.EncodeToString(bytes), nil
}

// Issue stores a fresh single-use code bound to the subject and client.
func (i *Issuer) Issue(ctx context.Context, subject string, clientID int64, redirectURI string, state string, scope string, ttl time.Duration, isB2B bool) (string, error) {
	code, err := generateCode(32)
	if err != nil {
		return "", fmt.Errorf("generate authorization code: %w", err)
	}
	if err := i.store.PutAuthCode(ctx, storage.AuthCode{
		Code:        code,
		Subject:     subject,
		ClientID:    clientID,
		RedirectURI: redirectURI,
		State:       state,
		Scope:       scope,
		IsB2B:       isB2B,
		ExpiresAt:   i.clock().UTC().Add(ttl),
	}); err != nil {
		return "", fmt.Errorf("store authorization code: %w", err)
	}
	return code, nil
}

// Consume atomically redeems a live code. A second redemption reports false.
func (i *Issuer) Consume(ctx context.Context, code string) (storage.AuthCode, bool, error) {
	return i.store.ConsumeAuthCode(ctx, code, i.clock().UTC())
}

// Sweep deletes expired codes.
func (i *Issuer) Sweep(ctx context.Context) (int64, error) {
	return i.store.DeleteExpiredAuthCodes(ctx, i.clock().UTC())
}
