// Package credential manages stored passkeys on behalf of their owners.
package credential

import (
	"context"
	"strings"
	"time"

	"github.com/tessera-id/tessera/internal/storage"
)

// Info is the owner-facing view of a stored passkey.
type Info struct {
	CredentialID      string
	DeviceName        string
	AuthenticatorGUID string
	Transports        []string
	CreatedAt         time.Time
	LastUsedAt        *time.Time
}

// Manager exposes owner-scoped credential operations.
type Manager struct {
	store storage.CredentialStore
}

// NewManager builds a credential manager.
func NewManager(store storage.CredentialStore) *Manager {
	return &Manager{store: store}
}

// List returns the subject's credentials newest first. A blank or unknown
// subject yields an empty list, not an error.
func (m *Manager) List(ctx context.Context, subject string) ([]Info, error) {
	if strings.TrimSpace(subject) == "" {
		return []Info{}, nil
	}
	records, err := m.store.ListCredentialsBySubject(ctx, subject)
	if err != nil {
		return nil, err
	}
	infos := make([]Info, 0, len(records))
	for _, record := range records {
		infos = append(infos, Info{
			CredentialID:      record.CredentialID,
			DeviceName:        record.DeviceName,
			AuthenticatorGUID: record.AuthenticatorGUID,
			Transports:        record.Transports,
			CreatedAt:         record.CreatedAt,
			LastUsedAt:        record.LastUsedAt,
		})
	}
	return infos, nil
}

// Delete removes a credential only when the subject owns it. A mismatched
// owner reports false and mutates nothing.
func (m *Manager) Delete(ctx context.Context, subject string, credentialID string) (bool, error) {
	if strings.TrimSpace(subject) == "" || strings.TrimSpace(credentialID) == "" {
		return false, nil
	}
	return m.store.DeleteCredential(ctx, subject, credentialID)
}

// Count returns the number of credentials the subject owns.
func (m *Manager) Count(ctx context.Context, subject string) (int, error) {
	if strings.TrimSpace(subject) == "" {
		return 0, nil
	}
	return m.store.CountCredentials(ctx, subject)
}
