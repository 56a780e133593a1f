package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/tessera-id/tessera/internal/storage"
)

const credentialColumns = `credential_id, owner_subject, public_key, sign_count,
	device_name, authenticator_guid, transports, created_at, last_used_at`

// InsertCredential stores a new credential. The primary key on credential_id
// is the uniqueness authority; concurrent duplicate inserts surface as
// ErrAlreadyExists.
func (s *Store) InsertCredential(ctx context.Context, credential storage.Credential) error {
	_, err := s.sqlDB.ExecContext(ctx,
		`INSERT INTO credentials
		(credential_id, owner_subject, public_key, sign_count, device_name, authenticator_guid, transports, created_at, last_used_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, NULL)`,
		credential.CredentialID, credential.OwnerSubject, credential.PublicKey, credential.SignCount,
		credential.DeviceName, credential.AuthenticatorGUID, strings.Join(credential.Transports, ","),
		toMillis(credential.CreatedAt),
	)
	if isUniqueViolation(err) {
		return storage.ErrAlreadyExists
	}
	return err
}

// GetCredential looks up a credential by its globally-unique id.
func (s *Store) GetCredential(ctx context.Context, credentialID string) (storage.Credential, error) {
	row := s.sqlDB.QueryRowContext(ctx,
		`SELECT `+credentialColumns+` FROM credentials WHERE credential_id = ?`,
		credentialID,
	)
	return scanCredential(row.Scan)
}

// ListCredentialsBySubject returns a subject's credentials newest first.
func (s *Store) ListCredentialsBySubject(ctx context.Context, subject string) ([]storage.Credential, error) {
	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT `+credentialColumns+` FROM credentials
		WHERE owner_subject = ? ORDER BY created_at DESC`,
		subject,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectCredentials(rows)
}

// ListCredentialsByOrganization returns every credential owned by any user in
// the organization, newest first.
func (s *Store) ListCredentialsByOrganization(ctx context.Context, organizationID string) ([]storage.Credential, error) {
	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT c.credential_id, c.owner_subject, c.public_key, c.sign_count,
			c.device_name, c.authenticator_guid, c.transports, c.created_at, c.last_used_at
		FROM credentials c
		JOIN users u ON u.id = c.owner_subject
		WHERE u.organization_id = ?
		ORDER BY c.created_at DESC`,
		organizationID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectCredentials(rows)
}

// DeleteCredential removes a credential only when the subject owns it.
func (s *Store) DeleteCredential(ctx context.Context, subject string, credentialID string) (bool, error) {
	result, err := s.sqlDB.ExecContext(ctx,
		`DELETE FROM credentials WHERE credential_id = ? AND owner_subject = ?`,
		credentialID, subject,
	)
	if err != nil {
		return false, err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows == 1, nil
}

// CountCredentials counts a subject's credentials.
func (s *Store) CountCredentials(ctx context.Context, subject string) (int, error) {
	var count int
	err := s.sqlDB.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM credentials WHERE owner_subject = ?`, subject,
	).Scan(&count)
	return count, err
}

// UpdateCredentialUsage overwrites the signature counter and stamps last use.
func (s *Store) UpdateCredentialUsage(ctx context.Context, credentialID string, signCount uint32, usedAt time.Time) error {
	result, err := s.sqlDB.ExecContext(ctx,
		`UPDATE credentials SET sign_count = ?, last_used_at = ? WHERE credential_id = ?`,
		signCount, toMillis(usedAt), credentialID,
	)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func scanCredential(scan func(dest ...any) error) (storage.Credential, error) {
	var credential storage.Credential
	var transports string
	var createdAt int64
	var lastUsedAt sql.NullInt64
	err := scan(
		&credential.CredentialID, &credential.OwnerSubject, &credential.PublicKey, &credential.SignCount,
		&credential.DeviceName, &credential.AuthenticatorGUID, &transports, &createdAt, &lastUsedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.Credential{}, storage.ErrNotFound
		}
		return storage.Credential{}, err
	}
	if transports != "" {
		credential.Transports = strings.Split(transports, ",")
	}
	credential.CreatedAt = fromMillis(createdAt)
	if lastUsedAt.Valid {
		value := fromMillis(lastUsedAt.Int64)
		credential.LastUsedAt = &value
	}
	return credential, nil
}

func collectCredentials(rows *sql.Rows) ([]storage.Credential, error) {
	credentials := make([]storage.Credential, 0)
	for rows.Next() {
		credential, err := scanCredential(rows.Scan)
		if err != nil {
			return nil, err
		}
		credentials = append(credentials, credential)
	}
	return credentials, rows.Err()
}
