package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/tessera-id/tessera/internal/storage"
)

// PutTokenRecord stores revocation bookkeeping for an issued access token.
func (s *Store) PutTokenRecord(ctx context.Context, record storage.TokenRecord) error {
	_, err := s.sqlDB.ExecContext(ctx,
		`INSERT INTO token_records
		(jti, subject, subject_kind, client_id, expires_at, scopes, is_revoked, revoked_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, NULL)`,
		record.JTI, record.Subject, string(record.SubjectKind), record.ClientID,
		toMillis(record.ExpiresAt), record.Scopes, boolToInt(record.IsRevoked),
	)
	if isUniqueViolation(err) {
		return storage.ErrAlreadyExists
	}
	return err
}

// GetTokenRecord retrieves a token record by jti.
func (s *Store) GetTokenRecord(ctx context.Context, jti string) (storage.TokenRecord, error) {
	var record storage.TokenRecord
	var subjectKind string
	var expiresAt int64
	var isRevoked int
	var revokedAt sql.NullInt64
	err := s.sqlDB.QueryRowContext(ctx,
		`SELECT jti, subject, subject_kind, client_id, expires_at, scopes, is_revoked, revoked_at
		FROM token_records WHERE jti = ?`,
		jti,
	).Scan(&record.JTI, &record.Subject, &subjectKind, &record.ClientID, &expiresAt, &record.Scopes, &isRevoked, &revokedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.TokenRecord{}, storage.ErrNotFound
		}
		return storage.TokenRecord{}, err
	}
	record.SubjectKind = storage.ActorKind(subjectKind)
	record.ExpiresAt = fromMillis(expiresAt)
	record.IsRevoked = isRevoked != 0
	if revokedAt.Valid {
		value := fromMillis(revokedAt.Int64)
		record.RevokedAt = &value
	}
	return record, nil
}

// RevokeTokenRecord marks a token record revoked. The update only stamps
// revoked_at the first time; revoking an already-revoked record still
// reports true.
func (s *Store) RevokeTokenRecord(ctx context.Context, jti string, revokedAt time.Time) (bool, error) {
	result, err := s.sqlDB.ExecContext(ctx,
		`UPDATE token_records SET is_revoked = 1,
			revoked_at = COALESCE(revoked_at, ?)
		WHERE jti = ?`,
		toMillis(revokedAt), jti,
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

// PutAuthCode stores an authorization code.
func (s *Store) PutAuthCode(ctx context.Context, code storage.AuthCode) error {
	_, err := s.sqlDB.ExecContext(ctx,
		`INSERT INTO auth_codes
		(code, subject, client_id, redirect_uri, state, scope, is_b2b, expires_at, used)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, 0)`,
		code.Code, code.Subject, code.ClientID, code.RedirectURI,
		code.State, code.Scope, boolToInt(code.IsB2B), toMillis(code.ExpiresAt),
	)
	if isUniqueViolation(err) {
		return storage.ErrAlreadyExists
	}
	return err
}

// ConsumeAuthCode atomically marks a live, unused code as used and returns it.
func (s *Store) ConsumeAuthCode(ctx context.Context, code string, now time.Time) (storage.AuthCode, bool, error) {
	result, err := s.sqlDB.ExecContext(ctx,
		`UPDATE auth_codes SET used = 1 WHERE code = ? AND used = 0 AND expires_at > ?`,
		code, toMillis(now),
	)
	if err != nil {
		return storage.AuthCode{}, false, err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return storage.AuthCode{}, false, err
	}
	if rows != 1 {
		return storage.AuthCode{}, false, nil
	}

	var stored storage.AuthCode
	var isB2B, used int
	var expiresAt int64
	err = s.sqlDB.QueryRowContext(ctx,
		`SELECT code, subject, client_id, redirect_uri, state, scope, is_b2b, expires_at, used
		FROM auth_codes WHERE code = ?`,
		code,
	).Scan(&stored.Code, &stored.Subject, &stored.ClientID, &stored.RedirectURI,
		&stored.State, &stored.Scope, &isB2B, &expiresAt, &used)
	if err != nil {
		return storage.AuthCode{}, false, err
	}
	stored.IsB2B = isB2B != 0
	stored.ExpiresAt = fromMillis(expiresAt)
	stored.Used = used != 0
	return stored, true, nil
}

// DeleteExpiredAuthCodes removes codes at or past their expiry.
func (s *Store) DeleteExpiredAuthCodes(ctx context.Context, now time.Time) (int64, error) {
	result, err := s.sqlDB.ExecContext(ctx, `DELETE FROM auth_codes WHERE expires_at <= ?`, toMillis(now))
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func boolToInt(value bool) int {
	if value {
		return 1
	}
	return 0
}
