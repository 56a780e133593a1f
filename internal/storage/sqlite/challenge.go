package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/tessera-id/tessera/internal/storage"
)

// PutChallenge stores a challenge, replacing any prior row for the session id.
func (s *Store) PutChallenge(ctx context.Context, challenge storage.Challenge) error {
	_, err := s.sqlDB.ExecContext(ctx,
		`INSERT INTO challenges
		(session_id, challenge, kind, actor_kind, subject, rp_id, client_id, expires_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET
			challenge = excluded.challenge,
			kind = excluded.kind,
			actor_kind = excluded.actor_kind,
			subject = excluded.subject,
			rp_id = excluded.rp_id,
			client_id = excluded.client_id,
			expires_at = excluded.expires_at,
			created_at = excluded.created_at`,
		challenge.SessionID, challenge.Challenge, string(challenge.Kind), string(challenge.Actor),
		challenge.Subject, challenge.RelyingPartyID, challenge.ClientID,
		toMillis(challenge.ExpiresAt), toMillis(challenge.CreatedAt),
	)
	return err
}

// GetChallenge retrieves a challenge by session id regardless of expiry.
func (s *Store) GetChallenge(ctx context.Context, sessionID string) (storage.Challenge, error) {
	var challenge storage.Challenge
	var kind, actor string
	var expiresAt, createdAt int64
	err := s.sqlDB.QueryRowContext(ctx,
		`SELECT session_id, challenge, kind, actor_kind, subject, rp_id, client_id, expires_at, created_at
		FROM challenges WHERE session_id = ?`,
		sessionID,
	).Scan(
		&challenge.SessionID, &challenge.Challenge, &kind, &actor,
		&challenge.Subject, &challenge.RelyingPartyID, &challenge.ClientID,
		&expiresAt, &createdAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.Challenge{}, storage.ErrNotFound
		}
		return storage.Challenge{}, err
	}
	challenge.Kind = storage.ChallengeKind(kind)
	challenge.Actor = storage.ActorKind(actor)
	challenge.ExpiresAt = fromMillis(expiresAt)
	challenge.CreatedAt = fromMillis(createdAt)
	return challenge, nil
}

// DeleteChallenge removes a challenge and reports whether a row existed.
func (s *Store) DeleteChallenge(ctx context.Context, sessionID string) (bool, error) {
	result, err := s.sqlDB.ExecContext(ctx, `DELETE FROM challenges WHERE session_id = ?`, sessionID)
	if err != nil {
		return false, err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows > 0, nil
}

// DeleteExpiredChallenges removes every challenge at or past its expiry.
func (s *Store) DeleteExpiredChallenges(ctx context.Context, now time.Time) (int64, error) {
	result, err := s.sqlDB.ExecContext(ctx, `DELETE FROM challenges WHERE expires_at <= ?`, toMillis(now))
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
