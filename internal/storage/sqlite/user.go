package sqlite

import (
	"context"
	"database/sql"
	"errors"

	"github.com/tessera-id/tessera/internal/storage"
)

// GetUser retrieves a user by subject.
func (s *Store) GetUser(ctx context.Context, subject string) (storage.User, error) {
	var user storage.User
	var createdAt int64
	err := s.sqlDB.QueryRowContext(ctx,
		`SELECT id, organization_id, display_name, created_at FROM users WHERE id = ?`,
		subject,
	).Scan(&user.ID, &user.OrganizationID, &user.DisplayName, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.User{}, storage.ErrNotFound
		}
		return storage.User{}, err
	}
	user.CreatedAt = fromMillis(createdAt)
	return user, nil
}

// CreateUser inserts a user row and reports whether it was created.
//
// A concurrent insert for the same subject is tolerated: the conflicting
// insert becomes a no-op and the caller re-reads the winning row.
func (s *Store) CreateUser(ctx context.Context, user storage.User) (bool, error) {
	result, err := s.sqlDB.ExecContext(ctx,
		`INSERT INTO users (id, organization_id, display_name, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING`,
		user.ID, user.OrganizationID, user.DisplayName, toMillis(user.CreatedAt),
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
