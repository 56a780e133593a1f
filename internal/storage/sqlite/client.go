package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/tessera-id/tessera/internal/storage"
)

// PutClient stores a tenant client, replacing any existing row.
func (s *Store) PutClient(ctx context.Context, client storage.Client) error {
	_, err := s.sqlDB.ExecContext(ctx,
		`INSERT INTO clients (id, secret, allowed_rp_ids, redirect_uris, organization_id)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			secret = excluded.secret,
			allowed_rp_ids = excluded.allowed_rp_ids,
			redirect_uris = excluded.redirect_uris,
			organization_id = excluded.organization_id`,
		client.ID, client.Secret,
		strings.Join(client.AllowedRelyingPartyIDs, ","),
		strings.Join(client.RedirectURIs, ","),
		client.OrganizationID,
	)
	return err
}

// GetClient retrieves a tenant client by id.
func (s *Store) GetClient(ctx context.Context, id int64) (storage.Client, error) {
	var client storage.Client
	var allowedRPs, redirectURIs string
	err := s.sqlDB.QueryRowContext(ctx,
		`SELECT id, secret, allowed_rp_ids, redirect_uris, organization_id FROM clients WHERE id = ?`,
		id,
	).Scan(&client.ID, &client.Secret, &allowedRPs, &redirectURIs, &client.OrganizationID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.Client{}, storage.ErrNotFound
		}
		return storage.Client{}, err
	}
	if allowedRPs != "" {
		client.AllowedRelyingPartyIDs = strings.Split(allowedRPs, ",")
	}
	if redirectURIs != "" {
		client.RedirectURIs = strings.Split(redirectURIs, ",")
	}
	return client, nil
}

// PutClientKeyPair stores the signing key pair for a client.
func (s *Store) PutClientKeyPair(ctx context.Context, pair storage.ClientKeyPair) error {
	_, err := s.sqlDB.ExecContext(ctx,
		`INSERT INTO client_keys (client_id, public_key, private_key)
		VALUES (?, ?, ?)
		ON CONFLICT(client_id) DO UPDATE SET
			public_key = excluded.public_key,
			private_key = excluded.private_key`,
		pair.ClientID, pair.PublicKey, pair.PrivateKey,
	)
	return err
}

// GetClientKeyPair retrieves the signing key pair for a client.
func (s *Store) GetClientKeyPair(ctx context.Context, clientID int64) (storage.ClientKeyPair, error) {
	var pair storage.ClientKeyPair
	err := s.sqlDB.QueryRowContext(ctx,
		`SELECT client_id, public_key, private_key FROM client_keys WHERE client_id = ?`,
		clientID,
	).Scan(&pair.ClientID, &pair.PublicKey, &pair.PrivateKey)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.ClientKeyPair{}, storage.ErrNotFound
		}
		return storage.ClientKeyPair{}, err
	}
	return pair, nil
}
