package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/loomhost/identity/internal/storage"
)

// PutTenantSecret stores or replaces one tenant secret envelope.
// Concurrent writes to the same (tenant, key) pair are last-write-wins.
func (s *Store) PutTenantSecret(ctx context.Context, secret storage.TenantSecret) error {
	if err := s.ensureDB(); err != nil {
		return err
	}
	if strings.TrimSpace(secret.TenantID) == "" {
		return errors.New("tenant id is required")
	}
	if strings.TrimSpace(secret.KeyName) == "" {
		return errors.New("secret key name is required")
	}
	_, err := s.sqlDB.ExecContext(ctx,
		`INSERT INTO tenant_secrets (tenant_id, key_name, envelope, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(tenant_id, key_name) DO UPDATE SET
			envelope = excluded.envelope,
			updated_at = excluded.updated_at`,
		secret.TenantID, secret.KeyName, secret.Envelope, toMillis(secret.UpdatedAt),
	)
	return err
}

// GetTenantSecret retrieves one tenant secret envelope.
func (s *Store) GetTenantSecret(ctx context.Context, tenantID, keyName string) (storage.TenantSecret, error) {
	if err := s.ensureDB(); err != nil {
		return storage.TenantSecret{}, err
	}
	var secret storage.TenantSecret
	var updatedAt int64
	err := s.sqlDB.QueryRowContext(ctx,
		`SELECT tenant_id, key_name, envelope, updated_at
		FROM tenant_secrets WHERE tenant_id = ? AND key_name = ?`,
		tenantID, keyName,
	).Scan(&secret.TenantID, &secret.KeyName, &secret.Envelope, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.TenantSecret{}, storage.ErrNotFound
		}
		return storage.TenantSecret{}, err
	}
	secret.UpdatedAt = fromMillis(updatedAt)
	return secret, nil
}

// DeleteTenantSecret removes one tenant secret.
func (s *Store) DeleteTenantSecret(ctx context.Context, tenantID, keyName string) error {
	if err := s.ensureDB(); err != nil {
		return err
	}
	_, err := s.sqlDB.ExecContext(ctx,
		`DELETE FROM tenant_secrets WHERE tenant_id = ? AND key_name = ?`,
		tenantID, keyName)
	return err
}
