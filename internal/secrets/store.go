package secrets

import (
	"context"
	"errors"
	"log"
	"strings"
	"time"

	apperrors "github.com/loomhost/identity/internal/platform/errors"
	"github.com/loomhost/identity/internal/storage"
)

// Keys holds the key material for both secret-store generations.
type Keys struct {
	// Current is the master key-encryption key of the per-tenant scheme.
	Current []byte
	// Legacy is the single shared key of the older scheme. Optional; when
	// present it enables reads of legacy envelopes and their migration.
	Legacy []byte
}

// Store encrypts tenant secrets at rest and migrates legacy envelopes to the
// current generation opportunistically on read. Callers only ever see
// plaintext; which generation served a read is invisible to them.
type Store struct {
	store storage.SecretStore
	keys  Keys
	clock func() time.Time
}

// NewStore builds a secret store over the given persistence and key material.
func NewStore(store storage.SecretStore, keys Keys) *Store {
	return &Store{store: store, keys: keys, clock: time.Now}
}

// Put seals plaintext for a tenant and persists it. The current generation
// is preferred; without it the legacy key is used with a warning, and
// without either the value is stored as plaintext with a loud warning so
// non-production setups still function.
func (s *Store) Put(ctx context.Context, tenantID, keyName, plaintext string) error {
	if err := s.ensure(); err != nil {
		return err
	}

	var envelope string
	switch {
	case len(s.keys.Current) > 0:
		key, err := DeriveTenantKey(s.keys.Current, tenantID)
		if err != nil {
			return err
		}
		envelope, err = Encrypt(plaintext, key)
		if err != nil {
			return err
		}
	case len(s.keys.Legacy) > 0:
		var err error
		envelope, err = EncryptLegacy(plaintext, s.keys.Legacy)
		if err != nil {
			return err
		}
		log.Printf("secrets: no current key configured, sealing %s/%s under the legacy key", tenantID, keyName)
	default:
		envelope = plaintext
		log.Printf("secrets: WARNING no encryption key configured, storing %s/%s as plaintext", tenantID, keyName)
	}

	return s.store.PutTenantSecret(ctx, storage.TenantSecret{
		TenantID:  tenantID,
		KeyName:   keyName,
		Envelope:  envelope,
		UpdatedAt: s.clock().UTC(),
	})
}

// Get returns the plaintext for a tenant secret. The current generation is
// tried first; legacy envelopes that still open are re-encrypted under the
// current generation and persisted (write-through migration). A value sealed
// under a rotated-away key reads as absent rather than failing the caller.
func (s *Store) Get(ctx context.Context, tenantID, keyName string) (string, error) {
	if err := s.ensure(); err != nil {
		return "", err
	}

	record, err := s.store.GetTenantSecret(ctx, tenantID, keyName)
	if err != nil {
		return "", err
	}
	value := record.Envelope
	if !IsEncryptedValue(value) {
		return value, nil
	}

	if isCurrentEnvelope(value) {
		if len(s.keys.Current) == 0 {
			log.Printf("secrets: %s/%s is sealed under the current generation but no key is configured", tenantID, keyName)
			return "", storage.ErrNotFound
		}
		key, err := DeriveTenantKey(s.keys.Current, tenantID)
		if err != nil {
			return "", err
		}
		plaintext, err := Decrypt(value, key)
		if err != nil {
			if errors.Is(err, apperrors.New(apperrors.CodeDecryptFailed, "")) {
				log.Printf("secrets: %s/%s does not open under the current key, reporting absent", tenantID, keyName)
				return "", storage.ErrNotFound
			}
			return "", err
		}
		return plaintext, nil
	}

	// Legacy envelope.
	if len(s.keys.Legacy) == 0 {
		log.Printf("secrets: %s/%s is a legacy envelope but no legacy key is configured", tenantID, keyName)
		return "", storage.ErrNotFound
	}
	plaintext, err := Decrypt(value, s.keys.Legacy)
	if err != nil {
		if errors.Is(err, apperrors.New(apperrors.CodeDecryptFailed, "")) {
			log.Printf("secrets: %s/%s does not open under the legacy key, reporting absent", tenantID, keyName)
			return "", storage.ErrNotFound
		}
		return "", err
	}

	s.migrate(ctx, tenantID, keyName, plaintext)
	return plaintext, nil
}

// Delete removes a tenant secret.
func (s *Store) Delete(ctx context.Context, tenantID, keyName string) error {
	if err := s.ensure(); err != nil {
		return err
	}
	return s.store.DeleteTenantSecret(ctx, tenantID, keyName)
}

// migrate re-seals a legacy value under the current generation. Failures are
// logged and swallowed; the read already succeeded and must not degrade.
func (s *Store) migrate(ctx context.Context, tenantID, keyName, plaintext string) {
	if len(s.keys.Current) == 0 {
		return
	}
	key, err := DeriveTenantKey(s.keys.Current, tenantID)
	if err != nil {
		log.Printf("secrets: derive key for migration of %s/%s: %v", tenantID, keyName, err)
		return
	}
	envelope, err := Encrypt(plaintext, key)
	if err != nil {
		log.Printf("secrets: re-encrypt %s/%s: %v", tenantID, keyName, err)
		return
	}
	if err := s.store.PutTenantSecret(ctx, storage.TenantSecret{
		TenantID:  tenantID,
		KeyName:   keyName,
		Envelope:  envelope,
		UpdatedAt: s.clock().UTC(),
	}); err != nil {
		log.Printf("secrets: persist migrated %s/%s: %v", tenantID, keyName, err)
		return
	}
	log.Printf("secrets: migrated %s/%s from the legacy scheme to the current generation", tenantID, keyName)
}

func (s *Store) ensure() error {
	if s == nil || s.store == nil {
		return errors.New("secret store is not configured")
	}
	return nil
}

func isCurrentEnvelope(value string) bool {
	return strings.HasPrefix(value, envelopeVersion+":")
}
