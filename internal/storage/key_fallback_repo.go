package storage

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// KeyFallbackRepository persists handshake secret keys in plaintext. This is
// an explicitly insecure convenience for environments where losing in-memory
// key material between callback deliveries is worse than the exposure; it is
// only wired when the deployment opts in. Nothing reads it automatically and
// nothing writes to it without an explicit save.
type KeyFallbackRepository struct {
	store *Store
	name  string
}

// NewKeyFallbackRepository creates a fallback repository scoped to one named
// key slot.
func NewKeyFallbackRepository(store *Store, name string) *KeyFallbackRepository {
	return &KeyFallbackRepository{store: store, name: name}
}

// LoadSecretKey retrieves the persisted secret key for this slot.
func (r *KeyFallbackRepository) LoadSecretKey(ctx context.Context) ([]byte, error) {
	query := `SELECT secret_key FROM insecure_key_fallback WHERE name = $1`

	var secret []byte
	err := r.store.pool.QueryRow(ctx, query, r.name).Scan(&secret)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, fmt.Errorf("no fallback key for %q", r.name)
		}
		return nil, fmt.Errorf("failed to load fallback key: %w", err)
	}

	return secret, nil
}

// SaveSecretKey persists the secret key, replacing any previous value.
func (r *KeyFallbackRepository) SaveSecretKey(ctx context.Context, secret []byte) error {
	query := `
		INSERT INTO insecure_key_fallback (name, secret_key)
		VALUES ($1, $2)
		ON CONFLICT (name) DO UPDATE SET secret_key = $2, updated_at = NOW()
	`

	_, err := r.store.pool.Exec(ctx, query, r.name, secret)
	if err != nil {
		return fmt.Errorf("failed to save fallback key: %w", err)
	}

	return nil
}

// DeleteSecretKey removes the persisted secret key.
func (r *KeyFallbackRepository) DeleteSecretKey(ctx context.Context) error {
	_, err := r.store.pool.Exec(ctx, `DELETE FROM insecure_key_fallback WHERE name = $1`, r.name)
	if err != nil {
		return fmt.Errorf("failed to delete fallback key: %w", err)
	}

	return nil
}
