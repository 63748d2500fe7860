package postgres

import (
	"context"

	"github.com/skyhook-dev/skyhook/internal/domain"
)

// UpsertSecret inserts or replaces a secret value. Uniqueness is on
// (project_id, label); a rewrite under a new channel moves the secret.
func (r *Repository) UpsertSecret(ctx context.Context, secret *domain.Secret) error {
	const query = `INSERT INTO secrets (id, project_id, label, channel, nonce, ciphertext, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (project_id, label) DO UPDATE SET
			channel = EXCLUDED.channel,
			nonce = EXCLUDED.nonce,
			ciphertext = EXCLUDED.ciphertext`
	_, err := r.db.Exec(ctx, query, secret.ID, secret.ProjectID, secret.Label,
		secret.Channel, secret.Nonce, secret.Ciphertext, secret.CreatedAt)
	return mapError(err)
}

// ListChannelSecrets returns all secrets for a project channel.
func (r *Repository) ListChannelSecrets(ctx context.Context, projectID, channel string) ([]domain.Secret, error) {
	const query = `SELECT id, project_id, label, channel, nonce, ciphertext, created_at
		FROM secrets WHERE project_id = $1 AND channel = $2 ORDER BY label`
	rows, err := r.db.Query(ctx, query, projectID, channel)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	secrets := make([]domain.Secret, 0)
	for rows.Next() {
		var s domain.Secret
		if err := rows.Scan(&s.ID, &s.ProjectID, &s.Label, &s.Channel, &s.Nonce, &s.Ciphertext, &s.CreatedAt); err != nil {
			return nil, err
		}
		secrets = append(secrets, s)
	}
	return secrets, rows.Err()
}

// DeleteSecret removes a secret by label.
func (r *Repository) DeleteSecret(ctx context.Context, projectID, label string) error {
	const query = `DELETE FROM secrets WHERE project_id = $1 AND label = $2`
	_, err := r.db.Exec(ctx, query, projectID, label)
	return mapError(err)
}

// GetProjectKey fetches a project's symmetric key.
func (r *Repository) GetProjectKey(ctx context.Context, projectID string) (*domain.ProjectKey, error) {
	const query = `SELECT project_id, key, created_at FROM project_keys WHERE project_id = $1`
	row := r.db.QueryRow(ctx, query, projectID)
	var k domain.ProjectKey
	if err := row.Scan(&k.ProjectID, &k.Key, &k.CreatedAt); err != nil {
		return nil, mapError(err)
	}
	return &k, nil
}

// CreateProjectKey persists a freshly generated key. project_id is the primary
// key, so a concurrent creator surfaces ErrConflict instead of a second key.
func (r *Repository) CreateProjectKey(ctx context.Context, key *domain.ProjectKey) error {
	const query = `INSERT INTO project_keys (project_id, key, created_at) VALUES ($1, $2, $3)`
	_, err := r.db.Exec(ctx, query, key.ProjectID, key.Key, key.CreatedAt)
	return mapError(err)
}
