package secrets

import (
	"context"
	"errors"
	"fmt"
	"time"

	"log/slog"

	"github.com/google/uuid"

	"github.com/skyhook-dev/skyhook/internal/domain"
	"github.com/skyhook-dev/skyhook/internal/repository"
	"github.com/skyhook-dev/skyhook/pkg/crypto"
)

// Service owns per-project symmetric keys and channel-scoped secrets.
type Service struct {
	store  repository.SecretRepository
	logger *slog.Logger
}

// New constructs a secrets service.
func New(store repository.SecretRepository, logger *slog.Logger) Service {
	return Service{store: store, logger: logger}
}

// ProjectKey returns the project's symmetric key, generating and persisting
// one on first use. A concurrent first-writer loses on the primary key and
// re-reads the winner's key, so two distinct keys can never coexist.
func (s Service) ProjectKey(ctx context.Context, projectID string) ([]byte, error) {
	key, err := s.store.GetProjectKey(ctx, projectID)
	if err == nil {
		return key.Key, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, err
	}

	fresh, err := crypto.NewKey()
	if err != nil {
		return nil, err
	}
	createErr := s.store.CreateProjectKey(ctx, &domain.ProjectKey{
		ProjectID: projectID,
		Key:       fresh,
		CreatedAt: time.Now().UTC(),
	})
	if createErr != nil && !errors.Is(createErr, repository.ErrConflict) {
		return nil, createErr
	}
	// Re-read rather than trusting the in-memory value: on conflict another
	// creator won the race and its key is authoritative.
	stored, err := s.store.GetProjectKey(ctx, projectID)
	if err != nil {
		return nil, err
	}
	return stored.Key, nil
}

// Set encrypts and stores one secret value for a project channel.
func (s Service) Set(ctx context.Context, projectID, channel, label, value string) error {
	key, err := s.ProjectKey(ctx, projectID)
	if err != nil {
		return err
	}
	ciphertext, nonce, err := crypto.Encrypt(key, value)
	if err != nil {
		return err
	}
	return s.store.UpsertSecret(ctx, &domain.Secret{
		ID:         uuid.NewString(),
		ProjectID:  projectID,
		Label:      label,
		Channel:    channel,
		Nonce:      nonce,
		Ciphertext: ciphertext,
		CreatedAt:  time.Now().UTC(),
	})
}

// Delete removes a secret by label.
func (s Service) Delete(ctx context.Context, projectID, label string) error {
	return s.store.DeleteSecret(ctx, projectID, label)
}

// ChannelEnv decrypts every secret of the (project, channel) pair into a
// label to plaintext mapping. Decryption fails closed: one corrupted secret
// fails the whole load.
func (s Service) ChannelEnv(ctx context.Context, projectID, channel string) (map[string]string, error) {
	stored, err := s.store.ListChannelSecrets(ctx, projectID, channel)
	if err != nil {
		return nil, err
	}
	if len(stored) == 0 {
		return map[string]string{}, nil
	}
	key, err := s.ProjectKey(ctx, projectID)
	if err != nil {
		return nil, err
	}
	env := make(map[string]string, len(stored))
	for _, secret := range stored {
		plain, err := crypto.Decrypt(key, secret.Ciphertext, secret.Nonce)
		if err != nil {
			return nil, fmt.Errorf("decrypt secret %s: %w", secret.Label, err)
		}
		env[secret.Label] = plain
	}
	return env, nil
}
