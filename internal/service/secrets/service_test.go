package secrets

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/skyhook-dev/skyhook/internal/domain"
	"github.com/skyhook-dev/skyhook/internal/repository"
	"github.com/skyhook-dev/skyhook/pkg/crypto"
)

type fakeSecretStore struct {
	keys    map[string][]byte
	secrets map[string]domain.Secret
	// conflictSeed simulates a concurrent creator: the insert fails with
	// ErrConflict and this key becomes the committed row.
	conflictSeed []byte
	getCalls     int
}

func newFakeSecretStore() *fakeSecretStore {
	return &fakeSecretStore{
		keys:    map[string][]byte{},
		secrets: map[string]domain.Secret{},
	}
}

func (f *fakeSecretStore) UpsertSecret(_ context.Context, secret *domain.Secret) error {
	f.secrets[secret.ProjectID+"/"+secret.Label] = *secret
	return nil
}

func (f *fakeSecretStore) ListChannelSecrets(_ context.Context, projectID, channel string) ([]domain.Secret, error) {
	out := make([]domain.Secret, 0)
	for _, s := range f.secrets {
		if s.ProjectID == projectID && s.Channel == channel {
			out = append(out, s)
		}
	}
	return out, nil
}

func (f *fakeSecretStore) DeleteSecret(_ context.Context, projectID, label string) error {
	delete(f.secrets, projectID+"/"+label)
	return nil
}

func (f *fakeSecretStore) GetProjectKey(_ context.Context, projectID string) (*domain.ProjectKey, error) {
	f.getCalls++
	key, ok := f.keys[projectID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &domain.ProjectKey{ProjectID: projectID, Key: key, CreatedAt: time.Now().UTC()}, nil
}

func (f *fakeSecretStore) CreateProjectKey(_ context.Context, key *domain.ProjectKey) error {
	if f.conflictSeed != nil {
		f.keys[key.ProjectID] = f.conflictSeed
		return repository.ErrConflict
	}
	f.keys[key.ProjectID] = key.Key
	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestProjectKeyGeneratedOnce(t *testing.T) {
	store := newFakeSecretStore()
	svc := New(store, testLogger())

	first, err := svc.ProjectKey(context.Background(), "project-1")
	if err != nil {
		t.Fatalf("ProjectKey: %v", err)
	}
	if len(first) != crypto.KeySize {
		t.Fatalf("expected %d byte key, got %d", crypto.KeySize, len(first))
	}

	second, err := svc.ProjectKey(context.Background(), "project-1")
	if err != nil {
		t.Fatalf("ProjectKey: %v", err)
	}
	if string(first) != string(second) {
		t.Fatalf("expected stable key across calls")
	}
}

func TestProjectKeyConflictReReads(t *testing.T) {
	store := newFakeSecretStore()
	winner, err := crypto.NewKey()
	if err != nil {
		t.Fatalf("NewKey: %v", err)
	}
	store.conflictSeed = winner

	svc := New(store, testLogger())
	key, err := svc.ProjectKey(context.Background(), "project-1")
	if err != nil {
		t.Fatalf("ProjectKey: %v", err)
	}
	if string(key) != string(winner) {
		t.Fatalf("expected the concurrent winner's key after conflict")
	}
	if store.getCalls != 2 {
		t.Fatalf("expected a re-read after the conflict, got %d reads", store.getCalls)
	}
}

func TestChannelEnvRoundTrip(t *testing.T) {
	store := newFakeSecretStore()
	svc := New(store, testLogger())
	ctx := context.Background()

	if err := svc.Set(ctx, "project-1", domain.ChannelDev, "DATABASE_URL", "postgres://example"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := svc.Set(ctx, "project-1", domain.ChannelDev, "API_TOKEN", "tok-123"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := svc.Set(ctx, "project-1", domain.ChannelPreview, "OTHER", "nope"); err != nil {
		t.Fatalf("Set: %v", err)
	}

	env, err := svc.ChannelEnv(ctx, "project-1", domain.ChannelDev)
	if err != nil {
		t.Fatalf("ChannelEnv: %v", err)
	}
	if len(env) != 2 {
		t.Fatalf("expected 2 dev secrets, got %d", len(env))
	}
	if env["DATABASE_URL"] != "postgres://example" || env["API_TOKEN"] != "tok-123" {
		t.Fatalf("unexpected env: %v", env)
	}
}

func TestChannelEnvFailsClosedOnCorruption(t *testing.T) {
	store := newFakeSecretStore()
	svc := New(store, testLogger())
	ctx := context.Background()

	if err := svc.Set(ctx, "project-1", domain.ChannelDev, "SECRET", "value"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	stored := store.secrets["project-1/SECRET"]
	stored.Ciphertext[0] ^= 0xff
	store.secrets["project-1/SECRET"] = stored

	if _, err := svc.ChannelEnv(ctx, "project-1", domain.ChannelDev); err == nil {
		t.Fatalf("expected decryption failure for corrupted ciphertext")
	}
}

func TestChannelEnvEmptyWithoutSecrets(t *testing.T) {
	store := newFakeSecretStore()
	svc := New(store, testLogger())

	env, err := svc.ChannelEnv(context.Background(), "project-9", domain.ChannelDev)
	if err != nil {
		t.Fatalf("ChannelEnv: %v", err)
	}
	if len(env) != 0 {
		t.Fatalf("expected empty env, got %v", env)
	}
	if len(store.keys) != 0 {
		t.Fatalf("no key should be generated for an empty channel")
	}
}
