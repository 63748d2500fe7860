package repository

import (
	"context"

	"github.com/skyhook-dev/skyhook/internal/domain"
)

// ReleaseRepository persists releases and their volumes.
type ReleaseRepository interface {
	CreateRelease(ctx context.Context, release *domain.Release) error
	GetReleaseByID(ctx context.Context, id string) (*domain.Release, error)
	// GetLiveRelease locates the single live release for (projectID, channel,
	// name, serviceName).
	GetLiveRelease(ctx context.Context, projectID, channel, name, serviceName string) (*domain.Release, error)
	// GetReleaseAnyState also matches soft-deleted rows, for restore.
	GetReleaseAnyState(ctx context.Context, projectID, channel, name string) (*domain.Release, error)
	ListLiveReleases(ctx context.Context) ([]domain.Release, error)
	ListSuccessfulReleases(ctx context.Context, projectID, channel, name string) ([]domain.Release, error)
	UpdateReleaseStatus(ctx context.Context, id, status, conclusion, containerName string) error
	// SoftDeleteSuperseded marks every other live release sharing the tuple as
	// deleted, excluding keepID.
	SoftDeleteSuperseded(ctx context.Context, projectID, channel, name, serviceName, keepID string) error
	SoftDeleteRelease(ctx context.Context, id string) error
	RestoreRelease(ctx context.Context, id string) error

	UpsertVolume(ctx context.Context, volume *domain.Volume) error
	ListReleaseVolumes(ctx context.Context, releaseID string) ([]domain.Volume, error)
	SoftDeleteReleaseVolumes(ctx context.Context, releaseID string) error
	RestoreReleaseVolumes(ctx context.Context, releaseID string) error
}

// SecretRepository persists encrypted secrets and per-project keys.
type SecretRepository interface {
	UpsertSecret(ctx context.Context, secret *domain.Secret) error
	ListChannelSecrets(ctx context.Context, projectID, channel string) ([]domain.Secret, error)
	DeleteSecret(ctx context.Context, projectID, label string) error
	GetProjectKey(ctx context.Context, projectID string) (*domain.ProjectKey, error)
	CreateProjectKey(ctx context.Context, key *domain.ProjectKey) error
}

// ProjectRepository resolves the project ownership chain.
type ProjectRepository interface {
	GetProjectByID(ctx context.Context, projectID string) (*domain.Project, error)
	// GetOrganizationName walks project -> workspace -> organization. Returns
	// ErrNotFound when any link is missing.
	GetOrganizationName(ctx context.Context, projectID string) (string, error)
}

// Store bundles the persistence interfaces with an explicit transaction
// boundary. WithTx runs fn against a transaction-bound Store and commits when
// fn returns nil; there is no ambient transaction state.
type Store interface {
	ReleaseRepository
	SecretRepository
	ProjectRepository
	WithTx(ctx context.Context, fn func(Store) error) error
}
