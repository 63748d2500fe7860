package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/skyhook-dev/skyhook/internal/domain"
)

const releaseColumns = `id, project_id, name, channel, status, conclusion, image,
	tar_location, container_name, domain_prefix, port, protocol, runtime_config,
	service_name, created_at, updated_at, deleted_at`

// CreateRelease inserts a release row.
func (r *Repository) CreateRelease(ctx context.Context, release *domain.Release) error {
	const query = `INSERT INTO releases (id, project_id, name, channel, status, conclusion, image,
		tar_location, container_name, domain_prefix, port, protocol, runtime_config, service_name,
		created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`
	_, err := r.db.Exec(ctx, query,
		release.ID, release.ProjectID, release.Name, release.Channel, release.Status,
		release.Conclusion, release.Image, release.TarLocation, release.ContainerName,
		release.DomainPrefix, release.Port, release.Protocol, release.RuntimeConfig,
		release.ServiceName, release.CreatedAt, release.UpdatedAt)
	return mapError(err)
}

// GetReleaseByID fetches a release regardless of deletion state.
func (r *Repository) GetReleaseByID(ctx context.Context, id string) (*domain.Release, error) {
	const query = `SELECT ` + releaseColumns + ` FROM releases WHERE id = $1`
	return r.scanRelease(r.db.QueryRow(ctx, query, id))
}

// GetLiveRelease locates the live release for the identifying tuple.
func (r *Repository) GetLiveRelease(ctx context.Context, projectID, channel, name, serviceName string) (*domain.Release, error) {
	const query = `SELECT ` + releaseColumns + ` FROM releases
		WHERE project_id = $1 AND channel = $2 AND name = $3 AND service_name = $4
		AND deleted_at IS NULL AND status = $5 AND conclusion = $6
		ORDER BY created_at DESC LIMIT 1`
	return r.scanRelease(r.db.QueryRow(ctx, query, projectID, channel, name, serviceName,
		domain.StatusCompleted, domain.ConclusionSuccess))
}

// GetReleaseAnyState fetches the most recent release for the tuple including
// soft-deleted rows, used by restore.
func (r *Repository) GetReleaseAnyState(ctx context.Context, projectID, channel, name string) (*domain.Release, error) {
	const query = `SELECT ` + releaseColumns + ` FROM releases
		WHERE project_id = $1 AND channel = $2 AND name = $3
		ORDER BY created_at DESC LIMIT 1`
	return r.scanRelease(r.db.QueryRow(ctx, query, projectID, channel, name))
}

// ListLiveReleases returns every live release across projects, the input to
// route generation.
func (r *Repository) ListLiveReleases(ctx context.Context) ([]domain.Release, error) {
	const query = `SELECT ` + releaseColumns + ` FROM releases
		WHERE deleted_at IS NULL AND status = $1 AND conclusion = $2
		ORDER BY domain_prefix`
	rows, err := r.db.Query(ctx, query, domain.StatusCompleted, domain.ConclusionSuccess)
	if err != nil {
		return nil, mapError(err)
	}
	return r.collectReleases(rows)
}

// ListSuccessfulReleases returns matching live releases for restart. Name or
// channel may be empty to widen the match.
func (r *Repository) ListSuccessfulReleases(ctx context.Context, projectID, channel, name string) ([]domain.Release, error) {
	const query = `SELECT ` + releaseColumns + ` FROM releases
		WHERE project_id = $1
		AND ($2 = '' OR channel = $2)
		AND ($3 = '' OR name = $3)
		AND deleted_at IS NULL AND status = $4 AND conclusion = $5
		ORDER BY created_at DESC`
	rows, err := r.db.Query(ctx, query, projectID, channel, name,
		domain.StatusCompleted, domain.ConclusionSuccess)
	if err != nil {
		return nil, mapError(err)
	}
	return r.collectReleases(rows)
}

// UpdateReleaseStatus advances the release state machine. Empty conclusion and
// containerName leave the stored values untouched.
func (r *Repository) UpdateReleaseStatus(ctx context.Context, id, status, conclusion, containerName string) error {
	const query = `UPDATE releases SET
		status = $2,
		conclusion = CASE WHEN $3 = '' THEN conclusion ELSE $3 END,
		container_name = CASE WHEN $4 = '' THEN container_name ELSE $4 END,
		updated_at = $5
		WHERE id = $1`
	tag, err := r.db.Exec(ctx, query, id, status, conclusion, containerName, time.Now().UTC())
	if err != nil {
		return mapError(err)
	}
	if tag.RowsAffected() == 0 {
		return mapError(pgx.ErrNoRows)
	}
	return nil
}

// SoftDeleteSuperseded marks prior releases sharing the tuple as deleted,
// keeping keepID live. Their volumes are cascaded in the same statement pair.
func (r *Repository) SoftDeleteSuperseded(ctx context.Context, projectID, channel, name, serviceName, keepID string) error {
	now := time.Now().UTC()
	const query = `UPDATE releases SET deleted_at = $6, updated_at = $6
		WHERE project_id = $1 AND channel = $2 AND name = $3 AND service_name = $4
		AND id <> $5 AND deleted_at IS NULL`
	if _, err := r.db.Exec(ctx, query, projectID, channel, name, serviceName, keepID, now); err != nil {
		return mapError(err)
	}
	const volumes = `UPDATE volumes SET deleted_at = $6
		WHERE deleted_at IS NULL AND release_id IN (
			SELECT id FROM releases
			WHERE project_id = $1 AND channel = $2 AND name = $3 AND service_name = $4
			AND id <> $5 AND deleted_at IS NOT NULL)`
	_, err := r.db.Exec(ctx, volumes, projectID, channel, name, serviceName, keepID, now)
	return mapError(err)
}

// SoftDeleteRelease marks one release as deleted.
func (r *Repository) SoftDeleteRelease(ctx context.Context, id string) error {
	const query = `UPDATE releases SET deleted_at = $2, updated_at = $2 WHERE id = $1 AND deleted_at IS NULL`
	tag, err := r.db.Exec(ctx, query, id, time.Now().UTC())
	if err != nil {
		return mapError(err)
	}
	if tag.RowsAffected() == 0 {
		return mapError(pgx.ErrNoRows)
	}
	return nil
}

// RestoreRelease clears the deletion marker on a release.
func (r *Repository) RestoreRelease(ctx context.Context, id string) error {
	const query = `UPDATE releases SET deleted_at = NULL, updated_at = $2 WHERE id = $1`
	tag, err := r.db.Exec(ctx, query, id, time.Now().UTC())
	if err != nil {
		return mapError(err)
	}
	if tag.RowsAffected() == 0 {
		return mapError(pgx.ErrNoRows)
	}
	return nil
}

// UpsertVolume inserts a volume or updates an existing deterministic src,
// making retried deploys idempotent. Ownership moves to the upserting
// release so a redeploy's volume is not cascaded away with its superseded
// predecessor.
func (r *Repository) UpsertVolume(ctx context.Context, volume *domain.Volume) error {
	const query = `INSERT INTO volumes (id, release_id, src, dest, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (src) DO UPDATE
		SET release_id = EXCLUDED.release_id, dest = EXCLUDED.dest, deleted_at = NULL`
	_, err := r.db.Exec(ctx, query, volume.ID, volume.ReleaseID, volume.Src, volume.Dest, volume.CreatedAt)
	return mapError(err)
}

// ListReleaseVolumes returns the non-deleted volumes of a release.
func (r *Repository) ListReleaseVolumes(ctx context.Context, releaseID string) ([]domain.Volume, error) {
	const query = `SELECT id, release_id, src, dest, created_at, deleted_at
		FROM volumes WHERE release_id = $1 AND deleted_at IS NULL ORDER BY src`
	rows, err := r.db.Query(ctx, query, releaseID)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	volumes := make([]domain.Volume, 0)
	for rows.Next() {
		var v domain.Volume
		if err := rows.Scan(&v.ID, &v.ReleaseID, &v.Src, &v.Dest, &v.CreatedAt, &v.DeletedAt); err != nil {
			return nil, err
		}
		volumes = append(volumes, v)
	}
	return volumes, rows.Err()
}

// SoftDeleteReleaseVolumes cascades a release soft-delete to its volumes.
func (r *Repository) SoftDeleteReleaseVolumes(ctx context.Context, releaseID string) error {
	const query = `UPDATE volumes SET deleted_at = $2 WHERE release_id = $1 AND deleted_at IS NULL`
	_, err := r.db.Exec(ctx, query, releaseID, time.Now().UTC())
	return mapError(err)
}

// RestoreReleaseVolumes re-activates a release's volumes on undelete.
func (r *Repository) RestoreReleaseVolumes(ctx context.Context, releaseID string) error {
	const query = `UPDATE volumes SET deleted_at = NULL WHERE release_id = $1`
	_, err := r.db.Exec(ctx, query, releaseID)
	return mapError(err)
}

func (r *Repository) scanRelease(row pgx.Row) (*domain.Release, error) {
	var rel domain.Release
	if err := row.Scan(&rel.ID, &rel.ProjectID, &rel.Name, &rel.Channel, &rel.Status,
		&rel.Conclusion, &rel.Image, &rel.TarLocation, &rel.ContainerName, &rel.DomainPrefix,
		&rel.Port, &rel.Protocol, &rel.RuntimeConfig, &rel.ServiceName,
		&rel.CreatedAt, &rel.UpdatedAt, &rel.DeletedAt); err != nil {
		return nil, mapError(err)
	}
	return &rel, nil
}

func (r *Repository) collectReleases(rows pgx.Rows) ([]domain.Release, error) {
	defer rows.Close()
	releases := make([]domain.Release, 0)
	for rows.Next() {
		var rel domain.Release
		if err := rows.Scan(&rel.ID, &rel.ProjectID, &rel.Name, &rel.Channel, &rel.Status,
			&rel.Conclusion, &rel.Image, &rel.TarLocation, &rel.ContainerName, &rel.DomainPrefix,
			&rel.Port, &rel.Protocol, &rel.RuntimeConfig, &rel.ServiceName,
			&rel.CreatedAt, &rel.UpdatedAt, &rel.DeletedAt); err != nil {
			return nil, err
		}
		releases = append(releases, rel)
	}
	return releases, rows.Err()
}
