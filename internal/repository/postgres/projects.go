package postgres

import (
	"context"

	"github.com/skyhook-dev/skyhook/internal/domain"
)

// GetProjectByID fetches project details.
func (r *Repository) GetProjectByID(ctx context.Context, projectID string) (*domain.Project, error) {
	const query = `SELECT id, workspace_id, name, created_at FROM projects WHERE id = $1`
	row := r.db.QueryRow(ctx, query, projectID)
	var p domain.Project
	if err := row.Scan(&p.ID, &p.WorkspaceID, &p.Name, &p.CreatedAt); err != nil {
		return nil, mapError(err)
	}
	return &p, nil
}

// GetOrganizationName resolves the owning organization's name through the
// project -> workspace -> organization chain.
func (r *Repository) GetOrganizationName(ctx context.Context, projectID string) (string, error) {
	const query = `SELECT o.name
		FROM projects p
		INNER JOIN workspaces w ON w.id = p.workspace_id
		INNER JOIN organizations o ON o.id = w.organization_id
		WHERE p.id = $1`
	var name string
	if err := r.db.QueryRow(ctx, query, projectID).Scan(&name); err != nil {
		return "", mapError(err)
	}
	return name, nil
}
