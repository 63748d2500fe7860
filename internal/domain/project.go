package domain

import "time"

// Project is a deployable unit owned by a workspace.
type Project struct {
	ID          string
	WorkspaceID string
	Name        string
	CreatedAt   time.Time
}

// Workspace groups projects under an organization.
type Workspace struct {
	ID             string
	OrganizationID string
	Name           string
	CreatedAt      time.Time
}

// Organization is the top of the ownership chain; its name participates in
// release domain prefixes.
type Organization struct {
	ID        string
	Name      string
	CreatedAt time.Time
}
