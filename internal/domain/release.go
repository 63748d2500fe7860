package domain

import (
	"encoding/json"
	"time"
)

// Release status values. A release moves requested -> in_progress -> waiting
// -> completed; completed is terminal for status but reversible through the
// soft-delete axis.
const (
	StatusRequested  = "requested"
	StatusInProgress = "in_progress"
	StatusWaiting    = "waiting"
	StatusCompleted  = "completed"
)

// Release conclusions, set only once status is completed.
const (
	ConclusionSuccess = "success"
	ConclusionFailure = "failure"
)

// Channels partition releases and secrets per project.
const (
	ChannelDev     = "dev"
	ChannelPreview = "preview"
)

// Release captures one deployment attempt of a named artifact into a channel.
type Release struct {
	ID            string
	ProjectID     string
	Name          string
	Channel       string
	Status        string
	Conclusion    string
	Image         string
	TarLocation   string
	ContainerName string
	DomainPrefix  string
	Port          string
	Protocol      string
	RuntimeConfig json.RawMessage
	ServiceName   string
	CreatedAt     time.Time
	UpdatedAt     time.Time
	DeletedAt     *time.Time
}

// Live reports whether the release currently backs routing: not soft-deleted,
// completed, and concluded successfully.
func (r Release) Live() bool {
	return r.DeletedAt == nil && r.Status == StatusCompleted && r.Conclusion == ConclusionSuccess
}

// Volume is a src:dest bind mapping scoped to one release. Src names are
// deterministic so retried deploys upsert instead of duplicating.
type Volume struct {
	ID        string
	ReleaseID string
	Src       string
	Dest      string
	CreatedAt time.Time
	DeletedAt *time.Time
}
